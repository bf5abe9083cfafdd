package commands

import (
	"fmt"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/airbais/conductor/config"
	"github.com/airbais/conductor/errors"
	"github.com/airbais/conductor/logger"
	"github.com/airbais/conductor/tool"
)

// ToolsCmd groups tool inspection commands.
var ToolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List registered tools and their contracts",
	Long: `Inspect the registered analysis tools.

Commands:
  conductor tools ls            # List tools
  conductor tools show <name>   # Show a tool's parameter contract`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// ToolsLsCmd lists registered tools.
var ToolsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List registered tools",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runToolsLs()
	},
}

// ToolsShowCmd shows one tool's contract.
var ToolsShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show a tool's parameter contract",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runToolsShow(args[0])
	},
}

func init() {
	ToolsCmd.AddCommand(ToolsLsCmd)
	ToolsCmd.AddCommand(ToolsShowCmd)
}

func loadRegistry() (*tool.Registry, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load config")
	}
	return tool.NewRegistryFromConfig(cfg.Tools, logger.Logger)
}

func runToolsLs() error {
	registry, err := loadRegistry()
	if err != nil {
		return err
	}

	infos := registry.List()
	if len(infos) == 0 {
		pterm.Info.Println("No tools registered")
		return nil
	}

	fmt.Printf("%-20s %s\n", "NAME", "DESCRIPTION")
	fmt.Printf("%-20s %s\n", "----", "-----------")
	for _, info := range infos {
		fmt.Printf("%-20s %s\n", info.Name, truncate(info.Description, 70))
	}

	fmt.Printf("\nTotal: %d tool(s)\n", len(infos))
	return nil
}

func runToolsShow(name string) error {
	registry, err := loadRegistry()
	if err != nil {
		return err
	}

	info, err := registry.Describe(name)
	if err != nil {
		return err
	}

	fmt.Printf("Tool: %s\n", info.Name)
	fmt.Printf("  %s\n\n", info.Description)

	if len(info.Parameters.Required) > 0 {
		fmt.Printf("Required parameters: %s\n", strings.Join(info.Parameters.Required, ", "))
	}
	if len(info.Parameters.Optional) > 0 {
		fmt.Printf("Optional parameters: %s\n", strings.Join(info.Parameters.Optional, ", "))
	}
	if info.ResultEnvelope != "" {
		fmt.Printf("Result envelope: %s\n", info.ResultEnvelope)
	}

	return nil
}
