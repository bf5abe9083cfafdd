package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/airbais/conductor/config"
	"github.com/airbais/conductor/errors"
	"github.com/airbais/conductor/internal/version"
	"github.com/airbais/conductor/logger"
	"github.com/airbais/conductor/server"
	"github.com/airbais/conductor/tool"
)

// ServeCmd starts the Conductor API server and job workers.
var ServeCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"server"},
	Short:   "Start the Conductor API server and job workers",
	Long: `Launch the HTTP API server together with the executor worker pool.

The server accepts job submissions, the workers pick queued jobs up and
run the corresponding analysis tools as subprocesses. Both shut down
together on Ctrl+C.`,
	RunE: runServe,
}

var (
	serveDBPath string
	servePort   int
)

func init() {
	ServeCmd.Flags().StringVar(&serveDBPath, "db-path", "", "Custom database path (overrides config)")
	ServeCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	// The server defaults to Info so job lifecycle events are visible
	verbosity, _ := cmd.Flags().GetCount("verbose")
	if verbosity == 0 {
		verbosity = 1
		if err := logger.InitializeWithLevel(false, logger.VerbosityToLevel(verbosity)); err != nil {
			return errors.Wrap(err, "failed to initialize logger")
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}

	database, err := openDatabase(cfg, serveDBPath)
	if err != nil {
		return err
	}
	defer database.Close()

	registry, err := tool.NewRegistryFromConfig(cfg.Tools, logger.Logger)
	if err != nil {
		return errors.Wrap(err, "failed to build tool registry")
	}

	printStartupBanner(cfg, registry)

	srv := server.New(database, cfg, registry, logger.Logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return errors.Wrap(err, "server failed")
	case <-sigChan:
		pterm.Info.Println("\nShutting down gracefully (press Ctrl+C again to force)...")

		shutdownDone := make(chan error, 1)
		go func() {
			cancel()
			shutdownDone <- <-errChan
		}()

		select {
		case err := <-shutdownDone:
			if err != nil {
				return fmt.Errorf("shutdown error: %w", err)
			}
			pterm.Success.Println("Server stopped cleanly")
			return nil
		case <-sigChan:
			pterm.Warning.Println("\nForce shutdown - exiting immediately")
			os.Exit(1)
			return nil // unreachable
		}
	}
}

// printStartupBanner prints the user-facing startup summary.
func printStartupBanner(cfg *config.Config, registry *tool.Registry) {
	info := version.Get()

	pterm.DefaultHeader.WithFullWidth().Printf("Conductor %s", info.Version)
	pterm.Println()
	pterm.Info.Printf("Listening:  %s:%d\n", cfg.Server.Host, cfg.Server.Port)
	pterm.Info.Printf("Database:   %s\n", cfg.Database.Path)
	pterm.Info.Printf("Workers:    %d\n", cfg.Executor.Workers)
	pterm.Info.Printf("Tools:      %d registered\n", len(registry.Names()))
	pterm.Println()
}
