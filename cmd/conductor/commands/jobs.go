package commands

import (
	"encoding/json"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/airbais/conductor/config"
	"github.com/airbais/conductor/errors"
	"github.com/airbais/conductor/job"
	"github.com/airbais/conductor/logger"
	"github.com/airbais/conductor/tool"
)

// JobsCmd groups job management commands.
var JobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and manage jobs",
	Long: `Inspect and manage analysis jobs.

Job management commands:
  conductor jobs ls              # List jobs
  conductor jobs show <id>       # Show job details
  conductor jobs submit <tool>   # Enqueue a job directly
  conductor jobs cancel <id>     # Cancel a queued or running job`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// JobsLsCmd lists jobs.
var JobsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List jobs",
	Long: `List jobs, newest first, optionally filtered by status or tool.

Status filters:
  queued    - Jobs waiting for a worker
  running   - Jobs currently executing
  completed - Successfully completed jobs
  failed    - Jobs that failed with errors
  cancelled - Jobs cancelled before finishing

Examples:
  conductor jobs ls                        # List recent jobs
  conductor jobs ls --status running       # Only running jobs
  conductor jobs ls --tool intentcrawler   # Only intentcrawler jobs
  conductor jobs ls --limit 100            # Show up to 100 jobs`,
	RunE: func(cmd *cobra.Command, args []string) error {
		statusFilter, _ := cmd.Flags().GetString("status")
		toolFilter, _ := cmd.Flags().GetString("tool")
		limit, _ := cmd.Flags().GetInt("limit")
		return runJobsLs(statusFilter, toolFilter, limit)
	},
}

// JobsShowCmd shows one job in detail.
var JobsShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show details of a job",
	Long: `Display detailed information for a job: tool, parameters, status,
timestamps, and the stored error for failed jobs.

Example:
  conductor jobs show 9f61f6f2-8a9f-4f6a-b2a1-0c95d2f5b6d3`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJobsShow(args[0])
	},
}

// JobsSubmitCmd enqueues a job directly into the database.
var JobsSubmitCmd = &cobra.Command{
	Use:   "submit <tool>",
	Short: "Enqueue a job for a tool",
	Long: `Enqueue a job directly into the job database. A running server's
workers pick it up on their next poll.

Examples:
  conductor jobs submit intentcrawler --params '{"url":"https://example.com"}'
  conductor jobs submit rulesevaluator --params '{"rules_file":"rules.yaml"}'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		params, _ := cmd.Flags().GetString("params")
		return runJobsSubmit(args[0], params)
	},
}

// JobsCancelCmd cancels a job.
var JobsCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a queued or running job",
	Long: `Cancel a job. Cancelling a job that already finished is a no-op.

Example:
  conductor jobs cancel 9f61f6f2-8a9f-4f6a-b2a1-0c95d2f5b6d3`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJobsCancel(args[0])
	},
}

func init() {
	JobsLsCmd.Flags().String("status", "", "Filter by status (queued, running, completed, failed, cancelled)")
	JobsLsCmd.Flags().String("tool", "", "Filter by tool name")
	JobsLsCmd.Flags().Int("limit", job.DefaultListLimit, "Maximum number of jobs to display")

	JobsSubmitCmd.Flags().String("params", "{}", "Tool parameters as a JSON object")

	JobsCmd.AddCommand(JobsLsCmd)
	JobsCmd.AddCommand(JobsShowCmd)
	JobsCmd.AddCommand(JobsSubmitCmd)
	JobsCmd.AddCommand(JobsCancelCmd)
}

func openQueue() (*job.Queue, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to load config")
	}

	database, err := openDatabase(cfg, "")
	if err != nil {
		return nil, nil, err
	}

	return job.NewQueue(database), func() { database.Close() }, nil
}

func runJobsLs(statusFilter, toolFilter string, limit int) error {
	queue, closeDB, err := openQueue()
	if err != nil {
		return err
	}
	defer closeDB()

	filter := job.Filter{Tool: toolFilter, Limit: limit}
	if statusFilter != "" {
		if !job.IsValidStatus(statusFilter) {
			return errors.Newf("invalid status filter: %s", statusFilter)
		}
		filter.Status = job.Status(statusFilter)
	}

	jobs, err := queue.List(filter)
	if err != nil {
		return errors.Wrap(err, "failed to list jobs")
	}

	if len(jobs) == 0 {
		pterm.Info.Println("No jobs found")
		return nil
	}

	fmt.Printf("%-38s %-11s %-18s %s\n", "JOB ID", "STATUS", "TOOL", "SUBMITTED")
	fmt.Printf("%-38s %-11s %-18s %s\n", "------", "------", "----", "---------")

	for _, j := range jobs {
		fmt.Printf("%-38s %-11s %-18s %s\n",
			j.ID,
			j.Status,
			truncate(j.Tool, 18),
			j.SubmittedAt.Format("2006-01-02 15:04"))
	}

	fmt.Printf("\nTotal: %d job(s)\n", len(jobs))
	return nil
}

func runJobsShow(jobID string) error {
	queue, closeDB, err := openQueue()
	if err != nil {
		return err
	}
	defer closeDB()

	j, err := queue.Get(jobID)
	if err != nil {
		return errors.Wrap(err, "failed to get job")
	}

	fmt.Printf("Job ID: %s\n", j.ID)
	fmt.Printf("  Tool:   %s\n", j.Tool)
	fmt.Printf("  Status: %s\n", j.Status)
	if len(j.Parameters) > 0 {
		fmt.Printf("  Parameters: %s\n", string(j.Parameters))
	}
	fmt.Printf("\n")

	fmt.Printf("Submitted: %s\n", j.SubmittedAt.Format("2006-01-02 15:04:05"))
	if j.StartedAt != nil {
		fmt.Printf("Started:   %s\n", j.StartedAt.Format("2006-01-02 15:04:05"))
	}
	if j.FinishedAt != nil {
		fmt.Printf("Finished:  %s\n", j.FinishedAt.Format("2006-01-02 15:04:05"))
	}

	if j.Error != "" {
		fmt.Printf("\nError: %s\n", j.Error)
		if j.ErrorCode != "" {
			fmt.Printf("Code:  %s\n", j.ErrorCode)
		}
	}

	if j.Status == job.StatusCompleted && len(j.Result) > 0 {
		pretty, err := json.MarshalIndent(json.RawMessage(j.Result), "", "  ")
		if err == nil {
			fmt.Printf("\nResult:\n%s\n", string(pretty))
		}
	}

	return nil
}

func runJobsSubmit(toolName, params string) error {
	parameters := json.RawMessage(params)
	if !json.Valid(parameters) {
		return errors.Newf("invalid parameters JSON: %s", params)
	}

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}

	// Validate against the tool contract before issuing a job id
	registry, err := tool.NewRegistryFromConfig(cfg.Tools, logger.Logger)
	if err != nil {
		return errors.Wrap(err, "failed to build tool registry")
	}
	t, err := registry.Lookup(toolName)
	if err != nil {
		return err
	}
	toolParams := tool.Params{}
	if err := json.Unmarshal(parameters, &toolParams); err != nil {
		return errors.NewInvalidParametersError("parameters must be a JSON object: %v", err)
	}
	if err := t.Validate(toolParams); err != nil {
		return err
	}

	queue, closeDB, err := openQueue()
	if err != nil {
		return err
	}
	defer closeDB()

	j := job.New(toolName, parameters)
	if err := queue.Enqueue(j); err != nil {
		return errors.Wrap(err, "failed to enqueue job")
	}

	pterm.Success.Printf("Job %s queued for tool %s\n", j.ID, toolName)
	return nil
}

func runJobsCancel(jobID string) error {
	queue, closeDB, err := openQueue()
	if err != nil {
		return err
	}
	defer closeDB()

	j, err := queue.Cancel(jobID)
	if err != nil {
		return errors.Wrap(err, "failed to cancel job")
	}

	pterm.Success.Printf("Job %s is now %s\n", jobID, j.Status)
	return nil
}

// truncate shortens a string to max characters for table display.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
