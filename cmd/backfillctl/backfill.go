package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/cuemby/toaststats-backfill/pkg/backfill/apiclient"
	"github.com/cuemby/toaststats-backfill/pkg/backfill/types"
	"github.com/spf13/cobra"
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Create and manage backfill jobs",
}

func init() {
	backfillCreateCmd.Flags().String("type", string(types.JobTypeDataCollection), "Job type (data-collection, analytics-generation)")
	backfillCreateCmd.Flags().String("start", "", "Start date, YYYY-MM-DD (required)")
	backfillCreateCmd.Flags().String("end", "", "End date, YYYY-MM-DD (required)")
	backfillCreateCmd.Flags().StringSlice("entities", nil, "Entity IDs to include (default: all)")
	backfillCreateCmd.Flags().Bool("skip-existing", false, "Skip units whose snapshot already exists")
	_ = backfillCreateCmd.MarkFlagRequired("start")
	_ = backfillCreateCmd.MarkFlagRequired("end")

	backfillPreviewCmd.Flags().AddFlagSet(backfillCreateCmd.Flags())

	backfillListCmd.Flags().String("status", "", "Filter by status")
	backfillListCmd.Flags().String("type", "", "Filter by job type")
	backfillListCmd.Flags().Int("limit", 0, "Max results")
	backfillListCmd.Flags().Int("offset", 0, "Result offset")

	backfillForceCancelCmd.Flags().String("operator", "", "Name recorded against the force-cancel audit trail")

	backfillRateLimitSetCmd.Flags().Int("max-requests-per-minute", 0, "")
	backfillRateLimitSetCmd.Flags().Int("max-concurrent", 0, "")
	backfillRateLimitSetCmd.Flags().Int("min-delay-ms", 0, "")
	backfillRateLimitSetCmd.Flags().Int("max-delay-ms", 0, "")
	backfillRateLimitCmd.AddCommand(backfillRateLimitGetCmd, backfillRateLimitSetCmd)

	backfillCmd.AddCommand(backfillCreateCmd, backfillPreviewCmd, backfillListCmd, backfillStatusCmd,
		backfillCancelCmd, backfillForceCancelCmd, backfillRateLimitCmd)
}

var backfillRateLimitCmd = &cobra.Command{
	Use:   "rate-limit",
	Short: "Inspect or update the live upstream rate limiter",
}

var backfillRateLimitGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Show the current rate limit configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		rl, err := adminClient(cmd).GetRateLimitConfig()
		if err != nil {
			return fmt.Errorf("get rate limit config: %w", err)
		}
		return printJSON(rl)
	},
}

var backfillRateLimitSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Apply a partial update to the rate limit configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		maxRPM, _ := cmd.Flags().GetInt("max-requests-per-minute")
		maxConcurrent, _ := cmd.Flags().GetInt("max-concurrent")
		minDelay, _ := cmd.Flags().GetInt("min-delay-ms")
		maxDelay, _ := cmd.Flags().GetInt("max-delay-ms")

		patch := types.RateLimitConfig{
			MaxRequestsPerMinute: maxRPM,
			MaxConcurrent:        maxConcurrent,
			MinDelayMS:           minDelay,
			MaxDelayMS:           maxDelay,
		}
		rl, err := adminClient(cmd).UpdateRateLimitConfig(patch)
		if err != nil {
			return fmt.Errorf("update rate limit config: %w", err)
		}
		return printJSON(rl)
	},
}

func jobConfigFromFlags(cmd *cobra.Command) (types.JobConfig, error) {
	jobType, _ := cmd.Flags().GetString("type")
	start, _ := cmd.Flags().GetString("start")
	end, _ := cmd.Flags().GetString("end")
	entities, _ := cmd.Flags().GetStringSlice("entities")
	skipExisting, _ := cmd.Flags().GetBool("skip-existing")

	return types.JobConfig{
		JobType:      types.JobType(jobType),
		StartDate:    start,
		EndDate:      end,
		EntityIDs:    entities,
		SkipExisting: skipExisting,
	}, nil
}

func adminClient(cmd *cobra.Command) *apiclient.Client {
	addr, _ := cmd.Root().PersistentFlags().GetString("admin-addr")
	return apiclient.New(addr)
}

var backfillCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new backfill job",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := jobConfigFromFlags(cmd)
		if err != nil {
			return err
		}

		job, err := adminClient(cmd).CreateJob(cfg)
		if err != nil {
			return fmt.Errorf("create job: %w", err)
		}
		return printJSON(job)
	},
}

var backfillPreviewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Preview what a job would process without running it",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := jobConfigFromFlags(cmd)
		if err != nil {
			return err
		}

		preview, err := adminClient(cmd).Preview(cfg)
		if err != nil {
			return fmt.Errorf("preview job: %w", err)
		}
		return printJSON(preview)
	},
}

var backfillListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		jobType, _ := cmd.Flags().GetString("type")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		jobs, err := adminClient(cmd).ListJobs(status, jobType, limit, offset)
		if err != nil {
			return fmt.Errorf("list jobs: %w", err)
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "JOB ID\tTYPE\tSTATUS\tPROGRESS\tDATE RANGE")
		for _, j := range jobs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%.1f%%\t%s..%s\n",
				j.JobID, j.Config.JobType, j.Status, j.Progress.Percent, j.Config.StartDate, j.Config.EndDate)
		}
		return tw.Flush()
	},
}

var backfillStatusCmd = &cobra.Command{
	Use:   "status <jobId>",
	Short: "Show a single job's full status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		job, err := adminClient(cmd).GetJob(args[0])
		if err != nil {
			return fmt.Errorf("get job: %w", err)
		}
		return printJSON(job)
	},
}

var backfillCancelCmd = &cobra.Command{
	Use:   "cancel <jobId>",
	Short: "Request cooperative cancellation of a running job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := adminClient(cmd).CancelJob(args[0]); err != nil {
			return fmt.Errorf("cancel job: %w", err)
		}
		fmt.Printf("cancel requested for %s\n", args[0])
		return nil
	},
}

var backfillForceCancelCmd = &cobra.Command{
	Use:   "force-cancel <jobId>",
	Short: "Immediately cancel a job, bypassing cooperative checkpoints",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		operator, _ := cmd.Flags().GetString("operator")
		if operator == "" {
			if u, err := os.UserHomeDir(); err == nil {
				operator = u
			}
		}
		if err := adminClient(cmd).ForceCancelJob(args[0], operator); err != nil {
			return fmt.Errorf("force-cancel job: %w", err)
		}
		fmt.Printf("job %s force-cancelled\n", args[0])
		return nil
	},
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
