package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Inspect and delete stored snapshots",
}

func init() {
	snapshotListCmd.Flags().String("start", "", "Filter: earliest snapshot date, inclusive")
	snapshotListCmd.Flags().String("end", "", "Filter: latest snapshot date, inclusive")
	snapshotListCmd.Flags().Int("limit", 0, "Max results")

	snapshotCmd.AddCommand(snapshotListCmd, snapshotShowCmd, snapshotPayloadCmd, snapshotDeleteCmd)
}

var snapshotListCmd = &cobra.Command{
	Use:   "list",
	Short: "List snapshot metadata",
	RunE: func(cmd *cobra.Command, args []string) error {
		start, _ := cmd.Flags().GetString("start")
		end, _ := cmd.Flags().GetString("end")
		limit, _ := cmd.Flags().GetInt("limit")

		snaps, err := adminClient(cmd).ListSnapshots(start, end, limit)
		if err != nil {
			return fmt.Errorf("list snapshots: %w", err)
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SNAPSHOT ID\tSTATUS\tSCHEMA\tCALC\tENTITIES")
		for _, s := range snaps {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\n",
				s.SnapshotID, s.Status, s.SchemaVersion, s.CalculationVersion, len(s.Manifest.EntityIDs))
		}
		return tw.Flush()
	},
}

var snapshotShowCmd = &cobra.Command{
	Use:   "show <snapshotId>",
	Short: "Show a snapshot's metadata and manifest",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := adminClient(cmd).GetSnapshot(args[0])
		if err != nil {
			return fmt.Errorf("get snapshot: %w", err)
		}
		fmt.Println(string(raw))
		return nil
	},
}

var snapshotPayloadCmd = &cobra.Command{
	Use:   "payload <snapshotId>",
	Short: "Dump a snapshot's full entity payloads",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := adminClient(cmd).GetSnapshotPayload(args[0])
		if err != nil {
			return fmt.Errorf("get snapshot payload: %w", err)
		}
		fmt.Println(string(raw))
		return nil
	},
}

var snapshotDeleteCmd = &cobra.Command{
	Use:   "delete <snapshotId>...",
	Short: "Delete one or more snapshots by explicit ID",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		results, err := adminClient(cmd).DeleteSnapshots(args)
		if err != nil {
			return fmt.Errorf("delete snapshots: %w", err)
		}
		for _, r := range results {
			fmt.Printf("%s: deleted=%t\n", r.SnapshotID, r.Deleted)
		}
		return nil
	},
}
