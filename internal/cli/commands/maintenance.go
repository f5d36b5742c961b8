package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"datalineage/internal/service"
)

var gcCmd = &cobra.Command{
	Use:   "gc <dataset>",
	Short: "Remove old derived versions of a dataset",
	Long: `Remove derived versions outside a retention policy. Only versions nothing
else was derived from are removed, repeatedly, so whole unused branches go
away. Pinned versions, root uploads and the newest --keep versions are
always kept.

Examples:
  datalineage gc sales --keep 5
  datalineage gc sales --older-than 720h --dry-run`,
	Args: cobra.ExactArgs(1),
	RunE: runGC,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show catalog statistics",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

// Flag variables
var (
	gcKeep      int
	gcOlderThan time.Duration
	gcDryRun    bool
)

func init() {
	gcCmd.Flags().IntVar(&gcKeep, "keep", 10, "Number of newest versions to keep")
	gcCmd.Flags().DurationVar(&gcOlderThan, "older-than", 0, "Only remove versions older than this")
	gcCmd.Flags().BoolVar(&gcDryRun, "dry-run", false, "Show what would be removed")
	rootCmd.AddCommand(gcCmd)
	rootCmd.AddCommand(statsCmd)
}

func runGC(cmd *cobra.Command, args []string) error {
	policy := service.RetentionPolicy{KeepLatest: gcKeep, OlderThan: gcOlderThan, DryRun: gcDryRun}
	return withService(cmd, func(ctx context.Context, svc *service.Service) error {
		report, err := call(ctx, func() (*service.CleanupReport, error) { return svc.Cleanup(ctx, args[0], policy) })
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, report)
		}
		verb := "Removed"
		if report.DryRun {
			verb = "Would remove"
		}
		for _, id := range report.Removed {
			fmt.Fprintf(out, "  %s %s\n", verb, id)
		}
		fmt.Fprintf(out, "%s %d version(s) (%s), %d retained\n",
			verb, len(report.Removed), formatBytes(report.FreedBytes), report.Retained)
		return nil
	})
}

func runStats(cmd *cobra.Command, args []string) error {
	return withService(cmd, func(ctx context.Context, svc *service.Service) error {
		stats, err := call(ctx, func() (*service.Stats, error) { return svc.Stats(ctx) })
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, stats)
		}
		c := stats.Catalog
		fmt.Fprintf(out, "Datasets:  %d\n", c.Datasets)
		fmt.Fprintf(out, "Versions:  %d (%d pinned)\n", c.Versions, c.Pinned)
		fmt.Fprintf(out, "Lineage:   %d edge(s)\n", c.LineageEdges)
		fmt.Fprintf(out, "Storage:   %s logical in %d distinct blob(s)\n", formatBytes(c.LogicalBytes), c.DistinctBlobs)
		return nil
	})
}
