package commands

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"datalineage/internal/lineage"
	"datalineage/internal/service"
)

var lineageCmd = &cobra.Command{
	Use:   "lineage <version>",
	Short: "Show how a version was derived",
	Long: `Show the chain of transformations from the root upload down to a version.
With --children, list the versions derived directly from it instead.

Examples:
  datalineage lineage 3f2a9c1e
  datalineage lineage 3f2a9c1e --children`,
	Args: cobra.ExactArgs(1),
	RunE: runLineage,
}

var compareCmd = &cobra.Command{
	Use:   "compare <version-a> <version-b>",
	Short: "Compare two versions through their common ancestor",
	Long: `Find the nearest common ancestor of two versions, show the transformations
that lead from it to each, and summarize how the versions differ.`,
	Args: cobra.ExactArgs(2),
	RunE: runCompare,
}

var lineageChildren bool

func init() {
	lineageCmd.Flags().BoolVar(&lineageChildren, "children", false, "List versions derived from this one")
	rootCmd.AddCommand(lineageCmd)
	rootCmd.AddCommand(compareCmd)
}

func runLineage(cmd *cobra.Command, args []string) error {
	return withService(cmd, func(ctx context.Context, svc *service.Service) error {
		edges, err := call(ctx, func() ([]*lineage.Lineage, error) {
			if lineageChildren {
				return svc.Children(ctx, args[0])
			}
			return svc.GetLineageChain(ctx, args[0])
		})
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, edges)
		}
		if len(edges) == 0 {
			if lineageChildren {
				fmt.Fprintln(out, "No derived versions")
			} else {
				fmt.Fprintln(out, "Root version (uploaded, not derived)")
			}
			return nil
		}
		if !lineageChildren {
			fmt.Fprintf(out, "%s (root)\n", edges[0].ParentVersionID)
		}
		printEdges(out, edges)
		return nil
	})
}

func runCompare(cmd *cobra.Command, args []string) error {
	return withService(cmd, func(ctx context.Context, svc *service.Service) error {
		cmp, err := call(ctx, func() (*lineage.Comparison, error) { return svc.CompareVersions(ctx, args[0], args[1]) })
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, cmp)
		}
		if !cmp.Related {
			fmt.Fprintln(out, "Versions are unrelated (no common ancestor)")
		} else {
			fmt.Fprintf(out, "Common ancestor: %s\n", cmp.CommonAncestor)
			fmt.Fprintf(out, "\nPath to %s:\n", shortID(cmp.VersionA))
			printEdges(out, cmp.PathA)
			fmt.Fprintf(out, "\nPath to %s:\n", shortID(cmp.VersionB))
			printEdges(out, cmp.PathB)
		}

		d := cmp.Diff
		fmt.Fprintln(out)
		if d.SameContent {
			fmt.Fprintln(out, "Content: identical")
		}
		fmt.Fprintf(out, "Rows:    %+d\n", d.RowDelta)
		fmt.Fprintf(out, "Columns: %+d\n", d.ColumnDelta)
		fmt.Fprintf(out, "Size:    %+d bytes\n", d.SizeDelta)
		if len(d.AddedColumns) > 0 {
			fmt.Fprintf(out, "Added:   %s\n", strings.Join(d.AddedColumns, ", "))
		}
		if len(d.RemovedColumns) > 0 {
			fmt.Fprintf(out, "Removed: %s\n", strings.Join(d.RemovedColumns, ", "))
		}
		return nil
	})
}

func printEdges(w io.Writer, edges []*lineage.Lineage) {
	if len(edges) == 0 {
		fmt.Fprintln(w, "  (same version)")
		return
	}
	for _, e := range edges {
		steps := make([]string, len(e.Steps))
		for i, s := range e.Steps {
			steps[i] = string(s.Type)
		}
		if len(steps) == 0 {
			steps = []string{string(e.TransformationType)}
		}
		fmt.Fprintf(w, "  -> %s  %s  (%d rows affected, %.1f%% loss, %s)\n",
			e.ChildVersionID, strings.Join(steps, " > "), e.RowsAffected, e.DataLossPercentage, formatTime(e.AppliedAt))
	}
}
