package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"datalineage/internal/service"
	"datalineage/internal/transform"
)

var previewCmd = &cobra.Command{
	Use:   "preview <version> -f <pipeline.yaml>",
	Short: "Preview one pipeline step against a version",
	Long: `Run one step of a pipeline against a version and show sample rows before and
after, the rows it affects and any data-loss warnings. Nothing is stored.

Examples:
  datalineage preview 3f2a9c1e -f clean.yaml
  datalineage preview 3f2a9c1e -f clean.yaml --step 2`,
	Args: cobra.ExactArgs(1),
	RunE: runPreview,
}

var validateCmd = &cobra.Command{
	Use:   "validate <version> -f <pipeline.yaml>",
	Short: "Check a pipeline against a version's schema",
	Long: `Check every step of a pipeline against the schema it will see when run on
the version. All failing steps are reported, not just the first.`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

var commitCmd = &cobra.Command{
	Use:   "commit <version> -f <pipeline.yaml>",
	Short: "Apply a pipeline and store the result as a new version",
	Long: `Validate and apply a pipeline to a version, then store the result as a child
version together with its lineage record.

A request token makes the commit safe to retry: committing again with the
same token returns the version the first attempt produced. One is generated
when not given.

Examples:
  datalineage commit 3f2a9c1e -f clean.yaml
  datalineage commit 3f2a9c1e -f clean.yaml --require-leaf --strict`,
	Args: cobra.ExactArgs(1),
	RunE: runCommit,
}

// Flag variables
var (
	previewPipeline string
	previewStep     int

	validatePipeline string

	commitPipeline    string
	commitAuthor      string
	commitToken       string
	commitRequireLeaf bool
	commitStrict      bool
)

func init() {
	previewCmd.Flags().StringVarP(&previewPipeline, "file", "f", "", "Pipeline file (- for stdin)")
	previewCmd.Flags().IntVar(&previewStep, "step", 0, "Index of the step to preview")
	rootCmd.AddCommand(previewCmd)

	validateCmd.Flags().StringVarP(&validatePipeline, "file", "f", "", "Pipeline file (- for stdin)")
	rootCmd.AddCommand(validateCmd)

	commitCmd.Flags().StringVarP(&commitPipeline, "file", "f", "", "Pipeline file (- for stdin)")
	commitCmd.Flags().StringVarP(&commitAuthor, "author", "a", defaultAuthor(), "Recorded as the creator of the new version")
	commitCmd.Flags().StringVar(&commitToken, "request-token", "", "Idempotency token (generated when empty)")
	commitCmd.Flags().BoolVar(&commitRequireLeaf, "require-leaf", false, "Fail if the version already has children")
	commitCmd.Flags().BoolVar(&commitStrict, "strict", false, "Fail instead of warning when a step removes most rows")
	rootCmd.AddCommand(commitCmd)
}

func runPreview(cmd *cobra.Command, args []string) error {
	steps, err := readPipeline(cmd, previewPipeline)
	if err != nil {
		return err
	}
	if previewStep < 0 || previewStep >= len(steps) {
		return fmt.Errorf("--step %d out of range (pipeline has %d steps)", previewStep, len(steps))
	}
	step := steps[previewStep]

	return withService(cmd, func(ctx context.Context, svc *service.Service) error {
		p, err := call(ctx, func() (*transform.Preview, error) { return svc.PreviewStep(ctx, args[0], step) })
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, p)
		}
		fmt.Fprintf(out, "Step %d: %s\n", previewStep, step.Type)
		fmt.Fprintf(out, "Rows: %d -> %d (%d affected, %.1f%% loss)\n", p.RowsBefore, p.RowsAfter, p.RowsAffected, p.DataLossPct)
		fmt.Fprintln(out, "\nBefore:")
		printSample(out, p.ColumnsBefore, p.SampleBefore)
		fmt.Fprintln(out, "\nAfter:")
		printSample(out, p.ColumnsAfter, p.SampleAfter)
		printWarnings(out, p.Warnings)
		return nil
	})
}

func runValidate(cmd *cobra.Command, args []string) error {
	steps, err := readPipeline(cmd, validatePipeline)
	if err != nil {
		return err
	}
	return withService(cmd, func(ctx context.Context, svc *service.Service) error {
		_, err := call(ctx, func() (*transform.Config, error) { return svc.Validate(ctx, args[0], steps) })
		out := cmd.OutOrStdout()

		var verrs transform.ValidationErrors
		if errors.As(err, &verrs) {
			if jsonOutput {
				msgs := make([]string, len(verrs))
				for i, e := range verrs {
					msgs[i] = e.Error()
				}
				if perr := printJSON(out, map[string]any{"valid": false, "errors": msgs}); perr != nil {
					return perr
				}
				return err
			}
			fmt.Fprintf(out, "Pipeline is invalid (%d of %d steps):\n", len(verrs), len(steps))
			for _, e := range verrs {
				fmt.Fprintf(out, "  - %v\n", e)
			}
			return err
		}
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(out, map[string]any{"valid": true, "steps": len(steps)})
		}
		fmt.Fprintf(out, "Pipeline is valid (%d steps)\n", len(steps))
		return nil
	})
}

func runCommit(cmd *cobra.Command, args []string) error {
	steps, err := readPipeline(cmd, commitPipeline)
	if err != nil {
		return err
	}
	token := commitToken
	if token == "" {
		token = uuid.NewString()
	}
	req := service.CommitRequest{
		BaseVersionID:  args[0],
		Steps:          steps,
		CreatedBy:      commitAuthor,
		RequestToken:   token,
		RequireLeaf:    commitRequireLeaf,
		StrictDataLoss: commitStrict,
	}

	return withService(cmd, func(ctx context.Context, svc *service.Service) error {
		res, err := call(ctx, func() (*service.CommitResult, error) { return svc.CommitTransformation(ctx, req) })
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, res)
		}
		if res.Replayed {
			fmt.Fprintf(out, "Already committed as version %s\n", res.Version.VersionID)
			return nil
		}
		fmt.Fprintf(out, "Created version %s\n", res.Version.VersionID)
		fmt.Fprintf(out, "  Parent: %s\n", res.Lineage.ParentVersionID)
		fmt.Fprintf(out, "  Rows:   %d -> %d (%d affected, %.1f%% loss)\n",
			res.Impact.OriginalRows, res.Impact.FinalRows, res.Impact.RowsAffected, res.Impact.DataLossPercentage)
		for _, si := range res.Impact.Steps {
			fmt.Fprintf(out, "  [%d] %-16s %d -> %d rows, %d -> %d columns\n",
				si.Index, si.Type, si.RowsBefore, si.RowsAfter, si.ColumnsBefore, si.ColumnsAfter)
		}
		printWarnings(out, res.Impact.Warnings)
		return nil
	})
}

func printSample(w io.Writer, columns []string, rows [][]string) {
	fmt.Fprintf(w, "  %s\n", strings.Join(columns, " | "))
	for _, row := range rows {
		fmt.Fprintf(w, "  %s\n", strings.Join(row, " | "))
	}
}

func printWarnings(w io.Writer, warnings []transform.Warning) {
	if len(warnings) == 0 {
		return
	}
	fmt.Fprintf(w, "\nWarning: %d data-loss warning(s):\n", len(warnings))
	for _, warn := range warnings {
		fmt.Fprintf(w, "  - step %d (%s): %s\n", warn.Step, warn.Type, warn.Message)
	}
}
