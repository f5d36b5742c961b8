package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"datalineage/internal/service"
	"datalineage/internal/transform"
	"datalineage/internal/util"
	"datalineage/internal/version"
)

// openService opens the catalog and blob store named by the loaded settings.
func openService(ctx context.Context) (*service.Service, error) {
	svc, err := util.RetryWithResult(ctx, func() (*service.Service, error) {
		return service.Open(ctx, settings)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	return svc, nil
}

// withService opens the service, runs fn and closes it again.
func withService(cmd *cobra.Command, fn func(ctx context.Context, svc *service.Service) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	svc, err := openService(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()
	return fn(ctx, svc)
}

// call runs a service call, retrying transient failures.
func call[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	return util.RetryWithResult(ctx, fn)
}

func callErr(ctx context.Context, fn func() error) error {
	return util.Retry(ctx, fn)
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// readInput reads a file, or stdin when path is "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

// readPipeline loads the steps of a pipeline file.
func readPipeline(cmd *cobra.Command, path string) ([]transform.Step, error) {
	if path == "" {
		return nil, fmt.Errorf("a pipeline file is required (-f)")
	}
	data, err := readInput(cmd, path)
	if err != nil {
		return nil, err
	}
	return transform.DecodeSteps(data)
}

// shortID abbreviates a version id for display.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// formatBytes formats bytes in human-readable form
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func formatTime(t time.Time) string {
	return t.Local().Format("Mon Jan 2 15:04:05 2006")
}

// printVersion prints a version in git-log style.
func printVersion(w io.Writer, v *version.Version) {
	fmt.Fprintf(w, "%sversion %s%s", yellow, v.VersionID, reset)
	if v.IsPinned {
		fmt.Fprintf(w, " (%spinned%s)", cyan, reset)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Dataset: %s\n", v.DatasetID)
	if v.ParentVersionID != "" {
		fmt.Fprintf(w, "Parent:  %s\n", v.ParentVersionID)
	}
	fmt.Fprintf(w, "Date:    %s\n", formatTime(v.CreatedAt))
	if v.CreatedBy != "" {
		fmt.Fprintf(w, "Author:  %s\n", v.CreatedBy)
	}
	fmt.Fprintf(w, "Shape:   %d rows x %d columns (%s)\n", v.RowCount, v.ColumnCount, formatBytes(v.SizeBytes))
	fmt.Fprintf(w, "Hash:    %s\n", v.ContentHash)
}

// ANSI color codes
const (
	yellow = "\033[33m"
	cyan   = "\033[36m"
	reset  = "\033[0m"
)
