// Copyright 2024 DataLineage Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package commands

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"datalineage/internal/service"
	"datalineage/internal/storage"
	"datalineage/internal/version"
)

var uploadCmd = &cobra.Command{
	Use:   "upload <dataset> <file.csv>",
	Short: "Store a CSV file as a new root version",
	Long: `Store a CSV file as a new root version of a dataset.

Content is addressed by its hash: uploading bytes the dataset already holds
returns the existing version instead of creating a new one. Use - to read
from stdin.

Examples:
  datalineage upload sales q1.csv
  cat q1.csv | datalineage upload sales -`,
	Args: cobra.ExactArgs(2),
	RunE: runUpload,
}

var lsCmd = &cobra.Command{
	Use:   "ls [dataset]",
	Short: "List datasets, or the versions of one dataset",
	Long: `Without arguments, list every dataset with its version count and latest
version. With a dataset, list its versions newest first.

Examples:
  datalineage ls
  datalineage ls sales`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLs,
}

var showCmd = &cobra.Command{
	Use:   "show <version>",
	Short: "Show a version's metadata",
	Long: `Show a version's metadata. The version can be a full id or a unique prefix
of at least four characters.

Examples:
  datalineage show 3f2a9c1e`,
	Args: cobra.ExactArgs(1),
	RunE: runShow,
}

var exportCmd = &cobra.Command{
	Use:   "export <version>",
	Short: "Write a version's CSV content",
	Long: `Write a version's CSV content to stdout, or to a file with -o.

Examples:
  datalineage export 3f2a9c1e > clean.csv
  datalineage export 3f2a9c1e -o clean.csv`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

var pinCmd = &cobra.Command{
	Use:   "pin <version>",
	Short: "Protect a version from deletion and cleanup",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return runSetPinned(cmd, args[0], true) },
}

var unpinCmd = &cobra.Command{
	Use:   "unpin <version>",
	Short: "Allow a version to be deleted again",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return runSetPinned(cmd, args[0], false) },
}

var rmCmd = &cobra.Command{
	Use:   "rm <version>",
	Short: "Remove a version",
	Long: `Remove a version. Pinned versions and versions that other versions were
derived from cannot be removed; remove the children first. Stored content
shared with other versions is kept.

Examples:
  datalineage rm 3f2a9c1e
  datalineage rm 3f2a9c1e -y`,
	Args: cobra.ExactArgs(1),
	RunE: runRm,
}

// Flag variables
var (
	uploadAuthor string

	exportOutput string

	rmSkipConfirm bool
)

func init() {
	uploadCmd.Flags().StringVarP(&uploadAuthor, "author", "a", defaultAuthor(), "Recorded as the version's creator")
	rootCmd.AddCommand(uploadCmd)

	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(showCmd)

	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Write to a file instead of stdout")
	rootCmd.AddCommand(exportCmd)

	rootCmd.AddCommand(pinCmd)
	rootCmd.AddCommand(unpinCmd)

	rmCmd.Flags().BoolVarP(&rmSkipConfirm, "yes", "y", false, "Skip confirmation prompt")
	rootCmd.AddCommand(rmCmd)
}

// defaultAuthor is the login name, or empty when unknown.
func defaultAuthor() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return os.Getenv("USERNAME")
}

func runUpload(cmd *cobra.Command, args []string) error {
	content, err := readInput(cmd, args[1])
	if err != nil {
		return err
	}
	return withService(cmd, func(ctx context.Context, svc *service.Service) error {
		res, err := call(ctx, func() (*service.UploadResult, error) {
			return svc.CreateVersion(ctx, service.UploadRequest{DatasetID: args[0], Content: content, CreatedBy: uploadAuthor})
		})
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, res)
		}
		if res.Created {
			fmt.Fprintf(out, "Created version %s\n", res.Version.VersionID)
		} else {
			fmt.Fprintf(out, "Content unchanged, existing version %s\n", res.Version.VersionID)
		}
		fmt.Fprintf(out, "  %d rows x %d columns\n", res.Version.RowCount, res.Version.ColumnCount)
		return nil
	})
}

func runLs(cmd *cobra.Command, args []string) error {
	return withService(cmd, func(ctx context.Context, svc *service.Service) error {
		out := cmd.OutOrStdout()
		if len(args) == 0 {
			datasets, err := call(ctx, func() ([]storage.DatasetSummary, error) { return svc.ListDatasets(ctx) })
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(out, datasets)
			}
			if len(datasets) == 0 {
				fmt.Fprintln(out, "No datasets")
				return nil
			}
			for _, d := range datasets {
				fmt.Fprintf(out, "%-24s %4d version(s)  latest %s  %s\n",
					d.DatasetID, d.Versions, shortID(d.LatestVersion), formatTime(time.Unix(0, d.LatestAt)))
			}
			return nil
		}

		versions, err := call(ctx, func() ([]*version.Version, error) { return svc.ListVersions(ctx, args[0]) })
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(out, versions)
		}
		if len(versions) == 0 {
			fmt.Fprintf(out, "No versions in dataset %s\n", args[0])
			return nil
		}
		for _, v := range versions {
			printVersion(out, v)
			fmt.Fprintln(out)
		}
		return nil
	})
}

func runShow(cmd *cobra.Command, args []string) error {
	return withService(cmd, func(ctx context.Context, svc *service.Service) error {
		v, err := call(ctx, func() (*version.Version, error) { return svc.GetVersion(ctx, args[0]) })
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, v)
		}
		printVersion(out, v)
		fmt.Fprintf(out, "Columns: %s\n", strings.Join(v.Columns, ", "))
		fmt.Fprintf(out, "Reads:   %d\n", v.AccessCount)
		return nil
	})
}

func runExport(cmd *cobra.Command, args []string) error {
	return withService(cmd, func(ctx context.Context, svc *service.Service) error {
		var data []byte
		err := callErr(ctx, func() error {
			var err error
			_, data, err = svc.ReadContent(ctx, args[0])
			return err
		})
		if err != nil {
			return err
		}
		if exportOutput == "" {
			_, err = cmd.OutOrStdout().Write(data)
			return err
		}
		if err := os.WriteFile(exportOutput, data, 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", exportOutput, err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s to %s\n", formatBytes(int64(len(data))), exportOutput)
		return nil
	})
}

func runSetPinned(cmd *cobra.Command, ref string, pinned bool) error {
	return withService(cmd, func(ctx context.Context, svc *service.Service) error {
		v, err := call(ctx, func() (*version.Version, error) {
			if pinned {
				return svc.Pin(ctx, ref)
			}
			return svc.Unpin(ctx, ref)
		})
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, v)
		}
		if pinned {
			fmt.Fprintf(out, "Pinned version %s\n", v.VersionID)
		} else {
			fmt.Fprintf(out, "Unpinned version %s\n", v.VersionID)
		}
		return nil
	})
}

func runRm(cmd *cobra.Command, args []string) error {
	ref := args[0]
	if !rmSkipConfirm {
		fmt.Fprintf(cmd.OutOrStdout(), "This will permanently delete version '%s'.\n", ref)
		fmt.Fprint(cmd.OutOrStdout(), "Continue? [y/N] ")

		reader := bufio.NewReader(cmd.InOrStdin())
		response, _ := reader.ReadString('\n')
		response = strings.TrimSpace(strings.ToLower(response))
		if response != "y" && response != "yes" {
			fmt.Fprintln(cmd.OutOrStdout(), "Remove cancelled")
			return nil
		}
	}

	return withService(cmd, func(ctx context.Context, svc *service.Service) error {
		v, err := call(ctx, func() (*version.Version, error) { return svc.Delete(ctx, ref) })
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), v)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed version %s\n", v.VersionID)
		return nil
	})
}
