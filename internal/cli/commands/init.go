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
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"datalineage/internal/artifacts"
	"datalineage/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the DataLineage home directory",
	Long: `Initialize the DataLineage home directory ($DATALINEAGE_HOME, default
~/.datalineage).

Writes a default settings.yaml and an example pipeline. Existing files are
left untouched, so running init again is safe.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	home := config.HomeDir()

	created, err := config.InitHomeDir()
	if err != nil {
		return err
	}
	if created {
		fmt.Fprintf(out, "Initialized DataLineage home in %s\n", home)
		fmt.Fprintf(out, "  created settings.yaml\n")
	} else {
		fmt.Fprintf(out, "Reinitialized existing DataLineage home in %s\n", home)
		fmt.Fprintf(out, "  settings.yaml already exists (not modified)\n")
	}

	pipelinePath := filepath.Join(home, "pipeline.example.yaml")
	if _, err := os.Stat(pipelinePath); err == nil {
		return nil
	}
	if err := os.WriteFile(pipelinePath, artifacts.ExamplePipeline, 0644); err != nil {
		return fmt.Errorf("failed to write example pipeline: %w", err)
	}
	fmt.Fprintf(out, "  created pipeline.example.yaml\n")
	return nil
}
