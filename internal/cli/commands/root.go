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
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"datalineage/internal/common"
	"datalineage/internal/config"
	"datalineage/internal/storage"
)

var (
	buildVersion = "dev"
	commit       = "none"
	date         = "unknown"
)

// SetVersion sets the version info for --version flag
func SetVersion(v, c, d string) {
	buildVersion = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

// getVersionString returns the version string with build info
func getVersionString() string {
	buildDate := formatBuildDate(date)
	if strings.HasSuffix(buildVersion, "-dev") {
		return fmt.Sprintf("%s (%s, commit: %s)", buildVersion, buildDate, commit)
	}
	return fmt.Sprintf("%s (%s)", buildVersion, buildDate)
}

// formatBuildDate converts a unix timestamp to a readable date
func formatBuildDate(epoch string) string {
	ts, err := strconv.ParseInt(epoch, 10, 64)
	if err != nil {
		return epoch
	}
	return time.Unix(ts, 0).Format("2006-01-02")
}

// Global flags
var (
	jsonOutput bool
	logLevel   string
)

// settings is loaded once per invocation by the root pre-run hook.
var settings *config.Settings

var rootCmd = &cobra.Command{
	Use:   "datalineage",
	Short: "Versioned datasets with transformation lineage",
	Long: `Store immutable, content-addressed versions of tabular datasets, derive new
versions by applying cleaning and feature-engineering pipelines, and trace
every version back to the upload it came from.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}

		if err := config.EnsureHomeDir(); err != nil {
			return fmt.Errorf("failed to initialize home directory: %w", err)
		}
		s, err := config.LoadSettings()
		if err != nil {
			return fmt.Errorf("failed to load settings: %w", err)
		}
		settings = s
		storage.SetConfigBusyTimeout(s.BusyTimeout)

		level := s.EffectiveLogLevel()
		if cmd.Flags().Changed("log-level") {
			level = logLevel
		}
		return setupLogging(cmd.ErrOrStderr(), level)
	},
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SetVersionTemplate("datalineage version {{.Version}}\n")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print results as JSON")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: trace, debug, info, warn, off")
}

// setupLogging routes logrus to w at level, or discards it when off.
func setupLogging(w io.Writer, level string) error {
	lvl, enabled, err := config.ParseLogLevel(level)
	if err != nil {
		return err
	}
	if !enabled {
		log.SetOutput(io.Discard)
		return nil
	}
	log.SetOutput(w)
	log.SetLevel(lvl)
	return nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// ExitCode maps an error to the process exit status by category.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, common.ErrValidation):
		return 2
	case errors.Is(err, common.ErrNotFound):
		return 3
	case errors.Is(err, common.ErrInUse), errors.Is(err, common.ErrConflict):
		return 4
	case errors.Is(err, common.ErrIntegrity):
		return 5
	case errors.Is(err, common.ErrTransient):
		return 75 // EX_TEMPFAIL
	}
	return 1
}
