// Copyright 2024 LatentFS Authors
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
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/SiglumProject/busytex-lazy/internal/config"
	"github.com/SiglumProject/busytex-lazy/internal/daemon"
	"github.com/SiglumProject/busytex-lazy/internal/util"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// SetVersion sets the version info for --version flag
func SetVersion(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

// getVersionString returns the version string with build info
func getVersionString() string {
	buildDate := formatBuildDate(date)
	if strings.HasSuffix(version, "-dev") {
		return fmt.Sprintf("%s (%s, epoch: %s, commit: %s)", version, buildDate, date, commit)
	}
	return fmt.Sprintf("%s (%s)", version, buildDate)
}

// formatBuildDate converts epoch timestamp to readable date
func formatBuildDate(epoch string) string {
	ts, err := strconv.ParseInt(epoch, 10, 64)
	if err != nil {
		return epoch
	}
	return time.Unix(ts, 0).Format("2006-01-02")
}

var settings *config.Settings

var rootCmd = &cobra.Command{
	Use:   "texlazy",
	Short: "Lazy-resolution TeX compilation engine",
	Long:  `texlazy compiles TeX sources by lazily resolving and fetching only the package bundles a document actually needs.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}
		if cmd.Parent() != nil && cmd.Parent().Name() == "daemon" {
			return nil
		}
		if cmd.Name() == "daemon" {
			return nil
		}

		if err := daemon.EnsureConfigDir(); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		s, err := config.Load(config.SettingsPath())
		if err != nil {
			return fmt.Errorf("failed to load settings: %w", err)
		}
		settings = s

		isRunning := func() bool { return daemon.IsDaemonRunning(settings.SocketPath) }
		if !isRunning() {
			cfg := util.DefaultDaemonStartConfig()
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := util.StartDaemonIfNeeded(ctx, cfg, isRunning, []string{"daemon", "start"}); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: could not auto-start daemon: %v\n", err)
			}
		}

		return nil
	},
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SetVersionTemplate("texlazy version {{.Version}}\n")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
