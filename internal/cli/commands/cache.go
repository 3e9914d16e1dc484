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
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/SiglumProject/busytex-lazy/internal/daemon"
	"github.com/SiglumProject/busytex-lazy/internal/store"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the daemon's bundle cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show recent compile job statistics",
	Args:  cobra.NoArgs,
	RunE:  runCacheStats,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear the in-process bundle cache",
	Args:  cobra.NoArgs,
	RunE:  runCacheClear,
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}

func runCacheStats(cmd *cobra.Command, args []string) error {
	client, err := daemon.Connect(settings.SocketPath)
	if err != nil {
		return fmt.Errorf("could not connect to daemon: %w", err)
	}
	defer client.Close()

	resp, err := client.Send(&daemon.Request{Type: daemon.RequestStats})
	if err != nil {
		return fmt.Errorf("stats request failed: %w", err)
	}
	if !resp.OK {
		return fmt.Errorf("stats failed: %s", resp.Error)
	}

	var jobs []store.CompileJobModel
	if err := json.Unmarshal(resp.Payload, &jobs); err != nil {
		return fmt.Errorf("malformed stats response: %w", err)
	}

	if len(jobs) == 0 {
		fmt.Println("No compile jobs recorded yet")
		return nil
	}
	for _, j := range jobs {
		fmt.Printf("%s  engine=%-10s status=%-8s retries=%d packages=%d bytes=%d duration=%dms\n",
			j.JobID, j.Engine, j.Status, j.Retries, j.PackagesFetched, j.BytesDownloaded, j.DurationMs)
	}
	return nil
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	client, err := daemon.Connect(settings.SocketPath)
	if err != nil {
		return fmt.Errorf("could not connect to daemon: %w", err)
	}
	defer client.Close()

	resp, err := client.Send(&daemon.Request{Type: daemon.RequestCacheClear})
	if err != nil {
		return fmt.Errorf("cache clear request failed: %w", err)
	}
	if !resp.OK {
		return fmt.Errorf("cache clear failed: %s", resp.Error)
	}
	fmt.Println("Cache cleared")
	return nil
}
