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
)

var registryCmd = &cobra.Command{
	Use:   "registry",
	Short: "Inspect or refresh the bundle registry",
}

var registrySyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Force the daemon to reload the bundle registry",
	Args:  cobra.NoArgs,
	RunE:  runRegistrySync,
}

var registryInspectCmd = &cobra.Command{
	Use:   "inspect <canonical-path>",
	Short: "Show which bundle a canonical TeX tree path resolves to",
	Args:  cobra.ExactArgs(1),
	RunE:  runRegistryInspect,
}

func init() {
	registryCmd.AddCommand(registrySyncCmd)
	registryCmd.AddCommand(registryInspectCmd)
	rootCmd.AddCommand(registryCmd)
}

func runRegistrySync(cmd *cobra.Command, args []string) error {
	client, err := daemon.Connect(settings.SocketPath)
	if err != nil {
		return fmt.Errorf("could not connect to daemon: %w", err)
	}
	defer client.Close()

	resp, err := client.Send(&daemon.Request{Type: daemon.RequestRegistrySync})
	if err != nil {
		return fmt.Errorf("registry sync request failed: %w", err)
	}
	if !resp.OK {
		return fmt.Errorf("registry sync failed: %s", resp.Error)
	}
	fmt.Println("Registry synced")
	return nil
}

func runRegistryInspect(cmd *cobra.Command, args []string) error {
	client, err := daemon.Connect(settings.SocketPath)
	if err != nil {
		return fmt.Errorf("could not connect to daemon: %w", err)
	}
	defer client.Close()

	resp, err := client.Send(&daemon.Request{Type: daemon.RequestInspect, Path: args[0]})
	if err != nil {
		return fmt.Errorf("inspect request failed: %w", err)
	}
	if !resp.OK {
		return fmt.Errorf("inspect failed: %s", resp.Error)
	}

	var result daemon.InspectResultPayload
	if err := json.Unmarshal(resp.Payload, &result); err != nil {
		return fmt.Errorf("malformed inspect response: %w", err)
	}
	fmt.Printf("%s -> bundle %s [%d,%d)\n", args[0], result.Bundle, result.Start, result.End)
	return nil
}
