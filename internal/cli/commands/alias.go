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
	"sort"

	"github.com/spf13/cobra"

	"github.com/SiglumProject/busytex-lazy/internal/daemon"
	"github.com/SiglumProject/busytex-lazy/internal/store"
)

var aliasCmd = &cobra.Command{
	Use:   "alias",
	Short: "Inspect the package-name alias table",
}

var aliasListCmd = &cobra.Command{
	Use:   "list",
	Short: "List discovered package-name aliases",
	Args:  cobra.NoArgs,
	RunE:  runAliasList,
}

func init() {
	aliasCmd.AddCommand(aliasListCmd)
	rootCmd.AddCommand(aliasCmd)
}

func runAliasList(cmd *cobra.Command, args []string) error {
	client, err := daemon.Connect(settings.SocketPath)
	if err != nil {
		return fmt.Errorf("could not connect to daemon: %w", err)
	}
	defer client.Close()

	resp, err := client.Send(&daemon.Request{Type: daemon.RequestAliasList})
	if err != nil {
		return fmt.Errorf("alias list request failed: %w", err)
	}
	if !resp.OK {
		return fmt.Errorf("alias list failed: %s", resp.Error)
	}

	var aliases store.AliasTable
	if err := json.Unmarshal(resp.Payload, &aliases); err != nil {
		return fmt.Errorf("malformed alias list response: %w", err)
	}

	if len(aliases) == 0 {
		fmt.Println("No aliases discovered yet")
		return nil
	}
	names := make([]string, 0, len(aliases))
	for name := range aliases {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("%s -> %s\n", name, aliases[name])
	}
	return nil
}
