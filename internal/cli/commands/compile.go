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
	"os"

	"github.com/spf13/cobra"

	"github.com/SiglumProject/busytex-lazy/internal/daemon"
)

var (
	compileEngine string
	compileOut    string
)

var compileCmd = &cobra.Command{
	Use:   "compile <file.tex>",
	Short: "Compile a TeX document via the daemon",
	Args:  cobra.ExactArgs(1),
	RunE:  runCompile,
}

func init() {
	compileCmd.Flags().StringVar(&compileEngine, "engine", "auto", "Engine to use: auto, pdflatex, xelatex, lualatex")
	compileCmd.Flags().StringVar(&compileOut, "out", "", "Output PDF path (default: <file> with .pdf extension)")
	rootCmd.AddCommand(compileCmd)
}

func runCompile(cmd *cobra.Command, args []string) error {
	path := args[0]
	source, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	client, err := daemon.Connect(settings.SocketPath)
	if err != nil {
		return fmt.Errorf("could not connect to daemon: %w", err)
	}
	defer client.Close()

	payload, err := json.Marshal(daemon.CompilePayload{Source: string(source), MainFile: "/work/" + baseName(path)})
	if err != nil {
		return err
	}

	resp, err := client.Send(&daemon.Request{
		Type:    daemon.RequestCompile,
		Engine:  compileEngine,
		Payload: payload,
	})
	if err != nil {
		return fmt.Errorf("compile request failed: %w", err)
	}
	if !resp.OK {
		return fmt.Errorf("compile failed: %s", resp.Error)
	}

	var result daemon.CompileResultPayload
	if err := json.Unmarshal(resp.Payload, &result); err != nil {
		return fmt.Errorf("malformed compile response: %w", err)
	}

	out := compileOut
	if out == "" {
		out = withPDFExtension(path)
	}
	if err := os.WriteFile(out, result.PDF, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}

	fmt.Printf("Wrote %s (%d bytes, engine %s [%s, %s confidence], %d retries, %d packages fetched, %d bytes downloaded)\n",
		out, len(result.PDF), result.Engine, result.Reason, result.Confidence, result.Retries, result.PackagesFetched, result.BytesDownloaded)
	return nil
}

func baseName(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}

func withPDFExtension(path string) string {
	base := baseName(path)
	for i := len(base) - 1; i >= 0; i-- {
		if base[i] == '.' {
			return base[:i] + ".pdf"
		}
	}
	return base + ".pdf"
}
