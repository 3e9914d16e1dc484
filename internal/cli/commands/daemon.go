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
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/SiglumProject/busytex-lazy/internal/config"
	"github.com/SiglumProject/busytex-lazy/internal/daemon"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Daemon management commands",
	Long:  `Commands for controlling texlazyd, the long-lived process that owns the Store, Bundle Manager, and Compilation Orchestrator.`,
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start texlazyd",
	Args:  cobra.NoArgs,
	RunE:  runDaemonStart,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop texlazyd",
	Args:  cobra.NoArgs,
	RunE:  runDaemonStop,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show texlazyd status",
	Args:  cobra.NoArgs,
	RunE:  runDaemonStatus,
}

var daemonForeground bool

func init() {
	daemonStartCmd.Flags().BoolVarP(&daemonForeground, "foreground", "f", false, "Run in the foreground instead of forking into the background")
	daemonCmd.AddCommand(daemonStartCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	daemonCmd.AddCommand(daemonStatusCmd)
	rootCmd.AddCommand(daemonCmd)
}

func loadSettingsOrDefault() (*config.Settings, error) {
	if err := daemon.EnsureConfigDir(); err != nil {
		return nil, err
	}
	return config.Load(config.SettingsPath())
}

func runDaemonStart(cmd *cobra.Command, args []string) error {
	s, err := loadSettingsOrDefault()
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	if daemon.IsDaemonRunning(s.SocketPath) {
		pid, _ := daemon.GetPID()
		fmt.Printf("Daemon already running (PID %d)\n", pid)
		return nil
	}

	if daemonForeground {
		return daemon.New(s).Run()
	}

	exe, err := os.Executable()
	if err != nil {
		return err
	}

	bg := exec.Command(exe, "daemon", "start", "--foreground")
	bg.Stdout = nil
	bg.Stderr = nil
	bg.Env = os.Environ()
	bg.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := bg.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	for i := 0; i < 400; i++ {
		if daemon.IsDaemonRunning(s.SocketPath) {
			pid, _ := daemon.GetPID()
			fmt.Printf("Daemon started (PID %d)\n", pid)
			return nil
		}
		time.Sleep(25 * time.Millisecond)
	}
	return fmt.Errorf("daemon did not start")
}

func runDaemonStop(cmd *cobra.Command, args []string) error {
	s, err := loadSettingsOrDefault()
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	if !daemon.IsDaemonRunning(s.SocketPath) {
		fmt.Println("Daemon not running")
		return nil
	}

	pid, _ := daemon.GetPID()

	client, err := daemon.Connect(s.SocketPath)
	if err != nil {
		return fmt.Errorf("could not connect to daemon: %w", err)
	}
	_, err = client.Send(&daemon.Request{Type: daemon.RequestStop})
	client.Close()
	if err != nil {
		return fmt.Errorf("stop request failed: %w", err)
	}

	for i := 0; i < 400; i++ {
		if !daemon.IsDaemonRunning(s.SocketPath) {
			fmt.Println("Daemon stopped")
			return nil
		}
		time.Sleep(25 * time.Millisecond)
	}

	if proc, err := os.FindProcess(pid); err == nil {
		proc.Signal(syscall.SIGKILL)
	}
	return fmt.Errorf("daemon (PID %d) did not stop gracefully", pid)
}

func runDaemonStatus(cmd *cobra.Command, args []string) error {
	s, err := loadSettingsOrDefault()
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	if daemon.IsDaemonRunning(s.SocketPath) {
		pid, _ := daemon.GetPID()
		fmt.Printf("Daemon: running (PID %d)\n", pid)
	} else {
		fmt.Println("Daemon: not running")
	}
	fmt.Printf("Socket: %s\n", s.SocketPath)
	fmt.Printf("Store root: %s\n", s.StoreRoot)
	return nil
}
