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

package daemon

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/SiglumProject/busytex-lazy/internal/config"
)

// ConfigDir returns the configuration directory path.
func ConfigDir() string {
	return config.ConfigDir()
}

// PidPath returns the PID file path.
func PidPath() string {
	return filepath.Join(ConfigDir(), "texlazyd.pid")
}

// LogPath returns the daemon's log file path.
func LogPath() string {
	if p := os.Getenv("TEXLAZY_DAEMON_LOG"); p != "" {
		return p
	}
	return filepath.Join(ConfigDir(), "texlazyd.log")
}

// LockPath returns the daemon's singleton lock file path.
func LockPath() string {
	return filepath.Join(ConfigDir(), "texlazyd.lock")
}

// EnsureConfigDir creates the config directory if it doesn't exist.
func EnsureConfigDir() error {
	return os.MkdirAll(ConfigDir(), 0o700)
}

// WritePID writes the current process's PID to PidPath.
func WritePID() error {
	return os.WriteFile(PidPath(), []byte(strconv.Itoa(os.Getpid())), 0o600)
}

// RemovePID removes the PID file, ignoring a missing file.
func RemovePID() error {
	err := os.Remove(PidPath())
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// GetPID reads the daemon's recorded PID, if any.
func GetPID() (int, error) {
	data, err := os.ReadFile(PidPath())
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(string(data))
}
