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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigDirOverride(t *testing.T) {
	original := os.Getenv("TEXLAZY_CONFIG_DIR")
	os.Setenv("TEXLAZY_CONFIG_DIR", "/tmp/test-texlazy-config")
	defer os.Setenv("TEXLAZY_CONFIG_DIR", original)

	assert.Equal(t, "/tmp/test-texlazy-config", ConfigDir())
}

func TestPathHelpersAreUnderConfigDir(t *testing.T) {
	tmpDir := t.TempDir()
	original := os.Getenv("TEXLAZY_CONFIG_DIR")
	os.Setenv("TEXLAZY_CONFIG_DIR", tmpDir)
	defer os.Setenv("TEXLAZY_CONFIG_DIR", original)

	tests := []struct {
		name   string
		fn     func() string
		suffix string
	}{
		{"PidPath", PidPath, "texlazyd.pid"},
		{"LockPath", LockPath, "texlazyd.lock"},
	}
	for _, tt := range tests {
		path := tt.fn()
		assert.True(t, strings.HasPrefix(path, tmpDir))
		assert.True(t, strings.HasSuffix(path, tt.suffix), "%s should end with %s", tt.name, tt.suffix)
	}
}

func TestLogPathEnvOverride(t *testing.T) {
	original := os.Getenv("TEXLAZY_DAEMON_LOG")
	os.Setenv("TEXLAZY_DAEMON_LOG", "/var/log/texlazyd.log")
	defer os.Setenv("TEXLAZY_DAEMON_LOG", original)

	assert.Equal(t, "/var/log/texlazyd.log", LogPath())
}

func TestWriteGetRemovePID(t *testing.T) {
	tmpDir := t.TempDir()
	original := os.Getenv("TEXLAZY_CONFIG_DIR")
	os.Setenv("TEXLAZY_CONFIG_DIR", tmpDir)
	defer os.Setenv("TEXLAZY_CONFIG_DIR", original)

	require.NoError(t, WritePID())

	pid, err := GetPID()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	require.NoError(t, RemovePID())
	_, err = GetPID()
	assert.Error(t, err)

	// Removing again must not error.
	require.NoError(t, RemovePID())
}
