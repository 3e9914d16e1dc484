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

// Package config loads and persists the daemon's YAML-backed settings, the
// way the teacher's daemon package loads ~/.latentfs/settings.yaml.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/SiglumProject/busytex-lazy/internal/artifacts"
	"github.com/SiglumProject/busytex-lazy/internal/common"
)

// Settings is the daemon's persisted configuration (§4.6).
type Settings struct {
	ProxyBaseURL    string `yaml:"proxy_base_url"`
	RegistryBaseURL string `yaml:"registry_base_url"`
	StoreRoot       string `yaml:"store_root"`
	CacheVersion    int    `yaml:"cache_version"`
	SocketPath      string `yaml:"socket_path"`
	LogLevel        string `yaml:"log_level"`
	RetryBound      int    `yaml:"retry_bound"`
}

// Default returns the built-in defaults, parsed from the embedded template
// so the template and the Go defaults can never drift apart.
func Default() Settings {
	var s Settings
	if err := yaml.Unmarshal(artifacts.GlobalSettings, &s); err != nil {
		panic("failed to parse embedded default settings: " + err.Error())
	}
	return s
}

// ConfigDir returns the directory texlazy stores its config and store data
// under. TEXLAZY_CONFIG_DIR overrides the default of ~/.texlazy, the same
// env-var-override pattern the teacher uses for test isolation.
func ConfigDir() string {
	if dir := os.Getenv("TEXLAZY_CONFIG_DIR"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".texlazy")
}

// SettingsPath returns the path to the settings YAML file.
func SettingsPath() string {
	return filepath.Join(ConfigDir(), "settings.yaml")
}

// applyDefaults fills any zero-valued field with the built-in default,
// matching the teacher's "merge over defaults" load semantics (§4.6).
func (s *Settings) applyDefaults() {
	d := Default()
	if s.ProxyBaseURL == "" {
		s.ProxyBaseURL = d.ProxyBaseURL
	}
	if s.RegistryBaseURL == "" {
		s.RegistryBaseURL = d.RegistryBaseURL
	}
	if s.CacheVersion == 0 {
		s.CacheVersion = d.CacheVersion
	}
	if s.RetryBound == 0 {
		s.RetryBound = d.RetryBound
	}
	if s.StoreRoot == "" {
		s.StoreRoot = filepath.Join(ConfigDir(), "store")
	}
	if s.SocketPath == "" {
		s.SocketPath = filepath.Join(ConfigDir(), "texlazy.sock")
	}
}

// Load reads path, or falls back to the built-in defaults if it does not
// exist. A present-but-unparsable file is a Fatal error surfaced to the
// caller, never silently ignored - a bad proxy URL would otherwise manifest
// as confusing downstream NotFound errors deep in the Fetcher (§4.6).
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			s := Default()
			s.applyDefaults()
			return &s, nil
		}
		return nil, common.NewError(common.KindFatal, "config.Load", err)
	}

	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, common.NewError(common.KindFatal, "config.Load", fmt.Errorf("parse %s: %w", path, err))
	}
	s.applyDefaults()
	return &s, nil
}

// Save atomically rewrites path with s's contents: write to a sibling temp
// file, then rename over the target, so a crash mid-write never leaves a
// truncated settings file behind.
func Save(path string, s *Settings) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return common.NewError(common.KindTransientIO, "config.Save", err)
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return common.NewError(common.KindFatal, "config.Save", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".settings-*.yaml")
	if err != nil {
		return common.NewError(common.KindTransientIO, "config.Save", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return common.NewError(common.KindTransientIO, "config.Save", err)
	}
	if err := tmp.Close(); err != nil {
		return common.NewError(common.KindTransientIO, "config.Save", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return common.NewError(common.KindTransientIO, "config.Save", err)
	}
	return nil
}
