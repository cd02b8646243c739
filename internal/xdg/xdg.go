// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flow Contributors

// Package xdg provides XDG Base Directory paths for Flow.
package xdg

import (
	"os"
	"path/filepath"

	"github.com/samber/oops"
)

const appName = "flow"

// ConfigDir returns the XDG config directory for flow.
// Checks XDG_CONFIG_HOME first, falls back to ~/.config.
func ConfigDir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		base = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(base, appName)
}

// DataDir returns the XDG data directory for flow.
// Checks XDG_DATA_HOME first, falls back to ~/.local/share.
func DataDir() string {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		base = filepath.Join(os.Getenv("HOME"), ".local", "share")
	}
	return filepath.Join(base, appName)
}

// DefaultConfigFile is the config file used when --config is not given.
func DefaultConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// DefaultUserStore is the location of the JSON credential store.
func DefaultUserStore() string {
	return filepath.Join(DataDir(), "users.json")
}

// EnsureDir creates path and its parents with 0700 permissions. The users
// file holds password hashes, so the directory stays private.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0o700); err != nil {
		return oops.Code("DIR_CREATE_FAILED").With("path", path).Wrap(err)
	}
	return nil
}
