// Copyright 2024 Raamsri Kumar <raam@tinkershack.in>
// Copyright 2025 The StrataSTOR Authors and Contributors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"path/filepath"
)

var configDir string // Directory for configuration files

func init() {
	if os.Geteuid() == 0 {
		configDir = "/etc/udevd"
		if err := EnsureDirectories(); err != nil {
			panic(fmt.Sprintf("failed to ensure configuration directories: %v", err))
		}
		return
	}

	// Non-root: fall back to a user config directory, mainly useful for
	// running the engine's test suite and local development.
	homeDir, err := os.UserHomeDir()
	if err != nil {
		panic(fmt.Sprintf("failed to get home directory: %v", err))
	}

	configDir = filepath.Join(homeDir, ".udevd")
	if err := EnsureDirectories(); err != nil {
		panic(fmt.Sprintf("failed to ensure configuration directories: %v", err))
	}
}

// GetConfigDir returns the appropriate configuration directory: the system
// directory when running as root, otherwise a per-user directory.
func GetConfigDir() string {
	return configDir
}

// EnsureDirectories creates the configuration directory if it does not exist.
func EnsureDirectories() error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", configDir, err)
	}
	return nil
}
