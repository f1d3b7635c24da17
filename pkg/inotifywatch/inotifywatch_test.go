// Copyright 2025 Raamsri Kumar <raam@tinkershack.in>
// Copyright 2025 The StrataSTOR Authors and Contributors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package inotifywatch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartitionSysPaths_OnlyDirsWithPartitionFile(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, os.Mkdir(filepath.Join(dir, "sda1"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sda1", "partition"), []byte("1\n"), 0644))

	require.NoError(t, os.Mkdir(filepath.Join(dir, "queue"), 0755)) // a whole-disk sysfs attr dir, not a partition
	require.NoError(t, os.WriteFile(filepath.Join(dir, "uevent"), []byte(""), 0644))

	got, err := BlockRereader{}.PartitionSysPaths(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "sda1")}, got)
}

func TestPartitionSysPaths_NoChildren(t *testing.T) {
	dir := t.TempDir()
	got, err := BlockRereader{}.PartitionSysPaths(dir)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPartitionSysPaths_MissingDir(t *testing.T) {
	_, err := BlockRereader{}.PartitionSysPaths(filepath.Join(t.TempDir(), "absent"))
	assert.Error(t, err)
}

func TestWriteChange_WritesChangeToken(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "uevent"), []byte(""), 0644))

	require.NoError(t, UeventWriter{}.WriteChange(dir))

	got, err := os.ReadFile(filepath.Join(dir, "uevent"))
	require.NoError(t, err)
	assert.Equal(t, "change\n", string(got))
}

func TestWriteChange_MissingUeventFile(t *testing.T) {
	dir := t.TempDir()
	assert.Error(t, UeventWriter{}.WriteChange(dir))
}
