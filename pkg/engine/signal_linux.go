// Copyright 2025 Raamsri Kumar <raam@tinkershack.in>
// Copyright 2025 The StrataSTOR Authors and Contributors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package engine

import "golang.org/x/sys/unix"

func sigterm(pid int) error {
	return unix.Kill(pid, unix.SIGTERM)
}

func sigkill(pid int) error {
	return unix.Kill(pid, unix.SIGKILL)
}
