// Copyright 2025 Raamsri Kumar <raam@tinkershack.in>
// Copyright 2025 The StrataSTOR Authors and Contributors
// SPDX-License-Identifier: Apache-2.0

package constants

// Build-time variables set via ldflags
var (
	Version   = "v0.0.1-dev" // Set via -X flag during build
	CommitSHA = "unknown"    // Set via -X flag during build
	BuildTime = "unknown"    // Set via -X flag during build
)

const (
	// ConfigFileName is the on-disk YAML defaults file read by config.LoadConfig.
	ConfigFileName = "udevd.yml"

	// PIDFilePath is the default single-instance PID file for the daemon.
	PIDFilePath = "/run/udevd/udevd.pid"

	// QueueMarkerPath is touched on first enqueue and unlinked on last
	// dequeue, but only by the manager's owner pid. See spec §5 "Shared
	// resources".
	QueueMarkerPath = "/run/udev/queue"

	// ControlSocketPath is the AF_LOCAL SOCK_SEQPACKET control endpoint.
	ControlSocketPath = "/run/udev/control"

	// WorkerSubcommand is the hidden cobra subcommand a re-exec'd worker
	// process runs under.
	WorkerSubcommand = "__worker"
)
