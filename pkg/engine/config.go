// Copyright 2025 Raamsri Kumar <raam@tinkershack.in>
// Copyright 2025 The StrataSTOR Authors and Contributors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"runtime"
	"time"
)

// ResolveNameTiming mirrors the original's arg_resolve_name_timing.
type ResolveNameTiming int

const (
	ResolveNamesEarly ResolveNameTiming = iota
	ResolveNamesLate
	ResolveNamesNever
)

// Config is the engine's immutable-after-startup configuration (spec.md
// §9, "Global mutable configuration" — encapsulated here rather than left
// as process-wide globals). ChildrenMax is the one field the running
// manager mutates at runtime via control messages; Config only supplies
// its starting value.
type Config struct {
	ChildrenMax          int // 0 means "compute DefaultChildrenMax"
	EventTimeout         time.Duration
	ExecDelay            time.Duration
	ResolveNameTiming    ResolveNameTiming
	QueueMarkerPath      string
	RulesFreshnessEvery  time.Duration // throttle for C5 step 2
	WatchdogEvery        time.Duration // 0 disables the watchdog source (spec.md §4.1)
	LogLevel             string        // logger.Config-style level name; "" defaults to "info"
}

// syslogPriorityToLevel maps a SET_LOG_LEVEL syslog priority (0-7, spec.md
// §4.6) to the logger.Config.LogLevel name the rest of this codebase
// constructs loggers with (config.NewLoggerConfig's "debug"/"info"/"warn"
// style), following the standard syslog severity-to-verbosity convention:
// EMERG..ERR collapse to "error", WARNING/NOTICE to "warn", INFO to "info",
// DEBUG to "debug".
func syslogPriorityToLevel(priority int) string {
	switch {
	case priority <= 3:
		return "error"
	case priority <= 5:
		return "warn"
	case priority == 6:
		return "info"
	default:
		return "debug"
	}
}

// DefaultChildrenMax implements spec.md §4.8's "8 + 8 × cpu_count, clamped
// to [10, physical_memory_bytes / (128 MiB)]".
func DefaultChildrenMax(physicalMemoryBytes uint64) int {
	const mib128 = 128 * 1024 * 1024
	n := 8 + 8*runtime.NumCPU()

	max := int(physicalMemoryBytes / mib128)
	if max < 10 {
		max = 10
	}
	if n < 10 {
		n = 10
	}
	if n > max {
		n = max
	}
	return n
}

// resolvedChildrenMax returns cfg.ChildrenMax if set, else the computed
// default for physicalMemoryBytes.
func resolvedChildrenMax(cfg Config, physicalMemoryBytes uint64) int {
	if cfg.ChildrenMax > 0 {
		return cfg.ChildrenMax
	}
	return DefaultChildrenMax(physicalMemoryBytes)
}
