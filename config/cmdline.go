// Copyright 2025 Raamsri Kumar <raam@tinkershack.in>
// Copyright 2025 The StrataSTOR Authors and Contributors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/stratastor/logger"
)

const cmdlinePrefix = "udev."

// ApplyCmdline overlays kernel command-line udev.* keys onto cfg, per
// spec.md §6: log_priority, children_max, exec_delay (seconds),
// event_timeout (seconds). Unknown udev.* keys are logged and ignored;
// malformed values are warned and ignored. cmdline is the raw contents of
// /proc/cmdline (or an override, for testability).
func ApplyCmdline(cfg *Config, cmdline string, log logger.Logger) {
	for _, tok := range strings.Fields(cmdline) {
		key, value, hasValue := strings.Cut(tok, "=")
		if !strings.HasPrefix(key, cmdlinePrefix) {
			continue
		}
		name := strings.TrimPrefix(key, cmdlinePrefix)

		switch name {
		case "log_priority":
			if !hasValue {
				log.Warn("udev.log_priority requires a value, ignoring")
				continue
			}
			if n, err := strconv.Atoi(value); err == nil {
				cfg.Engine.LogPriority = n
			} else {
				log.Warn("malformed udev.log_priority, ignoring", "value", value)
			}
		case "children_max":
			if !hasValue {
				log.Warn("udev.children_max requires a value, ignoring")
				continue
			}
			if n, err := strconv.Atoi(value); err == nil && n >= 0 {
				cfg.Engine.ChildrenMax = n
			} else {
				log.Warn("malformed udev.children_max, ignoring", "value", value)
			}
		case "exec_delay":
			if !hasValue {
				log.Warn("udev.exec_delay requires a value, ignoring")
				continue
			}
			if n, err := strconv.Atoi(value); err == nil && n >= 0 {
				cfg.Engine.ExecDelaySec = n
			} else {
				log.Warn("malformed udev.exec_delay, ignoring", "value", value)
			}
		case "event_timeout":
			if !hasValue {
				log.Warn("udev.event_timeout requires a value, ignoring")
				continue
			}
			if n, err := strconv.Atoi(value); err == nil && n >= 0 {
				cfg.Engine.EventTimeoutSec = n
			} else {
				log.Warn("malformed udev.event_timeout, ignoring", "value", value)
			}
		default:
			log.Info("unknown kernel cmdline key, ignoring", "key", key)
		}
	}
}

// ReadProcCmdline reads /proc/cmdline, returning an empty string (never an
// error) when the daemon is not running under Linux or the file is absent —
// the cmdline overlay is best-effort.
func ReadProcCmdline() string {
	b, err := os.ReadFile("/proc/cmdline")
	if err != nil {
		return ""
	}
	return string(b)
}
