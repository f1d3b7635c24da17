// Copyright 2025 Raamsri Kumar <raam@tinkershack.in>
// Copyright 2025 The StrataSTOR Authors and Contributors
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import (
	"os"
	"strconv"
	"time"
)

// CgroupKiller implements engine.CgroupReaper over a cgroup v2
// "cgroup.kill" control file (cgroups(7)): a single write of "1" SIGKILLs
// every process currently in that cgroup. It is meant to point at a
// cgroup reserved for worker descendants, never at the daemon's own —
// creating and populating that cgroup is "cgroup setup" (spec.md §1's
// out-of-scope list); CgroupKiller only ever requests the kill.
type CgroupKiller struct {
	path string // path to a cgroup.kill file; empty disables the reap
}

// NewCgroupKiller wraps the cgroup.kill file at path. An empty path is a
// valid, inert value for hosts with no dedicated worker cgroup, matching
// spec.md §4.1's "request the owning cgroup (if any)".
func NewCgroupKiller(path string) *CgroupKiller {
	return &CgroupKiller{path: path}
}

// KillStrayDescendants implements engine.CgroupReaper.
func (c *CgroupKiller) KillStrayDescendants() error {
	if c.path == "" {
		return nil
	}
	return os.WriteFile(c.path, []byte("1"), 0644)
}

// WatchdogInterval returns half of $WATCHDOG_USEC, the interval systemd's
// convention expects a unit to ping at least twice per watchdog timeout,
// or zero if the supervisor did not set one for this unit.
func WatchdogInterval() time.Duration {
	raw := os.Getenv("WATCHDOG_USEC")
	if raw == "" {
		return 0
	}
	usec, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || usec <= 0 {
		return 0
	}
	return (time.Duration(usec) * time.Microsecond) / 2
}
