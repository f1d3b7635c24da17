// Copyright 2025 Raamsri Kumar <raam@tinkershack.in>
// Copyright 2025 The StrataSTOR Authors and Contributors
// SPDX-License-Identifier: Apache-2.0

package engine

import "strings"

// onInotify implements spec.md §4.7. The watch-descriptor↔device map is
// external (pkg/inotifywatch); this package only reacts to the decoded
// event. IN_IGNORED watches are unregistered by the source itself, so only
// IN_CLOSE_WRITE reaches synthesize.
func (m *Manager) onInotify(ev InotifyEvent) {
	if ev.Ignored || !ev.CloseWrite || ev.Dev == nil {
		return
	}
	m.synthesizeChange(ev.Dev)
}

// synthesizeChange is the inotify synthesizer proper. For whole disks (not
// "dm-*") it first tries a partition-table reread; if that succeeds and
// partitions already exist, the kernel will emit change/remove/add events
// itself and no synthetic write is issued. Otherwise — including every
// non-whole-disk device — it writes "change\n" to the device's own uevent
// file, and for the whole-disk case also to each partition child's uevent
// file.
func (m *Manager) synthesizeChange(d DeviceView) {
	isWholeDisk := d.Subsystem() == "block" && d.DevType() == "disk" && !strings.HasPrefix(d.SysName(), "dm-")

	if isWholeDisk && m.blockReread != nil {
		ok, err := m.blockReread.Reread(d.DevName())
		if err != nil {
			m.log.Warn("partition table reread failed to run", "devname", d.DevName(), "err", err)
		}
		if ok {
			parts, err := m.blockReread.PartitionSysPaths(d.SysPath())
			if err == nil && len(parts) > 0 {
				return
			}
		}

		if err := m.writeChange(d.SysPath()); err != nil {
			m.log.Warn("failed to write synthetic change", "syspath", d.SysPath(), "err", err)
		}
		parts, err := m.blockReread.PartitionSysPaths(d.SysPath())
		if err != nil {
			m.log.Warn("failed to list partition children", "syspath", d.SysPath(), "err", err)
			return
		}
		for _, p := range parts {
			if err := m.writeChange(p); err != nil {
				m.log.Warn("failed to write synthetic change to partition", "syspath", p, "err", err)
			}
		}
		return
	}

	if err := m.writeChange(d.SysPath()); err != nil {
		m.log.Warn("failed to write synthetic change", "syspath", d.SysPath(), "err", err)
	}
}

func (m *Manager) writeChange(syspath string) error {
	if m.ueventWriter == nil {
		return nil
	}
	return m.ueventWriter.WriteChange(syspath)
}
