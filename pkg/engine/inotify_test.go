// Copyright 2025 Raamsri Kumar <raam@tinkershack.in>
// Copyright 2025 The StrataSTOR Authors and Contributors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOnInotify_IgnoresNonCloseWrite(t *testing.T) {
	m, _, _, _, _, _, _, _ := testManager()
	uw := m.ueventWriter.(*fakeUeventWriter)

	m.onInotify(InotifyEvent{Ignored: true, Dev: &fakeDevice{}})
	m.onInotify(InotifyEvent{CloseWrite: false, Dev: &fakeDevice{}})

	assert.Empty(t, uw.written)
}

func TestSynthesizeChange_NonWholeDisk(t *testing.T) {
	m, _, _, _, _, _, _, _ := testManager()
	uw := m.ueventWriter.(*fakeUeventWriter)
	d := &fakeDevice{subsystem: "block", devType: "partition", sysPath: "/sys/devices/p1"}

	m.synthesizeChange(d)

	assert.Equal(t, []string{"/sys/devices/p1"}, uw.written)
}

func TestSynthesizeChange_WholeDiskWithExistingPartitions(t *testing.T) {
	m, _, _, _, _, _, _, _ := testManager()
	uw := m.ueventWriter.(*fakeUeventWriter)
	br := m.blockReread.(*fakeBlockReread)
	br.ok = true
	br.parts = []string{"/sys/devices/disk/p1"}

	d := &fakeDevice{subsystem: "block", devType: "disk", sysName: "sda", devName: "/dev/sda", sysPath: "/sys/devices/disk"}
	m.synthesizeChange(d)

	assert.Empty(t, uw.written, "the kernel emits events itself once the reread finds partitions; no synthetic write is needed")
}

func TestSynthesizeChange_WholeDiskRereadFailsWritesChange(t *testing.T) {
	m, _, _, _, _, _, _, _ := testManager()
	uw := m.ueventWriter.(*fakeUeventWriter)
	br := m.blockReread.(*fakeBlockReread)
	br.ok = false
	br.parts = []string{"/sys/devices/disk/p1", "/sys/devices/disk/p2"}

	d := &fakeDevice{subsystem: "block", devType: "disk", sysName: "sda", devName: "/dev/sda", sysPath: "/sys/devices/disk"}
	m.synthesizeChange(d)

	require.Contains(t, uw.written, "/sys/devices/disk")
	assert.Contains(t, uw.written, "/sys/devices/disk/p1")
	assert.Contains(t, uw.written, "/sys/devices/disk/p2")
}

func TestSynthesizeChange_DeviceMapperIsNeverWholeDisk(t *testing.T) {
	m, _, _, _, _, _, _, _ := testManager()
	uw := m.ueventWriter.(*fakeUeventWriter)
	br := m.blockReread.(*fakeBlockReread)
	br.ok = true
	br.parts = []string{"should-not-matter"}

	d := &fakeDevice{subsystem: "block", devType: "disk", sysName: "dm-0", devName: "/dev/dm-0", sysPath: "/sys/devices/dm-0"}
	m.synthesizeChange(d)

	assert.Equal(t, []string{"/sys/devices/dm-0"}, uw.written, "dm-* devices always take the non-whole-disk path")
}
