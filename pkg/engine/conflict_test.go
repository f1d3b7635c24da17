// Copyright 2025 Raamsri Kumar <raam@tinkershack.in>
// Copyright 2025 The StrataSTOR Authors and Contributors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsDevpathBusy_NoRelation(t *testing.T) {
	q := newQueue("", testLogger())
	q.enqueue(&fakeDevice{seqNum: 1, devPath: "/devices/pci0/usb1"}, nil)
	b := q.enqueue(&fakeDevice{seqNum: 2, devPath: "/devices/pci0/usb2"}, nil)

	assert.False(t, isDevpathBusy(q, b))
}

func TestIsDevpathBusy_BlockDeviceIdentity(t *testing.T) {
	q := newQueue("", testLogger())
	a := &Event{SeqNum: 1, DevNum: DevNum{Major: 8, Minor: 1}, IsBlock: true}
	b := &Event{SeqNum: 2, DevNum: DevNum{Major: 8, Minor: 1}, IsBlock: true}
	q.events.PushBack(a)
	q.events.PushBack(b)

	assert.True(t, isDevpathBusy(q, b))
	// Identity checks never memoize.
	assert.Zero(t, b.DelayingSeqNum)
}

func TestIsDevpathBusy_IfIndexIdentity(t *testing.T) {
	q := newQueue("", testLogger())
	a := &Event{SeqNum: 1, IfIndex: 7}
	b := &Event{SeqNum: 2, IfIndex: 7}
	q.events.PushBack(a)
	q.events.PushBack(b)

	assert.True(t, isDevpathBusy(q, b))
	assert.Zero(t, b.DelayingSeqNum)
}

func TestIsDevpathBusy_RenameCollisionMemoizes(t *testing.T) {
	q := newQueue("", testLogger())
	a := &Event{SeqNum: 1, DevPath: "/devices/old"}
	b := &Event{SeqNum: 2, DevPath: "/devices/new", DevPathOld: "/devices/old"}
	q.events.PushBack(a)
	q.events.PushBack(b)

	assert.True(t, isDevpathBusy(q, b))
	assert.Equal(t, uint64(1), b.DelayingSeqNum)
}

func TestIsDevpathBusy_AncestorBlocks(t *testing.T) {
	q := newQueue("", testLogger())
	a := &Event{SeqNum: 1, DevPath: "/devices/pci0"}
	b := &Event{SeqNum: 2, DevPath: "/devices/pci0/usb1"}
	q.events.PushBack(a)
	q.events.PushBack(b)

	assert.True(t, isDevpathBusy(q, b))
	assert.Equal(t, uint64(1), b.DelayingSeqNum)
}

func TestIsDevpathBusy_DisjointPrefixSkips(t *testing.T) {
	q := newQueue("", testLogger())
	a := &Event{SeqNum: 1, DevPath: "/devices/pci0/usbA"}
	b := &Event{SeqNum: 2, DevPath: "/devices/pci0/usbB"}
	q.events.PushBack(a)
	q.events.PushBack(b)

	assert.False(t, isDevpathBusy(q, b))
}

// TestIsDevpathBusy_MemoSkipsPastBlocker exercises the asymmetric memo
// fast-path: once DelayingSeqNum is set by a path-based blocker, later scans
// skip every predecessor with a smaller seqnum without re-evaluating them,
// even if one of those predecessors would otherwise look like an identity
// blocker. This asymmetry is intentional and must not be "corrected".
func TestIsDevpathBusy_MemoSkipsPastBlocker(t *testing.T) {
	q := newQueue("", testLogger())
	ident := &Event{SeqNum: 1, IfIndex: 99}
	blocker := &Event{SeqNum: 2, DevPath: "/devices/pci0"}
	c := &Event{SeqNum: 3, DevPath: "/devices/pci0/usb1", DelayingSeqNum: 2}
	q.events.PushBack(ident)
	q.events.PushBack(blocker)
	q.events.PushBack(c)

	assert.True(t, isDevpathBusy(q, c))
	assert.Equal(t, uint64(2), c.DelayingSeqNum)
}

func TestIsDevpathBusy_StopsAtSelf(t *testing.T) {
	q := newQueue("", testLogger())
	c := &Event{SeqNum: 1, DevPath: "/devices/pci0"}
	later := &Event{SeqNum: 2, DevPath: "/devices/pci0"}
	q.events.PushBack(c)
	q.events.PushBack(later)

	assert.False(t, isDevpathBusy(q, c))
}
