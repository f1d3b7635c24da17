// Copyright 2025 Raamsri Kumar <raam@tinkershack.in>
// Copyright 2025 The StrataSTOR Authors and Contributors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatch_EmptyQueueNoop(t *testing.T) {
	m, _, tr, _, _, _, _, _ := testManager()
	m.dispatch(context.Background(), time.Now())
	assert.Empty(t, tr.spawned)
}

func TestDispatch_ExitSuppressesDispatch(t *testing.T) {
	m, _, tr, _, _, _, _, _ := testManager()
	m.q.enqueue(&fakeDevice{seqNum: 1, devPath: randDevPath("/devices")}, nil)
	m.exit = true

	m.dispatch(context.Background(), time.Now())
	assert.Empty(t, tr.spawned)
}

func TestDispatch_StopExecQueueSuppressesDispatch(t *testing.T) {
	m, _, tr, _, _, _, _, _ := testManager()
	m.q.enqueue(&fakeDevice{seqNum: 1, devPath: "/devices/a"}, nil)
	m.stopExecQueue = true

	m.dispatch(context.Background(), time.Now())
	assert.Empty(t, tr.spawned)
}

func TestDispatch_SpawnsWorkerForReadyEvent(t *testing.T) {
	m, _, tr, _, _, _, _, _ := testManager()
	m.q.enqueue(&fakeDevice{seqNum: 1, devPath: "/devices/a"}, nil)

	m.dispatch(context.Background(), time.Now())

	require.Len(t, tr.spawned, 1)
	assert.Len(t, tr.spawned[0].sent, 1)
	assert.Equal(t, 1, m.workers.size())
}

func TestDispatch_ReusesIdleWorker(t *testing.T) {
	m, _, tr, _, _, _, _, _ := testManager()
	w, err := m.workers.create(101, &fakeEndpoint{})
	require.NoError(t, err)
	_ = w

	m.q.enqueue(&fakeDevice{seqNum: 1, devPath: "/devices/a"}, nil)
	m.dispatch(context.Background(), time.Now())

	assert.Empty(t, tr.spawned, "an idle worker already in the pool must be reused, not a new one spawned")
	assert.Equal(t, 1, m.workers.size())
}

func TestDispatch_StopsAtCap(t *testing.T) {
	m, _, tr, _, _, _, _, _ := testManager()
	m.workers.childrenMax = 1
	m.workers.create(101, &fakeEndpoint{})
	// pid 101 is RUNNING-less but idle, so the first event reuses it; the
	// second must find the pool at cap and stop.
	m.q.enqueue(&fakeDevice{seqNum: 1, devPath: "/devices/a"}, nil)
	m.q.enqueue(&fakeDevice{seqNum: 2, devPath: "/devices/b"}, nil)

	m.dispatch(context.Background(), time.Now())

	assert.Empty(t, tr.spawned)
	assert.Equal(t, 1, m.workers.size())
	assert.Equal(t, 2, m.q.len(), "both events remain in the queue: the first RUNNING on pid 101, the second still QUEUED at the cap")
}

func TestDispatch_BlockedEventSkipped(t *testing.T) {
	m, _, tr, _, _, _, _, _ := testManager()
	m.q.enqueue(&fakeDevice{seqNum: 1, devPath: "/devices/pci0"}, nil)
	m.q.enqueue(&fakeDevice{seqNum: 2, devPath: "/devices/pci0/usb1"}, nil)

	m.dispatch(context.Background(), time.Now())

	require.Len(t, tr.spawned, 1, "only the unblocked predecessor should have been dispatched")
}

func TestOnEventTimeoutScan_WarnsThenKills(t *testing.T) {
	m, _, tr, _, _, _, _, _ := testManager()
	// A high, almost-certainly-unused pid: onEventTimeoutScan sends a real
	// SIGKILL to it, and this must not be a pid some other process holds.
	w, _ := m.workers.create(999001, &fakeEndpoint{})
	e := newEvent(1, "/devices/a")
	now := time.Now()
	require.NoError(t, m.workers.attach(w, e, now, 9*time.Second))

	m.onEventTimeoutScan(now.Add(4 * time.Second))
	assert.True(t, e.WarnFired)
	assert.False(t, e.KillFired)
	assert.Equal(t, WorkerRunning, w.State)

	m.onEventTimeoutScan(now.Add(10 * time.Second))
	assert.True(t, e.KillFired)
	assert.Equal(t, WorkerKilled, w.State)

	_ = tr
}
