// Copyright 2025 Raamsri Kumar <raam@tinkershack.in>
// Copyright 2025 The StrataSTOR Authors and Contributors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOnUevent_EnqueuesUnlessExiting(t *testing.T) {
	m, _, _, _, _, _, _, _ := testManager()
	dev := &fakeDevice{seqNum: 1, devPath: "/devices/a"}

	m.onUevent(dev, dev)
	assert.Equal(t, 1, m.QueueLen())

	m.exit = true
	m.onUevent(&fakeDevice{seqNum: 2, devPath: "/devices/b"}, dev)
	assert.Equal(t, 1, m.QueueLen(), "no new events should be accepted once exit is set")
}

func TestOnWorkerAck_MarksIdleAndDequeues(t *testing.T) {
	m, _, _, _, _, _, _, _ := testManager()
	w, err := m.workers.create(101, &fakeEndpoint{})
	require.NoError(t, err)
	e := m.q.enqueue(&fakeDevice{seqNum: 1, devPath: "/devices/a"}, nil)
	require.NoError(t, m.workers.attach(w, e, time.Now(), time.Second))

	m.onWorkerAck(WorkerAck{PID: 101})

	assert.Equal(t, WorkerIdle, w.State)
	assert.Equal(t, 0, m.QueueLen())
}

func TestOnWorkerAck_DropsUntrackedPID(t *testing.T) {
	m, _, _, _, _, _, _, _ := testManager()
	m.q.enqueue(&fakeDevice{seqNum: 1, devPath: "/devices/a"}, nil)

	m.onWorkerAck(WorkerAck{PID: 999})

	assert.Equal(t, 1, m.QueueLen(), "an ack from a pid the pool doesn't track must not touch the queue")
}

func TestOnWorkerExit_NormalExitIsQuiet(t *testing.T) {
	m, _, _, _, _, _, pub, db := testManager()
	w, _ := m.workers.create(101, &fakeEndpoint{})
	kernel := &fakeDevice{seqNum: 1, devPath: "/devices/a"}
	e := m.q.enqueue(&fakeDevice{seqNum: 1, devPath: "/devices/a"}, kernel)
	require.NoError(t, m.workers.attach(w, e, time.Now(), time.Second))

	m.onWorkerExit(WorkerExit{PID: 101, Code: 0})

	assert.Equal(t, 0, m.QueueLen())
	assert.Equal(t, 0, m.WorkerCount())
	assert.Empty(t, pub.published, "a clean exit must not trigger the failure fan-out")
	assert.Empty(t, db.removed)
}

func TestOnWorkerExit_FailureRepublishesKernelView(t *testing.T) {
	m, _, _, _, _, _, pub, db := testManager()
	w, _ := m.workers.create(101, &fakeEndpoint{})
	kernel := &fakeDevice{seqNum: 1, devPath: "/devices/a"}
	e := m.q.enqueue(&fakeDevice{seqNum: 1, devPath: "/devices/a"}, kernel)
	require.NoError(t, m.workers.attach(w, e, time.Now(), time.Second))

	m.onWorkerExit(WorkerExit{PID: 101, Code: 1})

	require.Len(t, pub.published, 1)
	assert.Equal(t, kernel, pub.published[0])
	require.Len(t, db.removed, 1)
}

func TestOnWorkerExit_IntentionalKillIsNormal(t *testing.T) {
	m, _, _, _, _, _, pub, _ := testManager()
	w, _ := m.workers.create(101, &fakeEndpoint{})
	e := m.q.enqueue(&fakeDevice{seqNum: 1, devPath: "/devices/a"}, nil)
	require.NoError(t, m.workers.attach(w, e, time.Now(), time.Second))
	w.State = WorkerKilled

	m.onWorkerExit(WorkerExit{PID: 101, Signaled: true, Signal: 15})

	assert.Empty(t, pub.published, "a worker this daemon itself killed must not trigger the failure fan-out")
}
