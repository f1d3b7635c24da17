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

func TestWorkerPool_CreateRejectsBadPID(t *testing.T) {
	wp := newWorkerPool(4)
	_, err := wp.create(0, &fakeEndpoint{})
	assert.Error(t, err)
	_, err = wp.create(1, &fakeEndpoint{})
	assert.Error(t, err)
}

func TestWorkerPool_AttachArmsTimers(t *testing.T) {
	wp := newWorkerPool(4)
	w, err := wp.create(42, &fakeEndpoint{})
	require.NoError(t, err)
	e := newEvent(1, "/devices/a")

	now := time.Now()
	require.NoError(t, wp.attach(w, e, now, 9*time.Second))

	assert.Equal(t, WorkerRunning, w.State)
	assert.Equal(t, StateRunning, e.State)
	assert.Equal(t, now.Add(3*time.Second), e.TimeoutWarnAt)
	assert.Equal(t, now.Add(9*time.Second), e.TimeoutKillAt)
}

func TestWorkerPool_AttachConflict(t *testing.T) {
	wp := newWorkerPool(4)
	w, _ := wp.create(42, &fakeEndpoint{})
	e1 := newEvent(1, "/devices/a")
	e2 := newEvent(2, "/devices/b")

	require.NoError(t, wp.attach(w, e1, time.Now(), time.Second))
	assert.Error(t, wp.attach(w, e2, time.Now(), time.Second))
}

func TestWorkerPool_AtCap(t *testing.T) {
	wp := newWorkerPool(2)
	wp.create(101, &fakeEndpoint{})
	wp.create(102, &fakeEndpoint{})
	assert.True(t, wp.atCap())

	wp.create(103, &fakeEndpoint{})
	assert.Equal(t, 3, wp.size())
}

func TestWorkerPool_IdleWorker(t *testing.T) {
	wp := newWorkerPool(4)
	w, _ := wp.create(101, &fakeEndpoint{})
	assert.Equal(t, w, wp.idleWorker())

	e := newEvent(1, "/devices/a")
	wp.attach(w, e, time.Now(), time.Second)
	assert.Nil(t, wp.idleWorker())

	wp.markIdle(w)
	assert.Equal(t, w, wp.idleWorker())
}

func TestWorkerPool_KillAllNonKilled(t *testing.T) {
	wp := newWorkerPool(4)
	w1, _ := wp.create(101, &fakeEndpoint{})
	w2, _ := wp.create(102, &fakeEndpoint{})
	w2.State = WorkerKilled

	pids := wp.killAllNonKilled()
	assert.Equal(t, []int{101}, pids)
	assert.Equal(t, WorkerKilled, w1.State)
}
