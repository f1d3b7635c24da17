// Copyright 2025 Raamsri Kumar <raam@tinkershack.in>
// Copyright 2025 The StrataSTOR Authors and Contributors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManager_ExplicitChildrenMaxWins(t *testing.T) {
	m := NewManager(Config{ChildrenMax: 5}, Deps{
		RuleEngine: &fakeRuleEngine{}, Monitor: newFakeMonitor(), Publisher: &fakePublisher{},
		WorkerTransport: newFakeTransport(), Control: newFakeControl(), Inotify: newFakeInotify(),
		BlockReread: &fakeBlockReread{}, UeventWriter: &fakeUeventWriter{}, DeviceDB: &fakeDeviceDB{},
	}, 1<<34, testLogger())

	assert.Equal(t, 5, m.ChildrenMax())
}

func TestNewManager_ComputesDefaultChildrenMax(t *testing.T) {
	m := NewManager(Config{}, Deps{
		RuleEngine: &fakeRuleEngine{}, Monitor: newFakeMonitor(), Publisher: &fakePublisher{},
		WorkerTransport: newFakeTransport(), Control: newFakeControl(), Inotify: newFakeInotify(),
		BlockReread: &fakeBlockReread{}, UeventWriter: &fakeUeventWriter{}, DeviceDB: &fakeDeviceDB{},
	}, 1<<34, testLogger())

	assert.Equal(t, DefaultChildrenMax(1<<34), m.ChildrenMax())
}

func TestReload_DiscardsRulesAndTerminatesWorkers(t *testing.T) {
	m, _, _, _, _, re, _, _ := testManager()
	m.reload()
	assert.Equal(t, 1, re.reloaded)
}

func TestBeginGracefulShutdown_ClosesSourcesAndDropsQueuedOnly(t *testing.T) {
	m, mon, _, ctrl, inot, _, _, _ := testManager()
	m.q.enqueue(&fakeDevice{seqNum: 1, devPath: "/devices/a"}, nil)
	running := m.q.enqueue(&fakeDevice{seqNum: 2, devPath: "/devices/b"}, nil)
	running.State = StateRunning

	m.beginGracefulShutdown()

	assert.True(t, m.exit)
	assert.True(t, mon.closed)
	assert.True(t, inot.closed)
	assert.True(t, ctrl.closed)
	assert.Equal(t, 1, m.QueueLen(), "the RUNNING event must survive; only QUEUED events are dropped")
}

func TestBeginGracefulShutdown_Idempotent(t *testing.T) {
	m, mon, _, _, _, _, _, _ := testManager()
	m.beginGracefulShutdown()
	mon.closed = false // reset to detect a second Close call
	m.beginGracefulShutdown()
	assert.False(t, mon.closed, "a second call must be a no-op")
}

func TestPostHook_ArmsIdleCleanupOnlyWhenWorkersRemain(t *testing.T) {
	m, _, _, _, _, _, _, _ := testManager()
	m.workers.create(999002, &fakeEndpoint{})

	m.postHook()
	require.NotNil(t, m.idleCleanupTimer)
}

func TestDone_RequiresExitAndDrainedState(t *testing.T) {
	m, _, _, _, _, _, _, _ := testManager()
	assert.False(t, m.done())

	m.exit = true
	assert.True(t, m.done())

	m.q.enqueue(&fakeDevice{seqNum: 1, devPath: "/devices/a"}, nil)
	assert.False(t, m.done())
}

func TestPostHook_ExitSetIsNoOpForCgroupReaper(t *testing.T) {
	m, _, _, _, _, _, _, _ := testManager()
	m.exit = true

	m.postHook()

	reaper := m.cgroupReaper.(*fakeCgroupReaper)
	assert.Equal(t, 0, reaper.calls, "a manager that is exiting must not reap stray descendants")
	assert.Nil(t, m.idleCleanupTimer)
}

func TestPostHook_ReapsStrayDescendantsWhenIdleAndNotExiting(t *testing.T) {
	m, _, _, _, _, _, _, _ := testManager()

	m.postHook()

	reaper := m.cgroupReaper.(*fakeCgroupReaper)
	assert.Equal(t, 1, reaper.calls)
}

func TestPostHook_QueueNonEmptySkipsEverything(t *testing.T) {
	m, _, _, _, _, _, _, _ := testManager()
	m.q.enqueue(&fakeDevice{seqNum: 1, devPath: "/devices/a"}, nil)

	m.postHook()

	reaper := m.cgroupReaper.(*fakeCgroupReaper)
	assert.Equal(t, 0, reaper.calls)
	assert.Nil(t, m.idleCleanupTimer)
}

func TestPostHook_NilCgroupReaperIsSafe(t *testing.T) {
	m, _, _, _, _, _, _, _ := testManager()
	m.cgroupReaper = nil

	assert.NotPanics(t, func() { m.postHook() })
}

func TestOnIdleCleanup_OnlyTerminatesIdleWorkers(t *testing.T) {
	m, _, _, _, _, _, _, _ := testManager()
	idle, _ := m.workers.create(999003, &fakeEndpoint{})
	running, _ := m.workers.create(999004, &fakeEndpoint{})
	running.State = WorkerRunning

	m.onIdleCleanup()

	assert.Equal(t, WorkerKilled, idle.State)
	assert.Equal(t, WorkerRunning, running.State)
	assert.Nil(t, m.idleCleanupTimer)
}
