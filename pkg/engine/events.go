// Copyright 2025 Raamsri Kumar <raam@tinkershack.in>
// Copyright 2025 The StrataSTOR Authors and Contributors
// SPDX-License-Identifier: Apache-2.0

package engine

// onUevent enqueues a device arriving from the monitor (spec.md §4.2
// "enqueue"). The caller (Run) kicks the dispatcher afterward.
func (m *Manager) onUevent(dev, devKernel DeviceView) {
	if m.exit {
		return
	}
	m.q.enqueue(dev, devKernel)
}

// onMonitorError logs a transient monitor error. Per spec.md §7, transient
// I/O on a handler is never fatal.
func (m *Manager) onMonitorError(err error) {
	m.log.Warn("monitor error", "err", err)
}

// onWorkerAck implements the non-failure half of spec.md §4.4's reaping
// contract: a worker voluntarily finished its device. Credential
// enforcement (spec.md testable property 9) happens here by checking the
// ack's pid against the tracked worker pool — WorkerTransport implementations
// only need to parse SCM_CREDENTIALS and hand back the claimed pid.
//
// The worker itself already re-published the processed device on its own
// monitor endpoint before sending this ack (spec.md §4.5); the parent does
// not republish on the success path, only on the failure path in
// onWorkerExit, where the worker is in no state to do it itself.
func (m *Manager) onWorkerAck(ack WorkerAck) {
	w, ok := m.workers.byPid(ack.PID)
	if !ok {
		m.log.Warn("dropping ack from untracked pid", "pid", ack.PID)
		return
	}
	e := w.Event
	if e == nil {
		m.log.Warn("dropping ack for worker with no attached event", "pid", ack.PID)
		return
	}

	m.workers.markIdle(w)
	m.q.remove(e)
}

// onWorkerExit implements spec.md §4.4's reaping decision: exit status 0,
// or signalled termination after a KILLED transition, is normal; any other
// non-zero exit or unexpected signal while an event is attached triggers
// the failure fan-out (remove the device's db entry, drop its tag index,
// republish the unamended kernel view).
func (m *Manager) onWorkerExit(we WorkerExit) {
	w, ok := m.workers.byPid(we.PID)
	if !ok {
		return
	}

	intentional := w.State == WorkerKilled
	normal := (!we.Signaled && we.Code == 0) || (we.Signaled && intentional)

	e := w.Event
	if e != nil {
		if !normal {
			m.failWorkerEvent(e)
		}
		m.q.remove(e)
	}

	m.workers.free(w)

	if m.workers.size() == 0 {
		m.disarmIdleCleanup()
	}
}

// failWorkerEvent implements the failure fan-out of spec.md §4.4 / S6.
func (m *Manager) failWorkerEvent(e *Event) {
	if m.deviceDB != nil {
		if err := m.deviceDB.Remove(e.Dev); err != nil {
			m.log.Warn("failed to remove device database entry after worker failure", "devpath", e.DevPath, "err", err)
		}
	}
	if err := m.publisher.Publish(e.DevKernel); err != nil {
		m.log.Warn("failed to republish kernel view after worker failure", "devpath", e.DevPath, "err", err)
	}
}
