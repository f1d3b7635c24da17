// Copyright 2025 Raamsri Kumar <raam@tinkershack.in>
// Copyright 2025 The StrataSTOR Authors and Contributors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"time"
)

// onControl implements spec.md §4.6. Each op is independent; multiple may
// be present in a single message, though ControlSource implementations in
// this codebase decode one op per ControlMessage and the caller (loop.go)
// invokes onControl once per decoded message.
func (m *Manager) onControl(ctx context.Context, msg ControlMessage, now time.Time) {
	switch msg.Op {
	case OpSetLogLevel:
		m.setLogLevel(msg.LogLevel)
		m.log.Info("control: set log level", "priority", msg.LogLevel, "level", m.logLevelName)
		m.terminateWorkers()

	case OpStopExecQueue:
		m.stopExecQueue = true

	case OpStartExecQueue:
		m.stopExecQueue = false
		m.dispatch(ctx, now)

	case OpReload:
		m.reload()
		m.reloadComplete()
		m.dispatch(ctx, now)

	case OpSetEnv:
		if msg.EnvKey == "" {
			m.log.Warn("control: invalid SET_ENV, missing key")
			break
		}
		if msg.EnvHasValue {
			v := msg.EnvValue
			m.overrides[msg.EnvKey] = &v
		} else {
			m.overrides[msg.EnvKey] = nil
		}
		if m.workerTransport != nil {
			m.workerTransport.SetOverrides(m.overrides)
		}
		m.terminateWorkers()

	case OpSetChildrenMax:
		if msg.ChildrenMax >= 0 {
			m.workers.childrenMax = msg.ChildrenMax
		}
		m.notify("READY=1")
		m.dispatch(ctx, now)

	case OpPing:
		// Logged only; the reply is implicit via loop drain at idle
		// priority (spec.md §4.6).
		m.log.Debug("control: ping")

	case OpExit:
		m.beginGracefulShutdown()
		m.pendingExitDone = msg.Done
		return
	}

	if msg.Done != nil {
		close(msg.Done)
	}
}
