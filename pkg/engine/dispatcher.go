// Copyright 2025 Raamsri Kumar <raam@tinkershack.in>
// Copyright 2025 The StrataSTOR Authors and Contributors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"time"
)

// dispatch implements spec.md §4.5. It runs on every wake: a new event
// arrived, a worker finished, a control message requested resume, or after
// reload.
func (m *Manager) dispatch(ctx context.Context, now time.Time) {
	// 1. If queue is empty, exit is set, or stop_exec_queue is set, return.
	if m.q.len() == 0 || m.exit || m.stopExecQueue {
		return
	}

	// 2. Throttled freshness check (at most every RulesFreshnessEvery).
	if now.Sub(m.lastRulesCheck) >= m.cfg.RulesFreshnessEvery {
		m.lastRulesCheck = now
		if m.ruleEngine.Stale() {
			m.reload()
		}
	}

	// 3. Disarm the idle-cleanup timer.
	m.disarmIdleCleanup()

	// 4. Lazily (re)build the rules database if absent — delegated
	// entirely to the rule engine; the dispatcher only ensures it has
	// been asked to reload when stale (step 2).

	// 5. For each event in arrival order, dispatch if ready.
	var stop bool
	m.q.forEach(func(e *Event) bool {
		if stop {
			return false
		}
		if e.State != StateQueued {
			return true
		}
		if isDevpathBusy(m.q, e) {
			return true
		}
		if !m.dispatchOne(ctx, e, now) {
			stop = true
			return false
		}
		return true
	})
}

// dispatchOne attaches e to an idle worker, spawns a new one, or reports
// that the dispatcher should stop for this pass (pool at cap).
func (m *Manager) dispatchOne(ctx context.Context, e *Event, now time.Time) bool {
	for {
		if w := m.workers.idleWorker(); w != nil {
			if err := w.Endpoint.Send(e.Dev); err != nil {
				m.log.Warn("worker dispatch send failed, killing worker", "pid", w.PID, "correlation_id", e.CorrelationID, "err", err)
				w.State = WorkerKilled
				_ = sigkill(w.PID)
				m.workers.free(w)
				continue
			}
			_ = m.workers.attach(w, e, now, m.cfg.EventTimeout)
			return true
		}

		if m.workers.atCap() {
			return false
		}

		pid, endpoint, err := m.workerTransport.Spawn(ctx)
		if err != nil {
			m.log.Error("failed to spawn worker", "err", err)
			return false
		}
		w, err := m.workers.create(pid, endpoint)
		if err != nil {
			m.log.Error("failed to register spawned worker", "err", err)
			return false
		}
		if err := w.Endpoint.Send(e.Dev); err != nil {
			m.log.Warn("initial dispatch to freshly spawned worker failed", "pid", w.PID, "err", err)
			w.State = WorkerKilled
			_ = sigkill(w.PID)
			m.workers.free(w)
			return false
		}
		_ = m.workers.attach(w, e, now, m.cfg.EventTimeout)
		return true
	}
}

// onEventTimeoutScan is called on the timeout-scan ticker; it fires the
// warning log exactly once at timeout/3 and SIGKILLs exactly once at
// timeout (spec.md testable property 10).
func (m *Manager) onEventTimeoutScan(now time.Time) {
	for _, w := range m.workers.all() {
		e := w.Event
		if e == nil || e.State != StateRunning {
			continue
		}
		if !e.KillFired && !now.Before(e.TimeoutKillAt) {
			e.KillFired = true
			m.log.Error("worker exceeded event timeout, killing", "pid", w.PID, "devpath", e.DevPath, "correlation_id", e.CorrelationID)
			w.State = WorkerKilled
			_ = sigkill(w.PID)
			continue
		}
		if !e.WarnFired && !now.Before(e.TimeoutWarnAt) {
			e.WarnFired = true
			m.log.Warn("worker approaching event timeout", "pid", w.PID, "devpath", e.DevPath, "correlation_id", e.CorrelationID)
		}
	}
}
