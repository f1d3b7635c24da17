// Copyright 2025 Raamsri Kumar <raam@tinkershack.in>
// Copyright 2025 The StrataSTOR Authors and Contributors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// ErrExitDeadline is returned by Run when graceful shutdown does not
// complete within the exit grace period (spec.md §4.8, §7).
var ErrExitDeadline = errors.New("engine: exit deadline exceeded")

// Run is the single-threaded reactor (spec.md §4.1, C1). It is the only
// goroutine that mutates Manager state; every source feeding it below is a
// dumb pipe that only sends.
//
// Go's select has no notion of case priority, so the "control socket is
// lowest priority" requirement is realized with a two-phase loop: each
// iteration first drains every higher-priority source with non-blocking
// selects until none are ready, then blocks on a select that also includes
// the control channel. A control message therefore is only ever handled
// once the uevent/inotify/worker-ack/signal/timer channels have nothing
// left to offer in that instant — the same observable ordering spec.md §5
// describes, even though the underlying mechanism differs from the
// original's single always-control-last poll array.
func (m *Manager) Run(ctx context.Context) error {
	m.sigCh = make(chan os.Signal, 8)
	signal.Notify(m.sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(m.sigCh)

	m.timeoutScan = time.NewTicker(timeoutScanEvery)
	defer m.timeoutScan.Stop()

	if m.cfg.WatchdogEvery > 0 {
		m.watchdog = time.NewTicker(m.cfg.WatchdogEvery)
		defer m.watchdog.Stop()
	}

	for {
		for m.drainOnce(ctx) {
		}
		m.postHook()

		if m.done() {
			return m.exitErr
		}

		if err := m.waitOnce(ctx); err != nil {
			return err
		}
		m.postHook()

		if m.done() {
			return m.exitErr
		}
	}
}

// drainOnce attempts one non-blocking handle of every source ranked above
// the control socket. It returns true if it handled something, so the
// caller can call it again to keep draining.
func (m *Manager) drainOnce(ctx context.Context) bool {
	now := time.Now()

	select {
	case dev, ok := <-m.monitor.Events():
		if ok {
			m.onUevent(dev, dev)
			m.dispatch(ctx, now)
		}
		return true
	default:
	}

	select {
	case err := <-m.monitor.Errors():
		m.onMonitorError(err)
		return true
	default:
	}

	select {
	case ev, ok := <-m.inotify.Events():
		if ok {
			m.onInotify(ev)
		}
		return true
	default:
	}

	select {
	case ack := <-m.workerTransport.Acks():
		m.onWorkerAck(ack)
		m.dispatch(ctx, now)
		return true
	default:
	}

	select {
	case we := <-m.workerTransport.Exits():
		m.onWorkerExit(we)
		m.dispatch(ctx, now)
		return true
	default:
	}

	select {
	case sig := <-m.sigCh:
		m.onSignal(sig)
		return true
	default:
	}

	if c := m.idleCleanupC(); c != nil {
		select {
		case <-c:
			m.onIdleCleanup()
			return true
		default:
		}
	}

	if m.exitDeadline != nil {
		select {
		case <-m.exitDeadline.C:
			m.exitErr = ErrExitDeadline
			m.exit = true
			m.q.cleanup(CleanupAny)
			for _, w := range m.workers.all() {
				_ = sigkill(w.PID)
				m.workers.free(w)
			}
			return true
		default:
		}
	}

	select {
	case <-m.timeoutScan.C:
		m.onEventTimeoutScan(now)
		return true
	default:
	}

	if c := m.watchdogC(); c != nil {
		select {
		case <-c:
			m.onWatchdog()
			return true
		default:
		}
	}

	return false
}

// waitOnce blocks until any source, including the control socket, has
// something ready, and handles exactly one.
func (m *Manager) waitOnce(ctx context.Context) error {
	now := time.Now()

	idleC := m.idleCleanupC()
	watchdogC := m.watchdogC()
	var exitC <-chan time.Time
	if m.exitDeadline != nil {
		exitC = m.exitDeadline.C
	}

	select {
	case <-ctx.Done():
		return ctx.Err()

	case dev, ok := <-m.monitor.Events():
		if ok {
			m.onUevent(dev, dev)
			m.dispatch(ctx, now)
		}
		return nil

	case err := <-m.monitor.Errors():
		m.onMonitorError(err)
		return nil

	case ev, ok := <-m.inotify.Events():
		if ok {
			m.onInotify(ev)
		}
		return nil

	case ack := <-m.workerTransport.Acks():
		m.onWorkerAck(ack)
		m.dispatch(ctx, now)
		return nil

	case we := <-m.workerTransport.Exits():
		m.onWorkerExit(we)
		m.dispatch(ctx, now)
		return nil

	case sig := <-m.sigCh:
		m.onSignal(sig)
		return nil

	case <-idleC:
		m.onIdleCleanup()
		return nil

	case <-exitC:
		m.exitErr = ErrExitDeadline
		m.exit = true
		m.q.cleanup(CleanupAny)
		for _, w := range m.workers.all() {
			_ = sigkill(w.PID)
			m.workers.free(w)
		}
		return nil

	case <-m.timeoutScan.C:
		m.onEventTimeoutScan(now)
		return nil

	case <-watchdogC:
		m.onWatchdog()
		return nil

	case msg, ok := <-m.control.Messages():
		if ok {
			m.onControl(ctx, msg, now)
			if m.pendingExitDone != nil && m.done() {
				close(m.pendingExitDone)
				m.pendingExitDone = nil
			}
		}
		return nil
	}
}

func (m *Manager) idleCleanupC() <-chan time.Time {
	if m.idleCleanupTimer == nil {
		return nil
	}
	return m.idleCleanupTimer.C
}

func (m *Manager) watchdogC() <-chan time.Time {
	if m.watchdog == nil {
		return nil
	}
	return m.watchdog.C
}

// onWatchdog pings the supervising init (spec.md §4.1's "watchdog source
// for the supervising init"), mirroring sd_notify(3)'s WATCHDOG=1 keepalive.
func (m *Manager) onWatchdog() {
	m.notify("WATCHDOG=1")
}

func (m *Manager) onSignal(sig os.Signal) {
	switch sig {
	case syscall.SIGINT, syscall.SIGTERM:
		m.beginGracefulShutdown()
	case syscall.SIGHUP:
		m.reload()
		m.reloadComplete()
	}
}
