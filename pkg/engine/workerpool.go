// Copyright 2025 Raamsri Kumar <raam@tinkershack.in>
// Copyright 2025 The StrataSTOR Authors and Contributors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"time"

	"github.com/stratastor/udevd/pkg/errors"
)

// workerPool tracks child processes: their states and the pid→Worker
// mapping, enforcing the cap and driving spawn/reap bookkeeping (spec.md
// §4.4). childrenMax is mutated at runtime by control messages, hence the
// plain int guarded by the single-threaded reactor rather than an atomic —
// see DESIGN.md's decision on spec.md §9's "Global mutable configuration".
type workerPool struct {
	byPID       map[int]*Worker
	childrenMax int
}

func newWorkerPool(childrenMax int) *workerPool {
	return &workerPool{
		byPID:       make(map[int]*Worker),
		childrenMax: childrenMax,
	}
}

func (wp *workerPool) size() int {
	return len(wp.byPID)
}

func (wp *workerPool) atCap() bool {
	return wp.size() >= wp.childrenMax
}

// create registers a newly spawned worker. pid must be > 1 (spec.md §4.4).
func (wp *workerPool) create(pid int, endpoint WorkerEndpoint) (*Worker, error) {
	if pid <= 1 {
		return nil, errors.New(errors.EngineWorkerSpawnFailed, "pid must be > 1")
	}
	w := &Worker{PID: pid, State: WorkerIdle, Endpoint: endpoint}
	wp.byPID[pid] = w
	return w, nil
}

// attach binds w and e together, arming the warn/kill timers relative to
// now. Precondition: w.Event == nil && e.Worker == nil.
func (wp *workerPool) attach(w *Worker, e *Event, now time.Time, timeout time.Duration) error {
	if w.Event != nil || e.Worker != nil {
		return errors.New(errors.EngineWorkerAttachConflict, "")
	}
	w.State = WorkerRunning
	w.Event = e
	w.AttachedAt = now
	e.State = StateRunning
	e.Worker = w
	e.TimeoutWarnAt = now.Add(timeout / 3)
	e.TimeoutKillAt = now.Add(timeout)
	return nil
}

// markIdle detaches w's event (the caller frees the event) and, unless the
// worker was already KILLED, sets it IDLE.
func (wp *workerPool) markIdle(w *Worker) {
	w.Event = nil
	if w.State != WorkerKilled {
		w.State = WorkerIdle
	}
}

// killAllNonKilled marks every non-KILLED worker KILLED and returns their
// pids so the caller can send SIGTERM (not SIGKILL — spec.md §4.4).
func (wp *workerPool) killAllNonKilled() []int {
	var pids []int
	for pid, w := range wp.byPID {
		if w.State != WorkerKilled {
			w.State = WorkerKilled
			pids = append(pids, pid)
		}
	}
	return pids
}

// free removes w from the pool. If w still has an attached event, the
// caller is responsible for detaching/freeing it first.
func (wp *workerPool) free(w *Worker) {
	delete(wp.byPID, w.PID)
}

func (wp *workerPool) byPid(pid int) (*Worker, bool) {
	w, ok := wp.byPID[pid]
	return w, ok
}

// idleWorker returns an arbitrary IDLE worker, or nil if none exist.
func (wp *workerPool) idleWorker() *Worker {
	for _, w := range wp.byPID {
		if w.State == WorkerIdle {
			return w
		}
	}
	return nil
}

func (wp *workerPool) all() []*Worker {
	out := make([]*Worker, 0, len(wp.byPID))
	for _, w := range wp.byPID {
		out = append(out, w)
	}
	return out
}
