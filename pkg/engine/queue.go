// Copyright 2025 Raamsri Kumar <raam@tinkershack.in>
// Copyright 2025 The StrataSTOR Authors and Contributors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"container/list"
	"os"

	"github.com/google/uuid"
	"github.com/stratastor/logger"
	"github.com/stratastor/udevd/pkg/errors"
)

// CleanupFilter selects which events queue.cleanup removes.
type CleanupFilter int

const (
	CleanupAny CleanupFilter = iota
	CleanupQueued
)

// queue is a doubly linked list of events ordered by arrival (== seqnum
// order), per spec.md §4.2. It owns the on-disk queue marker and pins the
// manager's owner pid on first use, matching spec.md §3's "owner_pid: the
// pid that created the manager; only the owner may touch the on-disk queue
// marker."
type queue struct {
	events      *list.List // of *Event
	markerPath  string
	ownerPID    int
	ownerPinned bool
	log         logger.Logger
}

func newQueue(markerPath string, log logger.Logger) *queue {
	return &queue{
		events:     list.New(),
		markerPath: markerPath,
		log:        log,
	}
}

func (q *queue) len() int {
	return q.events.Len()
}

// enqueue builds an Event from dev, appends it, and touches the on-disk
// queue marker if the list was previously empty. Best-effort: marker
// failures are warned, never fatal (spec.md §7).
func (q *queue) enqueue(dev DeviceView, devKernel DeviceView) *Event {
	if !q.ownerPinned {
		q.ownerPID = os.Getpid()
		q.ownerPinned = true
	}

	e := &Event{
		SeqNum:     dev.SeqNum(),
		DevPath:    dev.DevPath(),
		DevPathOld: dev.DevPathOld(),
		DevNum:     dev.DevNum(),
		IsBlock:    dev.IsBlock(),
		IfIndex:    dev.IfIndex(),
		Action:     dev.Action(),
		Subsystem:  dev.Subsystem(),
		DevType:    dev.DevType(),
		State:         StateQueued,
		Dev:           dev,
		DevKernel:     devKernel,
		CorrelationID: uuid.New().String(),
	}

	wasEmpty := q.events.Len() == 0
	q.events.PushBack(e)

	if wasEmpty {
		if err := q.touchMarker(); err != nil {
			q.log.Warn("failed to touch queue marker", "err", err)
		}
	}

	return e
}

// remove unlinks e, detaches it from its worker if attached, and removes
// the on-disk marker if the list became empty and we are the owner pid.
func (q *queue) remove(e *Event) {
	for el := q.events.Front(); el != nil; el = el.Next() {
		if el.Value.(*Event) == e {
			q.events.Remove(el)
			break
		}
	}

	if e.Worker != nil {
		e.Worker.Event = nil
		e.Worker = nil
	}

	if q.events.Len() == 0 && q.ownerPinned && os.Getpid() == q.ownerPID {
		if err := q.unlinkMarker(); err != nil {
			q.log.Warn("failed to remove queue marker", "err", err)
		}
	}
}

// cleanup removes all events matching filter. CleanupAny removes every
// event; CleanupQueued removes only those still in StateQueued, leaving
// StateRunning events to finish (used by graceful shutdown).
func (q *queue) cleanup(filter CleanupFilter) {
	var next *list.Element
	for el := q.events.Front(); el != nil; el = next {
		next = el.Next()
		e := el.Value.(*Event)
		if filter == CleanupQueued && e.State != StateQueued {
			continue
		}
		q.remove(e)
	}
}

// forEach iterates events in arrival order. fn must not mutate the list
// directly; it should call remove/enqueue through the queue.
func (q *queue) forEach(fn func(e *Event) bool) {
	for el := q.events.Front(); el != nil; el = el.Next() {
		if !fn(el.Value.(*Event)) {
			return
		}
	}
}

// predecessorsOf iterates events preceding e in arrival order (ascending
// seqnum), the scan order required by the conflict detector.
func (q *queue) predecessorsOf(e *Event, fn func(p *Event) bool) {
	for el := q.events.Front(); el != nil; el = el.Next() {
		p := el.Value.(*Event)
		if p == e {
			return
		}
		if !fn(p) {
			return
		}
	}
}

func (q *queue) touchMarker() error {
	if q.markerPath == "" {
		return nil
	}
	f, err := os.OpenFile(q.markerPath, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrap(err, errors.EngineQueueMarkerFailed).WithMetadata("path", q.markerPath)
	}
	return f.Close()
}

func (q *queue) unlinkMarker() error {
	if q.markerPath == "" {
		return nil
	}
	if err := os.Remove(q.markerPath); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, errors.EngineQueueMarkerFailed).WithMetadata("path", q.markerPath)
	}
	return nil
}
