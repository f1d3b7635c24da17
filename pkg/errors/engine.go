// Copyright 2025 Raamsri Kumar <raam@tinkershack.in>
// Copyright 2025 The StrataSTOR Authors and Contributors
// SPDX-License-Identifier: Apache-2.0

package errors

import (
	"maps"
	"net/http"
)

// Event Dispatch Engine Error Codes (2400-2469)
const (
	// Monitor / netlink errors (2400-2409)
	EngineMonitorConnectFailed = 2400 + iota // Failed to connect netlink uevent socket
	EngineMonitorReadFailed                  // Failed to read from uevent monitor
	EngineMonitorBufferFailed                // Failed to size monitor receive buffer
	EngineMonitorClosed                      // Monitor closed unexpectedly
)

const (
	// Queue / conflict detector errors (2410-2419)
	EngineQueueMarkerFailed = 2410 + iota // Failed to touch or remove the queue marker
	EngineEventNotQueued                  // Operation requires a QUEUED event
	EngineEventAlreadyAttached             // Event already attached to a worker
)

const (
	// Worker pool / dispatcher errors (2420-2439)
	EngineWorkerSpawnFailed = 2420 + iota // Failed to spawn a worker process
	EngineWorkerDispatchFailed            // Failed to deliver a device to a worker
	EngineWorkerCapExceeded               // children_max exceeded
	EngineWorkerAckMalformed              // Worker ack frame malformed or unsigned
	EngineWorkerAckUntracked              // Worker ack credentials do not match a tracked worker
	EngineWorkerAttachConflict            // Worker or event already attached
)

const (
	// Control handler errors (2440-2449)
	EngineControlInvalidEnv = 2440 + iota // SET_ENV string missing '='
	EngineControlDecodeFailed             // Failed to decode a control message
	EngineControlListenFailed             // Failed to listen on the control socket
)

const (
	// Inotify synthesizer errors (2450-2459)
	EngineInotifyInitFailed = 2450 + iota // Failed to initialize inotify
	EngineInotifyWatchFailed               // Failed to add/remove a watch
	EngineSynthesizeWriteFailed             // Failed to write the synthetic "change" uevent
	EngineBlockRereadFailed                 // BLKRRPART ioctl failed
)

const (
	// Lifecycle errors (2460-2469)
	EngineExitDeadlineExceeded = 2460 + iota // Graceful shutdown exceeded its deadline
	EngineRuleEngineInitFailed                // Rule engine failed to initialize at startup
)

func init() {
	engineErrorDefinitions := map[ErrorCode]struct {
		message    string
		domain     Domain
		httpStatus int
	}{
		EngineMonitorConnectFailed: {
			"Failed to connect to the uevent netlink socket",
			DomainEngine,
			http.StatusInternalServerError,
		},
		EngineMonitorReadFailed: {
			"Failed to read from the uevent monitor",
			DomainEngine,
			http.StatusInternalServerError,
		},
		EngineMonitorBufferFailed: {
			"Failed to size the monitor receive buffer",
			DomainEngine,
			http.StatusInternalServerError,
		},
		EngineMonitorClosed: {
			"Uevent monitor closed unexpectedly",
			DomainEngine,
			http.StatusInternalServerError,
		},
		EngineQueueMarkerFailed: {
			"Failed to touch or remove the queue marker",
			DomainEngine,
			http.StatusInternalServerError,
		},
		EngineEventNotQueued: {
			"Operation requires an event in QUEUED state",
			DomainEngine,
			http.StatusConflict,
		},
		EngineEventAlreadyAttached: {
			"Event is already attached to a worker",
			DomainEngine,
			http.StatusConflict,
		},
		EngineWorkerSpawnFailed: {
			"Failed to spawn a worker process",
			DomainEngine,
			http.StatusInternalServerError,
		},
		EngineWorkerDispatchFailed: {
			"Failed to deliver a device to a worker",
			DomainEngine,
			http.StatusInternalServerError,
		},
		EngineWorkerCapExceeded: {
			"Worker pool is at its configured cap",
			DomainEngine,
			http.StatusTooManyRequests,
		},
		EngineWorkerAckMalformed: {
			"Worker ack frame is malformed",
			DomainEngine,
			http.StatusBadRequest,
		},
		EngineWorkerAckUntracked: {
			"Worker ack credentials do not match a tracked worker",
			DomainEngine,
			http.StatusForbidden,
		},
		EngineWorkerAttachConflict: {
			"Worker or event is already attached elsewhere",
			DomainEngine,
			http.StatusConflict,
		},
		EngineControlInvalidEnv: {
			"SET_ENV string is missing '='",
			DomainEngine,
			http.StatusBadRequest,
		},
		EngineControlDecodeFailed: {
			"Failed to decode a control message",
			DomainEngine,
			http.StatusBadRequest,
		},
		EngineControlListenFailed: {
			"Failed to listen on the control socket",
			DomainEngine,
			http.StatusInternalServerError,
		},
		EngineInotifyInitFailed: {
			"Failed to initialize inotify",
			DomainEngine,
			http.StatusInternalServerError,
		},
		EngineInotifyWatchFailed: {
			"Failed to add or remove an inotify watch",
			DomainEngine,
			http.StatusInternalServerError,
		},
		EngineSynthesizeWriteFailed: {
			"Failed to write the synthetic change uevent",
			DomainEngine,
			http.StatusInternalServerError,
		},
		EngineBlockRereadFailed: {
			"BLKRRPART partition table reread failed",
			DomainEngine,
			http.StatusInternalServerError,
		},
		EngineExitDeadlineExceeded: {
			"Graceful shutdown exceeded its exit deadline",
			DomainEngine,
			http.StatusGatewayTimeout,
		},
		EngineRuleEngineInitFailed: {
			"Rule engine failed to initialize",
			DomainEngine,
			http.StatusInternalServerError,
		},
	}

	maps.Copy(errorDefinitions, engineErrorDefinitions)
}
