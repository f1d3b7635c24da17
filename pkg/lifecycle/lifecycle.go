// Copyright 2025 Raamsri Kumar <raam@tinkershack.in>
// Copyright 2025 The StrataSTOR Authors and Contributors
// SPDX-License-Identifier: Apache-2.0

// Package lifecycle implements process-level startup/shutdown bookkeeping:
// single-instance enforcement via a PID file, and the sd_notify-compatible
// supervisor notifications the engine sends through engine.Deps.Notify.
package lifecycle

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"syscall"
)

var shutdownHooks []func()

// RegisterShutdownHook queues hook to run during RunShutdownHooks.
func RegisterShutdownHook(hook func()) {
	shutdownHooks = append(shutdownHooks, hook)
}

// RunShutdownHooks runs every registered hook in registration order.
func RunShutdownHooks() {
	for _, hook := range shutdownHooks {
		hook()
	}
}

// EnsureSingleInstance checks pidPath for a live process and, if none is
// found, claims it for the current process.
func EnsureSingleInstance(pidPath string) error {
	if pidPath == "" {
		return fmt.Errorf("invalid PID file path")
	}

	if _, err := os.Stat(pidPath); err == nil {
		pidBytes, err := os.ReadFile(pidPath)
		if err != nil {
			return fmt.Errorf("failed to read PID file: %w", err)
		}

		content := strings.TrimSpace(string(pidBytes))
		if content == "" {
			os.Remove(pidPath)
		} else {
			pid, err := strconv.Atoi(content)
			if err != nil {
				return fmt.Errorf("invalid PID format: %w", err)
			}
			if process, err := os.FindProcess(pid); err == nil {
				if err := process.Signal(syscall.Signal(0)); err == nil {
					return fmt.Errorf("another instance is already running (PID: %d)", pid)
				}
			}
			os.Remove(pidPath)
		}
	}

	currentPid := os.Getpid()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(currentPid)), 0644); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	RegisterShutdownHook(func() {
		os.Remove(pidPath)
	})

	return nil
}

// Notify sends status to the supervisor named by $NOTIFY_SOCKET
// (spec.md §6's READY=1/RELOADING=1/STOPPING=1/STATUS=... contract). It is
// a no-op, not an error, when NOTIFY_SOCKET is unset — the daemon may be
// running outside a supervised unit.
func Notify(status string) error {
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return nil
	}

	raddr := &net.UnixAddr{Name: addr, Net: "unixgram"}
	conn, err := net.DialUnix("unixgram", nil, raddr)
	if err != nil {
		return fmt.Errorf("notify: dial %s: %w", addr, err)
	}
	defer conn.Close()

	_, err = conn.Write([]byte(status))
	return err
}
