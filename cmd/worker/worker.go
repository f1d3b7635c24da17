// Copyright 2025 Raamsri Kumar <raam@tinkershack.in>
// Copyright 2025 The StrataSTOR Authors and Contributors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

// Package worker implements the hidden __worker subcommand (D5): the
// re-exec'd body spawned by pkg/engine's execSpawner in place of the
// original's fork()'d child (spec.md §4.5, §9's fork()-substitute).
package worker

import (
	"context"
	"encoding/gob"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/spf13/cobra"
	"github.com/stratastor/logger"
	"github.com/stratastor/udevd/config"
	"github.com/stratastor/udevd/internal/constants"
	"github.com/stratastor/udevd/pkg/engine"
	"github.com/stratastor/udevd/pkg/ruleengine"
)

// monitorFD is the fixed descriptor the parent hands this process its
// unicast device endpoint on (see pkg/engine/spawn_linux.go's
// childMonitorFD).
const monitorFD = 3

// NewCmd returns the hidden worker subcommand. It is never documented in
// --help output and is only ever invoked by the parent's own re-exec.
func NewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:    constants.WorkerSubcommand,
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return Run()
		},
	}
	return cmd
}

// Run implements spec.md §4.5's worker body: drop everything but its own
// monitor endpoint and ack socket, announce parent-death and reset its OOM
// score, then loop applying the rule engine to each device the parent
// sends until SIGTERM.
func Run() error {
	cfg := config.GetConfig()
	lcfg := config.NewLoggerConfig(cfg)
	if level := os.Getenv("UDEVD_LOG_LEVEL"); level != "" {
		// SET_LOG_LEVEL (spec.md §4.6) takes effect on respawn via this
		// override, since this process never shares memory with the
		// manager that issued it.
		lcfg.LogLevel = level
	}
	log, err := logger.NewTag(lcfg, "worker")
	if err != nil {
		return err
	}

	if err := unix.Prctl(unix.PR_SET_PDEATHSIG, uintptr(syscall.SIGTERM), 0, 0, 0); err != nil {
		log.Warn("PR_SET_PDEATHSIG failed", "err", err)
	}
	resetOOMScore(log)

	monConn, err := deviceConn()
	if err != nil {
		return err
	}
	defer monConn.Close()

	ackConn, err := ackConn()
	if err != nil {
		return err
	}
	defer ackConn.Close()

	re, err := ruleengine.New(cfg.Paths.RulesDir, "", log)
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM)

	devCh := make(chan *engine.WireDevice)
	go readDevices(monConn, devCh, log)

	// The single-threaded select over {signal source, one device source}
	// is the idiomatic-Go substitute for spec.md §4.5's epoll set over
	// {signalfd, monitor endpoint} — there is exactly one of each, so no
	// priority ordering is needed between them.
	for {
		select {
		case <-sigCh:
			return nil
		case dev, ok := <-devCh:
			if !ok {
				return nil
			}
			processDevice(context.Background(), re, dev, log)
			if err := sendAck(ackConn); err != nil {
				log.Warn("failed to send ack", "devpath", dev.DevPath(), "err", err)
			}
		}
	}
}

func deviceConn() (*net.UnixConn, error) {
	f := os.NewFile(uintptr(monitorFD), "udevd-worker-monitor")
	conn, err := net.FileConn(f)
	if err != nil {
		return nil, err
	}
	return conn.(*net.UnixConn), nil
}

func ackConn() (*net.UnixConn, error) {
	path := os.Getenv("UDEVD_ACK_SOCKET")
	raddr := &net.UnixAddr{Name: path, Net: "unixgram"}
	return net.DialUnix("unixgram", nil, raddr)
}

func readDevices(conn *net.UnixConn, out chan<- *engine.WireDevice, log logger.Logger) {
	defer close(out)
	buf := make([]byte, 64*1024)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		var wd engine.WireDevice
		if err := gob.NewDecoder(byteReader{buf[:n]}).Decode(&wd); err != nil {
			log.Warn("dropping unparseable device message", "err", err)
			continue
		}
		out <- &wd
	}
}

type byteReader struct{ b []byte }

func (r byteReader) Read(p []byte) (int, error) {
	n := copy(p, r.b)
	if n == 0 {
		return 0, os.ErrClosed
	}
	return n, nil
}

// processDevice implements the success path of spec.md §4.5: a shared
// advisory lock on the devnode (skipped for the excluded subsystems and for
// remove actions), then rule execution held under that lock, then
// re-publishing the processed device on the worker's own monitor endpoint.
// If the lock is required and unavailable, rule execution is skipped
// entirely for this event (spec.md line 146, line 213) — another process
// holding LOCK_EX means this device is busy elsewhere.
func processDevice(ctx context.Context, re *ruleengine.Engine, dev *engine.WireDevice, log logger.Logger) {
	if shallLockDevice(dev) {
		var applyErr error
		err := withDeviceLock(dev, func() {
			applyErr = re.Apply(ctx, dev)
		})
		if err != nil {
			log.Debug("skipping rule execution, lock unavailable", "devpath", dev.DevPath(), "err", err)
		} else if applyErr != nil {
			log.Warn("rule engine apply failed", "devpath", dev.DevPath(), "err", applyErr)
		}
	} else if err := re.Apply(ctx, dev); err != nil {
		log.Warn("rule engine apply failed", "devpath", dev.DevPath(), "err", err)
	}

	if err := publishProcessed(dev); err != nil {
		log.Warn("failed to re-publish processed device", "devpath", dev.DevPath(), "err", err)
	}
}

// publishProcessed hands dev back to the parent's Publisher over the
// submission socket named by UDEVD_PUBLISH_SOCKET, completing spec.md
// §4.5's "re-publish the processed device on the worker's monitor
// endpoint" before the ack is sent.
func publishProcessed(dev *engine.WireDevice) error {
	path := os.Getenv("UDEVD_PUBLISH_SOCKET")
	if path == "" {
		return nil
	}
	conn, err := net.DialUnix("unixgram", nil, &net.UnixAddr{Name: path, Net: "unixgram"})
	if err != nil {
		return err
	}
	defer conn.Close()

	var buf []byte
	if err := gob.NewEncoder(appendWriter{&buf}).Encode(dev); err != nil {
		return err
	}
	_, err = conn.Write(buf)
	return err
}

// shallLockDevice ports shall_lock_device's exact exclusion list
// (SPEC_FULL.md §12): block devices whose sysname starts with "dm-",
// "md", or "drbd" are never locked, and removed devices are never
// locked either.
func shallLockDevice(dev *engine.WireDevice) bool {
	if !dev.IsBlock() || dev.Action() == "remove" {
		return false
	}
	name := dev.SysName()
	switch {
	case strings.HasPrefix(name, "dm-"):
		return false
	case strings.HasPrefix(name, "md"):
		return false
	case strings.HasPrefix(name, "drbd"):
		return false
	}
	return true
}

// withDeviceLock takes a non-blocking shared advisory flock on dev's
// devnode — on its parent disk if dev is a partition — and runs fn while
// holding it. If the lock cannot be acquired, rule execution for this
// event is skipped, per spec.md §4.5.
func withDeviceLock(dev *engine.WireDevice, fn func()) error {
	devnode := lockTargetDevnode(dev)
	if devnode == "" {
		fn()
		return nil
	}

	fd, err := unix.Open(devnode, unix.O_RDONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return err
	}
	defer unix.Close(fd)

	if err := unix.Flock(fd, unix.LOCK_SH|unix.LOCK_NB); err != nil {
		return err
	}
	defer unix.Flock(fd, unix.LOCK_UN)

	fn()
	return nil
}

// lockTargetDevnode redirects partitions to their parent disk's devnode,
// the same redirection shall_lock_device's caller performs before
// locking.
func lockTargetDevnode(dev *engine.WireDevice) string {
	if dev.DevType() != "partition" {
		if dev.DevName() != "" {
			return dev.DevName()
		}
		return ""
	}
	parentSysPath := filepath.Dir(dev.SysPath())
	return "/dev/" + filepath.Base(parentSysPath)
}

// sendAck writes the fixed-size ack frame (spec.md §4.5, §5) to the shared,
// credential-authenticated ack socket. It carries no device payload — the
// processed device was already handed to publishProcessed over the
// separate publish socket before this is called.
func sendAck(conn *net.UnixConn) error {
	frame := engine.AckFrame()
	_, err := conn.Write(frame[:])
	return err
}

type appendWriter struct{ b *[]byte }

func (w appendWriter) Write(p []byte) (int, error) {
	*w.b = append(*w.b, p...)
	return len(p), nil
}

func resetOOMScore(log logger.Logger) {
	if err := os.WriteFile("/proc/self/oom_score_adj", []byte("0"), 0644); err != nil {
		log.Debug("failed to reset oom_score_adj", "err", err)
	}
}
