// Copyright 2025 Raamsri Kumar <raam@tinkershack.in>
// Copyright 2025 The StrataSTOR Authors and Contributors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package engine

import (
	"bytes"
	"context"
	"encoding/gob"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/stratastor/logger"
	"github.com/stratastor/udevd/internal/constants"
	"github.com/stratastor/udevd/pkg/errors"
)

// ackSocketEnv names the shared, credential-authenticated worker-ack
// socket (spec.md §5, "the worker-ack socket uses SO_PASSCRED").
const ackSocketEnv = "UDEVD_ACK_SOCKET"

// publishSocketEnv names the socket a worker submits its processed device
// back on for local republish (spec.md §4.5).
const publishSocketEnv = "UDEVD_PUBLISH_SOCKET"

// logLevelEnv carries the current SET_LOG_LEVEL result to a respawned
// worker (spec.md §4.6): cmd/worker's own logger.Config build prefers this
// over its static config file value when set.
const logLevelEnv = "UDEVD_LOG_LEVEL"

// childMonitorFD is the fixed descriptor number the worker finds its
// unicast monitor endpoint on, mirroring the original's fixed-fd handoff
// from fork() (spec.md §9's fork()-substitute: os.Exec inherits ExtraFiles
// starting at fd 3).
const childMonitorFD = 3

// execSpawner is the WorkerTransport implementation (spec.md §9, C5's
// fork()-substitute): instead of fork()+exec of a rules-running child that
// shares the parent's address space until exec, it re-execs the running
// binary with a hidden subcommand and hands the child one end of a
// socketpair as its monitor endpoint over ExtraFiles, the same way
// monitor_linux.go in the retrieved netlink package leaves a raw fd for its
// caller to wrap.
type execSpawner struct {
	self string
	env  []string
	log  logger.Logger

	ackPath     string
	ackListener *net.UnixConn
	publishPath string

	acks  chan WorkerAck
	exits chan WorkerExit

	mu        sync.Mutex
	closing   bool
	overrides map[string]*string
	logLevel  string
}

// NewExecSpawner binds the shared worker-ack socket at ackPath and starts
// its receive loop. self is the absolute path to the running binary
// (os.Executable()); it is re-exec'd with the hidden worker subcommand on
// every Spawn. publishPath is handed to each worker via environment so it
// can submit its processed device back for local republish.
func NewExecSpawner(self, ackPath, publishPath string, log logger.Logger) (*execSpawner, error) {
	_ = os.Remove(ackPath)

	laddr := &net.UnixAddr{Name: ackPath, Net: "unixgram"}
	conn, err := net.ListenUnixgram("unixgram", laddr)
	if err != nil {
		return nil, errors.Wrap(err, errors.EngineWorkerSpawnFailed).WithMetadata("path", ackPath)
	}

	raw, err := conn.SyscallConn()
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, errors.EngineWorkerSpawnFailed)
	}
	var sockErr error
	if err := raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_PASSCRED, 1)
	}); err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, errors.EngineWorkerSpawnFailed)
	}
	if sockErr != nil {
		_ = conn.Close()
		return nil, errors.Wrap(sockErr, errors.EngineWorkerSpawnFailed).WithMetadata("operation", "SO_PASSCRED")
	}

	s := &execSpawner{
		self:        self,
		env:         os.Environ(),
		log:         log,
		ackPath:     ackPath,
		ackListener: conn,
		publishPath: publishPath,
		acks:        make(chan WorkerAck, 64),
		exits:       make(chan WorkerExit, 64),
	}
	go s.recvAcks()
	return s, nil
}

func (s *execSpawner) Acks() <-chan WorkerAck   { return s.acks }
func (s *execSpawner) Exits() <-chan WorkerExit { return s.exits }

// SetOverrides implements WorkerTransport.
func (s *execSpawner) SetOverrides(overrides map[string]*string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides = make(map[string]*string, len(overrides))
	for k, v := range overrides {
		s.overrides[k] = v
	}
}

// SetLogLevel implements WorkerTransport.
func (s *execSpawner) SetLogLevel(level string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logLevel = level
}

// buildChildEnv layers the current dynamic property overrides on top of
// base: a non-nil override sets/replaces the key, a nil override ("unset
// for children") drops it even if base carries it, per spec.md §4.6.
func buildChildEnv(base []string, overrides map[string]*string) []string {
	env := make([]string, 0, len(base)+len(overrides))
	for _, kv := range base {
		if k, _, ok := strings.Cut(kv, "="); ok {
			if _, overridden := overrides[k]; overridden {
				continue
			}
		}
		env = append(env, kv)
	}
	for k, v := range overrides {
		if v != nil {
			env = append(env, k+"="+*v)
		}
	}
	return env
}

// Close stops accepting new worker-ack datagrams. It does not touch any
// already-spawned worker; Manager.terminateWorkers owns that.
func (s *execSpawner) Close() error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	err := s.ackListener.Close()
	_ = os.Remove(s.ackPath)
	return err
}

// Spawn re-execs self with the hidden worker subcommand, handing it a
// socketpair end as its monitor endpoint (ExtraFiles[0], fd 3 in the
// child) and the ack socket path via UDEVD_ACK_SOCKET.
func (s *execSpawner) Spawn(ctx context.Context) (int, WorkerEndpoint, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return 0, nil, errors.Wrap(err, errors.EngineWorkerSpawnFailed).WithMetadata("operation", "socketpair")
	}
	parentFD, childFD := fds[0], fds[1]

	childFile := os.NewFile(uintptr(childFD), "udevd-worker-monitor")
	defer childFile.Close()

	s.mu.Lock()
	env := buildChildEnv(s.env, s.overrides)
	logLevel := s.logLevel
	s.mu.Unlock()

	cmd := exec.Command(s.self, constants.WorkerSubcommand)
	cmd.Env = append(env,
		ackSocketEnv+"="+s.ackPath,
		publishSocketEnv+"="+s.publishPath,
	)
	if logLevel != "" {
		cmd.Env = append(cmd.Env, logLevelEnv+"="+logLevel)
	}
	cmd.ExtraFiles = []*os.File{childFile}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Pdeathsig: syscall.SIGKILL,
	}

	if err := cmd.Start(); err != nil {
		unix.Close(parentFD)
		return 0, nil, errors.Wrap(err, errors.EngineWorkerSpawnFailed).WithMetadata("operation", "exec")
	}

	parentFile := os.NewFile(uintptr(parentFD), "udevd-worker-monitor-parent")
	conn, err := net.FileConn(parentFile)
	_ = parentFile.Close()
	if err != nil {
		_ = cmd.Process.Kill()
		return 0, nil, errors.Wrap(err, errors.EngineWorkerSpawnFailed).WithMetadata("operation", "FileConn")
	}
	uconn, ok := conn.(*net.UnixConn)
	if !ok {
		_ = conn.Close()
		_ = cmd.Process.Kill()
		return 0, nil, errors.New(errors.EngineWorkerSpawnFailed, "parent endpoint is not a unix conn")
	}

	pid := cmd.Process.Pid
	go s.reap(pid, cmd)

	return pid, &seqpacketEndpoint{conn: uconn}, nil
}

// reap blocks on cmd.Wait and reports the exit per spec.md §4.4's reaping
// contract, in place of a signalfd+waitpid(-1, WNOHANG) loop — Go's runtime
// reserves SIGCHLD for its own process-management bookkeeping, so one
// goroutine per spawned child is the idiomatic substitute (see DESIGN.md).
func (s *execSpawner) reap(pid int, cmd *exec.Cmd) {
	err := cmd.Wait()
	we := WorkerExit{PID: pid}
	if err == nil {
		we.Code = 0
	} else if exitErr, ok := err.(*exec.ExitError); ok {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if ws.Signaled() {
				we.Signaled = true
				we.Signal = int(ws.Signal())
			} else {
				we.Code = ws.ExitStatus()
			}
		} else {
			we.Code = exitErr.ExitCode()
		}
	} else {
		s.log.Warn("worker wait failed", "pid", pid, "err", err)
	}

	s.mu.Lock()
	closing := s.closing
	s.mu.Unlock()
	if closing {
		return
	}
	s.exits <- we
}

// recvAcks reads credential-authenticated ack datagrams off the shared
// socket. Each datagram must be exactly ackFrameSize bytes (spec.md §5,
// §7); anything else is rejected and logged rather than parsed further.
func (s *execSpawner) recvAcks() {
	buf := make([]byte, ackFrameSize+16)
	oob := make([]byte, unix.CmsgSpace(unix.SizeofUcred))

	raw, err := s.ackListener.SyscallConn()
	if err != nil {
		s.log.Error("ack socket has no raw conn", "err", err)
		return
	}

	for {
		var n, oobn int
		var rerr error
		cerr := raw.Read(func(fd uintptr) bool {
			n, oobn, _, _, rerr = unix.Recvmsg(int(fd), buf, oob, 0)
			return rerr != unix.EAGAIN
		})
		if cerr != nil {
			return
		}
		if rerr != nil {
			s.log.Warn("ack socket recvmsg failed", "err", rerr)
			return
		}

		cred, err := parseUcred(oob[:oobn])
		if err != nil {
			s.log.Warn("dropping ack with unparseable credentials", "err", err)
			continue
		}

		if n != ackFrameSize {
			err := errors.New(errors.EngineWorkerAckMalformed, "ack frame size mismatch").
				WithMetadata("pid", strconv.Itoa(int(cred.Pid))).
				WithMetadata("size", strconv.Itoa(n))
			s.log.Warn("dropping malformed ack frame", "err", err)
			continue
		}

		s.acks <- WorkerAck{PID: int(cred.Pid)}
	}
}

func parseUcred(oob []byte) (*unix.Ucred, error) {
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil, err
	}
	for _, m := range msgs {
		if cred, err := unix.ParseUnixCredentials(&m); err == nil {
			return cred, nil
		}
	}
	return nil, errors.New(errors.EngineWorkerAckMalformed, "no SCM_CREDENTIALS in ack datagram")
}

// seqpacketEndpoint is the parent-side WorkerEndpoint over a SOCK_SEQPACKET
// socketpair connection.
type seqpacketEndpoint struct {
	conn *net.UnixConn
}

func (e *seqpacketEndpoint) Send(dev DeviceView) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(NewWireDevice(dev)); err != nil {
		return errors.Wrap(err, errors.EngineWorkerSpawnFailed).WithMetadata("operation", "encode")
	}
	_, err := e.conn.Write(buf.Bytes())
	return err
}

func (e *seqpacketEndpoint) Close() error {
	return e.conn.Close()
}
