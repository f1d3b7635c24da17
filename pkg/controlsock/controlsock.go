// Copyright 2025 Raamsri Kumar <raam@tinkershack.in>
// Copyright 2025 The StrataSTOR Authors and Contributors
// SPDX-License-Identifier: Apache-2.0

// Package controlsock implements the AF_LOCAL SOCK_SEQPACKET control
// listener (engine.ControlSource, spec.md §4.6). It decodes a newline-
// separated token protocol rather than the original's packed C struct, the
// same line-oriented style the retrieved standalone unixpacket monitor
// uses for its own client protocol.
package controlsock

import (
	"bufio"
	"bytes"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/stratastor/logger"
	"github.com/stratastor/udevd/pkg/engine"
	"github.com/stratastor/udevd/pkg/errors"
)

// Listener implements engine.ControlSource over a SOCK_SEQPACKET socket.
type Listener struct {
	log      logger.Logger
	path     string
	listener *net.UnixListener
	messages chan engine.ControlMessage

	mu    sync.Mutex
	conns map[*net.UnixConn]struct{}
}

// New binds path as an AF_LOCAL SOCK_SEQPACKET ("unixpacket" in Go's net
// package) socket and starts accepting control connections.
func New(path string, log logger.Logger) (*Listener, error) {
	_ = os.Remove(path)

	ln, err := net.ListenUnix("unixpacket", &net.UnixAddr{Name: path, Net: "unixpacket"})
	if err != nil {
		return nil, errors.Wrap(err, errors.EngineControlListenFailed).WithMetadata("path", path)
	}

	l := &Listener{
		log:      log,
		path:     path,
		listener: ln,
		messages: make(chan engine.ControlMessage, 32),
		conns:    make(map[*net.UnixConn]struct{}),
	}
	go l.acceptLoop()
	return l, nil
}

func (l *Listener) Messages() <-chan engine.ControlMessage { return l.messages }

// Reply is a no-op for every op, EXIT included. An EXIT connection is held
// open by handleConn blocking on the message's Done channel, which the
// engine closes itself once shutdown completes.
func (l *Listener) Reply(engine.ControlMessage) error { return nil }

func (l *Listener) Close() error {
	err := l.listener.Close()
	_ = os.Remove(l.path)

	l.mu.Lock()
	for c := range l.conns {
		_ = c.Close()
	}
	l.mu.Unlock()

	return err
}

func (l *Listener) acceptLoop() {
	for {
		conn, err := l.listener.AcceptUnix()
		if err != nil {
			return
		}

		l.mu.Lock()
		l.conns[conn] = struct{}{}
		l.mu.Unlock()

		go l.handleConn(conn)
	}
}

// handleConn reads exactly one message (spec.md §4.6, "one message at a
// time on a blocking-accept connection"), decodes every line it carries
// into zero or more ControlMessages, and — for EXIT — blocks the
// connection open on Done before closing it.
func (l *Listener) handleConn(conn *net.UnixConn) {
	defer func() {
		l.mu.Lock()
		delete(l.conns, conn)
		l.mu.Unlock()
		_ = conn.Close()
	}()

	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil {
		return
	}

	sc := bufio.NewScanner(bytes.NewReader(buf[:n]))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		msg, ok := decodeLine(line, l.log)
		if !ok {
			continue
		}
		if msg.Op == engine.OpExit {
			msg.Done = make(chan struct{})
		}
		l.messages <- msg
		if msg.Done != nil {
			<-msg.Done
		}
	}
}

func decodeLine(line string, log logger.Logger) (engine.ControlMessage, bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return engine.ControlMessage{}, false
	}

	switch strings.ToUpper(fields[0]) {
	case "SET_LOG_LEVEL":
		if len(fields) < 2 {
			log.Warn("SET_LOG_LEVEL missing level argument")
			return engine.ControlMessage{}, false
		}
		level, err := strconv.Atoi(fields[1])
		if err != nil || level < 0 {
			log.Warn("SET_LOG_LEVEL malformed level", "value", fields[1])
			return engine.ControlMessage{}, false
		}
		return engine.ControlMessage{Op: engine.OpSetLogLevel, LogLevel: level}, true

	case "STOP_EXEC_QUEUE":
		return engine.ControlMessage{Op: engine.OpStopExecQueue}, true

	case "START_EXEC_QUEUE":
		return engine.ControlMessage{Op: engine.OpStartExecQueue}, true

	case "RELOAD":
		return engine.ControlMessage{Op: engine.OpReload}, true

	case "ENV":
		if len(fields) < 2 {
			return engine.ControlMessage{}, false
		}
		kv := strings.Join(fields[1:], " ")
		idx := strings.IndexByte(kv, '=')
		if idx < 0 {
			log.Warn("SET_ENV string missing '='", "value", kv)
			return engine.ControlMessage{}, false
		}
		key, val := kv[:idx], kv[idx+1:]
		return engine.ControlMessage{
			Op:          engine.OpSetEnv,
			EnvKey:      key,
			EnvValue:    val,
			EnvHasValue: val != "",
		}, true

	case "CHILDREN_MAX":
		if len(fields) < 2 {
			log.Warn("CHILDREN_MAX missing argument")
			return engine.ControlMessage{}, false
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil || n < 0 {
			log.Warn("CHILDREN_MAX malformed value", "value", fields[1])
			return engine.ControlMessage{}, false
		}
		return engine.ControlMessage{Op: engine.OpSetChildrenMax, ChildrenMax: n}, true

	case "PING":
		return engine.ControlMessage{Op: engine.OpPing}, true

	case "EXIT":
		return engine.ControlMessage{Op: engine.OpExit}, true

	default:
		log.Info("ignoring unknown control verb", "verb", fields[0])
		return engine.ControlMessage{}, false
	}
}
