// Copyright 2025 Raamsri Kumar <raam@tinkershack.in>
// Copyright 2025 The StrataSTOR Authors and Contributors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"bytes"
	"encoding/gob"
	"net"
	"os"
	"sync"

	"github.com/stratastor/logger"
	"github.com/stratastor/udevd/pkg/engine"
	"github.com/stratastor/udevd/pkg/errors"
)

// Publisher implements engine.MonitorPublisher by re-broadcasting a
// processed device to every local subscriber currently connected to the
// monitor publish socket. The retrieved netlink client only consumes the
// kernel's multicast group — it exposes no send side — so local republish
// here uses a unix datagram fan-out instead of re-injecting into netlink,
// matching spec.md §6's "local subscribers" framing without requiring
// CAP_NET_ADMIN to speak for the kernel.
type Publisher struct {
	log logger.Logger

	mu   sync.Mutex
	subs map[string]*net.UnixConn
}

// NewPublisher binds the publish socket at path and accepts subscriber
// registrations arriving on it.
func NewPublisher(path string, log logger.Logger) (*Publisher, error) {
	p := &Publisher{log: log, subs: make(map[string]*net.UnixConn)}

	ln, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: path, Net: "unixgram"})
	if err != nil {
		return nil, errors.Wrap(err, errors.EngineMonitorBufferFailed).
			WithMetadata("operation", "publisher_listen")
	}
	go p.acceptSubscriptions(ln)

	return p, nil
}

// acceptSubscriptions treats every distinct source address that has sent a
// datagram as a live subscriber and remembers it for fan-out. This mirrors
// the pattern used for the worker-ack socket, minus credential checks,
// since publish subscriptions are a local convenience, not a trust
// boundary.
func (p *Publisher) acceptSubscriptions(ln *net.UnixConn) {
	buf := make([]byte, 1)
	for {
		_, addr, err := ln.ReadFromUnix(buf)
		if err != nil {
			return
		}
		if addr == nil || addr.Name == "" {
			continue
		}
		p.mu.Lock()
		if _, ok := p.subs[addr.Name]; !ok {
			if c, err := net.DialUnix("unixgram", nil, addr); err == nil {
				p.subs[addr.Name] = c
			}
		}
		p.mu.Unlock()
	}
}

// Publish fans dev out to every currently registered subscriber.
func (p *Publisher) Publish(dev engine.DeviceView) error {
	var buf [1024]byte
	b := buf[:0]
	enc := gob.NewEncoder(sliceWriter{&b})
	if err := enc.Encode(engine.NewWireDevice(dev)); err != nil {
		return errors.Wrap(err, errors.EngineSynthesizeWriteFailed).WithMetadata("operation", "publish_encode")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for name, c := range p.subs {
		if _, err := c.Write(b); err != nil {
			_ = c.Close()
			delete(p.subs, name)
		}
	}
	return nil
}

type sliceWriter struct{ b *[]byte }

func (w sliceWriter) Write(p []byte) (int, error) {
	*w.b = append(*w.b, p...)
	return len(p), nil
}

// ListenSubmissions binds a second unix datagram socket that workers use
// to hand back a processed device for local republish (spec.md §4.5,
// "re-publish the processed device on the worker's monitor endpoint") —
// kept separate from the subscriber-registration socket so inbound
// datagrams never need a type tag to tell the two apart.
func (p *Publisher) ListenSubmissions(path string) error {
	_ = os.Remove(path)
	ln, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: path, Net: "unixgram"})
	if err != nil {
		return errors.Wrap(err, errors.EngineMonitorBufferFailed).WithMetadata("operation", "publisher_submissions_listen")
	}
	go p.acceptSubmissions(ln)
	return nil
}

func (p *Publisher) acceptSubmissions(ln *net.UnixConn) {
	buf := make([]byte, 64*1024)
	for {
		n, err := ln.Read(buf)
		if err != nil {
			return
		}
		var wd engine.WireDevice
		if err := gob.NewDecoder(bytes.NewReader(buf[:n])).Decode(&wd); err != nil {
			p.log.Warn("dropping unparseable worker submission", "err", err)
			continue
		}
		if err := p.Publish(&wd); err != nil {
			p.log.Warn("failed to fan out worker-submitted device", "err", err)
		}
	}
}
