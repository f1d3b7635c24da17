// Copyright 2025 Raamsri Kumar <raam@tinkershack.in>
// Copyright 2025 The StrataSTOR Authors and Contributors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

// Package monitor implements the netlink uevent monitor transport
// (engine.MonitorSource), the republish path (engine.MonitorPublisher),
// and the device view the engine and workers operate on.
package monitor

import (
	"context"
	"strconv"
	"strings"

	"github.com/pilebones/go-udev/netlink"

	"github.com/stratastor/logger"
	"github.com/stratastor/udevd/pkg/engine"
	"github.com/stratastor/udevd/pkg/errors"
)

// Device is the concrete engine.DeviceView built from a kernel uevent's
// environment block.
type Device struct {
	seqNum     uint64
	devPath    string
	devPathOld string
	devNum     engine.DevNum
	isBlock    bool
	ifIndex    int
	action     string
	subsystem  string
	devType    string
	sysName    string
	sysPath    string
	devName    string
}

func (d *Device) SeqNum() uint64          { return d.seqNum }
func (d *Device) DevPath() string         { return d.devPath }
func (d *Device) DevPathOld() string      { return d.devPathOld }
func (d *Device) DevNum() engine.DevNum   { return d.devNum }
func (d *Device) IsBlock() bool           { return d.isBlock }
func (d *Device) IfIndex() int            { return d.ifIndex }
func (d *Device) Action() string          { return d.action }
func (d *Device) Subsystem() string       { return d.subsystem }
func (d *Device) DevType() string         { return d.devType }
func (d *Device) SysName() string         { return d.sysName }
func (d *Device) SysPath() string         { return d.sysPath }
func (d *Device) DevName() string         { return d.devName }

// FromUEvent converts a raw netlink.UEvent into a Device, extracting the
// properties the engine needs from its environment map — the same
// extraction shape as the retrieved netlink consumer, widened to the full
// set of fields spec.md §3 requires of a device event.
func FromUEvent(seqNum uint64, ue netlink.UEvent) *Device {
	d := &Device{
		seqNum:  seqNum,
		devPath: ue.KObj,
		action:  string(ue.Action),
	}

	if v, ok := ue.Env["DEVPATH_OLD"]; ok {
		d.devPathOld = v
	}
	if v, ok := ue.Env["SUBSYSTEM"]; ok {
		d.subsystem = v
	}
	if v, ok := ue.Env["DEVTYPE"]; ok {
		d.devType = v
		d.isBlock = v == "disk" || v == "partition"
	}
	if v, ok := ue.Env["DEVNAME"]; ok {
		d.devName = v
	}
	if v, ok := ue.Env["MAJOR"]; ok {
		if maj, err := strconv.ParseUint(v, 10, 32); err == nil {
			d.devNum.Major = uint32(maj)
		}
	}
	if v, ok := ue.Env["MINOR"]; ok {
		if min, err := strconv.ParseUint(v, 10, 32); err == nil {
			d.devNum.Minor = uint32(min)
		}
	}
	if v, ok := ue.Env["IFINDEX"]; ok {
		if idx, err := strconv.Atoi(v); err == nil {
			d.ifIndex = idx
		}
	}

	d.sysPath = "/sys" + d.devPath
	if idx := strings.LastIndex(d.devPath, "/"); idx >= 0 {
		d.sysName = d.devPath[idx+1:]
	}

	return d
}

// Monitor wraps the retrieved pilebones/go-udev netlink client to implement
// engine.MonitorSource.
type Monitor struct {
	log    logger.Logger
	conn   *netlink.UEventConn
	events chan engine.DeviceView
	errors chan error
	cancel context.CancelFunc
	seq    uint64
}

// New connects to the kernel's uevent netlink multicast group and starts
// forwarding decoded devices. subsystems, if non-empty, restricts the
// kernel-side matcher the same way the retrieved hotplug monitor does.
func New(ctx context.Context, subsystems []string, log logger.Logger) (*Monitor, error) {
	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		return nil, errors.Wrap(err, errors.EngineMonitorConnectFailed).
			WithMetadata("operation", "netlink_connect")
	}

	ctx, cancel := context.WithCancel(ctx)
	m := &Monitor{
		log:    log,
		conn:   conn,
		events: make(chan engine.DeviceView, 256),
		errors: make(chan error, 16),
		cancel: cancel,
	}

	queue := make(chan netlink.UEvent)
	nlErrs := make(chan error)

	var matcher *netlink.RuleDefinitions
	if len(subsystems) > 0 {
		rules := make([]netlink.RuleDefinition, 0, len(subsystems))
		for _, s := range subsystems {
			rules = append(rules, netlink.RuleDefinition{Env: map[string]string{"SUBSYSTEM": s}})
		}
		matcher = &netlink.RuleDefinitions{Rules: rules}
	}

	conn.Monitor(queue, nlErrs, matcher)
	go m.run(ctx, queue, nlErrs)

	return m, nil
}

func (m *Monitor) run(ctx context.Context, queue chan netlink.UEvent, nlErrs chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case ue := <-queue:
			m.seq++
			m.events <- FromUEvent(m.seq, ue)
		case err := <-nlErrs:
			m.errors <- errors.Wrap(err, errors.EngineMonitorReadFailed).
				WithMetadata("operation", "netlink_monitor")
		}
	}
}

func (m *Monitor) Events() <-chan engine.DeviceView { return m.events }
func (m *Monitor) Errors() <-chan error             { return m.errors }

func (m *Monitor) Close() error {
	m.cancel()
	m.conn.Close()
	return nil
}
