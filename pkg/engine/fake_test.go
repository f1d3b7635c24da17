// Copyright 2025 Raamsri Kumar <raam@tinkershack.in>
// Copyright 2025 The StrataSTOR Authors and Contributors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"time"

	"github.com/stratastor/logger"
	"golang.org/x/exp/rand"
)

func testLogger() logger.Logger {
	l, err := logger.NewTag(logger.Config{LogLevel: "debug"}, "test.engine")
	if err != nil {
		panic(err)
	}
	return l
}

// fakeDevice is a plain DeviceView fixture for tests, standing in for the
// real pkg/monitor implementation.
type fakeDevice struct {
	seqNum     uint64
	devPath    string
	devPathOld string
	devNum     DevNum
	isBlock    bool
	ifIndex    int
	action     string
	subsystem  string
	devType    string
	sysName    string
	sysPath    string
	devName    string
}

func (d *fakeDevice) SeqNum() uint64     { return d.seqNum }
func (d *fakeDevice) DevPath() string    { return d.devPath }
func (d *fakeDevice) DevPathOld() string { return d.devPathOld }
func (d *fakeDevice) DevNum() DevNum     { return d.devNum }
func (d *fakeDevice) Subsystem() string  { return d.subsystem }
func (d *fakeDevice) DevType() string    { return d.devType }
func (d *fakeDevice) SysName() string    { return d.sysName }
func (d *fakeDevice) SysPath() string    { return d.sysPath }
func (d *fakeDevice) DevName() string    { return d.devName }
func (d *fakeDevice) IfIndex() int       { return d.ifIndex }
func (d *fakeDevice) Action() string     { return d.action }
func (d *fakeDevice) IsBlock() bool      { return d.isBlock }

// randDevPath returns a pseudo-unique path suffix so fixtures built in a
// loop don't collide, mirroring the teacher's GeneratePoolName pattern.
func randDevPath(prefix string) string {
	return prefix + "/dev" + string(rune('a'+rand.Intn(26)))
}

func newEvent(seq uint64, devpath string) *Event {
	return &Event{
		SeqNum:  seq,
		DevPath: devpath,
		State:   StateQueued,
		Dev:     &fakeDevice{seqNum: seq, devPath: devpath},
	}
}

type fakeMonitor struct {
	events chan DeviceView
	errs   chan error
	closed bool
}

func newFakeMonitor() *fakeMonitor {
	return &fakeMonitor{events: make(chan DeviceView, 8), errs: make(chan error, 8)}
}

func (f *fakeMonitor) Events() <-chan DeviceView { return f.events }
func (f *fakeMonitor) Errors() <-chan error      { return f.errs }
func (f *fakeMonitor) Close() error              { f.closed = true; return nil }

type fakeEndpoint struct {
	sent   []DeviceView
	closed bool
	sendErr error
}

func (f *fakeEndpoint) Send(dev DeviceView) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, dev)
	return nil
}

func (f *fakeEndpoint) Close() error { f.closed = true; return nil }

type fakeTransport struct {
	acks     chan WorkerAck
	exits    chan WorkerExit
	nextPID  int
	spawnErr error
	spawned  []*fakeEndpoint

	lastOverrides map[string]*string
	lastLogLevel  string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{acks: make(chan WorkerAck, 8), exits: make(chan WorkerExit, 8), nextPID: 100}
}

func (f *fakeTransport) Spawn(ctx context.Context) (int, WorkerEndpoint, error) {
	if f.spawnErr != nil {
		return 0, nil, f.spawnErr
	}
	f.nextPID++
	ep := &fakeEndpoint{}
	f.spawned = append(f.spawned, ep)
	return f.nextPID, ep, nil
}

func (f *fakeTransport) Acks() <-chan WorkerAck   { return f.acks }
func (f *fakeTransport) Exits() <-chan WorkerExit { return f.exits }

func (f *fakeTransport) SetOverrides(overrides map[string]*string) {
	f.lastOverrides = overrides
}

func (f *fakeTransport) SetLogLevel(level string) {
	f.lastLogLevel = level
}

type fakeControl struct {
	messages chan ControlMessage
	closed   bool
}

func newFakeControl() *fakeControl {
	return &fakeControl{messages: make(chan ControlMessage, 8)}
}

func (f *fakeControl) Messages() <-chan ControlMessage { return f.messages }
func (f *fakeControl) Reply(ControlMessage) error       { return nil }
func (f *fakeControl) Close() error                     { f.closed = true; return nil }

type fakeInotify struct {
	events chan InotifyEvent
	closed bool
}

func newFakeInotify() *fakeInotify {
	return &fakeInotify{events: make(chan InotifyEvent, 8)}
}

func (f *fakeInotify) Events() <-chan InotifyEvent       { return f.events }
func (f *fakeInotify) Watch(string, DeviceView) error    { return nil }
func (f *fakeInotify) Close() error                      { f.closed = true; return nil }

type fakeRuleEngine struct {
	reloaded  int
	stale     bool
	applyErr  error
}

func (f *fakeRuleEngine) Apply(ctx context.Context, dev DeviceView) error { return f.applyErr }
func (f *fakeRuleEngine) Reload() error                                  { f.reloaded++; return nil }
func (f *fakeRuleEngine) Stale() bool                                    { return f.stale }

type fakeDeviceDB struct {
	removed []DeviceView
}

func (f *fakeDeviceDB) Remove(dev DeviceView) error {
	f.removed = append(f.removed, dev)
	return nil
}

type fakePublisher struct {
	published []DeviceView
}

func (f *fakePublisher) Publish(dev DeviceView) error {
	f.published = append(f.published, dev)
	return nil
}

type fakeBlockReread struct {
	ok     bool
	err    error
	parts  []string
	partsErr error
}

func (f *fakeBlockReread) Reread(string) (bool, error)                { return f.ok, f.err }
func (f *fakeBlockReread) PartitionSysPaths(string) ([]string, error) { return f.parts, f.partsErr }

type fakeUeventWriter struct {
	written []string
	err     error
}

func (f *fakeUeventWriter) WriteChange(syspath string) error {
	f.written = append(f.written, syspath)
	return f.err
}

type fakeCgroupReaper struct {
	calls int
	err   error
}

func (f *fakeCgroupReaper) KillStrayDescendants() error {
	f.calls++
	return f.err
}

// testManager wires a Manager with every dependency faked, for tests that
// only touch the pieces they care about.
func testManager() (*Manager, *fakeMonitor, *fakeTransport, *fakeControl, *fakeInotify, *fakeRuleEngine, *fakePublisher, *fakeDeviceDB) {
	mon := newFakeMonitor()
	tr := newFakeTransport()
	ctrl := newFakeControl()
	inot := newFakeInotify()
	re := &fakeRuleEngine{}
	pub := &fakePublisher{}
	db := &fakeDeviceDB{}

	m := NewManager(Config{
		ChildrenMax:         4,
		EventTimeout:        60 * time.Second,
		RulesFreshnessEvery: 3 * time.Second,
	}, Deps{
		RuleEngine:      re,
		Monitor:         mon,
		Publisher:       pub,
		WorkerTransport: tr,
		Control:         ctrl,
		Inotify:         inot,
		BlockReread:     &fakeBlockReread{},
		UeventWriter:    &fakeUeventWriter{},
		DeviceDB:        db,
		CgroupReaper:    &fakeCgroupReaper{},
	}, 0, testLogger())

	return m, mon, tr, ctrl, inot, re, pub, db
}
