// Copyright 2025 Raamsri Kumar <raam@tinkershack.in>
// Copyright 2025 The StrataSTOR Authors and Contributors
// SPDX-License-Identifier: Apache-2.0

package engine

import "context"

// MonitorSource is the external collaborator draining the kernel uevent
// netlink multicast socket (spec.md §1's "netlink monitor transport",
// implemented by pkg/monitor). The engine only ever reads DeviceView values
// off Events(); framing and filtering are the monitor's concern.
type MonitorSource interface {
	// Events delivers one DeviceView per kernel uevent.
	Events() <-chan DeviceView
	Errors() <-chan error
	Close() error
}

// MonitorPublisher republishes a processed (or, on worker failure,
// unmodified) device view to local subscribers, mirroring the original
// daemon's behavior of re-emitting on its own monitor socket.
type MonitorPublisher interface {
	Publish(dev DeviceView) error
}

// WorkerTransport spawns the exec'd worker process and hands back the
// endpoint the dispatcher sends devices through and the channel worker
// acknowledgements arrive on. This is the fork()-substitute named in
// spec.md §9.
type WorkerTransport interface {
	// Spawn starts a new worker, returning its pid and the endpoint used
	// to deliver its first (and subsequent) device.
	Spawn(ctx context.Context) (pid int, endpoint WorkerEndpoint, err error)
	// Acks delivers one WorkerAck per credential-authenticated message
	// received on the shared worker-ack socket.
	Acks() <-chan WorkerAck
	// Exits delivers one WorkerExit per reaped worker process.
	Exits() <-chan WorkerExit
	// SetOverrides installs the current dynamic property overrides
	// (spec.md §4.6's SET_ENV, "k=v"/"k="); every worker spawned after
	// this call carries them in its environment. It does not touch any
	// already-running worker — the caller SIGTERMs those separately so
	// they "reinherit on respawn" per spec.md line 163.
	SetOverrides(overrides map[string]*string)
	// SetLogLevel installs the logger.Config-style level name every
	// worker spawned after this call starts with (spec.md §4.6's
	// SET_LOG_LEVEL, "update logger ... reinherit on respawn").
	SetLogLevel(level string)
}

// WorkerAck is a parsed, credential-authenticated, fixed-size
// acknowledgement from a worker (spec.md §5, "the worker-ack socket uses
// SO_PASSCRED"; §4.5, "one fixed-size ack message"). The processed device
// itself never rides on the ack — it was already republished on the
// worker's own monitor endpoint before the ack was sent.
type WorkerAck struct {
	PID int
}

// WorkerExit reports a reaped worker process (spec.md §4.4's SIGCHLD
// handler, realized in Go as a per-process exec.Cmd.Wait() goroutine
// rather than a signalfd+waitpid loop — see DESIGN.md).
type WorkerExit struct {
	PID      int
	Code     int  // exit code; meaningful only if !Signaled
	Signaled bool // true if terminated by a signal
	Signal   int
}

// CgroupReaper is the external collaborator behind spec.md §4.1's post
// hook "otherwise request the owning cgroup (if any) to SIGKILL any stray
// descendants" branch. Setting up and assigning worker processes to a
// dedicated cgroup is "cgroup setup" (spec.md §1's explicit out-of-scope
// list); this interface only ever requests the kill on whatever cgroup
// was already established externally.
type CgroupReaper interface {
	// KillStrayDescendants asks the configured cgroup to SIGKILL every
	// process still in it. A nil error with nothing configured means "no
	// cgroup, nothing to do" — spec.md's "(if any)".
	KillStrayDescendants() error
}

// DeviceDatabase is the external per-device database and tag index (spec.md
// §6, "opaque to the core"). Only the worker-failure fan-out touches it.
type DeviceDatabase interface {
	Remove(dev DeviceView) error
}

// ControlSource is the external collaborator accepting control-socket
// connections and decoding messages per spec.md §4.6.
type ControlSource interface {
	Messages() <-chan ControlMessage
	// Reply acknowledges message processing by allowing a held EXIT
	// connection to close, or by being a no-op for other ops.
	Reply(msg ControlMessage) error
	Close() error
}

// ControlOp names one operation carried in a control message. Multiple ops
// may be present in a single message (spec.md §4.6).
type ControlOp int

const (
	OpSetLogLevel ControlOp = iota
	OpStopExecQueue
	OpStartExecQueue
	OpReload
	OpSetEnv
	OpSetChildrenMax
	OpPing
	OpExit
)

// ControlMessage is one decoded control-socket message. Exactly one field
// among LogLevel/EnvKey+EnvValue/ChildrenMax is meaningful per Op.
type ControlMessage struct {
	Op ControlOp

	LogLevel int

	EnvKey      string
	EnvValue    string
	EnvHasValue bool // false means "unset for children"

	ChildrenMax int

	// Done, if non-nil, is closed by the engine once this message (and,
	// for OpExit, the shutdown it begins) has been fully handled — the
	// control source uses this to hold the originating connection open.
	Done chan struct{}
}

// InotifySource is the external watch-descriptor↔devnode registry and
// syscall wrapper behind the inotify synthesizer (spec.md §4.7).
type InotifySource interface {
	Events() <-chan InotifyEvent
	// Watch registers a devnode for IN_CLOSE_WRITE notifications.
	Watch(devnode string, dev DeviceView) error
	Close() error
}

// InotifyEvent is one decoded inotify notification.
type InotifyEvent struct {
	CloseWrite bool // IN_CLOSE_WRITE
	Ignored    bool // IN_IGNORED
	Dev        DeviceView
}

// BlockRereader backs the "whole disks" special case of the inotify
// synthesizer (spec.md §4.7 step 1): attempting a partition-table reread
// and checking whether partition children currently exist. Implemented in
// pkg/inotifywatch, which owns the flock/ioctl(BLKRRPART)/sysfs-walk
// syscalls.
type BlockRereader interface {
	// Reread opens devnode O_RDONLY|O_NONBLOCK, takes a non-blocking
	// exclusive flock, and issues ioctl(BLKRRPART). ok reports whether
	// the ioctl succeeded; err is only non-nil for unexpected failures
	// (e.g. open failing) distinct from "ioctl reported EBUSY".
	Reread(devnode string) (ok bool, err error)
	// PartitionSysPaths lists the sysfs paths of partition children of
	// the whole disk at syspath.
	PartitionSysPaths(syspath string) ([]string, error)
}

// UeventWriter writes the synthetic "change\n" token to a device's sysfs
// uevent file (spec.md §4.7, §6).
type UeventWriter interface {
	WriteChange(syspath string) error
}

// RuleEngine is the external policy engine consulted by workers (spec.md
// §1's explicit Non-goal: "running rules, parsing rule syntax ... all
// happen inside a worker, whose body is an external collaborator here").
// It is declared here because the worker process (D5) needs a concrete
// type to call; this package only calls Stale and Reload, never Apply.
type RuleEngine interface {
	// Apply runs the rules database against dev and returns whether
	// processing succeeded. A non-nil error does not abort the worker;
	// it is logged and the event still acks (or fails) per spec.md §4.5.
	Apply(ctx context.Context, dev DeviceView) error
	// Reload invalidates any cached rules/builtins state.
	Reload() error
	// Stale reports whether the rules database may be stale as of the
	// last freshness check, driving C5 step 2.
	Stale() bool
}
