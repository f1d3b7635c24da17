// Copyright 2025 Raamsri Kumar <raam@tinkershack.in>
// Copyright 2025 The StrataSTOR Authors and Contributors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"os"
	"strconv"
	"time"

	"github.com/stratastor/logger"
)

const (
	idleCleanupAfter = 3 * time.Second
	exitGracePeriod  = 30 * time.Second
	timeoutScanEvery = 500 * time.Millisecond
)

// Manager is the process-wide core state (spec.md §3, "Manager (M)"). All
// mutation happens on the goroutine running (*Manager).Run; every other
// goroutine in this package only sends on a channel, so Manager carries no
// locks.
type Manager struct {
	cfg Config
	log logger.Logger

	q       *queue
	workers *workerPool

	ruleEngine      RuleEngine
	monitor         MonitorSource
	publisher       MonitorPublisher
	workerTransport WorkerTransport
	control         ControlSource
	inotify         InotifySource
	blockReread     BlockRereader
	ueventWriter    UeventWriter
	deviceDB        DeviceDatabase
	cgroupReaper    CgroupReaper

	// notifyFunc reports supervisor status (spec.md §6's
	// READY=1/RELOADING=1/STOPPING=1/STATUS=...), e.g.
	// pkg/lifecycle.Notify. A nil func is a no-op.
	notifyFunc func(status string) error

	// overrides are dynamic property overrides (spec.md §3): a nil value
	// means "unset for children", matching SET_ENV "k=".
	overrides map[string]*string

	stopExecQueue bool
	exit          bool
	exitErr       error

	// logLevelName is the logger.Config-style level name currently in
	// effect, mutated by OpSetLogLevel (spec.md §4.6).
	logLevelName string

	lastRulesCheck time.Time

	sigCh chan os.Signal

	idleCleanupTimer *time.Timer
	exitDeadline     *time.Timer
	timeoutScan      *time.Ticker
	watchdog         *time.Ticker

	// pendingExitDone, if set, is closed once a graceful shutdown begun
	// by an EXIT control message actually completes, letting the client
	// connection that issued EXIT block until work has drained.
	pendingExitDone chan struct{}

	ownerPID int
}

// Deps bundles the external collaborators the manager is wired to. Each is
// an interface boundary named in spec.md §1's "Out of scope" list; concrete
// implementations live in pkg/monitor, pkg/controlsock, pkg/inotifywatch
// and this package's WorkerTransport.
type Deps struct {
	RuleEngine      RuleEngine
	Monitor         MonitorSource
	Publisher       MonitorPublisher
	WorkerTransport WorkerTransport
	Control         ControlSource
	Inotify         InotifySource
	BlockReread     BlockRereader
	UeventWriter    UeventWriter
	DeviceDB        DeviceDatabase
	CgroupReaper    CgroupReaper
	Notify          func(status string) error
}

// NewManager wires a Manager from cfg and deps (spec.md §4.8 "Startup").
// physicalMemoryBytes feeds the default children_max calculation.
func NewManager(cfg Config, deps Deps, physicalMemoryBytes uint64, log logger.Logger) *Manager {
	children := resolvedChildrenMax(cfg, physicalMemoryBytes)

	levelName := cfg.LogLevel
	if levelName == "" {
		levelName = "info"
	}

	m := &Manager{
		cfg:             cfg,
		log:             log,
		q:               newQueue(cfg.QueueMarkerPath, log),
		workers:         newWorkerPool(children),
		ruleEngine:      deps.RuleEngine,
		monitor:         deps.Monitor,
		publisher:       deps.Publisher,
		workerTransport: deps.WorkerTransport,
		control:         deps.Control,
		inotify:         deps.Inotify,
		blockReread:     deps.BlockReread,
		ueventWriter:    deps.UeventWriter,
		deviceDB:        deps.DeviceDB,
		cgroupReaper:    deps.CgroupReaper,
		notifyFunc:      deps.Notify,
		overrides:       make(map[string]*string),
		logLevelName:    levelName,
		ownerPID:        os.Getpid(),
	}

	if m.workerTransport != nil {
		m.workerTransport.SetOverrides(m.overrides)
		m.workerTransport.SetLogLevel(m.logLevelName)
	}

	return m
}

// ChildrenMax returns the current worker cap.
func (m *Manager) ChildrenMax() int {
	return m.workers.childrenMax
}

// QueueLen returns the number of events currently queued or running.
func (m *Manager) QueueLen() int {
	return m.q.len()
}

// WorkerCount returns the number of live worker processes.
func (m *Manager) WorkerCount() int {
	return m.workers.size()
}

// reload discards cached rules and builtins and SIGTERMs all workers, but
// does not drop queued events (spec.md §4.8 "Reload"). The next dispatch
// lazily rebuilds the rules database.
func (m *Manager) reload() {
	if err := m.ruleEngine.Reload(); err != nil {
		m.log.Error("rule engine reload failed", "err", err)
	}
	m.terminateWorkers()
	m.notify("RELOADING=1\nSTATUS=Flushing configuration...")
}

func (m *Manager) reloadComplete() {
	m.notify("READY=1\nSTATUS=Processing with " + strconv.Itoa(m.ChildrenMax()) + " children at max")
}

// beginGracefulShutdown implements spec.md §4.8 "Graceful shutdown
// (manager_exit)": stop accepting new control/uevent/inotify traffic, drop
// QUEUED events, SIGTERM all non-killed workers, and arm the exit-deadline
// timer. RUNNING events are left to finish or time out.
func (m *Manager) beginGracefulShutdown() {
	if m.exit {
		return
	}
	m.exit = true
	m.notify("STOPPING=1")

	_ = m.control.Close()
	_ = m.inotify.Close()
	_ = m.monitor.Close()

	m.q.cleanup(CleanupQueued)
	m.terminateWorkers()

	m.exitDeadline = time.NewTimer(exitGracePeriod)
}

func (m *Manager) terminateWorkers() {
	pids := m.workers.killAllNonKilled()
	for _, pid := range pids {
		if w, ok := m.workers.byPid(pid); ok && w.Endpoint != nil {
			_ = w.Endpoint.Close()
		}
		_ = sigterm(pid)
	}
}

// postHook runs after every loop iteration (spec.md §4.1's four-branch
// post hook): if the queue is non-empty, nothing; else if workers exist,
// arm the idle-cleanup timer; else if exit is set, leave termination to
// Run's immediately-following done() check (exit && empty queue && no
// workers is exactly this branch's condition, so done() is reading this
// branch's own decision, not a separate one); otherwise the manager is
// idle and still running, so ask the owning cgroup, if any, to SIGKILL
// any stray descendants left behind by workers that have already exited.
func (m *Manager) postHook() {
	if m.q.len() > 0 {
		return
	}
	if m.workers.size() > 0 {
		m.armIdleCleanup()
		return
	}
	if m.exit {
		return
	}
	if m.cgroupReaper != nil {
		if err := m.cgroupReaper.KillStrayDescendants(); err != nil {
			m.log.Debug("cgroup stray-descendant reap failed", "err", err)
		}
	}
}

func (m *Manager) armIdleCleanup() {
	if m.idleCleanupTimer == nil {
		m.idleCleanupTimer = time.NewTimer(idleCleanupAfter)
	}
}

func (m *Manager) disarmIdleCleanup() {
	if m.idleCleanupTimer != nil {
		m.idleCleanupTimer.Stop()
		m.idleCleanupTimer = nil
	}
}

// onIdleCleanup SIGTERMs workers that have been idle for idleCleanupAfter.
// Only IDLE workers are terminated; RUNNING ones are left alone.
func (m *Manager) onIdleCleanup() {
	m.idleCleanupTimer = nil
	for _, w := range m.workers.all() {
		if w.State == WorkerIdle {
			w.State = WorkerKilled
			if w.Endpoint != nil {
				_ = w.Endpoint.Close()
			}
			_ = sigterm(w.PID)
		}
	}
}

func (m *Manager) done() bool {
	return m.exit && m.q.len() == 0 && m.workers.size() == 0
}

// setLogLevel implements SET_LOG_LEVEL's "update logger" half (spec.md
// §4.6): it swaps m.log for a freshly built logger at the requested level,
// so every subsequent log call in this process observes it immediately,
// and installs the level on workerTransport so respawned workers reinherit
// it (the SIGTERM half of the same control op is the caller's concern).
func (m *Manager) setLogLevel(priority int) {
	level := syslogPriorityToLevel(priority)
	m.logLevelName = level

	if l, err := logger.NewTag(logger.Config{LogLevel: level}, "engine"); err != nil {
		m.log.Warn("failed to rebuild logger at new level", "level", level, "err", err)
	} else {
		m.log = l
	}

	if m.workerTransport != nil {
		m.workerTransport.SetLogLevel(level)
	}
}

func (m *Manager) notify(status string) {
	if m.notifyFunc == nil {
		return
	}
	if err := m.notifyFunc(status); err != nil {
		m.log.Warn("supervisor notify failed", "err", err)
	}
}
