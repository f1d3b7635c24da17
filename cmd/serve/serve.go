package serve

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sevlyar/go-daemon"
	"github.com/spf13/cobra"

	"github.com/stratastor/logger"
	"github.com/stratastor/udevd/config"
	"github.com/stratastor/udevd/pkg/controlsock"
	"github.com/stratastor/udevd/pkg/engine"
	"github.com/stratastor/udevd/pkg/inotifywatch"
	"github.com/stratastor/udevd/pkg/lifecycle"
	"github.com/stratastor/udevd/pkg/monitor"
	"github.com/stratastor/udevd/pkg/ruleengine"
)

var (
	detached    bool
	debug       bool
	childrenMax int
	execDelay   int
	eventTimeout int
	resolveNames string
)

func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start udevd",
		Run:   runServe,
	}

	cmd.Flags().BoolVarP(&detached, "daemon", "d", false, "Run as a daemon")
	cmd.Flags().BoolVarP(&debug, "debug", "D", false, "Enable debug logging")
	cmd.Flags().IntVarP(&childrenMax, "children-max", "c", 0, "Maximum number of worker processes (0 = computed default)")
	cmd.Flags().IntVarP(&execDelay, "exec-delay", "e", 0, "Seconds to delay before running RUN helpers")
	cmd.Flags().IntVarP(&eventTimeout, "event-timeout", "t", 0, "Per-event hard timeout in seconds (0 = config default)")
	cmd.Flags().StringVarP(&resolveNames, "resolve-names", "N", "", "Name resolution timing: early|late|never")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) {
	lcfg := config.NewLoggerConfig(config.GetConfig())
	log, err := logger.NewTag(lcfg, "serve")
	if err != nil {
		panic(err)
	}

	rc := config.GetConfig()
	config.ApplyCmdline(rc, config.ReadProcCmdline(), log)
	applyFlags(rc)

	if err := lifecycle.EnsureSingleInstance(rc.Paths.PIDFile); err != nil {
		log.Error("failed to start", "err", err)
		os.Exit(1)
	}

	if detached {
		ctx := &daemon.Context{
			PidFileName: rc.Paths.PIDFile,
			PidFilePerm: 0644,
			LogFileName: rc.Logs.Path,
			LogFilePerm: 0640,
			WorkDir:     "/",
			Umask:       027,
			Args:        []string{"udevd", "serve"},
		}

		d, err := ctx.Reborn()
		if err != nil {
			log.Error("failed to start daemon", "err", err)
			os.Exit(1)
		}

		if d != nil {
			log.Info("udevd is running as a daemon")
			return
		}
		defer ctx.Release()
	}

	startManager(rc, log)
}

func applyFlags(rc *config.Config) {
	if childrenMax > 0 {
		rc.Engine.ChildrenMax = childrenMax
	}
	if execDelay > 0 {
		rc.Engine.ExecDelaySec = execDelay
	}
	if eventTimeout > 0 {
		rc.Engine.EventTimeoutSec = eventTimeout
	}
	if resolveNames != "" {
		rc.Engine.ResolveNames = resolveNames
	}
	if debug {
		rc.Logger.LogLevel = "debug"
	}
}

func startManager(rc *config.Config, log logger.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := os.MkdirAll(rc.Paths.RulesDir, 0755); err != nil {
		log.Warn("failed to ensure rules directory", "dir", rc.Paths.RulesDir, "err", err)
	}

	self, err := os.Executable()
	if err != nil {
		log.Error("failed to resolve own executable path", "err", err)
		os.Exit(1)
	}

	runDir := "/run/udevd"
	_ = os.MkdirAll(runDir, 0755)
	ackSocket := runDir + "/ack.sock"
	publishSocket := runDir + "/publish.sock"

	mon, err := monitor.New(ctx, nil, log)
	if err != nil {
		log.Error("failed to start uevent monitor", "err", err)
		os.Exit(1)
	}

	pub, err := monitor.NewPublisher(publishSocket+".sub", log)
	if err != nil {
		log.Error("failed to start publisher", "err", err)
		os.Exit(1)
	}
	if err := pub.ListenSubmissions(publishSocket); err != nil {
		log.Error("failed to listen for worker submissions", "err", err)
		os.Exit(1)
	}

	spawner, err := engine.NewExecSpawner(self, ackSocket, publishSocket, log)
	if err != nil {
		log.Error("failed to initialize worker transport", "err", err)
		os.Exit(1)
	}

	ctrl, err := controlsock.New(rc.Paths.ControlSocket, log)
	if err != nil {
		log.Error("failed to start control socket", "err", err)
		os.Exit(1)
	}

	inot, err := inotifywatch.New(log)
	if err != nil {
		log.Error("failed to start inotify watcher", "err", err)
		os.Exit(1)
	}

	re, err := ruleengine.New(rc.Paths.RulesDir, rc.Engine.RulesFreshnessCron, log)
	if err != nil {
		log.Error("rule engine failed to initialize", "err", err)
		os.Exit(1)
	}

	deps := engine.Deps{
		RuleEngine:      re,
		Monitor:         mon,
		Publisher:       pub,
		WorkerTransport: spawner,
		Control:         ctrl,
		Inotify:         inot,
		BlockReread:     inotifywatch.BlockRereader{},
		UeventWriter:    inotifywatch.UeventWriter{},
		DeviceDB:        engine.NopDeviceDatabase{},
		CgroupReaper:    lifecycle.NewCgroupKiller(rc.Paths.WorkerCgroupKill),
		Notify:          lifecycle.Notify,
	}

	ecfg := engine.Config{
		ChildrenMax:         rc.Engine.ChildrenMax,
		EventTimeout:        secondsOrDefault(rc.Engine.EventTimeoutSec, 180),
		ExecDelay:           secondsOrDefault(rc.Engine.ExecDelaySec, 0),
		ResolveNameTiming:   parseResolveNames(rc.Engine.ResolveNames),
		QueueMarkerPath:     rc.Paths.QueueMarker,
		RulesFreshnessEvery: 3 * time.Second,
		WatchdogEvery:       lifecycle.WatchdogInterval(),
		LogLevel:            rc.Logger.LogLevel,
	}

	m := engine.NewManager(ecfg, deps, physicalMemoryBytes(log), log)

	log.Info("udevd starting", "children_max", m.ChildrenMax())
	if err := lifecycle.Notify("READY=1"); err != nil {
		log.Debug("supervisor notify failed", "err", err)
	}

	if err := m.Run(ctx); err != nil {
		log.Error("engine loop exited with error", "err", err)
		lifecycle.RunShutdownHooks()
		os.Exit(1)
	}

	lifecycle.RunShutdownHooks()
}

func secondsOrDefault(seconds, fallback int) time.Duration {
	if seconds <= 0 {
		seconds = fallback
	}
	return time.Duration(seconds) * time.Second
}

func parseResolveNames(v string) engine.ResolveNameTiming {
	switch strings.ToLower(v) {
	case "late":
		return engine.ResolveNamesLate
	case "never":
		return engine.ResolveNamesNever
	default:
		return engine.ResolveNamesEarly
	}
}

// physicalMemoryBytes reads MemTotal out of /proc/meminfo for
// engine.DefaultChildrenMax's clamp (spec.md §4.8).
func physicalMemoryBytes(log logger.Logger) uint64 {
	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		log.Warn("failed to read /proc/meminfo, assuming 1 GiB", "err", err)
		return 1 << 30
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "MemTotal:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			break
		}
		kib, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			break
		}
		return kib * 1024
	}
	return 1 << 30
}
