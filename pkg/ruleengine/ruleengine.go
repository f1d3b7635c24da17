// Copyright 2025 Raamsri Kumar <raam@tinkershack.in>
// Copyright 2025 The StrataSTOR Authors and Contributors
// SPDX-License-Identifier: Apache-2.0

// Package ruleengine implements engine.RuleEngine (spec.md §1's explicit
// Non-goal on rule syntax/execution semantics): a minimal built-in engine
// sufficient to exercise the worker contract, plus the rules-directory
// freshness sweep SPEC_FULL.md §11 wires to gocron/v2.
package ruleengine

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/stratastor/logger"
	"github.com/stratastor/udevd/pkg/engine"
	"github.com/stratastor/udevd/pkg/errors"
)

// Rule is one builtin matching rule: if every non-empty matcher field
// equals the device's corresponding field, Properties are applied.
type Rule struct {
	MatchSubsystem string
	MatchDevType   string
	MatchAction    string
	Properties     map[string]string
}

// Engine is a minimal, builtin-only rules database loaded from a
// directory of ".rules" files (one rule per non-comment line, in the
// form "SUBSYSTEM=x,DEVTYPE=y,ACTION=z KEY=VALUE,KEY=VALUE").
type Engine struct {
	log     logger.Logger
	dir     string
	cron    string
	scheduler gocron.Scheduler

	mu    sync.RWMutex
	rules []Rule
	stale bool
	mtime time.Time
}

// New loads dir's rule files and, if cronExpr is non-empty, starts a
// gocron job that re-checks the directory's mtime on that cadence,
// flipping Stale() when it is newer than at the last load — SPEC_FULL.md §11's "throttled
// freshness check" generalized from a hardcoded 3s clock to a configurable
// schedule, the same scheduler/job shape the retrieved probe scheduler
// uses for its own periodic sweeps.
func New(dir, cronExpr string, log logger.Logger) (*Engine, error) {
	e := &Engine{log: log, dir: dir, cron: cronExpr}
	if err := e.load(); err != nil {
		return nil, err
	}

	if cronExpr != "" {
		sched, err := gocron.NewScheduler()
		if err != nil {
			return nil, errors.Wrap(err, errors.EngineRuleEngineInitFailed).WithMetadata("operation", "new_scheduler")
		}
		if _, err := sched.NewJob(
			gocron.CronJob(cronExpr, false),
			gocron.NewTask(e.checkFreshness),
			gocron.WithName("rules-freshness"),
		); err != nil {
			return nil, errors.Wrap(err, errors.EngineRuleEngineInitFailed).WithMetadata("operation", "new_job")
		}
		e.scheduler = sched
		sched.Start()
	}

	return e, nil
}

func (e *Engine) checkFreshness() {
	info, err := os.Stat(e.dir)
	if err != nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if info.ModTime().After(e.mtime) {
		e.stale = true
	}
}

// Apply matches dev against every loaded rule and logs the properties a
// matching rule would have set. spec.md §1's Non-goal excludes rule
// execution semantics from this package entirely, so no property is ever
// actually written back onto dev here; the one form of dynamic property
// this daemon does carry — SET_ENV's overrides (spec.md §4.6) — lands
// directly in each respawned worker's OS environment (pkg/engine's
// execSpawner.SetOverrides), never passed through Apply.
func (e *Engine) Apply(ctx context.Context, dev engine.DeviceView) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, r := range e.rules {
		if r.MatchSubsystem != "" && r.MatchSubsystem != dev.Subsystem() {
			continue
		}
		if r.MatchDevType != "" && r.MatchDevType != dev.DevType() {
			continue
		}
		if r.MatchAction != "" && r.MatchAction != dev.Action() {
			continue
		}
		e.log.Debug("rule matched", "devpath", dev.DevPath(), "properties", r.Properties)
	}
	return nil
}

// Reload re-reads the rules directory and clears staleness.
func (e *Engine) Reload() error {
	return e.load()
}

// Stale reports whether the rules directory may have changed since the
// last load, per the freshness sweep's last observation.
func (e *Engine) Stale() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stale
}

func (e *Engine) load() error {
	entries, err := os.ReadDir(e.dir)
	if err != nil {
		if os.IsNotExist(err) {
			e.mu.Lock()
			e.rules = nil
			e.stale = false
			e.mtime = time.Now()
			e.mu.Unlock()
			return nil
		}
		return errors.Wrap(err, errors.EngineRuleEngineInitFailed).WithMetadata("dir", e.dir)
	}

	var rules []Rule
	var newest time.Time
	for _, ent := range entries {
		if ent.IsDir() || filepath.Ext(ent.Name()) != ".rules" {
			continue
		}
		info, err := ent.Info()
		if err == nil && info.ModTime().After(newest) {
			newest = info.ModTime()
		}
		parsed, err := parseRuleFile(filepath.Join(e.dir, ent.Name()))
		if err != nil {
			e.log.Warn("skipping unparseable rules file", "file", ent.Name(), "err", err)
			continue
		}
		rules = append(rules, parsed...)
	}
	if info, err := os.Stat(e.dir); err == nil && info.ModTime().After(newest) {
		newest = info.ModTime()
	}

	e.mu.Lock()
	e.rules = rules
	e.stale = false
	e.mtime = newest
	e.mu.Unlock()
	return nil
}

// Close stops the freshness scheduler, if one was started.
func (e *Engine) Close() error {
	if e.scheduler != nil {
		return e.scheduler.Shutdown()
	}
	return nil
}
