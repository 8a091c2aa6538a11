/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package refresh rebuilds calendars from plan files on startup, on a cron
// schedule, and whenever a plan file changes.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/friendsincode/rerun_calendar/internal/planfile"
	"github.com/friendsincode/rerun_calendar/internal/scheduler"
	"github.com/friendsincode/rerun_calendar/internal/telemetry"
)

// Triggers recorded in metrics and logs.
const (
	TriggerStartup = "startup"
	TriggerCron    = "cron"
	TriggerWatch   = "watch"
)

const defaultDebounce = 250 * time.Millisecond

// Builder builds one plan.
type Builder interface {
	Build(ctx context.Context, doc planfile.Document) (*scheduler.Outcome, error)
}

// Gate decides whether this instance should refresh at all.
type Gate interface {
	IsLeader() bool
}

// Config configures a Refresher.
type Config struct {
	PlansDir string
	// Cron is a standard five field spec with optional seconds, or a
	// descriptor such as @hourly. Empty disables scheduled refreshes.
	Cron     string
	Watch    bool
	Debounce time.Duration
}

// Summary counts the outcomes of one refresh pass.
type Summary struct {
	Built  int
	Reused int
	Failed int
}

// Refresher keeps stored calendars in step with the plans directory.
type Refresher struct {
	builder Builder
	cfg     Config
	logger  zerolog.Logger
	parser  cron.Parser
	gate    Gate

	mu sync.Mutex // one pass at a time
}

// New validates cfg and returns a Refresher.
func New(builder Builder, cfg Config, logger zerolog.Logger) (*Refresher, error) {
	if strings.TrimSpace(cfg.PlansDir) == "" {
		return nil, errors.New("plans directory is required")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = defaultDebounce
	}
	r := &Refresher{
		builder: builder,
		cfg:     cfg,
		logger:  logger.With().Str("component", "refresh").Str("dir", cfg.PlansDir).Logger(),
		parser:  cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
	if cfg.Cron != "" {
		if _, err := r.parser.Parse(cfg.Cron); err != nil {
			return nil, fmt.Errorf("invalid refresh cron %q: %w", cfg.Cron, err)
		}
	}
	return r, nil
}

// SetGate makes refreshes conditional on g. Without a gate every trigger
// refreshes.
func (r *Refresher) SetGate(g Gate) {
	r.gate = g
}

func (r *Refresher) allowed(trigger string) bool {
	if r.gate == nil || r.gate.IsLeader() {
		return true
	}
	r.logger.Debug().Str("trigger", trigger).Msg("not the leader; skipping refresh")
	return false
}

// RefreshAll builds every plan in the directory.
func (r *Refresher) RefreshAll(ctx context.Context, trigger string) (Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	files, err := planfile.LoadDir(r.cfg.PlansDir)
	if err != nil {
		telemetry.PlanRefreshesTotal.WithLabelValues(trigger, "failed").Inc()
		return Summary{}, err
	}

	var summary Summary
	for _, f := range files {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		r.buildOne(ctx, f, trigger, &summary)
	}
	r.logger.Info().
		Str("trigger", trigger).
		Int("plans", len(files)).
		Int("built", summary.Built).
		Int("reused", summary.Reused).
		Int("failed", summary.Failed).
		Msg("plans refreshed")
	return summary, nil
}

// RefreshFiles builds the given plan files, skipping ones that are gone or
// unreadable.
func (r *Refresher) RefreshFiles(ctx context.Context, paths []string, trigger string) Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	var summary Summary
	for _, path := range paths {
		f, err := planfile.Load(path)
		if err != nil {
			r.logger.Warn().Err(err).Str("path", path).Msg("plan file not loadable")
			telemetry.PlanRefreshesTotal.WithLabelValues(trigger, "failed").Inc()
			summary.Failed++
			continue
		}
		r.buildOne(ctx, f, trigger, &summary)
	}
	return summary
}

func (r *Refresher) buildOne(ctx context.Context, f planfile.File, trigger string, summary *Summary) {
	out, err := r.builder.Build(ctx, f.Document)
	switch {
	case err != nil:
		summary.Failed++
		telemetry.PlanRefreshesTotal.WithLabelValues(trigger, "failed").Inc()
		r.logger.Warn().Err(err).Str("path", f.Path).Msg("plan build failed")
	case out.Reused:
		summary.Reused++
		telemetry.PlanRefreshesTotal.WithLabelValues(trigger, "reused").Inc()
	default:
		summary.Built++
		telemetry.PlanRefreshesTotal.WithLabelValues(trigger, "built").Inc()
		r.logger.Info().Str("path", f.Path).Str("run_id", out.Run.ID).Msg("plan built")
	}
}

// Run refreshes once, then on the cron schedule and on file changes until
// ctx is cancelled.
func (r *Refresher) Run(ctx context.Context) error {
	var watcher *fsnotify.Watcher
	if r.cfg.Watch {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("create plan watcher: %w", err)
		}
		defer w.Close()
		if err := w.Add(r.cfg.PlansDir); err != nil {
			return fmt.Errorf("watch %s: %w", r.cfg.PlansDir, err)
		}
		watcher = w
	}

	if r.allowed(TriggerStartup) {
		if _, err := r.RefreshAll(ctx, TriggerStartup); err != nil {
			r.logger.Error().Err(err).Msg("startup refresh failed")
		}
	}

	if r.cfg.Cron != "" {
		c := cron.New(cron.WithParser(r.parser), cron.WithLocation(time.UTC))
		if _, err := c.AddFunc(r.cfg.Cron, func() {
			if !r.allowed(TriggerCron) {
				return
			}
			if _, err := r.RefreshAll(ctx, TriggerCron); err != nil {
				r.logger.Error().Err(err).Msg("scheduled refresh failed")
			}
		}); err != nil {
			return fmt.Errorf("schedule refresh: %w", err)
		}
		c.Start()
		defer func() { <-c.Stop().Done() }()
		r.logger.Info().Str("cron", r.cfg.Cron).Msg("scheduled refresh enabled")
	}

	if watcher == nil {
		<-ctx.Done()
		return nil
	}
	return r.watch(ctx, watcher)
}

func (r *Refresher) watch(ctx context.Context, w *fsnotify.Watcher) error {
	pending := map[string]struct{}{}
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("plan watcher closed")
			}
			if !planfile.IsPlanFile(ev.Name) || !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			pending[filepath.Clean(ev.Name)] = struct{}{}
			timer.Reset(r.cfg.Debounce)
		case err, ok := <-w.Errors:
			if !ok {
				return errors.New("plan watcher closed")
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				r.logger.Warn().Msg("plan watcher overflow; refreshing everything")
				if r.allowed(TriggerWatch) {
					if _, err := r.RefreshAll(ctx, TriggerWatch); err != nil {
						r.logger.Error().Err(err).Msg("refresh after overflow failed")
					}
				}
				continue
			}
			r.logger.Warn().Err(err).Msg("plan watcher error")
		case <-timer.C:
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			clear(pending)
			sort.Strings(paths)
			if r.allowed(TriggerWatch) {
				r.RefreshFiles(ctx, paths, TriggerWatch)
			}
		}
	}
}
