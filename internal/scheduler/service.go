/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package scheduler turns plans into stored calendar runs. Identical plans
// are computed once: later builds find the earlier run by digest in the
// cache or the database.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/friendsincode/rerun_calendar/internal/cache"
	"github.com/friendsincode/rerun_calendar/internal/calendar"
	"github.com/friendsincode/rerun_calendar/internal/events"
	"github.com/friendsincode/rerun_calendar/internal/export"
	"github.com/friendsincode/rerun_calendar/internal/models"
	"github.com/friendsincode/rerun_calendar/internal/planfile"
	"github.com/friendsincode/rerun_calendar/internal/storage"
	"github.com/friendsincode/rerun_calendar/internal/store"
	"github.com/friendsincode/rerun_calendar/internal/telemetry"
)

// Outcome describes one Build.
type Outcome struct {
	Run *models.CalendarRun

	// Reused is set when an earlier run with the same digest was returned.
	Reused bool
	// Cached is set when that run came from the cache.
	Cached bool
}

// Service orchestrates calendar builds.
type Service struct {
	store   *store.Store
	cache   *cache.Cache
	bus     *events.Bus
	objects storage.ObjectStore
	logger  zerolog.Logger
	now     func() time.Time

	// build serializes computing and storing so concurrent builds of one
	// plan store a single run.
	build sync.Mutex
}

// New constructs the scheduler service.
func New(st *store.Store, logger zerolog.Logger) *Service {
	return &Service{
		store:  st,
		logger: logger.With().Str("component", "scheduler").Logger(),
		now:    time.Now,
	}
}

// SetCache sets the cache instance for the scheduler.
func (s *Service) SetCache(c *cache.Cache) {
	s.cache = c
}

// SetBus sets the bus build events are published on.
func (s *Service) SetBus(b *events.Bus) {
	s.bus = b
}

// SetObjectStore enables publishing iCal feeds for new runs.
func (s *Service) SetObjectStore(o storage.ObjectStore) {
	s.objects = o
}

// Build returns the run for doc, computing and storing it unless an
// identical plan was built before.
func (s *Service) Build(ctx context.Context, doc planfile.Document) (out *Outcome, err error) {
	ctx, span := telemetry.StartSpan(ctx, "scheduler.build", attribute.String("calendar.name", doc.Name))
	defer func() { telemetry.EndSpan(span, err) }()

	started := time.Now()
	doc = doc.WithDefaults(s.now())
	if err := doc.Validate(); err != nil {
		s.fail(doc, "invalid", err)
		return nil, err
	}
	digest, err := doc.Digest()
	if err != nil {
		s.fail(doc, "invalid", err)
		return nil, err
	}
	span.SetAttributes(attribute.String("calendar.digest", digest))

	if run, ok := s.cache.GetRun(ctx, digest); ok {
		return s.reused(run, true), nil
	}

	s.build.Lock()
	defer s.build.Unlock()

	run, err := s.store.FindByDigest(ctx, digest)
	switch {
	case err == nil:
		s.remember(ctx, run)
		return s.reused(run, false), nil
	case !errors.Is(err, store.ErrNotFound):
		s.fail(doc, "error", err)
		return nil, err
	}

	comp, err := Compute(doc, s.now(), s.logger)
	if err != nil {
		s.fail(doc, outcomeFor(err), err)
		return nil, err
	}
	run, err = comp.Run()
	if err != nil {
		s.fail(doc, "error", err)
		return nil, err
	}
	run.CreatedAt = s.now().UTC()

	published := s.publishFeed(ctx, run)

	if err := s.store.Save(ctx, run); err != nil {
		if existing, findErr := s.store.FindByDigest(ctx, digest); findErr == nil {
			s.logger.Debug().Str("digest", digest).Msg("run stored concurrently; reusing it")
			return s.reused(existing, false), nil
		}
		s.fail(doc, "error", err)
		return nil, fmt.Errorf("store calendar run: %w", err)
	}
	s.remember(ctx, run)

	telemetry.CalendarBuildsTotal.WithLabelValues("built").Inc()
	telemetry.CalendarBuildDuration.Observe(time.Since(started).Seconds())
	telemetry.CalendarSlotsGenerated.Add(float64(comp.GeneratedSlots()))
	telemetry.CalendarOverridesDropped.WithLabelValues("shadowed").Add(float64(len(comp.Result.Shadowed)))
	telemetry.CalendarOverridesDropped.WithLabelValues("ignored").Add(float64(len(comp.Result.Ignored)))
	telemetry.CalendarValidationWarnings.Add(float64(len(comp.Report.Warnings)))

	s.logger.Info().
		Str("run_id", run.ID).
		Str("name", run.Name).
		Str("digest", digest).
		Int("slots", len(run.Slots)).
		Int("warnings", len(run.Warnings)).
		Dur("took", time.Since(started)).
		Msg("calendar built")

	s.bus.Publish(events.EventCalendarBuilt, runPayload(run))
	if published {
		s.bus.Publish(events.EventFeedPublished, events.Payload{
			"run_id":   run.ID,
			"name":     run.Name,
			"feed_url": run.FeedURL,
		})
	}
	return &Outcome{Run: run}, nil
}

// Preview computes doc without storing anything.
func (s *Service) Preview(ctx context.Context, doc planfile.Document) (comp *Computation, err error) {
	_, span := telemetry.StartSpan(ctx, "scheduler.preview", attribute.String("calendar.name", doc.Name))
	defer func() { telemetry.EndSpan(span, err) }()
	return Compute(doc, s.now(), s.logger)
}

// Get loads a run with its slots.
func (s *Service) Get(ctx context.Context, id string) (*models.CalendarRun, error) {
	return s.store.Get(ctx, id)
}

// List returns recent runs without slots.
func (s *Service) List(ctx context.Context, limit int) ([]models.CalendarRun, error) {
	return s.store.List(ctx, limit)
}

// Delete removes a run and its cache entry.
func (s *Service) Delete(ctx context.Context, id string) error {
	run, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	if err := s.cache.InvalidateRun(ctx, run.Digest); err != nil {
		s.logger.Debug().Err(err).Str("digest", run.Digest).Msg("cache invalidation failed")
	}
	return nil
}

// Prune deletes runs created before cutoff along with their cache
// entries.
func (s *Service) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	digests, err := s.store.Prune(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	for _, digest := range digests {
		if err := s.cache.InvalidateRun(ctx, digest); err != nil {
			s.logger.Debug().Err(err).Str("digest", digest).Msg("cache invalidation failed")
		}
	}
	return len(digests), nil
}

// Feed renders a stored run as iCalendar.
func (s *Service) Feed(ctx context.Context, id string) ([]byte, *models.CalendarRun, error) {
	run, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return export.ICal(run.Name, export.FromRun(run), run.CreatedAt), run, nil
}

func (s *Service) reused(run *models.CalendarRun, cached bool) *Outcome {
	outcome := "reused"
	if cached {
		outcome = "cached"
	}
	telemetry.CalendarBuildsTotal.WithLabelValues(outcome).Inc()
	s.logger.Debug().Str("run_id", run.ID).Str("digest", run.Digest).Bool("cached", cached).Msg("reusing calendar run")
	s.bus.Publish(events.EventCalendarReused, runPayload(run))
	return &Outcome{Run: run, Reused: true, Cached: cached}
}

func (s *Service) remember(ctx context.Context, run *models.CalendarRun) {
	if err := s.cache.SetRun(ctx, run); err != nil {
		s.logger.Debug().Err(err).Str("digest", run.Digest).Msg("cache write failed")
	}
}

// publishFeed uploads the run's iCal feed and records its URL. Upload
// failures become run warnings.
func (s *Service) publishFeed(ctx context.Context, run *models.CalendarRun) bool {
	if s.objects == nil {
		return false
	}
	key := FeedKey(run)
	data := export.ICal(run.Name, export.FromRun(run), run.CreatedAt)
	if err := s.objects.Put(ctx, key, data, export.ContentTypeICal); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("feed upload failed")
		run.Warnings = append(run.Warnings, "feed upload failed: "+err.Error())
		return false
	}
	run.FeedURL = s.objects.URL(key)
	return true
}

func (s *Service) fail(doc planfile.Document, outcome string, err error) {
	telemetry.CalendarBuildsTotal.WithLabelValues(outcome).Inc()
	s.logger.Warn().Err(err).Str("name", doc.Name).Str("outcome", outcome).Msg("calendar build failed")
	s.bus.Publish(events.EventCalendarFailed, events.Payload{
		"name":    doc.Name,
		"outcome": outcome,
		"error":   err.Error(),
	})
}

// FeedKey is the object key a run's feed is published under.
func FeedKey(run *models.CalendarRun) string {
	prefix := run.Digest
	if len(prefix) > 12 {
		prefix = prefix[:12]
	}
	return fmt.Sprintf("feeds/%s/%s", prefix, export.Filename(run.Name, run.StartsAt))
}

func outcomeFor(err error) string {
	switch {
	case errors.Is(err, calendar.ErrUnsatisfiable):
		return "unsatisfiable"
	case errors.Is(err, calendar.ErrInvalidParameters), errors.Is(err, planfile.ErrInvalidPlan):
		return "invalid"
	default:
		return "error"
	}
}

func runPayload(run *models.CalendarRun) events.Payload {
	return events.Payload{
		"run_id":    run.ID,
		"name":      run.Name,
		"digest":    run.Digest,
		"starts_at": run.StartsAt,
		"ends_at":   run.EndsAt(),
		"intervals": run.Intervals,
		"warnings":  len(run.Warnings),
	}
}
