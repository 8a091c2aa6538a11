/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/rerun_calendar/internal/calendar"
	"github.com/friendsincode/rerun_calendar/internal/export"
	"github.com/friendsincode/rerun_calendar/internal/models"
	"github.com/friendsincode/rerun_calendar/internal/planfile"
	"github.com/friendsincode/rerun_calendar/internal/structural"
	"github.com/friendsincode/rerun_calendar/internal/validation"
)

// ErrInconsistent is returned when a computed calendar fails its own
// validation.
var ErrInconsistent = errors.New("computed calendar failed validation")

// Computation is a calendar computed from a plan, not yet stored.
type Computation struct {
	Document planfile.Document
	Digest   string
	Params   calendar.Parameters[structural.Reflected]
	Result   *calendar.Result[structural.Reflected]
	Report   validation.Report
}

// Compute fills a plan's calendar and re-checks it. A plan without a start
// begins at the next full hour after now.
func Compute(doc planfile.Document, now time.Time, logger zerolog.Logger) (*Computation, error) {
	doc = doc.WithDefaults(now)
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	params, err := doc.Parameters()
	if err != nil {
		return nil, err
	}
	digest, err := doc.Digest()
	if err != nil {
		return nil, err
	}

	res, err := calendar.Generate(params, calendar.WithLogger(logger), calendar.WithNow(func() time.Time { return now }))
	if err != nil {
		return nil, err
	}

	report := validation.Check(params, res.Schedule)
	if !report.Valid {
		logger.Error().
			Str("digest", digest).
			Int("errors", len(report.Errors)).
			Msg("computed calendar failed validation")
		return nil, fmt.Errorf("%w: %s", ErrInconsistent, report.Errors[0].Message)
	}

	return &Computation{
		Document: doc,
		Digest:   digest,
		Params:   params,
		Result:   res,
		Report:   report,
	}, nil
}

// Events lists the computed slots for rendering.
func (c *Computation) Events() []export.Event {
	return export.FromResult(c.Result, c.Params.IntervalMS, nil)
}

// GeneratedSlots counts slots filled from the rotation.
func (c *Computation) GeneratedSlots() int {
	n := 0
	for i := 0; i < c.Params.Intervals; i++ {
		if !c.Result.Pinned(i) {
			n++
		}
	}
	return n
}

// Run converts the computation into a storable run.
func (c *Computation) Run() (*models.CalendarRun, error) {
	interval := time.Duration(c.Params.IntervalMS) * time.Millisecond
	run := &models.CalendarRun{
		Name:               c.Document.Name,
		Digest:             c.Digest,
		StartsAt:           c.Result.Start.Time,
		IntervalMS:         c.Params.IntervalMS,
		Intervals:          c.Params.Intervals,
		AllowRerunsAfterMS: c.Params.AllowRerunsAfterMS,
		ShadowedOverrides:  len(c.Result.Shadowed),
		IgnoredOverrides:   len(c.Result.Ignored),
		Slots:              make([]models.CalendarSlot, 0, c.Result.Schedule.Len()),
	}
	for _, w := range c.Report.Warnings {
		run.Warnings = append(run.Warnings, w.Message)
	}
	for _, ov := range c.Result.Ignored {
		run.Warnings = append(run.Warnings, fmt.Sprintf("override at %s is outside the calendar", ov.At.UTC().Format(time.RFC3339)))
	}

	i := 0
	for at, value := range c.Result.Schedule.All() {
		data, err := json.Marshal(value.Original())
		if err != nil {
			return nil, fmt.Errorf("encode slot %d: %w", i, err)
		}
		run.Slots = append(run.Slots, models.CalendarSlot{
			Position:    i,
			StartsAt:    at.Time,
			EndsAt:      at.Add(interval),
			Label:       export.Label(value),
			ValueJSON:   string(data),
			Fingerprint: string(structural.Hash(value)),
			Override:    c.Result.Pinned(i),
		})
		i++
	}
	return run, nil
}
