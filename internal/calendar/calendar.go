/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package calendar fills a run of equally spaced slots from a rotation of
// values, keeping fixed placements and spacing reruns of the same value.
//
// The fill is first-fit greedy: each empty slot takes the next value in
// the rotation, after the last one assigned, that is far enough from all
// of its other placements. It is deterministic for fixed inputs but makes
// no attempt at a globally optimal assignment.
package calendar

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/rerun_calendar/internal/clock"
	"github.com/friendsincode/rerun_calendar/internal/structural"
)

var (
	// ErrUnsatisfiable is returned when some slot has no valid candidate.
	ErrUnsatisfiable = errors.New("no valid schedule for the given parameters and values")

	// ErrInvalidParameters is returned for malformed parameters.
	ErrInvalidParameters = errors.New("invalid scheduling parameters")
)

// Override pins Value to the slot nearest At.
type Override[V structural.Keyer] struct {
	At    structural.Instant
	Value V
}

// Parameters describe one calendar computation.
type Parameters[V structural.Keyer] struct {
	Values             []V
	Overrides          []Override[V]
	Start              structural.Instant // zero means the next full hour
	Intervals          int
	IntervalMS         int64 // milliseconds
	AllowRerunsAfterMS int64 // milliseconds
}

// Result is a completed calendar along with the bookkeeping that produced
// it.
type Result[V structural.Keyer] struct {
	Start      structural.Instant
	Schedule   *structural.Map[structural.Instant, V]
	Placements *PlacementIndex[V]

	// Shadowed lists overrides replaced by a later override rounding to
	// the same slot.
	Shadowed []Override[V]

	// Ignored lists overrides rounding outside the calendar.
	Ignored []Override[V]

	pinned []bool
}

// Option customizes a computation.
type Option func(*options)

type options struct {
	logger zerolog.Logger
	now    func() time.Time
}

// WithLogger sets the logger used to report shadowed and ignored overrides.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithNow sets the clock used to default the start time.
func WithNow(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// CreateSchedule computes the calendar for params.
func CreateSchedule[V structural.Keyer](params Parameters[V], opts ...Option) (*structural.Map[structural.Instant, V], error) {
	res, err := Generate(params, opts...)
	if err != nil {
		return nil, err
	}
	return res.Schedule, nil
}

type slot[V structural.Keyer] struct {
	value    V
	assigned bool
	override int // index into params.Overrides, -1 when generated
}

// Generate computes the calendar for params and returns it with its
// placement index and the overrides that did not take effect.
func Generate[V structural.Keyer](params Parameters[V], opts ...Option) (*Result[V], error) {
	o := options{logger: zerolog.Nop(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	if err := validate(params); err != nil {
		return nil, err
	}

	start := params.Start
	if start.IsZero() {
		start = structural.At(clock.NextHour(o.now()))
	}

	res := &Result[V]{
		Start:      start,
		Placements: NewPlacementIndex[V](),
		pinned:     make([]bool, params.Intervals),
	}

	slots := make([]slot[V], params.Intervals)
	for i := range slots {
		slots[i].override = -1
	}

	for _, ov := range params.Overrides {
		res.Placements.Record(ov.Value, ov.At)
	}

	for i, ov := range params.Overrides {
		idx := clock.SlotIndex(start.Time, ov.At.Time, params.IntervalMS)
		if idx < 0 || idx >= params.Intervals {
			res.Ignored = append(res.Ignored, ov)
			o.logger.Debug().
				Time("at", ov.At.Time).
				Int("slot", idx).
				Msg("override outside calendar ignored")
			continue
		}
		if prev := slots[idx].override; prev >= 0 {
			res.Shadowed = append(res.Shadowed, params.Overrides[prev])
			o.logger.Warn().
				Int("slot", idx).
				Time("shadowed_at", params.Overrides[prev].At.Time).
				Time("at", ov.At.Time).
				Msg("override shadowed by a later override for the same slot")
		}
		slots[idx] = slot[V]{value: ov.Value, assigned: true, override: i}
		res.pinned[idx] = true
	}

	cur := 0
	n := len(params.Values)
	for i := range slots {
		if slots[i].assigned {
			continue
		}
		at := structural.At(clock.SlotStart(start.Time, i, params.IntervalMS))

		chosen := -1
		for step := 1; step <= n; step++ {
			candidate := (cur + step) % n
			if IsValidPlacement(params.Values[candidate], at, res.Placements, params.AllowRerunsAfterMS) {
				chosen = candidate
				break
			}
		}
		if chosen < 0 {
			return nil, fmt.Errorf("%w: slot %d at %s", ErrUnsatisfiable, i, at.UTC().Format(time.RFC3339))
		}

		value := params.Values[chosen]
		slots[i] = slot[V]{value: value, assigned: true, override: -1}
		res.Placements.Record(value, at)
		cur = chosen
	}

	res.Schedule = structural.NewMap[structural.Instant, V]()
	for i, s := range slots {
		res.Schedule.Set(structural.At(clock.SlotStart(start.Time, i, params.IntervalMS)), s.value)
	}
	return res, nil
}

func validate[V structural.Keyer](params Parameters[V]) error {
	switch {
	case len(params.Values) == 0:
		return fmt.Errorf("%w: rotation is empty", ErrInvalidParameters)
	case params.Intervals <= 0:
		return fmt.Errorf("%w: intervals must be positive, got %d", ErrInvalidParameters, params.Intervals)
	case params.IntervalMS <= 0:
		return fmt.Errorf("%w: interval must be positive, got %dms", ErrInvalidParameters, params.IntervalMS)
	case params.AllowRerunsAfterMS < 0:
		return fmt.Errorf("%w: rerun spacing must not be negative, got %dms", ErrInvalidParameters, params.AllowRerunsAfterMS)
	}
	return nil
}

// Pinned reports whether the slot at index holds an override.
func (r *Result[V]) Pinned(index int) bool {
	return index >= 0 && index < len(r.pinned) && r.pinned[index]
}
