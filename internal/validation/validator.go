/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package validation re-walks a finished calendar and reports anything a
// consumer should not trust: misordered or misaligned slots, overrides that
// did not make it into the schedule, and reruns closer than allowed.
package validation

import (
	"fmt"
	"time"

	"github.com/friendsincode/rerun_calendar/internal/calendar"
	"github.com/friendsincode/rerun_calendar/internal/clock"
	"github.com/friendsincode/rerun_calendar/internal/structural"
)

// Kind identifies the check that produced a violation.
type Kind string

const (
	KindSlotCount       Kind = "slot_count"
	KindOrder           Kind = "order"
	KindRange           Kind = "range"
	KindAlignment       Kind = "alignment"
	KindOverrideMissing Kind = "override_missing"
	KindOverrideShadow  Kind = "override_shadowed"
	KindRerun           Kind = "rerun"
)

// Severity of a violation.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Violation is one finding.
type Violation struct {
	Kind     Kind           `json:"kind"`
	Severity Severity       `json:"severity"`
	Message  string         `json:"message"`
	At       time.Time      `json:"at"`
	Details  map[string]any `json:"details,omitempty"`
}

// Report is the outcome of Check.
type Report struct {
	Valid    bool        `json:"valid"`
	Errors   []Violation `json:"errors"`
	Warnings []Violation `json:"warnings"`
}

func (r *Report) add(v Violation) {
	switch v.Severity {
	case SeverityError:
		r.Errors = append(r.Errors, v)
		r.Valid = false
	default:
		r.Warnings = append(r.Warnings, v)
	}
}

type placement struct {
	at       structural.Instant
	override bool
}

// Check validates schedule against the parameters it was computed from. A
// zero params.Start is taken from the first slot.
func Check[V structural.Keyer](params calendar.Parameters[V], schedule *structural.Map[structural.Instant, V]) Report {
	report := Report{Valid: true, Errors: []Violation{}, Warnings: []Violation{}}

	entries := schedule.Entries()
	start := params.Start
	if start.IsZero() && len(entries) > 0 {
		start = entries[0].Key
	}

	if len(entries) != params.Intervals {
		report.add(Violation{
			Kind:     KindSlotCount,
			Severity: SeverityError,
			Message:  fmt.Sprintf("calendar has %d slots, expected %d", len(entries), params.Intervals),
			At:       start.Time,
			Details:  map[string]any{"got": len(entries), "want": params.Intervals},
		})
	}
	if params.IntervalMS <= 0 {
		return report
	}

	end := structural.At(clock.RangeEnd(start.Time, params.Intervals, params.IntervalMS))
	slotOf := map[int]V{}
	for i, e := range entries {
		if i > 0 && !entries[i-1].Key.Before(e.Key) {
			report.add(Violation{
				Kind:     KindOrder,
				Severity: SeverityError,
				Message:  fmt.Sprintf("slot %d at %s does not follow slot %d", i, e.Key.UTC().Format(time.RFC3339), i-1),
				At:       e.Key.Time,
			})
		}
		if e.Key.Millis() < start.Millis() || e.Key.Millis() >= end.Millis() {
			report.add(Violation{
				Kind:     KindRange,
				Severity: SeverityError,
				Message:  fmt.Sprintf("slot at %s is outside the calendar range", e.Key.UTC().Format(time.RFC3339)),
				At:       e.Key.Time,
			})
			continue
		}
		if e.Key.SubMillis(start)%params.IntervalMS != 0 {
			report.add(Violation{
				Kind:     KindAlignment,
				Severity: SeverityError,
				Message:  fmt.Sprintf("slot at %s is not on a slot boundary", e.Key.UTC().Format(time.RFC3339)),
				At:       e.Key.Time,
			})
			continue
		}
		slotOf[int(e.Key.SubMillis(start)/params.IntervalMS)] = e.Value
	}

	accepted := map[int]int{}
	for i, ov := range params.Overrides {
		idx := clock.SlotIndex(start.Time, ov.At.Time, params.IntervalMS)
		if idx < 0 || idx >= params.Intervals {
			continue
		}
		if prev, ok := accepted[idx]; ok {
			report.add(Violation{
				Kind:     KindOverrideShadow,
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("override at %s is replaced by a later override for the same slot", params.Overrides[prev].At.UTC().Format(time.RFC3339)),
				At:       params.Overrides[prev].At.Time,
				Details:  map[string]any{"slot": idx},
			})
		}
		accepted[idx] = i
	}

	for idx := 0; idx < params.Intervals; idx++ {
		i, ok := accepted[idx]
		if !ok {
			continue
		}
		ov := params.Overrides[i]
		got, ok := slotOf[idx]
		if ok && structural.Equal(got, ov.Value) {
			continue
		}
		report.add(Violation{
			Kind:     KindOverrideMissing,
			Severity: SeverityError,
			Message:  fmt.Sprintf("override at %s is not in slot %d", ov.At.UTC().Format(time.RFC3339), idx),
			At:       ov.At.Time,
			Details:  map[string]any{"slot": idx},
		})
	}

	byValue := structural.NewMap[V, []placement]()
	for _, ov := range params.Overrides {
		byValue.Update(ov.Value, func(cur []placement, _ bool) ([]placement, bool) {
			return append(cur, placement{at: ov.At, override: true}), true
		})
	}
	for idx := 0; idx < params.Intervals; idx++ {
		value, ok := slotOf[idx]
		if !ok {
			continue
		}
		if _, pinned := accepted[idx]; pinned {
			continue
		}
		at := structural.At(clock.SlotStart(start.Time, idx, params.IntervalMS))
		byValue.Update(value, func(cur []placement, _ bool) ([]placement, bool) {
			return append(cur, placement{at: at}), true
		})
	}

	for value, placements := range byValue.All() {
		for i := 0; i < len(placements); i++ {
			for j := i + 1; j < len(placements); j++ {
				a, b := placements[i], placements[j]
				gap := a.at.SubMillis(b.at)
				if gap < 0 {
					gap = -gap
				}
				if gap > params.AllowRerunsAfterMS {
					continue
				}
				severity := SeverityError
				if a.override && b.override {
					severity = SeverityWarning
				}
				report.add(Violation{
					Kind:     KindRerun,
					Severity: severity,
					Message: fmt.Sprintf("value %s repeats %s apart at %s and %s",
						structural.Hash(value), time.Duration(gap)*time.Millisecond,
						a.at.UTC().Format(time.RFC3339), b.at.UTC().Format(time.RFC3339)),
					At:      b.at.Time,
					Details: map[string]any{"gap_ms": gap, "allow_reruns_after_ms": params.AllowRerunsAfterMS},
				})
			}
		}
	}

	return report
}
