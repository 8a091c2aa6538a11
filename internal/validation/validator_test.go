/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package validation

import (
	"testing"
	"time"

	"github.com/friendsincode/rerun_calendar/internal/calendar"
	"github.com/friendsincode/rerun_calendar/internal/structural"
)

const dayMS = int64(24 * time.Hour / time.Millisecond)

func day(n int) structural.Instant {
	return structural.At(time.Date(2020, 1, n, 0, 0, 0, 0, time.UTC))
}

func params() calendar.Parameters[structural.String] {
	return calendar.Parameters[structural.String]{
		Values: []structural.String{"A", "B", "C", "D", "E", "F", "G", "H"},
		Overrides: []calendar.Override[structural.String]{
			{At: day(1), Value: "A"},
			{At: day(2), Value: "B"},
			{At: day(4), Value: "C"},
			{At: day(5), Value: "D"},
			{At: day(7), Value: "F"},
			{At: day(8), Value: "G"},
			{At: day(9), Value: "H"},
		},
		Start:              day(1),
		Intervals:          10,
		IntervalMS:         dayMS,
		AllowRerunsAfterMS: 2 * dayMS,
	}
}

func kinds(vs []Violation) []Kind {
	out := make([]Kind, len(vs))
	for i, v := range vs {
		out[i] = v.Kind
	}
	return out
}

func TestGeneratedCalendarIsValid(t *testing.T) {
	p := params()
	schedule, err := calendar.CreateSchedule(p)
	if err != nil {
		t.Fatalf("CreateSchedule: %v", err)
	}
	report := Check(p, schedule)
	if !report.Valid {
		t.Fatalf("report errors = %+v", report.Errors)
	}
	if len(report.Warnings) != 0 {
		t.Fatalf("warnings = %+v", report.Warnings)
	}
}

func TestCheckFindsTamperedSlots(t *testing.T) {
	tests := []struct {
		name   string
		tamper func(*structural.Map[structural.Instant, structural.String])
		want   Kind
	}{
		{"rerun too close", func(m *structural.Map[structural.Instant, structural.String]) {
			m.Set(day(3), "B")
		}, KindRerun},
		{"override replaced", func(m *structural.Map[structural.Instant, structural.String]) {
			m.Set(day(4), "E")
		}, KindOverrideMissing},
		{"slot dropped", func(m *structural.Map[structural.Instant, structural.String]) {
			m.Delete(day(10))
		}, KindSlotCount},
		{"slot after range", func(m *structural.Map[structural.Instant, structural.String]) {
			m.Delete(day(10))
			m.Set(day(11), "A")
		}, KindRange},
		{"misaligned slot", func(m *structural.Map[structural.Instant, structural.String]) {
			m.Delete(day(10))
			m.Set(day(10).AddMillis(3600*1000), "A")
		}, KindAlignment},
		{"out of order", func(m *structural.Map[structural.Instant, structural.String]) {
			m.Delete(day(3))
			m.Set(day(3), "E")
		}, KindOrder},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := params()
			schedule, err := calendar.CreateSchedule(p)
			if err != nil {
				t.Fatalf("CreateSchedule: %v", err)
			}
			tt.tamper(schedule)

			report := Check(p, schedule)
			if report.Valid {
				t.Fatal("expected tampered calendar to be invalid")
			}
			found := false
			for _, v := range report.Errors {
				if v.Kind == tt.want {
					found = true
				}
			}
			if !found {
				t.Fatalf("errors = %v, want a %s violation", kinds(report.Errors), tt.want)
			}
		})
	}
}

func TestCheckWarnsOnShadowedAndClashingOverrides(t *testing.T) {
	p := calendar.Parameters[structural.String]{
		Values: []structural.String{"A", "B", "C"},
		Overrides: []calendar.Override[structural.String]{
			{At: day(2), Value: "C"},
			{At: day(2).AddMillis(3600 * 1000), Value: "A"},
			{At: day(3), Value: "A"},
		},
		Start:              day(1),
		Intervals:          4,
		IntervalMS:         dayMS,
		AllowRerunsAfterMS: dayMS / 2,
	}
	schedule, err := calendar.CreateSchedule(p)
	if err != nil {
		t.Fatalf("CreateSchedule: %v", err)
	}

	report := Check(p, schedule)
	if !report.Valid {
		t.Fatalf("errors = %+v", report.Errors)
	}
	want := []Kind{KindOverrideShadow}
	got := kinds(report.Warnings)
	if len(got) != len(want) || got[0] != want[0] {
		t.Fatalf("warnings = %v, want %v", got, want)
	}

	p.AllowRerunsAfterMS = dayMS
	schedule, err = calendar.CreateSchedule(p)
	if err != nil {
		t.Fatalf("CreateSchedule: %v", err)
	}
	report = Check(p, schedule)
	if !report.Valid {
		t.Fatalf("override clashes should only warn, errors = %+v", report.Errors)
	}
	if len(report.Warnings) != 2 {
		t.Fatalf("warnings = %v, want shadow and rerun", kinds(report.Warnings))
	}
}
