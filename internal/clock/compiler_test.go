/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package clock

import (
	"testing"
	"time"
)

const dayMS = int64(24 * time.Hour / time.Millisecond)

func TestCompileLaysOutConsecutiveSlots(t *testing.T) {
	planner := NewPlanner()
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	plans := planner.Compile(start, 3, dayMS)
	if len(plans) != 3 {
		t.Fatalf("plans len = %d, want 3", len(plans))
	}
	wantStarts := []time.Time{
		time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC),
		time.Date(2020, 1, 3, 0, 0, 0, 0, time.UTC),
	}
	for i, plan := range plans {
		if plan.Index != i {
			t.Fatalf("plan[%d].Index = %d", i, plan.Index)
		}
		if !plan.StartsAt.Equal(wantStarts[i]) {
			t.Fatalf("plan[%d].StartsAt = %v, want %v", i, plan.StartsAt, wantStarts[i])
		}
		if !plan.EndsAt.Equal(wantStarts[i].Add(24 * time.Hour)) {
			t.Fatalf("plan[%d].EndsAt = %v", i, plan.EndsAt)
		}
	}
}

func TestCompileRejectsEmptyTimeline(t *testing.T) {
	planner := NewPlanner()
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	if plans := planner.Compile(start, 0, dayMS); plans != nil {
		t.Fatalf("plans = %v, want nil", plans)
	}
	if plans := planner.Compile(start, 3, 0); plans != nil {
		t.Fatalf("plans = %v, want nil", plans)
	}
}

func TestSlotIndexRounding(t *testing.T) {
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		at   time.Time
		want int
	}{
		{"on slot", start.Add(48 * time.Hour), 2},
		{"just before half", start.Add(11*time.Hour + 59*time.Minute), 0},
		{"half rounds up", start.Add(12 * time.Hour), 1},
		{"negative half rounds up to zero", start.Add(-12 * time.Hour), 0},
		{"negative beyond half", start.Add(-13 * time.Hour), -1},
		{"far after", start.Add(30 * 24 * time.Hour), 30},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SlotIndex(start, tt.at, dayMS); got != tt.want {
				t.Errorf("SlotIndex() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestNextHour(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"mid hour", time.Date(2026, 2, 25, 10, 30, 0, 0, time.UTC), time.Date(2026, 2, 25, 11, 0, 0, 0, time.UTC)},
		{"on the hour", time.Date(2026, 2, 25, 10, 0, 0, 0, time.UTC), time.Date(2026, 2, 25, 11, 0, 0, 0, time.UTC)},
		{"day rollover", time.Date(2026, 2, 25, 23, 59, 0, 0, time.UTC), time.Date(2026, 2, 26, 0, 0, 0, 0, time.UTC)},
		{"converted to utc", time.Date(2026, 2, 25, 10, 30, 0, 0, time.FixedZone("X", 5*3600+1800)), time.Date(2026, 2, 25, 6, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NextHour(tt.now); !got.Equal(tt.want) {
				t.Errorf("NextHour() = %v, want %v", got, tt.want)
			}
		})
	}
}
