/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package clock

import "time"

// Planner expands a start time and interval into a slot timeline.
type Planner struct{}

// NewPlanner constructs a slot planner.
func NewPlanner() *Planner {
	return &Planner{}
}

// Compile lays out intervals consecutive slots of intervalMS milliseconds
// starting at start. Slot i starts at start + i*intervalMS.
func (p *Planner) Compile(start time.Time, intervals int, intervalMS int64) []SlotPlan {
	if intervals <= 0 || intervalMS <= 0 {
		return nil
	}

	duration := time.Duration(intervalMS) * time.Millisecond
	plans := make([]SlotPlan, 0, intervals)
	for i := 0; i < intervals; i++ {
		startsAt := SlotStart(start, i, intervalMS)
		plans = append(plans, SlotPlan{
			Index:    i,
			StartsAt: startsAt,
			EndsAt:   startsAt.Add(duration),
			Duration: duration,
		})
	}
	return plans
}

// SlotStart returns the start of slot index.
func SlotStart(start time.Time, index int, intervalMS int64) time.Time {
	return start.Add(time.Duration(int64(index)*intervalMS) * time.Millisecond)
}

// SlotIndex returns the slot nearest to at, rounding half slots up. The
// result may fall outside the calendar; callers check the range.
func SlotIndex(start, at time.Time, intervalMS int64) int {
	offset := at.UnixMilli() - start.UnixMilli()
	return int(floorDiv(2*offset+intervalMS, 2*intervalMS))
}

// RangeEnd returns the end of the last slot.
func RangeEnd(start time.Time, intervals int, intervalMS int64) time.Time {
	return SlotStart(start, intervals, intervalMS)
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// Slots is shorthand for NewPlanner().Compile.
func Slots(start time.Time, intervals int, intervalMS int64) []SlotPlan {
	return NewPlanner().Compile(start, intervals, intervalMS)
}
