package clock

import "time"

// SlotPlan describes one fixed-length slot of a calendar.
type SlotPlan struct {
	Index    int
	StartsAt time.Time
	EndsAt   time.Time
	Duration time.Duration
}

// NextHour returns the top of the hour following now, in UTC. An instant
// already on the hour still advances a full hour.
func NextHour(now time.Time) time.Time {
	return now.UTC().Truncate(time.Hour).Add(time.Hour)
}
