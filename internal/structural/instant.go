/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package structural

import "time"

// Instant is a point in time with millisecond resolution. It hashes as its
// Unix millisecond value, so two Instants built from the same millisecond
// are map-equal even when their locations or monotonic readings differ.
type Instant struct {
	time.Time
}

// At wraps t.
func At(t time.Time) Instant {
	return Instant{Time: t}
}

// FromMillis builds a UTC Instant from Unix milliseconds.
func FromMillis(ms int64) Instant {
	return Instant{Time: time.UnixMilli(ms).UTC()}
}

// Millis returns the Unix millisecond value.
func (i Instant) Millis() int64 {
	return i.UnixMilli()
}

// SubMillis returns i - other in milliseconds.
func (i Instant) SubMillis(other Instant) int64 {
	return i.Millis() - other.Millis()
}

// AddMillis returns i shifted by ms milliseconds.
func (i Instant) AddMillis(ms int64) Instant {
	return Instant{Time: i.Add(time.Duration(ms) * time.Millisecond)}
}

// Before reports whether i is strictly earlier than other at millisecond
// resolution.
func (i Instant) Before(other Instant) bool {
	return i.Millis() < other.Millis()
}

func (i Instant) StructuralKey() Value {
	ms := i.Millis()
	return Record{
		Fields: []Field{
			{Name: "wall", Value: Int(i.Unix()), Internal: true},
			{Name: "location", Value: String(i.Location().String()), Internal: true},
		},
		Primitive: func() Value { return Int(ms) },
	}
}
