/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package calendar

import (
	"github.com/friendsincode/rerun_calendar/internal/structural"
)

// PlacementIndex records, per value, every instant the value has been
// placed at: overrides first, then generated placements, in assignment
// order.
type PlacementIndex[V structural.Keyer] struct {
	byValue *structural.Map[V, []structural.Instant]
}

// NewPlacementIndex creates an empty index.
func NewPlacementIndex[V structural.Keyer]() *PlacementIndex[V] {
	return &PlacementIndex[V]{byValue: structural.NewMap[V, []structural.Instant]()}
}

// Record appends at to value's placements.
func (p *PlacementIndex[V]) Record(value V, at structural.Instant) {
	p.byValue.Update(value, func(cur []structural.Instant, _ bool) ([]structural.Instant, bool) {
		return append(cur, at), true
	})
}

// Placements returns the instants recorded for value.
func (p *PlacementIndex[V]) Placements(value V) []structural.Instant {
	placements, _ := p.byValue.Get(value)
	return placements
}

// Len returns the number of distinct values with placements.
func (p *PlacementIndex[V]) Len() int {
	return p.byValue.Len()
}

// Map exposes the underlying ordered map.
func (p *PlacementIndex[V]) Map() *structural.Map[V, []structural.Instant] {
	return p.byValue
}

// Without returns a copy of the index with one occurrence of at removed
// from value's placements.
func (p *PlacementIndex[V]) Without(value V, at structural.Instant) *PlacementIndex[V] {
	out := NewPlacementIndex[V]()
	for k, placements := range p.byValue.All() {
		cp := make([]structural.Instant, len(placements))
		copy(cp, placements)
		out.byValue.Set(k, cp)
	}
	out.byValue.Update(value, func(cur []structural.Instant, ok bool) ([]structural.Instant, bool) {
		if !ok {
			return nil, false
		}
		for i, d := range cur {
			if d.Millis() == at.Millis() {
				return append(cur[:i], cur[i+1:]...), true
			}
		}
		return cur, true
	})
	return out
}

// IsValidPlacement reports whether candidate may be placed at without
// landing within allowRerunsAfterMS of any recorded placement, earlier or
// later. A gap exactly equal to the threshold is a violation.
func IsValidPlacement[V structural.Keyer](candidate V, at structural.Instant, index *PlacementIndex[V], allowRerunsAfterMS int64) bool {
	for _, d := range index.Placements(candidate) {
		if abs(d.SubMillis(at)) <= allowRerunsAfterMS {
			return false
		}
	}
	return true
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
