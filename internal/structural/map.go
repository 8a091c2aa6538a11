/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package structural

import (
	"container/list"
	"iter"
)

// Entry pairs the original key with its value.
type Entry[K Keyer, V any] struct {
	Key   K
	Value V
}

// Map is an insertion-ordered map keyed by fingerprint. Each entry keeps
// the key object it was last set with, so iteration yields original keys.
//
// Order is the order in which each distinct fingerprint was first set;
// setting an existing key keeps its position. A Map is not safe for
// concurrent mutation.
type Map[K Keyer, V any] struct {
	order *list.List
	index map[Fingerprint]*list.Element
}

// NewMap creates a map and applies Set for each entry in order.
func NewMap[K Keyer, V any](entries ...Entry[K, V]) *Map[K, V] {
	m := &Map[K, V]{
		order: list.New(),
		index: make(map[Fingerprint]*list.Element, len(entries)),
	}
	for _, e := range entries {
		m.Set(e.Key, e.Value)
	}
	return m
}

func (m *Map[K, V]) init() {
	if m.order == nil {
		m.order = list.New()
		m.index = make(map[Fingerprint]*list.Element)
	}
}

// Set stores value under key, replacing both key and value of an existing
// entry with the same fingerprint.
func (m *Map[K, V]) Set(key K, value V) *Map[K, V] {
	m.init()
	fp := Hash(key)
	if el, ok := m.index[fp]; ok {
		el.Value = &Entry[K, V]{Key: key, Value: value}
		return m
	}
	m.index[fp] = m.order.PushBack(&Entry[K, V]{Key: key, Value: value})
	return m
}

// Get returns the value stored under a key structurally equal to key.
func (m *Map[K, V]) Get(key K) (V, bool) {
	if e := m.lookup(key); e != nil {
		return e.Value, true
	}
	var zero V
	return zero, false
}

// Has reports whether a structurally equal key is present.
func (m *Map[K, V]) Has(key K) bool {
	return m.lookup(key) != nil
}

// Delete removes the entry for key and reports whether one existed.
func (m *Map[K, V]) Delete(key K) bool {
	if m.order == nil {
		return false
	}
	fp := Hash(key)
	el, ok := m.index[fp]
	if !ok {
		return false
	}
	m.order.Remove(el)
	delete(m.index, fp)
	return true
}

// Update replaces the value under key with fn(current, present). When fn
// reports false the entry is deleted instead.
func (m *Map[K, V]) Update(key K, fn func(current V, present bool) (V, bool)) *Map[K, V] {
	cur, ok := m.Get(key)
	next, keep := fn(cur, ok)
	if !keep {
		m.Delete(key)
		return m
	}
	return m.Set(key, next)
}

// Len returns the number of distinct fingerprints stored.
func (m *Map[K, V]) Len() int {
	if m.order == nil {
		return 0
	}
	return m.order.Len()
}

// All iterates key/value pairs in insertion order.
func (m *Map[K, V]) All() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		if m.order == nil {
			return
		}
		for el := m.order.Front(); el != nil; el = el.Next() {
			e := el.Value.(*Entry[K, V])
			if !yield(e.Key, e.Value) {
				return
			}
		}
	}
}

// Keys iterates original keys in insertion order.
func (m *Map[K, V]) Keys() iter.Seq[K] {
	return func(yield func(K) bool) {
		for k := range m.All() {
			if !yield(k) {
				return
			}
		}
	}
}

// Values iterates values in insertion order.
func (m *Map[K, V]) Values() iter.Seq[V] {
	return func(yield func(V) bool) {
		for _, v := range m.All() {
			if !yield(v) {
				return
			}
		}
	}
}

// Entries returns a snapshot of the map in insertion order.
func (m *Map[K, V]) Entries() []Entry[K, V] {
	out := make([]Entry[K, V], 0, m.Len())
	for k, v := range m.All() {
		out = append(out, Entry[K, V]{Key: k, Value: v})
	}
	return out
}

func (m *Map[K, V]) lookup(key K) *Entry[K, V] {
	if m.order == nil {
		return nil
	}
	if el, ok := m.index[Hash(key)]; ok {
		return el.Value.(*Entry[K, V])
	}
	return nil
}
