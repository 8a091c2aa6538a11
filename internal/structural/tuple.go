/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package structural

// Pair is a two-element key. Its arity is fixed by the type, so a Pair can
// never be compared against a three-element key by mistake.
type Pair[A, B Keyer] struct {
	First  A
	Second B
}

// MakePair builds a Pair.
func MakePair[A, B Keyer](a A, b B) Pair[A, B] {
	return Pair[A, B]{First: a, Second: b}
}

func (p Pair[A, B]) StructuralKey() Value {
	return Tuple{keyOf(p.First), keyOf(p.Second)}
}

// Triple is a three-element key.
type Triple[A, B, C Keyer] struct {
	First  A
	Second B
	Third  C
}

// MakeTriple builds a Triple.
func MakeTriple[A, B, C Keyer](a A, b B, c C) Triple[A, B, C] {
	return Triple[A, B, C]{First: a, Second: b, Third: c}
}

func (t Triple[A, B, C]) StructuralKey() Value {
	return Tuple{keyOf(t.First), keyOf(t.Second), keyOf(t.Third)}
}

// Seq is a variable-length key of homogeneous elements.
type Seq[T Keyer] []T

func (s Seq[T]) StructuralKey() Value {
	if s == nil {
		return Null{}
	}
	out := make(List, len(s))
	for i, item := range s {
		out[i] = keyOf(item)
	}
	return out
}
