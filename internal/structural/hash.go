/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package structural

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strconv"
	"strings"
)

// Fingerprint is the canonical encoding of a value's structural identity.
type Fingerprint string

// maxExactFloat is the largest magnitude at which every integer is exactly
// representable as a float64.
const maxExactFloat = 1 << 53

// Hash returns the fingerprint of k. Structurally equal keys always share a
// fingerprint; structurally different keys never do.
//
// Encoding tags:
//
//	~         null
//	!         absent
//	T / F     booleans
//	i<n>;     integers (and integral floats within the exact range)
//	f<g>;     other floats
//	s<len>:   strings, length-prefixed raw bytes
//	t<n>(...) tuples
//	l<n>[...] lists
//	r<n>{...} records as name/value pairs
func Hash(k Keyer) Fingerprint {
	var b strings.Builder
	writeValue(&b, keyOf(k))
	return Fingerprint(b.String())
}

// Digest returns a hex SHA-256 of k's fingerprint, for use where a fixed
// length key is needed (cache keys, UIDs).
func Digest(k Keyer) string {
	sum := sha256.Sum256([]byte(Hash(k)))
	return hex.EncodeToString(sum[:])
}

// Equal reports whether a and b are map-equal.
func Equal(a, b Keyer) bool {
	return Hash(a) == Hash(b)
}

func keyOf(k Keyer) Value {
	if k == nil {
		return Null{}
	}
	v := k.StructuralKey()
	if v == nil {
		return Null{}
	}
	return v
}

func writeValue(b *strings.Builder, v Value) {
	if v == nil {
		b.WriteByte('~')
		return
	}
	switch val := v.(type) {
	case Null:
		b.WriteByte('~')
	case Absent:
		b.WriteByte('!')
	case Bool:
		if val {
			b.WriteByte('T')
		} else {
			b.WriteByte('F')
		}
	case Int:
		writeInt(b, int64(val))
	case Float:
		writeFloat(b, float64(val))
	case String:
		writeString(b, string(val))
	case Tuple:
		b.WriteByte('t')
		b.WriteString(strconv.Itoa(len(val)))
		b.WriteByte('(')
		writeSeq(b, val)
		b.WriteByte(')')
	case List:
		b.WriteByte('l')
		b.WriteString(strconv.Itoa(len(val)))
		b.WriteByte('[')
		writeSeq(b, val)
		b.WriteByte(']')
	case Record:
		if p, ok := val.Coerced(); ok {
			writeValue(b, p)
			return
		}
		writeRecord(b, val)
	}
}

func writeInt(b *strings.Builder, n int64) {
	b.WriteByte('i')
	b.WriteString(strconv.FormatInt(n, 10))
	b.WriteByte(';')
}

func writeFloat(b *strings.Builder, f float64) {
	if f == math.Trunc(f) && math.Abs(f) <= maxExactFloat {
		writeInt(b, int64(f))
		return
	}
	b.WriteByte('f')
	b.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
	b.WriteByte(';')
}

func writeString(b *strings.Builder, s string) {
	b.WriteByte('s')
	b.WriteString(strconv.Itoa(len(s)))
	b.WriteByte(':')
	b.WriteString(s)
}

func writeSeq(b *strings.Builder, items []Value) {
	for i, item := range items {
		if i > 0 {
			b.WriteByte(',')
		}
		writeValue(b, item)
	}
}

func writeRecord(b *strings.Builder, r Record) {
	visible := make([]Field, 0, len(r.Fields))
	for _, f := range r.Fields {
		if f.Internal {
			continue
		}
		if f.Value != nil && f.Value.Kind() == KindAbsent {
			continue
		}
		visible = append(visible, f)
	}

	b.WriteByte('r')
	b.WriteString(strconv.Itoa(len(visible)))
	b.WriteByte('{')
	for i, f := range visible {
		if i > 0 {
			b.WriteByte(',')
		}
		writeString(b, f.Name)
		b.WriteByte('=')
		writeValue(b, f.Value)
	}
	b.WriteByte('}')
}
