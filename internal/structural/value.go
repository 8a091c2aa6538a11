/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package structural provides value-semantics keys for ordered maps.
//
// A key is described by a closed model of shapes: primitives (Bool, Int,
// Float, String), Null and Absent markers, fixed-arity Tuples, variable
// length Lists and Records. Two keys are equal when their fingerprints are
// equal, regardless of the identity of the Go values that produced them.
package structural

// Kind identifies the shape of a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindAbsent
	KindBool
	KindInt
	KindFloat
	KindString
	KindTuple
	KindList
	KindRecord
)

var kindNames = [...]string{
	KindNull:   "null",
	KindAbsent: "absent",
	KindBool:   "bool",
	KindInt:    "int",
	KindFloat:  "float",
	KindString: "string",
	KindTuple:  "tuple",
	KindList:   "list",
	KindRecord: "record",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Keyer is implemented by anything usable as a Map key.
type Keyer interface {
	StructuralKey() Value
}

// Value is a node of the structural model. Only types in this package
// implement it.
type Value interface {
	Keyer
	Kind() Kind
	value()
}

// Null is an explicit empty value. It is distinct from Absent and from "".
type Null struct{}

// Absent marks a record field that has no value at all. Absent fields are
// omitted from a record's fingerprint.
type Absent struct{}

type (
	Bool   bool
	Int    int64
	Float  float64
	String string
)

// Tuple is a fixed-arity sequence; its arity is part of its shape.
type Tuple []Value

// List is a variable-length sequence.
type List []Value

// Field is a named record member. Internal fields are not visible outside
// the record's defining package and never contribute to the fingerprint.
type Field struct {
	Name     string
	Value    Value
	Internal bool
}

// Record is a composite value. Primitive and Simple are optional coercion
// capabilities; when either yields a primitive the record hashes as that
// primitive and its fields are ignored. Primitive takes precedence.
type Record struct {
	Fields    []Field
	Primitive func() Value
	Simple    func() Value
}

func (Null) Kind() Kind   { return KindNull }
func (Absent) Kind() Kind { return KindAbsent }
func (Bool) Kind() Kind   { return KindBool }
func (Int) Kind() Kind    { return KindInt }
func (Float) Kind() Kind  { return KindFloat }
func (String) Kind() Kind { return KindString }
func (Tuple) Kind() Kind  { return KindTuple }
func (List) Kind() Kind   { return KindList }
func (Record) Kind() Kind { return KindRecord }

func (Null) value()   {}
func (Absent) value() {}
func (Bool) value()   {}
func (Int) value()    {}
func (Float) value()  {}
func (String) value() {}
func (Tuple) value()  {}
func (List) value()   {}
func (Record) value() {}

func (v Null) StructuralKey() Value   { return v }
func (v Absent) StructuralKey() Value { return v }
func (v Bool) StructuralKey() Value   { return v }
func (v Int) StructuralKey() Value    { return v }
func (v Float) StructuralKey() Value  { return v }
func (v String) StructuralKey() Value { return v }
func (v Tuple) StructuralKey() Value  { return v }
func (v List) StructuralKey() Value   { return v }
func (v Record) StructuralKey() Value { return v }

// IsPrimitive reports whether v is a Bool, Int, Float or String.
func IsPrimitive(v Value) bool {
	if v == nil {
		return false
	}
	switch v.Kind() {
	case KindBool, KindInt, KindFloat, KindString:
		return true
	}
	return false
}

// Coerced returns the primitive a record hashes as, if any.
func (r Record) Coerced() (Value, bool) {
	if r.Primitive != nil {
		if v := r.Primitive(); IsPrimitive(v) {
			return v, true
		}
	}
	if r.Simple != nil {
		if v := r.Simple(); IsPrimitive(v) {
			return v, true
		}
	}
	return nil, false
}

// Field returns the named visible field.
func (r Record) Field(name string) (Value, bool) {
	for _, f := range r.Fields {
		if f.Name == name && !f.Internal {
			return f.Value, true
		}
	}
	return nil, false
}
