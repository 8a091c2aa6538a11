/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package structural

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrUnsupportedKind is returned by Of for Go values that have no
// structural representation.
var ErrUnsupportedKind = errors.New("structural: unsupported kind")

// PrimitiveCoercer is the explicit primitive-coercion capability. A type
// implementing it hashes as the returned primitive. Returning nil, or a
// non-primitive, defers to SimpleValuer and then to the field layout.
type PrimitiveCoercer interface {
	CoercePrimitive() any
}

// SimpleValuer is the implicit fallback capability, consulted only when
// PrimitiveCoercer is absent or yields nothing usable.
type SimpleValuer interface {
	SimpleValue() any
}

var (
	keyerType     = reflect.TypeOf((*Keyer)(nil)).Elem()
	coercerType   = reflect.TypeOf((*PrimitiveCoercer)(nil)).Elem()
	simpleType    = reflect.TypeOf((*SimpleValuer)(nil)).Elem()
	timeType      = reflect.TypeOf(time.Time{})
	typePlanCache sync.Map // reflect.Type -> *typePlan
)

// typePlan is how values of one Go type are converted. It is computed once
// per type.
type typePlan struct {
	keyer     bool
	coercer   bool
	simple    bool
	fields    []fieldPlan
	fieldsErr error
}

type fieldPlan struct {
	index    int
	name     string
	optional bool
}

// Of converts an arbitrary Go value into the structural model.
//
// Exported struct fields become record fields in declaration order;
// unexported fields are internal and skipped. The struct tag
// `structural:"name,optional"` renames a field, and with optional a nil
// pointer, interface, slice or map becomes Absent and is left out of the
// fingerprint. `structural:"-"` drops the field.
func Of(x any) (Value, error) {
	if x == nil {
		return Null{}, nil
	}
	return of(reflect.ValueOf(x), 0)
}

// MustOf is like Of but panics on unsupported kinds.
func MustOf(x any) Value {
	v, err := Of(x)
	if err != nil {
		panic(err)
	}
	return v
}

const maxDepth = 64

func of(rv reflect.Value, depth int) (Value, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("%w: nesting deeper than %d", ErrUnsupportedKind, maxDepth)
	}
	if !rv.IsValid() {
		return Null{}, nil
	}

	plan := planFor(rv.Type())
	if plan.keyer {
		if isNilable(rv.Kind()) && rv.IsNil() {
			return Null{}, nil
		}
		return keyOf(rv.Interface().(Keyer)), nil
	}
	if rv.Type() == timeType {
		return At(rv.Interface().(time.Time)).StructuralKey(), nil
	}
	if plan.coercer || plan.simple {
		if isNilable(rv.Kind()) && rv.IsNil() {
			return Null{}, nil
		}
		return coercedRecord(rv, plan, depth)
	}

	switch rv.Kind() {
	case reflect.Bool:
		return Bool(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Int(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return Float(float64(u)), nil
		}
		return Int(int64(u)), nil
	case reflect.Float32, reflect.Float64:
		return Float(rv.Float()), nil
	case reflect.String:
		return String(rv.String()), nil
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return Null{}, nil
		}
		return of(rv.Elem(), depth+1)
	case reflect.Array:
		out := make(Tuple, rv.Len())
		for i := range out {
			v, err := of(rv.Index(i), depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case reflect.Slice:
		if rv.IsNil() {
			return Null{}, nil
		}
		out := make(List, rv.Len())
		for i := range out {
			v, err := of(rv.Index(i), depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case reflect.Map:
		return mapRecord(rv, depth)
	case reflect.Struct:
		fields, err := structFields(rv, plan, depth)
		if err != nil {
			return nil, err
		}
		return Record{Fields: fields}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedKind, rv.Type())
}

func planFor(t reflect.Type) *typePlan {
	if cached, ok := typePlanCache.Load(t); ok {
		return cached.(*typePlan)
	}
	plan := &typePlan{
		keyer:   t.Implements(keyerType),
		coercer: t.Implements(coercerType),
		simple:  t.Implements(simpleType),
	}
	if t.Kind() == reflect.Struct {
		plan.fields, plan.fieldsErr = planFields(t)
	}
	actual, _ := typePlanCache.LoadOrStore(t, plan)
	return actual.(*typePlan)
}

func planFields(t reflect.Type) ([]fieldPlan, error) {
	out := make([]fieldPlan, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		name := sf.Name
		optional := false
		if tag, ok := sf.Tag.Lookup("structural"); ok {
			parts := strings.Split(tag, ",")
			if parts[0] == "-" {
				continue
			}
			if parts[0] != "" {
				name = parts[0]
			}
			for _, opt := range parts[1:] {
				switch opt {
				case "optional":
					optional = true
				default:
					return nil, fmt.Errorf("structural: field %s.%s: unknown tag option %q", t, sf.Name, opt)
				}
			}
		}
		out = append(out, fieldPlan{index: i, name: name, optional: optional})
	}
	return out, nil
}

func structFields(rv reflect.Value, plan *typePlan, depth int) ([]Field, error) {
	if plan.fieldsErr != nil {
		return nil, plan.fieldsErr
	}
	fields := make([]Field, 0, len(plan.fields))
	for _, fp := range plan.fields {
		fv := rv.Field(fp.index)
		if fp.optional && isNilable(fv.Kind()) && fv.IsNil() {
			fields = append(fields, Field{Name: fp.name, Value: Absent{}})
			continue
		}
		v, err := of(fv, depth+1)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", fp.name, err)
		}
		fields = append(fields, Field{Name: fp.name, Value: v})
	}
	return fields, nil
}

func mapRecord(rv reflect.Value, depth int) (Value, error) {
	if rv.IsNil() {
		return Null{}, nil
	}
	if rv.Type().Key().Kind() != reflect.String {
		return nil, fmt.Errorf("%w: map key %s", ErrUnsupportedKind, rv.Type().Key())
	}
	keys := rv.MapKeys()
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	fields := make([]Field, 0, len(keys))
	for _, k := range keys {
		v, err := of(rv.MapIndex(k), depth+1)
		if err != nil {
			return nil, fmt.Errorf("key %s: %w", k.String(), err)
		}
		fields = append(fields, Field{Name: k.String(), Value: v})
	}
	return Record{Fields: fields}, nil
}

// coercedRecord wraps a value exposing a coercion capability. The field
// layout is still recorded for the structural fallback.
func coercedRecord(rv reflect.Value, plan *typePlan, depth int) (Value, error) {
	rec := Record{}
	x := rv.Interface()
	if plan.coercer {
		c := x.(PrimitiveCoercer)
		rec.Primitive = func() Value { return primitiveOf(c.CoercePrimitive(), 1) }
	}
	if plan.simple {
		s := x.(SimpleValuer)
		rec.Simple = func() Value { return primitiveOf(s.SimpleValue(), 1) }
	}

	base := rv
	for base.Kind() == reflect.Pointer {
		base = base.Elem()
	}
	if base.Kind() == reflect.Struct {
		fields, err := structFields(base, planFor(base.Type()), depth)
		if err != nil {
			return nil, err
		}
		rec.Fields = fields
	}
	return rec, nil
}

// maxCoercionHops bounds a chain of coercions. Each hop may try both
// capabilities, so the bound stays small.
const maxCoercionHops = 8

// primitiveOf converts a coercion result. Anything that does not reduce to
// a primitive yields nil so that the next capability is tried. A result
// that is itself a coercer is followed for at most maxCoercionHops hops.
func primitiveOf(x any, hops int) Value {
	if x == nil || hops > maxCoercionHops {
		return nil
	}
	if t, ok := x.(time.Time); ok {
		return Int(t.UnixMilli())
	}
	if _, keyer := x.(Keyer); !keyer {
		c, coercer := x.(PrimitiveCoercer)
		sv, simple := x.(SimpleValuer)
		if coercer || simple {
			if isNilable(reflect.ValueOf(x).Kind()) && reflect.ValueOf(x).IsNil() {
				return nil
			}
			if coercer {
				if v := primitiveOf(c.CoercePrimitive(), hops+1); v != nil {
					return v
				}
			}
			if simple {
				return primitiveOf(sv.SimpleValue(), hops+1)
			}
			return nil
		}
	}

	v, err := of(reflect.ValueOf(x), 0)
	if err != nil {
		return nil
	}
	if rec, ok := v.(Record); ok {
		if p, ok := rec.Coerced(); ok {
			return p
		}
		return nil
	}
	if !IsPrimitive(v) {
		return nil
	}
	return v
}

func isNilable(k reflect.Kind) bool {
	switch k {
	case reflect.Pointer, reflect.Interface, reflect.Slice, reflect.Map, reflect.Func, reflect.Chan:
		return true
	}
	return false
}

// Reflected is a Keyer built from an arbitrary Go value. It keeps the
// original value for display next to its structural form.
type Reflected struct {
	original any
	value    Value
}

// Reflect converts x once and returns a Keyer carrying both forms.
func Reflect(x any) (Reflected, error) {
	v, err := Of(x)
	if err != nil {
		return Reflected{}, err
	}
	return Reflected{original: x, value: v}, nil
}

// Original returns the value Reflect was called with.
func (r Reflected) Original() any { return r.original }

// String renders the original value for logs and listings.
func (r Reflected) String() string {
	if s, ok := r.original.(string); ok {
		return s
	}
	return fmt.Sprint(r.original)
}

func (r Reflected) StructuralKey() Value {
	if r.value == nil {
		return Null{}
	}
	return r.value
}
