// Package value provides the tagged structural value used to represent stored
// records independently of their storage format.
//
// A Value is one of Null, Bool, Int, Float, String, Array or Object. A nil Value
// means "absent", which is distinct from an explicit Null.
package value

import (
	"encoding/json"
	"maps"
	"math"
	"slices"
)

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// Value is a sealed interface; only the types of this package implement it.
type Value interface {
	Kind() Kind
	value()
}

// Null is an explicit JSON null.
type Null struct{}

func (Null) Kind() Kind { return KindNull }
func (Null) value()     {}

// MarshalJSON implements json.Marshaler.
func (Null) MarshalJSON() ([]byte, error) { return []byte("null"), nil }

type Bool bool

func (Bool) Kind() Kind { return KindBool }
func (Bool) value()     {}

// Int is an integral number. JSON numbers without fraction or exponent decode to Int.
type Int int64

func (Int) Kind() Kind { return KindInt }
func (Int) value()     {}

// Float is a floating point number, typically a coordinate.
type Float float64

func (Float) Kind() Kind { return KindFloat }
func (Float) value()     {}

type String string

func (String) Kind() Kind { return KindString }
func (String) value()     {}

type Array []Value

func (Array) Kind() Kind { return KindArray }
func (Array) value()     {}

// MarshalJSON implements json.Marshaler. Absent elements are written as null.
func (a Array) MarshalJSON() ([]byte, error) {
	out := make([]any, len(a))
	for i, v := range a {
		out[i] = marshalable(v)
	}
	return json.Marshal(out)
}

// Object maps field names to values. Use SortedKeys for deterministic iteration.
type Object map[string]Value

func (Object) Kind() Kind { return KindObject }
func (Object) value()     {}

// MarshalJSON implements json.Marshaler.
func (o Object) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(o))
	for k, v := range o {
		out[k] = marshalable(v)
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (o *Object) UnmarshalJSON(data []byte) error {
	v, err := Parse(data)
	if err != nil {
		return err
	}
	obj, ok := v.(Object)
	if !ok {
		return &TypeError{Want: KindObject, Got: v.Kind()}
	}
	*o = obj
	return nil
}

func marshalable(v Value) any {
	if v == nil {
		return Null{}
	}
	return v
}

// SortedKeys returns the object's keys in ascending order.
func (o Object) SortedKeys() []string {
	return slices.Sorted(maps.Keys(o))
}

// Get walks nested objects along path.
func (o Object) Get(path ...string) (Value, bool) {
	var cur Value = o
	for _, key := range path {
		obj, ok := cur.(Object)
		if !ok {
			return nil, false
		}
		cur, ok = obj[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// GetObject returns the nested object at path, if there is one.
func (o Object) GetObject(path ...string) (Object, bool) {
	v, ok := o.Get(path...)
	if !ok {
		return nil, false
	}
	obj, ok := v.(Object)
	return obj, ok
}

// GetString returns the string at path, if there is one.
func (o Object) GetString(path ...string) (string, bool) {
	v, ok := o.Get(path...)
	if !ok {
		return "", false
	}
	s, ok := v.(String)
	return string(s), ok
}

// GetInt returns the integral number at path. Floats without a fraction qualify.
func (o Object) GetInt(path ...string) (int64, bool) {
	v, ok := o.Get(path...)
	if !ok {
		return 0, false
	}
	return AsInt(v)
}

// Set stores v at path, creating intermediate objects as needed. Intermediate
// values that are not objects are replaced.
func (o Object) Set(v Value, path ...string) {
	if len(path) == 0 {
		return
	}
	cur := o
	for _, key := range path[:len(path)-1] {
		next, ok := cur[key].(Object)
		if !ok {
			next = Object{}
			cur[key] = next
		}
		cur = next
	}
	cur[path[len(path)-1]] = v
}

// Delete removes the value at path. It is a no-op when the path does not exist.
func (o Object) Delete(path ...string) {
	if len(path) == 0 {
		return
	}
	parent, ok := o.GetObject(path[:len(path)-1]...)
	if !ok {
		return
	}
	delete(parent, path[len(path)-1])
}

// Clone returns a deep copy of the object.
func (o Object) Clone() Object {
	if o == nil {
		return nil
	}
	return Clone(o).(Object)
}

// AsInt reports the integral value of v when v is an Int or an integral Float.
func AsInt(v Value) (int64, bool) {
	switch n := v.(type) {
	case Int:
		return int64(n), true
	case Float:
		f := float64(n)
		if f == math.Trunc(f) && f >= math.MinInt64 && f <= math.MaxInt64 {
			return int64(f), true
		}
	}
	return 0, false
}

// AsFloat reports the numeric value of v when v is an Int or a Float.
func AsFloat(v Value) (float64, bool) {
	switch n := v.(type) {
	case Int:
		return float64(n), true
	case Float:
		return float64(n), true
	}
	return 0, false
}

// IsNull reports whether v is absent or an explicit null.
func IsNull(v Value) bool {
	if v == nil {
		return true
	}
	_, ok := v.(Null)
	return ok
}

// Equal reports structural equality. Numbers compare by value, so Int(1) equals
// Float(1.0). Object key order never matters.
func Equal(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch x := a.(type) {
	case Null:
		_, ok := b.(Null)
		return ok
	case Bool:
		y, ok := b.(Bool)
		return ok && x == y
	case String:
		y, ok := b.(String)
		return ok && x == y
	case Int:
		switch y := b.(type) {
		case Int:
			return x == y
		case Float:
			return float64(x) == float64(y)
		}
		return false
	case Float:
		f, ok := AsFloat(b)
		return ok && float64(x) == f
	case Array:
		y, ok := b.(Array)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case Object:
		y, ok := b.(Object)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, xv := range x {
			yv, ok := y[k]
			if !ok || !Equal(xv, yv) {
				return false
			}
		}
		return true
	}
	return false
}

// Clone returns a deep copy of v. Scalars are returned as is.
func Clone(v Value) Value {
	switch x := v.(type) {
	case Array:
		if x == nil {
			return Array(nil)
		}
		out := make(Array, len(x))
		for i, e := range x {
			out[i] = Clone(e)
		}
		return out
	case Object:
		if x == nil {
			return Object(nil)
		}
		out := make(Object, len(x))
		for k, e := range x {
			out[k] = Clone(e)
		}
		return out
	default:
		return v
	}
}

// Filter returns a copy of o without the keys whose mask value is Bool(true).
// Where both o and mask hold objects under the same key, Filter recurses.
func Filter(o Object, mask Object) Object {
	out := o.Clone()
	filterInPlace(out, mask)
	return out
}

func filterInPlace(o Object, mask Object) {
	if o == nil {
		return
	}
	for key, m := range mask {
		switch mv := m.(type) {
		case Bool:
			if mv {
				delete(o, key)
			}
		case Object:
			if child, ok := o[key].(Object); ok {
				filterInPlace(child, mv)
			}
		}
	}
}
