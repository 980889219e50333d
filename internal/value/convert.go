package value

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// TypeError reports a value of an unexpected kind.
type TypeError struct {
	Want Kind
	Got  Kind
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("expected %s, got %s", e.Want, e.Got)
}

// Parse decodes JSON into a Value. Integral numbers become Int, everything else
// numeric becomes Float.
func Parse(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("decode value: unexpected trailing data")
	}
	return FromAny(raw)
}

// ParseObject decodes a JSON object.
func ParseObject(data []byte) (Object, error) {
	v, err := Parse(data)
	if err != nil {
		return nil, err
	}
	obj, ok := v.(Object)
	if !ok {
		return nil, &TypeError{Want: KindObject, Got: v.Kind()}
	}
	return obj, nil
}

// FromAny converts the generic shapes produced by encoding/json (and common Go
// scalars) into a Value.
func FromAny(in any) (Value, error) {
	switch x := in.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return x, nil
	case bool:
		return Bool(x), nil
	case string:
		return String(x), nil
	case int:
		return Int(x), nil
	case int32:
		return Int(x), nil
	case int64:
		return Int(x), nil
	case uint32:
		return Int(x), nil
	case float32:
		return Float(x), nil
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return Int(int64(x)), nil
		}
		return Float(x), nil
	case json.Number:
		return fromNumber(x)
	case []string:
		out := make(Array, len(x))
		for i, s := range x {
			out[i] = String(s)
		}
		return out, nil
	case []any:
		out := make(Array, len(x))
		for i, e := range x {
			v, err := FromAny(e)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			out[i] = v
		}
		return out, nil
	case map[string]any:
		out := make(Object, len(x))
		for k, e := range x {
			v, err := FromAny(e)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			out[k] = v
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported type %T", in)
	}
}

func fromNumber(n json.Number) (Value, error) {
	if i, err := strconv.ParseInt(string(n), 10, 64); err == nil {
		return Int(i), nil
	}
	f, err := strconv.ParseFloat(string(n), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid number %q: %w", n, err)
	}
	return Float(f), nil
}

// MustFromAny is FromAny for literals in tests and static tables.
func MustFromAny(in any) Value {
	v, err := FromAny(in)
	if err != nil {
		panic(err)
	}
	return v
}

// ToAny converts v into plain Go values: nil, bool, int64, float64, string,
// []any and map[string]any.
func ToAny(v Value) any {
	switch x := v.(type) {
	case nil, Null:
		return nil
	case Bool:
		return bool(x)
	case Int:
		return int64(x)
	case Float:
		return float64(x)
	case String:
		return string(x)
	case Array:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = ToAny(e)
		}
		return out
	case Object:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = ToAny(e)
		}
		return out
	}
	return nil
}

// Strings returns the string elements of an array, skipping everything else.
func Strings(v Value) []string {
	arr, ok := v.(Array)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, e := range arr {
		if s, ok := e.(String); ok {
			out = append(out, string(s))
		}
	}
	return out
}

// StringArray builds an Array of strings.
func StringArray(ss []string) Array {
	out := make(Array, len(ss))
	for i, s := range ss {
		out[i] = String(s)
	}
	return out
}
