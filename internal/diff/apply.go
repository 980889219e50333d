package diff

import (
	"fmt"

	"github.com/heremaps/xyz-hub-sub003/internal/value"
)

// Apply returns the result of applying d to v. v itself is never modified.
func Apply(v value.Value, d Diff) (value.Value, error) {
	switch x := d.(type) {
	case nil:
		return value.Clone(v), nil
	case Insert:
		return value.Clone(x.Value), nil
	case Remove:
		return nil, nil
	case Update:
		return value.Clone(x.New), nil
	case MapDiff:
		obj, ok := v.(value.Object)
		if !ok {
			return nil, fmt.Errorf("apply map diff: target is %s", kindOf(v))
		}
		return applyMap(obj, x)
	case *ListDiff:
		arr, ok := v.(value.Array)
		if !ok {
			return nil, fmt.Errorf("apply list diff: target is %s", kindOf(v))
		}
		return applyList(arr, x)
	default:
		return nil, fmt.Errorf("apply: unknown diff %T", d)
	}
}

// ApplyObject is Apply for the common case of patching a record.
func ApplyObject(obj value.Object, d Diff) (value.Object, error) {
	out, err := Apply(obj, d)
	if err != nil {
		return nil, err
	}
	res, ok := out.(value.Object)
	if !ok {
		return nil, fmt.Errorf("apply: result is %s, not an object", kindOf(out))
	}
	return res, nil
}

func applyMap(obj value.Object, md MapDiff) (value.Object, error) {
	out := make(value.Object, len(obj))
	for k, v := range obj {
		out[k] = v
	}
	for key, d := range md {
		switch x := d.(type) {
		case Remove:
			delete(out, key)
		case Insert, Update:
			res, err := Apply(out[key], x)
			if err != nil {
				return nil, err
			}
			out[key] = res
		default:
			cur, ok := out[key]
			if !ok {
				return nil, fmt.Errorf("apply: key %q does not exist", key)
			}
			res, err := Apply(cur, x)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", key, err)
			}
			out[key] = res
		}
	}
	return value.Clone(out).(value.Object), nil
}

func applyList(arr value.Array, ld *ListDiff) (value.Array, error) {
	out := make(value.Array, 0, max(len(arr), ld.NewLength))
	for i, cur := range arr {
		var d Diff
		if i < len(ld.Items) {
			d = ld.Items[i]
		}
		switch x := d.(type) {
		case nil:
			out = append(out, value.Clone(cur))
		case Remove:
		case Insert:
			return nil, fmt.Errorf("apply: insert at occupied index %d", i)
		default:
			res, err := Apply(cur, x)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			out = append(out, res)
		}
	}
	for i := len(arr); i < len(ld.Items); i++ {
		switch x := ld.Items[i].(type) {
		case nil:
		case Insert:
			out = append(out, value.Clone(x.Value))
		default:
			return nil, fmt.Errorf("apply: %T beyond the end of the list at index %d", x, i)
		}
	}
	return out, nil
}

func kindOf(v value.Value) string {
	if v == nil {
		return "absent"
	}
	return v.Kind().String()
}
