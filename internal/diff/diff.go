// Package diff computes, applies and merges structural differences between
// values of package value.
//
// A nil Diff means "no difference". Map and list diffs only ever contain
// changed positions; unchanged list positions are nil items.
package diff

import (
	"fmt"

	"github.com/heremaps/xyz-hub-sub003/internal/value"
)

// Diff is one of Insert, Remove, Update, MapDiff or *ListDiff.
type Diff interface {
	isDiff()
}

// Insert adds a value where there was none.
type Insert struct {
	Value value.Value
}

// Remove deletes an existing value.
type Remove struct {
	Old value.Value
}

// Update replaces Old with New. Neither side is a pair of objects or a pair of
// arrays; those produce MapDiff and ListDiff.
type Update struct {
	Old value.Value
	New value.Value
}

// MapDiff holds the changed keys of an object.
type MapDiff map[string]Diff

// ListDiff holds per-position changes of an array. Items beyond OriginalLength
// are Inserts; Removes only appear at the tail.
type ListDiff struct {
	OriginalLength int
	NewLength      int
	Items          []Diff
}

func (Insert) isDiff()    {}
func (Remove) isDiff()    {}
func (Update) isDiff()    {}
func (MapDiff) isDiff()   {}
func (*ListDiff) isDiff() {}

func (d Insert) String() string { return fmt.Sprintf("insert(%s)", render(d.Value)) }
func (d Remove) String() string { return fmt.Sprintf("remove(%s)", render(d.Old)) }
func (d Update) String() string {
	return fmt.Sprintf("update(%s -> %s)", render(d.Old), render(d.New))
}

func render(v value.Value) string {
	data, err := value.Canonical(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// Compute returns the difference that turns source into target, or nil when
// both are equal. Numbers compare by value.
func Compute(source, target value.Value) Diff {
	switch {
	case source == nil && target == nil:
		return nil
	case source == nil:
		return Insert{Value: target}
	case target == nil:
		return Remove{Old: source}
	}

	if so, ok := source.(value.Object); ok {
		if to, ok := target.(value.Object); ok {
			return computeMap(so, to)
		}
	}
	if sa, ok := source.(value.Array); ok {
		if ta, ok := target.(value.Array); ok {
			return computeList(sa, ta)
		}
	}
	if value.Equal(source, target) {
		return nil
	}
	return Update{Old: source, New: target}
}

func computeMap(source, target value.Object) Diff {
	md := MapDiff{}
	for key, sv := range source {
		tv, ok := target[key]
		if !ok {
			md[key] = Remove{Old: sv}
			continue
		}
		if d := Compute(sv, tv); d != nil {
			md[key] = d
		}
	}
	for key, tv := range target {
		if _, ok := source[key]; !ok {
			md[key] = Insert{Value: tv}
		}
	}
	if len(md) == 0 {
		return nil
	}
	return md
}

func computeList(source, target value.Array) Diff {
	ld := &ListDiff{
		OriginalLength: len(source),
		NewLength:      len(target),
		Items:          make([]Diff, max(len(source), len(target))),
	}
	modified := len(source) != len(target)
	for i := range min(len(source), len(target)) {
		if d := Compute(source[i], target[i]); d != nil {
			ld.Items[i] = d
			modified = true
		}
	}
	for i := len(target); i < len(source); i++ {
		ld.Items[i] = Remove{Old: source[i]}
	}
	for i := len(source); i < len(target); i++ {
		ld.Items[i] = Insert{Value: target[i]}
	}
	if !modified {
		return nil
	}
	return ld
}

// Partial converts a partial update into a diff against source. Keys missing
// from partial are unchanged, an explicit null removes the key and nested
// objects are compared recursively.
func Partial(source, partial value.Object) Diff {
	md := MapDiff{}
	for key, pv := range partial {
		sv, exists := source[key]
		switch {
		case value.IsNull(pv):
			if exists {
				md[key] = Remove{Old: sv}
			}
		case value.IsNull(sv):
			md[key] = Insert{Value: pv}
		default:
			so, sok := sv.(value.Object)
			po, pok := pv.(value.Object)
			if sok && pok {
				if child := Partial(so, po); child != nil {
					md[key] = child
				}
				continue
			}
			if !value.Equal(sv, pv) {
				md[key] = Update{Old: sv, New: pv}
			}
		}
	}
	if len(md) == 0 {
		return nil
	}
	return md
}
