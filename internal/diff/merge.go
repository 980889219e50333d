package diff

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/heremaps/xyz-hub-sub003/internal/value"
)

// Policy decides which side wins when two diffs change the same position.
type Policy uint8

const (
	// PolicyError fails the merge on any overlapping change.
	PolicyError Policy = iota
	// PolicyRetain keeps the change of the first (concurrent) diff.
	PolicyRetain
	// PolicyReplace keeps the change of the second (caller) diff.
	PolicyReplace
)

func (p Policy) String() string {
	switch p {
	case PolicyError:
		return "ERROR"
	case PolicyRetain:
		return "RETAIN"
	case PolicyReplace:
		return "REPLACE"
	default:
		return "UNKNOWN"
	}
}

// ParsePolicy parses a policy name case-insensitively.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ERROR":
		return PolicyError, nil
	case "RETAIN":
		return PolicyRetain, nil
	case "REPLACE":
		return PolicyReplace, nil
	default:
		return 0, fmt.Errorf("unknown conflict resolution %q", s)
	}
}

// ConflictError reports two changes that could not be combined.
type ConflictError struct {
	Path string
	A    Diff
	B    Diff
}

func (e *ConflictError) Error() string {
	path := e.Path
	if path == "" {
		path = "/"
	}
	return fmt.Sprintf("conflict while merging %v with %v at %s", e.A, e.B, path)
}

// IsConflict reports whether err is or wraps a *ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// Merge combines two diffs computed from the same ancestor. a is the change
// that already happened concurrently, b the change the caller wants to make.
// Overlapping changes are resolved by p. Structural list changes that cannot
// be combined (inserts mixed with removes) always fail.
func Merge(a, b Diff, p Policy) (Diff, error) {
	return merge(a, b, p, "")
}

func merge(a, b Diff, p Policy, path string) (Diff, error) {
	if a == nil {
		return b, nil
	}
	if b == nil {
		return a, nil
	}
	if ma, ok := a.(MapDiff); ok {
		if mb, ok := b.(MapDiff); ok {
			return mergeMap(ma, mb, p, path)
		}
	}
	if la, ok := a.(*ListDiff); ok {
		if lb, ok := b.(*ListDiff); ok {
			return mergeList(la, lb, p, path)
		}
	}
	if sameOutcome(a, b) {
		return a, nil
	}
	return resolve(a, b, p, path)
}

// sameOutcome reports whether two leaf diffs leave the position in the same state.
func sameOutcome(a, b Diff) bool {
	ta, okA := target(a)
	tb, okB := target(b)
	return okA && okB && value.Equal(ta, tb)
}

func target(d Diff) (value.Value, bool) {
	switch x := d.(type) {
	case Insert:
		return x.Value, true
	case Update:
		return x.New, true
	case Remove:
		return nil, true
	}
	return nil, false
}

func resolve(a, b Diff, p Policy, path string) (Diff, error) {
	switch p {
	case PolicyRetain:
		return a, nil
	case PolicyReplace:
		return b, nil
	default:
		return nil, &ConflictError{Path: path, A: a, B: b}
	}
}

func mergeMap(a, b MapDiff, p Policy, path string) (MapDiff, error) {
	out := make(MapDiff, len(a)+len(b))
	for key, da := range a {
		merged, err := merge(da, b[key], p, path+"/"+key)
		if err != nil {
			return nil, err
		}
		out[key] = merged
	}
	for key, db := range b {
		if _, ok := out[key]; !ok {
			out[key] = db
		}
	}
	return out, nil
}

func mergeList(a, b *ListDiff, p Policy, path string) (*ListDiff, error) {
	// Walk the longer diff; positions missing in the shorter one are unchanged.
	long, short, swapped := a, b, false
	if len(b.Items) > len(a.Items) {
		long, short, swapped = b, a, true
	}
	// first and second keep the policy orientation after swapping
	pick := func(l, s Diff) (first, second Diff) {
		if swapped {
			return s, l
		}
		return l, s
	}

	out := &ListDiff{OriginalLength: a.OriginalLength}
	var removeFound, insertFound bool

	for i, l := range long.Items {
		var s Diff
		if i < len(short.Items) {
			s = short.Items[i]
		}
		at := path + "/" + strconv.Itoa(i)
		first, second := pick(l, s)
		conflict := &ConflictError{Path: at, A: first, B: second}

		_, lRemove := l.(Remove)
		_, sRemove := s.(Remove)
		_, lInsert := l.(Insert)
		_, sInsert := s.(Insert)

		switch {
		case lRemove || sRemove:
			if insertFound {
				return nil, conflict
			}
			removeFound = true
		case lInsert || sInsert:
			if removeFound {
				return nil, conflict
			}
			insertFound = true
		}

		if removeFound {
			if (l != nil && !lRemove) || (s != nil && !sRemove) {
				return nil, conflict
			}
			if lRemove {
				out.Items = append(out.Items, l)
			} else {
				out.Items = append(out.Items, s)
			}
			continue
		}

		if insertFound {
			if !lInsert {
				return nil, conflict
			}
			if i < len(short.Items) && s != nil {
				if !sInsert {
					return nil, conflict
				}
				out.Items = append(out.Items, first, second)
				continue
			}
			out.Items = append(out.Items, l)
			continue
		}

		merged, err := merge(first, second, p, at)
		if err != nil {
			return nil, err
		}
		out.Items = append(out.Items, merged)
	}

	out.NewLength = out.OriginalLength
	for _, d := range out.Items {
		switch d.(type) {
		case Insert:
			out.NewLength++
		case Remove:
			out.NewLength--
		}
	}
	return out, nil
}
