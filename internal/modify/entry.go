package modify

import (
	"fmt"

	"github.com/heremaps/xyz-hub-sub003/internal/diff"
	"github.com/heremaps/xyz-hub-sub003/internal/value"
)

// NoVersion marks an input or a stored record without version information.
const NoVersion int64 = -1

// Codec converts records of type T to and from structural values.
type Codec[T any] interface {
	ToValue(rec *T) (value.Object, error)
	FromValue(obj value.Object) (*T, error)
	ID(rec *T) string
	// Version returns the stored version of rec, or NoVersion.
	Version(rec *T) int64
	// InputVersion returns the version a caller presented in a raw input, or NoVersion.
	InputVersion(input value.Object) int64
	// StripMetadata returns a copy of obj without server-managed fields.
	StripMetadata(obj value.Object) value.Object
}

// Outcome is the path an entry actually took during processing.
type Outcome uint8

const (
	OutcomePending Outcome = iota
	// OutcomeSkipped: the record did not exist and was not created.
	OutcomeSkipped
	// OutcomeRetained: the record existed and is left as it is.
	OutcomeRetained
	OutcomeCreated
	OutcomeUpdated
	OutcomeDeleted
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeRetained:
		return "retained"
	case OutcomeCreated:
		return "created"
	case OutcomeUpdated:
		return "updated"
	case OutcomeDeleted:
		return "deleted"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Entry is the write intent for one record.
type Entry[T any] struct {
	Policies

	Position int
	ID       string
	// Input is the caller's value with server-managed metadata removed.
	Input        value.Object
	InputVersion int64

	Head   *T
	Base   *T
	Result *T

	IsModified bool
	Outcome    Outcome
	Err        error

	codec       Codec[T]
	headValue   value.Object
	resultValue value.Object
}

// NewEntry builds an entry from a raw caller value.
func NewEntry[T any](codec Codec[T], input value.Object, p Policies) *Entry[T] {
	e := &Entry[T]{
		Policies:     p,
		InputVersion: codec.InputVersion(input),
		Input:        codec.StripMetadata(input),
		codec:        codec,
	}
	e.ID = idOf(e.Input)
	return e
}

func idOf(obj value.Object) string {
	switch id := obj["id"].(type) {
	case value.String:
		return string(id)
	case value.Int:
		return fmt.Sprintf("%d", int64(id))
	case value.Float:
		return fmt.Sprintf("%v", float64(id))
	}
	return ""
}

// HeadValue returns the memoised structural form of Head without metadata.
func (e *Entry[T]) HeadValue() (value.Object, error) {
	if e.headValue == nil && e.Head != nil {
		v, err := e.toValue(e.Head)
		if err != nil {
			return nil, err
		}
		e.headValue = v
	}
	return e.headValue, nil
}

// ResultValue returns the memoised structural form of Result without metadata.
func (e *Entry[T]) ResultValue() (value.Object, error) {
	if e.resultValue == nil && e.Result != nil {
		v, err := e.toValue(e.Result)
		if err != nil {
			return nil, err
		}
		e.resultValue = v
	}
	return e.resultValue, nil
}

func (e *Entry[T]) toValue(rec *T) (value.Object, error) {
	v, err := e.codec.ToValue(rec)
	if err != nil {
		return nil, err
	}
	return e.codec.StripMetadata(v), nil
}

func (e *Entry[T]) fromValue(obj value.Object) (*T, error) {
	rec, err := e.codec.FromValue(obj)
	if err != nil {
		return nil, fmt.Errorf("record %q: %w", e.ID, err)
	}
	return rec, nil
}

func (e *Entry[T]) create() (*T, error) {
	e.IsModified = true
	e.Outcome = OutcomeCreated
	return e.fromValue(e.Input)
}

func (e *Entry[T]) transform() (*T, error) {
	e.Outcome = OutcomeRetained
	return e.Head, nil
}

func (e *Entry[T]) replace() (*T, error) {
	if err := e.checkVersion(); err != nil {
		return nil, err
	}
	e.Outcome = OutcomeUpdated
	return e.fromValue(e.Input)
}

func (e *Entry[T]) delete() (*T, error) {
	if err := e.checkVersion(); err != nil {
		return nil, err
	}
	if e.Head != nil {
		e.IsModified = true
	}
	e.Outcome = OutcomeDeleted
	return nil, nil
}

func (e *Entry[T]) patch() (*T, error) {
	base, err := e.baseValue()
	if err != nil {
		return nil, err
	}
	d := diff.Partial(base, e.Input)
	if d == nil {
		e.Outcome = OutcomeRetained
		return e.Head, nil
	}
	computed, err := diff.ApplyObject(base, d)
	if err != nil {
		return nil, e.mergeError(err)
	}
	e.Input = computed
	return e.merge()
}

func (e *Entry[T]) merge() (*T, error) {
	head, err := e.HeadValue()
	if err != nil {
		return nil, err
	}
	base, err := e.baseValue()
	if err != nil {
		return nil, err
	}
	if value.Equal(base, head) {
		return e.replace()
	}

	diffInput := diff.Compute(base, e.Input)
	if diffInput == nil {
		e.Outcome = OutcomeRetained
		return e.Head, nil
	}
	diffHead := diff.Compute(base, head)
	merged, err := diff.Merge(diffHead, diffInput, e.ConflictResolution)
	if err != nil {
		return nil, e.mergeError(err)
	}
	result, err := diff.ApplyObject(base, merged)
	if err != nil {
		return nil, e.mergeError(err)
	}
	e.resultValue = result
	e.Outcome = OutcomeUpdated
	return e.fromValue(result)
}

// baseValue is the structural form of Base, or of Head when the caller did
// not name a base state.
func (e *Entry[T]) baseValue() (value.Object, error) {
	if e.Base == nil {
		return e.HeadValue()
	}
	return e.toValue(e.Base)
}

func (e *Entry[T]) mergeError(err error) error {
	return &Error{ID: e.ID, Reason: ReasonMergeConflict, Message: "the record could not be merged", Err: err}
}

func (e *Entry[T]) checkVersion() error {
	if e.SkipConflictDetection || e.InputVersion == NoVersion {
		return nil
	}
	stored := e.codec.Version(e.Head)
	if stored == NoVersion || stored == e.InputVersion {
		return nil
	}
	return &Error{
		ID:      e.ID,
		Reason:  ReasonVersionConflict,
		Message: "version conflict",
		Err:     &VersionConflictError{ID: e.ID, Presented: e.InputVersion, Stored: stored},
	}
}

// modified compares head and result structurally.
func (e *Entry[T]) modified() (bool, error) {
	if e.Head == nil || e.Result == nil {
		return e.Head != e.Result, nil
	}
	if e.Head == e.Result {
		return false, nil
	}
	head, err := e.HeadValue()
	if err != nil {
		return false, err
	}
	result, err := e.ResultValue()
	if err != nil {
		return false, err
	}
	return !value.Equal(head, result), nil
}
