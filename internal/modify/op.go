// Package modify resolves write requests against stored records without
// locking. Each Entry is decided by its existence, presence and conflict
// policies; concurrent changes are reconciled by a three-way merge and stale
// writes are caught by a version check.
package modify

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Operation is one category of work an operation turned out to need.
type Operation uint8

const (
	Read Operation = 1 << iota
	Create
	Update
	Delete
	// Write is implied by any of Create, Update and Delete.
	Write
)

// OperationSet is a set of Operation values.
type OperationSet uint8

// Has reports whether op is in the set.
func (s OperationSet) Has(op Operation) bool { return s&OperationSet(op) != 0 }

func (s OperationSet) String() string {
	names := []struct {
		op   Operation
		name string
	}{{Read, "READ"}, {Create, "CREATE"}, {Update, "UPDATE"}, {Delete, "DELETE"}, {Write, "WRITE"}}
	var parts []string
	for _, n := range names {
		if s.Has(n.op) {
			parts = append(parts, n.name)
		}
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// Op is a modify operation over an ordered list of entries. It is owned by a
// single request and is not safe for concurrent use.
type Op[T any] struct {
	Entries       []*Entry[T]
	Transactional bool

	processed bool
	usedOnce  sync.Once
	used      OperationSet
}

// NewOp creates an operation. Entry positions are set to their index.
func NewOp[T any](entries []*Entry[T], transactional bool) *Op[T] {
	for i, e := range entries {
		e.Position = i
	}
	return &Op[T]{Entries: entries, Transactional: transactional}
}

// Process resolves every entry in submission order. A policy failure is
// recorded on its entry, or returned immediately when the operation is
// transactional. Conversion failures are always returned.
func (op *Op[T]) Process() error {
	if op.processed {
		return ErrAlreadyProcessed
	}
	op.processed = true

	for _, e := range op.Entries {
		err := op.processEntry(e)
		if err == nil {
			continue
		}
		var policyErr *Error
		if !errors.As(err, &policyErr) {
			return err
		}
		policyErr.Position = e.Position
		if policyErr.ID == "" {
			policyErr.ID = e.ID
		}
		e.Result = nil
		e.Outcome = OutcomeFailed
		if op.Transactional {
			return policyErr
		}
		e.Err = policyErr
	}
	return nil
}

func (op *Op[T]) processEntry(e *Entry[T]) error {
	var (
		result *T
		err    error
	)
	if e.Head == nil {
		switch e.IfNotExists {
		case IfNotExistsRetain:
			e.Outcome = OutcomeSkipped
		case IfNotExistsCreate:
			result, err = e.create()
		case IfNotExistsError:
			err = &Error{ID: e.ID, Reason: ReasonNotExists, Message: "the record does not exist"}
		default:
			err = fmt.Errorf("unsupported ifNotExists policy %v", e.IfNotExists)
		}
	} else {
		switch e.IfExists {
		case IfExistsRetain:
			result, err = e.transform()
		case IfExistsReplace:
			result, err = e.replace()
		case IfExistsPatch:
			result, err = e.patch()
		case IfExistsMerge:
			result, err = e.merge()
		case IfExistsDelete:
			result, err = e.delete()
		case IfExistsError:
			err = &Error{ID: e.ID, Reason: ReasonExists, Message: "the record exists"}
		default:
			err = fmt.Errorf("unsupported ifExists policy %v", e.IfExists)
		}
	}
	if err != nil {
		return err
	}
	e.Result = result

	if !e.IsModified {
		modified, err := e.modified()
		if err != nil {
			return err
		}
		e.IsModified = modified
	}
	return nil
}

// UsedOperations classifies the entries by the outcome they actually took.
// The set is computed once, on first call after Process.
func (op *Op[T]) UsedOperations() OperationSet {
	op.usedOnce.Do(func() {
		var set OperationSet
		for _, e := range op.Entries {
			switch e.Outcome {
			case OutcomeRetained:
				set |= OperationSet(Read)
			case OutcomeCreated:
				set |= OperationSet(Create)
			case OutcomeDeleted:
				set |= OperationSet(Delete)
			case OutcomeUpdated:
				if e.IsModified {
					set |= OperationSet(Update)
				} else {
					set |= OperationSet(Read)
				}
			}
		}
		if set&OperationSet(Create|Update|Delete) != 0 {
			set |= OperationSet(Write)
		}
		op.used = set
	})
	return op.used
}

// IsWrite reports whether any entry needs to be written.
func (op *Op[T]) IsWrite() bool {
	return op.UsedOperations().Has(Write)
}

// Failed returns the entries that failed in non-transactional mode.
func (op *Op[T]) Failed() []*Entry[T] {
	var out []*Entry[T]
	for _, e := range op.Entries {
		if e.Err != nil {
			out = append(out, e)
		}
	}
	return out
}

// ValidateIDs rejects duplicate ids among the entries. Entries without id
// are ignored.
func ValidateIDs[T any](entries []*Entry[T]) error {
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if e.ID == "" {
			continue
		}
		if _, dup := seen[e.ID]; dup {
			return &ValidationError{Field: "id", Message: fmt.Sprintf("objects with the same ID %s are included in the request", e.ID)}
		}
		seen[e.ID] = struct{}{}
	}
	return nil
}
