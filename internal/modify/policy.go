package modify

import (
	"strings"

	"github.com/heremaps/xyz-hub-sub003/internal/diff"
)

// IfNotExists selects what happens to an entry whose record is not stored.
type IfNotExists uint8

const (
	IfNotExistsRetain IfNotExists = iota
	IfNotExistsError
	IfNotExistsCreate
)

func (p IfNotExists) String() string {
	switch p {
	case IfNotExistsRetain:
		return "RETAIN"
	case IfNotExistsError:
		return "ERROR"
	case IfNotExistsCreate:
		return "CREATE"
	default:
		return "UNKNOWN"
	}
}

// IfExists selects what happens to an entry whose record is stored.
type IfExists uint8

const (
	IfExistsRetain IfExists = iota
	IfExistsError
	IfExistsDelete
	IfExistsReplace
	IfExistsPatch
	IfExistsMerge
)

func (p IfExists) String() string {
	switch p {
	case IfExistsRetain:
		return "RETAIN"
	case IfExistsError:
		return "ERROR"
	case IfExistsDelete:
		return "DELETE"
	case IfExistsReplace:
		return "REPLACE"
	case IfExistsPatch:
		return "PATCH"
	case IfExistsMerge:
		return "MERGE"
	default:
		return "UNKNOWN"
	}
}

// ConflictResolution decides overlapping changes during a three-way merge.
type ConflictResolution = diff.Policy

const (
	ConflictResolutionError   = diff.PolicyError
	ConflictResolutionRetain  = diff.PolicyRetain
	ConflictResolutionReplace = diff.PolicyReplace
)

// ParseIfNotExists parses a policy name case-insensitively.
func ParseIfNotExists(s string) (IfNotExists, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "RETAIN":
		return IfNotExistsRetain, nil
	case "ERROR":
		return IfNotExistsError, nil
	case "CREATE":
		return IfNotExistsCreate, nil
	}
	return 0, &ValidationError{Field: "ifNotExists", Message: "invalid value " + quote(s)}
}

// ParseIfExists parses a policy name case-insensitively.
func ParseIfExists(s string) (IfExists, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "RETAIN":
		return IfExistsRetain, nil
	case "ERROR":
		return IfExistsError, nil
	case "DELETE":
		return IfExistsDelete, nil
	case "REPLACE":
		return IfExistsReplace, nil
	case "PATCH":
		return IfExistsPatch, nil
	case "MERGE":
		return IfExistsMerge, nil
	}
	return 0, &ValidationError{Field: "ifExists", Message: "invalid value " + quote(s)}
}

// ParseConflictResolution parses a policy name case-insensitively.
func ParseConflictResolution(s string) (ConflictResolution, error) {
	p, err := diff.ParsePolicy(s)
	if err != nil {
		return 0, &ValidationError{Field: "conflictResolution", Message: "invalid value " + quote(s)}
	}
	return p, nil
}

// Policies is the set of per-entry policy values.
type Policies struct {
	IfExists              IfExists
	IfNotExists           IfNotExists
	ConflictResolution    ConflictResolution
	SkipConflictDetection bool
}

// Override returns p with every non-empty selector parsed and applied. Empty
// selectors keep the current value; unknown ones are rejected.
func (p Policies) Override(ifExists, ifNotExists, conflictResolution string) (Policies, error) {
	var err error
	if ifExists != "" {
		if p.IfExists, err = ParseIfExists(ifExists); err != nil {
			return p, err
		}
	}
	if ifNotExists != "" {
		if p.IfNotExists, err = ParseIfNotExists(ifNotExists); err != nil {
			return p, err
		}
	}
	if conflictResolution != "" {
		if p.ConflictResolution, err = ParseConflictResolution(conflictResolution); err != nil {
			return p, err
		}
	}
	return p, nil
}

func quote(s string) string {
	return `"` + s + `"`
}
