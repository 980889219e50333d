package modify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heremaps/xyz-hub-sub003/internal/value"
)

// record is a minimal versioned record; "version" is server-managed.
type record struct {
	obj value.Object
}

type recordCodec struct{}

func (recordCodec) ToValue(r *record) (value.Object, error) { return r.obj.Clone(), nil }
func (recordCodec) FromValue(o value.Object) (*record, error) {
	return &record{obj: o.Clone()}, nil
}
func (recordCodec) ID(r *record) string {
	s, _ := r.obj.GetString("id")
	return s
}
func (recordCodec) Version(r *record) int64 {
	if r == nil {
		return NoVersion
	}
	if v, ok := r.obj.GetInt("version"); ok {
		return v
	}
	return NoVersion
}
func (recordCodec) InputVersion(in value.Object) int64 {
	if v, ok := in.GetInt("version"); ok {
		return v
	}
	return NoVersion
}
func (recordCodec) StripMetadata(o value.Object) value.Object {
	return value.Filter(o, value.Object{"version": value.Bool(true)})
}

func rec(t *testing.T, js string) *record {
	t.Helper()
	o, err := value.ParseObject([]byte(js))
	require.NoError(t, err)
	return &record{obj: o}
}

func input(t *testing.T, js string) value.Object {
	t.Helper()
	o, err := value.ParseObject([]byte(js))
	require.NoError(t, err)
	return o
}

func entry(t *testing.T, in string, p Policies) *Entry[record] {
	t.Helper()
	return NewEntry[record](recordCodec{}, input(t, in), p)
}

func assertResult(t *testing.T, want string, e *Entry[record]) {
	t.Helper()
	require.NotNil(t, e.Result)
	assert.True(t, value.Equal(input(t, want), e.Result.obj), "result = %v", e.Result.obj)
}

func TestNewEntry_StripsMetadataAndReadsVersion(t *testing.T) {
	e := entry(t, `{"id":"f1","name":"b","version":4}`, Policies{})
	assert.Equal(t, "f1", e.ID)
	assert.Equal(t, int64(4), e.InputVersion)
	assert.True(t, value.Equal(input(t, `{"id":"f1","name":"b"}`), e.Input))

	e = entry(t, `{"id":12,"name":"b"}`, Policies{})
	assert.Equal(t, "12", e.ID)
	assert.Equal(t, NoVersion, e.InputVersion)
}

func TestProcess_ReplaceWithMatchingVersion(t *testing.T) {
	e := entry(t, `{"id":"f1","name":"b","version":1}`, Policies{IfExists: IfExistsReplace})
	e.Head = rec(t, `{"id":"f1","name":"a","version":1}`)
	e.Base = e.Head

	op := NewOp([]*Entry[record]{e}, false)
	require.NoError(t, op.Process())

	assert.NoError(t, e.Err)
	assert.True(t, e.IsModified)
	assertResult(t, `{"id":"f1","name":"b"}`, e)
}

func TestProcess_ReplaceWithStaleVersion(t *testing.T) {
	e := entry(t, `{"id":"f1","name":"b","version":0}`, Policies{IfExists: IfExistsReplace})
	head := rec(t, `{"id":"f1","name":"a","version":1}`)
	e.Head = head
	e.Base = head

	op := NewOp([]*Entry[record]{e}, false)
	require.NoError(t, op.Process())

	require.Error(t, e.Err)
	assert.True(t, IsVersionConflict(e.Err))
	assert.True(t, IsPolicyError(e.Err))
	assert.Nil(t, e.Result)
	assert.Equal(t, OutcomeFailed, e.Outcome)
	assert.True(t, value.Equal(input(t, `{"id":"f1","name":"a","version":1}`), head.obj))
}

func TestProcess_VersionGate(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		head     string
		skip     bool
		conflict bool
	}{
		{"unversioned input", `{"id":"f1"}`, `{"id":"f1","version":3}`, false, false},
		{"unversioned head", `{"id":"f1","version":2}`, `{"id":"f1"}`, false, false},
		{"skip detection", `{"id":"f1","version":2}`, `{"id":"f1","version":3}`, true, false},
		{"equal versions", `{"id":"f1","version":3}`, `{"id":"f1","version":3}`, false, false},
		{"stale version", `{"id":"f1","version":2}`, `{"id":"f1","version":3}`, false, true},
	}
	for _, tt := range tests {
		for _, policy := range []IfExists{IfExistsReplace, IfExistsDelete} {
			t.Run(tt.name+"/"+policy.String(), func(t *testing.T) {
				e := entry(t, tt.input, Policies{IfExists: policy, SkipConflictDetection: tt.skip})
				e.Head = rec(t, tt.head)

				require.NoError(t, NewOp([]*Entry[record]{e}, false).Process())
				assert.Equal(t, tt.conflict, IsVersionConflict(e.Err), "err = %v", e.Err)
			})
		}
	}
}

func TestProcess_RetainIsIdempotent(t *testing.T) {
	e := entry(t, `{"id":"f1","name":"changed"}`, Policies{IfExists: IfExistsRetain})
	e.Head = rec(t, `{"id":"f1","name":"a","version":1}`)

	op := NewOp([]*Entry[record]{e}, false)
	require.NoError(t, op.Process())

	assert.Same(t, e.Head, e.Result)
	assert.False(t, e.IsModified)
	assert.True(t, op.UsedOperations().Has(Read))
	assert.False(t, op.IsWrite())
}

func TestProcess_AbsentHead(t *testing.T) {
	t.Run("retain", func(t *testing.T) {
		e := entry(t, `{"id":"f1"}`, Policies{IfNotExists: IfNotExistsRetain})
		op := NewOp([]*Entry[record]{e}, false)
		require.NoError(t, op.Process())
		assert.Nil(t, e.Result)
		assert.False(t, e.IsModified)
		assert.NoError(t, e.Err)
		assert.Equal(t, OutcomeSkipped, e.Outcome)
		assert.False(t, op.IsWrite())
	})
	t.Run("create", func(t *testing.T) {
		e := entry(t, `{"id":"f1","name":"n","version":7}`, Policies{IfNotExists: IfNotExistsCreate})
		op := NewOp([]*Entry[record]{e}, false)
		require.NoError(t, op.Process())
		assert.True(t, e.IsModified)
		assertResult(t, `{"id":"f1","name":"n"}`, e)
		assert.True(t, op.UsedOperations().Has(Create))
		assert.True(t, op.UsedOperations().Has(Write))
	})
	t.Run("error", func(t *testing.T) {
		e := entry(t, `{"id":"f1"}`, Policies{IfNotExists: IfNotExistsError})
		require.NoError(t, NewOp([]*Entry[record]{e}, false).Process())
		var pe *Error
		require.ErrorAs(t, e.Err, &pe)
		assert.Equal(t, ReasonNotExists, pe.Reason)
		assert.Equal(t, "f1", pe.ID)
	})
}

func TestProcess_ExistsError(t *testing.T) {
	e := entry(t, `{"id":"f1"}`, Policies{IfExists: IfExistsError})
	e.Head = rec(t, `{"id":"f1"}`)
	require.NoError(t, NewOp([]*Entry[record]{e}, false).Process())
	var pe *Error
	require.ErrorAs(t, e.Err, &pe)
	assert.Equal(t, ReasonExists, pe.Reason)
}

func TestProcess_Delete(t *testing.T) {
	e := entry(t, `{"id":"f1","version":2}`, Policies{IfExists: IfExistsDelete})
	e.Head = rec(t, `{"id":"f1","version":2}`)

	op := NewOp([]*Entry[record]{e}, false)
	require.NoError(t, op.Process())
	assert.Nil(t, e.Result)
	assert.True(t, e.IsModified)
	assert.Equal(t, OutcomeDeleted, e.Outcome)
	assert.Equal(t, "[DELETE,WRITE]", op.UsedOperations().String())
}

func TestProcess_MergeDisjointChanges(t *testing.T) {
	e := entry(t, `{"id":"f1","a":1,"b":3}`, Policies{IfExists: IfExistsMerge})
	e.Base = rec(t, `{"id":"f1","a":1,"b":1,"version":1}`)
	e.Head = rec(t, `{"id":"f1","a":2,"b":1,"version":2}`)

	op := NewOp([]*Entry[record]{e}, false)
	require.NoError(t, op.Process())
	require.NoError(t, e.Err)
	assert.True(t, e.IsModified)
	assertResult(t, `{"id":"f1","a":2,"b":3}`, e)
	assert.True(t, op.UsedOperations().Has(Update))
}

func TestProcess_MergeConflictPolicies(t *testing.T) {
	tests := []struct {
		cr       ConflictResolution
		want     string
		conflict bool
	}{
		{ConflictResolutionError, "", true},
		{ConflictResolutionRetain, `{"id":"f1","name":"head"}`, false},
		{ConflictResolutionReplace, `{"id":"f1","name":"input"}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.cr.String(), func(t *testing.T) {
			e := entry(t, `{"id":"f1","name":"input"}`, Policies{IfExists: IfExistsMerge, ConflictResolution: tt.cr})
			e.Base = rec(t, `{"id":"f1","name":"base","version":1}`)
			e.Head = rec(t, `{"id":"f1","name":"head","version":2}`)

			require.NoError(t, NewOp([]*Entry[record]{e}, false).Process())
			if tt.conflict {
				var pe *Error
				require.ErrorAs(t, e.Err, &pe)
				assert.Equal(t, ReasonMergeConflict, pe.Reason)
				assert.Nil(t, e.Result)
				return
			}
			require.NoError(t, e.Err)
			assertResult(t, tt.want, e)
		})
	}
}

func TestProcess_MergeWithoutInputChangeReturnsHead(t *testing.T) {
	e := entry(t, `{"id":"f1","name":"base"}`, Policies{IfExists: IfExistsMerge})
	e.Base = rec(t, `{"id":"f1","name":"base","version":1}`)
	e.Head = rec(t, `{"id":"f1","name":"head","version":2}`)

	require.NoError(t, NewOp([]*Entry[record]{e}, false).Process())
	assert.Same(t, e.Head, e.Result)
	assert.False(t, e.IsModified)
}

func TestProcess_MergeFallsBackToReplaceWhenBaseEqualsHead(t *testing.T) {
	e := entry(t, `{"id":"f1","name":"new","version":1}`, Policies{IfExists: IfExistsMerge})
	e.Head = rec(t, `{"id":"f1","name":"old","version":1}`)
	e.Base = rec(t, `{"id":"f1","name":"old","version":1}`)

	require.NoError(t, NewOp([]*Entry[record]{e}, false).Process())
	assertResult(t, `{"id":"f1","name":"new"}`, e)
}

func TestProcess_Patch(t *testing.T) {
	e := entry(t, `{"properties":{"name":"b","size":null}}`, Policies{IfExists: IfExistsPatch})
	e.Head = rec(t, `{"id":"f1","properties":{"name":"a","size":3,"color":"red"},"version":5}`)

	require.NoError(t, NewOp([]*Entry[record]{e}, false).Process())
	require.NoError(t, e.Err)
	assert.True(t, e.IsModified)
	assertResult(t, `{"id":"f1","properties":{"name":"b","color":"red"}}`, e)
}

func TestProcess_PatchOnOlderBase(t *testing.T) {
	e := entry(t, `{"properties":{"name":"b"}}`, Policies{IfExists: IfExistsPatch})
	e.Base = rec(t, `{"id":"f1","properties":{"name":"a","size":1},"version":1}`)
	e.Head = rec(t, `{"id":"f1","properties":{"name":"a","size":2},"version":2}`)

	require.NoError(t, NewOp([]*Entry[record]{e}, false).Process())
	require.NoError(t, e.Err)
	assertResult(t, `{"id":"f1","properties":{"name":"b","size":2}}`, e)
}

func TestProcess_PatchWithoutChange(t *testing.T) {
	e := entry(t, `{"properties":{"name":"a"}}`, Policies{IfExists: IfExistsPatch})
	e.Head = rec(t, `{"id":"f1","properties":{"name":"a"}}`)

	op := NewOp([]*Entry[record]{e}, false)
	require.NoError(t, op.Process())
	assert.False(t, e.IsModified)
	assert.False(t, op.IsWrite())
}

func TestProcess_ReplaceWithIdenticalContentIsNotModified(t *testing.T) {
	e := entry(t, `{"id":"f1","name":"a"}`, Policies{IfExists: IfExistsReplace})
	e.Head = rec(t, `{"id":"f1","name":"a","version":9}`)

	op := NewOp([]*Entry[record]{e}, false)
	require.NoError(t, op.Process())
	assert.False(t, e.IsModified)
	assert.False(t, op.IsWrite())
	assert.True(t, op.UsedOperations().Has(Read))
}

func TestProcess_NonTransactionalContinues(t *testing.T) {
	failing := entry(t, `{"id":"f1","version":1}`, Policies{IfExists: IfExistsReplace})
	failing.Head = rec(t, `{"id":"f1","version":2}`)
	ok := entry(t, `{"id":"f2"}`, Policies{IfNotExists: IfNotExistsCreate})

	op := NewOp([]*Entry[record]{failing, ok}, false)
	require.NoError(t, op.Process())

	require.Len(t, op.Failed(), 1)
	var pe *Error
	require.ErrorAs(t, failing.Err, &pe)
	assert.Equal(t, 0, pe.Position)
	assert.NoError(t, ok.Err)
	assert.True(t, ok.IsModified)
}

func TestProcess_TransactionalAbortsAtFirstFailure(t *testing.T) {
	first := entry(t, `{"id":"f1"}`, Policies{IfNotExists: IfNotExistsCreate})
	failing := entry(t, `{"id":"f2"}`, Policies{IfNotExists: IfNotExistsError})
	last := entry(t, `{"id":"f3"}`, Policies{IfNotExists: IfNotExistsCreate})

	op := NewOp([]*Entry[record]{first, failing, last}, true)
	err := op.Process()

	var pe *Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 1, pe.Position)
	assert.Equal(t, "f2", pe.ID)
	assert.Nil(t, failing.Err)
	assert.Equal(t, OutcomePending, last.Outcome)
	assert.Nil(t, last.Result)
}

func TestProcess_OnlyOnce(t *testing.T) {
	op := NewOp([]*Entry[record]{entry(t, `{"id":"f1"}`, Policies{})}, false)
	require.NoError(t, op.Process())
	assert.ErrorIs(t, op.Process(), ErrAlreadyProcessed)
}

func TestUsedOperations_IsMemoised(t *testing.T) {
	e := entry(t, `{"id":"f1"}`, Policies{IfNotExists: IfNotExistsCreate})
	op := NewOp([]*Entry[record]{e}, false)
	require.NoError(t, op.Process())

	first := op.UsedOperations()
	e.Outcome = OutcomeDeleted
	assert.Equal(t, first, op.UsedOperations())
}

func TestParsePolicies(t *testing.T) {
	p, err := Policies{}.Override("patch", "Create", "RETAIN")
	require.NoError(t, err)
	assert.Equal(t, IfExistsPatch, p.IfExists)
	assert.Equal(t, IfNotExistsCreate, p.IfNotExists)
	assert.Equal(t, ConflictResolutionRetain, p.ConflictResolution)

	p, err = Policies{IfExists: IfExistsMerge}.Override("", "", "")
	require.NoError(t, err)
	assert.Equal(t, IfExistsMerge, p.IfExists)

	_, err = Policies{}.Override("upsert", "", "")
	assert.True(t, IsValidation(err))
	_, err = ParseIfNotExists("")
	assert.True(t, IsValidation(err))
	_, err = ParseConflictResolution("whatever")
	assert.True(t, IsValidation(err))
}

func TestValidateIDs(t *testing.T) {
	entries := []*Entry[record]{
		entry(t, `{"id":"a"}`, Policies{}),
		entry(t, `{"name":"no id"}`, Policies{}),
		entry(t, `{"name":"no id either"}`, Policies{}),
		entry(t, `{"id":"b"}`, Policies{}),
	}
	assert.NoError(t, ValidateIDs(entries))

	entries = append(entries, entry(t, `{"id":"a"}`, Policies{}))
	err := ValidateIDs(entries)
	assert.True(t, IsValidation(err))
	assert.Contains(t, err.Error(), "same ID a")
}
