package diff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heremaps/xyz-hub-sub003/internal/value"
)

func obj(t *testing.T, js string) value.Object {
	t.Helper()
	o, err := value.ParseObject([]byte(js))
	require.NoError(t, err)
	return o
}

func TestCompute_Equal(t *testing.T) {
	a := obj(t, `{"id":"f1","n":1,"list":[1,2]}`)
	b := obj(t, `{"list":[1,2.0],"n":1.0,"id":"f1"}`)
	assert.Nil(t, Compute(a, b))
}

func TestCompute_Kinds(t *testing.T) {
	src := obj(t, `{"keep":1,"gone":true,"upd":"a","nested":{"x":1},"list":[1,2,3]}`)
	dst := obj(t, `{"keep":1,"upd":"b","nested":{"x":2},"list":[1,2],"new":null}`)

	d, ok := Compute(src, dst).(MapDiff)
	require.True(t, ok)

	assert.Equal(t, Remove{Old: value.Bool(true)}, d["gone"])
	assert.Equal(t, Update{Old: value.String("a"), New: value.String("b")}, d["upd"])
	assert.Equal(t, Insert{Value: value.Null{}}, d["new"])
	assert.Equal(t, MapDiff{"x": Update{Old: value.Int(1), New: value.Int(2)}}, d["nested"])
	assert.NotContains(t, d, "keep")

	ld, ok := d["list"].(*ListDiff)
	require.True(t, ok)
	assert.Equal(t, 3, ld.OriginalLength)
	assert.Equal(t, 2, ld.NewLength)
	assert.Equal(t, []Diff{nil, nil, Remove{Old: value.Int(3)}}, ld.Items)
}

func TestApply_RoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		src, dst string
	}{
		{"scalar update", `{"a":1}`, `{"a":2}`},
		{"insert and remove", `{"a":1,"b":2}`, `{"a":1,"c":3}`},
		{"nested", `{"p":{"x":{"y":1}}}`, `{"p":{"x":{"y":2,"z":[1]}}}`},
		{"list grow", `{"l":[1,2]}`, `{"l":[1,2,3,4]}`},
		{"list shrink", `{"l":[1,2,3,4]}`, `{"l":[1]}`},
		{"list of objects", `{"l":[{"a":1},{"b":2}]}`, `{"l":[{"a":2},{"b":2}]}`},
		{"type change", `{"a":{"x":1}}`, `{"a":[1]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := obj(t, tt.src)
			dst := obj(t, tt.dst)
			got, err := ApplyObject(src, Compute(src, dst))
			require.NoError(t, err)
			assert.True(t, value.Equal(dst, got), "got %v", got)
			// source untouched
			assert.True(t, value.Equal(obj(t, tt.src), src))
		})
	}
}

func TestApply_Mismatch(t *testing.T) {
	_, err := Apply(value.Array{}, MapDiff{"a": Insert{Value: value.Int(1)}})
	assert.Error(t, err)
	_, err = Apply(value.Object{}, &ListDiff{})
	assert.Error(t, err)
}

func TestPartial(t *testing.T) {
	src := obj(t, `{"id":"f1","properties":{"name":"a","size":3,"deep":{"k":1}}}`)
	partial := obj(t, `{"properties":{"name":"b","size":null,"color":"red","deep":{"k":1}}}`)

	d := Partial(src, partial)
	require.NotNil(t, d)

	got, err := ApplyObject(src, d)
	require.NoError(t, err)
	assert.True(t, value.Equal(obj(t, `{"id":"f1","properties":{"name":"b","color":"red","deep":{"k":1}}}`), got))
}

func TestPartial_NoChange(t *testing.T) {
	src := obj(t, `{"a":1,"p":{"b":2}}`)
	assert.Nil(t, Partial(src, obj(t, `{"a":1.0,"p":{"b":2}}`)))
	assert.Nil(t, Partial(src, obj(t, `{"missing":null}`)))
}

func TestMerge_DisjointChanges(t *testing.T) {
	base := obj(t, `{"a":1,"b":1,"l":[1,2]}`)
	head := obj(t, `{"a":2,"b":1,"l":[1,2]}`)
	input := obj(t, `{"a":1,"b":3,"l":[1,2,3]}`)

	for _, p := range []Policy{PolicyError, PolicyRetain, PolicyReplace} {
		t.Run(p.String(), func(t *testing.T) {
			merged, err := Merge(Compute(base, head), Compute(base, input), p)
			require.NoError(t, err)
			got, err := ApplyObject(base, merged)
			require.NoError(t, err)
			assert.True(t, value.Equal(obj(t, `{"a":2,"b":3,"l":[1,2,3]}`), got), "got %v", got)
		})
	}
}

func TestMerge_Overlap(t *testing.T) {
	base := obj(t, `{"name":"a","x":1}`)
	head := obj(t, `{"name":"head","x":1}`)
	input := obj(t, `{"name":"input","x":2}`)

	_, err := Merge(Compute(base, head), Compute(base, input), PolicyError)
	require.Error(t, err)
	assert.True(t, IsConflict(err))

	merged, err := Merge(Compute(base, head), Compute(base, input), PolicyRetain)
	require.NoError(t, err)
	got, err := ApplyObject(base, merged)
	require.NoError(t, err)
	assert.True(t, value.Equal(obj(t, `{"name":"head","x":2}`), got))

	merged, err = Merge(Compute(base, head), Compute(base, input), PolicyReplace)
	require.NoError(t, err)
	got, err = ApplyObject(base, merged)
	require.NoError(t, err)
	assert.True(t, value.Equal(obj(t, `{"name":"input","x":2}`), got))
}

func TestMerge_SameChangeIsNoConflict(t *testing.T) {
	base := obj(t, `{"name":"a"}`)
	both := obj(t, `{"name":"b"}`)

	merged, err := Merge(Compute(base, both), Compute(base, both), PolicyError)
	require.NoError(t, err)
	got, err := ApplyObject(base, merged)
	require.NoError(t, err)
	assert.True(t, value.Equal(both, got))
}

func TestMerge_RemoveVersusUpdate(t *testing.T) {
	base := obj(t, `{"a":1}`)
	head := obj(t, `{}`)
	input := obj(t, `{"a":2}`)

	_, err := Merge(Compute(base, head), Compute(base, input), PolicyError)
	assert.True(t, IsConflict(err))

	merged, err := Merge(Compute(base, head), Compute(base, input), PolicyReplace)
	require.NoError(t, err)
	got, err := ApplyObject(base, merged)
	require.NoError(t, err)
	assert.True(t, value.Equal(input, got))
}

func TestMerge_Lists(t *testing.T) {
	tests := []struct {
		name, base, head, input, want string
		conflict                      bool
	}{
		{
			name: "both append", base: `{"l":[1]}`, head: `{"l":[1,2]}`, input: `{"l":[1,3]}`,
			want: `{"l":[1,2,3]}`,
		},
		{
			name: "update and append", base: `{"l":[1,2]}`, head: `{"l":[9,2]}`, input: `{"l":[1,2,3]}`,
			want: `{"l":[9,2,3]}`,
		},
		{
			name: "remove tail and update head", base: `{"l":[1,2,3]}`, head: `{"l":[1,2]}`, input: `{"l":[7,2,3]}`,
			want: `{"l":[7,2]}`,
		},
		{
			name: "append versus remove", base: `{"l":[1,2]}`, head: `{"l":[1]}`, input: `{"l":[1,2,3]}`,
			conflict: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := obj(t, tt.base)
			merged, err := Merge(Compute(base, obj(t, tt.head)), Compute(base, obj(t, tt.input)), PolicyError)
			if tt.conflict {
				assert.True(t, IsConflict(err), "err = %v", err)
				return
			}
			require.NoError(t, err)
			got, err := ApplyObject(base, merged)
			require.NoError(t, err)
			assert.True(t, value.Equal(obj(t, tt.want), got), "got %v", got)
		})
	}
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("retain")
	require.NoError(t, err)
	assert.Equal(t, PolicyRetain, p)

	p, err = ParsePolicy("Replace")
	require.NoError(t, err)
	assert.Equal(t, PolicyReplace, p)

	_, err = ParsePolicy("")
	assert.Error(t, err)
	_, err = ParsePolicy("overwrite")
	assert.Error(t, err)
}
