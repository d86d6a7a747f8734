package document

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func doc(m map[string]any) Document { return Document(m) }

func TestComputeNoChange(t *testing.T) {
	a := doc(map[string]any{"name": "Hubert", "nested": map[string]any{"x": 1.0}})
	assert.Empty(t, Compute(a, a.Clone()))
}

func TestComputeInsertUpdateDelete(t *testing.T) {
	base := doc(map[string]any{
		"name":    "Hubert",
		"deleted": "bye",
	})
	target := doc(map[string]any{
		"name":    "Hubert II",
		"address": "123 Pony",
	})

	d := Compute(base, target)
	require.Len(t, d, 3)

	byPath := map[string]Op{}
	for _, op := range d {
		byPath[op.Path.key()] = op
	}

	del, ok := byPath[Path{"deleted"}.key()]
	require.True(t, ok)
	assert.Equal(t, Delete, del.Kind)

	addr, ok := byPath[Path{"address"}.key()]
	require.True(t, ok)
	assert.Equal(t, Insert, addr.Kind)
	assert.Equal(t, "123 Pony", addr.Value)

	name, ok := byPath[Path{"name"}.key()]
	require.True(t, ok)
	assert.Equal(t, Insert, name.Kind)
	assert.Equal(t, "Hubert II", name.Value)
}

func TestComputeOrderIsLexicographic(t *testing.T) {
	base := doc(map[string]any{})
	target := doc(map[string]any{"b": 1.0, "a": 2.0, "c": 3.0})
	d := Compute(base, target)
	require.Len(t, d, 3)
	assert.Equal(t, Path{"a"}, d[0].Path)
	assert.Equal(t, Path{"b"}, d[1].Path)
	assert.Equal(t, Path{"c"}, d[2].Path)
}

// apply(diff(a, a), d) = d and diff(a, a) = [].
func TestLawIdentityDiffIsEmpty(t *testing.T) {
	a := doc(map[string]any{"name": "Hubert", "n": map[string]any{"x": 1.0}})
	assert.Empty(t, Compute(a, a.Clone()))

	d := doc(map[string]any{"anything": "goes"})
	out := Apply(Compute(a, a.Clone()), d)
	assert.True(t, cmp.Equal(map[string]any(d), map[string]any(out)))
}

// apply(diff(a, b), a) = b.
func TestLawApplyDiffReachesTarget(t *testing.T) {
	a := doc(map[string]any{"name": "Hubert", "nested": map[string]any{"x": 1.0}})
	b := doc(map[string]any{"name": "Hubert II", "nested": map[string]any{"x": 2.0, "y": 3.0}})

	out := Apply(Compute(a, b), a)
	assert.True(t, cmp.Equal(map[string]any(b), map[string]any(out)))
}

func TestApplyInsertCreatesIntermediateObjects(t *testing.T) {
	d := Diff{{Kind: Insert, Path: Path{"a", "b", "c"}, Value: "leaf", Label: -1}}
	out := Apply(d, New())
	nested, ok := out["a"].(map[string]any)
	require.True(t, ok)
	nested2, ok := nested["b"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "leaf", nested2["c"])
}

func TestApplyDeleteIsIdempotent(t *testing.T) {
	d := Diff{{Kind: Delete, Path: Path{"missing"}}}
	out := Apply(d, doc(map[string]any{"present": 1.0}))
	assert.Equal(t, doc(map[string]any{"present": 1.0}), out)
	out2 := Apply(d, out)
	assert.Equal(t, out, out2)
}

// merge(p, [d]) = (d, []).
func TestMergeSingleDiffIsStable(t *testing.T) {
	d := Diff{
		{Kind: Insert, Path: Path{"a"}, Value: "1", Label: -1},
		{Kind: Delete, Path: Path{"b"}, Label: -1},
	}
	merged, fragments := Merge(IgnoreConflicts, []Diff{d})
	assert.Empty(t, fragments)
	require.Len(t, merged, len(d))
	for i := range d {
		assert.True(t, opsEqual(d[i], merged[i]))
	}
}

func TestMergeIdenticalDiffsAreStable(t *testing.T) {
	d1 := Diff{{Kind: Insert, Path: Path{"name"}, Value: "X", Label: -1}}
	d2 := Diff{{Kind: Insert, Path: Path{"name"}, Value: "X", Label: -1}}
	merged, fragments := Merge(IgnoreConflicts, []Diff{d1, d2})
	assert.Empty(t, fragments)
	require.Len(t, merged, 1)
	assert.Equal(t, "X", merged[0].Value)
}

func TestMergeConvergentUpdate(t *testing.T) {
	// A adds address, B makes no change.
	a := Diff{{Kind: Insert, Path: Path{"address"}, Value: "123 Pony", Label: -1}}
	b := Diff{}
	merged, fragments := Merge(IgnoreConflicts, []Diff{a, b})
	assert.Empty(t, fragments)
	require.Len(t, merged, 1)
	assert.Equal(t, "123 Pony", merged[0].Value)
}

func TestMergeConflictingUpdateProducesFragmentsAndEmptyMergedAtPath(t *testing.T) {
	a := Diff{{Kind: Insert, Path: Path{"name"}, Value: "X", Label: -1}}
	b := Diff{{Kind: Insert, Path: Path{"name"}, Value: "Y", Label: -1}}
	merged, fragments := Merge(IgnoreConflicts, []Diff{a, b})

	for _, op := range merged {
		assert.False(t, op.Path.Equal(Path{"name"}), "conflicting path must not appear in merged")
	}
	require.Len(t, fragments, 2)
	assert.Equal(t, "X", fragments[0][0].Value)
	assert.Equal(t, 0, fragments[0][0].Label)
	assert.Equal(t, "Y", fragments[1][0].Value)
	assert.Equal(t, 1, fragments[1][0].Label)
}

func TestParseJSONRejectsGarbage(t *testing.T) {
	_, err := ParseJSON([]byte("not json"))
	require.Error(t, err)
}

func TestParseJSONRoundTrip(t *testing.T) {
	d, err := ParseJSON([]byte(`{"name":"Hubert","tags":["a","b"]}`))
	require.NoError(t, err)
	assert.Equal(t, "Hubert", d["name"])
}
