package document

import (
	"sort"

	"github.com/google/go-cmp/cmp"
)

// Kind distinguishes the two op shapes the spec requires. A Replace is
// represented as an Insert (overwrite), the equivalent the spec explicitly
// allows ("Optionally Replace(path, old, new) if the implementer prefers;
// equivalent semantics").
type Kind int

const (
	// Insert adds or overwrites a leaf.
	Insert Kind = iota
	// Delete removes a leaf.
	Delete
)

func (k Kind) String() string {
	if k == Insert {
		return "insert"
	}
	return "delete"
}

// Op is one diff operation, optionally labelled with a source index. Labels
// are set only by Merge, to record which input diff a conflict fragment
// came from; a freshly Computed diff always carries Label -1.
type Op struct {
	Kind  Kind
	Path  Path
	Value any
	Label int
}

func (o Op) withLabel(label int) Op {
	o.Label = label
	return o
}

func opsEqual(a, b Op) bool {
	if a.Kind != b.Kind || !a.Path.Equal(b.Path) {
		return false
	}
	if a.Kind == Delete {
		return true
	}
	return cmp.Equal(a.Value, b.Value)
}

// Diff is an ordered list of Ops. Compute always returns one ordered by
// lexicographic path, which Apply and Merge rely on.
type Diff []Op

// Compute walks base and target in lock-step over sorted paths and returns
// the ops that transform base into target:
//
//	absent -> present:  Insert
//	present -> absent:  Delete
//	present -> present, distinct values: Insert (overwrite)
//	present -> present, equal values:    nothing
//
// The result is ordered by lexicographic path; that order is part of the
// contract (deterministic Apply and Merge depend on it).
func Compute(base, target Document) Diff {
	baseLeaves, _ := flattenDoc(base)
	targetLeaves, targetOrder := flattenDoc(target)

	allKeys := make(map[string]struct{}, len(baseLeaves)+len(targetLeaves))
	var order []string
	for k := range baseLeaves {
		if _, ok := allKeys[k]; !ok {
			allKeys[k] = struct{}{}
			order = append(order, k)
		}
	}
	for _, k := range targetOrder {
		if _, ok := allKeys[k]; !ok {
			allKeys[k] = struct{}{}
			order = append(order, k)
		}
	}
	sort.Strings(order)

	var diff Diff
	for _, key := range order {
		b, bok := baseLeaves[key]
		t, tok := targetLeaves[key]
		switch {
		case !bok && tok:
			diff = append(diff, Op{Kind: Insert, Path: t.path, Value: t.value, Label: -1})
		case bok && !tok:
			diff = append(diff, Op{Kind: Delete, Path: b.path, Label: -1})
		case bok && tok && !cmp.Equal(b.value, t.value):
			diff = append(diff, Op{Kind: Insert, Path: t.path, Value: t.value, Label: -1})
		}
	}
	return diff
}

// Apply executes diff's ops left-to-right against doc and returns the
// result. Apply is total: inserting creates intermediate objects as needed,
// and deleting an absent path is a no-op, so Apply never fails.
func Apply(diff Diff, doc Document) Document {
	out := doc.Clone()
	for _, op := range diff {
		switch op.Kind {
		case Insert:
			setPath(out, op.Path, op.Value)
		case Delete:
			deletePath(out, op.Path)
		}
	}
	return out
}
