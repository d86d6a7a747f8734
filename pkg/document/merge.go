package document

import "sort"

// LabeledOp is one diff's op at a path under consideration by a MergePolicy,
// tagged with the index of the diff (== source) it came from.
type LabeledOp struct {
	Source int
	Op     Op
}

// MergePolicy decides, for one path, whether its candidate ops agree. When
// they do it returns the merged op (conflict=false); when they don't it
// returns conflict=true and merged is ignored.
type MergePolicy func(candidates []LabeledOp) (merged Op, conflict bool)

// IgnoreConflicts is the required built-in policy: candidates agreeing on
// the same op at a path produce that op once; any disagreement rejects
// every candidate at that path into the conflict fragments, leaving no op
// for that path in the merged diff.
func IgnoreConflicts(candidates []LabeledOp) (Op, bool) {
	first := candidates[0].Op
	for _, c := range candidates[1:] {
		if !opsEqual(c.Op, first) {
			return Op{}, true
		}
	}
	return first.withLabel(-1), false
}

// Merge groups the ops of diffs by path and folds each group through
// policy. Paths where all sources agree produce one op in merged; paths
// where they disagree split each side's op into its own fragment, labelled
// with its source index, so storage preserves origin. Merge is stable: if
// all diffs are identical, merged equals any one of them and fragments is
// empty.
func Merge(policy MergePolicy, diffs []Diff) (Diff, []Diff) {
	type group struct {
		candidates []LabeledOp
	}
	groups := map[string]*group{}
	var order []string
	for srcIdx, d := range diffs {
		for _, op := range d {
			key := op.Path.key()
			g, ok := groups[key]
			if !ok {
				g = &group{}
				groups[key] = g
				order = append(order, key)
			}
			g.candidates = append(g.candidates, LabeledOp{Source: srcIdx, Op: op})
		}
	}
	sort.Strings(order)

	var merged Diff
	fragmentsBySource := map[int]Diff{}
	for _, key := range order {
		g := groups[key]
		mergedOp, conflict := policy(g.candidates)
		if !conflict {
			merged = append(merged, mergedOp)
			continue
		}
		for _, c := range g.candidates {
			fragmentsBySource[c.Source] = append(fragmentsBySource[c.Source], c.Op.withLabel(c.Source))
		}
	}

	if len(fragmentsBySource) == 0 {
		return merged, nil
	}
	srcIdxs := make([]int, 0, len(fragmentsBySource))
	for idx := range fragmentsBySource {
		srcIdxs = append(srcIdxs, idx)
	}
	sort.Ints(srcIdxs)
	fragments := make([]Diff, 0, len(srcIdxs))
	for _, idx := range srcIdxs {
		fragments = append(fragments, fragmentsBySource[idx])
	}
	return merged, fragments
}
