// Package merge implements the merge engine (component E): pre-merge
// overlap detection between two replicated-store snapshots, the
// record-level conflict resolver invoked for every diff3 conflict the
// substrate reports, and the post-merge overlap fix-up.
package merge

import (
	"fmt"

	"github.com/freeconet/numbex/interval"
	"github.com/freeconet/numbex/record"
)

// Side tags which snapshot a record came from when building the
// cross-store overlap plan.
type Side int

const (
	Self Side = 1
	Peer Side = -1
)

type taggedRecord struct {
	record.Record
	Side Side
}

// FixGroup is one connected set of records — drawn from both sides —
// that overlap across the self/peer boundary and must be resolved to a
// single surviving record once the textual merge has landed them both
// in the merged tree.
type FixGroup struct {
	Keys []string
}

// Plan is the cross-store overlap plan computed before the textual merge
// runs, so the post-merge fix-up has a deterministic worklist instead of
// having to re-derive which overlaps were expected.
type Plan struct {
	NeedsFix []FixGroup
	Warnings []string
}

// sameIgnorable reports whether two overlapping records, one from each
// side, represent the same logical range and can be ignored by the
// plan — same extent, identical content except sig.
func sameIgnorable(a, b record.Record) bool {
	return a.SameExtent(b) && a.EqualExceptSig(b)
}

// BuildPlan classifies every cross-store overlap between self and peer.
// Intersections that are the same range signed twice are ignored.
// Intersections where a record is uniformly older or uniformly newer
// than every record it directly overlaps on the other side are
// admissible and recorded as a FixGroup for the post-merge step. A
// record straddling both older and newer opposing overlaps makes the
// merge outcome ambiguous and aborts with ErrInconsistentData — this
// includes the case where the straddling is only visible transitively,
// through a third record that bridges two otherwise-disjoint opposing
// ranges, so every record is classified against its own full opposing
// set before any record is considered resolved.
//
// Equal mdate between two overlapping variants is resolved in favor of
// Self and does not by itself count as "older" or "newer" for this
// classification.
func BuildPlan(self, peer []record.Record) (Plan, error) {
	tree := interval.New()
	all := make([]taggedRecord, 0, len(self)+len(peer))
	for _, r := range self {
		all = append(all, taggedRecord{r, Self})
	}
	for _, r := range peer {
		all = append(all, taggedRecord{r, Peer})
	}

	extents := make([][2]int64, len(all))
	for i, e := range all {
		lo, hi, err := extent(e.Record)
		if err != nil {
			return Plan{}, err
		}
		extents[i] = [2]int64{lo, hi}
		tree.Insert(lo, hi, i)
	}

	// opposing[i] holds the indices of every other-side record directly
	// overlapping all[i]. uf groups every record transitively reachable
	// through a chain of opposing overlaps into one connected component,
	// so a record that bridges two otherwise-disjoint opposing ranges
	// ends up in the same component as both of them, rather than being
	// resolved pairwise in isolation.
	opposing := make([][]int, len(all))
	uf := newUnionFind(len(all))
	for i, e := range all {
		for _, hit := range tree.Query(extents[i][0], extents[i][1]) {
			j := hit.Payload.(int)
			if j == i || all[j].Side == e.Side {
				continue
			}
			opposing[i] = append(opposing[i], j)
			uf.union(i, j)
		}
	}

	componentOf := map[int][]int{}
	order := make([]int, 0, len(all))
	for i := range all {
		root := uf.find(i)
		if _, ok := componentOf[root]; !ok {
			order = append(order, root)
		}
		componentOf[root] = append(componentOf[root], i)
	}

	plan := Plan{}
	for _, root := range order {
		members := componentOf[root]
		anyConflicting := false
		group := make([]string, 0, len(members))
		for _, i := range members {
			e := all[i]
			olderFound, newerFound := false, false
			for _, j := range opposing[i] {
				o := all[j]
				if sameIgnorable(e.Record, o.Record) {
					continue
				}
				anyConflicting = true
				switch {
				case o.Mdate.Before(e.Mdate):
					olderFound = true
				case o.Mdate.After(e.Mdate):
					newerFound = true
				}

				if winner, loser := laterOf(e.Record, o.Record); winner.Start == e.Start && !e.Mdate.Equal(o.Mdate) {
					if !contains(winner, loser) {
						plan.Warnings = append(plan.Warnings, fmt.Sprintf(
							"possible loss of information due to misaligned overlap: %s supersedes part of %s but does not cover its full extent",
							winner.Start, loser.Start))
					}
				}
			}
			if olderFound && newerFound {
				return Plan{}, ErrInconsistentData
			}
			group = append(group, e.Start)
		}
		if !anyConflicting {
			continue
		}
		plan.NeedsFix = append(plan.NeedsFix, FixGroup{Keys: dedupe(group)})
	}

	return plan, nil
}

func extent(r record.Record) (int64, int64, error) {
	lo, err := r.StartInt()
	if err != nil {
		return 0, 0, err
	}
	hi, err := r.EndInt()
	if err != nil {
		return 0, 0, err
	}
	return lo, hi, nil
}

// laterOf returns (winner, loser) by strict mdate comparison, Self
// winning ties.
func laterOf(a, b record.Record) (record.Record, record.Record) {
	if b.Mdate.After(a.Mdate) {
		return b, a
	}
	return a, b
}

// contains reports whether winner's extent fully covers loser's.
func contains(winner, loser record.Record) bool {
	ws, _ := winner.StartInt()
	we, _ := winner.EndInt()
	ls, _ := loser.StartInt()
	le, _ := loser.EndInt()
	return ws <= ls && we >= le
}

// unionFind groups record indices into connected components under
// path-compressed union-by-rank.
type unionFind struct {
	parent []int
	rank   []int
}

func newUnionFind(n int) *unionFind {
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	return &unionFind{parent: parent, rank: make([]int, n)}
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	switch {
	case u.rank[ra] < u.rank[rb]:
		u.parent[ra] = rb
	case u.rank[ra] > u.rank[rb]:
		u.parent[rb] = ra
	default:
		u.parent[rb] = ra
		u.rank[ra]++
	}
}

func dedupe(keys []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}
