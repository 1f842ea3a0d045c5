package merge

import (
	"fmt"

	"github.com/freeconet/numbex/record"
)

// RecordSource resolves a textual start key to its current surviving
// record in the merged tree, satisfied by replica.Store.GetRange.
type RecordSource interface {
	GetRange(start string) (record.Record, bool, error)
}

// ResolvedFix names the record a FixGroup kept and the ones it deleted,
// for callers that want to log or journal the decision.
type ResolvedFix struct {
	Kept    record.Record
	Deleted []record.Record
}

// Fixup resolves each planned needs-fix group: fetch the surviving
// records (the textual merge may already have deleted one side via a
// conflict resolution that landed both keys at the same path) from the
// merged tree and keep only the one with the greatest mdate, returning
// the rest for deletion. Self wins ties, matching the tie-break in
// plan.go.
func Fixup(groups []FixGroup, src RecordSource) ([]ResolvedFix, error) {
	var out []ResolvedFix
	for _, g := range groups {
		var present []record.Record
		for _, key := range g.Keys {
			r, ok, err := src.GetRange(key)
			if err != nil {
				return nil, fmt.Errorf("fixup: reading %s: %w", key, err)
			}
			if ok {
				present = append(present, r)
			}
		}
		if len(present) <= 1 {
			continue
		}

		winner := present[0]
		for _, r := range present[1:] {
			if r.Mdate.After(winner.Mdate) {
				winner = r
			}
		}
		var deleted []record.Record
		for _, r := range present {
			if r.Start != winner.Start {
				deleted = append(deleted, r)
			}
		}
		out = append(out, ResolvedFix{Kept: winner, Deleted: deleted})
	}
	return out, nil
}
