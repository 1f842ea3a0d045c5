package merge

import (
	"github.com/freeconet/numbex/interval"
	"github.com/freeconet/numbex/record"
)

// PreMergeSanity checks each side independently for the no-overlap
// invariant before any cross-store work begins. Either side already
// failing its own invariant means the merge cannot possibly produce a
// consistent result.
func PreMergeSanity(self, peer []record.Record) error {
	if err := checkSideOverlaps(self); err != nil {
		return err
	}
	return checkSideOverlaps(peer)
}

func checkSideOverlaps(records []record.Record) error {
	tree := interval.New()
	for _, r := range records {
		lo, hi, err := extent(r)
		if err != nil {
			return err
		}
		if tree.Overlaps(lo, hi) {
			return ErrInconsistentState
		}
		tree.Insert(lo, hi, r)
	}
	return nil
}
