package localstore

import (
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/freeconet/numbex/record"
)

// overlapRow is an existing stored range fetched inside the update
// transaction, with its numeric endpoints carried alongside the record
// so case dispatch doesn't re-parse them.
type overlapRow struct {
	record.Record
	startN, endN int64
}

func queryOverlaps(tx *sql.Tx, lo, hi int64) ([]overlapRow, error) {
	rows, err := tx.Query(
		`SELECT start, "end", sip, owner, mdate, sig, start_n, end_n FROM ranges
		 WHERE start_n <= ? AND end_n >= ?`, hi, lo)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []overlapRow
	for rows.Next() {
		var o overlapRow
		var mdateText string
		if err := rows.Scan(&o.Start, &o.End, &o.SIP, &o.Owner, &mdateText, &o.Sig, &o.startN, &o.endN); err != nil {
			return nil, err
		}
		o.Mdate, err = record.ParseISODateTime(mdateText)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func journal(tx *sql.Tx, kind ChangeKind, start, end string, now time.Time) error {
	_, err := tx.Exec(
		`INSERT INTO range_changes(kind, start, "end", logged_at) VALUES (?, ?, ?, ?)`,
		string(kind), start, end, record.Record{Mdate: now}.MdateText())
	return err
}

func deleteRange(tx *sql.Tx, start string) error {
	_, err := tx.Exec(`DELETE FROM ranges WHERE start = ?`, start)
	return err
}

func insertRange(tx *sql.Tx, r record.Record) error {
	ns, err := r.StartInt()
	if err != nil {
		return err
	}
	ne, err := r.EndInt()
	if err != nil {
		return err
	}
	_, err = tx.Exec(
		`INSERT INTO ranges(start, "end", start_n, end_n, sip, owner, mdate, sig) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Start, r.End, ns, ne, r.SIP, r.Owner, r.MdateText(), r.Sig)
	return err
}

// shrinkRange rewrites an existing stored range's key and extent in
// place. Because start is the primary key, a shrink that moves start
// (the left-trim and split cases) must delete-then-reinsert rather than
// UPDATE; a shrink that only moves end (right-trim) can UPDATE.
func shrinkRange(tx *sql.Tx, old overlapRow, newStart, newEnd string, clearSig bool) error {
	sig := old.Sig
	if clearSig {
		sig = ""
	}
	replacement := record.Record{
		Start: newStart, End: newEnd,
		SIP: old.SIP, Owner: old.Owner, Mdate: old.Mdate, Sig: sig,
	}
	if old.Start == newStart {
		ne, err := replacement.EndInt()
		if err != nil {
			return err
		}
		_, err = tx.Exec(`UPDATE ranges SET "end" = ?, end_n = ?, sig = ? WHERE start = ?`,
			newEnd, ne, sig, old.Start)
		return err
	}
	if err := deleteRange(tx, old.Start); err != nil {
		return err
	}
	return insertRange(tx, replacement)
}

func updateSigOnly(tx *sql.Tx, start, sig string) error {
	_, err := tx.Exec(`UPDATE ranges SET sig = ? WHERE start = ?`, sig, start)
	return err
}

func replaceInPlace(tx *sql.Tx, old overlapRow, cand record.Record) error {
	if old.Start == cand.Start {
		ne, err := cand.EndInt()
		if err != nil {
			return err
		}
		_, err = tx.Exec(`UPDATE ranges SET "end" = ?, sip = ?, owner = ?, mdate = ?, sig = ?, end_n = ? WHERE start = ?`,
			cand.End, cand.SIP, cand.Owner, cand.MdateText(), cand.Sig, ne, old.Start)
		return err
	}
	if err := deleteRange(tx, old.Start); err != nil {
		return err
	}
	return insertRange(tx, cand)
}

// Update applies a batch of candidate records against the current store.
// The batch is sorted by int(start) and checked for internal
// overlaps and owner mismatches before any row is mutated; on any
// violation the whole batch is rejected and the store is left
// unchanged. Returns ErrInvalidBatch or ErrOwnerMismatch on rejection;
// signatures are not verified here (callers such as the exchange adapter
// verify before calling Update).
func (s *Store) Update(batch []record.Record) error {
	if len(batch) == 0 {
		return nil
	}

	sorted := make([]record.Record, len(batch))
	copy(sorted, batch)
	sort.Slice(sorted, func(i, j int) bool {
		si, _ := sorted[i].StartInt()
		sj, _ := sorted[j].StartInt()
		return si < sj
	})

	type bounds struct{ lo, hi int64 }
	bs := make([]bounds, len(sorted))
	for i, r := range sorted {
		lo, err := r.StartInt()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidBatch, err)
		}
		hi, err := r.EndInt()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidBatch, err)
		}
		if hi < lo {
			return fmt.Errorf("%w: start after end", ErrInvalidBatch)
		}
		bs[i] = bounds{lo, hi}
	}
	for i := 1; i < len(sorted); i++ {
		if bs[i].lo <= bs[i-1].hi {
			return ErrInvalidBatch
		}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op once committed

	// Owner-consistency check against the pre-mutation snapshot visible
	// inside this transaction.
	for i, r := range sorted {
		overlaps, err := queryOverlaps(tx, bs[i].lo, bs[i].hi)
		if err != nil {
			return err
		}
		for _, ov := range overlaps {
			if ov.Owner != r.Owner {
				return ErrOwnerMismatch
			}
		}
	}

	now := time.Now().UTC()
	for i, cand := range sorted {
		if err := s.applyCandidate(tx, cand, bs[i].lo, bs[i].hi, now); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	return s.rebuildTree()
}

func (s *Store) applyCandidate(tx *sql.Tx, cand record.Record, ns, ne int64, now time.Time) error {
	overlaps, err := queryOverlaps(tx, ns, ne)
	if err != nil {
		return err
	}

	exactHandled := false
	for _, ov := range overlaps {
		switch {
		case ov.startN == ns && ov.endN == ne:
			// Exact.
			if cand.EqualExceptSig(ov.Record) {
				if err := updateSigOnly(tx, ov.Start, cand.Sig); err != nil {
					return err
				}
			} else if err := replaceInPlace(tx, ov, cand); err != nil {
				return err
			}
			if err := journal(tx, Modified, ov.Start, ov.End, now); err != nil {
				return err
			}
			exactHandled = true

		case ov.startN >= ns && ov.startN <= ne && ov.endN > ne:
			// Left-trim: shrink existing to [ne+1, oe], clear sig.
			newStartText := fmt.Sprintf("+%d", ne+1)
			if err := shrinkRange(tx, ov, newStartText, ov.End, true); err != nil {
				return err
			}
			if err := journal(tx, Modified, ov.Start, ov.End, now); err != nil {
				return err
			}

		case ov.endN >= ns && ov.endN <= ne && ov.startN < ns:
			// Right-trim: shrink existing to [os, ns-1], clear sig.
			newEndText := fmt.Sprintf("+%d", ns-1)
			if err := shrinkRange(tx, ov, ov.Start, newEndText, true); err != nil {
				return err
			}
			if err := journal(tx, Modified, ov.Start, ov.End, now); err != nil {
				return err
			}

		case ov.startN >= ns && ov.endN <= ne:
			// Subsumed.
			if err := deleteRange(tx, ov.Start); err != nil {
				return err
			}
			if err := journal(tx, Deleted, ov.Start, ov.End, now); err != nil {
				return err
			}

		case ov.startN < ns && ov.endN > ne:
			// Split: shrink existing to [os, ns-1]; insert the
			// right remainder [ne+1, oe] unsigned.
			newEndText := fmt.Sprintf("+%d", ns-1)
			if err := shrinkRange(tx, ov, ov.Start, newEndText, true); err != nil {
				return err
			}
			if err := journal(tx, Modified, ov.Start, ov.End, now); err != nil {
				return err
			}
			remainder := record.Record{
				Start: fmt.Sprintf("+%d", ne+1), End: ov.End,
				SIP: ov.SIP, Owner: ov.Owner, Mdate: now, Sig: "",
			}
			if err := insertRange(tx, remainder); err != nil {
				return err
			}
			if err := journal(tx, Added, remainder.Start, remainder.End, now); err != nil {
				return err
			}

		default:
			return fmt.Errorf("%w: candidate [%d,%d] overlaps existing [%d,%d] in no recognized case",
				ErrInvalidBatch, ns, ne, ov.startN, ov.endN)
		}
	}

	if exactHandled {
		return nil
	}

	// Safe insert: re-check for any overlap surviving the case
	// dispatch above and abort the whole batch if the no-overlap
	// invariant would be violated.
	remaining, err := queryOverlaps(tx, ns, ne)
	if err != nil {
		return err
	}
	if len(remaining) > 0 {
		return fmt.Errorf("%w: overlap survived case dispatch for [%d,%d]", ErrInvalidBatch, ns, ne)
	}
	if err := insertRange(tx, cand); err != nil {
		return err
	}
	return journal(tx, Added, cand.Start, cand.End, now)
}
