package localstore

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/freeconet/numbex/record"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Path: ":memory:"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func mkRecord(t *testing.T, start, end, sip, owner, mdate, sig string) record.Record {
	t.Helper()
	ts, err := record.ParseISODateTime(mdate)
	require.NoError(t, err)
	return record.Record{Start: start, End: end, SIP: sip, Owner: owner, Mdate: ts, Sig: sig}
}

// TestInnerSplit covers a candidate range strictly inside an existing
// one, splitting it into a left remainder, the new middle range, and a
// right remainder.
func TestInnerSplit(t *testing.T) {
	s := newTestStore(t)
	seed := mkRecord(t, "+48581000", "+48581999", "sip.freeconet.pl", "freeconet", "2020-01-01T00:00:00.000000", "SIG0")
	require.NoError(t, s.Update([]record.Record{seed}))

	cand := mkRecord(t, "+48581001", "+48581998", "new.freeconet.pl", "freeconet", "2020-01-02T00:00:00.000000", "SIG1")
	require.NoError(t, s.Update([]record.Record{cand}))

	all, err := s.GetAll()
	require.NoError(t, err)
	require.Len(t, all, 3)

	require.Equal(t, "+48581000", all[0].Start)
	require.Equal(t, "+48581000", all[0].End)
	require.Empty(t, all[0].Sig)

	require.Equal(t, "+48581001", all[1].Start)
	require.Equal(t, "+48581998", all[1].End)
	require.Equal(t, "new.freeconet.pl", all[1].SIP)
	require.Equal(t, "SIG1", all[1].Sig)

	require.Equal(t, "+48581999", all[2].Start)
	require.Equal(t, "+48581999", all[2].End)
	require.Empty(t, all[2].Sig)
}

// TestOuterReplace covers a candidate range that fully subsumes an
// existing one, replacing it outright.
func TestOuterReplace(t *testing.T) {
	s := newTestStore(t)
	seed := mkRecord(t, "+48581000", "+48581999", "sip.freeconet.pl", "freeconet", "2020-01-01T00:00:00.000000", "SIG0")
	require.NoError(t, s.Update([]record.Record{seed}))

	cand := mkRecord(t, "+4858999", "+48582000", "new.freeconet.pl", "freeconet", "2020-01-02T00:00:00.000000", "SIG1")
	require.NoError(t, s.Update([]record.Record{cand}))

	all, err := s.GetAll()
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, "+4858999", all[0].Start)
	require.Equal(t, "+48582000", all[0].End)
	require.Equal(t, "SIG1", all[0].Sig)
}

// TestLeftTrim covers a candidate range overlapping only the left
// portion of an existing range, trimming it.
func TestLeftTrim(t *testing.T) {
	s := newTestStore(t)
	seed := mkRecord(t, "+48581000", "+48581999", "sip.freeconet.pl", "freeconet", "2020-01-01T00:00:00.000000", "SIG0")
	require.NoError(t, s.Update([]record.Record{seed}))

	cand := mkRecord(t, "+4858999", "+48581000", "new.freeconet.pl", "freeconet", "2020-01-02T00:00:00.000000", "SIG1")
	require.NoError(t, s.Update([]record.Record{cand}))

	all, err := s.GetAll()
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "+4858999", all[0].Start)
	require.Equal(t, "+48581000", all[0].End)
	require.Equal(t, "SIG1", all[0].Sig)
	require.Equal(t, "+48581001", all[1].Start)
	require.Equal(t, "+48581999", all[1].End)
	require.Empty(t, all[1].Sig)
}

func TestUpdateRejectsInternalBatchOverlap(t *testing.T) {
	s := newTestStore(t)
	a := mkRecord(t, "+481000", "+481100", "sip", "freeconet", "2020-01-01T00:00:00.000000", "S")
	b := mkRecord(t, "+481050", "+481200", "sip", "freeconet", "2020-01-01T00:00:00.000000", "S")
	err := s.Update([]record.Record{a, b})
	require.ErrorIs(t, err, ErrInvalidBatch)

	all, err := s.GetAll()
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestUpdateRejectsOwnerMismatch(t *testing.T) {
	s := newTestStore(t)
	seed := mkRecord(t, "+481000", "+481999", "sip", "freeconet", "2020-01-01T00:00:00.000000", "S0")
	require.NoError(t, s.Update([]record.Record{seed}))

	cand := mkRecord(t, "+481100", "+481200", "sip", "otherco", "2020-01-02T00:00:00.000000", "S1")
	err := s.Update([]record.Record{cand})
	require.ErrorIs(t, err, ErrOwnerMismatch)

	all, err := s.GetAll()
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, "S0", all[0].Sig)
}

func TestUpdateIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	seed := mkRecord(t, "+481000", "+481999", "sip", "freeconet", "2020-01-01T00:00:00.000000", "S0")
	require.NoError(t, s.Update([]record.Record{seed}))
	require.NoError(t, s.Update([]record.Record{seed}))

	all, err := s.GetAll()
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, "S0", all[0].Sig)
}

func TestGetRangeForPointLookup(t *testing.T) {
	s := newTestStore(t)
	seed := mkRecord(t, "+481000", "+481999", "sip", "freeconet", "2020-01-01T00:00:00.000000", "S0")
	require.NoError(t, s.Update([]record.Record{seed}))

	got, ok, err := s.GetRangeFor("+481500")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "+481000", got.Start)

	_, ok, err = s.GetRangeFor("+999999")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestChangeJournalTracksAddsAndClearsAfterExport(t *testing.T) {
	s := newTestStore(t)
	seed := mkRecord(t, "+481000", "+481999", "sip", "freeconet", "2020-01-01T00:00:00.000000", "S0")
	require.NoError(t, s.Update([]record.Record{seed}))

	has, err := s.HasChanges()
	require.NoError(t, err)
	require.True(t, has)

	j, err := s.GetChangeJournal()
	require.NoError(t, err)
	require.Len(t, j, 1)
	require.Equal(t, Added, j[0].Kind)

	require.NoError(t, s.ClearChangeJournal())
	has, err = s.HasChanges()
	require.NoError(t, err)
	require.False(t, has)
}

func TestGetSinceFiltersByMdate(t *testing.T) {
	s := newTestStore(t)
	old := mkRecord(t, "+481000", "+481099", "sip", "freeconet", "2020-01-01T00:00:00.000000", "S0")
	recent := mkRecord(t, "+482000", "+482099", "sip", "freeconet", "2021-06-01T00:00:00.000000", "S1")
	require.NoError(t, s.Update([]record.Record{old, recent}))

	cutoff, err := record.ParseISODateTime("2021-01-01T00:00:00.000000")
	require.NoError(t, err)
	got, err := s.GetSince(cutoff)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "+482000", got[0].Start)
}
