package replica

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/freeconet/numbex/record"
)

type fakeKeyRegistry struct {
	pems map[string][]string
}

func (f fakeKeyRegistry) PublicKeys(owner string) ([]string, error) {
	return f.pems[owner], nil
}

func TestImportRejectsUnsignedRecord(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(Config{Dir: dir, CommitterName: "numbex", CommitterEmail: "numbex@localhost"}, nil)
	require.NoError(t, err)

	mdate, err := record.ParseISODateTime("2020-01-01T00:00:00.000000")
	require.NoError(t, err)
	r := record.Record{Start: "+481000", End: "+481999", SIP: "sip", Owner: "freeconet", Mdate: mdate}

	ok, err := s.Import([]record.Record{r}, nil, fakeKeyRegistry{})
	require.ErrorIs(t, err, ErrUnsigned)
	require.False(t, ok)
}

func TestImportVerifiesAndCommits(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(Config{Dir: dir, CommitterName: "numbex", CommitterEmail: "numbex@localhost"}, nil)
	require.NoError(t, err)

	priv, err := record.GenerateKeyPair()
	require.NoError(t, err)
	pubPEM, err := record.MarshalPublicKey(&priv.PublicKey)
	require.NoError(t, err)

	mdate, err := record.ParseISODateTime("2020-01-01T00:00:00.000000")
	require.NoError(t, err)
	sig, err := record.Sign(priv, "+481000", "+481999", "sip.freeconet.pl", "freeconet", mdate)
	require.NoError(t, err)
	r := record.Record{Start: "+481000", End: "+481999", SIP: "sip.freeconet.pl", Owner: "freeconet", Mdate: mdate, Sig: sig}

	keys := fakeKeyRegistry{pems: map[string][]string{"freeconet": {string(pubPEM)}}}
	ok, err := s.Import([]record.Record{r}, nil, keys)
	require.NoError(t, err)
	require.True(t, ok)

	got, found, err := s.GetRange("+481000")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, r.SIP, got.SIP)

	overlaps, err := s.CheckOverlaps()
	require.NoError(t, err)
	require.Empty(t, overlaps)
}

func TestImportRollsBackOnOverlap(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(Config{Dir: dir, CommitterName: "numbex", CommitterEmail: "numbex@localhost"}, nil)
	require.NoError(t, err)

	priv, err := record.GenerateKeyPair()
	require.NoError(t, err)
	pubPEM, err := record.MarshalPublicKey(&priv.PublicKey)
	require.NoError(t, err)
	keys := fakeKeyRegistry{pems: map[string][]string{"freeconet": {string(pubPEM)}}}

	mdate, err := record.ParseISODateTime("2020-01-01T00:00:00.000000")
	require.NoError(t, err)

	mk := func(start, end string) record.Record {
		sig, err := record.Sign(priv, start, end, "sip", "freeconet", mdate)
		require.NoError(t, err)
		return record.Record{Start: start, End: end, SIP: "sip", Owner: "freeconet", Mdate: mdate, Sig: sig}
	}

	r1 := mk("+481000", "+481999")
	ok, err := s.Import([]record.Record{r1}, nil, keys)
	require.NoError(t, err)
	require.True(t, ok)

	// The key-derivation rule places "+481000" and "+481500" under
	// distinct paths, so this import can write both blobs even though
	// their extents overlap — the post-commit overlap check must catch
	// it and roll back.
	r2 := mk("+481500", "+482000")
	ok, err = s.Import([]record.Record{r2}, nil, keys)
	require.ErrorIs(t, err, ErrOverlapPostImport)
	require.False(t, ok)

	all, err := s.ExportAll()
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, "+481000", all[0].Start)
}
