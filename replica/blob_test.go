package replica

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/freeconet/numbex/record"
)

func TestBlobRoundTrip(t *testing.T) {
	mdate, err := record.ParseISODateTime("2009-02-09T16:51:20.322133")
	require.NoError(t, err)
	r := record.Record{
		Start: "+48581000", End: "+48581999",
		SIP: "sip.freeconet.pl", Owner: "freeconet",
		Mdate: mdate, Sig: "AAAA BBBB",
	}

	blob := EncodeBlob(r)
	got, err := DecodeBlob(blob)
	require.NoError(t, err)
	require.Equal(t, r.Start, got.Start)
	require.Equal(t, r.End, got.End)
	require.Equal(t, r.SIP, got.SIP)
	require.Equal(t, r.Owner, got.Owner)
	require.Equal(t, r.Sig, got.Sig)
	require.True(t, r.Mdate.Equal(got.Mdate))
}

func TestDecodeBlobRejectsMissingHeader(t *testing.T) {
	_, err := DecodeBlob([]byte("Range-start: +100\nRange-end: +200\n"))
	require.Error(t, err)
}
