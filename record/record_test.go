package record

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	tm, err := ParseISODateTime(s)
	require.NoError(t, err)
	return tm
}

func TestSignVerifyRoundTrip(t *testing.T) {
	priv, err := GenerateKeyPair()
	require.NoError(t, err)

	mdate := mustTime(t, "2009-02-09T16:51:20.322133")
	sig, err := Sign(priv, "+48581000", "+48581999", "sip.freeconet.pl", "freeconet", mdate)
	require.NoError(t, err)
	require.NotEmpty(t, sig)

	ok := Verify(&priv.PublicKey, sig, "+48581000", "+48581999", "sip.freeconet.pl", "freeconet", mdate)
	require.True(t, ok)
}

func TestVerifyRejectsTamperedField(t *testing.T) {
	priv, err := GenerateKeyPair()
	require.NoError(t, err)
	mdate := mustTime(t, "2009-02-09T16:51:20.322133")
	sig, err := Sign(priv, "+48581000", "+48581999", "sip.freeconet.pl", "freeconet", mdate)
	require.NoError(t, err)

	require.False(t, Verify(&priv.PublicKey, sig, "+48581000", "+48582000", "sip.freeconet.pl", "freeconet", mdate))
}

func TestVerifyMalformedSigNeverPanics(t *testing.T) {
	priv, err := GenerateKeyPair()
	require.NoError(t, err)
	mdate := mustTime(t, "2009-02-09T16:51:20.322133")

	require.False(t, Verify(&priv.PublicKey, "not a signature", "+48581000", "+48581999", "sip", "owner", mdate))
	require.False(t, Verify(&priv.PublicKey, "", "+48581000", "+48581999", "sip", "owner", mdate))
	require.False(t, Verify(&priv.PublicKey, "!!!! ====", "+48581000", "+48581999", "sip", "owner", mdate))
}

func TestKeyPEMRoundTrip(t *testing.T) {
	priv, err := GenerateKeyPair()
	require.NoError(t, err)

	pubPEM, err := MarshalPublicKey(&priv.PublicKey)
	require.NoError(t, err)
	privPEM, err := MarshalPrivateKey(priv)
	require.NoError(t, err)

	pub2, err := ParsePublicKey(pubPEM)
	require.NoError(t, err)
	require.Equal(t, priv.PublicKey.Y, pub2.Y)

	priv2, err := ParsePrivateKey(privPEM)
	require.NoError(t, err)
	require.Equal(t, priv.X, priv2.X)
}

func TestParsePublicKeyRejectsWrongHeader(t *testing.T) {
	_, err := ParsePublicKey([]byte("-----BEGIN CERTIFICATE-----\nAAAA\n-----END CERTIFICATE-----\n"))
	require.ErrorIs(t, err, ErrMalformedKey)
}

func TestParseISODateTimeToleratesMissingFraction(t *testing.T) {
	tm, err := ParseISODateTime("2009-02-09T16:51:20")
	require.NoError(t, err)
	require.Equal(t, 0, tm.Nanosecond())
}

func TestCanonicalCSVStableAcrossCalls(t *testing.T) {
	mdate := mustTime(t, "2009-02-09T16:51:20.322133")
	a, err := CanonicalCSV("+48581000", "+48581999", "sip.freeconet.pl", "freeconet", mdate)
	require.NoError(t, err)
	b, err := CanonicalCSV("+48581000", "+48581999", "sip.freeconet.pl", "freeconet", mdate)
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestParseCSVRoundTrip(t *testing.T) {
	mdate := mustTime(t, "2009-02-09T16:51:20.322133")
	recs := []Record{
		{Start: "+481000", End: "+481500", SIP: "sip.freeconet.pl", Owner: "freeconet", Mdate: mdate, Sig: "AAAA BBBB"},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, recs))

	parsed, err := ParseCSV(&buf)
	require.NoError(t, err)
	require.Len(t, parsed, 1)
	require.Equal(t, recs[0].Start, parsed[0].Start)
	require.Equal(t, recs[0].Sig, parsed[0].Sig)
	require.True(t, recs[0].Mdate.Equal(parsed[0].Mdate))
}
