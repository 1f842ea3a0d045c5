package exchange

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/freeconet/numbex/localstore"
	"github.com/freeconet/numbex/record"
)

func newTestStore(t *testing.T) *localstore.Store {
	t.Helper()
	store, err := localstore.Open(localstore.Config{Path: ":memory:"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestGetAllReturnsCSV(t *testing.T) {
	store := newTestStore(t)
	mdate, err := record.ParseISODateTime("2020-01-01T00:00:00.000000")
	require.NoError(t, err)
	rec := record.Record{Start: "+481000", End: "+481999", SIP: "sip.freeconet.pl", Owner: "freeconet", Mdate: mdate}
	require.NoError(t, store.Update([]record.Record{rec}))

	srv := NewServer("127.0.0.1:0", nil, store)
	req := httptest.NewRequest(http.MethodGet, "/get_all", nil)
	rec2 := httptest.NewRecorder()
	srv.router.ServeHTTP(rec2, req)
	require.Equal(t, http.StatusOK, rec2.Code)
	require.Contains(t, rec2.Body.String(), "481000")
}

func TestReceiveRejectsUnsignedRecord(t *testing.T) {
	store := newTestStore(t)
	srv := NewServer("127.0.0.1:0", nil, store)

	body := "+481000,+481999,sip.freeconet.pl,freeconet,2020-01-01T00:00:00.000000,\n"
	req := httptest.NewRequest(http.MethodPost, "/receive", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReceivePublicKeyAndReceiveRoundTrip(t *testing.T) {
	store := newTestStore(t)
	srv := NewServer("127.0.0.1:0", nil, store)

	priv, err := record.GenerateKeyPair()
	require.NoError(t, err)
	pubPEM, err := record.MarshalPublicKey(&priv.PublicKey)
	require.NoError(t, err)

	payload, err := json.Marshal(pubkeyRequest{Owner: "freeconet", PEM: string(pubPEM)})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/receive_public_key", strings.NewReader(string(payload)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	mdate, err := record.ParseISODateTime("2020-01-01T00:00:00.000000")
	require.NoError(t, err)
	sig, err := record.Sign(priv, "+481000", "+481999", "sip.freeconet.pl", "freeconet", mdate)
	require.NoError(t, err)

	body := "+481000,+481999,sip.freeconet.pl,freeconet,2020-01-01T00:00:00.000000," + sig + "\n"
	req2 := httptest.NewRequest(http.MethodPost, "/receive", strings.NewReader(body))
	rec2 := httptest.NewRecorder()
	srv.router.ServeHTTP(rec2, req2)
	require.Equal(t, http.StatusOK, rec2.Code)
	require.Contains(t, rec2.Body.String(), `"success":true`)
}
