package control

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/freeconet/numbex/localstore"
	"github.com/freeconet/numbex/reconcile"
	"github.com/freeconet/numbex/replica"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	local, err := localstore.Open(localstore.Config{Path: ":memory:"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { local.Close() })

	rep, err := replica.Open(replica.Config{Dir: t.TempDir(), CommitterName: "numbex", CommitterEmail: "numbex@localhost"}, nil)
	require.NoError(t, err)

	fatal := reconcile.NewFatalFlag(filepath.Join(t.TempDir(), "fatal.json"))
	r := reconcile.New(reconcile.Config{ImportWindow: time.Hour, ExportWindow: time.Hour}, nil, local, rep, nil, fatal)

	toggles := Toggles{
		StartP2P:    func() error { return nil },
		StopP2P:     func() error { return nil },
		StartUpdate: func() error { return nil },
		StopUpdate:  func() error { return nil },
	}
	return NewServer("127.0.0.1:0", nil, r, toggles, nil)
}

func TestStatusReportsClean(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"ok":true`)
	require.Contains(t, rec.Body.String(), `"Dirty":false`)
}

func TestClearErrorsSucceeds(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/clearerrors", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"ok":true`)
}

func TestP2PStartInvokesToggle(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/p2p-start", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"ok":true`)
}
