package lookup

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/freeconet/numbex/localstore"
	"github.com/freeconet/numbex/record"
)

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	store, err := localstore.Open(localstore.Config{Path: ":memory:"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	mdate, err := record.ParseISODateTime("2020-01-01T00:00:00.000000")
	require.NoError(t, err)
	rec := record.Record{Start: "+481000", End: "+481999", SIP: "sip.freeconet.pl", Owner: "freeconet", Mdate: mdate}
	require.NoError(t, store.Update([]record.Record{rec}))

	s := NewServer("127.0.0.1:0", nil, store)
	udpAddr, err := net.ResolveUDPAddr("udp", s.Addr)
	require.NoError(t, err)
	conn, err := net.ListenUDP("udp", udpAddr)
	require.NoError(t, err)
	s.conn = conn
	go func() {
		buf := make([]byte, 512)
		for {
			n, from, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			s.handle(conn, from, buf[:n])
		}
	}()
	t.Cleanup(func() { s.Close() })
	return s, conn.LocalAddr().String()
}

func query(t *testing.T, addr, line string) string {
	t.Helper()
	conn, err := net.Dial("udp", addr)
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte(line))
	require.NoError(t, err)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 512)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	return string(buf[:n])
}

func TestLookupHit(t *testing.T) {
	_, addr := newTestServer(t)
	resp := query(t, addr, "+481500")
	require.True(t, strings.HasPrefix(resp, "200 OK\n"))
	require.Contains(t, resp, "481000")
}

func TestLookupMiss(t *testing.T) {
	_, addr := newTestServer(t)
	resp := query(t, addr, "+999999")
	require.Equal(t, "404 Not found\n", resp)
}

func TestLookupMalformed(t *testing.T) {
	_, addr := newTestServer(t)
	resp := query(t, addr, "not-a-number")
	require.True(t, strings.HasPrefix(resp, "500 "))
}
