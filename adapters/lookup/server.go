// Package lookup implements the range-lookup UDP text protocol: a
// single-line telephone number in, a `200 OK`/`404`/`500` response out,
// backed by the local store's point-lookup cache so replies stay at
// microsecond latency.
package lookup

import (
	"net"
	"strings"

	"go.uber.org/zap"

	"github.com/freeconet/numbex/localstore"
)

// Server answers range-lookup requests over UDP.
type Server struct {
	Addr  string
	Log   *zap.SugaredLogger
	Store *localstore.Store

	conn *net.UDPConn
}

// NewServer returns a Server bound to addr; call Serve to start
// answering requests.
func NewServer(addr string, log *zap.SugaredLogger, store *localstore.Store) *Server {
	return &Server{Addr: addr, Log: log, Store: store}
}

// Serve listens on s.Addr until the connection is closed by Close. It
// never returns a nil error on a clean shutdown — callers should treat
// net.ErrClosed as expected.
func (s *Server) Serve() error {
	udpAddr, err := net.ResolveUDPAddr("udp", s.Addr)
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return err
	}
	s.conn = conn

	buf := make([]byte, 512)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			return err
		}
		s.handle(conn, from, buf[:n])
	}
}

// Close stops Serve.
func (s *Server) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

func (s *Server) handle(conn *net.UDPConn, from *net.UDPAddr, req []byte) {
	number := strings.TrimSpace(string(req))
	if number == "" || !isDigitsWithOptionalPlus(number) {
		s.reply(conn, from, "500 malformed request\n")
		return
	}

	normalized := number
	if !strings.HasPrefix(normalized, "+") {
		normalized = "+" + normalized
	}

	rec, ok, err := s.Store.GetRangeFor(normalized)
	if err != nil {
		if s.Log != nil {
			s.Log.Errorw("lookup failed", "number", number, "error", err)
		}
		s.reply(conn, from, "500 internal error\n")
		return
	}
	if !ok {
		s.reply(conn, from, "404 Not found\n")
		return
	}
	s.reply(conn, from, "200 OK\n"+strings.Join(rec.FullCSVRow(), ",")+"\n")
}

func (s *Server) reply(conn *net.UDPConn, to *net.UDPAddr, body string) {
	if _, err := conn.WriteToUDP([]byte(body), to); err != nil && s.Log != nil {
		s.Log.Warnw("lookup reply failed", "error", err)
	}
}

func isDigitsWithOptionalPlus(s string) bool {
	if strings.HasPrefix(s, "+") {
		s = s[1:]
	}
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

