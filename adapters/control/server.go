// Package control implements the loopback control RPC: p2p-start/stop,
// updater-start/stop, p2p-import/export, status, clearerrors, shutdown.
// It is a thin gin router bound to localhost only — the CLI surface
// (cmd/numbexctl) exposes the same operations verbatim over this RPC.
package control

import (
	"context"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/freeconet/numbex/reconcile"
)

// Toggles lets the control surface start/stop the scheduler and the
// exchange adapter's intake without owning their lifecycles directly.
type Toggles struct {
	StartP2P    func() error
	StopP2P     func() error
	StartUpdate func() error
	StopUpdate  func() error
}

// Server answers the control RPC.
type Server struct {
	Addr        string
	Log         *zap.SugaredLogger
	Reconciler  *reconcile.Reconciler
	Toggles     Toggles
	ShutdownReq func()

	mu     sync.Mutex
	router *gin.Engine
	http   *http.Server
}

// NewServer builds the control router. Every handler returns a JSON
// envelope {"ok": bool, "error": string}; on success, status adds the
// reconcile.Status snapshot under a "status" key.
func NewServer(addr string, log *zap.SugaredLogger, r *reconcile.Reconciler, toggles Toggles, shutdownReq func()) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{Addr: addr, Log: log, Reconciler: r, Toggles: toggles, ShutdownReq: shutdownReq, router: router}
	router.POST("/p2p-start", s.wrap(func() error { return s.Toggles.StartP2P() }))
	router.POST("/p2p-stop", s.wrap(func() error { return s.Toggles.StopP2P() }))
	router.POST("/updater-start", s.wrap(func() error { return s.Toggles.StartUpdate() }))
	router.POST("/updater-stop", s.wrap(func() error { return s.Toggles.StopUpdate() }))
	router.POST("/p2p-import", s.wrap(func() error { return s.Reconciler.ImportFromReplicated(true) }))
	router.POST("/p2p-export", s.wrap(func() error { return s.Reconciler.ExportToReplicated(true) }))
	router.POST("/clearerrors", s.wrap(func() error { return s.Reconciler.ClearErrors() }))
	router.GET("/status", s.handleStatus)
	router.POST("/shutdown", s.handleShutdown)
	return s
}

// wrap turns a bare error-returning action into a gin handler producing
// the {"ok":bool,"error":string} envelope the CLI surface translates
// into exit codes.
func (s *Server) wrap(action func() error) gin.HandlerFunc {
	return func(c *gin.Context) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if err := action(); err != nil {
			c.JSON(http.StatusOK, gin.H{"ok": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

func (s *Server) handleStatus(c *gin.Context) {
	st, err := s.Reconciler.Status()
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"ok": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "status": st})
}

func (s *Server) handleShutdown(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
	if s.ShutdownReq != nil {
		go s.ShutdownReq()
	}
}

// ListenAndServe blocks serving the control RPC until Shutdown.
func (s *Server) ListenAndServe() error {
	s.http = &http.Server{Addr: s.Addr, Handler: s.router}
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Close stops ListenAndServe gracefully.
func (s *Server) Close(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
