// Package exchange implements the record-exchange RPC: the structured
// request/response surface peers use to pull CSV batches, push signed
// updates, and manage public keys. A small gin router, one handler per
// operation, JSON envelopes for anything that isn't already CSV text.
package exchange

import (
	"bytes"
	"context"
	"crypto/dsa"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/freeconet/numbex/localstore"
	"github.com/freeconet/numbex/record"
)

// requestID stamps every exchange request with a v7 (time-ordered)
// UUID, logged alongside the operation name so an operator can
// correlate a `receive` call across the daemon's own log lines.
func requestID(log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.NewV7()
		if err == nil {
			c.Header("X-Request-Id", id.String())
			if log != nil {
				log.Debugw("exchange request", "id", id.String(), "path", c.Request.URL.Path)
			}
		}
		c.Next()
	}
}

// Server exposes the record-exchange operations over HTTP.
type Server struct {
	Addr  string
	Log   *zap.SugaredLogger
	Store *localstore.Store

	router *gin.Engine
	http   *http.Server
}

// NewServer builds the gin router and registers every exchange
// operation. gin.New (not gin.Default) is used deliberately: request
// logging goes through Log, not gin's stdout logger.
func NewServer(addr string, log *zap.SugaredLogger, store *localstore.Store) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestID(log))

	s := &Server{Addr: addr, Log: log, Store: store, router: r}
	r.GET("/get_all", s.handleGetAll)
	r.GET("/get_since", s.handleGetSince)
	r.GET("/get_unsigned", s.handleGetUnsigned)
	r.POST("/receive", s.handleReceive)
	r.GET("/get_public_keys", s.handleGetPublicKeys)
	r.POST("/receive_public_key", s.handleReceivePublicKey)
	r.POST("/remove_public_key", s.handleRemovePublicKey)
	return s
}

// ListenAndServe blocks serving the exchange RPC until Shutdown.
func (s *Server) ListenAndServe() error {
	s.http = &http.Server{Addr: s.Addr, Handler: s.router}
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops ListenAndServe gracefully.
func (s *Server) Shutdown() error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(context.Background())
}

func (s *Server) writeCSV(c *gin.Context, records []record.Record) {
	var buf bytes.Buffer
	if err := record.WriteCSV(&buf, records); err != nil {
		c.String(http.StatusInternalServerError, "500 %s", err.Error())
		return
	}
	c.Data(http.StatusOK, "text/csv", buf.Bytes())
}

func (s *Server) handleGetAll(c *gin.Context) {
	recs, err := s.Store.GetAll()
	if err != nil {
		c.String(http.StatusInternalServerError, "500 %s", err.Error())
		return
	}
	s.writeCSV(c, recs)
}

func (s *Server) handleGetSince(c *gin.Context) {
	ts := c.Query("ts")
	t, err := record.ParseISODateTime(ts)
	if err != nil {
		c.String(http.StatusBadRequest, "400 bad ts: %s", err.Error())
		return
	}
	recs, err := s.Store.GetSince(t)
	if err != nil {
		c.String(http.StatusInternalServerError, "500 %s", err.Error())
		return
	}
	s.writeCSV(c, recs)
}

func (s *Server) handleGetUnsigned(c *gin.Context) {
	recs, err := s.Store.GetUnsigned()
	if err != nil {
		c.String(http.StatusInternalServerError, "500 %s", err.Error())
		return
	}
	s.writeCSV(c, recs)
}

// handleReceive parses the posted CSV batch, verifies every signature
// against the owner's registered public keys, and feeds it through
// local update(). Returns the boolean success value as the reply body.
func (s *Server) handleReceive(c *gin.Context) {
	recs, err := record.ParseCSV(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	for _, r := range recs {
		if r.Unsigned() {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "unsigned record in batch"})
			return
		}
		keys, err := s.Store.PublicKeys(r.Owner)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
			return
		}
		parsed := make([]*dsa.PublicKey, 0, len(keys))
		for _, pem := range keys {
			pub, err := record.ParsePublicKey([]byte(pem))
			if err == nil {
				parsed = append(parsed, pub)
			}
		}
		if !record.VerifyAny(parsed, r) {
			c.JSON(http.StatusOK, gin.H{"success": false, "error": "signature verification failed"})
			return
		}
	}
	if err := s.Store.Update(recs); err != nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleGetPublicKeys(c *gin.Context) {
	owner := c.Query("owner")
	keys, err := s.Store.PublicKeys(owner)
	if err != nil {
		c.String(http.StatusInternalServerError, "500 %s", err.Error())
		return
	}
	c.String(http.StatusOK, joinPEMs(keys))
}

type pubkeyRequest struct {
	Owner string `json:"owner" binding:"required"`
	PEM   string `json:"pem" binding:"required"`
}

func (s *Server) handleReceivePublicKey(c *gin.Context) {
	var req pubkeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	if _, err := record.ParsePublicKey([]byte(req.PEM)); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	if err := s.Store.RegisterPublicKey(req.Owner, req.PEM); err != nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleRemovePublicKey(c *gin.Context) {
	var req pubkeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	if err := s.Store.RemovePublicKey(req.Owner, req.PEM); err != nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func joinPEMs(pems []string) string {
	var buf bytes.Buffer
	for _, p := range pems {
		buf.WriteString(p)
		if len(p) == 0 || p[len(p)-1] != '\n' {
			buf.WriteByte('\n')
		}
	}
	return buf.String()
}

