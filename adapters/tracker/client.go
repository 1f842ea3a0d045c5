// Package tracker implements the peer-tracker client, the Go
// equivalent of tracker_client.py's NumbexPeer: register with a
// tracker service, keep the registration alive, and periodically pull
// the current peer list for the scheduler to fetch from. The original
// spoke XML-RPC; this client speaks JSON over HTTP, but keeps the same
// register/keepalive/get_peers/unregister shape and the same
// reregister-on-forgotten-lease behavior.
package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/freeconet/numbex/reconcile"
)

// Client talks to a single tracker service on behalf of this peer.
type Client struct {
	BaseURL    string
	User       string
	Auth       string
	GitAddress string // this peer's replicated-store fetch URL, advertised to others
	HTTP       *http.Client
	Log        *zap.SugaredLogger

	mu         sync.Mutex
	registered bool
	timeout    time.Duration
	peers      []reconcile.PeerRef
}

// NewClient returns a Client. gitAddress is this peer's own advertised
// replicated-store address — the tracker hands it out to other peers.
func NewClient(baseURL, user, auth, gitAddress string, log *zap.SugaredLogger) *Client {
	return &Client{
		BaseURL:    baseURL,
		User:       user,
		Auth:       auth,
		GitAddress: gitAddress,
		HTTP:       &http.Client{Timeout: 10 * time.Second},
		Log:        log,
	}
}

type registerRequest struct {
	User       string `json:"user"`
	Auth       string `json:"auth"`
	GitAddress string `json:"gitAddress"`
}

type registerResponse struct {
	TimeoutSeconds int `json:"timeoutSeconds"`
}

// Register registers this peer with the tracker and records the lease
// timeout it was granted. Matches NumbexPeer.register's retry-forever
// behavior is left to the caller (Run), not embedded here.
func (c *Client) Register(ctx context.Context) error {
	var resp registerResponse
	if err := c.call(ctx, "POST", "/register", registerRequest{c.User, c.Auth, c.GitAddress}, &resp); err != nil {
		return err
	}
	if resp.TimeoutSeconds <= 0 {
		return fmt.Errorf("tracker refused registration")
	}
	c.mu.Lock()
	c.registered = true
	c.timeout = time.Duration(resp.TimeoutSeconds) * time.Second
	c.mu.Unlock()
	if c.Log != nil {
		c.Log.Infow("registered with tracker", "timeout", c.timeout)
	}
	return nil
}

type keepaliveRequest struct {
	GitAddress string `json:"gitAddress"`
}

type keepaliveResponse struct {
	Known bool `json:"known"`
}

// Keepalive pings the tracker's lease for this peer. If the tracker no
// longer knows about us (lease expired), it reports Known=false and
// the caller (Run) must re-register — same as the original's
// reregister flag.
func (c *Client) Keepalive(ctx context.Context) (bool, error) {
	var resp keepaliveResponse
	if err := c.call(ctx, "POST", "/keepalive", keepaliveRequest{c.GitAddress}, &resp); err != nil {
		return false, err
	}
	return resp.Known, nil
}

type peerListResponse struct {
	Peers []reconcile.PeerRef `json:"peers"`
}

// GetPeers refreshes and returns the tracker's current peer list.
func (c *Client) GetPeers(ctx context.Context) ([]reconcile.PeerRef, error) {
	var resp peerListResponse
	if err := c.call(ctx, "GET", "/get_peers?gitAddress="+c.GitAddress, nil, &resp); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.peers = resp.Peers
	c.mu.Unlock()
	if c.Log != nil {
		c.Log.Infow("got peers", "count", len(resp.Peers))
	}
	return resp.Peers, nil
}

// Peers returns the most recently fetched peer list.
func (c *Client) Peers() []reconcile.PeerRef {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]reconcile.PeerRef(nil), c.peers...)
}

// Unregister tells the tracker this peer is going away. Errors are
// logged, not returned — the original swallowed unregister failures on
// shutdown too, since there is nothing left to retry against.
func (c *Client) Unregister(ctx context.Context) {
	c.mu.Lock()
	wasRegistered := c.registered
	c.registered = false
	c.mu.Unlock()
	if !wasRegistered {
		return
	}
	if err := c.call(ctx, "POST", "/unregister", keepaliveRequest{c.GitAddress}, nil); err != nil && c.Log != nil {
		c.Log.Warnw("unregister failed", "error", err)
	}
}

// Run registers, then loops keeping the lease alive and refreshing the
// peer list every lease period until ctx is cancelled, reregistering
// whenever the tracker reports the lease expired. Mirrors
// NumbexPeer.mainloop's retry-and-reregister shape.
func (c *Client) Run(ctx context.Context) error {
	if err := c.retryRegister(ctx); err != nil {
		return err
	}
	defer c.Unregister(context.Background())

	for {
		c.mu.Lock()
		sleep := c.timeout
		c.mu.Unlock()
		if sleep <= 0 {
			sleep = 20 * time.Second
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(sleep):
		}

		known, err := c.Keepalive(ctx)
		if err != nil {
			if c.Log != nil {
				c.Log.Errorw("keepalive failed", "error", err)
			}
			continue
		}
		if !known {
			if c.Log != nil {
				c.Log.Warnw("tracker forgot us, reregistering")
			}
			if err := c.retryRegister(ctx); err != nil {
				return err
			}
			continue
		}
		if _, err := c.GetPeers(ctx); err != nil && c.Log != nil {
			c.Log.Errorw("get_peers failed", "error", err)
		}
	}
}

func (c *Client) retryRegister(ctx context.Context) error {
	for {
		if err := c.Register(ctx); err == nil {
			return nil
		} else if c.Log != nil {
			c.Log.Warnw("cannot register, retrying", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(20 * time.Second):
		}
	}
}

func (c *Client) call(ctx context.Context, method, path string, body, out interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("tracker returned %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
