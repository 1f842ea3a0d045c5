// Package config loads the daemon's persisted configuration: local and
// replicated store locations, peer tracker contact info, the scheduler
// cadence, and every adapter's listen address. Configuration files are
// JSON-with-comments (hujson), the way defaultconf.py's commented ini
// file let operators document each setting in place.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/tailscale/hujson"
)

// Config is the daemon's full configuration, loaded from a single
// hujson document and overlaid on Default().
type Config struct {
	Owner string `json:"owner"`

	LocalStore struct {
		Path string `json:"path"`
	} `json:"localStore"`

	ReplicatedStore struct {
		Dir            string `json:"dir"`
		CommitterName  string `json:"committerName"`
		CommitterEmail string `json:"committerEmail"`
	} `json:"replicatedStore"`

	Tracker struct {
		URL             string        `json:"url"`
		KeepaliveEvery  time.Duration `json:"keepaliveEvery"`
		PeerListTimeout time.Duration `json:"peerListTimeout"`
	} `json:"tracker"`

	Scheduler struct {
		FetchInterval time.Duration `json:"fetchInterval"`
		ImportWindow  time.Duration `json:"importWindow"`
		ExportWindow  time.Duration `json:"exportWindow"`
	} `json:"scheduler"`

	Adapters struct {
		LookupAddr   string `json:"lookupAddr"`   // UDP range-lookup
		ExchangeAddr string `json:"exchangeAddr"` // record-exchange RPC
		ControlAddr  string `json:"controlAddr"`  // loopback control RPC
	} `json:"adapters"`

	StateDir string `json:"stateDir"` // holds the sticky fatal-error flag
}

// Default returns the configuration defaultconf.py shipped: a local
// SQLite file and replicated-store clone under the state directory, a
// five-minute fetch cadence, and loopback-only adapter addresses.
func Default() Config {
	var cfg Config
	cfg.StateDir = "/var/lib/numbex"
	cfg.LocalStore.Path = "/var/lib/numbex/local.db"
	cfg.ReplicatedStore.Dir = "/var/lib/numbex/repo"
	cfg.ReplicatedStore.CommitterName = "numbexd"
	cfg.ReplicatedStore.CommitterEmail = "numbexd@localhost"
	cfg.Scheduler.FetchInterval = 5 * time.Minute
	cfg.Scheduler.ImportWindow = 24 * time.Hour
	cfg.Scheduler.ExportWindow = 24 * time.Hour
	cfg.Tracker.KeepaliveEvery = 2 * time.Minute
	cfg.Tracker.PeerListTimeout = 10 * time.Second
	cfg.Adapters.LookupAddr = "127.0.0.1:9753"
	cfg.Adapters.ExchangeAddr = "127.0.0.1:9754"
	cfg.Adapters.ControlAddr = "127.0.0.1:9755"
	return cfg
}

// Load reads a hujson document at path and overlays it on Default().
// hujson tolerates comments and trailing commas, so operators can
// annotate each setting the way defaultconf.py's ini comments did.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}
	standard, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := json.Unmarshal(standard, &cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config %s: %w", path, err)
	}
	return cfg, nil
}
