// Command numbexd is the numbex daemon: it owns the local and
// replicated stores, serves the range-lookup, record-exchange, and
// control adapters, and runs the background peer-fetch scheduler.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/freeconet/numbex/adapters/control"
	"github.com/freeconet/numbex/adapters/exchange"
	"github.com/freeconet/numbex/adapters/lookup"
	"github.com/freeconet/numbex/adapters/tracker"
	"github.com/freeconet/numbex/config"
	"github.com/freeconet/numbex/localstore"
	"github.com/freeconet/numbex/merge"
	"github.com/freeconet/numbex/reconcile"
	"github.com/freeconet/numbex/replica"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("numbexd", flag.ContinueOnError)
	configPath := fs.String("config", "/etc/numbex/numbex.hujson", "path to the daemon config file")
	useDefaults := fs.Bool("defaults", false, "run with built-in defaults, ignoring -config")
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		return 2
	}

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error: building logger:", err)
		return 2
	}
	defer logger.Sync()
	log := logger.Sugar()

	var cfg config.Config
	if *useDefaults {
		cfg = config.Default()
	} else {
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Errorw("loading config", "path", *configPath, "error", err)
			return 1
		}
	}

	d, err := newDaemon(cfg, log)
	if err != nil {
		log.Errorw("starting daemon", "error", err)
		return 1
	}
	defer d.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := d.run(ctx); err != nil {
		log.Errorw("daemon exited with error", "error", err)
		return 1
	}
	return 0
}

// daemon owns every adapter and background task the process runs.
type daemon struct {
	cfg config.Config
	log *zap.SugaredLogger

	local      *localstore.Store
	replicated *replica.Store
	reconciler *reconcile.Reconciler
	scheduler  *reconcile.Scheduler

	lookupSrv   *lookup.Server
	exchangeSrv *exchange.Server
	controlSrv  *control.Server
	trackerCl   *tracker.Client

	mu      sync.Mutex
	running bool
}

func newDaemon(cfg config.Config, log *zap.SugaredLogger) (*daemon, error) {
	local, err := localstore.Open(localstore.Config{Path: cfg.LocalStore.Path}, log)
	if err != nil {
		return nil, fmt.Errorf("opening local store: %w", err)
	}

	rep, err := replica.Open(replica.Config{
		Dir:            cfg.ReplicatedStore.Dir,
		CommitterName:  cfg.ReplicatedStore.CommitterName,
		CommitterEmail: cfg.ReplicatedStore.CommitterEmail,
	}, log)
	if err != nil {
		local.Close()
		return nil, fmt.Errorf("opening replicated store: %w", err)
	}

	fatal := reconcile.NewFatalFlag(cfg.StateDir + "/fatal.json")
	eng := merge.New(merge.Config{
		CommitterName:  cfg.ReplicatedStore.CommitterName,
		CommitterEmail: cfg.ReplicatedStore.CommitterEmail,
	}, log, local)

	rc := reconcile.New(reconcile.Config{
		ImportWindow: cfg.Scheduler.ImportWindow,
		ExportWindow: cfg.Scheduler.ExportWindow,
		RepoDir:      cfg.ReplicatedStore.Dir,
	}, log, local, rep, eng, fatal)

	var trackerCl *tracker.Client
	if cfg.Tracker.URL != "" {
		trackerCl = tracker.NewClient(cfg.Tracker.URL, cfg.Owner, "", cfg.ReplicatedStore.Dir, log)
	}

	d := &daemon{
		cfg:        cfg,
		log:        log,
		local:      local,
		replicated: rep,
		reconciler: rc,
		trackerCl:  trackerCl,
	}

	d.scheduler = reconcile.NewScheduler(cfg.Scheduler.FetchInterval, d.peers)
	d.lookupSrv = lookup.NewServer(cfg.Adapters.LookupAddr, log, local)
	d.exchangeSrv = exchange.NewServer(cfg.Adapters.ExchangeAddr, log, local)
	d.controlSrv = control.NewServer(cfg.Adapters.ControlAddr, log, rc, control.Toggles{
		StartP2P:    d.startP2P,
		StopP2P:     d.stopP2P,
		StartUpdate: d.startUpdate,
		StopUpdate:  d.stopUpdate,
	}, d.requestShutdown)

	return d, nil
}

func (d *daemon) peers() []reconcile.PeerRef {
	if d.trackerCl == nil {
		return nil
	}
	return d.trackerCl.Peers()
}

func (d *daemon) startP2P() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.running = true
	return nil
}

func (d *daemon) stopP2P() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.running = false
	return nil
}

func (d *daemon) startUpdate() error { return nil }
func (d *daemon) stopUpdate() error  { return nil }

var shutdownOnce sync.Once

func (d *daemon) requestShutdown() {
	shutdownOnce.Do(func() {
		p, err := os.FindProcess(os.Getpid())
		if err == nil {
			p.Signal(syscall.SIGTERM)
		}
	})
}

func (d *daemon) close() {
	d.local.Close()
}

// run starts every adapter and the scheduler, blocking until ctx is
// cancelled, then shuts everything down cooperatively.
func (d *daemon) run(ctx context.Context) error {
	errCh := make(chan error, 4)

	go func() {
		if err := d.lookupSrv.Serve(); err != nil {
			errCh <- fmt.Errorf("lookup server: %w", err)
		}
	}()
	go func() {
		if err := d.exchangeSrv.ListenAndServe(); err != nil {
			errCh <- fmt.Errorf("exchange server: %w", err)
		}
	}()
	go func() {
		if err := d.controlSrv.ListenAndServe(); err != nil {
			errCh <- fmt.Errorf("control server: %w", err)
		}
	}()
	if d.trackerCl != nil {
		go func() {
			if err := d.trackerCl.Run(ctx); err != nil {
				errCh <- fmt.Errorf("tracker client: %w", err)
			}
		}()
	}
	go func() {
		if err := d.scheduler.Run(ctx, d.reconciler); err != nil {
			errCh <- fmt.Errorf("scheduler: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		d.log.Errorw("component failed", "error", err)
	}

	d.lookupSrv.Close()
	d.exchangeSrv.Shutdown()
	d.controlSrv.Close(context.Background())
	return nil
}
