// Package reconcile implements the reconciler: it coordinates the local
// and replicated stores under a single writer lock on the replicated
// store.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/freeconet/numbex/localstore"
	"github.com/freeconet/numbex/merge"
	"github.com/freeconet/numbex/record"
	"github.com/freeconet/numbex/replica"
)

// Config holds reconciler configuration: the sliding window used by
// import_from_replicated when the store already holds state, and where
// the replicated-store repository lives on disk (the merge engine clones
// it into its own isolation worktree per integration). ExportWindow is
// carried here but not read: export_to_replicated always sends every
// signed record named in the change journal, whatever its mdate.
type Config struct {
	ImportWindow time.Duration
	ExportWindow time.Duration
	RepoDir      string
}

// PeerRef names one peer's replicated-store remote, as the tracker
// adapter would supply it.
type PeerRef struct {
	Name   string
	URL    string
	Branch string
}

// Reconciler is the sole owner of the gitlock — the process-wide mutex
// serializing every read-modify-write operation against the replicated
// store.
type Reconciler struct {
	Cfg        Config
	Log        *zap.SugaredLogger
	Local      *localstore.Store
	Replicated *replica.Store
	Merge      *merge.Engine
	Fatal      *FatalFlag

	gitlock sync.Mutex
}

// New returns a Reconciler wired to the given stores and merge engine.
func New(cfg Config, log *zap.SugaredLogger, local *localstore.Store, rep *replica.Store, eng *merge.Engine, fatal *FatalFlag) *Reconciler {
	return &Reconciler{Cfg: cfg, Log: log, Local: local, Replicated: rep, Merge: eng, Fatal: fatal}
}

func (r *Reconciler) checkNotFatal() error {
	set, reason, _, err := r.Fatal.IsSet()
	if err != nil {
		return err
	}
	if set {
		return fmt.Errorf("%w: %s", ErrFatal, reason)
	}
	return nil
}

// ImportFromReplicated feeds the replicated store's state into the
// local store. If forceAll or the local store is empty, the
// whole replicated store is imported; otherwise only records changed
// since now-ImportWindow. Unless forceAll is set, refuses with
// ErrDatabaseDirty if the local journal has unexported changes, since
// importing over them would lose the pending export.
func (r *Reconciler) ImportFromReplicated(forceAll bool) error {
	if err := r.checkNotFatal(); err != nil {
		return err
	}

	r.gitlock.Lock()
	defer r.gitlock.Unlock()

	localEmpty := false
	if !forceAll {
		has, err := r.Local.HasChanges()
		if err != nil {
			return err
		}
		if has {
			return ErrDatabaseDirty
		}
		all, err := r.Local.GetAll()
		if err != nil {
			return err
		}
		localEmpty = len(all) == 0
	}

	var records []record.Record
	var err error
	if forceAll || localEmpty {
		records, err = r.Replicated.ExportAll()
	} else {
		records, err = r.Replicated.ExportSince(time.Now().Add(-r.Cfg.ImportWindow))
	}
	if err != nil {
		return err
	}

	if len(records) == 0 {
		return nil
	}
	if err := r.Local.Update(records); err != nil {
		return err
	}
	return r.Local.ClearChangeJournal()
}

// ExportToReplicated pushes the local store's pending changes into the
// replicated store. It trivially succeeds (no-op) unless
// forceAll or the journal is non-empty. On failure the journal is left
// intact so the next tick can retry.
func (r *Reconciler) ExportToReplicated(forceAll bool) error {
	if err := r.checkNotFatal(); err != nil {
		return err
	}

	has, err := r.Local.HasChanges()
	if err != nil {
		return err
	}
	if !forceAll && !has {
		return nil
	}

	r.gitlock.Lock()
	defer r.gitlock.Unlock()

	journal, err := r.Local.GetChangeJournal()
	if err != nil {
		return err
	}

	var upserts []record.Record
	var deletions []string
	seen := map[string]bool{}
	for _, change := range journal {
		switch change.Kind {
		case localstore.Deleted:
			deletions = append(deletions, change.Start)
		case localstore.Added, localstore.Modified:
			if seen[change.Start] {
				continue
			}
			rec, ok, err := r.Local.GetRange(change.Start)
			if err != nil {
				return err
			}
			if ok && !rec.Unsigned() {
				upserts = append(upserts, rec)
				seen[change.Start] = true
			}
		}
	}

	ok, err := r.Replicated.Import(upserts, deletions, r.Local)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("export rejected by replicated store")
	}
	return r.Local.ClearChangeJournal()
}

// FetchFromPeers integrates one peer's branch (a random pick when more
// than one is given) into the replicated store and then re-imports the
// result into the local store. If the merge engine reports
// InconsistentData, the sticky fatal flag is raised and the error is
// returned so the caller (the scheduler's worker) stops the scheduler
// and every peer connection.
func (r *Reconciler) FetchFromPeers(ctx context.Context, peers []PeerRef) error {
	if err := r.checkNotFatal(); err != nil {
		return err
	}
	if len(peers) == 0 {
		return nil
	}
	peer := peers[rand.Intn(len(peers))]

	r.gitlock.Lock()
	ok, err := r.Merge.Integrate(ctx, r.Cfg.RepoDir, peer.Name, peer.URL, peer.Branch)
	r.gitlock.Unlock()
	if err != nil {
		if errors.Is(err, merge.ErrInconsistentData) {
			if setErr := r.Fatal.Set(err.Error(), time.Now()); setErr != nil {
				return setErr
			}
		}
		return err
	}
	if !ok {
		return fmt.Errorf("merge with peer %s did not complete", peer.Name)
	}

	return r.ImportFromReplicated(false)
}

// ClearErrors is the control surface's `clearerrors` operation: a
// deliberate human acknowledgement that resets the sticky fatal flag.
func (r *Reconciler) ClearErrors() error {
	return r.Fatal.Clear()
}

// Status is the snapshot the control surface's `status` operation
// returns: the dirty flag, the sticky fatal flag with its reason, and the
// range count. It carries no last-update timestamp and no running flag.
type Status struct {
	Dirty       bool
	FatalSet    bool
	FatalReason string
	RangeCount  int
}

// Status computes the current Status snapshot.
func (r *Reconciler) Status() (Status, error) {
	dirty, err := r.Local.HasChanges()
	if err != nil {
		return Status{}, err
	}
	fatalSet, reason, _, err := r.Fatal.IsSet()
	if err != nil {
		return Status{}, err
	}
	all, err := r.Local.GetAll()
	if err != nil {
		return Status{}, err
	}
	return Status{Dirty: dirty, FatalSet: fatalSet, FatalReason: reason, RangeCount: len(all)}, nil
}
