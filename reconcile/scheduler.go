package reconcile

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/freeconet/numbex/merge"
)

// ticket is one unit of scheduled work for the single consumer task. A
// nil PeerRef slice with sentinel set to true is the shutdown signal.
type ticket struct {
	sentinel bool
	peers    []PeerRef
}

// Scheduler emits fetch tickets on a periodic cadence into a bounded
// queue, and a single worker task drains it, invoking the reconciler.
// This is a task + bounded queue + single consumer shape, with
// cooperative shutdown via a sentinel ticket.
type Scheduler struct {
	Interval time.Duration
	Peers    func() []PeerRef

	queue chan ticket
}

// NewScheduler returns a Scheduler with a bounded queue capacity of 20.
func NewScheduler(interval time.Duration, peers func() []PeerRef) *Scheduler {
	return &Scheduler{Interval: interval, Peers: peers, queue: make(chan ticket, 20)}
}

// Run starts the periodic producer and the single consumer, returning
// when ctx is cancelled or the worker returns an error. The consumer
// invokes r.FetchFromPeers for every ticket and stops the scheduler
// entirely (Run returns nil) if that reports merge.ErrInconsistentData.
func (s *Scheduler) Run(ctx context.Context, r *Reconciler) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ticker := time.NewTicker(s.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				select {
				case s.queue <- ticket{sentinel: true}:
				default:
				}
				return nil
			case <-ticker.C:
				select {
				case s.queue <- ticket{peers: s.Peers()}:
				default:
					if r.Log != nil {
						r.Log.Warnw("fetch queue full, dropping tick")
					}
				}
			}
		}
	})

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case t := <-s.queue:
				if t.sentinel {
					return nil
				}
				if err := r.FetchFromPeers(ctx, t.peers); err != nil {
					if r.Log != nil {
						r.Log.Errorw("fetch from peers failed", "error", err)
					}
					if errors.Is(err, merge.ErrInconsistentData) {
						stop()
						return nil
					}
				}
			}
		}
	})

	return g.Wait()
}
