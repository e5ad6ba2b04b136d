package telemetry

import (
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultRetention is how long entries are kept before deletion.
	DefaultRetention = 30 * 24 * time.Hour
	// orphanAge is the age past which an in-progress entry is presumed
	// abandoned by a dead process.
	orphanAge = time.Hour
	// sweepInterval spaces the periodic retention passes.
	sweepInterval = time.Hour
)

// Sweeper reconciles orphaned entries at startup and enforces retention on a
// timer.
type Sweeper struct {
	store     *Store
	retention time.Duration
	logger    *zap.SugaredLogger

	stop chan struct{}
	done chan struct{}
}

// NewSweeper creates a sweeper. retention <= 0 means DefaultRetention.
func NewSweeper(store *Store, retention time.Duration, logger *zap.SugaredLogger) *Sweeper {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Sweeper{
		store:     store,
		retention: retention,
		logger:    logger,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start runs the startup reconcile pass and then sweeps periodically until
// Stop is called.
func (s *Sweeper) Start() {
	go func() {
		defer close(s.done)

		s.reconcile()
		s.sweep()

		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.sweep()
			case <-s.stop:
				return
			}
		}
	}()
}

// Stop halts the periodic sweeps.
func (s *Sweeper) Stop() {
	close(s.stop)
	<-s.done
}

func (s *Sweeper) reconcile() {
	n, err := s.store.ReconcileOrphans(time.Now().UTC().Add(-orphanAge))
	if err != nil {
		s.logger.Warnw("orphan reconcile failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Infow("marked orphaned telemetry entries", "count", n)
	}
}

func (s *Sweeper) sweep() {
	n, err := s.store.DeleteOlderThan(time.Now().UTC().Add(-s.retention))
	if err != nil {
		s.logger.Warnw("retention sweep failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Debugw("deleted expired telemetry entries", "count", n)
	}
}
