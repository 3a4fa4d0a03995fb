// Package sweeper prunes expired records and idle rate-limit keys in the
// background.
package sweeper

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ernie/play4096/internal/auth"
	"github.com/ernie/play4096/internal/metrics"
	"github.com/ernie/play4096/internal/storage"
)

// Store is the subset of storage the sweeper needs
type Store interface {
	DeleteExpired(ctx context.Context, now time.Time) (storage.PruneResult, error)
}

// Sweeper periodically deletes expired sessions, verification requests
// and reset sessions, and drops rate-limit keys idle for longer than
// IdleAfter.
type Sweeper struct {
	store     Store
	limiters  map[string]auth.Pruner
	interval  time.Duration
	idleAfter time.Duration
	metrics   *metrics.Metrics
	log       *logrus.Entry
	now       func() time.Time

	mu      sync.Mutex
	done    chan struct{}
	wg      sync.WaitGroup
	running bool
}

// New creates a sweeper. limiters is keyed by a name used in metrics.
func New(store Store, limiters map[string]auth.Pruner, interval, idleAfter time.Duration, m *metrics.Metrics, log *logrus.Entry) *Sweeper {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if idleAfter <= 0 {
		idleAfter = time.Hour
	}
	return &Sweeper{
		store:     store,
		limiters:  limiters,
		interval:  interval,
		idleAfter: idleAfter,
		metrics:   m,
		log:       log.WithField("component", "sweeper"),
		now:       time.Now,
	}
}

// Start begins sweeping until Stop is called or ctx is done
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.done = make(chan struct{})
	s.wg.Add(1)
	go s.loop(ctx, s.done)
	s.log.WithField("interval", s.interval).Info("Sweeper started")
}

// Stop halts the loop and waits for an in-progress sweep to finish
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.done)
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info("Sweeper stopped")
}

func (s *Sweeper) loop(ctx context.Context, done <-chan struct{}) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass and returns the number of rows and keys removed
func (s *Sweeper) Sweep(ctx context.Context) int64 {
	now := s.now().UTC()
	var total int64

	res, err := s.store.DeleteExpired(ctx, now)
	if err != nil {
		s.log.WithError(err).Error("Deleting expired records")
	}
	s.metrics.Swept("session", res.Sessions)
	s.metrics.Swept("email_verification", res.Verifications)
	s.metrics.Swept("password_reset", res.Resets)
	total += res.Total()

	cutoff := now.Add(-s.idleAfter)
	for name, l := range s.limiters {
		n := int64(l.Prune(cutoff))
		s.metrics.Swept("ratelimit_"+name, n)
		total += n
	}

	if total > 0 {
		s.log.WithFields(logrus.Fields{
			"sessions":      res.Sessions,
			"verifications": res.Verifications,
			"resets":        res.Resets,
			"removed":       total,
		}).Debug("Sweep complete")
	}
	return total
}
