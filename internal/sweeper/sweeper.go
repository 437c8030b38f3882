// Fluxgate - On-Premises Data Acquisition Gateway
// Copyright 2026 Fluxgate Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fluxgate/fluxgate

// Package sweeper bounds the disk usage of delivered and errored history.
// It runs on its own timer, independent of delivery activity, pruning
// archived entries past the retention age and errored entries beyond the
// configured backlog bound. It never touches the pending area.
package sweeper

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fluxgate/fluxgate/internal/logging"
	"github.com/fluxgate/fluxgate/internal/metrics"
	"github.com/fluxgate/fluxgate/internal/queue"
)

// Config holds the retention policy.
type Config struct {
	// SweepInterval is the time between sweep runs.
	SweepInterval time.Duration

	// RetentionAge is how long archived entries are kept.
	RetentionAge time.Duration

	// MaxErroredCount bounds the errored area per connector, oldest
	// pruned first. Zero disables the bound.
	MaxErroredCount int
}

// Sweeper prunes the archived and errored areas of all queues.
type Sweeper struct {
	queues []*queue.Queue
	cfg    Config
	log    zerolog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a sweeper over the given queues.
func New(queues []*queue.Queue, cfg Config) *Sweeper {
	return &Sweeper{
		queues: queues,
		cfg:    cfg,
		log:    logging.With().Str("component", "sweeper").Logger(),
	}
}

// Start begins the background sweep loop.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(loopCtx)

	s.log.Info().
		Dur("interval", s.cfg.SweepInterval).
		Dur("retention", s.cfg.RetentionAge).
		Msg("archive sweeper started")
	return nil
}

// Stop halts the sweep loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info().Msg("archive sweeper stopped")
}

// IsRunning reports whether the sweeper is active.
func (s *Sweeper) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Sweeper) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep performs one pruning pass over every queue.
func (s *Sweeper) Sweep() {
	cutoff := time.Now().UTC().Add(-s.cfg.RetentionAge)

	for _, q := range s.queues {
		archived, err := q.SweepArchived(cutoff)
		if err != nil {
			s.log.Error().Err(err).Str("north", q.North()).Msg("archive sweep failed")
			continue
		}
		if archived > 0 {
			metrics.RecordArchivePruned(q.North(), archived)
		}

		errored, err := q.PruneErrored(s.cfg.MaxErroredCount)
		if err != nil {
			s.log.Error().Err(err).Str("north", q.North()).Msg("errored prune failed")
			continue
		}

		if archived > 0 || errored > 0 {
			s.log.Info().
				Str("north", q.North()).
				Int("archived_pruned", archived).
				Int("errored_pruned", errored).
				Msg("sweep complete")
		}
	}
}
