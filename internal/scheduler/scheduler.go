// Fluxgate - On-Premises Data Acquisition Gateway
// Copyright 2026 Fluxgate Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fluxgate/fluxgate

// Package scheduler dispatches South connector polls on their scan-mode
// schedules and drives resumable historical extraction against the
// watermark store. Ticks for one binding are serialized: a tick that fires
// while the previous invocation is still running is coalesced into a
// single pending rerun, never queued unboundedly.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/fluxgate/fluxgate/internal/config"
	"github.com/fluxgate/fluxgate/internal/connector"
	"github.com/fluxgate/fluxgate/internal/content"
	"github.com/fluxgate/fluxgate/internal/logging"
	"github.com/fluxgate/fluxgate/internal/metrics"
	"github.com/fluxgate/fluxgate/internal/watermark"
)

// ErrStarted is returned when Bind is called after Start.
var ErrStarted = errors.New("scheduler already started")

// historicalRetryDelay is the pause before re-attempting an enqueue that
// was rejected by backpressure during historical extraction.
const historicalRetryDelay = 5 * time.Second

// binding attaches one South connector's item set to a scan mode. The
// producer is the queue router that fans the connector's Content out to
// its subscribed North queues.
type binding struct {
	scanMode config.ScanModeConfig
	southID  string
	south    connector.South
	items    []connector.Item
	producer connector.Producer

	mu      sync.Mutex
	running bool
	pending bool
}

// Scheduler owns the cron runner, the interval tickers, and the bindings.
type Scheduler struct {
	wm  *watermark.Store
	log zerolog.Logger

	cron     *cron.Cron
	bindings []*binding

	mu      sync.Mutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a scheduler over the watermark store.
func New(wm *watermark.Store) *Scheduler {
	return &Scheduler{
		wm:   wm,
		log:  logging.With().Str("component", "scheduler").Logger(),
		cron: cron.New(),
	}
}

// Bind registers a South connector's items under a scan mode. The
// producer routes the connector's historical batches into its subscribed
// queues. Must be called before Start.
func (s *Scheduler) Bind(sm config.ScanModeConfig, southID string, south connector.South, items []connector.Item, producer connector.Producer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrStarted
	}

	b := &binding{scanMode: sm, southID: southID, south: south, items: items, producer: producer}
	if sm.Cron != "" {
		if _, err := s.cron.AddFunc(sm.Cron, func() { s.dispatch(b) }); err != nil {
			return fmt.Errorf("bind scan mode %q: %w", sm.ID, err)
		}
	}
	s.bindings = append(s.bindings, b)
	return nil
}

// Start begins schedule dispatch. Interval scan modes get one ticker
// goroutine per binding; cron scan modes share the cron runner.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)

	for _, b := range s.bindings {
		if b.scanMode.Interval > 0 {
			s.wg.Add(1)
			go s.runInterval(b)
		}
	}
	s.cron.Start()

	s.log.Info().Int("bindings", len(s.bindings)).Msg("scheduler started")
	return nil
}

// Stop halts schedule dispatch, cancels in-flight polls, and waits for all
// binding goroutines to finish. Safe to call concurrently with a tick.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	cronCtx := s.cron.Stop()
	cancel()
	<-cronCtx.Done()
	s.wg.Wait()
	s.log.Info().Msg("scheduler stopped")
}

// runInterval fires a binding on a fixed period until cancellation.
func (s *Scheduler) runInterval(b *binding) {
	defer s.wg.Done()

	ticker := time.NewTicker(b.scanMode.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.dispatch(b)
		}
	}
}

// dispatch runs one tick for a binding, serializing per binding. An
// overlapping tick marks a single pending rerun; further overlaps are
// dropped.
func (s *Scheduler) dispatch(b *binding) {
	b.mu.Lock()
	if b.running {
		if !b.pending {
			b.pending = true
		}
		b.mu.Unlock()
		metrics.RecordScanTickCoalesced(b.scanMode.ID)
		s.log.Debug().
			Str("scan_mode", b.scanMode.ID).
			Str("south", b.southID).
			Msg("tick overlaps running poll, coalesced")
		return
	}
	b.running = true
	b.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			s.runOnce(b)

			b.mu.Lock()
			if b.pending && s.ctx.Err() == nil {
				b.pending = false
				b.mu.Unlock()
				continue
			}
			b.running = false
			b.mu.Unlock()
			return
		}
	}()
}

// runOnce performs a single poll invocation for the binding. A failed poll
// is logged and retried on the next schedule tick; it never advances a
// watermark and never blocks other bindings.
func (s *Scheduler) runOnce(b *binding) {
	metrics.RecordScanTick(b.scanMode.ID)

	var err error
	if b.scanMode.Historical {
		err = s.runHistorical(b)
	} else {
		err = b.south.Poll(s.ctx, b.scanMode.ID, b.items)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		metrics.RecordPollFailure(b.southID)
		s.log.Warn().
			Err(err).
			Str("scan_mode", b.scanMode.ID).
			Str("south", b.southID).
			Msg("poll failed, will retry on next tick")
	}
}

// runHistorical drives the iterative extraction loop for each bound item:
// read the watermark, request data strictly newer than it, enqueue, then
// advance the watermark to the batch's maximum instant. The watermark is
// saved only after the batch is durably enqueued, so a crash between poll
// and enqueue re-reads the last batch instead of losing it.
func (s *Scheduler) runHistorical(b *binding) error {
	for _, item := range b.items {
		if err := s.extractItem(b, item); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) extractItem(b *binding, item connector.Item) error {
	since, _, err := s.wm.Get(s.ctx, b.southID, b.scanMode.ID, item.ID)
	if err != nil {
		return err
	}

	for {
		if s.ctx.Err() != nil {
			return s.ctx.Err()
		}

		batch, err := b.south.PollHistorical(s.ctx, item, since)
		if err != nil {
			return fmt.Errorf("historical poll item %q: %w", item.ID, err)
		}
		if batch.Content == nil {
			return nil
		}

		if err := s.enqueueWithBackpressure(batch.Content, b, item); err != nil {
			return err
		}

		if err := s.wm.Save(s.ctx, b.southID, b.scanMode.ID, item.ID, batch.MaxInstant); err != nil {
			return err
		}
		since = batch.MaxInstant

		if !batch.HasMore {
			return nil
		}
	}
}

// enqueueWithBackpressure enqueues one batch, pausing and retrying while
// the cache is full. Backpressure is a pause signal, not a failure.
func (s *Scheduler) enqueueWithBackpressure(c *content.Content, b *binding, item connector.Item) error {
	for {
		err := b.producer.Enqueue(s.ctx, c)
		if err == nil {
			return nil
		}
		if !errors.Is(err, connector.ErrCacheFull) {
			return fmt.Errorf("enqueue historical batch for item %q: %w", item.ID, err)
		}

		s.log.Debug().
			Str("south", b.southID).
			Str("item", item.ID).
			Msg("cache full, historical extraction paused")
		timer := time.NewTimer(historicalRetryDelay)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return s.ctx.Err()
		case <-timer.C:
		}
	}
}
