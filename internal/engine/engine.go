// Fluxgate - On-Premises Data Acquisition Gateway
// Copyright 2026 Fluxgate Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fluxgate/fluxgate

// Package engine assembles the cache & delivery core from configuration:
// one durable queue and delivery loop per North connector, one router per
// South connector fanning Content out to its subscribed queues, the
// scan-mode scheduler, the watermark store, and the archive sweeper, all
// run under a supervisor tree.
package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fluxgate/fluxgate/internal/config"
	"github.com/fluxgate/fluxgate/internal/connector"
	"github.com/fluxgate/fluxgate/internal/delivery"
	"github.com/fluxgate/fluxgate/internal/logging"
	"github.com/fluxgate/fluxgate/internal/metrics"
	"github.com/fluxgate/fluxgate/internal/queue"
	"github.com/fluxgate/fluxgate/internal/scheduler"
	"github.com/fluxgate/fluxgate/internal/supervisor"
	"github.com/fluxgate/fluxgate/internal/sweeper"
	"github.com/fluxgate/fluxgate/internal/watermark"
)

// Engine owns the assembled core components.
type Engine struct {
	cfg  *config.Config
	sink *metrics.Sink
	wm   *watermark.Store

	queues map[string]*queue.Queue  // by North id
	loops  map[string]*delivery.Loop
	souths map[string]connector.South
	sched  *scheduler.Scheduler
	sweep  *sweeper.Sweeper
}

// New builds the engine from validated configuration. Connector types are
// resolved through the registry; register them before calling New.
func New(cfg *config.Config, sink *metrics.Sink) (*Engine, error) {
	wm, err := watermark.Open(watermark.Config{
		Path:       cfg.Watermark.Path,
		SyncWrites: cfg.Watermark.SyncWrites,
	})
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:    cfg,
		sink:   sink,
		wm:     wm,
		queues: make(map[string]*queue.Queue),
		loops:  make(map[string]*delivery.Loop),
		souths: make(map[string]connector.South),
		sched:  scheduler.New(wm),
	}

	for _, nc := range cfg.Norths {
		if err := e.buildNorth(nc); err != nil {
			e.closeStorage()
			return nil, err
		}
	}
	for _, sc := range cfg.Souths {
		if err := e.buildSouth(sc); err != nil {
			e.closeStorage()
			return nil, err
		}
	}

	allQueues := make([]*queue.Queue, 0, len(e.queues))
	for _, q := range e.queues {
		allQueues = append(allQueues, q)
	}
	e.sweep = sweeper.New(allQueues, sweeper.Config{
		SweepInterval:   cfg.Archive.SweepInterval,
		RetentionAge:    cfg.Archive.RetentionAge,
		MaxErroredCount: cfg.Archive.MaxErroredCount,
	})

	return e, nil
}

// buildNorth opens the durable queue and delivery loop for one North.
func (e *Engine) buildNorth(nc config.NorthConfig) error {
	factory, err := northFactory(nc.Type)
	if err != nil {
		return err
	}
	north, err := factory(nc)
	if err != nil {
		return fmt.Errorf("build north %q: %w", nc.ID, err)
	}

	q, err := queue.Open(nc.ID, queue.Config{
		Dir:            filepath.Join(e.cfg.Engine.CacheDir, nc.ID),
		MaxPendingSize: nc.Caching.MaxPendingSize,
		MaxRetry:       nc.Caching.MaxRetry,
	}, e.sink)
	if err != nil {
		return fmt.Errorf("open queue for north %q: %w", nc.ID, err)
	}

	loopCfg := delivery.DefaultConfig()
	loopCfg.RetryInterval = nc.Caching.RetryInterval
	loopCfg.MaxRetryInterval = nc.Caching.MaxRetryInterval
	loopCfg.MaxSendCount = nc.Caching.MaxSendCount

	e.queues[nc.ID] = q
	e.loops[nc.ID] = delivery.NewLoop(north, q, loopCfg, e.sink)
	return nil
}

// buildSouth creates one South connector, its router, and its scan-mode
// bindings.
func (e *Engine) buildSouth(sc config.SouthConfig) error {
	factory, err := southFactory(sc.Type)
	if err != nil {
		return err
	}

	r := newRouter(e.subscribedQueues(sc.ID))
	south, err := factory(sc, r)
	if err != nil {
		return fmt.Errorf("build south %q: %w", sc.ID, err)
	}
	e.souths[sc.ID] = south

	scanModes := make(map[string]config.ScanModeConfig, len(e.cfg.ScanModes))
	for _, sm := range e.cfg.ScanModes {
		scanModes[sm.ID] = sm
	}

	// Items polled together share a scan mode; bind each group once.
	grouped := make(map[string][]connector.Item)
	for _, item := range sc.Items {
		grouped[item.ScanModeID] = append(grouped[item.ScanModeID], connector.Item{
			ID:       item.ID,
			Name:     item.Name,
			Settings: item.Settings,
		})
	}
	for smID, items := range grouped {
		if err := e.sched.Bind(scanModes[smID], sc.ID, south, items, r); err != nil {
			return err
		}
	}
	return nil
}

// subscribedQueues returns the queues of every North subscribed to the
// South id. An empty subscription list subscribes a North to all Souths.
func (e *Engine) subscribedQueues(southID string) []*queue.Queue {
	var queues []*queue.Queue
	for _, nc := range e.cfg.Norths {
		if len(nc.Subscriptions) == 0 {
			queues = append(queues, e.queues[nc.ID])
			continue
		}
		for _, sub := range nc.Subscriptions {
			if sub == southID {
				queues = append(queues, e.queues[nc.ID])
				break
			}
		}
	}
	return queues
}

// Queue exposes one North's queue for the administrative surface.
func (e *Engine) Queue(northID string) (*queue.Queue, bool) {
	q, ok := e.queues[northID]
	return q, ok
}

// Watermarks exposes the watermark store for the administrative surface.
func (e *Engine) Watermarks() *watermark.Store {
	return e.wm
}

// Run connects the South connectors, runs the supervisor tree until the
// context is canceled, then tears everything down. Storage failures stop
// only the affected connector's service; the rest keep running.
func (e *Engine) Run(ctx context.Context) error {
	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())

	tree.AddStorageService(supervisor.NewService("archive-sweeper", e.sweep))
	for id, loop := range e.loops {
		tree.AddDeliveryService(supervisor.NewService("delivery-"+id, loop))
	}
	tree.AddAcquisitionService(supervisor.NewService("scheduler", e.sched))

	for id, south := range e.souths {
		connectCtx, cancel := context.WithTimeout(ctx, e.cfg.Engine.StopTimeout)
		err := south.Connect(connectCtx)
		cancel()
		if err != nil {
			// Polls against a disconnected source fail and retry on
			// their next tick; the engine still comes up.
			logging.Warn().Err(err).Str("south", id).Msg("south connect failed")
		}
	}

	logging.Info().
		Str("gateway", e.cfg.Engine.Name).
		Int("souths", len(e.souths)).
		Int("norths", len(e.loops)).
		Msg("engine running")

	err := tree.Serve(ctx)

	e.disconnectSouths()
	e.closeStorage()
	return err
}

func (e *Engine) disconnectSouths() {
	for id, south := range e.souths {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := south.Disconnect(ctx); err != nil {
			logging.Warn().Err(err).Str("south", id).Msg("south disconnect failed")
		}
		cancel()
	}
}

func (e *Engine) closeStorage() {
	for _, q := range e.queues {
		q.Close()
	}
	if err := e.wm.Close(); err != nil {
		logging.Warn().Err(err).Msg("watermark store close failed")
	}
}
