// Fluxgate - On-Premises Data Acquisition Gateway
// Copyright 2026 Fluxgate Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fluxgate/fluxgate

// Package delivery drives one North connector's consumption of its durable
// queue. Each loop holds at most one Content in flight, preserving the
// connector's FIFO order and bounding memory. Transient failures back off
// exponentially and retry the same head entry; permanent failures demote
// it straight to the errored area.
package delivery

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/fluxgate/fluxgate/internal/connector"
	"github.com/fluxgate/fluxgate/internal/content"
	"github.com/fluxgate/fluxgate/internal/logging"
	"github.com/fluxgate/fluxgate/internal/metrics"
	"github.com/fluxgate/fluxgate/internal/queue"
)

// Config holds the delivery loop policy.
type Config struct {
	// RetryInterval is the base backoff after a transient failure.
	RetryInterval time.Duration

	// MaxRetryInterval caps the exponential backoff. Zero keeps the
	// backoff fixed at RetryInterval.
	MaxRetryInterval time.Duration

	// DeliverTimeout bounds one Deliver call.
	DeliverTimeout time.Duration

	// BreakerThreshold is the number of consecutive failures before the
	// circuit opens. Zero disables the breaker.
	BreakerThreshold uint32

	// BreakerTimeout is how long the circuit stays open before a probe.
	BreakerTimeout time.Duration

	// MaxSendCount is the maximum number of value records merged into
	// one delivery attempt; the loop compacts the queue up to this
	// count before each peek. Zero or one disables compaction.
	MaxSendCount int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		RetryInterval:    5 * time.Second,
		MaxRetryInterval: 5 * time.Minute,
		DeliverTimeout:   30 * time.Second,
		BreakerThreshold: 5,
		BreakerTimeout:   time.Minute,
		MaxSendCount:     10000,
	}
}

// Loop pulls from one queue and ships through one North connector.
type Loop struct {
	north connector.North
	queue *queue.Queue
	cfg   Config
	sink  *metrics.Sink
	log   zerolog.Logger

	breaker *gobreaker.CircuitBreaker[any]

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	stopDone chan struct{}
	fatalErr error
}

// NewLoop creates a delivery loop for the queue's North connector.
func NewLoop(north connector.North, q *queue.Queue, cfg Config, sink *metrics.Sink) *Loop {
	l := &Loop{
		north: north,
		queue: q,
		cfg:   cfg,
		sink:  sink,
		log:   logging.With().Str("component", "delivery").Str("north", q.North()).Logger(),
	}
	if cfg.BreakerThreshold > 0 {
		l.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
			Name:    q.North(),
			Timeout: cfg.BreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.BreakerThreshold
			},
		})
	}
	return l
}

// Start connects the North connector and begins the loop goroutine.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return nil
	}

	loopCtx, cancel := context.WithCancel(ctx)
	if err := l.north.Connect(loopCtx); err != nil {
		cancel()
		l.mu.Unlock()
		return err
	}

	l.cancel = cancel
	l.running = true
	l.stopDone = make(chan struct{})
	done := l.stopDone
	l.mu.Unlock()

	go l.run(loopCtx, done)

	l.log.Info().
		Dur("retry_interval", l.cfg.RetryInterval).
		Msg("delivery loop started")
	return nil
}

// Stop cancels any in-flight delivery and waits for the loop goroutine.
// An entry that was peeked but never committed stays pending and is
// retried after restart. Safe to call concurrently with Start.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.cancel()
	l.running = false
	done := l.stopDone
	l.mu.Unlock()

	<-done

	disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.north.Disconnect(disconnectCtx); err != nil {
		l.log.Warn().Err(err).Msg("north disconnect failed")
	}
	l.log.Info().Msg("delivery loop stopped")
}

// IsRunning reports whether the loop is active.
func (l *Loop) IsRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Done returns a channel closed when the loop goroutine exits, including
// a self-stop on fatal storage failure. Valid after Start.
func (l *Loop) Done() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopDone
}

// run is the loop goroutine. It exits on context cancellation or on a
// fatal storage error, which is returned through lastErr for the
// supervisor adapter to inspect.
func (l *Loop) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		// Merging small values batches before the peek trades latency
		// for per-item send overhead.
		if l.cfg.MaxSendCount > 1 {
			if err := l.queue.Compact(l.cfg.MaxSendCount); err != nil {
				l.log.Error().Err(err).Msg("compaction failed, stopping delivery loop")
				l.setFatal(err)
				return
			}
		}

		c := l.queue.PeekNext()
		if c == nil {
			select {
			case <-ctx.Done():
				return
			case <-l.queue.Notify():
				continue
			}
		}

		select {
		case <-ctx.Done():
			return
		default:
		}

		err := l.deliverOne(ctx, c)
		switch {
		case err == nil:
			// Next entry immediately.
		case errors.Is(err, context.Canceled):
			return
		case connector.IsStorage(err):
			// Fatal: stop this connector, leave the queue as-is for
			// the operator. The rest of the process keeps running.
			l.log.Error().Err(err).Msg("storage failure, stopping delivery loop")
			l.setFatal(err)
			return
		default:
			if !l.sleep(ctx, l.backoff(c.RetryCount)) {
				return
			}
		}
	}
}

// deliverOne attempts one delivery and applies the commit that matches the
// outcome. The returned error is nil on success, the delivery error on
// failure, or a StorageError if a commit itself failed.
func (l *Loop) deliverOne(ctx context.Context, c *content.Content) error {
	deliverCtx, cancel := context.WithTimeout(ctx, l.cfg.DeliverTimeout)
	err := l.deliver(deliverCtx, c)
	cancel()

	if err == nil {
		if commitErr := l.queue.CommitDelivered(c.ID); commitErr != nil {
			return commitErr
		}
		l.sink.RecordSent(l.queue.North(), c.ID, c.Size())
		return nil
	}

	if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		// Shutdown interrupted the send. The entry was never committed
		// and stays pending for the next start.
		return context.Canceled
	}

	if errors.Is(err, gobreaker.ErrOpenState) {
		// The breaker is open: the destination is down. Waiting without
		// a CommitFailed keeps the retry budget for real attempts.
		l.log.Debug().Msg("circuit open, delivery suspended")
		return err
	}

	if connector.IsPermanentDelivery(err) {
		l.log.Warn().Err(err).Str("content_id", c.ID).Msg("permanent delivery failure")
		metrics.RecordDeliveryFailure(l.queue.North(), true)
		if commitErr := l.queue.Demote(c.ID, err.Error()); commitErr != nil {
			return commitErr
		}
		return nil
	}

	l.log.Warn().
		Err(err).
		Str("content_id", c.ID).
		Int("retry_count", c.RetryCount).
		Msg("delivery attempt failed")
	metrics.RecordDeliveryFailure(l.queue.North(), false)
	if commitErr := l.queue.CommitFailed(c.ID, err.Error()); commitErr != nil {
		return commitErr
	}
	return err
}

// deliver invokes the North connector, through the breaker when enabled.
func (l *Loop) deliver(ctx context.Context, c *content.Content) error {
	if l.breaker == nil {
		return l.north.Deliver(ctx, c)
	}
	_, err := l.breaker.Execute(func() (any, error) {
		return nil, l.north.Deliver(ctx, c)
	})
	return err
}

// backoff returns the exponential delay for the given retry count, capped
// at MaxRetryInterval.
func (l *Loop) backoff(retryCount int) time.Duration {
	d := l.cfg.RetryInterval
	if l.cfg.MaxRetryInterval <= 0 {
		return d
	}
	for i := 0; i < retryCount; i++ {
		d *= 2
		if d >= l.cfg.MaxRetryInterval {
			return l.cfg.MaxRetryInterval
		}
	}
	return d
}

// sleep waits for d or until cancellation. Reports false on cancellation.
func (l *Loop) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (l *Loop) setFatal(err error) {
	l.mu.Lock()
	l.fatalErr = err
	l.mu.Unlock()
}

// FatalErr returns the storage error that stopped the loop, if any.
func (l *Loop) FatalErr() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fatalErr
}
