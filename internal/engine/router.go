// Fluxgate - On-Premises Data Acquisition Gateway
// Copyright 2026 Fluxgate Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fluxgate/fluxgate

package engine

import (
	"context"
	"errors"

	"github.com/fluxgate/fluxgate/internal/connector"
	"github.com/fluxgate/fluxgate/internal/content"
	"github.com/fluxgate/fluxgate/internal/queue"
)

// router fans one South connector's Content out to the durable queues of
// its subscribed North connectors. It is the Producer handed to the
// connector and to the scheduler's historical runner.
//
// When one queue rejects with ErrCacheFull the router still offers the
// item to the remaining queues, then reports ErrCacheFull so the producer
// pauses. A paused producer re-offering the same Content may duplicate it
// on queues that already accepted; at-least-once delivery absorbs that.
type router struct {
	queues []*queue.Queue
}

func newRouter(queues []*queue.Queue) *router {
	return &router{queues: queues}
}

// Enqueue implements connector.Producer.
func (r *router) Enqueue(ctx context.Context, c *content.Content) error {
	if len(r.queues) == 0 {
		return errors.New("no north connector subscribed to this source")
	}

	var full bool
	for _, q := range r.queues {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := q.Enqueue(c)
		switch {
		case err == nil:
		case errors.Is(err, connector.ErrCacheFull):
			full = true
		default:
			return err
		}
	}
	if full {
		return connector.ErrCacheFull
	}
	return nil
}
