// Fluxgate - On-Premises Data Acquisition Gateway
// Copyright 2026 Fluxgate Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fluxgate/fluxgate

// Package connector defines the contracts between the cache & delivery
// engine and the protocol-specific South (producer) and North (consumer)
// connector implementations, plus the engine's error taxonomy.
//
// The engine depends only on these interfaces; it never imports a concrete
// protocol implementation.
package connector

import (
	"context"
	"time"

	"github.com/fluxgate/fluxgate/internal/content"
)

// Item is one addressable data point or file source on a South connector.
type Item struct {
	// ID is unique within the owning South connector.
	ID string `json:"id"`

	// Name is the protocol-specific address (register, query, path pattern).
	Name string `json:"name"`

	// Settings carries protocol-specific item configuration, opaque to
	// the engine.
	Settings map[string]string `json:"settings,omitempty"`
}

// Producer accepts Content produced by a South connector poll. It is
// implemented by the engine's queue router. Enqueue returns ErrCacheFull
// when admission is rejected by backpressure; South connectors must treat
// that as a signal to pause producing, not as a fatal error.
type Producer interface {
	Enqueue(ctx context.Context, c *content.Content) error
}

// HistoricalBatch is one page of a resumable historical extraction.
type HistoricalBatch struct {
	// Content holds the page's data, nil when the source has nothing
	// newer than the requested instant.
	Content *content.Content

	// MaxInstant is the newest source timestamp in the page. The
	// scheduler advances the watermark to this instant after the page
	// has been durably enqueued, never before.
	MaxInstant time.Time

	// HasMore reports whether the source holds further data newer than
	// MaxInstant.
	HasMore bool
}

// South is a data producer. Implementations poll an external source and
// emit Content through the Producer handed to them at construction.
type South interface {
	// Connect establishes the protocol session. Called by the scheduler
	// before any poll is dispatched.
	Connect(ctx context.Context) error

	// Disconnect tears the session down. Called on connector stop.
	Disconnect(ctx context.Context) error

	// Poll reads the given items once for a live scan-mode tick.
	Poll(ctx context.Context, scanModeID string, items []Item) error

	// PollHistorical reads one page of data strictly newer than since
	// for a single item. Used by the historical extraction loop.
	PollHistorical(ctx context.Context, item Item, since time.Time) (HistoricalBatch, error)
}

// North is a data consumer. Deliver ships one Content item to the external
// destination. Receiving the same Content twice after a crash-retry is
// acceptable; connectors need not deduplicate.
type North interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Deliver(ctx context.Context, c *content.Content) error
}
