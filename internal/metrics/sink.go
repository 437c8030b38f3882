// Fluxgate - On-Premises Data Acquisition Gateway
// Copyright 2026 Fluxgate Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fluxgate/fluxgate

package metrics

import (
	"sync"
	"time"
)

// Snapshot is the observable cache state of one North connector. Published
// to subscribers on every queue or delivery event.
type Snapshot struct {
	North string `json:"north"`

	PendingBytes  int64 `json:"pending_bytes"`
	ErroredBytes  int64 `json:"errored_bytes"`
	ArchivedBytes int64 `json:"archived_bytes"`

	SentCount int64 `json:"sent_count"`
	SentBytes int64 `json:"sent_bytes"`

	LastSentAt time.Time `json:"last_sent_at,omitempty"`
	LastSentID string    `json:"last_sent_id,omitempty"`
}

// Sink accumulates per-connector cache statistics and broadcasts updates
// to subscribers. Publishing never blocks the data path: when a
// subscriber's buffer is full, its oldest update is dropped to make room.
type Sink struct {
	mu        sync.Mutex
	snapshots map[string]Snapshot
	subs      map[int]chan Snapshot
	nextSubID int
}

// subscriberBuffer is the per-subscriber channel depth.
const subscriberBuffer = 64

// NewSink creates an empty metrics sink.
func NewSink() *Sink {
	return &Sink{
		snapshots: make(map[string]Snapshot),
		subs:      make(map[int]chan Snapshot),
	}
}

// Subscribe registers a subscriber and returns its update channel plus a
// cancel function. The channel is closed on cancel.
func (s *Sink) Subscribe() (<-chan Snapshot, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSubID
	s.nextSubID++
	ch := make(chan Snapshot, subscriberBuffer)
	s.subs[id] = ch

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if sub, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Snapshot returns the current statistics for one connector.
func (s *Sink) Snapshot(north string) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snapshots[north]
	if !ok {
		return Snapshot{North: north}
	}
	return snap
}

// UpdateSizes records new area sizes for a connector and broadcasts.
func (s *Sink) UpdateSizes(north string, pending, errored, archived int64) {
	RecordAreaSizes(north, pending, errored, archived)

	s.mu.Lock()
	snap := s.snapshots[north]
	snap.North = north
	snap.PendingBytes = pending
	snap.ErroredBytes = errored
	snap.ArchivedBytes = archived
	s.snapshots[north] = snap
	s.broadcastLocked(snap)
	s.mu.Unlock()
}

// RecordSent records a successful delivery for a connector and broadcasts.
func (s *Sink) RecordSent(north, contentID string, size int64) {
	RecordDelivered(north, size)

	s.mu.Lock()
	snap := s.snapshots[north]
	snap.North = north
	snap.SentCount++
	snap.SentBytes += size
	snap.LastSentAt = time.Now().UTC()
	snap.LastSentID = contentID
	s.snapshots[north] = snap
	s.broadcastLocked(snap)
	s.mu.Unlock()
}

// broadcastLocked fans the snapshot out to all subscribers, dropping the
// oldest buffered update of any subscriber that is full. Callers hold mu.
func (s *Sink) broadcastLocked(snap Snapshot) {
	for _, ch := range s.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}
