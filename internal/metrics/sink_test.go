// Fluxgate - On-Premises Data Acquisition Gateway
// Copyright 2026 Fluxgate Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fluxgate/fluxgate

package metrics

import (
	"testing"
)

func TestSnapshotAccumulates(t *testing.T) {
	s := NewSink()

	s.UpdateSizes("north-1", 100, 20, 5)
	s.RecordSent("north-1", "id-1", 40)
	s.RecordSent("north-1", "id-2", 60)

	snap := s.Snapshot("north-1")
	if snap.PendingBytes != 100 || snap.ErroredBytes != 20 || snap.ArchivedBytes != 5 {
		t.Fatalf("area sizes: %+v", snap)
	}
	if snap.SentCount != 2 || snap.SentBytes != 100 {
		t.Fatalf("sent counters: %+v", snap)
	}
	if snap.LastSentID != "id-2" {
		t.Fatalf("last sent id: got %s, want id-2", snap.LastSentID)
	}
	if snap.LastSentAt.IsZero() {
		t.Fatal("last sent instant must be set")
	}
}

func TestSnapshotUnknownNorth(t *testing.T) {
	s := NewSink()
	snap := s.Snapshot("never-seen")
	if snap.North != "never-seen" || snap.SentCount != 0 {
		t.Fatalf("unknown north snapshot: %+v", snap)
	}
}

func TestConnectorsAreIndependent(t *testing.T) {
	s := NewSink()
	s.UpdateSizes("north-1", 100, 0, 0)
	s.UpdateSizes("north-2", 200, 0, 0)

	if got := s.Snapshot("north-1").PendingBytes; got != 100 {
		t.Fatalf("north-1 pending: got %d, want 100", got)
	}
	if got := s.Snapshot("north-2").PendingBytes; got != 200 {
		t.Fatalf("north-2 pending: got %d, want 200", got)
	}
}

func TestSubscribeReceivesUpdates(t *testing.T) {
	s := NewSink()
	ch, cancel := s.Subscribe()
	defer cancel()

	s.UpdateSizes("north-1", 100, 0, 0)
	s.RecordSent("north-1", "id-1", 40)

	first := <-ch
	if first.PendingBytes != 100 {
		t.Fatalf("first update: %+v", first)
	}
	second := <-ch
	if second.SentCount != 1 {
		t.Fatalf("second update: %+v", second)
	}
}

// TestSlowSubscriberDropsOldest floods a subscriber past its buffer and
// verifies publishing never blocks and the newest update survives.
func TestSlowSubscriberDropsOldest(t *testing.T) {
	s := NewSink()
	ch, cancel := s.Subscribe()
	defer cancel()

	total := subscriberBuffer * 3
	for i := 1; i <= total; i++ {
		s.UpdateSizes("north-1", int64(i), 0, 0)
	}

	var last Snapshot
	received := 0
drain:
	for {
		select {
		case snap := <-ch:
			last = snap
			received++
		default:
			break drain
		}
	}

	if received > subscriberBuffer {
		t.Fatalf("buffer bound violated: received %d", received)
	}
	if last.PendingBytes != int64(total) {
		t.Fatalf("newest update lost: got %d, want %d", last.PendingBytes, total)
	}
}

func TestCancelClosesChannel(t *testing.T) {
	s := NewSink()
	ch, cancel := s.Subscribe()
	cancel()

	if _, ok := <-ch; ok {
		t.Fatal("channel must be closed after cancel")
	}

	// Publishing after cancel must not panic.
	s.UpdateSizes("north-1", 1, 0, 0)
	cancel()
}
