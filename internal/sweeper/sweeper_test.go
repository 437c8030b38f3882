// Fluxgate - On-Premises Data Acquisition Gateway
// Copyright 2026 Fluxgate Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fluxgate/fluxgate

package sweeper

import (
	"context"
	"testing"
	"time"

	"github.com/fluxgate/fluxgate/internal/content"
	"github.com/fluxgate/fluxgate/internal/queue"
)

func openQueue(t *testing.T, maxRetry int) *queue.Queue {
	t.Helper()
	q, err := queue.Open("north-1", queue.Config{
		Dir:            t.TempDir(),
		MaxPendingSize: 1 << 20,
		MaxRetry:       maxRetry,
	}, nil)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	return q
}

// enqueueAged creates a values entry whose creation instant is age in the
// past, so retention cutoffs can be exercised without sleeping.
func enqueueAged(t *testing.T, q *queue.Queue, age time.Duration) string {
	t.Helper()
	c, err := content.NewValues("south-1", []content.Value{
		{PointID: "p", Timestamp: time.Now().UTC(), Data: []byte(`{"v":1}`)},
	})
	if err != nil {
		t.Fatalf("NewValues: %v", err)
	}
	c.CreatedAt = time.Now().UTC().Add(-age)
	if err := q.Enqueue(c); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return c.ID
}

func TestSweepPrunesExpiredArchive(t *testing.T) {
	q := openQueue(t, 3)

	oldID := enqueueAged(t, q, 100*time.Hour)
	freshID := enqueueAged(t, q, time.Minute)
	for _, id := range []string{oldID, freshID} {
		if err := q.CommitDelivered(id); err != nil {
			t.Fatalf("CommitDelivered: %v", err)
		}
	}

	s := New([]*queue.Queue{q}, Config{
		SweepInterval: time.Hour,
		RetentionAge:  72 * time.Hour,
	})
	s.Sweep()

	archived := q.ListArchived()
	if len(archived) != 1 {
		t.Fatalf("archived after sweep: got %d entries, want 1", len(archived))
	}
	if archived[0].ID != freshID {
		t.Fatalf("wrong entry survived: got %s, want %s", archived[0].ID, freshID)
	}
}

func TestSweepBoundsErroredBacklog(t *testing.T) {
	q := openQueue(t, 0)

	var ids []string
	for i := 0; i < 4; i++ {
		id := enqueueAged(t, q, time.Minute)
		if err := q.CommitFailed(id, "down"); err != nil {
			t.Fatalf("CommitFailed: %v", err)
		}
		ids = append(ids, id)
	}

	s := New([]*queue.Queue{q}, Config{
		SweepInterval:   time.Hour,
		RetentionAge:    72 * time.Hour,
		MaxErroredCount: 2,
	})
	s.Sweep()

	errored := q.ListErrored()
	if len(errored) != 2 {
		t.Fatalf("errored after sweep: got %d entries, want 2", len(errored))
	}
	// Oldest first pruning keeps the two newest.
	if errored[0].ID != ids[2] || errored[1].ID != ids[3] {
		t.Fatalf("wrong entries survived: got %s,%s want %s,%s",
			errored[0].ID, errored[1].ID, ids[2], ids[3])
	}
}

func TestSweepDisabledErroredBound(t *testing.T) {
	q := openQueue(t, 0)
	for i := 0; i < 3; i++ {
		id := enqueueAged(t, q, time.Minute)
		if err := q.CommitFailed(id, "down"); err != nil {
			t.Fatalf("CommitFailed: %v", err)
		}
	}

	s := New([]*queue.Queue{q}, Config{
		SweepInterval: time.Hour,
		RetentionAge:  72 * time.Hour,
	})
	s.Sweep()

	if got := len(q.ListErrored()); got != 3 {
		t.Fatalf("errored backlog must be untouched when the bound is zero, got %d", got)
	}
}

func TestStartStop(t *testing.T) {
	s := New(nil, Config{SweepInterval: time.Hour, RetentionAge: time.Hour})

	if s.IsRunning() {
		t.Fatal("sweeper should start idle")
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !s.IsRunning() {
		t.Fatal("sweeper should be running after Start")
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	s.Stop()
	if s.IsRunning() {
		t.Fatal("sweeper should be stopped")
	}
	s.Stop()
}
