// Fluxgate - On-Premises Data Acquisition Gateway
// Copyright 2026 Fluxgate Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fluxgate/fluxgate

package folderscanner

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fluxgate/fluxgate/internal/config"
	"github.com/fluxgate/fluxgate/internal/connector"
	"github.com/fluxgate/fluxgate/internal/content"
)

var testItem = connector.Item{ID: "item-a", Name: "*.csv"}

type captureProducer struct {
	mu       sync.Mutex
	enqueued []*content.Content
}

func (p *captureProducer) Enqueue(ctx context.Context, c *content.Content) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enqueued = append(p.enqueued, c)
	return nil
}

func (p *captureProducer) paths() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, c := range p.enqueued {
		out = append(out, filepath.Base(c.FilePath))
	}
	return out
}

func newScanner(t *testing.T, dir, pattern string, producer *captureProducer) *Scanner {
	t.Helper()
	cfg := config.SouthConfig{
		ID:       "south-1",
		Type:     Type,
		Settings: map[string]string{"dir": dir, "pattern": pattern},
	}
	s, err := New(cfg, producer)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s.(*Scanner)
}

func writeAt(t *testing.T, dir, name string, modTime time.Time) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("data"), 0o640); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	if err := os.Chtimes(path, modTime, modTime); err != nil {
		t.Fatalf("chtimes %s: %v", name, err)
	}
	return path
}

func TestPollEnqueuesNewFilesOnce(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	writeAt(t, dir, "a.csv", now.Add(-2*time.Minute))
	writeAt(t, dir, "b.csv", now.Add(-time.Minute))
	writeAt(t, dir, "skip.txt", now)

	producer := &captureProducer{}
	s := newScanner(t, dir, "*.csv", producer)

	ctx := context.Background()
	if err := s.Poll(ctx, "every-10s", nil); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if got := producer.paths(); len(got) != 2 {
		t.Fatalf("enqueued files: got %v, want the two csv files", got)
	}

	// An unchanged directory produces nothing on the next tick.
	if err := s.Poll(ctx, "every-10s", nil); err != nil {
		t.Fatalf("second Poll: %v", err)
	}
	if got := producer.paths(); len(got) != 2 {
		t.Fatalf("unchanged files re-enqueued: %v", got)
	}
}

func TestPollPicksUpModifiedFile(t *testing.T) {
	dir := t.TempDir()
	base := time.Now().Add(-time.Hour)
	writeAt(t, dir, "a.csv", base)

	producer := &captureProducer{}
	s := newScanner(t, dir, "*.csv", producer)
	ctx := context.Background()

	if err := s.Poll(ctx, "every-10s", nil); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	writeAt(t, dir, "a.csv", base.Add(time.Minute))
	if err := s.Poll(ctx, "every-10s", nil); err != nil {
		t.Fatalf("second Poll: %v", err)
	}

	if got := producer.paths(); len(got) != 2 {
		t.Fatalf("modified file not re-enqueued: %v", got)
	}
}

// TestPollHistoricalPages walks the one-file-per-page extraction in
// modification-time order.
func TestPollHistoricalPages(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	writeAt(t, dir, "first.csv", base)
	writeAt(t, dir, "second.csv", base.Add(time.Hour))
	writeAt(t, dir, "third.csv", base.Add(2*time.Hour))

	s := newScanner(t, dir, "*.csv", &captureProducer{})
	ctx := context.Background()

	var since time.Time
	var got []string
	for {
		batch, err := s.PollHistorical(ctx, testItem, since)
		if err != nil {
			t.Fatalf("PollHistorical: %v", err)
		}
		if batch.Content == nil {
			break
		}
		got = append(got, filepath.Base(batch.Content.FilePath))
		if !batch.MaxInstant.After(since) {
			t.Fatalf("batch instant %v does not advance past %v", batch.MaxInstant, since)
		}
		since = batch.MaxInstant
	}

	want := []string{"first.csv", "second.csv", "third.csv"}
	if len(got) != len(want) {
		t.Fatalf("pages: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("page order: got %v, want %v", got, want)
		}
	}
}

// TestPollHistoricalEqualModTimes drives the extraction loop the way the
// scheduler does (save MaxInstant, poll again with it) over two files
// sharing one modification time. Both must be paged; the second must not
// be lost behind the cursor instant.
func TestPollHistoricalEqualModTimes(t *testing.T) {
	dir := t.TempDir()
	instant := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	writeAt(t, dir, "a.csv", instant)
	writeAt(t, dir, "b.csv", instant)

	s := newScanner(t, dir, "*.csv", &captureProducer{})
	ctx := context.Background()

	var since time.Time
	var got []string
	for i := 0; ; i++ {
		if i > 4 {
			t.Fatalf("extraction did not terminate, paged %v", got)
		}
		batch, err := s.PollHistorical(ctx, testItem, since)
		if err != nil {
			t.Fatalf("PollHistorical: %v", err)
		}
		if batch.Content == nil {
			break
		}
		got = append(got, filepath.Base(batch.Content.FilePath))
		since = batch.MaxInstant
	}

	want := []string{"a.csv", "b.csv"}
	if len(got) != len(want) {
		t.Fatalf("pages: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("page order: got %v, want %v", got, want)
		}
	}
}

func TestPollHistoricalResumesAfterSince(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	writeAt(t, dir, "old.csv", base)
	writeAt(t, dir, "new.csv", base.Add(time.Hour))

	s := newScanner(t, dir, "*.csv", &captureProducer{})

	batch, err := s.PollHistorical(context.Background(), testItem, base)
	if err != nil {
		t.Fatalf("PollHistorical: %v", err)
	}
	if batch.Content == nil {
		t.Fatal("a newer file exists, batch must not be empty")
	}
	if got := filepath.Base(batch.Content.FilePath); got != "new.csv" {
		t.Fatalf("resumed page: got %s, want new.csv", got)
	}
	if batch.HasMore {
		t.Fatal("single remaining file must report HasMore=false")
	}
}

func TestNewRequiresDir(t *testing.T) {
	cfg := config.SouthConfig{ID: "south-1", Type: Type}
	if _, err := New(cfg, &captureProducer{}); err == nil {
		t.Fatal("New without a dir setting must fail")
	}
}

func TestConnectMissingDir(t *testing.T) {
	s := newScanner(t, filepath.Join(t.TempDir(), "gone"), "*", &captureProducer{})
	if err := s.Connect(context.Background()); err == nil {
		t.Fatal("Connect on a missing directory must fail")
	}
}

func TestConnectDisconnect(t *testing.T) {
	s := newScanner(t, t.TempDir(), "*", &captureProducer{})
	ctx := context.Background()
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := s.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if err := s.Disconnect(ctx); err != nil {
		t.Fatalf("repeated Disconnect: %v", err)
	}
}
