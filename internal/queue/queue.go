// Fluxgate - On-Premises Data Acquisition Gateway
// Copyright 2026 Fluxgate Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fluxgate/fluxgate

// Package queue implements the per-North-connector durable queue that
// decouples producers from consumers. Content is persisted to disk before
// the enqueue is acknowledged and handed out in FIFO order. Each queue
// owns three disjoint areas: pending (awaiting delivery), errored (retry
// budget exhausted, held for inspection), and archived (delivered, kept
// until pruned). Area moves are single-file renames, atomic with respect
// to a crash; an id exists in exactly one area at any time.
package queue

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/fluxgate/fluxgate/internal/connector"
	"github.com/fluxgate/fluxgate/internal/content"
	"github.com/fluxgate/fluxgate/internal/logging"
	"github.com/fluxgate/fluxgate/internal/metrics"
)

// Area names double as directory names under the queue root.
const (
	areaPending  = "pending"
	areaErrored  = "errored"
	areaArchived = "archived"
	dirTmp       = "tmp"
	dirFiles     = "files"
)

const metaExt = ".json"

// ErrNotFound is returned when an id is not present in the expected area.
var ErrNotFound = errors.New("queue entry not found")

// Config holds the per-queue policy.
type Config struct {
	// Dir is the queue root directory.
	Dir string

	// MaxPendingSize is the backpressure bound on pending payload bytes.
	MaxPendingSize int64

	// MaxRetry is the number of failed delivery attempts tolerated
	// before an entry is demoted to the errored area. An entry is
	// demoted when its retry count exceeds this value.
	MaxRetry int
}

// entry is the persisted metadata for one Content item. The payload is
// inline for values batches and a file reference for raw files.
type entry struct {
	Content   content.Content `json:"content"`
	Size      int64           `json:"size"`
	LastError string          `json:"last_error,omitempty"`
}

// SizeAccount tracks payload bytes held per area. The tracked totals equal
// the sum of on-disk payload sizes in each area.
type SizeAccount struct {
	Pending  int64 `json:"pending"`
	Errored  int64 `json:"errored"`
	Archived int64 `json:"archived"`
}

// Queue is a disk-backed FIFO for one North connector. All entry points
// share one mutex; cross-connector queues are fully independent.
type Queue struct {
	north string
	cfg   Config
	sink  *metrics.Sink
	log   zerolog.Logger

	mu      sync.Mutex
	pending []*entry          // FIFO, oldest first
	errored []*entry          // oldest first
	archive map[string]*entry // id -> entry
	sizes   SizeAccount
	peeked  string // id handed out by PeekNext, not yet committed
	closed  bool

	// notify wakes the delivery loop when the queue becomes non-empty.
	notify chan struct{}
}

// Open creates or reopens the durable queue for the given North connector,
// rebuilding the FIFO index, retry counts, and size account from disk.
// Stale staging files from an interrupted enqueue are discarded.
func Open(north string, cfg Config, sink *metrics.Sink) (*Queue, error) {
	q := &Queue{
		north:   north,
		cfg:     cfg,
		sink:    sink,
		log:     logging.With().Str("component", "queue").Str("north", north).Logger(),
		archive: make(map[string]*entry),
		notify:  make(chan struct{}, 1),
	}

	for _, sub := range []string{areaPending, areaErrored, areaArchived, dirTmp, dirFiles} {
		if err := os.MkdirAll(filepath.Join(cfg.Dir, sub), 0o750); err != nil {
			return nil, connector.NewStorageError("create queue directories", err)
		}
	}

	if err := q.recover(); err != nil {
		return nil, err
	}

	q.log.Info().
		Int("pending", len(q.pending)).
		Int("errored", len(q.errored)).
		Int("archived", len(q.archive)).
		Int64("pending_bytes", q.sizes.Pending).
		Msg("queue opened")

	q.publishSizes()
	return q, nil
}

// recover rebuilds in-memory state from the on-disk areas.
func (q *Queue) recover() error {
	// An interrupted enqueue leaves its staging file in tmp; the entry
	// was never acknowledged, so dropping it loses nothing.
	tmpDir := filepath.Join(q.cfg.Dir, dirTmp)
	stale, err := os.ReadDir(tmpDir)
	if err != nil {
		return connector.NewStorageError("scan staging area", err)
	}
	for _, f := range stale {
		if rmErr := os.Remove(filepath.Join(tmpDir, f.Name())); rmErr != nil {
			q.log.Warn().Err(rmErr).Str("file", f.Name()).Msg("failed to remove stale staging file")
		}
	}

	load := func(area string) ([]*entry, error) {
		dir := filepath.Join(q.cfg.Dir, area)
		files, err := os.ReadDir(dir)
		if err != nil {
			return nil, connector.NewStorageError("scan "+area+" area", err)
		}
		var entries []*entry
		for _, f := range files {
			if !strings.HasSuffix(f.Name(), metaExt) {
				continue
			}
			data, err := os.ReadFile(filepath.Join(dir, f.Name()))
			if err != nil {
				return nil, connector.NewStorageError("read "+area+" entry", err)
			}
			var e entry
			if err := json.Unmarshal(data, &e); err != nil {
				q.log.Warn().Err(err).Str("file", f.Name()).Msg("skipping unreadable entry metadata")
				continue
			}
			entries = append(entries, &e)
		}
		// Content ids are UUIDv7: lexicographic order is enqueue order.
		sort.Slice(entries, func(i, j int) bool {
			return entries[i].Content.ID < entries[j].Content.ID
		})
		return entries, nil
	}

	if q.pending, err = load(areaPending); err != nil {
		return err
	}
	if q.errored, err = load(areaErrored); err != nil {
		return err
	}
	archived, err := load(areaArchived)
	if err != nil {
		return err
	}
	for _, e := range archived {
		q.archive[e.Content.ID] = e
	}

	for _, e := range q.pending {
		q.sizes.Pending += e.Size
	}
	for _, e := range q.errored {
		q.sizes.Errored += e.Size
	}
	for _, e := range q.archive {
		q.sizes.Archived += e.Size
	}

	return q.sweepOrphanPayloads()
}

// sweepOrphanPayloads removes payload files no area references. A crash
// between staging the payload copy and committing the metadata leaves
// such a file behind; the enqueue was never acknowledged, so dropping it
// loses nothing.
func (q *Queue) sweepOrphanPayloads() error {
	referenced := make(map[string]bool)
	collect := func(entries []*entry) {
		for _, e := range entries {
			if e.Content.Kind == content.KindRawFile {
				referenced[filepath.Base(e.Content.FilePath)] = true
			}
		}
	}
	collect(q.pending)
	collect(q.errored)
	for _, e := range q.archive {
		if e.Content.Kind == content.KindRawFile {
			referenced[filepath.Base(e.Content.FilePath)] = true
		}
	}

	filesDir := filepath.Join(q.cfg.Dir, dirFiles)
	payloads, err := os.ReadDir(filesDir)
	if err != nil {
		return connector.NewStorageError("scan payload area", err)
	}
	for _, f := range payloads {
		if referenced[f.Name()] {
			continue
		}
		if rmErr := os.Remove(filepath.Join(filesDir, f.Name())); rmErr != nil {
			q.log.Warn().Err(rmErr).Str("file", f.Name()).Msg("failed to remove orphan payload file")
			continue
		}
		q.log.Info().Str("file", f.Name()).Msg("removed orphan payload file")
	}
	return nil
}

// Enqueue persists the Content into the pending area before returning.
// The metadata (and, for raw files, the payload copy) is staged in tmp and
// committed with a rename. Returns connector.ErrCacheFull when admission
// would exceed MaxPendingSize.
func (q *Queue) Enqueue(c *content.Content) error {
	size := c.Size()
	if size <= 0 {
		return content.ErrEmptyPayload
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return connector.ErrStopped
	}

	if q.sizes.Pending+size > q.cfg.MaxPendingSize {
		metrics.RecordCacheFull(q.north)
		return connector.ErrCacheFull
	}

	e := &entry{Content: *c, Size: size}

	if c.Kind == content.KindRawFile {
		// Take ownership of the payload: copy it under the queue root
		// so the producer's file can be cleaned up independently.
		dest := filepath.Join(q.cfg.Dir, dirFiles, c.ID+"_"+filepath.Base(c.FilePath))
		if err := copyFile(c.FilePath, dest); err != nil {
			return connector.NewStorageError("stage payload file", err)
		}
		e.Content.FilePath = dest
	}

	if err := q.writeMeta(e, areaPending); err != nil {
		return err
	}

	q.pending = append(q.pending, e)
	q.sizes.Pending += size
	metrics.RecordEnqueue(q.north, size)
	q.publishSizes()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// PeekNext returns the oldest pending entry without removing it. The entry
// stays durable in the pending area until it is committed. Returns nil
// when the queue is empty.
func (q *Queue) PeekNext() *content.Content {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	head := q.pending[0]
	q.peeked = head.Content.ID
	c := head.Content
	return &c
}

// CommitDelivered atomically moves the entry from pending or errored to
// the archived area. Idempotent: committing an already-archived id is a
// no-op, tolerating retried commits after a crash.
func (q *Queue) CommitDelivered(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.archive[id]; ok {
		return nil
	}

	if e, idx := q.findPending(id); e != nil {
		if err := q.moveMeta(id, areaPending, areaArchived); err != nil {
			return err
		}
		q.pending = append(q.pending[:idx], q.pending[idx+1:]...)
		q.sizes.Pending -= e.Size
		q.archive[id] = e
		q.sizes.Archived += e.Size
		if q.peeked == id {
			q.peeked = ""
		}
		q.publishSizes()
		return nil
	}

	if e, idx := q.findErrored(id); e != nil {
		if err := q.moveMeta(id, areaErrored, areaArchived); err != nil {
			return err
		}
		q.errored = append(q.errored[:idx], q.errored[idx+1:]...)
		q.sizes.Errored -= e.Size
		q.archive[id] = e
		q.sizes.Archived += e.Size
		q.publishSizes()
		return nil
	}

	return fmt.Errorf("commit delivered %s: %w", id, ErrNotFound)
}

// CommitFailed records a failed delivery attempt. The retry count is
// incremented and persisted; once it exceeds MaxRetry the entry is demoted
// to the errored area. Entries awaiting another retry keep their FIFO
// position, so failures never reorder the queue.
func (q *Queue) CommitFailed(id, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, _ := q.findPending(id)
	if e == nil {
		return fmt.Errorf("commit failed %s: %w", id, ErrNotFound)
	}

	e.Content.RetryCount++
	e.LastError = reason
	if q.peeked == id {
		q.peeked = ""
	}

	if e.Content.RetryCount > q.cfg.MaxRetry {
		return q.demoteLocked(id)
	}

	// Persist the updated retry count so a restart resumes exactly here.
	return q.writeMeta(e, areaPending)
}

// Demote moves a pending entry straight to the errored area regardless of
// its retry count. Used when the destination classifies a failure as
// permanent.
func (q *Queue) Demote(id, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, _ := q.findPending(id)
	if e == nil {
		return fmt.Errorf("demote %s: %w", id, ErrNotFound)
	}
	e.LastError = reason
	if q.peeked == id {
		q.peeked = ""
	}
	return q.demoteLocked(id)
}

// demoteLocked moves a pending entry to the errored area. Callers hold mu.
func (q *Queue) demoteLocked(id string) error {
	e, idx := q.findPending(id)
	if e == nil {
		return fmt.Errorf("demote %s: %w", id, ErrNotFound)
	}
	// Persist the final retry count and reason before the move so the
	// errored area reflects why the entry landed there.
	if err := q.writeMeta(e, areaPending); err != nil {
		return err
	}
	if err := q.moveMeta(id, areaPending, areaErrored); err != nil {
		return err
	}
	q.pending = append(q.pending[:idx], q.pending[idx+1:]...)
	q.sizes.Pending -= e.Size
	q.errored = append(q.errored, e)
	q.sizes.Errored += e.Size
	metrics.RecordErrored(q.north)
	q.publishSizes()

	q.log.Warn().
		Str("content_id", id).
		Int("retry_count", e.Content.RetryCount).
		Str("reason", e.LastError).
		Msg("entry demoted to errored area")
	return nil
}

// Sizes returns the current per-area byte totals.
func (q *Queue) Sizes() SizeAccount {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.sizes
}

// Len returns the number of pending entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Notify returns the channel signaled when the queue becomes non-empty.
func (q *Queue) Notify() <-chan struct{} {
	return q.notify
}

// North returns the owning North connector id.
func (q *Queue) North() string {
	return q.north
}

// Close marks the queue closed. Pending entries stay on disk and are
// recovered on the next Open.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}

// findPending returns the pending entry and index for id, or (nil, -1).
func (q *Queue) findPending(id string) (*entry, int) {
	for i, e := range q.pending {
		if e.Content.ID == id {
			return e, i
		}
	}
	return nil, -1
}

// findErrored returns the errored entry and index for id, or (nil, -1).
func (q *Queue) findErrored(id string) (*entry, int) {
	for i, e := range q.errored {
		if e.Content.ID == id {
			return e, i
		}
	}
	return nil, -1
}

// metaPath returns the metadata file path for id in the given area.
func (q *Queue) metaPath(area, id string) string {
	return filepath.Join(q.cfg.Dir, area, id+metaExt)
}

// writeMeta stages the entry metadata in tmp and renames it into the area.
// The rename is the commit point.
func (q *Queue) writeMeta(e *entry, area string) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	tmp := filepath.Join(q.cfg.Dir, dirTmp, e.Content.ID+metaExt)
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return connector.NewStorageError("stage entry metadata", err)
	}
	if err := os.Rename(tmp, q.metaPath(area, e.Content.ID)); err != nil {
		return connector.NewStorageError("commit entry metadata", err)
	}
	return nil
}

// moveMeta renames the metadata file between areas. Idempotent: when the
// source is gone and the target exists, a crash interrupted an earlier
// identical move and there is nothing left to do.
func (q *Queue) moveMeta(id, from, to string) error {
	src := q.metaPath(from, id)
	dst := q.metaPath(to, id)
	if err := os.Rename(src, dst); err != nil {
		if os.IsNotExist(err) {
			if _, statErr := os.Stat(dst); statErr == nil {
				return nil
			}
		}
		return connector.NewStorageError("move entry between areas", err)
	}
	return nil
}

// removeEntry deletes the metadata file and, for raw files, the payload.
func (q *Queue) removeEntry(e *entry, area string) error {
	if err := os.Remove(q.metaPath(area, e.Content.ID)); err != nil && !os.IsNotExist(err) {
		return connector.NewStorageError("remove entry metadata", err)
	}
	if e.Content.Kind == content.KindRawFile {
		if err := os.Remove(e.Content.FilePath); err != nil && !os.IsNotExist(err) {
			q.log.Warn().Err(err).Str("file", e.Content.FilePath).Msg("failed to remove payload file")
		}
	}
	return nil
}

// publishSizes pushes the current size account to the metrics sink.
// Callers hold mu.
func (q *Queue) publishSizes() {
	if q.sink != nil {
		q.sink.UpdateSizes(q.north, q.sizes.Pending, q.sizes.Errored, q.sizes.Archived)
	}
}

// copyFile copies src to dst, fsyncing the destination before returning.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// EntryInfo is the operator-visible summary of one queue entry.
type EntryInfo struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	SourceID   string    `json:"source_id"`
	Size       int64     `json:"size"`
	RetryCount int       `json:"retry_count"`
	CreatedAt  time.Time `json:"created_at"`
	LastError  string    `json:"last_error,omitempty"`
}

func infoOf(e *entry) EntryInfo {
	return EntryInfo{
		ID:         e.Content.ID,
		Kind:       string(e.Content.Kind),
		SourceID:   e.Content.SourceID,
		Size:       e.Size,
		RetryCount: e.Content.RetryCount,
		CreatedAt:  e.Content.CreatedAt,
		LastError:  e.LastError,
	}
}
