// Fluxgate - On-Premises Data Acquisition Gateway
// Copyright 2026 Fluxgate Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fluxgate/fluxgate

package queue

import (
	"fmt"
	"os"
	"time"

	"github.com/fluxgate/fluxgate/internal/connector"
	"github.com/fluxgate/fluxgate/internal/content"
)

// Administrative operations on the errored and archived areas. These are
// exposed to the operator-facing surface; the queue owns the state
// transitions and the size accounting.

// ListErrored returns summaries of the errored area, oldest first.
func (q *Queue) ListErrored() []EntryInfo {
	q.mu.Lock()
	defer q.mu.Unlock()
	infos := make([]EntryInfo, 0, len(q.errored))
	for _, e := range q.errored {
		infos = append(infos, infoOf(e))
	}
	return infos
}

// ListArchived returns summaries of the archived area.
func (q *Queue) ListArchived() []EntryInfo {
	q.mu.Lock()
	defer q.mu.Unlock()
	infos := make([]EntryInfo, 0, len(q.archive))
	for _, e := range q.archive {
		infos = append(infos, infoOf(e))
	}
	return infos
}

// RetryErrored moves one errored entry back to the pending area. Its retry
// count restarts from zero and it joins the FIFO tail. The entry is
// re-admitted under a fresh id, so its tail position survives the
// id-ordered recovery scan after a restart.
func (q *Queue) RetryErrored(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.retryErroredLocked(id)
}

// RetryAllErrored moves every errored entry back to pending.
func (q *Queue) RetryAllErrored() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.errored) > 0 {
		if err := q.retryErroredLocked(q.errored[0].Content.ID); err != nil {
			return err
		}
	}
	return nil
}

func (q *Queue) retryErroredLocked(id string) error {
	e, idx := q.findErrored(id)
	if e == nil {
		return fmt.Errorf("retry errored %s: %w", id, ErrNotFound)
	}

	newID, err := content.NewID()
	if err != nil {
		return fmt.Errorf("retry errored %s: %w", id, err)
	}
	e.Content.ID = newID
	e.Content.RetryCount = 0
	e.LastError = ""
	if err := q.writeMeta(e, areaPending); err != nil {
		return err
	}
	// A crash here leaves the old errored copy behind as a duplicate,
	// never a gap; at-least-once delivery absorbs it.
	if err := os.Remove(q.metaPath(areaErrored, id)); err != nil && !os.IsNotExist(err) {
		return connector.NewStorageError("remove errored entry metadata", err)
	}

	q.errored = append(q.errored[:idx], q.errored[idx+1:]...)
	q.sizes.Errored -= e.Size
	q.pending = append(q.pending, e)
	q.sizes.Pending += e.Size
	q.publishSizes()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// RemoveErrored deletes one errored entry and its payload.
func (q *Queue) RemoveErrored(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, idx := q.findErrored(id)
	if e == nil {
		return fmt.Errorf("remove errored %s: %w", id, ErrNotFound)
	}
	if err := q.removeEntry(e, areaErrored); err != nil {
		return err
	}
	q.errored = append(q.errored[:idx], q.errored[idx+1:]...)
	q.sizes.Errored -= e.Size
	q.publishSizes()
	return nil
}

// RemoveAllErrored empties the errored area.
func (q *Queue) RemoveAllErrored() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.errored) > 0 {
		e := q.errored[0]
		if err := q.removeEntry(e, areaErrored); err != nil {
			return err
		}
		q.errored = q.errored[1:]
		q.sizes.Errored -= e.Size
	}
	q.publishSizes()
	return nil
}

// RemoveArchived deletes one archived entry and its payload.
func (q *Queue) RemoveArchived(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.archive[id]
	if !ok {
		return fmt.Errorf("remove archived %s: %w", id, ErrNotFound)
	}
	if err := q.removeEntry(e, areaArchived); err != nil {
		return err
	}
	delete(q.archive, id)
	q.sizes.Archived -= e.Size
	q.publishSizes()
	return nil
}

// SweepArchived removes archived entries created before the cutoff.
// Returns the number of entries removed. Used by the archive sweeper.
func (q *Queue) SweepArchived(cutoff time.Time) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	removed := 0
	for id, e := range q.archive {
		if e.Content.CreatedAt.After(cutoff) {
			continue
		}
		if err := q.removeEntry(e, areaArchived); err != nil {
			return removed, err
		}
		delete(q.archive, id)
		q.sizes.Archived -= e.Size
		removed++
	}
	if removed > 0 {
		q.publishSizes()
	}
	return removed, nil
}

// PruneErrored removes the oldest errored entries until at most maxCount
// remain. A maxCount of zero or less disables pruning. Returns the number
// removed. Used by the archive sweeper to bound the error backlog.
func (q *Queue) PruneErrored(maxCount int) (int, error) {
	if maxCount <= 0 {
		return 0, nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	removed := 0
	for len(q.errored) > maxCount {
		e := q.errored[0]
		if err := q.removeEntry(e, areaErrored); err != nil {
			return removed, err
		}
		q.errored = q.errored[1:]
		q.sizes.Errored -= e.Size
		removed++
	}
	if removed > 0 {
		q.publishSizes()
	}
	return removed, nil
}
