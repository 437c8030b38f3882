// Fluxgate - On-Premises Data Acquisition Gateway
// Copyright 2026 Fluxgate Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fluxgate/fluxgate

package queue

import "github.com/fluxgate/fluxgate/internal/content"

// Compact merges adjacent pending values-kind entries into batches of up
// to maxElements value records, reducing per-item send overhead. Record
// order within a merged batch is the FIFO enqueue order, so relative time
// ordering is preserved. The head entry is skipped while a PeekNext is
// outstanding, since the delivery loop may be sending it.
//
// Each merge keeps the oldest entry's id and FIFO position: the surviving
// metadata file is rewritten in place and the absorbed entries' files are
// removed afterwards. A crash between the two steps leaves duplicates,
// never a gap, which at-least-once delivery tolerates.
func (q *Queue) Compact(maxElements int) error {
	if maxElements <= 1 {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	var compacted []*entry
	i := 0
	for i < len(q.pending) {
		head := q.pending[i]
		if head.Content.Kind != content.KindValues || head.Content.ID == q.peeked {
			compacted = append(compacted, head)
			i++
			continue
		}

		merged := head
		var absorbed []*entry
		j := i + 1
		for j < len(q.pending) {
			next := q.pending[j]
			if next.Content.Kind != content.KindValues {
				break
			}
			if len(merged.Content.Values)+len(next.Content.Values) > maxElements {
				break
			}
			merged.Content.Values = append(merged.Content.Values, next.Content.Values...)
			absorbed = append(absorbed, next)
			j++
		}

		if len(absorbed) > 0 {
			oldSize := merged.Size
			merged.Size = merged.Content.Size()
			if err := q.writeMeta(merged, areaPending); err != nil {
				return err
			}
			q.sizes.Pending += merged.Size - oldSize
			for _, a := range absorbed {
				if err := q.removeEntry(a, areaPending); err != nil {
					return err
				}
				q.sizes.Pending -= a.Size
			}
			q.log.Debug().
				Str("content_id", merged.Content.ID).
				Int("absorbed", len(absorbed)).
				Int("records", len(merged.Content.Values)).
				Msg("compacted pending values entries")
		}

		compacted = append(compacted, merged)
		i = j
	}

	q.pending = compacted
	q.publishSizes()
	return nil
}
