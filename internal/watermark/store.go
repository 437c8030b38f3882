// Fluxgate - On-Premises Data Acquisition Gateway
// Copyright 2026 Fluxgate Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fluxgate/fluxgate

// Package watermark provides durable, crash-consistent storage of per-item
// high-water marks for resumable historical extraction. Watermarks are
// keyed by (sourceId, scanModeId, itemId) and only ever advance: a save
// with an older instant is silently ignored, so a replayed batch after a
// crash can never regress the mark.
package watermark

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/fluxgate/fluxgate/internal/connector"
	"github.com/fluxgate/fluxgate/internal/logging"
)

// ErrClosed is returned when the store is used after Close.
var ErrClosed = errors.New("watermark store closed")

// keyPrefix namespaces watermark rows in the store.
const keyPrefix = "wm:"

// keySep separates the key components. Components are escaped before
// joining, so an id containing the separator cannot be confused with a
// component boundary.
const keySep = ":"

// Config holds store configuration.
type Config struct {
	// Path is the directory for the store's files.
	Path string

	// SyncWrites forces fsync after every save for maximum durability.
	SyncWrites bool
}

// Store is the badger-backed watermark repository. Safe for concurrent use.
type Store struct {
	db *badger.DB

	mu     sync.RWMutex
	closed bool
}

// Open creates or reopens the store at the configured path.
func Open(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path)
	opts.SyncWrites = cfg.SyncWrites
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, connector.NewStorageError("open watermark store", err)
	}

	logging.Info().
		Str("path", cfg.Path).
		Bool("sync_writes", cfg.SyncWrites).
		Msg("watermark store opened")
	return &Store{db: db}, nil
}

// escapePart makes a key component free of the separator so the composite
// key splits back into exactly three parts.
func escapePart(s string) string {
	s = strings.ReplaceAll(s, "%", "%25")
	return strings.ReplaceAll(s, keySep, "%3A")
}

func unescapePart(s string) string {
	s = strings.ReplaceAll(s, "%3A", keySep)
	return strings.ReplaceAll(s, "%25", "%")
}

// key builds the composite row key.
func key(sourceID, scanModeID, itemID string) []byte {
	return []byte(keyPrefix + escapePart(sourceID) + keySep + escapePart(scanModeID) + keySep + escapePart(itemID))
}

// Get returns the stored watermark, or ok=false when none exists.
func (s *Store) Get(ctx context.Context, sourceID, scanModeID, itemID string) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return time.Time{}, false, ErrClosed
	}

	var instant time.Time
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(sourceID, scanModeID, itemID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			parsed, err := time.Parse(time.RFC3339Nano, string(val))
			if err != nil {
				return fmt.Errorf("parse stored watermark: %w", err)
			}
			instant = parsed
			found = true
			return nil
		})
	})
	if err != nil {
		return time.Time{}, false, connector.NewStorageError("read watermark", err)
	}
	return instant, found, nil
}

// Save upserts the watermark for the key, keeping the stored value
// monotonically non-decreasing. An instant at or before the stored value
// is ignored without error. Save is called only after the corresponding
// batch has been durably enqueued, never before.
func (s *Store) Save(ctx context.Context, sourceID, scanModeID, itemID string, instant time.Time) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	k := key(sourceID, scanModeID, itemID)
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(k)
		if err == nil {
			var regressed bool
			err = item.Value(func(val []byte) error {
				stored, parseErr := time.Parse(time.RFC3339Nano, string(val))
				if parseErr == nil && !instant.After(stored) {
					regressed = true
				}
				return nil
			})
			if err != nil {
				return err
			}
			if regressed {
				return nil
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(k, []byte(instant.UTC().Format(time.RFC3339Nano)))
	})
	if err != nil {
		return connector.NewStorageError("save watermark", err)
	}
	return nil
}

// DeleteBySource purges every watermark belonging to a South connector.
// Called when the connector is removed so a later re-add with the same id
// starts collection from scratch.
func (s *Store) DeleteBySource(ctx context.Context, sourceID string) error {
	return s.deleteMatching(ctx, func(source, scanMode, item string) bool {
		return source == sourceID
	})
}

// DeleteByScanMode purges every watermark bound to a scan mode.
func (s *Store) DeleteByScanMode(ctx context.Context, scanModeID string) error {
	return s.deleteMatching(ctx, func(source, scanMode, item string) bool {
		return scanMode == scanModeID
	})
}

// DeleteByItem purges the watermarks of one item on one South connector.
func (s *Store) DeleteByItem(ctx context.Context, sourceID, itemID string) error {
	return s.deleteMatching(ctx, func(source, scanMode, item string) bool {
		return source == sourceID && item == itemID
	})
}

// deleteMatching scans all watermark rows and deletes those whose key
// components match. Runs in one transaction; the row count per gateway is
// small (one per configured item).
func (s *Store) deleteMatching(ctx context.Context, match func(source, scanMode, item string) bool) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(keyPrefix)
		var doomed [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			k := it.Item().KeyCopy(nil)
			parts := strings.SplitN(strings.TrimPrefix(string(k), keyPrefix), keySep, 3)
			if len(parts) != 3 {
				continue
			}
			if match(unescapePart(parts[0]), unescapePart(parts[1]), unescapePart(parts[2])) {
				doomed = append(doomed, k)
			}
		}
		for _, k := range doomed {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return connector.NewStorageError("delete watermarks", err)
	}
	return nil
}

// Close shuts the store down.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
