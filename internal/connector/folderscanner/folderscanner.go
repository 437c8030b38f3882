// Fluxgate - On-Premises Data Acquisition Gateway
// Copyright 2026 Fluxgate Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fluxgate/fluxgate

// Package folderscanner is the reference South connector: it watches a
// directory and produces raw-file Content for files appearing in it. Live
// polls pick up files created or modified since the last poll; historical
// polls page through older files by modification time, one file per batch.
package folderscanner

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/fluxgate/fluxgate/internal/config"
	"github.com/fluxgate/fluxgate/internal/connector"
	"github.com/fluxgate/fluxgate/internal/content"
	"github.com/fluxgate/fluxgate/internal/logging"
)

// Type is the registry name of this connector.
const Type = "folder-scanner"

// Scanner produces raw-file Content from a watched directory.
type Scanner struct {
	id       string
	dir      string
	pattern  string
	producer connector.Producer
	log      zerolog.Logger

	mu       sync.Mutex
	sent     map[string]time.Time // path -> mod time last enqueued
	histSent map[string]time.Time // path -> mod time last paged historically
	watcher  *fsnotify.Watcher
	done     chan struct{}
}

// New builds a Scanner from connector settings. Settings: "dir" (required)
// and "pattern" (glob matched against base names, default "*").
func New(cfg config.SouthConfig, producer connector.Producer) (connector.South, error) {
	dir := cfg.Settings["dir"]
	if dir == "" {
		return nil, connector.NewStorageError("folder scanner setup", os.ErrNotExist)
	}
	pattern := cfg.Settings["pattern"]
	if pattern == "" {
		pattern = "*"
	}
	return &Scanner{
		id:       cfg.ID,
		dir:      dir,
		pattern:  pattern,
		producer: producer,
		sent:     make(map[string]time.Time),
		histSent: make(map[string]time.Time),
		log:      logging.With().Str("component", "folder-scanner").Str("south", cfg.ID).Logger(),
	}, nil
}

// Connect starts the directory watcher. The watcher is an optimization
// only: a lost event is recovered by the next full scan, so watch errors
// are logged rather than failing the connector.
func (s *Scanner) Connect(ctx context.Context) error {
	if _, err := os.Stat(s.dir); err != nil {
		return connector.NewStorageError("folder scanner connect", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.log.Warn().Err(err).Msg("fsnotify unavailable, relying on scan ticks only")
		return nil
	}
	if err := watcher.Add(s.dir); err != nil {
		s.log.Warn().Err(err).Msg("failed to watch directory")
		watcher.Close()
		return nil
	}

	s.mu.Lock()
	s.watcher = watcher
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.watch(watcher, s.done)
	return nil
}

// Disconnect stops the watcher.
func (s *Scanner) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	watcher := s.watcher
	done := s.done
	s.watcher = nil
	s.mu.Unlock()

	if watcher != nil {
		watcher.Close()
		<-done
	}
	return nil
}

// watch drains watcher events. Seen paths are only logged; the actual
// pickup happens on the next poll so that enqueue stays on the scheduler's
// serialized path.
func (s *Scanner) watch(watcher *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Write) {
				s.log.Debug().Str("file", event.Name).Msg("file change observed")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.log.Warn().Err(err).Msg("watcher error")
		}
	}
}

// Poll scans the directory once and enqueues every matching file that is
// new or modified since its last enqueue. A cache-full rejection pauses
// the batch; the remaining files are picked up on the next tick.
func (s *Scanner) Poll(ctx context.Context, scanModeID string, items []connector.Item) error {
	files, err := s.list()
	if err != nil {
		return err
	}

	for _, f := range files {
		s.mu.Lock()
		last, seen := s.sent[f.path]
		s.mu.Unlock()
		if seen && !f.modTime.After(last) {
			continue
		}

		c, err := content.NewRawFile(s.id, f.path)
		if err != nil {
			s.log.Warn().Err(err).Str("file", f.path).Msg("skipping unreadable file")
			continue
		}
		if err := s.producer.Enqueue(ctx, c); err != nil {
			return err
		}

		s.mu.Lock()
		s.sent[f.path] = f.modTime
		s.mu.Unlock()
	}
	return nil
}

// PollHistorical returns the oldest matching file not yet paged, one file
// per page, so extraction resumes where the watermark left off. The mod
// time alone is not a total order: several files can share one instant,
// and a strictly-after cursor would skip all but the first of them. Paths
// already paged at the cursor instant are remembered and the remaining
// ones are still served. The memory does not survive a restart, so a file
// at the watermark instant may be paged again; downstream delivery is
// at-least-once and absorbs the duplicate.
func (s *Scanner) PollHistorical(ctx context.Context, item connector.Item, since time.Time) (connector.HistoricalBatch, error) {
	files, err := s.list()
	if err != nil {
		return connector.HistoricalBatch{}, err
	}

	s.mu.Lock()
	var newer []fileInfo
	for _, f := range files {
		if f.modTime.After(since) || (f.modTime.Equal(since) && !s.histSent[f.path].Equal(f.modTime)) {
			newer = append(newer, f)
		}
	}
	s.mu.Unlock()
	if len(newer) == 0 {
		return connector.HistoricalBatch{}, nil
	}
	sort.Slice(newer, func(i, j int) bool {
		if !newer[i].modTime.Equal(newer[j].modTime) {
			return newer[i].modTime.Before(newer[j].modTime)
		}
		return newer[i].path < newer[j].path
	})

	c, err := content.NewRawFile(s.id, newer[0].path)
	if err != nil {
		return connector.HistoricalBatch{}, err
	}

	s.mu.Lock()
	s.histSent[newer[0].path] = newer[0].modTime
	for p, mt := range s.histSent {
		if mt.Before(since) {
			delete(s.histSent, p)
		}
	}
	s.mu.Unlock()

	return connector.HistoricalBatch{
		Content:    c,
		MaxInstant: newer[0].modTime,
		HasMore:    len(newer) > 1,
	}, nil
}

type fileInfo struct {
	path    string
	modTime time.Time
}

func (s *Scanner) list() ([]fileInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, connector.NewStorageError("scan folder", err)
	}

	var files []fileInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if ok, _ := filepath.Match(s.pattern, e.Name()); !ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, fileInfo{
			path:    filepath.Join(s.dir, e.Name()),
			modTime: info.ModTime().UTC(),
		})
	}
	return files, nil
}
