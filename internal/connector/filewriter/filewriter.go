// Fluxgate - On-Premises Data Acquisition Gateway
// Copyright 2026 Fluxgate Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fluxgate/fluxgate

// Package filewriter is the reference North connector: it writes delivered
// Content into a target directory. Values batches become JSON files, raw
// files are copied under their content id.
package filewriter

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/fluxgate/fluxgate/internal/config"
	"github.com/fluxgate/fluxgate/internal/connector"
	"github.com/fluxgate/fluxgate/internal/content"
	"github.com/fluxgate/fluxgate/internal/logging"
)

// Type is the registry name of this connector.
const Type = "file-writer"

// Writer ships Content into a local directory.
type Writer struct {
	id  string
	dir string
	log zerolog.Logger
}

// New builds a Writer from connector settings. Settings: "dir" (required).
func New(cfg config.NorthConfig) (connector.North, error) {
	dir := cfg.Settings["dir"]
	if dir == "" {
		return nil, fmt.Errorf("file writer %q: missing dir setting", cfg.ID)
	}
	return &Writer{
		id:  cfg.ID,
		dir: dir,
		log: logging.With().Str("component", "file-writer").Str("north", cfg.ID).Logger(),
	}, nil
}

// Connect ensures the target directory exists.
func (w *Writer) Connect(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o750); err != nil {
		return connector.NewDeliveryError("create target directory", err)
	}
	return nil
}

// Disconnect is a no-op for a local directory.
func (w *Writer) Disconnect(ctx context.Context) error {
	return nil
}

// Deliver writes one Content item. Filesystem errors are transient (the
// directory may be a network mount that comes back); payloads that cannot
// be serialized are permanent.
func (w *Writer) Deliver(ctx context.Context, c *content.Content) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	switch c.Kind {
	case content.KindValues:
		data, err := json.Marshal(c.Values)
		if err != nil {
			return connector.NewPermanentDeliveryError("marshal values batch", err)
		}
		target := filepath.Join(w.dir, c.ID+".json")
		if err := os.WriteFile(target, data, 0o640); err != nil {
			return connector.NewDeliveryError("write values file", err)
		}
	case content.KindRawFile:
		target := filepath.Join(w.dir, c.ID+"_"+filepath.Base(c.FilePath))
		if err := copyFile(c.FilePath, target); err != nil {
			if os.IsNotExist(err) {
				// The staged payload is gone; retrying cannot succeed.
				return connector.NewPermanentDeliveryError("payload file missing", err)
			}
			return connector.NewDeliveryError("copy raw file", err)
		}
	default:
		return connector.NewPermanentDeliveryError(fmt.Sprintf("unsupported content kind %q", c.Kind), nil)
	}

	w.log.Debug().Str("content_id", c.ID).Msg("content written")
	return nil
}

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
	return out.Close()
}
