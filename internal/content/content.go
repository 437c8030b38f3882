// Fluxgate - On-Premises Data Acquisition Gateway
// Copyright 2026 Fluxgate Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fluxgate/fluxgate

// Package content defines the unit of transfer moved from South connectors
// to North connectors: a batch of timestamped values or a reference to a
// raw file on disk.
package content

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Kind identifies the payload shape of a Content item.
type Kind string

const (
	// KindValues is an ordered batch of timestamped value records.
	KindValues Kind = "values"

	// KindRawFile is a reference to a file on disk.
	KindRawFile Kind = "raw-file"
)

// ErrEmptyPayload is returned when a Content carries no data.
var ErrEmptyPayload = errors.New("content payload is empty")

// Value is one timestamped value record produced by a South connector.
type Value struct {
	// PointID identifies the source item the value was read from.
	PointID string `json:"point_id"`

	// Timestamp is the source timestamp of the reading.
	Timestamp time.Time `json:"timestamp"`

	// Data is the reading itself, kept as raw JSON so the engine stays
	// agnostic to per-protocol value shapes.
	Data json.RawMessage `json:"data"`
}

// Content is the unit of transfer between connectors. It is created by a
// South connector callback and owned by the durable queue until terminal
// disposition (delivered, archived, or permanently errored).
type Content struct {
	// ID is unique and time-ordered within a connector (UUIDv7).
	ID string `json:"id"`

	// Kind is the payload shape: values or raw-file.
	Kind Kind `json:"kind"`

	// Values holds the payload for KindValues.
	Values []Value `json:"values,omitempty"`

	// FilePath references the payload file for KindRawFile.
	FilePath string `json:"file_path,omitempty"`

	// FileSize is the referenced file's size in bytes for KindRawFile.
	FileSize int64 `json:"file_size,omitempty"`

	// SourceID identifies the South connector that produced this item.
	SourceID string `json:"source_id"`

	CreatedAt time.Time `json:"created_at"`

	// RetryCount is the number of failed delivery attempts so far.
	RetryCount int `json:"retry_count"`
}

// NewID returns a fresh time-ordered content id. Ids are UUIDv7, so their
// lexicographic order is creation order.
func NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate content id: %w", err)
	}
	return id.String(), nil
}

// NewValues creates a values-kind Content from a South connector reading.
func NewValues(sourceID string, values []Value) (*Content, error) {
	if len(values) == 0 {
		return nil, ErrEmptyPayload
	}
	id, err := NewID()
	if err != nil {
		return nil, err
	}
	return &Content{
		ID:        id,
		Kind:      KindValues,
		Values:    values,
		SourceID:  sourceID,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// NewRawFile creates a raw-file-kind Content referencing a file on disk.
// The file must exist; its current size is recorded.
func NewRawFile(sourceID, path string) (*Content, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat payload file: %w", err)
	}
	if info.Size() == 0 {
		return nil, ErrEmptyPayload
	}
	id, err := NewID()
	if err != nil {
		return nil, err
	}
	return &Content{
		ID:        id,
		Kind:      KindRawFile,
		FilePath:  path,
		FileSize:  info.Size(),
		SourceID:  sourceID,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Size returns the payload size in bytes: the serialized values batch for
// KindValues, the referenced file size for KindRawFile.
func (c *Content) Size() int64 {
	switch c.Kind {
	case KindRawFile:
		return c.FileSize
	case KindValues:
		data, err := json.Marshal(c.Values)
		if err != nil {
			return 0
		}
		return int64(len(data))
	default:
		return 0
	}
}

// MaxTimestamp returns the newest value timestamp in a values batch.
// The zero time is returned for raw-file content and empty batches.
func (c *Content) MaxTimestamp() time.Time {
	var maxTS time.Time
	for _, v := range c.Values {
		if v.Timestamp.After(maxTS) {
			maxTS = v.Timestamp
		}
	}
	return maxTS
}
