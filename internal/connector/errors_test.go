// Fluxgate - On-Premises Data Acquisition Gateway
// Copyright 2026 Fluxgate Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fluxgate/fluxgate

package connector

import (
	"errors"
	"fmt"
	"testing"
)

func TestDeliveryErrorClassification(t *testing.T) {
	cause := errors.New("connection refused")

	tests := []struct {
		name      string
		err       error
		permanent bool
	}{
		{"transient", NewDeliveryError("send failed", cause), false},
		{"permanent", NewPermanentDeliveryError("payload rejected", cause), true},
		{"wrapped transient", fmt.Errorf("attempt 3: %w", NewDeliveryError("send failed", cause)), false},
		{"wrapped permanent", fmt.Errorf("attempt 1: %w", NewPermanentDeliveryError("payload rejected", nil)), true},
		{"unrelated", cause, false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsPermanentDelivery(tt.err); got != tt.permanent {
				t.Fatalf("IsPermanentDelivery: got %v, want %v", got, tt.permanent)
			}
		})
	}
}

func TestDeliveryErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewDeliveryError("send failed", cause)

	if !errors.Is(err, cause) {
		t.Fatal("cause must be reachable through Unwrap")
	}
	if got := err.Error(); got != "send failed: connection refused" {
		t.Fatalf("Error(): %q", got)
	}
	if got := NewDeliveryError("send failed", nil).Error(); got != "send failed" {
		t.Fatalf("Error() without cause: %q", got)
	}
}

func TestStorageErrorClassification(t *testing.T) {
	cause := errors.New("no space left on device")
	err := NewStorageError("commit entry metadata", cause)

	if !IsStorage(err) {
		t.Fatal("IsStorage must match a StorageError")
	}
	if !IsStorage(fmt.Errorf("queue: %w", err)) {
		t.Fatal("IsStorage must match through wrapping")
	}
	if IsStorage(cause) {
		t.Fatal("IsStorage must not match a plain error")
	}
	if !errors.Is(err, cause) {
		t.Fatal("cause must be reachable through Unwrap")
	}
	if IsStorage(NewDeliveryError("send failed", nil)) {
		t.Fatal("delivery errors are not storage errors")
	}
}
