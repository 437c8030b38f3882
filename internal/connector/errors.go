// Fluxgate - On-Premises Data Acquisition Gateway
// Copyright 2026 Fluxgate Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fluxgate/fluxgate

package connector

import (
	"errors"
	"fmt"
)

// ErrCacheFull is returned by Producer.Enqueue when admitting the item
// would exceed the configured maximum pending size. Recoverable: the
// producer backs off until delivery frees space.
var ErrCacheFull = errors.New("cache full: pending area at maximum size")

// ErrStopped is returned when an operation is attempted on a stopped
// connector or queue.
var ErrStopped = errors.New("connector stopped")

// DeliveryError is returned by North.Deliver. Transient errors are retried
// per the backoff policy up to the retry budget; permanent errors (for
// example a payload the destination rejects as malformed) skip retries and
// demote the entry straight to the errored area.
type DeliveryError struct {
	Message   string
	Cause     error
	Permanent bool
}

func (e *DeliveryError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *DeliveryError) Unwrap() error { return e.Cause }

// NewDeliveryError creates a transient delivery error.
func NewDeliveryError(message string, cause error) *DeliveryError {
	return &DeliveryError{Message: message, Cause: cause}
}

// NewPermanentDeliveryError creates a delivery error that must not be
// retried.
func NewPermanentDeliveryError(message string, cause error) *DeliveryError {
	return &DeliveryError{Message: message, Cause: cause, Permanent: true}
}

// IsPermanentDelivery reports whether err is a permanent DeliveryError.
func IsPermanentDelivery(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de) && de.Permanent
}

// StorageError wraps a disk I/O failure on the queue or the watermark
// store. Fatal to the affected connector: its tasks stop and the failure
// is surfaced to the operator, but the rest of the process keeps running.
type StorageError struct {
	Op    string
	Cause error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Cause)
}

func (e *StorageError) Unwrap() error { return e.Cause }

// NewStorageError wraps a fatal storage failure.
func NewStorageError(op string, cause error) *StorageError {
	return &StorageError{Op: op, Cause: cause}
}

// IsStorage reports whether err is a StorageError.
func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
