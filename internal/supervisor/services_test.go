// Fluxgate - On-Premises Data Acquisition Gateway
// Copyright 2026 Fluxgate Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fluxgate/fluxgate

package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"
)

// fakeLoop is a scriptable StartStopper. Setting fatal and closing done
// simulates a loop that dies on a storage failure.
type fakeLoop struct {
	mu       sync.Mutex
	started  bool
	stopped  bool
	startErr error
	fatal    error
	done     chan struct{}
}

func newFakeLoop() *fakeLoop {
	return &fakeLoop{done: make(chan struct{})}
}

func (f *fakeLoop) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started = true
	return nil
}

func (f *fakeLoop) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeLoop) Done() <-chan struct{} { return f.done }

func (f *fakeLoop) FatalErr() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fatal
}

func (f *fakeLoop) isStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

func TestServeStopsOnCancel(t *testing.T) {
	loop := newFakeLoop()
	svc := NewService("delivery-north-1", loop)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx) }()

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Serve: got %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}
	if !loop.isStopped() {
		t.Fatal("loop must be stopped on the way out")
	}
}

func TestServeStartFailure(t *testing.T) {
	loop := newFakeLoop()
	loop.startErr = errors.New("connect refused")
	svc := NewService("delivery-north-1", loop)

	err := svc.Serve(context.Background())
	if err == nil || !errors.Is(err, loop.startErr) {
		t.Fatalf("Serve: got %v, want the start error", err)
	}
	if loop.isStopped() {
		t.Fatal("a loop that never started must not be stopped")
	}
}

// TestServeFatalExit simulates a loop dying on a storage failure: the
// service observes the self-exit and reports ErrDoNotRestart so the
// supervisor leaves the connector down.
func TestServeFatalExit(t *testing.T) {
	loop := newFakeLoop()
	svc := NewService("delivery-north-1", loop)

	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(context.Background()) }()

	storageErr := errors.New("no space left on device")
	loop.mu.Lock()
	loop.fatal = storageErr
	loop.mu.Unlock()
	close(loop.done)

	select {
	case err := <-errCh:
		if !errors.Is(err, suture.ErrDoNotRestart) {
			t.Fatalf("Serve: got %v, want ErrDoNotRestart", err)
		}
		if !errors.Is(err, storageErr) {
			t.Fatalf("Serve must carry the cause, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not observe the loop exit")
	}
}

func TestServeCleanSelfExit(t *testing.T) {
	loop := newFakeLoop()
	svc := NewService("scheduler", loop)

	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(context.Background()) }()

	close(loop.done)
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("clean exit must return nil, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not observe the loop exit")
	}
}

func TestServiceString(t *testing.T) {
	svc := NewService("delivery-north-1", newFakeLoop())
	if got := svc.String(); got != "delivery-north-1" {
		t.Fatalf("String: %q", got)
	}
}
