// Fluxgate - On-Premises Data Acquisition Gateway
// Copyright 2026 Fluxgate Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fluxgate/fluxgate

package supervisor

import (
	"context"
	"fmt"

	"github.com/thejerf/suture/v4"
)

// StartStopper is the lifecycle shape shared by the engine's loops.
//
// Satisfied by *delivery.Loop, *scheduler.Scheduler, and *sweeper.Sweeper.
type StartStopper interface {
	Start(ctx context.Context) error
	Stop()
}

// FatalReporter is implemented by loops that can stop on an unrecoverable
// storage failure. A non-nil FatalErr tells the supervisor not to restart.
type FatalReporter interface {
	FatalErr() error
}

// DoneReporter is implemented by loops whose goroutine can exit on its
// own, letting the service observe the exit instead of blocking until
// shutdown.
type DoneReporter interface {
	Done() <-chan struct{}
}

// Service adapts a Start/Stop loop to suture's Serve contract: start the
// loop, block until cancellation or loop exit, stop, and report.
type Service struct {
	name string
	loop StartStopper
}

// NewService wraps a loop as a supervised service.
func NewService(name string, loop StartStopper) *Service {
	return &Service{name: name, loop: loop}
}

// Serve implements suture.Service.
func (s *Service) Serve(ctx context.Context) error {
	if err := s.loop.Start(ctx); err != nil {
		return fmt.Errorf("%s start: %w", s.name, err)
	}

	var done <-chan struct{}
	if dr, ok := s.loop.(DoneReporter); ok {
		done = dr.Done()
	}
	select {
	case <-ctx.Done():
	case <-done:
	}
	s.loop.Stop()

	if fr, ok := s.loop.(FatalReporter); ok {
		if err := fr.FatalErr(); err != nil {
			// Storage failures are fatal to the connector: surface to
			// the operator through the supervisor log, do not restart.
			return fmt.Errorf("%s: %w: %w", s.name, err, suture.ErrDoNotRestart)
		}
	}
	return ctx.Err()
}

// String implements fmt.Stringer for supervisor logging.
func (s *Service) String() string {
	return s.name
}
