// Fluxgate - On-Premises Data Acquisition Gateway
// Copyright 2026 Fluxgate Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fluxgate/fluxgate

// Package supervisor builds the suture service tree that runs the engine's
// long-lived loops. The tree has three layers for failure isolation:
// storage (watermark janitors, archive sweeper), acquisition (scan-mode
// scheduler), and delivery (one service per North connector). A crash in
// one delivery loop restarts only that loop.
package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

// TreeConfig holds supervisor tree configuration.
type TreeConfig struct {
	// FailureThreshold is the number of failures before entering backoff.
	FailureThreshold float64

	// FailureDecay is the rate at which failures decay, in seconds.
	FailureDecay float64

	// FailureBackoff is the wait when the threshold is exceeded.
	FailureBackoff time.Duration

	// ShutdownTimeout bounds graceful shutdown per service.
	ShutdownTimeout time.Duration
}

// DefaultTreeConfig returns suture's own defaults.
func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5.0,
		FailureDecay:     30.0,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// Tree is the gateway's supervisor hierarchy.
type Tree struct {
	root        *suture.Supervisor
	storage     *suture.Supervisor
	acquisition *suture.Supervisor
	delivery    *suture.Supervisor
}

// NewTree creates the supervisor tree. The slog logger should be the
// zerolog-backed one from logging.NewSlogLogger.
func NewTree(logger *slog.Logger, cfg TreeConfig) *Tree {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5.0
	}
	if cfg.FailureDecay == 0 {
		cfg.FailureDecay = 30.0
	}
	if cfg.FailureBackoff == 0 {
		cfg.FailureBackoff = 15 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	handler := &sutureslog.Handler{Logger: logger}
	rootSpec := suture.Spec{
		EventHook:        handler.MustHook(),
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	}
	childSpec := suture.Spec{
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	}

	root := suture.New("fluxgate", rootSpec)
	storage := suture.New("storage-layer", childSpec)
	acquisition := suture.New("acquisition-layer", childSpec)
	delivery := suture.New("delivery-layer", childSpec)

	root.Add(storage)
	root.Add(acquisition)
	root.Add(delivery)

	return &Tree{
		root:        root,
		storage:     storage,
		acquisition: acquisition,
		delivery:    delivery,
	}
}

// AddStorageService adds a service to the storage layer.
func (t *Tree) AddStorageService(svc suture.Service) suture.ServiceToken {
	return t.storage.Add(svc)
}

// AddAcquisitionService adds a service to the acquisition layer.
func (t *Tree) AddAcquisitionService(svc suture.Service) suture.ServiceToken {
	return t.acquisition.Add(svc)
}

// AddDeliveryService adds a service to the delivery layer.
func (t *Tree) AddDeliveryService(svc suture.Service) suture.ServiceToken {
	return t.delivery.Add(svc)
}

// RemoveDeliveryService stops and removes one delivery service.
func (t *Tree) RemoveDeliveryService(token suture.ServiceToken) error {
	return t.delivery.Remove(token)
}

// Serve runs the tree until the context is canceled.
func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

// ServeBackground starts the tree and returns its error channel.
func (t *Tree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}
