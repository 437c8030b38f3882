// Fluxgate - On-Premises Data Acquisition Gateway
// Copyright 2026 Fluxgate Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fluxgate/fluxgate

package engine

import (
	"fmt"
	"sync"

	"github.com/fluxgate/fluxgate/internal/config"
	"github.com/fluxgate/fluxgate/internal/connector"
)

// SouthFactory builds a South connector from its configuration. The
// producer is the queue router that fans the connector's Content out to
// its subscribed North queues.
type SouthFactory func(cfg config.SouthConfig, producer connector.Producer) (connector.South, error)

// NorthFactory builds a North connector from its configuration.
type NorthFactory func(cfg config.NorthConfig) (connector.North, error)

var (
	registryMu     sync.RWMutex
	southFactories = make(map[string]SouthFactory)
	northFactories = make(map[string]NorthFactory)
)

// RegisterSouth makes a South connector type available to the engine.
// Called from main before engine construction.
func RegisterSouth(typeName string, factory SouthFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	southFactories[typeName] = factory
}

// RegisterNorth makes a North connector type available to the engine.
func RegisterNorth(typeName string, factory NorthFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	northFactories[typeName] = factory
}

func southFactory(typeName string) (SouthFactory, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := southFactories[typeName]
	if !ok {
		return nil, fmt.Errorf("unknown south connector type %q", typeName)
	}
	return f, nil
}

func northFactory(typeName string) (NorthFactory, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := northFactories[typeName]
	if !ok {
		return nil, fmt.Errorf("unknown north connector type %q", typeName)
	}
	return f, nil
}
