// Fluxgate - On-Premises Data Acquisition Gateway
// Copyright 2026 Fluxgate Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fluxgate/fluxgate

package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Validate checks struct tags and the cross-entity rules the tags cannot
// express: id uniqueness, scan-mode and subscription references, and
// schedule well-formedness.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}

	scanModes := make(map[string]bool, len(cfg.ScanModes))
	for _, sm := range cfg.ScanModes {
		if scanModes[sm.ID] {
			return fmt.Errorf("duplicate scan mode id %q", sm.ID)
		}
		scanModes[sm.ID] = true

		if (sm.Cron == "") == (sm.Interval == 0) {
			return fmt.Errorf("scan mode %q: exactly one of cron or interval must be set", sm.ID)
		}
		if sm.Cron != "" {
			if _, err := cronParser.Parse(sm.Cron); err != nil {
				return fmt.Errorf("scan mode %q: invalid cron expression: %w", sm.ID, err)
			}
		}
	}

	souths := make(map[string]bool, len(cfg.Souths))
	for _, s := range cfg.Souths {
		if souths[s.ID] {
			return fmt.Errorf("duplicate south connector id %q", s.ID)
		}
		souths[s.ID] = true

		itemIDs := make(map[string]bool, len(s.Items))
		for _, item := range s.Items {
			if itemIDs[item.ID] {
				return fmt.Errorf("south %q: duplicate item id %q", s.ID, item.ID)
			}
			itemIDs[item.ID] = true
			if !scanModes[item.ScanModeID] {
				return fmt.Errorf("south %q item %q: unknown scan mode %q", s.ID, item.ID, item.ScanModeID)
			}
		}
	}

	norths := make(map[string]bool, len(cfg.Norths))
	for _, n := range cfg.Norths {
		if norths[n.ID] {
			return fmt.Errorf("duplicate north connector id %q", n.ID)
		}
		norths[n.ID] = true

		for _, sub := range n.Subscriptions {
			if !souths[sub] {
				return fmt.Errorf("north %q: subscription to unknown south %q", n.ID, sub)
			}
		}
	}

	return nil
}
