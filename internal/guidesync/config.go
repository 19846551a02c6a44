// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package guidesync

import (
	"fmt"
	"time"
)

// Config tunes the engine. Zero fields take the defaults of DefaultConfig.
type Config struct {
	// RecurringPeriod is the interval between full syncs.
	RecurringPeriod time.Duration
	// SourceUnavailableWait is the retry delay while the source is down.
	SourceUnavailableWait time.Duration
	// LocationDeniedWait is the retry delay when location lookup is refused.
	LocationDeniedWait time.Duration
	// BackoffBase is the first wait of the resolution and empty-result backoffs.
	BackoffBase time.Duration
	// BatchSize bounds the edits written per store batch.
	BatchSize int
	// ProgramQueryDuration is how far ahead stored programs are diffed.
	ProgramQueryDuration time.Duration
	// FastShortWindow and FastLongWindow are the fast fetch slices. The long
	// window is extended by RecurringPeriod.
	FastShortWindow time.Duration
	FastLongWindow  time.Duration
}

// DefaultConfig returns the production timings.
func DefaultConfig() Config {
	return Config{
		RecurringPeriod:       4 * time.Hour,
		SourceUnavailableWait: time.Minute,
		LocationDeniedWait:    time.Hour,
		BackoffBase:           10 * time.Second,
		BatchSize:             100,
		ProgramQueryDuration:  30 * 24 * time.Hour,
		FastShortWindow:       3 * time.Hour,
		FastLongWindow:        48 * time.Hour,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.RecurringPeriod <= 0 {
		c.RecurringPeriod = d.RecurringPeriod
	}
	if c.SourceUnavailableWait <= 0 {
		c.SourceUnavailableWait = d.SourceUnavailableWait
	}
	if c.LocationDeniedWait <= 0 {
		c.LocationDeniedWait = d.LocationDeniedWait
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = d.BackoffBase
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.ProgramQueryDuration <= 0 {
		c.ProgramQueryDuration = d.ProgramQueryDuration
	}
	if c.FastShortWindow <= 0 {
		c.FastShortWindow = d.FastShortWindow
	}
	if c.FastLongWindow <= 0 {
		c.FastLongWindow = d.FastLongWindow
	}
	return c
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	if c.BackoffBase*2 >= c.RecurringPeriod {
		return fmt.Errorf("backoff base %s leaves no retry within recurring period %s", c.BackoffBase, c.RecurringPeriod)
	}
	return nil
}
