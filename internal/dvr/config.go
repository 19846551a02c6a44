// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package dvr

import "time"

// Config holds the scheduler and task timings.
type Config struct {
	// WakeLead is how long before a recording start the alarm goes off.
	WakeLead time.Duration
	// SoonWindow is how far ahead of its start a recording gets its task.
	SoonWindow time.Duration
	// PostRecordGrace extends every recording past its end.
	PostRecordGrace time.Duration
	// ConnectTimeout bounds the wait for the session to report connected.
	ConnectTimeout time.Duration
}

// DefaultConfig returns the production timings.
func DefaultConfig() Config {
	return Config{
		WakeLead:        time.Minute,
		SoonWindow:      5 * time.Minute,
		PostRecordGrace: 5 * time.Second,
		ConnectTimeout:  30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.WakeLead <= 0 {
		c.WakeLead = d.WakeLead
	}
	if c.SoonWindow <= 0 {
		c.SoonWindow = d.SoonWindow
	}
	if c.PostRecordGrace < 0 {
		c.PostRecordGrace = d.PostRecordGrace
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	return c
}
