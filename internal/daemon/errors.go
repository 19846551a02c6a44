// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import "errors"

var (
	// ErrMissingAPIHandler is returned when API handler is not provided
	ErrMissingAPIHandler = errors.New("API handler is required")

	// ErrManagerStarted is returned by a second Start or a Start after Shutdown.
	ErrManagerStarted = errors.New("manager already started")

	// ErrAppRunning is returned by a second Run.
	ErrAppRunning = errors.New("app already running")
)
