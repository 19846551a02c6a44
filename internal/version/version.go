// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package version carries the build identity set through -ldflags.
package version

import "fmt"

var (
	// Version is the release version, e.g. "v1.4.0".
	Version = "dev"

	// Commit is the git short hash of the build.
	Commit = "unknown"

	// Date is the build timestamp.
	Date = "unknown"
)

// String formats the build identity for humans.
func String() string {
	return fmt.Sprintf("pvrd %s (commit: %s, built: %s)", Version, Commit, Date)
}
