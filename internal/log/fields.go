// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRecordingID = "recording_id"
	FieldChannelID   = "channel_id"
	FieldProgramID   = "program_id"
	FieldLineupID    = "lineup_id"
	FieldInputID     = "input_id"
	FieldPassID      = "pass_id"
	FieldLeaseKey    = "lease_key"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldKind      = "kind"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"
	FieldReason   = "reason"

	// Timing fields
	FieldWakeAt  = "wake_at"
	FieldRetryIn = "retry_in"
)
