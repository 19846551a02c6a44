// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across pvrd.
const (
	// Guide sync attributes
	GuidePassKindKey    = "guide.pass.kind"
	GuidePassIDKey      = "guide.pass.id"
	GuideLineupKey      = "guide.lineup_id"
	GuideChannelKey     = "guide.channel_id"
	GuideOutcomeKey     = "guide.outcome"
	GuideInsertsKey     = "guide.edits.insert"
	GuideUpdatesKey     = "guide.edits.update"
	GuideDeletesKey     = "guide.edits.delete"
	GuideFetchedKey     = "guide.programs.fetched"
	GuideBatchFailedKey = "guide.batch_failed"

	// Recording attributes
	RecordingIDKey      = "recording.id"
	RecordingChannelKey = "recording.channel_id"
	RecordingInputKey   = "recording.input_id"
	RecordingStateKey   = "recording.state"

	// Guide source attributes
	SourceEndpointKey = "guide_source.endpoint"

	// Error attributes
	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// PassAttributes creates guide pass span attributes.
func PassAttributes(kind, passID, lineupID string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(GuidePassKindKey, kind),
		attribute.String(GuidePassIDKey, passID),
	}
	if lineupID != "" {
		attrs = append(attrs, attribute.String(GuideLineupKey, lineupID))
	}
	return attrs
}

// CommitAttributes creates per-channel commit span attributes.
func CommitAttributes(channelID int64, fetched, inserts, updates, deletes int, batchFailed bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int64(GuideChannelKey, channelID),
		attribute.Int(GuideFetchedKey, fetched),
		attribute.Int(GuideInsertsKey, inserts),
		attribute.Int(GuideUpdatesKey, updates),
		attribute.Int(GuideDeletesKey, deletes),
		attribute.Bool(GuideBatchFailedKey, batchFailed),
	}
}

// RecordingAttributes creates recording task span attributes.
func RecordingAttributes(id, channelID int64, inputID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int64(RecordingIDKey, id),
		attribute.Int64(RecordingChannelKey, channelID),
		attribute.String(RecordingInputKey, inputID),
	}
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
