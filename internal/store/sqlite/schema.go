// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sqlite

// migrations are applied in order; index i moves user_version from i to i+1.
var migrations = []string{
	`
	CREATE TABLE channels (
		id INTEGER PRIMARY KEY,
		input_id TEXT NOT NULL,
		display_number TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		uri TEXT NOT NULL DEFAULT '',
		physical_tuner BOOLEAN NOT NULL DEFAULT 0,
		browsable BOOLEAN NOT NULL DEFAULT 0
	);

	CREATE TABLE programs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		channel_id INTEGER NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		episode_title TEXT NOT NULL DEFAULT '',
		season_number TEXT NOT NULL DEFAULT '',
		episode_number TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		long_description TEXT NOT NULL DEFAULT '',
		poster_art_uri TEXT NOT NULL DEFAULT '',
		thumbnail_uri TEXT NOT NULL DEFAULT '',
		start_ms INTEGER NOT NULL,
		end_ms INTEGER NOT NULL,
		genres TEXT NOT NULL DEFAULT '[]',
		content_ratings TEXT NOT NULL DEFAULT '[]',
		provider_data BLOB
	);
	CREATE INDEX idx_programs_channel_start ON programs(channel_id, start_ms);

	CREATE TABLE recordings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		channel_id INTEGER NOT NULL,
		input_id TEXT NOT NULL,
		display_number TEXT NOT NULL DEFAULT '',
		display_name TEXT NOT NULL DEFAULT '',
		channel_uri TEXT NOT NULL DEFAULT '',
		physical_tuner BOOLEAN NOT NULL DEFAULT 0,
		browsable BOOLEAN NOT NULL DEFAULT 0,
		type TEXT NOT NULL,
		start_ms INTEGER NOT NULL,
		end_ms INTEGER NOT NULL,
		priority INTEGER NOT NULL DEFAULT 0,
		state TEXT NOT NULL,
		media_uri TEXT NOT NULL DEFAULT '',
		failure_reason INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX idx_recordings_state_start ON recordings(state, start_ms);

	CREATE TABLE recording_programs (
		recording_id INTEGER NOT NULL REFERENCES recordings(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		program_id INTEGER NOT NULL,
		PRIMARY KEY (recording_id, position)
	);
	`,
	`
	CREATE TABLE leases (
		key TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		expires_ms INTEGER NOT NULL
	);
	`,
}
