// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package sqlite is the SQLite-backed data store.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/pvrd/internal/domain/model"
	"github.com/ManuGH/pvrd/internal/domain/ports"
	xglog "github.com/ManuGH/pvrd/internal/log"
	sqlitedb "github.com/ManuGH/pvrd/internal/persistence/sqlite"
	"github.com/ManuGH/pvrd/internal/platform/clock"
	"github.com/ManuGH/pvrd/internal/store"
)

var _ ports.DataStore = (*Store)(nil)

// Store implements the data store ports on one SQLite database.
type Store struct {
	DB    *sql.DB
	clock clock.Clock

	listeners store.Listeners
}

// Open opens or creates the database at dbPath and migrates its schema.
func Open(ctx context.Context, dbPath string, clk clock.Clock) (*Store, error) {
	return OpenWithConfig(ctx, dbPath, clk, sqlitedb.DefaultConfig())
}

// OpenWithConfig is Open with explicit connection settings.
func OpenWithConfig(ctx context.Context, dbPath string, clk clock.Clock, cfg sqlitedb.Config) (*Store, error) {
	db, err := sqlitedb.Open(dbPath, cfg)
	if err != nil {
		return nil, err
	}
	version, err := sqlitedb.Migrate(ctx, db, migrations)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("data store: migration failed: %w", err)
	}
	if clk == nil {
		clk = clock.Real{}
	}
	logger := xglog.WithComponent("store")
	logger.Debug().Str("path", dbPath).Int("schema_version", version).Msg("sqlite store opened")
	return &Store{DB: db, clock: clk}, nil
}

func (s *Store) Close() error {
	return s.DB.Close()
}

// Ping checks that the database answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}

// AddRecordingListener registers l for recording events.
func (s *Store) AddRecordingListener(l ports.RecordingListener) {
	s.listeners.Add(l)
}

func toMillis(t time.Time) int64    { return t.UnixMilli() }
func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func (s *Store) Channels(ctx context.Context) ([]model.Channel, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id, input_id, display_number, display_name, uri, physical_tuner, browsable FROM channels ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query channels: %w", err)
	}
	defer rows.Close()

	var out []model.Channel
	for rows.Next() {
		var c model.Channel
		if err := rows.Scan(&c.ID, &c.InputID, &c.DisplayNumber, &c.DisplayName, &c.URI, &c.PhysicalTuner, &c.Browsable); err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) ReplaceChannels(ctx context.Context, channels []model.Channel) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM channels`); err != nil {
		return fmt.Errorf("clear channels: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO channels (id, input_id, display_number, display_name, uri, physical_tuner, browsable) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, c := range channels {
		if _, err := stmt.ExecContext(ctx, c.ID, c.InputID, c.DisplayNumber, c.DisplayName, c.URI, c.PhysicalTuner, c.Browsable); err != nil {
			return fmt.Errorf("insert channel %d: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

const programColumns = `id, channel_id, title, episode_title, season_number, episode_number, description, long_description, poster_art_uri, thumbnail_uri, start_ms, end_ms, genres, content_ratings, provider_data`

func (s *Store) ProgramsForChannel(ctx context.Context, channelID int64, from, to time.Time) ([]model.Program, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+programColumns+` FROM programs WHERE channel_id = ? AND end_ms > ? AND start_ms < ? ORDER BY start_ms, id`,
		channelID, toMillis(from), toMillis(to))
	if err != nil {
		return nil, fmt.Errorf("query programs: %w", err)
	}
	defer rows.Close()

	var out []model.Program
	for rows.Next() {
		p, err := scanProgram(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanProgram(rows *sql.Rows) (model.Program, error) {
	var (
		p                      model.Program
		startMs, endMs         int64
		genres, contentRatings string
	)
	err := rows.Scan(&p.ID, &p.ChannelID, &p.Title, &p.EpisodeTitle, &p.SeasonNumber, &p.EpisodeNumber,
		&p.Description, &p.LongDescription, &p.PosterArtURI, &p.ThumbnailURI,
		&startMs, &endMs, &genres, &contentRatings, &p.ProviderData)
	if err != nil {
		return model.Program{}, fmt.Errorf("scan program: %w", err)
	}
	p.Start = fromMillis(startMs)
	p.End = fromMillis(endMs)
	if err := json.Unmarshal([]byte(genres), &p.Genres); err != nil {
		return model.Program{}, fmt.Errorf("program %d genres: %w", p.ID, err)
	}
	if err := json.Unmarshal([]byte(contentRatings), &p.ContentRatings); err != nil {
		return model.Program{}, fmt.Errorf("program %d content ratings: %w", p.ID, err)
	}
	return p, nil
}

func programArgs(p model.Program) ([]any, error) {
	genres, err := json.Marshal(nonNil(p.Genres))
	if err != nil {
		return nil, err
	}
	ratings, err := json.Marshal(nonNil(p.ContentRatings))
	if err != nil {
		return nil, err
	}
	return []any{p.ChannelID, p.Title, p.EpisodeTitle, p.SeasonNumber, p.EpisodeNumber,
		p.Description, p.LongDescription, p.PosterArtURI, p.ThumbnailURI,
		toMillis(p.Start), toMillis(p.End), string(genres), string(ratings), p.ProviderData}, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// ApplyProgramBatch runs ops in one transaction. On failure nothing is applied.
func (s *Store) ApplyProgramBatch(ctx context.Context, ops []model.ProgramOp) error {
	if len(ops) == 0 {
		return nil
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return &model.BatchError{Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	for i, op := range ops {
		if err := applyOp(ctx, tx, op); err != nil {
			return &model.BatchError{Err: fmt.Errorf("op %d: %w", i, err)}
		}
	}
	if err := tx.Commit(); err != nil {
		return &model.BatchError{Err: err}
	}
	return nil
}

func applyOp(ctx context.Context, tx *sql.Tx, op model.ProgramOp) error {
	var (
		res sql.Result
		err error
	)
	switch op.Kind {
	case model.OpInsert:
		args, aerr := programArgs(op.Program)
		if aerr != nil {
			return aerr
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO programs (channel_id, title, episode_title, season_number, episode_number, description, long_description, poster_art_uri, thumbnail_uri, start_ms, end_ms, genres, content_ratings, provider_data) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
		return err
	case model.OpUpdate:
		args, aerr := programArgs(op.Program)
		if aerr != nil {
			return aerr
		}
		res, err = tx.ExecContext(ctx, `UPDATE programs SET channel_id = ?, title = ?, episode_title = ?, season_number = ?, episode_number = ?, description = ?, long_description = ?, poster_art_uri = ?, thumbnail_uri = ?, start_ms = ?, end_ms = ?, genres = ?, content_ratings = ?, provider_data = ? WHERE id = ?`, append(args, op.ID)...)
	case model.OpDelete:
		res, err = tx.ExecContext(ctx, `DELETE FROM programs WHERE id = ?`, op.ID)
	default:
		return fmt.Errorf("unknown kind %q", op.Kind)
	}
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s of unknown program %d: %w", op.Kind, op.ID, ports.ErrNotFound)
	}
	return nil
}

const recordingColumns = `id, channel_id, input_id, display_number, display_name, channel_uri, physical_tuner, browsable, type, start_ms, end_ms, priority, state, media_uri, failure_reason`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecording(row rowScanner) (model.Recording, error) {
	var (
		r              model.Recording
		startMs, endMs int64
	)
	err := row.Scan(&r.ID, &r.ChannelID, &r.Channel.InputID, &r.Channel.DisplayNumber, &r.Channel.DisplayName,
		&r.Channel.URI, &r.Channel.PhysicalTuner, &r.Channel.Browsable, &r.Type, &startMs, &endMs,
		&r.Priority, &r.State, &r.MediaURI, &r.FailureReason)
	if err != nil {
		return model.Recording{}, err
	}
	r.Channel.ID = r.ChannelID
	r.Start = fromMillis(startMs)
	r.End = fromMillis(endMs)
	return r, nil
}

// queryRecordings runs a recording query and attaches program ids.
func (s *Store) queryRecordings(ctx context.Context, where string, args ...any) ([]model.Recording, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+recordingColumns+` FROM recordings `+where+` ORDER BY start_ms, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("query recordings: %w", err)
	}
	var out []model.Recording
	for rows.Next() {
		r, err := scanRecording(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan recording: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range out {
		ids, err := s.programIDs(ctx, s.DB, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].ProgramIDs = ids
	}
	return out, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) programIDs(ctx context.Context, q querier, recordingID int64) ([]int64, error) {
	rows, err := q.QueryContext(ctx, `SELECT program_id FROM recording_programs WHERE recording_id = ? ORDER BY position`, recordingID)
	if err != nil {
		return nil, fmt.Errorf("query recording programs: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func writeProgramIDs(ctx context.Context, tx *sql.Tx, recordingID int64, ids []int64) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM recording_programs WHERE recording_id = ?`, recordingID); err != nil {
		return err
	}
	for i, id := range ids {
		if _, err := tx.ExecContext(ctx, `INSERT INTO recording_programs (recording_id, position, program_id) VALUES (?, ?, ?)`, recordingID, i, id); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Recordings(ctx context.Context) ([]model.Recording, error) {
	return s.queryRecordings(ctx, "")
}

func (s *Store) Recording(ctx context.Context, id int64) (model.Recording, error) {
	recs, err := s.queryRecordings(ctx, "WHERE id = ?", id)
	if err != nil {
		return model.Recording{}, err
	}
	if len(recs) == 0 {
		return model.Recording{}, fmt.Errorf("recording %d: %w", id, ports.ErrNotFound)
	}
	return recs[0], nil
}

func (s *Store) AddRecording(ctx context.Context, r model.Recording) (model.Recording, error) {
	r = store.NormalizeNew(r)
	if err := r.Validate(); err != nil {
		return model.Recording{}, err
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return model.Recording{}, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `INSERT INTO recordings (channel_id, input_id, display_number, display_name, channel_uri, physical_tuner, browsable, type, start_ms, end_ms, priority, state, media_uri, failure_reason) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ChannelID, r.Channel.InputID, r.Channel.DisplayNumber, r.Channel.DisplayName, r.Channel.URI,
		r.Channel.PhysicalTuner, r.Channel.Browsable, r.Type, toMillis(r.Start), toMillis(r.End),
		r.Priority, r.State, r.MediaURI, r.FailureReason)
	if err != nil {
		return model.Recording{}, fmt.Errorf("insert recording: %w", err)
	}
	if r.ID, err = res.LastInsertId(); err != nil {
		return model.Recording{}, err
	}
	if err := writeProgramIDs(ctx, tx, r.ID, r.ProgramIDs); err != nil {
		return model.Recording{}, fmt.Errorf("insert recording programs: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return model.Recording{}, err
	}

	s.listeners.Added(r)
	return r, nil
}

func (s *Store) UpdateRecording(ctx context.Context, r model.Recording) error {
	if err := r.Validate(); err != nil {
		return err
	}
	r.Start = r.Start.UTC()
	r.End = r.End.UTC()

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var cur model.RecordingState
	err = tx.QueryRowContext(ctx, `SELECT state FROM recordings WHERE id = ?`, r.ID).Scan(&cur)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("recording %d: %w", r.ID, ports.ErrNotFound)
	}
	if err != nil {
		return err
	}
	if cur != r.State {
		if err := model.CheckTransition(cur, r.State); err != nil {
			return fmt.Errorf("recording %d: %w", r.ID, err)
		}
	}

	_, err = tx.ExecContext(ctx, `UPDATE recordings SET channel_id = ?, input_id = ?, display_number = ?, display_name = ?, channel_uri = ?, physical_tuner = ?, browsable = ?, type = ?, start_ms = ?, end_ms = ?, priority = ?, state = ?, media_uri = ?, failure_reason = ? WHERE id = ?`,
		r.ChannelID, r.Channel.InputID, r.Channel.DisplayNumber, r.Channel.DisplayName, r.Channel.URI,
		r.Channel.PhysicalTuner, r.Channel.Browsable, r.Type, toMillis(r.Start), toMillis(r.End),
		r.Priority, r.State, r.MediaURI, r.FailureReason, r.ID)
	if err != nil {
		return fmt.Errorf("update recording %d: %w", r.ID, err)
	}
	if err := writeProgramIDs(ctx, tx, r.ID, r.ProgramIDs); err != nil {
		return fmt.Errorf("update recording programs: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	s.listeners.Changed(r)
	return nil
}

func (s *Store) DeleteRecording(ctx context.Context, id int64) error {
	r, err := s.Recording(ctx, id)
	if err != nil {
		return err
	}
	res, err := s.DB.ExecContext(ctx, `DELETE FROM recordings WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete recording %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("recording %d: %w", id, ports.ErrNotFound)
	}

	s.listeners.Removed(r)
	return nil
}

func (s *Store) NextScheduledStartAfter(ctx context.Context, t time.Time) (time.Time, bool, error) {
	var ms sql.NullInt64
	err := s.DB.QueryRowContext(ctx, `SELECT MIN(start_ms) FROM recordings WHERE state = ? AND start_ms >= ?`,
		model.RecordingNotStarted, toMillis(t)).Scan(&ms)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("next scheduled start: %w", err)
	}
	if !ms.Valid {
		return time.Time{}, false, nil
	}
	return fromMillis(ms.Int64), true, nil
}

func (s *Store) RecordingsOverlapping(ctx context.Context, from, to time.Time) ([]model.Recording, error) {
	return s.queryRecordings(ctx, "WHERE start_ms < ? AND end_ms > ?", toMillis(to), toMillis(from))
}
