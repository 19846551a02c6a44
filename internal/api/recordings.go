// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/pvrd/internal/domain/model"
	"github.com/ManuGH/pvrd/internal/domain/ports"
	xglog "github.com/ManuGH/pvrd/internal/log"
)

const maxBodyBytes = 64 << 10

type createRecordingRequest struct {
	ChannelID  int64     `json:"channel_id"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Priority   int64     `json:"priority"`
	ProgramIDs []int64   `json:"program_ids,omitempty"`
}

func (s *Server) handleListRecordings(w http.ResponseWriter, r *http.Request) {
	var filter model.RecordingState
	if v := r.URL.Query().Get("state"); v != "" {
		filter = model.RecordingState(v)
		if !filter.Valid() {
			writeError(w, r, http.StatusBadRequest, "invalid_state", fmt.Sprintf("unknown state %q", v))
			return
		}
	}

	recs, err := s.deps.Recordings.Recordings(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	out := make([]model.Recording, 0, len(recs))
	for _, rec := range recs {
		if filter == "" || rec.State == filter {
			out = append(out, rec)
		}
	}
	writeJSON(w, r, http.StatusOK, out)
}

func (s *Server) handleGetRecording(w http.ResponseWriter, r *http.Request) {
	id, ok := recordingID(w, r)
	if !ok {
		return
	}
	rec, err := s.deps.Recordings.Recording(r.Context(), id)
	switch {
	case errors.Is(err, ports.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not_found", err.Error())
	case err != nil:
		s.internalError(w, r, err)
	default:
		writeJSON(w, r, http.StatusOK, rec)
	}
}

func (s *Server) handleCreateRecording(w http.ResponseWriter, r *http.Request) {
	var req createRecordingRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if !req.End.After(s.deps.Clock.Now()) {
		writeError(w, r, http.StatusBadRequest, "invalid_recording", "recording has already ended")
		return
	}

	channels, err := s.deps.Channels.Channels(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	ch, found := findChannel(channels, req.ChannelID)
	if !found {
		writeError(w, r, http.StatusBadRequest, "unknown_channel", fmt.Sprintf("channel %d not found", req.ChannelID))
		return
	}

	rec := model.Recording{
		ChannelID:  ch.ID,
		Channel:    ch,
		Type:       model.RecordingTimed,
		ProgramIDs: req.ProgramIDs,
		Start:      req.Start,
		End:        req.End,
		Priority:   req.Priority,
	}
	if len(req.ProgramIDs) > 0 {
		rec.Type = model.RecordingProgram
	}

	added, err := s.deps.Recordings.AddRecording(r.Context(), rec)
	switch {
	case errors.Is(err, model.ErrInvalidRecording):
		writeError(w, r, http.StatusBadRequest, "invalid_recording", err.Error())
		return
	case err != nil:
		s.internalError(w, r, err)
		return
	}
	logger := xglog.WithComponentFromContext(r.Context(), "api")
	logger.Info().
		Str(xglog.FieldEvent, "recording.scheduled").
		Int64(xglog.FieldRecordingID, added.ID).
		Int64(xglog.FieldChannelID, added.ChannelID).
		Time("start", added.Start).
		Msg("recording scheduled")
	writeJSON(w, r, http.StatusCreated, added)
}

func (s *Server) handleDeleteRecording(w http.ResponseWriter, r *http.Request) {
	id, ok := recordingID(w, r)
	if !ok {
		return
	}
	err := s.deps.Recordings.DeleteRecording(r.Context(), id)
	switch {
	case errors.Is(err, ports.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not_found", err.Error())
	case err != nil:
		s.internalError(w, r, err)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleSchedulerTasks(w http.ResponseWriter, r *http.Request) {
	tasks := []int64{}
	if s.deps.Scheduler != nil {
		if t := s.deps.Scheduler.Tasks(); t != nil {
			tasks = t
		}
	}
	writeJSON(w, r, http.StatusOK, map[string][]int64{"tasks": tasks})
}

func recordingID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, http.StatusBadRequest, "invalid_id", "recording id must be a positive integer")
		return 0, false
	}
	return id, true
}

func findChannel(channels []model.Channel, id int64) (model.Channel, bool) {
	for _, ch := range channels {
		if ch.ID == id {
			return ch, true
		}
	}
	return model.Channel{}, false
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	logger := xglog.WithComponentFromContext(r.Context(), "api")
	logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	writeError(w, r, http.StatusInternalServerError, "internal", "")
}
