// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ManuGH/pvrd/internal/domain/model"
	xglog "github.com/ManuGH/pvrd/internal/log"
)

// A channel scan result can hold thousands of entries.
const maxChannelBodyBytes = 4 << 20

func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := s.deps.Channels.Channels(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if channels == nil {
		channels = []model.Channel{}
	}
	writeJSON(w, r, http.StatusOK, channels)
}

// handleImportChannels replaces the channel snapshot with the body, the
// result of an external channel scan.
func (s *Server) handleImportChannels(w http.ResponseWriter, r *http.Request) {
	var channels []model.Channel
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChannelBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&channels); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	seen := make(map[int64]struct{}, len(channels))
	for _, ch := range channels {
		if ch.ID <= 0 {
			writeError(w, r, http.StatusBadRequest, "invalid_channel", fmt.Sprintf("channel id %d must be positive", ch.ID))
			return
		}
		if _, dup := seen[ch.ID]; dup {
			writeError(w, r, http.StatusBadRequest, "invalid_channel", fmt.Sprintf("duplicate channel id %d", ch.ID))
			return
		}
		seen[ch.ID] = struct{}{}
	}

	if err := s.deps.ImportChannels(r.Context(), channels); err != nil {
		s.internalError(w, r, err)
		return
	}
	logger := xglog.WithComponentFromContext(r.Context(), "api")
	logger.Info().
		Str(xglog.FieldEvent, "channels.imported").
		Int("count", len(channels)).
		Int("physical", len(model.PhysicalTunerChannels(channels))).
		Msg("channel snapshot replaced")
	writeJSON(w, r, http.StatusOK, map[string]int{"imported": len(channels)})
}
