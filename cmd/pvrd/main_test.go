// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/pvrd/internal/domain/model"
	"github.com/ManuGH/pvrd/internal/guidesync"
	"github.com/ManuGH/pvrd/internal/platform/clock"
	"github.com/ManuGH/pvrd/internal/store/sqlite"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmdWith(&rootOptions{logOutput: io.Discard})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// isolate points the loader at a fresh data directory.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("PVR_DATA_DIR", dir)
	t.Setenv("PVR_LOG_LEVEL", "error")
	t.Setenv("PVR_LEASE_BACKEND", "memory")
	return dir
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "pvrd "), out)
}

func TestDBVerify(t *testing.T) {
	dir := isolate(t)
	st, err := sqlite.Open(context.Background(), filepath.Join(dir, "pvrd.db"), clock.Real{})
	require.NoError(t, err)
	require.NoError(t, st.Close())

	out, err := execute(t, "db", "verify")
	require.NoError(t, err)
	assert.Contains(t, out, "ok (quick check)")

	out, err = execute(t, "db", "verify", "--full")
	require.NoError(t, err)
	assert.Contains(t, out, "ok (full check)")
}

func TestDBVerify_ReportsCorruption(t *testing.T) {
	dir := isolate(t)
	garbage := bytes.Repeat([]byte("not sqlite "), 1024)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pvrd.db"), garbage, 0o644))

	_, err := execute(t, "db", "verify")
	assert.ErrorContains(t, err, "integrity check failed")
}

func TestDBVerify_MemoryStore(t *testing.T) {
	isolate(t)
	t.Setenv("PVR_STORE_BACKEND", "memory")
	_, err := execute(t, "db", "verify")
	assert.ErrorContains(t, err, "no database file")
}

func TestSyncCmd_RequiresGuide(t *testing.T) {
	isolate(t)
	t.Setenv("PVR_STORE_BACKEND", "memory")
	_, err := execute(t, "sync")
	assert.ErrorIs(t, err, errGuideDisabled)
}

func TestSyncCmd_SourceUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/v1/status") {
			_, _ = io.WriteString(w, `{"available":false}`)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	isolate(t)
	t.Setenv("PVR_STORE_BACKEND", "memory")
	t.Setenv("PVR_GUIDE_URL", srv.URL)

	out, err := execute(t, "sync", "--fast")
	require.NoError(t, err)
	assert.Contains(t, out, `"kind": "`+string(guidesync.KindFast)+`"`)
}

func TestLineupCmd(t *testing.T) {
	lineups := []model.Lineup{{ID: "DE-BER-1", Name: "Berlin Cable"}, {ID: "DE-BER-2", Name: "Berlin Antenna"}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/v1/lineups"):
			assert.Equal(t, "10115", r.URL.Query().Get("postal_code"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `[{"id":"DE-BER-1","name":"Berlin Cable"},{"id":"DE-BER-2","name":"Berlin Antenna"}]`)
		default:
			_, _ = io.WriteString(w, `[]`)
		}
	}))
	defer srv.Close()

	isolate(t)
	t.Setenv("PVR_STORE_BACKEND", "memory")
	t.Setenv("PVR_GUIDE_URL", srv.URL)

	out, err := execute(t, "lineup", "10115")
	require.NoError(t, err)
	for _, l := range lineups {
		assert.Contains(t, out, l.ID)
		assert.Contains(t, out, l.Name)
	}
	assert.Contains(t, out, "selected: none")

	_, err = execute(t, "lineup")
	assert.Error(t, err, "postal code is required")
}

func TestRunCmd_StopsOnCancel(t *testing.T) {
	isolate(t)
	t.Setenv("PVR_STORE_BACKEND", "memory")
	t.Setenv("PVR_HTTP_LISTEN", "127.0.0.1:0")

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	cmd := newRootCmdWith(&rootOptions{logOutput: io.Discard})
	cmd.SetArgs([]string{"run"})
	cmd.SetOut(io.Discard)
	assert.NoError(t, cmd.ExecuteContext(ctx))
}
