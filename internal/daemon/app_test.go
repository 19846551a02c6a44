// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/pvrd/internal/config"
	"github.com/ManuGH/pvrd/internal/store/sqlite"
)

func testConfig(t *testing.T) config.AppConfig {
	t.Helper()
	cfg := config.Default()
	cfg.Version = "test"
	cfg.LogLevel = "error"
	cfg.DataDir = t.TempDir()
	cfg.Store.Backend = config.StoreMemory
	cfg.Sessions.LeaseBackend = config.LeaseMemory
	cfg.HTTP.ListenAddr = "127.0.0.1:0"
	cfg.HTTP.RateLimit = 0
	cfg.HTTP.ShutdownTimeout = 2 * time.Second
	return cfg
}

func build(t *testing.T, cfg config.AppConfig) *App {
	t.Helper()
	app, err := Build(context.Background(), cfg, Options{LogOutput: io.Discard, SkipTelemetry: true})
	require.NoError(t, err)
	return app
}

// runApp runs app in the background and returns its base URL and a stop
// function that waits for Run to return.
func runApp(t *testing.T, app *App) (string, func() error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- app.Run(ctx) }()
	addr := waitForAddr(t, app.Manager())
	return "http://" + addr, func() error {
		cancel()
		select {
		case err := <-errCh:
			return err
		case <-time.After(5 * time.Second):
			t.Fatal("app did not stop")
			return nil
		}
	}
}

func request(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestBuild_RejectsBadBackends(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Backend = "postgres"
	_, err := Build(context.Background(), cfg, Options{LogOutput: io.Discard, SkipTelemetry: true})
	assert.ErrorContains(t, err, "unknown store backend")

	cfg = testConfig(t)
	cfg.Sessions.LeaseBackend = config.LeaseSQLite
	_, err = Build(context.Background(), cfg, Options{LogOutput: io.Discard, SkipTelemetry: true})
	assert.ErrorContains(t, err, "require the sqlite store")

	cfg = testConfig(t)
	cfg.Guide.BaseURL = "ftp://guide.invalid"
	_, err = Build(context.Background(), cfg, Options{LogOutput: io.Discard, SkipTelemetry: true})
	assert.ErrorContains(t, err, "guide source")
}

func TestApp_RunWithoutGuide(t *testing.T) {
	app := build(t, testConfig(t))
	assert.Nil(t, app.Engine())

	base, stop := runApp(t, app)

	assert.Equal(t, http.StatusOK, request(t, http.MethodGet, base+"/healthz", "").StatusCode)
	assert.Equal(t, http.StatusNotFound, request(t, http.MethodGet, base+"/api/guide/status", "").StatusCode)

	resp := request(t, http.MethodPut, base+"/api/channels", `[{"id":1,"input_id":"tuner0","display_number":"2","physical_tuner":true}]`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	start := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	end := time.Now().Add(2 * time.Hour).UTC().Format(time.RFC3339)
	resp = request(t, http.MethodPost, base+"/api/recordings", `{"channel_id":1,"start":"`+start+`","end":"`+end+`"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	recs, err := app.Store().Recordings(context.Background())
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	require.NoError(t, stop())
	assert.ErrorIs(t, app.Run(context.Background()), ErrAppRunning)
}

func TestApp_ChannelImportStartsGuideEngine(t *testing.T) {
	guide := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer guide.Close()

	cfg := testConfig(t)
	cfg.Guide.BaseURL = guide.URL
	cfg.Guide.PostalCode = "10115"
	app := build(t, cfg)
	require.NotNil(t, app.Engine())

	base, stop := runApp(t, app)
	assert.False(t, app.Engine().Status().Running, "no physical channel yet")

	resp := request(t, http.MethodPut, base+"/api/channels", `[{"id":1,"input_id":"tuner0","display_number":"2","physical_tuner":true}]`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, app.Engine().Status().Running)

	resp = request(t, http.MethodGet, base+"/api/guide/status", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, stop())
	assert.False(t, app.Engine().Status().Running)
}

func TestApp_SQLiteStoreAndLeases(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Backend = config.StoreSQLite
	cfg.Sessions.LeaseBackend = config.LeaseSQLite
	app := build(t, cfg)
	_, ok := app.Store().(*sqlite.Store)
	require.True(t, ok)
	require.NotNil(t, app.janitor)

	n, err := app.janitor(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, app.Close(context.Background()))
	assert.FileExists(t, cfg.StorePath())
}

func TestApp_RedisLeases(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Sessions.LeaseBackend = config.LeaseRedis
	cfg.Sessions.Redis.Addr = mr.Addr()
	app := build(t, cfg)
	require.NoError(t, app.Close(context.Background()))

	mr.Close()
	_, err := Build(context.Background(), cfg, Options{LogOutput: io.Discard, SkipTelemetry: true})
	assert.ErrorContains(t, err, "lease registry")
}

func TestApp_ConfigFileReload(t *testing.T) {
	guide := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer guide.Close()

	dir := t.TempDir()
	path := filepath.Join(dir, "pvrd.yaml")
	body := func(postal string) []byte {
		return []byte(`dataDir: ` + dir + `
logLevel: error
store:
  backend: memory
sessions:
  leaseBackend: memory
http:
  listenAddr: 127.0.0.1:0
  rateLimit: 0
guide:
  baseUrl: ` + guide.URL + `
  postalCode: "` + postal + `"
`)
	}
	require.NoError(t, os.WriteFile(path, body("10115"), 0o600))
	cfg, err := config.NewLoader(path, "test").Load()
	require.NoError(t, err)

	app, err := Build(context.Background(), cfg, Options{LogOutput: io.Discard, SkipTelemetry: true, ConfigPath: path})
	require.NoError(t, err)
	locator := configPostalCode{app.holder}

	_, stop := runApp(t, app)
	code, err := locator.PostalCode(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "10115", code)

	require.NoError(t, os.WriteFile(path, body("20095"), 0o600))
	require.Eventually(t, func() bool {
		code, _ := locator.PostalCode(context.Background())
		return code == "20095"
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, stop())
}
