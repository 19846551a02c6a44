// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func holderFixture(t *testing.T, body string) (*Holder, string) {
	t.Helper()
	path := writeConfig(t, "pvrd.yaml", body)
	loader := NewLoader(path, "test")
	initial, err := loader.Load()
	require.NoError(t, err)
	return NewHolder(initial, loader, path), path
}

func TestHolder_ReloadNotifiesListeners(t *testing.T) {
	dir := t.TempDir()
	h, path := holderFixture(t, "dataDir: "+dir+"\nlogLevel: info\n")
	assert.Equal(t, "info", h.Get().LogLevel)

	var got []string
	h.OnReload(func(old, updated AppConfig) { got = append(got, old.LogLevel+"->"+updated.LogLevel) })

	require.NoError(t, os.WriteFile(path, []byte("dataDir: "+dir+"\nlogLevel: debug\n"), 0o600))
	require.NoError(t, h.Reload(context.Background()))

	assert.Equal(t, "debug", h.Get().LogLevel)
	assert.Equal(t, []string{"info->debug"}, got)
}

func TestHolder_InvalidReloadKeepsCurrent(t *testing.T) {
	dir := t.TempDir()
	h, path := holderFixture(t, "dataDir: "+dir+"\nlogLevel: warn\n")
	called := false
	h.OnReload(func(AppConfig, AppConfig) { called = true })

	require.NoError(t, os.WriteFile(path, []byte("dataDir: "+dir+"\nlogLevel: loud\n"), 0o600))
	assert.Error(t, h.Reload(context.Background()))

	require.NoError(t, os.WriteFile(path, []byte("dataDir: "+dir+"\nnoSuchKey: 1\n"), 0o600))
	assert.ErrorIs(t, h.Reload(context.Background()), ErrUnknownConfigField)

	assert.Equal(t, "warn", h.Get().LogLevel)
	assert.False(t, called)
}

func TestHolder_WatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	h, path := holderFixture(t, "dataDir: "+dir+"\nguide:\n  postalCode: \"10115\"\n")

	var mu sync.Mutex
	var codes []string
	h.OnReload(func(_, updated AppConfig) {
		mu.Lock()
		defer mu.Unlock()
		codes = append(codes, updated.Guide.PostalCode)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, h.StartWatcher(ctx))
	defer h.Stop()

	require.NoError(t, os.WriteFile(path, []byte("dataDir: "+dir+"\nguide:\n  postalCode: \"20095\"\n"), 0o600))

	require.Eventually(t, func() bool { return h.Get().Guide.PostalCode == "20095" }, 5*time.Second, 20*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, codes, "20095")
}

func TestHolder_WatcherWithoutFile(t *testing.T) {
	h := NewHolder(Default(), NewLoader("", "test"), "")
	require.NoError(t, h.StartWatcher(context.Background()))
	h.Stop()
}
