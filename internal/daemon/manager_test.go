// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "ok")
	})
}

func newTestManager(t *testing.T, addr string) *Manager {
	t.Helper()
	m, err := NewManager(ServerConfig{ListenAddr: addr, ShutdownTimeout: 2 * time.Second}, okHandler(), zerolog.Nop())
	require.NoError(t, err)
	return m
}

func waitForAddr(t *testing.T, m *Manager) string {
	t.Helper()
	require.Eventually(t, func() bool { return m.Addr() != nil }, 5*time.Second, 10*time.Millisecond)
	return m.Addr().String()
}

func TestNewManager_RequiresHandler(t *testing.T) {
	_, err := NewManager(ServerConfig{}, nil, zerolog.Nop())
	assert.ErrorIs(t, err, ErrMissingAPIHandler)
}

func TestManager_ServesUntilCancelled(t *testing.T) {
	m := newTestManager(t, "127.0.0.1:0")

	var mu sync.Mutex
	var order []string
	hook := func(name string) ShutdownHook {
		return func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			return nil
		}
	}
	m.RegisterShutdownHook("store", hook("store"))
	m.RegisterShutdownHook("scheduler", hook("scheduler"))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- m.Start(ctx) }()

	addr := waitForAddr(t, m)
	resp, err := http.Get("http://" + addr + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, "ok", string(body))

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("manager did not stop")
	}
	assert.Equal(t, []string{"scheduler", "store"}, order)

	assert.ErrorIs(t, m.Start(context.Background()), ErrManagerStarted)
	assert.NoError(t, m.Shutdown(context.Background()), "second shutdown is a no-op")
}

func TestManager_ListenFailureRunsHooks(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	m := newTestManager(t, ln.Addr().String())
	ran := false
	m.RegisterShutdownHook("store", func(context.Context) error {
		ran = true
		return nil
	})

	err = m.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen")
	assert.True(t, ran)
}

func TestManager_ShutdownCollectsHookErrors(t *testing.T) {
	m := newTestManager(t, "127.0.0.1:0")
	boom := errors.New("boom")
	later := false
	m.RegisterShutdownHook("later", func(context.Context) error {
		later = true
		return nil
	})
	m.RegisterShutdownHook("failing", func(context.Context) error { return boom })

	err := m.Shutdown(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "hook failing")
	assert.True(t, later, "a failing hook does not stop the others")
}
