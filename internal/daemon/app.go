// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/pvrd/internal/guidesync"
	xglog "github.com/ManuGH/pvrd/internal/log"
)

const leaseJanitorInterval = time.Minute

// Run starts the engine, the scheduler and the HTTP server, and blocks
// until ctx is cancelled or the server fails. Shutdown hooks have run when
// it returns.
func (a *App) Run(ctx context.Context) error {
	a.mu.Lock()
	if a.runCtx != nil {
		a.mu.Unlock()
		return ErrAppRunning
	}
	a.runCtx = ctx
	a.mu.Unlock()

	a.logger.Info().
		Str(xglog.FieldEvent, "daemon.start").
		Str("version", a.cfg.Version).
		Str("listen", a.cfg.HTTP.ListenAddr).
		Msg("starting pvrd")

	if err := a.scheduler.Start(ctx); err != nil {
		return errors.Join(err, a.manager.Shutdown(context.WithoutCancel(ctx)))
	}
	a.holder.OnReload(a.applyReload)
	if err := a.holder.StartWatcher(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("config watcher unavailable, changes need a restart")
	} else {
		a.manager.RegisterShutdownHook("config-watcher", func(context.Context) error {
			a.holder.Stop()
			return nil
		})
	}
	if a.engine != nil {
		a.startEngine(ctx)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.manager.Start(gctx)
	})
	if a.janitor != nil {
		g.Go(func() error {
			a.runJanitor(gctx)
			return nil
		})
	}
	err := g.Wait()
	a.logger.Info().Str(xglog.FieldEvent, "daemon.stop").Msg("pvrd stopped")
	return err
}

// startEngine starts the guide sync engine. A missing physical tuner
// channel is not fatal: the engine starts with the next channel import.
func (a *App) startEngine(ctx context.Context) {
	a.engineMu.Lock()
	defer a.engineMu.Unlock()
	err := a.engine.Start(ctx)
	switch {
	case err == nil, errors.Is(err, guidesync.ErrAlreadyRunning):
	case errors.Is(err, guidesync.ErrNoPhysicalChannels):
		a.logger.Warn().
			Str(xglog.FieldEvent, "guide.waiting_for_channels").
			Msg("no physical tuner channels yet, guide sync waits for a channel import")
	default:
		a.logger.Error().Err(err).Str(xglog.FieldEvent, "guide.start_failed").Msg("guide sync engine did not start")
	}
}

func (a *App) runContext() context.Context {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runCtx == nil {
		return context.Background()
	}
	return a.runCtx
}

func (a *App) runJanitor(ctx context.Context) {
	t := time.NewTicker(leaseJanitorInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := a.janitor(ctx)
			if err != nil {
				if ctx.Err() == nil {
					a.logger.Warn().Err(err).Msg("lease cleanup failed")
				}
				continue
			}
			if n > 0 {
				a.logger.Debug().Int("count", n).Msg("expired leases removed")
			}
		}
	}
}

// Close releases everything Build opened. Use it when Run is never called.
func (a *App) Close(ctx context.Context) error {
	return a.manager.Shutdown(ctx)
}
