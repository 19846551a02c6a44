// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/pvrd/internal/api"
	"github.com/ManuGH/pvrd/internal/config"
	"github.com/ManuGH/pvrd/internal/domain/model"
	"github.com/ManuGH/pvrd/internal/domain/ports"
	"github.com/ManuGH/pvrd/internal/dvr"
	"github.com/ManuGH/pvrd/internal/guidesource/httpsource"
	"github.com/ManuGH/pvrd/internal/guidesync"
	"github.com/ManuGH/pvrd/internal/lineup"
	xglog "github.com/ManuGH/pvrd/internal/log"
	sqlitedb "github.com/ManuGH/pvrd/internal/persistence/sqlite"
	"github.com/ManuGH/pvrd/internal/platform/clock"
	"github.com/ManuGH/pvrd/internal/session"
	"github.com/ManuGH/pvrd/internal/store/memory"
	"github.com/ManuGH/pvrd/internal/store/sqlite"
	"github.com/ManuGH/pvrd/internal/telemetry"
)

// dataStore is what the daemon needs from a store backend.
type dataStore interface {
	ports.DataStore
	AddRecordingListener(l ports.RecordingListener)
	Ping(ctx context.Context) error
	Close() error
}

// Options override the collaborators Build would otherwise create.
type Options struct {
	// Dialer reaches the tuner layer. Defaults to session.NullDialer.
	Dialer session.Dialer
	// Clock defaults to the wall clock.
	Clock clock.Clock
	// LogOutput defaults to stdout.
	LogOutput io.Writer
	// SkipTelemetry leaves the global tracer provider untouched.
	SkipTelemetry bool
	// ConfigPath is watched for live changes when set.
	ConfigPath string
}

// App is a fully wired daemon. Build creates it and Run drives it.
type App struct {
	cfg       config.AppConfig
	holder    *config.Holder
	logOutput io.Writer
	clock     clock.Clock
	logger    zerolog.Logger

	store     dataStore
	leases    session.LeaseRegistry
	pool      *session.Pool
	engine    *guidesync.Engine
	scheduler *dvr.Scheduler
	server    *api.Server
	manager   *Manager

	// janitor prunes expired leases when the backend keeps them.
	janitor func(ctx context.Context) (int, error)

	cleanup []namedHook

	mu     sync.Mutex
	runCtx context.Context

	engineMu sync.Mutex
}

// Build wires every component described by cfg. On error everything opened
// so far is closed again.
func Build(ctx context.Context, cfg config.AppConfig, opts Options) (app *App, err error) {
	xglog.Reconfigure(xglog.Config{
		Level:   cfg.LogLevel,
		Output:  opts.LogOutput,
		Service: cfg.LogService,
		Version: cfg.Version,
	})
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = session.NullDialer{}
	}

	a := &App{
		cfg:       cfg,
		holder:    config.NewHolder(cfg, config.NewLoader(opts.ConfigPath, cfg.Version), opts.ConfigPath),
		logOutput: opts.LogOutput,
		clock:     clk,
		logger:    xglog.WithComponent("daemon"),
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, a.closeAll(context.WithoutCancel(ctx)))
			app = nil
		}
	}()

	if !opts.SkipTelemetry {
		tp, err := telemetry.NewProvider(ctx, telemetry.Config{
			Enabled:        cfg.Telemetry.Enabled,
			ServiceName:    cfg.LogService,
			ServiceVersion: cfg.Version,
			Environment:    cfg.Telemetry.Environment,
			ExporterType:   cfg.Telemetry.ExporterType,
			Endpoint:       cfg.Telemetry.Endpoint,
			SamplingRate:   cfg.Telemetry.SamplingRate,
		})
		if err != nil {
			return nil, fmt.Errorf("init telemetry: %w", err)
		}
		a.onClose("telemetry", tp.Shutdown)
	}

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}
	if err := a.openLeases(ctx); err != nil {
		return nil, err
	}

	capabilities := make(map[string]session.Capability, len(cfg.Sessions.Inputs))
	for id, in := range cfg.Sessions.Inputs {
		capabilities[id] = session.Capability{MaxTuned: in.MaxTuned}
	}
	a.pool = session.NewPool(dialer, a.leases, clk, session.Config{
		LeaseTTL:     cfg.Sessions.LeaseTTL,
		Default:      session.Capability{MaxTuned: cfg.Sessions.MaxTuned},
		Capabilities: capabilities,
	})

	if err := a.buildGuide(); err != nil {
		return nil, err
	}

	a.scheduler, err = dvr.New(dvr.Deps{
		Store: a.store,
		Pool:  a.pool,
		Alarm: dvr.NewTimerAlarm(clk),
		Clock: clk,
	}, dvr.Config{
		WakeLead:        cfg.DVR.WakeLead,
		SoonWindow:      cfg.DVR.SoonWindow,
		PostRecordGrace: cfg.DVR.PostRecordGrace,
		ConnectTimeout:  cfg.DVR.ConnectTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("init scheduler: %w", err)
	}
	a.store.AddRecordingListener(a.scheduler)
	a.onClose("scheduler", func(context.Context) error {
		a.scheduler.Stop()
		return nil
	})

	deps := api.Deps{
		Recordings:     a.store,
		Channels:       a.store,
		Scheduler:      a.scheduler,
		Health:         a.store.Ping,
		ImportChannels: a.importChannels,
		Clock:          clk,
	}
	if a.engine != nil {
		deps.Guide = a.engine
	}
	a.server, err = api.New(deps, api.Config{
		RateLimit:      cfg.HTTP.RateLimit,
		TracingService: cfg.LogService,
		EnableLogging:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("init api: %w", err)
	}

	a.manager, err = NewManager(ServerConfig{
		ListenAddr:        cfg.HTTP.ListenAddr,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		ShutdownTimeout:   cfg.HTTP.ShutdownTimeout,
	}, a.server.Handler(), a.logger)
	if err != nil {
		return nil, err
	}
	// Hooks run LIFO, so the scheduler stops first and telemetry flushes last.
	for _, h := range a.cleanup {
		a.manager.RegisterShutdownHook(h.name, h.hook)
	}
	a.cleanup = nil

	a.logger.Info().
		Str(xglog.FieldEvent, "daemon.built").
		Str("store", cfg.Store.Backend).
		Str("leases", cfg.Sessions.LeaseBackend).
		Bool("guide", a.engine != nil).
		Msg("daemon wired")
	return a, nil
}

func (a *App) openStore(ctx context.Context) error {
	switch a.cfg.Store.Backend {
	case config.StoreMemory:
		a.store = memory.New()
	case config.StoreSQLite:
		st, err := sqlite.OpenWithConfig(ctx, a.cfg.StorePath(), a.clock, sqlitedb.Config{
			BusyTimeout: a.cfg.Store.BusyTimeout,
		})
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		a.store = st
	default:
		return fmt.Errorf("unknown store backend %q", a.cfg.Store.Backend)
	}
	a.onClose("store", func(context.Context) error { return a.store.Close() })
	return nil
}

func (a *App) openLeases(ctx context.Context) error {
	switch a.cfg.Sessions.LeaseBackend {
	case config.LeaseMemory:
		a.leases = session.NewMemoryLeases(a.clock)
	case config.LeaseSQLite:
		st, ok := a.store.(*sqlite.Store)
		if !ok {
			return errors.New("sqlite leases require the sqlite store")
		}
		a.leases = st
		a.janitor = st.DeleteExpiredLeases
	case config.LeaseRedis:
		r := a.cfg.Sessions.Redis
		rl, err := session.NewRedisLeases(ctx, session.RedisConfig{
			Addr:     r.Addr,
			Password: r.Password,
			DB:       r.DB,
			Prefix:   r.Prefix,
		})
		if err != nil {
			return fmt.Errorf("connect lease registry: %w", err)
		}
		a.leases = rl
		a.onClose("leases", func(context.Context) error { return rl.Close() })
	default:
		return fmt.Errorf("unknown lease backend %q", a.cfg.Sessions.LeaseBackend)
	}
	return nil
}

// buildGuide creates the sync engine. Without a guide URL the daemon runs
// recordings only.
func (a *App) buildGuide() error {
	g := a.cfg.Guide
	if g.BaseURL == "" {
		a.logger.Warn().Str(xglog.FieldEvent, "guide.disabled").Msg("no guide URL configured, guide sync disabled")
		return nil
	}
	src, err := httpsource.New(httpsource.Config{
		BaseURL:          g.BaseURL,
		Timeout:          g.Timeout,
		RatePerSecond:    g.RatePerSecond,
		Burst:            g.Burst,
		BreakerThreshold: g.BreakerThreshold,
		BreakerReset:     g.BreakerReset,
		UserAgent:        "pvrd/" + a.cfg.Version,
	}, a.clock)
	if err != nil {
		return fmt.Errorf("init guide source: %w", err)
	}
	a.engine, err = guidesync.New(guidesync.Deps{
		Source:   src,
		Programs: a.store,
		Channels: a.store,
		Locator:  configPostalCode{a.holder},
		Selector: lineup.NewSelector(src, a.store),
		State:    guidesync.NewFileState(a.cfg.GuideStatePath()),
		Clock:    a.clock,
	}, guidesync.Config{
		RecurringPeriod:       g.RecurringPeriod,
		SourceUnavailableWait: g.SourceUnavailableWait,
		LocationDeniedWait:    g.LocationDeniedWait,
		BackoffBase:           g.BackoffBase,
		BatchSize:             g.BatchSize,
	})
	if err != nil {
		return fmt.Errorf("init guide sync: %w", err)
	}
	a.onClose("guide", func(context.Context) error {
		a.engine.Stop()
		return nil
	})
	return nil
}

// importChannels swaps the channel snapshot while the engine is paused and
// starts the engine if this was the first physical tuner channel.
func (a *App) importChannels(ctx context.Context, channels []model.Channel) error {
	if a.engine == nil {
		return a.store.ReplaceChannels(ctx, channels)
	}
	a.engine.OnChannelScanStarted()
	err := a.store.ReplaceChannels(ctx, channels)
	a.engine.OnChannelScanFinished()
	if err != nil {
		return err
	}
	if !a.engine.Status().Running {
		a.startEngine(a.runContext())
	}
	return nil
}

// configPostalCode reads the postal code from the live configuration.
type configPostalCode struct{ h *config.Holder }

func (c configPostalCode) PostalCode(context.Context) (string, error) {
	return c.h.Get().Guide.PostalCode, nil
}

// applyReload carries the settings that take effect without a restart.
func (a *App) applyReload(old, updated config.AppConfig) {
	if old.LogLevel != updated.LogLevel || old.LogService != updated.LogService {
		xglog.Reconfigure(xglog.Config{
			Level:   updated.LogLevel,
			Output:  a.logOutput,
			Service: updated.LogService,
			Version: updated.Version,
		})
	}
	if a.engine != nil && old.Guide.PostalCode != updated.Guide.PostalCode {
		a.logger.Info().Str(xglog.FieldEvent, "guide.location_changed").Msg("postal code changed, resolving the lineup again")
		a.engine.StartImmediately(true)
	}
}

func (a *App) onClose(name string, hook ShutdownHook) {
	a.cleanup = append(a.cleanup, namedHook{name: name, hook: hook})
}

// closeAll runs the cleanup collected before the manager existed.
func (a *App) closeAll(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	var errs []error
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		if err := a.cleanup[i].hook(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", a.cleanup[i].name, err))
		}
	}
	a.cleanup = nil
	return errors.Join(errs...)
}

// Engine returns the guide sync engine, or nil when the guide is disabled.
func (a *App) Engine() *guidesync.Engine { return a.engine }

// Scheduler returns the recording scheduler.
func (a *App) Scheduler() *dvr.Scheduler { return a.scheduler }

// Manager returns the HTTP server manager.
func (a *App) Manager() *Manager { return a.manager }

// Store returns the data store.
func (a *App) Store() ports.DataStore { return a.store }
