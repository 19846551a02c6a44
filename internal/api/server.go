// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api serves the pvrd status and control HTTP surface.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ManuGH/pvrd/internal/api/middleware"
	"github.com/ManuGH/pvrd/internal/domain/model"
	"github.com/ManuGH/pvrd/internal/domain/ports"
	"github.com/ManuGH/pvrd/internal/guidesync"
	"github.com/ManuGH/pvrd/internal/platform/clock"
)

// GuideSync is the part of the guide sync engine the API drives.
type GuideSync interface {
	RequestSync(fast bool)
	Status() guidesync.Status
}

// Scheduler lists the recordings with a live task.
type Scheduler interface {
	Tasks() []int64
}

// Deps are the collaborators of the server. Recordings and Channels are
// required. A nil Guide disables the guide routes. ImportChannels replaces
// the channel snapshot; it defaults to Channels.ReplaceChannels.
type Deps struct {
	Recordings     ports.RecordingStore
	Channels       ports.ChannelStore
	Guide          GuideSync
	Scheduler      Scheduler
	Health         func(ctx context.Context) error
	ImportChannels func(ctx context.Context, channels []model.Channel) error
	Clock          clock.Clock
}

type Config struct {
	// RateLimit is the per-IP request budget per minute. Zero disables it.
	RateLimit      int
	TracingService string
	EnableLogging  bool
}

type Server struct {
	deps   Deps
	router *chi.Mux
}

func New(deps Deps, cfg Config) (*Server, error) {
	if deps.Recordings == nil || deps.Channels == nil {
		return nil, errors.New("api: recording store and channel store are required")
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.ImportChannels == nil {
		deps.ImportChannels = deps.Channels.ReplaceChannels
	}
	s := &Server{deps: deps}
	s.router = s.routes(cfg)
	return s, nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes(cfg Config) *chi.Mux {
	r := middleware.NewRouter(middleware.StackConfig{
		EnableMetrics:  true,
		TracingService: cfg.TracingService,
		EnableLogging:  cfg.EnableLogging,
	})

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		if cfg.RateLimit > 0 {
			r.Use(middleware.RateLimit(middleware.RateLimitConfig{RequestLimit: cfg.RateLimit, WindowSize: time.Minute}))
		}
		r.Get("/recordings", s.handleListRecordings)
		r.Post("/recordings", s.handleCreateRecording)
		r.Get("/recordings/{id}", s.handleGetRecording)
		r.Delete("/recordings/{id}", s.handleDeleteRecording)
		r.Get("/channels", s.handleListChannels)
		r.Put("/channels", s.handleImportChannels)
		r.Get("/scheduler/tasks", s.handleSchedulerTasks)
		r.Get("/guide/status", s.handleGuideStatus)
		r.With(middleware.SyncRateLimit()).Post("/guide/sync", s.handleGuideSync)
	})
	return r
}
