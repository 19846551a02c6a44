// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package httpsource is a guide source backed by a JSON-over-HTTP guide service.
package httpsource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/ManuGH/pvrd/internal/cache"
	"github.com/ManuGH/pvrd/internal/domain/model"
	"github.com/ManuGH/pvrd/internal/domain/ports"
	xglog "github.com/ManuGH/pvrd/internal/log"
	"github.com/ManuGH/pvrd/internal/metrics"
	"github.com/ManuGH/pvrd/internal/platform/clock"
	"github.com/ManuGH/pvrd/internal/platform/httpx"
	platformnet "github.com/ManuGH/pvrd/internal/platform/net"
	"github.com/ManuGH/pvrd/internal/resilience"
	"github.com/ManuGH/pvrd/internal/telemetry"
)

const maxResponseBytes = 32 << 20

// StatusError is a non-2xx answer of the guide service.
type StatusError struct {
	Endpoint string
	Code     int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.Endpoint, e.Code)
}

type Config struct {
	BaseURL           string
	Timeout           time.Duration
	RatePerSecond     float64
	Burst             int
	ChannelNumbersTTL time.Duration
	BreakerThreshold  int
	BreakerReset      time.Duration
	UserAgent         string
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.RatePerSecond <= 0 {
		c.RatePerSecond = 5
	}
	if c.Burst <= 0 {
		c.Burst = 10
	}
	if c.ChannelNumbersTTL <= 0 {
		c.ChannelNumbersTTL = 15 * time.Minute
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = 5
	}
	if c.BreakerReset <= 0 {
		c.BreakerReset = 30 * time.Second
	}
	if c.UserAgent == "" {
		c.UserAgent = "pvrd"
	}
	return c
}

// Source implements ports.GuideSource over HTTP.
type Source struct {
	base    *url.URL
	client  *http.Client
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
	numbers *cache.TTL[string, []string]
	group   singleflight.Group
	tracer  trace.Tracer
	logger  zerolog.Logger
}

var _ ports.GuideSource = (*Source)(nil)

func New(cfg Config, clk clock.Clock) (*Source, error) {
	cfg = cfg.withDefaults()
	base, err := platformnet.ParseBaseURL(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("guide source url: %w", err)
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Source{
		base:    base,
		client:  httpx.NewClient(cfg.Timeout, cfg.UserAgent),
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		breaker: resilience.NewCircuitBreaker("guide_source", cfg.BreakerThreshold, cfg.BreakerReset,
			resilience.WithClock(clk), resilience.WithFailurePredicate(countsAsOutage)),
		numbers: cache.New[string, []string](cfg.ChannelNumbersTTL, clk),
		tracer:  telemetry.Tracer("pvrd.guidesource"),
		logger:  xglog.WithComponent("guidesource").With().Str("base_url", platformnet.SanitizeURL(base.String())).Logger(),
	}, nil
}

// countsAsOutage keeps caller cancellations and 4xx answers from tripping the breaker.
func countsAsOutage(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500
	}
	return true
}

// BreakerState reports the state of the outage breaker.
func (s *Source) BreakerState() resilience.State { return s.breaker.State() }

type statusResponse struct {
	Available    bool      `json:"available"`
	EpgTimestamp time.Time `json:"epg_timestamp"`
}

func (s *Source) status(ctx context.Context) (statusResponse, error) {
	var st statusResponse
	err := s.getJSON(ctx, "status", "/v1/status", nil, &st)
	return st, err
}

// IsAvailable is false while the breaker is open or the service reports
// itself unavailable.
func (s *Source) IsAvailable(ctx context.Context) bool {
	if !s.breaker.Ready() {
		return false
	}
	st, err := s.status(ctx)
	if err != nil {
		s.logger.Debug().Err(err).Msg("guide source status failed")
		return false
	}
	return st.Available
}

// EpgTimestamp collapses concurrent reads into one status request.
func (s *Source) EpgTimestamp(ctx context.Context) (time.Time, error) {
	v, err, _ := s.group.Do("epg_timestamp", func() (any, error) {
		st, err := s.status(ctx)
		if err != nil {
			return time.Time{}, err
		}
		return st.EpgTimestamp.UTC(), nil
	})
	if err != nil {
		return time.Time{}, err
	}
	return v.(time.Time), nil
}

func (s *Source) Lineups(ctx context.Context, postalCode string) ([]model.Lineup, error) {
	var out []model.Lineup
	q := url.Values{"postal_code": {postalCode}}
	if err := s.getJSON(ctx, "lineups", "/v1/lineups", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Source) ChannelNumbers(ctx context.Context, lineupID string) ([]string, error) {
	if nums, ok := s.numbers.Get(lineupID); ok {
		return nums, nil
	}
	var out []string
	if err := s.getJSON(ctx, "channel_numbers", "/v1/lineups/"+url.PathEscape(lineupID)+"/channel-numbers", nil, &out); err != nil {
		return nil, err
	}
	s.numbers.Set(lineupID, out)
	return out, nil
}

func (s *Source) Channels(ctx context.Context, lineupID string) ([]model.Channel, error) {
	var out []model.Channel
	if err := s.getJSON(ctx, "channels", "/v1/lineups/"+url.PathEscape(lineupID)+"/channels", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Source) Programs(ctx context.Context, channelID int64) ([]model.Program, error) {
	var out []model.Program
	path := "/v1/channels/" + strconv.FormatInt(channelID, 10) + "/programs"
	if err := s.getJSON(ctx, "programs", path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Source) ProgramsWindow(ctx context.Context, channelIDs []int64, d time.Duration) (map[int64][]model.Program, error) {
	if len(channelIDs) > ports.MaxProgramsWindowChannels {
		return nil, fmt.Errorf("%w: %d", ports.ErrTooManyChannels, len(channelIDs))
	}
	if len(channelIDs) == 0 {
		return map[int64][]model.Program{}, nil
	}
	ids := make([]string, len(channelIDs))
	for i, id := range channelIDs {
		ids[i] = strconv.FormatInt(id, 10)
	}
	q := url.Values{
		"channels": {strings.Join(ids, ",")},
		"duration": {strconv.FormatInt(int64(d/time.Second), 10)},
	}

	var raw map[string][]model.Program
	if err := s.getJSON(ctx, "programs_window", "/v1/programs", q, &raw); err != nil {
		return nil, err
	}
	out := make(map[int64][]model.Program, len(raw))
	for k, progs := range raw {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("guide source programs_window: bad channel key %q", k)
		}
		out[id] = progs
	}
	return out, nil
}

func (s *Source) getJSON(ctx context.Context, endpoint, path string, query url.Values, out any) error {
	ctx, span := s.tracer.Start(ctx, "guidesource."+endpoint,
		trace.WithAttributes(attribute.String(telemetry.SourceEndpointKey, endpoint)))
	defer span.End()

	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	start := time.Now()
	err := s.breaker.Execute(func() error { return s.do(ctx, endpoint, path, query, out) })
	status := "success"
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		status = "circuit_open"
	case err != nil:
		status = "error"
	}
	metrics.RecordSourceRequest(endpoint, status, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, status)
		return fmt.Errorf("guide source %s: %w", endpoint, err)
	}
	return nil
}

func (s *Source) do(ctx context.Context, endpoint, path string, query url.Values, out any) error {
	u := *s.base
	u.Path = s.base.Path + path
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return &StatusError{Endpoint: endpoint, Code: resp.StatusCode}
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	s.logger.Debug().Str(xglog.FieldEvent, "guidesource.request").Str("endpoint", endpoint).Msg("guide source request")
	return nil
}
