// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ManuGH/pvrd/internal/validate"
)

// Validate validates an AppConfig using the centralized validation package
func Validate(cfg AppConfig) error {
	v := validate.New()

	v.LogLevel("logLevel", cfg.LogLevel)
	v.NotEmpty("dataDir", cfg.DataDir)

	v.OneOf("store.backend", cfg.Store.Backend, []string{StoreSQLite, StoreMemory})
	if cfg.Store.Backend == StoreSQLite {
		v.NotEmpty("store.path", cfg.Store.Path)
		v.PositiveDuration("store.busyTimeout", cfg.Store.BusyTimeout)
	}

	// The guide source is optional; without it the daemon only records.
	if strings.TrimSpace(cfg.Guide.BaseURL) != "" {
		v.URL("guide.baseUrl", cfg.Guide.BaseURL, []string{"http", "https"})
	}
	v.DurationRange("guide.timeout", cfg.Guide.Timeout, 100*time.Millisecond, 5*time.Minute)
	if cfg.Guide.RatePerSecond <= 0 {
		v.AddError("guide.ratePerSecond", "must be positive", cfg.Guide.RatePerSecond)
	}
	v.Positive("guide.burst", cfg.Guide.Burst)
	v.Positive("guide.breakerThreshold", cfg.Guide.BreakerThreshold)
	v.PositiveDuration("guide.breakerReset", cfg.Guide.BreakerReset)
	v.PositiveDuration("guide.recurringPeriod", cfg.Guide.RecurringPeriod)
	v.PositiveDuration("guide.sourceUnavailableWait", cfg.Guide.SourceUnavailableWait)
	v.PositiveDuration("guide.locationDeniedWait", cfg.Guide.LocationDeniedWait)
	v.PositiveDuration("guide.backoffBase", cfg.Guide.BackoffBase)
	if cfg.Guide.BackoffBase*2 >= cfg.Guide.RecurringPeriod {
		v.AddError("guide.backoffBase",
			fmt.Sprintf("leaves no retry within recurring period %s", cfg.Guide.RecurringPeriod),
			cfg.Guide.BackoffBase)
	}
	v.Range("guide.batchSize", cfg.Guide.BatchSize, 1, 10000)

	v.PositiveDuration("dvr.wakeLead", cfg.DVR.WakeLead)
	v.PositiveDuration("dvr.soonWindow", cfg.DVR.SoonWindow)
	if cfg.DVR.PostRecordGrace < 0 {
		v.AddError("dvr.postRecordGrace", "cannot be negative", cfg.DVR.PostRecordGrace)
	}
	v.PositiveDuration("dvr.connectTimeout", cfg.DVR.ConnectTimeout)

	v.OneOf("sessions.leaseBackend", cfg.Sessions.LeaseBackend, []string{LeaseMemory, LeaseSQLite, LeaseRedis})
	if cfg.Sessions.LeaseBackend == LeaseSQLite && cfg.Store.Backend != StoreSQLite {
		v.AddError("sessions.leaseBackend", "sqlite leases require the sqlite store", cfg.Sessions.LeaseBackend)
	}
	if cfg.Sessions.LeaseBackend == LeaseRedis {
		v.NotEmpty("sessions.redis.addr", cfg.Sessions.Redis.Addr)
		v.NonNegative("sessions.redis.db", cfg.Sessions.Redis.DB)
	}
	v.DurationRange("sessions.leaseTTL", cfg.Sessions.LeaseTTL, time.Second, 10*time.Minute)
	v.Positive("sessions.maxTuned", cfg.Sessions.MaxTuned)
	for input, c := range cfg.Sessions.Inputs {
		v.Positive("sessions.inputs."+input+".maxTuned", c.MaxTuned)
	}

	v.ListenAddr("http.listenAddr", cfg.HTTP.ListenAddr)
	v.NonNegative("http.rateLimit", cfg.HTTP.RateLimit)

	if cfg.Telemetry.Enabled {
		v.OneOf("telemetry.exporter", cfg.Telemetry.ExporterType, []string{"grpc", "http"})
		v.NotEmpty("telemetry.endpoint", cfg.Telemetry.Endpoint)
		if cfg.Telemetry.SamplingRate < 0 || cfg.Telemetry.SamplingRate > 1 {
			v.AddError("telemetry.samplingRate", "must be between 0 and 1", cfg.Telemetry.SamplingRate)
		}
	}

	return v.Err()
}
