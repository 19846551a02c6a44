// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ManuGH/pvrd/internal/log"
)

// EnvPrefix prefixes every environment key pvrd reads.
const EnvPrefix = "PVR_"

// Loader handles configuration loading with precedence
type Loader struct {
	configPath      string
	version         string
	ConsumedEnvKeys map[string]struct{} // Mechanical tracking of consumed keys
}

// NewLoader creates a new configuration loader
func NewLoader(configPath, version string) *Loader {
	return &Loader{
		configPath:      configPath,
		version:         version,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

func (l *Loader) envString(key, defaultVal string) string {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseString(key, defaultVal)
}

func (l *Loader) envBool(key string, defaultVal bool) bool {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseBool(key, defaultVal)
}

func (l *Loader) envInt(key string, defaultVal int) int {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseInt(key, defaultVal)
}

func (l *Loader) envDuration(key string, defaultVal time.Duration) time.Duration {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseDuration(key, defaultVal)
}

func (l *Loader) envFloat(key string, defaultVal float64) float64 {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseFloat(key, defaultVal)
}

// Load loads configuration with precedence: ENV > File > Defaults.
// The merged result is validated before it is returned.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Default()

	if l.configPath != "" {
		if err := l.loadFile(l.configPath, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	l.mergeEnv(&cfg)
	l.warnUnknownEnv()

	cfg.DataDir = expandEnv(cfg.DataDir)
	if abs, err := filepath.Abs(cfg.DataDir); err == nil {
		cfg.DataDir = abs
	}
	cfg.Version = l.version

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFile decodes a YAML file over cfg with strict parsing.
// Unknown fields will cause a fatal error to prevent misconfiguration.
func (l *Loader) loadFile(path string, cfg *AppConfig) error {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	return decodeStrict(data, cfg)
}

func decodeStrict(data []byte, cfg *AppConfig) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		if isYAMLUnknownFieldError(err) {
			return fmt.Errorf("strict config parse error: %w: %v", ErrUnknownConfigField, err)
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}

	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return ErrMultipleDocuments
	}
	return nil
}

func isYAMLUnknownFieldError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "field") && strings.Contains(msg, "not found")
}

// mergeEnv applies PVR_* overrides. Unset keys keep the current value.
func (l *Loader) mergeEnv(cfg *AppConfig) {
	cfg.LogLevel = l.envString("PVR_LOG_LEVEL", cfg.LogLevel)
	cfg.LogService = l.envString("PVR_LOG_SERVICE", cfg.LogService)
	cfg.DataDir = l.envString("PVR_DATA_DIR", cfg.DataDir)

	cfg.Store.Backend = l.envString("PVR_STORE_BACKEND", cfg.Store.Backend)
	cfg.Store.Path = l.envString("PVR_STORE_PATH", cfg.Store.Path)
	cfg.Store.BusyTimeout = l.envDuration("PVR_STORE_BUSY_TIMEOUT", cfg.Store.BusyTimeout)

	cfg.Guide.BaseURL = l.envString("PVR_GUIDE_URL", cfg.Guide.BaseURL)
	cfg.Guide.PostalCode = l.envString("PVR_POSTAL_CODE", cfg.Guide.PostalCode)
	cfg.Guide.Timeout = l.envDuration("PVR_GUIDE_TIMEOUT", cfg.Guide.Timeout)
	cfg.Guide.RatePerSecond = l.envFloat("PVR_GUIDE_RATE", cfg.Guide.RatePerSecond)
	cfg.Guide.Burst = l.envInt("PVR_GUIDE_BURST", cfg.Guide.Burst)
	cfg.Guide.RecurringPeriod = l.envDuration("PVR_SYNC_PERIOD", cfg.Guide.RecurringPeriod)
	cfg.Guide.BackoffBase = l.envDuration("PVR_SYNC_BACKOFF_BASE", cfg.Guide.BackoffBase)
	cfg.Guide.BatchSize = l.envInt("PVR_SYNC_BATCH_SIZE", cfg.Guide.BatchSize)
	cfg.Guide.StatePath = l.envString("PVR_SYNC_STATE_PATH", cfg.Guide.StatePath)

	cfg.DVR.WakeLead = l.envDuration("PVR_DVR_WAKE_LEAD", cfg.DVR.WakeLead)
	cfg.DVR.SoonWindow = l.envDuration("PVR_DVR_SOON_WINDOW", cfg.DVR.SoonWindow)
	cfg.DVR.PostRecordGrace = l.envDuration("PVR_DVR_POST_RECORD_GRACE", cfg.DVR.PostRecordGrace)
	cfg.DVR.ConnectTimeout = l.envDuration("PVR_DVR_CONNECT_TIMEOUT", cfg.DVR.ConnectTimeout)

	cfg.Sessions.LeaseBackend = l.envString("PVR_LEASE_BACKEND", cfg.Sessions.LeaseBackend)
	cfg.Sessions.LeaseTTL = l.envDuration("PVR_LEASE_TTL", cfg.Sessions.LeaseTTL)
	cfg.Sessions.MaxTuned = l.envInt("PVR_MAX_TUNED", cfg.Sessions.MaxTuned)
	cfg.Sessions.Redis.Addr = l.envString("PVR_REDIS_ADDR", cfg.Sessions.Redis.Addr)
	cfg.Sessions.Redis.Password = l.envString("PVR_REDIS_PASSWORD", cfg.Sessions.Redis.Password)
	cfg.Sessions.Redis.DB = l.envInt("PVR_REDIS_DB", cfg.Sessions.Redis.DB)
	cfg.Sessions.Redis.Prefix = l.envString("PVR_REDIS_PREFIX", cfg.Sessions.Redis.Prefix)

	cfg.HTTP.ListenAddr = l.envString("PVR_HTTP_LISTEN", cfg.HTTP.ListenAddr)
	cfg.HTTP.RateLimit = l.envInt("PVR_HTTP_RATE_LIMIT", cfg.HTTP.RateLimit)

	cfg.Telemetry.Enabled = l.envBool("PVR_TRACING_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.ExporterType = l.envString("PVR_TRACING_EXPORTER", cfg.Telemetry.ExporterType)
	cfg.Telemetry.Endpoint = l.envString("PVR_TRACING_ENDPOINT", cfg.Telemetry.Endpoint)
	cfg.Telemetry.SamplingRate = l.envFloat("PVR_TRACING_SAMPLING_RATE", cfg.Telemetry.SamplingRate)
}

// UnknownEnvKeys lists set PVR_* variables the loader does not read.
func (l *Loader) UnknownEnvKeys() []string {
	var unknown []string
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if !strings.HasPrefix(key, EnvPrefix) {
			continue
		}
		if _, ok := l.ConsumedEnvKeys[key]; !ok {
			unknown = append(unknown, key)
		}
	}
	slices.Sort(unknown)
	return unknown
}

func (l *Loader) warnUnknownEnv() {
	logger := log.WithComponent("config")
	for _, key := range l.UnknownEnvKeys() {
		logger.Warn().Str("key", key).Msg("ignoring unknown environment variable")
	}
}
