// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads the pvrd configuration.
//
// Precedence is defaults, then the YAML file, then PVR_* environment
// variables. The result is validated once after all layers are applied.
package config

import (
	"path/filepath"
	"time"
)

// Store backends.
const (
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

// Lease backends.
const (
	LeaseMemory = "memory"
	LeaseSQLite = "sqlite"
	LeaseRedis  = "redis"
)

// AppConfig is the complete daemon configuration.
type AppConfig struct {
	Version string `yaml:"-"`

	LogLevel   string `yaml:"logLevel"`
	LogService string `yaml:"logService"`
	DataDir    string `yaml:"dataDir"`

	Store     StoreConfig     `yaml:"store"`
	Guide     GuideConfig     `yaml:"guide"`
	DVR       DVRConfig       `yaml:"dvr"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	HTTP      HTTPConfig      `yaml:"http"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type StoreConfig struct {
	// Backend is "sqlite" or "memory".
	Backend string `yaml:"backend"`
	// Path of the SQLite database. Relative paths resolve against DataDir.
	Path        string        `yaml:"path"`
	BusyTimeout time.Duration `yaml:"busyTimeout"`
}

// GuideConfig covers the remote guide source and the sync engine.
type GuideConfig struct {
	BaseURL          string        `yaml:"baseUrl"`
	PostalCode       string        `yaml:"postalCode"`
	Timeout          time.Duration `yaml:"timeout"`
	RatePerSecond    float64       `yaml:"ratePerSecond"`
	Burst            int           `yaml:"burst"`
	BreakerThreshold int           `yaml:"breakerThreshold"`
	BreakerReset     time.Duration `yaml:"breakerReset"`

	RecurringPeriod       time.Duration `yaml:"recurringPeriod"`
	SourceUnavailableWait time.Duration `yaml:"sourceUnavailableWait"`
	LocationDeniedWait    time.Duration `yaml:"locationDeniedWait"`
	BackoffBase           time.Duration `yaml:"backoffBase"`
	BatchSize             int           `yaml:"batchSize"`
	// StatePath stores the sync timestamps. Relative paths resolve against DataDir.
	StatePath string `yaml:"statePath"`
}

type DVRConfig struct {
	WakeLead        time.Duration `yaml:"wakeLead"`
	SoonWindow      time.Duration `yaml:"soonWindow"`
	PostRecordGrace time.Duration `yaml:"postRecordGrace"`
	ConnectTimeout  time.Duration `yaml:"connectTimeout"`
}

// InputConfig is the capability of one tuner input.
type InputConfig struct {
	MaxTuned int `yaml:"maxTuned"`
}

type SessionsConfig struct {
	// LeaseBackend is "memory", "sqlite" or "redis".
	LeaseBackend string        `yaml:"leaseBackend"`
	LeaseTTL     time.Duration `yaml:"leaseTTL"`
	// MaxTuned applies to inputs without an entry in Inputs.
	MaxTuned int                    `yaml:"maxTuned"`
	Inputs   map[string]InputConfig `yaml:"inputs"`
	Redis    RedisConfig            `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type HTTPConfig struct {
	ListenAddr string `yaml:"listenAddr"`
	// RateLimit is the request budget per client IP and minute. Zero disables it.
	RateLimit         int           `yaml:"rateLimit"`
	ReadHeaderTimeout time.Duration `yaml:"readHeaderTimeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdownTimeout"`
}

type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ExporterType string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"samplingRate"`
	Environment  string  `yaml:"environment"`
}

// Default returns the configuration used when nothing is set.
func Default() AppConfig {
	return AppConfig{
		LogLevel:   "info",
		LogService: "pvrd",
		DataDir:    "/var/lib/pvrd",
		Store: StoreConfig{
			Backend:     StoreSQLite,
			Path:        "pvrd.db",
			BusyTimeout: 5 * time.Second,
		},
		Guide: GuideConfig{
			Timeout:               15 * time.Second,
			RatePerSecond:         5,
			Burst:                 10,
			BreakerThreshold:      5,
			BreakerReset:          30 * time.Second,
			RecurringPeriod:       4 * time.Hour,
			SourceUnavailableWait: time.Minute,
			LocationDeniedWait:    time.Hour,
			BackoffBase:           10 * time.Second,
			BatchSize:             100,
			StatePath:             "guide-state.json",
		},
		DVR: DVRConfig{
			WakeLead:        time.Minute,
			SoonWindow:      5 * time.Minute,
			PostRecordGrace: 5 * time.Second,
			ConnectTimeout:  30 * time.Second,
		},
		Sessions: SessionsConfig{
			LeaseBackend: LeaseSQLite,
			LeaseTTL:     30 * time.Second,
			MaxTuned:     2,
			Redis:        RedisConfig{Addr: "localhost:6379", Prefix: "pvrd:"},
		},
		HTTP: HTTPConfig{
			ListenAddr:        ":8089",
			RateLimit:         120,
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   10 * time.Second,
		},
		Telemetry: TelemetryConfig{
			ExporterType: "grpc",
			Endpoint:     "localhost:4317",
			SamplingRate: 1,
			Environment:  "production",
		},
	}
}

// StorePath returns the SQLite path resolved against DataDir.
func (c AppConfig) StorePath() string { return c.resolve(c.Store.Path) }

// GuideStatePath returns the sync state path resolved against DataDir.
func (c AppConfig) GuideStatePath() string { return c.resolve(c.Guide.StatePath) }

func (c AppConfig) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.DataDir, p)
}
