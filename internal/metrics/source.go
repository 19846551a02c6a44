// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package metrics registers the Prometheus collectors of pvrd.
// All collectors live on the default registry and carry the pvr_ prefix.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sourceRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pvr_guide_source_requests_total",
		Help: "Guide source requests by endpoint and status",
	}, []string{"endpoint", "status"}) // status=success|error|circuit_open

	sourceRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pvr_guide_source_request_duration_seconds",
		Help:    "Guide source request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pvr_breaker_state",
		Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
	}, []string{"breaker"})

	breakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pvr_breaker_trips_total",
		Help: "Circuit breaker transitions to open",
	}, []string{"breaker", "reason"}) // reason=threshold|half_open

	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pvr_http_requests_total",
		Help: "Status API requests by route and status class",
	}, []string{"route", "class"})
)

// RecordSourceRequest records one guide source request.
func RecordSourceRequest(endpoint, status string, d time.Duration) {
	sourceRequestsTotal.WithLabelValues(endpoint, status).Inc()
	sourceRequestDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}

// SetBreakerState exports the state of the named breaker. Unknown states
// are exported as open.
func SetBreakerState(name, state string) {
	v := 2.0
	switch state {
	case "closed":
		v = 0
	case "half-open":
		v = 1
	}
	breakerState.WithLabelValues(name).Set(v)
}

// RecordBreakerTrip counts one transition of the named breaker to open.
func RecordBreakerTrip(name, reason string) {
	breakerTrips.WithLabelValues(name, reason).Inc()
}

// RecordHTTPRequest counts one status API request.
func RecordHTTPRequest(route string, status int) {
	httpRequestsTotal.WithLabelValues(route, statusClass(status)).Inc()
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
