// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionAcquireTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pvr_session_acquire_total",
		Help: "Session acquisition attempts by result",
	}, []string{"result"}) // result=granted|capacity|leased|error

	sessionsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pvr_sessions_active",
		Help: "Active recording sessions per input",
	}, []string{"input"})

	sessionLeaseLostTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pvr_session_lease_lost_total",
		Help: "Sessions whose lease could not be renewed",
	})
)

// RecordSessionAcquire counts one acquisition attempt.
func RecordSessionAcquire(result string) {
	sessionAcquireTotal.WithLabelValues(result).Inc()
}

// SetSessionsActive sets the live session count of an input.
func SetSessionsActive(input string, n int) {
	sessionsActive.WithLabelValues(input).Set(float64(n))
}

// RecordSessionLeaseLost counts a session that lost its lease.
func RecordSessionLeaseLost() {
	sessionLeaseLostTotal.Inc()
}
