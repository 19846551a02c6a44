// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	guidePassesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pvr_guide_passes_total",
		Help: "Guide sync passes by kind and outcome",
	}, []string{"kind", "outcome"}) // kind=full|fast outcome=committed|up_to_date|source_unavailable|no_lineup|no_channels|error

	guidePassDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pvr_guide_pass_duration_seconds",
		Help:    "Duration of guide sync passes",
		Buckets: []float64{0.05, 0.25, 1, 5, 15, 60, 300, 900},
	}, []string{"kind"})

	guideProgramEdits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pvr_guide_program_edits_total",
		Help: "Program edits committed by guide sync",
	}, []string{"op"}) // op=insert|update|delete

	guideBatchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pvr_guide_batch_failures_total",
		Help: "Program batches that failed to commit",
	})

	guideLastCommit = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pvr_guide_last_commit_timestamp_seconds",
		Help: "Guide timestamp of the last fully committed full sync",
	})

	guideRetryScheduled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pvr_guide_retries_scheduled_total",
		Help: "Deferred guide sync retries by cause",
	}, []string{"cause"}) // cause=source_unavailable|resolution|empty_result
)

// RecordGuidePass records the outcome and duration of one sync pass.
func RecordGuidePass(kind, outcome string, d time.Duration) {
	guidePassesTotal.WithLabelValues(kind, outcome).Inc()
	guidePassDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// AddGuideProgramEdits counts committed program edits of one op kind.
func AddGuideProgramEdits(op string, n int) {
	if n <= 0 {
		return
	}
	guideProgramEdits.WithLabelValues(op).Add(float64(n))
}

// IncGuideBatchFailure counts one failed program batch.
func IncGuideBatchFailure() { guideBatchFailures.Inc() }

// SetGuideLastCommit records the committed guide timestamp.
func SetGuideLastCommit(t time.Time) {
	guideLastCommit.Set(float64(t.Unix()))
}

// IncGuideRetry counts one deferred retry.
func IncGuideRetry(cause string) {
	guideRetryScheduled.WithLabelValues(cause).Inc()
}
