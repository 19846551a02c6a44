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
	recordingTasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pvr_recording_tasks_total",
		Help: "Finished recording tasks by outcome",
	}, []string{"outcome"}) // outcome=finished|failed|cancelled

	recordingTasksActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pvr_recording_tasks_active",
		Help: "Recording tasks currently running",
	})

	recordingFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pvr_recording_failures_total",
		Help: "Recordings that ended FAILED by stop reason",
	}, []string{"reason"})

	schedulerWakeAt = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pvr_scheduler_wake_timestamp_seconds",
		Help: "Unix time of the armed scheduler wake-up (0 when none is armed)",
	})
)

// TaskStarted marks one recording task as running.
func TaskStarted() { recordingTasksActive.Inc() }

// TaskDone records the outcome of one recording task.
func TaskDone(outcome string) {
	recordingTasksActive.Dec()
	recordingTasksTotal.WithLabelValues(outcome).Inc()
}

// RecordRecordingFailure counts one FAILED recording.
func RecordRecordingFailure(reason string) {
	recordingFailures.WithLabelValues(reason).Inc()
}

// SetSchedulerWake records the armed wake time; the zero time clears it.
func SetSchedulerWake(at time.Time) {
	if at.IsZero() {
		schedulerWakeAt.Set(0)
		return
	}
	schedulerWakeAt.Set(float64(at.Unix()))
}
