// Package metrics exposes Prometheus collectors for the report server.
package metrics

import (
	"errors"
	"time"

	"github.com/leapstack-labs/leapreport/pkg/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	MetricsNamespace = "leapreport"
)

var (
	connections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "connections",
		Help:      "Open update channel connections",
	}, []string{
		"transport",
	})

	connectionsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "connections_dropped_total",
		Help:      "Connections removed from the update channel",
	}, []string{
		"reason",
	})

	framesEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "frames_emitted_total",
		Help:      "Canonical events emitted on the update channel",
	}, []string{
		"event",
	})

	notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "notifications_total",
		Help:      "Runner notifications received",
	}, []string{
		"runner",
		"result",
	})

	storeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "store_errors_total",
		Help:      "Events the entity store rejected or flagged",
	}, []string{
		"kind",
	})

	snapshotSaves = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "snapshot_saves_total",
		Help:      "Snapshot persistence attempts",
	}, []string{
		"result",
	})

	diffDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: MetricsNamespace,
		Name:      "diff_duration_seconds",
		Help:      "Time spent in the compute diff service",
		Buckets:   prometheus.DefBuckets,
	})
)

// Drop reasons.
const (
	DropWriteError = "write_error"
	DropStalled    = "stalled"
	DropClosed     = "closed"
)

func ConnectionOpened(transport string) {
	connections.WithLabelValues(transport).Inc()
}

func ConnectionClosed(transport, reason string) {
	connections.WithLabelValues(transport).Dec()
	connectionsDropped.WithLabelValues(reason).Inc()
}

func FrameEmitted(name core.EventName) {
	framesEmitted.WithLabelValues(string(name)).Inc()
}

// RecordNotification counts a runner notification by outcome.
func RecordNotification(runner string, err error) {
	result := "ok"
	if err != nil {
		result = "translation_error"
	}
	notifications.WithLabelValues(runner, result).Inc()
}

// RecordStoreError classifies an error returned by the entity store.
func RecordStoreError(err error) {
	if err == nil {
		return
	}
	storeErrors.WithLabelValues(storeErrorKind(err)).Inc()
}

func storeErrorKind(err error) string {
	switch {
	case errors.Is(err, core.ErrBrokenReference):
		return "broken_reference"
	case errors.Is(err, core.ErrDuplicateAttempt):
		return "duplicate_attempt"
	default:
		return "invalid"
	}
}

func RecordSnapshotSave(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	snapshotSaves.WithLabelValues(result).Inc()
}

func ObserveDiff(d time.Duration) {
	diffDuration.Observe(d.Seconds())
}
