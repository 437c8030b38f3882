// Fluxgate - On-Premises Data Acquisition Gateway
// Copyright 2026 Fluxgate Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fluxgate/fluxgate

// Package metrics instruments the cache & delivery engine with Prometheus
// counters and gauges, and provides the Sink that broadcasts per-connector
// cache statistics to subscribers.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Queue metrics
	ContentEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fluxgate_content_enqueued_total",
			Help: "Total number of Content items accepted into the pending area",
		},
		[]string{"north"},
	)

	ContentEnqueuedBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fluxgate_content_enqueued_bytes_total",
			Help: "Total payload bytes accepted into the pending area",
		},
		[]string{"north"},
	)

	CacheFullRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fluxgate_cache_full_rejections_total",
			Help: "Total number of enqueues rejected by backpressure",
		},
		[]string{"north"},
	)

	AreaSizeBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fluxgate_cache_area_size_bytes",
			Help: "Current payload bytes held per queue area",
		},
		[]string{"north", "area"},
	)

	// Delivery metrics
	ContentDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fluxgate_content_delivered_total",
			Help: "Total number of Content items successfully delivered",
		},
		[]string{"north"},
	)

	ContentDeliveredBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fluxgate_content_delivered_bytes_total",
			Help: "Total payload bytes successfully delivered",
		},
		[]string{"north"},
	)

	DeliveryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fluxgate_delivery_failures_total",
			Help: "Total number of failed delivery attempts",
		},
		[]string{"north", "kind"}, // kind: transient, permanent
	)

	ContentErrored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fluxgate_content_errored_total",
			Help: "Total number of Content items demoted to the errored area",
		},
		[]string{"north"},
	)

	// Scheduler metrics
	ScanTicks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fluxgate_scan_ticks_total",
			Help: "Total number of scan-mode ticks dispatched",
		},
		[]string{"scan_mode"},
	)

	ScanTicksCoalesced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fluxgate_scan_ticks_coalesced_total",
			Help: "Total number of overlapping scan ticks coalesced or dropped",
		},
		[]string{"scan_mode"},
	)

	PollFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fluxgate_poll_failures_total",
			Help: "Total number of failed South poll attempts",
		},
		[]string{"south"},
	)

	// Sweeper metrics
	ArchivePruned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fluxgate_archive_pruned_total",
			Help: "Total number of archived entries removed by retention",
		},
		[]string{"north"},
	)
)

// RecordEnqueue records a successful enqueue into the pending area.
func RecordEnqueue(north string, size int64) {
	ContentEnqueued.WithLabelValues(north).Inc()
	ContentEnqueuedBytes.WithLabelValues(north).Add(float64(size))
}

// RecordCacheFull records a backpressure rejection.
func RecordCacheFull(north string) {
	CacheFullRejections.WithLabelValues(north).Inc()
}

// RecordAreaSizes updates the per-area size gauges for one connector.
func RecordAreaSizes(north string, pending, errored, archived int64) {
	AreaSizeBytes.WithLabelValues(north, "pending").Set(float64(pending))
	AreaSizeBytes.WithLabelValues(north, "errored").Set(float64(errored))
	AreaSizeBytes.WithLabelValues(north, "archived").Set(float64(archived))
}

// RecordDelivered records a successful delivery commit.
func RecordDelivered(north string, size int64) {
	ContentDelivered.WithLabelValues(north).Inc()
	ContentDeliveredBytes.WithLabelValues(north).Add(float64(size))
}

// RecordDeliveryFailure records a failed delivery attempt.
func RecordDeliveryFailure(north string, permanent bool) {
	kind := "transient"
	if permanent {
		kind = "permanent"
	}
	DeliveryFailures.WithLabelValues(north, kind).Inc()
}

// RecordErrored records a demotion to the errored area.
func RecordErrored(north string) {
	ContentErrored.WithLabelValues(north).Inc()
}

// RecordScanTick records a dispatched scan-mode tick.
func RecordScanTick(scanMode string) {
	ScanTicks.WithLabelValues(scanMode).Inc()
}

// RecordScanTickCoalesced records an overlapping tick that was coalesced.
func RecordScanTickCoalesced(scanMode string) {
	ScanTicksCoalesced.WithLabelValues(scanMode).Inc()
}

// RecordPollFailure records a failed South poll.
func RecordPollFailure(south string) {
	PollFailures.WithLabelValues(south).Inc()
}

// RecordArchivePruned records archived entries removed by the sweeper.
func RecordArchivePruned(north string, count int) {
	ArchivePruned.WithLabelValues(north).Add(float64(count))
}
