// Package metrics holds the process-wide Prometheus collectors. Every
// method is safe on a nil *Metrics, which records nothing.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_relay_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "route", "status"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chat_relay_http_request_duration_seconds",
		Help:    "Duration of HTTP requests, streams included",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_relay_turns_total",
		Help: "Chat turns by model and outcome",
	}, []string{"model", "outcome"})

	turnDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chat_relay_turn_duration_seconds",
		Help:    "Time from upstream open to the end of the relay",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 180},
	}, []string{"model", "outcome"})

	activeStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_relay_active_streams",
		Help: "Number of relays currently streaming",
	})

	framesForwarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_relay_frames_forwarded_total",
		Help: "Frames written to clients",
	})

	framesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_relay_frames_dropped_total",
		Help: "Upstream frames dropped as unparseable",
	})

	rejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_relay_rejections_total",
		Help: "Requests rejected before streaming",
	}, []string{"reason"})

	persistFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_relay_persist_failures_total",
		Help: "Assistant messages that could not be stored",
	})

	jobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_relay_jobs_processed_total",
		Help: "Queued chat jobs by final status",
	}, []string{"status"})
)

type Metrics struct{}

func New() *Metrics {
	return &Metrics{}
}

func (m *Metrics) RecordHTTPRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func (m *Metrics) StreamStarted() {
	if m == nil {
		return
	}
	activeStreams.Inc()
}

func (m *Metrics) RecordTurn(model, outcome string, d time.Duration, forwarded, dropped int) {
	if m == nil {
		return
	}
	activeStreams.Dec()
	turnsTotal.WithLabelValues(model, outcome).Inc()
	turnDuration.WithLabelValues(model, outcome).Observe(d.Seconds())
	framesForwarded.Add(float64(forwarded))
	framesDropped.Add(float64(dropped))
}

func (m *Metrics) RecordRejection(reason string) {
	if m == nil {
		return
	}
	rejections.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordPersistFailure() {
	if m == nil {
		return
	}
	persistFailures.Inc()
}

func (m *Metrics) RecordJob(status string) {
	if m == nil {
		return
	}
	jobsProcessed.WithLabelValues(status).Inc()
}
