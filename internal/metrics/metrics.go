// Package metrics exposes Prometheus collectors for the tick pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	dispatchedEntriesTotal prometheus.Counter
	dispatchCyclesTotal    *prometheus.CounterVec
	probesTotal            *prometheus.CounterVec
	probeDurationSeconds   *prometheus.HistogramVec
	acksTotal              *prometheus.CounterVec
	lostMeasurementsTotal  *prometheus.CounterVec
	malformedBatchesTotal  *prometheus.CounterVec
	ticksInsertedTotal     prometheus.Counter
	batchesTotal           *prometheus.CounterVec
	outcomeQueueLength     prometheus.Gauge
	httpRequestsTotal      *prometheus.CounterVec
	httpRequestDuration    *prometheus.HistogramVec
	rateLimitDelaySeconds  *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		dispatchedEntriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "uptime_dispatched_entries_total",
				Help: "Total number of work entries appended to the work log.",
			},
		)

		dispatchCyclesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uptime_dispatch_cycles_total",
				Help: "Total number of dispatch cycles, labeled by result.",
			},
			[]string{"result"},
		)

		probesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uptime_probes_total",
				Help: "Total number of probes, labeled by region and status.",
			},
			[]string{"region", "status"},
		)

		probeDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "uptime_probe_duration_seconds",
				Help:    "Histogram of probe response times, labeled by region.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"region"},
		)

		acksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uptime_work_entries_acked_total",
				Help: "Total number of work entries acknowledged, labeled by region.",
			},
			[]string{"region"},
		)

		lostMeasurementsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uptime_measurements_lost_total",
				Help: "Probes acknowledged without a durable outcome, labeled by region.",
			},
			[]string{"region"},
		)

		malformedBatchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uptime_malformed_batches_total",
				Help: "Claimed batches rejected because an entry failed to decode, labeled by region.",
			},
			[]string{"region"},
		)

		ticksInsertedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "uptime_ticks_inserted_total",
				Help: "Total number of tick rows written to the permanent store.",
			},
		)

		batchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uptime_batches_total",
				Help: "Total number of persistence batches, labeled by result.",
			},
			[]string{"result"},
		)

		outcomeQueueLength = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "uptime_outcome_queue_length",
				Help: "Outcome queue backlog observed at the start of the last batch cycle.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uptime_ops_http_requests_total",
				Help: "Total number of ops endpoint requests, labeled by method, route, and status code.",
			},
			[]string{"method", "route", "code"},
		)

		httpRequestDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "uptime_ops_http_request_duration_seconds",
				Help:    "Histogram of ops endpoint latencies, labeled by method and route.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "uptime_probe_rate_limit_delay_seconds",
				Help:    "Time a probe waited on its host rate limiter.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"host"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveDispatch records one dispatch cycle and how many entries it appended.
func ObserveDispatch(appended int, err error) {
	if dispatchCyclesTotal == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	dispatchCyclesTotal.WithLabelValues(result).Inc()
	if appended > 0 {
		dispatchedEntriesTotal.Add(float64(appended))
	}
}

// ObserveProbe records a probe outcome.
func ObserveProbe(region, status string, duration time.Duration) {
	if probesTotal == nil {
		return
	}
	probesTotal.WithLabelValues(region, status).Inc()
	probeDurationSeconds.WithLabelValues(region).Observe(duration.Seconds())
}

// ObserveAck increments the acknowledged-entries counter.
func ObserveAck(region string) {
	if acksTotal == nil {
		return
	}
	acksTotal.WithLabelValues(region).Inc()
}

// ObserveLostMeasurement counts an outcome that could not be enqueued.
func ObserveLostMeasurement(region string) {
	if lostMeasurementsTotal == nil {
		return
	}
	lostMeasurementsTotal.WithLabelValues(region).Inc()
}

// ObserveMalformedBatch counts a claimed batch rejected by the decoder.
func ObserveMalformedBatch(region string) {
	if malformedBatchesTotal == nil {
		return
	}
	malformedBatchesTotal.WithLabelValues(region).Inc()
}

// ObserveBatch records one persistence cycle.
func ObserveBatch(inserted int64, err error) {
	if batchesTotal == nil {
		return
	}
	if err != nil {
		batchesTotal.WithLabelValues("error").Inc()
		return
	}
	batchesTotal.WithLabelValues("ok").Inc()
	if inserted > 0 {
		ticksInsertedTotal.Add(float64(inserted))
	}
}

// SetQueueLength publishes the observed outcome queue backlog.
func SetQueueLength(n int64) {
	if outcomeQueueLength == nil {
		return
	}
	outcomeQueueLength.Set(float64(n))
}

// ObserveHTTPRequest records one ops endpoint request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records time spent waiting on a host limiter.
func ObserveRateLimitDelay(host string, d time.Duration) {
	if rateLimitDelaySeconds == nil {
		return
	}
	rateLimitDelaySeconds.WithLabelValues(host).Observe(d.Seconds())
}
