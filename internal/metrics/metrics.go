package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	eventsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "statusr",
			Subsystem: "events",
			Name:      "ingested_total",
			Help:      "Number of new events committed to the event log.",
		}, []string{"source", "channel"},
	)
	eventsDuplicate = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "statusr",
			Subsystem: "events",
			Name:      "duplicate_total",
			Help:      "Number of events dropped as already seen.",
		}, []string{"channel"},
	)
	pollErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "statusr",
			Subsystem: "poll",
			Name:      "errors_total",
			Help:      "Number of failed polls by error kind (transport, parse, timeout, storage, other).",
		}, []string{"target", "kind"},
	)
	pollDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "statusr",
			Subsystem: "poll",
			Name:      "duration_seconds",
			Help:      "Time spent fetching and committing one poll.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"target"},
	)
	webhooks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "statusr",
			Name:      "webhooks_total",
			Help:      "Number of webhook payloads received, by resolved provider.",
		}, []string{"provider"},
	)
	historyErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "statusr",
			Subsystem: "history",
			Name:      "send_errors_total",
			Help:      "Number of events a history sink failed to accept.",
		}, []string{"sink"},
	)
	logTrims = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "statusr",
			Subsystem: "eventlog",
			Name:      "trims_total",
			Help:      "Number of event log rewrites triggered by size.",
		},
	)
	logCorrupt = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "statusr",
			Subsystem: "eventlog",
			Name:      "corrupt_records_total",
			Help:      "Number of unparseable event log lines dropped during trim.",
		},
	)
	logSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "statusr",
			Subsystem: "eventlog",
			Name:      "size_bytes",
			Help:      "Size of the event log file after the last write.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{eventsIngested, eventsDuplicate, pollErrors, pollDuration, webhooks, historyErrors, logTrims, logCorrupt, logSize}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// already registered with this registerer: keep the existing one
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves metrics gathered from g.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func AddIngested(source, channel string, n int) {
	if regOK.Load() && n > 0 {
		eventsIngested.WithLabelValues(source, channel).Add(float64(n))
	}
}
func AddDuplicates(channel string, n int) {
	if regOK.Load() && n > 0 {
		eventsDuplicate.WithLabelValues(channel).Add(float64(n))
	}
}
func IncPollError(target, kind string) {
	if regOK.Load() {
		pollErrors.WithLabelValues(target, kind).Inc()
	}
}
func ObservePollDuration(target string, seconds float64) {
	if regOK.Load() {
		pollDuration.WithLabelValues(target).Observe(seconds)
	}
}
func IncWebhook(provider string) {
	if regOK.Load() {
		if provider == "" {
			provider = "none"
		}
		webhooks.WithLabelValues(provider).Inc()
	}
}
func IncHistoryError(sink string) {
	if regOK.Load() {
		historyErrors.WithLabelValues(sink).Inc()
	}
}

func IncTrim() {
	if regOK.Load() {
		logTrims.Inc()
	}
}
func AddCorrupt(n int) {
	if regOK.Load() && n > 0 {
		logCorrupt.Add(float64(n))
	}
}
func SetLogSize(bytes int64) {
	if regOK.Load() {
		logSize.Set(float64(bytes))
	}
}
