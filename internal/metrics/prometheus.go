// Package metrics provides the Prometheus implementation of
// audiofetch.Metrics.
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/KarpelesLab/audiofetch"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type promMetrics struct {
	ping         prometheus.Histogram
	requests     *prometheus.CounterVec
	requestBytes prometheus.Counter
	requestTime  prometheus.Histogram
	cacheLookups *prometheus.CounterVec
	cacheSaves   *prometheus.CounterVec
	cacheBytes   prometheus.Counter
}

// NewPrometheus registers download and cache metrics on reg.
//
// Returns nil if reg is nil, which disables collection.
func NewPrometheus(reg prometheus.Registerer) audiofetch.Metrics {
	if reg == nil {
		return nil
	}

	return &promMetrics{
		ping: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name: "audiofetch_ping_milliseconds",
				Help: "Time until the response headers of a range request arrive",
				Buckets: []float64{
					10,   // same network
					50,   // 50ms
					100,  // 100ms
					250,  // 250ms
					500,  // initial estimate
					1000, // 1s
					1500, // assumed maximum
					3000, // 3s
				},
			},
		),
		requests: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "audiofetch_requests_total",
				Help: "Range requests by outcome",
			},
			[]string{"status"}, // "ok", "error", "canceled"
		),
		requestBytes: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "audiofetch_downloaded_bytes_total",
				Help: "Bytes received by range requests",
			},
		),
		requestTime: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "audiofetch_request_duration_seconds",
				Help:    "Duration of range requests",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
			},
		),
		cacheLookups: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "audiofetch_cache_lookups_total",
				Help: "Cache lookups on open",
			},
			[]string{"status"}, // "hit", "miss"
		),
		cacheSaves: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "audiofetch_cache_saves_total",
				Help: "Completed downloads written to the cache",
			},
			[]string{"status"}, // "ok", "error"
		),
		cacheBytes: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "audiofetch_cache_saved_bytes_total",
				Help: "Bytes written to the cache",
			},
		),
	}
}

func (m *promMetrics) ObservePing(d time.Duration) {
	m.ping.Observe(float64(d) / float64(time.Millisecond))
}

func (m *promMetrics) ObserveRequest(bytes int64, d time.Duration, err error) {
	status := "ok"
	switch {
	case errors.Is(err, context.Canceled):
		status = "canceled"
	case err != nil:
		status = "error"
	}
	m.requests.WithLabelValues(status).Inc()
	m.requestTime.Observe(d.Seconds())
	if bytes > 0 {
		m.requestBytes.Add(float64(bytes))
	}
}

func (m *promMetrics) ObserveCacheLookup(hit bool) {
	if hit {
		m.cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	m.cacheLookups.WithLabelValues("miss").Inc()
}

func (m *promMetrics) ObserveCacheSave(bytes int64, err error) {
	if err != nil {
		m.cacheSaves.WithLabelValues("error").Inc()
		return
	}
	m.cacheSaves.WithLabelValues("ok").Inc()
	m.cacheBytes.Add(float64(bytes))
}
