// Package metrics provides Prometheus instrumentation for the state-sync
// engine: message throughput, cache hit rates, rate-limit rejections, and
// broadcast volume.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// MessagesTotal counts message sends, labeled by result:
	// "sent", "rejected", or "failed".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roomchat_messages_total",
		Help: "Total number of message sends processed",
	}, []string{"result"})

	// CacheOps counts cache lookups, labeled by entity ("room", "message",
	// "recent", "status", "reaction") and outcome ("hit", "miss").
	CacheOps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roomchat_cache_ops_total",
		Help: "Cache-aside lookups by entity and outcome",
	}, []string{"entity", "outcome"})

	// RateLimited counts actions rejected by the rate limiter.
	RateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "roomchat_rate_limited_total",
		Help: "Total number of actions rejected by the rate limiter",
	})

	// BroadcastEvents counts events emitted through the broadcast gateway,
	// labeled by kind ("status", "typing", "receipt", "reaction", "reply",
	// "message", "error").
	BroadcastEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roomchat_broadcast_events_total",
		Help: "Total number of events emitted through the broadcast gateway",
	}, []string{"kind"})

	// StoreLatency records durable-store operation latency in seconds.
	StoreLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "roomchat_store_latency_seconds",
		Help:    "Durable store operation latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})
)

func init() {
	prometheus.MustRegister(
		MessagesTotal,
		CacheOps,
		RateLimited,
		BroadcastEvents,
		StoreLatency,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
