// Package metrics holds the Prometheus collectors of the chat server. All
// collectors live on Registry, which also carries the Go runtime and process
// collectors; Handler serves it.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "randomchips"

// Registry is the registry every collector below is registered on.
var Registry = prometheus.NewRegistry()

var (
	// ConnectionsTotal is the number of peers registered with the hub.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connections_total",
		Help:      "Current number of active WebSocket connections",
	})

	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_sessions",
		Help:      "Current number of active chat sessions",
	})

	QueueSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_size",
		Help:      "Current number of connections in the matchmaking queue",
	})

	// MessagesTotal counts chat messages by outcome: relayed, rejected or
	// persist_failed.
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_total",
		Help:      "Total number of chat messages processed",
	}, []string{"type"})

	// MessageLatency is measured from frame receipt to relay.
	MessageLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "message_latency_seconds",
		Help:      "Message processing latency in seconds",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// MatchDuration is measured from entering the queue to being paired.
	MatchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "match_duration_seconds",
		Help:      "Time from search to pairing",
		Buckets:   []float64{.1, .5, 1, 2, 5, 10, 30, 60, 120},
	})

	PairingFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pairing_failures_total",
		Help:      "Pairings abandoned because the session row could not be created",
	})

	ReportsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reports_total",
		Help:      "Total number of abuse reports filed",
	}, []string{"reason"})

	// BansTotal counts ban events by source: auto (report threshold) or
	// search (banned address turned away).
	BansTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bans_total",
		Help:      "Total number of ban events",
	}, []string{"source"})

	// RateLimited counts throttled requests by rule key prefix.
	RateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limited_total",
		Help:      "Requests rejected by a rate limit",
	}, []string{"rule"})

	// HTTPRequestDuration covers the /api routes, labeled by route pattern.
	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP API request latency in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method", "status"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		ConnectionsTotal,
		ActiveSessions,
		QueueSize,
		MessagesTotal,
		MessageLatency,
		MatchDuration,
		PairingFailures,
		ReportsTotal,
		BansTotal,
		RateLimited,
		HTTPRequestDuration,
	)
}

// Handler serves Registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
