// Package metrics exposes the session's prometheus instrumentation as one
// struct handed to the push, fetch, and dispatch layers.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every collector. Pass a private registry in tests to
// avoid duplicate registration.
type Metrics struct {
	FramesReceived   *prometheus.CounterVec
	PushAcksSent     prometheus.Counter
	Reconnects       prometheus.Counter
	SignOnResponses  prometheus.Counter
	FetchCycles      prometheus.Counter
	FetchErrors      *prometheus.CounterVec
	FetchLatency     prometheus.Histogram
	EventsDispatched prometheus.Counter
	QueueDepth       prometheus.Gauge
	RPCCalls         *prometheus.CounterVec
}

// New registers all collectors on reg; nil means the default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		FramesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "linego_push_frames_received_total",
			Help: "Push frames received by frame kind.",
		}, []string{"kind"}),
		PushAcksSent: f.NewCounter(prometheus.CounterOpts{
			Name: "linego_push_acks_sent_total",
			Help: "Acks written for ack-required push frames.",
		}),
		Reconnects: f.NewCounter(prometheus.CounterOpts{
			Name: "linego_push_reconnects_total",
			Help: "Push session reconnect attempts.",
		}),
		SignOnResponses: f.NewCounter(prometheus.CounterOpts{
			Name: "linego_push_signon_responses_total",
			Help: "Completed sign-on responses, fragments reassembled.",
		}),
		FetchCycles: f.NewCounter(prometheus.CounterOpts{
			Name: "linego_fetch_cycles_total",
			Help: "Per-chat fetch attempts.",
		}),
		FetchErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "linego_fetch_errors_total",
			Help: "Fetch failures by classification.",
		}, []string{"class"}),
		FetchLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "linego_fetch_duration_seconds",
			Help:    "fetchSquareChatEvents round-trip time.",
			Buckets: prometheus.DefBuckets,
		}),
		EventsDispatched: f.NewCounter(prometheus.CounterOpts{
			Name: "linego_events_dispatched_total",
			Help: "Events handed to the application handler.",
		}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "linego_dispatch_queue_depth",
			Help: "Events waiting in the dispatch queue.",
		}),
		RPCCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "linego_rpc_calls_total",
			Help: "Thrift RPC calls by method and outcome.",
		}, []string{"method", "outcome"}),
	}
}
