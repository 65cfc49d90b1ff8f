package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_requests_latency_seconds",
			Help:    "Latency of HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
	HTTPInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Requests currently being served",
		},
	)

	// Ledger
	SettlementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlements_total",
			Help: "Settlement operations by kind and outcome",
		},
		[]string{"kind", "status"}, // applied|replayed|failed
	)
	LedgerConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_conflicts_total",
			Help: "Lock timeouts and serialization conflicts seen by the ledger",
		},
	)
	LedgerRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_retries_total",
			Help: "Ledger attempts retried after a conflict",
		},
	)
	InsufficientBalance = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insufficient_balance_total",
			Help: "Batches rejected for insufficient balance",
		},
		[]string{"symbol"},
	)

	// Outbox
	OutboxEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_events_total",
			Help: "Outbox delivery attempts by result",
		},
		[]string{"result"}, // delivered|failed|dead
	)
	OutboxDead = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "outbox_dead_total",
			Help: "Outbox events that exhausted their retries",
		},
	)

	// Worker kuyruğu
	WorkerQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "worker_queue_depth",
			Help: "Current worker queue depth",
		},
	)

	initOnce sync.Once
)

// /metrics endpoint'i için handler
var Handler = promhttp.Handler

func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			RequestsTotal,
			HTTPLatency,
			HTTPInFlight,
			SettlementsTotal,
			LedgerConflicts,
			LedgerRetries,
			InsufficientBalance,
			OutboxEvents,
			OutboxDead,
			WorkerQueueDepth,
		)
	})
}
