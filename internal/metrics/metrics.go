package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "walletfeed"

var (
	// HTTP
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests",
	}, []string{"route", "method", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method"})

	// Webhook ingress
	WebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "webhook",
		Name:      "deliveries_total",
		Help:      "Provider deliveries by ingest result",
	}, []string{"result"})

	// Ingest buffer
	BufferFlushes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "flushes_total",
		Help:      "Total non-empty batches swapped out of the ingest buffer",
	})

	BatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "batch_deliveries",
		Help:      "Deliveries per flushed batch",
		Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 1000},
	})

	// Reconstruction / classification
	TransactionsReconstructed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "transactions_reconstructed_total",
		Help:      "Logical transactions rebuilt from flushed batches",
	})

	EntriesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "entries_dropped_total",
		Help:      "Activity entries dropped, by stage and reason",
	}, []string{"stage", "reason"})

	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "notifications_total",
		Help:      "Classified notifications by routing outcome",
	}, []string{"outcome"})

	BatchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "batch_duration_seconds",
		Help:      "Time spent reconstructing, classifying and routing one batch",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	})

	// Sessions
	LiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "live",
		Help:      "Currently registered live sessions",
	})

	PendingDrained = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "pending_drained_total",
		Help:      "Pending notifications delivered on session registration",
	})

	PendingQuarantined = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pending",
		Name:      "quarantined_total",
		Help:      "Undecodable pending entries moved out of the queue",
	}, []string{"backend"})

	// Coins
	CoinProvisioning = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "coins",
		Name:      "provisioning_total",
		Help:      "Coin provisioning attempts by result",
	}, []string{"result"})
)
