// Package metrics provides Prometheus metrics for the mindloom services.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SyncConnections tracks active sync WebSocket connections.
	SyncConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mindloom",
			Subsystem: "sync",
			Name:      "connections_active",
			Help:      "Number of active sync connections",
		},
	)

	// DocumentsOpen tracks in-memory replicated documents.
	DocumentsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mindloom",
			Subsystem: "sync",
			Name:      "documents_open",
			Help:      "Number of replicated documents held in memory",
		},
	)

	// SyncMessagesTotal counts sync messages by direction.
	SyncMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mindloom",
			Subsystem: "sync",
			Name:      "messages_total",
			Help:      "Total number of sync messages",
		},
		[]string{"direction"}, // "inbound" or "outbound"
	)

	// AuthRejectionsTotal counts rejected connection attempts.
	AuthRejectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mindloom",
			Subsystem: "sync",
			Name:      "auth_rejections_total",
			Help:      "Total number of rejected sync connections",
		},
	)

	// PersistsTotal counts document persists by document type and outcome.
	PersistsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mindloom",
			Subsystem: "store",
			Name:      "persists_total",
			Help:      "Total number of document persist operations",
		},
		[]string{"document_type", "outcome"},
	)

	// PersistDuration tracks persist latency.
	PersistDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mindloom",
			Subsystem: "store",
			Name:      "persist_duration_seconds",
			Help:      "Document persist duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// TasksTotal counts executed tasks by trigger kind and outcome.
	TasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mindloom",
			Subsystem: "executor",
			Name:      "tasks_total",
			Help:      "Total number of executed tasks",
		},
		[]string{"kind", "outcome"}, // outcome: "ok", "error", "cancelled"
	)

	// ProviderCallDuration tracks external provider call latency by provider.
	ProviderCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mindloom",
			Subsystem: "provider",
			Name:      "call_duration_seconds",
			Help:      "External provider call duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"provider"}, // "llm", "paper_search", "paper_qa"
	)

	// RunsTotal counts skill runs by final status.
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mindloom",
			Subsystem: "worker",
			Name:      "runs_total",
			Help:      "Total number of skill runs",
		},
		[]string{"status"},
	)
)
