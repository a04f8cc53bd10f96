package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecordsProcessed tracks reconciliation outcomes per record type
	RecordsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "almatasks_records_processed_total",
			Help: "Total number of records run through the reconciliation engine",
		},
		[]string{"type", "outcome"},
	)

	// RemoteCalls tracks calls to the external systems
	RemoteCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "almatasks_remote_calls_total",
			Help: "Total number of calls to Alma and Libris",
		},
		[]string{"system", "op", "status"},
	)

	// RetryCycles tracks completed retry queue cycles
	RetryCycles = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "almatasks_retry_cycles_total",
			Help: "Total number of retry queue cycles",
		},
	)

	// QueueDepth tracks the number of rows in failed status
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "almatasks_failed_queue_depth",
			Help: "Number of queue rows currently in failed status",
		},
	)

	// AlertsSent tracks max-attempts alert mails
	AlertsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "almatasks_alerts_sent_total",
			Help: "Total number of max-attempts alert mails sent",
		},
	)

	// ImportBatches tracks export feed fetch cycles
	ImportBatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "almatasks_import_batches_total",
			Help: "Total number of export feed batches fetched",
		},
		[]string{"result"},
	)
)
