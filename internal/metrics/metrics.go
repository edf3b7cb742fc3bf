package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ============================================
	// Database connection
	// ============================================
	DBConnectionPoolSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lottery_db_connection_pool_size",
		Help: "Database connection pool size",
	})

	DBConnectionActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lottery_db_connection_active",
		Help: "Number of active database connections",
	})

	DBConnectionIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lottery_db_connection_idle",
		Help: "Number of idle database connections",
	})

	DBConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lottery_db_connection_status",
		Help: "Database connection status (1=healthy, 0=unhealthy)",
	})

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lottery_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query_type"},
	)

	// ============================================
	// NATS
	// ============================================
	NATSConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lottery_nats_connection_status",
		Help: "NATS connection status (1=connected, 0=disconnected)",
	})

	NATSMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lottery_nats_messages_published_total",
			Help: "Total number of bridge events published to NATS",
		},
		[]string{"event_type"},
	)

	NATSMessagesFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lottery_nats_messages_failed_total",
			Help: "Total number of NATS publish or receive failures",
		},
		[]string{"event_type", "error_type"},
	)

	NATSMessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lottery_nats_messages_received_total",
			Help: "Total number of chain notices received from NATS",
		},
		[]string{"subject"},
	)

	// ============================================
	// Epoch lifecycle
	// ============================================
	EpochStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lottery_epoch_status",
			Help: "Current epoch status (1 for the active status, 0 otherwise)",
		},
		[]string{"status"},
	)

	EpochParticipants = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lottery_epoch_participants",
		Help: "Registered participants in the active epoch",
	})

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lottery_stage_duration_seconds",
			Help:    "Coordinator stage duration in seconds, including retries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage", "result"},
	)

	AdapterCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lottery_adapter_calls_total",
			Help: "Adapter call attempts by chain, operation and outcome",
		},
		[]string{"chain", "op", "outcome"},
	)

	StageFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lottery_stage_failures_total",
			Help: "Stages that exhausted their retries",
		},
		[]string{"stage"},
	)

	// ============================================
	// Settlement
	// ============================================
	WithdrawalsSettled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lottery_withdrawals_settled_total",
			Help: "Withdrawals paid out, by proof kind",
		},
		[]string{"kind"},
	)

	WithdrawalsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lottery_withdrawals_rejected_total",
			Help: "Withdrawals refused before payout, by reason",
		},
		[]string{"reason"},
	)

	InconsistenciesDetected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lottery_inconsistencies_detected_total",
		Help: "Cross-chain inconsistencies raised for operator reconciliation",
	})

	PendingReconciliations = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lottery_pending_reconciliations",
		Help: "Reconciliation records awaiting an operator",
	})

	EventHandlerErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lottery_event_handler_errors_total",
			Help: "Observer failures while delivering bridge events",
		},
		[]string{"event_type"},
	)
)

var allStatuses = []string{"collecting", "staking", "selecting_winner", "distributing", "completed"}

// SetEpochStatus marks status as the only active one
func SetEpochStatus(status string) {
	for _, s := range allStatuses {
		if s == status {
			EpochStatus.WithLabelValues(s).Set(1)
		} else {
			EpochStatus.WithLabelValues(s).Set(0)
		}
	}
}
