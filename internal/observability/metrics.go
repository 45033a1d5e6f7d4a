package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the risk engine.
type Metrics struct {
	// --- Engine processing ---
	CommandsApplied  *prometheus.CounterVec
	CommandsRejected *prometheus.CounterVec
	CommandDuration  *prometheus.HistogramVec
	EngineSequence   prometheus.Gauge

	// --- Domain ---
	IntentsEmitted       *prometheus.CounterVec
	ReceiptsAccepted     *prometheus.CounterVec
	IntentsCancelled     prometheus.Counter
	PriceUpdatesRejected *prometheus.CounterVec
	PolicyVersion        prometheus.Gauge
	PositionsByStatus    *prometheus.GaugeVec

	// --- Channels & backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	ProjectionDrops     *prometheus.CounterVec
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Ingestion ---
	NATSEnqueueLatency *prometheus.HistogramVec

	// --- Persistence ---
	PersistEventsWritten prometheus.Counter
	PersistBatchSize     prometheus.Histogram
	PersistBatchDur      prometheus.Histogram
	PersistErrors        *prometheus.CounterVec
	PersistLastSequence  prometheus.Gauge

	// --- Snapshot & replay ---
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotSizeBytes prometheus.Gauge
	SnapshotLastSeq   prometheus.Gauge
	ReplayEventsTotal prometheus.Counter
	ReplayDuration    prometheus.Gauge

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	ingestBuckets := []float64{
		0.00001, 0.000025, 0.00005, 0.0001, 0.00025,
		0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		CommandsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_engine_commands_applied_total",
			Help: "Commands successfully applied by the engine",
		}, []string{"command_type"}),

		CommandsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_engine_commands_rejected_total",
			Help: "Commands rejected (dedup, auth, validation)",
		}, []string{"command_type", "reason"}),

		CommandDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lend_engine_command_apply_duration_seconds",
			Help:    "Time to apply a single command",
			Buckets: latencyBuckets,
		}, []string{"command_type"}),

		EngineSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "lend_engine_sequence",
			Help: "Current global event sequence",
		}),

		IntentsEmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_intents_emitted_total",
			Help: "Liquidation intents emitted",
		}, []string{"asset"}),

		ReceiptsAccepted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_receipts_accepted_total",
			Help: "Liquidation receipts accepted",
		}, []string{"asset"}),

		IntentsCancelled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lend_intents_cancelled_total",
			Help: "Liquidation intents cancelled",
		}),

		PriceUpdatesRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_price_updates_rejected_total",
			Help: "Oracle rounds rejected (jump/round/amount)",
		}, []string{"asset", "reason"}),

		PolicyVersion: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "lend_policy_version",
			Help: "Current global policy version",
		}),

		PositionsByStatus: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lend_positions",
			Help: "Positions by status",
		}, []string{"status"}),

		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lend_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lend_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lend_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		ProjectionDrops: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_projection_drops_total",
			Help: "Events dropped due to full projection channel",
		}, []string{"projection"}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lend_publish_drops_total",
			Help: "Events dropped due to full publish channel",
		}),

		PersistBackpressure: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lend_persist_backpressure_total",
			Help: "Times the engine blocked on the persist channel",
		}),

		NATSEnqueueLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lend_nats_enqueue_latency_seconds",
			Help:    "Time a NATS message waits to enter the command channel",
			Buckets: ingestBuckets,
		}, []string{"subject"}),

		PersistEventsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lend_persist_events_written_total",
			Help: "Events written to Postgres",
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "lend_persist_batch_size",
			Help:    "Events per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "lend_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "lend_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		SnapshotTaken: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lend_snapshot_taken_total",
			Help: "Snapshots created",
		}),

		SnapshotDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "lend_snapshot_duration_seconds",
			Help:    "Snapshot creation time",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
		}),

		SnapshotSizeBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "lend_snapshot_size_bytes",
			Help: "Last snapshot size",
		}),

		SnapshotLastSeq: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "lend_snapshot_last_sequence",
			Help: "Sequence of last snapshot",
		}),

		ReplayEventsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lend_replay_events_total",
			Help: "Events replayed on startup",
		}),

		ReplayDuration: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "lend_replay_duration_seconds",
			Help: "Total replay time",
		}),

		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lend_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),

		QueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_query_errors_total",
			Help: "Query errors",
		}, []string{"endpoint", "code"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
