package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry metrics
	ActiveWorkersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "golem_active_workers_total",
			Help: "Number of workers currently resident in the registry",
		},
	)

	WorkersByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "golem_workers_by_status",
			Help: "Number of known workers by status",
		},
		[]string{"status"},
	)

	RegistryEvictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "golem_registry_evictions_total",
			Help: "Total number of workers evicted from the active registry",
		},
	)

	// Oplog metrics
	OplogAppendDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "golem_oplog_append_duration_seconds",
			Help:    "Time taken to append one oplog entry",
			Buckets: prometheus.DefBuckets,
		},
	)

	OplogEntriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "golem_oplog_entries_total",
			Help: "Total number of oplog entries appended, by entry kind",
		},
		[]string{"kind"},
	)

	OplogCompactionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "golem_oplog_compactions_total",
			Help: "Total number of hot-to-cold oplog chunk compactions",
		},
	)

	// Invocation metrics
	InvocationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "golem_invocation_duration_seconds",
			Help:    "Exported function invocation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	InvocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "golem_invocations_total",
			Help: "Total number of exported function invocations, by outcome",
		},
		[]string{"outcome"},
	)

	// Replay metrics
	ReplayDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "golem_replay_duration_seconds",
			Help:    "Time taken to replay a worker's oplog during recovery",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReplayedEntriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "golem_replayed_entries_total",
			Help: "Total number of oplog entries replayed during recovery",
		},
	)

	// Promise / scheduler metrics
	PendingTimersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "golem_pending_timers_total",
			Help: "Number of delayed events currently armed in the timer wheel",
		},
	)

	PromisesAwaitedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "golem_promises_awaited_total",
			Help: "Total number of promise await calls",
		},
	)

	// RPC metrics
	RPCRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "golem_rpc_requests_total",
			Help: "Total number of worker-executor RPC requests by method and status",
		},
		[]string{"method", "status"},
	)

	RPCRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "golem_rpc_request_duration_seconds",
			Help:    "Worker-executor RPC request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	RPCRedirectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "golem_rpc_redirects_total",
			Help: "Total number of RPC requests redirected due to shard misrouting",
		},
	)

	// Shard metrics
	ShardsAssignedTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "golem_shards_assigned_total",
			Help: "Number of shards currently assigned to this executor",
		},
	)

	ShardDrainsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "golem_shard_drains_total",
			Help: "Total number of shard drain operations performed",
		},
	)
)

func init() {
	prometheus.MustRegister(ActiveWorkersTotal)
	prometheus.MustRegister(WorkersByStatus)
	prometheus.MustRegister(RegistryEvictionsTotal)
	prometheus.MustRegister(OplogAppendDuration)
	prometheus.MustRegister(OplogEntriesTotal)
	prometheus.MustRegister(OplogCompactionsTotal)
	prometheus.MustRegister(InvocationDuration)
	prometheus.MustRegister(InvocationsTotal)
	prometheus.MustRegister(ReplayDuration)
	prometheus.MustRegister(ReplayedEntriesTotal)
	prometheus.MustRegister(PendingTimersTotal)
	prometheus.MustRegister(PromisesAwaitedTotal)
	prometheus.MustRegister(RPCRequestsTotal)
	prometheus.MustRegister(RPCRequestDuration)
	prometheus.MustRegister(RPCRedirectsTotal)
	prometheus.MustRegister(ShardsAssignedTotal)
	prometheus.MustRegister(ShardDrainsTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
