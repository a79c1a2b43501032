// Package metrics exposes Prometheus metrics and the health endpoint of the
// indicator services. Metrics also implements the stream monitor so every
// graph node reports its mutations.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/DaveSkender/Stock.Indicators-sub014/internal/stream"
)

// Metrics holds all Prometheus metrics for the indicator engine.
type Metrics struct {
	CandlesTotal    prometheus.Counter
	CandlesRejected *prometheus.CounterVec // labels: reason
	SeriesActive    prometheus.Gauge

	// Indicator engine metrics
	IndicatorComputeDur prometheus.Histogram
	IndicatorsTotal     *prometheus.CounterVec // labels: act
	SnapshotsTotal      prometheus.Counter
	ConfigReloads       prometheus.Counter

	// Graph node activity, fed through Monitor
	NodeMutations  *prometheus.CounterVec   // labels: node, act
	NodeCascadeDur *prometheus.HistogramVec // labels: act
	NodeCacheSize  *prometheus.GaugeVec     // labels: node
	NodeTerminated *prometheus.CounterVec   // labels: node

	// Backpressure
	FanoutDropsTotal     *prometheus.CounterVec // labels: subscriber
	ChannelSaturationPct *prometheus.GaugeVec   // labels: channel_name

	// PEL reclaim
	PELMessagesReclaimed prometheus.Counter

	// Circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisBufferedWrites      prometheus.Counter

	// Gateway
	GatewayClients prometheus.Gauge
	E2ELatency     prometheus.Histogram // candle-to-WS-emit latency
}

var computeBuckets = []float64{0.000001, 0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005}

// NewMetrics registers and returns all metrics on the default registry.
func NewMetrics() *Metrics {
	return New(prometheus.DefaultRegisterer)
}

// New registers and returns all metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CandlesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indengine_candles_total",
			Help: "Candles accepted by the indicator engine",
		}),
		CandlesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indengine_candles_rejected_total",
			Help: "Candles the engine refused (by reason)",
		}, []string{"reason"}),
		SeriesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "indengine_series_active",
			Help: "Candle series with a live indicator graph",
		}),

		IndicatorComputeDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "indengine_compute_duration_seconds",
			Help:    "Indicator engine compute latency per candle",
			Buckets: computeBuckets,
		}),
		IndicatorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indengine_indicators_total",
			Help: "Indicator values emitted (by act)",
		}, []string{"act"}),
		SnapshotsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indengine_snapshots_total",
			Help: "Engine snapshots saved",
		}),
		ConfigReloads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indengine_config_reloads_total",
			Help: "Successful indicator config reloads",
		}),

		NodeMutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indengine_node_mutations_total",
			Help: "Events emitted by graph nodes (by node and act)",
		}, []string{"node", "act"}),
		NodeCascadeDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "indengine_node_cascade_duration_seconds",
			Help:    "Time to apply an event through a node and its listeners",
			Buckets: computeBuckets,
		}, []string{"act"}),
		NodeCacheSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "indengine_node_cache_size",
			Help: "Cache length of the most recently mutated node of each kind",
		}, []string{"node"}),
		NodeTerminated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indengine_node_terminated_total",
			Help: "Graph nodes that stopped after a fatal mutation",
		}, []string{"node"}),

		FanoutDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indengine_fanout_drops_total",
			Help: "Messages dropped per subscriber because its channel was full",
		}, []string{"subscriber"}),
		ChannelSaturationPct: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "indengine_channel_saturation_pct",
			Help: "Channel fill percentage (len/cap * 100)",
		}, []string{"channel_name"}),

		PELMessagesReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indengine_pel_messages_reclaimed_total",
			Help: "Messages reclaimed from dead consumers via XCLAIM",
		}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "indengine_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indengine_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		RedisBufferedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indengine_redis_buffered_writes_total",
			Help: "Writes buffered locally during Redis circuit breaker open state",
		}),

		GatewayClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_clients",
			Help: "Connected WebSocket clients",
		}),
		E2ELatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gateway_e2e_latency_seconds",
			Help:    "Latency from candle close to WebSocket emit",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}),
	}

	reg.MustRegister(
		m.CandlesTotal,
		m.CandlesRejected,
		m.SeriesActive,
		m.IndicatorComputeDur,
		m.IndicatorsTotal,
		m.SnapshotsTotal,
		m.ConfigReloads,
		m.NodeMutations,
		m.NodeCascadeDur,
		m.NodeCacheSize,
		m.NodeTerminated,
		m.FanoutDropsTotal,
		m.ChannelSaturationPct,
		m.PELMessagesReclaimed,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RedisBufferedWrites,
		m.GatewayClients,
		m.E2ELatency,
	)

	return m
}

// Monitor adapts the metrics to graph node activity.
func (m *Metrics) Monitor() stream.Monitor {
	return monitor{m}
}

type monitor struct{ m *Metrics }

func (o monitor) Mutation(node string, act stream.Act) {
	o.m.NodeMutations.WithLabelValues(node, act.String()).Inc()
}

func (o monitor) Cascade(_ string, act stream.Act, d time.Duration) {
	o.m.NodeCascadeDur.WithLabelValues(act.String()).Observe(d.Seconds())
}

func (o monitor) CacheSize(node string, n int) {
	o.m.NodeCacheSize.WithLabelValues(node).Set(float64(n))
}

func (o monitor) Terminated(node string) {
	o.m.NodeTerminated.WithLabelValues(node).Inc()
}

// ObserveSaturation records how full a buffered channel is.
func (m *Metrics) ObserveSaturation(name string, length, capacity int) {
	if capacity == 0 {
		return
	}
	m.ChannelSaturationPct.WithLabelValues(name).Set(float64(length) / float64(capacity) * 100)
}
