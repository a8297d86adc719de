package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	simulationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arbor_simulations_total",
		Help: "Simulations backed up into a search tree",
	})

	abandonedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arbor_simulations_abandoned_total",
		Help: "Simulations abandoned after an evaluator failure",
	})

	collisionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arbor_expansion_collisions_total",
		Help: "Simulations that waited on a node another worker was expanding",
	})

	terminalTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arbor_terminal_leaves_total",
		Help: "Simulations that ended on a terminal state",
	})

	evaluationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "arbor_evaluation_duration_seconds",
		Help:    "Evaluator call latency in seconds",
		Buckets: prometheus.ExponentialBuckets(0.00001, 2, 16), // 10us to ~300ms
	})

	searchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "arbor_search_duration_seconds",
		Help:    "Wall-clock time of one search",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
	})

	treeSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arbor_tree_nodes",
		Help: "Nodes in the search tree after the last search",
	})
)

// promCollector mirrors every observation into the process-wide
// prometheus registry.
type promCollector struct {
	Collector
}

func NewPrometheusCollector() Collector {
	return &promCollector{Collector: NewCollector()}
}

func (m *promCollector) AddSimulation() {
	simulationsTotal.Inc()
	m.Collector.AddSimulation()
}

func (m *promCollector) AddAbandoned() {
	abandonedTotal.Inc()
	m.Collector.AddAbandoned()
}

func (m *promCollector) AddCollision() {
	collisionsTotal.Inc()
	m.Collector.AddCollision()
}

func (m *promCollector) AddTerminal() {
	terminalTotal.Inc()
	m.Collector.AddTerminal()
}

func (m *promCollector) ObserveEvaluation(elapsed time.Duration) {
	evaluationDuration.Observe(elapsed.Seconds())
}

func (m *promCollector) Complete(size int) SearchMetric {
	metric := m.Collector.Complete(size)
	searchDuration.Observe(metric.Duration.Seconds())
	treeSize.Set(float64(size))
	return metric
}
