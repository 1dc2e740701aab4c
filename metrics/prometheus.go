package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements Collector on top of the
// Prometheus client library.
type PrometheusCollector struct {
	iterations *prometheus.CounterVec
	durations  *prometheus.HistogramVec
	finished   *prometheus.GaugeVec
	load       *prometheus.GaugeVec
}

var _ Collector = (*PrometheusCollector)(nil)

// NewPrometheus creates a collector and registers its
// metrics with reg.
//
// A nil reg uses prometheus.DefaultRegisterer and an empty
// namespace defaults to "lockstep".
func NewPrometheus(reg prometheus.Registerer, namespace string) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "lockstep"
	}
	p := &PrometheusCollector{
		iterations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "iterations_total",
			Help:      "Completed iterations by engine and rank.",
		}, []string{"engine", "rank"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "iteration_duration_seconds",
			Help:      "Duration of a single iteration, barrier excluded.",
			Buckets:   prometheus.ExponentialBuckets(1e-4, 4, 10),
		}, []string{"engine", "rank"}),
		finished: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "finished",
			Help:      "1 once an engine has used up its iteration budget.",
		}, []string{"engine", "rank"}),
		load: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "loadmgr",
			Name:      "rank_load",
			Help:      "Cumulative work items assigned to each rank.",
		}, []string{"rank"}),
	}
	for _, c := range []prometheus.Collector{p.iterations, p.durations, p.finished, p.load} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// ObserveIteration counts the iteration and records its
// duration.
func (p *PrometheusCollector) ObserveIteration(engine string, rank int, seconds float64) {
	r := strconv.Itoa(rank)
	p.iterations.WithLabelValues(engine, r).Inc()
	p.durations.WithLabelValues(engine, r).Observe(seconds)
}

// SetFinished sets the finished gauge to 0 or 1.
func (p *PrometheusCollector) SetFinished(engine string, rank int, finished bool) {
	var v float64
	if finished {
		v = 1
	}
	p.finished.WithLabelValues(engine, strconv.Itoa(rank)).Set(v)
}

// SetRankLoad sets the load gauge of a rank.
func (p *PrometheusCollector) SetRankLoad(rank int, load int) {
	p.load.WithLabelValues(strconv.Itoa(rank)).Set(float64(load))
}
