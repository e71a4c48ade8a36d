package pool

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "sbl"

type metrics struct {
	submitted prometheus.Counter
	completed *prometheus.CounterVec
	inFlight  prometheus.Gauge
	workers   prometheus.Gauge
	respawns  *prometheus.CounterVec
	duration  prometheus.Histogram
}

const (
	outcomeOK        = "ok"
	outcomeError     = "error"
	outcomeCancelled = "cancelled"
)

func newMetrics() *metrics {
	return &metrics{
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "pool",
			Name:      "requests_submitted_total",
			Help:      "Total number of queries submitted to the pool",
		}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "pool",
			Name:      "requests_completed_total",
			Help:      "Total number of submitted queries that returned, by outcome",
		}, []string{"outcome"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "pool",
			Name:      "requests_in_flight",
			Help:      "Number of requests sent by a worker and awaiting their reply",
		}),
		workers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "pool",
			Name:      "workers_live",
			Help:      "Number of workers holding an open connection",
		}),
		respawns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "pool",
			Name:      "worker_respawns_total",
			Help:      "Total number of worker reconnect attempts, by outcome",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "pool",
			Name:      "request_duration_seconds",
			Help:      "Time between a worker sending a request and receiving its reply",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func (m *metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.submitted, m.completed, m.inFlight, m.workers, m.respawns, m.duration}
}

// register registers every collector with reg and returns the ones that
// were registered, even on error.
func (m *metrics) register(reg prometheus.Registerer) ([]prometheus.Collector, error) {
	registered := make([]prometheus.Collector, 0, len(m.collectors()))
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			return registered, err
		}
		registered = append(registered, c)
	}
	return registered, nil
}
