package metrics

import "github.com/prometheus/client_golang/prometheus"

// Option configures Metrics.
type Option func(*Metrics)

// WithNamespace sets the namespace for all metrics.
func WithNamespace(namespace string) Option {
	return func(m *Metrics) {
		if namespace != "" {
			m.namespace = namespace
		}
	}
}

// WithRegistry registers collectors on r instead of the default registerer.
func WithRegistry(r prometheus.Registerer) Option {
	return func(m *Metrics) {
		if r != nil {
			m.registry = r
		}
	}
}

// WithConstLabels attaches labels to every metric, e.g. the instance id.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(m *Metrics) {
		if len(labels) > 0 {
			m.constLabels = labels
		}
	}
}

// WithHistogramBuckets sets the buckets of latency histograms, in seconds.
func WithHistogramBuckets(buckets []float64) Option {
	return func(m *Metrics) {
		if len(buckets) > 0 {
			m.buckets = buckets
		}
	}
}
