package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var _ MetricFactory = (*PrometheusFactory)(nil)

// PrometheusFactory creates metrics registered with a prometheus registry.
// Dots in metric names become underscores. Asking twice for the same name
// returns the same collector.
type PrometheusFactory struct {
	registry *prometheus.Registry

	mu         sync.Mutex
	counters   map[string]prometheus.Counter
	histograms map[string]prometheus.Histogram
}

// NewPrometheusFactory creates a factory backed by registry. A nil registry
// gets a fresh one.
func NewPrometheusFactory(registry *prometheus.Registry) *PrometheusFactory {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	return &PrometheusFactory{
		registry:   registry,
		counters:   make(map[string]prometheus.Counter),
		histograms: make(map[string]prometheus.Histogram),
	}
}

// Registry returns the registry the metrics are registered with.
func (f *PrometheusFactory) Registry() *prometheus.Registry { return f.registry }

// Counter implements MetricFactory.
func (f *PrometheusFactory) Counter(name string) Counter {
	f.mu.Lock()
	defer f.mu.Unlock()

	name = metricName(name) + "_total"
	if c, ok := f.counters[name]; ok {
		return c
	}
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Name: name,
		Help: "Count of " + strings.ReplaceAll(name, "_", " ") + ".",
	})
	f.registry.MustRegister(c)
	f.counters[name] = c
	return c
}

// Histogram implements MetricFactory.
func (f *PrometheusFactory) Histogram(name string) Histogram {
	f.mu.Lock()
	defer f.mu.Unlock()

	name = metricName(name)
	if h, ok := f.histograms[name]; ok {
		return h
	}
	h := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    name,
		Help:    "Distribution of " + strings.ReplaceAll(name, "_", " ") + ".",
		Buckets: prometheus.ExponentialBuckets(1, 4, 12),
	})
	f.registry.MustRegister(h)
	f.histograms[name] = h
	return h
}

func metricName(name string) string {
	return strings.NewReplacer(".", "_", "-", "_").Replace(name)
}
