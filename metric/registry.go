package metric

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsRegistry manages the registration and lifecycle of metrics for one
// invocation. Each invocation gets its own prometheus registry so repeated
// local runs do not collide on the default global registry.
type MetricsRegistry struct {
	prometheusRegistry *prometheus.Registry
	Metrics            *Metrics
	registeredMetrics  map[string]prometheus.Collector
	mu                 sync.RWMutex
}

// NewMetricsRegistry creates a new metrics registry with core framework metrics
func NewMetricsRegistry() *MetricsRegistry {
	registry := &MetricsRegistry{
		prometheusRegistry: prometheus.NewRegistry(),
		registeredMetrics:  make(map[string]prometheus.Collector),
	}

	registry.Metrics = NewMetrics()
	for _, c := range registry.Metrics.collectors() {
		registry.prometheusRegistry.MustRegister(c)
	}

	return registry
}

// PrometheusRegistry returns the underlying Prometheus registry
func (r *MetricsRegistry) PrometheusRegistry() *prometheus.Registry {
	return r.prometheusRegistry
}

// CoreMetrics returns the core framework metrics
func (r *MetricsRegistry) CoreMetrics() *Metrics {
	return r.Metrics
}

// Register registers a component-specific collector under a scoped name.
// Registering the same name twice is an error so components cannot silently
// shadow each other's series.
func (r *MetricsRegistry) Register(componentName, metricName string, collector prometheus.Collector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := fmt.Sprintf("%s.%s", componentName, metricName)
	if _, exists := r.registeredMetrics[key]; exists {
		return fmt.Errorf("metric %s already registered for component %s", metricName, componentName)
	}

	if err := r.prometheusRegistry.Register(collector); err != nil {
		return fmt.Errorf("failed to register metric %s: %w", key, err)
	}

	r.registeredMetrics[key] = collector
	return nil
}

// Unregister removes a previously registered component metric
func (r *MetricsRegistry) Unregister(componentName, metricName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := fmt.Sprintf("%s.%s", componentName, metricName)
	collector, exists := r.registeredMetrics[key]
	if !exists {
		return false
	}

	delete(r.registeredMetrics, key)
	return r.prometheusRegistry.Unregister(collector)
}
