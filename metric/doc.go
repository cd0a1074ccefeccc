// Package metric provides the framework's prometheus metrics registry.
//
// Each invocation constructs its own MetricsRegistry so repeated local runs
// never collide on the global default registry. The registry carries the
// core framework metrics (step durations, event queue counters, upload and
// flush counters) and accepts component-specific collectors under scoped
// names.
package metric
