package core

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// MetricsRegistry builds the daemon registry: runtime collectors, a health
// gauge per plugin, every plugin's own collectors, then extra.
func MetricsRegistry(plugins []Plugin, extra ...prometheus.Collector) *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	for _, p := range plugins {
		registry.MustRegister(healthGauge(p))
		for _, c := range p.Collectors() {
			registry.MustRegister(c)
		}
	}
	registry.MustRegister(extra...)
	return registry
}

// healthGauge is 1 healthy, 0.5 degraded, 0 in error.
func healthGauge(p Plugin) prometheus.GaugeFunc {
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "gohome_plugin_health",
		Help:        "Plugin health (1 healthy, 0.5 degraded, 0 error)",
		ConstLabels: prometheus.Labels{"plugin": p.ID()},
	}, func() float64 {
		switch p.Health() {
		case HealthHealthy:
			return 1
		case HealthDegraded:
			return 0.5
		default:
			return 0
		}
	})
}
