package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/joshp123/gohome-melcloud/internal/core"
)

// NewMux wires the standard HTTP endpoints. events may be nil.
func NewMux(plugins []core.Plugin, registry *prometheus.Registry, events *EventHub) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", HealthHandler(plugins))
	mux.Handle("/metrics", MetricsHandler(registry))
	mux.Handle("/dashboards/", DashboardsHandler(core.DashboardsMap(plugins)))
	if events != nil {
		mux.Handle("/events", events)
	}
	for _, p := range plugins {
		if r, ok := p.(core.HTTPRegistrant); ok {
			r.RegisterHTTP(mux)
		}
	}
	return mux
}
