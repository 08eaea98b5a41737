package server

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/joshp123/gohome-melcloud/internal/core"
)

type pluginHealth struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthHandler reports plugin health. It answers 503 when any plugin is
// in error; degraded plugins still count as up.
func HealthHandler(plugins []core.Plugin) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		code := http.StatusOK
		out := make([]pluginHealth, 0, len(plugins))
		for _, p := range plugins {
			h := p.Health()
			if !h.Serving() {
				code = http.StatusServiceUnavailable
			}
			out = append(out, pluginHealth{ID: p.ID(), Status: string(h), Message: p.HealthMessage()})
		}
		writeJSON(w, code, map[string]any{"plugins": out})
	}
}

func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}

// DashboardsHandler serves embedded Grafana dashboards by path. The bare
// prefix lists what is available.
func DashboardsHandler(dashboards map[string][]byte) http.Handler {
	index := make([]string, 0, len(dashboards))
	for path := range dashboards {
		index = append(index, path)
	}
	sort.Strings(index)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.TrimSuffix(r.URL.Path, "/") == "/dashboards" {
			writeJSON(w, http.StatusOK, map[string]any{"dashboards": index})
			return
		}
		data, ok := dashboards[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache")
		_, _ = w.Write(data)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
