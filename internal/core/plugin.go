package core

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
)

// HealthStatus is reported through the registry, /health and gRPC health.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "HEALTHY"
	HealthDegraded HealthStatus = "DEGRADED"
	HealthError    HealthStatus = "ERROR"
)

// Serving reports whether the plugin can answer requests. Degraded plugins
// serve cached state.
func (h HealthStatus) Serving() bool {
	return h != HealthError
}

// Dashboard is an embedded Grafana dashboard, served under
// /dashboards/<plugin>/<name>.json.
type Dashboard struct {
	Name string
	JSON []byte
}

// Manifest is what clients see through the registry service. Services
// lists the full gRPC service names the plugin registers.
type Manifest struct {
	PluginID    string   `json:"plugin_id"`
	DisplayName string   `json:"display_name"`
	Version     string   `json:"version"`
	Services    []string `json:"services"`
}

// Plugin is implemented by every compiled-in integration.
type Plugin interface {
	ID() string
	Manifest() Manifest
	// AgentsMD is operator and agent facing documentation of the services.
	AgentsMD() string
	Dashboards() []Dashboard
	RegisterGRPC(grpc.ServiceRegistrar)
	Collectors() []prometheus.Collector
	Health() HealthStatus
	// HealthMessage explains a non-healthy status.
	HealthMessage() string
}

// Runner is implemented by plugins with background work. Start must not
// block; Stop waits for the work to end.
type Runner interface {
	Start(ctx context.Context) error
	Stop()
}

// HTTPRegistrant is implemented by plugins with extra HTTP endpoints.
type HTTPRegistrant interface {
	RegisterHTTP(*http.ServeMux)
}
