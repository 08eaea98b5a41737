package router

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/joshp123/gohome-melcloud/internal/core"
)

// RegisterPlugins registers the registry, every plugin service, and the
// standard gRPC health service reflecting plugin health.
func RegisterPlugins(registrar grpc.ServiceRegistrar, plugins []core.Plugin) *health.Server {
	core.NewRegistryService(plugins).Service().Register(registrar)
	for _, p := range plugins {
		p.RegisterGRPC(registrar)
	}

	hs := health.NewServer()
	healthpb.RegisterHealthServer(registrar, hs)
	SyncHealth(hs, plugins)
	return hs
}

// SyncHealth publishes each plugin's health under its gRPC service names.
// The empty service name is serving unless a plugin is in error.
func SyncHealth(hs *health.Server, plugins []core.Plugin) {
	overall := healthpb.HealthCheckResponse_SERVING
	for _, p := range plugins {
		status := servingStatus(p.Health())
		if status != healthpb.HealthCheckResponse_SERVING {
			overall = healthpb.HealthCheckResponse_NOT_SERVING
		}
		for _, svc := range p.Manifest().Services {
			hs.SetServingStatus(svc, status)
		}
	}
	hs.SetServingStatus("", overall)
}

// WatchHealth re-syncs plugin health every interval until ctx is done.
func WatchHealth(ctx context.Context, hs *health.Server, plugins []core.Plugin, interval time.Duration, log zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			hs.Shutdown()
			return
		case <-ticker.C:
			SyncHealth(hs, plugins)
			log.Debug().Msg("grpc health synced")
		}
	}
}

func servingStatus(h core.HealthStatus) healthpb.HealthCheckResponse_ServingStatus {
	if !h.Serving() {
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
	return healthpb.HealthCheckResponse_SERVING
}
