package core

import (
	"context"
	"sync"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joshp123/gohome-melcloud/internal/rpc"
)

// RegistryServiceName is the gRPC service plugins are discovered through.
const RegistryServiceName = "gohome.registry.v1.Registry"

type PluginSummary struct {
	PluginID    string `json:"plugin_id"`
	DisplayName string `json:"display_name"`
	Version     string `json:"version"`
	Status      string `json:"status"`
}

type DashboardRef struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

type PluginDescriptor struct {
	PluginSummary
	Services      []string       `json:"services"`
	AgentsMD      string         `json:"agents_md"`
	HealthMessage string         `json:"health_message,omitempty"`
	Dashboards    []DashboardRef `json:"dashboards"`
}

// RegistryService provides plugin discovery to clients.
type RegistryService struct {
	plugins []Plugin
	mu      sync.RWMutex
}

func NewRegistryService(plugins []Plugin) *RegistryService {
	return &RegistryService{plugins: plugins}
}

func (r *RegistryService) ListPlugins(context.Context) []PluginSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]PluginSummary, 0, len(r.plugins))
	for _, p := range r.plugins {
		out = append(out, summarize(p))
	}
	return out
}

func (r *RegistryService) DescribePlugin(_ context.Context, pluginID string) (PluginDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		manifest := p.Manifest()
		if manifest.PluginID != pluginID {
			continue
		}
		d := PluginDescriptor{
			PluginSummary: summarize(p),
			Services:      manifest.Services,
			AgentsMD:      p.AgentsMD(),
			HealthMessage: p.HealthMessage(),
		}
		for _, dash := range p.Dashboards() {
			d.Dashboards = append(d.Dashboards, DashboardRef{
				Name: dash.Name,
				Path: dashboardPath(manifest.PluginID, dash.Name),
			})
		}
		return d, true
	}
	return PluginDescriptor{}, false
}

func summarize(p Plugin) PluginSummary {
	manifest := p.Manifest()
	return PluginSummary{
		PluginID:    manifest.PluginID,
		DisplayName: manifest.DisplayName,
		Version:     manifest.Version,
		Status:      string(p.Health()),
	}
}

// Service exposes the registry over gRPC.
func (r *RegistryService) Service() rpc.Service {
	return rpc.Service{
		Name: RegistryServiceName,
		Methods: map[string]rpc.Handler{
			"ListPlugins": func(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
				return rpc.Encode(map[string]any{"plugins": r.ListPlugins(ctx)})
			},
			"DescribePlugin": func(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
				id := req.GetFields()["plugin_id"].GetStringValue()
				d, ok := r.DescribePlugin(ctx, id)
				if !ok {
					return nil, status.Errorf(codes.NotFound, "plugin %q not found", id)
				}
				return rpc.Encode(map[string]any{"plugin": d})
			},
		},
	}
}
