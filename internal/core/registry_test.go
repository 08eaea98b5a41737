package core

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joshp123/gohome-melcloud/internal/rpc"
)

type stubPlugin struct {
	id            string
	name          string
	version       string
	services      []string
	dashboards    []Dashboard
	agents        string
	health        HealthStatus
	healthMessage string
}

func (s stubPlugin) ID() string { return s.id }

func (s stubPlugin) Manifest() Manifest {
	return Manifest{
		PluginID:    s.id,
		DisplayName: s.name,
		Version:     s.version,
		Services:    s.services,
	}
}

func (s stubPlugin) AgentsMD() string { return s.agents }

func (s stubPlugin) Dashboards() []Dashboard { return s.dashboards }

func (s stubPlugin) RegisterGRPC(grpc.ServiceRegistrar) {}

func (s stubPlugin) Collectors() []prometheus.Collector { return nil }

func (s stubPlugin) Health() HealthStatus { return s.health }

func (s stubPlugin) HealthMessage() string { return s.healthMessage }

func newStubPlugin(id string) stubPlugin {
	return stubPlugin{
		id:         id,
		name:       "Demo",
		version:    "0.1.0",
		services:   []string{"gohome.plugins.demo.v1.DemoService"},
		agents:     "demo agents",
		health:     HealthHealthy,
		dashboards: []Dashboard{{Name: "demo", JSON: []byte("{}")}},
	}
}

func TestRegistryListPlugins(t *testing.T) {
	svc := NewRegistryService([]Plugin{newStubPlugin("demo")})

	plugins := svc.ListPlugins(context.Background())
	if len(plugins) != 1 {
		t.Fatalf("expected 1 plugin, got %d", len(plugins))
	}
	got := plugins[0]
	if got.PluginID != "demo" || got.DisplayName != "Demo" || got.Version != "0.1.0" {
		t.Fatalf("unexpected plugin summary: %+v", got)
	}
	if got.Status != string(HealthHealthy) {
		t.Fatalf("unexpected health status: %s", got.Status)
	}
}

func TestRegistryDescribePlugin(t *testing.T) {
	svc := NewRegistryService([]Plugin{newStubPlugin("demo")})

	d, ok := svc.DescribePlugin(context.Background(), "demo")
	if !ok {
		t.Fatalf("expected plugin descriptor")
	}
	if d.PluginID != "demo" || d.AgentsMD != "demo agents" {
		t.Fatalf("unexpected descriptor: %+v", d)
	}
	if len(d.Dashboards) != 1 || d.Dashboards[0].Path != "/dashboards/demo/demo.json" {
		t.Fatalf("unexpected dashboards: %+v", d.Dashboards)
	}

	if _, ok := svc.DescribePlugin(context.Background(), "missing"); ok {
		t.Fatalf("expected no descriptor for unknown plugin")
	}
}

func TestRegistryOverGRPC(t *testing.T) {
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	NewRegistryService([]Plugin{newStubPlugin("demo")}).Service().Register(srv)
	go func() { _ = srv.Serve(lis) }()
	defer srv.Stop()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	resp, err := rpc.Invoke(context.Background(), conn, RegistryServiceName, "ListPlugins", nil)
	if err != nil {
		t.Fatalf("ListPlugins: %v", err)
	}
	var list struct {
		Plugins []PluginSummary `json:"plugins"`
	}
	if err := rpc.Decode(resp, &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list.Plugins) != 1 || list.Plugins[0].PluginID != "demo" {
		t.Fatalf("unexpected list: %+v", list)
	}

	req, _ := structpb.NewStruct(map[string]any{"plugin_id": "missing"})
	_, err = rpc.Invoke(context.Background(), conn, RegistryServiceName, "DescribePlugin", req)
	if status.Code(err) != codes.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestValidateEnabledPlugins(t *testing.T) {
	compiled := []Plugin{newStubPlugin("demo")}

	if err := ValidateEnabledPlugins(compiled, map[string]bool{"demo": true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ValidateEnabledPlugins(compiled, map[string]bool{"missing": true, "off": false}); err == nil {
		t.Fatalf("expected error for missing plugin")
	}
}

func TestValidatePlugins(t *testing.T) {
	if err := ValidatePlugins([]Plugin{newStubPlugin("demo"), newStubPlugin("melcloud")}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ValidatePlugins([]Plugin{newStubPlugin("demo"), newStubPlugin("demo")}); err == nil {
		t.Fatalf("expected duplicate error")
	}
	if err := ValidatePlugins([]Plugin{newStubPlugin("Bad-ID")}); err == nil {
		t.Fatalf("expected pattern error")
	}
}

func TestDashboardsMap(t *testing.T) {
	m := DashboardsMap([]Plugin{newStubPlugin("demo")})
	if string(m["/dashboards/demo/demo.json"]) != "{}" {
		t.Fatalf("unexpected dashboards: %v", m)
	}
}

func TestValidatePluginsDashboards(t *testing.T) {
	bad := newStubPlugin("demo")
	bad.dashboards = []Dashboard{{Name: "broken", JSON: []byte("{")}}
	if err := ValidatePlugins([]Plugin{bad}); err == nil {
		t.Fatalf("expected invalid dashboard JSON to fail")
	}

	dup := newStubPlugin("demo")
	dup.dashboards = []Dashboard{{Name: "a", JSON: []byte("{}")}, {Name: "a", JSON: []byte("{}")}}
	if err := ValidatePlugins([]Plugin{dup}); err == nil {
		t.Fatalf("expected repeated dashboard name to fail")
	}
}

func TestWriteDashboards(t *testing.T) {
	dir := t.TempDir()
	if err := WriteDashboards(dir, []Plugin{newStubPlugin("demo")}); err != nil {
		t.Fatalf("WriteDashboards: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "demo", "demo.json"))
	if err != nil || string(data) != "{}" {
		t.Fatalf("unexpected dashboard file %q (%v)", data, err)
	}
	if err := WriteDashboards("", nil); err != nil {
		t.Fatalf("expected empty dir to be a no-op, got %v", err)
	}
}

func TestMetricsRegistryHealthGauge(t *testing.T) {
	p := newStubPlugin("demo")
	p.health = HealthDegraded
	families, err := MetricsRegistry([]Plugin{p}).Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != "gohome_plugin_health" {
			continue
		}
		if got := mf.GetMetric()[0].GetGauge().GetValue(); got != 0.5 {
			t.Fatalf("expected 0.5 for degraded, got %v", got)
		}
		return
	}
	t.Fatalf("gohome_plugin_health not gathered")
}
