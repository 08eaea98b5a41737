package core

import (
	"fmt"
	"os"
	"path/filepath"
)

type dashboardFile struct {
	plugin string
	name   string
	json   []byte
}

func (d dashboardFile) urlPath() string {
	return dashboardPath(d.plugin, d.name)
}

func dashboardPath(pluginID, name string) string {
	return "/dashboards/" + pluginID + "/" + name + ".json"
}

func dashboardFiles(plugins []Plugin) []dashboardFile {
	var out []dashboardFile
	for _, p := range plugins {
		id := p.Manifest().PluginID
		for _, d := range p.Dashboards() {
			out = append(out, dashboardFile{plugin: id, name: d.Name, json: d.JSON})
		}
	}
	return out
}

// DashboardsMap keys every embedded dashboard by its HTTP path.
func DashboardsMap(plugins []Plugin) map[string][]byte {
	result := make(map[string][]byte)
	for _, f := range dashboardFiles(plugins) {
		result[f.urlPath()] = f.json
	}
	return result
}

// WriteDashboards mirrors the embedded dashboards into dir/<plugin>/<name>.json
// for Grafana file provisioning. An empty dir is a no-op.
func WriteDashboards(dir string, plugins []Plugin) error {
	if dir == "" {
		return nil
	}
	for _, f := range dashboardFiles(plugins) {
		path := filepath.Join(dir, f.plugin, f.name+".json")
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("create dashboard dir: %w", err)
		}
		if err := os.WriteFile(path, f.json, 0o644); err != nil {
			return fmt.Errorf("write dashboard %s: %w", path, err)
		}
	}
	return nil
}
