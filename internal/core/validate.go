package core

import (
	"encoding/json"
	"fmt"
	"regexp"
)

var pluginIDPattern = regexp.MustCompile(`^[a-z][a-z0-9_]+$`)

// ValidatePlugins checks the plugin contract once at startup: ids are
// unique and well formed, manifests agree with ID(), and every embedded
// dashboard is JSON.
func ValidatePlugins(plugins []Plugin) error {
	seen := make(map[string]bool, len(plugins))
	for _, p := range plugins {
		id := p.ID()
		if !pluginIDPattern.MatchString(id) {
			return fmt.Errorf("plugin id %q does not match %s", id, pluginIDPattern)
		}
		if seen[id] {
			return fmt.Errorf("duplicate plugin id: %s", id)
		}
		seen[id] = true

		m := p.Manifest()
		switch {
		case m.PluginID != id:
			return fmt.Errorf("plugin id mismatch: id=%q manifest=%q", id, m.PluginID)
		case m.DisplayName == "" || m.Version == "":
			return fmt.Errorf("plugin %q manifest needs a display name and version", id)
		}

		names := make(map[string]bool)
		for _, d := range p.Dashboards() {
			if d.Name == "" || names[d.Name] {
				return fmt.Errorf("plugin %q: dashboard name %q is empty or repeated", id, d.Name)
			}
			names[d.Name] = true
			if !json.Valid(d.JSON) {
				return fmt.Errorf("plugin %q: dashboard %q is not valid JSON", id, d.Name)
			}
		}
	}
	return nil
}

// ValidateEnabledPlugins fails when config enables a plugin that was not
// built.
func ValidateEnabledPlugins(built []Plugin, enabled map[string]bool) error {
	known := make(map[string]bool, len(built))
	for _, p := range built {
		known[p.ID()] = true
	}
	for id, on := range enabled {
		if on && !known[id] {
			return fmt.Errorf("plugin %q is enabled but not compiled in", id)
		}
	}
	return nil
}
