package plugins

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/joshp123/gohome-melcloud/internal/config"
	"github.com/joshp123/gohome-melcloud/internal/core"
	"github.com/joshp123/gohome-melcloud/internal/host"
	"github.com/joshp123/gohome-melcloud/internal/oauth"
	"github.com/joshp123/gohome-melcloud/internal/store"
)

// Runtime is the shared infrastructure handed to every plugin factory.
type Runtime struct {
	Host       host.Host
	Cache      *store.DB
	BlobStore  oauth.BlobStore
	Logger     zerolog.Logger
	HTTPClient *http.Client
}

// Persister returns the token persister for provider under cfg.
func (r Runtime) Persister(cfg *config.Config, provider string) *oauth.Persister {
	return oauth.NewPersister(provider, cfg.OAuth.StatePath(provider), r.BlobStore, r.Logger)
}

// RefreshInterval is the proactive token refresh cadence.
func (r Runtime) RefreshInterval(cfg *config.Config) time.Duration {
	return cfg.OAuth.RefreshInterval()
}

// Factory builds a plugin instance from the loaded config. It reports false
// when the plugin is not configured.
type Factory func(ctx context.Context, cfg *config.Config, rt Runtime) (core.Plugin, bool, error)

var compiled = map[string]Factory{}

// Register adds a compiled-in plugin factory to the registry.
func Register(id string, factory Factory) {
	if _, dup := compiled[id]; dup {
		panic(fmt.Sprintf("plugin %q registered twice", id))
	}
	compiled[id] = factory
}

// Build returns the configured plugin instances for this build.
func Build(ctx context.Context, cfg *config.Config, rt Runtime) ([]core.Plugin, error) {
	if cfg == nil {
		return nil, nil
	}
	ids := make([]string, 0, len(compiled))
	for id := range compiled {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []core.Plugin
	for _, id := range ids {
		plugin, ok, err := compiled[id](ctx, cfg, rt)
		if err != nil {
			return nil, fmt.Errorf("plugin %s: %w", id, err)
		}
		if ok {
			out = append(out, plugin)
		}
	}
	if err := core.ValidateEnabledPlugins(out, config.EnabledPlugins(cfg)); err != nil {
		return nil, err
	}
	if err := core.ValidatePlugins(out); err != nil {
		return nil, err
	}
	return out, nil
}
