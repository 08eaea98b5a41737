package plugins

import (
	"context"

	"github.com/joshp123/gohome-melcloud/internal/config"
	"github.com/joshp123/gohome-melcloud/internal/core"
	"github.com/joshp123/gohome-melcloud/plugins/melcloud"
)

func init() {
	Register("melcloud", func(ctx context.Context, cfg *config.Config, rt Runtime) (core.Plugin, bool, error) {
		if cfg.MELCloud == nil {
			return nil, false, nil
		}
		pluginCfg, err := melcloud.ConfigFromFile(cfg.MELCloud)
		if err != nil {
			return nil, false, err
		}
		plugin, err := melcloud.NewPlugin(ctx, pluginCfg, melcloud.Options{
			Host:            rt.Host,
			Cache:           rt.Cache,
			Persister:       rt.Persister(cfg, "melcloud"),
			RefreshInterval: rt.RefreshInterval(cfg),
			Logger:          rt.Logger,
			HTTPClient:      rt.HTTPClient,
		})
		if err != nil {
			return nil, false, err
		}
		return plugin, true, nil
	})
}
