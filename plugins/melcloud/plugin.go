package melcloud

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"

	"github.com/joshp123/gohome-melcloud/internal/core"
	"github.com/joshp123/gohome-melcloud/internal/host"
	"github.com/joshp123/gohome-melcloud/internal/logging"
	"github.com/joshp123/gohome-melcloud/internal/oauth"
	"github.com/joshp123/gohome-melcloud/internal/poll"
	"github.com/joshp123/gohome-melcloud/internal/rate"
	"github.com/joshp123/gohome-melcloud/internal/store"
)

//go:embed AGENTS.md
var agentsMD string

//go:embed dashboard.json
var dashboardJSON []byte

const (
	pluginID = "melcloud"

	// pollTimeout bounds one poll including retries.
	pollTimeout   = 45 * time.Second
	cacheTimeout  = 5 * time.Second
	healthNoToken = "no refresh token; re-authenticate"
)

// Options carries the shared runtime the plugin plugs into.
type Options struct {
	Host            host.Host
	Cache           *store.DB
	Persister       *oauth.Persister
	RefreshInterval time.Duration
	Logger          zerolog.Logger
	// HTTPClient is the base client for API calls before rate limiting.
	HTTPClient *http.Client
	// TokenHTTPClient talks to the token endpoint.
	TokenHTTPClient *http.Client
}

// Plugin implements the GoHome plugin contract.
type Plugin struct {
	cfg    Config
	log    zerolog.Logger
	cache  *store.DB
	tokens *oauth.Manager

	refreshInterval time.Duration

	engine    *Engine
	adapter   *Adapter
	scheduler *poll.Scheduler
	metrics   *Metrics

	healthMu      sync.RWMutex
	health        core.HealthStatus
	healthMessage string

	cancel context.CancelFunc
}

// NewPlugin builds the plugin. A missing refresh token is not an error: the
// plugin starts in the error health state so the rest of the daemon runs.
func NewPlugin(ctx context.Context, cfg Config, opts Options) (*Plugin, error) {
	log := logging.Component(opts.Logger, pluginID)
	if cfg.Debug {
		log = log.Level(zerolog.DebugLevel)
	}
	h := opts.Host
	if h == nil {
		h = host.NewMemory()
	}

	p := &Plugin{
		cfg:             cfg,
		log:             log,
		cache:           opts.Cache,
		refreshInterval: opts.RefreshInterval,
		metrics:         NewMetrics(),
		health:          core.HealthHealthy,
	}

	refreshToken := cfg.RefreshToken
	managerOpts := []oauth.Option{oauth.WithLogger(log), oauth.WithHTTPClient(opts.TokenHTTPClient)}
	if opts.Persister != nil {
		loaded, err := opts.Persister.Load(ctx, cfg.RefreshToken)
		switch {
		case err == nil:
			refreshToken = loaded
		case !errors.Is(err, oauth.ErrNoRefreshToken):
			return nil, fmt.Errorf("load melcloud refresh token: %w", err)
		}
		managerOpts = append(managerOpts, oauth.WithRotationHandler(opts.Persister.Rotate))
	}

	tokens, err := oauth.NewManager(cfg.OAuthDeclaration(), refreshToken, managerOpts...)
	if err != nil {
		return nil, fmt.Errorf("melcloud oauth: %w", err)
	}
	p.tokens = tokens
	if !tokens.HasRefreshToken() {
		p.setHealth(core.HealthError, healthNoToken)
		log.Warn().Msg("no refresh token configured; units stay unavailable until re-authentication")
	}

	base := opts.HTTPClient
	if base == nil {
		base = &http.Client{}
	}
	client := NewClient(cfg.BaseURL, cfg.UserAgent, tokens,
		WithHTTPClient(rate.WrapHTTP(cfg.RateLimits(), base)),
		WithClientLogger(log),
	)

	p.engine = NewEngine(client, WithEngineLogger(log), WithMetrics(p.metrics))
	p.adapter = NewAdapter(p.engine, h, AdapterOptions{
		FanSpeedButtons: cfg.FanSpeedButtons,
		VaneButtons:     cfg.VaneButtons,
	}, log)
	p.engine.AddObserver(p.adapter)
	p.scheduler = poll.New(cfg.PollInterval, pollTimeout, p.poll, log)
	return p, nil
}

func (p *Plugin) ID() string {
	return pluginID
}

func (p *Plugin) Manifest() core.Manifest {
	return core.Manifest{
		PluginID:    pluginID,
		DisplayName: "MELCloud Home",
		Version:     "0.1.0",
		Services:    []string{ServiceName},
	}
}

func (p *Plugin) AgentsMD() string {
	return agentsMD
}

func (p *Plugin) Dashboards() []core.Dashboard {
	return []core.Dashboard{{Name: "melcloud-overview", JSON: dashboardJSON}}
}

func (p *Plugin) RegisterGRPC(registrar grpc.ServiceRegistrar) {
	RegisterService(registrar, p.engine)
}

func (p *Plugin) Collectors() []prometheus.Collector {
	return append(p.metrics.Collectors(), NewUnitCollector(p.engine))
}

func (p *Plugin) Health() core.HealthStatus {
	p.healthMu.RLock()
	defer p.healthMu.RUnlock()
	return p.health
}

func (p *Plugin) HealthMessage() string {
	p.healthMu.RLock()
	defer p.healthMu.RUnlock()
	return p.healthMessage
}

func (p *Plugin) Engine() *Engine {
	return p.engine
}

func (p *Plugin) Adapter() *Adapter {
	return p.adapter
}

func (p *Plugin) Tokens() *oauth.Manager {
	return p.tokens
}

// Start restores cached units and begins polling.
func (p *Plugin) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.restore(ctx)
	p.tokens.Start(ctx, p.refreshInterval)
	if err := p.scheduler.Start(ctx); err != nil {
		cancel()
		return err
	}
	p.log.Info().Dur("interval", p.cfg.PollInterval).Msg("polling started")
	return nil
}

// Stop ends polling and verification, then writes the cache one last time.
func (p *Plugin) Stop() {
	p.scheduler.Stop()
	if p.cancel != nil {
		p.cancel()
	}
	p.engine.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cacheTimeout)
	defer cancel()
	p.saveCache(ctx)
}

func (p *Plugin) poll(ctx context.Context) error {
	err := p.engine.Poll(ctx)
	p.recordPoll(err)
	if err != nil {
		return err
	}
	p.saveCache(ctx)
	return nil
}

func (p *Plugin) recordPoll(err error) {
	var authErr *AuthError
	switch {
	case err == nil:
		p.setHealth(core.HealthHealthy, "")
	case errors.Is(err, oauth.ErrNoRefreshToken):
		p.setHealth(core.HealthError, healthNoToken)
	case errors.As(err, &authErr), IsUnauthorized(err):
		p.setHealth(core.HealthError, err.Error())
	case errors.Is(err, context.Canceled):
	default:
		p.setHealth(core.HealthDegraded, err.Error())
	}
}

func (p *Plugin) setHealth(status core.HealthStatus, message string) {
	p.healthMu.Lock()
	defer p.healthMu.Unlock()
	p.health = status
	p.healthMessage = message
}

func (p *Plugin) restore(ctx context.Context) {
	if p.cache == nil {
		return
	}
	rows, err := p.cache.Units(ctx, pluginID)
	if err != nil {
		p.log.Warn().Err(err).Msg("read unit cache")
		return
	}
	views := make([]UnitView, 0, len(rows))
	for _, row := range rows {
		var v UnitView
		if err := json.Unmarshal(row.Snapshot, &v); err != nil {
			p.log.Warn().Err(err).Str("unit", row.ID).Msg("skipping unreadable cached unit")
			continue
		}
		views = append(views, v)
	}
	p.engine.Restore(ctx, views)
	if len(views) > 0 {
		p.log.Info().Int("units", len(views)).Msg("restored units from cache")
	}
}

func (p *Plugin) saveCache(ctx context.Context) {
	if p.cache == nil {
		return
	}
	views := p.engine.Snapshots()
	rows := make([]store.Unit, 0, len(views))
	for _, v := range views {
		data, err := json.Marshal(v)
		if err != nil {
			p.log.Warn().Err(err).Str("unit", v.State.ID).Msg("encode cached unit")
			continue
		}
		rows = append(rows, store.Unit{ID: v.State.ID, Name: v.State.Name, Snapshot: data})
	}
	if err := p.cache.ReplaceUnits(ctx, pluginID, rows); err != nil {
		p.log.Warn().Err(err).Msg("write unit cache")
	}
}
