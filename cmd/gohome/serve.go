package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/joshp123/gohome-melcloud/internal/config"
	"github.com/joshp123/gohome-melcloud/internal/core"
	"github.com/joshp123/gohome-melcloud/internal/host"
	"github.com/joshp123/gohome-melcloud/internal/logging"
	"github.com/joshp123/gohome-melcloud/internal/mqtthost"
	"github.com/joshp123/gohome-melcloud/internal/oauth"
	"github.com/joshp123/gohome-melcloud/internal/plugins"
	"github.com/joshp123/gohome-melcloud/internal/rate"
	"github.com/joshp123/gohome-melcloud/internal/router"
	"github.com/joshp123/gohome-melcloud/internal/server"
	"github.com/joshp123/gohome-melcloud/internal/store"
)

var errBlobUnavailable = errors.New("oauth blob mirror unavailable")

const (
	healthInterval  = 15 * time.Second
	shutdownTimeout = 10 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bridge daemon",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logging.New(debug, nil)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cache *store.DB
	if cfg.Cache.Path != "" {
		cache, err = store.Open(ctx, cfg.Cache.Path)
		if err != nil {
			return fmt.Errorf("open cache: %w", err)
		}
		defer cache.Close()
	}

	blobStore, err := openBlobStore(cfg)
	if errors.Is(err, errBlobUnavailable) {
		log.Warn().Err(err).Msg("continuing without a verified blob mirror")
	} else if err != nil {
		return err
	}

	events := server.NewEventHub(logging.Component(log, "events"))
	hosts := host.Fanout{events}
	if cfg.MQTT != nil {
		broker, err := dialMQTT(cfg.MQTT, logging.Component(log, "mqtt"))
		if err != nil {
			return err
		}
		defer broker.Close()
		hosts = append(hosts, mqtthost.New(broker, cfg.MQTT.TopicPrefix, logging.Component(log, "mqtt")))
	}

	loaded, err := plugins.Build(ctx, cfg, plugins.Runtime{
		Host:      hosts,
		Cache:     cache,
		BlobStore: blobStore,
		Logger:    log,
	})
	if err != nil {
		return err
	}

	if err := core.WriteDashboards(cfg.Core.DashboardsDir, loaded); err != nil {
		log.Warn().Err(err).Msg("export dashboards")
	}

	var runners []core.Runner
	for _, p := range loaded {
		r, ok := p.(core.Runner)
		if !ok {
			continue
		}
		if err := r.Start(ctx); err != nil {
			stopRunners(runners)
			return fmt.Errorf("start %s: %w", p.ID(), err)
		}
		runners = append(runners, r)
	}
	defer stopRunners(runners)

	grpcServer, err := server.NewGRPCServer(cfg.Core.GRPCAddr, logging.Component(log, "grpc"))
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	healthServer := router.RegisterPlugins(grpcServer.Server, loaded)

	extra := append(oauth.MetricsCollectors(), rate.MetricsCollectors()...)
	extra = append(extra, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "gohome_build_info",
		Help: "Build information",
	}, func() float64 { return 1 }))
	registry := core.MetricsRegistry(loaded, extra...)
	httpServer := server.NewHTTPServer(cfg.Core.HTTPAddr, server.NewMux(loaded, registry, events))

	log.Info().
		Str("grpc", cfg.Core.GRPCAddr).
		Str("http", cfg.Core.HTTPAddr).
		Int("plugins", len(loaded)).
		Msg("gohome started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		router.WatchHealth(gctx, healthServer, loaded, healthInterval, logging.Component(log, "health"))
		return nil
	})
	g.Go(func() error {
		if err := grpcServer.Serve(); err != nil {
			return fmt.Errorf("grpc serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return httpServer.ListenAndServe()
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		grpcServer.Stop()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// openBlobStore returns nil when no mirror is configured.
func openBlobStore(cfg *config.Config) (oauth.BlobStore, error) {
	if !cfg.OAuth.BlobEnabled() {
		return nil, nil
	}
	blobStore, err := oauth.NewS3Store(oauth.BlobConfig{
		Endpoint:      cfg.OAuth.BlobEndpoint,
		Bucket:        cfg.OAuth.BlobBucket,
		Prefix:        cfg.OAuth.BlobPrefix,
		Region:        cfg.OAuth.BlobRegion,
		AccessKeyFile: cfg.OAuth.BlobAccessKeyFile,
		SecretKeyFile: cfg.OAuth.BlobSecretKeyFile,
	})
	if err != nil {
		return nil, fmt.Errorf("oauth blob store: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := blobStore.Check(ctx); err != nil {
		// The local state file stays authoritative.
		return blobStore, fmt.Errorf("%w: %w", errBlobUnavailable, err)
	}
	return blobStore, nil
}

func dialMQTT(cfg *config.MQTTConfig, log zerolog.Logger) (*mqtthost.PahoBroker, error) {
	password, err := cfg.ReadPassword()
	if err != nil {
		return nil, err
	}
	return mqtthost.Dial(mqtthost.BrokerConfig{
		URL:         cfg.Broker,
		ClientID:    cfg.ClientID,
		Username:    cfg.Username,
		Password:    password,
		StatusTopic: cfg.TopicPrefix + "/status",
	}, log)
}

func stopRunners(runners []core.Runner) {
	for i := len(runners) - 1; i >= 0; i-- {
		runners[i].Stop()
	}
}
