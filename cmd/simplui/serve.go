package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/simplui/simplui/internal/api"
	"github.com/simplui/simplui/internal/catalog"
	"github.com/simplui/simplui/internal/events"
	"github.com/simplui/simplui/internal/metrics"
	"github.com/simplui/simplui/internal/mqtt"
	"github.com/simplui/simplui/internal/orchestrator"
	"github.com/simplui/simplui/internal/storage/postgres"
	"github.com/simplui/simplui/internal/version"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Serve the HTTP and WebSocket API",
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		client, err := newComfyClient()
		if err != nil {
			return err
		}
		creds, err := api.LoadCredentials()
		if err != nil {
			return err
		}

		hostname, _ := os.Hostname()
		ready := api.NewReadiness()
		opts := []api.Option{
			api.WithEngineChecker(client),
			api.WithGatherer(metrics.NewRegistry()),
			api.WithCredentials(creds),
			api.WithTLS(api.TLSFiles{CertFile: cfg.TLS.CertFile, KeyFile: cfg.TLS.KeyFile}),
			api.WithReadiness(ready),
			api.WithLogger(logger),
		}

		if cfg.Postgres.Enabled {
			pg, err := postgres.New(cfg.Postgres.DSN, hostname)
			if err != nil {
				logger.Warn("postgres unavailable, events kept in memory only", zap.Error(err))
				ready.SetPostgres(true, false)
			} else {
				defer pg.Close()
				events.SetPostgresClient(pg)
				defer events.SetPostgresClient(nil)
				opts = append(opts, api.WithEventStore(pg))
				ready.SetPostgres(true, true)
			}
		}

		sessions := orchestrator.NewRegistry(orchestrator.New(orchestrator.NewComfyEngine(client), orchestrator.WithLogger(logger)))
		srv := api.NewServer(sessions, catalog.New(cfg, client, logger), opts...)

		g, gctx := errgroup.WithContext(ctx)
		if cfg.MQTT.Enabled() {
			mc := startMQTT(gctx, g, sessions, ready, hostname)
			defer mc.Disconnect()
		}

		events.Emit("info", "system.startup", "simplui starting", map[string]interface{}{
			"version":  version.Version,
			"hostname": hostname,
			"pid":      os.Getpid(),
			"listen":   cfg.Listen,
			"engine":   client.BaseURL(),
		})

		g.Go(func() error { return srv.ListenAndServe(gctx, cfg.Listen) })
		err = g.Wait()

		events.Emit("info", "system.shutdown", "simplui stopping", nil)
		if err != nil {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	},
}

// startMQTT connects the bridge and runs the event publisher in g. The
// broker is retried in the background when it is not up yet.
func startMQTT(ctx context.Context, g *errgroup.Group, sessions *orchestrator.Registry, ready *api.Readiness, hostname string) *mqtt.Client {
	mcfg := cfg.MQTT
	if mcfg.ClientID == "" {
		mcfg.ClientID = "simplui-" + hostname
	}

	ready.SetMQTT(true, false)
	mc := mqtt.NewClient(mcfg,
		mqtt.WithLogger(logger),
		mqtt.WithConnectionHandler(func(connected bool) { ready.SetMQTT(true, connected) }))

	sub := mqtt.NewControlSubscriber(mc, sessions, mcfg.TopicPrefix, logger)
	mc.OnConnect(func() {
		sub.ClearSubscriptions()
		if err := sub.Subscribe(); err != nil {
			logger.Warn("mqtt subscribe failed", zap.String("topic", sub.Topic()), zap.Error(err))
		}
	})

	if err := mc.Connect(); err != nil {
		logger.Warn("mqtt not connected, retrying in background", zap.String("broker", mc.URL()), zap.Error(err))
	}

	pub := mqtt.NewEventPublisher(mc, mcfg.TopicPrefix, logger)
	g.Go(func() error {
		pub.Run(ctx)
		return nil
	})
	return mc
}
