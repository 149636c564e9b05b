package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"personal/discord_gateway/src/client"
	"personal/discord_gateway/src/config"
	"personal/discord_gateway/src/fleet"
	"personal/discord_gateway/src/identifylock"
)

func runCmd(debug *bool, envFiles *[]string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect the configured shards and keep them online",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*envFiles...)
			if err != nil {
				return err
			}
			log, err := config.NewLogger(cfg.LogLevel, *debug)
			if err != nil {
				return err
			}
			defer log.Sync()

			tracing := otel.GetTracerProvider()
			tp, err := config.NewTracerProvider(cfg.TraceExporter, os.Stdout)
			if err != nil {
				return err
			}
			if tp != nil {
				otel.SetTracerProvider(tp)
				tracing = tp
				defer func() {
					ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					if err := tp.Shutdown(ctx); err != nil {
						log.Warn("could not flush traces", zap.Error(err))
					}
				}()
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, log, tracing)
		},
	}
}

func run(ctx context.Context, cfg config.Config, log *zap.Logger, tracing trace.TracerProvider) error {
	resolver := resolverFor(cfg)
	bot, err := resolver.GatewayBot(ctx)
	if err != nil {
		return fmt.Errorf("could not resolve gateway: %w", err)
	}

	count := cfg.ShardCount
	if count == 0 {
		count = bot.Shards
	}
	if count <= 0 {
		count = 1
	}
	ids := cfg.Shards(count)
	for _, id := range ids {
		if id >= count {
			return fmt.Errorf("shard %d is outside a shard count of %d", id, count)
		}
	}

	opts := []client.Option{
		client.WithResolver(client.StaticResolver(bot)),
		client.WithLogger(log.Named("shard")),
		client.WithTracerProvider(tracing),
	}
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("discord-gateway"))
		if err != nil {
			return fmt.Errorf("could not connect to nats: %w", err)
		}
		defer nc.Close()
		opts = append(opts, client.WithLocker(identifyLocks(cfg, nc, log, tracing)))
	}

	shards := make([]fleet.Shard, 0, len(ids))
	for _, id := range ids {
		shards = append(shards, client.New(gatewayConfig(cfg, id, count), opts...))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	fleetOpts := fleet.DefaultOptions()
	fleetOpts.Limit = bot.SessionStartLimit
	fleetOpts.ReconnectDelay = cfg.ReconnectDelay
	fleetOpts.MaxReconnectDelay = cfg.MaxReconnectDelay
	fleetOpts.CloseFlush = cfg.FlushWindow
	coord := fleet.New(shards, fleetOpts, log.Named("fleet"), fleet.NewMetrics(reg))

	srv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           fleet.Router(coord, reg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("status server listening", zap.String("addr", cfg.MetricsAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("status server failed", zap.Error(err))
		}
	}()

	go logEvents(coord.Events(), log)
	coord.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("status server shutdown", zap.Error(err))
	}
	log.Info("gateway stopped")
	return nil
}

func resolverFor(cfg config.Config) client.Resolver {
	if cfg.GatewayURL != "" {
		return client.StaticResolver{
			URL:               cfg.GatewayURL,
			Shards:            cfg.ShardCount,
			SessionStartLimit: client.SessionStartLimit{MaxConcurrency: 1},
		}
	}
	return client.NewRESTClient(cfg.Token, cfg.APIBaseURL, nil)
}

func identifyLocks(cfg config.Config, nc *nats.Conn, log *zap.Logger, tracing trace.TracerProvider) *identifylock.Set {
	set := identifylock.SetConfig{
		Main:           identifylock.Lock{Name: cfg.MainLock, TTL: cfg.MainLockTTL},
		Fallback:       cfg.LockFallback,
		TracerProvider: tracing,
	}
	for _, name := range cfg.Locks {
		set.Locks = append(set.Locks, identifylock.Lock{Name: name, TTL: cfg.LockTTL})
	}
	lockClient := identifylock.NewClient(nc, cfg.LockPrefix, 0)
	return identifylock.NewSet(lockClient, set, log.Named("identifylock"))
}

func gatewayConfig(cfg config.Config, id, count int) client.Config {
	largeThreshold := cfg.LargeThreshold

	gw := client.DefaultConfig()
	gw.ShardID = id
	gw.ShardCount = count
	gw.Identify = client.IdentifyPayload{
		Token:          cfg.Token,
		Compress:       cfg.Compress,
		LargeThreshold: &largeThreshold,
		Intents:        cfg.Intents,
	}
	gw.HeartbeatOffset = cfg.HeartbeatOffset
	gw.HeartbeatGrace = cfg.HeartbeatGrace
	gw.HeartbeatCloseFlush = cfg.FlushWindow
	gw.ConnectTimeout = cfg.ConnectTimeout
	gw.CloseTimeout = cfg.CloseTimeout
	gw.LockTimeout = cfg.LockTimeout
	return gw
}

func logEvents(events <-chan client.Event, log *zap.Logger) {
	for e := range events {
		switch e.Kind {
		case client.EventDispatch:
			log.Debug("dispatch", zap.Int("shard", e.Shard), zap.String("type", e.Type), zap.Int64("seq", e.Sequence))
		case client.EventReady:
			log.Info("shard ready", zap.Int("shard", e.Shard), zap.String("session_id", e.SessionID))
		case client.EventResumed:
			log.Info("shard resumed", zap.Int("shard", e.Shard), zap.Int("replayed", e.Replayed))
		case client.EventClose:
			log.Info("shard closed", zap.Int("shard", e.Shard), zap.Int("code", e.Code), zap.Bool("reconnect", e.Verdict.Reconnect))
		default:
			log.Debug(e.Kind.String(), zap.Int("shard", e.Shard))
		}
	}
}
