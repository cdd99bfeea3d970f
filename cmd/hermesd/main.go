package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hermes-cache/hermes/internal/config"
	"github.com/hermes-cache/hermes/internal/engine"
	"github.com/hermes-cache/hermes/internal/metrics"
	"github.com/hermes-cache/hermes/internal/serve"
	"github.com/hermes-cache/hermes/pkg/natsutil"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	showVersion := flag.Bool("version", false, "show version")
	flag.Parse()

	if *showVersion {
		fmt.Printf("hermesd %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Observability.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("fatal error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	conn, err := natsutil.Connect(cfg.Cluster, logger.Named("nats"))
	if err != nil {
		return fmt.Errorf("connecting to NATS: %w", err)
	}
	defer conn.Close()

	node, err := engine.New(ctx, cfg, conn, logger.Named("engine"))
	if err != nil {
		return fmt.Errorf("constructing node: %w", err)
	}
	defer node.Close()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return node.Flush.Run(gctx) })
	g.Go(func() error { return node.Router.Listen(gctx, node.HandleShardRequest) })
	g.Go(func() error { return node.ServeFrontDoor(gctx) })

	if cfg.API.Enabled {
		g.Go(func() error { return serve.RunHTTP(gctx, cfg.API, node, logger.Named("api")) })
	}

	if cfg.Observability.Metrics.Enabled {
		g.Go(func() error { return metrics.RunServer(gctx, cfg.Observability.Metrics) })
	}

	if cfg.Observability.Health.Enabled {
		healthChecker := metrics.NewHealthChecker(conn, node.Targets)
		g.Go(func() error { return metrics.RunHealthServer(gctx, cfg.Observability.Health, healthChecker) })
	}

	logger.Info("hermesd started",
		zap.String("version", version),
		zap.Uint64("node_id", uint64(node.ID)),
		zap.Int("lanes", cfg.Lanes),
		zap.String("nats_url", cfg.Cluster.NATSURL),
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("shutting down, flushing dirty blobs...")
	node.Flush.Cycle(context.Background())

	return nil
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	switch cfg.Level {
	case "debug":
		zapCfg.Level.SetLevel(zap.DebugLevel)
	case "info":
		zapCfg.Level.SetLevel(zap.InfoLevel)
	case "warn":
		zapCfg.Level.SetLevel(zap.WarnLevel)
	case "error":
		zapCfg.Level.SetLevel(zap.ErrorLevel)
	}

	return zapCfg.Build()
}
