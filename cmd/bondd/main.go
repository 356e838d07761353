package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"greenbonds/config"
	"greenbonds/core"
	"greenbonds/observability/logging"
	telemetry "greenbonds/observability/otel"
	"greenbonds/rpc"
	"greenbonds/storage"
)

const serviceName = "bondd"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	envFile := flag.String("env-file", ".env", "Optional dotenv file loaded before the configuration")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configFile, *envFile); err != nil {
		fmt.Fprintf(os.Stderr, "bondd: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configFile, envFile string) error {
	if err := config.LoadEnv(envFile); err != nil {
		return err
	}
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, logCloser := logging.SetupWithOptions(cfg.LoggingOptions(serviceName))
	defer logCloser.Close()

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.TelemetryConfig(serviceName))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.Any("error", err))
		}
	}()

	genesis, err := cfg.Genesis()
	if err != nil {
		return fmt.Errorf("build genesis: %w", err)
	}
	db, err := storage.NewLevelDB(cfg.LedgerPath())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	node, err := core.NewNode(db, genesis, logger)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	node.SetEventSink(newEventLogger(logger))
	for _, module := range cfg.PausedModules {
		node.Pauses().Set(module, true)
		logger.Warn("module paused by configuration", slog.String("module", module))
	}

	replay, err := rpc.OpenReplayStore(cfg.RPC.ReplayStore, cfg.ReplayTTL())
	if err != nil {
		return err
	}
	defer replay.Close()

	adminSecret := cfg.AdminSecret()
	if adminSecret == "" {
		logger.Warn("admin secret not set; bond_create is disabled", slog.String("env", cfg.RPC.AdminTokenEnv))
	}
	server := rpc.NewServer(node, replay, rpc.Config{
		RateLimit:    cfg.RPC.RateLimit,
		Burst:        cfg.RPC.Burst,
		MaxBodyBytes: cfg.RPC.MaxBodyBytes,
		MaxExpiry:    cfg.MaxExpiry(),
		AdminSecret:  adminSecret,
		Quota:        cfg.WriteQuota(),
	}, logger)

	head := node.Head()
	logger.Info("node started",
		slog.String("network", cfg.NetworkName),
		slog.Uint64("height", head.Height),
		slog.String("root", head.Root))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Serve(ctx, cfg.RPCAddress)
	})
	g.Go(func() error {
		return pruneReplay(ctx, replay, logger)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("node stopped")
	return nil
}

func pruneReplay(ctx context.Context, replay *rpc.ReplayStore, logger *slog.Logger) error {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			removed, err := replay.Prune(now)
			if err != nil {
				logger.Warn("replay prune failed", slog.Any("error", err))
				continue
			}
			if removed > 0 {
				logger.Debug("replay store pruned", slog.Int("removed", removed))
			}
		}
	}
}
