package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/DaveSkender/Stock.Indicators-sub014/internal/indengine"
	"github.com/DaveSkender/Stock.Indicators-sub014/internal/logger"
)

func main() {
	cfg, err := indengine.LoadConfig()
	logger.Init("indengine", logger.ParseLevel(cfg.LogLevel))
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	slog.Info("starting indicator engine",
		"tfs", cfg.EnabledTFs, "source_tf", cfg.SourceTF, "snapshot_interval_s", cfg.SnapshotIntervalS)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := indengine.New(ctx, cfg)
	if err != nil {
		slog.Error("init failed", "error", err)
		os.Exit(1)
	}
	if err := svc.Run(ctx); err != nil {
		slog.Error("indicator engine stopped", "error", err)
		os.Exit(1)
	}
}
