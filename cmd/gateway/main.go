package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/DaveSkender/Stock.Indicators-sub014/config"
	"github.com/DaveSkender/Stock.Indicators-sub014/internal/gateway"
	"github.com/DaveSkender/Stock.Indicators-sub014/internal/indengine"
	"github.com/DaveSkender/Stock.Indicators-sub014/internal/indicator"
	"github.com/DaveSkender/Stock.Indicators-sub014/internal/logger"
	"github.com/DaveSkender/Stock.Indicators-sub014/internal/metrics"
)

func main() {
	processStart := time.Now()

	// The gateway serves what the engine computes, so it reads the
	// engine's configuration.
	cfg, err := indengine.LoadConfig()
	logger.Init("gateway", logger.ParseLevel(cfg.LogLevel))
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	listenAddr := config.GetEnv("GATEWAY_ADDR", ":9090")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Error("redis connection failed", "addr", cfg.RedisAddr, "error", err)
		os.Exit(1)
	}

	var indicators []indicator.IndicatorConfig
	if len(cfg.IndicatorConfigs) > 0 {
		indicators = cfg.IndicatorConfigs[0].Indicators
	}
	hub := gateway.NewHub(ctx, rdb, gateway.Options{
		TFs:        cfg.EnabledTFs,
		Tokens:     cfg.SubscribeTokenKeys,
		Indicators: indicators,
		Metrics:    metrics.NewMetrics(),
	})
	go hub.Run(ctx)
	go hub.StartStatsBroadcast(ctx, 2*time.Second)

	mux := http.NewServeMux()
	gateway.RegisterRoutes(mux, hub, processStart)
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: listenAddr, Handler: mux}
	go func() {
		slog.Info("gateway serving", "addr", listenAddr, "tfs", cfg.EnabledTFs, "indicators", len(indicators))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			slog.Error("gateway server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("gateway shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
}
