package indengine

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// startConsumer starts the Redis stream XREADGROUP consumer in a goroutine.
func (svc *Service) startConsumer(ctx context.Context) {
	if len(svc.streams) == 0 {
		return
	}
	go func() {
		if err := svc.redisReader.ConsumeCandles(ctx, svc.streams, svc.candleCh); err != nil && ctx.Err() == nil {
			slog.Error("candle consumer stopped", "error", err)
		}
	}()
}

// startFormingSubscriber feeds live forming bars into the tail of each series.
func (svc *Service) startFormingSubscriber(ctx context.Context) {
	go func() {
		if err := svc.redisReader.SubscribeForming(ctx, svc.sourceTFs(), svc.formingCh); err != nil {
			slog.Warn("forming candle subscription failed", "error", err)
		}
	}()
}

// startPELReclaimer starts periodic reclamation of stale PEL messages.
func (svc *Service) startPELReclaimer(ctx context.Context) {
	if len(svc.streams) == 0 {
		return
	}
	go svc.redisReader.StartPELReclaimer(ctx, svc.streams,
		time.Duration(svc.cfg.PELIntervalS)*time.Second,
		svc.cfg.PELMinIdleMs, svc.candleCh,
		func(count int) {
			svc.prom.PELMessagesReclaimed.Add(float64(count))
			slog.Info("reclaimed stale PEL messages", "count", count)
		})
	slog.Info("PEL reclaimer started", "interval_s", svc.cfg.PELIntervalS, "min_idle_ms", svc.cfg.PELMinIdleMs)
}

// processLoop applies closed and forming candles to the engine in arrival order.
func (svc *Service) processLoop(ctx context.Context) {
	const (
		indicatorLatencyKey           = "metrics:indengine:indicator_compute_ms"
		indicatorLatencyTTL           = 30 * time.Second
		indicatorLatencyPublishMinDur = 2 * time.Second
		indicatorLatencyAlpha         = 0.2
	)
	var (
		latencyEwmaMs      float64
		lastLatencyPublish time.Time
	)

	for {
		var start time.Time
		select {
		case <-ctx.Done():
			return
		case c, ok := <-svc.candleCh:
			if !ok {
				return
			}
			start = time.Now()
			svc.pipe.handle(ctx, c, false)
		case c := <-svc.formingCh:
			start = time.Now()
			svc.pipe.handle(ctx, c, true)
		}
		svc.prom.ObserveSaturation("candles", len(svc.candleCh), cap(svc.candleCh))

		// Track EWMA latency and publish periodically
		latencyMs := float64(time.Since(start).Microseconds()) / 1000.0
		if latencyEwmaMs == 0 {
			latencyEwmaMs = latencyMs
		} else {
			latencyEwmaMs = latencyEwmaMs*(1.0-indicatorLatencyAlpha) + latencyMs*indicatorLatencyAlpha
		}
		if time.Since(lastLatencyPublish) >= indicatorLatencyPublishMinDur {
			cctx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
			_ = svc.redisWriter.Client().Set(cctx, indicatorLatencyKey,
				fmt.Sprintf("%.3f", latencyEwmaMs), indicatorLatencyTTL).Err()
			cancel()
			lastLatencyPublish = time.Now()
		}
	}
}
