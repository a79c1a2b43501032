package indengine

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/DaveSkender/Stock.Indicators-sub014/internal/indicator"
	"github.com/DaveSkender/Stock.Indicators-sub014/internal/logger"
)

// snapshotSlack moves the replay marker back so candles still queued when
// a snapshot is taken are replayed after a restart.
const snapshotSlack = time.Minute

// snapshotLoop periodically saves engine state to Redis and SQLite.
func (svc *Service) snapshotLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(svc.cfg.SnapshotIntervalS) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			svc.saveSnapshot(streamMarker(time.Now().Add(-snapshotSlack)))
		}
	}
}

// saveSnapshot writes the engine's recent candle history to every
// snapshot store.
func (svc *Service) saveSnapshot(streamID string) {
	traceID := logger.NewTraceID()
	snap := indicator.SnapshotEngine(svc.engine, streamID, svc.cfg.SnapshotMaxCandles)
	data, err := json.Marshal(snap)
	if err != nil {
		slog.Error("snapshot encode failed", "trace_id", traceID, "error", err)
		return
	}

	if err := svc.snapCache.SaveSnapshotJSON(data); err != nil {
		slog.Warn("redis snapshot write failed", "trace_id", traceID, "error", err)
	}
	if svc.sqlWriter != nil {
		if err := svc.sqlWriter.SaveSnapshotJSON(data); err != nil {
			slog.Warn("sqlite snapshot write failed", "trace_id", traceID, "error", err)
		}
	}
	svc.prom.SnapshotsTotal.Inc()
	slog.Info("checkpoint saved", "trace_id", traceID, "stream_id", streamID,
		"series", len(snap.Series), "candles", snap.Candles(), "bytes", len(data))
}

// streamMarker is a Redis stream ID at t. Replaying from it skips entries
// added before the snapshot; the overlap is absorbed as identical resends.
func streamMarker(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10) + "-0"
}
