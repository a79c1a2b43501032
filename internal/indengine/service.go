package indengine

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/DaveSkender/Stock.Indicators-sub014/internal/indicator"
	"github.com/DaveSkender/Stock.Indicators-sub014/internal/metrics"
	"github.com/DaveSkender/Stock.Indicators-sub014/internal/model"
	redisstore "github.com/DaveSkender/Stock.Indicators-sub014/internal/store/redis"
	sqlitestore "github.com/DaveSkender/Stock.Indicators-sub014/internal/store/sqlite"
)

// Service is the top-level orchestrator for the indicator engine.
// It wires all dependencies, manages lifecycle, and coordinates goroutines.
type Service struct {
	cfg Config

	engine      *indicator.Engine
	pipe        *pipeline
	redisReader *redisstore.Reader
	redisWriter *redisstore.Writer
	publisher   *redisstore.BufferedWriter
	snapCache   *redisstore.SnapshotCache
	sqlReader   *sqlitestore.Reader
	sqlWriter   *sqlitestore.Writer
	prom        *metrics.Metrics
	health      *metrics.HealthStatus
	metricsSrv  *metrics.Server

	streams   []string
	candleCh  chan model.Candle
	formingCh chan model.Candle
	persistCh chan model.Candle
}

// New creates a new Service from the given Config.
// It connects to Redis and SQLite; the engine is restored in Run.
func New(ctx context.Context, cfg Config) (*Service, error) {
	svc := &Service{
		cfg:       cfg,
		prom:      metrics.NewMetrics(),
		health:    metrics.NewHealthStatus(),
		candleCh:  make(chan model.Candle, 5000),
		formingCh: make(chan model.Candle, 1000),
		persistCh: make(chan model.Candle, 5000),
	}
	svc.health.SetEnabledTFs(cfg.EnabledTFs)

	// ---- Connect to Redis ----
	var err error
	svc.redisReader, err = redisstore.NewReader(redisstore.ReaderConfig{
		Addr:          cfg.RedisAddr,
		Password:      cfg.RedisPassword,
		ConsumerGroup: cfg.ConsumerGroup,
		ConsumerName:  cfg.ConsumerName,
	})
	if err != nil {
		return nil, err
	}
	svc.snapCache = redisstore.NewSnapshotCache(svc.redisReader.Client(), cfg.SnapshotKey)

	svc.redisWriter, err = redisstore.New(redisstore.WriterConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		svc.redisReader.Close()
		return nil, err
	}
	svc.health.SetRedisConnected(true)

	cb := redisstore.NewCircuitBreaker(5, 10*time.Second)
	cb.OnStateChange = func(from, to redisstore.State) {
		svc.prom.RedisCircuitBreakerState.Set(float64(to))
		if to == redisstore.StateOpen {
			svc.prom.RedisCircuitBreakerTrips.Inc()
		}
		slog.Warn("redis circuit breaker transition", "from", from.String(), "to", to.String())
	}
	svc.publisher = redisstore.NewBufferedWriter(ctx, svc.redisWriter, cb, 10000)
	svc.publisher.OnBuffer = svc.prom.RedisBufferedWrites.Inc

	// ---- Open SQLite ----
	if dir := filepath.Dir(cfg.SQLitePath); dir != "" {
		os.MkdirAll(dir, 0o755)
	}
	svc.sqlWriter, err = sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath})
	if err != nil {
		slog.Warn("sqlite writer init failed, candles will not be persisted", "error", err)
	}
	svc.sqlReader, err = sqlitestore.NewReader(cfg.SQLitePath)
	if err != nil {
		slog.Warn("sqlite reader init failed, continuing without backfill", "error", err)
	}
	svc.health.SetSQLiteOK(svc.sqlWriter != nil)

	return svc, nil
}

// Run starts all subsystems and blocks until ctx is cancelled.
func (svc *Service) Run(ctx context.Context) error {
	cfg := svc.cfg
	slog.Info("starting indicator engine", "tfs", cfg.EnabledTFs, "source_tf", cfg.SourceTF)

	// ---- Restore engine from snapshot ----
	snap, err := svc.restoreEngine(ctx)
	if err != nil {
		return err
	}

	// ---- Discover / build streams ----
	svc.streams = svc.buildStreams(ctx)
	slog.Info("consuming candle streams", "streams", len(svc.streams))

	// ---- Catch up from Redis streams ----
	startID := "0"
	if snap != nil && snap.StreamID != "" {
		startID = snap.StreamID
	}
	svc.catchUp(ctx, startID)

	// ---- Ensure consumer groups ----
	if len(svc.streams) > 0 {
		if err := svc.redisReader.EnsureConsumerGroup(ctx, svc.streams); err != nil {
			slog.Warn("consumer group setup failed", "error", err)
		}
		if err := svc.redisReader.RecoverPending(ctx, svc.streams, svc.candleCh); err != nil {
			slog.Warn("pending recovery failed", "error", err)
		}
	}

	// ---- Start subsystems ----
	if svc.sqlWriter != nil {
		svc.pipe.persist = svc.persistCh
		go svc.sqlWriter.Run(ctx, svc.persistCh)
	}
	svc.startPELReclaimer(ctx)
	go svc.processLoop(ctx)
	svc.startConsumer(ctx)
	svc.startFormingSubscriber(ctx)
	go svc.snapshotLoop(ctx)
	svc.startHTTP(ctx)
	svc.startConfigSubscriber(ctx)

	sqlDB := svc.sqlDB()
	svc.health.StartLivenessChecker(ctx, svc.redisWriter.Client(), sqlDB, 10*time.Second)
	svc.metricsSrv = metrics.NewServer(cfg.MetricsAddr, svc.health)
	svc.metricsSrv.Start()
	svc.health.SetIndicatorOK(true)

	slog.Info("indicator engine running",
		"snapshot_every_s", cfg.SnapshotIntervalS, "series", svc.engine.Len(), "http", cfg.HTTPAddr)

	<-ctx.Done()

	svc.shutdown()
	return nil
}

func (svc *Service) sqlDB() *sql.DB {
	if svc.sqlWriter == nil {
		return nil
	}
	return svc.sqlWriter.DB()
}

// shutdown saves a final snapshot and closes connections.
func (svc *Service) shutdown() {
	slog.Info("shutdown signal received, saving final snapshot")
	svc.saveSnapshot(streamMarker(time.Now().Add(-snapshotSlack)))

	stopCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if svc.metricsSrv != nil {
		svc.metricsSrv.Stop(stopCtx)
	}

	svc.engine.Close()
	if svc.sqlReader != nil {
		svc.sqlReader.Close()
	}
	if svc.sqlWriter != nil {
		svc.sqlWriter.Close()
	}
	svc.publisher.Close()
	svc.redisReader.Close()

	slog.Info("shutdown complete")
}

// restoreEngine restores the indicator engine from the Redis or SQLite
// snapshot, then backfills from SQLite for anything the snapshot missed.
func (svc *Service) restoreEngine(ctx context.Context) (*indicator.EngineSnapshot, error) {
	restorer := indicator.NewRestorer(svc.cfg.IndicatorConfigs)

	stores := []model.SnapshotStore{svc.snapCache}
	if svc.sqlWriter != nil {
		stores = append(stores, svc.sqlWriter)
	}
	snap := loadSnapshot(stores)

	engine, err := restorer.RestoreFromSnap(snap)
	if err != nil {
		return nil, err
	}
	engine.SetMonitor(svc.prom.Monitor())
	svc.engine = engine
	svc.pipe = newPipeline(engine, svc.publisher, svc.prom, svc.health)
	if svc.cfg.SourceTF > 0 {
		if err := svc.pipe.rollUp(svc.cfg.EnabledTFs); err != nil {
			return nil, err
		}
	}

	if svc.sqlReader != nil && svc.cfg.SourceTF == 0 {
		backfilled := restorer.BackfillFromSQLite(engine, svc.sqlReader, func(results []model.IndicatorResult) {
			svc.publisher.WriteIndicatorBatch(ctx, results)
		})
		if backfilled > 0 {
			slog.Info("warmed up indicators from sqlite", "candles", backfilled)
		}
	}
	return snap, nil
}

// loadSnapshot returns the first decodable snapshot of stores, in order.
func loadSnapshot(stores []model.SnapshotStore) *indicator.EngineSnapshot {
	for _, store := range stores {
		data, err := store.ReadLatestSnapshotJSON()
		if err != nil {
			slog.Warn("snapshot read failed", "error", err)
			continue
		}
		if data == nil {
			continue
		}
		var snap indicator.EngineSnapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			slog.Warn("snapshot decode failed", "error", err)
			continue
		}
		return &snap
	}
	return nil
}

// sourceTFs are the timeframes read from Redis.
func (svc *Service) sourceTFs() []int {
	if svc.cfg.SourceTF > 0 {
		return []int{svc.cfg.SourceTF}
	}
	return svc.cfg.EnabledTFs
}

// buildStreams discovers or constructs the Redis stream names to consume.
func (svc *Service) buildStreams(ctx context.Context) []string {
	if len(svc.cfg.SubscribeTokenKeys) == 0 {
		return svc.redisReader.DiscoverStreams(ctx, svc.sourceTFs(), nil)
	}
	var streams []string
	for _, tf := range svc.sourceTFs() {
		for _, tk := range svc.cfg.SubscribeTokenKeys {
			streams = append(streams, "candle:"+strconv.Itoa(tf)+"s:"+tk)
		}
	}
	return streams
}

// catchUp replays every stream after startID through the pipeline.
// Candles the engine already holds are ignored as identical resends.
func (svc *Service) catchUp(ctx context.Context, startID string) {
	ch := make(chan model.Candle, 5000)
	go func() {
		defer close(ch)
		for _, stream := range svc.streams {
			if _, err := svc.redisReader.ReplayFromID(ctx, stream, startID, ch); err != nil {
				slog.Warn("stream replay failed", "stream", stream, "from", startID, "error", err)
			}
		}
	}()

	count := 0
	for c := range ch {
		if svc.pipe.handle(ctx, c, false) == nil {
			count++
		}
	}
	slog.Info("caught up from redis streams", "from", startID, "candles", count)
}
