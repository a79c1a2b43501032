package redis

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/DaveSkender/Stock.Indicators-sub014/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const defaultLatestTTL = 30 * time.Minute

// WriterConfig configures the Redis writer.
type WriterConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// Writer publishes candles and indicator results to Redis.
//
// Every published result is added to its indicator stream, stored as the
// series' latest value, and published on its PubSub channel.
type Writer struct {
	client *goredis.Client
}

// Client returns the underlying Redis client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// New creates a new Redis Writer and pings the server.
func New(cfg WriterConfig) (*Writer, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	slog.Info("redis writer connected", "addr", cfg.Addr)
	return &Writer{client: client}, nil
}

// streamMaxLen keeps ~3h of a timeframe's entries.
func streamMaxLen(tf int) int64 {
	if tf <= 0 {
		return 200
	}
	return max(int64(10800/tf)+100, 200)
}

// publishable reports whether a result goes downstream. A pending value
// only matters when it replaces one consumers already hold.
func publishable(r *model.IndicatorResult) bool {
	return r.Ready || r.Act == "rebuild"
}

// WriteIndicatorBatch writes results in a single Redis pipeline
// (XADD + SET + PUBLISH per result, one network roundtrip).
func (w *Writer) WriteIndicatorBatch(ctx context.Context, results []model.IndicatorResult) error {
	pipe := w.client.Pipeline()
	queued := 0
	for i := range results {
		ind := &results[i]
		if !publishable(ind) {
			continue
		}
		data := ind.JSON()
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: ind.StreamKey(),
			MaxLen: streamMaxLen(ind.TF),
			Approx: true,
			Values: map[string]interface{}{"data": data},
		})
		// Results of one batch are index ordered, so the last SET is the tail.
		latestKey := "ind:" + ind.Name + ":" + strconv.Itoa(ind.TF) + "s:latest:" + ind.Exchange + ":" + ind.Token
		pipe.Set(ctx, latestKey, data, defaultLatestTTL)
		pipe.Publish(ctx, ind.Channel(), data)
		queued++
	}
	if queued == 0 {
		return nil
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("indicator batch pipeline (%d results): %w", queued, err)
	}
	return nil
}

// WriteCandle adds a candle to its stream, stores it as latest and
// publishes it. Forming bars are only published.
func (w *Writer) WriteCandle(ctx context.Context, c model.Candle, forming bool) error {
	data := c.JSON()
	pubsubCh := "pub:candle:" + strconv.Itoa(c.TF) + "s:" + c.Exchange + ":" + c.Token

	if forming {
		return w.client.Publish(ctx, pubsubCh, data).Err()
	}

	pipe := w.client.Pipeline()
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: c.StreamKey(),
		MaxLen: streamMaxLen(c.TF),
		Approx: true,
		Values: map[string]interface{}{"data": data},
	})
	latestKey := "candle:" + strconv.Itoa(c.TF) + "s:latest:" + c.Exchange + ":" + c.Token
	pipe.Set(ctx, latestKey, data, defaultLatestTTL)
	pipe.Publish(ctx, pubsubCh, data)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("candle pipeline for %s: %w", c.SeriesKey(), err)
	}
	return nil
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}
