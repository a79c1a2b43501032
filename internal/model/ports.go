package model

import "context"

// ── Storage Port Interfaces ──
// These interfaces decouple the indicator service from concrete storage
// (Redis, SQLite). Each implementation satisfies one or more of them.

// CandleReader reads candle history for backfill and replay.
type CandleReader interface {
	// ReadCandles reads candles for one series, ordered by timestamp.
	ReadCandles(exchange, token string, tf int, afterTS int64) ([]Candle, error)

	// ReadAllCandles reads every series of a timeframe, ordered by timestamp.
	ReadAllCandles(tf int, afterTS int64) ([]Candle, error)

	// Close releases underlying resources.
	Close() error
}

// CandleWriter persists candles as they are accepted by the engine.
type CandleWriter interface {
	// Run reads candles from candleCh and writes them.
	// Blocks until ctx is cancelled or candleCh is closed.
	Run(ctx context.Context, candleCh <-chan Candle)

	// Close releases underlying resources.
	Close() error
}

// ResultPublisher publishes indicator results downstream.
type ResultPublisher interface {
	// WriteIndicatorBatch writes multiple indicator results in a single batch.
	WriteIndicatorBatch(ctx context.Context, results []IndicatorResult) error

	// Close releases underlying resources.
	Close() error
}

// SnapshotStore reads and writes indicator engine snapshots as raw JSON.
// Using []byte avoids a model→indicator→model import cycle.
type SnapshotStore interface {
	// SaveSnapshotJSON persists a JSON-encoded engine snapshot.
	SaveSnapshotJSON(data []byte) error

	// ReadLatestSnapshotJSON loads the most recent snapshot as raw JSON.
	// Returns nil, nil if no snapshot exists.
	ReadLatestSnapshotJSON() ([]byte, error)
}

// CandleSource delivers live candles, e.g. from Redis Streams.
type CandleSource interface {
	// ConsumeCandles reads candles into out. Blocks until ctx is cancelled.
	ConsumeCandles(ctx context.Context, streams []string, out chan<- Candle) error

	// Close releases underlying resources.
	Close() error
}
