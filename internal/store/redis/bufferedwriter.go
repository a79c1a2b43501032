package redis

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/DaveSkender/Stock.Indicators-sub014/internal/model"
)

// publisher is the part of Writer the buffered writer drives.
type publisher interface {
	WriteIndicatorBatch(ctx context.Context, results []model.IndicatorResult) error
	WriteCandle(ctx context.Context, c model.Candle, forming bool) error
	Close() error
}

// pendingWrite is a write held back while the circuit was open.
type pendingWrite struct {
	results []model.IndicatorResult
	candle  *model.Candle
}

// BufferedWriter wraps a Redis Writer with a circuit breaker.
// During circuit-open state, writes are buffered locally and flushed
// in order when the circuit closes again.
type BufferedWriter struct {
	writer publisher
	cb     *CircuitBreaker
	ctx    context.Context

	mu     sync.Mutex
	buffer []pendingWrite
	maxBuf int // max buffered writes before dropping oldest (default: 10000)

	// Callbacks
	OnBuffer func()          // called when a write is buffered (for metrics)
	OnDrop   func()          // called when the oldest buffered write is dropped
	OnFlush  func(count int) // called after flushing buffered writes
}

// NewBufferedWriter creates a BufferedWriter wrapping the given Writer.
func NewBufferedWriter(ctx context.Context, w *Writer, cb *CircuitBreaker, maxBufferSize int) *BufferedWriter {
	return newBufferedWriter(ctx, w, cb, maxBufferSize)
}

func newBufferedWriter(ctx context.Context, w publisher, cb *CircuitBreaker, maxBufferSize int) *BufferedWriter {
	if maxBufferSize <= 0 {
		maxBufferSize = 10000
	}
	bw := &BufferedWriter{
		writer: w,
		cb:     cb,
		ctx:    ctx,
		buffer: make([]pendingWrite, 0, 256),
		maxBuf: maxBufferSize,
	}

	// Register flush on circuit close
	prevCallback := cb.OnStateChange
	cb.OnStateChange = func(from, to State) {
		if prevCallback != nil {
			prevCallback(from, to)
		}
		if to == StateClosed {
			go bw.flush()
		}
	}

	return bw
}

// WriteIndicatorBatch publishes results through the circuit breaker.
// If the circuit is open, the batch is buffered locally.
func (bw *BufferedWriter) WriteIndicatorBatch(ctx context.Context, results []model.IndicatorResult) error {
	if len(results) == 0 {
		return nil
	}
	err := bw.cb.Execute(func() error {
		return bw.writer.WriteIndicatorBatch(ctx, results)
	})
	if errors.Is(err, ErrCircuitOpen) {
		bw.bufferWrite(pendingWrite{results: append([]model.IndicatorResult(nil), results...)})
		return nil // buffered, not lost
	}
	return err
}

// WriteCandle publishes a closed candle through the circuit breaker.
// Forming bars are dropped while the circuit is open.
func (bw *BufferedWriter) WriteCandle(ctx context.Context, c model.Candle, forming bool) error {
	err := bw.cb.Execute(func() error {
		return bw.writer.WriteCandle(ctx, c, forming)
	})
	if errors.Is(err, ErrCircuitOpen) {
		if !forming {
			bw.bufferWrite(pendingWrite{candle: &c})
		}
		return nil
	}
	return err
}

func (bw *BufferedWriter) bufferWrite(pw pendingWrite) {
	bw.mu.Lock()
	defer bw.mu.Unlock()

	if len(bw.buffer) >= bw.maxBuf {
		bw.buffer = bw.buffer[1:]
		if bw.OnDrop != nil {
			bw.OnDrop()
		}
	}
	bw.buffer = append(bw.buffer, pw)

	if bw.OnBuffer != nil {
		bw.OnBuffer()
	}
}

// flush replays all buffered writes through the underlying writer.
func (bw *BufferedWriter) flush() {
	bw.mu.Lock()
	if len(bw.buffer) == 0 {
		bw.mu.Unlock()
		return
	}
	// Take ownership of the buffer
	toFlush := bw.buffer
	bw.buffer = make([]pendingWrite, 0, 256)
	bw.mu.Unlock()

	flushed := 0
	for _, pw := range toFlush {
		var err error
		if pw.candle != nil {
			err = bw.writer.WriteCandle(bw.ctx, *pw.candle, false)
		} else {
			err = bw.writer.WriteIndicatorBatch(bw.ctx, pw.results)
		}
		if err != nil {
			slog.Warn("buffered write failed on flush", "error", err)
			continue
		}
		flushed++
	}

	slog.Info("flushed buffered redis writes", "flushed", flushed, "buffered", len(toFlush))
	if bw.OnFlush != nil {
		bw.OnFlush(flushed)
	}
}

// PendingCount returns the number of buffered writes waiting to be flushed.
func (bw *BufferedWriter) PendingCount() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.buffer)
}

// Close flushes what it can and closes the underlying writer.
func (bw *BufferedWriter) Close() error {
	if bw.cb.CurrentState() == StateClosed {
		bw.flush()
	}
	return bw.writer.Close()
}
