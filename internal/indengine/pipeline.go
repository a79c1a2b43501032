package indengine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/DaveSkender/Stock.Indicators-sub014/internal/indicator"
	"github.com/DaveSkender/Stock.Indicators-sub014/internal/logger"
	"github.com/DaveSkender/Stock.Indicators-sub014/internal/marketdata/agg"
	"github.com/DaveSkender/Stock.Indicators-sub014/internal/metrics"
	"github.com/DaveSkender/Stock.Indicators-sub014/internal/model"
	"github.com/DaveSkender/Stock.Indicators-sub014/internal/stream"
)

// pipeline applies candles to the engine and fans the results out to the
// publisher, the candle store and the metrics.
type pipeline struct {
	engine    *indicator.Engine
	publisher model.ResultPublisher
	persist   chan<- model.Candle // closed candles for the store; may be nil
	prom      *metrics.Metrics
	health    *metrics.HealthStatus

	// roller rolls SOURCE_TF candles up into the configured timeframes.
	roller *agg.Roller
	ctx    context.Context

	mu          sync.Mutex
	lastForming map[string]model.Candle
}

func newPipeline(engine *indicator.Engine, publisher model.ResultPublisher, prom *metrics.Metrics, health *metrics.HealthStatus) *pipeline {
	return &pipeline{
		engine:      engine,
		publisher:   publisher,
		prom:        prom,
		health:      health,
		ctx:         context.Background(),
		lastForming: make(map[string]model.Candle),
	}
}

// rollUp makes the pipeline aggregate incoming candles into tfs before
// they reach the engine.
func (p *pipeline) rollUp(tfs []int) error {
	roller, err := agg.NewRoller(tfs, func(bar model.Candle) error {
		return p.apply(p.ctx, bar, false)
	})
	if err != nil {
		return err
	}
	p.roller = roller
	return nil
}

// handle takes one candle from the feed. Forming bars update the tail of
// their series without being stored; identical forming repeats are dropped
// before they reach the engine.
func (p *pipeline) handle(ctx context.Context, c model.Candle, forming bool) error {
	if p.roller != nil {
		if forming {
			return nil
		}
		p.ctx = ctx
		return p.roller.Add(c)
	}
	if forming {
		key := c.SeriesKey()
		p.mu.Lock()
		last, seen := p.lastForming[key]
		p.lastForming[key] = c
		p.mu.Unlock()
		if seen && last.Equal(c) {
			return nil
		}
	}
	return p.apply(ctx, c, forming)
}

func (p *pipeline) apply(ctx context.Context, c model.Candle, forming bool) error {
	ctx = logger.WithTraceID(ctx, logger.GenerateTraceID(c.SeriesKey(), c.TS))

	start := time.Now()
	results, err := p.engine.Process(c)
	elapsed := time.Since(start)
	if p.prom != nil {
		p.prom.IndicatorComputeDur.Observe(elapsed.Seconds())
	}
	if err != nil {
		p.reject(ctx, c, err)
		return err
	}

	if p.prom != nil {
		p.prom.CandlesTotal.Inc()
		for _, r := range results {
			p.prom.IndicatorsTotal.WithLabelValues(r.Act).Inc()
		}
		p.prom.SeriesActive.Set(float64(p.engine.Len()))
	}
	if p.health != nil {
		p.health.SetProgress(c.TS, p.engine.Len())
	}
	if !forming && p.persist != nil {
		select {
		case p.persist <- c:
		default:
			slog.Warn("candle store backlog full, candle not persisted", logger.LogWithTrace(ctx)...)
		}
	}
	if len(results) > 0 {
		if err := p.publisher.WriteIndicatorBatch(ctx, results); err != nil {
			slog.Warn("indicator publish failed",
				append(logger.LogWithTrace(ctx), "results", len(results), "error", err)...)
		}
	}
	return nil
}

// remove drops a stored candle and publishes the rebuilt values.
func (p *pipeline) remove(ctx context.Context, c model.Candle) ([]model.IndicatorResult, error) {
	results, err := p.engine.Remove(c)
	if err != nil {
		return nil, err
	}
	if len(results) > 0 {
		if err := p.publisher.WriteIndicatorBatch(ctx, results); err != nil {
			slog.Warn("indicator publish failed", "results", len(results), "error", err)
		}
	}
	return results, nil
}

// reject records a refused candle. An overflow terminates the series
// graph; reloading the current configs rebuilds it from history.
func (p *pipeline) reject(ctx context.Context, c model.Candle, err error) {
	reason := rejectReason(err)
	if p.prom != nil {
		p.prom.CandlesRejected.WithLabelValues(reason).Inc()
	}
	slog.Warn("candle rejected",
		append(logger.LogWithTrace(ctx), "series", c.SeriesKey(), "ts", c.TS, "reason", reason, "error", err)...)

	if errors.Is(err, stream.ErrOverflow) {
		if _, rerr := p.engine.Reload(p.engine.Configs()); rerr != nil {
			slog.Error("engine rebuild after overflow failed", "error", rerr)
			if p.health != nil {
				p.health.SetIndicatorOK(false)
			}
		}
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, stream.ErrSequence):
		return "sequence"
	case errors.Is(err, stream.ErrParameter):
		return "parameter"
	case errors.Is(err, stream.ErrOverflow):
		return "overflow"
	case errors.Is(err, stream.ErrInvalidOperation):
		return "invalid_operation"
	default:
		return "other"
	}
}
