package indicator

import (
	"fmt"
	"math"
	"time"

	"github.com/DaveSkender/Stock.Indicators-sub014/internal/model"
	"github.com/DaveSkender/Stock.Indicators-sub014/internal/stream"
)

// point is a bare chainable value; batch chains pass results on as points.
type point struct {
	ts time.Time
	v  float64
}

func (p point) Timestamp() time.Time { return p.ts }
func (p point) Value() float64       { return p.v }

func points[T stream.Reusable](rs []T) []point {
	out := make([]point, len(rs))
	for i, r := range rs {
		out[i] = point{ts: r.Timestamp(), v: r.Value()}
	}
	return out
}

// ComputeSeries runs specs over one complete candle series in batch form
// and returns every indicator's values by name. pair supplies the base
// candles of PRS and CORR indicators; a base shorter than the series
// leaves the uncovered tail pending, as in the live graph.
func ComputeSeries(candles []model.Candle, specs []IndicatorConfig, pair func(exchange, token string) []model.Candle) (map[string][]float64, error) {
	computed := make(map[string][]point, len(specs))
	out := make(map[string][]float64, len(specs))

	for _, cfg := range specs {
		var in []point
		if cfg.Source != "" {
			src, ok := computed[cfg.Source]
			if !ok {
				return nil, fmt.Errorf("%w: %s chains from unknown indicator %s", stream.ErrParameter, cfg.Name(), cfg.Source)
			}
			in = src
		} else {
			parts, err := GetParts(candles, cfg.part())
			if err != nil {
				return nil, err
			}
			in = points(parts)
		}

		var res []point
		var err error
		switch cfg.Type {
		case "SMA":
			r, e := GetSma(in, cfg.Period)
			res, err = points(r), e
		case "EMA":
			r, e := GetEma(in, cfg.Period)
			res, err = points(r), e
		case "SMMA":
			r, e := GetSmma(in, cfg.Period)
			res, err = points(r), e
		case "RSI":
			r, e := GetRsi(in, cfg.Period)
			res, err = points(r), e
		case "PRS", "CORR":
			res, err = computePair(in, cfg, pair)
		default:
			err = fmt.Errorf("%w: unknown indicator type %q", stream.ErrParameter, cfg.Type)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", cfg.Name(), err)
		}

		computed[cfg.Name()] = res
		values := make([]float64, len(res))
		for i, p := range res {
			values[i] = p.v
		}
		out[cfg.Name()] = values
	}
	return out, nil
}

func computePair(in []point, cfg IndicatorConfig, pair func(exchange, token string) []model.Candle) ([]point, error) {
	exchange, token, ok := cfg.pair()
	if !ok {
		return nil, fmt.Errorf("%w: %s needs a pair EXCHANGE:TOKEN", stream.ErrParameter, cfg.Type)
	}
	var baseCandles []model.Candle
	if pair != nil {
		baseCandles = pair(exchange, token)
	}
	parts, err := GetParts(baseCandles, cfg.part())
	if err != nil {
		return nil, err
	}
	base := points(parts)

	n := min(len(in), len(base))
	var res []point
	if cfg.Type == "PRS" {
		r, e := GetPrs(in[:n], base[:n], cfg.Period)
		res, err = points(r), e
	} else {
		r, e := GetCorrelation(in[:n], base[:n], cfg.Period)
		res, err = points(r), e
	}
	if err != nil {
		return nil, err
	}
	for _, p := range in[n:] {
		res = append(res, point{ts: p.ts, v: math.NaN()})
	}
	return res, nil
}
