// Package agg rolls finer candles up into timeframe bars on a stream graph.
//
// Bars are stream.Aggregator nodes over a candle root, so a late or
// corrected 1s candle re-aggregates only the bars it touches and the
// change reaches indicator hubs chained from the bars as an ordinary
// Append or Rebuild.
package agg

import (
	"errors"
	"fmt"
	"time"

	"github.com/DaveSkender/Stock.Indicators-sub014/internal/model"
	"github.com/DaveSkender/Stock.Indicators-sub014/internal/stream"
)

// New builds tf-second bars from the candles of src.
func New(src stream.Provider[model.Candle], tf int) (*stream.Aggregator[model.Candle], error) {
	if tf <= 0 {
		return nil, fmt.Errorf("%w: timeframe must be positive, got %d", stream.ErrParameter, tf)
	}
	return stream.NewAggregator[model.Candle](src, time.Duration(tf)*time.Second, open(tf), merge)
}

// open starts a bar from the first candle of its bucket.
func open(tf int) func(time.Time, model.Candle) model.Candle {
	return func(bucket time.Time, first model.Candle) model.Candle {
		bar := first
		bar.TF = tf
		bar.TS = bucket
		bar.Count = 1
		return bar
	}
}

// merge folds the next candle of the same bucket into bar.
func merge(bar, next model.Candle) model.Candle {
	if next.High > bar.High {
		bar.High = next.High
	}
	if next.Low < bar.Low {
		bar.Low = next.Low
	}
	bar.Close = next.Close
	bar.Volume += next.Volume
	bar.Count++
	return bar
}

// Roller keeps one candle root per instrument and rolls it up into every
// configured timeframe. Each new or changed bar is handed to the sink, so
// a forming bar is reported again every time a finer candle updates it.
// Not safe for concurrent use.
type Roller struct {
	tfs    []int
	series map[string]*rolled
	sink   func(bar model.Candle) error
}

type rolled struct {
	root *stream.QuoteHub[model.Candle]
	bars []*stream.Aggregator[model.Candle]
}

// NewRoller creates a Roller for the given target timeframes.
func NewRoller(tfs []int, sink func(bar model.Candle) error) (*Roller, error) {
	if len(tfs) == 0 {
		return nil, fmt.Errorf("%w: no timeframes to roll up", stream.ErrParameter)
	}
	for _, tf := range tfs {
		if tf <= 0 {
			return nil, fmt.Errorf("%w: timeframe must be positive, got %d", stream.ErrParameter, tf)
		}
	}
	return &Roller{tfs: tfs, series: make(map[string]*rolled), sink: sink}, nil
}

// Add feeds one finer candle. Candles of different source timeframes for
// the same instrument are kept apart.
func (r *Roller) Add(c model.Candle) error {
	s, err := r.seriesFor(c)
	if err != nil {
		return err
	}
	return s.root.Add(c)
}

// Len returns the number of source series.
func (r *Roller) Len() int { return len(r.series) }

// Bars returns the current bars of one instrument and timeframe.
func (r *Roller) Bars(exchange, token string, srcTF, tf int) []model.Candle {
	s := r.series[model.SeriesKey(exchange, token, srcTF)]
	if s == nil {
		return nil
	}
	for i, t := range r.tfs {
		if t == tf {
			return s.bars[i].Items()
		}
	}
	return nil
}

// Close ends every series.
func (r *Roller) Close() {
	for key, s := range r.series {
		s.root.EndTransmission()
		delete(r.series, key)
	}
}

func (r *Roller) seriesFor(c model.Candle) (*rolled, error) {
	key := c.SeriesKey()
	if s := r.series[key]; s != nil {
		return s, nil
	}

	s := &rolled{root: stream.NewQuoteHub[model.Candle]("CANDLES(" + key + ")")}
	for _, tf := range r.tfs {
		bars, err := New(s.root, tf)
		if err != nil {
			return nil, err
		}
		if err := bars.Subscribe(r.tap(bars)); err != nil {
			return nil, err
		}
		s.bars = append(s.bars, bars)
	}
	r.series[key] = s
	return s, nil
}

// tap forwards appended and rebuilt bars to the sink.
func (r *Roller) tap(bars *stream.Aggregator[model.Candle]) *stream.Tap[model.Candle] {
	view := bars.Results()
	return &stream.Tap[model.Candle]{
		OnEvent: func(act stream.Act, _ model.Candle, index int) error {
			if act == stream.Ignore || r.sink == nil {
				return nil
			}
			var errs []error
			for i := index; i < view.Len(); i++ {
				if err := r.sink(view.At(i)); err != nil {
					errs = append(errs, err)
				}
			}
			return errors.Join(errs...)
		},
	}
}
