package indicator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/samber/lo"

	"github.com/DaveSkender/Stock.Indicators-sub014/internal/model"
	"github.com/DaveSkender/Stock.Indicators-sub014/internal/stream"
)

// Engine computes the configured indicators for every instrument and
// timeframe it sees.
//
// Each series ("exchange:token:tf") owns one stream graph: a candle root,
// the candle-part nodes its indicators read, and one hub per configured
// indicator. A sink on every indicator hub turns hub events into
// model.IndicatorResult values, so a late or corrected candle yields the
// rebuilt values from that bar onward instead of only a new tail value.
//
// Mutations serialize on the engine lock; graphs are never touched
// concurrently.
type Engine struct {
	mu      sync.RWMutex
	configs []TFIndicatorConfig
	tfIndex map[int]int
	graphs  map[string]*graph
	monitor stream.Monitor

	// out collects sink output during one mutation.
	out []model.IndicatorResult
}

// graph is the stream graph of one series.
type graph struct {
	exchange string
	token    string
	tf       int
	root     *stream.QuoteHub[model.Candle]
	parts    map[model.Part]*stream.Hub[model.Candle, PartResult]
	nodes    map[string]*node
	order    []*node
}

// node is one configured indicator inside a graph.
type node struct {
	name   string
	source source
	values func() []model.IndicatorResult
}

// source builds an indicator on top of a node's output.
type source func(e *Engine, g *graph, cfg IndicatorConfig) (*node, error)

// hub is what the engine needs from a Hub or PairsHub.
type hub[T stream.Series] interface {
	stream.Provider[T]
	Detach() bool
}

// NewEngine creates an indicator engine with the given per-TF indicator configs.
func NewEngine(configs []TFIndicatorConfig) (*Engine, error) {
	if err := ValidateConfigs(configs); err != nil {
		return nil, err
	}
	e := &Engine{graphs: make(map[string]*graph, 64)}
	e.setConfigs(configs)
	return e, nil
}

func (e *Engine) setConfigs(configs []TFIndicatorConfig) {
	e.configs = configs
	e.tfIndex = make(map[int]int, len(configs))
	for i, cfg := range configs {
		e.tfIndex[cfg.TF] = i
	}
}

// SetMonitor installs m on every series graph created afterwards.
func (e *Engine) SetMonitor(m stream.Monitor) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.monitor = m
}

// Configs returns the active configs.
func (e *Engine) Configs() []TFIndicatorConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.configs
}

// Process adds a closed candle to its series and returns the results it
// produced: one per indicator for a new bar, every value from the bar
// onward when a late or corrected candle rebuilds history, none for an
// identical resend. Candles of unconfigured timeframes are ignored.
func (e *Engine) Process(c model.Candle) ([]model.IndicatorResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	g, err := e.graphFor(c.Exchange, c.Token, c.TF)
	if err != nil || g == nil {
		return nil, err
	}
	return e.collect(func() error { return g.root.Add(c) })
}

// Remove deletes the candle stamped like c and returns the rebuilt values.
func (e *Engine) Remove(c model.Candle) ([]model.IndicatorResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	g := e.graphs[c.SeriesKey()]
	if g == nil {
		return nil, fmt.Errorf("%w: no series %s", stream.ErrInvalidOperation, c.SeriesKey())
	}
	return e.collect(func() error { return g.root.Remove(c) })
}

// Run consumes candles and emits indicator results. Blocks until ctx done.
func (e *Engine) Run(ctx context.Context, candleCh <-chan model.Candle, resultCh chan<- model.IndicatorResult) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-candleCh:
			if !ok {
				return
			}
			results, err := e.Process(c)
			if err != nil {
				slog.Warn("indicator update failed", "series", c.SeriesKey(), "error", err)
			}
			for _, r := range results {
				select {
				case resultCh <- r:
				default:
					// drop if channel full
				}
			}
		}
	}
}

// Results returns every value of one indicator of one series.
func (e *Engine) Results(exchange, token string, tf int, name string) ([]model.IndicatorResult, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	g := e.graphs[model.SeriesKey(exchange, token, tf)]
	if g == nil {
		return nil, false
	}
	n := g.nodes[name]
	if n == nil {
		return nil, false
	}
	return n.values(), true
}

// Latest returns the newest value of every indicator of one series.
func (e *Engine) Latest(exchange, token string, tf int) []model.IndicatorResult {
	e.mu.RLock()
	defer e.mu.RUnlock()

	g := e.graphs[model.SeriesKey(exchange, token, tf)]
	if g == nil {
		return nil
	}
	latest := make([]model.IndicatorResult, 0, len(g.order))
	for _, n := range g.order {
		if values := n.values(); len(values) > 0 {
			latest = append(latest, values[len(values)-1])
		}
	}
	return latest
}

// Candles returns a copy of one series' candle history.
func (e *Engine) Candles(exchange, token string, tf int) []model.Candle {
	e.mu.RLock()
	defer e.mu.RUnlock()

	g := e.graphs[model.SeriesKey(exchange, token, tf)]
	if g == nil {
		return nil
	}
	return g.root.Items()
}

// Keys returns the series keys in sorted order.
func (e *Engine) Keys() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	keys := lo.Keys(e.graphs)
	sort.Strings(keys)
	return keys
}

// Len returns the number of series.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.graphs)
}

// Close ends transmission on every series graph.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.teardown()
}

func (e *Engine) teardown() {
	for key, g := range e.graphs {
		g.root.EndTransmission()
		delete(e.graphs, key)
	}
}

// collect runs a root mutation and returns what the sinks emitted.
func (e *Engine) collect(mutate func() error) ([]model.IndicatorResult, error) {
	e.out = e.out[:0]
	err := mutate()
	results := make([]model.IndicatorResult, len(e.out))
	copy(results, e.out)
	e.out = e.out[:0]
	return results, err
}

// graphFor returns the graph of a series, building it on first use. It
// returns nil for a timeframe with no configured indicators.
func (e *Engine) graphFor(exchange, token string, tf int) (*graph, error) {
	idx, ok := e.tfIndex[tf]
	if !ok {
		return nil, nil
	}
	key := model.SeriesKey(exchange, token, tf)
	if g := e.graphs[key]; g != nil {
		return g, nil
	}

	root := stream.NewQuoteHub[model.Candle]("CANDLES(" + key + ")")
	if e.monitor != nil {
		root.SetMonitor(e.monitor)
	}
	g := &graph{
		exchange: exchange,
		token:    token,
		tf:       tf,
		root:     root,
		parts:    make(map[model.Part]*stream.Hub[model.Candle, PartResult]),
		nodes:    make(map[string]*node),
	}
	// Registered before building so pair indicators can reach back to it.
	e.graphs[key] = g

	if err := e.build(g, e.configs[idx].Indicators); err != nil {
		root.EndTransmission()
		delete(e.graphs, key)
		return nil, fmt.Errorf("build %s: %w", key, err)
	}
	return g, nil
}

func (e *Engine) build(g *graph, specs []IndicatorConfig) error {
	for _, cfg := range specs {
		var src source
		if cfg.Source != "" {
			upstream := g.nodes[cfg.Source]
			if upstream == nil {
				return fmt.Errorf("%w: %s chains from unknown indicator %s", stream.ErrParameter, cfg.Name(), cfg.Source)
			}
			src = upstream.source
		} else {
			p, err := g.part(cfg.part())
			if err != nil {
				return err
			}
			src = sourceOf[PartResult](p)
		}

		n, err := src(e, g, cfg)
		if err != nil {
			return err
		}
		g.nodes[n.name] = n
		g.order = append(g.order, n)
	}
	return nil
}

// part returns the candle-part node of g, creating it on first use.
func (g *graph) part(p model.Part) (*stream.Hub[model.Candle, PartResult], error) {
	if h := g.parts[p]; h != nil {
		return h, nil
	}
	h, err := stream.NewHub[model.Candle, PartResult](g.root, Use{Part: p})
	if err != nil {
		return nil, err
	}
	g.parts[p] = h
	return h, nil
}

// pairBase returns the series a PRS or CORR indicator compares against.
func (e *Engine) pairBase(g *graph, cfg IndicatorConfig) (stream.Provider[PartResult], error) {
	exchange, token, ok := cfg.pair()
	if !ok {
		return nil, fmt.Errorf("%w: %s needs a pair EXCHANGE:TOKEN, got %q", stream.ErrParameter, cfg.Type, cfg.Pair)
	}
	base, err := e.graphFor(exchange, token, g.tf)
	if err != nil {
		return nil, err
	}
	return base.part(cfg.part())
}

func sourceOf[In stream.Reusable](p stream.Provider[In]) source {
	return func(e *Engine, g *graph, cfg IndicatorConfig) (*node, error) {
		return buildOn[In](e, g, p, cfg)
	}
}

// buildOn creates the hub for cfg reading from p.
func buildOn[In stream.Reusable](e *Engine, g *graph, p stream.Provider[In], cfg IndicatorConfig) (*node, error) {
	name := cfg.Name()
	switch cfg.Type {
	case "SMA":
		h, err := stream.NewHub[In, SmaResult](p, SMA[In]{Period: cfg.Period})
		if err != nil {
			return nil, err
		}
		return attach[SmaResult](e, g, name, h)
	case "EMA":
		h, err := stream.NewHub[In, EmaResult](p, EMA[In]{Period: cfg.Period})
		if err != nil {
			return nil, err
		}
		return attach[EmaResult](e, g, name, h)
	case "SMMA":
		h, err := stream.NewHub[In, SmmaResult](p, SMMA[In]{Period: cfg.Period})
		if err != nil {
			return nil, err
		}
		return attach[SmmaResult](e, g, name, h)
	case "RSI":
		h, err := stream.NewHub[In, RsiResult](p, RSI[In]{Period: cfg.Period})
		if err != nil {
			return nil, err
		}
		return attach[RsiResult](e, g, name, h)
	case "PRS":
		base, err := e.pairBase(g, cfg)
		if err != nil {
			return nil, err
		}
		h, err := stream.NewPairsHub[In, PartResult, PrsResult](p, base, PRS[In, PartResult]{Periods: cfg.Period})
		if err != nil {
			return nil, err
		}
		return attach[PrsResult](e, g, name, h)
	case "CORR":
		base, err := e.pairBase(g, cfg)
		if err != nil {
			return nil, err
		}
		h, err := stream.NewPairsHub[In, PartResult, CorrResult](p, base, Correlation[In, PartResult]{Periods: cfg.Period})
		if err != nil {
			return nil, err
		}
		return attach[CorrResult](e, g, name, h)
	}
	return nil, fmt.Errorf("%w: unknown indicator type %q", stream.ErrParameter, cfg.Type)
}

// attach subscribes the result sink to h and wraps it as a node.
func attach[Out stream.Reusable](e *Engine, g *graph, name string, h hub[Out]) (*node, error) {
	results := h.Results()
	sink := &stream.Tap[Out]{
		OnEvent: func(act stream.Act, _ Out, index int) error {
			switch act {
			case stream.Append:
				e.out = append(e.out, toResult(g, name, act.String(), index, results.At(index)))
			case stream.Rebuild:
				for i := index; i < results.Len(); i++ {
					e.out = append(e.out, toResult(g, name, act.String(), i, results.At(i)))
				}
			}
			return nil
		},
	}
	if h.Properties().Observable {
		if err := h.Subscribe(sink); err != nil {
			h.Detach()
			return nil, err
		}
	}

	return &node{
		name:   name,
		source: sourceOf[Out](h),
		values: func() []model.IndicatorResult {
			values := make([]model.IndicatorResult, results.Len())
			for i := range values {
				values[i] = toResult(g, name, "", i, results.At(i))
			}
			return values
		},
	}, nil
}

func toResult[Out stream.Reusable](g *graph, name, act string, i int, r Out) model.IndicatorResult {
	v := r.Value()
	return model.IndicatorResult{
		Name:     name,
		Token:    g.token,
		Exchange: g.exchange,
		TF:       g.tf,
		Value:    v,
		TS:       r.Timestamp(),
		Ready:    !stream.IsPending(v),
		Act:      act,
		Index:    i,
	}
}
