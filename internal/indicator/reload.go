package indicator

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/samber/lo"

	"github.com/DaveSkender/Stock.Indicators-sub014/internal/model"
	"github.com/DaveSkender/Stock.Indicators-sub014/internal/stream"
)

// Reload swaps in new configs. Every series is rebuilt by replaying its
// candle history through the new graphs, so indicators added by the reload
// are warm immediately and every value matches a cold start over the same
// history. Series of timeframes no longer configured are dropped.
// Returns the number of series replayed.
func (e *Engine) Reload(configs []TFIndicatorConfig) (int, error) {
	if err := ValidateConfigs(configs); err != nil {
		return 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	added, removed := lo.Difference(configNames(configs), configNames(e.configs))
	series := e.series(0)
	e.teardown()
	e.setConfigs(configs)

	n, err := e.replay(series)
	slog.Info("indicator configs reloaded",
		"timeframes", len(configs), "series", n, "added", added, "removed", removed)
	return n, err
}

// replay feeds candle histories into fresh graphs and discards the
// results they emit.
func (e *Engine) replay(series []SeriesSnapshot) (int, error) {
	var errs []error
	n := 0
	for _, s := range series {
		g, err := e.graphFor(s.Exchange, s.Token, s.TF)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if g == nil {
			continue
		}
		if _, err := e.collect(func() error { return g.root.AddBatch(s.Candles) }); err != nil {
			errs = append(errs, fmt.Errorf("replay %s: %w", model.SeriesKey(s.Exchange, s.Token, s.TF), err))
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

// configNames lists "TF/NAME" for every configured indicator.
func configNames(configs []TFIndicatorConfig) []string {
	var names []string
	for _, cfg := range configs {
		for _, ic := range cfg.Indicators {
			names = append(names, strconv.Itoa(cfg.TF)+"/"+ic.Name())
		}
	}
	return names
}

// ValidateConfigs checks a set of TFIndicatorConfigs for errors.
func ValidateConfigs(configs []TFIndicatorConfig) error {
	seen := make(map[int]bool)
	for _, cfg := range configs {
		if cfg.TF <= 0 {
			return fmt.Errorf("%w: invalid TF=%d: must be positive", stream.ErrParameter, cfg.TF)
		}
		if seen[cfg.TF] {
			return fmt.Errorf("%w: duplicate TF=%d", stream.ErrParameter, cfg.TF)
		}
		seen[cfg.TF] = true

		declared := make(map[string]bool, len(cfg.Indicators))
		for _, ind := range cfg.Indicators {
			if err := validateIndicator(ind, declared); err != nil {
				return fmt.Errorf("TF=%d: %w", cfg.TF, err)
			}
			declared[ind.Name()] = true
		}
	}
	return nil
}

func validateIndicator(ind IndicatorConfig, declared map[string]bool) error {
	switch ind.Type {
	case "SMA", "EMA", "SMMA", "RSI", "CORR":
		if ind.Period <= 0 {
			return fmt.Errorf("%w: invalid period=%d for %s", stream.ErrParameter, ind.Period, ind.Type)
		}
	case "PRS":
		if ind.Period < 0 {
			return fmt.Errorf("%w: invalid period=%d for PRS", stream.ErrParameter, ind.Period)
		}
	default:
		return fmt.Errorf("%w: unknown indicator type %q", stream.ErrParameter, ind.Type)
	}

	if ind.Part != "" {
		if _, err := model.ParsePart(ind.Part); err != nil {
			return fmt.Errorf("%w: %s: %v", stream.ErrParameter, ind.Name(), err)
		}
		if ind.Source != "" {
			return fmt.Errorf("%w: %s: a candle part cannot apply to a chained source", stream.ErrParameter, ind.Name())
		}
	}
	if ind.Source != "" && !declared[ind.Source] {
		return fmt.Errorf("%w: %s chains from %s, which is not declared before it", stream.ErrParameter, ind.Name(), ind.Source)
	}

	paired := ind.Type == "PRS" || ind.Type == "CORR"
	if _, _, ok := ind.pair(); paired && !ok {
		return fmt.Errorf("%w: %s needs a pair EXCHANGE:TOKEN", stream.ErrParameter, ind.Name())
	}
	if !paired && ind.Pair != "" {
		return fmt.Errorf("%w: %s does not take a pair", stream.ErrParameter, ind.Name())
	}

	if declared[ind.Name()] {
		return fmt.Errorf("%w: duplicate indicator %s", stream.ErrParameter, ind.Name())
	}
	return nil
}
