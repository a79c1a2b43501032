package indicator

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DaveSkender/Stock.Indicators-sub014/internal/model"
	"github.com/DaveSkender/Stock.Indicators-sub014/internal/stream"
)

func TestComputeSeries_MatchesEngine(t *testing.T) {
	specs := "SMA:5,EMA:3@SMA_5,RSI:4:HLC3,PRS:2/NSE:NIFTY,CORR:3/NSE:NIFTY"
	engine := newEngine(t, 60, specs)

	eval := wave(40)
	base := make([]model.Candle, 30)
	for i := range eval {
		eval[i].TF = 60
		eval[i].Token = "SBIN"
		eval[i].Exchange = "NSE"
		if i < len(base) {
			base[i] = tokenCandle("NIFTY", 60, i, 10000+int64(i%7)*35)
			base[i].TS = eval[i].TS
		}
	}
	for i := range eval {
		_, err := engine.Process(eval[i])
		require.NoError(t, err)
		if i < len(base) {
			_, err = engine.Process(base[i])
			require.NoError(t, err)
		}
	}

	inds, err := ParseSpecs(specs)
	require.NoError(t, err)
	got, err := ComputeSeries(eval, inds, func(exchange, token string) []model.Candle {
		if exchange == "NSE" && token == "NIFTY" {
			return base
		}
		return nil
	})
	require.NoError(t, err)

	for _, cfg := range inds {
		live, ok := engine.Results("NSE", "SBIN", 60, cfg.Name())
		require.True(t, ok, cfg.Name())
		batch := got[cfg.Name()]
		require.Len(t, batch, len(live), cfg.Name())
		for i := range batch {
			if !sameValue(batch[i], live[i].Value) {
				t.Fatalf("%s index %d: batch %v, stream %v", cfg.Name(), i, batch[i], live[i].Value)
			}
		}
	}
	// Bars past the end of the base stay pending.
	prs := got["PRS_2_VS_NSE-NIFTY"]
	assert.True(t, math.IsNaN(prs[len(prs)-1]))
}

func TestComputeSeries_UnknownSource(t *testing.T) {
	_, err := ComputeSeries(wave(10), []IndicatorConfig{{Type: "EMA", Period: 3, Source: "SMA_9"}}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, stream.ErrParameter))
}

func TestComputeSeries_BadPeriod(t *testing.T) {
	_, err := ComputeSeries(wave(10), []IndicatorConfig{{Type: "SMA", Period: 0}}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, stream.ErrParameter))
}
