package agg

import (
	"errors"
	"testing"
	"time"

	"github.com/DaveSkender/Stock.Indicators-sub014/internal/model"
	"github.com/DaveSkender/Stock.Indicators-sub014/internal/stream"
)

var t0 = time.Date(2024, 1, 2, 3, 44, 0, 0, time.UTC) // aligned to 2m

func sec(i int, price, qty int64) model.Candle {
	return model.Candle{
		Token: "3045", Exchange: "NSE", TF: 1,
		TS:   t0.Add(time.Duration(i) * time.Second),
		Open: price, High: price, Low: price, Close: price,
		Volume: qty, Count: 1,
	}
}

func TestNew_BasicBar(t *testing.T) {
	root := stream.NewQuoteHub[model.Candle]("candles")
	bars, err := New(root, 60)
	if err != nil {
		t.Fatal(err)
	}

	// Three 1s candles in the same minute, one in the next.
	for _, c := range []model.Candle{
		sec(0, 50000, 10),
		sec(1, 50500, 20),
		sec(2, 49800, 5),
		sec(60, 50100, 15),
	} {
		if err := root.Add(c); err != nil {
			t.Fatal(err)
		}
	}

	items := bars.Items()
	if len(items) != 2 {
		t.Fatalf("expected 2 bars, got %d", len(items))
	}
	c := items[0]
	if c.Open != 50000 {
		t.Errorf("expected open=50000, got %d", c.Open)
	}
	if c.High != 50500 {
		t.Errorf("expected high=50500, got %d", c.High)
	}
	if c.Low != 49800 {
		t.Errorf("expected low=49800, got %d", c.Low)
	}
	if c.Close != 49800 {
		t.Errorf("expected close=49800, got %d", c.Close)
	}
	if c.Count != 3 {
		t.Errorf("expected count=3, got %d", c.Count)
	}
	if c.Volume != 35 {
		t.Errorf("expected volume=35, got %d", c.Volume)
	}
	if c.TF != 60 || !c.TS.Equal(t0) {
		t.Errorf("expected TF=60 at %s, got TF=%d at %s", t0, c.TF, c.TS)
	}
	if bars.Name() != "AGG(1m0s)" {
		t.Errorf("unexpected name %q", bars.Name())
	}
}

func TestNew_InvalidTF(t *testing.T) {
	root := stream.NewQuoteHub[model.Candle]("candles")
	if _, err := New(root, 0); !errors.Is(err, stream.ErrParameter) {
		t.Errorf("expected ErrParameter, got %v", err)
	}
}

func TestRoller_LateCandleReissuesBar(t *testing.T) {
	var got []model.Candle
	r, err := NewRoller([]int{60, 120}, func(bar model.Candle) error {
		got = append(got, bar)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	for _, c := range []model.Candle{sec(0, 100, 1), sec(61, 110, 1), sec(62, 120, 1)} {
		if err := r.Add(c); err != nil {
			t.Fatal(err)
		}
	}
	got = got[:0]

	// A late candle inside the first minute changes the 60s bar at 0 and
	// the 120s bar that covers it.
	if err := r.Add(sec(30, 90, 1)); err != nil {
		t.Fatal(err)
	}

	var sixty, twoMin []model.Candle
	for _, b := range got {
		switch b.TF {
		case 60:
			sixty = append(sixty, b)
		case 120:
			twoMin = append(twoMin, b)
		}
	}
	if len(sixty) == 0 || sixty[0].Low != 90 || sixty[0].Count != 2 {
		t.Errorf("60s bar not reissued with the late candle: %+v", sixty)
	}
	if len(twoMin) != 1 || twoMin[0].Count != 4 || twoMin[0].Close != 120 {
		t.Errorf("120s bar not reissued: %+v", twoMin)
	}

	bars := r.Bars("NSE", "3045", 1, 60)
	if len(bars) != 2 {
		t.Errorf("expected 2 bars, got %d", len(bars))
	}
	if r.Len() != 1 {
		t.Errorf("expected 1 series, got %d", r.Len())
	}
}

func TestRoller_MultipleTokens(t *testing.T) {
	count := 0
	r, _ := NewRoller([]int{60}, func(model.Candle) error { count++; return nil })

	a := sec(0, 100, 1)
	b := sec(0, 200, 1)
	b.Token = "2885"
	if err := r.Add(a); err != nil {
		t.Fatal(err)
	}
	if err := r.Add(b); err != nil {
		t.Fatal(err)
	}
	if r.Len() != 2 || count != 2 {
		t.Errorf("expected 2 series and 2 bars, got %d and %d", r.Len(), count)
	}

	if _, err := NewRoller(nil, nil); !errors.Is(err, stream.ErrParameter) {
		t.Errorf("expected ErrParameter for no timeframes, got %v", err)
	}
}
