package indicator

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/DaveSkender/Stock.Indicators-sub014/internal/model"
)

var snapConfigs = []TFIndicatorConfig{
	{
		TF: 60,
		Indicators: []IndicatorConfig{
			{Type: "SMA", Period: 5},
			{Type: "EMA", Period: 5},
			{Type: "RSI", Period: 14},
		},
	},
}

func TestSnapshot_Engine_RoundTrip(t *testing.T) {
	engine, err := NewEngine(snapConfigs)
	if err != nil {
		t.Fatal(err)
	}

	// Feed 20 candles with varying prices
	for i := 0; i < 20; i++ {
		if _, err := engine.Process(tokenCandle("SBIN", 60, i, int64(10000+i*100))); err != nil {
			t.Fatal(err)
		}
	}

	snap := SnapshotEngine(engine, "test-stream-id", 0)
	if snap.StreamID != "test-stream-id" {
		t.Errorf("stream ID mismatch: got %s", snap.StreamID)
	}
	if snap.Candles() != 20 {
		t.Errorf("snapshot holds %d candles, want 20", snap.Candles())
	}

	// Through JSON, as the stores keep it.
	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatal(err)
	}
	var decoded EngineSnapshot
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}

	engine2, err := RestoreEngine(snapConfigs, &decoded)
	if err != nil {
		t.Fatalf("restore failed: %v", err)
	}

	// Feed more candles to both engines — must produce identical results
	for i := 20; i < 25; i++ {
		c := tokenCandle("SBIN", 60, i, int64(12000+i*100))
		r1, err1 := engine.Process(c)
		r2, err2 := engine2.Process(c)
		if err1 != nil || err2 != nil {
			t.Fatalf("candle %d: %v / %v", i, err1, err2)
		}
		if len(r1) != len(r2) {
			t.Fatalf("result count mismatch at candle %d: %d vs %d", i, len(r1), len(r2))
		}
		for j := range r1 {
			if r1[j].Value != r2[j].Value || r1[j].Index != r2[j].Index {
				t.Errorf("candle %d indicator %s: original=%.6f@%d restored=%.6f@%d",
					i, r1[j].Name, r1[j].Value, r1[j].Index, r2[j].Value, r2[j].Index)
			}
		}
	}
}

func TestSnapshot_MaxCandles(t *testing.T) {
	engine, err := NewEngine(snapConfigs)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 30; i++ {
		engine.Process(tokenCandle("A", 60, i, 10000))
	}
	snap := SnapshotEngine(engine, "", 10)
	if len(snap.Series) != 1 || len(snap.Series[0].Candles) != 10 {
		t.Fatalf("want 1 series of 10 candles, got %+v", snap.Series)
	}
	if got := snap.Series[0].Candles[0].TS; !got.Equal(tokenCandle("A", 60, 20, 0).TS) {
		t.Errorf("oldest kept candle at %s, want the 21st", got)
	}
}

func TestSnapshot_RestoreWithChangedConfig(t *testing.T) {
	engine, _ := NewEngine(snapConfigs)
	for i := 0; i < 20; i++ {
		engine.Process(tokenCandle("SBIN", 60, i, int64(10000+(i%4)*150)))
	}
	snap := SnapshotEngine(engine, "", 0)

	// SMA_5 dropped, SMMA_5 added, TF 300 added.
	changed := []TFIndicatorConfig{
		{TF: 60, Indicators: []IndicatorConfig{{Type: "SMMA", Period: 5}, {Type: "RSI", Period: 14}}},
		{TF: 300, Indicators: []IndicatorConfig{{Type: "SMA", Period: 5}}},
	}
	restored, err := RestoreEngine(changed, snap)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := restored.Results("NSE", "SBIN", 60, "SMA_5"); ok {
		t.Error("dropped indicator still present")
	}
	got, ok := restored.Results("NSE", "SBIN", 60, "SMMA_5")
	if !ok || len(got) != 20 {
		t.Fatalf("new indicator not warm: ok=%v len=%d", ok, len(got))
	}
	want, _ := GetSmma(restored.Candles("NSE", "SBIN", 60), 5)
	assertClose(t, "SMMA_5 restored", got[19].Value, want[19].Value(), 1e-12)
}

func TestSnapshot_VersionMismatch(t *testing.T) {
	if _, err := RestoreEngine(snapConfigs, &EngineSnapshot{Version: 1}); err == nil {
		t.Error("expected error for version 1 snapshot")
	}

	r := NewRestorer(snapConfigs)
	e, err := r.RestoreFromSnap(&EngineSnapshot{Version: 1})
	if err != nil || e == nil || e.Len() != 0 {
		t.Fatalf("fallback to cold start failed: %v", err)
	}
}

// ────────────────────────────────────────────────────────────
// Restorer
// ────────────────────────────────────────────────────────────

type memReader struct {
	candles []model.Candle
}

func (m *memReader) ReadCandles(exchange, token string, tf int, afterTS int64) ([]model.Candle, error) {
	var out []model.Candle
	for _, c := range m.candles {
		if c.Exchange == exchange && c.Token == token && c.TF == tf && c.TS.Unix() > afterTS {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memReader) ReadAllCandles(tf int, afterTS int64) ([]model.Candle, error) {
	var out []model.Candle
	for _, c := range m.candles {
		if c.TF == tf && c.TS.Unix() > afterTS {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memReader) Close() error { return nil }

func TestRestorer_Backfill(t *testing.T) {
	reader := &memReader{}
	for i := 0; i < 200; i++ {
		reader.candles = append(reader.candles,
			tokenCandle("A", 60, i, int64(10000+i)),
			tokenCandle("B", 60, i, int64(20000-i)))
	}

	r := NewRestorer(snapConfigs)
	if r.Depth != 70 {
		t.Errorf("default depth %d, want 5*14", r.Depth)
	}
	engine, err := r.RestoreFromSnap(nil)
	if err != nil {
		t.Fatal(err)
	}

	published := 0
	fed := r.BackfillFromSQLite(engine, reader, func(rs []model.IndicatorResult) { published += len(rs) })
	if fed != 140 {
		t.Errorf("fed %d candles, want 70 per series", fed)
	}
	if published != 140*3 {
		t.Errorf("published %d results, want %d", published, 140*3)
	}
	if engine.Len() != 2 {
		t.Errorf("engine has %d series, want 2", engine.Len())
	}

	// Replaying the same candles again changes nothing.
	again := r.ReplayCandles(engine, reader.candles[len(reader.candles)-2:])
	if again != 2 {
		t.Errorf("replayed %d, want 2", again)
	}
	latest := engine.Latest("NSE", "A", 60)
	if len(latest) != 3 || math.IsNaN(latest[0].Value) {
		t.Errorf("unexpected latest values %+v", latest)
	}
}
