package indengine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DaveSkender/Stock.Indicators-sub014/internal/indicator"
	"github.com/DaveSkender/Stock.Indicators-sub014/internal/metrics"
	"github.com/DaveSkender/Stock.Indicators-sub014/internal/model"
	"github.com/DaveSkender/Stock.Indicators-sub014/internal/stream"
)

var t0 = time.Date(2024, 1, 2, 3, 44, 0, 0, time.UTC)

type recorder struct {
	mu      sync.Mutex
	results []model.IndicatorResult
}

func (r *recorder) WriteIndicatorBatch(_ context.Context, results []model.IndicatorResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, results...)
	return nil
}

func (r *recorder) Close() error { return nil }

func (r *recorder) take() []model.IndicatorResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.results
	r.results = nil
	return out
}

func bar(tf, i int, close int64) model.Candle {
	return model.Candle{
		Exchange: "NSE", Token: "26000", TF: tf,
		TS:   t0.Add(time.Duration(i*tf) * time.Second),
		Open: close, High: close + 10, Low: close - 10, Close: close,
		Volume: 10, Count: 1,
	}
}

func newTestPipeline(t *testing.T, tf int, specs string) (*pipeline, *recorder, *metrics.Metrics) {
	t.Helper()
	configs, err := BuildIndicatorConfigs([]int{tf}, specs)
	require.NoError(t, err)
	engine, err := indicator.NewEngine(configs)
	require.NoError(t, err)
	prom := metrics.New(prometheus.NewRegistry())
	engine.SetMonitor(prom.Monitor())
	rec := &recorder{}
	return newPipeline(engine, rec, prom, metrics.NewHealthStatus()), rec, prom
}

// ──────────────────────────────────────────────────────────────
// Config
// ──────────────────────────────────────────────────────────────

func TestLoadConfig_Env(t *testing.T) {
	t.Setenv("ENABLED_TFS", "60, 300")
	t.Setenv("INDICATOR_CONFIGS", "SMA:20,EMA:9@SMA_20")
	t.Setenv("SUBSCRIBE_TOKENS", "1:26000,2:35001,BSE:1")
	t.Setenv("SNAPSHOT_INTERVAL_SEC", "-4")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, []int{60, 300}, cfg.EnabledTFs)
	assert.Equal(t, []string{"NSE:26000", "NFO:35001", "BSE:1"}, cfg.SubscribeTokenKeys)
	assert.Equal(t, 30, cfg.SnapshotIntervalS)
	require.Len(t, cfg.IndicatorConfigs, 2)
	assert.Equal(t, "EMA_9_ON_SMA_20", cfg.IndicatorConfigs[1].Indicators[1].Name())
}

func TestLoadConfig_InvalidSpecIsFatal(t *testing.T) {
	t.Setenv("ENABLED_TFS", "60")
	t.Setenv("INDICATOR_CONFIGS", "SMA:zero")
	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestLoadConfig_SourceTFMustDivide(t *testing.T) {
	t.Setenv("ENABLED_TFS", "60,90")
	t.Setenv("SOURCE_TF", "60")
	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestLoadConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "indicators.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
timeframes:
  - tf: 300
    indicators:
      - {type: rsi, period: 14}
`), 0o644))
	t.Setenv("INDICATOR_CONFIG_FILE", path)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, []int{300}, cfg.EnabledTFs)
	assert.Equal(t, "RSI_14", cfg.IndicatorConfigs[0].Indicators[0].Name())
}

// ──────────────────────────────────────────────────────────────
// Pipeline
// ──────────────────────────────────────────────────────────────

func TestPipeline_PublishesAndPersists(t *testing.T) {
	p, rec, prom := newTestPipeline(t, 60, "SMA:2")
	persist := make(chan model.Candle, 10)
	p.persist = persist
	ctx := context.Background()

	require.NoError(t, p.handle(ctx, bar(60, 0, 100), false))
	require.NoError(t, p.handle(ctx, bar(60, 1, 200), false))

	results := rec.take()
	require.Len(t, results, 2)
	assert.False(t, results[0].Ready)
	assert.True(t, results[1].Ready)
	assert.InDelta(t, 1.5, results[1].Value, 1e-9)
	assert.Len(t, persist, 2)
	assert.Equal(t, 2.0, testutil.ToFloat64(prom.CandlesTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(prom.IndicatorsTotal.WithLabelValues("append")))
	assert.Equal(t, 1.0, testutil.ToFloat64(prom.SeriesActive))
}

func TestPipeline_FormingUpdatesTail(t *testing.T) {
	p, rec, _ := newTestPipeline(t, 60, "SMA:2")
	persist := make(chan model.Candle, 10)
	p.persist = persist
	ctx := context.Background()

	require.NoError(t, p.handle(ctx, bar(60, 0, 100), false))
	rec.take()

	require.NoError(t, p.handle(ctx, bar(60, 1, 200), true))
	require.NoError(t, p.handle(ctx, bar(60, 1, 200), true)) // identical repeat
	require.NoError(t, p.handle(ctx, bar(60, 1, 300), true))

	results := rec.take()
	require.Len(t, results, 2)
	assert.Equal(t, "append", results[0].Act)
	assert.Equal(t, "rebuild", results[1].Act)
	assert.InDelta(t, 2.0, results[1].Value, 1e-9)
	assert.Len(t, persist, 1, "forming bars are not stored")
}

func TestPipeline_RollUp(t *testing.T) {
	p, rec, _ := newTestPipeline(t, 120, "SMA:1")
	require.NoError(t, p.rollUp([]int{120}))
	ctx := context.Background()

	for i, c := range []int64{100, 300, 500} {
		require.NoError(t, p.handle(ctx, bar(60, i, c), false))
	}
	results := rec.take()
	require.NotEmpty(t, results)
	last := results[len(results)-1]
	assert.Equal(t, 120, last.TF)
	assert.True(t, last.TS.Equal(t0.Add(2*time.Minute)))
	assert.InDelta(t, 5.0, last.Value, 1e-9)

	got, ok := p.engine.Results("NSE", "26000", 120, "SMA_1")
	require.True(t, ok)
	require.Len(t, got, 2)
	assert.InDelta(t, 3.0, got[0].Value, 1e-9, "first bar carries the close of its second candle")
}

func TestPipeline_Reject(t *testing.T) {
	p, _, prom := newTestPipeline(t, 60, "PRS:2/NSE:1")
	ctx := context.Background()

	require.NoError(t, p.handle(ctx, model.Candle{Exchange: "NSE", Token: "1", TF: 60, TS: t0.Add(time.Second), Close: 100}, false))
	err := p.handle(ctx, bar(60, 0, 100), false)
	require.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(prom.CandlesRejected.WithLabelValues("sequence")))
}

func TestRejectReason(t *testing.T) {
	assert.Equal(t, "sequence", rejectReason(fmt.Errorf("x: %w", stream.ErrSequence)))
	assert.Equal(t, "overflow", rejectReason(stream.ErrOverflow))
	assert.Equal(t, "invalid_operation", rejectReason(stream.ErrInvalidOperation))
	assert.Equal(t, "parameter", rejectReason(stream.ErrParameter))
	assert.Equal(t, "other", rejectReason(assert.AnError))
}

// ──────────────────────────────────────────────────────────────
// Control API
// ──────────────────────────────────────────────────────────────

func newTestService(t *testing.T) (*Service, *recorder) {
	t.Helper()
	p, rec, prom := newTestPipeline(t, 60, "SMA:2")
	svc := &Service{
		cfg:    Config{EnabledTFs: []int{60}},
		engine: p.engine,
		pipe:   p,
		prom:   prom,
		health: p.health,
	}
	ctx := context.Background()
	for i, c := range []int64{100, 200, 300} {
		require.NoError(t, p.handle(ctx, bar(60, i, c), false))
	}
	rec.take()
	return svc, rec
}

func TestAPI_SeriesAndResults(t *testing.T) {
	svc, _ := newTestService(t)
	srv := httptest.NewServer(svc.routes())
	defer srv.Close()

	var keys []string
	getJSON(t, srv.URL+"/series", &keys)
	assert.Equal(t, []string{"NSE:26000:60"}, keys)

	var results []model.IndicatorResult
	getJSON(t, srv.URL+"/results?series=NSE:26000:60&name=SMA_2", &results)
	require.Len(t, results, 3)
	assert.False(t, results[0].Ready)
	assert.Equal(t, 0.0, results[0].Value)
	assert.InDelta(t, 2.5, results[2].Value, 1e-9)

	getJSON(t, srv.URL+"/results?series=NSE:26000:60", &results)
	require.Len(t, results, 1)

	resp, err := http.Get(srv.URL + "/results?series=bad")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_Reload(t *testing.T) {
	svc, rec := newTestService(t)
	srv := httptest.NewServer(svc.routes())
	defer srv.Close()

	body := `[{"tf":60,"indicators":[{"type":"SMA","period":2},{"type":"EMA","period":2}]}]`
	resp, err := http.Post(srv.URL+"/reload", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	names := map[string]bool{}
	for _, r := range rec.take() {
		names[r.Name] = true
	}
	assert.True(t, names["EMA_2"], "new indicator published after reload")

	bad := `[{"tf":60,"indicators":[{"type":"SMA","period":0}]}]`
	resp, err = http.Post(srv.URL+"/reload", "application/json", strings.NewReader(bad))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_Remove(t *testing.T) {
	svc, rec := newTestService(t)
	srv := httptest.NewServer(svc.routes())
	defer srv.Close()

	c := bar(60, 1, 200)
	resp, err := http.Post(srv.URL+"/remove", "application/json", strings.NewReader(string(c.JSON())))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	results := rec.take()
	require.NotEmpty(t, results)
	assert.Equal(t, "rebuild", results[0].Act)
	got, _ := svc.engine.Results("NSE", "26000", 60, "SMA_2")
	require.Len(t, got, 2)
	assert.InDelta(t, 2.0, got[1].Value, 1e-9)

	unknown := bar(60, 0, 100)
	unknown.Token = "999"
	resp, err = http.Post(srv.URL+"/remove", "application/json", strings.NewReader(string(unknown.JSON())))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestParseSeriesKey(t *testing.T) {
	ex, tok, tf, err := parseSeriesKey("NSE:26000:300")
	require.NoError(t, err)
	assert.Equal(t, "NSE", ex)
	assert.Equal(t, "26000", tok)
	assert.Equal(t, 300, tf)

	for _, bad := range []string{"", "NSE:26000", "NSE:26000:x", "NSE:26000:0", ":1:60"} {
		_, _, _, err := parseSeriesKey(bad)
		assert.Error(t, err, bad)
	}
}

func getJSON(t *testing.T, url string, v interface{}) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}
