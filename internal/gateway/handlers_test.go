package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	h, _ := newTestHub(t)
	mux := http.NewServeMux()
	RegisterRoutes(mux, h, time.Now())
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return h, srv
}

func getJSON(t *testing.T, url string, v interface{}) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestRoutes_TFsAndConfig(t *testing.T) {
	_, srv := newTestServer(t)

	var tfs []TFInfo
	getJSON(t, srv.URL+"/api/tfs", &tfs)
	assert.Equal(t, []TFInfo{{60, "1m"}, {300, "5m"}}, tfs)

	resp, err := http.Post(srv.URL+"/api/indicators/active", "application/json",
		strings.NewReader(`[{"type":"sma","period":20},{"type":"EMA","period":9,"source":"SMA_20"}]`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var cfg struct {
		Indicators []string `json:"indicators"`
	}
	getJSON(t, srv.URL+"/api/config", &cfg)
	assert.Equal(t, []string{"SMA_20", "EMA_9_ON_SMA_20"}, cfg.Indicators)

	resp, err = http.Post(srv.URL+"/api/indicators/active", "application/json",
		strings.NewReader(`[{"type":"SMA","period":0}]`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRoutes_LatestAndMissed(t *testing.T) {
	h, srv := newTestServer(t)
	ch := "pub:ind:SMA_9:60s:NSE:26000"
	h.Broadcast(ch, []byte(`{"value":1}`))
	h.Broadcast(ch, []byte(`{"value":2}`))

	var latest map[string]json.RawMessage
	getJSON(t, srv.URL+"/api/indicators/latest", &latest)
	assert.JSONEq(t, `{"value":2}`, string(latest[ch]))

	var missed struct {
		ChannelSeq int64      `json:"channel_seq"`
		Envelopes  []envelope `json:"envelopes"`
	}
	getJSON(t, srv.URL+"/api/missed?channel="+ch+"&from=2&to=5", &missed)
	assert.Equal(t, int64(2), missed.ChannelSeq)
	require.Len(t, missed.Envelopes, 1)
	assert.JSONEq(t, `{"value":2}`, string(missed.Envelopes[0].Data))

	resp, err := http.Get(srv.URL + "/api/missed?channel=" + ch + "&from=5&to=2")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRoutes_HistoryWithoutRedis(t *testing.T) {
	_, srv := newTestServer(t)

	var candles []CandleOut
	getJSON(t, srv.URL+"/api/candles?tf=60", &candles)
	assert.Empty(t, candles)

	var health map[string]interface{}
	getJSON(t, srv.URL+"/health", &health)
	assert.Equal(t, false, health["redis"])
}

func TestWebSocket_SubscribeThenLive(t *testing.T) {
	h, srv := newTestServer(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type":   "SUBSCRIBE",
		"reqId":  "r1",
		"symbol": "nse:26000",
		"tf":     60,
		"indicators": []map[string]interface{}{
			{"id": "sma", "params": map[string]int{"length": 9}},
		},
	}))

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var snap SnapshotResponse
	require.NoError(t, conn.ReadJSON(&snap))
	assert.Equal(t, "SNAPSHOT", snap.Type)
	assert.Equal(t, "r1", snap.ReqID)
	assert.Contains(t, snap.Indicators, "SMA_9:60")
	assert.Contains(t, h.ConfigStore.Names(), "SMA_9")

	h.Broadcast("pub:ind:RSI_14:60s:NSE:26000", []byte(`{"value":50}`))
	h.Broadcast("pub:ind:SMA_9:60s:NSE:26000", []byte(`{"value":101}`))

	var env envelope
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, "pub:ind:SMA_9:60s:NSE:26000", env.Channel)
	assert.Equal(t, int64(1), env.ChannelSeq)
}

func TestQueryIntAndUpperBound(t *testing.T) {
	assert.Equal(t, 200, queryInt("", 200, 1000))
	assert.Equal(t, 200, queryInt("-3", 200, 1000))
	assert.Equal(t, 1000, queryInt("5000", 200, 1000))
	assert.Equal(t, 7, queryInt("7", 200, 1000))

	assert.Equal(t, "+", upperBound(""))
	assert.Equal(t, "+", upperBound("yesterday"))
	assert.Equal(t, "(1704167100000-0", upperBound("2024-01-02T03:45:00Z"))
}
