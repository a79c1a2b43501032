package gateway

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/DaveSkender/Stock.Indicators-sub014/internal/indicator"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// TFInfo is the response item of /api/tfs.
type TFInfo struct {
	Seconds int    `json:"seconds"`
	Label   string `json:"label"`
}

// CandleOut is the response item of /api/candles.
type CandleOut struct {
	SnapshotCandle
	Token    string `json:"token"`
	Exchange string `json:"exchange"`
	TF       int    `json:"tf"`
}

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	SetCORS(w)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// RegisterRoutes registers the WebSocket and REST routes on mux.
func RegisterRoutes(mux *http.ServeMux, hub *Hub, processStart time.Time) {
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("ws upgrade failed", "error", err)
			return
		}
		hub.HandleWSRequest(conn, r.URL.Query().Get("last_ts"))
	})

	mux.HandleFunc("/api/indicators/latest", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, hub.GetLatestAll())
	})

	mux.HandleFunc("/api/tfs", func(w http.ResponseWriter, r *http.Request) {
		tfs := make([]TFInfo, len(hub.TFs))
		for i, tf := range hub.TFs {
			tfs[i] = TFInfo{Seconds: tf, Label: TFLabel(tf)}
		}
		writeJSON(w, tfs)
	})

	mux.HandleFunc("/api/config", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"tfs":        hub.TFs,
			"tokens":     hub.Tokens,
			"indicators": hub.ConfigStore.Names(),
		})
	})

	// GET lists the engine's indicator set; POST adds indicator configs to it.
	mux.HandleFunc("/api/indicators/active", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodOptions:
			SetCORS(w)
			w.WriteHeader(http.StatusOK)
		case http.MethodPost:
			var req []indicator.IndicatorConfig
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				SetCORS(w)
				http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
				return
			}
			for i := range req {
				req[i].Type = strings.ToUpper(req[i].Type)
			}
			added, err := hub.ConfigStore.Add(r.Context(), req)
			if err != nil {
				SetCORS(w)
				http.Error(w, fmt.Sprintf(`{"error":%q}`, err.Error()), http.StatusBadRequest)
				return
			}
			writeJSON(w, map[string]interface{}{"status": "ok", "added": added})
		default:
			writeJSON(w, hub.ConfigStore.Get())
		}
	})

	mux.HandleFunc("/api/candles", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		tf := queryInt(q.Get("tf"), 60, 1<<30)
		limit := queryInt(q.Get("limit"), 200, 1000)
		token := hub.token(q.Get("token"))
		if hub.Rdb == nil || token == "" {
			writeJSON(w, []CandleOut{})
			return
		}

		candles := readCandles(r.Context(), hub.Rdb, fmt.Sprintf("candle:%ds:%s", tf, token), upperBound(q.Get("before")), limit)
		out := make([]CandleOut, len(candles))
		for i, c := range candles {
			out[i] = CandleOut{SnapshotCandle: snapshotCandle(c), Token: c.Token, Exchange: c.Exchange, TF: tf}
		}
		writeJSON(w, out)
	})

	mux.HandleFunc("/api/indicators/history", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		name := q.Get("name")
		token := hub.token(q.Get("token"))
		if name == "" || q.Get("tf") == "" || hub.Rdb == nil || token == "" {
			writeJSON(w, []SnapshotIndPoint{})
			return
		}
		tf := queryInt(q.Get("tf"), 60, 1<<30)
		limit := queryInt(q.Get("limit"), 300, 1000)

		key := fmt.Sprintf("ind:%s:%ds:%s", name, tf, token)
		writeJSON(w, readIndicator(r.Context(), hub.Rdb, key, upperBound(q.Get("before")), limit))
	})

	// Gap backfill: /api/missed?channel=...&from=N&to=M returns the buffered
	// envelopes with channel_seq in [from, to].
	mux.HandleFunc("/api/missed", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		channel := q.Get("channel")
		from, err1 := strconv.ParseInt(q.Get("from"), 10, 64)
		to, err2 := strconv.ParseInt(q.Get("to"), 10, 64)
		if channel == "" || err1 != nil || err2 != nil || from > to {
			SetCORS(w)
			http.Error(w, `{"error":"channel, from and to are required"}`, http.StatusBadRequest)
			return
		}
		envelopes := hub.GetReplayRange(channel, from, to)
		out := make([]json.RawMessage, len(envelopes))
		for i, e := range envelopes {
			out[i] = e
		}
		writeJSON(w, map[string]interface{}{
			"channel":     channel,
			"channel_seq": hub.GetChannelSeq(channel),
			"envelopes":   out,
		})
	})

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		redisOK := hub.Rdb != nil && hub.Rdb.Ping(r.Context()).Err() == nil
		writeJSON(w, map[string]interface{}{
			"status":     "ok",
			"redis":      redisOK,
			"ws_clients": hub.ClientCount(),
			"uptime_sec": int64(time.Since(processStart).Seconds()),
			"ts":         time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
}

// token returns the requested "exchange:token" key, or the first served one.
func (h *Hub) token(requested string) string {
	if requested != "" {
		return strings.ToUpper(requested)
	}
	if len(h.Tokens) > 0 {
		return h.Tokens[0]
	}
	return ""
}

// queryInt parses a positive int query value, falling back to def and
// capping at limit.
func queryInt(s string, def, limit int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return def
	}
	return min(n, limit)
}

// upperBound converts a "before" timestamp into an exclusive stream ID bound.
func upperBound(before string) string {
	if before == "" {
		return "+"
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, before); err == nil {
			return "(" + strconv.FormatInt(t.UnixMilli(), 10) + "-0"
		}
	}
	return "+"
}

// TFLabel returns a human-readable label for a timeframe in seconds.
func TFLabel(tf int) string {
	switch {
	case tf < 60:
		return fmt.Sprintf("%ds", tf)
	case tf < 3600:
		return fmt.Sprintf("%dm", tf/60)
	default:
		return fmt.Sprintf("%dh", tf/3600)
	}
}
