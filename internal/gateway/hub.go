// Package gateway fans indicator and candle updates out to WebSocket
// clients and serves their history over REST.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"

	"github.com/DaveSkender/Stock.Indicators-sub014/internal/indicator"
	"github.com/DaveSkender/Stock.Indicators-sub014/internal/metrics"
)

const (
	clientSendBuffer  = 256
	defaultReplaySize = 500
)

// Options configures a Hub.
type Options struct {
	TFs        []int
	Tokens     []string                    // "exchange:token" keys served by default
	Indicators []indicator.IndicatorConfig // the engine's startup indicator set
	ReplaySize int                         // envelopes kept per channel for gap backfill
	Metrics    *metrics.Metrics
}

// Hub manages WebSocket clients and Redis PubSub fan-out.
// It acts as a compositor, delegating to focused components:
//   - PubSubRouter: Redis subscription + message routing
//   - Broadcaster: envelope construction + client-filtered fan-out
//   - ConfigStore: the engine's indicator set
type Hub struct {
	Rdb    *goredis.Client
	TFs    []int
	Tokens []string

	prom       *metrics.Metrics
	replaySize int

	mu      sync.RWMutex
	clients map[*Client]bool
	latest  map[string]latestEntry
	seq     int64

	// Per-channel monotonic sequence numbers for gap detection
	channelSeqs map[string]int64
	replayBufs  map[string]*ReplayBuffer

	Latency     *LatencyTracker
	Router      *PubSubRouter
	Broadcaster *Broadcaster
	ConfigStore *ConfigStore
}

type latestEntry struct {
	Data json.RawMessage
	TS   time.Time
	Seq  int64
}

// NewHub creates a Hub. rdb may be nil, in which case history and config
// publishing are unavailable and only Broadcast feeds clients.
func NewHub(ctx context.Context, rdb *goredis.Client, opts Options) *Hub {
	if opts.ReplaySize <= 0 {
		opts.ReplaySize = defaultReplaySize
	}
	h := &Hub{
		Rdb:         rdb,
		TFs:         opts.TFs,
		Tokens:      opts.Tokens,
		prom:        opts.Metrics,
		replaySize:  opts.ReplaySize,
		clients:     make(map[*Client]bool),
		latest:      make(map[string]latestEntry),
		channelSeqs: make(map[string]int64),
		replayBufs:  make(map[string]*ReplayBuffer),
		Latency:     NewLatencyTracker(10000),
	}
	h.Router = NewPubSubRouter(h)
	h.Broadcaster = NewBroadcaster(h)
	h.ConfigStore = NewConfigStore(rdb, opts.Indicators)
	h.ConfigStore.Load(ctx)
	return h
}

// Run starts the PubSub subscription loop. Blocks until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	if h.Rdb == nil {
		slog.Warn("no Redis client, PubSub fan-out disabled")
		<-ctx.Done()
		return
	}
	h.Router.Run(ctx)
}

// Broadcast delegates to the Broadcaster.
func (h *Hub) Broadcast(channel string, data []byte) {
	h.Broadcaster.Broadcast(channel, data)
}

// HandleWSRequest registers an upgraded WebSocket connection and starts
// its pumps. lastTS limits the initial state to channels updated after it.
func (h *Hub) HandleWSRequest(conn *websocket.Conn, lastTS string) {
	client := newClient(h, conn)
	conn.EnableWriteCompression(true)

	count := h.addClient(client)
	slog.Info("ws client connected", "clients", count)

	client.sendInitialState(lastTS)
	go client.writePump()
	go client.readPump()
}

func (h *Hub) addClient(c *Client) int {
	h.mu.Lock()
	h.clients[c] = true
	count := len(h.clients)
	h.mu.Unlock()
	if h.prom != nil {
		h.prom.GatewayClients.Set(float64(count))
	}
	return count
}

// RemoveClient removes a client from the hub and closes its send channel.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	count := len(h.clients)
	close(c.send)
	h.mu.Unlock()
	if h.prom != nil {
		h.prom.GatewayClients.Set(float64(count))
	}
}

// GetLatestAll returns the latest payload of every channel.
func (h *Hub) GetLatestAll() map[string]json.RawMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()
	cp := make(map[string]json.RawMessage, len(h.latest))
	for k, v := range h.latest {
		cp[k] = v.Data
	}
	return cp
}

// GetReplayRange returns buffered envelopes for a channel in [fromSeq, toSeq].
func (h *Hub) GetReplayRange(channel string, fromSeq, toSeq int64) [][]byte {
	h.mu.RLock()
	rb := h.replayBufs[channel]
	h.mu.RUnlock()
	if rb == nil {
		return nil
	}
	entries := rb.Range(fromSeq, toSeq)
	result := make([][]byte, len(entries))
	for i, e := range entries {
		result[i] = e.Data
	}
	return result
}

// GetChannelSeq returns the current sequence number for a channel.
func (h *Hub) GetChannelSeq(channel string) int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.channelSeqs[channel]
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// StartStatsBroadcast sends e2e latency percentiles to every client each
// interval until ctx is cancelled.
func (h *Hub) StartStatsBroadcast(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p50, p95, p99 := h.Latency.Percentiles()
			envelope, _ := json.Marshal(map[string]interface{}{
				"type":           "stats",
				"clients":        h.ClientCount(),
				"latency_p50_ms": p50,
				"latency_p95_ms": p95,
				"latency_p99_ms": p99,
				"ts":             time.Now().UTC().Format(time.RFC3339Nano),
			})
			h.mu.RLock()
			for client := range h.clients {
				client.trySend(envelope)
			}
			h.mu.RUnlock()
		}
	}
}
