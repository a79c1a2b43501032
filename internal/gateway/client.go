package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/DaveSkender/Stock.Indicators-sub014/internal/indicator"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 4096
)

// Client represents a single WebSocket peer.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	// Per-client subscriptions: key = "symbol:tf"
	subMu sync.RWMutex
	subs  map[string]*ClientSubscription
}

func newClient(h *Hub, conn *websocket.Conn) *Client {
	return &Client{
		conn: conn,
		send: make(chan []byte, clientSendBuffer),
		hub:  h,
		subs: make(map[string]*ClientSubscription),
	}
}

// trySend queues msg without blocking. The caller holds the hub lock.
func (c *Client) trySend(msg []byte) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Send queues msg unless the client has disconnected or its buffer is full.
func (c *Client) Send(msg []byte) bool {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return false
	}
	return c.trySend(msg)
}

func (c *Client) sendInitialState(lastTS string) {
	var cutoff time.Time
	if lastTS != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, lastTS); err == nil {
			cutoff = parsed
		}
	}

	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	for channel, entry := range c.hub.latest {
		if !cutoff.IsZero() && !entry.TS.After(cutoff) {
			continue
		}
		envelope, _ := json.Marshal(map[string]interface{}{
			"channel":     channel,
			"data":        entry.Data,
			"ts":          entry.TS.Format(time.RFC3339Nano),
			"channel_seq": entry.Seq,
			"initial":     true,
		})
		c.trySend(envelope)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// Coalesce queued messages into one frame, newline separated.
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)
			for n := len(c.send); n > 0; n-- {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
		slog.Info("ws client disconnected", "clients", c.hub.ClientCount())
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var base struct {
			Type string `json:"type"`
			Ping int64  `json:"ping"`
		}
		if json.Unmarshal(msg, &base) != nil {
			continue
		}

		switch base.Type {
		case "SUBSCRIBE":
			var sub SubscribeMsg
			if err := json.Unmarshal(msg, &sub); err != nil {
				c.SendError("", "invalid SUBSCRIBE: "+err.Error())
				continue
			}
			go c.handleSubscribe(context.Background(), sub)
		case "UNSUBSCRIBE":
			var unsub UnsubscribeMsg
			if json.Unmarshal(msg, &unsub) == nil {
				c.handleUnsubscribe(unsub)
			}
		default:
			if base.Ping > 0 {
				pong, _ := json.Marshal(map[string]interface{}{
					"type":      "pong",
					"ping":      base.Ping,
					"server_ts": time.Now().UnixMilli(),
				})
				c.Send(pong)
			}
		}
	}
}

// handleSubscribe stores the subscription, asks the engine for any
// indicators it does not compute yet, and answers with a SNAPSHOT.
func (c *Client) handleSubscribe(ctx context.Context, msg SubscribeMsg) {
	if msg.Symbol == "" || msg.TF <= 0 {
		c.SendError(msg.ReqID, "symbol and tf are required")
		return
	}

	configs := make([]indicator.IndicatorConfig, len(msg.Indicators))
	for i, spec := range msg.Indicators {
		configs[i] = SpecConfig(spec)
	}
	added, err := c.hub.ConfigStore.Add(ctx, configs)
	if err != nil {
		c.SendError(msg.ReqID, err.Error())
		return
	}

	sub := &ClientSubscription{
		Symbol:     strings.ToUpper(msg.Symbol),
		TF:         msg.TF,
		IndEntries: ResolveIndEntries(msg.Indicators, msg.TF),
	}
	c.subMu.Lock()
	c.subs[sub.SubKey()] = sub
	c.subMu.Unlock()
	slog.Info("client subscribed", "symbol", sub.Symbol, "tf", sub.TF, "indicators", len(sub.IndEntries), "new", added)

	// New indicators wait for the engine to replay history after its reload.
	if c.hub.Rdb != nil && len(sub.IndEntries) > 0 {
		timeout := 3 * time.Second
		if added {
			timeout = 8 * time.Second
		}
		if !waitForIndicators(ctx, c.hub.Rdb, sub, timeout) {
			slog.Warn("timed out waiting for indicator streams", "symbol", sub.Symbol, "tf", sub.TF)
		}
	}

	snap := BuildSnapshot(ctx, c.hub.Rdb, sub, msg.History.Candles)
	snap.ReqID = msg.ReqID
	c.SendJSON(snap)
}

// handleUnsubscribe removes a subscription.
func (c *Client) handleUnsubscribe(msg UnsubscribeMsg) {
	sub := &ClientSubscription{Symbol: strings.ToUpper(msg.Symbol), TF: msg.TF}
	c.subMu.Lock()
	delete(c.subs, sub.SubKey())
	c.subMu.Unlock()
}

// SendJSON marshals v and queues it.
func (c *Client) SendJSON(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("ws message marshal failed", "error", err)
		return
	}
	if !c.Send(data) {
		slog.Warn("client send buffer full, dropping message")
	}
}

// SendError sends an ERROR message.
func (c *Client) SendError(reqID, errMsg string) {
	c.SendJSON(ErrorResponse{Type: "ERROR", ReqID: reqID, Error: errMsg})
}

// matchesChannel reports whether the client should receive a message on
// channel. A client without subscriptions receives everything.
func (c *Client) matchesChannel(channel string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	if len(c.subs) == 0 {
		return true
	}
	parsed := parseChannel(channel)
	if parsed == nil {
		return true
	}

	symbol := parsed.exchange + ":" + parsed.token
	for _, sub := range c.subs {
		if sub.Symbol != symbol {
			continue
		}
		switch parsed.chType {
		case "candle":
			if sub.TF == parsed.tf {
				return true
			}
		case "indicator":
			for _, entry := range sub.IndEntries {
				if entry.Name == parsed.indName && entry.TF == parsed.tf {
					return true
				}
			}
		}
	}
	return false
}

// parsedChannel holds the parsed components of a PubSub channel name.
type parsedChannel struct {
	chType   string // "candle", "indicator"
	indName  string // "SMA_9", "PRS_5_VS_NSE-26000"
	tf       int
	exchange string
	token    string
}

// parseChannel parses "pub:candle:60s:NSE:26000" or
// "pub:ind:SMA_9:60s:NSE:26000".
func parseChannel(channel string) *parsedChannel {
	parts := strings.Split(channel, ":")
	if len(parts) < 5 || parts[0] != "pub" {
		return nil
	}
	switch {
	case parts[1] == "candle" && len(parts) == 5:
		return &parsedChannel{chType: "candle", tf: parseTFStr(parts[2]), exchange: parts[3], token: parts[4]}
	case parts[1] == "ind" && len(parts) == 6:
		return &parsedChannel{chType: "indicator", indName: parts[2], tf: parseTFStr(parts[3]), exchange: parts[4], token: parts[5]}
	}
	return nil
}

// parseTFStr parses "60s" → 60. Anything else yields 0.
func parseTFStr(s string) int {
	s, ok := strings.CutSuffix(s, "s")
	if !ok || s == "" {
		return 0
	}
	n := 0
	for _, ch := range s {
		if ch < '0' || ch > '9' {
			return 0
		}
		n = n*10 + int(ch-'0')
	}
	return n
}
