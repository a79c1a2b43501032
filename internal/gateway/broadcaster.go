package gateway

import (
	"encoding/json"
	"strconv"
	"time"
)

// Broadcaster constructs envelope JSON and sends filtered messages to clients.
type Broadcaster struct {
	hub *Hub
	now func() time.Time
}

// NewBroadcaster creates a Broadcaster backed by the given Hub.
func NewBroadcaster(hub *Hub) *Broadcaster {
	return &Broadcaster{hub: hub, now: func() time.Time { return time.Now().UTC() }}
}

// Broadcast sends data on a channel to all subscribed clients.
// The envelope carries a global seq and a per-channel channel_seq for
// client-side gap detection:
//
//	{"channel":"...","data":{...},"ts":"...","seq":N,"channel_seq":M}
func (b *Broadcaster) Broadcast(channel string, data []byte) {
	now := b.now()
	b.recordLatency(data, now)

	b.hub.mu.Lock()
	b.hub.channelSeqs[channel]++
	channelSeq := b.hub.channelSeqs[channel]
	b.hub.latest[channel] = latestEntry{Data: data, TS: now, Seq: channelSeq}
	b.hub.seq++
	seq := b.hub.seq
	rb, exists := b.hub.replayBufs[channel]
	if !exists {
		rb = NewReplayBuffer(b.hub.replaySize)
		b.hub.replayBufs[channel] = rb
	}
	b.hub.mu.Unlock()

	buf := appendEnvelope(make([]byte, 0, len(channel)+len(data)+160), channel, data, now, seq, channelSeq)
	rb.Push(channelSeq, buf)

	b.hub.mu.RLock()
	defer b.hub.mu.RUnlock()
	for client := range b.hub.clients {
		if !client.matchesChannel(channel) {
			continue
		}
		if !client.trySend(buf) && b.hub.prom != nil {
			b.hub.prom.FanoutDropsTotal.WithLabelValues("ws").Inc()
		}
	}
}

// appendEnvelope hand-crafts the envelope JSON; data is already JSON.
func appendEnvelope(buf []byte, channel string, data []byte, now time.Time, seq, channelSeq int64) []byte {
	buf = append(buf, `{"channel":"`...)
	buf = append(buf, channel...)
	buf = append(buf, `","data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = now.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, `,"channel_seq":`...)
	buf = strconv.AppendInt(buf, channelSeq, 10)
	buf = append(buf, '}')
	return buf
}

// recordLatency measures from the close of the bar the payload belongs to.
// Rebuilt history is not a live update and is skipped.
func (b *Broadcaster) recordLatency(data []byte, now time.Time) {
	closed, ok := barClose(data)
	if !ok {
		return
	}
	d := now.Sub(closed)
	if d < 0 {
		return
	}
	b.hub.Latency.Record(float64(d.Microseconds()) / 1000.0)
	if b.hub.prom != nil {
		b.hub.prom.E2ELatency.Observe(d.Seconds())
	}
}

// barClose extracts ts + tf from a candle or indicator payload.
func barClose(data []byte) (time.Time, bool) {
	var partial struct {
		TS  time.Time `json:"ts"`
		TF  int       `json:"tf"`
		Act string    `json:"act"`
	}
	if err := json.Unmarshal(data, &partial); err != nil || partial.TS.IsZero() || partial.Act == "rebuild" {
		return time.Time{}, false
	}
	return partial.TS.Add(time.Duration(partial.TF) * time.Second), true
}
