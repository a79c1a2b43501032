package gateway

import (
	"context"
	"log/slog"
)

// Patterns the router subscribes to. Indicator channels are created on
// demand as clients add indicators, so they are matched by pattern.
var routePatterns = []string{"pub:ind:*", "pub:candle:*"}

// PubSubRouter manages Redis PubSub subscriptions and routes messages
// to the broadcaster for fan-out to WebSocket clients.
type PubSubRouter struct {
	hub *Hub
}

// NewPubSubRouter creates a PubSubRouter backed by the given Hub.
func NewPubSubRouter(hub *Hub) *PubSubRouter {
	return &PubSubRouter{hub: hub}
}

// Run subscribes to the route patterns and forwards messages.
// Blocks until ctx is cancelled.
func (r *PubSubRouter) Run(ctx context.Context) {
	pubsub := r.hub.Rdb.PSubscribe(ctx, routePatterns...)
	defer pubsub.Close()
	slog.Info("subscribed to PubSub patterns", "patterns", routePatterns)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			r.hub.Broadcast(msg.Channel, []byte(msg.Payload))
		}
	}
}
