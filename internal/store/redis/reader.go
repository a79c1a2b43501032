package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/DaveSkender/Stock.Indicators-sub014/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

// replayPage is the XRANGE page size used when replaying a stream.
const replayPage = 1000

// ReaderConfig configures the Redis reader.
type ReaderConfig struct {
	Addr          string
	Password      string
	DB            int
	ConsumerGroup string // consumer group name, e.g. "indengine"
	ConsumerName  string // unique consumer name, e.g. hostname
}

// Reader reads candles from Redis Streams via Consumer Groups.
type Reader struct {
	client        *goredis.Client
	consumerGroup string
	consumerName  string
}

// NewReader creates a new Redis Reader and pings the server.
func NewReader(cfg ReaderConfig) (*Reader, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	group := cfg.ConsumerGroup
	if group == "" {
		group = "indengine"
	}
	consumer := cfg.ConsumerName
	if consumer == "" {
		consumer = "worker-1"
	}

	slog.Info("redis reader connected", "addr", cfg.Addr, "group", group, "consumer", consumer)
	return &Reader{
		client:        client,
		consumerGroup: group,
		consumerName:  consumer,
	}, nil
}

// Client returns the underlying Redis client for health checks.
func (r *Reader) Client() *goredis.Client { return r.client }

// EnsureConsumerGroup creates a consumer group on the given streams if it doesn't exist.
// Uses "$" as start ID (only new messages) for fresh groups.
func (r *Reader) EnsureConsumerGroup(ctx context.Context, streams []string) error {
	for _, stream := range streams {
		err := r.client.XGroupCreateMkStream(ctx, stream, r.consumerGroup, "$").Err()
		if err != nil && !isBusyGroup(err) {
			return fmt.Errorf("xgroup create %s: %w", stream, err)
		}
	}
	return nil
}

// EnsureConsumerGroupFrom creates a consumer group starting from a specific stream ID,
// or moves an existing group there.
func (r *Reader) EnsureConsumerGroupFrom(ctx context.Context, stream, startID string) error {
	err := r.client.XGroupCreateMkStream(ctx, stream, r.consumerGroup, startID).Err()
	if err == nil {
		return nil
	}
	if isBusyGroup(err) {
		return r.client.XGroupSetID(ctx, stream, r.consumerGroup, startID).Err()
	}
	return fmt.Errorf("xgroup create from %s at %s: %w", stream, startID, err)
}

func isBusyGroup(err error) bool {
	return strings.HasPrefix(err.Error(), "BUSYGROUP")
}

// ConsumeCandles reads candles from Redis Streams using consumer groups.
// Blocks on XREADGROUP and sends parsed candles to the output channel.
// Returns when ctx is cancelled.
func (r *Reader) ConsumeCandles(ctx context.Context, streams []string, out chan<- model.Candle) error {
	// Build stream args: [stream1, stream2, ..., ">", ">", ...]
	args := make([]string, len(streams)*2)
	for i, s := range streams {
		args[i] = s
		args[len(streams)+i] = ">"
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		results, err := r.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    r.consumerGroup,
			Consumer: r.consumerName,
			Streams:  args,
			Count:    100,
			Block:    2 * time.Second,
		}).Result()
		if err != nil {
			if errors.Is(err, goredis.Nil) || ctx.Err() != nil {
				continue
			}
			slog.Warn("redis xreadgroup failed", "error", err)
			time.Sleep(500 * time.Millisecond)
			continue
		}

		for _, stream := range results {
			if err := r.deliver(ctx, stream.Stream, r.consumerGroup, stream.Messages, out); err != nil {
				return err
			}
		}
	}
}

// deliver decodes messages into out and ACKs each one after hand-off.
// Undecodable messages are ACKed too so one bad entry cannot wedge the group.
func (r *Reader) deliver(ctx context.Context, stream, group string, msgs []goredis.XMessage, out chan<- model.Candle) error {
	for _, msg := range msgs {
		c, err := decodeCandle(msg.Values)
		if err != nil {
			slog.Warn("redis message dropped", "stream", stream, "id", msg.ID, "error", err)
			r.client.XAck(ctx, stream, group, msg.ID)
			continue
		}

		select {
		case out <- c:
		case <-ctx.Done():
			return ctx.Err()
		}
		r.client.XAck(ctx, stream, group, msg.ID)
	}
	return nil
}

// decodeCandle parses the "data" field of a stream entry.
func decodeCandle(values map[string]interface{}) (model.Candle, error) {
	var c model.Candle
	data, ok := values["data"].(string)
	if !ok {
		return c, errors.New("missing data field")
	}
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return c, fmt.Errorf("unmarshal candle: %w", err)
	}
	if c.TF <= 0 || c.TS.IsZero() {
		return c, fmt.Errorf("candle %s has no timeframe or timestamp", c.Key())
	}
	return c, nil
}

// RecoverPending processes any pending (unACKed) messages from a previous crash.
// This ensures at-least-once delivery semantics.
func (r *Reader) RecoverPending(ctx context.Context, streams []string, out chan<- model.Candle) error {
	for _, stream := range streams {
		for {
			pending, err := r.client.XPendingExt(ctx, &goredis.XPendingExtArgs{
				Stream: stream,
				Group:  r.consumerGroup,
				Start:  "-",
				End:    "+",
				Count:  100,
			}).Result()
			if err != nil || len(pending) == 0 {
				break
			}

			ids := make([]string, len(pending))
			for i, p := range pending {
				ids[i] = p.ID
			}

			claimed, err := r.client.XClaim(ctx, &goredis.XClaimArgs{
				Stream:   stream,
				Group:    r.consumerGroup,
				Consumer: r.consumerName,
				MinIdle:  0,
				Messages: ids,
			}).Result()
			if err != nil {
				slog.Warn("redis xclaim failed", "stream", stream, "error", err)
				break
			}
			if err := r.deliver(ctx, stream, r.consumerGroup, claimed, out); err != nil {
				return err
			}
			if len(claimed) < len(ids) {
				break
			}
		}
	}
	return nil
}

// ReclaimStaleMessages finds PEL entries idle > minIdleMs across all consumers
// in the group and XCLAIMs them for this consumer. Returns reclaimed messages.
func (r *Reader) ReclaimStaleMessages(ctx context.Context, stream string, minIdleMs int64, batchSize int64) ([]goredis.XMessage, error) {
	// Pending entries across ALL consumers, not just ours
	pending, err := r.client.XPendingExt(ctx, &goredis.XPendingExtArgs{
		Stream: stream,
		Group:  r.consumerGroup,
		Start:  "-",
		End:    "+",
		Count:  batchSize,
		Idle:   time.Duration(minIdleMs) * time.Millisecond,
	}).Result()
	if err != nil || len(pending) == 0 {
		return nil, err
	}

	var staleIDs []string
	for _, p := range pending {
		if p.Consumer != r.consumerName {
			staleIDs = append(staleIDs, p.ID)
		}
	}
	if len(staleIDs) == 0 {
		return nil, nil
	}

	// XCLAIM with MinIdle to atomically steal stale entries
	claimed, err := r.client.XClaim(ctx, &goredis.XClaimArgs{
		Stream:   stream,
		Group:    r.consumerGroup,
		Consumer: r.consumerName,
		MinIdle:  time.Duration(minIdleMs) * time.Millisecond,
		Messages: staleIDs,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("xclaim %s: %w", stream, err)
	}
	return claimed, nil
}

// StartPELReclaimer periodically reclaims stale PEL entries on every stream
// and sends their candles to outCh for reprocessing. Runs until ctx is cancelled.
func (r *Reader) StartPELReclaimer(ctx context.Context, streams []string, interval time.Duration, minIdleMs int64, outCh chan<- model.Candle, onReclaim func(count int)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			total := 0
			for _, stream := range streams {
				claimed, err := r.ReclaimStaleMessages(ctx, stream, minIdleMs, 50)
				if err != nil {
					slog.Warn("redis PEL reclaim failed", "stream", stream, "error", err)
					continue
				}
				if err := r.deliver(ctx, stream, r.consumerGroup, claimed, outCh); err != nil {
					return
				}
				total += len(claimed)
			}
			if total > 0 && onReclaim != nil {
				onReclaim(total)
			}
		}
	}
}

// ReplayFromID sends every candle of a stream after startID to out and
// returns the last ID read. "0" replays the whole stream.
func (r *Reader) ReplayFromID(ctx context.Context, stream, startID string, out chan<- model.Candle) (string, error) {
	lastID := startID
	for {
		results, err := r.client.XRangeN(ctx, stream, "("+lastID, "+", replayPage).Result()
		if err != nil {
			return lastID, fmt.Errorf("xrange %s from %s: %w", stream, lastID, err)
		}

		for _, msg := range results {
			lastID = msg.ID
			c, err := decodeCandle(msg.Values)
			if err != nil {
				continue
			}
			select {
			case out <- c:
			case <-ctx.Done():
				return lastID, ctx.Err()
			}
		}

		if len(results) < replayPage {
			return lastID, nil
		}
	}
}

// LastID returns the newest entry ID of a stream, or "0" when it is empty.
func (r *Reader) LastID(ctx context.Context, stream string) (string, error) {
	msgs, err := r.client.XRevRangeN(ctx, stream, "+", "-", 1).Result()
	if err != nil {
		return "", err
	}
	if len(msgs) == 0 {
		return "0", nil
	}
	return msgs[0].ID, nil
}

// DiscoverStreams finds the candle streams of the given timeframes. With
// tokens ("exchange:token") it checks those streams exist; without, it scans
// for every "candle:{tf}s:*" stream.
func (r *Reader) DiscoverStreams(ctx context.Context, tfs []int, tokens []string) []string {
	var streams []string
	for _, tf := range tfs {
		if len(tokens) == 0 {
			iter := r.client.Scan(ctx, 0, "candle:"+strconv.Itoa(tf)+"s:*", 200).Iterator()
			for iter.Next(ctx) {
				if !strings.Contains(iter.Val(), ":latest:") {
					streams = append(streams, iter.Val())
				}
			}
			if err := iter.Err(); err != nil {
				slog.Warn("redis stream scan failed", "tf", tf, "error", err)
			}
			continue
		}
		for _, tok := range tokens {
			stream := "candle:" + strconv.Itoa(tf) + "s:" + tok
			exists, err := r.client.Exists(ctx, stream).Result()
			if err == nil && exists > 0 {
				streams = append(streams, stream)
			}
		}
	}
	return streams
}

// SubscribeForming feeds forming bars published on "pub:candle:{tf}s:*" into
// out. A forming bar shares its timestamp with the bar it will close as, so
// the engine treats each one as a tail correction. Blocks until ctx is cancelled.
func (r *Reader) SubscribeForming(ctx context.Context, tfs []int, out chan<- model.Candle) error {
	patterns := make([]string, len(tfs))
	for i, tf := range tfs {
		patterns[i] = "pub:candle:" + strconv.Itoa(tf) + "s:*"
	}
	pubsub := r.client.PSubscribe(ctx, patterns...)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			c, err := decodeCandle(map[string]interface{}{"data": msg.Payload})
			if err != nil {
				continue
			}
			// Forming updates are superseded by the next one; never block on them.
			select {
			case out <- c:
			default:
			}
		}
	}
}

// SubscribeChannel subscribes to a Redis Pub/Sub channel.
// Returns the PubSub handle so the caller can listen on .Channel().
func (r *Reader) SubscribeChannel(ctx context.Context, channel string) *goredis.PubSub {
	pubsub := r.client.Subscribe(ctx, channel)
	// Wait for confirmation
	if _, err := pubsub.Receive(ctx); err != nil {
		slog.Warn("redis subscribe failed", "channel", channel, "error", err)
		pubsub.Close()
		return nil
	}
	return pubsub
}

// Publish publishes a message to a Redis Pub/Sub channel.
func (r *Reader) Publish(ctx context.Context, channel, message string) error {
	return r.client.Publish(ctx, channel, message).Err()
}

// Close closes the Redis client.
func (r *Reader) Close() error {
	return r.client.Close()
}
