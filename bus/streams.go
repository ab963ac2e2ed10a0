package bus

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// ═══════════════════════════════════════════════════════════════════════════════
// MESSAGE BUS - Redis Streams with consumer groups (at-most-once delivery)
// ═══════════════════════════════════════════════════════════════════════════════

// Stream names are stable contracts shared across services.
const (
	StreamPrices        = "kis:prices"
	StreamBuySignals    = "stream:buy-signals"
	StreamSellOrders    = "stream:sell-orders"
	StreamNotifications = "stream:trade-notifications"

	GroupMonitor      = "monitor-group"
	GroupScanner      = "scanner-group"
	GroupBuyExecutor  = "group_buy_executor"
	GroupSellExecutor = "group_sell_executor"
	GroupNotifier     = "group_notifier"
)

const (
	defaultMaxLen   = 10000
	pendingMinIdle  = 60 * time.Second
	pendingMaxBatch = 100
)

// Publisher appends JSON-serialized messages to a capped stream.
type Publisher[T any] struct {
	rdb    *redis.Client
	stream string
	maxLen int64
}

// NewPublisher creates a publisher for the given stream.
func NewPublisher[T any](rdb *redis.Client, stream string) *Publisher[T] {
	return &Publisher[T]{rdb: rdb, stream: stream, maxLen: defaultMaxLen}
}

// Publish serializes the message into the "payload" field and appends it with
// approximate trimming. Returns the message ID.
func (p *Publisher[T]) Publish(ctx context.Context, msg T) (string, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}
	id, err := p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]interface{}{"payload": string(data)},
	}).Result()
	if err != nil {
		return "", err
	}
	log.Debug().Str("stream", p.stream).Str("id", id).Msg("published")
	return id, nil
}

// RawPublish appends pre-built field values, used by the tick ingester where
// the payload is a flat field map rather than a JSON envelope.
func RawPublish(ctx context.Context, rdb *redis.Client, stream string, values map[string]interface{}) error {
	return rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: defaultMaxLen,
		Approx: true,
		Values: values,
	}).Err()
}

// Handler processes one deserialized message.
type Handler[T any] func(ctx context.Context, msg T)

// Consumer reads a stream through a consumer group and invokes the handler.
//
// Delivery contract is at-most-once: every entry is acknowledged before the
// handler runs. A duplicate order is strictly worse than a dropped signal;
// fresh signals arrive on the next bar.
type Consumer[T any] struct {
	rdb      *redis.Client
	stream   string
	group    string
	consumer string
	handler  Handler[T]
	batch    int64
	block    time.Duration
}

// NewConsumer creates a consumer and ensures the group exists.
func NewConsumer[T any](rdb *redis.Client, stream, group, consumer string, handler Handler[T]) *Consumer[T] {
	c := &Consumer[T]{
		rdb:      rdb,
		stream:   stream,
		group:    group,
		consumer: consumer,
		handler:  handler,
		batch:    1,
		block:    5 * time.Second,
	}
	c.ensureGroup(context.Background())
	return c
}

func (c *Consumer[T]) ensureGroup(ctx context.Context) {
	for attempt := 0; attempt < 30; attempt++ {
		err := c.rdb.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
		if err == nil || strings.Contains(err.Error(), "BUSYGROUP") {
			return
		}
		log.Warn().
			Str("group", c.group).
			Int("attempt", attempt+1).
			Err(err).
			Msg("redis not ready for group create, retrying")
		time.Sleep(time.Second)
	}
	log.Error().Str("group", c.group).Msg("group creation skipped after 30 attempts")
}

// Run consumes messages until the context is cancelled.
func (c *Consumer[T]) Run(ctx context.Context) {
	log.Info().
		Str("stream", c.stream).
		Str("group", c.group).
		Str("consumer", c.consumer).
		Msg("🔄 consumer started")

	c.recoverPending(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("group", c.group).Msg("consumer stopped")
			return
		default:
		}

		streams, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.group,
			Consumer: c.consumer,
			Streams:  []string{c.stream, ">"},
			Count:    c.batch,
			Block:    c.block,
		}).Result()
		if err != nil {
			if err == redis.Nil || ctx.Err() != nil {
				continue
			}
			log.Error().Err(err).Str("stream", c.stream).Msg("read failed, retrying in 5s")
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		for _, s := range streams {
			for _, entry := range s.Messages {
				c.process(ctx, entry)
			}
		}
	}
}

// process acknowledges, deserializes, then hands off. Ack failures and decode
// failures drop the message.
func (c *Consumer[T]) process(ctx context.Context, entry redis.XMessage) {
	if err := c.rdb.XAck(ctx, c.stream, c.group, entry.ID).Err(); err != nil {
		log.Warn().Err(err).Str("id", entry.ID).Msg("ack failed")
	}

	payload, ok := entry.Values["payload"].(string)
	if !ok || payload == "" {
		log.Warn().Str("stream", c.stream).Str("id", entry.ID).Msg("empty payload, dropped")
		return
	}

	var msg T
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		log.Error().Err(err).Str("stream", c.stream).Str("id", entry.ID).Msg("decode failed, dropped")
		return
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("stream", c.stream).
				Str("id", entry.ID).
				Msg("handler panicked")
		}
	}()
	c.handler(ctx, msg)
}

// recoverPending reclaims entries left pending for over a minute by a dead
// consumer and runs them through the normal handler path.
func (c *Consumer[T]) recoverPending(ctx context.Context) {
	claimed, _, err := c.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.stream,
		Group:    c.group,
		Consumer: c.consumer,
		MinIdle:  pendingMinIdle,
		Start:    "0-0",
		Count:    pendingMaxBatch,
	}).Result()
	if err != nil {
		if err != redis.Nil {
			log.Warn().Err(err).Str("stream", c.stream).Msg("pending recovery failed")
		}
		return
	}
	if len(claimed) == 0 {
		return
	}

	log.Info().Int("count", len(claimed)).Str("stream", c.stream).Msg("recovering pending messages")
	for _, entry := range claimed {
		c.process(ctx, entry)
	}
}
