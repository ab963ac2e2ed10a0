package bus

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/yeouido/trader/types"
)

// TickHandler processes one decoded tick.
type TickHandler func(ctx context.Context, tick types.Tick)

// TickConsumer reads the raw price stream through a consumer group. Tick
// entries are flat field maps written by the gateway ingester, not the JSON
// "payload" envelope the typed Consumer expects. Delivery is at-most-once:
// a stale tick is worthless, so there is no pending reclaim here.
type TickConsumer struct {
	rdb      *redis.Client
	group    string
	consumer string
	handler  TickHandler
}

// NewTickConsumer creates a tick consumer and ensures the group exists.
func NewTickConsumer(rdb *redis.Client, group, consumer string, handler TickHandler) *TickConsumer {
	c := &TickConsumer{rdb: rdb, group: group, consumer: consumer, handler: handler}
	c.ensureGroup(context.Background())
	return c
}

func (c *TickConsumer) ensureGroup(ctx context.Context) {
	for attempt := 0; attempt < 30; attempt++ {
		err := c.rdb.XGroupCreateMkStream(ctx, StreamPrices, c.group, "0").Err()
		if err == nil || strings.Contains(err.Error(), "BUSYGROUP") {
			return
		}
		log.Warn().
			Str("group", c.group).
			Int("attempt", attempt+1).
			Err(err).
			Msg("redis not ready for tick group create, retrying")
		time.Sleep(time.Second)
	}
	log.Error().Str("group", c.group).Msg("tick group creation skipped after 30 attempts")
}

// Run consumes ticks until the context is cancelled.
func (c *TickConsumer) Run(ctx context.Context) {
	log.Info().
		Str("stream", StreamPrices).
		Str("group", c.group).
		Str("consumer", c.consumer).
		Msg("🔄 tick consumer started")

	var count int64
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("group", c.group).Int64("ticks", count).Msg("tick consumer stopped")
			return
		default:
		}

		streams, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.group,
			Consumer: c.consumer,
			Streams:  []string{StreamPrices, ">"},
			Count:    50,
			Block:    2 * time.Second,
		}).Result()
		if err != nil {
			if err == redis.Nil || ctx.Err() != nil {
				continue
			}
			log.Error().Err(err).Msg("tick read failed, retrying in 5s")
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		for _, s := range streams {
			for _, entry := range s.Messages {
				if err := c.rdb.XAck(ctx, StreamPrices, c.group, entry.ID).Err(); err != nil {
					log.Warn().Err(err).Str("id", entry.ID).Msg("tick ack failed")
				}
				tick, ok := parseTick(entry.Values)
				if !ok {
					continue
				}
				c.handler(ctx, tick)
				count++
				if count%10000 == 0 {
					log.Info().Int64("ticks", count).Msg("ticks processed")
				}
			}
		}
	}
}

// parseTick decodes the flat field map. Missing code or a non-positive price
// drops the entry.
func parseTick(values map[string]interface{}) (types.Tick, bool) {
	code := fieldString(values, "code")
	price := fieldInt(values, "price")
	if code == "" || price <= 0 {
		return types.Tick{}, false
	}
	return types.Tick{
		StockCode: code,
		Price:     price,
		High:      fieldInt(values, "high"),
		Volume:    fieldInt(values, "vol"),
		At:        time.Now(),
	}, true
}

func fieldString(values map[string]interface{}, key string) string {
	if v, ok := values[key].(string); ok {
		return v
	}
	return ""
}

func fieldInt(values map[string]interface{}, key string) int64 {
	raw := fieldString(values, key)
	if raw == "" {
		return 0
	}
	// The KIS feed occasionally sends decimal strings.
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return int64(f)
	}
	return 0
}
