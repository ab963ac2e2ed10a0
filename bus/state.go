package bus

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// ═══════════════════════════════════════════════════════════════════════════════
// PER-POSITION DYNAMIC STATE - the durable half of the exit state machine
// ═══════════════════════════════════════════════════════════════════════════════
//
// Key schema (all keyed by stock code):
//   watermark:{code}          highest observed price          TTL 30d
//   scale_out:{code}          scale-out ladder level          TTL 30d
//   rsi_sold:{code}           RSI partial-sell done flag      TTL 24h
//   profit_floor:{code}       armed profit floor level (pct)  TTL 60d
//   stoploss_cooldown:{code}  re-entry block after stop       TTL n days
//   sell_cooldown:{code}      re-entry block after any sell   TTL 24h
//   lock:buy:{code}           buy mutual exclusion            TTL 180s
//   lock:sell:{code}          sell mutual exclusion           TTL 30s
//   buy_count:{YYYY-MM-DD}    daily buy counter               TTL 24h

const (
	prefixWatermark        = "watermark:"
	prefixScaleOut         = "scale_out:"
	prefixRSISold          = "rsi_sold:"
	prefixProfitFloor      = "profit_floor:"
	prefixStoplossCooldown = "stoploss_cooldown:"
	prefixSellCooldown     = "sell_cooldown:"
	prefixBuyLock          = "lock:buy:"
	prefixSellLock         = "lock:sell:"
	prefixBuyCount         = "buy_count:"

	watermarkTTL   = 30 * 24 * time.Hour
	scaleOutTTL    = 30 * 24 * time.Hour
	rsiSoldTTL     = 24 * time.Hour
	profitFloorTTL = 60 * 24 * time.Hour

	BuyLockTTL  = 180 * time.Second
	SellLockTTL = 30 * time.Second
)

// PositionState reads and writes the per-code dynamic keys.
type PositionState struct {
	rdb *redis.Client
}

func NewPositionState(rdb *redis.Client) *PositionState {
	return &PositionState{rdb: rdb}
}

// Watermark returns the stored high watermark, or fallback when absent.
func (s *PositionState) Watermark(ctx context.Context, code string, fallback int64) int64 {
	raw, err := s.rdb.Get(ctx, prefixWatermark+code).Result()
	if err != nil {
		return fallback
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fallback
	}
	return v
}

func (s *PositionState) SetWatermark(ctx context.Context, code string, price int64) {
	if err := s.rdb.Set(ctx, prefixWatermark+code, strconv.FormatInt(price, 10), watermarkTTL).Err(); err != nil {
		log.Warn().Err(err).Str("code", code).Msg("watermark write failed")
	}
}

// ScaleOutLevel returns the current ladder level (0 when unset).
func (s *PositionState) ScaleOutLevel(ctx context.Context, code string) int {
	raw, err := s.rdb.Get(ctx, prefixScaleOut+code).Result()
	if err != nil {
		return 0
	}
	v, _ := strconv.Atoi(raw)
	return v
}

func (s *PositionState) IncrScaleOutLevel(ctx context.Context, code string) {
	key := prefixScaleOut + code
	if err := s.rdb.Incr(ctx, key).Err(); err != nil {
		log.Warn().Err(err).Str("code", code).Msg("scale-out incr failed")
		return
	}
	s.rdb.Expire(ctx, key, scaleOutTTL)
}

func (s *PositionState) RSISold(ctx context.Context, code string) bool {
	return FlagSet(ctx, s.rdb, prefixRSISold+code)
}

func (s *PositionState) SetRSISold(ctx context.Context, code string) {
	s.rdb.Set(ctx, prefixRSISold+code, "1", rsiSoldTTL)
}

// ProfitFloor returns the armed floor level in percent and whether it is set.
func (s *PositionState) ProfitFloor(ctx context.Context, code string) (float64, bool) {
	raw, err := s.rdb.Get(ctx, prefixProfitFloor+code).Result()
	if err != nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func (s *PositionState) ArmProfitFloor(ctx context.Context, code string, levelPct float64) {
	s.rdb.Set(ctx, prefixProfitFloor+code, strconv.FormatFloat(levelPct, 'f', -1, 64), profitFloorTTL)
}

func (s *PositionState) StoplossCooldownActive(ctx context.Context, code string) bool {
	return FlagSet(ctx, s.rdb, prefixStoplossCooldown+code)
}

func (s *PositionState) SetStoplossCooldown(ctx context.Context, code string, days int) {
	s.rdb.Set(ctx, prefixStoplossCooldown+code, "1", time.Duration(days)*24*time.Hour)
	log.Info().Str("code", code).Int("days", days).Msg("⏳ stop-loss cooldown set")
}

func (s *PositionState) SellCooldownActive(ctx context.Context, code string) bool {
	return FlagSet(ctx, s.rdb, prefixSellCooldown+code)
}

func (s *PositionState) SetSellCooldown(ctx context.Context, code string) {
	s.rdb.Set(ctx, prefixSellCooldown+code, "1", 24*time.Hour)
}

// Purge removes every dynamic key for a code. Called on full exit and before
// a fresh buy, so leftovers from a prior holding never apply to a new one.
func (s *PositionState) Purge(ctx context.Context, code string) {
	pipe := s.rdb.Pipeline()
	pipe.Del(ctx, prefixWatermark+code)
	pipe.Del(ctx, prefixScaleOut+code)
	pipe.Del(ctx, prefixRSISold+code)
	pipe.Del(ctx, prefixProfitFloor+code)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Warn().Err(err).Str("code", code).Msg("position state purge failed")
	}
}

// ─── Locks ─────────────────────────────────────────────────────────────────────

// AcquireBuyLock takes the per-code buy lock (SET NX EX).
func (s *PositionState) AcquireBuyLock(ctx context.Context, code string) bool {
	ok, err := s.rdb.SetNX(ctx, prefixBuyLock+code, "1", BuyLockTTL).Result()
	return err == nil && ok
}

func (s *PositionState) ReleaseBuyLock(ctx context.Context, code string) {
	s.rdb.Del(ctx, prefixBuyLock+code)
}

func (s *PositionState) AcquireSellLock(ctx context.Context, code string) bool {
	ok, err := s.rdb.SetNX(ctx, prefixSellLock+code, "1", SellLockTTL).Result()
	return err == nil && ok
}

func (s *PositionState) ReleaseSellLock(ctx context.Context, code string) {
	s.rdb.Del(ctx, prefixSellLock+code)
}

// ─── Daily buy counter ─────────────────────────────────────────────────────────

// BuyCount returns today's successful buy count.
func (s *PositionState) BuyCount(ctx context.Context, day time.Time) int {
	raw, err := s.rdb.Get(ctx, prefixBuyCount+day.Format("2006-01-02")).Result()
	if err != nil {
		return 0
	}
	v, _ := strconv.Atoi(raw)
	return v
}

// IncrBuyCount bumps today's buy counter with a day-scoped TTL.
func (s *PositionState) IncrBuyCount(ctx context.Context, day time.Time) {
	key := prefixBuyCount + day.Format("2006-01-02")
	if err := s.rdb.Incr(ctx, key).Err(); err != nil {
		log.Warn().Err(err).Msg("buy count incr failed")
		return
	}
	s.rdb.Expire(ctx, key, 24*time.Hour)
}
