package monitor

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/yeouido/trader/bus"
	"github.com/yeouido/trader/indicators"
	"github.com/yeouido/trader/internal/config"
	"github.com/yeouido/trader/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// POSITION MONITOR - 300s broker refresh + per-tick exit evaluation
// ═══════════════════════════════════════════════════════════════════════════════

const (
	refreshInterval   = 300 * time.Second
	heartbeatInterval = 30 * time.Second
	heartbeatTTL      = 60 * time.Second

	indicatorLookbackDays = 60
	indicatorShortMA      = 5
	indicatorLongMA       = 20
)

// Broker is the slice of the gateway client the monitor needs.
type Broker interface {
	Balance(ctx context.Context) (*types.Balance, error)
	DailyPrices(ctx context.Context, code string, days int) ([]types.DailyPrice, error)
	Subscribe(ctx context.Context, codes []string) error
}

// heldPosition is the cached view of one holding. The indicator fields are
// computed once per refresh; the tick hot path only reads them.
type heldPosition struct {
	pos         types.Position
	price       int64
	atr         float64
	rsi         float64
	hasRSI      bool
	deathCross  bool
	macdBearish bool
}

// Monitor owns the exit state machine for every open position.
type Monitor struct {
	cfg       *config.Config
	broker    Broker
	rdb       *redis.Client
	state     *bus.PositionState
	rules     *Rules
	publisher *bus.Publisher[types.SellOrder]
	ctxCache  *bus.TypedCache[types.TradingContext]
	loc       *time.Location

	mu         sync.Mutex
	held       map[string]*heldPosition
	tradingCtx types.TradingContext
}

func NewMonitor(cfg *config.Config, broker Broker, rdb *redis.Client, state *bus.PositionState) *Monitor {
	return &Monitor{
		cfg:        cfg,
		broker:     broker,
		rdb:        rdb,
		state:      state,
		rules:      NewRules(cfg.Sell),
		publisher:  bus.NewPublisher[types.SellOrder](rdb, bus.StreamSellOrders),
		ctxCache:   bus.NewTypedCache[types.TradingContext](rdb, bus.KeyContext, 0),
		loc:        cfg.Location(),
		held:       make(map[string]*heldPosition),
		tradingCtx: types.DefaultContext(),
	}
}

// Run refreshes the position set and indicators until cancelled. Tick
// consumption is driven separately through OnTick.
func (m *Monitor) Run(ctx context.Context) {
	log.Info().Msg("📡 position monitor started")
	m.Refresh(ctx)

	refresh := time.NewTicker(refreshInterval)
	heartbeat := time.NewTicker(heartbeatInterval)
	defer refresh.Stop()
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("position monitor stopped")
			return
		case <-refresh.C:
			m.Refresh(ctx)
		case <-heartbeat.C:
			m.writeHeartbeat(ctx)
		}
	}
}

// Refresh rebuilds the held map from the broker and recomputes the per-code
// daily indicators once, so the tick path never touches the gateway.
func (m *Monitor) Refresh(ctx context.Context) {
	bal, err := m.broker.Balance(ctx)
	if err != nil {
		log.Error().Err(err).Msg("position refresh failed, keeping previous view")
		return
	}

	tc := m.ctxCache.Get(ctx)

	fresh := make(map[string]*heldPosition, len(bal.Positions))
	var newCodes []string
	for _, pos := range bal.Positions {
		if pos.Quantity <= 0 {
			continue
		}
		h := &heldPosition{pos: pos, price: pos.CurrentPrice}
		m.computeIndicators(ctx, h)
		fresh[pos.StockCode] = h

		m.mu.Lock()
		_, known := m.held[pos.StockCode]
		m.mu.Unlock()
		if !known {
			newCodes = append(newCodes, pos.StockCode)
		}
	}

	m.mu.Lock()
	m.held = fresh
	if tc != nil {
		m.tradingCtx = *tc
	}
	m.mu.Unlock()

	if len(newCodes) > 0 {
		codes := make([]string, 0, len(fresh))
		for code := range fresh {
			codes = append(codes, code)
		}
		if err := m.broker.Subscribe(ctx, codes); err != nil {
			log.Warn().Err(err).Msg("position tick subscription failed")
		}
	}

	log.Info().Int("positions", len(fresh)).Msg("positions refreshed")
}

// computeIndicators derives ATR, RSI, and the cross/divergence flags from
// daily closes. Failures fall back to a 2% ATR and no flags.
func (m *Monitor) computeIndicators(ctx context.Context, h *heldPosition) {
	price := h.price
	if price <= 0 {
		price = h.pos.AvgBuyPrice
	}
	h.atr = float64(price) * 0.02

	daily, err := m.broker.DailyPrices(ctx, h.pos.StockCode, indicatorLookbackDays)
	if err != nil || len(daily) == 0 {
		log.Debug().Str("code", h.pos.StockCode).Msg("daily prices unavailable for indicators")
		return
	}

	// Broker rows are newest first; the studies want chronological order.
	chrono := make([]types.DailyPrice, len(daily))
	for i, d := range daily {
		chrono[len(daily)-1-i] = d
	}
	closes := make([]float64, len(chrono))
	for i, d := range chrono {
		closes[i] = float64(d.Close)
	}

	if atr, ok := indicators.ATR(chrono); ok && atr > 0 {
		h.atr = atr
	}
	h.rsi, h.hasRSI = indicators.RSI(closes)
	h.deathCross = indicators.DeathCross(closes, indicatorShortMA, indicatorLongMA)
	h.macdBearish = indicators.MACDBearishDivergence(closes)
}

// OnTick evaluates one tick against the held position's exit ladder.
func (m *Monitor) OnTick(ctx context.Context, tick types.Tick) {
	m.mu.Lock()
	h, ok := m.held[tick.StockCode]
	if !ok {
		m.mu.Unlock()
		return
	}
	h.price = tick.Price
	snapshot := *h
	regime := m.tradingCtx.MarketRegime
	macroStopMult := m.tradingCtx.StopLossMultiplier
	m.mu.Unlock()

	code := tick.StockCode
	buy := snapshot.pos.AvgBuyPrice
	if buy <= 0 || tick.Price <= 0 {
		return
	}

	// Watermark advances on the tick's high, never down.
	wm := m.state.Watermark(ctx, code, buy)
	high := tick.High
	if tick.Price > high {
		high = tick.Price
	}
	if high > wm {
		wm = high
		m.state.SetWatermark(ctx, code, wm)
	}

	profitPct := types.ProfitPct(buy, tick.Price)
	highProfitPct := types.ProfitPct(buy, wm)

	// Arm the profit floor once the position has seen the activation level.
	floorLevel, floorActive := m.state.ProfitFloor(ctx, code)
	if !floorActive && highProfitPct >= m.cfg.Sell.ProfitFloorActivation {
		floorLevel = m.cfg.Sell.ProfitFloorLevel
		floorActive = true
		m.state.ArmProfitFloor(ctx, code, floorLevel)
		log.Info().
			Str("code", code).
			Float64("high_profit", highProfitPct).
			Float64("floor", floorLevel).
			Msg("🛡 profit floor armed")
	}

	holdingDays := 0
	if !snapshot.pos.BoughtAt.IsZero() {
		holdingDays = int(time.Since(snapshot.pos.BoughtAt).Hours() / 24)
	}

	exitCtx := PositionContext{
		StockCode:         code,
		Price:             tick.Price,
		BuyPrice:          buy,
		Quantity:          snapshot.pos.Quantity,
		ProfitPct:         profitPct,
		Watermark:         wm,
		HighProfitPct:     highProfitPct,
		ATR:               snapshot.atr,
		RSI:               snapshot.rsi,
		HasRSI:            snapshot.hasRSI,
		HoldingDays:       holdingDays,
		ScaleOutLevel:     m.state.ScaleOutLevel(ctx, code),
		RSISold:           m.state.RSISold(ctx, code),
		MACDBearish:       snapshot.macdBearish,
		DeathCross:        snapshot.deathCross,
		ProfitFloorActive: floorActive,
		ProfitFloorLevel:  floorLevel,
	}

	sig := m.rules.Evaluate(exitCtx, regime, macroStopMult)
	if sig == nil {
		return
	}
	m.emit(ctx, snapshot.pos, tick.Price, profitPct, holdingDays, sig)
}

// emit publishes the sell order and applies the ladder's side effects.
func (m *Monitor) emit(ctx context.Context, pos types.Position, price int64, profitPct float64, holdingDays int, sig *ExitSignal) {
	qty := pos.Quantity * int64(sig.QuantityPct) / 100
	if qty < 1 {
		qty = 1
	}
	fullExit := sig.QuantityPct >= 100 || qty >= pos.Quantity

	order := types.SellOrder{
		StockCode:    pos.StockCode,
		StockName:    pos.StockName,
		SellReason:   sig.Reason,
		CurrentPrice: price,
		Quantity:     qty,
		Timestamp:    time.Now(),
		BuyPrice:     pos.AvgBuyPrice,
		ProfitPct:    profitPct,
		HoldingDays:  holdingDays,
	}
	if _, err := m.publisher.Publish(ctx, order); err != nil {
		log.Error().Err(err).Str("code", pos.StockCode).Msg("sell order publish failed")
		return
	}

	log.Info().
		Str("code", pos.StockCode).
		Str("reason", string(sig.Reason)).
		Int64("qty", qty).
		Float64("profit_pct", profitPct).
		Str("rule", sig.Description).
		Msg("📤 SELL order emitted")

	if sig.Reason == types.SellProfitTarget && !fullExit {
		m.state.IncrScaleOutLevel(ctx, pos.StockCode)
	}
	if sig.Reason == types.SellRSIOverbought {
		m.state.SetRSISold(ctx, pos.StockCode)
	}
	if fullExit {
		m.state.Purge(ctx, pos.StockCode)
		m.mu.Lock()
		delete(m.held, pos.StockCode)
		m.mu.Unlock()
	}
}

// writeHeartbeat publishes the monitor's liveness key.
func (m *Monitor) writeHeartbeat(ctx context.Context) {
	m.mu.Lock()
	watching := len(m.held)
	m.mu.Unlock()

	payload, _ := json.Marshal(map[string]interface{}{
		"status":         "online",
		"watching_count": watching,
		"updated_at":     time.Now().In(m.loc).Format(time.RFC3339),
	})
	if err := m.rdb.Set(ctx, bus.KeyMonitorStatus, payload, heartbeatTTL).Err(); err != nil {
		log.Warn().Err(err).Msg("monitor heartbeat write failed")
	}
}
