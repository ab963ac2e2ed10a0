package signal

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/yeouido/trader/bars"
	"github.com/yeouido/trader/bus"
	"github.com/yeouido/trader/indicators"
	"github.com/yeouido/trader/internal/config"
	"github.com/yeouido/trader/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SIGNAL DETECTOR - Completed bar → conviction / gates / strategies → BuySignal
// ═══════════════════════════════════════════════════════════════════════════════

// reloadInterval is how often the watchlist and trading context are re-read
// from the cache and the tick subscription refreshed.
const reloadInterval = 5 * time.Minute

// strategyBarWindow is how many completed bars the detectors look at.
const strategyBarWindow = 30

// Subscriber requests real-time tick coverage for a set of codes.
type Subscriber interface {
	Subscribe(ctx context.Context, codes []string) error
}

// pendingMomentum is a momentum candidate awaiting its confirmation bar.
type pendingMomentum struct {
	signalType   types.SignalType
	initialPrice int64
	entry        types.WatchlistEntry
	rsi          float64
	hasRSI       bool
	volumeRatio  float64
	vwap         float64
	barsWaited   int
}

// Detector evaluates each completed bar of a watchlist member and publishes
// buy signals. OnTick is driven by a single tick-consumer goroutine; Run owns
// the periodic reload, so the shared state sits behind one mutex.
type Detector struct {
	cfg        *config.Config
	rdb        *redis.Client
	engine     *bars.Engine
	gates      *Gates
	strategies *Strategies
	watchCache *bus.TypedCache[types.Watchlist]
	ctxCache   *bus.TypedCache[types.TradingContext]
	publisher  *bus.Publisher[types.BuySignal]
	subscriber Subscriber
	loc        *time.Location

	mu         sync.Mutex
	watchlist  *types.Watchlist
	tradingCtx types.TradingContext
	paused     bool
	lastSignal map[string]time.Time
	pending    map[string]*pendingMomentum
}

// NewDetector builds a detector over the shared bar engine.
func NewDetector(
	cfg *config.Config,
	rdb *redis.Client,
	engine *bars.Engine,
	state *bus.PositionState,
	subscriber Subscriber,
) *Detector {
	return &Detector{
		cfg:        cfg,
		rdb:        rdb,
		engine:     engine,
		gates:      NewGates(cfg.Scanner, state),
		strategies: NewStrategies(cfg.Scanner, cfg.Signal),
		watchCache: bus.NewTypedCache[types.Watchlist](rdb, bus.KeyWatchlist, 0),
		ctxCache:   bus.NewTypedCache[types.TradingContext](rdb, bus.KeyContext, 0),
		publisher:  bus.NewPublisher[types.BuySignal](rdb, bus.StreamBuySignals),
		subscriber: subscriber,
		loc:        cfg.Location(),
		tradingCtx: types.DefaultContext(),
		lastSignal: make(map[string]time.Time),
		pending:    make(map[string]*pendingMomentum),
	}
}

// Run loads the watchlist, subscribes, and keeps both fresh until cancelled.
// Tick consumption is driven separately through OnTick.
func (d *Detector) Run(ctx context.Context) {
	d.Reload(ctx)

	ticker := time.NewTicker(reloadInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("signal detector stopped")
			return
		case <-ticker.C:
			d.Reload(ctx)
		}
	}
}

// Reload re-reads the watchlist, trading context, and pause flag, then
// refreshes the tick subscription for the member codes.
func (d *Detector) Reload(ctx context.Context) {
	wl := d.watchCache.Get(ctx)
	tc := d.ctxCache.Get(ctx)
	paused := bus.FlagSet(ctx, d.rdb, bus.KeyPaused)

	d.mu.Lock()
	if wl != nil {
		d.watchlist = wl
	}
	if tc != nil {
		d.tradingCtx = *tc
	} else {
		d.tradingCtx = types.DefaultContext()
	}
	d.paused = paused
	d.mu.Unlock()

	if wl == nil {
		log.Warn().Msg("no watchlist in cache")
		return
	}
	log.Info().
		Int("stocks", len(wl.Stocks)).
		Str("regime", string(wl.MarketRegime)).
		Msg("📋 watchlist loaded")

	if d.subscriber != nil {
		if err := d.subscriber.Subscribe(ctx, wl.Codes()); err != nil {
			log.Warn().Err(err).Msg("tick subscription refresh failed, keeping existing feed")
		}
	}
}

// OnTick folds one tick and, when it freezes a bar, runs the decision
// pipeline for that stock.
func (d *Detector) OnTick(ctx context.Context, tick types.Tick) {
	d.mu.Lock()
	wl := d.watchlist
	paused := d.paused
	d.mu.Unlock()
	if wl == nil {
		return
	}
	entry := wl.Get(tick.StockCode)
	if entry == nil {
		return
	}

	frozen := d.engine.OnTick(tick)
	if frozen == nil || paused {
		return
	}
	d.onBarComplete(ctx, *entry, wl.MarketRegime, frozen.Close)
}

func (d *Detector) onBarComplete(ctx context.Context, entry types.WatchlistEntry, regime types.MarketRegime, barClose int64) {
	code := entry.StockCode
	now := time.Now().In(d.loc)

	// A pending momentum candidate consumes this bar as its confirmation.
	d.mu.Lock()
	p, hasPending := d.pending[code]
	d.mu.Unlock()
	if hasPending {
		d.resolvePending(ctx, code, p, barClose, regime)
		return
	}

	recentBars := d.engine.RecentBars(code, strategyBarWindow)
	vwap := d.engine.VWAP(code)
	volInfo := d.engine.CompletedVolumeInfo(code)
	rsi, hasRSI := indicators.RSI(closesOf(recentBars))

	d.mu.Lock()
	tradingCtx := d.tradingCtx
	lastSignal := d.lastSignal[code]
	d.mu.Unlock()

	in := StrategyInput{
		Bars:        recentBars,
		Entry:       entry,
		Regime:      regime,
		Price:       barClose,
		DayOpen:     d.engine.DayOpen(code),
		RSI:         rsi,
		HasRSI:      hasRSI,
		VolumeRatio: volInfo.Ratio,
		VWAP:        vwap,
		Now:         now,
	}

	// Conviction entry bypasses the gate cascade.
	if conv := d.strategies.Conviction(in); conv.Detected {
		d.publish(ctx, entry, regime, conv, barClose, rsi, hasRSI, volInfo.Ratio, vwap, tradingCtx)
		return
	}

	gate := d.gates.Run(ctx, GateInput{
		StockCode:   code,
		Bars:        recentBars,
		Price:       barClose,
		RSI:         rsi,
		HasRSI:      hasRSI,
		VolumeRatio: volInfo.Ratio,
		VWAP:        vwap,
		Entry:       entry,
		Regime:      regime,
		Context:     tradingCtx,
		LastSignal:  lastSignal,
		Now:         now,
	})
	if !gate.Passed {
		return
	}

	result := d.strategies.Detect(in)
	if !result.Detected {
		return
	}

	if d.cfg.Scanner.MomentumConfirmationBars > 0 && result.Type.IsMomentum() {
		d.mu.Lock()
		d.pending[code] = &pendingMomentum{
			signalType:   result.Type,
			initialPrice: barClose,
			entry:        entry,
			rsi:          rsi,
			hasRSI:       hasRSI,
			volumeRatio:  volInfo.Ratio,
			vwap:         vwap,
		}
		d.mu.Unlock()
		log.Info().
			Str("code", code).
			Str("signal", string(result.Type)).
			Int64("price", barClose).
			Msg("⏸ momentum pending confirmation")
		return
	}

	d.publish(ctx, entry, regime, result, barClose, rsi, hasRSI, volInfo.Ratio, vwap, tradingCtx)
}

// resolvePending confirms or discards a waiting momentum candidate. The
// candidate confirms when the close has held the initial signal price.
func (d *Detector) resolvePending(ctx context.Context, code string, p *pendingMomentum, barClose int64, regime types.MarketRegime) {
	p.barsWaited++

	if barClose >= p.initialPrice {
		d.mu.Lock()
		delete(d.pending, code)
		tradingCtx := d.tradingCtx
		d.mu.Unlock()
		d.publish(ctx, p.entry, regime,
			match(p.signalType, "momentum confirmed"),
			barClose, p.rsi, p.hasRSI, p.volumeRatio, p.vwap, tradingCtx)
		return
	}

	if p.barsWaited >= d.cfg.Scanner.MomentumConfirmationBars {
		d.mu.Lock()
		delete(d.pending, code)
		d.mu.Unlock()
		log.Info().
			Str("code", code).
			Int64("initial", p.initialPrice).
			Int64("close", barClose).
			Msg("momentum discarded, price fell below signal")
	}
}

func (d *Detector) publish(
	ctx context.Context,
	entry types.WatchlistEntry,
	regime types.MarketRegime,
	result StrategyResult,
	price int64,
	rsi float64,
	hasRSI bool,
	volumeRatio, vwap float64,
	tradingCtx types.TradingContext,
) {
	sig := types.BuySignal{
		StockCode:          entry.StockCode,
		StockName:          entry.StockName,
		SignalType:         result.Type,
		SignalPrice:        price,
		LLMScore:           entry.LLMScore,
		HybridScore:        entry.HybridScore,
		IsTradable:         entry.IsTradable,
		TradeTier:          entry.TradeTier,
		RiskTag:            entry.RiskTag,
		MarketRegime:       regime,
		SectorGroup:        entry.SectorGroup,
		Source:             "scanner",
		Timestamp:          time.Now(),
		VolumeRatio:        volumeRatio,
		VWAP:               vwap,
		PositionMultiplier: tradingCtx.PositionMultiplier,
	}
	if hasRSI {
		sig.RSI = rsi
	}

	if _, err := d.publisher.Publish(ctx, sig); err != nil {
		log.Error().Err(err).Str("code", entry.StockCode).Msg("signal publish failed")
		return
	}

	d.mu.Lock()
	d.lastSignal[entry.StockCode] = time.Now().In(d.loc)
	d.mu.Unlock()

	log.Info().
		Str("code", entry.StockCode).
		Str("signal", string(result.Type)).
		Int64("price", price).
		Str("reason", result.Reason).
		Msg("🚀 buy signal published")
}

// Status reports the detector's live counters, used by health logging.
func (d *Detector) Status() map[string]interface{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	stockCount := 0
	regime := "UNKNOWN"
	if d.watchlist != nil {
		stockCount = len(d.watchlist.Stocks)
		regime = string(d.watchlist.MarketRegime)
	}
	return map[string]interface{}{
		"watchlist_loaded": d.watchlist != nil,
		"stock_count":      stockCount,
		"market_regime":    regime,
		"paused":           d.paused,
		"pending_momentum": len(d.pending),
		"active_cooldowns": len(d.lastSignal),
	}
}
