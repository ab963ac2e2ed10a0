package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/yeouido/trader/bus"
	"github.com/yeouido/trader/indicators"
	"github.com/yeouido/trader/internal/config"
	"github.com/yeouido/trader/storage"
	"github.com/yeouido/trader/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// BUY EXECUTOR - Signal → sized, guarded, idempotent order
// ═══════════════════════════════════════════════════════════════════════════════

const (
	atrLookbackDays = 30
	fillPollRounds  = 3
	fillPollDelay   = 2 * time.Second
	dryRunOrderNo   = "DRYRUN-0000"
)

// Broker is the gateway surface the executors need.
type Broker interface {
	Snapshot(ctx context.Context, code string) (*types.Snapshot, error)
	DailyPrices(ctx context.Context, code string, days int) ([]types.DailyPrice, error)
	Buy(ctx context.Context, req types.OrderRequest) (*types.OrderResult, error)
	Sell(ctx context.Context, req types.OrderRequest) (*types.OrderResult, error)
	Cancel(ctx context.Context, orderNo string) (bool, error)
	OrderStatus(ctx context.Context, orderNo string) *types.OrderStatus
	Balance(ctx context.Context) (*types.Balance, error)
	Cash(ctx context.Context) (int64, error)
	IsMarketOpen(ctx context.Context) (bool, error)
}

// buyStore is the persistence slice the buy pipeline writes.
type buyStore interface {
	SavePosition(ctx context.Context, row *storage.PositionRow) error
	LogTrade(ctx context.Context, t types.TradeLog) error
}

// BuyExecutor consumes buy signals and turns them into orders.
type BuyExecutor struct {
	cfg      *config.Config
	broker   Broker
	rdb      *redis.Client
	state    *bus.PositionState
	guard    *PortfolioGuard
	store    buyStore
	notifier *bus.Publisher[types.TradeNotification]
	loc      *time.Location
}

func NewBuyExecutor(
	cfg *config.Config,
	broker Broker,
	rdb *redis.Client,
	state *bus.PositionState,
	guard *PortfolioGuard,
	store buyStore,
	notifier *bus.Publisher[types.TradeNotification],
) *BuyExecutor {
	return &BuyExecutor{
		cfg:      cfg,
		broker:   broker,
		rdb:      rdb,
		state:    state,
		guard:    guard,
		store:    store,
		notifier: notifier,
		loc:      cfg.Location(),
	}
}

// HandleSignal is the stream handler: run the pipeline, then persist and
// notify on success.
func (e *BuyExecutor) HandleSignal(ctx context.Context, sig types.BuySignal) {
	result := e.Process(ctx, sig)

	switch result.Status {
	case types.ExecSuccess:
		e.persist(ctx, sig, result)
		e.notify(ctx, sig, result)
		log.Info().
			Str("code", result.StockCode).
			Int64("qty", result.Quantity).
			Int64("price", result.Price).
			Str("signal", string(sig.SignalType)).
			Msg("✅ BUY executed")
	case types.ExecSkipped:
		log.Info().Str("code", result.StockCode).Str("reason", result.Reason).Msg("buy skipped")
	default:
		log.Error().Str("code", result.StockCode).Str("reason", result.Reason).Msg("buy failed")
	}
}

// Process runs the rejection cascade, then sizes, guards, and orders under
// the per-code lock.
func (e *BuyExecutor) Process(ctx context.Context, sig types.BuySignal) types.ExecutionResult {
	code, name := sig.StockCode, sig.StockName

	if bus.FlagSet(ctx, e.rdb, bus.KeyEmergencyStop) {
		return types.Skipped(code, name, "emergency stop active")
	}
	if sig.TradeTier == types.TierBlocked {
		return types.Skipped(code, name, "BLOCKED tier (veto)")
	}
	if sig.HybridScore < e.cfg.Scoring.HardFloorScore {
		return types.Skipped(code, name,
			fmt.Sprintf("hard floor: score %.1f < %.1f", sig.HybridScore, e.cfg.Scoring.HardFloorScore))
	}

	// The broker account is the holding authority. If it cannot be read,
	// buying blind is not acceptable.
	positions := e.positions(ctx)
	if positions == nil {
		return types.Skipped(code, name, "position fetch failed")
	}
	for _, p := range positions {
		if p.StockCode == code {
			return types.Skipped(code, name, "already holding")
		}
	}

	if e.state.StoplossCooldownActive(ctx, code) {
		return types.Skipped(code, name, "stop-loss cooldown active")
	}
	if e.state.SellCooldownActive(ctx, code) {
		return types.Skipped(code, name, "sell cooldown (24h)")
	}

	today := time.Now().In(e.loc)
	if e.state.BuyCount(ctx, today) >= e.cfg.Risk.MaxBuyCountPerDay {
		return types.Skipped(code, name, "daily buy limit reached")
	}
	if len(positions) >= e.cfg.Risk.MaxPortfolioSize {
		return types.Skipped(code, name, "portfolio full")
	}

	if !e.state.AcquireBuyLock(ctx, code) {
		return types.Skipped(code, name, "lock acquisition failed")
	}
	defer e.state.ReleaseBuyLock(ctx, code)

	return e.executeBuy(ctx, sig, positions)
}

func (e *BuyExecutor) executeBuy(ctx context.Context, sig types.BuySignal, positions []types.Position) types.ExecutionResult {
	code, name := sig.StockCode, sig.StockName

	currentPrice := sig.SignalPrice
	if snap, err := e.broker.Snapshot(ctx, code); err == nil && snap.Price > 0 {
		currentPrice = snap.Price
	} else {
		log.Warn().Str("code", code).Msg("price fetch failed, using signal price")
	}
	if currentPrice <= 0 {
		return types.Errored(code, name, "invalid price")
	}

	atr := e.calculateATR(ctx, code, currentPrice)

	if e.cfg.Risk.CorrelationGuard && len(positions) > 0 {
		candidate := e.closeSeries(ctx, code)
		if len(candidate) > 0 {
			passed, _, reason := CheckPortfolioCorrelation(code, candidate, positions,
				func(held string) []float64 { return e.closeSeries(ctx, held) },
				e.cfg.Risk.CorrelationBlock)
			if !passed {
				return types.Skipped(code, name, reason)
			}
		}
	}

	cash, err := e.broker.Cash(ctx)
	if err != nil {
		return types.Skipped(code, name, "cash fetch failed")
	}

	var portfolioValue int64
	heldSectors := make([]string, 0, len(positions))
	for _, p := range positions {
		v := p.CurrentValue
		if v == 0 {
			v = p.TotalBuyAmount
		}
		portfolioValue += v
		if p.SectorGroup != "" {
			heldSectors = append(heldSectors, p.SectorGroup)
		}
	}

	sizing := CalculateSize(SizingRequest{
		StockPrice:         currentPrice,
		ATR:                atr,
		AvailableCash:      cash,
		PortfolioValue:     portfolioValue,
		LLMScore:           sig.LLMScore,
		TradeTier:          sig.TradeTier,
		SectorGroup:        sig.SectorGroup,
		HeldSectors:        heldSectors,
		StaleDays:          0,
		PositionMultiplier: sig.PositionMultiplier,
	})
	if sizing.Quantity <= 0 {
		return types.Skipped(code, name, "position size 0: "+sizing.Reason)
	}

	guardResult := e.guard.CheckAll(ctx, GuardInput{
		SectorGroup:   sig.SectorGroup,
		BuyAmount:     sizing.Quantity * currentPrice,
		AvailableCash: cash,
		TotalAssets:   cash + portfolioValue,
		Positions:     positions,
		Regime:        sig.MarketRegime,
	})
	if !guardResult.Passed {
		return types.Skipped(code, name, "guard: "+guardResult.Reason)
	}

	order, execPrice, err := e.placeOrder(ctx, sig, sizing.Quantity, currentPrice)
	if err != nil {
		return types.Errored(code, name, "order failed: "+err.Error())
	}

	e.state.IncrBuyCount(ctx, time.Now().In(e.loc))
	// A fresh holding must not inherit watermark or ladder state from a
	// prior round trip in the same code.
	e.state.Purge(ctx, code)

	// Market fills can land away from the snapshot; trust the account's
	// average price when it is already visible.
	actualPrice := execPrice
	if order.OrderNo != dryRunOrderNo {
		if fresh := e.positions(ctx); fresh != nil {
			for _, p := range fresh {
				if p.StockCode == code && p.AvgBuyPrice > 0 {
					actualPrice = p.AvgBuyPrice
					break
				}
			}
		}
	}

	return types.ExecutionResult{
		Status:    types.ExecSuccess,
		StockCode: code,
		StockName: name,
		OrderNo:   order.OrderNo,
		Quantity:  sizing.Quantity,
		Price:     actualPrice,
	}
}

// placeOrder routes momentum strategies through the limit path, everything
// else through market with fill confirmation.
func (e *BuyExecutor) placeOrder(ctx context.Context, sig types.BuySignal, qty, currentPrice int64) (*types.OrderResult, int64, error) {
	code := sig.StockCode

	if e.dryRun(ctx) {
		log.Info().Str("code", code).Int64("qty", qty).Int64("price", currentPrice).Msg("[DRYRUN] BUY skipped broker call")
		return &types.OrderResult{
			Success: true, OrderNo: dryRunOrderNo,
			StockCode: code, Quantity: qty, Price: currentPrice,
		}, currentPrice, nil
	}

	if e.cfg.Scanner.MomentumLimitOrder && sig.SignalType.IsMomentum() {
		return e.placeLimitOrder(ctx, code, qty, currentPrice)
	}
	return e.placeMarketOrder(ctx, code, qty, currentPrice)
}

// placeLimitOrder chases momentum with a small premium and a short fuse.
// When cancellation itself fails, "cancel failed" is NOT proof of a fill:
// the fill state must come from the order-status lookup, and an unknown
// status is treated as not filled.
func (e *BuyExecutor) placeLimitOrder(ctx context.Context, code string, qty, currentPrice int64) (*types.OrderResult, int64, error) {
	limitPrice := AlignTick(int64(float64(currentPrice) * (1 + e.cfg.Scanner.MomentumLimitPremium)))

	result, err := e.broker.Buy(ctx, types.OrderRequest{
		StockCode: code,
		Quantity:  qty,
		OrderType: types.OrderLimit,
		Price:     limitPrice,
	})
	if err != nil {
		return nil, 0, err
	}
	if !result.Success || result.OrderNo == "" {
		return nil, 0, fmt.Errorf("limit order rejected: %s", result.Message)
	}

	select {
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	case <-time.After(e.cfg.Scanner.MomentumLimitTimeout):
	}

	cancelled, cancelErr := e.broker.Cancel(ctx, result.OrderNo)
	if cancelErr == nil && cancelled {
		log.Info().Str("code", code).Msg("limit order cancelled (timeout)")
		return nil, 0, fmt.Errorf("limit order timeout")
	}

	status := e.broker.OrderStatus(ctx, result.OrderNo)
	if status == nil || !status.Filled {
		return nil, 0, fmt.Errorf("limit order unconfirmed after cancel failure")
	}
	price := status.AvgPrice
	if price <= 0 {
		price = limitPrice
	}
	return result, price, nil
}

// placeMarketOrder submits at market and polls for the fill; an order still
// unfilled after the polls is cancelled and reported as an error.
func (e *BuyExecutor) placeMarketOrder(ctx context.Context, code string, qty, currentPrice int64) (*types.OrderResult, int64, error) {
	result, err := e.broker.Buy(ctx, types.OrderRequest{
		StockCode: code,
		Quantity:  qty,
		OrderType: types.OrderMarket,
	})
	if err != nil {
		return nil, 0, err
	}
	if !result.Success || result.OrderNo == "" {
		return nil, 0, fmt.Errorf("market order rejected: %s", result.Message)
	}

	for i := 0; i < fillPollRounds; i++ {
		select {
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		case <-time.After(fillPollDelay):
		}
		status := e.broker.OrderStatus(ctx, result.OrderNo)
		if status != nil && status.Filled {
			price := status.AvgPrice
			if price <= 0 {
				price = currentPrice
			}
			return result, price, nil
		}
	}

	if _, err := e.broker.Cancel(ctx, result.OrderNo); err != nil {
		log.Warn().Err(err).Str("code", code).Msg("unfilled market order cancel failed")
	}
	return nil, 0, fmt.Errorf("market order unfilled after %d polls", fillPollRounds)
}

func (e *BuyExecutor) persist(ctx context.Context, sig types.BuySignal, result types.ExecutionResult) {
	total := result.Quantity * result.Price
	if err := e.store.LogTrade(ctx, types.TradeLog{
		StockCode:    result.StockCode,
		StockName:    result.StockName,
		TradeType:    types.TradeBuy,
		Quantity:     result.Quantity,
		Price:        result.Price,
		TotalAmount:  total,
		Reason:       string(sig.SignalType),
		Signal:       string(sig.SignalType),
		MarketRegime: sig.MarketRegime,
		LLMScore:     sig.LLMScore,
		HybridScore:  sig.HybridScore,
		TradeTier:    sig.TradeTier,
		Timestamp:    time.Now(),
	}); err != nil {
		log.Error().Err(err).Str("code", result.StockCode).Msg("buy trade log failed")
	}

	stopLoss := int64(float64(result.Price) * (1 - e.cfg.Sell.StopLossPct/100))
	if err := e.store.SavePosition(ctx, &storage.PositionRow{
		StockCode:      result.StockCode,
		StockName:      result.StockName,
		Quantity:       result.Quantity,
		AvgBuyPrice:    result.Price,
		TotalBuyAmount: total,
		SectorGroup:    sig.SectorGroup,
		HighWatermark:  result.Price,
		StopLossPrice:  stopLoss,
		SignalType:     string(sig.SignalType),
		TradeTier:      string(sig.TradeTier),
		LLMScore:       sig.LLMScore,
		HybridScore:    sig.HybridScore,
		BoughtAt:       time.Now(),
	}); err != nil {
		log.Error().Err(err).Str("code", result.StockCode).Msg("position save failed")
	}
}

func (e *BuyExecutor) notify(ctx context.Context, sig types.BuySignal, result types.ExecutionResult) {
	if e.notifier == nil {
		return
	}
	_, err := e.notifier.Publish(ctx, types.TradeNotification{
		TradeType:   types.TradeBuy,
		StockCode:   result.StockCode,
		StockName:   result.StockName,
		Quantity:    result.Quantity,
		Price:       result.Price,
		TotalAmount: result.Quantity * result.Price,
		Signal:      sig.SignalType,
		OrderNo:     result.OrderNo,
		DryRun:      result.OrderNo == dryRunOrderNo,
		Timestamp:   time.Now(),
	})
	if err != nil {
		log.Warn().Err(err).Str("code", result.StockCode).Msg("buy notification publish failed")
	}
}

// positions reads the broker holdings, nil on failure.
func (e *BuyExecutor) positions(ctx context.Context) []types.Position {
	bal, err := e.broker.Balance(ctx)
	if err != nil {
		log.Error().Err(err).Msg("position fetch failed")
		return nil
	}
	if bal.Positions == nil {
		return []types.Position{}
	}
	return bal.Positions
}

func (e *BuyExecutor) calculateATR(ctx context.Context, code string, currentPrice int64) float64 {
	prices, err := e.broker.DailyPrices(ctx, code, atrLookbackDays)
	if err == nil && len(prices) >= 2 {
		// Broker rows arrive newest first; ATR wants chronological order.
		chrono := make([]types.DailyPrice, len(prices))
		for i, p := range prices {
			chrono[len(prices)-1-i] = p
		}
		if atr, ok := indicators.ATR(chrono); ok {
			return ClampATR(atr, currentPrice)
		}
	}
	return ClampATR(float64(currentPrice)*0.02, currentPrice)
}

func (e *BuyExecutor) closeSeries(ctx context.Context, code string) []float64 {
	prices, err := e.broker.DailyPrices(ctx, code, 60)
	if err != nil || len(prices) == 0 {
		return nil
	}
	out := make([]float64, len(prices))
	for i, p := range prices {
		out[len(prices)-1-i] = float64(p.Close)
	}
	return out
}

func (e *BuyExecutor) dryRun(ctx context.Context) bool {
	return e.cfg.DryRun || bus.FlagSet(ctx, e.rdb, bus.KeyDryRunFlag)
}
