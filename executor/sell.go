package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/yeouido/trader/bus"
	"github.com/yeouido/trader/internal/config"
	"github.com/yeouido/trader/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SELL EXECUTOR - Exit order → fill → cooldowns → journal
// ═══════════════════════════════════════════════════════════════════════════════

// sellStore is the persistence slice the sell pipeline writes.
type sellStore interface {
	LogTrade(ctx context.Context, t types.TradeLog) error
	ReducePosition(ctx context.Context, code string, soldQty int64) error
}

// SellExecutor consumes sell orders from the monitor and executes them.
type SellExecutor struct {
	cfg      *config.Config
	broker   Broker
	rdb      *redis.Client
	state    *bus.PositionState
	store    sellStore
	notifier *bus.Publisher[types.TradeNotification]
	loc      *time.Location
}

func NewSellExecutor(
	cfg *config.Config,
	broker Broker,
	rdb *redis.Client,
	state *bus.PositionState,
	store sellStore,
	notifier *bus.Publisher[types.TradeNotification],
) *SellExecutor {
	return &SellExecutor{
		cfg:      cfg,
		broker:   broker,
		rdb:      rdb,
		state:    state,
		store:    store,
		notifier: notifier,
		loc:      cfg.Location(),
	}
}

// HandleOrder is the stream handler.
func (e *SellExecutor) HandleOrder(ctx context.Context, order types.SellOrder) {
	result := e.Process(ctx, order)

	switch result.Status {
	case types.ExecSuccess:
		log.Info().
			Str("code", result.StockCode).
			Int64("qty", result.Quantity).
			Int64("price", result.Price).
			Float64("profit_pct", result.ProfitPct).
			Str("reason", string(order.SellReason)).
			Msg("✅ SELL executed")
	case types.ExecSkipped:
		log.Info().Str("code", result.StockCode).Str("reason", result.Reason).Msg("sell skipped")
	default:
		log.Error().Str("code", result.StockCode).Str("reason", result.Reason).Msg("sell failed")
	}
}

// Process runs the sell pipeline. Manual and forced-liquidation orders
// bypass the market-hours and emergency-stop policy checks.
func (e *SellExecutor) Process(ctx context.Context, order types.SellOrder) types.ExecutionResult {
	code, name := order.StockCode, order.StockName
	bypass := order.SellReason.BypassesPolicy()

	if !bypass {
		open, err := e.broker.IsMarketOpen(ctx)
		if err != nil {
			return types.Skipped(code, name, "market-open check failed")
		}
		if !open {
			return types.Skipped(code, name, "market closed")
		}
		if bus.FlagSet(ctx, e.rdb, bus.KeyEmergencyStop) {
			return types.Skipped(code, name, "emergency stop active")
		}
	}

	position := e.heldPosition(ctx, code)
	if position == nil {
		return types.Skipped(code, name, "not holding")
	}

	if !e.state.AcquireSellLock(ctx, code) {
		return types.Skipped(code, name, "lock acquisition failed")
	}
	defer e.state.ReleaseSellLock(ctx, code)

	return e.execute(ctx, order, *position)
}

// execute sells under the per-code lock. A non-positive order quantity is a
// skip; an oversized one is clamped to the held quantity.
func (e *SellExecutor) execute(ctx context.Context, order types.SellOrder, position types.Position) types.ExecutionResult {
	code, name := order.StockCode, order.StockName

	if order.Quantity <= 0 {
		return types.Skipped(code, name, "nothing to sell")
	}
	qty := order.Quantity
	if qty > position.Quantity {
		qty = position.Quantity
	}

	currentPrice := order.CurrentPrice
	if snap, err := e.broker.Snapshot(ctx, code); err == nil && snap.Price > 0 {
		currentPrice = snap.Price
	} else {
		log.Warn().Str("code", code).Msg("price fetch failed, using order price")
	}
	if currentPrice <= 0 {
		return types.Errored(code, name, "invalid price")
	}

	fillPrice, orderNo, err := e.placeSell(ctx, code, qty, currentPrice)
	if err != nil {
		return types.Errored(code, name, "order failed: "+err.Error())
	}

	profitPct := types.ProfitPct(position.AvgBuyPrice, fillPrice)
	profitAmount := (fillPrice - position.AvgBuyPrice) * qty
	fullExit := qty >= position.Quantity

	e.applyCooldowns(ctx, code, order.SellReason)
	if fullExit {
		e.state.Purge(ctx, code)
	}
	e.persist(ctx, order, position, qty, fillPrice, profitPct, profitAmount)
	e.notify(ctx, order, qty, fillPrice, profitPct, orderNo)

	return types.ExecutionResult{
		Status:    types.ExecSuccess,
		StockCode: code,
		StockName: name,
		OrderNo:   orderNo,
		Quantity:  qty,
		Price:     fillPrice,
		ProfitPct: profitPct,
	}
}

// placeSell submits a market sell and confirms the fill; the journaled
// profit uses the actual fill price, not the snapshot.
func (e *SellExecutor) placeSell(ctx context.Context, code string, qty, currentPrice int64) (fillPrice int64, orderNo string, err error) {
	if e.dryRun(ctx) {
		log.Info().Str("code", code).Int64("qty", qty).Int64("price", currentPrice).Msg("[DRYRUN] SELL skipped broker call")
		return currentPrice, dryRunOrderNo, nil
	}

	result, err := e.broker.Sell(ctx, types.OrderRequest{
		StockCode: code,
		Quantity:  qty,
		OrderType: types.OrderMarket,
	})
	if err != nil {
		return 0, "", err
	}
	if !result.Success || result.OrderNo == "" {
		return 0, "", fmt.Errorf("sell order rejected: %s", result.Message)
	}

	for i := 0; i < fillPollRounds; i++ {
		select {
		case <-ctx.Done():
			return 0, "", ctx.Err()
		case <-time.After(fillPollDelay):
		}
		status := e.broker.OrderStatus(ctx, result.OrderNo)
		if status != nil && status.Filled {
			price := status.AvgPrice
			if price <= 0 {
				price = currentPrice
			}
			return price, result.OrderNo, nil
		}
	}

	if _, cerr := e.broker.Cancel(ctx, result.OrderNo); cerr != nil {
		log.Warn().Err(cerr).Str("code", code).Msg("unfilled sell order cancel failed")
	}
	return 0, "", fmt.Errorf("sell order unfilled after %d polls", fillPollRounds)
}

// applyCooldowns arms re-entry blocks: every sell sets the 24h cooldown, and
// loss-driven exits additionally set the multi-day stop-loss cooldown.
func (e *SellExecutor) applyCooldowns(ctx context.Context, code string, reason types.SellReason) {
	e.state.SetSellCooldown(ctx, code)
	if reason.SetsStopLossCooldown() {
		e.state.SetStoplossCooldown(ctx, code, e.cfg.Risk.StoplossCooldownDays)
	}
}

func (e *SellExecutor) persist(ctx context.Context, order types.SellOrder, pos types.Position, qty, fillPrice int64, profitPct float64, profitAmount int64) {
	holdingDays := 0
	if !pos.BoughtAt.IsZero() {
		holdingDays = int(time.Since(pos.BoughtAt).Hours() / 24)
	} else if order.HoldingDays > 0 {
		holdingDays = order.HoldingDays
	}

	if e.store == nil {
		return
	}
	if err := e.store.LogTrade(ctx, types.TradeLog{
		StockCode:    order.StockCode,
		StockName:    order.StockName,
		TradeType:    types.TradeSell,
		Quantity:     qty,
		Price:        fillPrice,
		TotalAmount:  qty * fillPrice,
		Reason:       string(order.SellReason),
		ProfitPct:    profitPct,
		ProfitAmount: profitAmount,
		HoldingDays:  holdingDays,
		Timestamp:    time.Now(),
	}); err != nil {
		log.Error().Err(err).Str("code", order.StockCode).Msg("sell trade log failed")
	}

	if err := e.store.ReducePosition(ctx, order.StockCode, qty); err != nil {
		log.Error().Err(err).Str("code", order.StockCode).Msg("position reduce failed")
	}
}

func (e *SellExecutor) notify(ctx context.Context, order types.SellOrder, qty, fillPrice int64, profitPct float64, orderNo string) {
	if e.notifier == nil {
		return
	}
	_, err := e.notifier.Publish(ctx, types.TradeNotification{
		TradeType:   types.TradeSell,
		StockCode:   order.StockCode,
		StockName:   order.StockName,
		Quantity:    qty,
		Price:       fillPrice,
		TotalAmount: qty * fillPrice,
		Reason:      order.SellReason,
		ProfitPct:   profitPct,
		OrderNo:     orderNo,
		DryRun:      orderNo == dryRunOrderNo,
		Timestamp:   time.Now(),
	})
	if err != nil {
		log.Warn().Err(err).Str("code", order.StockCode).Msg("sell notification publish failed")
	}
}

// heldPosition returns the broker's view of the holding, nil when absent or
// unreadable.
func (e *SellExecutor) heldPosition(ctx context.Context, code string) *types.Position {
	bal, err := e.broker.Balance(ctx)
	if err != nil {
		log.Error().Err(err).Msg("position fetch failed")
		return nil
	}
	for i := range bal.Positions {
		if bal.Positions[i].StockCode == code {
			return &bal.Positions[i]
		}
	}
	return nil
}

func (e *SellExecutor) dryRun(ctx context.Context) bool {
	return e.cfg.DryRun || bus.FlagSet(ctx, e.rdb, bus.KeyDryRunFlag)
}
