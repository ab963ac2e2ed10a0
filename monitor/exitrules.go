// Package monitor watches open positions and drives the layered exit state
// machine: per-tick watermark maintenance, a strict-priority rule ladder, and
// sell-order emission.
package monitor

import (
	"fmt"

	"github.com/yeouido/trader/internal/config"
	"github.com/yeouido/trader/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// EXIT RULES - Strict priority ladder, first match wins
// ═══════════════════════════════════════════════════════════════════════════════
//
// Priority is safety-first: hard stop and profit protection before trailing,
// trailing before partial profit-taking, time exit last.

const (
	profitLockL2Trigger = 3.0
	profitLockL2Floor   = 1.0
	profitLockL1Trigger = 1.5
	profitLockL1Floor   = 0.5

	atrStopMultiplier    = 2.0
	macdBearishStopMult  = 0.75
	deathCrossStopMult   = 0.8
	macdBearishDropMult  = 0.8
	deathCrossDropMult   = 0.7
	tightenStartDays     = 10
	tightenStartDaysBull = 15
	tightenMaxPct        = 2.0

	rsiSellMinProfitPct = 3.0
	rsiSellPortionPct   = 50.0

	scaleOutMaxLevels  = 4
	minRemainingShares = 10
)

// scaleOutSellPct is the portion sold at each ladder level.
var scaleOutSellPct = [scaleOutMaxLevels]float64{25, 25, 25, 15}

// scaleOutTargets is the ascending profit threshold per ladder level, indexed
// by regime. Bull regimes let winners run further before trimming.
var scaleOutTargets = map[types.MarketRegime][scaleOutMaxLevels]float64{
	types.RegimeStrongBull: {6, 10, 15, 20},
	types.RegimeBull:       {5, 8, 12, 16},
	types.RegimeSideways:   {4, 7, 10, 14},
	types.RegimeBear:       {3, 5, 8, 12},
	types.RegimeStrongBear: {3, 5, 8, 12},
}

// trailingDropPct is the drop-from-watermark threshold per regime.
var trailingDropPct = map[types.MarketRegime]float64{
	types.RegimeStrongBull: 3.0,
	types.RegimeBull:       3.0,
	types.RegimeSideways:   2.5,
	types.RegimeBear:       2.5,
	types.RegimeStrongBear: 4.0,
}

// ExitSignal is an exit-rule match.
type ExitSignal struct {
	Reason      types.SellReason
	QuantityPct float64
	Description string
}

// PositionContext carries everything one evaluation needs. The indicator
// fields come from the 300s refresh cache, never from the tick hot path.
type PositionContext struct {
	StockCode         string
	Price             int64
	BuyPrice          int64
	Quantity          int64
	ProfitPct         float64
	Watermark         int64
	HighProfitPct     float64
	ATR               float64
	RSI               float64
	HasRSI            bool
	HoldingDays       int
	ScaleOutLevel     int
	RSISold           bool
	MACDBearish       bool
	DeathCross        bool
	ProfitFloorActive bool
	ProfitFloorLevel  float64
}

// Rules evaluates the ladder against one position.
type Rules struct {
	cfg config.SellConfig
}

func NewRules(cfg config.SellConfig) *Rules {
	return &Rules{cfg: cfg}
}

// Evaluate runs the ladder in strict priority and returns the first match,
// nil when the position should be held.
func (r *Rules) Evaluate(ctx PositionContext, regime types.MarketRegime, macroStopMult float64) *ExitSignal {
	if macroStopMult <= 0 {
		macroStopMult = 1.0
	}
	checks := []func(PositionContext, types.MarketRegime, float64) *ExitSignal{
		r.hardStop,
		r.profitFloor,
		r.profitLock,
		r.breakevenStop,
		r.atrStop,
		r.fixedStop,
		r.trailingTakeProfit,
		r.profitTarget,
		r.scaleOut,
		r.rsiOverbought,
		r.deathCross,
		r.timeExit,
	}
	for _, check := range checks {
		if sig := check(ctx, regime, macroStopMult); sig != nil {
			return sig
		}
	}
	return nil
}

// hardStop is the gap-down override: no multiplier softens it.
func (r *Rules) hardStop(ctx PositionContext, _ types.MarketRegime, _ float64) *ExitSignal {
	if ctx.ProfitPct <= -r.cfg.HardStopPct {
		return &ExitSignal{
			Reason:      types.SellStopLoss,
			QuantityPct: 100,
			Description: fmt.Sprintf("hard stop: %.1f%% <= -%.0f%%", ctx.ProfitPct, r.cfg.HardStopPct),
		}
	}
	return nil
}

// profitFloor sells everything once an armed floor is breached. Arming
// happens on the tick path when high-profit reaches the activation level.
func (r *Rules) profitFloor(ctx PositionContext, _ types.MarketRegime, _ float64) *ExitSignal {
	if !ctx.ProfitFloorActive {
		return nil
	}
	if ctx.ProfitPct < ctx.ProfitFloorLevel {
		return &ExitSignal{
			Reason:      types.SellProfitFloor,
			QuantityPct: 100,
			Description: fmt.Sprintf("profit floor: %.1f%% < floor %.1f%%", ctx.ProfitPct, ctx.ProfitFloorLevel),
		}
	}
	return nil
}

// profitLock protects a position that has shown profit from round-tripping:
// L2 guards the larger move, L1 the early one.
func (r *Rules) profitLock(ctx PositionContext, _ types.MarketRegime, _ float64) *ExitSignal {
	if ctx.HighProfitPct >= profitLockL2Trigger && ctx.ProfitPct < profitLockL2Floor {
		return &ExitSignal{
			Reason:      types.SellTrailingStop,
			QuantityPct: 100,
			Description: fmt.Sprintf("profit lock L2: high=%.1f%% now=%.1f%% < %.1f%%",
				ctx.HighProfitPct, ctx.ProfitPct, profitLockL2Floor),
		}
	}
	if ctx.HighProfitPct >= profitLockL1Trigger && ctx.ProfitPct < profitLockL1Floor {
		return &ExitSignal{
			Reason:      types.SellTrailingStop,
			QuantityPct: 100,
			Description: fmt.Sprintf("profit lock L1: high=%.1f%% now=%.1f%% < %.1f%%",
				ctx.HighProfitPct, ctx.ProfitPct, profitLockL1Floor),
		}
	}
	return nil
}

func (r *Rules) breakevenStop(ctx PositionContext, _ types.MarketRegime, _ float64) *ExitSignal {
	if ctx.HighProfitPct >= r.cfg.BreakevenActivationPct && ctx.ProfitPct < r.cfg.BreakevenLevelPct {
		return &ExitSignal{
			Reason:      types.SellBreakevenStop,
			QuantityPct: 100,
			Description: fmt.Sprintf("breakeven stop: high=%.1f%% now=%.1f%% < %.1f%%",
				ctx.HighProfitPct, ctx.ProfitPct, r.cfg.BreakevenLevelPct),
		}
	}
	return nil
}

// atrStop is the volatility-scaled stop under the buy price. Bearish warnings
// tighten the multiplier.
func (r *Rules) atrStop(ctx PositionContext, _ types.MarketRegime, macroStopMult float64) *ExitSignal {
	if ctx.ATR <= 0 {
		return nil
	}
	mult := atrStopMultiplier * macroStopMult
	if ctx.MACDBearish {
		mult *= macdBearishStopMult
	} else if ctx.DeathCross {
		mult *= deathCrossStopMult
	}
	stop := float64(ctx.BuyPrice) - ctx.ATR*mult
	if float64(ctx.Price) <= stop {
		return &ExitSignal{
			Reason:      types.SellStopLoss,
			QuantityPct: 100,
			Description: fmt.Sprintf("ATR stop: %d <= %.0f (ATR=%.0f mult=%.2f)",
				ctx.Price, stop, ctx.ATR, mult),
		}
	}
	return nil
}

// fixedStop tightens over time: past the start day the threshold shrinks
// linearly toward the time-exit day, by at most tightenMaxPct points.
func (r *Rules) fixedStop(ctx PositionContext, regime types.MarketRegime, macroStopMult float64) *ExitSignal {
	threshold := -r.cfg.StopLossPct * macroStopMult

	startDays := tightenStartDays
	if regime.IsBull() {
		startDays = tightenStartDaysBull
	}
	if ctx.HoldingDays > startDays {
		span := r.timeExitDays(regime) - startDays
		if span > 0 {
			tighten := tightenMaxPct * float64(ctx.HoldingDays-startDays) / float64(span)
			if tighten > tightenMaxPct {
				tighten = tightenMaxPct
			}
			threshold += tighten
		}
	}

	if ctx.ProfitPct <= threshold {
		return &ExitSignal{
			Reason:      types.SellStopLoss,
			QuantityPct: 100,
			Description: fmt.Sprintf("fixed stop: %.1f%% <= %.1f%% (day %d)",
				ctx.ProfitPct, threshold, ctx.HoldingDays),
		}
	}
	return nil
}

// trailingTakeProfit exits when price falls a regime-dependent percentage
// from the watermark, after the activation profit has been seen. Bearish
// warnings shrink the allowed drop.
func (r *Rules) trailingTakeProfit(ctx PositionContext, regime types.MarketRegime, _ float64) *ExitSignal {
	if !r.cfg.TrailingEnabled || ctx.Watermark <= 0 {
		return nil
	}
	if ctx.HighProfitPct < r.cfg.TrailingActivationPct {
		return nil
	}

	drop, ok := trailingDropPct[regime]
	if !ok {
		drop = trailingDropPct[types.RegimeSideways]
	}
	if ctx.MACDBearish {
		drop *= macdBearishDropMult
	} else if ctx.DeathCross {
		drop *= deathCrossDropMult
	}

	stop := float64(ctx.Watermark) * (1 - drop/100)
	if float64(ctx.Price) <= stop && ctx.ProfitPct >= r.cfg.TrailingMinProfitPct {
		return &ExitSignal{
			Reason:      types.SellTrailingStop,
			QuantityPct: 100,
			Description: fmt.Sprintf("trailing TP: %d <= %.0f (high=%d drop=%.1f%%)",
				ctx.Price, stop, ctx.Watermark, drop),
		}
	}
	return nil
}

// profitTarget is the fixed full-exit target, active only when trailing is
// disabled.
func (r *Rules) profitTarget(ctx PositionContext, _ types.MarketRegime, _ float64) *ExitSignal {
	if r.cfg.TrailingEnabled {
		return nil
	}
	if ctx.ProfitPct >= r.cfg.ProfitTargetPct {
		return &ExitSignal{
			Reason:      types.SellProfitTarget,
			QuantityPct: 100,
			Description: fmt.Sprintf("profit target: %.1f%% >= %.0f%%", ctx.ProfitPct, r.cfg.ProfitTargetPct),
		}
	}
	return nil
}

// scaleOut trims the position along the regime ladder. A remainder below the
// minimum tradeable size escalates to a full exit.
func (r *Rules) scaleOut(ctx PositionContext, regime types.MarketRegime, _ float64) *ExitSignal {
	if ctx.ScaleOutLevel >= scaleOutMaxLevels {
		return nil
	}
	targets, ok := scaleOutTargets[regime]
	if !ok {
		targets = scaleOutTargets[types.RegimeSideways]
	}
	target := targets[ctx.ScaleOutLevel]
	if ctx.ProfitPct < target {
		return nil
	}

	sellPct := scaleOutSellPct[ctx.ScaleOutLevel]
	estimated := ctx.Quantity * int64(sellPct) / 100
	if estimated < 1 {
		estimated = 1
	}
	if ctx.Quantity-estimated < minRemainingShares {
		sellPct = 100
	}

	return &ExitSignal{
		Reason:      types.SellProfitTarget,
		QuantityPct: sellPct,
		Description: fmt.Sprintf("scale-out L%d: %.1f%% >= %.0f%% → sell %.0f%%",
			ctx.ScaleOutLevel, ctx.ProfitPct, target, sellPct),
	}
}

// rsiOverbought takes half off an overheated winner, once per 24h window.
func (r *Rules) rsiOverbought(ctx PositionContext, _ types.MarketRegime, _ float64) *ExitSignal {
	if ctx.RSISold || !ctx.HasRSI {
		return nil
	}
	if ctx.RSI >= r.cfg.RSIOverboughtThreshold && ctx.ProfitPct >= rsiSellMinProfitPct {
		return &ExitSignal{
			Reason:      types.SellRSIOverbought,
			QuantityPct: rsiSellPortionPct,
			Description: fmt.Sprintf("RSI overbought: %.1f >= %.0f, profit=%.1f%%",
				ctx.RSI, r.cfg.RSIOverboughtThreshold, ctx.ProfitPct),
		}
	}
	return nil
}

// deathCross exits a losing position once the daily 5/20 cross has confirmed.
func (r *Rules) deathCross(ctx PositionContext, _ types.MarketRegime, _ float64) *ExitSignal {
	if ctx.DeathCross && ctx.ProfitPct < 0 {
		return &ExitSignal{
			Reason:      types.SellDeathCross,
			QuantityPct: 100,
			Description: fmt.Sprintf("death cross with profit %.1f%%", ctx.ProfitPct),
		}
	}
	return nil
}

func (r *Rules) timeExit(ctx PositionContext, regime types.MarketRegime, _ float64) *ExitSignal {
	maxDays := r.timeExitDays(regime)
	if ctx.HoldingDays >= maxDays {
		return &ExitSignal{
			Reason:      types.SellTimeExit,
			QuantityPct: 100,
			Description: fmt.Sprintf("time exit: %dd >= %dd (%s)", ctx.HoldingDays, maxDays, regime),
		}
	}
	return nil
}

func (r *Rules) timeExitDays(regime types.MarketRegime) int {
	if regime.IsBull() {
		return r.cfg.TimeExitBullDays
	}
	return r.cfg.TimeExitSidewaysDays
}
