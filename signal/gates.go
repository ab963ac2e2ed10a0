// Package signal turns completed minute bars of watchlist members into buy
// signals: a fail-fast risk-gate cascade followed by a prioritized strategy
// suite, with a conviction-entry override that skips the gates entirely.
package signal

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/yeouido/trader/bus"
	"github.com/yeouido/trader/indicators"
	"github.com/yeouido/trader/internal/config"
	"github.com/yeouido/trader/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// RISK GATES - Ordered fail-fast cascade, first failure wins
// ═══════════════════════════════════════════════════════════════════════════════

// GateResult names the gate that blocked a candidate, or passes.
type GateResult struct {
	Passed bool
	Gate   string
	Reason string
}

func gatePass() GateResult {
	return GateResult{Passed: true}
}

func gateBlock(gate, reason string) GateResult {
	return GateResult{Gate: gate, Reason: reason}
}

// GateInput is the per-bar evaluation context.
type GateInput struct {
	StockCode   string
	Bars        []types.Bar
	Price       int64
	RSI         float64
	HasRSI      bool
	VolumeRatio float64
	VWAP        float64
	Entry       types.WatchlistEntry
	Regime      types.MarketRegime
	Context     types.TradingContext
	LastSignal  time.Time
	Now         time.Time
}

// Gates runs the cascade. Order matters: the cheap local checks run before
// anything that touches Redis.
type Gates struct {
	cfg   config.ScannerConfig
	state *bus.PositionState
}

func NewGates(cfg config.ScannerConfig, state *bus.PositionState) *Gates {
	return &Gates{cfg: cfg, state: state}
}

// Run evaluates every gate in order and returns the first block.
func (g *Gates) Run(ctx context.Context, in GateInput) GateResult {
	checks := []func(context.Context, GateInput) GateResult{
		g.minBars,
		g.noTradeWindow,
		g.dangerZone,
		g.rsiGuard,
		g.macroRisk,
		g.marketRegime,
		g.combinedRisk,
		g.signalCooldown,
		g.stoplossCooldown,
		g.sellCooldown,
		g.tradeTier,
		g.microTiming,
	}
	for _, check := range checks {
		if r := check(ctx, in); !r.Passed {
			log.Debug().
				Str("code", in.StockCode).
				Str("gate", r.Gate).
				Str("reason", r.Reason).
				Msg("gate blocked")
			return r
		}
	}
	return gatePass()
}

func (g *Gates) minBars(_ context.Context, in GateInput) GateResult {
	if len(in.Bars) < g.cfg.MinRequiredBars {
		return gateBlock("min_bars",
			fmt.Sprintf("%d/%d bars", len(in.Bars), g.cfg.MinRequiredBars))
	}
	return gatePass()
}

func (g *Gates) noTradeWindow(_ context.Context, in GateInput) GateResult {
	if withinWindow(in.Now, g.cfg.NoTradeStart, g.cfg.NoTradeEnd) {
		return gateBlock("no_trade_window",
			fmt.Sprintf("opening window %s-%s", g.cfg.NoTradeStart, g.cfg.NoTradeEnd))
	}
	return gatePass()
}

func (g *Gates) dangerZone(_ context.Context, in GateInput) GateResult {
	if withinWindow(in.Now, g.cfg.DangerZoneStart, g.cfg.DangerZoneEnd) {
		return gateBlock("danger_zone",
			fmt.Sprintf("late-session window %s-%s", g.cfg.DangerZoneStart, g.cfg.DangerZoneEnd))
	}
	return gatePass()
}

// rsiGuard blocks overbought entries. A missing RSI passes; the bull regimes
// tolerate a higher cap.
func (g *Gates) rsiGuard(_ context.Context, in GateInput) GateResult {
	if !in.HasRSI {
		return gatePass()
	}
	limit := g.cfg.RSIGuardMax
	if in.Regime.IsBull() {
		limit = g.cfg.RSIGuardMaxBull
	}
	if in.RSI > limit {
		return gateBlock("rsi_guard", fmt.Sprintf("RSI %.1f > %.0f", in.RSI, limit))
	}
	return gatePass()
}

func (g *Gates) macroRisk(_ context.Context, in GateInput) GateResult {
	if in.Context.RiskOffLevel >= 2 {
		return gateBlock("macro_risk", fmt.Sprintf("risk_off_level=%d", in.Context.RiskOffLevel))
	}
	if in.Context.VixRegime == types.VixCrisis {
		return gateBlock("macro_risk", "VIX crisis regime")
	}
	return gatePass()
}

func (g *Gates) marketRegime(_ context.Context, in GateInput) GateResult {
	if in.Regime.IsBear() {
		return gateBlock("market_regime", string(in.Regime))
	}
	return gatePass()
}

// combinedRisk blocks the hot-volume + above-VWAP chase. Both conditions must
// hold; either alone is normal intraday behavior.
func (g *Gates) combinedRisk(_ context.Context, in GateInput) GateResult {
	if in.VWAP <= 0 {
		return gatePass()
	}
	hotVolume := in.VolumeRatio > g.cfg.VolumeRatioWarning
	aboveVWAP := float64(in.Price) > in.VWAP*(1+g.cfg.VWAPDeviationWarn)
	if hotVolume && aboveVWAP {
		return gateBlock("combined_risk",
			fmt.Sprintf("vol_ratio=%.1fx and price %.1f%% above VWAP",
				in.VolumeRatio, (float64(in.Price)/in.VWAP-1)*100))
	}
	return gatePass()
}

func (g *Gates) signalCooldown(_ context.Context, in GateInput) GateResult {
	if in.LastSignal.IsZero() {
		return gatePass()
	}
	elapsed := in.Now.Sub(in.LastSignal)
	if elapsed < g.cfg.SignalCooldown {
		return gateBlock("signal_cooldown",
			fmt.Sprintf("%.0fs since last signal", elapsed.Seconds()))
	}
	return gatePass()
}

func (g *Gates) stoplossCooldown(ctx context.Context, in GateInput) GateResult {
	if g.state.StoplossCooldownActive(ctx, in.StockCode) {
		return gateBlock("stoploss_cooldown", "re-entry blocked after stop-loss")
	}
	return gatePass()
}

func (g *Gates) sellCooldown(ctx context.Context, in GateInput) GateResult {
	if g.state.SellCooldownActive(ctx, in.StockCode) {
		return gateBlock("sell_cooldown", "re-entry blocked within 24h of a sell")
	}
	return gatePass()
}

func (g *Gates) tradeTier(_ context.Context, in GateInput) GateResult {
	if in.Entry.TradeTier == types.TierBlocked {
		return gateBlock("trade_tier", "tier BLOCKED")
	}
	return gatePass()
}

// microTiming rejects entries right after a reversal candle: a shooting star
// or a bearish engulfing pair on the last completed bars.
func (g *Gates) microTiming(_ context.Context, in GateInput) GateResult {
	n := len(in.Bars)
	if n == 0 {
		return gatePass()
	}
	last := in.Bars[n-1]
	if last.Close != last.Open && indicators.ShootingStar(last) {
		return gateBlock("micro_timing", "shooting star on last bar")
	}
	if n >= 2 && indicators.BearishEngulfing(in.Bars[n-2], last) {
		return gateBlock("micro_timing", "bearish engulfing on last bars")
	}
	return gatePass()
}

// ─── Clock windows ─────────────────────────────────────────────────────────────

// clockMinutes parses "HH:MM" into minutes since midnight, -1 on bad input.
func clockMinutes(s string) int {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return -1
	}
	return t.Hour()*60 + t.Minute()
}

// withinWindow reports whether now falls inside [start, end).
func withinWindow(now time.Time, start, end string) bool {
	lo, hi := clockMinutes(start), clockMinutes(end)
	if lo < 0 || hi < 0 {
		return false
	}
	m := now.Hour()*60 + now.Minute()
	return m >= lo && m < hi
}
