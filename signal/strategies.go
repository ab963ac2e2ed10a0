package signal

import (
	"fmt"
	"time"

	"github.com/yeouido/trader/indicators"
	"github.com/yeouido/trader/internal/config"
	"github.com/yeouido/trader/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ENTRY STRATEGIES - Prioritized suite, first match wins
// ═══════════════════════════════════════════════════════════════════════════════

const (
	goldenCrossMinVolRatio = 1.5

	momentumMinPct = 1.5

	continuationMinPct    = 2.0
	continuationMaxPct    = 5.0
	continuationMinLLM    = 65.0
	dipBuyMaxAgeDays      = 5
	strongBearReboundRSI  = 25.0
	defaultReboundRSI     = 35.0
	breakoutMinVolRatio   = 3.0
	breakoutLookbackBars  = 20
	convictionMaxAgeDays  = 2
	convictionVWAPDevPct  = 1.5
	convictionMaxRSI      = 65.0
	convictionSidewaysMin = 75.0
)

// StrategyResult is a strategy detection outcome.
type StrategyResult struct {
	Detected bool
	Type     types.SignalType
	Reason   string
}

func noMatch() StrategyResult {
	return StrategyResult{}
}

func match(t types.SignalType, reason string) StrategyResult {
	return StrategyResult{Detected: true, Type: t, Reason: reason}
}

// StrategyInput is the per-bar context shared by all detectors.
type StrategyInput struct {
	Bars        []types.Bar
	Entry       types.WatchlistEntry
	Regime      types.MarketRegime
	Price       int64
	DayOpen     int64
	RSI         float64
	HasRSI      bool
	VolumeRatio float64
	VWAP        float64
	Now         time.Time
}

// Strategies holds the tunable thresholds.
type Strategies struct {
	scanner config.ScannerConfig
	sig     config.SignalConfig
}

func NewStrategies(scanner config.ScannerConfig, sig config.SignalConfig) *Strategies {
	return &Strategies{scanner: scanner, sig: sig}
}

func closesOf(bars []types.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = float64(b.Close)
	}
	return out
}

// Detect runs the gated strategies in priority order and returns the first
// match. Conviction entry is evaluated separately, before the gates.
func (s *Strategies) Detect(in StrategyInput) StrategyResult {
	if in.Regime.IsBull() {
		if r := s.goldenCross(in); r.Detected {
			return r
		}
		if r := s.momentumContinuation(in); r.Detected {
			return r
		}
	}
	if r := s.momentum(in); r.Detected {
		return r
	}
	if r := s.dipBuy(in); r.Detected {
		return r
	}
	if r := s.rsiRebound(in); r.Detected {
		return r
	}
	return s.volumeBreakout(in)
}

// goldenCross fires when the short MA crosses above the long MA on the last
// bar with elevated volume.
func (s *Strategies) goldenCross(in StrategyInput) StrategyResult {
	short, long := s.sig.GoldenCrossShort, s.sig.GoldenCrossLong
	if len(in.Bars) < long+1 {
		return noMatch()
	}
	if !indicators.GoldenCross(closesOf(in.Bars), short, long) {
		return noMatch()
	}
	if in.VolumeRatio < goldenCrossMinVolRatio {
		return noMatch()
	}
	return match(types.SignalGoldenCross,
		fmt.Sprintf("MA%d crossed MA%d, vol_ratio=%.1fx", short, long, in.VolumeRatio))
}

// momentumContinuation is the bull-only trend follower: MA5 above MA20, a
// contained 5-bar move, and a strong LLM score.
func (s *Strategies) momentumContinuation(in StrategyInput) StrategyResult {
	if len(in.Bars) < s.sig.GoldenCrossLong+1 {
		return noMatch()
	}
	closes := closesOf(in.Bars)
	_, ma5, ok5 := indicators.SMALast(closes, s.sig.GoldenCrossShort)
	_, ma20, ok20 := indicators.SMALast(closes, s.sig.GoldenCrossLong)
	if !ok5 || !ok20 || ma5 <= ma20 {
		return noMatch()
	}

	base := closes[len(closes)-5]
	if base <= 0 {
		return noMatch()
	}
	change := (closes[len(closes)-1]/base - 1) * 100
	if change < continuationMinPct || change > continuationMaxPct {
		return noMatch()
	}
	if in.Entry.LLMScore < continuationMinLLM {
		return noMatch()
	}
	return match(types.SignalMomentumContinuation,
		fmt.Sprintf("MA5>MA20, change=%.1f%%, llm=%.0f", change, in.Entry.LLMScore))
}

// momentum measures the open-to-close move over the last five bars. The upper
// cap prevents chasing an extended run.
func (s *Strategies) momentum(in StrategyInput) StrategyResult {
	if len(in.Bars) < 5 {
		return noMatch()
	}
	recent := in.Bars[len(in.Bars)-5:]
	if recent[0].Open <= 0 {
		return noMatch()
	}
	pct := (float64(recent[4].Close)/float64(recent[0].Open) - 1) * 100
	if pct < momentumMinPct || pct > s.scanner.MomentumMaxGainPct {
		return noMatch()
	}
	return match(types.SignalMomentum, fmt.Sprintf("momentum +%.1f%%", pct))
}

// dipBuy enters a scored candidate on a shallow pullback within days of the
// scoring run. Bull regimes accept a tighter dip band.
func (s *Strategies) dipBuy(in StrategyInput) StrategyResult {
	if len(in.Bars) < 5 || in.Entry.ScoredAt.IsZero() {
		return noMatch()
	}
	days := int(in.Now.Sub(in.Entry.ScoredAt).Hours() / 24)
	if days < 1 || days > dipBuyMaxAgeDays {
		return noMatch()
	}

	recent := in.Bars[len(in.Bars)-5:]
	var high int64
	for _, b := range recent {
		if b.High > high {
			high = b.High
		}
	}
	if high <= 0 {
		return noMatch()
	}
	dipPct := (float64(recent[4].Close)/float64(high) - 1) * 100

	minDip, maxDip := -2.0, -5.0
	if in.Regime.IsBull() {
		minDip, maxDip = -0.5, -3.0
	}
	if dipPct > minDip || dipPct < maxDip {
		return noMatch()
	}
	return match(types.SignalDipBuy,
		fmt.Sprintf("dip %.1f%% on D+%d (band [%.1f, %.1f])", dipPct, days, maxDip, minDip))
}

// rsiRebound is the counter-trend entry, disabled in bull regimes: the RSI
// crosses back above the regime's oversold threshold.
func (s *Strategies) rsiRebound(in StrategyInput) StrategyResult {
	if in.Regime.IsBull() || len(in.Bars) < indicators.RSIPeriod+2 {
		return noMatch()
	}

	threshold := s.reboundThreshold(in.Regime)
	closes := closesOf(in.Bars)
	curr, okC := indicators.RSI(closes)
	prev, okP := indicators.RSI(closes[:len(closes)-1])
	if !okC || !okP {
		return noMatch()
	}
	if prev < threshold && threshold <= curr {
		return match(types.SignalRSIRebound,
			fmt.Sprintf("RSI rebound %.1f → %.1f (threshold %.0f)", prev, curr, threshold))
	}
	return noMatch()
}

func (s *Strategies) reboundThreshold(regime types.MarketRegime) float64 {
	switch regime {
	case types.RegimeSideways:
		return s.sig.RSIOversoldBull
	case types.RegimeBear:
		return s.sig.RSIOversold
	case types.RegimeStrongBear:
		return strongBearReboundRSI
	default:
		return defaultReboundRSI
	}
}

// volumeBreakout fires on a volume surge combined with a break of the 20-bar
// high (the current bar excluded from the reference high).
func (s *Strategies) volumeBreakout(in StrategyInput) StrategyResult {
	if len(in.Bars) < breakoutLookbackBars {
		return noMatch()
	}
	if in.VolumeRatio < breakoutMinVolRatio {
		return noMatch()
	}
	window := in.Bars[len(in.Bars)-breakoutLookbackBars : len(in.Bars)-1]
	var recentHigh int64
	for _, b := range window {
		if b.High > recentHigh {
			recentHigh = b.High
		}
	}
	last := in.Bars[len(in.Bars)-1]
	if last.Close <= recentHigh {
		return noMatch()
	}
	return match(types.SignalVolumeBreakout,
		fmt.Sprintf("vol_ratio=%.1fx, new %d-bar high", in.VolumeRatio, breakoutLookbackBars))
}

// Conviction is the override path for top-scored fresh candidates early in the
// session. It bypasses the gate cascade entirely; its own conditions are the
// guard.
func (s *Strategies) Conviction(in StrategyInput) StrategyResult {
	cfg := s.scanner
	if !cfg.ConvictionEnabled || in.Entry.TradeTier == types.TierBlocked {
		return noMatch()
	}

	if in.Regime.IsBear() {
		return noMatch()
	}
	if in.Regime == types.RegimeSideways && in.Entry.HybridScore < convictionSidewaysMin {
		return noMatch()
	}

	if !in.Entry.ScoredAt.IsZero() {
		if days := int(in.Now.Sub(in.Entry.ScoredAt).Hours() / 24); days > convictionMaxAgeDays {
			return noMatch()
		}
	}

	highHybrid := in.Entry.HybridScore >= cfg.ConvictionMinHybridScore
	highLLM := in.Entry.LLMScore >= cfg.ConvictionMinLLMScore
	if !highHybrid && !highLLM {
		return noMatch()
	}

	if !withinWindowInclusive(in.Now, cfg.ConvictionWindowStart, cfg.ConvictionWindowEnd) {
		return noMatch()
	}

	if in.DayOpen > 0 {
		gain := (float64(in.Price)/float64(in.DayOpen) - 1) * 100
		if gain >= cfg.ConvictionMaxGainPct {
			return noMatch()
		}
	}

	if in.VWAP > 0 {
		dev := float64(in.Price)/in.VWAP - 1
		if dev < 0 {
			dev = -dev
		}
		if dev*100 > convictionVWAPDevPct {
			return noMatch()
		}
	}

	if in.HasRSI && in.RSI >= convictionMaxRSI {
		return noMatch()
	}

	return match(types.SignalConviction,
		fmt.Sprintf("conviction: hybrid=%.0f, llm=%.0f", in.Entry.HybridScore, in.Entry.LLMScore))
}

// withinWindowInclusive reports whether now falls inside [start, end].
func withinWindowInclusive(now time.Time, start, end string) bool {
	lo, hi := clockMinutes(start), clockMinutes(end)
	if lo < 0 || hi < 0 {
		return false
	}
	m := now.Hour()*60 + now.Minute()
	return m >= lo && m <= hi
}
