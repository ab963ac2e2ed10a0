package executor

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/yeouido/trader/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// POSITION SIZING - ATR risk parity
// ═══════════════════════════════════════════════════════════════════════════════

const (
	maxPositionPctDefault = 12.0
	maxPositionPctAPlus   = 18.0
	llmScoreAPlus         = 80.0
	portfolioHeatLimit    = 5.0
	sectorRiskMultiplier  = 0.7
	riskPctPerTrade       = 0.01
	atrMultiplier         = 2.0
	minQuantity           = 1
	maxQuantity           = 10000
	cashKeepPct           = 10.0
)

// SizingRequest carries everything the sizer needs.
type SizingRequest struct {
	StockPrice         int64
	ATR                float64
	AvailableCash      int64
	PortfolioValue     int64
	PortfolioRiskPct   float64
	LLMScore           float64
	TradeTier          types.TradeTier
	SectorGroup        string
	HeldSectors        []string
	StaleDays          int
	PositionMultiplier float64
}

// SizingResult is the sizing outcome. Quantity zero with a reason means the
// trade is skipped, not errored.
type SizingResult struct {
	Quantity        int64
	TargetWeightPct float64
	ActualWeightPct float64
	Reason          string
}

// maxPositionPct widens the per-stock cap for top-scored names.
func maxPositionPct(llmScore float64) float64 {
	if llmScore >= llmScoreAPlus {
		return maxPositionPctAPlus
	}
	return maxPositionPctDefault
}

// sectorMultiplier discounts risk when the sector is already held.
func sectorMultiplier(sector string, held []string) float64 {
	if sector == "" {
		return 1.0
	}
	for _, h := range held {
		if h == sector {
			return sectorRiskMultiplier
		}
	}
	return 1.0
}

// tierMultiplier scales by watchlist grade. BLOCKED never sizes above zero.
func tierMultiplier(tier types.TradeTier) float64 {
	switch tier {
	case types.Tier1:
		return 1.0
	case types.Tier2:
		return 0.5
	case types.TierBlocked:
		return 0.0
	default:
		return 0.5
	}
}

// staleMultiplier shrinks positions as the watchlist score ages.
func staleMultiplier(days int) float64 {
	switch {
	case days <= 1:
		return 1.0
	case days == 2:
		return 0.5
	default:
		return 0.3
	}
}

// CalculateSize runs the risk-parity sizing:
//
//  1. risk amount = total assets × 1% × sector multiplier
//  2. target qty = risk amount / (ATR × 2)
//  3. cap by per-stock weight, investable cash, and the hard quantity cap
//  4. smart skip when cash allows less than half the target
//  5. portfolio heat must stay under 5% after the buy
//  6. scale by tier, staleness, and the macro position multiplier
func CalculateSize(req SizingRequest) SizingResult {
	totalAssets := req.AvailableCash + req.PortfolioValue
	if totalAssets <= 0 {
		return SizingResult{Reason: "no assets available"}
	}

	sectorMult := sectorMultiplier(req.SectorGroup, req.HeldSectors)
	riskAmount := float64(totalAssets) * riskPctPerTrade * sectorMult

	riskPerShare := req.ATR * atrMultiplier
	if riskPerShare <= 0 {
		return SizingResult{Reason: "ATR is zero"}
	}

	targetQty := int64(riskAmount / riskPerShare)
	if targetQty <= 0 {
		targetQty = 1
	}

	if req.StockPrice <= 0 {
		return SizingResult{Reason: "stock price is zero"}
	}
	maxValueByPct := float64(totalAssets) * maxPositionPct(req.LLMScore) / 100
	maxQtyByPct := int64(maxValueByPct / float64(req.StockPrice))

	cashKeep := float64(totalAssets) * cashKeepPct / 100
	investable := float64(req.AvailableCash) - cashKeep
	if investable < 0 {
		investable = 0
	}
	maxQtyByCash := int64(investable / float64(req.StockPrice))

	qty := minI64(targetQty, maxQtyByPct, maxQtyByCash, maxQuantity)
	if qty < 0 {
		qty = 0
	}

	targetPct := weightPct(targetQty, req.StockPrice, totalAssets)

	// Smart skip applies only when cash is the binding constraint. The
	// per-stock weight cap is a normal outcome, not a skip.
	if targetQty > 0 && float64(maxQtyByCash) < float64(targetQty)*0.5 && qty == maxQtyByCash {
		return SizingResult{
			TargetWeightPct: targetPct,
			Reason:          fmt.Sprintf("smart skip: cash allows %d/%d < 50%%", maxQtyByCash, targetQty),
		}
	}

	newRiskPct := float64(qty) * riskPerShare / float64(totalAssets) * 100
	if req.PortfolioRiskPct+newRiskPct > portfolioHeatLimit {
		return SizingResult{
			TargetWeightPct: targetPct,
			Reason: fmt.Sprintf("portfolio heat exceeded: %.1f%% > %.1f%%",
				req.PortfolioRiskPct+newRiskPct, portfolioHeatLimit),
		}
	}

	tierMult := tierMultiplier(req.TradeTier)
	staleMult := staleMultiplier(req.StaleDays)
	posMult := req.PositionMultiplier
	if posMult <= 0 {
		posMult = 1.0
	}

	final := int64(float64(qty) * tierMult * staleMult * posMult)
	if final <= 0 {
		final = 0
	} else if final < minQuantity {
		final = minQuantity
	}
	if final > maxQuantity {
		final = maxQuantity
	}

	return SizingResult{
		Quantity:        final,
		TargetWeightPct: targetPct,
		ActualWeightPct: weightPct(final, req.StockPrice, totalAssets),
	}
}

// weightPct is the position's share of total assets, rounded to 2 decimals.
func weightPct(qty, price, totalAssets int64) float64 {
	if totalAssets <= 0 {
		return 0
	}
	v := decimal.NewFromInt(qty * price).
		Div(decimal.NewFromInt(totalAssets)).
		Mul(decimal.NewFromInt(100)).
		Round(2)
	f, _ := v.Float64()
	return f
}

// ClampATR bounds the ATR to 1-5% of the stock price, defaulting to 2% when
// unusable.
func ClampATR(atr float64, price int64) float64 {
	p := float64(price)
	if atr <= 0 || p <= 0 {
		return p * 0.02
	}
	lo, hi := p*0.01, p*0.05
	if atr < lo {
		return lo
	}
	if atr > hi {
		return hi
	}
	return atr
}

func minI64(vals ...int64) int64 {
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
