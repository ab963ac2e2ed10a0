package executor

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/yeouido/trader/bus"
	"github.com/yeouido/trader/internal/config"
	"github.com/yeouido/trader/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// PORTFOLIO GUARD - Account-level limits checked after sizing
// ═══════════════════════════════════════════════════════════════════════════════

// Regime relaxations for concentration caps.
var (
	strongBullSectorValuePct = decimal.NewFromInt(50)
	strongBullStockValuePct  = decimal.NewFromInt(25)
)

// GuardResult names the check that blocked a buy, or passes.
type GuardResult struct {
	Passed bool
	Check  string
	Reason string
}

func guardPass(check string) GuardResult {
	return GuardResult{Passed: true, Check: check}
}

func guardBlock(check, reason string) GuardResult {
	return GuardResult{Passed: false, Check: check, Reason: reason}
}

// GuardInput is the state a guard run inspects.
type GuardInput struct {
	SectorGroup   string
	BuyAmount     int64
	AvailableCash int64
	TotalAssets   int64
	Positions     []types.Position
	Regime        types.MarketRegime
}

// PortfolioGuard enforces sector counts, value concentration, and the
// regime-indexed cash floor.
type PortfolioGuard struct {
	cfg    config.RiskConfig
	budget *bus.TypedHashCache[types.SectorBudgetEntry]
}

// NewPortfolioGuard creates a guard. budget may be nil to disable dynamic
// sector caps.
func NewPortfolioGuard(cfg config.RiskConfig, budget *bus.TypedHashCache[types.SectorBudgetEntry]) *PortfolioGuard {
	return &PortfolioGuard{cfg: cfg, budget: budget}
}

// sectorCap resolves the per-sector position-count cap: the dynamic budget
// entry when present, the static config cap otherwise.
func (g *PortfolioGuard) sectorCap(ctx context.Context, sector string) int {
	if g.cfg.DynamicSectorBudget && g.budget != nil && sector != "" {
		if entry := g.budget.HGet(ctx, sector); entry != nil && entry.PortfolioCap > 0 {
			return entry.PortfolioCap
		}
	}
	return g.cfg.MaxSectorStocks
}

func (g *PortfolioGuard) checkSectorCount(ctx context.Context, in GuardInput) GuardResult {
	maxAllowed := g.sectorCap(ctx, in.SectorGroup)
	count := 0
	for _, p := range in.Positions {
		if p.SectorGroup != "" && p.SectorGroup == in.SectorGroup {
			count++
		}
	}
	if count >= maxAllowed {
		return guardBlock("sector_stock_count",
			fmt.Sprintf("sector %s: %d/%d (full)", in.SectorGroup, count, maxAllowed))
	}
	return guardPass("sector_stock_count")
}

func (g *PortfolioGuard) checkSectorValue(in GuardInput) GuardResult {
	if in.TotalAssets <= 0 {
		return guardPass("sector_value")
	}
	maxPct := g.cfg.MaxSectorValuePct
	if in.Regime == types.RegimeStrongBull {
		maxPct = strongBullSectorValuePct
	}

	var sectorValue int64
	for _, p := range in.Positions {
		if p.SectorGroup != in.SectorGroup {
			continue
		}
		v := p.CurrentValue
		if v == 0 {
			v = p.TotalBuyAmount
		}
		sectorValue += v
	}
	pct := pctOf(sectorValue+in.BuyAmount, in.TotalAssets)
	if pct.GreaterThan(maxPct) {
		return guardBlock("sector_value",
			fmt.Sprintf("sector %s value %s%% > %s%%", in.SectorGroup, pct.StringFixed(1), maxPct.StringFixed(0)))
	}
	return guardPass("sector_value")
}

func (g *PortfolioGuard) checkStockValue(in GuardInput) GuardResult {
	if in.TotalAssets <= 0 {
		return guardPass("stock_value")
	}
	maxPct := g.cfg.MaxStockValuePct
	if in.Regime == types.RegimeStrongBull {
		maxPct = strongBullStockValuePct
	}
	pct := pctOf(in.BuyAmount, in.TotalAssets)
	if pct.GreaterThan(maxPct) {
		return guardBlock("stock_value",
			fmt.Sprintf("stock value %s%% > %s%%", pct.StringFixed(1), maxPct.StringFixed(0)))
	}
	return guardPass("stock_value")
}

func (g *PortfolioGuard) checkCashFloor(in GuardInput) GuardResult {
	if in.TotalAssets <= 0 {
		return guardPass("cash_floor")
	}
	floorPct := g.cfg.CashFloorPct(in.Regime)
	afterPct := pctOf(in.AvailableCash-in.BuyAmount, in.TotalAssets)
	if afterPct.LessThan(floorPct) {
		return guardBlock("cash_floor",
			fmt.Sprintf("cash %s%% < floor %s%% (%s)", afterPct.StringFixed(1), floorPct.StringFixed(0), in.Regime))
	}
	return guardPass("cash_floor")
}

// CheckAll runs the checks in order and returns the first block.
func (g *PortfolioGuard) CheckAll(ctx context.Context, in GuardInput) GuardResult {
	if !g.cfg.PortfolioGuard {
		log.Debug().Msg("portfolio guard disabled (shadow mode)")
		return guardPass("all")
	}

	if r := g.checkSectorCount(ctx, in); !r.Passed {
		return r
	}
	if r := g.checkSectorValue(in); !r.Passed {
		return r
	}
	if r := g.checkStockValue(in); !r.Passed {
		return r
	}
	if r := g.checkCashFloor(in); !r.Passed {
		return r
	}
	return guardPass("all")
}

func pctOf(part, total int64) decimal.Decimal {
	return decimal.NewFromInt(part).
		Div(decimal.NewFromInt(total)).
		Mul(decimal.NewFromInt(100))
}
