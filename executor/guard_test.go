package executor

import (
	"context"
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeouido/trader/internal/config"
	"github.com/yeouido/trader/types"
)

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		MaxPortfolioSize:     8,
		MaxSectorStocks:      2,
		PortfolioGuard:       true,
		MaxSectorValuePct:    decimal.NewFromInt(30),
		MaxStockValuePct:     decimal.NewFromInt(15),
		CashFloorSidewaysPct: decimal.NewFromInt(20),
		CashFloorBullPct:     decimal.NewFromInt(10),
	}
}

func guardInput() GuardInput {
	return GuardInput{
		SectorGroup:   "semis",
		BuyAmount:     5_000_000,
		AvailableCash: 40_000_000,
		TotalAssets:   100_000_000,
		Regime:        types.RegimeSideways,
		Positions: []types.Position{
			{StockCode: "000660", SectorGroup: "semis", CurrentValue: 10_000_000},
			{StockCode: "005380", SectorGroup: "auto", CurrentValue: 10_000_000},
		},
	}
}

func TestGuardPasses(t *testing.T) {
	t.Parallel()
	g := NewPortfolioGuard(testRiskConfig(), nil)
	r := g.CheckAll(context.Background(), guardInput())
	assert.True(t, r.Passed, "blocked by %s: %s", r.Check, r.Reason)
}

func TestGuardDisabledIsShadowMode(t *testing.T) {
	t.Parallel()
	cfg := testRiskConfig()
	cfg.PortfolioGuard = false
	g := NewPortfolioGuard(cfg, nil)

	in := guardInput()
	in.BuyAmount = in.TotalAssets // absurd, but the guard is off
	assert.True(t, g.CheckAll(context.Background(), in).Passed)
}

func TestGuardSectorCountFull(t *testing.T) {
	t.Parallel()
	g := NewPortfolioGuard(testRiskConfig(), nil)
	in := guardInput()
	in.Positions = append(in.Positions,
		types.Position{StockCode: "042700", SectorGroup: "semis", CurrentValue: 5_000_000})

	r := g.CheckAll(context.Background(), in)
	require.False(t, r.Passed)
	assert.Equal(t, "sector_stock_count", r.Check)
}

func TestGuardSectorValueConcentration(t *testing.T) {
	t.Parallel()
	g := NewPortfolioGuard(testRiskConfig(), nil)
	in := guardInput()
	in.Positions[0].CurrentValue = 28_000_000 // +5M buy → 33% > 30%

	r := g.CheckAll(context.Background(), in)
	require.False(t, r.Passed)
	assert.Equal(t, "sector_value", r.Check)
}

func TestGuardStockValueCap(t *testing.T) {
	t.Parallel()
	g := NewPortfolioGuard(testRiskConfig(), nil)
	in := guardInput()
	in.BuyAmount = 16_000_000 // 16% > 15%
	in.SectorGroup = "bio"    // keep the sector checks quiet

	r := g.CheckAll(context.Background(), in)
	require.False(t, r.Passed)
	assert.Equal(t, "stock_value", r.Check)
}

func TestGuardCashFloorPerRegime(t *testing.T) {
	t.Parallel()
	g := NewPortfolioGuard(testRiskConfig(), nil)
	in := guardInput()
	in.SectorGroup = "bio"
	in.AvailableCash = 24_000_000
	in.BuyAmount = 10_000_000 // leaves 14% cash

	r := g.CheckAll(context.Background(), in)
	require.False(t, r.Passed)
	assert.Equal(t, "cash_floor", r.Check)

	// Bull regimes tolerate a 10% floor.
	in.Regime = types.RegimeBull
	assert.True(t, g.CheckAll(context.Background(), in).Passed)
}

func TestGuardStrongBullRelaxesConcentration(t *testing.T) {
	t.Parallel()
	cfg := testRiskConfig()
	cfg.CashFloorStrongBullPct = decimal.NewFromInt(5)
	g := NewPortfolioGuard(cfg, nil)

	in := guardInput()
	in.SectorGroup = "bio"
	in.BuyAmount = 20_000_000 // 20% > 15% static cap
	r := g.CheckAll(context.Background(), in)
	require.False(t, r.Passed)

	in.Regime = types.RegimeStrongBull // cap widens to 25%
	assert.True(t, g.CheckAll(context.Background(), in).Passed)
}

// ─── Correlation ────────────────────────────────────────────────────────────────

func syntheticSeries(n int, drift, wobble float64) []float64 {
	out := make([]float64, n)
	price := 100.0
	for i := 0; i < n; i++ {
		price *= 1 + drift + wobble*math.Sin(float64(i))
		out[i] = price
	}
	return out
}

func TestCorrelationIdenticalSeries(t *testing.T) {
	t.Parallel()
	s := syntheticSeries(40, 0.001, 0.01)
	corr, ok := Correlation(s, s)
	require.True(t, ok)
	assert.InDelta(t, 1.0, corr, 0.0001)
}

func TestCorrelationTooShort(t *testing.T) {
	t.Parallel()
	s := syntheticSeries(10, 0.001, 0.01)
	_, ok := Correlation(s, s)
	assert.False(t, ok)
}

func TestCheckPortfolioCorrelationBlocksTwin(t *testing.T) {
	t.Parallel()
	candidate := syntheticSeries(40, 0.001, 0.01)
	twin := make([]float64, len(candidate))
	copy(twin, candidate)
	independent := syntheticSeries(40, 0.0005, -0.02)

	positions := []types.Position{
		{StockCode: "000660"},
		{StockCode: "005380"},
	}
	lookup := func(code string) []float64 {
		if code == "000660" {
			return twin
		}
		return independent
	}

	passed, maxCorr, reason := CheckPortfolioCorrelation("005930", candidate, positions, lookup, 0.85)
	assert.False(t, passed)
	assert.GreaterOrEqual(t, maxCorr, 0.85)
	assert.Contains(t, reason, "000660")
}

func TestCheckPortfolioCorrelationSkipsMissingHistory(t *testing.T) {
	t.Parallel()
	candidate := syntheticSeries(40, 0.001, 0.01)
	positions := []types.Position{{StockCode: "000660"}}
	lookup := func(string) []float64 { return nil }

	passed, _, _ := CheckPortfolioCorrelation("005930", candidate, positions, lookup, 0.85)
	assert.True(t, passed)
}
