package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/yeouido/trader/types"
)

func baseSizing() SizingRequest {
	return SizingRequest{
		StockPrice:         50000,
		ATR:                5000,
		AvailableCash:      50_000_000,
		PortfolioValue:     50_000_000,
		LLMScore:           70,
		TradeTier:          types.Tier1,
		PositionMultiplier: 1.0,
	}
}

func TestCalculateSizeRiskParity(t *testing.T) {
	t.Parallel()
	res := CalculateSize(baseSizing())

	// risk = 100M × 1% = 1M; per-share risk = ATR×2 = 10000 → 100 shares.
	assert.Equal(t, int64(100), res.Quantity)
	assert.Empty(t, res.Reason)
	assert.InDelta(t, 5.0, res.TargetWeightPct, 0.01)
}

func TestCalculateSizeSectorDiscount(t *testing.T) {
	t.Parallel()
	req := baseSizing()
	req.SectorGroup = "semis"
	req.HeldSectors = []string{"semis", "auto"}

	res := CalculateSize(req)
	// Held sector discounts risk to 0.7 → 70 shares.
	assert.Equal(t, int64(70), res.Quantity)
}

func TestCalculateSizeTierAndStaleMultipliers(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		tier      types.TradeTier
		staleDays int
		want      int64
	}{
		{"tier1 fresh", types.Tier1, 0, 100},
		{"tier2 halves", types.Tier2, 0, 50},
		{"stale 2d halves", types.Tier1, 2, 50},
		{"stale old 30pct", types.Tier1, 5, 30},
		{"blocked zero", types.TierBlocked, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := baseSizing()
			req.TradeTier = tt.tier
			req.StaleDays = tt.staleDays
			assert.Equal(t, tt.want, CalculateSize(req).Quantity)
		})
	}
}

func TestCalculateSizeSmartSkipOnThinCash(t *testing.T) {
	t.Parallel()
	req := baseSizing()
	// Target stays 100 (total assets unchanged) but after the 10% cash keep
	// the investable cash covers only 40 shares.
	req.AvailableCash = 12_000_000
	req.PortfolioValue = 88_000_000

	res := CalculateSize(req)
	assert.Zero(t, res.Quantity)
	assert.Contains(t, res.Reason, "smart skip")
}

func TestCalculateSizePortfolioHeatLimit(t *testing.T) {
	t.Parallel()
	req := baseSizing()
	req.PortfolioRiskPct = 4.5

	res := CalculateSize(req)
	assert.Zero(t, res.Quantity)
	assert.Contains(t, res.Reason, "portfolio heat")
}

func TestCalculateSizeAPlusWidensCap(t *testing.T) {
	t.Parallel()
	req := baseSizing()
	req.ATR = 100 // tiny ATR pushes target qty above the weight cap

	res := CalculateSize(req)
	// 12% of 100M at 50k = 240 shares.
	assert.Equal(t, int64(240), res.Quantity)

	req.LLMScore = 85
	res = CalculateSize(req)
	// 18% cap = 360 shares.
	assert.Equal(t, int64(360), res.Quantity)
}

func TestCalculateSizeDegenerateInputs(t *testing.T) {
	t.Parallel()
	req := baseSizing()
	req.ATR = 0
	assert.Contains(t, CalculateSize(req).Reason, "ATR")

	req = baseSizing()
	req.AvailableCash = 0
	req.PortfolioValue = 0
	assert.Contains(t, CalculateSize(req).Reason, "no assets")

	req = baseSizing()
	req.StockPrice = 0
	assert.Contains(t, CalculateSize(req).Reason, "price")
}

func TestClampATR(t *testing.T) {
	t.Parallel()
	assert.InDelta(t, 1000.0, ClampATR(200, 100000), 0.001)  // below 1% floor
	assert.InDelta(t, 5000.0, ClampATR(9000, 100000), 0.001) // above 5% cap
	assert.InDelta(t, 3000.0, ClampATR(3000, 100000), 0.001) // in range
	assert.InDelta(t, 2000.0, ClampATR(0, 100000), 0.001)    // default 2%
}

func TestAlignTick(t *testing.T) {
	t.Parallel()
	tests := []struct {
		price, want int64
	}{
		{1999, 1999},
		{4999, 4995},
		{19999, 19990},
		{49999, 49950},
		{199999, 199900},
		{499999, 499500},
		{1234567, 1234000},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, AlignTick(tt.price), "price %d", tt.price)
	}
}
