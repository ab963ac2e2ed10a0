package monitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeouido/trader/internal/config"
	"github.com/yeouido/trader/types"
)

func testSellConfig() config.SellConfig {
	return config.SellConfig{
		RSIOverboughtThreshold: 75,
		TrailingEnabled:        true,
		TrailingActivationPct:  5,
		TrailingMinProfitPct:   3,
		ProfitTargetPct:        8,
		StopLossPct:            5,
		HardStopPct:            10,
		ProfitFloorActivation:  15,
		ProfitFloorLevel:       10,
		BreakevenActivationPct: 3,
		BreakevenLevelPct:      0.3,
		TimeExitBullDays:       20,
		TimeExitSidewaysDays:   35,
	}
}

func holding(profitPct float64) PositionContext {
	buy := int64(10000)
	price := int64(float64(buy) * (1 + profitPct/100))
	return PositionContext{
		StockCode:     "005930",
		Price:         price,
		BuyPrice:      buy,
		Quantity:      100,
		ProfitPct:     profitPct,
		Watermark:     price,
		HighProfitPct: profitPct,
	}
}

func evaluate(ctx PositionContext, regime types.MarketRegime) *ExitSignal {
	return NewRules(testSellConfig()).Evaluate(ctx, regime, 1.0)
}

func TestHoldInsideAllThresholds(t *testing.T) {
	t.Parallel()
	assert.Nil(t, evaluate(holding(1.0), types.RegimeSideways))
}

func TestHardStopFullExit(t *testing.T) {
	t.Parallel()
	sig := evaluate(holding(-12), types.RegimeSideways)
	require.NotNil(t, sig)
	assert.Equal(t, types.SellStopLoss, sig.Reason)
	assert.Equal(t, 100.0, sig.QuantityPct)
	assert.Contains(t, sig.Description, "hard stop")
}

func TestProfitFloorBeatsEverythingButHardStop(t *testing.T) {
	t.Parallel()
	ctx := holding(8)
	ctx.HighProfitPct = 16
	ctx.ProfitFloorActive = true
	ctx.ProfitFloorLevel = 10

	sig := evaluate(ctx, types.RegimeBull)
	require.NotNil(t, sig)
	assert.Equal(t, types.SellProfitFloor, sig.Reason)
	assert.Equal(t, 100.0, sig.QuantityPct)
}

func TestProfitLockLevels(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		high   float64
		profit float64
		locked bool
	}{
		{"L2: high 4, round-tripped to 0.5", 4, 0.5, true},
		{"L1: high 2, round-tripped to 0.2", 2, 0.2, true},
		{"holding gains above L2 floor", 4, 1.5, false},
		{"never showed enough profit", 1.0, 0.2, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := holding(tt.profit)
			ctx.HighProfitPct = tt.high
			// Keep the watermark out of trailing range for this test.
			ctx.Watermark = ctx.BuyPrice
			sig := evaluate(ctx, types.RegimeSideways)
			if tt.locked {
				require.NotNil(t, sig)
				assert.Equal(t, types.SellTrailingStop, sig.Reason)
			} else {
				assert.Nil(t, sig)
			}
		})
	}
}

func TestATRStopTightensOnBearishWarnings(t *testing.T) {
	t.Parallel()
	ctx := holding(-3.5)
	ctx.ATR = 200 // plain stop at 10000 - 200×2 = 9600, price 9650 holds

	assert.Nil(t, evaluate(ctx, types.RegimeSideways))

	// MACD divergence tightens the multiplier to 1.5 → stop 9700.
	ctx.MACDBearish = true
	sig := evaluate(ctx, types.RegimeSideways)
	require.NotNil(t, sig)
	assert.Equal(t, types.SellStopLoss, sig.Reason)
	assert.Contains(t, sig.Description, "ATR stop")
}

func TestFixedStopTimeTightening(t *testing.T) {
	t.Parallel()
	ctx := holding(-4)

	// Fresh position: -4% is inside the -5% stop.
	assert.Nil(t, evaluate(ctx, types.RegimeSideways))

	// Deep into the hold the threshold has tightened past -4%.
	ctx.HoldingDays = 30
	sig := evaluate(ctx, types.RegimeSideways)
	require.NotNil(t, sig)
	assert.Equal(t, types.SellStopLoss, sig.Reason)
	assert.Contains(t, sig.Description, "fixed stop")
}

func TestFixedStopMacroMultiplier(t *testing.T) {
	t.Parallel()
	ctx := holding(-4)
	// Macro risk-off shrinks the stop to -5% × 0.7 = -3.5%.
	sig := NewRules(testSellConfig()).Evaluate(ctx, types.RegimeSideways, 0.7)
	require.NotNil(t, sig)
	assert.Equal(t, types.SellStopLoss, sig.Reason)
}

func TestTrailingTakeProfit(t *testing.T) {
	t.Parallel()
	ctx := holding(4)
	ctx.Watermark = 10700 // high profit 7%, sideways drop allowance 2.5%
	ctx.HighProfitPct = 7

	sig := evaluate(ctx, types.RegimeSideways)
	require.NotNil(t, sig)
	assert.Equal(t, types.SellTrailingStop, sig.Reason)
	assert.Contains(t, sig.Description, "trailing")

	// Bull regime allows a 3% drop; 10400 sits above 10700×0.97.
	assert.Nil(t, evaluate(ctx, types.RegimeBull))
}

func TestTrailingNotArmedBelowActivation(t *testing.T) {
	t.Parallel()
	ctx := holding(3.5)
	ctx.Watermark = 10400
	ctx.HighProfitPct = 4 // below the 5% activation

	assert.Nil(t, evaluate(ctx, types.RegimeSideways))
}

func TestProfitTargetOnlyWhenTrailingDisabled(t *testing.T) {
	t.Parallel()
	cfg := testSellConfig()
	cfg.TrailingEnabled = false

	ctx := holding(9)
	sig := NewRules(cfg).Evaluate(ctx, types.RegimeStrongBull, 1.0)
	require.NotNil(t, sig)
	assert.Equal(t, types.SellProfitTarget, sig.Reason)
	assert.Equal(t, 100.0, sig.QuantityPct)
}

func TestScaleOutLadder(t *testing.T) {
	t.Parallel()
	ctx := holding(5.5) // bull L0 target is 5%
	ctx.Watermark = ctx.Price
	ctx.HighProfitPct = ctx.ProfitPct

	sig := evaluate(ctx, types.RegimeBull)
	require.NotNil(t, sig)
	assert.Equal(t, types.SellProfitTarget, sig.Reason)
	assert.Equal(t, 25.0, sig.QuantityPct)

	// Level already taken: the next target (8%) has not been reached.
	ctx.ScaleOutLevel = 1
	assert.Nil(t, evaluate(ctx, types.RegimeBull))

	// All levels exhausted: no further trims.
	ctx.ScaleOutLevel = 4
	ctx.ProfitPct = 25
	assert.Nil(t, evaluate(ctx, types.RegimeBull))
}

func TestScaleOutSmallRemainderEscalates(t *testing.T) {
	t.Parallel()
	ctx := holding(5.5)
	ctx.Quantity = 12 // 25% leaves 9 < 10 shares

	sig := evaluate(ctx, types.RegimeBull)
	require.NotNil(t, sig)
	assert.Equal(t, 100.0, sig.QuantityPct)
}

func TestRSIOverboughtHalfSellOnce(t *testing.T) {
	t.Parallel()
	ctx := holding(4.5)
	ctx.RSI = 80
	ctx.HasRSI = true
	ctx.ScaleOutLevel = 4 // ladder exhausted, RSI rule is next in line

	sig := evaluate(ctx, types.RegimeBear)
	require.NotNil(t, sig)
	assert.Equal(t, types.SellRSIOverbought, sig.Reason)
	assert.Equal(t, 50.0, sig.QuantityPct)

	ctx.RSISold = true
	assert.Nil(t, evaluate(ctx, types.RegimeBear))
}

func TestDeathCrossOnlyWhenLosing(t *testing.T) {
	t.Parallel()
	ctx := holding(-2)
	ctx.DeathCross = true
	ctx.ATR = 2000 // keep the ATR stop far away

	sig := evaluate(ctx, types.RegimeSideways)
	require.NotNil(t, sig)
	assert.Equal(t, types.SellDeathCross, sig.Reason)

	winning := holding(2)
	winning.DeathCross = true
	assert.Nil(t, evaluate(winning, types.RegimeSideways))
}

func TestTimeExitRegimeDependent(t *testing.T) {
	t.Parallel()
	ctx := holding(1)
	ctx.HoldingDays = 22

	sig := evaluate(ctx, types.RegimeBull)
	require.NotNil(t, sig)
	assert.Equal(t, types.SellTimeExit, sig.Reason)

	// Sideways allows 35 days.
	assert.Nil(t, evaluate(ctx, types.RegimeSideways))
}
