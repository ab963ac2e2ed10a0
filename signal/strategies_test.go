package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeouido/trader/internal/config"
	"github.com/yeouido/trader/types"
)

func testStrategies() *Strategies {
	return NewStrategies(
		config.ScannerConfig{
			ConvictionEnabled:        true,
			ConvictionMinHybridScore: 70,
			ConvictionMinLLMScore:    72,
			ConvictionMaxGainPct:     3,
			ConvictionWindowStart:    "09:15",
			ConvictionWindowEnd:      "10:30",
			MomentumMaxGainPct:       8,
		},
		config.SignalConfig{
			GoldenCrossShort: 5,
			GoldenCrossLong:  20,
			RSIOversold:      30,
			RSIOversoldBull:  40,
		},
	)
}

func barsFromCloses(closes []int64) []types.Bar {
	bars := make([]types.Bar, len(closes))
	for i, c := range closes {
		open := c
		if i > 0 {
			open = closes[i-1]
		}
		hi, lo := open, open
		if c > hi {
			hi = c
		}
		if c < lo {
			lo = c
		}
		bars[i] = types.Bar{Open: open, High: hi, Low: lo, Close: c, Volume: 100}
	}
	return bars
}

func steadyCloses(n int, price int64) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = price
	}
	return out
}

func baseInput(bars []types.Bar) StrategyInput {
	last := int64(0)
	if len(bars) > 0 {
		last = bars[len(bars)-1].Close
	}
	return StrategyInput{
		Bars:        bars,
		Entry:       types.WatchlistEntry{StockCode: "005930", TradeTier: types.Tier1},
		Regime:      types.RegimeSideways,
		Price:       last,
		DayOpen:     10000,
		VWAP:        float64(last),
		VolumeRatio: 1.0,
		Now:         time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC),
	}
}

func TestMomentumDetects(t *testing.T) {
	t.Parallel()
	// Last five bars climb from an open of 10000 to a close of 10300 (+3%).
	closes := append(steadyCloses(20, 10000), 10050, 10120, 10200, 10260, 10300)
	in := baseInput(barsFromCloses(closes))

	r := testStrategies().momentum(in)
	require.True(t, r.Detected)
	assert.Equal(t, types.SignalMomentum, r.Type)
}

func TestMomentumCapsExtendedRun(t *testing.T) {
	t.Parallel()
	// +10% in five bars is past the 8% cap.
	closes := append(steadyCloses(20, 10000), 10300, 10600, 10800, 10900, 11000)
	in := baseInput(barsFromCloses(closes))
	assert.False(t, testStrategies().momentum(in).Detected)
}

func TestMomentumIgnoresSmallMove(t *testing.T) {
	t.Parallel()
	closes := append(steadyCloses(20, 10000), 10010, 10020, 10040, 10050, 10080)
	in := baseInput(barsFromCloses(closes))
	assert.False(t, testStrategies().momentum(in).Detected)
}

func TestDipBuyBands(t *testing.T) {
	t.Parallel()
	// Five recent bars with a 10500 high dipping to 10150 (-3.3%).
	closes := append(steadyCloses(20, 10000), 10500, 10400, 10300, 10200, 10150)
	in := baseInput(barsFromCloses(closes))
	in.Entry.ScoredAt = in.Now.Add(-48 * time.Hour)

	r := testStrategies().dipBuy(in)
	require.True(t, r.Detected)
	assert.Equal(t, types.SignalDipBuy, r.Type)

	// The bull band is tighter: [-3, -0.5] rejects a -3.3% dip.
	in.Regime = types.RegimeBull
	assert.False(t, testStrategies().dipBuy(in).Detected)

	// A stale score disqualifies the candidate.
	in.Regime = types.RegimeSideways
	in.Entry.ScoredAt = in.Now.Add(-7 * 24 * time.Hour)
	assert.False(t, testStrategies().dipBuy(in).Detected)
}

func TestRSIReboundDisabledInBull(t *testing.T) {
	t.Parallel()
	in := baseInput(barsFromCloses(steadyCloses(30, 10000)))
	in.Regime = types.RegimeBull
	assert.False(t, testStrategies().rsiRebound(in).Detected)
}

func TestReboundThresholdPerRegime(t *testing.T) {
	t.Parallel()
	s := testStrategies()
	assert.Equal(t, 40.0, s.reboundThreshold(types.RegimeSideways))
	assert.Equal(t, 30.0, s.reboundThreshold(types.RegimeBear))
	assert.Equal(t, 25.0, s.reboundThreshold(types.RegimeStrongBear))
}

func TestVolumeBreakout(t *testing.T) {
	t.Parallel()
	// Flat 20-bar window, then a close above every prior high on 3x volume.
	closes := append(steadyCloses(24, 10000), 10200)
	in := baseInput(barsFromCloses(closes))
	in.VolumeRatio = 3.5

	r := testStrategies().volumeBreakout(in)
	require.True(t, r.Detected)
	assert.Equal(t, types.SignalVolumeBreakout, r.Type)

	// Same bar shape without the volume surge is not a breakout.
	in.VolumeRatio = 2.0
	assert.False(t, testStrategies().volumeBreakout(in).Detected)
}

func TestVolumeBreakoutNeedsNewHigh(t *testing.T) {
	t.Parallel()
	// The close stays under the prior highs.
	closes := append(steadyCloses(23, 10000), 10300, 10100)
	in := baseInput(barsFromCloses(closes))
	in.VolumeRatio = 3.5
	assert.False(t, testStrategies().volumeBreakout(in).Detected)
}

func TestConvictionEntry(t *testing.T) {
	t.Parallel()
	in := baseInput(barsFromCloses(steadyCloses(25, 10000)))
	in.Entry.HybridScore = 78
	in.Entry.LLMScore = 80
	in.Entry.ScoredAt = in.Now.Add(-12 * time.Hour)
	in.Now = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	in.DayOpen = 9950 // +0.5% intraday

	r := testStrategies().Conviction(in)
	require.True(t, r.Detected)
	assert.Equal(t, types.SignalConviction, r.Type)
}

func TestConvictionGuards(t *testing.T) {
	t.Parallel()
	base := func() StrategyInput {
		in := baseInput(barsFromCloses(steadyCloses(25, 10000)))
		in.Entry.HybridScore = 78
		in.Entry.LLMScore = 80
		in.Now = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
		in.Entry.ScoredAt = in.Now.Add(-12 * time.Hour)
		in.DayOpen = 9950
		return in
	}
	tests := []struct {
		name   string
		mutate func(*StrategyInput)
	}{
		{"bear regime", func(in *StrategyInput) { in.Regime = types.RegimeBear }},
		{"sideways needs hybrid 75", func(in *StrategyInput) { in.Entry.HybridScore = 72; in.Entry.LLMScore = 60 }},
		{"blocked tier", func(in *StrategyInput) { in.Entry.TradeTier = types.TierBlocked }},
		{"stale score", func(in *StrategyInput) { in.Entry.ScoredAt = in.Now.Add(-4 * 24 * time.Hour) }},
		{"outside window", func(in *StrategyInput) { in.Now = time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC) }},
		{"chased too far intraday", func(in *StrategyInput) { in.DayOpen = 9500 }},
		{"stretched from VWAP", func(in *StrategyInput) { in.VWAP = 9800 }},
		{"overbought", func(in *StrategyInput) { in.RSI = 70; in.HasRSI = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := base()
			tt.mutate(&in)
			assert.False(t, testStrategies().Conviction(in).Detected)
		})
	}
}

func TestDetectPriority(t *testing.T) {
	t.Parallel()
	// A bar series that is both a +3% momentum move and a volume breakout:
	// momentum wins on priority.
	closes := append(steadyCloses(20, 10000), 10050, 10120, 10200, 10260, 10300)
	in := baseInput(barsFromCloses(closes))
	in.VolumeRatio = 3.5

	r := testStrategies().Detect(in)
	require.True(t, r.Detected)
	assert.Equal(t, types.SignalMomentum, r.Type)
}
