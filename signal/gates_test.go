package signal

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"

	"github.com/yeouido/trader/bus"
	"github.com/yeouido/trader/internal/config"
	"github.com/yeouido/trader/types"
)

func testScannerConfig() config.ScannerConfig {
	return config.ScannerConfig{
		MinRequiredBars:    20,
		SignalCooldown:     600 * time.Second,
		RSIGuardMax:        75,
		RSIGuardMaxBull:    85,
		VolumeRatioWarning: 2.0,
		VWAPDeviationWarn:  0.02,
		NoTradeStart:       "09:00",
		NoTradeEnd:         "09:15",
		DangerZoneStart:    "14:00",
		DangerZoneEnd:      "15:00",
	}
}

// The cooldown gates query Redis; a refused connection reads as "no cooldown",
// which is exactly the pass-through these tests need.
func testGates() *Gates {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	return NewGates(testScannerConfig(), bus.NewPositionState(rdb))
}

func flatBars(n int, price int64) []types.Bar {
	bars := make([]types.Bar, n)
	for i := range bars {
		bars[i] = types.Bar{Open: price, High: price, Low: price, Close: price, Volume: 100}
	}
	return bars
}

func passingInput() GateInput {
	return GateInput{
		StockCode:   "005930",
		Bars:        flatBars(25, 10000),
		Price:       10000,
		RSI:         50,
		HasRSI:      true,
		VolumeRatio: 1.0,
		VWAP:        10000,
		Entry:       types.WatchlistEntry{StockCode: "005930", TradeTier: types.Tier1},
		Regime:      types.RegimeSideways,
		Context:     types.DefaultContext(),
		Now:         time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC),
	}
}

func TestGatesPassOnCleanInput(t *testing.T) {
	t.Parallel()
	r := testGates().Run(context.Background(), passingInput())
	assert.True(t, r.Passed, "blocked by %s: %s", r.Gate, r.Reason)
}

func TestGateCascade(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*GateInput)
		gate   string
	}{
		{"too few bars", func(in *GateInput) { in.Bars = flatBars(10, 10000) }, "min_bars"},
		{"opening window", func(in *GateInput) {
			in.Now = time.Date(2026, 3, 2, 9, 5, 0, 0, time.UTC)
		}, "no_trade_window"},
		{"window end is exclusive", func(in *GateInput) {
			in.Now = time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)
		}, ""},
		{"danger zone", func(in *GateInput) {
			in.Now = time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)
		}, "danger_zone"},
		{"overbought", func(in *GateInput) { in.RSI = 80 }, "rsi_guard"},
		{"bull tolerates 80", func(in *GateInput) {
			in.RSI = 80
			in.Regime = types.RegimeBull
		}, ""},
		{"missing RSI passes", func(in *GateInput) {
			in.RSI = 0
			in.HasRSI = false
		}, ""},
		{"macro risk-off", func(in *GateInput) { in.Context.RiskOffLevel = 2 }, "macro_risk"},
		{"vix crisis", func(in *GateInput) { in.Context.VixRegime = types.VixCrisis }, "macro_risk"},
		{"bear regime", func(in *GateInput) { in.Regime = types.RegimeBear }, "market_regime"},
		{"hot volume above VWAP", func(in *GateInput) {
			in.VolumeRatio = 2.5
			in.Price = 10300
		}, "combined_risk"},
		{"hot volume alone passes", func(in *GateInput) { in.VolumeRatio = 2.5 }, ""},
		{"above VWAP alone passes", func(in *GateInput) { in.Price = 10300 }, ""},
		{"signal cooldown", func(in *GateInput) { in.LastSignal = in.Now.Add(-5 * time.Minute) }, "signal_cooldown"},
		{"cooldown elapsed", func(in *GateInput) { in.LastSignal = in.Now.Add(-15 * time.Minute) }, ""},
		{"blocked tier", func(in *GateInput) { in.Entry.TradeTier = types.TierBlocked }, "trade_tier"},
		{"shooting star", func(in *GateInput) {
			n := len(in.Bars)
			in.Bars[n-1] = types.Bar{Open: 10000, High: 10100, Low: 9995, Close: 10010, Volume: 100}
		}, "micro_timing"},
		{"bearish engulfing", func(in *GateInput) {
			n := len(in.Bars)
			in.Bars[n-2] = types.Bar{Open: 10000, High: 10055, Low: 9995, Close: 10050, Volume: 100}
			in.Bars[n-1] = types.Bar{Open: 10060, High: 10060, Low: 9980, Close: 9990, Volume: 100}
		}, "micro_timing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := passingInput()
			tt.mutate(&in)
			r := testGates().Run(context.Background(), in)
			if tt.gate == "" {
				assert.True(t, r.Passed, "blocked by %s: %s", r.Gate, r.Reason)
			} else {
				assert.False(t, r.Passed)
				assert.Equal(t, tt.gate, r.Gate)
			}
		})
	}
}

func TestWithinWindow(t *testing.T) {
	t.Parallel()
	at := func(h, m int) time.Time {
		return time.Date(2026, 3, 2, h, m, 0, 0, time.UTC)
	}
	assert.True(t, withinWindow(at(9, 0), "09:00", "09:15"))
	assert.True(t, withinWindow(at(9, 14), "09:00", "09:15"))
	assert.False(t, withinWindow(at(9, 15), "09:00", "09:15"))
	assert.False(t, withinWindow(at(8, 59), "09:00", "09:15"))
	assert.False(t, withinWindow(at(9, 5), "bogus", "09:15"))
}
