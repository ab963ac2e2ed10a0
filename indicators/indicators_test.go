package indicators

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeouido/trader/types"
)

func TestRSIBounds(t *testing.T) {
	t.Parallel()
	rising := make([]float64, 30)
	for i := range rising {
		rising[i] = 100 + float64(i)
	}
	rsi, ok := RSI(rising)
	require.True(t, ok)
	assert.InDelta(t, 100, rsi, 0.01, "monotone rise should saturate RSI")

	falling := make([]float64, 30)
	for i := range falling {
		falling[i] = 200 - float64(i)
	}
	rsi, ok = RSI(falling)
	require.True(t, ok)
	assert.InDelta(t, 0, rsi, 0.01)
}

func TestRSITooShort(t *testing.T) {
	t.Parallel()
	_, ok := RSI(make([]float64, RSIPeriod))
	assert.False(t, ok)
}

func TestSMALast(t *testing.T) {
	t.Parallel()
	values := []float64{1, 2, 3, 4, 5, 6}
	prev, curr, ok := SMALast(values, 3)
	require.True(t, ok)
	assert.InDelta(t, 4.0, prev, 0.001) // (3+4+5)/3
	assert.InDelta(t, 5.0, curr, 0.001) // (4+5+6)/3

	_, _, ok = SMALast([]float64{1, 2, 3}, 3)
	assert.False(t, ok)
}

// crossSeries builds closes where the short MA sits below the long MA and then
// jumps above it on the final value.
func TestGoldenCross(t *testing.T) {
	t.Parallel()
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 100 - float64(i)*0.5 // steady decline keeps MA5 under MA20
	}
	closes = append(closes, 130) // sharp rally flips the short MA over

	assert.True(t, GoldenCross(closes, 5, 20))
	assert.False(t, DeathCross(closes, 5, 20))
}

func TestDeathCrossNeedsSeparation(t *testing.T) {
	t.Parallel()
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 100 + float64(i)*0.5
	}
	closes = append(closes, 70) // collapse drags MA5 well under MA20

	assert.True(t, DeathCross(closes, 5, 20))
	assert.False(t, GoldenCross(closes, 5, 20))

	// A drift that undercuts by less than the 0.2% gap does not count.
	flat := make([]float64, 30)
	for i := range flat {
		flat[i] = 100 + float64(i)*0.001
	}
	flat = append(flat, 99.99)
	assert.False(t, DeathCross(flat, 5, 20))
}

func TestATR(t *testing.T) {
	t.Parallel()
	daily := make([]types.DailyPrice, 20)
	for i := range daily {
		daily[i] = types.DailyPrice{High: 10200, Low: 9800, Close: 10000}
	}
	atr, ok := ATR(daily)
	require.True(t, ok)
	assert.InDelta(t, 400, atr, 0.01, "constant 400-won range")

	_, ok = ATR(daily[:ATRPeriod])
	assert.False(t, ok)
}

func TestShootingStar(t *testing.T) {
	t.Parallel()
	// Long upper shadow, small body.
	assert.True(t, ShootingStar(types.Bar{Open: 10000, High: 10150, Low: 9990, Close: 10020}))
	// Big body relative to the shadow.
	assert.False(t, ShootingStar(types.Bar{Open: 10000, High: 10150, Low: 9990, Close: 10100}))
	// Doji with any upper shadow counts.
	assert.True(t, ShootingStar(types.Bar{Open: 10000, High: 10050, Low: 9990, Close: 10000}))
}

func TestBearishEngulfing(t *testing.T) {
	t.Parallel()
	prev := types.Bar{Open: 10000, High: 10060, Low: 9990, Close: 10050}
	curr := types.Bar{Open: 10060, High: 10070, Low: 9980, Close: 9990}
	assert.True(t, BearishEngulfing(prev, curr))

	// The red bar must wrap the green body on both ends.
	partial := types.Bar{Open: 10040, High: 10050, Low: 9980, Close: 9990}
	assert.False(t, BearishEngulfing(prev, partial))

	// Two green bars never engulf.
	assert.False(t, BearishEngulfing(prev, prev))
}

func TestMACDBearishDivergenceTooShort(t *testing.T) {
	t.Parallel()
	assert.False(t, MACDBearishDivergence(make([]float64, 30)))
}
