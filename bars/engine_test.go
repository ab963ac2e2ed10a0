package bars

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeouido/trader/types"
)

const testCode = "005930"

func tickAt(t time.Time, price, vol int64) types.Tick {
	return types.Tick{StockCode: testCode, Price: price, Volume: vol, At: t}
}

func TestOnTickFreezesBarOnMinuteBoundary(t *testing.T) {
	t.Parallel()
	e := NewEngine(time.UTC)
	base := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

	require.Nil(t, e.OnTick(tickAt(base, 70000, 10)))
	require.Nil(t, e.OnTick(tickAt(base.Add(10*time.Second), 70500, 5)))
	require.Nil(t, e.OnTick(tickAt(base.Add(30*time.Second), 69800, 5)))

	frozen := e.OnTick(tickAt(base.Add(time.Minute), 70200, 3))
	require.NotNil(t, frozen)
	assert.Equal(t, int64(70000), frozen.Open)
	assert.Equal(t, int64(70500), frozen.High)
	assert.Equal(t, int64(69800), frozen.Low)
	assert.Equal(t, int64(69800), frozen.Close)
	assert.Equal(t, int64(20), frozen.Volume)
	assert.Equal(t, 1, e.BarCount(testCode))
}

func TestRecentBarsOldestFirst(t *testing.T) {
	t.Parallel()
	e := NewEngine(time.UTC)
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		e.OnTick(tickAt(base.Add(time.Duration(i)*time.Minute), int64(1000+i), 1))
	}

	bars := e.RecentBars(testCode, 3)
	require.Len(t, bars, 3)
	assert.Equal(t, int64(1001), bars[0].Close)
	assert.Equal(t, int64(1003), bars[2].Close)

	// Asking for more than exist returns all of them.
	assert.Len(t, e.RecentBars(testCode, 100), 4)
}

func TestVWAPAccumulatesAndResetsPerDay(t *testing.T) {
	t.Parallel()
	e := NewEngine(time.UTC)
	day1 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	e.OnTick(tickAt(day1, 1000, 100))
	e.OnTick(tickAt(day1.Add(time.Second), 2000, 100))
	assert.InDelta(t, 1500.0, e.VWAP(testCode), 0.001)
	assert.Equal(t, int64(1000), e.DayOpen(testCode))

	// Next day resets the accumulator and the day open.
	day2 := day1.Add(24 * time.Hour)
	e.OnTick(tickAt(day2, 3000, 50))
	assert.InDelta(t, 3000.0, e.VWAP(testCode), 0.001)
	assert.Equal(t, int64(3000), e.DayOpen(testCode))
}

func TestZeroVolumeTickDoesNotSkewVWAP(t *testing.T) {
	t.Parallel()
	e := NewEngine(time.UTC)
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	e.OnTick(tickAt(base, 1000, 100))
	e.OnTick(tickAt(base.Add(time.Second), 9999, 0))
	assert.InDelta(t, 1000.0, e.VWAP(testCode), 0.001)
	assert.Equal(t, int64(9999), e.CurrentPrice(testCode))
}

func TestCompletedVolumeInfoExcludesLastBarFromAverage(t *testing.T) {
	t.Parallel()
	e := NewEngine(time.UTC)
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	// Three completed bars with volume 10, then one with volume 30.
	for i := 0; i < 3; i++ {
		e.OnTick(tickAt(base.Add(time.Duration(i)*time.Minute), 1000, 10))
	}
	e.OnTick(tickAt(base.Add(3*time.Minute), 1000, 30))
	e.OnTick(tickAt(base.Add(4*time.Minute), 1000, 1)) // freezes the 30-volume bar

	info := e.CompletedVolumeInfo(testCode)
	assert.Equal(t, int64(30), info.CurrentBarVolume)
	assert.InDelta(t, 10.0, info.AverageVolume, 0.001)
	assert.InDelta(t, 3.0, info.Ratio, 0.001)
}

func TestHistoryCapped(t *testing.T) {
	t.Parallel()
	e := NewEngine(time.UTC)
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	for i := 0; i < MaxBars+20; i++ {
		e.OnTick(tickAt(base.Add(time.Duration(i)*time.Minute), 1000, 1))
	}
	assert.Equal(t, MaxBars, e.BarCount(testCode))
}
