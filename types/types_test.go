package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfitPct(t *testing.T) {
	t.Parallel()
	assert.InDelta(t, 7.14, ProfitPct(70000, 75000), 0.001)
	assert.InDelta(t, -5.71, ProfitPct(70000, 66000), 0.001)
	assert.Zero(t, ProfitPct(0, 75000))
	assert.Zero(t, ProfitPct(-1, 75000))
}

func TestRegimeHelpers(t *testing.T) {
	t.Parallel()
	assert.True(t, RegimeStrongBull.IsBull())
	assert.True(t, RegimeBull.IsBull())
	assert.False(t, RegimeSideways.IsBull())

	assert.True(t, RegimeBear.IsBear())
	assert.True(t, RegimeStrongBear.IsBear())
	assert.False(t, RegimeSideways.IsBear())
}

func TestSignalTypeIsMomentum(t *testing.T) {
	t.Parallel()
	assert.True(t, SignalMomentum.IsMomentum())
	assert.True(t, SignalMomentumContinuation.IsMomentum())
	assert.False(t, SignalGoldenCross.IsMomentum())
	assert.False(t, SignalDipBuy.IsMomentum())
}

func TestWatchlistLookup(t *testing.T) {
	t.Parallel()
	wl := Watchlist{
		GeneratedAt: time.Now().Add(-50 * time.Hour),
		Stocks: []WatchlistEntry{
			{StockCode: "005930", Rank: 1},
			{StockCode: "000660", Rank: 2},
		},
	}

	entry := wl.Get("000660")
	require.NotNil(t, entry)
	assert.Equal(t, 2, entry.Rank)
	assert.Nil(t, wl.Get("035420"))

	assert.Equal(t, []string{"005930", "000660"}, wl.Codes())
	assert.Equal(t, 2, wl.AgeDays(time.Now()))
}

func TestWatchlistAgeDaysNeverNegative(t *testing.T) {
	t.Parallel()
	wl := Watchlist{GeneratedAt: time.Now().Add(time.Hour)}
	assert.Zero(t, wl.AgeDays(time.Now()))
	assert.Zero(t, (&Watchlist{}).AgeDays(time.Now()))
}

func TestExecutionResultConstructors(t *testing.T) {
	t.Parallel()
	r := Skipped("005930", "Samsung", "already holding")
	assert.Equal(t, ExecSkipped, r.Status)
	assert.Equal(t, "already holding", r.Reason)

	r = Errored("005930", "Samsung", "order failed")
	assert.Equal(t, ExecError, r.Status)
}
