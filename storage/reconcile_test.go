package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeouido/trader/types"
)

func TestComparePositionsAllMatched(t *testing.T) {
	t.Parallel()
	broker := []types.Position{
		{StockCode: "005930", Quantity: 10, AvgBuyPrice: 70000},
		{StockCode: "000660", Quantity: 5, AvgBuyPrice: 120000},
	}
	local := []PositionRow{
		{StockCode: "005930", Quantity: 10, AvgBuyPrice: 70000},
		{StockCode: "000660", Quantity: 5, AvgBuyPrice: 120000},
	}

	diff := ComparePositions(broker, local)
	assert.True(t, diff.Empty())
	assert.Len(t, diff.Matched, 2)
}

func TestComparePositionsCategorizes(t *testing.T) {
	t.Parallel()
	broker := []types.Position{
		{StockCode: "005930", StockName: "Samsung", Quantity: 10, AvgBuyPrice: 70000},
		{StockCode: "000660", StockName: "Hynix", Quantity: 8, AvgBuyPrice: 120000},
		{StockCode: "035420", StockName: "Naver", Quantity: 3, AvgBuyPrice: 200000},
	}
	local := []PositionRow{
		{StockCode: "000660", StockName: "Hynix", Quantity: 5, AvgBuyPrice: 120000},
		{StockCode: "035420", StockName: "Naver", Quantity: 3, AvgBuyPrice: 201000},
		{StockCode: "005380", StockName: "Hyundai", Quantity: 2, AvgBuyPrice: 180000},
	}

	diff := ComparePositions(broker, local)
	require.False(t, diff.Empty())

	require.Len(t, diff.OnlyInBroker, 1)
	assert.Equal(t, "005930", diff.OnlyInBroker[0].StockCode)

	require.Len(t, diff.OnlyLocally, 1)
	assert.Equal(t, "005380", diff.OnlyLocally[0].StockCode)

	require.Len(t, diff.QuantityMismatch, 1)
	assert.Equal(t, "000660", diff.QuantityMismatch[0].StockCode)
	assert.Equal(t, int64(8), diff.QuantityMismatch[0].BrokerValue)
	assert.Equal(t, int64(5), diff.QuantityMismatch[0].LocalValue)

	require.Len(t, diff.PriceMismatch, 1)
	assert.Equal(t, "035420", diff.PriceMismatch[0].StockCode)
	assert.Empty(t, diff.Matched)
}

func TestComparePositionsQuantityWinsOverPrice(t *testing.T) {
	t.Parallel()
	broker := []types.Position{{StockCode: "005930", Quantity: 10, AvgBuyPrice: 70000}}
	local := []PositionRow{{StockCode: "005930", Quantity: 8, AvgBuyPrice: 71000}}

	diff := ComparePositions(broker, local)
	assert.Len(t, diff.QuantityMismatch, 1)
	assert.Empty(t, diff.PriceMismatch)
}

func TestComparePositionsPriceToleranceUnderOneWon(t *testing.T) {
	t.Parallel()
	// Fractional averages round differently on the two sides; a sub-won
	// difference must not count as drift.
	broker := []types.Position{{StockCode: "005930", Quantity: 10, AvgBuyPrice: 70000}}
	local := []PositionRow{{StockCode: "005930", Quantity: 10, AvgBuyPrice: 70000}}

	diff := ComparePositions(broker, local)
	assert.True(t, diff.Empty())

	local[0].AvgBuyPrice = 70001
	diff = ComparePositions(broker, local)
	assert.Len(t, diff.PriceMismatch, 1)
}

func TestDiffSummary(t *testing.T) {
	t.Parallel()
	diff := ComparePositions(
		[]types.Position{{StockCode: "005930", Quantity: 10, AvgBuyPrice: 70000}},
		nil,
	)
	assert.Contains(t, diff.Summary(), "only_in_broker=1")
}
