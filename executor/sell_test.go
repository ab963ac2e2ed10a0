package executor

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeouido/trader/bus"
	"github.com/yeouido/trader/internal/config"
	"github.com/yeouido/trader/types"
)

// closedMarketBroker answers only the policy checks.
type closedMarketBroker struct {
	fakeBroker
	open bool
}

func (c *closedMarketBroker) IsMarketOpen(context.Context) (bool, error) { return c.open, nil }

func testSellExecutor(b Broker) *SellExecutor {
	cfg := &config.Config{Timezone: "Asia/Seoul"}
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	return NewSellExecutor(cfg, b, rdb, bus.NewPositionState(rdb), nil, nil)
}

func sellOrder(reason types.SellReason) types.SellOrder {
	return types.SellOrder{
		StockCode:    "005930",
		StockName:    "Samsung Electronics",
		SellReason:   reason,
		CurrentPrice: 70000,
		Quantity:     10,
	}
}

func TestSellSkippedWhenMarketClosed(t *testing.T) {
	t.Parallel()
	e := testSellExecutor(&closedMarketBroker{open: false})

	r := e.Process(context.Background(), sellOrder(types.SellTrailingStop))
	assert.Equal(t, types.ExecSkipped, r.Status)
	assert.Contains(t, r.Reason, "market closed")
}

func TestManualSellBypassesMarketHours(t *testing.T) {
	t.Parallel()
	// Balance is not scripted, so a bypassing order makes it past the policy
	// checks and fails on the holding lookup instead.
	e := testSellExecutor(&closedMarketBroker{open: false})

	r := e.Process(context.Background(), sellOrder(types.SellManual))
	assert.Equal(t, types.ExecSkipped, r.Status)
	assert.Contains(t, r.Reason, "not holding")

	r = e.Process(context.Background(), sellOrder(types.SellForcedLiquidation))
	assert.Contains(t, r.Reason, "not holding")
}

func TestSellReasonPolicyFlags(t *testing.T) {
	t.Parallel()
	assert.True(t, types.SellManual.BypassesPolicy())
	assert.True(t, types.SellForcedLiquidation.BypassesPolicy())
	assert.False(t, types.SellStopLoss.BypassesPolicy())

	assert.True(t, types.SellStopLoss.SetsStopLossCooldown())
	assert.True(t, types.SellDeathCross.SetsStopLossCooldown())
	assert.True(t, types.SellBreakevenStop.SetsStopLossCooldown())
	assert.False(t, types.SellProfitTarget.SetsStopLossCooldown())
	assert.False(t, types.SellTrailingStop.SetsStopLossCooldown())
}

func TestSellQuantityValidation(t *testing.T) {
	t.Parallel()
	held := types.Position{
		StockCode:   "005930",
		StockName:   "Samsung Electronics",
		Quantity:    100,
		AvgBuyPrice: 65000,
	}

	tests := []struct {
		name       string
		orderQty   int64
		wantStatus types.ExecStatus
		wantSold   int64
	}{
		{"zero quantity is nothing to sell", 0, types.ExecSkipped, 0},
		{"negative quantity is nothing to sell", -5, types.ExecSkipped, 0},
		{"oversized order clamps to holding", 200, types.ExecSuccess, 100},
		{"partial order sells as ordered", 10, types.ExecSuccess, 10},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b := &fakeBroker{
				buyResult: &types.OrderResult{Success: true, OrderNo: "OD4"},
				status:    &types.OrderStatus{Filled: true, AvgPrice: 70000},
			}
			e := testSellExecutor(b)

			order := sellOrder(types.SellTrailingStop)
			order.Quantity = tt.orderQty
			r := e.execute(context.Background(), order, held)

			require.Equal(t, tt.wantStatus, r.Status, r.Reason)
			if tt.wantStatus == types.ExecSkipped {
				assert.Contains(t, r.Reason, "nothing to sell")
				assert.Empty(t, b.lastOrder.StockCode, "no order may reach the broker")
				return
			}
			assert.Equal(t, tt.wantSold, r.Quantity)
			assert.Equal(t, tt.wantSold, b.lastOrder.Quantity)
		})
	}
}

func TestSellMarketOrderFillPrice(t *testing.T) {
	t.Parallel()
	b := &fakeBroker{
		buyResult: &types.OrderResult{Success: true, OrderNo: "OD3"},
		status:    &types.OrderStatus{Filled: true, AvgPrice: 69900},
	}
	e := testSellExecutor(b)

	price, orderNo, err := e.placeSell(context.Background(), "005930", 10, 70000)
	require.NoError(t, err)
	assert.Equal(t, int64(69900), price)
	assert.Equal(t, "OD3", orderNo)
	assert.Equal(t, types.OrderMarket, b.lastOrder.OrderType)
}

func TestSellUnfilledIsCancelled(t *testing.T) {
	t.Parallel()
	b := &fakeBroker{
		buyResult: &types.OrderResult{Success: true, OrderNo: "OD3"},
		status:    &types.OrderStatus{Filled: false},
		cancelled: true,
	}
	e := testSellExecutor(b)

	_, _, err := e.placeSell(context.Background(), "005930", 10, 70000)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unfilled")
	assert.True(t, b.cancelCalled)
}
