package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeouido/trader/bus"
	"github.com/yeouido/trader/internal/config"
	"github.com/yeouido/trader/types"
)

// fakeBroker scripts the order lifecycle for the fill-confirmation paths.
type fakeBroker struct {
	buyResult    *types.OrderResult
	buyErr       error
	cancelled    bool
	cancelErr    error
	status       *types.OrderStatus
	cancelCalled bool
	statusCalled bool
	lastOrder    types.OrderRequest
}

func (f *fakeBroker) Snapshot(context.Context, string) (*types.Snapshot, error) {
	return nil, errors.New("not scripted")
}
func (f *fakeBroker) DailyPrices(context.Context, string, int) ([]types.DailyPrice, error) {
	return nil, errors.New("not scripted")
}
func (f *fakeBroker) Buy(_ context.Context, req types.OrderRequest) (*types.OrderResult, error) {
	f.lastOrder = req
	return f.buyResult, f.buyErr
}
func (f *fakeBroker) Sell(_ context.Context, req types.OrderRequest) (*types.OrderResult, error) {
	f.lastOrder = req
	return f.buyResult, f.buyErr
}
func (f *fakeBroker) Cancel(context.Context, string) (bool, error) {
	f.cancelCalled = true
	return f.cancelled, f.cancelErr
}
func (f *fakeBroker) OrderStatus(context.Context, string) *types.OrderStatus {
	f.statusCalled = true
	return f.status
}
func (f *fakeBroker) Balance(context.Context) (*types.Balance, error) {
	return nil, errors.New("not scripted")
}
func (f *fakeBroker) Cash(context.Context) (int64, error) { return 0, errors.New("not scripted") }
func (f *fakeBroker) IsMarketOpen(context.Context) (bool, error) { return true, nil }

func testBuyExecutor(b Broker) *BuyExecutor {
	cfg := &config.Config{Timezone: "Asia/Seoul"}
	cfg.Scanner.MomentumLimitOrder = true
	cfg.Scanner.MomentumLimitPremium = 0.003
	cfg.Scanner.MomentumLimitTimeout = 10 * time.Millisecond
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	return NewBuyExecutor(cfg, b, rdb, bus.NewPositionState(rdb), nil, nil, nil)
}

func TestLimitOrderTimeoutCancels(t *testing.T) {
	t.Parallel()
	b := &fakeBroker{
		buyResult: &types.OrderResult{Success: true, OrderNo: "OD1"},
		cancelled: true,
	}
	e := testBuyExecutor(b)

	_, _, err := e.placeLimitOrder(context.Background(), "005930", 10, 70000)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
	assert.True(t, b.cancelCalled)
	// A clean cancel must not be mistaken for a fill.
	assert.False(t, b.statusCalled)
}

func TestLimitOrderCancelFailureConfirmsThroughStatus(t *testing.T) {
	t.Parallel()
	b := &fakeBroker{
		buyResult: &types.OrderResult{Success: true, OrderNo: "OD1"},
		cancelled: false,
		cancelErr: errors.New("already executed"),
		status:    &types.OrderStatus{Filled: true, FilledQty: 10, AvgPrice: 70150},
	}
	e := testBuyExecutor(b)

	result, price, err := e.placeLimitOrder(context.Background(), "005930", 10, 70000)
	require.NoError(t, err)
	assert.True(t, b.statusCalled)
	assert.Equal(t, "OD1", result.OrderNo)
	assert.Equal(t, int64(70150), price)
}

func TestLimitOrderCancelFailureUnknownStatusIsNotAFill(t *testing.T) {
	t.Parallel()
	b := &fakeBroker{
		buyResult: &types.OrderResult{Success: true, OrderNo: "OD1"},
		cancelled: false,
		cancelErr: errors.New("broker unreachable"),
		status:    nil,
	}
	e := testBuyExecutor(b)

	_, _, err := e.placeLimitOrder(context.Background(), "005930", 10, 70000)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unconfirmed")
	assert.True(t, b.statusCalled)
}

func TestLimitOrderPremiumAlignedToTick(t *testing.T) {
	t.Parallel()
	b := &fakeBroker{
		buyResult: &types.OrderResult{Success: true, OrderNo: "OD1"},
		cancelled: true,
	}
	e := testBuyExecutor(b)

	_, _, _ = e.placeLimitOrder(context.Background(), "005930", 10, 70000)
	// 70000 × 1.003 = 70210, aligned down to the 100-won tick.
	assert.Equal(t, int64(70200), b.lastOrder.Price)
	assert.Equal(t, types.OrderLimit, b.lastOrder.OrderType)
}

func TestLimitOrderRejected(t *testing.T) {
	t.Parallel()
	b := &fakeBroker{buyResult: &types.OrderResult{Success: false, Message: "insufficient cash"}}
	e := testBuyExecutor(b)

	_, _, err := e.placeLimitOrder(context.Background(), "005930", 10, 70000)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rejected")
}

func TestMarketOrderFillConfirmed(t *testing.T) {
	t.Parallel()
	b := &fakeBroker{
		buyResult: &types.OrderResult{Success: true, OrderNo: "OD2"},
		status:    &types.OrderStatus{Filled: true, FilledQty: 10, AvgPrice: 70050},
	}
	e := testBuyExecutor(b)

	result, price, err := e.placeMarketOrder(context.Background(), "005930", 10, 70000)
	require.NoError(t, err)
	assert.Equal(t, "OD2", result.OrderNo)
	assert.Equal(t, int64(70050), price)
	assert.Equal(t, types.OrderMarket, b.lastOrder.OrderType)
	assert.False(t, b.cancelCalled)
}

func TestMarketOrderUnfilledIsCancelled(t *testing.T) {
	t.Parallel()
	b := &fakeBroker{
		buyResult: &types.OrderResult{Success: true, OrderNo: "OD2"},
		status:    &types.OrderStatus{Filled: false},
		cancelled: true,
	}
	e := testBuyExecutor(b)

	_, _, err := e.placeMarketOrder(context.Background(), "005930", 10, 70000)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unfilled")
	assert.True(t, b.cancelCalled)
}
