package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/yeouido/trader/types"
)

func TestFormatWon(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1,000"},
		{70500, "70,500"},
		{1234567, "1,234,567"},
		{-70500, "-70,500"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatWon(tt.in), "input %d", tt.in)
	}
}

func TestFormatTradeBuy(t *testing.T) {
	t.Parallel()
	msg := FormatTrade(types.TradeNotification{
		TradeType:   types.TradeBuy,
		StockCode:   "005930",
		StockName:   "Samsung Electronics",
		Quantity:    10,
		Price:       70500,
		TotalAmount: 705000,
		Signal:      "GOLDEN_CROSS",
		OrderNo:     "0000123456",
		Timestamp:   time.Now(),
	})

	assert.Contains(t, msg, "BUY EXECUTED")
	assert.Contains(t, msg, "Samsung Electronics")
	assert.Contains(t, msg, "70,500원")
	assert.Contains(t, msg, "705,000원")
	assert.Contains(t, msg, "GOLDEN_CROSS")
	assert.Contains(t, msg, "0000123456")
	assert.NotContains(t, msg, "P&L")
	assert.NotContains(t, msg, "dry run")
}

func TestFormatTradeSellProfitAndLoss(t *testing.T) {
	t.Parallel()
	win := FormatTrade(types.TradeNotification{
		TradeType: types.TradeSell,
		StockCode: "005930",
		StockName: "Samsung Electronics",
		Quantity:  10,
		Price:     75000,
		Reason:    "TRAILING_STOP",
		ProfitPct: 6.38,
	})
	assert.Contains(t, win, "💰")
	assert.Contains(t, win, "TRAILING_STOP")
	assert.Contains(t, win, "+6.38%")

	loss := FormatTrade(types.TradeNotification{
		TradeType: types.TradeSell,
		StockCode: "005930",
		StockName: "Samsung Electronics",
		Quantity:  10,
		Price:     66000,
		Reason:    "STOP_LOSS",
		ProfitPct: -5.71,
	})
	assert.Contains(t, loss, "🛑")
	assert.Contains(t, loss, "-5.71%")
}

func TestFormatTradeDryRunMarker(t *testing.T) {
	t.Parallel()
	msg := FormatTrade(types.TradeNotification{
		TradeType: types.TradeBuy,
		StockCode: "005930",
		StockName: "Samsung Electronics",
		Quantity:  1,
		Price:     70000,
		DryRun:    true,
	})
	assert.Contains(t, msg, "dry run")
}
