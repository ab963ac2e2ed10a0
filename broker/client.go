// Package broker is the HTTP client for the gateway service. Core services
// never call the exchange API directly; everything funnels through the
// gateway so rate limits and the circuit breaker stay account-global.
package broker

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"github.com/yeouido/trader/types"
)

// Client talks to the gateway REST surface.
type Client struct {
	http *resty.Client
}

// New creates a client against the gateway base URL.
func New(baseURL string) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(45 * time.Second).
			SetHeader("Content-Type", "application/json"),
	}
}

type gatewayError struct {
	Error string `json:"error"`
}

// post runs one gateway call, mapping a 503 back to ErrCircuitOpen so callers
// can treat a tripped breaker as a skip.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	var gwErr gatewayError
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(out).
		SetError(&gwErr).
		Post(path)
	if err != nil {
		return fmt.Errorf("gateway %s: %w", path, err)
	}
	if resp.StatusCode() == http.StatusServiceUnavailable {
		return types.ErrCircuitOpen
	}
	if resp.IsError() {
		return fmt.Errorf("gateway %s: status %d: %s", path, resp.StatusCode(), gwErr.Error)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(out).
		Get(path)
	if err != nil {
		return fmt.Errorf("gateway %s: %w", path, err)
	}
	if resp.StatusCode() == http.StatusServiceUnavailable {
		return types.ErrCircuitOpen
	}
	if resp.IsError() {
		return fmt.Errorf("gateway %s: status %d", path, resp.StatusCode())
	}
	return nil
}

// ─── Market data ───────────────────────────────────────────────────────────────

// Snapshot fetches the current-price view of one stock.
func (c *Client) Snapshot(ctx context.Context, code string) (*types.Snapshot, error) {
	var out types.Snapshot
	err := c.post(ctx, "/api/market/snapshot", map[string]string{"stock_code": code}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// DailyPrices fetches up to days daily rows, newest first.
func (c *Client) DailyPrices(ctx context.Context, code string, days int) ([]types.DailyPrice, error) {
	var out []types.DailyPrice
	err := c.post(ctx, "/api/market/daily-prices",
		map[string]any{"stock_code": code, "days": days}, &out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MinutePrices fetches the minute chart up to now.
func (c *Client) MinutePrices(ctx context.Context, code string) ([]types.MinutePrice, error) {
	var out []types.MinutePrice
	err := c.post(ctx, "/api/market/minute-prices", map[string]string{"stock_code": code}, &out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// IsTradingDay reports whether the exchange opens today. Gateway failures
// degrade to a weekday check so the schedulers keep running.
func (c *Client) IsTradingDay(ctx context.Context) bool {
	var out struct {
		IsTradingDay bool `json:"is_trading_day"`
	}
	if err := c.get(ctx, "/api/market/is-trading-day", &out); err != nil {
		log.Warn().Err(err).Msg("trading-day lookup failed, assuming weekday calendar")
		wd := time.Now().Weekday()
		return wd != time.Saturday && wd != time.Sunday
	}
	return out.IsTradingDay
}

// IsMarketOpen reports whether the regular session is in progress.
func (c *Client) IsMarketOpen(ctx context.Context) (bool, error) {
	var out struct {
		IsMarketOpen bool `json:"is_market_open"`
	}
	if err := c.get(ctx, "/api/market/is-market-open", &out); err != nil {
		return false, err
	}
	return out.IsMarketOpen, nil
}

// ─── Trading ───────────────────────────────────────────────────────────────────

// Buy submits a buy order. A broker-side rejection returns a result with
// Success false and the broker message.
func (c *Client) Buy(ctx context.Context, req types.OrderRequest) (*types.OrderResult, error) {
	var out types.OrderResult
	if err := c.post(ctx, "/api/trading/buy", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Sell submits a sell order.
func (c *Client) Sell(ctx context.Context, req types.OrderRequest) (*types.OrderResult, error) {
	var out types.OrderResult
	if err := c.post(ctx, "/api/trading/sell", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Cancel cancels the remaining quantity of an order.
func (c *Client) Cancel(ctx context.Context, orderNo string) (bool, error) {
	var out struct {
		Success bool `json:"success"`
	}
	if err := c.post(ctx, "/api/trading/cancel", map[string]string{"order_no": orderNo}, &out); err != nil {
		return false, err
	}
	return out.Success, nil
}

// OrderStatus looks up today's fill state of an order. It never returns an
// error: an unreachable gateway yields nil, meaning unknown. Callers must
// treat nil as "do not assume filled".
func (c *Client) OrderStatus(ctx context.Context, orderNo string) *types.OrderStatus {
	var out types.OrderStatus
	if err := c.post(ctx, "/api/trading/order-status", map[string]string{"order_no": orderNo}, &out); err != nil {
		log.Warn().Err(err).Str("order_no", orderNo).Msg("order status lookup failed")
		return nil
	}
	return &out
}

// ─── Account ───────────────────────────────────────────────────────────────────

// Balance fetches holdings and account totals.
func (c *Client) Balance(ctx context.Context) (*types.Balance, error) {
	var out types.Balance
	if err := c.post(ctx, "/api/account/balance", struct{}{}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Cash fetches the orderable cash amount.
func (c *Client) Cash(ctx context.Context) (int64, error) {
	var out struct {
		CashBalance int64 `json:"cash_balance"`
	}
	if err := c.post(ctx, "/api/account/cash", struct{}{}, &out); err != nil {
		return 0, err
	}
	return out.CashBalance, nil
}

// ─── Realtime ──────────────────────────────────────────────────────────────────

// Subscribe registers codes with the tick streamer.
func (c *Client) Subscribe(ctx context.Context, codes []string) error {
	var out struct {
		Added []string `json:"added"`
	}
	if err := c.post(ctx, "/api/realtime/subscribe", map[string]any{"stock_codes": codes}, &out); err != nil {
		return err
	}
	if len(out.Added) > 0 {
		log.Info().Int("added", len(out.Added)).Msg("realtime subscriptions extended")
	}
	return nil
}
