package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SHARED TYPES - Domain enums, messages, and entities
// ═══════════════════════════════════════════════════════════════════════════════

// MarketRegime classifies the macro market state.
type MarketRegime string

const (
	RegimeStrongBull MarketRegime = "STRONG_BULL"
	RegimeBull       MarketRegime = "BULL"
	RegimeSideways   MarketRegime = "SIDEWAYS"
	RegimeBear       MarketRegime = "BEAR"
	RegimeStrongBear MarketRegime = "STRONG_BEAR"
)

// IsBull reports whether the regime allows bull-only strategies.
func (r MarketRegime) IsBull() bool {
	return r == RegimeStrongBull || r == RegimeBull
}

// IsBear reports whether new entries are blocked by regime.
func (r MarketRegime) IsBear() bool {
	return r == RegimeBear || r == RegimeStrongBear
}

// TradeTier is the watchlist grading applied by the offline scorer.
type TradeTier string

const (
	Tier1       TradeTier = "TIER1"
	Tier2       TradeTier = "TIER2"
	TierBlocked TradeTier = "BLOCKED"
)

// RiskTag is the code-level risk classification carried on a watchlist entry.
type RiskTag string

const (
	TagBullish          RiskTag = "BULLISH"
	TagNeutral          RiskTag = "NEUTRAL"
	TagCaution          RiskTag = "CAUTION"
	TagDistributionRisk RiskTag = "DISTRIBUTION_RISK"
)

// SignalType identifies the entry strategy that produced a buy signal.
type SignalType string

const (
	SignalGoldenCross          SignalType = "GOLDEN_CROSS"
	SignalRSIRebound           SignalType = "RSI_REBOUND"
	SignalMomentum             SignalType = "MOMENTUM"
	SignalMomentumContinuation SignalType = "MOMENTUM_CONTINUATION"
	SignalDipBuy               SignalType = "DIP_BUY"
	SignalVolumeBreakout       SignalType = "VOLUME_BREAKOUT"
	SignalConviction           SignalType = "WATCHLIST_CONVICTION"
)

// IsMomentum reports whether the strategy uses the limit-order entry path.
func (s SignalType) IsMomentum() bool {
	return s == SignalMomentum || s == SignalMomentumContinuation
}

// SellReason identifies the exit rule that produced a sell order.
type SellReason string

const (
	SellProfitTarget      SellReason = "PROFIT_TARGET"
	SellStopLoss          SellReason = "STOP_LOSS"
	SellTrailingStop      SellReason = "TRAILING_STOP"
	SellBreakevenStop     SellReason = "BREAKEVEN_STOP"
	SellRSIOverbought     SellReason = "RSI_OVERBOUGHT"
	SellTimeExit          SellReason = "TIME_EXIT"
	SellProfitFloor       SellReason = "PROFIT_FLOOR"
	SellDeathCross        SellReason = "DEATH_CROSS"
	SellRiskOff           SellReason = "RISK_OFF"
	SellManual            SellReason = "MANUAL"
	SellForcedLiquidation SellReason = "FORCED_LIQUIDATION"
)

// BypassesPolicy reports whether the reason skips market-hours and
// emergency-stop checks in the sell executor.
func (r SellReason) BypassesPolicy() bool {
	return r == SellManual || r == SellForcedLiquidation
}

// SetsStopLossCooldown reports whether a fill for this reason arms the
// multi-day re-entry cooldown.
func (r SellReason) SetsStopLossCooldown() bool {
	return r == SellStopLoss || r == SellDeathCross || r == SellBreakevenStop
}

// VixRegime buckets the VIX level.
type VixRegime string

const (
	VixLow      VixRegime = "low_vol"
	VixNormal   VixRegime = "normal"
	VixElevated VixRegime = "elevated"
	VixCrisis   VixRegime = "crisis"
)

// OrderType selects market vs limit execution.
type OrderType string

const (
	OrderMarket OrderType = "market"
	OrderLimit  OrderType = "limit"
)

// TradeType tags a trade-log row.
type TradeType string

const (
	TradeBuy  TradeType = "BUY"
	TradeSell TradeType = "SELL"
)

// ─── Market data ───────────────────────────────────────────────────────────────

// Tick is a raw execution-price event from the broker WebSocket feed.
type Tick struct {
	StockCode string    `json:"code"`
	Price     int64     `json:"price"`
	High      int64     `json:"high"`
	Volume    int64     `json:"vol"`
	At        time.Time `json:"ts"`
}

// Bar is a 1-minute OHLCV bucket.
type Bar struct {
	StockCode string
	Start     time.Time
	Open      int64
	High      int64
	Low       int64
	Close     int64
	Volume    int64
}

// DailyPrice is a single daily OHLCV row.
type DailyPrice struct {
	StockCode string    `json:"stock_code"`
	Date      time.Time `json:"price_date"`
	Open      int64     `json:"open_price"`
	High      int64     `json:"high_price"`
	Low       int64     `json:"low_price"`
	Close     int64     `json:"close_price"`
	Volume    int64     `json:"volume"`
	ChangePct float64   `json:"change_pct"`
}

// MinutePrice is a single minute-chart row from the broker.
type MinutePrice struct {
	StockCode string    `json:"stock_code"`
	At        time.Time `json:"price_datetime"`
	Open      int64     `json:"open_price"`
	High      int64     `json:"high_price"`
	Low       int64     `json:"low_price"`
	Close     int64     `json:"close_price"`
	Volume    int64     `json:"volume"`
}

// Snapshot is the broker's current-price view of one stock.
type Snapshot struct {
	StockCode string    `json:"stock_code"`
	Price     int64     `json:"price"`
	Open      int64     `json:"open"`
	High      int64     `json:"high"`
	Low       int64     `json:"low"`
	Volume    int64     `json:"volume"`
	ChangePct float64   `json:"change_pct"`
	PER       float64   `json:"per"`
	PBR       float64   `json:"pbr"`
	High52w   int64     `json:"high_52w"`
	Low52w    int64     `json:"low_52w"`
	MarketCap int64     `json:"market_cap"`
	At        time.Time `json:"ts"`
}

// ─── Cached artifacts ──────────────────────────────────────────────────────────

// WatchlistEntry is one scored candidate on the hot watchlist.
type WatchlistEntry struct {
	StockCode   string    `json:"stock_code"`
	StockName   string    `json:"stock_name"`
	QuantScore  float64   `json:"quant_score"`
	LLMScore    float64   `json:"llm_score"`
	HybridScore float64   `json:"hybrid_score"`
	Rank        int       `json:"rank"`
	IsTradable  bool      `json:"is_tradable"`
	TradeTier   TradeTier `json:"trade_tier"`
	RiskTag     RiskTag   `json:"risk_tag"`
	SectorGroup string    `json:"sector_group"`
	ScoredAt    time.Time `json:"scored_at"`
}

// Watchlist is the externally produced candidate list, replaced atomically.
type Watchlist struct {
	GeneratedAt  time.Time        `json:"generated_at"`
	MarketRegime MarketRegime     `json:"market_regime"`
	Stocks       []WatchlistEntry `json:"stocks"`
	Version      string           `json:"version"`
}

// Get returns the entry for code, or nil.
func (w *Watchlist) Get(code string) *WatchlistEntry {
	for i := range w.Stocks {
		if w.Stocks[i].StockCode == code {
			return &w.Stocks[i]
		}
	}
	return nil
}

// Codes returns all member codes in rank order.
func (w *Watchlist) Codes() []string {
	out := make([]string, 0, len(w.Stocks))
	for i := range w.Stocks {
		out = append(out, w.Stocks[i].StockCode)
	}
	return out
}

// AgeDays is the whole number of days since the list was generated.
func (w *Watchlist) AgeDays(now time.Time) int {
	if w.GeneratedAt.IsZero() {
		return 0
	}
	d := int(now.Sub(w.GeneratedAt).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}

// TradingContext is the daily macro artifact consumed by the core.
type TradingContext struct {
	Date               string       `json:"date"`
	MarketRegime       MarketRegime `json:"market_regime"`
	PositionMultiplier float64      `json:"position_multiplier"`
	StopLossMultiplier float64      `json:"stop_loss_multiplier"`
	VixRegime          VixRegime    `json:"vix_regime"`
	RiskOffLevel       int          `json:"risk_off_level"`
	FavorSectors       []string     `json:"favor_sectors"`
	AvoidSectors       []string     `json:"avoid_sectors"`
	IsHighVolatility   bool         `json:"is_high_volatility"`
}

// DefaultContext is the conservative fallback when no macro artifact exists.
func DefaultContext() TradingContext {
	return TradingContext{
		Date:               time.Now().Format("2006-01-02"),
		MarketRegime:       RegimeSideways,
		PositionMultiplier: 0.8,
		StopLossMultiplier: 1.2,
		VixRegime:          VixNormal,
	}
}

// SectorBudgetEntry is one field of the sector budget hash.
type SectorBudgetEntry struct {
	SectorGroup  string  `json:"sector_group"`
	Tier         string  `json:"tier"`
	PortfolioCap int     `json:"portfolio_cap"`
	Momentum     float64 `json:"momentum"`
}

// ─── Bus messages ──────────────────────────────────────────────────────────────

// BuySignal is the Signal Detector → Buy Executor stream message.
type BuySignal struct {
	StockCode          string       `json:"stock_code"`
	StockName          string       `json:"stock_name"`
	SignalType         SignalType   `json:"signal_type"`
	SignalPrice        int64        `json:"signal_price"`
	LLMScore           float64      `json:"llm_score"`
	HybridScore        float64      `json:"hybrid_score"`
	IsTradable         bool         `json:"is_tradable"`
	TradeTier          TradeTier    `json:"trade_tier"`
	RiskTag            RiskTag      `json:"risk_tag"`
	MarketRegime       MarketRegime `json:"market_regime"`
	SectorGroup        string       `json:"sector_group"`
	Source             string       `json:"source"`
	Timestamp          time.Time    `json:"timestamp"`
	RSI                float64      `json:"rsi_value,omitempty"`
	VolumeRatio        float64      `json:"volume_ratio,omitempty"`
	VWAP               float64      `json:"vwap,omitempty"`
	PositionMultiplier float64      `json:"position_multiplier"`
}

// SellOrder is the Position Monitor → Sell Executor stream message.
type SellOrder struct {
	StockCode    string     `json:"stock_code"`
	StockName    string     `json:"stock_name"`
	SellReason   SellReason `json:"sell_reason"`
	CurrentPrice int64      `json:"current_price"`
	Quantity     int64      `json:"quantity"`
	Timestamp    time.Time  `json:"timestamp"`
	BuyPrice     int64      `json:"buy_price,omitempty"`
	ProfitPct    float64    `json:"profit_pct,omitempty"`
	HoldingDays  int        `json:"holding_days,omitempty"`
}

// TradeNotification is published to the notification stream after execution.
type TradeNotification struct {
	TradeType   TradeType  `json:"trade_type"`
	StockCode   string     `json:"stock_code"`
	StockName   string     `json:"stock_name"`
	Quantity    int64      `json:"quantity"`
	Price       int64      `json:"price"`
	TotalAmount int64      `json:"total_amount"`
	Signal      SignalType `json:"signal,omitempty"`
	Reason      SellReason `json:"reason,omitempty"`
	ProfitPct   float64    `json:"profit_pct,omitempty"`
	OrderNo     string     `json:"order_no"`
	DryRun      bool       `json:"dry_run"`
	Timestamp   time.Time  `json:"timestamp"`
}

// ─── Broker orders ─────────────────────────────────────────────────────────────

// OrderRequest is the gateway order payload.
type OrderRequest struct {
	StockCode string    `json:"stock_code"`
	Quantity  int64     `json:"quantity"`
	OrderType OrderType `json:"order_type"`
	Price     int64     `json:"price,omitempty"`
}

// OrderResult is the gateway order response.
type OrderResult struct {
	Success   bool   `json:"success"`
	OrderNo   string `json:"order_no"`
	StockCode string `json:"stock_code"`
	Quantity  int64  `json:"quantity"`
	Price     int64  `json:"price"`
	Message   string `json:"message,omitempty"`
}

// OrderStatus is the gateway fill-confirmation response. A nil status means
// "unknown" and is never an error.
type OrderStatus struct {
	Filled    bool  `json:"filled"`
	FilledQty int64 `json:"filled_qty"`
	AvgPrice  int64 `json:"avg_price"`
}

// Balance is the broker account view.
type Balance struct {
	Cash            int64      `json:"cash_balance"`
	TotalAsset      int64      `json:"total_asset"`
	StockEvalAmount int64      `json:"stock_eval_amount"`
	Positions       []Position `json:"positions"`
}

// ─── Positions and trades ──────────────────────────────────────────────────────

// Position mirrors one broker holding.
type Position struct {
	StockCode      string    `json:"stock_code"`
	StockName      string    `json:"stock_name"`
	Quantity       int64     `json:"quantity"`
	AvgBuyPrice    int64     `json:"average_buy_price"`
	TotalBuyAmount int64     `json:"total_buy_amount"`
	CurrentPrice   int64     `json:"current_price,omitempty"`
	CurrentValue   int64     `json:"current_value,omitempty"`
	SectorGroup    string    `json:"sector_group,omitempty"`
	HighWatermark  int64     `json:"high_watermark,omitempty"`
	StopLossPrice  int64     `json:"stop_loss_price,omitempty"`
	BoughtAt       time.Time `json:"bought_at,omitempty"`
}

// ProfitPct returns the percent gain of price over the average buy price,
// rounded to two decimals. Zero when the buy price is not positive.
func ProfitPct(avgBuy, price int64) float64 {
	if avgBuy <= 0 {
		return 0
	}
	p := decimal.NewFromInt(price - avgBuy).
		Div(decimal.NewFromInt(avgBuy)).
		Mul(decimal.NewFromInt(100)).
		Round(2)
	f, _ := p.Float64()
	return f
}

// TradeLog is the append-only record of one accepted order.
type TradeLog struct {
	StockCode    string
	StockName    string
	TradeType    TradeType
	Quantity     int64
	Price        int64
	TotalAmount  int64
	Reason       string
	Signal       string
	MarketRegime MarketRegime
	LLMScore     float64
	HybridScore  float64
	TradeTier    TradeTier
	ProfitPct    float64
	ProfitAmount int64
	HoldingDays  int
	Timestamp    time.Time
}

// ─── Execution results ─────────────────────────────────────────────────────────

// ExecStatus is the outcome class of an executor pipeline run.
type ExecStatus string

const (
	ExecSuccess ExecStatus = "success"
	ExecSkipped ExecStatus = "skipped"
	ExecError   ExecStatus = "error"
)

// ExecutionResult is the typed envelope returned by both executors.
type ExecutionResult struct {
	Status    ExecStatus
	StockCode string
	StockName string
	OrderNo   string
	Quantity  int64
	Price     int64
	ProfitPct float64
	Reason    string
}

// Skipped builds a skipped result with a reason.
func Skipped(code, name, reason string) ExecutionResult {
	return ExecutionResult{Status: ExecSkipped, StockCode: code, StockName: name, Reason: reason}
}

// Errored builds an error result with a reason.
func Errored(code, name, reason string) ExecutionResult {
	return ExecutionResult{Status: ExecError, StockCode: code, StockName: name, Reason: reason}
}
