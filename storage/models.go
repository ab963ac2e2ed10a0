package storage

import (
	"time"

	"github.com/yeouido/trader/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// MODELS - Persistence schema
// ═══════════════════════════════════════════════════════════════════════════════

// PositionRow is the locally tracked holding. The broker account is the
// source of truth; the reconciler converges this table onto it.
type PositionRow struct {
	ID             uint   `gorm:"primaryKey"`
	StockCode      string `gorm:"uniqueIndex;size:12"`
	StockName      string
	Quantity       int64
	AvgBuyPrice    int64
	TotalBuyAmount int64
	SectorGroup    string
	HighWatermark  int64
	StopLossPrice  int64
	SignalType     string
	TradeTier      string
	LLMScore       float64
	HybridScore    float64
	BoughtAt       time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (PositionRow) TableName() string { return "positions" }

// Position converts the row to the domain view.
func (p PositionRow) Position() types.Position {
	return types.Position{
		StockCode:      p.StockCode,
		StockName:      p.StockName,
		Quantity:       p.Quantity,
		AvgBuyPrice:    p.AvgBuyPrice,
		TotalBuyAmount: p.TotalBuyAmount,
		SectorGroup:    p.SectorGroup,
		HighWatermark:  p.HighWatermark,
		StopLossPrice:  p.StopLossPrice,
		BoughtAt:       p.BoughtAt,
	}
}

// TradeLogRow is the append-only trade journal.
type TradeLogRow struct {
	ID           uint   `gorm:"primaryKey"`
	StockCode    string `gorm:"index;size:12"`
	StockName    string
	TradeType    string `gorm:"index;size:8"`
	Quantity     int64
	Price        int64
	TotalAmount  int64
	Reason       string
	Signal       string
	MarketRegime string
	LLMScore     float64
	HybridScore  float64
	TradeTier    string
	ProfitPct    float64
	ProfitAmount int64
	HoldingDays  int
	ExecutedAt   time.Time `gorm:"index"`
	CreatedAt    time.Time
}

func (TradeLogRow) TableName() string { return "trade_logs" }

// StockMasterRow is the instrument reference table.
type StockMasterRow struct {
	StockCode   string `gorm:"primaryKey;size:12"`
	StockName   string
	Market      string
	SectorGroup string
	IsActive    bool `gorm:"default:true"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (StockMasterRow) TableName() string { return "stock_master" }

// StockDailyPriceRow mirrors the broker daily chart for offline indicator
// work and the breaker-open fallback.
type StockDailyPriceRow struct {
	ID        uint      `gorm:"primaryKey"`
	StockCode string    `gorm:"uniqueIndex:idx_daily_code_date;size:12"`
	PriceDate time.Time `gorm:"uniqueIndex:idx_daily_code_date"`
	Open      int64
	High      int64
	Low       int64
	Close     int64
	Volume    int64
	ChangePct float64
	CreatedAt time.Time
}

func (StockDailyPriceRow) TableName() string { return "stock_daily_prices" }

// DailyPrice converts the row to the domain view.
func (r StockDailyPriceRow) DailyPrice() types.DailyPrice {
	return types.DailyPrice{
		StockCode: r.StockCode,
		Date:      r.PriceDate,
		Open:      r.Open,
		High:      r.High,
		Low:       r.Low,
		Close:     r.Close,
		Volume:    r.Volume,
		ChangePct: r.ChangePct,
	}
}

// DailyAssetSnapshotRow is the end-of-day account summary, one row per day.
type DailyAssetSnapshotRow struct {
	ID              uint      `gorm:"primaryKey"`
	SnapshotDate    time.Time `gorm:"uniqueIndex"`
	TotalAsset      int64
	CashBalance     int64
	StockEvalAmount int64
	PositionCount   int
	RealizedPnl     int64
	UnrealizedPnl   int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (DailyAssetSnapshotRow) TableName() string { return "daily_asset_snapshots" }

// SyncAuditRow records every change the reconciler applies.
type SyncAuditRow struct {
	ID        uint   `gorm:"primaryKey"`
	StockCode string `gorm:"index;size:12"`
	Action    string
	Detail    string
	CreatedAt time.Time
}

func (SyncAuditRow) TableName() string { return "sync_audits" }
