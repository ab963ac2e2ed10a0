package storage

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yeouido/trader/types"
)

// Repo wraps the database with the operations the services need.
type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// ─── Positions ─────────────────────────────────────────────────────────────────

// Positions returns every tracked holding.
func (r *Repo) Positions(ctx context.Context) ([]PositionRow, error) {
	var rows []PositionRow
	err := r.db.WithContext(ctx).Order("stock_code").Find(&rows).Error
	return rows, err
}

// Position returns one holding, or nil when not tracked.
func (r *Repo) Position(ctx context.Context, code string) (*PositionRow, error) {
	var row PositionRow
	err := r.db.WithContext(ctx).Where("stock_code = ?", code).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// SavePosition inserts or replaces the holding for its stock code.
func (r *Repo) SavePosition(ctx context.Context, row *PositionRow) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "stock_code"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"stock_name", "quantity", "avg_buy_price", "total_buy_amount",
			"sector_group", "high_watermark", "stop_loss_price",
			"signal_type", "trade_tier", "llm_score", "hybrid_score",
			"bought_at", "updated_at",
		}),
	}).Create(row).Error
}

// ReducePosition shrinks a holding after a partial sell; quantity zero or
// below deletes the row.
func (r *Repo) ReducePosition(ctx context.Context, code string, soldQty int64) error {
	row, err := r.Position(ctx, code)
	if err != nil || row == nil {
		return err
	}
	remaining := row.Quantity - soldQty
	if remaining <= 0 {
		return r.DeletePosition(ctx, code)
	}
	return r.db.WithContext(ctx).Model(&PositionRow{}).
		Where("stock_code = ?", code).
		Updates(map[string]any{
			"quantity":         remaining,
			"total_buy_amount": remaining * row.AvgBuyPrice,
		}).Error
}

// DeletePosition removes the holding row.
func (r *Repo) DeletePosition(ctx context.Context, code string) error {
	return r.db.WithContext(ctx).Where("stock_code = ?", code).Delete(&PositionRow{}).Error
}

// UpdateWatermark persists a new high watermark.
func (r *Repo) UpdateWatermark(ctx context.Context, code string, price int64) error {
	return r.db.WithContext(ctx).Model(&PositionRow{}).
		Where("stock_code = ? AND high_watermark < ?", code, price).
		Update("high_watermark", price).Error
}

// ─── Trade journal ─────────────────────────────────────────────────────────────

// LogTrade appends one journal row.
func (r *Repo) LogTrade(ctx context.Context, t types.TradeLog) error {
	row := TradeLogRow{
		StockCode:    t.StockCode,
		StockName:    t.StockName,
		TradeType:    string(t.TradeType),
		Quantity:     t.Quantity,
		Price:        t.Price,
		TotalAmount:  t.TotalAmount,
		Reason:       t.Reason,
		Signal:       t.Signal,
		MarketRegime: string(t.MarketRegime),
		LLMScore:     t.LLMScore,
		HybridScore:  t.HybridScore,
		TradeTier:    string(t.TradeTier),
		ProfitPct:    t.ProfitPct,
		ProfitAmount: t.ProfitAmount,
		HoldingDays:  t.HoldingDays,
		ExecutedAt:   t.Timestamp,
	}
	if row.ExecutedAt.IsZero() {
		row.ExecutedAt = time.Now()
	}
	return r.db.WithContext(ctx).Create(&row).Error
}

// RealizedPnlOn sums the profit of sells executed on the given day.
func (r *Repo) RealizedPnlOn(ctx context.Context, day time.Time) (int64, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.Add(24 * time.Hour)
	var total int64
	err := r.db.WithContext(ctx).Model(&TradeLogRow{}).
		Where("trade_type = ? AND executed_at >= ? AND executed_at < ?", "SELL", start, end).
		Select("COALESCE(SUM(profit_amount), 0)").
		Scan(&total).Error
	return total, err
}

// ─── Stock master ──────────────────────────────────────────────────────────────

// EnsureStockMaster inserts the instrument row if absent.
func (r *Repo) EnsureStockMaster(ctx context.Context, code, name, sector string) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "stock_code"}},
		DoNothing: true,
	}).Create(&StockMasterRow{
		StockCode:   code,
		StockName:   name,
		SectorGroup: sector,
		IsActive:    true,
	}).Error
}

// SectorOf returns the instrument's sector group, empty when unknown.
func (r *Repo) SectorOf(ctx context.Context, code string) string {
	var row StockMasterRow
	if err := r.db.WithContext(ctx).Where("stock_code = ?", code).First(&row).Error; err != nil {
		return ""
	}
	return row.SectorGroup
}

// ─── Daily prices ──────────────────────────────────────────────────────────────

// SaveDailyPrices upserts the broker daily chart rows.
func (r *Repo) SaveDailyPrices(ctx context.Context, prices []types.DailyPrice) error {
	if len(prices) == 0 {
		return nil
	}
	rows := make([]StockDailyPriceRow, 0, len(prices))
	for _, p := range prices {
		rows = append(rows, StockDailyPriceRow{
			StockCode: p.StockCode,
			PriceDate: p.Date,
			Open:      p.Open,
			High:      p.High,
			Low:       p.Low,
			Close:     p.Close,
			Volume:    p.Volume,
			ChangePct: p.ChangePct,
		})
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "stock_code"}, {Name: "price_date"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"open", "high", "low", "close", "volume", "change_pct",
		}),
	}).Create(&rows).Error
}

// RecentDailyPrices returns up to days rows, newest first. Feeds the gateway
// fallback when the breaker is open.
func (r *Repo) RecentDailyPrices(ctx context.Context, code string, days int) ([]types.DailyPrice, error) {
	var rows []StockDailyPriceRow
	err := r.db.WithContext(ctx).
		Where("stock_code = ?", code).
		Order("price_date DESC").
		Limit(days).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]types.DailyPrice, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.DailyPrice())
	}
	return out, nil
}

// ─── Snapshots and audit ───────────────────────────────────────────────────────

// UpsertDailySnapshot writes the end-of-day account summary, replacing any
// earlier run for the same date.
func (r *Repo) UpsertDailySnapshot(ctx context.Context, row *DailyAssetSnapshotRow) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "snapshot_date"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"total_asset", "cash_balance", "stock_eval_amount",
			"position_count", "realized_pnl", "unrealized_pnl", "updated_at",
		}),
	}).Create(row).Error
}

// Audit records one reconciler action.
func (r *Repo) Audit(ctx context.Context, code, action, detail string) {
	_ = r.db.WithContext(ctx).Create(&SyncAuditRow{
		StockCode: code,
		Action:    action,
		Detail:    detail,
	}).Error
}
