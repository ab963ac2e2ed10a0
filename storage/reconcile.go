package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/yeouido/trader/bus"
	"github.com/yeouido/trader/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// RECONCILER - Broker account ↔ local positions
// ═══════════════════════════════════════════════════════════════════════════════

// syncReason tags journal rows created by reconciliation rather than an
// executor.
const syncReason = "MANUAL_SYNC"

// PositionDiff is the 5-way comparison of broker holdings against the local
// table.
type PositionDiff struct {
	OnlyInBroker     []types.Position
	OnlyLocally      []PositionRow
	QuantityMismatch []MismatchDetail
	PriceMismatch    []MismatchDetail
	Matched          []string
}

// MismatchDetail names one diverging holding.
type MismatchDetail struct {
	StockCode   string
	StockName   string
	BrokerValue int64
	LocalValue  int64
}

// Empty reports whether nothing needs to change.
func (d *PositionDiff) Empty() bool {
	return len(d.OnlyInBroker) == 0 && len(d.OnlyLocally) == 0 &&
		len(d.QuantityMismatch) == 0 && len(d.PriceMismatch) == 0
}

// Summary renders a short human-readable report.
func (d *PositionDiff) Summary() string {
	return fmt.Sprintf("matched=%d only_in_broker=%d only_locally=%d qty_mismatch=%d price_mismatch=%d",
		len(d.Matched), len(d.OnlyInBroker), len(d.OnlyLocally),
		len(d.QuantityMismatch), len(d.PriceMismatch))
}

// ComparePositions classifies every holding. A quantity difference wins over
// a price difference; average prices within 1 won count as equal.
func ComparePositions(brokerPositions []types.Position, local []PositionRow) *PositionDiff {
	brokerMap := make(map[string]types.Position, len(brokerPositions))
	for _, p := range brokerPositions {
		brokerMap[p.StockCode] = p
	}
	localMap := make(map[string]PositionRow, len(local))
	for _, p := range local {
		localMap[p.StockCode] = p
	}

	diff := &PositionDiff{}
	for _, p := range brokerPositions {
		if _, ok := localMap[p.StockCode]; !ok {
			diff.OnlyInBroker = append(diff.OnlyInBroker, p)
		}
	}
	for _, p := range local {
		if _, ok := brokerMap[p.StockCode]; !ok {
			diff.OnlyLocally = append(diff.OnlyLocally, p)
		}
	}
	for _, bp := range brokerPositions {
		lp, ok := localMap[bp.StockCode]
		if !ok {
			continue
		}
		switch {
		case bp.Quantity != lp.Quantity:
			diff.QuantityMismatch = append(diff.QuantityMismatch, MismatchDetail{
				StockCode:   bp.StockCode,
				StockName:   bp.StockName,
				BrokerValue: bp.Quantity,
				LocalValue:  lp.Quantity,
			})
		case absI64(bp.AvgBuyPrice-lp.AvgBuyPrice) >= 1:
			diff.PriceMismatch = append(diff.PriceMismatch, MismatchDetail{
				StockCode:   bp.StockCode,
				StockName:   bp.StockName,
				BrokerValue: bp.AvgBuyPrice,
				LocalValue:  lp.AvgBuyPrice,
			})
		default:
			diff.Matched = append(diff.Matched, bp.StockCode)
		}
	}
	return diff
}

// Reconciler converges the local position table onto the broker account.
type Reconciler struct {
	repo        *Repo
	state       *bus.PositionState
	stopLossPct float64
}

func NewReconciler(repo *Repo, state *bus.PositionState, stopLossPct float64) *Reconciler {
	return &Reconciler{repo: repo, state: state, stopLossPct: stopLossPct}
}

// ApplySync writes the broker's view into the local table and returns the
// actions taken. The broker always wins.
func (r *Reconciler) ApplySync(ctx context.Context, diff *PositionDiff, brokerPositions []types.Position) []string {
	brokerMap := make(map[string]types.Position, len(brokerPositions))
	for _, p := range brokerPositions {
		brokerMap[p.StockCode] = p
	}

	var actions []string

	// Holdings the broker has that we never recorded: insert with a synthetic
	// BUY journal row. Stale per-code redis state from a prior holding of the
	// same code must not leak into the new one.
	for _, p := range diff.OnlyInBroker {
		total := p.TotalBuyAmount
		if total == 0 {
			total = p.Quantity * p.AvgBuyPrice
		}
		watermark := p.CurrentPrice
		if watermark == 0 {
			watermark = p.AvgBuyPrice
		}
		sector := r.repo.SectorOf(ctx, p.StockCode)

		if err := r.repo.EnsureStockMaster(ctx, p.StockCode, p.StockName, sector); err != nil {
			log.Warn().Err(err).Str("code", p.StockCode).Msg("stock master ensure failed")
		}
		if r.state != nil {
			r.state.Purge(ctx, p.StockCode)
		}

		row := &PositionRow{
			StockCode:      p.StockCode,
			StockName:      p.StockName,
			Quantity:       p.Quantity,
			AvgBuyPrice:    p.AvgBuyPrice,
			TotalBuyAmount: total,
			SectorGroup:    sector,
			HighWatermark:  watermark,
			StopLossPrice:  r.stopLossPrice(p.AvgBuyPrice),
		}
		if err := r.repo.SavePosition(ctx, row); err != nil {
			log.Error().Err(err).Str("code", p.StockCode).Msg("sync insert failed")
			continue
		}
		_ = r.repo.LogTrade(ctx, types.TradeLog{
			StockCode:   p.StockCode,
			StockName:   p.StockName,
			TradeType:   types.TradeBuy,
			Quantity:    p.Quantity,
			Price:       p.AvgBuyPrice,
			TotalAmount: total,
			Reason:      syncReason,
		})
		action := fmt.Sprintf("INSERT %s %s qty=%d avg=%d", p.StockCode, p.StockName, p.Quantity, p.AvgBuyPrice)
		r.repo.Audit(ctx, p.StockCode, "INSERT", action)
		actions = append(actions, action)
	}

	// Holdings we track that the broker no longer has: delete with a
	// synthetic SELL journal row.
	for _, lp := range diff.OnlyLocally {
		_ = r.repo.LogTrade(ctx, types.TradeLog{
			StockCode:   lp.StockCode,
			StockName:   lp.StockName,
			TradeType:   types.TradeSell,
			Quantity:    lp.Quantity,
			Price:       lp.AvgBuyPrice,
			TotalAmount: lp.Quantity * lp.AvgBuyPrice,
			Reason:      syncReason,
		})
		if err := r.repo.DeletePosition(ctx, lp.StockCode); err != nil {
			log.Error().Err(err).Str("code", lp.StockCode).Msg("sync delete failed")
			continue
		}
		action := fmt.Sprintf("DELETE %s %s", lp.StockCode, lp.StockName)
		r.repo.Audit(ctx, lp.StockCode, "DELETE", action)
		actions = append(actions, action)
	}

	// Shared holdings: overwrite with broker values. A changed average price
	// re-derives the stop-loss anchor; a higher current price advances the
	// watermark.
	common := append(append([]string{}, diff.Matched...), mismatchCodes(diff)...)
	for _, code := range common {
		bp, ok := brokerMap[code]
		if !ok {
			continue
		}
		lp, err := r.repo.Position(ctx, code)
		if err != nil || lp == nil {
			continue
		}

		var changed []string
		if lp.Quantity != bp.Quantity {
			changed = append(changed, fmt.Sprintf("qty:%d→%d", lp.Quantity, bp.Quantity))
			lp.Quantity = bp.Quantity
		}
		if lp.AvgBuyPrice != bp.AvgBuyPrice {
			changed = append(changed, fmt.Sprintf("avg:%d→%d", lp.AvgBuyPrice, bp.AvgBuyPrice))
			lp.AvgBuyPrice = bp.AvgBuyPrice
			lp.StopLossPrice = r.stopLossPrice(bp.AvgBuyPrice)
		}
		total := bp.TotalBuyAmount
		if total == 0 {
			total = bp.Quantity * bp.AvgBuyPrice
		}
		lp.TotalBuyAmount = total
		if bp.CurrentPrice > 0 && bp.CurrentPrice > lp.HighWatermark {
			changed = append(changed, fmt.Sprintf("hwm:%d→%d", lp.HighWatermark, bp.CurrentPrice))
			lp.HighWatermark = bp.CurrentPrice
		}
		if lp.SectorGroup == "" {
			if sector := r.repo.SectorOf(ctx, code); sector != "" {
				lp.SectorGroup = sector
				changed = append(changed, "sector:→"+sector)
			}
		}

		if len(changed) == 0 {
			continue
		}
		if err := r.repo.SavePosition(ctx, lp); err != nil {
			log.Error().Err(err).Str("code", code).Msg("sync update failed")
			continue
		}
		action := fmt.Sprintf("UPDATE %s %s", code, strings.Join(changed, ", "))
		r.repo.Audit(ctx, code, "UPDATE", action)
		actions = append(actions, action)
	}

	return actions
}

func (r *Reconciler) stopLossPrice(avg int64) int64 {
	return int64(float64(avg) * (1 - r.stopLossPct/100))
}

func mismatchCodes(diff *PositionDiff) []string {
	out := make([]string, 0, len(diff.QuantityMismatch)+len(diff.PriceMismatch))
	for _, m := range diff.QuantityMismatch {
		out = append(out, m.StockCode)
	}
	for _, m := range diff.PriceMismatch {
		out = append(out, m.StockCode)
	}
	return out
}

func absI64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
