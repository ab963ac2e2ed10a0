package storage

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/yeouido/trader/types"
)

// balanceFetcher is the account surface the snapshot job needs.
type balanceFetcher interface {
	Balance(ctx context.Context) (*types.Balance, error)
}

// dailyPriceFetcher is the market-data surface the price collector needs.
type dailyPriceFetcher interface {
	DailyPrices(ctx context.Context, code string, days int) ([]types.DailyPrice, error)
}

// SnapshotJob writes the end-of-day account summary. Re-runs on the same day
// overwrite the earlier row.
type SnapshotJob struct {
	repo   *Repo
	broker balanceFetcher
	loc    *time.Location
}

func NewSnapshotJob(repo *Repo, broker balanceFetcher, loc *time.Location) *SnapshotJob {
	return &SnapshotJob{repo: repo, broker: broker, loc: loc}
}

// Run captures one snapshot. Realized PnL is today's journaled sell profit;
// unrealized is the sum of holding gains at current prices.
func (j *SnapshotJob) Run(ctx context.Context) error {
	bal, err := j.broker.Balance(ctx)
	if err != nil {
		return err
	}

	now := time.Now().In(j.loc)
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, j.loc)

	realized, err := j.repo.RealizedPnlOn(ctx, day)
	if err != nil {
		log.Warn().Err(err).Msg("realized pnl query failed, recording zero")
		realized = 0
	}

	var unrealized int64
	for _, p := range bal.Positions {
		buyAmount := p.TotalBuyAmount
		if buyAmount == 0 {
			buyAmount = p.Quantity * p.AvgBuyPrice
		}
		unrealized += p.CurrentValue - buyAmount
	}

	row := &DailyAssetSnapshotRow{
		SnapshotDate:    day,
		TotalAsset:      bal.TotalAsset,
		CashBalance:     bal.Cash,
		StockEvalAmount: bal.StockEvalAmount,
		PositionCount:   len(bal.Positions),
		RealizedPnl:     realized,
		UnrealizedPnl:   unrealized,
	}
	if err := j.repo.UpsertDailySnapshot(ctx, row); err != nil {
		return err
	}
	log.Info().
		Int64("total_asset", bal.TotalAsset).
		Int64("realized", realized).
		Int64("unrealized", unrealized).
		Int("positions", len(bal.Positions)).
		Msg("📸 daily asset snapshot saved")
	return nil
}

// PriceCollector mirrors the broker daily chart into the local table for the
// codes it is given (held positions plus the active watchlist).
type PriceCollector struct {
	repo   *Repo
	broker dailyPriceFetcher
	days   int
}

func NewPriceCollector(repo *Repo, broker dailyPriceFetcher, days int) *PriceCollector {
	return &PriceCollector{repo: repo, broker: broker, days: days}
}

// Run fetches and upserts prices per code. One failing code does not stop
// the rest.
func (c *PriceCollector) Run(ctx context.Context, codes []string) {
	var saved, failed int
	for _, code := range codes {
		prices, err := c.broker.DailyPrices(ctx, code, c.days)
		if err != nil {
			log.Warn().Err(err).Str("code", code).Msg("daily price fetch failed")
			failed++
			continue
		}
		if err := c.repo.SaveDailyPrices(ctx, prices); err != nil {
			log.Warn().Err(err).Str("code", code).Msg("daily price save failed")
			failed++
			continue
		}
		saved++
	}
	log.Info().Int("saved", saved).Int("failed", failed).Msg("daily price collection done")
}
