// Package storage is the persistence layer: positions, the trade journal,
// instrument reference data, mirrored daily prices, and account snapshots.
package storage

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/yeouido/trader/internal/config"
)

// Open connects using the configured driver and migrates the schema.
func Open(cfg config.DBConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN())
	case "postgres":
		dialector = postgres.Open(cfg.DSN())
	default:
		return nil, fmt.Errorf("unknown db driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}

	if err := db.AutoMigrate(
		&PositionRow{},
		&TradeLogRow{},
		&StockMasterRow{},
		&StockDailyPriceRow{},
		&DailyAssetSnapshotRow{},
		&SyncAuditRow{},
	); err != nil {
		return nil, fmt.Errorf("db migrate: %w", err)
	}

	log.Info().Str("driver", cfg.Driver).Msg("💾 database connected")
	return db, nil
}
