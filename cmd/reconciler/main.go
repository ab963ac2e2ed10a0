package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/yeouido/trader/broker"
	"github.com/yeouido/trader/bus"
	"github.com/yeouido/trader/internal/config"
	"github.com/yeouido/trader/storage"
	"github.com/yeouido/trader/types"
)

// dailyPriceHistoryDays covers the 60-day indicator lookback with margin for
// holidays.
const dailyPriceHistoryDays = 90

func main() {
	// ═══════════════════════════════════════════════════════════════════════════════
	// BOOTSTRAP
	// ═══════════════════════════════════════════════════════════════════════════════

	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file found")
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Info().Msg("═══════════════════════════════════════════════════════════════")
	log.Info().Msg("            TRADER - RECONCILER & END-OF-DAY JOBS")
	log.Info().Msg("═══════════════════════════════════════════════════════════════")

	// ═══════════════════════════════════════════════════════════════════════════════
	// INITIALIZE COMPONENTS
	// ═══════════════════════════════════════════════════════════════════════════════

	// 1. Redis (per-position state, watchlist cache)
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		DB:       cfg.Redis.DB,
		Password: cfg.Redis.Password,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatal().Err(err).Msg("redis connection failed")
	}
	log.Info().Msg("✅ Redis connected")

	// 2. Storage
	db, err := storage.Open(cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	repo := storage.NewRepo(db)
	log.Info().Str("driver", cfg.DB.Driver).Msg("✅ Storage layer initialized")

	// 3. Gateway client
	brk := broker.New(cfg.KIS.GatewayURL)
	log.Info().Str("gateway", cfg.KIS.GatewayURL).Msg("✅ Gateway client initialized")

	// 4. Jobs
	state := bus.NewPositionState(rdb)
	reconciler := storage.NewReconciler(repo, state, cfg.Sell.StopLossPct)
	snapshot := storage.NewSnapshotJob(repo, brk, cfg.Location())
	collector := storage.NewPriceCollector(repo, brk, dailyPriceHistoryDays)
	watchCache := bus.NewTypedCache[types.Watchlist](rdb, bus.KeyWatchlist, 0)
	log.Info().Msg("✅ Reconciler and end-of-day jobs initialized")

	syncPositions := func() {
		ctx := context.Background()
		bal, err := brk.Balance(ctx)
		if err != nil {
			log.Error().Err(err).Msg("position sync: balance fetch failed")
			return
		}
		local, err := repo.Positions(ctx)
		if err != nil {
			log.Error().Err(err).Msg("position sync: local read failed")
			return
		}
		diff := storage.ComparePositions(bal.Positions, local)
		log.Info().Str("diff", diff.Summary()).Msg("🔍 position comparison")
		if diff.Empty() {
			return
		}
		for _, action := range reconciler.ApplySync(ctx, diff, bal.Positions) {
			log.Info().Str("action", action).Msg("position sync applied")
		}
	}

	collectPrices := func() {
		ctx := context.Background()
		seen := make(map[string]bool)
		var codes []string
		if bal, err := brk.Balance(ctx); err == nil {
			for _, p := range bal.Positions {
				if !seen[p.StockCode] {
					seen[p.StockCode] = true
					codes = append(codes, p.StockCode)
				}
			}
		}
		if wl := watchCache.Get(ctx); wl != nil {
			for _, code := range wl.Codes() {
				if !seen[code] {
					seen[code] = true
					codes = append(codes, code)
				}
			}
		}
		if len(codes) == 0 {
			log.Warn().Msg("price collection: no codes to collect")
			return
		}
		collector.Run(ctx, codes)
	}

	takeSnapshot := func() {
		if err := snapshot.Run(context.Background()); err != nil {
			log.Error().Err(err).Msg("daily snapshot failed")
		}
	}

	// ═══════════════════════════════════════════════════════════════════════════════
	// SCHEDULE
	// ═══════════════════════════════════════════════════════════════════════════════

	c := cron.New(cron.WithLocation(cfg.Location()))

	// Pre-open sync catches overnight fills and manual account changes.
	mustSchedule(c, "30 8 * * 1-5", syncPositions)
	// Post-close: sync, snapshot the account, then refresh daily charts.
	mustSchedule(c, "40 15 * * 1-5", syncPositions)
	mustSchedule(c, "50 15 * * 1-5", takeSnapshot)
	mustSchedule(c, "0 16 * * 1-5", collectPrices)

	c.Start()
	log.Info().Msg("⏰ schedules armed")

	// One sync at boot so a restarted reconciler converges immediately.
	syncPositions()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	log.Info().Str("signal", s.String()).Msg("shutting down")

	<-c.Stop().Done()
	log.Info().Msg("👋 reconciler stopped")
}

func mustSchedule(c *cron.Cron, spec string, job func()) {
	if _, err := c.AddFunc(spec, job); err != nil {
		log.Fatal().Err(err).Str("spec", spec).Msg("cron schedule failed")
	}
}
