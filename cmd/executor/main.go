package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/yeouido/trader/broker"
	"github.com/yeouido/trader/bus"
	"github.com/yeouido/trader/executor"
	"github.com/yeouido/trader/internal/config"
	"github.com/yeouido/trader/storage"
	"github.com/yeouido/trader/types"
)

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
	log.Info().Msg("                 TRADER - ORDER EXECUTOR")
	log.Info().Msg("═══════════════════════════════════════════════════════════════")
	if cfg.DryRun {
		log.Warn().Msg("🧪 DRY RUN mode: orders are simulated")
	}

	// ═══════════════════════════════════════════════════════════════════════════════
	// INITIALIZE COMPONENTS
	// ═══════════════════════════════════════════════════════════════════════════════

	// 1. Redis (streams, locks, position state)
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		DB:       cfg.Redis.DB,
		Password: cfg.Redis.Password,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatal().Err(err).Msg("redis connection failed")
	}
	log.Info().Msg("✅ Redis connected")

	// 2. Storage (positions, trade journal)
	db, err := storage.Open(cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	repo := storage.NewRepo(db)
	log.Info().Str("driver", cfg.DB.Driver).Msg("✅ Storage layer initialized")

	// 3. Gateway client
	brk := broker.New(cfg.KIS.GatewayURL)
	log.Info().Str("gateway", cfg.KIS.GatewayURL).Msg("✅ Gateway client initialized")

	// 4. Portfolio guard
	budget := bus.NewTypedHashCache[types.SectorBudgetEntry](rdb, bus.KeySectorBudget, 0)
	guard := executor.NewPortfolioGuard(cfg.Risk, budget)
	log.Info().Msg("✅ Portfolio guard initialized")

	// 5. Executors
	state := bus.NewPositionState(rdb)
	notifier := bus.NewPublisher[types.TradeNotification](rdb, bus.StreamNotifications)
	buyExec := executor.NewBuyExecutor(cfg, brk, rdb, state, guard, repo, notifier)
	sellExec := executor.NewSellExecutor(cfg, brk, rdb, state, repo, notifier)
	log.Info().Msg("✅ Buy/sell executors initialized")

	buySignals := bus.NewConsumer[types.BuySignal](
		rdb, bus.StreamBuySignals, bus.GroupBuyExecutor, "buy-executor-1", buyExec.HandleSignal)
	sellOrders := bus.NewConsumer[types.SellOrder](
		rdb, bus.StreamSellOrders, bus.GroupSellExecutor, "sell-executor-1", sellExec.HandleOrder)

	// ═══════════════════════════════════════════════════════════════════════════════
	// RUN
	// ═══════════════════════════════════════════════════════════════════════════════

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		buySignals.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		sellOrders.Run(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	log.Info().Str("signal", s.String()).Msg("shutting down")

	cancel()
	wg.Wait()
	log.Info().Msg("👋 executor stopped")
}
