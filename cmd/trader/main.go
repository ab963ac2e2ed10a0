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

	"github.com/yeouido/trader/bars"
	"github.com/yeouido/trader/broker"
	"github.com/yeouido/trader/bus"
	"github.com/yeouido/trader/internal/config"
	"github.com/yeouido/trader/monitor"
	scanner "github.com/yeouido/trader/signal"
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
	log.Info().Msg("          TRADER - SIGNAL SCANNER & POSITION MONITOR")
	log.Info().Msg("═══════════════════════════════════════════════════════════════")

	// ═══════════════════════════════════════════════════════════════════════════════
	// INITIALIZE COMPONENTS
	// ═══════════════════════════════════════════════════════════════════════════════

	// 1. Redis (tick stream, caches, position state)
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		DB:       cfg.Redis.DB,
		Password: cfg.Redis.Password,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatal().Err(err).Msg("redis connection failed")
	}
	log.Info().Msg("✅ Redis connected")

	// 2. Gateway client
	brk := broker.New(cfg.KIS.GatewayURL)
	log.Info().Str("gateway", cfg.KIS.GatewayURL).Msg("✅ Gateway client initialized")

	// 3. Shared state and bar engine
	state := bus.NewPositionState(rdb)
	engine := bars.NewEngine(cfg.Location())
	log.Info().Msg("✅ Bar engine initialized")

	// 4. Signal detector
	detector := scanner.NewDetector(cfg, rdb, engine, state, brk)
	log.Info().Msg("✅ Signal detector initialized")

	// 5. Position monitor
	mon := monitor.NewMonitor(cfg, brk, rdb, state)
	log.Info().Msg("✅ Position monitor initialized")

	// Each consumer group gets the full tick feed independently.
	scannerTicks := bus.NewTickConsumer(rdb, bus.GroupScanner, "scanner-1", detector.OnTick)
	monitorTicks := bus.NewTickConsumer(rdb, bus.GroupMonitor, "monitor-1", mon.OnTick)

	// ═══════════════════════════════════════════════════════════════════════════════
	// RUN
	// ═══════════════════════════════════════════════════════════════════════════════

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for _, run := range []func(context.Context){
		detector.Run,
		mon.Run,
		scannerTicks.Run,
		monitorTicks.Run,
	} {
		wg.Add(1)
		go func(f func(context.Context)) {
			defer wg.Done()
			f(ctx)
		}(run)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	log.Info().Str("signal", s.String()).Msg("shutting down")

	cancel()
	wg.Wait()
	log.Info().Msg("👋 trader stopped")
}
