package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/yeouido/trader/gateway"
	"github.com/yeouido/trader/internal/config"
	"github.com/yeouido/trader/storage"
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
	log.Info().Msg("              TRADER - KIS GATEWAY")
	log.Info().Msg("═══════════════════════════════════════════════════════════════")

	// ═══════════════════════════════════════════════════════════════════════════════
	// INITIALIZE COMPONENTS
	// ═══════════════════════════════════════════════════════════════════════════════

	// 1. Redis (tick fan-out)
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		DB:       cfg.Redis.DB,
		Password: cfg.Redis.Password,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatal().Err(err).Msg("redis connection failed")
	}
	log.Info().Msg("✅ Redis connected")

	// 2. Broker REST client
	kis := gateway.NewKIS(cfg.KIS, cfg.Location())
	log.Info().Bool("paper", cfg.KIS.IsPaper).Msg("✅ KIS client initialized")

	// 3. Real-time price streamer
	streamer := gateway.NewStreamer(rdb, kis, cfg.KIS.WSURL)
	log.Info().Msg("✅ Streamer initialized")

	// 4. Daily price fallback store (optional)
	var prices gateway.DailyPriceStore
	if db, err := storage.Open(cfg.DB); err != nil {
		log.Warn().Err(err).Msg("Database connection failed, serving broker data only")
	} else {
		prices = storage.NewRepo(db)
		log.Info().Msg("✅ Storage layer initialized")
	}

	// 5. HTTP gateway
	server := gateway.NewServer(cfg.KIS.GatewayListenAddr, kis, streamer, prices, cfg.Location())
	log.Info().Msg("✅ Gateway server initialized")

	// ═══════════════════════════════════════════════════════════════════════════════
	// RUN
	// ═══════════════════════════════════════════════════════════════════════════════

	_, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("gateway server stopped")
		}
	}

	streamer.Stop()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
	log.Info().Msg("👋 gateway stopped")
}
