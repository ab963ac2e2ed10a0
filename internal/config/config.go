package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yeouido/trader/types"
)

// Config holds all configuration for the trading services. Loaded once at
// process start; read-only afterwards.
type Config struct {
	Env      string
	Debug    bool
	LogLevel string
	Timezone string
	DryRun   bool

	DB       DBConfig
	Redis    RedisConfig
	KIS      KISConfig
	Risk     RiskConfig
	Scoring  ScoringConfig
	Scanner  ScannerConfig
	Sell     SellConfig
	Signal   SignalConfig
	Telegram TelegramConfig
}

// DBConfig configures the persistence layer. Driver is "postgres" or "sqlite".
type DBConfig struct {
	Driver   string
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	Path     string // sqlite file
}

// DSN returns the gorm connection string for the selected driver.
func (d DBConfig) DSN() string {
	if d.Driver == "sqlite" {
		return d.Path
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		d.Host, d.Port, d.User, d.Password, d.Name)
}

type RedisConfig struct {
	Host     string
	Port     int
	DB       int
	Password string
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// KISConfig holds broker credentials and endpoints.
type KISConfig struct {
	AppKey             string
	AppSecret          string
	AccountNo          string
	AccountProductCode string
	BaseURL            string
	WSURL              string
	IsPaper            bool
	TokenFilePath      string
	GatewayURL         string
	GatewayListenAddr  string
}

type RiskConfig struct {
	MaxPortfolioSize     int
	MaxSectorStocks      int
	PortfolioGuard       bool
	DynamicSectorBudget  bool
	MaxBuyCountPerDay    int
	MaxSectorValuePct    decimal.Decimal
	MaxStockValuePct     decimal.Decimal
	StoplossCooldownDays int
	CorrelationGuard     bool
	CorrelationBlock     float64

	CashFloorStrongBullPct decimal.Decimal
	CashFloorBullPct       decimal.Decimal
	CashFloorSidewaysPct   decimal.Decimal
	CashFloorBearPct       decimal.Decimal
}

// CashFloorPct returns the regime-indexed minimum cash ratio after a buy.
func (r RiskConfig) CashFloorPct(regime types.MarketRegime) decimal.Decimal {
	switch regime {
	case types.RegimeStrongBull:
		return r.CashFloorStrongBullPct
	case types.RegimeBull:
		return r.CashFloorBullPct
	case types.RegimeBear, types.RegimeStrongBear:
		return r.CashFloorBearPct
	default:
		return r.CashFloorSidewaysPct
	}
}

type ScoringConfig struct {
	HardFloorScore float64
}

type ScannerConfig struct {
	MinRequiredBars    int
	SignalCooldown     time.Duration
	RSIGuardMax        float64
	RSIGuardMaxBull    float64
	VolumeRatioWarning float64
	VWAPDeviationWarn  float64
	NoTradeStart       string
	NoTradeEnd         string
	DangerZoneStart    string
	DangerZoneEnd      string

	ConvictionEnabled        bool
	ConvictionMinHybridScore float64
	ConvictionMinLLMScore    float64
	ConvictionMaxGainPct     float64
	ConvictionWindowStart    string
	ConvictionWindowEnd      string

	MomentumLimitOrder       bool
	MomentumLimitPremium     float64
	MomentumLimitTimeout     time.Duration
	MomentumConfirmationBars int
	MomentumMaxGainPct       float64
}

type SellConfig struct {
	RSIOverboughtThreshold float64
	TrailingEnabled        bool
	TrailingActivationPct  float64
	TrailingMinProfitPct   float64
	ProfitTargetPct        float64
	StopLossPct            float64
	HardStopPct            float64
	ProfitFloorActivation  float64
	ProfitFloorLevel       float64
	BreakevenActivationPct float64
	BreakevenLevelPct      float64
	TimeExitBullDays       int
	TimeExitSidewaysDays   int
}

type SignalConfig struct {
	GoldenCrossShort int
	GoldenCrossLong  int
	RSIOversold      float64
	RSIOversoldBull  float64
}

type TelegramConfig struct {
	BotToken string
	ChatID   int64
}

// Load reads the full configuration tree from the environment.
func Load() (*Config, error) {
	cfg := &Config{
		Env:      getEnv("APP_ENV", "production"),
		Debug:    getEnvBool("APP_DEBUG", false),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Timezone: getEnv("APP_TIMEZONE", "Asia/Seoul"),
		DryRun:   getEnvBool("APP_DRY_RUN", false),

		DB: DBConfig{
			Driver:   getEnv("DB_DRIVER", "postgres"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "trader"),
			Password: os.Getenv("DB_PASSWORD"),
			Name:     getEnv("DB_NAME", "trader"),
			Path:     getEnv("DB_PATH", "data/trader.db"),
		},

		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			DB:       getEnvInt("REDIS_DB", 0),
			Password: os.Getenv("REDIS_PASSWORD"),
		},

		KIS: KISConfig{
			AppKey:             os.Getenv("KIS_APP_KEY"),
			AppSecret:          os.Getenv("KIS_APP_SECRET"),
			AccountNo:          os.Getenv("KIS_ACCOUNT_NO"),
			AccountProductCode: getEnv("KIS_ACCOUNT_PRODUCT_CODE", "01"),
			BaseURL:            getEnv("KIS_BASE_URL", "https://openapi.koreainvestment.com:9443"),
			WSURL:              getEnv("KIS_WS_URL", "ws://ops.koreainvestment.com:21000"),
			IsPaper:            getEnvBool("KIS_IS_PAPER", false),
			TokenFilePath:      getEnv("KIS_TOKEN_FILE_PATH", "data/kis_token.json"),
			GatewayURL:         getEnv("KIS_GATEWAY_URL", "http://localhost:8080"),
			GatewayListenAddr:  getEnv("KIS_GATEWAY_LISTEN_ADDR", ":8080"),
		},

		Risk: RiskConfig{
			MaxPortfolioSize:     getEnvInt("RISK_MAX_PORTFOLIO_SIZE", 10),
			MaxSectorStocks:      getEnvInt("RISK_MAX_SECTOR_STOCKS", 3),
			PortfolioGuard:       getEnvBool("RISK_PORTFOLIO_GUARD_ENABLED", true),
			DynamicSectorBudget:  getEnvBool("RISK_DYNAMIC_SECTOR_BUDGET_ENABLED", true),
			MaxBuyCountPerDay:    getEnvInt("RISK_MAX_BUY_COUNT_PER_DAY", 6),
			MaxSectorValuePct:    getEnvDecimal("RISK_MAX_SECTOR_VALUE_PCT", decimal.NewFromInt(40)),
			MaxStockValuePct:     getEnvDecimal("RISK_MAX_STOCK_VALUE_PCT", decimal.NewFromInt(20)),
			StoplossCooldownDays: getEnvInt("RISK_STOPLOSS_COOLDOWN_DAYS", 3),
			CorrelationGuard:     getEnvBool("RISK_CORRELATION_GUARD_ENABLED", true),
			CorrelationBlock:     getEnvFloat("RISK_CORRELATION_BLOCK", 0.85),

			CashFloorStrongBullPct: getEnvDecimal("RISK_CASH_FLOOR_STRONG_BULL_PCT", decimal.NewFromInt(5)),
			CashFloorBullPct:       getEnvDecimal("RISK_CASH_FLOOR_BULL_PCT", decimal.NewFromInt(10)),
			CashFloorSidewaysPct:   getEnvDecimal("RISK_CASH_FLOOR_SIDEWAYS_PCT", decimal.NewFromInt(15)),
			CashFloorBearPct:       getEnvDecimal("RISK_CASH_FLOOR_BEAR_PCT", decimal.NewFromInt(25)),
		},

		Scoring: ScoringConfig{
			HardFloorScore: getEnvFloat("SCORING_HARD_FLOOR_SCORE", 40.0),
		},

		Scanner: ScannerConfig{
			MinRequiredBars:    getEnvInt("SCANNER_MIN_REQUIRED_BARS", 20),
			SignalCooldown:     getEnvDuration("SCANNER_SIGNAL_COOLDOWN", 600*time.Second),
			RSIGuardMax:        getEnvFloat("SCANNER_RSI_GUARD_MAX", 75.0),
			RSIGuardMaxBull:    getEnvFloat("SCANNER_RSI_GUARD_MAX_BULL", 85.0),
			VolumeRatioWarning: getEnvFloat("SCANNER_VOLUME_RATIO_WARNING", 2.0),
			VWAPDeviationWarn:  getEnvFloat("SCANNER_VWAP_DEVIATION_WARNING", 0.02),
			NoTradeStart:       getEnv("SCANNER_NO_TRADE_WINDOW_START", "09:00"),
			NoTradeEnd:         getEnv("SCANNER_NO_TRADE_WINDOW_END", "09:15"),
			DangerZoneStart:    getEnv("SCANNER_DANGER_ZONE_START", "14:00"),
			DangerZoneEnd:      getEnv("SCANNER_DANGER_ZONE_END", "15:00"),

			ConvictionEnabled:        getEnvBool("SCANNER_CONVICTION_ENTRY_ENABLED", true),
			ConvictionMinHybridScore: getEnvFloat("SCANNER_CONVICTION_MIN_HYBRID_SCORE", 70.0),
			ConvictionMinLLMScore:    getEnvFloat("SCANNER_CONVICTION_MIN_LLM_SCORE", 72.0),
			ConvictionMaxGainPct:     getEnvFloat("SCANNER_CONVICTION_MAX_GAIN_PCT", 3.0),
			ConvictionWindowStart:    getEnv("SCANNER_CONVICTION_WINDOW_START", "09:15"),
			ConvictionWindowEnd:      getEnv("SCANNER_CONVICTION_WINDOW_END", "10:30"),

			MomentumLimitOrder:       getEnvBool("SCANNER_MOMENTUM_LIMIT_ORDER_ENABLED", true),
			MomentumLimitPremium:     getEnvFloat("SCANNER_MOMENTUM_LIMIT_PREMIUM", 0.003),
			MomentumLimitTimeout:     getEnvDuration("SCANNER_MOMENTUM_LIMIT_TIMEOUT", 10*time.Second),
			MomentumConfirmationBars: getEnvInt("SCANNER_MOMENTUM_CONFIRMATION_BARS", 1),
			MomentumMaxGainPct:       getEnvFloat("SCANNER_MOMENTUM_MAX_GAIN_PCT", 7.0),
		},

		Sell: SellConfig{
			RSIOverboughtThreshold: getEnvFloat("SELL_RSI_OVERBOUGHT_THRESHOLD", 75.0),
			TrailingEnabled:        getEnvBool("SELL_TRAILING_ENABLED", true),
			TrailingActivationPct:  getEnvFloat("SELL_TRAILING_ACTIVATION_PCT", 5.0),
			TrailingMinProfitPct:   getEnvFloat("SELL_TRAILING_MIN_PROFIT_PCT", 3.0),
			ProfitTargetPct:        getEnvFloat("SELL_PROFIT_TARGET_PCT", 8.0),
			StopLossPct:            getEnvFloat("SELL_STOP_LOSS_PCT", 5.0),
			HardStopPct:            getEnvFloat("SELL_HARD_STOP_PCT", 10.0),
			ProfitFloorActivation:  getEnvFloat("SELL_PROFIT_FLOOR_ACTIVATION_PCT", 15.0),
			ProfitFloorLevel:       getEnvFloat("SELL_PROFIT_FLOOR_LEVEL_PCT", 10.0),
			BreakevenActivationPct: getEnvFloat("SELL_BREAKEVEN_ACTIVATION_PCT", 3.0),
			BreakevenLevelPct:      getEnvFloat("SELL_BREAKEVEN_LEVEL_PCT", 0.3),
			TimeExitBullDays:       getEnvInt("SELL_TIME_EXIT_BULL_DAYS", 20),
			TimeExitSidewaysDays:   getEnvInt("SELL_TIME_EXIT_SIDEWAYS_DAYS", 35),
		},

		Signal: SignalConfig{
			GoldenCrossShort: getEnvInt("SIGNAL_GOLDEN_CROSS_SHORT", 5),
			GoldenCrossLong:  getEnvInt("SIGNAL_GOLDEN_CROSS_LONG", 20),
			RSIOversold:      getEnvFloat("SIGNAL_RSI_OVERSOLD", 30),
			RSIOversoldBull:  getEnvFloat("SIGNAL_RSI_OVERSOLD_BULL", 40),
		},

		Telegram: TelegramConfig{
			BotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		},
	}

	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.Telegram.ChatID = id
	}

	return cfg, nil
}

// Location returns the configured market timezone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.FixedZone("KST", 9*3600)
	}
	return loc
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}
