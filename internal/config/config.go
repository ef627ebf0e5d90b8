package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

// Settings holds the live-tunable strategy parameters. The scheduler and
// engine read a fresh snapshot each cycle so edits take effect immediately.
type Settings struct {
	// Master switches
	Enabled bool
	DryRun  bool

	// Target chain (normalized lowercase)
	Chain string

	// Position sizing
	MaxPositions    int
	PositionSizeUSD decimal.Decimal

	// Exit parameters (percent)
	TakeProfitPct   float64
	StopLossPct     float64
	TrailingStopPct float64
	MaxHoldHours    float64

	// Loop cadences
	DiscoveryIntervalMins int
	PriceCheckSeconds     int

	// Risk gates
	DailyLossLimitUSD decimal.Decimal
	CooldownSeconds   int

	// Discovery pre-filter thresholds
	MinVolumeUSD     float64
	MinLiquidityUSD  float64
	MinMarketCapUSD  float64
	MinTokenAgeHours float64
	MaxCandidates    int

	// Decision fallback
	MinMomentumScore float64

	// Trader
	MaxSlippageBps int
	QuoteMint      string
	RPCURL         string
	QuoteMethod    string
	ExecuteMethod  string
}

// Config holds all configuration for the bot. Static fields are set once at
// load; Settings are guarded so they can be tuned while the bot runs.
type Config struct {
	// Telegram
	TelegramToken  string
	TelegramChatID int64

	// Database
	DatabasePath string

	// External tool provider endpoints
	MarketDataURL string
	SafetyURL     string
	TraderURL     string

	// Mode
	Debug bool

	mu       sync.RWMutex
	settings Settings
}

// New builds a Config around explicit settings, bypassing the environment.
// Used by tests and embedders.
func New(s Settings) *Config {
	s.Chain = strings.ToLower(s.Chain)
	return &Config{settings: s}
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		DatabasePath:  getEnv("DATABASE_PATH", "data/solbot.db"),
		Debug:         getEnvBool("DEBUG", false),

		MarketDataURL: getEnv("MARKET_DATA_URL", ""),
		SafetyURL:     getEnv("SAFETY_URL", ""),
		TraderURL:     getEnv("TRADER_URL", ""),

		settings: Settings{
			Enabled: getEnvBool("STRATEGY_ENABLED", true),
			DryRun:  getEnvBool("DRY_RUN", true),

			Chain: strings.ToLower(getEnv("CHAIN", "solana")),

			MaxPositions:    getEnvInt("MAX_POSITIONS", 5),
			PositionSizeUSD: getEnvDecimal("POSITION_SIZE_USD", decimal.NewFromInt(10)),

			TakeProfitPct:   getEnvFloat("TAKE_PROFIT_PCT", 15),
			StopLossPct:     getEnvFloat("STOP_LOSS_PCT", 8),
			TrailingStopPct: getEnvFloat("TRAILING_STOP_PCT", 5),
			MaxHoldHours:    getEnvFloat("MAX_HOLD_HOURS", 24),

			DiscoveryIntervalMins: getEnvInt("DISCOVERY_INTERVAL_MINS", 10),
			PriceCheckSeconds:     getEnvInt("PRICE_CHECK_SECONDS", 30),

			DailyLossLimitUSD: getEnvDecimal("DAILY_LOSS_LIMIT_USD", decimal.NewFromInt(50)),
			CooldownSeconds:   getEnvInt("COOLDOWN_SECONDS", 3600),

			MinVolumeUSD:     getEnvFloat("MIN_VOLUME_USD", 50000),
			MinLiquidityUSD:  getEnvFloat("MIN_LIQUIDITY_USD", 25000),
			MinMarketCapUSD:  getEnvFloat("MIN_MARKET_CAP_USD", 100000),
			MinTokenAgeHours: getEnvFloat("MIN_TOKEN_AGE_HOURS", 0),
			MaxCandidates:    getEnvInt("MAX_CANDIDATES", 3),

			MinMomentumScore: getEnvFloat("MIN_MOMENTUM_SCORE", 60),

			MaxSlippageBps: getEnvInt("MAX_SLIPPAGE_BPS", 100),
			QuoteMint:      getEnv("QUOTE_MINT", ""),
			RPCURL:         getEnv("RPC_URL", "https://api.mainnet-beta.solana.com"),
			QuoteMethod:    getEnv("TRADER_QUOTE_METHOD", ""),
			ExecuteMethod:  getEnv("TRADER_EXECUTE_METHOD", ""),
		},
	}

	// Parse chat ID
	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.TelegramChatID = id
	}

	if cfg.settings.Chain == "" {
		return nil, fmt.Errorf("CHAIN must not be empty")
	}

	return cfg, nil
}

// Snapshot returns a copy of the current settings.
func (c *Config) Snapshot() Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settings
}

// Update applies fn to the settings under the write lock. The chain is
// re-normalized afterwards so callers cannot store a mixed-case value.
func (c *Config) Update(fn func(*Settings)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.settings)
	c.settings.Chain = strings.ToLower(c.settings.Chain)
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

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}
