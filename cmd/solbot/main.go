// Solbot - Momentum Token Trading Bot
//
// The bot discovers momentum tokens on one chain, opens small USD-denominated
// positions through an external trader service and closes them on take-profit,
// trailing stop-loss, stop-loss or hold-time expiry.
//
// Strategy:
// 1. Scan boosted and trending token feeds on an interval
// 2. Filter deterministically (volume, liquidity, market cap, age)
// 3. Safety-check survivors and run the per-candidate decision loop
// 4. Open positions; ratchet trailing stops on the fast exit loop
// 5. Close on the first matching exit predicate
package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/solbot/internal/config"
	"github.com/web3guy0/solbot/internal/decision"
	"github.com/web3guy0/solbot/internal/discovery"
	"github.com/web3guy0/solbot/internal/engine"
	"github.com/web3guy0/solbot/internal/market"
	"github.com/web3guy0/solbot/internal/notify"
	"github.com/web3guy0/solbot/internal/pricecache"
	"github.com/web3guy0/solbot/internal/scheduler"
	"github.com/web3guy0/solbot/internal/storage"
	"github.com/web3guy0/solbot/internal/tools"
	"github.com/web3guy0/solbot/internal/trader"
)

const version = "1.0.0"

func main() {
	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// Load environment
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	settings := cfg.Snapshot()
	log.Info().
		Str("version", version).
		Str("chain", settings.Chain).
		Bool("dry_run", settings.DryRun).
		Msg("🚀 Solbot starting...")

	// Persistence store
	store, err := storage.New(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize store")
	}
	defer store.Close()

	// External tool providers
	if cfg.MarketDataURL == "" || cfg.TraderURL == "" {
		log.Fatal().Msg("MARKET_DATA_URL and TRADER_URL must be set")
	}
	marketProvider := tools.NewHTTPProvider("market-data", cfg.MarketDataURL)
	traderProvider := tools.NewHTTPProvider("trader", cfg.TraderURL)

	var safetyProvider tools.Provider
	if cfg.SafetyURL != "" {
		safetyProvider = tools.NewHTTPProvider("safety", cfg.SafetyURL)
	} else {
		log.Warn().Msg("⚠️ SAFETY_URL not set, all candidates will be unverified")
		safetyProvider = unverifiedSafety{}
	}

	// Market data over the shared price cache
	cache := pricecache.New(pricecache.DefaultTTL)
	source := market.NewSource(marketProvider, cache)

	// Decision loop. Without a model endpoint every candidate falls back to
	// the deterministic heuristic score.
	decider := decision.NewEngine(decision.UnavailableClient{}, marketProvider, safetyProvider)

	pipeline := discovery.NewPipeline(source, safetyProvider, decider, discovery.Filters{
		Chain:            settings.Chain,
		MinVolumeUSD:     settings.MinVolumeUSD,
		MinLiquidityUSD:  settings.MinLiquidityUSD,
		MinMarketCapUSD:  settings.MinMarketCapUSD,
		MinTokenAgeHours: settings.MinTokenAgeHours,
		MinMomentumScore: settings.MinMomentumScore,
		MaxCandidates:    settings.MaxCandidates,
	})

	// Strategy engine. The trader reads the native price from the engine's
	// refreshed cell.
	var eng *engine.Engine
	decimals := trader.NewDecimalsCache(settings.RPCURL, settings.QuoteMint)
	traderSvc := trader.NewService(traderProvider, cfg, decimals, func() (decimal.Decimal, bool) {
		return eng.NativePrice()
	})
	eng = engine.New(cfg, store, source, traderSvc, pipeline)

	// Notifiers
	var notifiers []notify.Notifier
	if cfg.TelegramToken != "" && cfg.TelegramChatID != 0 {
		tg, err := notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID)
		if err != nil {
			log.Warn().Err(err).Msg("⚠️ Telegram notifier disabled")
		} else {
			notifiers = append(notifiers, tg)
			mode := "LIVE"
			if settings.DryRun {
				mode = "DRY RUN"
			}
			if err := tg.NotifyStartup(mode); err != nil {
				log.Warn().Err(err).Msg("startup notification failed")
			}
		}
	}

	sched := scheduler.New(cfg, eng, notifiers...)
	if len(notifiers) > 0 {
		sched.SetSummarySource(store)
	}
	sched.Start()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("Shutting down...")
	sched.Stop()
}

// unverifiedSafety declares no tools and answers every summary request with
// an empty body, which classifies as unverified.
type unverifiedSafety struct{}

func (unverifiedSafety) Name() string { return "safety" }

func (unverifiedSafety) Tools(ctx context.Context) ([]tools.Spec, error) {
	return nil, nil
}

func (unverifiedSafety) Call(ctx context.Context, method string, args tools.Args) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}
