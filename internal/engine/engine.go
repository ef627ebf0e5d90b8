// Package engine orchestrates the strategy: discovery cycles that open
// positions and exit checks that ratchet trailing stops and close them.
package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/solbot/internal/config"
	"github.com/web3guy0/solbot/internal/discovery"
	"github.com/web3guy0/solbot/internal/market"
	"github.com/web3guy0/solbot/internal/storage"
	"github.com/web3guy0/solbot/internal/trader"
)

const (
	nativePriceMaxAge = 120 * time.Second
	errorSkipWindow   = 5 * time.Minute
)

// Trader is the slice of the trader execution service the engine needs.
type Trader interface {
	GetQuote(ctx context.Context, side trader.Side, token string, notionalUSD, quantity decimal.Decimal) (*trader.Quote, error)
	ExecuteTrade(ctx context.Context, p trader.TradeParams) (*trader.Result, error)
	GetWalletTokenBalance(ctx context.Context, token string) (*decimal.Decimal, error)
}

// PriceSource supplies cached reference prices.
type PriceSource interface {
	FetchReference(ctx context.Context, chain, token string) (market.Reference, error)
}

// Discoverer is the candidate pipeline.
type Discoverer interface {
	SetFilters(discovery.Filters)
	Run(ctx context.Context, held map[string]bool, maxApproved int) ([]discovery.Candidate, []string)
}

// CycleResult is the outcome of one discovery or exit-check cycle.
type CycleResult struct {
	Summary         string
	Errors          []string
	PositionsOpened []storage.Position
	PositionsClosed []storage.Position
	StartedAt       time.Time
	FinishedAt      time.Time
}

// Eventful reports whether the result is worth notifying about.
func (r *CycleResult) Eventful() bool {
	return len(r.PositionsOpened) > 0 || len(r.PositionsClosed) > 0 || len(r.Errors) > 0
}

func (r *CycleResult) addError(format string, args ...interface{}) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// Engine runs single-shot strategy cycles over the shared store.
type Engine struct {
	cfg      *config.Config
	store    *storage.Store
	prices   PriceSource
	trader   Trader
	pipeline Discoverer

	mu          sync.Mutex
	nativePrice decimal.Decimal
	nativeSet   bool
	nativeAt    time.Time
	errorSkip   map[string]time.Time

	now func() time.Time
}

// New wires the engine. The native price cell starts empty and is refreshed
// on cycle entry.
func New(cfg *config.Config, store *storage.Store, prices PriceSource, tr Trader, pipeline Discoverer) *Engine {
	return &Engine{
		cfg:       cfg,
		store:     store,
		prices:    prices,
		trader:    tr,
		pipeline:  pipeline,
		errorSkip: make(map[string]time.Time),
		now:       time.Now,
	}
}

// NativePrice returns the cached native token USD price. ok is false until
// the first successful refresh.
func (e *Engine) NativePrice() (decimal.Decimal, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nativePrice, e.nativeSet
}

// refreshNativePrice refreshes the native price cell when it is older than
// nativePriceMaxAge. Failures keep the previous value.
func (e *Engine) refreshNativePrice(ctx context.Context, chain string) {
	e.mu.Lock()
	fresh := e.nativeSet && e.now().Sub(e.nativeAt) < nativePriceMaxAge
	e.mu.Unlock()
	if fresh {
		return
	}

	ref, err := e.prices.FetchReference(ctx, chain, trader.NativeMint)
	if err != nil {
		log.Warn().Err(err).Msg("⚠️ native price refresh failed")
		return
	}

	e.mu.Lock()
	e.nativePrice = ref.PriceUSD
	e.nativeSet = true
	e.nativeAt = e.now()
	e.mu.Unlock()
}

func (e *Engine) inErrorSkipWindow(token string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	until, ok := e.errorSkip[strings.ToLower(token)]
	if !ok {
		return false
	}
	if e.now().After(until) {
		delete(e.errorSkip, strings.ToLower(token))
		return false
	}
	return true
}

func (e *Engine) addErrorSkipWindow(token string) {
	e.mu.Lock()
	e.errorSkip[strings.ToLower(token)] = e.now().Add(errorSkipWindow)
	e.mu.Unlock()
}

// RunDiscoveryCycle executes one discovery cycle. The skip-phase decrement
// runs on every path except the disabled early return; a fatal storage error
// is returned to the scheduler.
func (e *Engine) RunDiscoveryCycle(ctx context.Context) (*CycleResult, error) {
	res := &CycleResult{StartedAt: e.now().UTC()}
	finish := func() *CycleResult {
		res.FinishedAt = e.now().UTC()
		return res
	}

	s := e.cfg.Snapshot()
	if !s.Enabled {
		res.Summary = "disabled"
		return finish(), nil
	}

	defer func() {
		if _, err := e.store.DecrementAllSkipPhases(s.Chain); err != nil {
			log.Error().Err(err).Msg("skip-phase decrement failed")
			res.addError("decrement skip phases: %v", err)
		}
	}()

	e.refreshNativePrice(ctx, s.Chain)
	if _, ok := e.NativePrice(); !ok {
		res.Summary = "native price unavailable"
		res.addError("native price unavailable for %s", s.Chain)
		return finish(), nil
	}

	openCount, err := e.store.CountOpenPositions(s.Chain)
	if err != nil {
		return nil, fmt.Errorf("count open positions: %w", err)
	}
	slots := s.MaxPositions - openCount
	if slots <= 0 {
		res.Summary = "full"
		return finish(), nil
	}

	if s.DailyLossLimitUSD.IsPositive() {
		pnl, err := e.store.GetDailyPnL(e.now().UTC())
		if err != nil {
			return nil, fmt.Errorf("daily pnl: %w", err)
		}
		if pnl.LessThanOrEqual(s.DailyLossLimitUSD.Neg()) {
			res.Summary = "daily loss limit reached"
			log.Warn().Str("pnl", pnl.StringFixed(2)).Msg("🛑 daily loss limit reached")
			return finish(), nil
		}
	}

	e.pipeline.SetFilters(discovery.Filters{
		Chain:            s.Chain,
		MinVolumeUSD:     s.MinVolumeUSD,
		MinLiquidityUSD:  s.MinLiquidityUSD,
		MinMarketCapUSD:  s.MinMarketCapUSD,
		MinTokenAgeHours: s.MinTokenAgeHours,
		MinMomentumScore: s.MinMomentumScore,
		MaxCandidates:    s.MaxCandidates,
	})

	held, err := e.heldTokens(s.Chain)
	if err != nil {
		return nil, err
	}

	candidates, pipeErrs := e.pipeline.Run(ctx, held, slots)
	res.Errors = append(res.Errors, pipeErrs...)

	for _, cand := range candidates {
		if len(res.PositionsOpened) >= slots {
			break
		}
		if e.inErrorSkipWindow(cand.TokenAddress) {
			log.Debug().Str("token", cand.TokenAddress).Msg("in error-skip window")
			continue
		}

		phases, err := e.store.GetSkipPhases(cand.TokenAddress, s.Chain)
		if err != nil {
			return nil, fmt.Errorf("get skip phases: %w", err)
		}
		if phases > 0 {
			log.Info().Str("token", cand.TokenAddress).Int("phases", phases).
				Msg("⏭️ token in skip phase")
			continue
		}

		last, err := e.store.GetLastEntryTime(cand.TokenAddress, s.Chain)
		if err != nil {
			return nil, fmt.Errorf("last entry time: %w", err)
		}
		if last != nil && e.now().Sub(*last) < time.Duration(s.CooldownSeconds)*time.Second {
			log.Debug().Str("token", cand.TokenAddress).Msg("in cooldown")
			continue
		}

		pos, err := e.openPosition(ctx, s, cand)
		if err != nil {
			res.addError("open %s: %v", cand.TokenAddress, err)
			e.addErrorSkipWindow(cand.TokenAddress)
			continue
		}
		res.PositionsOpened = append(res.PositionsOpened, *pos)
	}

	res.Summary = fmt.Sprintf("discovery: %d candidates, %d opened, %d errors",
		len(candidates), len(res.PositionsOpened), len(res.Errors))
	return finish(), nil
}

func (e *Engine) heldTokens(chain string) (map[string]bool, error) {
	open, err := e.store.ListOpenPositions(chain)
	if err != nil {
		return nil, fmt.Errorf("list open positions: %w", err)
	}
	held := make(map[string]bool, len(open))
	for _, p := range open {
		held[strings.ToLower(p.TokenAddress)] = true
	}
	return held, nil
}

// openPosition buys one candidate and persists the position plus its buy
// execution before returning.
func (e *Engine) openPosition(ctx context.Context, s config.Settings, cand discovery.Candidate) (*storage.Position, error) {
	quote, err := e.trader.GetQuote(ctx, trader.SideBuy, cand.TokenAddress, s.PositionSizeUSD, decimal.Zero)
	if err != nil {
		return nil, fmt.Errorf("quote: %w", err)
	}

	result, err := e.trader.ExecuteTrade(ctx, trader.TradeParams{
		Side:        trader.SideBuy,
		Token:       cand.TokenAddress,
		NotionalUSD: s.PositionSizeUSD,
		DryRun:      s.DryRun,
		Quote:       quote,
	})
	if err != nil {
		return nil, fmt.Errorf("execute buy: %w", err)
	}
	if !result.Success {
		e.recordAttempt(nil, cand.TokenAddress, cand.Symbol, s.Chain, storage.ActionBuy, s.PositionSizeUSD, result)
		return nil, fmt.Errorf("buy failed: %s", result.Error)
	}

	entryPrice := result.PriceUSD
	if !entryPrice.IsPositive() {
		entryPrice = quote.PriceUSD
	}
	if !entryPrice.IsPositive() {
		return nil, fmt.Errorf("buy succeeded but no executed price for %s", cand.TokenAddress)
	}

	quantity := result.QuantityToken
	if !quantity.IsPositive() {
		quantity = s.PositionSizeUSD.Div(entryPrice)
	}

	stop := entryPrice.Mul(pctFactor(-s.StopLossPct))
	take := entryPrice.Mul(pctFactor(s.TakeProfitPct))

	pos, err := e.store.AddPosition(storage.AddPositionParams{
		TokenAddress:       cand.TokenAddress,
		Symbol:             cand.Symbol,
		Chain:              s.Chain,
		EntryPrice:         entryPrice,
		QuantityToken:      quantity,
		NotionalUSD:        s.PositionSizeUSD,
		StopPrice:          stop,
		TakePrice:          take,
		DryRun:             s.DryRun,
		MomentumScore:      cand.MomentumScore,
		DiscoveryReasoning: cand.Reasoning,
	})
	if err != nil {
		return nil, fmt.Errorf("persist position: %w", err)
	}

	e.recordAttempt(&pos.ID, cand.TokenAddress, cand.Symbol, s.Chain, storage.ActionBuy, s.PositionSizeUSD, result)

	log.Info().
		Str("token", cand.TokenAddress).
		Str("symbol", pos.Symbol).
		Str("entry", entryPrice.StringFixed(8)).
		Str("qty", quantity.StringFixed(4)).
		Bool("dry_run", s.DryRun).
		Msg("🟢 Position opened")
	return pos, nil
}

func (e *Engine) recordAttempt(posID *int64, token, symbol, chain, action string, notional decimal.Decimal, r *trader.Result) {
	_, err := e.store.RecordExecution(storage.RecordExecutionParams{
		PositionID:           posID,
		TokenAddress:         token,
		Symbol:               symbol,
		Chain:                chain,
		Action:               action,
		RequestedNotionalUSD: notional,
		ExecutedPrice:        r.PriceUSD,
		QuantityToken:        r.QuantityToken,
		TxHash:               r.TxHash,
		Success:              r.Success,
		Error:                r.Error,
		MetadataJSON:         string(r.Raw),
	})
	if err != nil {
		log.Error().Err(err).Str("token", token).Msg("failed to record execution")
	}
}

// pctFactor converts a percent delta into a multiplier, e.g. -8 -> 0.92.
func pctFactor(pct float64) decimal.Decimal {
	return decimal.NewFromFloat(1 + pct/100)
}
