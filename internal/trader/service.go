// Package trader adapts an opaque external trader tool into a uniform
// quote/execute/balance interface. Trader providers differ in method naming,
// argument shape and response shape; everything here exists to paper over
// that.
package trader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/solbot/internal/config"
	"github.com/web3guy0/solbot/internal/tools"
)

// ErrToolResolution marks a configuration error: the trader's declared tool
// list cannot serve quotes or trades.
var ErrToolResolution = errors.New("trader: cannot resolve tools")

// Quote is a normalized pre-trade price estimate.
type Quote struct {
	PriceUSD      decimal.Decimal
	QuantityToken decimal.Decimal // zero when the quote does not report one
	Raw           json.RawMessage
}

// Result is a normalized execution outcome. Failed attempts still produce a
// Result so the caller can record them.
type Result struct {
	Success       bool
	PriceUSD      decimal.Decimal
	QuantityToken decimal.Decimal
	TxHash        string
	Error         string
	Raw           json.RawMessage
}

// TradeParams describes one execute_trade request.
type TradeParams struct {
	Side        Side
	Token       string
	NotionalUSD decimal.Decimal
	Quantity    decimal.Decimal // sell only; human token units
	DryRun      bool
	Quote       *Quote // optional route hint
}

// NativePriceFn supplies the current native token USD price; ok is false
// when the price cell is empty.
type NativePriceFn func() (decimal.Decimal, bool)

type resolvedTools struct {
	quote   *tools.Spec
	execute *tools.Spec
	buy     *tools.Spec
	sell    *tools.Spec
	balance *tools.Spec
}

// Service is the trader execution service.
type Service struct {
	provider    tools.Provider
	cfg         *config.Config
	decimals    *DecimalsCache
	nativePrice NativePriceFn

	resolveMu  sync.Mutex
	resolved   *resolvedTools
	resolveErr error
}

// NewService wires the trader provider. Tool resolution is deferred to first
// use and memoized, including its failure.
func NewService(provider tools.Provider, cfg *config.Config, decimals *DecimalsCache, nativePrice NativePriceFn) *Service {
	return &Service{
		provider:    provider,
		cfg:         cfg,
		decimals:    decimals,
		nativePrice: nativePrice,
	}
}

var quoteExact = []string{"get_quote", "quote", "getQuote", "quote_swap", "swap_quote", "jupiter_quote"}
var executeExact = []string{"swap", "execute_swap", "trade", "execute_trade", "place_order"}
var buyExact = []string{"buy_token", "buy", "buyToken"}
var sellExact = []string{"sell_token", "sell", "sellToken"}

func (s *Service) resolve(ctx context.Context) (*resolvedTools, error) {
	s.resolveMu.Lock()
	defer s.resolveMu.Unlock()
	if s.resolved != nil || s.resolveErr != nil {
		return s.resolved, s.resolveErr
	}

	specs, err := s.provider.Tools(ctx)
	if err != nil {
		// Transient: do not memoize, retry next call.
		return nil, fmt.Errorf("trader: list tools: %w", err)
	}

	settings := s.cfg.Snapshot()
	r := &resolvedTools{}

	r.quote = pickTool(specs, settings.QuoteMethod, nil, quoteExact, "quote")
	r.execute = pickTool(specs, settings.ExecuteMethod, r.quote, executeExact, "swap", "trade", "order")
	r.buy = pickTool(specs, "", nil, buyExact)
	r.sell = pickTool(specs, "", nil, sellExact)
	r.balance = pickTool(specs, "", nil, []string{"get_balance", "getBalance", "balance"})

	if r.quote == nil {
		s.resolveErr = fmt.Errorf("%w: no quote method among %d declared tools", ErrToolResolution, len(specs))
		return nil, s.resolveErr
	}
	if r.execute == nil && (r.buy == nil || r.sell == nil) {
		s.resolveErr = fmt.Errorf("%w: no execute method and no buy/sell pair", ErrToolResolution)
		return nil, s.resolveErr
	}

	s.resolved = r
	log.Info().
		Str("quote", r.quote.Name).
		Str("execute", specName(r.execute)).
		Str("buy", specName(r.buy)).
		Str("sell", specName(r.sell)).
		Msg("🔌 Trader tools resolved")
	return r, nil
}

func specName(s *tools.Spec) string {
	if s == nil {
		return ""
	}
	return s.Name
}

// pickTool prefers an explicit override, then the exact-name list in order,
// then any tool whose name contains one of the substrings. An already-taken
// spec is never matched by substring, so the execute lookup cannot land on
// the quote tool.
func pickTool(specs []tools.Spec, override string, taken *tools.Spec, exact []string, substrings ...string) *tools.Spec {
	if override != "" {
		for i := range specs {
			if specs[i].Name == override {
				return &specs[i]
			}
		}
		return nil
	}
	for _, name := range exact {
		for i := range specs {
			if specs[i].Name == name {
				return &specs[i]
			}
		}
	}
	for _, sub := range substrings {
		for i := range specs {
			if taken != nil && specs[i].Name == taken.Name {
				continue
			}
			if strings.Contains(strings.ToLower(specs[i].Name), sub) {
				return &specs[i]
			}
		}
	}
	return nil
}

// executeSpec picks the method for a side, preferring side-specific tools.
func (r *resolvedTools) executeSpec(side Side) *tools.Spec {
	if side == SideBuy && r.buy != nil {
		return r.buy
	}
	if side == SideSell && r.sell != nil {
		return r.sell
	}
	return r.execute
}

func (s *Service) argContext(ctx context.Context, side Side, token string, notionalUSD, quantity decimal.Decimal, quotePayload interface{}) argContext {
	settings := s.cfg.Snapshot()
	native := decimal.Zero
	if s.nativePrice != nil {
		if p, ok := s.nativePrice(); ok {
			native = p
		}
	}
	stable := settings.QuoteMint
	if stable == "" {
		stable = s.decimals.StableMint()
	}
	return argContext{
		chain:          settings.Chain,
		side:           side,
		token:          token,
		stableMint:     stable,
		notionalUSD:    notionalUSD,
		quantity:       quantity,
		nativePriceUSD: native,
		tokenDecimals:  s.decimals.Get(ctx, token),
		slippageBps:    settings.MaxSlippageBps,
		quotePayload:   quotePayload,
	}
}

// GetQuote fetches and normalizes a quote for the given side and notional.
func (s *Service) GetQuote(ctx context.Context, side Side, token string, notionalUSD, quantity decimal.Decimal) (*Quote, error) {
	r, err := s.resolve(ctx)
	if err != nil {
		return nil, err
	}

	c := s.argContext(ctx, side, token, notionalUSD, quantity, nil)
	args, err := buildArgs(*r.quote, c)
	if err != nil {
		return nil, err
	}

	raw, err := s.provider.Call(ctx, r.quote.Name, args)
	if err != nil {
		return nil, fmt.Errorf("trader quote %s: %w", token, err)
	}

	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("trader quote %s: decode: %w", token, err)
	}

	price, ok := normalizePrice(decoded, side, c.nativePriceUSD, c.tokenDecimals)
	if !ok || !price.IsPositive() {
		return nil, fmt.Errorf("trader quote %s: no usable price in response", token)
	}

	q := &Quote{PriceUSD: price, Raw: raw}
	if qty, ok := normalizeQuantity(decoded, side, c.tokenDecimals, notionalUSD, decimal.Zero); ok {
		q.QuantityToken = qty
	}
	return q, nil
}

// ExecuteTrade performs (or simulates) one trade and normalizes the outcome.
// A dry run never invokes the trader: it synthesizes a successful fill at
// the quote price. On the live path a response without a transaction hash is
// a failure even when the trader claims success.
func (s *Service) ExecuteTrade(ctx context.Context, p TradeParams) (*Result, error) {
	r, err := s.resolve(ctx)
	if err != nil {
		return nil, err
	}

	if p.DryRun {
		return s.dryRunResult(p)
	}

	spec := r.executeSpec(p.Side)
	var quotePayload interface{}
	if p.Quote != nil && len(p.Quote.Raw) > 0 {
		if err := json.Unmarshal(p.Quote.Raw, &quotePayload); err != nil {
			quotePayload = nil
		}
	}

	c := s.argContext(ctx, p.Side, p.Token, p.NotionalUSD, p.Quantity, quotePayload)
	args, err := buildArgs(*spec, c)
	if err != nil {
		return nil, err
	}

	raw, err := s.provider.Call(ctx, spec.Name, args)
	if err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}

	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return &Result{Success: false, Error: "undecodable trader response", Raw: raw}, nil
	}

	res := &Result{Raw: raw}
	res.Success, res.Error = normalizeSuccess(decoded)
	res.TxHash = normalizeTxHash(decoded)

	if res.Success && res.TxHash == "" {
		res.Success = false
		res.Error = "No transaction hash in trader response"
	}

	if price, ok := normalizePrice(decoded, p.Side, c.nativePriceUSD, c.tokenDecimals); ok {
		res.PriceUSD = price
	}
	if qty, ok := normalizeQuantity(decoded, p.Side, c.tokenDecimals, p.NotionalUSD, res.PriceUSD); ok {
		res.QuantityToken = qty
	}
	if p.Side == SideSell && res.QuantityToken.IsZero() && p.Quantity.IsPositive() {
		res.QuantityToken = p.Quantity
	}
	return res, nil
}

func (s *Service) dryRunResult(p TradeParams) (*Result, error) {
	res := &Result{Success: true}

	switch {
	case p.Quote != nil && p.Quote.PriceUSD.IsPositive():
		res.PriceUSD = p.Quote.PriceUSD
	case p.Quantity.IsPositive() && p.NotionalUSD.IsPositive():
		res.PriceUSD = p.NotionalUSD.Div(p.Quantity)
	default:
		return nil, fmt.Errorf("trader dry run: no quote and no quantity to derive a price from")
	}

	switch {
	case p.Side == SideSell && p.Quantity.IsPositive():
		res.QuantityToken = p.Quantity
	case p.Quote != nil && p.Quote.QuantityToken.IsPositive():
		res.QuantityToken = p.Quote.QuantityToken
	default:
		res.QuantityToken = p.NotionalUSD.Div(res.PriceUSD)
	}
	return res, nil
}

// GetWalletTokenBalance reads the wallet's balance of a token through the
// optional get_balance tool. Returns nil when the tool is missing or the
// response has no usable amount.
func (s *Service) GetWalletTokenBalance(ctx context.Context, token string) (*decimal.Decimal, error) {
	r, err := s.resolve(ctx)
	if err != nil {
		return nil, err
	}
	if r.balance == nil {
		return nil, nil
	}

	args, err := buildArgs(*r.balance, s.argContext(ctx, SideSell, token, decimal.Zero, decimal.Zero, nil))
	if err != nil {
		return nil, err
	}

	raw, err := s.provider.Call(ctx, r.balance.Name, args)
	if err != nil {
		return nil, fmt.Errorf("trader balance %s: %w", token, err)
	}

	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, nil
	}
	if amount, ok := findDecimal(decoded, "uiAmount", "ui_amount"); ok {
		return &amount, nil
	}
	return nil, nil
}

// TokenDecimals exposes the decimals cache for callers that need raw/human
// conversions.
func (s *Service) TokenDecimals(ctx context.Context, mint string) int {
	return s.decimals.Get(ctx, mint)
}
