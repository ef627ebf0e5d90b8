package trader

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/solbot/internal/tools"
)

// Side of a trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// argVariant is the inferred meaning of one schema property. Classification
// is name-based: trader providers disagree on naming but not on vocabulary.
type argVariant int

const (
	argChain argVariant = iota
	argSide
	argDryRun
	argQuotePayload
	argInputToken
	argOutputToken
	argTokenAddress
	argStableMint
	argSlippageBps
	argSlippagePct
	argNotionalUSD
	argLamports
	argAmount
	argInputDecimals
	argTokenDecimals
	argSymbol
)

var sideWords = []string{"side", "action", "direction", "trade_side"}
var quoteWords = []string{"quote", "route", "route_plan", "swap_quote"}
var tokenWords = []string{"mint", "token", "address", "asset", "coin"}
var inputWords = []string{"inmint", "tokenin", "input", "from", "source", "sell"}
var outputWords = []string{"outmint", "tokenout", "output", "destination", "dest", "buy"}
var amountWords = []string{"amount", "size", "qty", "quantity"}

// classifyArg maps a schema property name to its inferred variant.
func classifyArg(name string) (argVariant, bool) {
	n := strings.ToLower(name)

	switch {
	case containsAny(n, "chain", "network"):
		return argChain, true
	case strings.Contains(n, "dry") && strings.Contains(n, "run"):
		return argDryRun, true
	case containsAny(n, sideWords...):
		return argSide, true
	// Decimals before the token-ish check: "tokenDecimals" is a decimals
	// property, not a token address.
	case strings.Contains(n, "decimal"):
		if strings.Contains(n, "input") || strings.HasPrefix(n, "in_") || strings.HasPrefix(n, "indecimal") {
			return argInputDecimals, true
		}
		return argTokenDecimals, true
	case strings.Contains(n, "slippage") && strings.Contains(n, "bps"):
		return argSlippageBps, true
	case strings.Contains(n, "slippage"):
		return argSlippagePct, true
	// Stable-mint properties before the route-payload words: "quoteMint" is
	// a mint address, not a swap route.
	case strings.Contains(n, "mint") && containsAny(n, "quote", "stable", "usdc"):
		return argStableMint, true
	case containsAny(n, quoteWords...):
		return argQuotePayload, true
	case isTokenish(n):
		if isInputFlavored(n) {
			return argInputToken, true
		}
		if isOutputFlavored(n) {
			return argOutputToken, true
		}
		return argTokenAddress, true
	case containsAny(n, "notional", "usd"):
		return argNotionalUSD, true
	case strings.Contains(n, "lamport"):
		return argLamports, true
	case containsAny(n, amountWords...):
		return argAmount, true
	case strings.Contains(n, "symbol"):
		return argSymbol, true
	}
	return 0, false
}

func containsAny(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func isTokenish(n string) bool {
	return containsAny(n, tokenWords...)
}

func isInputFlavored(n string) bool {
	if containsAny(n, inputWords...) {
		return true
	}
	return n == "in" || strings.HasPrefix(n, "in_") || strings.HasSuffix(n, "_in")
}

func isOutputFlavored(n string) bool {
	if containsAny(n, outputWords...) {
		return true
	}
	// "toToken", "toMint" — a "to" prefix directly followed by a token word.
	if strings.HasPrefix(n, "to") && startsWithTokenWord(n[2:]) {
		return true
	}
	return n == "to" || strings.HasPrefix(n, "to_") || strings.HasSuffix(n, "_to") || strings.HasSuffix(n, "_out")
}

func startsWithTokenWord(s string) bool {
	for _, w := range tokenWords {
		if strings.HasPrefix(s, w) {
			return true
		}
	}
	return false
}

// argContext carries everything value synthesis may need for one call.
type argContext struct {
	chain          string
	side           Side
	token          string
	stableMint     string
	notionalUSD    decimal.Decimal
	quantity       decimal.Decimal // sell only
	nativePriceUSD decimal.Decimal // zero when unknown
	tokenDecimals  int
	slippageBps    int
	quotePayload   interface{} // execute only, nil otherwise
}

// buildArgs synthesizes the argument map for one resolved tool from its
// declared schema. All required properties must resolve; unknown optional
// properties are omitted.
func buildArgs(spec tools.Spec, c argContext) (tools.Args, error) {
	args := tools.Args{}

	for name := range spec.InputSchema.Properties {
		variant, ok := classifyArg(name)
		if !ok {
			continue
		}
		value, ok := synthesizeArg(variant, c)
		if ok {
			args[name] = value
		}
	}

	for _, req := range spec.InputSchema.Required {
		if _, ok := args[req]; !ok {
			return nil, fmt.Errorf("trader tool %s: cannot infer required argument %q", spec.Name, req)
		}
	}
	return args, nil
}

func synthesizeArg(v argVariant, c argContext) (interface{}, bool) {
	switch v {
	case argChain:
		return c.chain, true
	case argSide:
		return string(c.side), true
	case argDryRun:
		return false, true
	case argQuotePayload:
		if c.quotePayload == nil {
			return nil, false
		}
		return c.quotePayload, true
	case argInputToken:
		if c.side == SideBuy {
			return NativeMint, true
		}
		return c.token, true
	case argOutputToken:
		if c.side == SideBuy {
			return c.token, true
		}
		return NativeMint, true
	case argTokenAddress:
		return c.token, true
	case argStableMint:
		if c.stableMint == "" {
			return USDCMint, true
		}
		return c.stableMint, true
	case argSlippageBps:
		return c.slippageBps, true
	case argSlippagePct:
		pct := decimal.NewFromInt(int64(c.slippageBps)).Div(decimal.NewFromInt(100))
		f, _ := pct.Round(4).Float64()
		return f, true
	case argNotionalUSD:
		f, _ := c.notionalUSD.Float64()
		return f, true
	case argLamports:
		if c.nativePriceUSD.IsPositive() {
			lamports := c.notionalUSD.Div(c.nativePriceUSD).Mul(decimal.NewFromInt(1e9))
			return lamports.Floor().IntPart(), true
		}
		log.Warn().Msg("native price unknown, passing raw notional lamports")
		return c.notionalUSD.Mul(decimal.NewFromInt(1e9)).Floor().IntPart(), true
	case argAmount:
		if c.side == SideSell && c.quantity.IsPositive() {
			f, _ := c.quantity.Float64()
			return f, true
		}
		if c.nativePriceUSD.IsPositive() {
			f, _ := c.notionalUSD.Div(c.nativePriceUSD).Float64()
			return f, true
		}
		f, _ := c.notionalUSD.Float64()
		return f, true
	case argInputDecimals:
		if c.side == SideBuy {
			return 9, true
		}
		return c.tokenDecimals, true
	case argTokenDecimals:
		return c.tokenDecimals, true
	case argSymbol:
		if c.side == SideBuy {
			return "USDC", true
		}
		return "TOKEN", true
	}
	return nil, false
}
