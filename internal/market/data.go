// Package market wraps the external market-data tool provider: reference
// prices for the exit path and pair/boost feeds for discovery.
package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/solbot/internal/pricecache"
	"github.com/web3guy0/solbot/internal/tools"
)

// Typed data-shape errors; transient for the affected call.
var (
	ErrNoPairs = errors.New("market: no pairs returned for token")
	ErrNoPrice = errors.New("market: pair has no usable priceUsd")
)

// FlexFloat parses a JSON number that providers sometimes encode as a string.
type FlexFloat float64

func (f *FlexFloat) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = FlexFloat(v)
	return nil
}

// Pair is one trading pair as reported by the market-data provider.
type Pair struct {
	ChainID   string `json:"chainId"`
	BaseToken struct {
		Address string `json:"address"`
		Symbol  string `json:"symbol"`
	} `json:"baseToken"`
	PriceUSD FlexFloat `json:"priceUsd"`
	Volume   struct {
		H24 FlexFloat `json:"h24"`
	} `json:"volume"`
	Liquidity *struct {
		USD FlexFloat `json:"usd"`
	} `json:"liquidity"`
	MarketCap   FlexFloat `json:"marketCap"`
	FDV         FlexFloat `json:"fdv"`
	PriceChange struct {
		H24 FlexFloat `json:"h24"`
	} `json:"priceChange"`
	PairCreatedAt int64 `json:"pairCreatedAt"` // ms epoch, 0 when unknown
}

// LiquidityUSD returns the pair's USD liquidity, or 0 when not reported.
func (p *Pair) LiquidityUSD() float64 {
	if p.Liquidity == nil {
		return 0
	}
	return float64(p.Liquidity.USD)
}

// AgeHours returns the pair age in hours, or -1 when the creation time is
// unknown.
func (p *Pair) AgeHours(now time.Time) float64 {
	if p.PairCreatedAt <= 0 {
		return -1
	}
	created := time.UnixMilli(p.PairCreatedAt)
	return now.Sub(created).Hours()
}

// BoostedToken is one entry of the boosted-token feeds.
type BoostedToken struct {
	ChainID      string `json:"chainId"`
	TokenAddress string `json:"tokenAddress"`
}

// Reference is a reference price with optional liquidity.
type Reference struct {
	PriceUSD     decimal.Decimal
	LiquidityUSD decimal.Decimal
	HasLiquidity bool
}

// Source fetches market data through the provider and caches reference
// prices.
type Source struct {
	provider tools.Provider
	cache    *pricecache.Cache
}

// NewSource creates a market-data source backed by the given provider. The
// cache may be nil, in which case every reference fetch goes to the provider.
func NewSource(provider tools.Provider, cache *pricecache.Cache) *Source {
	return &Source{provider: provider, cache: cache}
}

// FetchReference returns the reference price (and liquidity when reported)
// for a token, serving from the price cache when fresh.
func (s *Source) FetchReference(ctx context.Context, chain, token string) (Reference, error) {
	if s.cache != nil {
		if v := s.cache.Get(chain, token); v != nil {
			if ref, ok := v.(Reference); ok {
				return ref, nil
			}
		}
	}

	ref, err := s.fetchReferenceFresh(ctx, chain, token)
	if err != nil {
		return Reference{}, err
	}
	if s.cache != nil {
		s.cache.Set(chain, token, ref)
	}
	return ref, nil
}

func (s *Source) fetchReferenceFresh(ctx context.Context, chain, token string) (Reference, error) {
	pairs, err := s.GetTokenPools(ctx, chain, token)
	if err != nil {
		return Reference{}, err
	}
	if len(pairs) == 0 {
		return Reference{}, fmt.Errorf("%w: %s", ErrNoPairs, token)
	}

	first := pairs[0]
	if first.PriceUSD <= 0 {
		return Reference{}, fmt.Errorf("%w: %s", ErrNoPrice, token)
	}

	ref := Reference{PriceUSD: decimal.NewFromFloat(float64(first.PriceUSD))}
	if first.Liquidity != nil {
		ref.LiquidityUSD = decimal.NewFromFloat(float64(first.Liquidity.USD))
		ref.HasLiquidity = true
	}
	return ref, nil
}

// GetTokenPools fetches all pairs for a token.
func (s *Source) GetTokenPools(ctx context.Context, chain, token string) ([]Pair, error) {
	raw, err := s.provider.Call(ctx, "get_token_pools", tools.Args{
		"chainId":      chain,
		"tokenAddress": token,
	})
	if err != nil {
		return nil, fmt.Errorf("get_token_pools %s: %w", token, err)
	}
	return decodePairs(raw)
}

// SearchPairs issues a free-text pair search.
func (s *Source) SearchPairs(ctx context.Context, query string) ([]Pair, error) {
	raw, err := s.provider.Call(ctx, "search_pairs", tools.Args{"query": query})
	if err != nil {
		return nil, fmt.Errorf("search_pairs %q: %w", query, err)
	}
	return decodePairs(raw)
}

// GetTopBoostedTokens fetches the "top boosted" token feed.
func (s *Source) GetTopBoostedTokens(ctx context.Context) ([]BoostedToken, error) {
	return s.fetchBoosted(ctx, "get_top_boosted_tokens")
}

// GetLatestBoostedTokens fetches the "latest boosted" token feed.
func (s *Source) GetLatestBoostedTokens(ctx context.Context) ([]BoostedToken, error) {
	return s.fetchBoosted(ctx, "get_latest_boosted_tokens")
}

func (s *Source) fetchBoosted(ctx context.Context, method string) ([]BoostedToken, error) {
	raw, err := s.provider.Call(ctx, method, tools.Args{})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}

	var list []BoostedToken
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var wrapped struct {
		Tokens []BoostedToken `json:"tokens"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Tokens != nil {
		return wrapped.Tokens, nil
	}
	return nil, fmt.Errorf("%s: unexpected response shape", method)
}

// decodePairs accepts either a bare pair array or a {pairs: [...]} wrapper.
func decodePairs(raw json.RawMessage) ([]Pair, error) {
	var pairs []Pair
	if err := json.Unmarshal(raw, &pairs); err == nil {
		return pairs, nil
	}
	var wrapped struct {
		Pairs []Pair `json:"pairs"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Pairs != nil {
		return wrapped.Pairs, nil
	}
	return nil, errors.New("market: unexpected pair response shape")
}
