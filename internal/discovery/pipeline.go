// Package discovery implements the candidate pipeline: scan boosted and
// trending feeds, apply deterministic filters, drop held and unsafe tokens,
// then run the per-candidate decision loop.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/solbot/internal/decision"
	"github.com/web3guy0/solbot/internal/market"
	"github.com/web3guy0/solbot/internal/tools"
)

// Filters are the deterministic pre-filter thresholds. The engine propagates
// them from config at the start of every cycle.
type Filters struct {
	Chain            string
	MinVolumeUSD     float64
	MinLiquidityUSD  float64
	MinMarketCapUSD  float64
	MinTokenAgeHours float64
	MinMomentumScore float64
	MaxCandidates    int
}

// Candidate is a token that survived the pipeline with an approving verdict.
type Candidate struct {
	TokenAddress      string
	Symbol            string
	Chain             string
	PriceUSD          float64
	Volume24hUSD      float64
	LiquidityUSD      float64
	MarketCapUSD      float64
	PriceChange24hPct float64
	SafetyStatus      string
	SafetyScore       float64
	MomentumScore     float64
	Reasoning         string
}

// Pipeline runs one discovery pass over the market feeds.
type Pipeline struct {
	source  *market.Source
	safety  tools.Provider
	decider *decision.Engine

	mu      sync.Mutex
	filters Filters

	now func() time.Time
}

// NewPipeline wires the pipeline to its market source, safety provider and
// decision engine.
func NewPipeline(source *market.Source, safety tools.Provider, decider *decision.Engine, filters Filters) *Pipeline {
	return &Pipeline{
		source:  source,
		safety:  safety,
		decider: decider,
		filters: filters,
		now:     time.Now,
	}
}

// SetFilters replaces the filter thresholds for subsequent runs.
func (p *Pipeline) SetFilters(f Filters) {
	p.mu.Lock()
	p.filters = f
	p.mu.Unlock()
}

func (p *Pipeline) snapshotFilters() Filters {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.filters
}

// Run executes one pipeline pass. held maps lower-cased token addresses with
// an open position; those are excluded before the safety check. maxApproved
// caps the approved list (further capped by Filters.MaxCandidates). Per-item
// failures are collected, never fatal.
func (p *Pipeline) Run(ctx context.Context, held map[string]bool, maxApproved int) ([]Candidate, []string) {
	f := p.snapshotFilters()
	if f.MaxCandidates > 0 && maxApproved > f.MaxCandidates {
		maxApproved = f.MaxCandidates
	}

	var errs []string

	pairs, scanErrs := p.scan(ctx, f.Chain)
	errs = append(errs, scanErrs...)

	survivors := p.filter(pairs, f)

	kept := survivors[:0]
	for _, pair := range survivors {
		if held[strings.ToLower(pair.BaseToken.Address)] {
			continue
		}
		kept = append(kept, pair)
	}

	var approved []Candidate
	for _, pair := range kept {
		if maxApproved > 0 && len(approved) >= maxApproved {
			break
		}

		status, score, err := p.checkSafety(ctx, pair.BaseToken.Address)
		if err != nil {
			errs = append(errs, fmt.Sprintf("safety check %s: %v", pair.BaseToken.Address, err))
			continue
		}
		if status == decision.SafetyDangerous {
			log.Debug().Str("token", pair.BaseToken.Address).Float64("score", score).
				Msg("🛑 dropping dangerous token")
			continue
		}

		cand := candidateFromPair(pair, status, score)
		outcome := p.decider.Decide(ctx, snapshotOf(cand), f.MinMomentumScore)
		if !outcome.Buy {
			log.Debug().Str("token", cand.TokenAddress).Str("reason", outcome.Reasoning).
				Msg("model declined candidate")
			continue
		}

		cand.Reasoning = outcome.Reasoning
		if outcome.Fallback {
			cand.MomentumScore = outcome.Score
		} else {
			cand.MomentumScore = decision.HeuristicScore(snapshotOf(cand))
		}
		approved = append(approved, cand)
	}

	log.Info().
		Int("scanned", len(pairs)).
		Int("filtered", len(survivors)).
		Int("after_held", len(kept)).
		Int("approved", len(approved)).
		Msg("🔍 discovery pass complete")

	return approved, errs
}

// scan gathers candidate pairs from the boosted feeds and two free-text
// searches, concurrently, deduplicated by lower-cased base-token address.
func (p *Pipeline) scan(ctx context.Context, chain string) ([]market.Pair, []string) {
	var (
		mu    sync.Mutex
		seen  = make(map[string]bool)
		pairs []market.Pair
		errs  []string
	)
	add := func(list []market.Pair) {
		mu.Lock()
		defer mu.Unlock()
		for _, pair := range list {
			key := strings.ToLower(pair.BaseToken.Address)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			pairs = append(pairs, pair)
		}
	}
	fail := func(err error) {
		mu.Lock()
		errs = append(errs, err.Error())
		mu.Unlock()
	}

	boosted := p.collectBoosted(ctx, chain, fail)

	var wg sync.WaitGroup
	for _, token := range boosted {
		wg.Add(1)
		go func(token string) {
			defer wg.Done()
			pools, err := p.source.GetTokenPools(ctx, chain, token)
			if err != nil {
				fail(err)
				return
			}
			if best := deepestPool(pools); best != nil {
				add([]market.Pair{*best})
			}
		}(token)
	}

	for _, query := range []string{"trending " + chain, chain} {
		wg.Add(1)
		go func(query string) {
			defer wg.Done()
			found, err := p.source.SearchPairs(ctx, query)
			if err != nil {
				fail(err)
				return
			}
			add(found)
		}(query)
	}

	wg.Wait()
	return pairs, errs
}

// collectBoosted fetches both boosted feeds concurrently and returns the
// union of on-chain token addresses, deduplicated.
func (p *Pipeline) collectBoosted(ctx context.Context, chain string, fail func(error)) []string {
	var (
		mu     sync.Mutex
		seen   = make(map[string]bool)
		tokens []string
	)
	collect := func(list []market.BoostedToken) {
		mu.Lock()
		defer mu.Unlock()
		for _, t := range list {
			if !strings.EqualFold(t.ChainID, chain) {
				continue
			}
			key := strings.ToLower(t.TokenAddress)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			tokens = append(tokens, t.TokenAddress)
		}
	}

	feeds := []func(context.Context) ([]market.BoostedToken, error){
		p.source.GetTopBoostedTokens,
		p.source.GetLatestBoostedTokens,
	}
	var wg sync.WaitGroup
	for _, feed := range feeds {
		wg.Add(1)
		go func(feed func(context.Context) ([]market.BoostedToken, error)) {
			defer wg.Done()
			list, err := feed(ctx)
			if err != nil {
				fail(err)
				return
			}
			collect(list)
		}(feed)
	}
	wg.Wait()
	return tokens
}

// deepestPool picks the pair with the highest reported USD liquidity.
func deepestPool(pools []market.Pair) *market.Pair {
	var best *market.Pair
	for i := range pools {
		if best == nil || pools[i].LiquidityUSD() > best.LiquidityUSD() {
			best = &pools[i]
		}
	}
	return best
}

// filter applies the deterministic thresholds and logs a one-line summary
// with per-reason rejection counts.
func (p *Pipeline) filter(pairs []market.Pair, f Filters) []market.Pair {
	var (
		kept                                                     []market.Pair
		wrongChain, lowVolume, lowLiquidity, lowMcap, tooYoung, dup int
	)
	seen := make(map[string]bool)
	now := p.now()

	for _, pair := range pairs {
		switch {
		case !strings.EqualFold(pair.ChainID, f.Chain):
			wrongChain++
		case float64(pair.Volume.H24) < f.MinVolumeUSD:
			lowVolume++
		case pair.LiquidityUSD() < f.MinLiquidityUSD:
			lowLiquidity++
		case marketCapOrFDV(pair) < f.MinMarketCapUSD:
			lowMcap++
		case f.MinTokenAgeHours > 0 && pair.AgeHours(now) >= 0 && pair.AgeHours(now) < f.MinTokenAgeHours:
			tooYoung++
		case seen[strings.ToLower(pair.BaseToken.Address)]:
			dup++
		default:
			seen[strings.ToLower(pair.BaseToken.Address)] = true
			kept = append(kept, pair)
		}
	}

	log.Info().
		Int("in", len(pairs)).
		Int("kept", len(kept)).
		Int("wrong_chain", wrongChain).
		Int("low_volume", lowVolume).
		Int("low_liquidity", lowLiquidity).
		Int("low_mcap", lowMcap).
		Int("too_young", tooYoung).
		Int("duplicate", dup).
		Msg("deterministic filter")

	return kept
}

func marketCapOrFDV(pair market.Pair) float64 {
	if pair.MarketCap > 0 {
		return float64(pair.MarketCap)
	}
	return float64(pair.FDV)
}

// checkSafety calls the safety provider and classifies the response. A call
// error is transient; an unparseable body classifies as unverified.
func (p *Pipeline) checkSafety(ctx context.Context, token string) (string, float64, error) {
	raw, err := p.safety.Call(ctx, "get_token_summary", tools.Args{"token_address": token})
	if err != nil {
		return "", 0, err
	}
	status, score := ClassifySafety(raw)
	return status, score, nil
}

// Risks elements vary by provider (strings or objects); only the count
// matters here.
type safetySummary struct {
	ScoreNormalised *float64          `json:"score_normalised"`
	Score           *float64          `json:"score"`
	Risks           []json.RawMessage `json:"risks"`
}

// ClassifySafety maps a safety-tool response to a status and score.
// score ≤ 500 with no risks is Safe; score ≤ 2000 or at most two risks is
// Risky; anything else is Dangerous; a response that cannot be parsed is
// unverified.
func ClassifySafety(raw json.RawMessage) (string, float64) {
	var sum safetySummary
	if err := json.Unmarshal(raw, &sum); err != nil {
		return decision.SafetyUnverified, 0
	}

	var score float64
	switch {
	case sum.ScoreNormalised != nil:
		score = *sum.ScoreNormalised
	case sum.Score != nil:
		score = *sum.Score
	default:
		return decision.SafetyUnverified, 0
	}

	switch {
	case score <= 500 && len(sum.Risks) == 0:
		return decision.SafetySafe, score
	case score <= 2000 || len(sum.Risks) <= 2:
		return decision.SafetyRisky, score
	default:
		return decision.SafetyDangerous, score
	}
}

func candidateFromPair(pair market.Pair, status string, score float64) Candidate {
	return Candidate{
		TokenAddress:      pair.BaseToken.Address,
		Symbol:            pair.BaseToken.Symbol,
		Chain:             strings.ToLower(pair.ChainID),
		PriceUSD:          float64(pair.PriceUSD),
		Volume24hUSD:      float64(pair.Volume.H24),
		LiquidityUSD:      pair.LiquidityUSD(),
		MarketCapUSD:      marketCapOrFDV(pair),
		PriceChange24hPct: float64(pair.PriceChange.H24),
		SafetyStatus:      status,
		SafetyScore:       score,
	}
}

func snapshotOf(c Candidate) decision.Snapshot {
	return decision.Snapshot{
		TokenAddress:      c.TokenAddress,
		Symbol:            c.Symbol,
		Chain:             c.Chain,
		PriceUSD:          c.PriceUSD,
		Volume24hUSD:      c.Volume24hUSD,
		LiquidityUSD:      c.LiquidityUSD,
		MarketCapUSD:      c.MarketCapUSD,
		PriceChange24hPct: c.PriceChange24hPct,
		SafetyStatus:      c.SafetyStatus,
		SafetyScore:       c.SafetyScore,
	}
}
