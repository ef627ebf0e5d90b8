package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/web3guy0/solbot/internal/decision"
	"github.com/web3guy0/solbot/internal/market"
	"github.com/web3guy0/solbot/internal/tools"
)

type fakeMarket struct {
	boostedTop    string
	boostedLatest string
	pools         map[string]string
	search        map[string]string
	failMethods   map[string]error
}

func (f *fakeMarket) Name() string { return "market-data" }

func (f *fakeMarket) Tools(ctx context.Context) ([]tools.Spec, error) { return nil, nil }

func (f *fakeMarket) Call(ctx context.Context, method string, args tools.Args) (json.RawMessage, error) {
	if err, ok := f.failMethods[method]; ok {
		return nil, err
	}
	switch method {
	case "get_top_boosted_tokens":
		return json.RawMessage(f.boostedTop), nil
	case "get_latest_boosted_tokens":
		return json.RawMessage(f.boostedLatest), nil
	case "get_token_pools":
		token, _ := args["tokenAddress"].(string)
		if body, ok := f.pools[token]; ok {
			return json.RawMessage(body), nil
		}
		return json.RawMessage(`[]`), nil
	case "search_pairs":
		query, _ := args["query"].(string)
		if body, ok := f.search[query]; ok {
			return json.RawMessage(body), nil
		}
		return json.RawMessage(`[]`), nil
	}
	return nil, fmt.Errorf("unexpected method %s", method)
}

type fakeSafety struct {
	summaries map[string]string
	failFor   map[string]error
}

func (f *fakeSafety) Name() string { return "safety" }

func (f *fakeSafety) Tools(ctx context.Context) ([]tools.Spec, error) { return nil, nil }

func (f *fakeSafety) Call(ctx context.Context, method string, args tools.Args) (json.RawMessage, error) {
	token, _ := args["token_address"].(string)
	if err, ok := f.failFor[token]; ok {
		return nil, err
	}
	if body, ok := f.summaries[token]; ok {
		return json.RawMessage(body), nil
	}
	return json.RawMessage(`{"score": 100, "risks": []}`), nil
}

type yesSession struct{}

func (yesSession) Send(ctx context.Context, parts []decision.Part) (*decision.Reply, error) {
	return &decision.Reply{Text: `{"buy": true, "reasoning": "momentum confirmed"}`}, nil
}

type yesClient struct{}

func (yesClient) StartSession(ctx context.Context, systemPrompt string, decls []tools.Spec) (decision.Session, error) {
	return yesSession{}, nil
}

type failingClient struct{}

func (failingClient) StartSession(ctx context.Context, systemPrompt string, decls []tools.Spec) (decision.Session, error) {
	return nil, errors.New("model down")
}

func pairJSON(chain, addr, symbol string, volume, liquidity, mcap float64) string {
	return fmt.Sprintf(`{"chainId":%q,"baseToken":{"address":%q,"symbol":%q},"priceUsd":"0.05","volume":{"h24":%f},"liquidity":{"usd":%f},"marketCap":%f,"priceChange":{"h24":25}}`,
		chain, addr, symbol, volume, liquidity, mcap)
}

func testFilters() Filters {
	return Filters{
		Chain:            "solana",
		MinVolumeUSD:     10_000,
		MinLiquidityUSD:  5_000,
		MinMarketCapUSD:  50_000,
		MinMomentumScore: 50,
		MaxCandidates:    5,
	}
}

func TestRunApprovesFilteredCandidates(t *testing.T) {
	mkt := &fakeMarket{
		boostedTop:    `[{"chainId":"solana","tokenAddress":"MintA"}]`,
		boostedLatest: `[{"chainId":"solana","tokenAddress":"MintA"},{"chainId":"ethereum","tokenAddress":"0xdead"}]`,
		pools: map[string]string{
			// Two pools; the deeper one must win.
			"MintA": "[" + pairJSON("solana", "MintA", "ALPHA", 100_000, 2_000, 900_000) + "," +
				pairJSON("solana", "MintA", "ALPHA", 100_000, 80_000, 900_000) + "]",
		},
		search: map[string]string{
			"trending solana": "[" + pairJSON("solana", "MintB", "BETA", 50_000, 60_000, 400_000) + "]",
			"solana": "[" +
				pairJSON("solana", "MintC", "LOWVOL", 100, 60_000, 400_000) + "," +
				pairJSON("bsc", "0xbsc", "WRONG", 90_000, 60_000, 400_000) + "]",
		},
	}
	safety := &fakeSafety{summaries: map[string]string{
		"MintA": `{"score_normalised": 120, "risks": []}`,
		"MintB": `{"score": 1500, "risks": [{"name":"mintable"}]}`,
	}}
	p := NewPipeline(market.NewSource(mkt, nil), safety, decision.NewEngine(yesClient{}), testFilters())

	approved, errs := p.Run(context.Background(), nil, 10)
	require.Empty(t, errs)
	require.Len(t, approved, 2)

	byToken := map[string]Candidate{}
	for _, c := range approved {
		byToken[c.TokenAddress] = c
	}
	require.Equal(t, decision.SafetySafe, byToken["MintA"].SafetyStatus)
	require.InDelta(t, 80_000, byToken["MintA"].LiquidityUSD, 0.01, "deepest pool selected")
	require.Equal(t, decision.SafetyRisky, byToken["MintB"].SafetyStatus)
	require.Equal(t, "momentum confirmed", byToken["MintA"].Reasoning)
	require.Greater(t, byToken["MintA"].MomentumScore, 0.0)
}

func TestRunExcludesHeldTokens(t *testing.T) {
	mkt := &fakeMarket{
		boostedTop:    `[]`,
		boostedLatest: `[]`,
		search: map[string]string{
			"trending solana": "[" + pairJSON("solana", "MintHeld", "HODL", 50_000, 60_000, 400_000) + "]",
		},
	}
	p := NewPipeline(market.NewSource(mkt, nil), &fakeSafety{}, decision.NewEngine(yesClient{}), testFilters())

	approved, errs := p.Run(context.Background(), map[string]bool{"mintheld": true}, 10)
	require.Empty(t, errs)
	require.Empty(t, approved)
}

func TestRunDropsDangerousAndRecordsSafetyErrors(t *testing.T) {
	mkt := &fakeMarket{
		boostedTop:    `[]`,
		boostedLatest: `[]`,
		search: map[string]string{
			"trending solana": "[" +
				pairJSON("solana", "MintBad", "RUG", 50_000, 60_000, 400_000) + "," +
				pairJSON("solana", "MintErr", "ERR", 50_000, 60_000, 400_000) + "]",
		},
	}
	safety := &fakeSafety{
		summaries: map[string]string{
			"MintBad": `{"score": 9000, "risks": [{"name":"a"},{"name":"b"},{"name":"c"}]}`,
		},
		failFor: map[string]error{"MintErr": errors.New("timeout")},
	}
	p := NewPipeline(market.NewSource(mkt, nil), safety, decision.NewEngine(yesClient{}), testFilters())

	approved, errs := p.Run(context.Background(), nil, 10)
	require.Empty(t, approved)
	require.Len(t, errs, 1)
	require.Contains(t, errs[0], "MintErr")
}

func TestRunCapsApprovals(t *testing.T) {
	var items []string
	for i := 0; i < 6; i++ {
		items = append(items, pairJSON("solana", fmt.Sprintf("Mint%d", i), "TOK", 50_000, 60_000, 400_000))
	}
	mkt := &fakeMarket{
		boostedTop:    `[]`,
		boostedLatest: `[]`,
		search: map[string]string{
			"trending solana": "[" + strings.Join(items, ",") + "]",
		},
	}
	p := NewPipeline(market.NewSource(mkt, nil), &fakeSafety{}, decision.NewEngine(yesClient{}), testFilters())

	approved, _ := p.Run(context.Background(), nil, 2)
	require.Len(t, approved, 2)
}

func TestRunHeuristicFallbackGatesOnScore(t *testing.T) {
	mkt := &fakeMarket{
		boostedTop:    `[]`,
		boostedLatest: `[]`,
		search: map[string]string{
			// volume/liquidity = 50k/60k -> turnover 8.3, change 25,
			// liquidity tier 20, safety 20 = 73.3
			"trending solana": "[" + pairJSON("solana", "MintF", "FALL", 50_000, 60_000, 400_000) + "]",
		},
	}
	safety := &fakeSafety{summaries: map[string]string{"MintF": `{"score": 100, "risks": []}`}}

	f := testFilters()
	f.MinMomentumScore = 60
	p := NewPipeline(market.NewSource(mkt, nil), safety, decision.NewEngine(failingClient{}), f)
	approved, _ := p.Run(context.Background(), nil, 10)
	require.Len(t, approved, 1)
	require.InDelta(t, 73.33, approved[0].MomentumScore, 0.01)
	require.Contains(t, approved[0].Reasoning, "heuristic fallback")

	f.MinMomentumScore = 90
	p = NewPipeline(market.NewSource(mkt, nil), safety, decision.NewEngine(failingClient{}), f)
	approved, _ = p.Run(context.Background(), nil, 10)
	require.Empty(t, approved)
}

func TestRunCollectsScanErrors(t *testing.T) {
	mkt := &fakeMarket{
		boostedTop:    `[]`,
		boostedLatest: `[]`,
		failMethods:   map[string]error{"get_top_boosted_tokens": errors.New("feed down")},
		search: map[string]string{
			"trending solana": "[" + pairJSON("solana", "MintX", "XX", 50_000, 60_000, 400_000) + "]",
		},
	}
	p := NewPipeline(market.NewSource(mkt, nil), &fakeSafety{}, decision.NewEngine(yesClient{}), testFilters())

	approved, errs := p.Run(context.Background(), nil, 10)
	require.Len(t, approved, 1, "search results still flow despite a dead feed")
	require.Len(t, errs, 1)
	require.Contains(t, errs[0], "get_top_boosted_tokens")
}

func TestClassifySafety(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status string
		score  float64
	}{
		{"safe", `{"score_normalised": 200, "risks": []}`, decision.SafetySafe, 200},
		{"low score with risk is risky", `{"score": 300, "risks": [{"name":"mintable"}]}`, decision.SafetyRisky, 300},
		{"mid score risky", `{"score": 1800, "risks": []}`, decision.SafetyRisky, 1800},
		{"high score few risks risky", `{"score": 5000, "risks": [{"name":"a"},{"name":"b"}]}`, decision.SafetyRisky, 5000},
		{"dangerous", `{"score": 5000, "risks": [{"name":"a"},{"name":"b"},{"name":"c"}]}`, decision.SafetyDangerous, 5000},
		{"no score unverified", `{"risks": []}`, decision.SafetyUnverified, 0},
		{"garbage unverified", `not json`, decision.SafetyUnverified, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, score := ClassifySafety(json.RawMessage(tt.body))
			require.Equal(t, tt.status, status)
			require.InDelta(t, tt.score, score, 0.001)
		})
	}
}
