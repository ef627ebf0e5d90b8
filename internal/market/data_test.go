package market

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/web3guy0/solbot/internal/pricecache"
	"github.com/web3guy0/solbot/internal/tools"
)

type fakeProvider struct {
	calls     int
	responses map[string]string
	err       error
}

func (f *fakeProvider) Name() string { return "market-data" }

func (f *fakeProvider) Tools(ctx context.Context) ([]tools.Spec, error) { return nil, nil }

func (f *fakeProvider) Call(ctx context.Context, method string, args tools.Args) (json.RawMessage, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	resp, ok := f.responses[method]
	if !ok {
		return nil, errors.New("unknown method " + method)
	}
	return json.RawMessage(resp), nil
}

func TestFetchReference(t *testing.T) {
	p := &fakeProvider{responses: map[string]string{
		"get_token_pools": `{"pairs":[{"chainId":"solana","priceUsd":"1.25","liquidity":{"usd":60000}}]}`,
	}}
	src := NewSource(p, nil)

	ref, err := src.FetchReference(context.Background(), "solana", "mint")
	require.NoError(t, err)
	require.Equal(t, "1.25", ref.PriceUSD.String())
	require.True(t, ref.HasLiquidity)
	require.Equal(t, "60000", ref.LiquidityUSD.String())
}

func TestFetchReferenceNoPairs(t *testing.T) {
	p := &fakeProvider{responses: map[string]string{"get_token_pools": `{"pairs":[]}`}}
	src := NewSource(p, nil)

	_, err := src.FetchReference(context.Background(), "solana", "mint")
	require.ErrorIs(t, err, ErrNoPairs)
}

func TestFetchReferenceMissingPrice(t *testing.T) {
	p := &fakeProvider{responses: map[string]string{
		"get_token_pools": `{"pairs":[{"chainId":"solana","priceUsd":"not-a-number"}]}`,
	}}
	src := NewSource(p, nil)

	_, err := src.FetchReference(context.Background(), "solana", "mint")
	require.ErrorIs(t, err, ErrNoPrice)
}

func TestFetchReferenceUsesCache(t *testing.T) {
	p := &fakeProvider{responses: map[string]string{
		"get_token_pools": `[{"chainId":"solana","priceUsd":2.5}]`,
	}}
	src := NewSource(p, pricecache.New(time.Minute))

	_, err := src.FetchReference(context.Background(), "solana", "mint")
	require.NoError(t, err)
	ref, err := src.FetchReference(context.Background(), "solana", "MINT")
	require.NoError(t, err)

	require.Equal(t, 1, p.calls, "second fetch must be served from cache")
	require.Equal(t, "2.5", ref.PriceUSD.String())
}

func TestBoostedTokenShapes(t *testing.T) {
	p := &fakeProvider{responses: map[string]string{
		"get_top_boosted_tokens":    `[{"chainId":"solana","tokenAddress":"a"}]`,
		"get_latest_boosted_tokens": `{"tokens":[{"chainId":"solana","tokenAddress":"b"}]}`,
	}}
	src := NewSource(p, nil)

	top, err := src.GetTopBoostedTokens(context.Background())
	require.NoError(t, err)
	require.Len(t, top, 1)

	latest, err := src.GetLatestBoostedTokens(context.Background())
	require.NoError(t, err)
	require.Equal(t, "b", latest[0].TokenAddress)
}

func TestPairAgeHours(t *testing.T) {
	now := time.Now()
	p := Pair{PairCreatedAt: now.Add(-2 * time.Hour).UnixMilli()}
	require.InDelta(t, 2.0, p.AgeHours(now), 0.01)

	unknown := Pair{}
	require.Equal(t, -1.0, unknown.AgeHours(now))
}
