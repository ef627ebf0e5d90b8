package trader

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, s string) interface{} {
	t.Helper()
	var v interface{}
	require.NoError(t, json.Unmarshal([]byte(s), &v))
	return v
}

func TestNormalizePriceDirectKey(t *testing.T) {
	resp := decode(t, `{"data":{"executionPrice":"2.5"}}`)
	price, ok := normalizePrice(resp, SideBuy, decimal.NewFromInt(200), 6)
	require.True(t, ok)
	require.Equal(t, "2.5", price.String())
}

func TestNormalizePriceSolSpentTokenReceived(t *testing.T) {
	// Six-decimal token: 0.0025 SOL at $200 for 200000 raw = 0.2 tokens,
	// so $0.50 / 0.2 = $2.50 per token.
	resp := decode(t, `{"solSpent":0.0025,"tokenReceived":"200000"}`)
	price, ok := normalizePrice(resp, SideBuy, decimal.NewFromInt(200), 6)
	require.True(t, ok)
	require.Equal(t, "2.5", price.String())
}

func TestNormalizePriceInOutAmounts(t *testing.T) {
	// Buy: in = native raw lamports, out = token raw.
	resp := decode(t, `{"inAmount":"2500000","outAmount":"200000"}`)
	price, ok := normalizePrice(resp, SideBuy, decimal.NewFromInt(200), 6)
	require.True(t, ok)
	require.Equal(t, "2.5", price.String())

	// Sell mirror: in = token raw, out = native raw.
	sellResp := decode(t, `{"inAmount":"200000","outAmount":"2500000"}`)
	price, ok = normalizePrice(sellResp, SideSell, decimal.NewFromInt(200), 6)
	require.True(t, ok)
	require.Equal(t, "2.5", price.String())
}

func TestNormalizePriceRawRatioFallback(t *testing.T) {
	resp := decode(t, `{"inAmount":"500","outAmount":"1000"}`)
	price, ok := normalizePrice(resp, SideBuy, decimal.Zero, 6)
	require.True(t, ok)
	require.Equal(t, "0.5", price.String())
}

func TestNormalizePriceLadderConsistency(t *testing.T) {
	// The same fill expressed three ways must agree within 1%.
	native := decimal.NewFromInt(200)
	direct := decode(t, `{"price":"2.50"}`)
	spent := decode(t, `{"solSpent":0.0025,"tokenReceived":"200000"}`)
	inOut := decode(t, `{"inAmount":"2500000","outAmount":"200000"}`)

	p1, ok := normalizePrice(direct, SideBuy, native, 6)
	require.True(t, ok)
	p2, ok := normalizePrice(spent, SideBuy, native, 6)
	require.True(t, ok)
	p3, ok := normalizePrice(inOut, SideBuy, native, 6)
	require.True(t, ok)

	tolerance := p1.Mul(decimal.NewFromFloat(0.01))
	require.True(t, p1.Sub(p2).Abs().LessThanOrEqual(tolerance), "p1=%s p2=%s", p1, p2)
	require.True(t, p1.Sub(p3).Abs().LessThanOrEqual(tolerance), "p1=%s p3=%s", p1, p3)
}

func TestNormalizeQuantity(t *testing.T) {
	resp := decode(t, `{"tokenReceived":"200000"}`)
	qty, ok := normalizeQuantity(resp, SideBuy, 6, decimal.Zero, decimal.Zero)
	require.True(t, ok)
	require.Equal(t, "0.2", qty.String())

	human := decode(t, `{"quantity":12.5}`)
	qty, ok = normalizeQuantity(human, SideSell, 6, decimal.Zero, decimal.Zero)
	require.True(t, ok)
	require.Equal(t, "12.5", qty.String())

	// No reported quantity but a known price: implied from notional.
	implied := decode(t, `{}`)
	qty, ok = normalizeQuantity(implied, SideBuy, 6, decimal.NewFromFloat(0.5), decimal.NewFromFloat(2.5))
	require.True(t, ok)
	require.Equal(t, "0.2", qty.String())
}

func TestNormalizeSuccess(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		success bool
	}{
		{"explicit success", `{"success":true}`, true},
		{"explicit failure", `{"success":false}`, false},
		{"ok flag", `{"ok":true}`, true},
		{"status confirmed", `{"status":"Confirmed"}`, true},
		{"status completed", `{"status":"completed"}`, true},
		{"status failed", `{"status":"failed"}`, false},
		{"status rejected", `{"status":"rejected"}`, false},
		{"error forces failure", `{"success":true,"error":"slippage exceeded"}`, false},
		{"no verdict", `{"inAmount":"1","outAmount":"2"}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := normalizeSuccess(decode(t, tt.body))
			require.Equal(t, tt.success, got)
		})
	}
}

func TestNormalizeTxHash(t *testing.T) {
	resp := decode(t, `{"result":{"signature":"5abc"}}`)
	require.Equal(t, "5abc", normalizeTxHash(resp))

	none := decode(t, `{"status":"success"}`)
	require.Equal(t, "", normalizeTxHash(none))
}

func TestFindKeyCaseInsensitive(t *testing.T) {
	resp := decode(t, `{"Data":{"PRICEUSD":"3"}}`)
	v, ok := findKey(resp, "priceUsd")
	require.True(t, ok)
	require.Equal(t, "3", v)
}
