package trader

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// findKey searches a decoded JSON value recursively for the first of the
// given keys, matching case-insensitively. Maps are searched before their
// children; arrays are walked in order.
func findKey(v interface{}, keys ...string) (interface{}, bool) {
	switch val := v.(type) {
	case map[string]interface{}:
		for _, want := range keys {
			for k, child := range val {
				if strings.EqualFold(k, want) && child != nil {
					return child, true
				}
			}
		}
		for _, child := range val {
			if found, ok := findKey(child, keys...); ok {
				return found, true
			}
		}
	case []interface{}:
		for _, child := range val {
			if found, ok := findKey(child, keys...); ok {
				return found, true
			}
		}
	}
	return nil, false
}

// toDecimal coerces a JSON scalar (number, numeric string) to a decimal.
func toDecimal(v interface{}) (decimal.Decimal, bool) {
	switch val := v.(type) {
	case float64:
		return decimal.NewFromFloat(val), true
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(val))
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	case json.Number:
		d, err := decimal.NewFromString(val.String())
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	case int:
		return decimal.NewFromInt(int64(val)), true
	case int64:
		return decimal.NewFromInt(val), true
	}
	return decimal.Zero, false
}

func findDecimal(v interface{}, keys ...string) (decimal.Decimal, bool) {
	raw, ok := findKey(v, keys...)
	if !ok {
		return decimal.Zero, false
	}
	return toDecimal(raw)
}

var directPriceKeys = []string{
	"priceUsd", "price_usd", "executionPrice", "estimatedPrice",
	"quotePrice", "swapPrice", "pricePerToken", "price",
}

// normalizePrice extracts a USD-per-token price from a trader response.
// The ladder, in order: a direct USD price key; solSpent/tokenReceived;
// raw inAmount/outAmount converted through decimals and the native price;
// the raw in/out ratio as a last resort.
func normalizePrice(resp interface{}, side Side, nativePriceUSD decimal.Decimal, tokenDecimals int) (decimal.Decimal, bool) {
	if price, ok := findDecimal(resp, directPriceKeys...); ok && price.IsPositive() {
		return price, true
	}

	// solSpent is in human native units, tokenReceived in raw smallest units.
	solSpent, okSpent := findDecimal(resp, "solSpent", "sol_spent")
	tokenReceived, okRecv := findDecimal(resp, "tokenReceived", "token_received")
	if okSpent && okRecv && solSpent.IsPositive() && tokenReceived.IsPositive() && nativePriceUSD.IsPositive() {
		human := tokenReceived.Shift(int32(-tokenDecimals))
		return solSpent.Mul(nativePriceUSD).Div(human), true
	}

	// Sell-side mirror: solReceived in human native units, tokenSold in
	// human token units.
	solReceived, okSolRecv := findDecimal(resp, "solReceived", "sol_received")
	tokenSold, okSold := findDecimal(resp, "tokenSold", "token_sold")
	if side == SideSell && okSolRecv && okSold && solReceived.IsPositive() && tokenSold.IsPositive() && nativePriceUSD.IsPositive() {
		return solReceived.Mul(nativePriceUSD).Div(tokenSold), true
	}

	inAmount, okIn := findDecimal(resp, "inAmount", "in_amount", "inputAmount", "input_amount")
	outAmount, okOut := findDecimal(resp, "outAmount", "out_amount", "outputAmount", "output_amount")
	if okIn && okOut && inAmount.IsPositive() && outAmount.IsPositive() {
		if nativePriceUSD.IsPositive() {
			if side == SideBuy {
				// in = native raw, out = token raw
				nativeHuman := inAmount.Shift(-9)
				tokenHuman := outAmount.Shift(int32(-tokenDecimals))
				return nativeHuman.Mul(nativePriceUSD).Div(tokenHuman), true
			}
			// sell: in = token raw, out = native raw
			nativeHuman := outAmount.Shift(-9)
			tokenHuman := inAmount.Shift(int32(-tokenDecimals))
			return nativeHuman.Mul(nativePriceUSD).Div(tokenHuman), true
		}
		// Last resort: raw ratio.
		if side == SideBuy {
			return inAmount.Div(outAmount), true
		}
		return outAmount.Div(inAmount), true
	}

	return decimal.Zero, false
}

// normalizeQuantity extracts the executed token quantity in human units.
// Raw smallest-unit fields are shifted by the token decimals; human-readable
// fields pass through. When only the price is known the quantity is implied
// from the requested notional.
func normalizeQuantity(resp interface{}, side Side, tokenDecimals int, notionalUSD, executedPrice decimal.Decimal) (decimal.Decimal, bool) {
	if raw, ok := findDecimal(resp, "tokenReceived", "token_received", "outputAmount", "output_amount"); ok && raw.IsPositive() {
		return raw.Shift(int32(-tokenDecimals)), true
	}
	if human, ok := findDecimal(resp, "quantity", "tokenSold", "token_sold", "uiAmount"); ok && human.IsPositive() {
		return human, true
	}
	if side == SideBuy {
		if raw, ok := findDecimal(resp, "outAmount", "out_amount"); ok && raw.IsPositive() {
			return raw.Shift(int32(-tokenDecimals)), true
		}
	}
	if executedPrice.IsPositive() && notionalUSD.IsPositive() {
		return notionalUSD.Div(executedPrice), true
	}
	return decimal.Zero, false
}

var txHashKeys = []string{
	"txHash", "tx_hash", "transactionHash", "transaction_hash",
	"signature", "txid", "txSignature",
}

// normalizeTxHash extracts a transaction hash when the trader reported one.
func normalizeTxHash(resp interface{}) string {
	raw, ok := findKey(resp, txHashKeys...)
	if !ok {
		return ""
	}
	if s, ok := raw.(string); ok && s != "" && s != "null" {
		return s
	}
	return ""
}

var successStatuses = map[string]bool{
	"success": true, "succeeded": true, "confirmed": true, "completed": true,
}

var failureStatuses = map[string]bool{
	"failed": true, "error": true, "rejected": true,
}

// normalizeSuccess discriminates a trader response. An error field forces
// failure; explicit success/ok flags and terminal statuses decide otherwise.
// The live-trade tx-hash rule is applied by the caller.
func normalizeSuccess(resp interface{}) (success bool, errMsg string) {
	if raw, ok := findKey(resp, "error", "errorMessage", "error_message"); ok {
		switch e := raw.(type) {
		case string:
			if e != "" && e != "null" {
				return false, e
			}
		case bool:
			if e {
				return false, "trader reported error"
			}
		case map[string]interface{}:
			if msg, ok := findKey(e, "message"); ok {
				if s, ok := msg.(string); ok {
					return false, s
				}
			}
			return false, "trader reported error"
		}
	}

	if raw, ok := findKey(resp, "success", "ok"); ok {
		switch v := raw.(type) {
		case bool:
			if v {
				return true, ""
			}
			return false, "trader reported success=false"
		case string:
			if strings.EqualFold(v, "true") {
				return true, ""
			}
			return false, "trader reported success=" + v
		}
	}

	if raw, ok := findKey(resp, "status", "state"); ok {
		if s, ok := raw.(string); ok {
			ls := strings.ToLower(s)
			if successStatuses[ls] {
				return true, ""
			}
			if failureStatuses[ls] {
				return false, "trader status " + s
			}
		}
	}

	// No explicit verdict: treat as success and let the tx-hash rule catch
	// silent no-ops on the live path.
	return true, ""
}
