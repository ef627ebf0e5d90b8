package decision

import (
	"context"
	"encoding/json"

	"github.com/web3guy0/solbot/internal/tools"
)

// Safety statuses assigned by the discovery safety check.
const (
	SafetySafe       = "Safe"
	SafetyRisky      = "Risky"
	SafetyDangerous  = "Dangerous"
	SafetyUnverified = "unverified"
)

// Snapshot is the numeric picture of one candidate handed to the model.
type Snapshot struct {
	TokenAddress      string  `json:"token_address"`
	Symbol            string  `json:"symbol"`
	Chain             string  `json:"chain"`
	PriceUSD          float64 `json:"price_usd"`
	Volume24hUSD      float64 `json:"volume_24h_usd"`
	LiquidityUSD      float64 `json:"liquidity_usd"`
	MarketCapUSD      float64 `json:"market_cap_usd"`
	PriceChange24hPct float64 `json:"price_change_24h_pct"`
	SafetyStatus      string  `json:"safety_status"`
	SafetyScore       float64 `json:"safety_score"`
}

// Outcome is the final buy/no-buy verdict for one candidate.
type Outcome struct {
	Buy       bool
	Reasoning string
	// Score is set on the heuristic fallback path, zero otherwise.
	Score float64
	// Fallback reports that the verdict came from the deterministic
	// heuristic rather than the model.
	Fallback bool
}

// ToolCall is one structured tool-call request returned by the model.
type ToolCall struct {
	ID   string
	Name string
	Args tools.Args
}

// FunctionResponse carries one tool result back to the model.
type FunctionResponse struct {
	ID       string
	Name     string
	Response json.RawMessage
}

// Part is one element of a message to the model: either text or a tool
// result.
type Part struct {
	Text             string
	FunctionResponse *FunctionResponse
}

// Reply is what the model returned for one round: text, tool-call requests,
// or both.
type Reply struct {
	Text      string
	ToolCalls []ToolCall
}

// Session is one model conversation.
type Session interface {
	Send(ctx context.Context, parts []Part) (*Reply, error)
}

// Client opens model sessions. The session primitive itself (transport,
// retries, token accounting) lives outside this module.
type Client interface {
	StartSession(ctx context.Context, systemPrompt string, decls []tools.Spec) (Session, error)
}
