// Package decision runs the per-candidate agentic buy/no-buy loop with a
// deterministic heuristic fallback.
package decision

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/solbot/internal/tools"
)

const (
	maxRounds      = 4
	overallTimeout = 45 * time.Second
)

const systemPrompt = `You are a momentum trading analyst for on-chain tokens.
You are given a numeric snapshot of one candidate token. You may call the
provided market-data and safety tools to dig deeper. When you are done,
answer with a single JSON object of the exact shape
{"buy": true|false, "reasoning": "..."} and nothing after it.`

const verdictNudge = `Tool budget exhausted. Answer now with the final
{"buy": true|false, "reasoning": "..."} JSON object and nothing else.`

// Engine drives one decision session per candidate. Only the read-only
// providers (market data, safety) are exposed to the model; the trader never
// is.
type Engine struct {
	client    Client
	providers []tools.Provider
	timeout   time.Duration

	declsMu    sync.Mutex
	declsReady bool
	decls      []tools.Spec
	routes     map[string]tools.Provider
}

// NewEngine creates a decision engine over the given model client and
// read-only tool providers.
func NewEngine(client Client, providers ...tools.Provider) *Engine {
	return &Engine{
		client:    client,
		providers: providers,
		timeout:   overallTimeout,
	}
}

// toolSurface memoizes the declared tools of all providers and a
// name-to-provider routing table. Only a complete listing is memoized; a
// failure is transient and the next Decide retries it.
func (e *Engine) toolSurface(ctx context.Context) ([]tools.Spec, map[string]tools.Provider, error) {
	e.declsMu.Lock()
	defer e.declsMu.Unlock()
	if e.declsReady {
		return e.decls, e.routes, nil
	}

	routes := make(map[string]tools.Provider)
	var decls []tools.Spec
	for _, p := range e.providers {
		specs, err := p.Tools(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("decision: list tools of %s: %w", p.Name(), err)
		}
		for _, spec := range specs {
			if _, dup := routes[spec.Name]; dup {
				continue
			}
			routes[spec.Name] = p
			decls = append(decls, spec)
		}
	}

	e.decls = decls
	e.routes = routes
	e.declsReady = true
	return e.decls, e.routes, nil
}

// Decide runs the agentic loop for one candidate. On model failure or
// timeout the deterministic heuristic decides instead.
func (e *Engine) Decide(ctx context.Context, snap Snapshot, minScore float64) Outcome {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	outcome, err := e.decideWithModel(ctx, snap)
	if err != nil {
		log.Warn().Err(err).Str("token", snap.TokenAddress).
			Msg("decision loop failed, using heuristic fallback")
		return HeuristicOutcome(snap, minScore)
	}
	return outcome
}

func (e *Engine) decideWithModel(ctx context.Context, snap Snapshot) (Outcome, error) {
	decls, routes, err := e.toolSurface(ctx)
	if err != nil {
		return Outcome{}, err
	}

	session, err := e.client.StartSession(ctx, systemPrompt, decls)
	if err != nil {
		return Outcome{}, fmt.Errorf("start session: %w", err)
	}

	snapJSON, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return Outcome{}, err
	}
	parts := []Part{{Text: fmt.Sprintf("Candidate snapshot:\n%s\n\nDecide whether to buy.", snapJSON)}}

	var lastText string
	pending := false
	for round := 0; round < maxRounds; round++ {
		reply, err := session.Send(ctx, parts)
		if err != nil {
			return Outcome{}, fmt.Errorf("round %d: %w", round+1, err)
		}
		if reply.Text != "" {
			lastText = reply.Text
		}
		if len(reply.ToolCalls) == 0 {
			pending = false
			break
		}
		parts = e.executeToolCalls(ctx, routes, reply.ToolCalls)
		pending = true
	}

	// Round cap hit with tool results still in hand. One last exchange
	// delivers them and demands the verdict; further tool calls are ignored.
	if pending {
		reply, err := session.Send(ctx, append(parts, Part{Text: verdictNudge}))
		if err != nil {
			return Outcome{}, fmt.Errorf("final round: %w", err)
		}
		if reply.Text != "" {
			lastText = reply.Text
		}
	}

	verdict, ok := extractVerdict(lastText)
	if !ok {
		return Outcome{}, fmt.Errorf("no {\"buy\": ...} block in final message")
	}
	return Outcome{Buy: verdict.Buy, Reasoning: verdict.Reasoning}, nil
}

// executeToolCalls runs one round of model tool calls concurrently and
// packages the results as function responses. Failures are reported to the
// model rather than aborting the round.
func (e *Engine) executeToolCalls(ctx context.Context, routes map[string]tools.Provider, calls []ToolCall) []Part {
	results := make([]Part, len(calls))
	var wg sync.WaitGroup

	for i, call := range calls {
		wg.Add(1)
		go func(i int, call ToolCall) {
			defer wg.Done()

			provider, ok := routes[call.Name]
			if !ok {
				results[i] = errorResponse(call, fmt.Sprintf("unknown tool %q", call.Name))
				return
			}
			raw, err := provider.Call(ctx, call.Name, call.Args)
			if err != nil {
				results[i] = errorResponse(call, err.Error())
				return
			}
			results[i] = Part{FunctionResponse: &FunctionResponse{
				ID:       call.ID,
				Name:     call.Name,
				Response: raw,
			}}
		}(i, call)
	}
	wg.Wait()
	return results
}

func errorResponse(call ToolCall, msg string) Part {
	payload, _ := json.Marshal(map[string]string{"error": msg})
	return Part{FunctionResponse: &FunctionResponse{ID: call.ID, Name: call.Name, Response: payload}}
}
