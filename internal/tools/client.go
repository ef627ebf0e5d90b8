package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const httpCallTimeout = 60 * time.Second

// HTTPProvider talks JSON-RPC to one tool server: "tools/list" for the
// declared descriptors and "tools/call" with {name, arguments} to invoke.
type HTTPProvider struct {
	name   string
	url    string
	client *http.Client
}

// NewHTTPProvider creates a provider client for the given endpoint.
func NewHTTPProvider(name, url string) *HTTPProvider {
	return &HTTPProvider{
		name:   name,
		url:    url,
		client: &http.Client{Timeout: httpCallTimeout},
	}
}

func (p *HTTPProvider) Name() string { return p.name }

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      string      `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Tools fetches the declared tool descriptors.
func (p *HTTPProvider) Tools(ctx context.Context) ([]Spec, error) {
	raw, err := p.rpc(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}

	var wrapped struct {
		Tools []Spec `json:"tools"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Tools != nil {
		return wrapped.Tools, nil
	}
	var specs []Spec
	if err := json.Unmarshal(raw, &specs); err != nil {
		return nil, fmt.Errorf("%s: unexpected tools/list shape: %w", p.name, err)
	}
	return specs, nil
}

// Call invokes one tool. Servers that answer with an MCP content envelope
// have their first text block unwrapped; everything else passes through raw.
func (p *HTTPProvider) Call(ctx context.Context, method string, args Args) (json.RawMessage, error) {
	raw, err := p.rpc(ctx, "tools/call", map[string]interface{}{
		"name":      method,
		"arguments": args,
	})
	if err != nil {
		return nil, err
	}
	return unwrapContent(raw), nil
}

func (p *HTTPProvider) rpc(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      uuid.NewString(),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %s: %w", p.name, method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("%s: %s: read: %w", p.name, method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: %s: HTTP %d", p.name, method, resp.StatusCode)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		return nil, fmt.Errorf("%s: %s: decode: %w", p.name, method, err)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("%s: %s: rpc error %d: %s", p.name, method, rpcResp.Error.Code, rpcResp.Error.Message)
	}
	return rpcResp.Result, nil
}

// unwrapContent extracts {"content":[{"type":"text","text":...}]} envelopes.
// The text is returned as raw JSON when it parses, as a JSON string otherwise.
func unwrapContent(raw json.RawMessage) json.RawMessage {
	var envelope struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil || len(envelope.Content) == 0 {
		return raw
	}
	for _, c := range envelope.Content {
		if c.Type != "text" {
			continue
		}
		if json.Valid([]byte(c.Text)) {
			return json.RawMessage(c.Text)
		}
		quoted, _ := json.Marshal(c.Text)
		return quoted
	}
	return raw
}
