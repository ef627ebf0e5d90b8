// Package tools defines the surface of the external tool providers the bot
// consumes (market data, safety, trader). Each provider is a subprocess or
// remote service that declares its tools and answers uniform call requests;
// process supervision lives outside this module.
package tools

import (
	"context"
	"encoding/json"
)

// Property describes one input-schema property of a tool.
type Property struct {
	Type        string `json:"type,omitempty"`
	Description string `json:"description,omitempty"`
}

// Schema is the declared JSON input schema of a tool.
type Schema struct {
	Type       string              `json:"type,omitempty"`
	Properties map[string]Property `json:"properties,omitempty"`
	Required   []string            `json:"required,omitempty"`
}

// Spec is one declared tool descriptor.
type Spec struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema Schema `json:"inputSchema"`
}

// Args is a tool argument map.
type Args map[string]interface{}

// Provider exposes a uniform call operation over a declared tool list.
type Provider interface {
	// Name identifies the provider in logs ("market-data", "safety", "trader").
	Name() string
	// Tools returns the declared tool descriptors.
	Tools(ctx context.Context) ([]Spec, error)
	// Call invokes a tool and returns its raw JSON result. Providers that
	// return plain text wrap it as a JSON string.
	Call(ctx context.Context, method string, args Args) (json.RawMessage, error)
}
