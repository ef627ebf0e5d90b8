package decision

import (
	"context"
	"errors"

	"github.com/web3guy0/solbot/internal/tools"
)

// ErrNoModel is returned by UnavailableClient; Decide turns it into the
// heuristic fallback.
var ErrNoModel = errors.New("decision: no model configured")

// UnavailableClient stands in when no model endpoint is configured. Every
// candidate then scores through the deterministic heuristic.
type UnavailableClient struct{}

func (UnavailableClient) StartSession(ctx context.Context, systemPrompt string, decls []tools.Spec) (Session, error) {
	return nil, ErrNoModel
}
