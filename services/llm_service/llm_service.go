package llm_service

import "context"

// CompletionService produces a completion for a prompt through one vendor.
// Adapters make exactly one attempt per call; retry and failover policy
// lives in the orchestrator.
type CompletionService interface {
	Name() string
	Complete(ctx context.Context, prompt string) (string, error)
}
