package llm

import "context"

// LLM represents a generic interface for interacting with text-analysis models
type LLM interface {
	// Query sends a user prompt under the configured system prompt and
	// returns the raw model output
	Query(ctx context.Context, prompt string) (string, error)

	// QueryJSON is like Query but instructs the provider to answer with a
	// single JSON object when the backend supports it
	QueryJSON(ctx context.Context, prompt string) (string, error)
}
