// Package llm provides interfaces for language model providers. The
// concrete implementation used by the extraction pipeline is
// pkg/llm/openai, which speaks the OpenAI-compatible chat-completions
// protocol against a project's configured endpoint.
package llm

import (
	"context"
)

// Provider is an interface for LLM providers
type Provider interface {
	// Complete generates a completion for the given prompt
	Complete(ctx context.Context, prompt string) (string, error)

	// IsConfigured returns true if the provider is properly configured
	IsConfigured() bool
}
