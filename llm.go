package sitepilot

import "context"

// TextGenerator is the minimal text-completion surface the engine needs
// from an LLM provider. Adapters for concrete providers live under llm/.
type TextGenerator interface {
	// Generate returns the full completion for the prompt.
	Generate(ctx context.Context, prompt string) (string, error)

	// Stream delivers the completion incrementally through callback. A
	// callback error aborts the stream and is returned as-is.
	Stream(ctx context.Context, prompt string, callback func(chunk string) error) error
}
