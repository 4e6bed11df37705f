package llm

import "context"

// supported completion providers
const (
	ProviderTogether = "together"
)

// emits one generated text fragment; returning an error aborts the stream
type ChunkFunc func(chunk string) error

// produces chat completions for a rendered prompt
type CompletionStreamer interface {
	// returns the full completion in one call
	Complete(ctx context.Context, prompt string) (string, error)

	// streams the completion fragment by fragment and returns the
	// accumulated text; on a mid-stream failure the partial text is
	// returned together with the error
	StreamCompletion(ctx context.Context, prompt string, fn ChunkFunc) (string, error)

	Model() string
}

// holds provider selection and credentials for the completion client
type Config struct {
	Provider    string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
}
