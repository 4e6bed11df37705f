package llm

import (
	"fmt"
)

// creates a completion client for the configured provider
func NewClientWithConfig(config *Config) (CompletionStreamer, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	if config.APIKey == "" {
		return nil, fmt.Errorf("completion API key is required")
	}

	switch config.Provider {
	case ProviderTogether:
		return NewTogetherClient(TogetherConfig{
			APIKey:      config.APIKey,
			Model:       config.Model,
			MaxTokens:   config.MaxTokens,
			Temperature: config.Temperature,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported completion provider: %s", config.Provider)
	}
}
