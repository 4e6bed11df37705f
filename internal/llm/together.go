package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	togetherChatCompletionsURL = "https://api.together.xyz/v1/chat/completions"

	defaultTogetherModel = "meta-llama/Llama-3.3-70B-Instruct-Turbo-Free"
	defaultMaxTokens     = 2048
	defaultTemperature   = 0.7

	// maximum size of one SSE line from the streaming endpoint
	maxStreamLineSize = 512 * 1024
)

// shared HTTP client for Together API calls
var togetherHTTPClient = &http.Client{
	Timeout: 120 * time.Second,
	Transport: &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	},
}

// streaming client has no overall timeout; the per-request context and the
// registry's task deadline bound long-lived streams instead
var togetherStreamClient = &http.Client{
	Transport: &http.Transport{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	},
}

// rate limiter for Together API calls (10 requests/second with burst capacity of 5)
var togetherRateLimiter = rate.NewLimiter(10, 5)

type chatRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Messages    []message `json:"messages"`
	Temperature float32   `json:"temperature,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []choice `json:"choices"`
}

type choice struct {
	Message message `json:"message"`
}

// one SSE chunk from the streaming endpoint
type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

type TogetherConfig struct {
	APIKey      string
	Model       string  // e.g., "meta-llama/Llama-3.3-70B-Instruct-Turbo-Free"
	MaxTokens   int     // max tokens for response
	Temperature float32 // 0.0 to 2.0
}

type TogetherClient struct {
	config       TogetherConfig
	httpClient   *http.Client
	streamClient *http.Client
	baseURL      string
}

func NewTogetherClient(config TogetherConfig) *TogetherClient {
	if config.Model == "" {
		config.Model = defaultTogetherModel
	}

	if config.MaxTokens == 0 {
		config.MaxTokens = defaultMaxTokens
	}

	if config.Temperature == 0 {
		config.Temperature = defaultTemperature
	}

	return &TogetherClient{
		config:       config,
		httpClient:   togetherHTTPClient,
		streamClient: togetherStreamClient,
		baseURL:      togetherChatCompletionsURL,
	}
}

func (t *TogetherClient) Model() string {
	return t.config.Model
}

// returns the full completion for a prompt in one call
func (t *TogetherClient) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := t.send(ctx, prompt, false)
	if err != nil {
		return "", err
	}

	defer resp.Body.Close() //nolint:errcheck

	var apiResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	if len(apiResp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}

	return strings.TrimSpace(apiResp.Choices[0].Message.Content), nil
}

// streams the completion for a prompt, invoking fn for each text fragment.
// the accumulated text is returned even when the stream fails partway.
func (t *TogetherClient) StreamCompletion(ctx context.Context, prompt string, fn ChunkFunc) (string, error) {
	resp, err := t.send(ctx, prompt, true)
	if err != nil {
		return "", err
	}

	defer resp.Body.Close() //nolint:errcheck

	var full strings.Builder

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 4096), maxStreamLineSize)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}

		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}

		data = strings.TrimSpace(data)

		// end-of-stream sentinel
		if data == "[DONE]" {
			break
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return full.String(), fmt.Errorf("failed to parse stream chunk: %w", err)
		}

		if len(chunk.Choices) == 0 {
			continue
		}

		text := chunk.Choices[0].Delta.Content
		if text == "" {
			continue
		}

		full.WriteString(text)

		if err := fn(text); err != nil {
			return full.String(), err
		}
	}

	if err := scanner.Err(); err != nil {
		// a canceled context surfaces as a body read error; report the
		// cancellation itself so callers can tell it apart from upstream failure
		if ctx.Err() != nil {
			return full.String(), ctx.Err()
		}

		return full.String(), fmt.Errorf("stream read failed: %w", err)
	}

	return full.String(), nil
}

// issues the chat completion request and validates the response status
func (t *TogetherClient) send(ctx context.Context, prompt string, stream bool) (*http.Response, error) {
	reqBody := chatRequest{
		Model:       t.config.Model,
		MaxTokens:   t.config.MaxTokens,
		Temperature: t.config.Temperature,
		Stream:      stream,
		Messages: []message{
			{Role: "user", Content: prompt},
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", t.baseURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.config.APIKey)

	// rate limiting
	if err := togetherRateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter error: %w", err)
	}

	client := t.httpClient
	if stream {
		client = t.streamClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body) //nolint:errcheck
		resp.Body.Close()                //nolint:errcheck,gosec
		return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return resp, nil
}
