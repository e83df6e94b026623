// Package openai is a client for OpenAI-compatible chat-completions
// endpoints (vLLM, LiteLLM, Azure OpenAI, OpenAI itself), used for the
// vision extraction calls the pipeline makes against a project's
// configured LLM endpoint.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const (
	// DefaultModel is used when a project does not configure one.
	DefaultModel = "gpt-4o"

	// DefaultMaxRetries is the default number of network-error retries.
	DefaultMaxRetries = 3

	// DefaultBaseDelay is the base delay for the retry backoff.
	DefaultBaseDelay = time.Second

	// DefaultMaxDelay caps the retry backoff.
	DefaultMaxDelay = 30 * time.Second

	// DefaultTimeout bounds a single HTTP round trip.
	DefaultTimeout = 120 * time.Second

	// DefaultTemperature favors deterministic extraction output.
	DefaultTemperature = 0.0

	// DefaultMaxTokens bounds completion length.
	DefaultMaxTokens = 8192
)

// Config configures a Client against one project's LLM endpoint.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Timeout     time.Duration
	Temperature float64
	MaxTokens   int
}

// Client is an OpenAI-compatible chat-completions client with
// network-error retry and backoff.
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	httpClient  *http.Client
	log         *slog.Logger
	temperature float64
	maxTokens   int

	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithMaxRetries sets the maximum number of network-error retries.
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) { c.maxRetries = n }
}

// WithBaseDelay sets the base delay for the retry backoff.
func WithBaseDelay(d time.Duration) ClientOption {
	return func(c *Client) { c.baseDelay = d }
}

// WithMaxDelay caps the retry backoff.
func WithMaxDelay(d time.Duration) ClientOption {
	return func(c *Client) { c.maxDelay = d }
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(log *slog.Logger) ClientOption {
	return func(c *Client) { c.log = log }
}

// NewClient creates a new chat-completions client for one project's
// configured endpoint.
func NewClient(cfg Config, opts ...ClientOption) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}

	c := &Client{
		baseURL:     cfg.BaseURL,
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		log:         slog.Default(),
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		maxRetries:  DefaultMaxRetries,
		baseDelay:   DefaultBaseDelay,
		maxDelay:    DefaultMaxDelay,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// ContentPart is one part of a chat message's content, either a text
// span or an image reference, matching the OpenAI vision wire shape.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL carries a data URL or remote URL for an image content part.
type ImageURL struct {
	URL string `json:"url"`
}

// ChatMessage is one message in a chat-completions request.
type ChatMessage struct {
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// APIError is a non-2xx response from the chat-completions endpoint. The
// caller classifies it per §7's taxonomy: Retryable means a 429/408/5xx
// (LLMError.Network); otherwise it's a 4xx (LLMError.Client).
type APIError struct {
	StatusCode int
	Body       string
	Retryable  bool
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chat completion API error %d: %s", e.StatusCode, e.Body)
}

// Usage reports token consumption for one completion.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// GenerateResult is the outcome of a chat-completions call.
type GenerateResult struct {
	Content string
	Usage   Usage
}

// TextContent builds a text-only content part.
func TextContent(text string) ContentPart {
	return ContentPart{Type: "text", Text: text}
}

// ImageContent builds a base64 data-URL image content part, matching
// the "data:image/%s;base64,%s" shape vision-capable chat-completions
// endpoints expect.
func ImageContent(format, base64Data string) ContentPart {
	return ContentPart{
		Type: "image_url",
		ImageURL: &ImageURL{
			URL: fmt.Sprintf("data:image/%s;base64,%s", format, base64Data),
		},
	}
}

// Complete implements llm.Provider for plain-text prompts.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	result, err := c.Generate(ctx, []ChatMessage{
		{Role: "user", Content: []ContentPart{TextContent(prompt)}},
	})
	if err != nil {
		return "", err
	}
	return result.Content, nil
}

// IsConfigured implements llm.Provider.
func (c *Client) IsConfigured() bool {
	return c.baseURL != ""
}

// Generate sends a chat-completions request, retrying on network and
// 5xx/429 errors with the shared backoff formula
// min(maxDelay, baseDelay*attempt^2).
func (c *Client) Generate(ctx context.Context, messages []ChatMessage) (*GenerateResult, error) {
	reqBody := chatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal chat completion request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.calculateBackoff(attempt)
			c.log.Debug("retrying chat completion request",
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		result, retryable, err := c.doRequest(ctx, reqBytes)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !retryable {
			return nil, err
		}

		c.log.Warn("chat completion request failed",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
	}

	return nil, fmt.Errorf("all retries exhausted: %w", lastErr)
}

func (c *Client) doRequest(ctx context.Context, body []byte) (*GenerateResult, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// transport-level failures (timeouts, connection refused) are
		// always worth a retry.
		return nil, true, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode >= 500
		return nil, retryable, &APIError{StatusCode: resp.StatusCode, Body: string(respBytes), Retryable: retryable}
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(respBytes, &parsed); err != nil {
		return nil, false, fmt.Errorf("unmarshal response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, false, fmt.Errorf("chat completion response has no choices")
	}

	return &GenerateResult{
		Content: parsed.Choices[0].Message.Content,
		Usage: Usage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		},
	}, nil
}

// calculateBackoff mirrors the job-retry formula: quadratic growth
// capped at maxDelay, so a slow LLM endpoint and a slow queue job back
// off the same way.
func (c *Client) calculateBackoff(attempt int) time.Duration {
	delay := c.baseDelay * time.Duration(attempt*attempt)
	if delay > c.maxDelay {
		return c.maxDelay
	}
	return delay
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.model
}
