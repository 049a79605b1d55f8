// Package gemini is the generative-AI collaborator: topic summaries,
// free-form chat completions, and image descriptions over the Gemini API.
//
// All three operations return recoverable errors. Calls go through a
// per-client circuit breaker and bounded retry with exponential backoff, so
// a failing backend degrades to fast errors instead of piling up blocked
// callers. The conversation engine decides per flow what a failure means
// (placeholder summary, apology, skipped log entry).
package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"
)

// Config configures a Client.
type Config struct {
	// APIKey authenticates against the Gemini API. Required.
	APIKey string `yaml:"api_key"`
	// TextModel handles Summarize and Converse. Default: gemini-2.0-flash.
	TextModel string `yaml:"text_model"`
	// VisionModel handles DescribeImage. Default: gemini-2.0-flash.
	VisionModel string `yaml:"vision_model"`
	// Timeout bounds a single API call. Default: 30s.
	Timeout time.Duration `yaml:"timeout"`
	// MaxRetries is the number of retry attempts after a failed call.
	// Default: 2. Zero disables retry only if explicitly negative.
	MaxRetries int `yaml:"max_retries"`
	// Backoff is the initial wait between retries, doubled each attempt.
	// Default: 500ms.
	Backoff time.Duration `yaml:"backoff"`
}

func (c *Config) defaults() {
	if c.TextModel == "" {
		c.TextModel = "gemini-2.0-flash"
	}
	if c.VisionModel == "" {
		c.VisionModel = "gemini-2.0-flash"
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.Backoff <= 0 {
		c.Backoff = 500 * time.Millisecond
	}
}

// Client talks to the Gemini API.
type Client struct {
	cfg     Config
	breaker *CircuitBreaker
	logger  *slog.Logger

	// invoke performs one generation call. Overridable in tests so the
	// retry/breaker paths can be exercised without network access.
	invoke func(ctx context.Context, model string, contents []*genai.Content) (string, error)
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// WithBreaker sets a custom circuit breaker (e.g. with a tighter threshold).
func WithBreaker(cb *CircuitBreaker) ClientOption {
	return func(c *Client) { c.breaker = cb }
}

// New creates a Client for the Gemini API.
func New(ctx context.Context, cfg Config, opts ...ClientOption) (*Client, error) {
	cfg.defaults()
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: api key is required")
	}

	api, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}

	c := &Client{
		cfg:     cfg,
		breaker: NewCircuitBreaker(),
		logger:  slog.Default(),
	}
	c.invoke = func(ctx context.Context, model string, contents []*genai.Content) (string, error) {
		resp, err := api.Models.GenerateContent(ctx, model, contents, nil)
		if err != nil {
			return "", fmt.Errorf("gemini: generate: %w", err)
		}
		text := resp.Text()
		if strings.TrimSpace(text) == "" {
			return "", fmt.Errorf("gemini: empty response from %s", model)
		}
		return text, nil
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// summaryPrompt shapes the websearch topic summary: key points, resource
// types, one search tip, under 150 words.
const summaryPrompt = `For the search query: %q

Provide a concise summary of what someone might find when searching this topic.
Include:
1. Key points or main information
2. Types of resources likely to be found
3. One specific search tip

Keep the summary under 150 words.`

// describePrompt is the vision instruction for uploaded photos.
const describePrompt = "Analyze this image and describe what you see in detail"

// Summarize produces a short natural-language summary of a search topic.
func (c *Client) Summarize(ctx context.Context, topic string) (string, error) {
	return c.generate(ctx, c.cfg.TextModel, []*genai.Content{
		genai.NewContentFromText(fmt.Sprintf(summaryPrompt, topic), genai.RoleUser),
	})
}

// Converse sends a free-form chat prompt and returns the model reply.
func (c *Client) Converse(ctx context.Context, prompt string) (string, error) {
	return c.generate(ctx, c.cfg.TextModel, []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	})
}

// DescribeImage returns a natural-language description of the image bytes.
func (c *Client) DescribeImage(ctx context.Context, data []byte, mimeType string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("gemini: empty image")
	}
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	parts := []*genai.Part{
		genai.NewPartFromBytes(data, mimeType),
		genai.NewPartFromText(describePrompt),
	}
	return c.generate(ctx, c.cfg.VisionModel, []*genai.Content{
		genai.NewContentFromParts(parts, genai.RoleUser),
	})
}

// generate runs one model call through the breaker and retry loop.
func (c *Client) generate(ctx context.Context, model string, contents []*genai.Content) (string, error) {
	if !c.breaker.Allow() {
		return "", &ErrCircuitOpen{Service: model}
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		text, err := c.invoke(callCtx, model, contents)
		cancel()
		if err == nil {
			c.breaker.RecordSuccess()
			return text, nil
		}
		lastErr = err
		c.breaker.RecordFailure()

		// Don't retry if the caller is gone.
		if ctx.Err() != nil {
			return "", lastErr
		}

		if attempt < c.cfg.MaxRetries {
			wait := c.cfg.Backoff * (1 << uint(attempt))
			c.logger.WarnContext(ctx, "gemini call failed, retrying",
				"model", model,
				"attempt", attempt+1,
				"max_retries", c.cfg.MaxRetries,
				"backoff_ms", wait.Milliseconds(),
				"error", err)
			select {
			case <-ctx.Done():
				return "", lastErr
			case <-time.After(wait):
			}
		}
	}
	return "", lastErr
}
