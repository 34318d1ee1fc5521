// Package llm is the gateway to the completion provider. It owns transport,
// transport-level retry, and the tolerant JSON extraction used by every
// caller that expects structured output. Logical failures (bad JSON, missing
// keys) are returned to callers, which own their own retry policy.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"querysight/internal/config"
)

// Client is the completion contract used throughout the pipeline.
type Client interface {
	// Complete sends a single user prompt.
	Complete(ctx context.Context, prompt string) (string, error)

	// CompleteWithSystem sends a system prompt and a user prompt.
	CompleteWithSystem(ctx context.Context, system, user string) (string, error)
}

// HTTPClient talks to an OpenAI-compatible chat-completions endpoint
// (Groq serves this shape). Rate-limit and server errors are retried with
// exponential backoff; everything else fails immediately.
type HTTPClient struct {
	cfg    config.LLMConfig
	http   *http.Client
	logger *zap.Logger
}

// NewHTTPClient creates a client from configuration.
func NewHTTPClient(cfg config.LLMConfig, logger *zap.Logger) (*HTTPClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("LLM API key is required (set GROQ_API_KEY or LLM_API_KEY)")
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("LLM endpoint is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &HTTPClient{
		cfg:    cfg,
		http:   &http.Client{Timeout: timeout},
		logger: logger.Named("llm"),
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Complete sends a single user prompt.
func (c *HTTPClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.send(ctx, []chatMessage{{Role: "user", Content: prompt}})
}

// CompleteWithSystem sends a system prompt and a user prompt.
func (c *HTTPClient) CompleteWithSystem(ctx context.Context, system, user string) (string, error) {
	return c.send(ctx, []chatMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	})
}

func (c *HTTPClient) send(ctx context.Context, messages []chatMessage) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	var content string
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

		start := time.Now()
		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			c.logger.Warn("retryable provider error",
				zap.Int("status", resp.StatusCode),
				zap.Duration("elapsed", time.Since(start)))
			return fmt.Errorf("provider returned status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("provider returned status %d: %s",
				resp.StatusCode, truncate(string(raw), 200)))
		}

		var parsed chatResponse
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode response: %w", err))
		}
		if parsed.Error != nil {
			return backoff.Permanent(fmt.Errorf("provider error: %s", parsed.Error.Message))
		}
		if len(parsed.Choices) == 0 {
			return backoff.Permanent(fmt.Errorf("provider returned no choices"))
		}

		content = parsed.Choices[0].Message.Content
		c.logger.Debug("completion received",
			zap.Duration("elapsed", time.Since(start)),
			zap.Int("chars", len(content)))
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.maxRetries())),
		ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return "", err
	}
	return content, nil
}

func (c *HTTPClient) maxRetries() int {
	if c.cfg.MaxRetries <= 0 {
		return 3
	}
	return c.cfg.MaxRetries
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
