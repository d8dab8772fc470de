package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"perp-agent/logger"
)

const (
	anthropicBaseURL = "https://api.anthropic.com/v1"
	anthropicVersion = "2023-06-01"

	// DefaultModel is used unless AI_MODEL overrides it.
	DefaultModel = "claude-sonnet-4-5-20250929"

	defaultMaxTokens   = 2048
	defaultTemperature = 1.0

	maxAttempts = 5
	minBackoff  = 4 * time.Second
	maxBackoff  = 60 * time.Second
)

// Client is the surface the decision engine needs from a model provider.
type Client interface {
	// Message sends one system+user exchange and returns the text reply.
	Message(ctx context.Context, system, user string) (string, error)
	// Model returns the provider model identifier in use.
	Model() string
	// TestConnection sends a trivial request to verify credentials.
	TestConnection(ctx context.Context) error
}

// Anthropic talks to the Anthropic Messages API over plain HTTP.
type Anthropic struct {
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	baseURL     string
	retryMin    time.Duration
	retryMax    time.Duration
	httpClient  *http.Client
	log         zerolog.Logger
}

type messageParam struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequest struct {
	Model       string         `json:"model"`
	MaxTokens   int            `json:"max_tokens"`
	Temperature float64        `json:"temperature"`
	System      string         `json:"system,omitempty"`
	Messages    []messageParam `json:"messages"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type apiUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type apiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type messagesResponse struct {
	Content []contentBlock `json:"content"`
	Usage   apiUsage       `json:"usage"`
	Error   *apiError      `json:"error"`
}

// NewClient creates an Anthropic client. An empty model selects
// DefaultModel.
func NewClient(apiKey, model string) *Anthropic {
	if model == "" {
		model = DefaultModel
	}
	return &Anthropic{
		apiKey:      apiKey,
		model:       model,
		maxTokens:   defaultMaxTokens,
		temperature: defaultTemperature,
		baseURL:     anthropicBaseURL,
		retryMin:    minBackoff,
		retryMax:    maxBackoff,
		httpClient: &http.Client{
			// Generous timeout: large prompts on slower models can take
			// well over a minute.
			Timeout: 180 * time.Second,
		},
		log: logger.Component("ai"),
	}
}

// Model returns the model identifier in use.
func (c *Anthropic) Model() string {
	return c.model
}

// Message sends one system+user exchange, retrying rate limits,
// overloads, and connection failures with exponential backoff.
func (c *Anthropic) Message(ctx context.Context, system, user string) (string, error) {
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		text, retryable, err := c.doMessage(ctx, system, user, c.maxTokens)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !retryable {
			return "", err
		}
		if attempt == maxAttempts {
			break
		}

		backoff := c.retryMin << uint(attempt-1)
		if backoff > c.retryMax {
			backoff = c.retryMax
		}
		c.log.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("backoff", backoff).
			Msg("model call failed, retrying")

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(backoff):
		}
	}

	return "", fmt.Errorf("max retries exceeded: %w", lastErr)
}

// TestConnection sends a tiny prompt to verify the key and model.
func (c *Anthropic) TestConnection(ctx context.Context) error {
	_, _, err := c.doMessage(ctx, "", "Respond with 'OK' if you can read this.", 100)
	if err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}
	return nil
}

// doMessage performs a single Messages API call. The second return
// value reports whether the failure is worth retrying.
func (c *Anthropic) doMessage(ctx context.Context, system, user string, maxTokens int) (string, bool, error) {
	reqBody := messagesRequest{
		Model:       c.model,
		MaxTokens:   maxTokens,
		Temperature: c.temperature,
		System:      system,
		Messages:    []messageParam{{Role: "user", Content: user}},
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", false, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return "", false, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Api-Key", c.apiKey)
	httpReq.Header.Set("Anthropic-Version", anthropicVersion)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// Transport failures (DNS, reset, timeout) are all retryable.
		return "", true, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", true, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, truncateBody(respBody))
		return "", retryableStatus(resp.StatusCode), err
	}

	var parsed messagesResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", false, fmt.Errorf("unmarshal response: %w", err)
	}
	if parsed.Error != nil {
		return "", false, fmt.Errorf("API error %s: %s", parsed.Error.Type, parsed.Error.Message)
	}
	if len(parsed.Content) == 0 {
		return "", false, fmt.Errorf("no content in response")
	}

	text := ""
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if text == "" {
		return "", false, fmt.Errorf("no text blocks in response")
	}

	c.log.Debug().
		Dur("elapsed", time.Since(start)).
		Int("input_tokens", parsed.Usage.InputTokens).
		Int("output_tokens", parsed.Usage.OutputTokens).
		Msg("model call complete")

	return text, false, nil
}

// retryableStatus reports whether an HTTP status is transient. 529 is
// Anthropic's overloaded_error.
func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
		529:
		return true
	}
	return false
}

func truncateBody(b []byte) string {
	const maxLen = 500
	if len(b) <= maxLen {
		return string(b)
	}
	return string(b[:maxLen]) + "..."
}
