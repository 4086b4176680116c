package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/JackTn/azure-sdk-usage-agent/internal/resilience"
)

const (
	ClaudeAPIBaseURL   = "https://api.anthropic.com/v1"
	ClaudeVersion      = "2023-06-01"
	DefaultClaudeModel = "claude-3-5-haiku-20241022"

	claudeSystemPrompt = "You translate questions about Azure SDK usage into query components. Reply with one JSON object only."
	// The reply is prefilled with an opening brace so the model continues a JSON object
	claudePrefill = "{"
)

// ClaudeClient calls the Anthropic Messages API
type ClaudeClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	cfg        Config
	retry      resilience.Backoff
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeRequest struct {
	Model       string          `json:"model"`
	System      string          `json:"system,omitempty"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float64         `json:"temperature"`
	Messages    []claudeMessage `json:"messages"`
}

type claudeResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Error      *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewClaudeClient requires an API key; model and base URL have defaults
func NewClaudeClient(cfg Config) (*ClaudeClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	cfg = cfg.withDefaults()
	if cfg.Model == "" {
		cfg.Model = DefaultClaudeModel
	}
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = ClaudeAPIBaseURL
	}

	return &ClaudeClient{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		cfg:        cfg,
		retry:      defaultBackoff,
	}, nil
}

// Name implements Client
func (c *ClaudeClient) Name() string {
	return "claude:" + c.model
}

// Complete implements Client. The returned text includes the prefilled brace.
func (c *ClaudeClient) Complete(ctx context.Context, prompt string) (string, error) {
	payload := claudeRequest{
		Model:       c.model,
		System:      claudeSystemPrompt,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
		Messages: []claudeMessage{
			{Role: "user", Content: prompt},
			{Role: "assistant", Content: claudePrefill},
		},
	}

	var text string
	err := c.retry.Retry(ctx, retryable, func() error {
		var sendErr error
		text, sendErr = c.send(ctx, payload)
		return sendErr
	})
	if err != nil {
		return "", fmt.Errorf("Claude API call failed: %w", err)
	}
	return claudePrefill + text, nil
}

func (c *ClaudeClient) send(ctx context.Context, payload claudeRequest) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", ClaudeVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	var decoded claudeResponse
	decodeErr := json.Unmarshal(respBody, &decoded)

	if resp.StatusCode != http.StatusOK {
		message := strings.TrimSpace(string(respBody))
		if decodeErr == nil && decoded.Error != nil && decoded.Error.Message != "" {
			message = decoded.Error.Message
		}
		return "", &APIError{
			Backend:        "Claude",
			StatusCode:     resp.StatusCode,
			Message:        message,
			RetryAfterHint: parseRetryAfter(resp.Header),
		}
	}
	if decodeErr != nil {
		return "", fmt.Errorf("failed to decode response: %w", decodeErr)
	}

	var sb strings.Builder
	for _, block := range decoded.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if strings.TrimSpace(sb.String()) == "" {
		return "", fmt.Errorf("Claude returned no text (stop reason %q)", decoded.StopReason)
	}
	return sb.String(), nil
}
