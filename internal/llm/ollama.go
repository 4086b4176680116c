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
	DefaultOllamaBaseURL = "http://localhost:11434"
	DefaultOllamaModel   = "llama3.1:8b"
)

// OllamaClient implements the Client interface on a local Ollama server
type OllamaClient struct {
	httpClient *http.Client
	baseURL    string
	model      string
	cfg        Config
	retry      resilience.Backoff
}

type ollamaGenerateRequest struct {
	Model   string                 `json:"model"`
	Prompt  string                 `json:"prompt"`
	Stream  bool                   `json:"stream"`
	Options map[string]interface{} `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// NewOllamaClient creates a client; the API key is unused
func NewOllamaClient(cfg Config) (*OllamaClient, error) {
	cfg = cfg.withDefaults()
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultOllamaBaseURL
	}

	return &OllamaClient{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    baseURL,
		model:      cfg.Model,
		cfg:        cfg,
		retry:      localBackoff,
	}, nil
}

// Name implements Client
func (o *OllamaClient) Name() string {
	return "ollama:" + o.model
}

// Complete implements Client with a non-streaming /api/generate call
func (o *OllamaClient) Complete(ctx context.Context, prompt string) (string, error) {
	payload := ollamaGenerateRequest{
		Model:  o.model,
		Prompt: prompt,
		Stream: false,
		Options: map[string]interface{}{
			"temperature": o.cfg.Temperature,
			"top_p":       DefaultTopP,
			"num_predict": o.cfg.MaxTokens,
		},
	}

	var text string
	err := o.retry.Retry(ctx, retryable, func() error {
		var genErr error
		text, genErr = o.generate(ctx, payload)
		return genErr
	})
	if err != nil {
		return "", fmt.Errorf("Ollama API call failed: %w", err)
	}
	return text, nil
}

func (o *OllamaClient) generate(ctx context.Context, payload ollamaGenerateRequest) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request to Ollama: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", o.baseURL+"/api/generate", bytes.NewBuffer(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request to Ollama: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	var result ollamaGenerateResponse
	decodeErr := json.Unmarshal(respBody, &result)

	if resp.StatusCode != http.StatusOK {
		message := string(respBody)
		if decodeErr == nil && result.Error != "" {
			message = result.Error
		}
		return "", &APIError{Backend: "Ollama", StatusCode: resp.StatusCode, Message: message, RetryAfterHint: parseRetryAfter(resp.Header)}
	}
	if decodeErr != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", decodeErr)
	}
	if strings.TrimSpace(result.Response) == "" {
		return "", fmt.Errorf("Ollama returned an empty response")
	}
	return result.Response, nil
}
