package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/JackTn/azure-sdk-usage-agent/internal/resilience"
)

const openAISystemPrompt = "You are a SQL assistant. Answer with a single JSON object and nothing else."

// OpenAIClient implements the Client interface on the OpenAI chat completions API.
// Azure OpenAI deployments are reached through the same client.
type OpenAIClient struct {
	client *openai.Client
	model  string
	cfg    Config
	retry  resilience.Backoff
}

// NewOpenAIClient creates a client; azure selects Azure OpenAI with cfg.BaseURL as the resource endpoint
func NewOpenAIClient(cfg Config, azure bool) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	cfg = cfg.withDefaults()
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}

	var clientConfig openai.ClientConfig
	if azure {
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("Azure OpenAI requires an endpoint")
		}
		clientConfig = openai.DefaultAzureConfig(cfg.APIKey, cfg.BaseURL)
	} else {
		clientConfig = openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			clientConfig.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
		}
	}
	clientConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientConfig),
		model:  cfg.Model,
		cfg:    cfg,
		retry:  defaultBackoff,
	}, nil
}

// Name implements Client
func (o *OpenAIClient) Name() string {
	return "openai:" + o.model
}

// Complete implements Client
func (o *OpenAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: openAISystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: float32(o.cfg.Temperature),
		TopP:        DefaultTopP,
		MaxTokens:   o.cfg.MaxTokens,
	}

	var resp openai.ChatCompletionResponse
	err := o.retry.Retry(ctx, retryable, func() error {
		var callErr error
		resp, callErr = o.client.CreateChatCompletion(ctx, req)
		return translateOpenAIError(callErr)
	})
	if err != nil {
		return "", fmt.Errorf("OpenAI API call failed: %w", err)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("OpenAI returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// translateOpenAIError maps SDK errors onto APIError so retry decisions use the status code
func translateOpenAIError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &APIError{Backend: "OpenAI", StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &APIError{Backend: "OpenAI", StatusCode: reqErr.HTTPStatusCode, Message: reqErr.Error()}
	}
	return err
}
