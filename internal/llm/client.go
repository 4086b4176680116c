package llm

import (
	"context"
	"fmt"
	"time"
)

// Client interface for AI backends that turn a prompt into text
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
	Name() string
}

// Config holds configuration for a single LLM backend
type Config struct {
	APIKey      string
	Model       string
	BaseURL     string
	Timeout     time.Duration
	MaxTokens   int
	Temperature float64
}

// Sampling defaults shared by all backends; low temperature keeps the JSON output stable
const (
	DefaultMaxTokens   = 500
	DefaultTemperature = 0.1
	DefaultTopP        = 0.9
	DefaultTimeout     = 30 * time.Second
)

func (c Config) withDefaults() Config {
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.Temperature <= 0 {
		c.Temperature = DefaultTemperature
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// APIError is a non-2xx response from a backend
type APIError struct {
	Backend        string
	StatusCode     int
	Message        string
	RetryAfterHint time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error %d: %s", e.Backend, e.StatusCode, e.Message)
}

// RetryAfter is the wait the backend asked for, if any
func (e *APIError) RetryAfter() time.Duration {
	return e.RetryAfterHint
}

// Mode selects which backends the server uses
type Mode string

const (
	ModeNone   Mode = "none"
	ModeOpenAI Mode = "openai"
	ModeOllama Mode = "ollama"
	ModeClaude Mode = "claude"
	ModeHybrid Mode = "hybrid"
)

// Settings configures NewFromSettings
type Settings struct {
	Mode   Mode
	OpenAI Config
	Azure  bool
	Ollama Config
	Claude Config
	// HybridLocalTimeout bounds the local attempt before hybrid mode moves on to the cloud backend
	HybridLocalTimeout time.Duration
}

// NewFromSettings builds the client for s.Mode, wrapped in a circuit breaker.
// ModeNone returns a nil client and no error.
func NewFromSettings(s Settings) (Client, error) {
	var client Client
	var err error

	switch s.Mode {
	case ModeNone, "":
		return nil, nil
	case ModeOpenAI:
		client, err = NewOpenAIClient(s.OpenAI, s.Azure)
	case ModeOllama:
		client, err = NewOllamaClient(s.Ollama)
	case ModeClaude:
		client, err = NewClaudeClient(s.Claude)
	case ModeHybrid:
		local, lerr := NewOllamaClient(s.Ollama)
		if lerr != nil {
			return nil, lerr
		}
		var cloud Client
		if s.Claude.APIKey != "" {
			cloud, err = NewClaudeClient(s.Claude)
		} else {
			cloud, err = NewOpenAIClient(s.OpenAI, s.Azure)
		}
		if err != nil {
			return nil, err
		}
		client = NewHybridClient(local, cloud, s.HybridLocalTimeout)
	default:
		return nil, fmt.Errorf("unknown AI mode %q", s.Mode)
	}
	if err != nil {
		return nil, err
	}

	return NewCircuitBreakerClient(client, DefaultBreakerPolicy), nil
}
