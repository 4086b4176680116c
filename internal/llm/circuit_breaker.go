package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/sony/gobreaker"

	"github.com/JackTn/azure-sdk-usage-agent/internal/resilience"
)

// CircuitBreakerClient stops calling a backend that keeps failing
type CircuitBreakerClient struct {
	client  Client
	breaker *resilience.Breaker
}

// DefaultBreakerPolicy is resilience.DefaultPolicy with cancellations and
// request errors treated as neutral
var DefaultBreakerPolicy = func() resilience.Policy {
	p := resilience.DefaultPolicy
	p.Neutral = neutralError
	return p
}()

// neutralError is true for outcomes that say nothing about backend health
func neutralError(err error) bool {
	if resilience.IsCancellation(err) {
		return true
	}
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 && !retryableStatus(apiErr.StatusCode)
}

// NewCircuitBreakerClient wraps client in a breaker named after it
func NewCircuitBreakerClient(client Client, policy resilience.Policy) *CircuitBreakerClient {
	return &CircuitBreakerClient{
		client:  client,
		breaker: resilience.NewBreaker("llm:"+client.Name(), policy),
	}
}

// Name reports the wrapped backend's name
func (cb *CircuitBreakerClient) Name() string {
	return cb.client.Name()
}

// Complete implements Client
func (cb *CircuitBreakerClient) Complete(ctx context.Context, prompt string) (string, error) {
	result, err := cb.breaker.Execute(func() (interface{}, error) {
		return cb.client.Complete(ctx, prompt)
	})

	if resilience.IsRejected(err) {
		return "", fmt.Errorf("%s skipped: circuit breaker: %w", cb.client.Name(), err)
	}
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// State returns the breaker state
func (cb *CircuitBreakerClient) State() gobreaker.State {
	return cb.breaker.State()
}

// Counts returns the breaker's current counts
func (cb *CircuitBreakerClient) Counts() gobreaker.Counts {
	return cb.breaker.Counts()
}
