// Package resilience guards calls to remote backends with circuit breakers
// and retries with exponential backoff.
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/JackTn/azure-sdk-usage-agent/internal/observability"
)

var logger = observability.NewLogger("resilience")

// Policy describes when a breaker opens and how it recovers
type Policy struct {
	// MaxRequests is the number of trial calls let through while half-open
	MaxRequests uint32
	// Interval resets the closed-state counts; zero keeps them until the breaker opens
	Interval time.Duration
	// Timeout is how long the breaker stays open before going half-open
	Timeout time.Duration
	// MinRequests must be seen before FailureRatio is considered
	MinRequests uint32
	// ConsecutiveFailures opens the breaker regardless of the ratio; zero disables it
	ConsecutiveFailures uint32
	// FailureRatio opens the breaker once MinRequests is reached; zero disables it
	FailureRatio float64
	// Neutral reports errors that say nothing about backend health, such as
	// caller cancellation or a rejected request; they do not count as failures
	Neutral func(err error) bool
}

// DefaultPolicy opens after 5 consecutive failures, or a 60% failure ratio
// over at least 3 calls, within a 10s window and retries after 30s
var DefaultPolicy = Policy{
	MaxRequests:         1,
	Interval:            10 * time.Second,
	Timeout:             30 * time.Second,
	MinRequests:         3,
	ConsecutiveFailures: 5,
	FailureRatio:        0.6,
}

func (p Policy) readyToTrip(counts gobreaker.Counts) bool {
	if p.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= p.ConsecutiveFailures {
		return true
	}
	if p.FailureRatio <= 0 || counts.Requests < p.MinRequests || counts.Requests == 0 {
		return false
	}
	return float64(counts.TotalFailures)/float64(counts.Requests) >= p.FailureRatio
}

// Breaker is a named circuit breaker
type Breaker struct {
	name string
	cb   *gobreaker.CircuitBreaker
}

// NewBreaker creates a breaker; state changes are logged and counted
func NewBreaker(name string, policy Policy) *Breaker {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: policy.MaxRequests,
		Interval:    policy.Interval,
		Timeout:     policy.Timeout,
		ReadyToTrip: policy.readyToTrip,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn(context.Background(), "Circuit breaker state changed", map[string]interface{}{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
			observability.GetGlobalMetrics().Inc(observability.MetricBreakerTransitions, map[string]string{
				"breaker": name,
				"to":      to.String(),
			})
		},
	}
	if policy.Neutral != nil {
		settings.IsSuccessful = func(err error) bool {
			return err == nil || policy.Neutral(err)
		}
	}

	return &Breaker{name: name, cb: gobreaker.NewCircuitBreaker(settings)}
}

// Name returns the breaker's name
func (b *Breaker) Name() string {
	return b.name
}

// Execute runs fn unless the breaker is open
func (b *Breaker) Execute(fn func() (interface{}, error)) (interface{}, error) {
	return b.cb.Execute(fn)
}

// State returns the current state
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

// Counts returns the counts of the current window
func (b *Breaker) Counts() gobreaker.Counts {
	return b.cb.Counts()
}

// IsRejected reports whether err came from an open or saturated half-open breaker
func IsRejected(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// IsCancellation reports whether err is the caller's context ending
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}
