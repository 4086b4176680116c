package sqlexec

import (
	"context"
	"fmt"

	"github.com/sony/gobreaker"

	apperrors "github.com/JackTn/azure-sdk-usage-agent/internal/errors"
	"github.com/JackTn/azure-sdk-usage-agent/internal/resilience"
)

// DefaultBreakerPolicy ignores statements abandoned by the caller
var DefaultBreakerPolicy = func() resilience.Policy {
	p := resilience.DefaultPolicy
	p.Neutral = resilience.IsCancellation
	return p
}()

// CircuitBreakerExecutor fails fast while the SQL backend is down
type CircuitBreakerExecutor struct {
	executor Executor
	breaker  *resilience.Breaker
}

func NewCircuitBreakerExecutor(executor Executor, name string, policy resilience.Policy) *CircuitBreakerExecutor {
	return &CircuitBreakerExecutor{
		executor: executor,
		breaker:  resilience.NewBreaker(name, policy),
	}
}

// Execute implements Executor. A rejected call surfaces as QUERY_EXECUTION_FAILED.
func (cb *CircuitBreakerExecutor) Execute(ctx context.Context, sql string) (*Result, error) {
	result, err := cb.breaker.Execute(func() (interface{}, error) {
		return cb.executor.Execute(ctx, sql)
	})
	if resilience.IsRejected(err) {
		return nil, apperrors.NewQueryExecutionError(fmt.Errorf("%s: %w", cb.breaker.Name(), err)).
			WithSuggestion("The SQL backend failed repeatedly; calls resume automatically once it recovers.")
	}
	if err != nil {
		return nil, err
	}
	return result.(*Result), nil
}

// State returns the breaker state
func (cb *CircuitBreakerExecutor) State() gobreaker.State {
	return cb.breaker.State()
}
