// Package resilience provides circuit breaking for calls to external
// dependencies.
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/developer-mesh/semcache/pkg/observability"
)

// ErrCircuitOpen is returned when the circuit breaker rejects a call
var ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

// CircuitBreakerConfig holds configuration for a circuit breaker
type CircuitBreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that trips the circuit
	FailureThreshold int
	// FailureRatio trips the circuit when the observed failure ratio exceeds it
	// and at least MinimumRequestCount requests were seen
	FailureRatio float64
	// MinimumRequestCount is the request floor below which FailureRatio is ignored
	MinimumRequestCount int
	// ResetTimeout is how long the circuit stays open before probing
	ResetTimeout time.Duration
	// MaxRequestsHalfOpen limits concurrent probes in the half-open state
	MaxRequestsHalfOpen int
}

// DefaultCircuitBreakerConfig returns production defaults
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:    5,
		FailureRatio:        0.6,
		MinimumRequestCount: 10,
		ResetTimeout:        30 * time.Second,
		MaxRequestsHalfOpen: 5,
	}
}

// CircuitBreaker wraps gobreaker with the project's logging and metrics
type CircuitBreaker struct {
	name    string
	breaker *gobreaker.CircuitBreaker
	logger  observability.Logger
	metrics observability.MetricsClient
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration
func NewCircuitBreaker(name string, config CircuitBreakerConfig, logger observability.Logger, metrics observability.MetricsClient) *CircuitBreaker {
	if logger == nil {
		logger = observability.NewLogger("resilience.circuit_breaker")
	}
	if metrics == nil {
		metrics = observability.NewNoOpMetricsClient()
	}
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = 30 * time.Second
	}
	if config.MaxRequestsHalfOpen <= 0 {
		config.MaxRequestsHalfOpen = 1
	}

	cb := &CircuitBreaker{
		name:    name,
		logger:  logger,
		metrics: metrics,
	}

	cb.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: uint32(config.MaxRequestsHalfOpen),
		Timeout:     config.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures >= uint32(config.FailureThreshold) {
				return true
			}
			if config.FailureRatio > 0 && counts.Requests >= uint32(config.MinimumRequestCount) {
				ratio := float64(counts.TotalFailures) / float64(counts.Requests)
				return ratio >= config.FailureRatio
			}
			return false
		},
		OnStateChange: cb.onStateChange,
	})

	return cb
}

// Execute runs the operation through the circuit breaker. A rejected call
// returns ErrCircuitOpen without invoking the operation.
func (cb *CircuitBreaker) Execute(ctx context.Context, operation func() (interface{}, error)) (interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result, err := cb.breaker.Execute(operation)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrCircuitOpen
	}
	return result, err
}

// State returns the current circuit state as a string
func (cb *CircuitBreaker) State() string {
	return cb.breaker.State().String()
}

// IsOpen reports whether the circuit is currently rejecting calls
func (cb *CircuitBreaker) IsOpen() bool {
	return cb.breaker.State() == gobreaker.StateOpen
}

func (cb *CircuitBreaker) onStateChange(name string, from, to gobreaker.State) {
	cb.logger.Warn("Circuit breaker state changed", map[string]interface{}{
		"breaker": name,
		"from":    from.String(),
		"to":      to.String(),
	})

	cb.metrics.IncrementCounterWithLabels("circuit_breaker.state_change", 1, map[string]string{
		"breaker": name,
		"to":      to.String(),
	})
}
