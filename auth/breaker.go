// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// CircuitBreakerConfig configures the breaker wrapped around an external
// Authenticator (e.g. one backed by an LDAP/HTTP identity provider).
type CircuitBreakerConfig struct {
	FailureThreshold uint32
	ResetTimeout     time.Duration
}

// DefaultCircuitBreakerConfig returns sane defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
	}
}

// CircuitBreakerAuthenticator decorates an Authenticator with a circuit
// breaker so a flaky or overloaded external identity provider can't stall
// every CONNECT on the broker. While open, Authenticate fails closed
// (rejects the connection) rather than blocking.
type CircuitBreakerAuthenticator struct {
	next Authenticator
	cb   *gobreaker.CircuitBreaker
}

// NewCircuitBreakerAuthenticator wraps next with a circuit breaker.
func NewCircuitBreakerAuthenticator(next Authenticator, cfg CircuitBreakerConfig, logger *slog.Logger) *CircuitBreakerAuthenticator {
	if logger == nil {
		logger = slog.Default()
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "auth",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("auth circuit breaker state changed",
				slog.String("breaker", name), slog.String("from", from.String()), slog.String("to", to.String()))
		},
	})

	return &CircuitBreakerAuthenticator{next: next, cb: cb}
}

// Authenticate runs the wrapped Authenticator through the breaker. A trip
// (open breaker) is treated as an authentication failure, not an error,
// so callers don't need to special-case it.
func (a *CircuitBreakerAuthenticator) Authenticate(ctx context.Context, creds Credentials) (bool, error) {
	result, err := a.cb.Execute(func() (any, error) {
		return a.next.Authenticate(ctx, creds)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return false, nil
		}
		return false, err
	}
	return result.(bool), nil
}
