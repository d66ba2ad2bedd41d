// Package retry runs operations with a bounded, fixed-interval retry policy.
//
// Operations classify their own failures: a plain error is retryable, an error
// wrapped with [Fatal] stops the loop immediately.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/kilnhq/kiln/internal/log"
)

const (
	// DefaultAttempts is the default number of attempts (not retries).
	DefaultAttempts = 10
	// DefaultDelay is the default fixed delay between attempts.
	DefaultDelay = 3 * time.Second
)

// ErrAttemptsExhausted is returned when every attempt failed with a retryable error.
var ErrAttemptsExhausted = errors.New("retry attempts exhausted")

// FatalError marks an error that must not be retried.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

// Fatal marks err as not retryable. A nil err returns nil.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// IsFatal returns true if err was marked with Fatal.
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}

// Config is the retry policy configuration.
type Config struct {
	// Attempts is the total number of times the operation is run.
	Attempts int
	// Delay is the fixed wait between attempts.
	Delay time.Duration
	// Timer drives the waits, nil uses real time.
	Timer backoff.Timer
	// Name identifies the operation in logs.
	Name   string
	Logger log.Logger
}

func (c *Config) defaults() {
	if c.Attempts <= 0 {
		c.Attempts = DefaultAttempts
	}
	if c.Delay <= 0 {
		c.Delay = DefaultDelay
	}
	if c.Name == "" {
		c.Name = "operation"
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
}

// Do runs op until it succeeds, returns a fatal error, the context is done or
// the attempts run out.
func Do[T any](ctx context.Context, cfg Config, op func(ctx context.Context) (T, error)) (T, error) {
	cfg.defaults()

	attempt := 0
	operation := func() (T, error) {
		attempt++
		v, err := op(ctx)
		if err != nil && IsFatal(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	notify := func(err error, next time.Duration) {
		cfg.Logger.Warningf("%s attempt %d/%d failed, retrying in %s: %v", cfg.Name, attempt, cfg.Attempts, next, err)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(cfg.Delay), uint64(cfg.Attempts-1)),
		ctx,
	)

	v, err := backoff.RetryNotifyWithTimerAndData(operation, policy, notify, cfg.Timer)
	if err == nil {
		return v, nil
	}

	if IsFatal(err) || ctx.Err() != nil {
		return v, err
	}

	return v, fmt.Errorf("%s: %w after %d attempts: %w", cfg.Name, ErrAttemptsExhausted, attempt, err)
}
