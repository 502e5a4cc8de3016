package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/satriahrh/interpreter/domain"
)

// RetryPolicy controls collaborator calls made by the translation and
// synthesis stages
type RetryPolicy struct {
	// MaxAttempts includes the first call
	MaxAttempts uint `yaml:"max_attempts"`
	// InitialInterval is the wait before the first retry
	InitialInterval time.Duration `yaml:"initial_interval"`
	Multiplier      float64       `yaml:"multiplier"`
	// Timeout bounds every single attempt
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultRetryPolicy retries once after 200ms
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     2,
		InitialInterval: 200 * time.Millisecond,
		Multiplier:      2,
		Timeout:         10 * time.Second,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxAttempts == 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = def.InitialInterval
	}
	if p.Multiplier < 1 {
		p.Multiplier = def.Multiplier
	}
	if p.Timeout <= 0 {
		p.Timeout = def.Timeout
	}
	return p
}

// callWithRetry runs fn under the policy. Every failed attempt is classified
// into the collaborator error taxonomy; an attempt that runs past its
// timeout is a collaborator timeout. Cancellation of ctx stops retrying and
// returns the context error.
func callWithRetry[T any](
	ctx context.Context,
	policy RetryPolicy,
	provider string,
	onRetry func(err error, wait time.Duration),
	fn func(ctx context.Context) (T, error),
) (T, error) {
	policy = policy.withDefaults()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.InitialInterval
	b.Multiplier = policy.Multiplier
	b.RandomizationFactor = 0
	b.Reset()

	operation := func() (T, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, policy.Timeout)
		defer cancel()

		result, err := fn(attemptCtx)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return result, backoff.Permanent(ctx.Err())
		}
		return result, classifyAttempt(attemptCtx, provider, err)
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(policy.MaxAttempts),
	}
	if onRetry != nil {
		opts = append(opts, backoff.WithNotify(onRetry))
	}

	result, err := backoff.Retry(ctx, operation, opts...)
	if err != nil && ctx.Err() != nil {
		return result, ctx.Err()
	}
	return result, err
}

// classifyAttempt maps the error of one attempt run under ctx onto the
// collaborator taxonomy. An attempt whose own deadline passed is a timeout
// whatever the collaborator returned.
func classifyAttempt(ctx context.Context, provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return domain.Timeout(provider, err)
	}
	return domain.ClassifyCallError(provider, err)
}
