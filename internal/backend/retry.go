package backend

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy bounds the retries of idempotent reads. Run calls are never retried.
type RetryPolicy struct {
	MaxAttempts        int           `yaml:"maxAttempts" json:"maxAttempts"`
	InitialInterval    time.Duration `yaml:"initialInterval" json:"initialInterval"`
	MaximumInterval    time.Duration `yaml:"maxInterval" json:"maxInterval"`
	BackoffCoefficient float64       `yaml:"backoffCoefficient" json:"backoffCoefficient"`
}

// DefaultRetryPolicy returns the policy used when none is configured
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:        3,
		InitialInterval:    250 * time.Millisecond,
		MaximumInterval:    5 * time.Second,
		BackoffCoefficient: 2,
	}
}

// NoRetry makes every call a single attempt
func NoRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

// Backoff returns the wait before the given attempt (1-based), with ±20% jitter
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt <= 1 {
		return p.InitialInterval
	}

	coefficient := p.BackoffCoefficient
	if coefficient < 1 {
		coefficient = 1
	}
	backoff := float64(p.InitialInterval) * math.Pow(coefficient, float64(attempt-1))

	jitterFactor := 0.8 + rand.Float64()*0.4
	backoff = backoff * jitterFactor

	if p.MaximumInterval > 0 && backoff > float64(p.MaximumInterval) {
		backoff = float64(p.MaximumInterval)
	}

	return time.Duration(backoff)
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
