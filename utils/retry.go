package utils

import (
	"context"
	"time"

	"golang.org/x/xerrors"
)

const (
	defaultMaxAttempts = 3
	defaultBackoffStep = 5 * time.Second
)

// Backoff returns the wait before the attempt following the given zero-based attempt.
type Backoff func(attempt int) time.Duration

func LinearBackoff(step time.Duration) Backoff {
	return func(attempt int) time.Duration {
		return step * time.Duration(attempt+1)
	}
}

func ConstantBackoff(d time.Duration) Backoff {
	return func(int) time.Duration {
		return d
	}
}

// RetryPolicy decides how many attempts a request gets and how long to wait between them.
// Status failures (*StatusError) and transport failures back off independently.
type RetryPolicy struct {
	MaxAttempts   int
	StatusBackoff Backoff
	ErrorBackoff  Backoff
}

// DefaultRetryPolicy makes 3 attempts, waiting 5s*(attempt+1) after a bad status and 5s after a transport error.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   defaultMaxAttempts,
		StatusBackoff: LinearBackoff(defaultBackoffStep),
		ErrorBackoff:  ConstantBackoff(defaultBackoffStep),
	}
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Wait returns the wait after the given attempt failed with err.
func (p RetryPolicy) Wait(attempt int, err error) time.Duration {
	backoff := p.ErrorBackoff
	var se *StatusError
	if xerrors.As(err, &se) {
		backoff = p.StatusBackoff
	}
	if backoff == nil {
		return 0
	}
	return backoff(attempt)
}

// Do calls fn until it succeeds or the attempts are used up, and returns the last error.
// There is no wait after the final attempt.
func (p RetryPolicy) Do(ctx context.Context, fn func(attempt int) error) error {
	attempts := p.attempts()
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = fn(attempt); err == nil {
			return nil
		}
		if attempt == attempts-1 {
			break
		}
		if serr := Sleep(ctx, p.Wait(attempt, err)); serr != nil {
			return xerrors.Errorf("retry interrupted: %w", serr)
		}
	}
	return err
}
