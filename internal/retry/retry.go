// Package retry provides a fixed-delay retry policy.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

// Policy retries an operation a bounded number of times.
type Policy struct {
	Attempts  int              // total number of attempts, values below 1 mean 1
	Delay     time.Duration    // fixed pause between attempts
	Retryable func(error) bool // nil retries every error
	Clock     clockwork.Clock  // nil uses the real clock
	OnRetry   func(attempt int, err error)
}

// Once is a policy that never retries.
var Once = Policy{Attempts: 1}

// Do runs op until it succeeds, returns a non-retryable error, the attempts
// are used up or ctx is done.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	clock := p.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = op(ctx); err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return errors.Join(err, ctxErr)
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-clock.After(p.Delay):
		}
	}
	if attempts == 1 {
		return err
	}
	return fmt.Errorf("giving up after %d attempts: %w", attempts, err)
}

// Permanent marks an error as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// IsTransient reports whether err was not marked with Permanent. It is the
// default Retryable predicate of the importers.
func IsTransient(err error) bool {
	var p *permanentError
	return !errors.As(err, &p)
}
