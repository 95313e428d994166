package webclient

import (
	"context"
	"errors"
	"time"

	"github.com/bigpicture/pujo-pictures/src/logging"
)

// Policy bounds how often and how long an upstream call is attempted.
type Policy struct {
	Attempts     int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// Timeout applies to each attempt, not to the whole call.
	Timeout time.Duration
}

// DefaultPolicy is used for every store, blob and notification call.
func DefaultPolicy() Policy {
	return Policy{
		Attempts:     3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Timeout:      10 * time.Second,
	}
}

// Worst is the longest Do can take under p when every attempt runs to its
// timeout and every wait is doubled for rate limiting. It is zero when
// attempts are not bounded by a timeout.
func (p Policy) Worst() time.Duration {
	if p.Timeout <= 0 {
		return 0
	}
	p = p.withDefaults()
	total := time.Duration(p.Attempts) * p.Timeout
	delay := p.InitialDelay
	for i := 0; i < p.Attempts-1; i++ {
		total += 2 * delay
		delay = nextDelay(delay, p.MaxDelay)
	}
	return total
}

func (p Policy) withDefaults() Policy {
	if p.Attempts <= 0 {
		p.Attempts = 1
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = 200 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	return p
}

func nextDelay(delay, max time.Duration) time.Duration {
	if delay >= max {
		return delay
	}
	delay *= 2
	if delay > max {
		delay = max
	}
	return delay
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Do retries fn on error until it succeeds, returns a Permanent error, the
// attempts are used up, or ctx is done. Rate-limit errors double the wait.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	p = p.withDefaults()

	delay := p.InitialDelay
	var err error
	for i := 0; i < p.Attempts; i++ {
		err = attempt(ctx, p.Timeout, fn)
		if err == nil {
			return nil
		}
		if IsPermanent(err) {
			var perm *permanentError
			errors.As(err, &perm)
			return perm.err
		}
		if i == p.Attempts-1 {
			break
		}

		wait := delay
		if logging.IsRateLimit(err) {
			wait *= 2
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		delay = nextDelay(delay, p.MaxDelay)
	}
	return err
}

func attempt(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(actx)
}
