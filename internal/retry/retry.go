// Package retry runs an operation under a bounded exponential-backoff
// schedule where every attempt gets its own timeout.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	xerrors "WChain-Bubbles/internal/errors"
	"WChain-Bubbles/pkg/logger"
)

// Default schedule values.
const (
	DefaultMaxAttempts     = 3
	DefaultInitialInterval = 500 * time.Millisecond
	DefaultMaxInterval     = 10 * time.Second
	DefaultMultiplier      = 2.0
	DefaultAttemptTimeout  = 10 * time.Second
)

// Policy describes how many times an operation runs and how long it waits
// between attempts.
type Policy struct {
	Name            string
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	AttemptTimeout  time.Duration
	// RetryIf decides whether a failed attempt is worth repeating. Nil
	// retries every error that Transient accepts.
	RetryIf func(error) bool
}

// ProbePolicy is a single attempt bounded by 5s, used when probing RPC
// candidates. Failing over to the next candidate replaces retrying.
func ProbePolicy() Policy {
	return Policy{
		Name:           "probe",
		MaxAttempts:    1,
		AttemptTimeout: 5 * time.Second,
	}
}

// LookupPolicy retries balance reads three times starting at 500ms.
func LookupPolicy() Policy {
	return Policy{
		Name:            "lookup",
		MaxAttempts:     DefaultMaxAttempts,
		InitialInterval: DefaultInitialInterval,
		MaxInterval:     DefaultMaxInterval,
		Multiplier:      DefaultMultiplier,
		AttemptTimeout:  DefaultAttemptTimeout,
	}
}

// Transient reports whether err may succeed on another attempt. Coded
// errors follow their registered or overridden retryability; anything
// else is treated as transient.
func Transient(err error) bool {
	if _, ok := xerrors.From(err); ok {
		return xerrors.RetryableError(err)
	}
	return true
}

// Permanent marks err so that Do returns it without further attempts.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = DefaultInitialInterval
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = DefaultMaxInterval
	}
	if p.Multiplier < 1 {
		p.Multiplier = DefaultMultiplier
	}
	if p.AttemptTimeout <= 0 {
		p.AttemptTimeout = DefaultAttemptTimeout
	}
	return p
}

// Budget is the longest Do can take when every attempt times out.
func (p Policy) Budget() time.Duration {
	p = p.normalized()
	total := time.Duration(p.MaxAttempts) * p.AttemptTimeout
	wait := p.InitialInterval
	for i := 1; i < p.MaxAttempts; i++ {
		total += wait
		wait = min(time.Duration(float64(wait)*p.Multiplier), p.MaxInterval)
	}
	return total
}

func (p Policy) schedule(ctx context.Context) backoff.BackOffContext {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.InitialInterval
	exp.MaxInterval = p.MaxInterval
	exp.Multiplier = p.Multiplier
	exp.RandomizationFactor = 0
	exp.MaxElapsedTime = 0
	exp.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(p.MaxAttempts-1)), ctx)
}

// Do runs fn until it succeeds, the attempts run out, the error is
// permanent, or ctx is done. The last attempt's error is returned as is.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	p = p.normalized()
	attempt := 0
	op := func() error {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, p.AttemptTimeout)
		defer cancel()

		err := fn(attemptCtx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			return err
		}
		if !Transient(err) || (p.RetryIf != nil && !p.RetryIf(err)) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		logger.Named("retry").Debug("attempt failed",
			"policy", p.Name,
			"attempt", attempt,
			"wait", wait,
			"error", err,
		)
	}
	return backoff.RetryNotify(op, p.schedule(ctx), notify)
}
