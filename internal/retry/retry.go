// Package retry re-runs speech operations that failed for transient reasons.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"

	"github.com/daikw/speechstream/internal/speech"
)

// Policy is an exponential backoff schedule.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt; 0 disables retrying.
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// Jitter spreads each delay by up to this fraction in either direction.
	Jitter float64
}

// DefaultPolicy suits interactive synthesis calls.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:   3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.2,
	}
}

// Delay is the un-jittered wait before retry number attempt (0-based).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.InitialDelay) * math.Pow(mult, float64(attempt))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	return time.Duration(d)
}

func (p Policy) jittered(d time.Duration) time.Duration {
	if p.Jitter <= 0 || d <= 0 {
		return d
	}
	j := min(p.Jitter, 1)
	return time.Duration(float64(d) * (1 + (rand.Float64()*2-1)*j))
}

// Retryable reports whether err is worth another attempt: rate limiting,
// service outages and network failures are; validation, authentication and
// cancellation are not.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	switch speech.KindOf(err) {
	case speech.KindRateLimit, speech.KindServiceUnavailable, speech.KindNetwork:
		return true
	default:
		return false
	}
}

// schedule feeds Policy delays to backoff, stretched to honor a service
// Retry-After hint.
type schedule struct {
	policy  Policy
	attempt int
	hint    time.Duration
}

func (s *schedule) NextBackOff() time.Duration {
	d := s.policy.jittered(s.policy.Delay(s.attempt))
	s.attempt++
	if s.hint > d {
		d = s.hint
	}
	s.hint = 0
	return d
}

func (s *schedule) Reset() {
	s.attempt = 0
	s.hint = 0
}

// Do runs op until it succeeds, fails permanently, exhausts the policy or
// ctx ends. The last error is returned unchanged.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	s := &schedule{policy: p}
	attempt := 0

	return backoff.Retry(ctx, func() (T, error) {
		attempt++
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if !Retryable(err) {
			return v, backoff.Permanent(err)
		}
		if d, ok := speech.RetryAfterOf(err); ok {
			s.hint = d
		}
		return v, err
	},
		backoff.WithBackOff(s),
		backoff.WithMaxTries(uint(max(p.MaxRetries, 0)+1)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Debug().
				Err(err).
				Int("attempt", attempt).
				Dur("next", next).
				Msg("Retrying speech request")
		}),
	)
}
