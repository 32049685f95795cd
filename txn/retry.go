package txn

import (
	"errors"
	"time"
)

// RetryPolicy governs how a client retries a request across a connection
// that may need reopening between attempts. It generalizes the retry loop
// every MODBUS client needs: reopen a broken connection, resend the
// request, but never retry a request that was merely answered with an
// exception or an empty response, since those are valid wire outcomes, not
// transport failures.
type RetryPolicy struct {
	// MaxAttempts is the total number of sends allowed, including the
	// first; it must be at least 1.
	MaxAttempts int
	// Delay is the pause between a failed attempt and the next one.
	Delay time.Duration
	// Reconnect, when set, is called before every retry, whether or not the
	// connection is still usable. It is never called before the first attempt.
	Reconnect func() error
	// Send performs one attempt and returns the decoded response bytes.
	Send func() ([]byte, error)
	// IsRetryable decides whether err justifies another attempt. A nil
	// IsRetryable retries on every non-nil error, matching the historical
	// behavior of retrying on any transport failure.
	IsRetryable func(err error) bool
}

// Run executes the policy, returning the first successful response or the
// last error encountered after MaxAttempts sends. Retrying never happens
// on success: a response, even an exception response, is terminal, since
// the spec's retry budget covers transport failures (timeouts, broken
// connections, corrupt frames) and never re-sends a request that a device
// has already validly answered.
func (p RetryPolicy) Run() ([]byte, error) {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 && p.Reconnect != nil {
			if err := p.Reconnect(); err != nil {
				lastErr = err
				if p.Delay > 0 {
					time.Sleep(p.Delay)
				}
				continue
			}
		}

		resp, err := p.Send()
		if err == nil {
			return resp, nil
		}
		lastErr = err

		retryable := p.IsRetryable == nil || p.IsRetryable(err)
		if !retryable {
			break
		}
		if attempt < p.MaxAttempts-1 && p.Delay > 0 {
			time.Sleep(p.Delay)
		}
	}

	return nil, lastErr
}

// DefaultIsRetryable retries every transport-level failure (connection
// loss, timeout, corrupt frame) but never retries a cancelled wait: the
// caller withdrew that request on purpose, so resending it would ignore
// the cancellation.
func DefaultIsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrCancelled)
}
