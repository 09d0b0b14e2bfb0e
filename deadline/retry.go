package deadline

import (
	"context"
	"math/rand"
	"time"

	"github.com/betwixt-labs/tempo/status"
	"github.com/betwixt-labs/tempo/xlog"
)

// Policy is the Tempo retry policy: make at most MaxAttempts attempts in
// all (the first one included), waiting an exponentially growing,
// jittered backoff between attempts, and retry only status codes in
// RetryableCodes.
type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	RetryableCodes map[status.Code]bool
}

func (p Policy) isRetryable(code status.Code) bool {
	return p.RetryableCodes != nil && p.RetryableCodes[code]
}

// PreviousAttemptsHeader is the custom-metadata key the client sets
// between retries, carrying the 1-based count of prior attempts: the
// retry loop counts attempts from 0 internally but stamps 1-based counts
// onto the wire.
const PreviousAttemptsHeader = "tempo-previous-rpc-attempts"

// OnAttempt is invoked before each attempt (0-based) with the number of
// prior attempts already made, so the caller can stamp
// PreviousAttemptsHeader into outgoing metadata.
type OnAttempt func(priorAttempts int)

// ExecuteWithRetry races work against the deadline (if set), retrying on
// status-bearing retryable errors with exponential jittered backoff, and
// synthesizes a DeadlineExceeded if no error was ever recorded.
func ExecuteWithRetry[T any](
	ctx context.Context,
	work func(ctx context.Context, attempt int) (T, error),
	policy Policy,
	d Deadline,
	cancel <-chan struct{},
	onAttempt OnAttempt,
) (T, error) {
	var zero T
	attempt := 0
	var lastErr error

	for {
		if onAttempt != nil {
			onAttempt(attempt)
		}

		var (
			val T
			err error
		)
		if !d.Zero() {
			val, err = Race(ctx, d, cancel, func(wctx context.Context) (T, error) {
				return work(wctx, attempt)
			})
		} else {
			val, err = work(ctx, attempt)
		}

		if err == nil {
			return val, nil
		}
		lastErr = err

		code := status.From(err)
		if !policy.isRetryable(code) {
			return zero, err
		}
		attempt++
		if attempt >= policy.MaxAttempts {
			break
		}

		delay := time.Duration(float64(policy.InitialBackoff) * pow(policy.Multiplier, attempt-1))
		if delay > policy.MaxBackoff {
			delay = policy.MaxBackoff
		}
		jittered := time.Duration(float64(delay) * (0.75 + rand.Float64()*0.5))
		xlog.Warningf("retry attempt %d/%d after %v: %v", attempt, policy.MaxAttempts, jittered, err)

		if !sleepCancellable(jittered, cancel) {
			return zero, status.New(status.Aborted, "call aborted during retry backoff")
		}
	}

	select {
	case <-cancel:
		if !status.Is(lastErr, status.Aborted) {
			return zero, status.New(status.Aborted, "call aborted")
		}
	default:
	}
	if lastErr == nil {
		lastErr = status.New(status.DeadlineExceeded, "retries exhausted")
	}
	return zero, lastErr
}

func sleepCancellable(d time.Duration, cancel <-chan struct{}) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-cancel:
		return false
	}
}

func pow(base float64, exp int) float64 {
	if exp <= 0 {
		return 1
	}
	r := 1.0
	for i := 0; i < exp; i++ {
		r *= base
	}
	return r
}
