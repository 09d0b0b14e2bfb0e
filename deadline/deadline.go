// Package deadline implements the Tempo deadline and retry engine, an
// absolute-instant deadline racer plus a jittered exponential-backoff
// retry loop, in the shape of a hand-rolled backoff helper rather than a
// third-party retry library.
/*
 * Copyright (c) 2024-2025, Tempo RPC Contributors. All rights reserved.
 */
package deadline

import (
	"context"
	"time"

	"github.com/betwixt-labs/tempo/status"
)

// Deadline is an absolute UTC instant derivable from a duration or a Unix
// millisecond timestamp. Invariant: IsExpired() <=> now >= d.
type Deadline struct {
	at time.Time
}

// FromDuration derives a Deadline d away from now.
func FromDuration(d time.Duration) Deadline {
	return Deadline{at: time.Now().Add(d)}
}

// FromUnixMillis derives a Deadline from a Unix millisecond timestamp, as
// carried on the wire in the `tempo-deadline` header.
func FromUnixMillis(ms int64) Deadline {
	return Deadline{at: time.UnixMilli(ms)}
}

// Zero reports whether d was never set (the zero value).
func (d Deadline) Zero() bool { return d.at.IsZero() }

// UnixMillis renders d for the `tempo-deadline` wire header.
func (d Deadline) UnixMillis() int64 { return d.at.UnixMilli() }

// IsExpired reports whether d has already passed.
func (d Deadline) IsExpired() bool {
	return !d.Zero() && !time.Now().Before(d.at)
}

// TimeRemaining returns the duration until d, or 0 if already expired.
func (d Deadline) TimeRemaining() time.Duration {
	if d.Zero() {
		return 0
	}
	r := time.Until(d.at)
	if r < 0 {
		return 0
	}
	return r
}

// Race runs work and returns the first of: work's result, a
// status.DeadlineExceeded error fired when d elapses, or a status.Aborted
// error if cancel fires first. The underlying timer is always
// cleared before Race returns. A zero Deadline disables the timer leg
// entirely.
func Race[T any](ctx context.Context, d Deadline, cancel <-chan struct{}, work func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	workCtx := ctx
	var cancelWork context.CancelFunc
	if !d.Zero() {
		workCtx, cancelWork = context.WithDeadline(ctx, d.at)
	} else {
		workCtx, cancelWork = context.WithCancel(ctx)
	}
	defer cancelWork()

	type result struct {
		val T
		err error
	}
	resCh := make(chan result, 1)
	go func() {
		v, err := work(workCtx)
		resCh <- result{v, err}
	}()

	var timer *time.Timer
	var timerCh <-chan time.Time
	if !d.Zero() {
		timer = time.NewTimer(d.TimeRemaining())
		timerCh = timer.C
		defer timer.Stop()
	}

	select {
	case r := <-resCh:
		return r.val, r.err
	case <-timerCh:
		cancelWork()
		return zero, status.New(status.DeadlineExceeded, "deadline exceeded")
	case <-cancel:
		cancelWork()
		return zero, status.New(status.Aborted, "call aborted")
	}
}
