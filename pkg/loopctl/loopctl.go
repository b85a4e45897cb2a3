// Package loopctl drives a function in a cooperative loop with a fixed
// interval between successful iterations and a growing backoff between
// failing ones. RUDP sessions and MUX servers are both driven by
// repeatedly calling Poll/Tick; loopctl is the place that decides how fast
// to call them and how to back off when the caller's step function reports
// an error.
package loopctl

import (
	"context"
	"math"
	"time"
)

// Loop executes a step function repeatedly until it aborts, its context is
// cancelled, or it reaches MaxTimes iterations.
type Loop struct {
	maxTimes     uint64
	declineRatio float64
	declineLimit time.Duration
	interval     time.Duration
	lastSleep    time.Duration
	ctx          context.Context
}

// Option configures a Loop at construction time.
type Option func(*Loop)

// New builds a Loop with a 1-second interval and no backoff by default.
func New(opts ...Option) *Loop {
	l := &Loop{
		interval:     time.Second,
		maxTimes:     math.MaxUint64,
		declineRatio: 1,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.lastSleep = l.interval
	return l
}

// WithInterval sets the pause between successful iterations.
func WithInterval(d time.Duration) Option {
	return func(l *Loop) {
		if d >= time.Millisecond {
			l.interval = d
		}
	}
}

// WithMaxTimes bounds the number of iterations; default is unbounded.
func WithMaxTimes(n uint64) Option {
	return func(l *Loop) { l.maxTimes = n }
}

// WithDeclineRatio multiplies the sleep duration by n after every failing
// iteration, growing the backoff; n < 1 is ignored.
func WithDeclineRatio(n float64) Option {
	return func(l *Loop) {
		if n >= 1 {
			l.declineRatio = n
		}
	}
}

// WithDeclineLimit caps how long the backoff may grow to.
func WithDeclineLimit(d time.Duration) Option {
	return func(l *Loop) {
		if d >= 0 {
			l.declineLimit = d
		}
	}
}

// WithContext ties the loop's sleeps to ctx; Do returns as soon as ctx is
// done instead of completing its current sleep.
func WithContext(ctx context.Context) Option {
	return func(l *Loop) { l.ctx = ctx }
}

// Do runs step repeatedly. step reports abort=true to stop the loop
// cleanly, or a non-nil error to trigger the backoff schedule before the
// next attempt.
func (l *Loop) Do(step func() (abort bool, err error)) error {
	if l.ctx != nil && l.ctx.Err() != nil {
		return nil
	}

	var err error
	for i := uint64(0); i < l.maxTimes; i++ {
		var abort bool
		abort, err = step()
		if abort {
			return err
		}

		if err != nil {
			l.lastSleep = time.Duration(float64(l.lastSleep) * l.declineRatio)
			if l.declineLimit > 0 && l.lastSleep > l.declineLimit {
				l.lastSleep = l.declineLimit
			}
		} else {
			l.lastSleep = l.interval
		}

		if sleepUntilDone(l.lastSleep, l.ctx) {
			return nil
		}
	}
	return err
}

func sleepUntilDone(d time.Duration, ctx context.Context) (cancelled bool) {
	if ctx == nil {
		time.Sleep(d)
		return false
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return false
	case <-ctx.Done():
		return true
	}
}
