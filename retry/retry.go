package retry

import (
	"context"
	"math/rand"
	"time"
)

const (
	defaultMaxRetries = 3
	defaultBaseWait   = 200 * time.Millisecond
	defaultMaxWait    = 5 * time.Second
)

type options struct {
	maxRetries int
	baseWait   time.Duration
	maxWait    time.Duration
}

// Option configures Do
type Option func(*options)

// WithMaxRetries sets the number of retries after the first attempt
func WithMaxRetries(n int) Option {
	return func(o *options) { o.maxRetries = n }
}

// WithBaseWait sets the wait before the first retry. Later waits double.
func WithBaseWait(d time.Duration) Option {
	return func(o *options) { o.baseWait = d }
}

// WithMaxWait caps the wait between attempts
func WithMaxWait(d time.Duration) Option {
	return func(o *options) { o.maxWait = d }
}

// Do calls fn until it succeeds, returns an error that is not recoverable,
// or the retries are exhausted. The last error is returned unchanged.
func Do(ctx context.Context, fn func() error, opts ...Option) error {
	o := options{
		maxRetries: defaultMaxRetries,
		baseWait:   defaultBaseWait,
		maxWait:    defaultMaxWait,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxRetries < 0 {
		o.maxRetries = 0
	}
	if o.maxWait < o.baseWait {
		o.maxWait = o.baseWait
	}

	var err error
	for attempt := 0; ; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt >= o.maxRetries || !IsRecoverable(err) {
			return err
		}
		timer := time.NewTimer(o.wait(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
}

// wait returns the backoff before retry number attempt+1, with up to 25%
// jitter subtracted.
func (o options) wait(attempt int) time.Duration {
	delay := o.baseWait
	for i := 0; i < attempt && delay < o.maxWait; i++ {
		delay *= 2
	}
	if delay > o.maxWait {
		delay = o.maxWait
	}
	if jitter := int64(delay) / 4; jitter > 0 {
		delay -= time.Duration(rand.Int63n(jitter))
	}
	return delay
}
