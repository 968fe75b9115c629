package aggregation

import (
	"errors"
	"log/slog"
	"time"

	v1 "github.com/aevon-lab/carbonrelay/internal/api/v1"
	coreerrors "github.com/aevon-lab/carbonrelay/internal/core/errors"
	"github.com/aevon-lab/carbonrelay/internal/sink"
	"github.com/cenkalti/backoff/v4"
)

const retryMaxInterval = 500 * time.Millisecond

// RetryingSink retries emissions that fail with ErrSinkBackpressure, backing
// off exponentially for at most Timeout. Other errors are returned at once.
type RetryingSink struct {
	Next    sink.Sink
	Timeout time.Duration
}

// NewRetryingSink wraps next. A timeout <= 0 disables retrying.
func NewRetryingSink(next sink.Sink, timeout time.Duration) *RetryingSink {
	return &RetryingSink{Next: next, Timeout: timeout}
}

// Emit sends to Next. After a partial delivery only the refused
// destinations are retried.
func (s *RetryingSink) Emit(metric string, dp v1.Datapoint) error {
	err := s.Next.Emit(metric, dp)
	if err == nil || s.Timeout <= 0 || !errors.Is(err, coreerrors.ErrSinkBackpressure) {
		return err
	}
	attempt := func() error {
		var partial *sink.PartialError
		if errors.As(err, &partial) {
			err = partial.Retry()
		} else {
			err = s.Next.Emit(metric, dp)
		}
		return err
	}
	return retryBackpressure(attempt, s.Timeout, func(err error, wait time.Duration) {
		slog.Debug("[RetryingSink] Downstream full, backing off", "metric", metric, "wait", wait, "error", err)
	})
}

// retryBackpressure reruns op while it fails with ErrSinkBackpressure.
func retryBackpressure(op func() error, timeout time.Duration, notify backoff.Notify) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 5 * time.Millisecond
	bo.MaxInterval = retryMaxInterval
	bo.MaxElapsedTime = timeout

	return backoff.RetryNotify(func() error {
		err := op()
		if err != nil && !errors.Is(err, coreerrors.ErrSinkBackpressure) {
			return backoff.Permanent(err)
		}
		return err
	}, bo, notify)
}
