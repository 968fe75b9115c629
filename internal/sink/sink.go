// Package sink is the handoff between the aggregation core and whatever
// delivers datapoints onward. Emission never blocks: a full queue is reported
// as ErrSinkBackpressure so the caller can retry or shed load.
package sink

import (
	"errors"
	"fmt"
	"sync"

	v1 "github.com/aevon-lab/carbonrelay/internal/api/v1"
	coreerrors "github.com/aevon-lab/carbonrelay/internal/core/errors"
)

// ErrQueueClosed is returned by Emit after Close.
var ErrQueueClosed = errors.New("emission queue is closed")

// Sink receives original metrics and flushed aggregates.
type Sink interface {
	Emit(metric string, dp v1.Datapoint) error
}

// PartialError reports an emission some destinations accepted and others
// refused. Retry re-sends to the refused destinations only.
type PartialError struct {
	Failed []string
	Err    error
	Retry  func() error
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("%d destination(s) refused emission: %v", len(e.Failed), e.Err)
}

func (e *PartialError) Unwrap() error { return e.Err }

// Func adapts a function to Sink.
type Func func(metric string, dp v1.Datapoint) error

func (f Func) Emit(metric string, dp v1.Datapoint) error { return f(metric, dp) }

// Emission is one queued datapoint.
type Emission struct {
	Metric    string
	Datapoint v1.Datapoint
}

// Queue is a bounded, non-blocking Sink backed by a channel.
type Queue struct {
	name string
	ch   chan Emission

	mu     sync.RWMutex // guards closed against concurrent Emit/Close
	closed bool
}

// NewQueue creates a queue holding at most size emissions.
func NewQueue(name string, size int) *Queue {
	if size <= 0 {
		size = 1
	}
	return &Queue{name: name, ch: make(chan Emission, size)}
}

// Emit enqueues without blocking.
func (q *Queue) Emit(metric string, dp v1.Datapoint) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return fmt.Errorf("%w: %s", ErrQueueClosed, q.name)
	}
	select {
	case q.ch <- Emission{Metric: metric, Datapoint: dp}:
		return nil
	default:
		return fmt.Errorf("%w: %s (capacity %d)", coreerrors.ErrSinkBackpressure, q.name, cap(q.ch))
	}
}

// C returns the channel consumers drain. It is closed by Close.
func (q *Queue) C() <-chan Emission { return q.ch }

func (q *Queue) Name() string { return q.name }
func (q *Queue) Len() int     { return len(q.ch) }
func (q *Queue) Cap() int     { return cap(q.ch) }

// Close stops accepting emissions; queued items stay readable from C.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}
