package aggregation

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	v1 "github.com/aevon-lab/carbonrelay/internal/api/v1"
	coreerrors "github.com/aevon-lab/carbonrelay/internal/core/errors"
	"github.com/aevon-lab/carbonrelay/internal/instrumentation"
	"github.com/aevon-lab/carbonrelay/internal/sink"
	"golang.org/x/sync/errgroup"
)

const (
	defaultQueueSize   = 10000
	defaultWorkerCount = 4
)

// Processor handles one datapoint synchronously. *receiver.Receiver satisfies it.
type Processor interface {
	Process(metric string, dp v1.Datapoint) error
}

// DispatcherOptions sizes the inbound queue and the worker pool.
type DispatcherOptions struct {
	QueueSize   int
	WorkerCount int
}

func (o DispatcherOptions) normalized() DispatcherOptions {
	n := o
	if n.QueueSize <= 0 {
		n.QueueSize = defaultQueueSize
	}
	if n.WorkerCount <= 0 {
		n.WorkerCount = defaultWorkerCount
	}
	return n
}

// Dispatcher accepts datapoints without blocking and feeds them to a pool of
// workers that run the Processor.
type Dispatcher struct {
	proc    Processor
	opts    DispatcherOptions
	metrics *instrumentation.Metrics

	inbound chan v1.MetricDatapoint
	group   errgroup.Group

	mu      sync.RWMutex // guards started/closed against Deliver
	started bool
	closed  bool
}

// NewDispatcher creates a stopped dispatcher. metrics may be nil.
func NewDispatcher(proc Processor, opts DispatcherOptions, metrics *instrumentation.Metrics) *Dispatcher {
	if proc == nil {
		panic("aggregation: processor must not be nil")
	}
	if metrics == nil {
		metrics = instrumentation.New(nil)
	}
	opts = opts.normalized()
	return &Dispatcher{
		proc:    proc,
		opts:    opts,
		metrics: metrics,
		inbound: make(chan v1.MetricDatapoint, opts.QueueSize),
	}
}

// Start launches the workers. Calling it twice is a no-op.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true

	slog.Info("[Dispatcher] Starting workers",
		"workers", d.opts.WorkerCount,
		"queue_size", d.opts.QueueSize,
	)
	for i := 0; i < d.opts.WorkerCount; i++ {
		d.group.Go(func() error {
			d.work()
			return nil
		})
	}
}

// Deliver queues one datapoint. A full queue fails fast with
// ErrSinkBackpressure; a closed dispatcher with sink.ErrQueueClosed.
func (d *Dispatcher) Deliver(metric string, dp v1.Datapoint) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return fmt.Errorf("%w: dispatcher", sink.ErrQueueClosed)
	}
	select {
	case d.inbound <- v1.MetricDatapoint{Metric: metric, Timestamp: dp.Timestamp, Value: dp.Value}:
		return nil
	default:
		d.metrics.Drop(instrumentation.ReasonBackpressure)
		return fmt.Errorf("%w: inbound queue full (capacity %d)", coreerrors.ErrSinkBackpressure, cap(d.inbound))
	}
}

// Pending returns the number of queued datapoints.
func (d *Dispatcher) Pending() int { return len(d.inbound) }

// Close stops intake, lets the workers drain what is queued and waits for them.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.inbound)
	started := d.started
	d.mu.Unlock()

	if !started {
		// Nobody will drain; process the backlog inline.
		d.work()
		return nil
	}
	slog.Info("[Dispatcher] Draining inbound queue", "pending", len(d.inbound))
	err := d.group.Wait()
	slog.Info("[Dispatcher] Workers stopped")
	return err
}

func (d *Dispatcher) work() {
	for item := range d.inbound {
		if err := d.proc.Process(item.Metric, item.Datapoint()); err != nil {
			d.metrics.Drop(dropReason(err))
			slog.Warn("[Dispatcher] Datapoint not delivered",
				"metric", item.Metric,
				"timestamp", item.Timestamp,
				"error", err,
			)
		}
	}
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, coreerrors.ErrSinkBackpressure), errors.Is(err, sink.ErrQueueClosed):
		return instrumentation.ReasonBackpressure
	case errors.Is(err, coreerrors.ErrEmptyRing):
		return instrumentation.ReasonUnroutable
	default:
		return instrumentation.ReasonInvalid
	}
}
