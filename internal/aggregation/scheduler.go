package aggregation

import (
	"context"
	"log/slog"
	"time"

	core "github.com/aevon-lab/carbonrelay/internal/core/aggregation"
	"github.com/aevon-lab/carbonrelay/internal/instrumentation"
	"github.com/aevon-lab/carbonrelay/internal/sink"
	"github.com/benbjohnson/clock"
)

const (
	defaultFlushInterval = 10 * time.Second
	finalFlushTimeout    = 30 * time.Second
)

// SchedulerOptions controls how often and how eagerly windows are flushed.
type SchedulerOptions struct {
	Interval    time.Duration
	MaxLateness time.Duration // a window is held this long after it closes
	Clock       clock.Clock   // defaults to the wall clock
}

func (o SchedulerOptions) normalized() SchedulerOptions {
	n := o
	if n.Interval <= 0 {
		n.Interval = defaultFlushInterval
	}
	if n.MaxLateness < 0 {
		n.MaxLateness = 0
	}
	if n.Clock == nil {
		n.Clock = clock.New()
	}
	return n
}

// Scheduler flushes closed aggregation windows on a periodic interval.
type Scheduler struct {
	buffers *core.BufferTable
	out     sink.Sink
	opts    SchedulerOptions
	metrics *instrumentation.Metrics
}

// NewScheduler creates a flush scheduler for one buffer table. metrics may be nil.
func NewScheduler(buffers *core.BufferTable, out sink.Sink, opts SchedulerOptions, metrics *instrumentation.Metrics) *Scheduler {
	if metrics == nil {
		metrics = instrumentation.New(nil)
	}
	return &Scheduler{
		buffers: buffers,
		out:     out,
		opts:    opts.normalized(),
		metrics: metrics,
	}
}

// Start flushes on every tick until ctx is cancelled, then emits every open
// window before returning.
func (s *Scheduler) Start(ctx context.Context) error {
	ticker := s.opts.Clock.Ticker(s.opts.Interval)
	defer ticker.Stop()

	slog.Info("[Scheduler] Starting flush scheduler",
		"interval", s.opts.Interval,
		"max_lateness", s.opts.MaxLateness,
	)

	for {
		select {
		case <-ticker.C:
			s.Flush()
		case <-ctx.Done():
			slog.Info("[Scheduler] Stopping (context cancelled)")
			slog.Info("[Scheduler] Running final flush before shutdown...", "buffers", s.buffers.Len())
			if err := s.FlushAll(finalFlushTimeout); err != nil {
				slog.Error("[Scheduler] Final flush incomplete", "error", err)
				return err
			}
			slog.Info("[Scheduler] Final flush complete")
			return nil
		}
	}
}

// Flush emits the windows that are past the lateness horizon. An emit error
// leaves the remaining windows for the next tick.
func (s *Scheduler) Flush() core.FlushStats {
	stats, err := s.buffers.Flush(s.opts.Clock.Now(), s.opts.MaxLateness, s.out)
	s.record(stats)
	if err != nil {
		slog.Warn("[Scheduler] Flush interrupted, retrying next tick",
			"windows_emitted", stats.Windows,
			"error", err,
		)
		return stats
	}
	if stats.Windows > 0 || stats.Retired > 0 {
		slog.Debug("[Scheduler] Flush complete",
			"windows_emitted", stats.Windows,
			"buffers_retired", stats.Retired,
			"buffers", s.buffers.Len(),
		)
	}
	return stats
}

// FlushAll emits every open window, retrying downstream backpressure for up
// to timeout.
func (s *Scheduler) FlushAll(timeout time.Duration) error {
	return retryBackpressure(func() error {
		stats, err := s.buffers.FlushAll(s.out)
		s.record(stats)
		return err
	}, timeout, func(err error, wait time.Duration) {
		slog.Warn("[Scheduler] Final flush blocked by backpressure", "wait", wait, "error", err)
	})
}

func (s *Scheduler) record(stats core.FlushStats) {
	s.metrics.AggregatesEmitted.Add(float64(stats.Windows))
	s.metrics.Buffers.Set(float64(s.buffers.Len()))
}
