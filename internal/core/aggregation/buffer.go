package aggregation

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"
	v1 "github.com/aevon-lab/carbonrelay/internal/api/v1"
	coreerrors "github.com/aevon-lab/carbonrelay/internal/core/errors"
	"github.com/aevon-lab/carbonrelay/internal/sink"
	"github.com/shopspring/decimal"
)

// ErrBufferRetired is returned by Input on a buffer the table evicted for
// idleness. Callers fetch a fresh buffer from the table and retry.
var ErrBufferRetired = errors.New("aggregation buffer was retired")

// window accumulates the values of one [start, start+frequency) interval.
type window struct {
	acc    decimal.Decimal
	count  int64
	sketch *ddsketch.DDSketch // percentile methods only
	ranked int64              // values the sketch accepted
}

// Buffer accumulates datapoints for one aggregate metric. Its frequency and
// method are bound by the first Configure call and never change.
type Buffer struct {
	metric string

	mu         sync.Mutex
	configured bool
	frequency  int64 // seconds
	method     string
	agg        Aggregator
	windows    map[int64]*window

	flushed   bool  // at least one window was emitted
	watermark int64 // start of the newest emitted window
	idleSince time.Time
	retired   bool
}

func newBuffer(metric string) *Buffer {
	return &Buffer{metric: metric, windows: make(map[int64]*window)}
}

// Metric returns the aggregate metric name.
func (b *Buffer) Metric() string { return b.metric }

// Configured reports whether Configure has bound the buffer.
func (b *Buffer) Configured() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.configured
}

// Configure binds frequency (seconds) and method on the first call and
// reports true. Later calls change nothing and report false; the first writer wins.
func (b *Buffer) Configure(frequency int64, method string) (bool, error) {
	agg, ok := Operators[method]
	if !ok {
		return false, fmt.Errorf("%w: unsupported method %q", coreerrors.ErrConfiguration, method)
	}
	if frequency <= 0 {
		return false, fmt.Errorf("%w: frequency must be > 0, got %d", coreerrors.ErrConfiguration, frequency)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.configured {
		return false, nil
	}
	b.configured = true
	b.frequency = frequency
	b.method = method
	b.agg = agg
	return true, nil
}

// Frequency returns the bound window length in seconds (0 before Configure).
func (b *Buffer) Frequency() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.frequency
}

// Method returns the bound aggregation method ("" before Configure).
func (b *Buffer) Method() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.method
}

// Input adds dp to the window holding its timestamp.
func (b *Buffer) Input(dp v1.Datapoint) error {
	if math.IsNaN(dp.Value) || math.IsInf(dp.Value, 0) {
		return fmt.Errorf("%w: %s got %v", coreerrors.ErrInvalidDatapoint, b.metric, dp.Value)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.retired {
		return ErrBufferRetired
	}
	if !b.configured {
		return fmt.Errorf("%w: %s", coreerrors.ErrUnconfiguredBuffer, b.metric)
	}

	start := WindowStart(dp.Timestamp, b.frequency)
	if b.flushed && start <= b.watermark {
		return fmt.Errorf("%w: %s window %d already flushed", coreerrors.ErrLateDatapoint, b.metric, start)
	}

	w, ok := b.windows[start]
	if !ok {
		w = &window{}
		if _, isQuantile := b.agg.(QuantileAggregator); isQuantile {
			sk, err := ddsketch.NewDefaultDDSketch(sketchAccuracy)
			if err != nil {
				return fmt.Errorf("creating sketch for %s: %w", b.metric, err)
			}
			w.sketch = sk
		}
		b.windows[start] = w
	}

	v := decimal.NewFromFloat(dp.Value)
	if w.count == 0 {
		w.acc = b.agg.Initial(v)
	} else {
		w.acc = b.agg.Apply(w.acc, v)
	}
	w.count++
	if w.sketch != nil {
		if err := w.sketch.Add(dp.Value); err != nil {
			slog.Debug("[Buffer] Value outside sketch range", "metric", b.metric, "value", dp.Value, "error", err)
		} else {
			w.ranked++
		}
	}
	b.idleSince = time.Time{}
	return nil
}

// OpenWindows returns the number of windows not yet flushed.
func (b *Buffer) OpenWindows() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.windows)
}

// Flush emits every window whose end lies at least lateness before now,
// oldest first, and evicts each one after it was emitted. It stops at the
// first emit error and returns it; unemitted windows stay for the next flush.
// s must not block: Flush holds the buffer lock while emitting.
func (b *Buffer) Flush(now time.Time, lateness time.Duration, s sink.Sink) (int, error) {
	cutoff := now.Add(-lateness).Unix()
	return b.flush(now, s, func(start int64) bool {
		return start+b.frequency <= cutoff
	})
}

// FlushAll emits every open window regardless of age.
func (b *Buffer) FlushAll(s sink.Sink) (int, error) {
	return b.flush(time.Now(), s, func(int64) bool { return true })
}

func (b *Buffer) flush(now time.Time, s sink.Sink, ready func(start int64) bool) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.configured || len(b.windows) == 0 {
		return 0, nil
	}

	starts := make([]int64, 0, len(b.windows))
	for start := range b.windows {
		if ready(start) {
			starts = append(starts, start)
		}
	}
	slices.Sort(starts)

	emitted := 0
	for _, start := range starts {
		value, ok := b.reduce(b.windows[start])
		if ok {
			dp := v1.Datapoint{Timestamp: start, Value: value}
			if err := s.Emit(b.metric, dp); err != nil {
				var partial *sink.PartialError
				if !errors.As(err, &partial) {
					return emitted, fmt.Errorf("flushing %s window %d: %w", b.metric, start, err)
				}
				// Partial delivery closes the window; replicas that took it must not get it twice.
				slog.Warn("[Buffer] Aggregate reached only some destinations",
					"metric", b.metric,
					"window", start,
					"failed", partial.Failed,
					"error", partial.Err,
				)
			}
			emitted++
		} else {
			slog.Warn("[Buffer] Window has no rankable values, skipping", "metric", b.metric, "method", b.method, "window", start)
		}
		delete(b.windows, start)
		if !b.flushed || start > b.watermark {
			b.watermark = start
		}
		b.flushed = true
	}

	if len(b.windows) == 0 && b.idleSince.IsZero() {
		b.idleSince = now
	}
	return emitted, nil
}

// reduce returns the window's aggregate, or false when a percentile window
// holds no value the sketch could rank.
func (b *Buffer) reduce(w *window) (float64, bool) {
	if q, ok := b.agg.(QuantileAggregator); ok && w.sketch != nil {
		if w.ranked == 0 {
			return 0, false
		}
		v, err := w.sketch.GetValueAtQuantile(q.Quantile())
		if err != nil {
			slog.Warn("[Buffer] Quantile unavailable", "metric", b.metric, "method", b.method, "error", err)
			return 0, false
		}
		return v, true
	}
	v, _ := b.agg.Result(w.acc, w.count).Float64()
	return v, true
}

// retireIfIdle marks the buffer retired when it has held no windows for at
// least ttl. The caller removes it from the table.
func (b *Buffer) retireIfIdle(now time.Time, ttl time.Duration) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.windows) > 0 || b.idleSince.IsZero() || now.Sub(b.idleSince) < ttl {
		return false
	}
	b.retired = true
	return true
}
