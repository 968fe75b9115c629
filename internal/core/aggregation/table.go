package aggregation

import (
	"log/slog"
	"sync"
	"time"

	"github.com/aevon-lab/carbonrelay/internal/sink"
)

// FlushStats summarises one BufferTable flush pass.
type FlushStats struct {
	Windows int // aggregate datapoints emitted
	Retired int // idle buffers evicted
}

// BufferTable owns one Buffer per aggregate metric name.
type BufferTable struct {
	mu      sync.Mutex
	buffers map[string]*Buffer
	idleTTL time.Duration // 0 keeps buffers for the process lifetime
}

// NewBufferTable creates an empty table. Buffers that stay empty for idleTTL
// are evicted during Flush; idleTTL <= 0 disables eviction.
func NewBufferTable(idleTTL time.Duration) *BufferTable {
	return &BufferTable{
		buffers: make(map[string]*Buffer),
		idleTTL: idleTTL,
	}
}

// GetBuffer returns the buffer for metric, creating an unconfigured one on
// first use. Concurrent first calls for the same name share one instance.
func (t *BufferTable) GetBuffer(metric string) *Buffer {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.buffers[metric]
	if !ok {
		b = newBuffer(metric)
		t.buffers[metric] = b
	}
	return b
}

// Len returns the number of live buffers.
func (t *BufferTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.buffers)
}

func (t *BufferTable) snapshot() []*Buffer {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Buffer, 0, len(t.buffers))
	for _, b := range t.buffers {
		out = append(out, b)
	}
	return out
}

// Flush emits every window older than lateness into s, then retires idle
// buffers. It stops at the first emit error; the rest is retried next time.
func (t *BufferTable) Flush(now time.Time, lateness time.Duration, s sink.Sink) (FlushStats, error) {
	var stats FlushStats
	for _, b := range t.snapshot() {
		n, err := b.Flush(now, lateness, s)
		stats.Windows += n
		if err != nil {
			return stats, err
		}
	}
	stats.Retired = t.retireIdle(now)
	return stats, nil
}

// FlushAll emits every open window of every buffer. Used on shutdown.
func (t *BufferTable) FlushAll(s sink.Sink) (FlushStats, error) {
	var stats FlushStats
	for _, b := range t.snapshot() {
		n, err := b.FlushAll(s)
		stats.Windows += n
		if err != nil {
			return stats, err
		}
	}
	return stats, nil
}

func (t *BufferTable) retireIdle(now time.Time) int {
	if t.idleTTL <= 0 {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	retired := 0
	for name, b := range t.buffers {
		if b.retireIfIdle(now, t.idleTTL) {
			delete(t.buffers, name)
			retired++
		}
	}
	if retired > 0 {
		slog.Debug("[BufferTable] Retired idle buffers", "count", retired, "remaining", len(t.buffers))
	}
	return retired
}
