package aggregation

import (
	"sync"

	v1 "github.com/aevon-lab/carbonrelay/internal/api/v1"
	"github.com/aevon-lab/carbonrelay/internal/sink"
)

// recorder is a Sink that keeps everything it is given.
type recorder struct {
	mu  sync.Mutex
	got []sink.Emission
}

func (r *recorder) Emit(metric string, dp v1.Datapoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, sink.Emission{Metric: metric, Datapoint: dp})
	return nil
}

func (r *recorder) emissions() []sink.Emission {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sink.Emission(nil), r.got...)
}

// flakySink fails the first n emits with err.
type flakySink struct {
	mu    sync.Mutex
	n     int
	err   error
	calls int
	next  recorder
}

func (f *flakySink) Emit(metric string, dp v1.Datapoint) error {
	f.mu.Lock()
	f.calls++
	if f.n != 0 {
		if f.n > 0 {
			f.n--
		}
		f.mu.Unlock()
		return f.err
	}
	f.mu.Unlock()
	return f.next.Emit(metric, dp)
}

func (f *flakySink) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
