package sink

import (
	"sync"
	"testing"

	v1 "github.com/aevon-lab/carbonrelay/internal/api/v1"
	coreerrors "github.com/aevon-lab/carbonrelay/internal/core/errors"
	"github.com/stretchr/testify/require"
)

func TestQueue_BackpressureWhenFull(t *testing.T) {
	q := NewQueue("node-a", 2)
	require.NoError(t, q.Emit("a.b", v1.Datapoint{Timestamp: 1, Value: 1}))
	require.NoError(t, q.Emit("a.b", v1.Datapoint{Timestamp: 2, Value: 2}))

	err := q.Emit("a.b", v1.Datapoint{Timestamp: 3, Value: 3})
	require.ErrorIs(t, err, coreerrors.ErrSinkBackpressure)
	require.Equal(t, 2, q.Len())
	require.Equal(t, 2, q.Cap())

	got := <-q.C()
	require.Equal(t, Emission{Metric: "a.b", Datapoint: v1.Datapoint{Timestamp: 1, Value: 1}}, got)
	require.NoError(t, q.Emit("a.b", v1.Datapoint{Timestamp: 3, Value: 3}))
}

func TestQueue_Close(t *testing.T) {
	q := NewQueue("node-a", 4)
	require.NoError(t, q.Emit("a.b", v1.Datapoint{Timestamp: 1, Value: 1}))
	q.Close()
	q.Close()

	require.ErrorIs(t, q.Emit("a.b", v1.Datapoint{}), ErrQueueClosed)

	var drained []Emission
	for e := range q.C() {
		drained = append(drained, e)
	}
	require.Len(t, drained, 1)
}

func TestQueue_ConcurrentEmitAndClose(t *testing.T) {
	q := NewQueue("node-a", 1000)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_ = q.Emit("a.b", v1.Datapoint{Timestamp: int64(j), Value: 1})
			}
		}()
	}
	q.Close()
	wg.Wait()
	require.LessOrEqual(t, q.Len(), 1000)
}

func TestFunc(t *testing.T) {
	var got []string
	s := Func(func(metric string, _ v1.Datapoint) error {
		got = append(got, metric)
		return nil
	})
	require.NoError(t, s.Emit("x.y", v1.Datapoint{}))
	require.Equal(t, []string{"x.y"}, got)
}
