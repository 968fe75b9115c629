package relay

import (
	"context"
	"log/slog"

	"github.com/aevon-lab/carbonrelay/internal/sink"
)

// Forward drains q into deliver until q is closed or ctx ends. It is the seam
// where a network sender plugs in; deliver errors are logged and the
// emission is dropped.
func Forward(ctx context.Context, q *sink.Queue, deliver sink.Sink) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-q.C():
			if !ok {
				slog.Debug("[Relay] Destination queue closed", "node", q.Name())
				return
			}
			if err := deliver.Emit(e.Metric, e.Datapoint); err != nil {
				slog.Warn("[Relay] Delivery failed", "node", q.Name(), "metric", e.Metric, "error", err)
			}
		}
	}
}
