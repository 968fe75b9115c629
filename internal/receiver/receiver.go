// Package receiver runs one incoming datapoint through rewriting, aggregate
// matching, buffering and the pass-through emission of the original metric.
package receiver

import (
	"errors"
	"fmt"
	"log/slog"

	v1 "github.com/aevon-lab/carbonrelay/internal/api/v1"
	"github.com/aevon-lab/carbonrelay/internal/core/aggregation"
	coreerrors "github.com/aevon-lab/carbonrelay/internal/core/errors"
	"github.com/aevon-lab/carbonrelay/internal/instrumentation"
	"github.com/aevon-lab/carbonrelay/internal/sink"
)

// SuppressionPolicy decides whether an original metric that fed an aggregate
// is still passed downstream.
type SuppressionPolicy int

const (
	// SuppressNever always emits the original metric.
	SuppressNever SuppressionPolicy = iota
	// SuppressWhenAggregated withholds the original once any rule matched it.
	SuppressWhenAggregated
)

func (p SuppressionPolicy) String() string {
	if p == SuppressWhenAggregated {
		return "when-aggregated"
	}
	return "never"
}

// PolicyFromFlag maps the suppress_original setting to a policy.
func PolicyFromFlag(suppress bool) SuppressionPolicy {
	if suppress {
		return SuppressWhenAggregated
	}
	return SuppressNever
}

// maxRetiredRetries bounds refetching a buffer the table retired between
// GetBuffer and Input. One retry is normally enough.
const maxRetiredRetries = 3

// Receiver is safe for concurrent use by many workers.
type Receiver struct {
	rules   *aggregation.RuleStore
	buffers *aggregation.BufferTable
	out     sink.Sink
	policy  SuppressionPolicy
	metrics *instrumentation.Metrics
}

// New wires a receiver. rules supplies both the aggregation rules and the
// rewrite pipeline. metrics may be nil.
func New(rules *aggregation.RuleStore, buffers *aggregation.BufferTable, out sink.Sink, policy SuppressionPolicy, metrics *instrumentation.Metrics) *Receiver {
	if rules == nil {
		panic("receiver: rule store must not be nil")
	}
	if buffers == nil {
		panic("receiver: buffer table must not be nil")
	}
	if out == nil {
		panic("receiver: sink must not be nil")
	}
	if metrics == nil {
		metrics = instrumentation.New(nil)
	}
	return &Receiver{
		rules:   rules,
		buffers: buffers,
		out:     out,
		policy:  policy,
		metrics: metrics,
	}
}

// Policy returns the configured suppression policy.
func (r *Receiver) Policy() SuppressionPolicy { return r.policy }

// Process handles one datapoint. Rejected aggregate contributions are logged
// and counted but never fail the call; the returned error comes from emitting
// the original metric (typically ErrSinkBackpressure) and is retryable.
func (r *Receiver) Process(metric string, dp v1.Datapoint) error {
	defer r.metrics.DatapointsReceived.Inc()

	snap := r.rules.Snapshot()
	pipeline := snap.Rewrites
	metric = pipeline.ApplyPre(metric)

	matches := snap.Rules.Match(metric)
	aggregates := make([]string, 0, len(matches))
	for _, m := range matches {
		aggregates = append(aggregates, m.AggregateMetric)
		if err := r.feed(m, dp); err != nil {
			r.logRejected(metric, m, dp, err)
		}
	}

	if r.policy == SuppressWhenAggregated && len(matches) > 0 {
		return nil
	}

	out := pipeline.ApplyPost(metric)
	for _, name := range aggregates {
		if name == out {
			slog.Debug("[Receiver] Original collides with its aggregate, dropping", "metric", out)
			return nil
		}
	}

	if err := r.out.Emit(out, dp); err != nil {
		return fmt.Errorf("emitting %s: %w", out, err)
	}
	r.metrics.MetricsEmitted.Inc()
	return nil
}

func (r *Receiver) feed(m aggregation.Match, dp v1.Datapoint) error {
	var err error
	for range maxRetiredRetries {
		b := r.buffers.GetBuffer(m.AggregateMetric)
		if _, err = b.Configure(m.Rule.FrequencySeconds(), m.Rule.Method); err != nil {
			return err
		}
		err = b.Input(dp)
		if !errors.Is(err, aggregation.ErrBufferRetired) {
			return err
		}
	}
	return err
}

func (r *Receiver) logRejected(metric string, m aggregation.Match, dp v1.Datapoint, err error) {
	attrs := []any{
		"metric", metric,
		"aggregate", m.AggregateMetric,
		"rule", m.Rule.Name,
		"timestamp", dp.Timestamp,
		"error", err,
	}
	switch {
	case errors.Is(err, coreerrors.ErrLateDatapoint):
		r.metrics.Drop(instrumentation.ReasonLate)
		slog.Debug("[Receiver] Late datapoint dropped", attrs...)
	case errors.Is(err, coreerrors.ErrInvalidDatapoint):
		r.metrics.Drop(instrumentation.ReasonInvalid)
		slog.Warn("[Receiver] Non-finite value not aggregated", attrs...)
	case errors.Is(err, coreerrors.ErrUnconfiguredBuffer):
		r.metrics.Drop(instrumentation.ReasonUnconfigured)
		slog.Error("[Receiver] Buffer used before configuration", attrs...)
	default:
		r.metrics.Drop(instrumentation.ReasonInvalid)
		slog.Warn("[Receiver] Aggregate contribution rejected", attrs...)
	}
}
