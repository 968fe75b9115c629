// Package relay places outbound metrics on destination nodes using the
// consistent-hash ring and queues them per destination.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	v1 "github.com/aevon-lab/carbonrelay/internal/api/v1"
	"github.com/aevon-lab/carbonrelay/internal/core/aggregation"
	coreerrors "github.com/aevon-lab/carbonrelay/internal/core/errors"
	"github.com/aevon-lab/carbonrelay/internal/core/hashring"
	"github.com/aevon-lab/carbonrelay/internal/sink"
)

// Method selects the ring key used to place a metric.
type Method string

const (
	// MethodConsistentHashing keys on the metric name.
	MethodConsistentHashing Method = "consistent-hashing"
	// MethodAggregatedConsistentHashing keys on the first aggregate the
	// metric feeds, so every input of one aggregate lands on the same node.
	MethodAggregatedConsistentHashing Method = "aggregated-consistent-hashing"
)

// ParseMethod validates a configured relay method. Empty selects consistent-hashing.
func ParseMethod(s string) (Method, error) {
	switch Method(s) {
	case "", MethodConsistentHashing:
		return MethodConsistentHashing, nil
	case MethodAggregatedConsistentHashing:
		return MethodAggregatedConsistentHashing, nil
	default:
		return "", fmt.Errorf("%w: unsupported relay method %q", coreerrors.ErrConfiguration, s)
	}
}

// Options configures a Router.
type Options struct {
	Method            Method
	ReplicationFactor int                    // destinations per metric, at least 1
	QueueSize         int                    // capacity of each destination queue
	Rules             *aggregation.RuleStore // required for aggregated-consistent-hashing

	// OnDestination, if set, is called with every queue the router creates,
	// including those for nodes added later.
	OnDestination func(*sink.Queue)
}

// Router is a sink.Sink that copies each emission to the first
// ReplicationFactor distinct ring nodes for its key.
type Router struct {
	ring        *hashring.Ring
	method      Method
	replication int
	queueSize   int
	rules       *aggregation.RuleStore
	onDest      func(*sink.Queue)

	// mu keeps ring membership and queues in step: Emit holds it shared,
	// membership changes hold it exclusively.
	mu     sync.RWMutex
	queues map[string]*sink.Queue
	closed bool
}

// New creates a router with one destination queue per ring member.
func New(ring *hashring.Ring, opts Options) (*Router, error) {
	if ring == nil {
		return nil, fmt.Errorf("%w: relay needs a hash ring", coreerrors.ErrConfiguration)
	}
	if opts.Method == "" {
		opts.Method = MethodConsistentHashing
	}
	if opts.ReplicationFactor < 1 {
		return nil, fmt.Errorf("%w: replication factor must be >= 1, got %d", coreerrors.ErrConfiguration, opts.ReplicationFactor)
	}
	if opts.Method == MethodAggregatedConsistentHashing && opts.Rules == nil {
		return nil, fmt.Errorf("%w: %s needs aggregation rules", coreerrors.ErrConfiguration, opts.Method)
	}

	r := &Router{
		ring:        ring,
		method:      opts.Method,
		replication: opts.ReplicationFactor,
		queueSize:   opts.QueueSize,
		rules:       opts.Rules,
		onDest:      opts.OnDestination,
		queues:      make(map[string]*sink.Queue),
	}
	for _, node := range ring.Nodes() {
		r.queues[node] = r.newQueue(node)
	}
	return r, nil
}

func (r *Router) newQueue(node string) *sink.Queue {
	q := sink.NewQueue(node, r.queueSize)
	if r.onDest != nil {
		r.onDest(q)
	}
	return q
}

// Ring returns the ring the router places metrics on.
func (r *Router) Ring() *hashring.Ring { return r.ring }

// Ping reports whether any destination can receive metrics.
func (r *Router) Ping(context.Context) error {
	if r.ring.Len() == 0 {
		return coreerrors.ErrEmptyRing
	}
	return nil
}

// Method returns the configured placement method.
func (r *Router) Method() Method { return r.method }

// Key returns the ring key for metric under the configured method.
func (r *Router) Key(metric string) string {
	if r.method == MethodAggregatedConsistentHashing {
		if matches := r.rules.Load().Match(metric); len(matches) > 0 {
			return matches[0].AggregateMetric
		}
	}
	return metric
}

// Lookup returns the destinations metric would be sent to, in ring order.
func (r *Router) Lookup(metric string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lookup(metric)
}

func (r *Router) lookup(metric string) ([]string, error) {
	nodes, err := r.ring.GetNodes(r.Key(metric))
	if err != nil {
		return nil, fmt.Errorf("placing %s: %w", metric, err)
	}
	out := make([]string, 0, r.replication)
	for node := range nodes {
		out = append(out, node)
		if len(out) == r.replication {
			break
		}
	}
	return out, nil
}

// Emit queues dp on every selected destination without blocking. Failures
// from several destinations are joined; each wraps ErrSinkBackpressure or
// sink.ErrQueueClosed. When some destinations accepted dp the error is a
// *sink.PartialError whose Retry targets only the ones that refused it. An
// empty ring yields ErrEmptyRing.
func (r *Router) Emit(metric string, dp v1.Datapoint) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	nodes, err := r.lookup(metric)
	if err != nil {
		return err
	}
	return r.deliver(nodes, metric, dp, false)
}

// deliver queues dp on nodes. Callers hold r.mu.
func (r *Router) deliver(nodes []string, metric string, dp v1.Datapoint, accepted bool) error {
	var (
		failed []string
		errs   []error
	)
	for _, node := range nodes {
		q, ok := r.queues[node]
		if !ok {
			failed = append(failed, node)
			errs = append(errs, fmt.Errorf("%w: no queue for %s", sink.ErrQueueClosed, node))
			continue
		}
		if err := q.Emit(metric, dp); err != nil {
			failed = append(failed, node)
			errs = append(errs, err)
			continue
		}
		accepted = true
	}
	if len(errs) == 0 {
		return nil
	}
	err := errors.Join(errs...)
	if !accepted {
		return err
	}
	return &sink.PartialError{
		Failed: failed,
		Err:    err,
		Retry:  func() error { return r.redeliver(failed, metric, dp) },
	}
}

// redeliver re-sends to nodes that refused an emission. Nodes removed since
// then are skipped.
func (r *Router) redeliver(nodes []string, metric string, dp v1.Datapoint) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	live := make([]string, 0, len(nodes))
	for _, node := range nodes {
		if _, ok := r.queues[node]; ok {
			live = append(live, node)
		} else {
			slog.Debug("[Relay] Skipping redelivery to removed destination", "node", node, "metric", metric)
		}
	}
	return r.deliver(live, metric, dp, true)
}

// AddDestination adds node to the ring and returns its queue. Adding a
// present node returns the existing queue.
func (r *Router) AddDestination(node string) (*sink.Queue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, fmt.Errorf("%w: router is closed", sink.ErrQueueClosed)
	}
	if q, ok := r.queues[node]; ok {
		return q, nil
	}
	q := r.newQueue(node)
	r.queues[node] = q
	r.ring.AddNode(node)
	slog.Info("[Relay] Destination added", "node", node, "nodes", r.ring.Len())
	return q, nil
}

// RemoveDestination takes node off the ring and closes its queue. Emissions
// already queued stay readable by the queue's consumer. It reports whether
// node was a destination.
func (r *Router) RemoveDestination(node string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.queues[node]
	if !ok {
		return false
	}
	r.ring.RemoveNode(node)
	delete(r.queues, node)
	q.Close()
	slog.Info("[Relay] Destination removed", "node", node, "nodes", r.ring.Len())
	return true
}

// Destinations returns the live destination queues sorted by node.
func (r *Router) Destinations() []*sink.Queue {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*sink.Queue, 0, len(r.queues))
	for _, q := range r.queues {
		out = append(out, q)
	}
	slices.SortFunc(out, func(a, b *sink.Queue) int {
		return strings.Compare(a.Name(), b.Name())
	})
	return out
}

// Close closes every destination queue. Later Emit calls fail with
// sink.ErrQueueClosed.
func (r *Router) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for _, q := range r.queues {
		q.Close()
	}
}
