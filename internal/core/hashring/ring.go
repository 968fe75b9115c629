package hashring

import (
	"cmp"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	coreerrors "github.com/aevon-lab/carbonrelay/internal/core/errors"
)

// DefaultReplicaCount is the number of ring positions per node when none is configured.
const DefaultReplicaCount = 100

// RingEntry is one virtual position owned by a node.
type RingEntry struct {
	Position uint16
	Node     string
}

func compareEntries(a, b RingEntry) int {
	if c := cmp.Compare(a.Position, b.Position); c != 0 {
		return c
	}
	return cmp.Compare(a.Node, b.Node)
}

// snapshot is an immutable view of the ring. Lookups work on whichever
// snapshot they loaded; mutations build a new one and swap it in.
type snapshot struct {
	entries []RingEntry // sorted by (Position, Node)
	nodes   map[string]struct{}
}

// search returns the index of the first entry at or after pos, wrapping to 0.
func (s *snapshot) search(pos uint16) int {
	i := sort.Search(len(s.entries), func(i int) bool {
		return s.entries[i].Position >= pos
	})
	return i % len(s.entries)
}

// Ring is a consistent-hash ring of nodes with replicaCount positions each.
// It is safe for concurrent use: readers never block on writers and never
// observe a partially applied AddNode or RemoveNode.
type Ring struct {
	mu           sync.Mutex // serialises writers
	state        atomic.Pointer[snapshot]
	replicaCount int
	hashType     HashType
	position     func(string) uint16
}

// New builds a ring holding nodes. It fails with a configuration error for an
// unsupported hash variant or a non-positive replica count.
func New(nodes []string, replicaCount int, hashType HashType) (*Ring, error) {
	position, err := hashType.positionFunc()
	if err != nil {
		return nil, err
	}
	if replicaCount <= 0 {
		return nil, fmt.Errorf("%w: replica count must be > 0, got %d", coreerrors.ErrConfiguration, replicaCount)
	}

	r := &Ring{
		replicaCount: replicaCount,
		hashType:     hashType,
		position:     position,
	}
	r.state.Store(&snapshot{nodes: map[string]struct{}{}})

	for _, node := range nodes {
		r.AddNode(node)
	}
	return r, nil
}

// AddNode places replicaCount entries for node at hash(node + ":" + i).
// Adding a node that is already a member changes nothing.
func (r *Ring) AddNode(node string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.state.Load()
	if _, ok := cur.nodes[node]; ok {
		return
	}

	next := &snapshot{
		entries: make([]RingEntry, 0, len(cur.entries)+r.replicaCount),
		nodes:   make(map[string]struct{}, len(cur.nodes)+1),
	}
	next.entries = append(next.entries, cur.entries...)
	for i := 0; i < r.replicaCount; i++ {
		next.entries = append(next.entries, RingEntry{
			Position: r.position(node + ":" + strconv.Itoa(i)),
			Node:     node,
		})
	}
	slices.SortStableFunc(next.entries, compareEntries)

	for n := range cur.nodes {
		next.nodes[n] = struct{}{}
	}
	next.nodes[node] = struct{}{}

	r.state.Store(next)
	slog.Debug("[HashRing] Node added", "node", node, "nodes", len(next.nodes), "entries", len(next.entries))
}

// RemoveNode drops node and all of its entries. Unknown nodes are ignored.
func (r *Ring) RemoveNode(node string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.state.Load()
	if _, ok := cur.nodes[node]; !ok {
		return
	}

	next := &snapshot{
		entries: make([]RingEntry, 0, len(cur.entries)),
		nodes:   make(map[string]struct{}, len(cur.nodes)),
	}
	for _, e := range cur.entries {
		if e.Node != node {
			next.entries = append(next.entries, e)
		}
	}
	for n := range cur.nodes {
		if n != node {
			next.nodes[n] = struct{}{}
		}
	}

	r.state.Store(next)
	slog.Debug("[HashRing] Node removed", "node", node, "nodes", len(next.nodes), "entries", len(next.entries))
}

// GetNode returns the node owning key: the first entry at or after hash(key),
// wrapping around the ring.
func (r *Ring) GetNode(key string) (string, error) {
	s := r.state.Load()
	if len(s.entries) == 0 {
		return "", coreerrors.ErrEmptyRing
	}
	return s.entries[s.search(r.position(key))].Node, nil
}

// GetNodes returns the distinct nodes for key in ring order, starting at the
// owning position. The sequence is bound to the ring as it was when GetNodes
// was called, can be ranged over any number of times, and ends after every
// node was yielded once or after one full pass over the entries.
func (r *Ring) GetNodes(key string) (iter.Seq[string], error) {
	s := r.state.Load()
	if len(s.entries) == 0 {
		return nil, coreerrors.ErrEmptyRing
	}
	start := s.search(r.position(key))

	return func(yield func(string) bool) {
		n := len(s.entries)
		seen := make(map[string]struct{}, len(s.nodes))
		for i := 0; i < n && len(seen) < len(s.nodes); i++ {
			node := s.entries[(start+i)%n].Node
			if _, dup := seen[node]; dup {
				continue
			}
			seen[node] = struct{}{}
			if !yield(node) {
				return
			}
		}
	}, nil
}

// Nodes returns the current members, sorted.
func (r *Ring) Nodes() []string {
	s := r.state.Load()
	out := make([]string, 0, len(s.nodes))
	for n := range s.nodes {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

// Entries returns a copy of the sorted ring entries.
func (r *Ring) Entries() []RingEntry {
	return slices.Clone(r.state.Load().entries)
}

// Len returns the number of member nodes.
func (r *Ring) Len() int {
	return len(r.state.Load().nodes)
}

func (r *Ring) ReplicaCount() int { return r.replicaCount }

func (r *Ring) HashType() HashType { return r.hashType }

// Distribution counts how many of keys each node owns. Keys that cannot be
// placed (empty ring) are not counted.
func (r *Ring) Distribution(keys iter.Seq[string]) map[string]int {
	out := make(map[string]int)
	for key := range keys {
		node, err := r.GetNode(key)
		if err != nil {
			continue
		}
		out[node]++
	}
	return out
}
