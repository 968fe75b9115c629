package aggregation

import (
	"crypto/sha256"
	"fmt"
	"sync/atomic"

	"github.com/aevon-lab/carbonrelay/internal/core/rewrite"
)

// Match is one (rule, aggregate metric) pair produced for an input metric.
type Match struct {
	Rule            *CompiledRule
	AggregateMetric string
}

// RuleSet is an immutable, ordered collection of compiled rules. Reloads build
// a new RuleSet and install it through a RuleStore.
type RuleSet struct {
	rules       []*CompiledRule
	fingerprint string
}

// NewRuleSet compiles rules in order. Any invalid rule fails the whole set.
func NewRuleSet(rules []AggregationRule) (*RuleSet, error) {
	rs := &RuleSet{rules: make([]*CompiledRule, 0, len(rules))}
	h := sha256.New()
	for _, rule := range rules {
		compiled, err := Compile(rule)
		if err != nil {
			return nil, err
		}
		rs.rules = append(rs.rules, compiled)
		h.Write([]byte(rule.Fingerprint))
	}
	rs.fingerprint = fmt.Sprintf("%x", h.Sum(nil))
	return rs, nil
}

// Match tests metric against every rule in load order and reports each hit.
// It touches no aggregation state.
func (rs *RuleSet) Match(metric string) []Match {
	var out []Match
	for _, rule := range rs.rules {
		if agg, ok := rule.AggregateMetric(metric); ok {
			out = append(out, Match{Rule: rule, AggregateMetric: agg})
		}
	}
	return out
}

// Len returns the number of rules.
func (rs *RuleSet) Len() int { return len(rs.rules) }

// Rules returns the compiled rules in load order.
func (rs *RuleSet) Rules() []*CompiledRule {
	out := make([]*CompiledRule, len(rs.rules))
	copy(out, rs.rules)
	return out
}

// Fingerprint identifies the rule contents; equal sets share a fingerprint.
func (rs *RuleSet) Fingerprint() string { return rs.fingerprint }

// Snapshot pairs the active RuleSet with the rewrite pipeline applied around
// it. A reader that takes one Snapshot never mixes old and new rules.
type Snapshot struct {
	Rules    *RuleSet
	Rewrites *rewrite.Pipeline
}

// RuleStore holds the active Snapshot.
type RuleStore struct {
	current atomic.Pointer[Snapshot]
}

// NewRuleStore returns a store holding rs and rewrites. Nil arguments are
// replaced by empty ones.
func NewRuleStore(rs *RuleSet, rewrites *rewrite.Pipeline) *RuleStore {
	s := &RuleStore{}
	s.Replace(rs, rewrites)
	return s
}

// Snapshot returns the active rules and rewrites; never nil.
func (s *RuleStore) Snapshot() *Snapshot { return s.current.Load() }

// Load returns the active RuleSet; never nil.
func (s *RuleStore) Load() *RuleSet { return s.current.Load().Rules }

// Store installs rs and keeps the current rewrites.
func (s *RuleStore) Store(rs *RuleSet) {
	for {
		old := s.current.Load()
		if s.current.CompareAndSwap(old, newSnapshot(rs, old.Rewrites)) {
			return
		}
	}
}

// Replace installs rs and rewrites together.
func (s *RuleStore) Replace(rs *RuleSet, rewrites *rewrite.Pipeline) {
	s.current.Store(newSnapshot(rs, rewrites))
}

func newSnapshot(rs *RuleSet, rewrites *rewrite.Pipeline) *Snapshot {
	if rs == nil {
		rs, _ = NewRuleSet(nil)
	}
	if rewrites == nil {
		rewrites = &rewrite.Pipeline{}
	}
	return &Snapshot{Rules: rs, Rewrites: rewrites}
}

// LoadRuleSet reads every rule file in dir and compiles them into one set.
func LoadRuleSet(dir string) (*RuleSet, error) {
	repo, err := NewFileSystemRuleRepository(dir)
	if err != nil {
		return nil, err
	}
	return NewRuleSet(repo.GetRules())
}
