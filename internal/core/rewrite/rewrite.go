// Package rewrite renames metrics before and after aggregation matching.
package rewrite

import (
	"fmt"
	"os"
	"regexp"

	coreerrors "github.com/aevon-lab/carbonrelay/internal/core/errors"
	"gopkg.in/yaml.v3"
)

// Rule replaces every match of Pattern in a metric name with Replacement
// (regexp.ReplaceAllString semantics, so "$1" and "${name}" expand).
type Rule struct {
	Pattern     *regexp.Regexp
	Replacement string
}

// NewRule compiles pattern. A bad pattern is a configuration error.
func NewRule(pattern, replacement string) (Rule, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Rule{}, fmt.Errorf("%w: rewrite pattern %q: %v", coreerrors.ErrConfiguration, pattern, err)
	}
	return Rule{Pattern: re, Replacement: replacement}, nil
}

// Apply returns the rewritten metric.
func (r Rule) Apply(metric string) string {
	return r.Pattern.ReplaceAllString(metric, r.Replacement)
}

// Pipeline is an immutable pair of ordered rule stages.
type Pipeline struct {
	Pre  []Rule
	Post []Rule
}

// Len returns the total number of rules in both stages.
func (p *Pipeline) Len() int { return len(p.Pre) + len(p.Post) }

// ApplyPre runs the pre-aggregation stage; each rule sees the previous rule's output.
func (p *Pipeline) ApplyPre(metric string) string { return apply(p.Pre, metric) }

// ApplyPost runs the post-aggregation stage.
func (p *Pipeline) ApplyPost(metric string) string { return apply(p.Post, metric) }

func apply(rules []Rule, metric string) string {
	for _, r := range rules {
		metric = r.Apply(metric)
	}
	return metric
}

type rawRule struct {
	Pattern     string `yaml:"pattern"`
	Replacement string `yaml:"replacement"`
}

type rawFile struct {
	Pre  []rawRule `yaml:"pre"`
	Post []rawRule `yaml:"post"`
}

// LoadFile reads a YAML rewrite file:
//
//	pre:
//	  - pattern: '^collectd\.'
//	    replacement: 'servers.'
//	post:
//	  - pattern: '\.total$'
//	    replacement: ''
//
// An empty path yields an empty pipeline.
func LoadFile(path string) (*Pipeline, error) {
	if path == "" {
		return &Pipeline{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rewrite file: %w", err)
	}
	return Parse(data)
}

// Parse builds a pipeline from YAML. Any bad rule fails the whole pipeline.
func Parse(data []byte) (*Pipeline, error) {
	var raw rawFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: parsing rewrite rules: %v", coreerrors.ErrConfiguration, err)
	}

	p := &Pipeline{}
	for _, stage := range []struct {
		raw []rawRule
		out *[]Rule
	}{{raw.Pre, &p.Pre}, {raw.Post, &p.Post}} {
		for _, rr := range stage.raw {
			rule, err := NewRule(rr.Pattern, rr.Replacement)
			if err != nil {
				return nil, err
			}
			*stage.out = append(*stage.out, rule)
		}
	}
	return p, nil
}
