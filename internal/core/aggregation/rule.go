package aggregation

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	coreerrors "github.com/aevon-lab/carbonrelay/internal/core/errors"
	"gopkg.in/yaml.v3"
)

// AggregationRule defines a single aggregation rule.
// Rules are loaded at startup (and on reload) from rule files and fingerprinted
// so a reload that changes nothing can be recognised.
//
// Pattern syntax: "." is literal, "*" matches one path segment or part of it,
// "<field>" captures one segment and "<<field>>" captures one or more segments.
// Template substitutes captured fields: pattern "servers.<host>.cpu.*" with
// template "hosts.<host>.cpu.total" rolls every cpu core of a host into one metric.
type AggregationRule struct {
	Name        string
	Pattern     string
	Template    string
	Frequency   time.Duration
	Method      string // sum, avg, count, min, max, p50, p90, p95, p99
	Fingerprint string // SHA-256 of the canonical rule definition
}

// rawRule is the on-disk YAML shape.
type rawRule struct {
	Name      string `yaml:"name"`
	Pattern   string `yaml:"pattern"`
	Template  string `yaml:"template"`
	Frequency string `yaml:"frequency"`
	Method    string `yaml:"method"`
}

type rawRuleFile struct {
	Rules []rawRule `yaml:"rules"`
}

// NewRule validates the raw fields and returns a fingerprinted rule.
func NewRule(name, pattern, template, frequency, method string) (AggregationRule, error) {
	spec, err := ParseWindowSize(frequency)
	if err != nil {
		return AggregationRule{}, fmt.Errorf("%w: rule %q: %v", coreerrors.ErrConfiguration, name, err)
	}
	rule := AggregationRule{
		Name:      name,
		Pattern:   pattern,
		Template:  template,
		Frequency: spec.Size,
		Method:    method,
	}
	if rule.Name == "" {
		rule.Name = template
	}
	rule.Fingerprint = fmt.Sprintf("%x", sha256.Sum256([]byte(
		fmt.Sprintf("%s\x00%s\x00%d\x00%s", rule.Pattern, rule.Template, spec.Seconds(), rule.Method),
	)))

	// Compile once here so malformed rules fail at load time.
	if _, err := Compile(rule); err != nil {
		return AggregationRule{}, err
	}
	return rule, nil
}

// CompiledRule is an AggregationRule ready for matching.
type CompiledRule struct {
	AggregationRule

	re        *regexp.Regexp
	template  []templatePart
	frequency int64 // seconds
	agg       Aggregator
}

type templatePart struct {
	literal string
	group   int // submatch index, 0 for literal parts
}

var (
	patternFieldRe  = regexp.MustCompile(`<<([A-Za-z_][A-Za-z0-9_]*)>>|<([A-Za-z_][A-Za-z0-9_]*)>`)
	templateFieldRe = regexp.MustCompile(`<([A-Za-z_][A-Za-z0-9_]*)>`)
)

// Compile validates rule and builds its matcher. Every failure wraps ErrConfiguration.
func Compile(rule AggregationRule) (*CompiledRule, error) {
	fail := func(format string, args ...any) (*CompiledRule, error) {
		return nil, fmt.Errorf("%w: rule %q: %s", coreerrors.ErrConfiguration, rule.Name, fmt.Sprintf(format, args...))
	}

	if strings.TrimSpace(rule.Pattern) == "" {
		return fail("pattern must not be empty")
	}
	if strings.TrimSpace(rule.Template) == "" {
		return fail("template must not be empty")
	}
	if rule.Frequency <= 0 || rule.Frequency%time.Second != 0 {
		return fail("frequency must be a positive whole number of seconds, got %s", rule.Frequency)
	}
	agg, ok := Operators[rule.Method]
	if !ok {
		return fail("unsupported method %q", rule.Method)
	}

	re, err := compilePattern(rule.Pattern)
	if err != nil {
		return fail("%v", err)
	}
	tmpl, err := compileTemplate(rule.Template, re)
	if err != nil {
		return fail("%v", err)
	}

	return &CompiledRule{
		AggregationRule: rule,
		re:              re,
		template:        tmpl,
		frequency:       int64(rule.Frequency / time.Second),
		agg:             agg,
	}, nil
}

func compilePattern(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")

	seen := map[string]bool{}
	last := 0
	for _, loc := range patternFieldRe.FindAllStringSubmatchIndex(pattern, -1) {
		if err := writeLiteral(&b, pattern[last:loc[0]]); err != nil {
			return nil, fmt.Errorf("pattern %q: %w", pattern, err)
		}
		last = loc[1]

		// loc[2:4] is the <<field>> group, loc[4:6] the <field> group.
		name, expr := "", `[^.]+`
		if loc[2] >= 0 {
			name, expr = pattern[loc[2]:loc[3]], `.+`
		} else {
			name = pattern[loc[4]:loc[5]]
		}
		if seen[name] {
			return nil, fmt.Errorf("field %q captured twice in pattern %q", name, pattern)
		}
		seen[name] = true
		fmt.Fprintf(&b, "(?P<%s>%s)", name, expr)
	}
	if err := writeLiteral(&b, pattern[last:]); err != nil {
		return nil, fmt.Errorf("pattern %q: %w", pattern, err)
	}
	b.WriteString("$")

	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	return re, nil
}

// writeLiteral escapes everything but "*", which matches within one segment.
func writeLiteral(b *strings.Builder, s string) error {
	if strings.ContainsAny(s, "<>") {
		return fmt.Errorf("malformed field reference near %q", s)
	}
	b.WriteString(strings.ReplaceAll(regexp.QuoteMeta(s), `\*`, `[^.]*`))
	return nil
}

func compileTemplate(template string, re *regexp.Regexp) ([]templatePart, error) {
	var parts []templatePart
	last := 0
	for _, loc := range templateFieldRe.FindAllStringSubmatchIndex(template, -1) {
		if loc[0] > last {
			parts = append(parts, templatePart{literal: template[last:loc[0]]})
		}
		name := template[loc[2]:loc[3]]
		group := re.SubexpIndex(name)
		if group <= 0 {
			return nil, fmt.Errorf("template %q references field %q not captured by the pattern", template, name)
		}
		parts = append(parts, templatePart{group: group})
		last = loc[1]
	}
	if last < len(template) {
		parts = append(parts, templatePart{literal: template[last:]})
	}
	for _, p := range parts {
		if p.group == 0 && strings.ContainsAny(p.literal, "<>") {
			return nil, fmt.Errorf("malformed field reference in template %q", template)
		}
	}
	return parts, nil
}

// AggregateMetric returns the aggregate metric metric contributes to, if any.
func (r *CompiledRule) AggregateMetric(metric string) (string, bool) {
	m := r.re.FindStringSubmatch(metric)
	if m == nil {
		return "", false
	}
	var b strings.Builder
	for _, p := range r.template {
		if p.group > 0 {
			b.WriteString(m[p.group])
			continue
		}
		b.WriteString(p.literal)
	}
	return b.String(), true
}

// FrequencySeconds returns the window length in seconds.
func (r *CompiledRule) FrequencySeconds() int64 { return r.frequency }

// RuleRepository defines the interface for loading aggregation rules.
type RuleRepository interface {
	// Get returns the rule with the given name, or an error if not found.
	Get(ctx context.Context, name string) (*AggregationRule, error)

	// GetRules returns all rules in load order.
	GetRules() []AggregationRule
}

// IsRuleFile reports whether path has an extension the repository loads.
func IsRuleFile(path string) bool {
	switch filepath.Ext(path) {
	case ".yaml", ".yml", ".conf":
		return true
	}
	return false
}

// FileSystemRuleRepository loads aggregation rules from a directory.
// Files are read in lexical order; "*.yaml"/"*.yml" files hold a "rules:" list
// and "*.conf" files use the carbon line syntax
//
//	<template> (<frequency>) = <method> <pattern>
//
// Rule order inside a file is preserved.
type FileSystemRuleRepository struct {
	dir    string
	rules  []AggregationRule
	byName map[string]int
}

// NewFileSystemRuleRepository creates a new repository and eagerly loads all rules
// from dir. Returns an error if any rule file is malformed or invalid.
func NewFileSystemRuleRepository(dir string) (*FileSystemRuleRepository, error) {
	repo := &FileSystemRuleRepository{
		dir:    dir,
		byName: make(map[string]int),
	}
	if err := repo.load(); err != nil {
		return nil, err
	}
	return repo, nil
}

func (r *FileSystemRuleRepository) load() error {
	info, err := os.Stat(r.dir)
	if os.IsNotExist(err) {
		return nil // no rules directory means zero rules
	}
	if err != nil {
		return fmt.Errorf("aggregation rule dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: aggregation rule path %q is not a directory", coreerrors.ErrConfiguration, r.dir)
	}

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("reading aggregation rule dir: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(r.dir, e.Name())

		if !IsRuleFile(path) {
			continue
		}
		var rules []AggregationRule
		if filepath.Ext(path) == ".conf" {
			rules, err = loadConfRules(path)
		} else {
			rules, err = loadYAMLRules(path)
		}
		if err != nil {
			return err
		}

		for _, rule := range rules {
			if _, exists := r.byName[rule.Name]; exists {
				return fmt.Errorf("%w: rule %q: duplicate rule name (check %s)", coreerrors.ErrConfiguration, rule.Name, path)
			}
			r.byName[rule.Name] = len(r.rules)
			r.rules = append(r.rules, rule)
		}
	}
	return nil
}

func loadYAMLRules(path string) ([]AggregationRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rule file %s: %w", path, err)
	}

	var raw rawRuleFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: parsing rule file %s: %v", coreerrors.ErrConfiguration, path, err)
	}

	rules := make([]AggregationRule, 0, len(raw.Rules))
	for i, rr := range raw.Rules {
		name := rr.Name
		if name == "" {
			name = fmt.Sprintf("%s#%d", filepath.Base(path), i+1)
		}
		rule, err := NewRule(name, rr.Pattern, rr.Template, rr.Frequency, rr.Method)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// confLineRe matches "<template> (<frequency>) = <method> <pattern>".
var confLineRe = regexp.MustCompile(`^(\S+)\s+\((\d+)\)\s*=\s*(\S+)\s+(\S+)$`)

func loadConfRules(path string) ([]AggregationRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rule file %s: %w", path, err)
	}
	return ParseConfRules(filepath.Base(path), data)
}

// ParseConfRules parses carbon aggregation-rules syntax. Blank lines and
// lines starting with '#' are skipped. Rules are named "<source>:<line>".
func ParseConfRules(source string, data []byte) ([]AggregationRule, error) {
	var rules []AggregationRule
	sc := bufio.NewScanner(bytes.NewReader(data))
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		m := confLineRe.FindStringSubmatch(line)
		if m == nil {
			return nil, fmt.Errorf("%w: %s:%d: malformed aggregation rule %q", coreerrors.ErrConfiguration, source, lineNo, line)
		}
		rule, err := NewRule(fmt.Sprintf("%s:%d", source, lineNo), m[4], m[1], m[2], m[3])
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", source, lineNo, err)
		}
		rules = append(rules, rule)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", source, err)
	}
	return rules, nil
}

// Get returns the rule with the given name, or an error if not found.
func (r *FileSystemRuleRepository) Get(_ context.Context, name string) (*AggregationRule, error) {
	i, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("aggregation rule %q not found", name)
	}
	rule := r.rules[i]
	return &rule, nil
}

// GetRules returns all rules in load order.
func (r *FileSystemRuleRepository) GetRules() []AggregationRule {
	out := make([]AggregationRule, len(r.rules))
	copy(out, r.rules)
	return out
}
