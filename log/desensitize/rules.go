package desensitize

import (
	"fmt"
	"regexp"
	"sync/atomic"
)

// Rule rewrites sensitive fragments of a log line.
type Rule interface {
	Name() string
	Enabled() bool
	SetEnabled(enabled bool)
	Process(s string) string
}

type toggle struct {
	disabled atomic.Bool
}

func (t *toggle) Enabled() bool { return !t.disabled.Load() }

func (t *toggle) SetEnabled(enabled bool) { t.disabled.Store(!enabled) }

// ContentRule replaces every match of a pattern anywhere in the line.
type ContentRule struct {
	toggle
	name        string
	pattern     *regexp.Regexp
	replacement string
}

func NewContentRule(name, pattern, replacement string) (*ContentRule, error) {
	if name == "" || pattern == "" {
		return nil, fmt.Errorf("rule name and pattern are required")
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	return &ContentRule{name: name, pattern: re, replacement: replacement}, nil
}

func MustNewContentRule(name, pattern, replacement string) *ContentRule {
	r, err := NewContentRule(name, pattern, replacement)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *ContentRule) Name() string { return r.name }

func (r *ContentRule) Process(s string) string {
	if !r.Enabled() {
		return s
	}
	return r.pattern.ReplaceAllString(s, r.replacement)
}

// FieldRule masks the string value of a JSON field, whatever its content.
type FieldRule struct {
	toggle
	name        string
	field       string
	pattern     *regexp.Regexp
	replacement string
}

func NewFieldRule(name, field, replacement string) (*FieldRule, error) {
	if name == "" || field == "" {
		return nil, fmt.Errorf("rule name and field are required")
	}
	re, err := regexp.Compile(fmt.Sprintf(`("%s"\s*:\s*)"(?:[^"\\]|\\.)*"`, regexp.QuoteMeta(field)))
	if err != nil {
		return nil, err
	}
	return &FieldRule{name: name, field: field, pattern: re, replacement: replacement}, nil
}

func MustNewFieldRule(name, field, replacement string) *FieldRule {
	r, err := NewFieldRule(name, field, replacement)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *FieldRule) Name() string { return r.name }

func (r *FieldRule) Process(s string) string {
	if !r.Enabled() {
		return s
	}
	return r.pattern.ReplaceAllString(s, `${1}"`+r.replacement+`"`)
}
