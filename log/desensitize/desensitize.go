// Package desensitize masks credentials in log output.
package desensitize

import (
	"slices"
	"sync"
)

// Hook applies an ordered set of rules to each log line.
type Hook struct {
	mu    sync.RWMutex
	rules []Rule
}

func NewHook(rules ...Rule) *Hook {
	h := &Hook{}
	h.Add(rules...)
	return h
}

// Add appends rules, replacing any existing rule with the same name in place.
func (h *Hook) Add(rules ...Rule) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range rules {
		if r == nil {
			continue
		}
		if i := h.index(r.Name()); i >= 0 {
			h.rules[i] = r
			continue
		}
		h.rules = append(h.rules, r)
	}
}

func (h *Hook) AddContentRule(name, pattern, replacement string) error {
	r, err := NewContentRule(name, pattern, replacement)
	if err != nil {
		return err
	}
	h.Add(r)
	return nil
}

func (h *Hook) Remove(name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	i := h.index(name)
	if i < 0 {
		return false
	}
	h.rules = slices.Delete(h.rules, i, i+1)
	return true
}

func (h *Hook) Rule(name string) (Rule, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if i := h.index(name); i >= 0 {
		return h.rules[i], true
	}
	return nil, false
}

func (h *Hook) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rules)
}

func (h *Hook) index(name string) int {
	return slices.IndexFunc(h.rules, func(r Rule) bool { return r.Name() == name })
}

// Desensitize runs every enabled rule over s in insertion order.
func (h *Hook) Desensitize(s string) string {
	if s == "" {
		return s
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, r := range h.rules {
		if r.Enabled() {
			s = r.Process(s)
		}
	}
	return s
}
