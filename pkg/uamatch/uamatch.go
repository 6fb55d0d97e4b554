// Package uamatch provides case-insensitive multi-substring matching for
// User-Agent and header classification, built on an Aho-Corasick automaton.
//
// The edge filter and the escalation heuristics check every request against
// dozens of configured agent substrings; a single automaton pass replaces the
// per-pattern strings.Contains scan and keeps the hot path O(len(input)).
//
// Thread Safety: a Matcher is immutable after New and safe for concurrent use.
package uamatch

import "strings"

// Matcher is a byte-level Aho-Corasick automaton over lowercased patterns.
type Matcher struct {
	states   []state
	patterns []string
}

type state struct {
	next    map[byte]int32
	fail    int32
	outputs []int32
}

// New builds a matcher from the given substrings. Patterns are matched
// case-insensitively (ASCII); empty patterns are dropped.
func New(patterns []string) *Matcher {
	m := &Matcher{states: []state{{next: make(map[byte]int32)}}}

	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		m.patterns = append(m.patterns, p)
		m.insert(p, int32(len(m.patterns)-1))
	}
	m.link()
	return m
}

func (m *Matcher) insert(pattern string, idx int32) {
	cur := int32(0)
	for i := 0; i < len(pattern); i++ {
		b := pattern[i]
		nxt, ok := m.states[cur].next[b]
		if !ok {
			nxt = int32(len(m.states))
			m.states = append(m.states, state{next: make(map[byte]int32)})
			m.states[cur].next[b] = nxt
		}
		cur = nxt
	}
	m.states[cur].outputs = append(m.states[cur].outputs, idx)
}

// link builds failure transitions breadth-first and merges suffix outputs.
func (m *Matcher) link() {
	queue := make([]int32, 0, len(m.states))
	for _, s := range m.states[0].next {
		m.states[s].fail = 0
		queue = append(queue, s)
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for b, child := range m.states[cur].next {
			queue = append(queue, child)
			f := m.states[cur].fail
			for f != 0 {
				if nxt, ok := m.states[f].next[b]; ok {
					f = nxt
					goto linked
				}
				f = m.states[f].fail
			}
			if nxt, ok := m.states[0].next[b]; ok && nxt != child {
				f = nxt
			}
		linked:
			m.states[child].fail = f
			m.states[child].outputs = append(m.states[child].outputs, m.states[f].outputs...)
		}
	}
}

func lowerByte(b byte) byte {
	if b >= 'A' && b <= 'Z' {
		return b + ('a' - 'A')
	}
	return b
}

// FindFirst returns the first configured pattern contained in s.
func (m *Matcher) FindFirst(s string) (string, bool) {
	if len(m.patterns) == 0 {
		return "", false
	}
	cur := int32(0)
	for i := 0; i < len(s); i++ {
		b := lowerByte(s[i])
		for cur != 0 {
			if _, ok := m.states[cur].next[b]; ok {
				break
			}
			cur = m.states[cur].fail
		}
		if nxt, ok := m.states[cur].next[b]; ok {
			cur = nxt
		}
		if outs := m.states[cur].outputs; len(outs) > 0 {
			return m.patterns[outs[0]], true
		}
	}
	return "", false
}

// Matches reports whether any configured pattern is contained in s.
func (m *Matcher) Matches(s string) bool {
	_, ok := m.FindFirst(s)
	return ok
}

// Find returns every configured pattern contained in s, deduplicated, in
// order of first occurrence.
func (m *Matcher) Find(s string) []string {
	if len(m.patterns) == 0 {
		return nil
	}
	var found []string
	seen := make(map[int32]bool)

	cur := int32(0)
	for i := 0; i < len(s); i++ {
		b := lowerByte(s[i])
		for cur != 0 {
			if _, ok := m.states[cur].next[b]; ok {
				break
			}
			cur = m.states[cur].fail
		}
		if nxt, ok := m.states[cur].next[b]; ok {
			cur = nxt
		}
		for _, idx := range m.states[cur].outputs {
			if !seen[idx] {
				seen[idx] = true
				found = append(found, m.patterns[idx])
			}
		}
	}
	return found
}

// Empty reports whether the matcher has no patterns.
func (m *Matcher) Empty() bool {
	return len(m.patterns) == 0
}

// PatternCount returns the number of configured patterns.
func (m *Matcher) PatternCount() int {
	return len(m.patterns)
}
