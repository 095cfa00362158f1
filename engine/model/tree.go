package model

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/mohae/deepcopy"
)

// Separator splits a configuration key into tree segments.
const Separator = "."

// Entry is one raw top-level key/value pair in document order.
type Entry struct {
	Key   string
	Value any
}

// ConflictReporter receives a description of a key path that could not be
// placed in a value tree.
type ConflictReporter func(message string)

func discardConflicts(string) {}

// BuildTree places every entry into a nested value tree along its dotted
// segments. It returns the tree and the keys that were placed, in first
// appearance order. Conflicting paths are reported and skipped.
func BuildTree(entries []Entry, report ConflictReporter) (map[string]any, []string) {
	if report == nil {
		report = discardConflicts
	}
	root := make(map[string]any, len(entries))
	keys := newKeySet(len(entries))
	for _, e := range entries {
		if AddToTree(root, e.Key, e.Value, report) {
			keys.add(e.Key)
		}
	}
	return root, keys.list
}

// AddToTree sets key to value inside root, creating intermediate objects.
// It reports and refuses empty key segments, writes through a scalar and
// writes of a scalar over an existing object. Two objects at the same path
// are merged.
func AddToTree(root map[string]any, key string, value any, report ConflictReporter) bool {
	if report == nil {
		report = discardConflicts
	}
	segments := strings.Split(key, Separator)
	if slices.Contains(segments, "") {
		report(fmt.Sprintf("Ignoring %q as it has an empty segment", key))
		return false
	}
	curr := root
	for i, s := range segments[:len(segments)-1] {
		next, exists := curr[s]
		if !exists {
			child := make(map[string]any)
			curr[s] = child
			curr = child
			continue
		}
		obj, ok := next.(map[string]any)
		if !ok {
			report(fmt.Sprintf("Ignoring %s as %s is %s",
				key, strings.Join(segments[:i+1], Separator), describe(next)))
			return false
		}
		curr = obj
	}
	last := segments[len(segments)-1]
	if existing, ok := curr[last].(map[string]any); ok {
		incoming, isObj := value.(map[string]any)
		if !isObj {
			report(fmt.Sprintf("Ignoring %s as %s is an object", key, key))
			return false
		}
		mergeContents(existing, incoming)
		return true
	}
	curr[last] = value
	return true
}

// GetFromTree walks root along the dotted segments of key.
func GetFromTree(root map[string]any, key string) (any, bool) {
	if key == "" {
		return root, root != nil
	}
	var curr any = root
	for _, s := range strings.Split(key, Separator) {
		obj, ok := curr.(map[string]any)
		if !ok {
			return nil, false
		}
		curr, ok = obj[s]
		if !ok {
			return nil, false
		}
	}
	return curr, true
}

// SetInTree forces key to value, replacing any scalar found on the way.
func SetInTree(root map[string]any, key string, value any) {
	segments := strings.Split(key, Separator)
	curr := root
	for _, s := range segments[:len(segments)-1] {
		next, ok := curr[s].(map[string]any)
		if !ok {
			next = make(map[string]any)
			curr[s] = next
		}
		curr = next
	}
	curr[segments[len(segments)-1]] = value
}

// RemoveFromTree deletes key and prunes parents left empty.
func RemoveFromTree(root map[string]any, key string) bool {
	return removeSegments(root, strings.Split(key, Separator))
}

func removeSegments(node map[string]any, segments []string) bool {
	head := segments[0]
	if len(segments) == 1 {
		if _, ok := node[head]; !ok {
			return false
		}
		delete(node, head)
		return true
	}
	child, ok := node[head].(map[string]any)
	if !ok {
		return false
	}
	removed := removeSegments(child, segments[1:])
	if removed && len(child) == 0 {
		delete(node, head)
	}
	return removed
}

// mergeContents deep-merges src into dst. Objects merge key by key; any other
// shape in src replaces what dst holds.
func mergeContents(dst, src map[string]any) {
	for k, sv := range src {
		if dv, ok := dst[k]; ok {
			dm, dIsObj := dv.(map[string]any)
			sm, sIsObj := sv.(map[string]any)
			if dIsObj && sIsObj {
				mergeContents(dm, sm)
				continue
			}
		}
		dst[k] = Clone(sv)
	}
}

// Clone returns a deep copy of a configuration value.
func Clone(v any) any {
	if v == nil {
		return nil
	}
	return deepcopy.Copy(v)
}

func cloneTree(m map[string]any) map[string]any {
	if m == nil {
		return make(map[string]any)
	}
	out, ok := deepcopy.Copy(m).(map[string]any)
	if !ok {
		return make(map[string]any)
	}
	return out
}

func describe(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// IsDescendant reports whether key lies strictly below parent on dotted segments.
func IsDescendant(key, parent string) bool {
	return len(key) > len(parent) && strings.HasPrefix(key, parent) && key[len(parent)] == '.'
}

// keySet keeps keys unique while preserving first appearance order.
type keySet struct {
	seen map[string]struct{}
	list []string
}

func newKeySet(capacity int) *keySet {
	return &keySet{seen: make(map[string]struct{}, capacity), list: make([]string, 0, capacity)}
}

func (s *keySet) add(keys ...string) {
	for _, k := range keys {
		if _, ok := s.seen[k]; ok {
			continue
		}
		s.seen[k] = struct{}{}
		s.list = append(s.list, k)
	}
}

func (s *keySet) has(k string) bool {
	_, ok := s.seen[k]
	return ok
}

// UniqueKeys concatenates key lists, dropping repeats.
func UniqueKeys(lists ...[]string) []string {
	n := 0
	for _, l := range lists {
		n += len(l)
	}
	s := newKeySet(n)
	for _, l := range lists {
		s.add(l...)
	}
	return s.list
}
