package model

import (
	"reflect"
)

// OverrideDiff lists the keys that changed inside the override blocks for one
// identifier.
type OverrideDiff struct {
	Identifier string
	Keys       []string
}

// Diff is the structural difference between two models.
type Diff struct {
	Added     []string
	Updated   []string
	Removed   []string
	Overrides []OverrideDiff
}

// Keys returns added, updated and removed keys in that order.
func (d Diff) Keys() []string {
	out := make([]string, 0, len(d.Added)+len(d.Updated)+len(d.Removed))
	out = append(out, d.Added...)
	out = append(out, d.Updated...)
	return append(out, d.Removed...)
}

func (d Diff) IsEmpty() bool {
	return len(d.Added) == 0 && len(d.Updated) == 0 && len(d.Removed) == 0 && len(d.Overrides) == 0
}

// Compare diffs from against to: added keys exist only in to, removed keys
// only in from, and updated keys exist in both with different values.
func Compare(from, to *Model) Diff {
	added, updated, removed := diffKeys(from.Keys(), to.Keys(), from.GetValue, to.GetValue)
	d := Diff{Added: added, Updated: updated, Removed: removed}

	ids := UniqueKeys(from.OverrideIdentifiers(), to.OverrideIdentifiers())
	for _, id := range ids {
		fromContents := from.overrideContents(id)
		toContents := to.overrideContents(id)
		a, u, r := diffKeys(from.overrideKeys(id), to.overrideKeys(id),
			func(k string) any { v, _ := GetFromTree(fromContents, k); return v },
			func(k string) any { v, _ := GetFromTree(toContents, k); return v },
		)
		keys := UniqueKeys(a, u, r)
		if len(keys) > 0 {
			d.Overrides = append(d.Overrides, OverrideDiff{Identifier: id, Keys: keys})
		}
	}
	return d
}

func diffKeys(fromKeys, toKeys []string, fromValue, toValue func(string) any) (added, updated, removed []string) {
	fromSet := newKeySet(len(fromKeys))
	fromSet.add(fromKeys...)
	toSet := newKeySet(len(toKeys))
	toSet.add(toKeys...)
	for _, k := range toSet.list {
		if !fromSet.has(k) {
			added = append(added, k)
			continue
		}
		if !Equal(fromValue(k), toValue(k)) {
			updated = append(updated, k)
		}
	}
	for _, k := range fromSet.list {
		if !toSet.has(k) {
			removed = append(removed, k)
		}
	}
	return added, updated, removed
}

// Equal compares configuration values structurally. Numbers compare by value
// regardless of their Go type, so 2 and 2.0 are equal.
func Equal(a, b any) bool {
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, x := range av {
			y, ok := bv[k]
			if !ok || !Equal(x, y) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	}
	if x, ok := toFloat(a); ok {
		y, ok := toFloat(b)
		return ok && x == y
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
