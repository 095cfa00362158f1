package parser

import (
	"slices"

	"github.com/compozy/strata/engine/schema"
)

// PropertyLookup is the part of the schema registry the parsers need.
type PropertyLookup interface {
	Property(key string) (schema.Property, bool)
}

// Policy decides which raw top-level keys enter a model and under which
// namespace. A zero Policy accepts everything unchanged.
type Policy struct {
	// Accept reports whether a raw key may enter the model. Nil accepts all.
	Accept func(key string) bool
	// Scope, when set, prefixes every key with "<Scope>.".
	Scope string
}

func (p Policy) accepts(key string) bool {
	return p.Accept == nil || p.Accept(key)
}

func (p Policy) namespace(key string) string {
	if p.Scope == "" {
		return key
	}
	return p.Scope + "." + key
}

// Unfiltered accepts every key as is.
func Unfiltered() Policy {
	return Policy{}
}

// FolderPolicy filters keys by their registered descriptor. Unknown keys
// pass. Executable keys never pass. When scopes are given, a known key passes
// only if its declared scope is one of them.
func FolderPolicy(props PropertyLookup, scopes ...schema.Scope) Policy {
	scopes = slices.Clone(scopes)
	return Policy{
		Accept: func(key string) bool {
			if props == nil {
				return true
			}
			p, ok := props.Property(key)
			if !ok {
				return true
			}
			if p.Executable {
				return false
			}
			return len(scopes) == 0 || slices.Contains(scopes, p.Scope)
		},
	}
}

// StandalonePolicy namespaces every key under scope, e.g. "tasks".
func StandalonePolicy(scope string) Policy {
	return Policy{Scope: scope}
}
