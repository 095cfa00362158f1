// Package schema is the registry of known settings: their declared type,
// default value, scope and whether they describe something executable.
package schema

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/compozy/strata/engine/model"
)

// ErrInvalidProperty is returned when a property descriptor fails validation.
var ErrInvalidProperty = errors.New("invalid configuration property")

// Scope restricts which layers may legitimately define a setting.
type Scope int

const (
	// ScopeApplication settings apply to the whole application and only come from user settings.
	ScopeApplication Scope = iota + 1
	// ScopeMachine settings are tied to the machine and only come from user or remote settings.
	ScopeMachine
	// ScopeWindow settings may come from user and workspace settings.
	ScopeWindow
	// ScopeResource settings may come from every layer, including folder settings.
	ScopeResource
	// ScopeLanguageOverridable is ScopeResource that can also be set per language.
	ScopeLanguageOverridable
	// ScopeMachineOverridable is ScopeMachine that workspace and folder settings may override.
	ScopeMachineOverridable
)

var scopeNames = map[Scope]string{
	ScopeApplication:         "application",
	ScopeMachine:             "machine",
	ScopeWindow:              "window",
	ScopeResource:            "resource",
	ScopeLanguageOverridable: "language-overridable",
	ScopeMachineOverridable:  "machine-overridable",
}

func (s Scope) String() string {
	if name, ok := scopeNames[s]; ok {
		return name
	}
	return fmt.Sprintf("scope(%d)", int(s))
}

// ParseScope turns a scope name into a Scope.
func ParseScope(name string) (Scope, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for s, n := range scopeNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown scope %q", name)
}

var (
	// WorkspaceScopes are the scopes accepted from workspace settings.
	WorkspaceScopes = []Scope{ScopeWindow, ScopeResource, ScopeLanguageOverridable, ScopeMachineOverridable}
	// FolderScopes are the scopes accepted from folder settings.
	FolderScopes = []Scope{ScopeResource, ScopeLanguageOverridable, ScopeMachineOverridable}
)

// Property describes one registered setting.
type Property struct {
	Type        string `validate:"omitempty,oneof=string number integer boolean object array null"`
	Default     any
	Description string
	Scope       Scope `validate:"min=1,max=6"`
	// Executable marks settings that define an operation to run. They are
	// never read from folder settings.
	Executable bool
}

// ChangeListener is notified with the keys whose descriptors changed.
type ChangeListener func(keys []string)

// Registry is a concurrency-safe, in-memory property registry.
type Registry struct {
	mu         sync.RWMutex
	properties map[string]Property
	listeners  []ChangeListener
	validate   *validator.Validate
}

func NewRegistry() *Registry {
	return &Registry{
		properties: make(map[string]Property),
		validate:   validator.New(),
	}
}

// Register adds or replaces properties and notifies listeners once. A zero
// Scope defaults to ScopeWindow.
func (r *Registry) Register(properties map[string]Property) error {
	keys := make([]string, 0, len(properties))
	normalized := make(map[string]Property, len(properties))
	for key, p := range properties {
		if strings.TrimSpace(key) == "" || model.IsOverrideKey(key) {
			return fmt.Errorf("%w: bad key %q", ErrInvalidProperty, key)
		}
		if p.Scope == 0 {
			p.Scope = ScopeWindow
		}
		if err := r.validate.Struct(p); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidProperty, key, err)
		}
		normalized[key] = p
		keys = append(keys, key)
	}
	slices.Sort(keys)

	r.mu.Lock()
	for key, p := range normalized {
		r.properties[key] = p
	}
	listeners := slices.Clone(r.listeners)
	r.mu.Unlock()

	r.notify(listeners, keys)
	return nil
}

// Deregister removes properties and notifies listeners with the keys that existed.
func (r *Registry) Deregister(keys ...string) {
	r.mu.Lock()
	removed := make([]string, 0, len(keys))
	for _, key := range keys {
		if _, ok := r.properties[key]; ok {
			delete(r.properties, key)
			removed = append(removed, key)
		}
	}
	listeners := slices.Clone(r.listeners)
	r.mu.Unlock()

	if len(removed) > 0 {
		r.notify(listeners, removed)
	}
}

func (r *Registry) notify(listeners []ChangeListener, keys []string) {
	for _, l := range listeners {
		if l != nil {
			l(keys)
		}
	}
}

// OnChange registers a listener for descriptor changes.
func (r *Registry) OnChange(listener ChangeListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, listener)
}

// Property looks up the descriptor for key.
func (r *Registry) Property(key string) (Property, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.properties[key]
	return p, ok
}

// Properties returns a copy of every registered descriptor.
func (r *Registry) Properties() map[string]Property {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Property, len(r.properties))
	for k, v := range r.properties {
		out[k] = v
	}
	return out
}

// DefaultsModel builds the default layer from every property that declares
// a default, in sorted key order.
func (r *Registry) DefaultsModel(report model.ConflictReporter) *model.Model {
	props := r.Properties()
	keys := make([]string, 0, len(props))
	for k, p := range props {
		if p.Default != nil {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	entries := make([]model.Entry, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, model.Entry{Key: k, Value: model.Clone(props[k].Default)})
	}
	return model.FromEntries(entries, report)
}
