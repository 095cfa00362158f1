// Package parser turns raw settings content into layer models, applying a
// per-layer Policy on the way in.
package parser

import (
	"bytes"
	"errors"
	"fmt"
	"slices"

	"github.com/tidwall/gjson"
	"github.com/tidwall/jsonc"

	"github.com/compozy/strata/engine/model"
	"github.com/compozy/strata/pkg/logger"
)

// ErrMalformed is recorded when settings content is not a JSON object.
var ErrMalformed = errors.New("malformed settings content")

// SettingsModel is a layer model plus the raw keys the policy turned away.
type SettingsModel struct {
	*model.Model
	unsupported []string
}

// UnsupportedKeys lists rejected raw keys in document order.
func (s *SettingsModel) UnsupportedKeys() []string {
	if s == nil {
		return nil
	}
	return slices.Clone(s.unsupported)
}

type Option func(*options)

type options struct {
	log logger.Logger
}

// WithLogger sets the logger conflicts are reported to.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.GetDefault()
	}
	return o
}

// Parser parses one layer. It keeps the last raw payload so the policy can be
// re-applied with Reprocess. A Parser is not safe for concurrent use.
type Parser struct {
	name   string
	policy Policy
	log    logger.Logger

	raw       []model.Entry
	model     *SettingsModel
	conflicts []string
	errs      []error
}

func New(name string, policy Policy, opts ...Option) *Parser {
	o := buildOptions(opts)
	return &Parser{
		name:   name,
		policy: policy,
		log:    o.log,
		model:  &SettingsModel{Model: model.Empty()},
	}
}

func (p *Parser) Name() string { return p.name }

// Parse reads settings text. Comments and trailing commas are allowed. Empty
// content yields an empty model. Malformed content is recorded, logged and
// also yields an empty model; the returned error is informational.
func (p *Parser) Parse(data []byte) error {
	p.errs = nil
	result, ok, err := parseObject(data)
	if err != nil {
		p.fail(err)
		return err
	}
	if !ok {
		p.raw = nil
		p.process()
		return nil
	}
	p.parseResult(result)
	return nil
}

// ParseRaw takes an already decoded object. Keys are read in sorted order.
func (p *Parser) ParseRaw(raw map[string]any) {
	p.errs = nil
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	entries := make([]model.Entry, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, model.Entry{Key: k, Value: raw[k]})
	}
	p.raw = entries
	p.process()
}

func (p *Parser) parseResult(result gjson.Result) {
	p.raw = orderedEntries(result)
	p.process()
}

func (p *Parser) fail(err error) {
	p.errs = append(p.errs, err)
	p.log.Error("failed to parse settings", "layer", p.name, "error", err)
	p.raw = nil
	p.process()
}

// Reprocess re-applies the policy to the last raw payload.
func (p *Parser) Reprocess() {
	p.process()
}

func (p *Parser) Model() *SettingsModel {
	return p.model
}

func (p *Parser) Unsupported() []string {
	return p.model.UnsupportedKeys()
}

// Conflicts returns the structural conflicts found by the last build.
func (p *Parser) Conflicts() []string {
	return slices.Clone(p.conflicts)
}

// Errors returns the errors recorded by the last parse.
func (p *Parser) Errors() []error {
	return slices.Clone(p.errs)
}

func (p *Parser) process() {
	p.conflicts = nil
	var raw []model.Entry
	if len(p.raw) > 0 {
		// building a tree takes ownership of the values
		raw = model.Clone(p.raw).([]model.Entry)
	}
	accepted := make([]model.Entry, 0, len(raw))
	var unsupported []string
	for _, e := range raw {
		if p.policy.Scope == "" && model.IsOverrideKey(e.Key) {
			inner, ok := overrideEntries(e.Value)
			if !ok {
				accepted = append(accepted, e)
				continue
			}
			kept := make([]model.Entry, 0, len(inner))
			for _, ie := range inner {
				if p.policy.accepts(ie.Key) {
					kept = append(kept, ie)
				} else {
					unsupported = append(unsupported, ie.Key)
				}
			}
			accepted = append(accepted, model.Entry{Key: e.Key, Value: kept})
			continue
		}
		if !p.policy.accepts(e.Key) {
			unsupported = append(unsupported, e.Key)
			continue
		}
		accepted = append(accepted, model.Entry{Key: p.policy.namespace(e.Key), Value: e.Value})
	}
	m := model.FromEntries(accepted, p.reportConflict)
	p.model = &SettingsModel{Model: m, unsupported: model.UniqueKeys(unsupported)}
}

func (p *Parser) reportConflict(msg string) {
	p.conflicts = append(p.conflicts, msg)
	p.log.Error("conflict in settings file", "layer", p.name, "detail", msg)
}

func overrideEntries(v any) ([]model.Entry, bool) {
	switch t := v.(type) {
	case []model.Entry:
		return t, true
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		out := make([]model.Entry, 0, len(keys))
		for _, k := range keys {
			out = append(out, model.Entry{Key: k, Value: t[k]})
		}
		return out, true
	default:
		return nil, false
	}
}

// parseObject cleans settings text and checks it is a single JSON object.
// ok is false for blank content.
func parseObject(data []byte) (gjson.Result, bool, error) {
	clean := jsonc.ToJSON(data)
	if len(bytes.TrimSpace(clean)) == 0 {
		return gjson.Result{}, false, nil
	}
	if !gjson.ValidBytes(clean) {
		return gjson.Result{}, false, fmt.Errorf("%w: invalid JSON", ErrMalformed)
	}
	result := gjson.ParseBytes(clean)
	if !result.IsObject() {
		return gjson.Result{}, false, fmt.Errorf("%w: top level is %s, want an object", ErrMalformed, result.Type)
	}
	return result, true, nil
}

// orderedEntries reads the members of an object in document order. Override
// blocks keep their own member order.
func orderedEntries(obj gjson.Result) []model.Entry {
	var out []model.Entry
	obj.ForEach(func(key, value gjson.Result) bool {
		k := key.String()
		if model.IsOverrideKey(k) && value.IsObject() {
			out = append(out, model.Entry{Key: k, Value: orderedEntries(value)})
			return true
		}
		out = append(out, model.Entry{Key: k, Value: value.Value()})
		return true
	})
	return out
}
