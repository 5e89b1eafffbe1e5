package kconfig

import (
	"github.com/robert-at-pretension-io/kconfig-dts/internal/kconfig/expr"
)

// EvalContext is one evaluation pass over a repository with a fixed set of
// overrides. Every symbol and scope is evaluated at most once per context.
type EvalContext struct {
	repo      *Repository
	overrides map[string]expr.Value
	values    map[string]expr.Value
	scopes    map[ScopeID]bool
	chosen    map[ScopeID]string
	active    map[string]bool
	choosing  map[ScopeID]bool
}

// NewEvalContext starts an evaluation pass. Override values are coerced to
// each symbol's type when read.
func (r *Repository) NewEvalContext(overrides map[string]expr.Value) *EvalContext {
	if overrides == nil {
		overrides = map[string]expr.Value{}
	}
	return &EvalContext{
		repo:      r,
		overrides: overrides,
		values:    make(map[string]expr.Value),
		scopes:    make(map[ScopeID]bool),
		chosen:    make(map[ScopeID]string),
		active:    make(map[string]bool),
		choosing:  make(map[ScopeID]bool),
	}
}

// Override returns the override for name, if any.
func (c *EvalContext) Override(name string) (expr.Value, bool) {
	v, ok := c.overrides[name]
	return v, ok
}

// Resolve implements expr.Resolver. Unknown symbols are false.
func (c *EvalContext) Resolve(name string) expr.Value {
	cfg := c.repo.Config(name)
	if cfg == nil {
		return expr.False
	}
	return cfg.Evaluate(c)
}

// True evaluates a raw expression, treating an empty one as true.
func (c *EvalContext) True(text string) bool {
	if text == "" {
		return true
	}
	return c.repo.compile(text).True(c)
}

func (c *EvalContext) allTrue(texts []string) bool {
	for _, t := range texts {
		if !c.True(t) {
			return false
		}
	}
	return true
}

// Evaluate resolves the symbol's value. Rules apply in order: cached value,
// override, dependency gate, first active default, select/imply, choice
// membership, false.
func (cfg *Config) Evaluate(c *EvalContext) expr.Value {
	if v, ok := c.values[cfg.Name]; ok {
		return v
	}
	typ := cfg.Type()
	if c.active[cfg.Name] {
		return typ.FalseValue()
	}
	c.active[cfg.Name] = true
	v := cfg.evaluate(c, typ)
	delete(c.active, cfg.Name)
	c.values[cfg.Name] = v
	return v
}

func (cfg *Config) evaluate(c *EvalContext, typ Type) expr.Value {
	if v, ok := c.overrides[cfg.Name]; ok {
		return typ.Coerce(v)
	}

	enabled := cfg.enabledEntries(c)
	if len(enabled) == 0 {
		return typ.FalseValue()
	}

	for _, e := range enabled {
		for _, d := range e.Defaults {
			if c.True(d.If) {
				return typ.Coerce(c.repo.compile(d.Value).Evaluate(c))
			}
		}
	}

	if !typ.IsBoolean() {
		return typ.FalseValue()
	}

	for _, s := range c.repo.selectorsOf(cfg.Name) {
		if s.entry.Config == cfg {
			continue
		}
		if s.entry.Config.Evaluate(c).Truth() && c.True(s.cond) {
			return expr.Bool(true)
		}
	}

	for _, e := range enabled {
		if sc := c.repo.scopes.get(e.Scope); sc != nil && sc.Kind == ScopeChoice {
			if c.Chosen(sc) == cfg.Name {
				return expr.Bool(true)
			}
		}
	}
	return typ.FalseValue()
}

// enabledEntries returns the entries whose scope chain and dependencies
// hold.
func (cfg *Config) enabledEntries(c *EvalContext) []*ConfigEntry {
	var out []*ConfigEntry
	for _, e := range cfg.Entries {
		if c.EntryEnabled(e) {
			out = append(out, e)
		}
	}
	return out
}

// EntryEnabled reports whether the entry's scope chain and "depends on"
// expressions are all true.
func (c *EvalContext) EntryEnabled(e *ConfigEntry) bool {
	if sc := c.repo.scopes.get(e.Scope); sc != nil && !sc.Evaluate(c) {
		return false
	}
	for _, d := range e.Dependencies() {
		if !d.True(c) {
			return false
		}
	}
	return true
}

// Visible reports whether the symbol has an active prompt in c.
func (cfg *Config) Visible(c *EvalContext) bool {
	for _, e := range cfg.Entries {
		if e.Prompt == "" || !c.EntryEnabled(e) || !c.True(e.PromptIf) {
			continue
		}
		if sc := c.repo.scopes.get(e.Scope); sc != nil && !sc.Visible(c) {
			continue
		}
		return true
	}
	return false
}

// Enabled reports whether any declaration's dependencies hold.
func (cfg *Config) Enabled(c *EvalContext) bool {
	return len(cfg.enabledEntries(c)) > 0
}

// Evaluate reports whether the scope and all its ancestors are active.
func (s *Scope) Evaluate(c *EvalContext) bool {
	if v, ok := c.scopes[s.ID]; ok {
		return v
	}
	// Provisionally false so a condition that refers back to this scope
	// terminates.
	c.scopes[s.ID] = false
	v := true
	switch s.Kind {
	case ScopeIf:
		v = c.True(s.Cond)
	case ScopeMenu, ScopeChoice:
		v = c.allTrue(s.DependsOn)
	}
	if v && s.Parent != NoScope {
		if p := c.repo.scopes.get(s.Parent); p != nil {
			v = p.Evaluate(c)
		}
	}
	c.scopes[s.ID] = v
	return v
}

// Visible reports whether the scope is active and every "visible if" on the
// chain holds.
func (s *Scope) Visible(c *EvalContext) bool {
	for _, a := range c.repo.scopes.ancestors(s.ID) {
		if !c.allTrue(a.VisibleIf) {
			return false
		}
	}
	return s.Evaluate(c)
}

// Chosen returns the name of the selected member of a choice scope, or ""
// when nothing is selected. An override setting a member wins, then the
// first active default, then the first visible member.
func (c *EvalContext) Chosen(s *Scope) string {
	if name, ok := c.chosen[s.ID]; ok {
		return name
	}
	if s.Kind != ScopeChoice || c.choosing[s.ID] || !s.Evaluate(c) {
		return ""
	}
	c.choosing[s.ID] = true
	defer delete(c.choosing, s.ID)

	members := s.Entries()
	name := ""
	for _, e := range members {
		if v, ok := c.overrides[e.Config.Name]; ok && v.Truth() {
			name = e.Config.Name
			break
		}
	}
	if name == "" {
		for _, d := range s.Defaults {
			if c.True(d.If) && s.hasMember(d.Value) {
				name = d.Value
				break
			}
		}
	}
	if name == "" && !s.Optional {
		for _, e := range members {
			if c.EntryEnabled(e) && e.Prompt != "" && c.True(e.PromptIf) {
				name = e.Config.Name
				break
			}
		}
	}
	c.chosen[s.ID] = name
	return name
}

func (s *Scope) hasMember(name string) bool {
	for _, e := range s.Entries() {
		if e.Config.Name == name {
			return true
		}
	}
	return false
}
