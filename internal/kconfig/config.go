package kconfig

import (
	"fmt"

	"github.com/robert-at-pretension-io/kconfig-dts/internal/diag"
	"github.com/robert-at-pretension-io/kconfig-dts/internal/kconfig/expr"
)

// Type is the value domain of a Kconfig symbol.
type Type int

const (
	TypeUnknown Type = iota
	TypeBool
	TypeTristate
	TypeInt
	TypeHex
	TypeString
)

var typeNames = map[string]Type{
	"bool":     TypeBool,
	"boolean":  TypeBool,
	"tristate": TypeTristate,
	"int":      TypeInt,
	"hex":      TypeHex,
	"string":   TypeString,
}

func (t Type) String() string {
	switch t {
	case TypeBool:
		return "bool"
	case TypeTristate:
		return "tristate"
	case TypeInt:
		return "int"
	case TypeHex:
		return "hex"
	case TypeString:
		return "string"
	}
	return "unknown"
}

// IsBoolean reports whether t is bool or tristate.
func (t Type) IsBoolean() bool { return t == TypeBool || t == TypeTristate }

// IsNumeric reports whether t is int or hex.
func (t Type) IsNumeric() bool { return t == TypeInt || t == TypeHex }

// FalseValue is the value a symbol of this type takes when disabled.
func (t Type) FalseValue() expr.Value {
	switch t {
	case TypeInt, TypeHex:
		return expr.Number(0)
	case TypeString:
		return expr.String("")
	}
	return expr.False
}

// Coerce converts v into this type's value domain.
func (t Type) Coerce(v expr.Value) expr.Value {
	switch t {
	case TypeBool, TypeTristate:
		return expr.Bool(v.Truth())
	case TypeInt, TypeHex:
		switch v.Kind {
		case expr.KindNumber:
			return v
		case expr.KindString:
			if n, ok := expr.ParseNumber(v.S); ok {
				return expr.Number(n)
			}
			return expr.Number(0)
		default:
			if v.B {
				return expr.Number(1)
			}
			return expr.Number(0)
		}
	case TypeString:
		if v.Kind == expr.KindString {
			return v
		}
		return expr.String(v.String())
	}
	return v
}

// Format renders v as it appears on the right-hand side of a .config
// assignment.
func (t Type) Format(v expr.Value) string {
	switch t {
	case TypeHex:
		return fmt.Sprintf("0x%x", t.Coerce(v).N)
	case TypeString:
		return fmt.Sprintf("%q", t.Coerce(v).S)
	}
	return t.Coerce(v).String()
}

// Lines is an inclusive zero-based line span.
type Lines struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Contains reports whether line falls within the span.
func (l Lines) Contains(line int) bool { return line >= l.Start && line <= l.End }

// Cond is a value or target guarded by an optional "if" condition.
type Cond struct {
	Value string
	If    string
	Line  int
}

// RangeSpec is a "range min max [if cond]" attribute.
type RangeSpec struct {
	Min, Max string
	If       string
	Line     int
}

// ConfigEntry is one declaration of a symbol at one site.
type ConfigEntry struct {
	Config *Config
	File   *ParsedFile
	Lines  Lines
	Scope  ScopeID
	// Menu is set for "menuconfig" declarations.
	Menu bool

	Type       Type
	Prompt     string
	PromptIf   string
	Help       string
	DependsOn  []string
	VisibleIf  []string
	Selects    []Cond
	Implies    []Cond
	Defaults   []Cond
	Ranges     []RangeSpec
	deps       []*expr.Expression
	depsCached bool
}

// Location returns the declaration site.
func (e *ConfigEntry) Location() diag.Location {
	return diag.Location{URI: e.File.URI, Range: diag.LineRange(e.Lines.Start, e.Lines.End)}
}

// Dependencies returns the compiled "depends on" expressions, compiling
// them on first use.
func (e *ConfigEntry) Dependencies() []*expr.Expression {
	if !e.depsCached {
		e.deps = make([]*expr.Expression, len(e.DependsOn))
		for i, d := range e.DependsOn {
			e.deps[i] = expr.Compile(d)
		}
		e.depsCached = true
	}
	return e.deps
}

// Config is a symbol, aggregating every declaration of the same name.
type Config struct {
	Name    string
	Entries []*ConfigEntry
}

// Type returns the first declared type.
func (c *Config) Type() Type {
	for _, e := range c.Entries {
		if e.Type != TypeUnknown {
			return e.Type
		}
	}
	return TypeUnknown
}

// Text returns the first prompt.
func (c *Config) Text() string {
	for _, e := range c.Entries {
		if e.Prompt != "" {
			return e.Prompt
		}
	}
	return ""
}

// Help returns the first help text.
func (c *Config) Help() string {
	for _, e := range c.Entries {
		if e.Help != "" {
			return e.Help
		}
	}
	return ""
}

// HasPrompt reports whether any declaration has a prompt.
func (c *Config) HasPrompt() bool {
	return c.Text() != ""
}

// Defaults returns every default across all declarations, in order.
func (c *Config) Defaults() []Cond {
	var out []Cond
	for _, e := range c.Entries {
		out = append(out, e.Defaults...)
	}
	return out
}

// Ranges returns every range across all declarations, in order.
func (c *Config) Ranges() []RangeSpec {
	var out []RangeSpec
	for _, e := range c.Entries {
		out = append(out, e.Ranges...)
	}
	return out
}

// Selects returns the symbols this config selects.
func (c *Config) Selects() []Cond {
	var out []Cond
	for _, e := range c.Entries {
		out = append(out, e.Selects...)
	}
	return out
}

// Implies returns the symbols this config implies.
func (c *Config) Implies() []Cond {
	var out []Cond
	for _, e := range c.Entries {
		out = append(out, e.Implies...)
	}
	return out
}

func (c *Config) removeEntry(e *ConfigEntry) {
	for i, cur := range c.Entries {
		if cur == e {
			c.Entries = append(c.Entries[:i], c.Entries[i+1:]...)
			return
		}
	}
}

// Comment is a "comment" statement.
type Comment struct {
	Text      string
	File      *ParsedFile
	Lines     Lines
	DependsOn []string
}
