// Package diag holds source positions, ranges and diagnostics shared by the
// Kconfig and Devicetree engines.
package diag

import (
	"fmt"
	"strings"
)

// Position is a zero-based line/character location in a document.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Before reports whether p is strictly before o.
func (p Position) Before(o Position) bool {
	return p.Line < o.Line || (p.Line == o.Line && p.Character < o.Character)
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line+1, p.Character+1)
}

// Range is a half-open span between two positions.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// LineRange returns a range covering the whole of the given lines.
func LineRange(start, end int) Range {
	return Range{Start: Position{Line: start}, End: Position{Line: end, Character: 1 << 20}}
}

// Span returns a range on a single line.
func Span(line, startChar, endChar int) Range {
	return Range{Start: Position{line, startChar}, End: Position{line, endChar}}
}

// Contains reports whether pos lies within r (end inclusive, matching
// editor cursor semantics).
func (r Range) Contains(pos Position) bool {
	return !pos.Before(r.Start) && !r.End.Before(pos)
}

// Location is a range inside a specific document.
type Location struct {
	URI   string `json:"uri"`
	Range Range  `json:"range"`
}

func (l Location) String() string {
	return fmt.Sprintf("%s:%s", l.URI, l.Range.Start)
}

// Severity is the importance of a diagnostic.
type Severity int

const (
	// SeverityError reports an error.
	SeverityError Severity = iota + 1
	// SeverityWarning reports a warning.
	SeverityWarning
	// SeverityInfo reports an information.
	SeverityInfo
	// SeverityHint reports a hint.
	SeverityHint
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	case SeverityInfo:
		return "info"
	case SeverityHint:
		return "hint"
	default:
		return "unknown"
	}
}

// ParseSeverity maps a configured severity name to a Severity. The second
// result is false for "off".
func ParseSeverity(s string) (Severity, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off", "none":
		return 0, false
	case "error", "err":
		return SeverityError, true
	case "info", "information":
		return SeverityInfo, true
	case "hint":
		return SeverityHint, true
	default:
		return SeverityWarning, true
	}
}

// Diagnostic is a message attached to a source range.
type Diagnostic struct {
	URI      string   `json:"uri,omitempty"`
	Range    Range    `json:"range"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	// Code identifies the rule that produced the diagnostic.
	Code   string `json:"code,omitempty"`
	Source string `json:"source,omitempty"`
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s:%s: %s: %s", d.URI, d.Range.Start, d.Severity, d.Message)
}

// List is a list of diagnostics.
type List []Diagnostic

// Error appends an error diagnostic at rng.
func (l *List) Error(rng Range, code, msg string) {
	*l = append(*l, Diagnostic{Range: rng, Severity: SeverityError, Message: msg, Code: code})
}

// Warning appends a warning diagnostic at rng.
func (l *List) Warning(rng Range, code, msg string) {
	*l = append(*l, Diagnostic{Range: rng, Severity: SeverityWarning, Message: msg, Code: code})
}

// Info appends an info diagnostic at rng.
func (l *List) Info(rng Range, code, msg string) {
	*l = append(*l, Diagnostic{Range: rng, Severity: SeverityInfo, Message: msg, Code: code})
}

// Hint appends a hint diagnostic at rng.
func (l *List) Hint(rng Range, code, msg string) {
	*l = append(*l, Diagnostic{Range: rng, Severity: SeverityHint, Message: msg, Code: code})
}

// WithURI returns a copy of the list with every diagnostic's URI set.
func (l List) WithURI(uri string) List {
	out := make(List, len(l))
	for i, d := range l {
		d.URI = uri
		out[i] = d
	}
	return out
}

// Count returns the number of diagnostics at the given severity.
func (l List) Count(sev Severity) int {
	n := 0
	for _, d := range l {
		if d.Severity == sev {
			n++
		}
	}
	return n
}

// HasCode reports whether any diagnostic carries the given code.
func (l List) HasCode(code string) bool {
	for _, d := range l {
		if d.Code == code {
			return true
		}
	}
	return false
}

// RuleConfig decides whether a rule is enabled and at which severity it is
// reported. config.Config satisfies it.
type RuleConfig interface {
	IsRuleEnabled(rule string) bool
	GetRuleSeverity(rule string, defaultSeverity string) string
}

// Apply filters out disabled rules and re-levels the rest according to cfg.
func (l List) Apply(cfg RuleConfig) List {
	if cfg == nil {
		return l
	}
	out := make(List, 0, len(l))
	for _, d := range l {
		if d.Code != "" {
			if !cfg.IsRuleEnabled(d.Code) {
				continue
			}
			sev, ok := ParseSeverity(cfg.GetRuleSeverity(d.Code, d.Severity.String()))
			if !ok {
				continue
			}
			d.Severity = sev
		}
		out = append(out, d)
	}
	return out
}
