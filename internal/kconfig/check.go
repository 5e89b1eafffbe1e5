package kconfig

import (
	"fmt"

	"github.com/robert-at-pretension-io/kconfig-dts/internal/diag"
)

// Semantic diagnostic codes.
const (
	CodeMissingType   = "kconfig.missing-type"
	CodeSelectNonBool = "kconfig.select-non-bool"
	CodeUnknownSymbol = "kconfig.unknown-symbol"
	CodeEmptyChoice   = "kconfig.empty-choice"
)

// Check runs the semantic checks over the whole tree.
func (r *Repository) Check() diag.List {
	var out diag.List
	add := func(f *ParsedFile, l Lines, sev diag.Severity, code, msg string) {
		out = append(out, diag.Diagnostic{
			URI:      f.URI,
			Range:    diag.LineRange(l.Start, l.Start),
			Severity: sev,
			Message:  msg,
			Code:     code,
			Source:   "kconfig",
		})
	}

	for _, cfg := range r.ConfigList() {
		if cfg.Type() == TypeUnknown {
			e := cfg.Entries[0]
			add(e.File, e.Lines, diag.SeverityWarning, CodeMissingType,
				fmt.Sprintf("%s has no type", cfg.Name))
		}
		for _, e := range cfg.Entries {
			for _, s := range append(append([]Cond{}, e.Selects...), e.Implies...) {
				target := r.Config(s.Value)
				switch {
				case target == nil:
					add(e.File, Lines{s.Line, s.Line}, diag.SeverityInfo, CodeUnknownSymbol,
						fmt.Sprintf("%s selects unknown symbol %s", cfg.Name, s.Value))
				case !target.Type().IsBoolean() && target.Type() != TypeUnknown:
					add(e.File, Lines{s.Line, s.Line}, diag.SeverityError, CodeSelectNonBool,
						fmt.Sprintf("%s selects %s of type %s", cfg.Name, s.Value, target.Type()))
				}
			}
			for _, dep := range e.DependsOn {
				for _, name := range r.compile(dep).Variables() {
					if r.Config(name) == nil {
						add(e.File, e.Lines, diag.SeverityInfo, CodeUnknownSymbol,
							fmt.Sprintf("%s depends on unknown symbol %s", cfg.Name, name))
					}
				}
			}
		}
	}

	for _, s := range r.Scopes() {
		if s.Kind != ScopeChoice || s.File == nil {
			continue
		}
		members := 0
		for _, e := range s.Entries() {
			if e.Config.Type().IsBoolean() {
				members++
			}
		}
		if members == 0 {
			add(s.File, s.Lines, diag.SeverityWarning, CodeEmptyChoice, "choice has no bool or tristate members")
		}
	}
	return out
}
