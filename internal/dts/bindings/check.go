package bindings

import (
	"fmt"
	"strings"

	"github.com/robert-at-pretension-io/kconfig-dts/internal/diag"
	"github.com/robert-at-pretension-io/kconfig-dts/internal/dts"
)

// Diagnostic codes for nodes checked against their bindings.
const (
	CodeUnknownCompatible = "dts.unknown-compatible"
	CodeMissingProperty   = "dts.missing-property"
	CodePropertyType      = "dts.property-type"
	CodePropertyEnum      = "dts.property-enum"
	CodeDeprecated        = "dts.deprecated-property"
)

// Check validates the enabled nodes of c against their binding types.
func Check(c *dts.DTSCtx, l *TypeLoader) diag.List {
	var out diag.List
	add := func(loc diag.Location, sev diag.Severity, code, msg string) {
		out = append(out, diag.Diagnostic{URI: loc.URI, Range: loc.Range, Severity: sev, Code: code, Message: msg, Source: "bindings"})
	}

	for _, n := range c.Nodes() {
		if !n.Enabled() || len(n.Entries) == 0 {
			continue
		}
		if compat := n.Compatible(); len(compat) > 0 && !anyKnown(l, compat) {
			p := n.Property("compatible")
			add(p.Loc, diag.SeverityWarning, CodeUnknownCompatible,
				fmt.Sprintf("no binding for %s", strings.Join(compat, ", ")))
		}

		t := l.NodeType(n)
		if !t.Valid {
			continue
		}
		for _, name := range t.Required() {
			if n.Property(name) == nil {
				add(n.Entries[0].NameLoc, diag.SeverityError, CodeMissingProperty,
					fmt.Sprintf("%s is missing required property %s", n.Path, name))
			}
		}
		for _, p := range n.UniqueProperties() {
			pt := t.Property(p.Name)
			if pt == nil {
				continue
			}
			if got := p.ValueType(); !pt.Accepts(got) {
				add(p.Loc, diag.SeverityWarning, CodePropertyType,
					fmt.Sprintf("%s should be %s, not %s", p.Name, pt.Type, got))
				continue
			}
			if !pt.AllowsValue(p) {
				add(p.Loc, diag.SeverityWarning, CodePropertyEnum,
					fmt.Sprintf("%s = %s is not one of %v", p.Name, p.ValueString(), pt.Enum))
			}
			if pt.Deprecated {
				add(p.NameLoc, diag.SeverityHint, CodeDeprecated, fmt.Sprintf("%s is deprecated", p.Name))
			}
		}
	}
	return out
}

func anyKnown(l *TypeLoader, compatibles []string) bool {
	for _, c := range compatibles {
		if l.HasCompatible(c) {
			return true
		}
	}
	return false
}
