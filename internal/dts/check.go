package dts

import (
	"fmt"
	"strings"

	"github.com/robert-at-pretension-io/kconfig-dts/internal/diag"
)

// Check reports references to unknown labels or paths and cell counts
// that do not match the declared layout.
func (c *DTSCtx) Check() diag.List {
	var out diag.List
	add := func(loc diag.Location, sev diag.Severity, code, msg string) {
		out = append(out, diag.Diagnostic{URI: loc.URI, Range: loc.Range, Severity: sev, Code: code, Message: msg, Source: "dts"})
	}

	for _, f := range c.Files() {
		for _, e := range f.Entries() {
			for _, p := range e.Properties {
				for _, ref := range p.PHandles() {
					if c.Resolve(ref) == nil {
						add(ref.Loc, diag.SeverityError, CodeUnknownLabel, fmt.Sprintf("unknown reference %s", ref))
					}
				}
			}
		}
	}

	for _, n := range c.Nodes() {
		for _, p := range n.UniqueProperties() {
			if msg := c.cellProblem(p); msg != "" {
				add(p.Loc, diag.SeverityWarning, CodeCells, msg)
			}
		}
	}
	return out
}

func (c *DTSCtx) cellProblem(p *Property) string {
	switch {
	case p.Name == "reg":
		if _, ok := p.Regs(); !ok {
			ac, sc := p.addressing()
			return fmt.Sprintf("reg should have a multiple of %d cells (#address-cells = %d, #size-cells = %d)", ac+sc, ac, sc)
		}
	case p.Name == "interrupts":
		if _, ok := p.Interrupts(c); !ok {
			ip := c.InterruptParent(p.Node())
			return fmt.Sprintf("interrupts should have a multiple of %d cells", ip.cellCount("#interrupt-cells", 1))
		}
	case p.Name == "interrupt-parent", p.Name == "phandle", strings.HasPrefix(p.Name, "pinctrl-"):
	case strings.HasSuffix(p.Name, "-map"):
		if _, ok := p.NexusMap(c); !ok && p.Node().cellCount("#"+strings.TrimSuffix(p.Name, "-map")+"-cells", -1) >= 0 {
			return fmt.Sprintf("%s rows do not match the declared cell counts", p.Name)
		}
	default:
		switch p.ValueType() {
		case TypePHandle, TypePHandles, TypePHandleArray:
		default:
			return ""
		}
		if _, ok := p.PHandleArray(c); !ok {
			return fmt.Sprintf("%s does not match #%s-cells of its targets", p.Name, SpecifierDomain(p.Name))
		}
	}
	return ""
}
