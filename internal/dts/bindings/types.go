// Package bindings resolves devicetree nodes to their binding types. Types
// are composed from YAML binding files with include and child-binding
// support, plus the standard properties every node may carry.
package bindings

import (
	"fmt"
	"maps"
	"slices"

	"github.com/robert-at-pretension-io/kconfig-dts/internal/diag"
	"github.com/robert-at-pretension-io/kconfig-dts/internal/dts"
)

// PropertyType is the declared shape of one property.
type PropertyType struct {
	Name string
	// Type is empty when the binding leaves it open.
	Type           dts.ValueType
	Required       bool
	Description    string
	Deprecated     bool
	Enum           []any
	Const          any
	Default        any
	SpecifierSpace string
	Loc            diag.Location
}

// Accepts reports whether a value of type v satisfies the declared type.
// Single-element forms are accepted where a list is declared.
func (p *PropertyType) Accepts(v dts.ValueType) bool {
	if p.Type == "" || p.Type == v || p.Type == dts.TypeCompound {
		return true
	}
	switch p.Type {
	case dts.TypeArray:
		return v == dts.TypeInt
	case dts.TypeStringArray:
		return v == dts.TypeString
	case dts.TypePHandles:
		return v == dts.TypePHandle
	case dts.TypePHandleArray:
		return v == dts.TypePHandle || v == dts.TypePHandles
	case dts.TypePath:
		return v == dts.TypeString
	}
	return false
}

// AllowsValue checks prop against the enum, if any.
func (p *PropertyType) AllowsValue(prop *dts.Property) bool {
	if len(p.Enum) == 0 {
		return true
	}
	var got string
	if s, ok := prop.String(); ok {
		got = s
	} else if n, ok := prop.Number(); ok {
		got = fmt.Sprint(n)
	} else {
		return true
	}
	for _, e := range p.Enum {
		if fmt.Sprint(e) == got {
			return true
		}
	}
	return false
}

// mergeProperty returns base with the fields set in over applied on top.
func mergeProperty(base, over *PropertyType) *PropertyType {
	if base == nil {
		c := *over
		return &c
	}
	out := *base
	if over.Type != "" {
		out.Type = over.Type
	}
	out.Required = base.Required || over.Required
	if over.Description != "" {
		out.Description = over.Description
	}
	out.Deprecated = base.Deprecated || over.Deprecated
	if over.Enum != nil {
		out.Enum = over.Enum
	}
	if over.Const != nil {
		out.Const = over.Const
	}
	if over.Default != nil {
		out.Default = over.Default
	}
	if over.SpecifierSpace != "" {
		out.SpecifierSpace = over.SpecifierSpace
	}
	if over.Loc.URI != "" {
		out.Loc = over.Loc
	}
	return &out
}

// NodeType is a composed binding.
type NodeType struct {
	Compatible  string
	Description string
	// File is the binding file, empty for built-in types.
	File       string
	Line       int
	OnBus      string
	Buses      []string
	Properties map[string]*PropertyType
	// Cells maps a specifier space ("gpio") to its cell names.
	Cells map[string][]string
	// Child is the type of child nodes, from child-binding.
	Child *NodeType
	// Valid is false for the fallback type of nodes without a binding.
	Valid bool
}

func newNodeType() *NodeType {
	t := &NodeType{
		Properties: make(map[string]*PropertyType, len(standardProperties)),
		Cells:      make(map[string][]string),
		Valid:      true,
	}
	for _, p := range standardProperties {
		t.Properties[p.Name] = p
	}
	return t
}

// Property returns the declared property, or nil.
func (t *NodeType) Property(name string) *PropertyType {
	return t.Properties[name]
}

// PropertyNames returns the declared property names, sorted.
func (t *NodeType) PropertyNames() []string {
	return slices.Sorted(maps.Keys(t.Properties))
}

// Required returns the names of required properties, sorted.
func (t *NodeType) Required() []string {
	var out []string
	for _, name := range t.PropertyNames() {
		if t.Properties[name].Required {
			out = append(out, name)
		}
	}
	return out
}

// include merges an included type under t, honouring the filter.
func (t *NodeType) include(inc *NodeType, f *includeFilter) {
	for name, p := range inc.Properties {
		if f.allows(name) {
			t.Properties[name] = mergeProperty(t.Properties[name], p)
		}
	}
	for space, names := range inc.Cells {
		t.Cells[space] = names
	}
	if inc.OnBus != "" {
		t.OnBus = inc.OnBus
	}
	if len(inc.Buses) > 0 {
		t.Buses = inc.Buses
	}
	if t.Description == "" {
		t.Description = inc.Description
	}
	if inc.Child != nil {
		var cf *includeFilter
		if f != nil {
			cf = f.Child
		}
		if t.Child == nil {
			t.Child = newNodeType()
		}
		t.Child.include(inc.Child, cf)
	}
}

var statusValues = []any{"okay", "disabled", "reserved", "fail", "fail-sss"}

// standardProperties apply to every node. Binding files refine them.
var standardProperties = []*PropertyType{
	{Name: "compatible", Type: dts.TypeStringArray, Description: "compatible strings, most specific first"},
	{Name: "reg", Type: dts.TypeArray, Description: "address ranges of the device's registers"},
	{Name: "reg-names", Type: dts.TypeStringArray},
	{Name: "status", Type: dts.TypeString, Enum: statusValues, Description: "operational status"},
	{Name: "#address-cells", Type: dts.TypeInt},
	{Name: "#size-cells", Type: dts.TypeInt},
	{Name: "interrupts", Type: dts.TypeArray},
	{Name: "interrupts-extended", Type: dts.TypeCompound},
	{Name: "interrupt-names", Type: dts.TypeStringArray},
	{Name: "interrupt-parent", Type: dts.TypePHandle},
	{Name: "label", Type: dts.TypeString, Description: "human readable name"},
	{Name: "clocks", Type: dts.TypePHandleArray},
	{Name: "clock-names", Type: dts.TypeStringArray},
	{Name: "pinctrl-names", Type: dts.TypeStringArray},
	{Name: "power-domains", Type: dts.TypePHandleArray},
	{Name: "phandle", Type: dts.TypeInt},
	{Name: "ranges", Type: dts.TypeCompound},
	{Name: "dma-ranges", Type: dts.TypeCompound},
	{Name: "wakeup-source", Type: dts.TypeBoolean},
}

func builtin(description string, props ...*PropertyType) *NodeType {
	t := newNodeType()
	t.Description = description
	for _, p := range props {
		t.Properties[p.Name] = p
	}
	return t
}

// pathTypes are matched by node path before anything else.
var pathTypes = map[string]*NodeType{
	"/": builtin("root node",
		&PropertyType{Name: "model", Type: dts.TypeString},
		&PropertyType{Name: "#address-cells", Type: dts.TypeInt},
		&PropertyType{Name: "#size-cells", Type: dts.TypeInt},
	),
	"/aliases/": builtin("node aliases"),
	"/chosen/":  builtin("chosen nodes"),
}

// nameTypes are matched by node name when no compatible binding applies.
var nameTypes = func() map[string]*NodeType {
	cpus := builtin("CPUs",
		&PropertyType{Name: "#address-cells", Type: dts.TypeInt},
		&PropertyType{Name: "#size-cells", Type: dts.TypeInt},
	)
	cpus.Child = builtin("CPU",
		&PropertyType{Name: "device_type", Type: dts.TypeString},
		&PropertyType{Name: "clock-frequency", Type: dts.TypeInt},
	)
	return map[string]*NodeType{
		"cpus": cpus,
		"memory": builtin("system memory",
			&PropertyType{Name: "device_type", Type: dts.TypeString},
			&PropertyType{Name: "reg", Type: dts.TypeArray, Required: true},
		),
		"reserved-memory": builtin("reserved memory regions"),
	}
}()
