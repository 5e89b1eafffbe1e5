package dts

import (
	"strings"

	"github.com/robert-at-pretension-io/kconfig-dts/internal/diag"
)

// Node is a devicetree node, identified by its path. Its entries can come
// from several files.
type Node struct {
	// Name is the last path segment including the unit address, "/" for
	// the root.
	Name    string
	Path    string
	Parent  *Node
	Entries []*NodeEntry

	children  []*Node
	byName    map[string]*Node
	deletedAt *order
}

func newNode(name string, parent *Node) *Node {
	n := &Node{Name: name, Parent: parent, byName: make(map[string]*Node)}
	if parent == nil {
		n.Path = "/"
	} else {
		n.Path = parent.Path + name + "/"
	}
	return n
}

func (n *Node) child(name string) *Node {
	if c, ok := n.byName[name]; ok {
		return c
	}
	c := newNode(name, n)
	n.byName[name] = c
	n.children = append(n.children, c)
	return c
}

// Children returns the child nodes that are not deleted, in declaration
// order.
func (n *Node) Children() []*Node {
	out := make([]*Node, 0, len(n.children))
	for _, c := range n.children {
		if !c.Deleted() && len(c.Entries) > 0 {
			out = append(out, c)
		}
	}
	return out
}

// Child returns the named child, or nil.
func (n *Node) Child(name string) *Node {
	if c := n.byName[name]; c != nil && !c.Deleted() {
		return c
	}
	return nil
}

// BaseName returns the name without unit address.
func (n *Node) BaseName() string {
	name, _, _ := strings.Cut(n.Name, "@")
	return name
}

// Address returns the unit address, if any.
func (n *Node) Address() string {
	_, addr, _ := strings.Cut(n.Name, "@")
	return addr
}

func (n *Node) last() order {
	if len(n.Entries) == 0 {
		return order{}
	}
	return n.Entries[len(n.Entries)-1].order()
}

// Deleted reports whether a /delete-node/ removed this node or an
// ancestor after its last entry.
func (n *Node) Deleted() bool {
	last := n.last()
	for p := n; p != nil; p = p.Parent {
		if p.deletedAt != nil && last.before(*p.deletedAt) {
			return true
		}
	}
	return false
}

// Labels returns the labels of all entries.
func (n *Node) Labels() []string {
	var out []string
	for _, e := range n.Entries {
		out = append(out, e.Labels...)
	}
	return out
}

// UniqueProperties merges the properties of all entries. Entries are in
// file priority order, so a later file's value shadows an earlier one.
func (n *Node) UniqueProperties() []*Property {
	var out []*Property
	index := map[string]int{}
	for _, e := range n.Entries {
		for _, p := range e.Properties {
			i, ok := index[p.Name]
			switch {
			case p.Deleted && ok:
				out = append(out[:i], out[i+1:]...)
				delete(index, p.Name)
				for name, j := range index {
					if j > i {
						index[name] = j - 1
					}
				}
			case p.Deleted:
			case ok:
				out[i] = p
			default:
				index[p.Name] = len(out)
				out = append(out, p)
			}
		}
	}
	return out
}

// Property returns the effective property with the given name.
func (n *Node) Property(name string) *Property {
	var found *Property
	for _, e := range n.Entries {
		for _, p := range e.Properties {
			if p.Name != name {
				continue
			}
			if p.Deleted {
				found = nil
			} else {
				found = p
			}
		}
	}
	return found
}

// Compatible returns the compatible strings.
func (n *Node) Compatible() []string {
	if p := n.Property("compatible"); p != nil {
		s, _ := p.Strings()
		return s
	}
	return nil
}

// Enabled reports whether the status property is absent, "okay" or "ok".
func (n *Node) Enabled() bool {
	p := n.Property("status")
	if p == nil {
		return true
	}
	s, _ := p.String()
	return s == "okay" || s == "ok"
}

// cellCount reads a "#...-cells" property, falling back to def.
func (n *Node) cellCount(name string, def int) int {
	if n == nil {
		return def
	}
	if p := n.Property(name); p != nil {
		if v, ok := p.Number(); ok {
			return int(v)
		}
	}
	return def
}

// AddressCells returns #address-cells as seen by children of n.
func (n *Node) AddressCells() int { return n.cellCount("#address-cells", 2) }

// SizeCells returns #size-cells as seen by children of n.
func (n *Node) SizeCells() int { return n.cellCount("#size-cells", 1) }

// order sorts entries and deletions: by file priority, then declaration
// order within the file.
type order struct {
	priority, number int
}

func (o order) before(other order) bool {
	if o.priority != other.priority {
		return o.priority < other.priority
	}
	return o.number < other.number
}

// NodeEntry is one block of a node in one file.
type NodeEntry struct {
	File   *DTSFile
	Parent *NodeEntry
	// Node is set when the entry is registered in a context.
	Node *Node
	// Name is the node name for regular blocks, "/" for the root and empty
	// when Ref is set.
	Name string
	// Ref is set for blocks that reopen a node with &label or &{/path}.
	Ref        *PHandle
	Labels     []string
	Properties []*Property
	Children   []*NodeEntry
	Deletions  []*Deletion
	// Loc spans the whole block; NameLoc the name or reference.
	Loc     diag.Location
	NameLoc diag.Location
	// Number is the declaration order within the file.
	Number int
}

func (e *NodeEntry) order() order {
	return order{priority: e.File.Priority, number: e.Number}
}

// Property returns the last property with name declared in this entry.
func (e *NodeEntry) Property(name string) *Property {
	for i := len(e.Properties) - 1; i >= 0; i-- {
		if e.Properties[i].Name == name {
			return e.Properties[i]
		}
	}
	return nil
}

// Deletion is a /delete-node/ statement.
type Deletion struct {
	// Name is a child node name, or empty when Ref is set.
	Name   string
	Ref    *PHandle
	Loc    diag.Location
	Number int
}

// Property is one property assignment, or a /delete-property/ when
// Deleted is set.
type Property struct {
	Name    string
	Labels  []string
	Value   []PropertyValue
	Deleted bool
	Entry   *NodeEntry
	Loc     diag.Location
	NameLoc diag.Location
}

// Node returns the node the property belongs to.
func (p *Property) Node() *Node {
	if p.Entry == nil {
		return nil
	}
	return p.Entry.Node
}

// ValueType classifies the value.
func (p *Property) ValueType() ValueType { return Classify(p.Value) }

// Bool reports whether the property is a boolean flag.
func (p *Property) Bool() bool { return p.ValueType() == TypeBoolean }

// String returns a single string value.
func (p *Property) String() (string, bool) {
	if len(p.Value) == 1 && p.Value[0].Kind == KindString {
		return p.Value[0].Str, true
	}
	return "", false
}

// Strings returns the values of a string or string list.
func (p *Property) Strings() ([]string, bool) {
	out := make([]string, 0, len(p.Value))
	for _, v := range p.Value {
		if v.Kind != KindString {
			return nil, false
		}
		out = append(out, v.Str)
	}
	return out, len(out) > 0
}

// Number returns a single-cell integer value.
func (p *Property) Number() (int64, bool) {
	cells := p.cells()
	if len(cells) != 1 {
		return 0, false
	}
	return cells[0].Number()
}

// Array returns all cells as integers. It fails if any cell is a phandle.
func (p *Property) Array() ([]int64, bool) {
	if p.ValueType() != TypeArray && p.ValueType() != TypeInt {
		return nil, false
	}
	cells := p.cells()
	out := make([]int64, len(cells))
	for i, c := range cells {
		out[i], _ = c.Number()
	}
	return out, true
}

// Bytestring returns the bytes of a [..] value.
func (p *Property) Bytestring() ([]byte, bool) {
	if len(p.Value) == 1 && p.Value[0].Kind == KindBytestring {
		return p.Value[0].Bytes, true
	}
	return nil, false
}

// PHandle returns the reference of a phandle or path property.
func (p *Property) PHandle() (*PHandle, bool) {
	if len(p.Value) == 1 && p.Value[0].Kind == KindPHandle {
		return p.Value[0].Ref, true
	}
	cells := p.cells()
	if len(cells) == 1 && cells[0].Kind == KindPHandle {
		return cells[0].Ref, true
	}
	return nil, false
}

// PHandles returns every reference in the value.
func (p *Property) PHandles() []*PHandle {
	var out []*PHandle
	for _, v := range p.Value {
		if v.Kind == KindPHandle {
			out = append(out, v.Ref)
		}
		for _, c := range v.Cells {
			if c.Kind == KindPHandle {
				out = append(out, c.Ref)
			}
		}
	}
	return out
}

// cells flattens all array values.
func (p *Property) cells() []PropertyValue {
	var out []PropertyValue
	for _, v := range p.Value {
		if v.Kind == KindArray {
			out = append(out, v.Cells...)
		}
	}
	return out
}

// ValueString renders the value as it would be written in a source file.
func (p *Property) ValueString() string {
	parts := make([]string, len(p.Value))
	for i, v := range p.Value {
		parts[i] = v.String()
	}
	return strings.Join(parts, ", ")
}

func (e *NodeEntry) displayName() string {
	if e.Ref != nil {
		return e.Ref.String()
	}
	return e.Name
}
