package dts

import (
	"fmt"
	"strings"
)

// Reg is one address/size pair of a reg property.
type Reg struct {
	Address int64
	Size    int64
	Cells   []PropertyValue
}

// Regs splits reg into entries using the parent's #address-cells and
// #size-cells. The second result is false when the cell count does not
// divide evenly.
func (p *Property) Regs() ([]Reg, bool) {
	ac, sc := p.addressing()
	cells := p.cells()
	width := ac + sc
	if width == 0 {
		return nil, len(cells) == 0
	}
	var out []Reg
	for i := 0; i+width <= len(cells); i += width {
		out = append(out, Reg{
			Address: combine(cells[i : i+ac]),
			Size:    combine(cells[i+ac : i+width]),
			Cells:   cells[i : i+width],
		})
	}
	return out, len(cells)%width == 0
}

func (p *Property) addressing() (int, int) {
	var parent *Node
	if n := p.Node(); n != nil {
		parent = n.Parent
	}
	return parent.AddressCells(), parent.SizeCells()
}

// combine joins big-endian 32-bit cells.
func combine(cells []PropertyValue) int64 {
	var v int64
	for _, c := range cells {
		n, _ := c.Number()
		v = v<<32 | n&0xffffffff
	}
	return v
}

// SpecifierDomain returns the specifier space of a phandle-array property:
// "gpio" for "cs-gpios", "pwm" for "pwms".
func SpecifierDomain(name string) string {
	switch {
	case name == "gpios" || strings.HasSuffix(name, "-gpios"):
		return "gpio"
	case name == "interrupts-extended":
		return "interrupt"
	}
	return strings.TrimSuffix(name, "s")
}

// Specifier is one phandle and its argument cells.
type Specifier struct {
	Target *PHandle
	// Node is the resolved target, nil if the reference is unknown.
	Node  *Node
	Cells []PropertyValue
}

// PHandleArray splits the value into specifiers, using the target's
// "#<domain>-cells". The second result is false when the cells do not
// match the declared counts.
func (p *Property) PHandleArray(c *DTSCtx) ([]Specifier, bool) {
	cells := p.cells()
	domain := SpecifierDomain(p.Name)
	var out []Specifier
	for i := 0; i < len(cells); {
		if cells[i].Kind != KindPHandle {
			return out, false
		}
		spec := Specifier{Target: cells[i].Ref, Node: c.Resolve(cells[i].Ref)}
		i++
		count := spec.Node.cellCount("#"+domain+"-cells", -1)
		if count < 0 {
			j := i
			for j < len(cells) && cells[j].Kind != KindPHandle {
				j++
			}
			spec.Cells = cells[i:j]
			i = j
		} else {
			if i+count > len(cells) {
				spec.Cells = cells[i:]
				return append(out, spec), false
			}
			spec.Cells = cells[i : i+count]
			i += count
		}
		out = append(out, spec)
	}
	return out, true
}

// InterruptParent returns the node that receives n's interrupts.
func (c *DTSCtx) InterruptParent(n *Node) *Node {
	for p := n; p != nil; p = p.Parent {
		if prop := p.Property("interrupt-parent"); prop != nil {
			if ref, ok := prop.PHandle(); ok {
				return c.Resolve(ref)
			}
		}
	}
	if n != nil {
		return n.Parent
	}
	return nil
}

// Interrupts splits an interrupts property by the interrupt parent's
// #interrupt-cells.
func (p *Property) Interrupts(c *DTSCtx) ([][]PropertyValue, bool) {
	count := c.InterruptParent(p.Node()).cellCount("#interrupt-cells", 1)
	cells := p.cells()
	if count <= 0 {
		return nil, len(cells) == 0
	}
	var out [][]PropertyValue
	for i := 0; i+count <= len(cells); i += count {
		out = append(out, cells[i:i+count])
	}
	return out, len(cells)%count == 0
}

// MapEntry is one row of a nexus map such as gpio-map.
type MapEntry struct {
	Child  []PropertyValue
	Target *PHandle
	Node   *Node
	Parent []PropertyValue
}

// NexusMap splits a "<domain>-map" property into rows.
func (p *Property) NexusMap(c *DTSCtx) ([]MapEntry, bool) {
	domain, ok := strings.CutSuffix(p.Name, "-map")
	if !ok {
		return nil, false
	}
	n := p.Node()
	cellsName := "#" + domain + "-cells"
	childCount := n.cellCount(cellsName, -1)
	if childCount < 0 {
		return nil, false
	}
	if domain == "interrupt" {
		childCount += n.cellCount("#address-cells", 0)
	}
	cells := p.cells()
	var out []MapEntry
	for i := 0; i < len(cells); {
		if i+childCount >= len(cells) || cells[i+childCount].Kind != KindPHandle {
			return out, false
		}
		e := MapEntry{Child: cells[i : i+childCount], Target: cells[i+childCount].Ref}
		e.Node = c.Resolve(e.Target)
		i += childCount + 1
		parentCount := e.Node.cellCount(cellsName, -1)
		if parentCount < 0 {
			return out, false
		}
		if domain == "interrupt" {
			parentCount += e.Node.cellCount("#address-cells", 0)
		}
		if i+parentCount > len(cells) {
			return out, false
		}
		e.Parent = cells[i : i+parentCount]
		i += parentCount
		out = append(out, e)
	}
	return out, true
}

// CellNames returns labels for the cells of each entry of an array-valued
// property, for hover and signature help. Names come from the bindings of
// the nodes that define the cell layout when c has a type resolver.
func (p *Property) CellNames(c *DTSCtx) [][]string {
	cells := p.cells()
	if len(cells) == 0 {
		return nil
	}
	switch {
	case p.Name == "reg":
		ac, sc := p.addressing()
		if ac+sc == 0 {
			return nil
		}
		names := append(repeat("addr", ac), repeat("size", sc)...)
		return repeatEntry(names, (len(cells)+ac+sc-1)/(ac+sc))
	case p.Name == "ranges" || strings.HasSuffix(p.Name, "-map"):
		return nil
	case p.Name == "interrupts":
		ip := c.InterruptParent(p.Node())
		count := ip.cellCount("#interrupt-cells", 1)
		if count <= 0 {
			return nil
		}
		return repeatEntry(c.cellNames(ip, "interrupt", count), (len(cells)+count-1)/count)
	}
	switch p.ValueType() {
	case TypePHandle, TypePHandles, TypePHandleArray:
	default:
		return nil
	}
	specs, _ := p.PHandleArray(c)
	domain := SpecifierDomain(p.Name)
	out := make([][]string, len(specs))
	for i, s := range specs {
		out[i] = c.cellNames(s.Node, domain, len(s.Cells))
	}
	return out
}

func (c *DTSCtx) cellNames(n *Node, domain string, count int) []string {
	if c.Types != nil && n != nil {
		if names := c.Types.CellNames(n, domain); len(names) > 0 {
			return names
		}
	}
	out := make([]string, count)
	for i := range out {
		out[i] = fmt.Sprintf("cell%d", i)
	}
	return out
}

func repeat(s string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = s
	}
	return out
}

func repeatEntry(names []string, n int) [][]string {
	out := make([][]string, n)
	for i := range out {
		out[i] = names
	}
	return out
}
