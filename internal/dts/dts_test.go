package dts

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robert-at-pretension-io/kconfig-dts/internal/diag"
	"github.com/robert-at-pretension-io/kconfig-dts/internal/vfs"
)

const (
	boardURI   = "/ws/board.dts"
	overlayURI = "/ws/app.overlay"
)

const boardText = `/dts-v1/;
#include "soc.dtsi"
#define PIN(n) ((n) * 2)

/ {
	model = "test board";
	#address-cells = <1>;
	#size-cells = <1>;

	aliases {
		led0 = &led;
	};

	soc {
		#address-cells = <1>;
		#size-cells = <1>;

		gpio0: gpio@1000 {
			compatible = "vendor,gpio";
			reg = <0x1000 0x100>;
			gpio-controller;
			#gpio-cells = <2>;
		};

		node@0 {
			a = <1>;
		};
	};

	leds {
		led: led_0 {
			gpios = <&gpio0 PIN(3) 0>;
			label = "LED";
		};
	};
};
`

const socText = `/ {
	cpus {
		cpu@0 { compatible = "arm,cortex-m4"; };
	};
};
`

const overlayText = `&{/soc/node@0} {
	b = <2>;
	a = <3>;
};

&gpio0 {
	status = "disabled";
};
`

func testFS() vfs.Memory {
	return vfs.Memory{
		boardURI:       boardText,
		"/ws/soc.dtsi": socText,
		overlayURI:     overlayText,
	}
}

func newCtx(t *testing.T, fs vfs.Memory, overlays ...string) *DTSCtx {
	t.Helper()
	c := NewContext(Options{Reader: fs})
	c.SetBoard(boardURI)
	for _, o := range overlays {
		c.AddOverlay(o)
	}
	require.NoError(t, c.Reparse(context.Background()))
	return c
}

// single parses one board file with the given body.
func single(t *testing.T, text string) *DTSCtx {
	t.Helper()
	return newCtx(t, vfs.Memory{boardURI: text})
}

func lineOf(t *testing.T, text, substr string) int {
	t.Helper()
	for i, l := range strings.Split(text, "\n") {
		if strings.Contains(l, substr) {
			return i
		}
	}
	t.Fatalf("%q not found", substr)
	return -1
}

func codes(l diag.List) []string {
	var out []string
	for _, d := range l {
		out = append(out, d.Code)
	}
	return out
}

// snapshot renders every node's merged properties.
func snapshot(c *DTSCtx) map[string][]string {
	out := map[string][]string{}
	for _, n := range c.Nodes() {
		var props []string
		for _, p := range n.UniqueProperties() {
			props = append(props, p.Name+"="+p.ValueString())
		}
		out[n.Path] = props
	}
	return out
}

func TestParseBuildsGraph(t *testing.T) {
	c := newCtx(t, testFS())
	assert.Empty(t, c.Diagnostics())
	assert.Equal(t, 1, c.Board.Version)
	assert.Equal(t, []string{"/ws/soc.dtsi"}, c.Board.Includes)

	model, ok := c.Root().Property("model").String()
	require.True(t, ok)
	assert.Equal(t, "test board", model)

	gpio := c.Node("/soc/gpio@1000")
	require.NotNil(t, gpio)
	assert.Equal(t, "/soc/gpio@1000/", gpio.Path)
	assert.Equal(t, "gpio", gpio.BaseName())
	assert.Equal(t, "1000", gpio.Address())
	assert.Equal(t, []string{"vendor,gpio"}, gpio.Compatible())
	assert.True(t, gpio.Property("gpio-controller").Bool())
	assert.Same(t, gpio, c.Node("&gpio0"))
	assert.Same(t, gpio, c.Node("gpio0"))
	assert.Same(t, gpio, c.Node("&{/soc/gpio@1000}"))

	led := c.Node("led0")
	require.NotNil(t, led)
	assert.Equal(t, "/leds/led_0/", led.Path)

	require.NotNil(t, c.Node("/cpus/cpu@0"), "nodes from included files are merged")
	assert.Nil(t, c.Node("/missing"))

	var names []string
	for _, n := range c.Root().Children() {
		names = append(names, n.Name)
	}
	assert.Equal(t, []string{"cpus", "aliases", "soc", "leds"}, names)
	assert.Equal(t, []string{"gpio0", "led"}, c.Labels())
}

func TestOverlayShadowsBoard(t *testing.T) {
	c := newCtx(t, testFS(), overlayURI)
	require.Empty(t, c.Diagnostics())

	n := c.Node("/soc/node@0")
	require.NotNil(t, n)
	require.Len(t, n.Entries, 2)

	a, ok := n.Property("a").Number()
	require.True(t, ok)
	assert.EqualValues(t, 3, a, "overlay value wins")
	b, ok := n.Property("b").Number()
	require.True(t, ok)
	assert.EqualValues(t, 2, b)

	raw, ok := n.Entries[0].Property("a").Number()
	require.True(t, ok)
	assert.EqualValues(t, 1, raw, "board entry keeps its own value")
	assert.Equal(t, boardURI, n.Entries[0].File.URI)
	assert.Equal(t, overlayURI, n.Entries[1].File.URI)

	var props []string
	for _, p := range n.UniqueProperties() {
		props = append(props, p.Name)
	}
	assert.Equal(t, []string{"a", "b"}, props)

	assert.False(t, c.Node("gpio0").Enabled())
	assert.True(t, c.Node("led0").Enabled())
}

func TestIncrementalReparseMatchesFullParse(t *testing.T) {
	fs := testFS()
	c := newCtx(t, fs, overlayURI)
	boardEntry := c.Node("/soc/gpio@1000").Entries[0]
	version := c.Version()

	fs[overlayURI] = "&{/soc/node@0} {\n\ta = <7>;\n};\n&led {\n\tlabel = \"OTHER\";\n};\n"
	c.MarkDirty(overlayURI)
	require.NoError(t, c.Reparse(context.Background()))
	assert.Greater(t, c.Version(), version)

	gpio := c.Node("/soc/gpio@1000")
	require.NotNil(t, gpio)
	assert.Same(t, boardEntry, gpio.Entries[0], "clean board entries are adopted")
	assert.True(t, gpio.Enabled(), "old overlay status is gone")

	fresh := newCtx(t, fs, overlayURI)
	assert.Equal(t, snapshot(fresh), snapshot(c))

	a, _ := c.Node("/soc/node@0").Property("a").Number()
	assert.EqualValues(t, 7, a)
}

func TestIncludeChangeReparsesIncluder(t *testing.T) {
	fs := testFS()
	c := newCtx(t, fs)
	before := c.Node("/soc/gpio@1000").Entries[0]

	fs["/ws/soc.dtsi"] = "/ {\n\tcpus {\n\t\tcpu@1 { };\n\t};\n};\n"
	c.MarkDirty("/ws/soc.dtsi")
	require.NoError(t, c.Reparse(context.Background()))

	assert.NotSame(t, before, c.Node("/soc/gpio@1000").Entries[0])
	assert.Nil(t, c.Node("/cpus/cpu@0"))
	assert.NotNil(t, c.Node("/cpus/cpu@1"))
}

func TestRemoveOverlay(t *testing.T) {
	fs := testFS()
	c := newCtx(t, fs, overlayURI)
	require.True(t, c.RemoveOverlay(overlayURI))
	assert.False(t, c.RemoveOverlay(overlayURI))
	require.NoError(t, c.Reparse(context.Background()))

	a, _ := c.Node("/soc/node@0").Property("a").Number()
	assert.EqualValues(t, 1, a)
	assert.Nil(t, c.Node("/soc/node@0").Property("b"))
}

const valuesText = `/ {
	n {
		b;
		i = <5>;
		arr = <1 2 3>;
		s = "x\ty";
		ss = "a", "b";
		bytes = [00 ab CD];
		ph = <&l>;
		phs = <&l &l>;
		pa = <&l 1 2>;
		path = &l;
		pathref = &{/target};
		expr = <(1 + 2) (4 << 1)>;
		bits = /bits/ 8 <1 2>;
		mixed = "s", <1>;
		ch = <'a'>;
	};
	l: target { };
};
`

func TestPropertyValues(t *testing.T) {
	c := single(t, valuesText)
	require.Empty(t, c.Diagnostics())
	n := c.Node("/n")
	require.NotNil(t, n)

	types := map[string]ValueType{
		"b":       TypeBoolean,
		"i":       TypeInt,
		"arr":     TypeArray,
		"s":       TypeString,
		"ss":      TypeStringArray,
		"bytes":   TypeBytes,
		"ph":      TypePHandle,
		"phs":     TypePHandles,
		"pa":      TypePHandleArray,
		"path":    TypePath,
		"pathref": TypePath,
		"expr":    TypeArray,
		"bits":    TypeArray,
		"mixed":   TypeCompound,
		"ch":      TypeInt,
	}
	for name, want := range types {
		p := n.Property(name)
		require.NotNil(t, p, name)
		assert.Equal(t, want, p.ValueType(), name)
	}

	s, _ := n.Property("s").String()
	assert.Equal(t, "x\ty", s)
	ss, ok := n.Property("ss").Strings()
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, ss)

	bytes, ok := n.Property("bytes").Bytestring()
	require.True(t, ok)
	assert.Equal(t, []byte{0x00, 0xab, 0xcd}, bytes)

	arr, ok := n.Property("arr").Array()
	require.True(t, ok)
	assert.Equal(t, []int64{1, 2, 3}, arr)

	expr, ok := n.Property("expr").Array()
	require.True(t, ok)
	assert.Equal(t, []int64{3, 8}, expr)
	assert.Equal(t, KindExpression, n.Property("expr").Value[0].Cells[0].Kind)

	assert.Equal(t, 8, n.Property("bits").Value[0].Bits)
	ch, _ := n.Property("ch").Number()
	assert.EqualValues(t, 'a', ch)

	target := c.Node("/target")
	ref, ok := n.Property("path").PHandle()
	require.True(t, ok)
	assert.Same(t, target, c.Resolve(ref))
	ref, ok = n.Property("pathref").PHandle()
	require.True(t, ok)
	assert.Same(t, target, c.Resolve(ref))
	assert.Len(t, n.Property("phs").PHandles(), 2)

	_, ok = n.Property("pa").Array()
	assert.False(t, ok, "arrays with phandles are not integer arrays")
}

func TestClassify(t *testing.T) {
	cell := func(k ValueKind) PropertyValue { return PropertyValue{Kind: k} }
	array := func(cells ...PropertyValue) PropertyValue { return PropertyValue{Kind: KindArray, Cells: cells} }

	tests := []struct {
		name   string
		values []PropertyValue
		want   ValueType
	}{
		{"empty", nil, TypeEmpty},
		{"bool", []PropertyValue{cell(KindBool)}, TypeBoolean},
		{"empty array", []PropertyValue{array()}, TypeArray},
		{"two arrays", []PropertyValue{array(cell(KindInt)), array(cell(KindInt))}, TypeArray},
		{"split phandles", []PropertyValue{array(cell(KindPHandle)), array(cell(KindPHandle))}, TypePHandles},
		{"split specifiers", []PropertyValue{array(cell(KindPHandle), cell(KindInt)), array(cell(KindPHandle))}, TypePHandleArray},
		{"string and bytes", []PropertyValue{cell(KindString), cell(KindBytestring)}, TypeCompound},
		{"two paths", []PropertyValue{cell(KindPHandle), cell(KindPHandle)}, TypeCompound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.values))
		})
	}
}

func TestMacroCellKeepsRawLocation(t *testing.T) {
	c := newCtx(t, testFS())
	p := c.Node("/leds/led_0").Property("gpios")
	require.NotNil(t, p)

	specs, ok := p.PHandleArray(c)
	require.True(t, ok)
	require.Len(t, specs, 1)
	assert.Same(t, c.Node("gpio0"), specs[0].Node)
	require.Len(t, specs[0].Cells, 2)
	n, _ := specs[0].Cells[0].Number()
	assert.EqualValues(t, 6, n)

	line := lineOf(t, boardText, "PIN(3) 0")
	raw := strings.Split(boardText, "\n")[line]
	loc := specs[0].Cells[0].Loc
	assert.Equal(t, boardURI, loc.URI)
	assert.Equal(t, line, loc.Range.Start.Line)
	assert.Equal(t, strings.Index(raw, "PIN"), loc.Range.Start.Character)
}

type fakeTypes map[string][]string

func (f fakeTypes) CellNames(n *Node, domain string) []string { return f[n.Path+"|"+domain] }

func TestCellNames(t *testing.T) {
	c := newCtx(t, testFS())
	gpios := c.Node("led0").Property("gpios")
	assert.Equal(t, [][]string{{"cell0", "cell1"}}, gpios.CellNames(c))

	c.Types = fakeTypes{"/soc/gpio@1000/|gpio": {"pin", "flags"}}
	assert.Equal(t, [][]string{{"pin", "flags"}}, gpios.CellNames(c))

	reg := c.Node("gpio0").Property("reg")
	assert.Equal(t, [][]string{{"addr", "size"}}, reg.CellNames(c))
	assert.Nil(t, c.Node("gpio0").Property("compatible").CellNames(c))
}

func TestRegs(t *testing.T) {
	c := newCtx(t, testFS())
	regs, ok := c.Node("gpio0").Property("reg").Regs()
	require.True(t, ok)
	require.Len(t, regs, 1)
	assert.EqualValues(t, 0x1000, regs[0].Address)
	assert.EqualValues(t, 0x100, regs[0].Size)

	c = single(t, "/ {\n\tm@0 {\n\t\treg = <0x1 0x2 0x10>;\n\t};\n};\n")
	regs, ok = c.Node("/m@0").Property("reg").Regs()
	require.True(t, ok)
	assert.EqualValues(t, int64(0x100000002), regs[0].Address, "root defaults to two address cells")
	assert.EqualValues(t, 0x10, regs[0].Size)
}

func TestInterrupts(t *testing.T) {
	c := single(t, `/ {
	intc: ic {
		interrupt-controller;
		#interrupt-cells = <2>;
	};
	dev {
		interrupt-parent = <&intc>;
		interrupts = <1 2 3 4>;
	};
};
`)
	require.Empty(t, c.Diagnostics())
	dev := c.Node("/dev")
	assert.Same(t, c.Node("intc"), c.InterruptParent(dev))
	irqs, ok := dev.Property("interrupts").Interrupts(c)
	require.True(t, ok)
	assert.Len(t, irqs, 2)
}

func TestNexusMap(t *testing.T) {
	c := single(t, `/ {
	g: gpio {
		#gpio-cells = <2>;
	};
	conn {
		#gpio-cells = <2>;
		gpio-map = <0 0 &g 5 0>, <1 0 &g 6 0>;
	};
};
`)
	require.Empty(t, c.Diagnostics())
	rows, ok := c.Node("/conn").Property("gpio-map").NexusMap(c)
	require.True(t, ok)
	require.Len(t, rows, 2)
	assert.Same(t, c.Node("g"), rows[1].Node)
	pin, _ := rows[1].Parent[0].Number()
	assert.EqualValues(t, 6, pin)
}

func TestDeleteNodeAndProperty(t *testing.T) {
	fs := vfs.Memory{
		boardURI: `/ {
	a {
		x = <1>;
		y = <2>;
		gone { };
	};
	b: bnode { };
};
&{/a} {
	/delete-property/ x;
	/delete-node/ gone;
};
/delete-node/ &b;
`,
		overlayURI: "&b {\n\tz = <1>;\n};\n",
	}
	c := newCtx(t, fs)
	require.Empty(t, c.Diagnostics())

	a := c.Node("/a")
	require.NotNil(t, a)
	assert.Nil(t, a.Property("x"))
	assert.NotNil(t, a.Property("y"))
	assert.Len(t, a.UniqueProperties(), 1)
	assert.Nil(t, c.Node("/a/gone"))
	assert.Nil(t, c.Node("/bnode"))
	for _, n := range c.Root().Children() {
		assert.NotEqual(t, "bnode", n.Name)
	}

	c.AddOverlay(overlayURI)
	require.NoError(t, c.Reparse(context.Background()))
	assert.NotNil(t, c.Node("/bnode"), "a later file reopens the node")
	assert.Contains(t, codes(c.Diagnostics()), CodeDeletedNode)
}

const brokenText = `/ {
	c: ctl { #gpio-cells = <2>; };
	c: other { };
	user {
		gpios = <&c 1>;
		p = <&nope>;
		reg = <1 2>;
		x = <1 $ 2>;
		y = <2>;
		m = <1>
		n = <3>;
	};
};
&nope { };
`

func TestDiagnostics(t *testing.T) {
	c := single(t, brokenText)
	list := c.Diagnostics()
	got := codes(list)
	assert.Contains(t, got, CodeDuplicateLabel)
	assert.Contains(t, got, CodeUnknownLabel)
	assert.Contains(t, got, CodeCells)
	assert.Contains(t, got, CodeSyntax)

	at := func(code, substr string) {
		t.Helper()
		line := lineOf(t, brokenText, substr)
		for _, d := range list {
			if d.Code == code && d.Range.Start.Line == line {
				return
			}
		}
		t.Errorf("no %s diagnostic on line %d (%q)", code, line, substr)
	}
	at(CodeDuplicateLabel, "c: other")
	at(CodeUnknownLabel, "p = <&nope>")
	at(CodeUnknownLabel, "&nope { }")
	at(CodeCells, "gpios = <&c 1>")
	at(CodeCells, "reg = <1 2>")
	at(CodeSyntax, "x = <1 $ 2>")

	user := c.Node("/user")
	require.NotNil(t, user)
	x := user.Property("x")
	require.NotNil(t, x, "values before the error are kept")
	require.Len(t, x.Value, 1)
	assert.Len(t, x.Value[0].Cells, 1)
	assert.NotNil(t, user.Property("y"))
	assert.NotNil(t, user.Property("m"))
	assert.NotNil(t, user.Property("n"))
	assert.Same(t, c.Node("/ctl"), c.Label("c"), "first label wins")
}

func TestSyntaxRecovery(t *testing.T) {
	tests := []struct {
		name string
		text string
		node string
	}{
		{"unterminated node", "/ {\n\tn {\n\t\tp = <1>;\n", "/n"},
		{"stray close", "/ {\n\tn { };\n};\n};\n", "/n"},
		{"missing semicolon after node", "/ {\n\tn { }\n};\n", "/n"},
		{"garbage statement", "/ {\n\t@@@;\n\tn { };\n};\n", "/n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := single(t, tt.text)
			assert.NotEmpty(t, c.Diagnostics())
			assert.NotNil(t, c.Node(tt.node))
		})
	}
}

func TestMissingFileReported(t *testing.T) {
	c := newCtx(t, vfs.Memory{})
	assert.Contains(t, codes(c.Diagnostics()), CodeRead)
}

func TestEntryAndPropertyAt(t *testing.T) {
	c := newCtx(t, testFS(), overlayURI)
	line := lineOf(t, boardText, "a = <1>;")
	pos := diag.Position{Line: line, Character: 3}

	e := c.EntryAt(pos, boardURI)
	require.NotNil(t, e)
	assert.Equal(t, "node@0", e.Name)
	assert.Equal(t, "/soc/node@0/", e.Node.Path)

	p := c.PropertyAt(pos, boardURI)
	require.NotNil(t, p)
	assert.Equal(t, "a", p.Name)
	assert.Same(t, e, p.Entry)

	assert.Nil(t, c.PropertyAt(pos, overlayURI))
	oe := c.EntryAt(diag.Position{Line: 1, Character: 2}, overlayURI)
	require.NotNil(t, oe)
	assert.Equal(t, "&{/soc/node@0}", oe.displayName())
}

func TestReferences(t *testing.T) {
	c := newCtx(t, testFS(), overlayURI)
	refs := c.References(c.Node("gpio0"))
	require.Len(t, refs, 2)
	var uris []string
	for _, r := range refs {
		uris = append(uris, r.Loc.URI)
	}
	assert.ElementsMatch(t, []string{boardURI, overlayURI}, uris)
	assert.Len(t, c.References(c.Node("led0")), 1)
	assert.Nil(t, c.References(nil))
}

func TestReparseCancelled(t *testing.T) {
	c := NewContext(Options{Reader: testFS()})
	c.SetBoard(boardURI)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, c.Reparse(ctx), context.Canceled)
}
