package preproc

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robert-at-pretension-io/kconfig-dts/internal/diag"
	"github.com/robert-at-pretension-io/kconfig-dts/internal/vfs"
)

func run(t *testing.T, text string, opts Options) *Result {
	t.Helper()
	if opts.Reader == nil {
		opts.Reader = vfs.Memory{}
	}
	res, err := Preprocess(context.Background(), "/ws/board.dts", text, opts)
	require.NoError(t, err)
	return res
}

func texts(res *Result) []string {
	out := make([]string, len(res.Lines))
	for i, l := range res.Lines {
		out[i] = strings.TrimSpace(l.Text)
	}
	return out
}

func TestMacroRoundTrip(t *testing.T) {
	res := run(t, "#define ADD(a,b) ((a)+(b))\nX = ADD(1,2);\n", Options{})
	require.Len(t, res.Lines, 1)
	l := res.Lines[0]
	assert.Equal(t, "X = ((1)+(2));", l.Text)
	assert.Equal(t, 1, l.Number)
	require.Len(t, l.Macros, 1)
	assert.Equal(t, Span{4, 12}, l.Macros[0].Raw)

	inside := strings.Index(l.Text, "+")
	assert.Equal(t, 4, l.RawPos(inside, true))
	assert.Equal(t, 11, l.RawPos(inside, false))
	assert.Equal(t, ")", l.Raw[l.RawPos(inside, false):l.RawPos(inside, false)+1], "inside the call span")
	assert.Equal(t, 12, l.RawEnd(inside))
	assert.Equal(t, diag.Span(1, 4, 12), l.Range(inside, inside+1))
	assert.Equal(t, 2, l.RawPos(2, true), "before the call")
	semi := strings.LastIndex(l.Text, ";")
	assert.Equal(t, strings.LastIndex(l.Raw, ";"), l.RawPos(semi, true), "after the call")
	assert.Equal(t, "ADD", l.MacroAt(6).Macro.Name)
	assert.Nil(t, l.MacroAt(1))
}

func TestExpansion(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"object", "#define N 4\nv = <N>;", "v = <4>;"},
		{"stringize", "#define STR(x) #x\ns = STR(hello world);", `s = "hello world";`},
		{"paste", "#define CAT(a, b) a ## b\nCAT(foo, bar);", "foobar;"},
		{"variadic", "#define V(f, ...) f(__VA_ARGS__)\nV(g, 1, 2);", "g(1, 2);"},
		{"named variadic", "#define N(args...) h(args)\nN(a, b);", "h(a, b);"},
		{"empty call", "#define Z() 0\nz = <Z()>;", "z = <0>;"},
		{"argument expanded", "#define ONE 1\n#define ID(x) x\nID(ONE);", "1;"},
		{"pasted argument kept", "#define ONE 1\n#define T(x) x##_t\nT(ONE);", "ONE_t;"},
		{"nested", "#define A(x) B(x)\n#define B(x) [x]\nA(2);", "[2];"},
		{"self reference", "#define A B\n#define B A\nA;", "A;"},
		{"not a call", "#define F(x) x\nF;", "F;"},
		{"strings untouched", "#define N 4\ns = \"N\";", `s = "N";`},
		{"first define wins", "#define N 1\n#define N 2\nN;", "1;"},
		{"undef", "#define N 1\n#undef N\n#define N 2\nN;", "2;"},
		{"continuation", "#define LONG(a) \\\n  (a + 1)\nLONG(2);", "(2 + 1);"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := run(t, tt.text, Options{})
			assert.Empty(t, res.Diags)
			require.NotEmpty(t, res.Lines)
			assert.Equal(t, tt.want, strings.TrimSpace(res.Lines[len(res.Lines)-1].Text))
		})
	}
}

func TestArgumentCountMismatch(t *testing.T) {
	res := run(t, "#define F(a, b) a\nF(1);\n", Options{})
	assert.True(t, res.Diags.HasCode(CodeMacro))
	assert.Equal(t, []string{"F(1);"}, texts(res))
}

func TestExpansionDepthLimit(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 70; i++ {
		fmt.Fprintf(&b, "#define M%d M%d\n", i, i+1)
	}
	b.WriteString("v = M0;\n")
	res := run(t, b.String(), Options{})
	require.True(t, res.Diags.HasCode(CodeMacroDepth))
	assert.Equal(t, 70, res.Diags[0].Range.Start.Line)
	require.Len(t, res.Lines, 1)
}

func TestConditionals(t *testing.T) {
	text := `#ifdef FOO
foo;
#else
not_foo;
#endif
#ifndef BAR
no_bar;
#endif
#if defined(FOO) && (VAL > 2)
big;
#elif VAL == 3
never;
#else
small;
#endif
#if 0
#if 1
hidden;
#endif
#else
shown;
#endif
#if VAL == 1
one;
#elif VAL == 3
three;
#endif
`
	res := run(t, text, Options{Defines: map[string]string{"FOO": "", "VAL": "3"}})
	assert.Empty(t, res.Diags)
	assert.Equal(t, []string{"foo;", "no_bar;", "big;", "shown;", "three;"}, texts(res))
}

func TestConditionalErrors(t *testing.T) {
	res := run(t, "#endif\n#if 1\na;\n#else\n#else\n", Options{})
	var lines []int
	for _, d := range res.Diags {
		assert.Equal(t, CodeConditional, d.Code)
		lines = append(lines, d.Range.Start.Line)
	}
	assert.Equal(t, []int{0, 4, 1}, lines)
	assert.Equal(t, []string{"a;"}, texts(res))
}

func TestPropertiesAreNotDirectives(t *testing.T) {
	res := run(t, "#address-cells = <1>;\n#size-cells = <0>;\n", Options{})
	assert.Empty(t, res.Diags)
	assert.Equal(t, []string{"#address-cells = <1>;", "#size-cells = <0>;"}, texts(res))
}

func TestComments(t *testing.T) {
	res := run(t, "a = <1>; /* c\nstill */ b = <2>; // tail\nc = \"//x\";\n", Options{})
	require.Len(t, res.Lines, 3)
	assert.Equal(t, "a = <1>;", strings.TrimSpace(res.Lines[0].Text))
	assert.Equal(t, 9, strings.Index(res.Lines[1].Raw, "b"), "offsets survive blanking")
	assert.Equal(t, "b = <2>;", strings.TrimSpace(res.Lines[1].Text))
	assert.Equal(t, `c = "//x";`, res.Lines[2].Text)
}

func TestIncludes(t *testing.T) {
	fs := vfs.Memory{
		"/ws/a.dtsi":                  "#pragma once\na;\n",
		"/inc/dt-bindings/gpio.h":     "#define GPIO_ACTIVE_LOW 1\n",
		"/ws/nested/inner.dtsi":       "inner;\n",
		"/ws/nested/outer.dtsi":       "#include \"inner.dtsi\"\nouter;\n",
		"/inc/dt-bindings/unused.txt": "",
	}
	text := `#include "a.dtsi"
#include <dt-bindings/gpio.h>
#include "missing.h"
/include/ "nested/outer.dtsi"
#include "a.dtsi"
flags = <GPIO_ACTIVE_LOW>;
`
	res := run(t, text, Options{Reader: fs, IncludePaths: []string{"/inc"}})
	assert.Empty(t, res.Diags)
	assert.Equal(t, []string{"a;", "inner;", "outer;", "flags = <1>;"}, texts(res))
	assert.Equal(t, []string{"/ws/a.dtsi", "/inc/dt-bindings/gpio.h", "/ws/nested/outer.dtsi", "/ws/nested/inner.dtsi"}, res.Includes)
	assert.Equal(t, "/ws/nested/inner.dtsi", res.Lines[1].URI)
	assert.Equal(t, "/ws/board.dts", res.Lines[3].URI)
	assert.Equal(t, "/inc/dt-bindings/gpio.h", res.Defines["GPIO_ACTIVE_LOW"].Loc.URI)
}

func TestIncludeCycle(t *testing.T) {
	fs := vfs.Memory{
		"/ws/x.dtsi": "#include \"y.dtsi\"\nx;\n",
		"/ws/y.dtsi": "#include \"x.dtsi\"\ny;\n",
	}
	res := run(t, "#include \"x.dtsi\"\n", Options{Reader: fs})
	require.Len(t, res.Diags, 1)
	assert.Equal(t, CodeIncludeCycle, res.Diags[0].Code)
	assert.Equal(t, "/ws/y.dtsi", res.Diags[0].URI)
	assert.Equal(t, []string{"y;", "x;"}, texts(res))
}

func TestIncludeDepth(t *testing.T) {
	fs := vfs.Memory{
		"/ws/d1.dtsi": "#include \"d2.dtsi\"\nd1;\n",
		"/ws/d2.dtsi": "#include \"d3.dtsi\"\nd2;\n",
		"/ws/d3.dtsi": "d3;\n",
	}
	res := run(t, "#include \"d1.dtsi\"\n", Options{Reader: fs, MaxIncludeDepth: 2})
	assert.True(t, res.Diags.HasCode(CodeIncludeDepth))
	assert.Equal(t, []string{"d2;", "d1;"}, texts(res))
}

func TestUserDiagnostics(t *testing.T) {
	res := run(t, "#warning careful\n#if 0\n#error hidden\n#endif\n", Options{})
	require.Len(t, res.Diags, 1)
	assert.Equal(t, "#warning careful", res.Diags[0].Message)
}

func TestCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Preprocess(ctx, "/ws/board.dts", "a;\n", Options{Reader: vfs.Memory{}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEvalInt(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"1 + 2 * 3", 7},
		{"(1 << 4) | 1", 17},
		{"10 / 3", 3},
		{"10 % 3", 1},
		{"!0 && ~0", 1},
		{"0x10 + 010 + 0b11", 27},
		{"1UL << 3", 8},
		{"1 ? 2 : 3", 2},
		{"0 ? 2 : 3", 3},
		{"UNDEFINED", 0},
		{"-(2)", -2},
		{"'a'", 97},
		{"3 > 2 == 1", 1},
		{"1 - 2 - 3", -4},
	}
	for _, tt := range tests {
		got, err := EvalInt(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	for _, bad := range []string{"1 +", "(1", "1 / 0", "1 2", "@"} {
		_, err := EvalInt(bad)
		assert.Error(t, err, bad)
	}
}
