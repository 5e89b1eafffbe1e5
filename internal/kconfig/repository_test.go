package kconfig

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robert-at-pretension-io/kconfig-dts/internal/kconfig/expr"
	"github.com/robert-at-pretension-io/kconfig-dts/internal/vfs"
)

const rootKconfig = `mainmenu "Test"

config A
    bool "A"
    default y

config B
    bool "B"

config C
    bool
    select D if A

config D
    bool "D"
    depends on A

if A
source "sub/Kconfig"
endif

choice MODE
    prompt "Mode"
    default MODE_FAST

config MODE_SLOW
    bool "slow"

config MODE_FAST
    bool "fast"

endchoice

config NUM
    int "num"
    range 0 100
    default 32 if A
    default 8

config ADDR
    hex "addr"
    default 0x1000

config NAME
    string "name"
    default "board"
    help
      Board name.

      Second paragraph.

config AFTER
    bool "after help"
`

const subKconfig = `config SUB
    bool "sub"
    default y
    select B
`

func newTestRepo(t *testing.T, files vfs.Memory) *Repository {
	t.Helper()
	r := New(Options{File: "/ws/Kconfig", Reader: files})
	require.NoError(t, r.Parse(context.Background()))
	return r
}

func testFiles() vfs.Memory {
	return vfs.Memory{
		"/ws/Kconfig":     rootKconfig,
		"/ws/sub/Kconfig": subKconfig,
	}
}

func lineOf(t *testing.T, text, needle string) int {
	t.Helper()
	for i, l := range strings.Split(text, "\n") {
		if strings.HasPrefix(strings.TrimSpace(l), needle) {
			return i
		}
	}
	t.Fatalf("%q not found", needle)
	return -1
}

// snapshot captures entry spans and evaluated values for every symbol.
func snapshot(r *Repository, overrides map[string]expr.Value) map[string]string {
	ctx := r.NewEvalContext(overrides)
	out := map[string]string{}
	for _, c := range r.ConfigList() {
		var spans []string
		for _, e := range c.Entries {
			spans = append(spans, fmt.Sprintf("%s:%d-%d", e.File.URI, e.Lines.Start, e.Lines.End))
		}
		out[c.Name] = fmt.Sprintf("%v %s", spans, c.Evaluate(ctx))
	}
	return out
}

func value(r *Repository, overrides map[string]expr.Value, name string) expr.Value {
	return r.Config(name).Evaluate(r.NewEvalContext(overrides))
}

func TestParseBuildsSymbols(t *testing.T) {
	r := newTestRepo(t, testFiles())

	assert.Empty(t, r.Diagnostics())
	assert.Equal(t, "Test", r.MainMenu)
	assert.Len(t, r.ConfigList(), 11)

	num := r.Config("NUM")
	require.NotNil(t, num)
	assert.Equal(t, TypeInt, num.Type())
	assert.Equal(t, "num", num.Text())
	assert.Len(t, num.Defaults(), 2)
	assert.Equal(t, []RangeSpec{{Min: "0", Max: "100", Line: lineOf(t, rootKconfig, "range 0 100")}}, num.Ranges())

	name := r.Config("NAME")
	assert.Equal(t, "Board name.\n\nSecond paragraph.", name.Help())
	assert.Equal(t, lineOf(t, rootKconfig, "Second paragraph."), name.Entries[0].Lines.End)
	assert.NotNil(t, r.Config("AFTER"), "help block must end at the next config")

	sub := r.Config("SUB")
	require.NotNil(t, sub)
	assert.Equal(t, "/ws/sub/Kconfig", sub.Entries[0].File.URI)
	scope := r.Scope(sub.Entries[0].Scope)
	assert.Equal(t, ScopeIf, scope.Kind)
	assert.Equal(t, "A", scope.Cond)
	assert.Equal(t, "/ws/Kconfig", scope.File.URI)
}

func TestEvaluateRuleOrder(t *testing.T) {
	r := newTestRepo(t, testFiles())

	tests := []struct {
		name      string
		overrides map[string]expr.Value
		symbol    string
		want      expr.Value
	}{
		{"default", nil, "A", expr.Bool(true)},
		{"selected by included symbol", nil, "B", expr.Bool(true)},
		{"override beats select", map[string]expr.Value{"B": expr.Bool(false)}, "B", expr.Bool(false)},
		{"no prompt no default", nil, "C", expr.Bool(false)},
		{"conditional select inactive", nil, "D", expr.Bool(false)},
		{"conditional select active", map[string]expr.Value{"C": expr.Bool(true)}, "D", expr.Bool(true)},
		{"dependency gate", map[string]expr.Value{"A": expr.Bool(false), "C": expr.Bool(true)}, "D", expr.Bool(false)},
		{"scope gate", map[string]expr.Value{"A": expr.Bool(false)}, "SUB", expr.Bool(false)},
		{"select source disabled", map[string]expr.Value{"A": expr.Bool(false)}, "B", expr.Bool(false)},
		{"choice default", nil, "MODE_FAST", expr.Bool(true)},
		{"choice non member", nil, "MODE_SLOW", expr.Bool(false)},
		{"choice override", map[string]expr.Value{"MODE_SLOW": expr.Bool(true)}, "MODE_FAST", expr.Bool(false)},
		{"conditional default", nil, "NUM", expr.Number(32)},
		{"fallback default", map[string]expr.Value{"A": expr.Bool(false)}, "NUM", expr.Number(8)},
		{"hex default", nil, "ADDR", expr.Number(0x1000)},
		{"string default", nil, "NAME", expr.String("board")},
		{"int override coerced", map[string]expr.Value{"NUM": expr.String("0x20")}, "NUM", expr.Number(32)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, value(r, tt.overrides, tt.symbol))
		})
	}
}

func TestEvalContextMemoizes(t *testing.T) {
	r := newTestRepo(t, testFiles())
	ctx := r.NewEvalContext(nil)
	first := r.Config("B").Evaluate(ctx)
	_, cached := ctx.values["B"]
	assert.True(t, cached)
	assert.Equal(t, first, r.Config("B").Evaluate(ctx))
}

func TestDependencyCycleTerminates(t *testing.T) {
	r := newTestRepo(t, vfs.Memory{"/ws/Kconfig": `
config X
    bool "x"
    depends on Y
    default y

config Y
    bool "y"
    depends on X
    default y
`})
	assert.False(t, value(r, nil, "X").Truth())
}

func TestReparseIdempotent(t *testing.T) {
	files := testFiles()
	r := newTestRepo(t, files)
	before := snapshot(r, nil)

	require.NoError(t, r.Parse(context.Background()))
	assert.Equal(t, before, snapshot(r, nil))

	r.OnDidChange(context.Background(), "/ws/Kconfig", Edit{})
	assert.Equal(t, before, snapshot(r, nil))
	assert.Len(t, r.Files(), 2)
}

func TestIncrementalBelowInclude(t *testing.T) {
	files := testFiles()
	r := newTestRepo(t, files)
	sub := r.File().Inclusions[0].File

	line := lineOf(t, rootKconfig, "default 8")
	files["/ws/Kconfig"] = strings.Replace(rootKconfig, "default 8", "default 16", 1)
	r.OnDidChange(context.Background(), "/ws/Kconfig", Edit{Line: line, Removed: 1, Added: 1})

	assert.Same(t, sub, r.File().Inclusions[0].File, "include above the edit is reused")
	fresh := newTestRepo(t, files)
	assert.Equal(t, snapshot(fresh, nil), snapshot(r, nil))
	assert.Equal(t, expr.Number(16), value(r, map[string]expr.Value{"A": expr.Bool(false)}, "NUM"))
}

func TestIncrementalAboveInclude(t *testing.T) {
	files := testFiles()
	r := newTestRepo(t, files)
	sub := r.File().Inclusions[0].File
	ifScope := r.Scope(r.Config("SUB").Entries[0].Scope)

	files["/ws/Kconfig"] = "# leading comment\n" + rootKconfig
	r.OnDidChange(context.Background(), "/ws/Kconfig", Edit{Line: 0, Added: 1})

	assert.Same(t, sub, r.File().Inclusions[0].File, "structurally matching include is reused")
	assert.Equal(t, lineOf(t, rootKconfig, "source")+1, sub.Line)
	assert.Same(t, ifScope, r.Scope(r.Config("SUB").Entries[0].Scope), "scope keeps its identity")
	assert.Equal(t, snapshot(newTestRepo(t, files), nil), snapshot(r, nil))
}

func TestIncrementalIncludedFile(t *testing.T) {
	files := testFiles()
	r := newTestRepo(t, files)

	files["/ws/sub/Kconfig"] = strings.Replace(subKconfig, "default y", "default n", 1)
	r.OnDidChange(context.Background(), "/ws/sub/Kconfig", Edit{Line: 2, Removed: 1, Added: 1})

	assert.False(t, value(r, nil, "B").Truth())
	assert.Equal(t, snapshot(newTestRepo(t, files), nil), snapshot(r, nil))
}

func TestIncrementalRemovesInclude(t *testing.T) {
	files := testFiles()
	r := newTestRepo(t, files)

	files["/ws/Kconfig"] = strings.Replace(rootKconfig, `source "sub/Kconfig"`, "", 1)
	r.OnDidChange(context.Background(), "/ws/Kconfig", Edit{Line: lineOf(t, rootKconfig, "source"), Removed: 1, Added: 1})

	assert.Nil(t, r.Config("SUB"), "symbols of a dropped include are collected")
	assert.Empty(t, r.File().Inclusions)
	assert.Equal(t, snapshot(newTestRepo(t, files), nil), snapshot(r, nil))
}

func TestSharedScopeKeepsOtherFiles(t *testing.T) {
	files := testFiles()
	r := newTestRepo(t, files)
	ifScope := r.Scope(r.Config("SUB").Entries[0].Scope)

	files["/ws/Kconfig"] = strings.Replace(rootKconfig, "\nif A\n", "\nif A\nconfig LOCAL\n    bool \"local\"\n", 1)
	r.OnDidChange(context.Background(), "/ws/Kconfig", Edit{Line: lineOf(t, rootKconfig, "if A") + 1, Added: 2})

	var names []string
	for _, e := range ifScope.Entries() {
		names = append(names, e.Config.Name)
	}
	assert.Equal(t, []string{"LOCAL", "SUB"}, names)
}

const siblingKconfig = `config A
    bool "A"
    default y

choice
    prompt "first"
    default A2

config A1
    bool "a1"

config A2
    bool "a2"

endchoice

choice
    prompt "second"
    default B2

config B1
    bool "b1"

config B2
    bool "b2"

endchoice

if A
config IN_FIRST
    bool "in first"
endif

if A
config IN_SECOND
    bool "in second"
endif
`

func scopesOf(r *Repository, kind ScopeKind) []*Scope {
	var out []*Scope
	for _, s := range r.Scopes() {
		if s.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}

func TestSameKindSiblingScopesStayApart(t *testing.T) {
	r := newTestRepo(t, vfs.Memory{"/ws/Kconfig": siblingKconfig})

	choices := scopesOf(r, ScopeChoice)
	require.Len(t, choices, 2)
	assert.Len(t, choices[0].Entries(), 2)
	assert.Len(t, choices[1].Entries(), 2)

	assert.True(t, value(r, nil, "A2").Truth())
	assert.True(t, value(r, nil, "B2").Truth())
	assert.False(t, value(r, nil, "A1").Truth())
	assert.False(t, value(r, nil, "B1").Truth())
	assert.True(t, value(r, map[string]expr.Value{"B1": expr.Bool(true)}, "A2").Truth(), "choices do not share a selection")

	ifs := scopesOf(r, ScopeIf)
	require.Len(t, ifs, 2)
	assert.Equal(t, lineOf(t, siblingKconfig, "config IN_FIRST")-1, ifs[0].Lines.Start)
	assert.Less(t, ifs[0].Lines.End, ifs[1].Lines.Start)
	assert.NotEqual(t, r.Config("IN_FIRST").Entries[0].Scope, r.Config("IN_SECOND").Entries[0].Scope)
}

func TestIncrementalEditOfSecondSibling(t *testing.T) {
	files := vfs.Memory{"/ws/Kconfig": siblingKconfig}
	r := newTestRepo(t, files)
	choices := scopesOf(r, ScopeChoice)
	require.Len(t, choices, 2)

	files["/ws/Kconfig"] = strings.Replace(siblingKconfig, "default B2", "default B1", 1)
	r.OnDidChange(context.Background(), "/ws/Kconfig", Edit{Line: lineOf(t, siblingKconfig, "default B2"), Removed: 1, Added: 1})

	after := scopesOf(r, ScopeChoice)
	require.Len(t, after, 2)
	assert.Same(t, choices[0], after[0])
	assert.Same(t, choices[1], after[1])
	assert.True(t, value(r, nil, "A2").Truth())
	assert.True(t, value(r, nil, "B1").Truth())
	assert.False(t, value(r, nil, "B2").Truth())
	assert.Equal(t, snapshot(newTestRepo(t, files), nil), snapshot(r, nil))
}

func TestParseDiagnostics(t *testing.T) {
	tests := []struct {
		name string
		text string
		code string
	}{
		{"unterminated if", "if A\nconfig X\n    bool \"x\"\n", CodeUnterminated},
		{"stray endmenu", "endmenu\n", CodeSyntax},
		{"mismatched end", "menu \"m\"\nendif\nendmenu\n", CodeSyntax},
		{"bad expression", "config X\n    bool \"x\"\n    depends on A &&\n", CodeExpression},
		{"missing include", "source \"nope/Kconfig\"\n", CodeInclude},
		{"unknown attribute", "config X\n    frobnicate\n", CodeSyntax},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRepo(t, vfs.Memory{"/ws/Kconfig": tt.text})
			assert.True(t, r.Diagnostics().HasCode(tt.code), "%v", r.Diagnostics())
		})
	}
}

func TestUnterminatedScopeKeepsParsing(t *testing.T) {
	r := newTestRepo(t, vfs.Memory{"/ws/Kconfig": "menu \"m\"\nconfig X\n    bool \"x\"\nconfig Y\n    bool \"y\"\n"})
	assert.NotNil(t, r.Config("X"))
	assert.NotNil(t, r.Config("Y"))
	assert.True(t, r.Diagnostics().HasCode(CodeUnterminated))
}

func TestOptionalSourceIsSilent(t *testing.T) {
	r := newTestRepo(t, vfs.Memory{"/ws/Kconfig": "osource \"missing/Kconfig\"\n"})
	assert.Empty(t, r.Diagnostics())
}

func TestRecursiveSourceIsDiagnosed(t *testing.T) {
	r := newTestRepo(t, vfs.Memory{
		"/ws/Kconfig":   "source \"a/Kconfig\"\n",
		"/ws/a/Kconfig": "config A\n    bool \"a\"\nsource \"Kconfig\"\n",
	})
	assert.True(t, r.Diagnostics().HasCode(CodeInclude))
	assert.Len(t, r.Files(), 2)
}

func TestSourceSubstitutesEnv(t *testing.T) {
	files := vfs.Memory{
		"/ws/Kconfig":              "BOARD_DIR := boards/$(BOARD)\nsource \"$(BOARD_DIR)/Kconfig\"\nrsource \"local/Kconfig\"\n",
		"/ws/boards/nrf/Kconfig":   "config BOARD_NRF\n    def_bool y\n",
		"/ws/local/Kconfig":        "config LOCAL\n    bool \"local\"\n",
		"/ws/boards/other/Kconfig": "config BOARD_OTHER\n    def_bool y\n",
	}
	r := New(Options{File: "/ws/Kconfig", Reader: files, Env: map[string]string{"BOARD": "nrf"}})
	require.NoError(t, r.Parse(context.Background()))

	assert.Empty(t, r.Diagnostics())
	assert.NotNil(t, r.Config("BOARD_NRF"))
	assert.NotNil(t, r.Config("LOCAL"))
	assert.Nil(t, r.Config("BOARD_OTHER"))
	assert.Equal(t, "boards/nrf", r.File().Inclusions[0].File.Env["BOARD_DIR"])
}

func TestParsedFileMatch(t *testing.T) {
	a := &ParsedFile{URI: "/ws/x", ScopeKey: "root/if:A", Env: map[string]string{"K": "v"}}
	b := &ParsedFile{URI: "/ws/x", ScopeKey: "root/if:A", Env: map[string]string{"K": "v"}}
	assert.True(t, a.Match(b))
	b.Env["K"] = "w"
	assert.False(t, a.Match(b))
	b.Env["K"] = "v"
	b.ScopeKey = "root/menu:M"
	assert.False(t, a.Match(b))
}

func TestCheck(t *testing.T) {
	r := newTestRepo(t, vfs.Memory{"/ws/Kconfig": `
config UNTYPED
    prompt "untyped"

config S
    string "s"

config SEL
    bool "sel"
    select S
    depends on GHOST

choice
    prompt "empty"
endchoice
`})
	diags := r.Check()
	assert.True(t, diags.HasCode(CodeMissingType))
	assert.True(t, diags.HasCode(CodeSelectNonBool))
	assert.True(t, diags.HasCode(CodeUnknownSymbol))
	assert.True(t, diags.HasCode(CodeEmptyChoice))
}

func TestVisible(t *testing.T) {
	r := newTestRepo(t, vfs.Memory{"/ws/Kconfig": `
config A
    bool "a"

menu "m"
    visible if A

config B
    bool "b"

endmenu

config C
    bool "c" if A
`})
	ctx := r.NewEvalContext(nil)
	assert.False(t, r.Config("B").Visible(ctx))
	assert.False(t, r.Config("C").Visible(ctx))

	ctx = r.NewEvalContext(map[string]expr.Value{"A": expr.Bool(true)})
	assert.True(t, r.Config("B").Visible(ctx))
	assert.True(t, r.Config("C").Visible(ctx))
}
