// Package propfile reads Kconfig override files (".config", "prj.conf")
// and lints them against a parsed repository.
package propfile

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/robert-at-pretension-io/kconfig-dts/internal/diag"
	"github.com/robert-at-pretension-io/kconfig-dts/internal/kconfig/expr"
	"github.com/robert-at-pretension-io/kconfig-dts/internal/vfs"
)

// Prefix starts every symbol name in an override file.
const Prefix = "CONFIG_"

var (
	setPattern   = regexp.MustCompile(`^\s*CONFIG_([A-Za-z0-9_]+)\s*=\s*(.*?)\s*$`)
	unsetPattern = regexp.MustCompile(`^\s*#\s*CONFIG_([A-Za-z0-9_]+) is not set\s*$`)
)

// Assignment is one override line.
type Assignment struct {
	Name string
	// Raw is the text after "=", or "n" for "is not set" lines.
	Raw   string
	Value expr.Value
	Unset bool
	Line  int
	// Quoted is set when Raw was a string literal.
	Quoted bool
}

// Range returns the span of the whole assignment line.
func (a *Assignment) Range() diag.Range {
	return diag.LineRange(a.Line, a.Line)
}

// File is a parsed override file. It may be updated while a lint pass is
// running on another goroutine; the pass then returns ErrStale.
type File struct {
	URI string

	mu          sync.Mutex
	text        string
	assignments []*Assignment
	diags       diag.List
	version     atomic.Int64

	// beforeCheck runs before each assignment is linted.
	beforeCheck func(*Assignment)
}

// Parse parses an override file.
func Parse(uri, text string) *File {
	f := &File{URI: uri}
	f.Update(text)
	return f
}

// Update replaces the file contents and bumps the version.
func (f *File) Update(text string) {
	assignments, diags := parseLines(vfs.Lines(text))
	f.mu.Lock()
	f.text = text
	f.assignments = assignments
	f.diags = diags
	f.mu.Unlock()
	f.version.Add(1)
}

// Version increases with every Update.
func (f *File) Version() int64 { return f.version.Load() }

// Text returns the current contents.
func (f *File) Text() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.text
}

// Assignments returns the parsed lines in file order.
func (f *File) Assignments() []*Assignment {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.assignments
}

// Diagnostics returns the syntax diagnostics.
func (f *File) Diagnostics() diag.List {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.diags.WithURI(f.URI)
}

// Overrides returns the effective override set. A later assignment to the
// same symbol wins.
func (f *File) Overrides() map[string]expr.Value {
	return overrides(f.Assignments())
}

// Lookup returns the effective assignment for name.
func (f *File) Lookup(name string) (*Assignment, bool) {
	as := f.Assignments()
	for i := len(as) - 1; i >= 0; i-- {
		if as[i].Name == name {
			return as[i], true
		}
	}
	return nil, false
}

func overrides(as []*Assignment) map[string]expr.Value {
	out := make(map[string]expr.Value, len(as))
	for _, a := range as {
		out[a.Name] = a.Value
	}
	return out
}

// CodeSyntax marks lines that are not assignments.
const CodeSyntax = "kconfig.override.syntax"

func parseLines(lines []string) ([]*Assignment, diag.List) {
	var (
		out   []*Assignment
		diags diag.List
	)
	for i, line := range lines {
		if m := unsetPattern.FindStringSubmatch(line); m != nil {
			out = append(out, &Assignment{Name: m[1], Raw: "n", Value: expr.Bool(false), Unset: true, Line: i})
			continue
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		m := setPattern.FindStringSubmatch(line)
		if m == nil {
			diags.Error(diag.LineRange(i, i), CodeSyntax, fmt.Sprintf("expected %sNAME=value", Prefix))
			continue
		}
		a := &Assignment{Name: m[1], Raw: m[2], Line: i}
		v, quoted, err := parseValue(m[2])
		if err != nil {
			diags.Error(diag.LineRange(i, i), CodeSyntax, err.Error())
			continue
		}
		a.Value, a.Quoted = v, quoted
		out = append(out, a)
	}
	return out, diags
}

// parseValue reads the right-hand side of an assignment.
func parseValue(raw string) (expr.Value, bool, error) {
	switch raw {
	case "":
		return expr.Value{}, false, fmt.Errorf("missing value")
	case "y", "m":
		return expr.Bool(true), false, nil
	case "n":
		return expr.Bool(false), false, nil
	}
	if raw[0] == '"' {
		if len(raw) < 2 || raw[len(raw)-1] != '"' {
			return expr.Value{}, false, fmt.Errorf("unterminated string %s", raw)
		}
		return expr.String(unescape(raw[1 : len(raw)-1])), true, nil
	}
	if n, ok := expr.ParseNumber(raw); ok {
		return expr.Number(n), false, nil
	}
	return expr.String(raw), false, nil
}

func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// FormatAssignment renders a boolean proposal as an override line.
func FormatAssignment(name string, value bool) string {
	if value {
		return Prefix + name + "=y"
	}
	return Prefix + name + "=n"
}

// ApplyFix returns text with the fix applied: assignments to symbols that
// already have a line replace it, the rest are appended.
func ApplyFix(text string, fix Fix) string {
	lines := vfs.Lines(text)
	assigned := map[string]int{}
	for i, l := range lines {
		if m := setPattern.FindStringSubmatch(l); m != nil {
			assigned[m[1]] = i
		} else if m := unsetPattern.FindStringSubmatch(l); m != nil {
			assigned[m[1]] = i
		}
	}
	var appended []string
	for _, p := range fix.Assignments {
		line := FormatAssignment(p.Name, p.Value)
		if i, ok := assigned[p.Name]; ok {
			lines[i] = line
			continue
		}
		appended = append(appended, line)
	}
	lines = append(lines, appended...)
	return strings.Join(lines, "\n") + "\n"
}
