package preproc

import (
	"fmt"
	"strings"

	"github.com/robert-at-pretension-io/kconfig-dts/internal/diag"
)

// Define is a registered macro.
type Define struct {
	Name string
	// Params is nil for object-like macros. A variadic macro's last
	// parameter is "__VA_ARGS__" or the name given before "...".
	Params   []string
	Variadic bool
	Body     string
	Loc      diag.Location
}

// FunctionLike reports whether the macro takes arguments.
func (d *Define) FunctionLike() bool { return d.Params != nil }

func (d *Define) accepts(n int) bool {
	if d.Variadic {
		return n >= len(d.Params)-1
	}
	return n == len(d.Params)
}

func (d *Define) String() string {
	if !d.FunctionLike() {
		return fmt.Sprintf("#define %s %s", d.Name, d.Body)
	}
	params := make([]string, len(d.Params))
	copy(params, d.Params)
	if d.Variadic {
		last := len(params) - 1
		if params[last] == "__VA_ARGS__" {
			params[last] = "..."
		} else {
			params[last] += "..."
		}
	}
	return fmt.Sprintf("#define %s(%s) %s", d.Name, strings.Join(params, ", "), d.Body)
}

// Span is a half-open byte range within a line.
type Span struct {
	Start, End int
}

// MacroInstance records one top-level expansion on a line.
type MacroInstance struct {
	Macro *Define
	// Raw is the span of the macro call in Line.Raw.
	Raw Span
	// Expanded is the span of the replacement in Line.Text.
	Expanded Span
}

// Line is one output line of the preprocessor.
type Line struct {
	URI string
	// Number is the zero-based source line the text starts on. Lines joined
	// by a trailing backslash report the first one.
	Number int
	// Raw is the source text with comments blanked out, so offsets in Raw
	// are offsets in the source line.
	Raw string
	// Text is Raw after macro expansion.
	Text   string
	Macros []MacroInstance
}

// RawPos maps an offset in Text to an offset in Raw. Offsets inside an
// expansion map to the first character of the macro call when earliest is
// set, and to its last character otherwise.
func (l *Line) RawPos(offset int, earliest bool) int {
	if m := l.expansionAt(offset); m != nil {
		if earliest {
			return m.Raw.Start
		}
		return m.Raw.End - 1
	}
	return l.shifted(offset)
}

// RawEnd maps an exclusive end offset in Text to an exclusive end in Raw.
// An end inside an expansion covers the whole macro call.
func (l *Line) RawEnd(offset int) int {
	if m := l.expansionAt(offset); m != nil {
		return m.Raw.End
	}
	return l.shifted(offset)
}

// Range returns the source range of Text[start:end].
func (l *Line) Range(start, end int) diag.Range {
	return diag.Span(l.Number, l.RawPos(start, true), l.RawEnd(end))
}

func (l *Line) expansionAt(offset int) *MacroInstance {
	for i := range l.Macros {
		m := &l.Macros[i]
		if offset < m.Expanded.Start {
			return nil
		}
		if offset < m.Expanded.End {
			return m
		}
	}
	return nil
}

func (l *Line) shifted(offset int) int {
	shift := 0
	for _, m := range l.Macros {
		if offset < m.Expanded.End {
			break
		}
		shift = m.Raw.End - m.Expanded.End
	}
	return offset + shift
}

// MacroAt returns the expansion covering the raw offset, if any.
func (l *Line) MacroAt(rawOffset int) *MacroInstance {
	for i := range l.Macros {
		m := &l.Macros[i]
		if rawOffset >= m.Raw.Start && rawOffset < m.Raw.End {
			return m
		}
	}
	return nil
}
