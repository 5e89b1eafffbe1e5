package preproc

import (
	"bytes"
	"fmt"
	"slices"
	"strings"
)

type problem struct {
	code string
	msg  string
}

// expander performs macro expansion. Expansion of a macro hides it from
// its own replacement text, and nesting deeper than maxDepth stops with a
// problem instead of expanding further.
type expander struct {
	defines  map[string]*Define
	maxDepth int
	problems []problem
	overflow bool
}

func (x *expander) report(code, format string, args ...any) {
	x.problems = append(x.problems, problem{code: code, msg: fmt.Sprintf(format, args...)})
}

// take returns and clears the problems found since the last call.
func (x *expander) take() []problem {
	out := x.problems
	x.problems = nil
	x.overflow = false
	return out
}

// expand macro-expands s. hide lists the macros whose replacement s is
// part of. Top-level expansions are appended to record when it is non-nil.
func (x *expander) expand(s string, depth int, hide []string, record *[]MacroInstance) string {
	if len(x.defines) == 0 {
		return s
	}
	if depth > x.maxDepth {
		if !x.overflow {
			x.overflow = true
			x.report(CodeMacroDepth, "macro expansion deeper than %d levels", x.maxDepth)
		}
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == '"':
			j := skipQuoted(s, i)
			b.WriteString(s[i:j])
			i = j
			continue
		case c >= '0' && c <= '9':
			j := i + 1
			for j < len(s) && isIdentChar(s[j]) {
				j++
			}
			b.WriteString(s[i:j])
			i = j
			continue
		case !isIdentStart(c):
			b.WriteByte(c)
			i++
			continue
		}

		j := i + 1
		for j < len(s) && isIdentChar(s[j]) {
			j++
		}
		name := s[i:j]
		d := x.defines[name]
		if d == nil || slices.Contains(hide, name) {
			b.WriteString(name)
			i = j
			continue
		}

		end := j
		inner := append(slices.Clip(hide), name)
		var body string
		if d.FunctionLike() {
			args, argEnd, ok := splitArgs(s, j)
			if !ok {
				// A function-like macro name without arguments is not a call.
				b.WriteString(name)
				i = j
				continue
			}
			if len(args) == 1 && strings.TrimSpace(args[0]) == "" && len(d.Params) == 0 {
				args = nil
			}
			if !d.accepts(len(args)) {
				x.report(CodeMacro, "macro %s expects %d arguments, got %d", name, len(d.Params), len(args))
				b.WriteString(name)
				i = j
				continue
			}
			end = argEnd
			body = x.substitute(d, args, depth, hide)
		} else {
			body = d.Body
		}

		out := x.expand(body, depth+1, inner, nil)
		start := b.Len()
		b.WriteString(out)
		if record != nil {
			*record = append(*record, MacroInstance{
				Macro:    d,
				Raw:      Span{Start: i, End: end},
				Expanded: Span{Start: start, End: b.Len()},
			})
		}
		i = end
	}
	return b.String()
}

// substitute replaces the parameters of d in its body. Arguments are
// expanded first unless they are operands of # or ##.
func (x *expander) substitute(d *Define, args []string, depth int, hide []string) string {
	values := make(map[string]string, len(d.Params))
	for i, p := range d.Params {
		switch {
		case d.Variadic && i == len(d.Params)-1:
			if i < len(args) {
				values[p] = strings.TrimSpace(strings.Join(args[i:], ","))
			} else {
				values[p] = ""
			}
		default:
			values[p] = strings.TrimSpace(args[i])
		}
	}

	toks := lexBody(d.Body)
	var out []byte
	paste := false
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		switch {
		case t == "##":
			out = bytes.TrimRight(out, " \t")
			paste = true
			continue
		case paste && isBlank(t):
			continue
		case t == "#":
			if j := nextSolid(toks, i+1); j < len(toks) {
				if v, ok := values[toks[j]]; ok {
					out = append(out, stringize(v)...)
					i = j
					paste = false
					continue
				}
			}
		}
		if v, ok := values[t]; ok {
			if !paste && !pastedNext(toks, i) {
				v = x.expand(v, depth+1, hide, nil)
			}
			out = append(out, v...)
		} else {
			out = append(out, t...)
		}
		paste = false
	}
	return string(out)
}

// splitArgs reads a parenthesised argument list starting at or after s[i].
// It returns the raw arguments and the offset after the closing paren.
func splitArgs(s string, i int) ([]string, int, bool) {
	for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
		i++
	}
	if i >= len(s) || s[i] != '(' {
		return nil, 0, false
	}
	var args []string
	depth := 0
	start := i + 1
	for j := i + 1; j < len(s); j++ {
		switch s[j] {
		case '"', '\'':
			j = skipQuoted(s, j) - 1
		case '(':
			depth++
		case ')':
			if depth == 0 {
				return append(args, s[start:j]), j + 1, true
			}
			depth--
		case ',':
			if depth == 0 {
				args = append(args, s[start:j])
				start = j + 1
			}
		}
	}
	return nil, 0, false
}

// lexBody splits a macro body into identifiers, numbers, literals, runs of
// blanks, "##" and single characters.
func lexBody(s string) []string {
	var toks []string
	for i := 0; i < len(s); {
		j := i + 1
		switch c := s[i]; {
		case c == '"' || c == '\'':
			j = skipQuoted(s, i)
		case isIdentChar(c):
			for j < len(s) && isIdentChar(s[j]) {
				j++
			}
		case c == ' ' || c == '\t':
			for j < len(s) && (s[j] == ' ' || s[j] == '\t') {
				j++
			}
		case c == '#' && j < len(s) && s[j] == '#':
			j++
		}
		toks = append(toks, s[i:j])
		i = j
	}
	return toks
}

func nextSolid(toks []string, i int) int {
	for i < len(toks) && isBlank(toks[i]) {
		i++
	}
	return i
}

func pastedNext(toks []string, i int) bool {
	j := nextSolid(toks, i+1)
	return j < len(toks) && toks[j] == "##"
}

func isBlank(t string) bool {
	return strings.Trim(t, " \t") == ""
}

func stringize(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	return `"` + strings.ReplaceAll(v, `"`, `\"`) + `"`
}

func isIdentStart(c byte) bool {
	return c == '_' || 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z'
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || '0' <= c && c <= '9'
}

// skipQuoted returns the offset after the literal that starts at s[i].
func skipQuoted(s string, i int) int {
	q := s[i]
	for j := i + 1; j < len(s); j++ {
		switch s[j] {
		case '\\':
			j++
		case q:
			return j + 1
		}
	}
	return len(s)
}
