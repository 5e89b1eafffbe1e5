// Package preproc implements the subset of the C preprocessor that
// devicetree sources use: conditionals, object- and function-like macros,
// textual includes and #pragma once. Every output line keeps a map from
// expanded offsets back to source offsets.
package preproc

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/robert-at-pretension-io/kconfig-dts/internal/ctxlog"
	"github.com/robert-at-pretension-io/kconfig-dts/internal/diag"
	"github.com/robert-at-pretension-io/kconfig-dts/internal/vfs"
)

// Default limits.
const (
	DefaultMaxExpansionDepth = 64
	DefaultMaxIncludeDepth   = 32
)

// Diagnostic codes.
const (
	CodeDirective    = "dts.preproc.directive"
	CodeConditional  = "dts.preproc.conditional"
	CodeMacro        = "dts.preproc.macro"
	CodeMacroDepth   = "dts.preproc.macro-depth"
	CodeIncludeDepth = "dts.preproc.include-depth"
	CodeIncludeCycle = "dts.preproc.include-cycle"
	CodeUser         = "dts.preproc.user"
)

var tracer = otel.Tracer("kdts.preproc")

var (
	directivePattern  = regexp.MustCompile(`^\s*#\s*([a-z]+)(.*)$`)
	dtsIncludePattern = regexp.MustCompile(`^\s*/include/\s*("[^"]*")\s*$`)
	definePattern     = regexp.MustCompile(`^([A-Za-z_]\w*)(\(([^)]*)\))?\s*(.*?)\s*$`)
	definedPattern    = regexp.MustCompile(`\bdefined\s*(?:\(\s*([A-Za-z_]\w*)\s*\)|([A-Za-z_]\w*))`)
	identPattern      = regexp.MustCompile(`^[A-Za-z_]\w*$`)
)

var directives = map[string]bool{
	"define": true, "undef": true, "include": true,
	"if": true, "ifdef": true, "ifndef": true, "elif": true, "else": true, "endif": true,
	"pragma": true, "error": true, "warning": true, "line": true,
}

// Options configures a run.
type Options struct {
	Reader vfs.Reader
	// Defines are predefined object-like macros, as with -D.
	Defines map[string]string
	// IncludePaths are searched after the including file's directory.
	IncludePaths      []string
	MaxExpansionDepth int
	MaxIncludeDepth   int
}

// Result is the preprocessed output of one root file.
type Result struct {
	Lines   []Line
	Defines map[string]*Define
	// Includes lists every included URI once, in first-seen order.
	Includes []string
	Diags    diag.List
}

type cond struct {
	active bool
	// parent is whether the enclosing region is active.
	parent  bool
	taken   bool
	sawElse bool
	line    int
}

type state struct {
	ctx  context.Context
	opts Options
	res  *Result
	x    *expander
	once map[string]bool
	seen map[string]bool
}

// Preprocess runs the preprocessor over text, the contents of uri. The only
// error is ctx's; problems in the input become diagnostics and missing
// includes are skipped.
func Preprocess(ctx context.Context, uri, text string, opts Options) (*Result, error) {
	ctx, span := tracer.Start(ctx, "preproc.Preprocess", trace.WithAttributes(attribute.String("dts.uri", uri)))
	defer span.End()

	if opts.Reader == nil {
		opts.Reader = vfs.Disk{}
	}
	if opts.MaxExpansionDepth <= 0 {
		opts.MaxExpansionDepth = DefaultMaxExpansionDepth
	}
	if opts.MaxIncludeDepth <= 0 {
		opts.MaxIncludeDepth = DefaultMaxIncludeDepth
	}
	res := &Result{Defines: make(map[string]*Define)}
	for name, body := range opts.Defines {
		res.Defines[name] = &Define{Name: name, Body: body}
	}
	s := &state{
		ctx:  ctx,
		opts: opts,
		res:  res,
		x:    &expander{defines: res.Defines, maxDepth: opts.MaxExpansionDepth},
		once: make(map[string]bool),
		seen: make(map[string]bool),
	}
	uri = vfs.Canonical(uri)
	if err := s.file(uri, text, []string{uri}); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("dts.lines", len(res.Lines)), attribute.Int("dts.includes", len(res.Includes)))
	return res, nil
}

func (s *state) report(uri string, line int, sev diag.Severity, code, msg string) {
	s.res.Diags = append(s.res.Diags, diag.Diagnostic{
		URI:      uri,
		Range:    diag.LineRange(line, line),
		Severity: sev,
		Code:     code,
		Message:  msg,
		Source:   "dts",
	})
}

func (s *state) flush(uri string, line int) {
	for _, p := range s.x.take() {
		sev := diag.SeverityWarning
		if p.code == CodeMacroDepth {
			sev = diag.SeverityError
		}
		s.report(uri, line, sev, p.code, p.msg)
	}
}

func (s *state) file(uri, text string, chain []string) error {
	lines := vfs.Lines(text)
	var (
		conds     []*cond
		inComment bool
	)
	active := func() bool { return len(conds) == 0 || conds[len(conds)-1].active }

	for i := 0; i < len(lines); i++ {
		if err := s.ctx.Err(); err != nil {
			return err
		}
		start := i
		var raw string
		raw, inComment = stripComments(lines[i], inComment)
		for continued(raw) && i+1 < len(lines) {
			i++
			var next string
			next, inComment = stripComments(lines[i], inComment)
			raw = strings.TrimRight(raw, " \t")
			raw = raw[:len(raw)-1] + next
		}

		if m := directivePattern.FindStringSubmatch(raw); m != nil && isDirective(m[1], m[2]) {
			name, arg := m[1], strings.TrimSpace(m[2])
			switch name {
			case "if", "ifdef", "ifndef":
				parent := active()
				c := &cond{parent: parent, line: start}
				if parent {
					c.active = s.condition(uri, start, name, arg)
					c.taken = c.active
				}
				conds = append(conds, c)
			case "elif":
				if len(conds) == 0 {
					s.report(uri, start, diag.SeverityError, CodeConditional, "#elif without #if")
					continue
				}
				c := conds[len(conds)-1]
				if c.sawElse {
					s.report(uri, start, diag.SeverityError, CodeConditional, "#elif after #else")
				}
				c.active = false
				if c.parent && !c.taken {
					c.active = s.condition(uri, start, "if", arg)
					c.taken = c.active
				}
			case "else":
				if len(conds) == 0 {
					s.report(uri, start, diag.SeverityError, CodeConditional, "#else without #if")
					continue
				}
				c := conds[len(conds)-1]
				if c.sawElse {
					s.report(uri, start, diag.SeverityError, CodeConditional, "duplicate #else")
				}
				c.active = c.parent && !c.taken
				c.taken = true
				c.sawElse = true
			case "endif":
				if len(conds) == 0 {
					s.report(uri, start, diag.SeverityError, CodeConditional, "#endif without #if")
					continue
				}
				conds = conds[:len(conds)-1]
			default:
				if !active() {
					continue
				}
				if err := s.directive(uri, start, name, arg, chain); err != nil {
					return err
				}
			}
			continue
		}
		if !active() {
			continue
		}
		if m := dtsIncludePattern.FindStringSubmatch(raw); m != nil {
			if err := s.include(uri, start, m[1], chain); err != nil {
				return err
			}
			continue
		}

		line := Line{URI: uri, Number: start, Raw: raw}
		line.Text = s.x.expand(raw, 0, nil, &line.Macros)
		s.flush(uri, start)
		s.res.Lines = append(s.res.Lines, line)
	}

	for _, c := range conds {
		s.report(uri, c.line, diag.SeverityError, CodeConditional, "unterminated conditional")
	}
	return nil
}

// isDirective tells preprocessor directives from devicetree properties
// such as "#address-cells".
func isDirective(name, rest string) bool {
	if !directives[name] {
		return false
	}
	return rest == "" || strings.ContainsRune(" \t\"<(", rune(rest[0]))
}

func (s *state) directive(uri string, line int, name, arg string, chain []string) error {
	switch name {
	case "define":
		s.define(uri, line, arg)
	case "undef":
		delete(s.res.Defines, strings.TrimSpace(arg))
	case "include":
		return s.include(uri, line, arg, chain)
	case "pragma":
		if arg == "once" {
			s.once[uri] = true
		}
	case "error":
		s.report(uri, line, diag.SeverityError, CodeUser, "#error "+arg)
	case "warning":
		s.report(uri, line, diag.SeverityWarning, CodeUser, "#warning "+arg)
	}
	return nil
}

// define registers a macro. A name that is already defined keeps its
// first definition until it is undefined.
func (s *state) define(uri string, line int, arg string) {
	m := definePattern.FindStringSubmatch(arg)
	if m == nil {
		s.report(uri, line, diag.SeverityError, CodeDirective, "malformed #define")
		return
	}
	if _, ok := s.res.Defines[m[1]]; ok {
		return
	}
	d := &Define{
		Name: m[1],
		Body: m[4],
		Loc:  diag.Location{URI: uri, Range: diag.LineRange(line, line)},
	}
	if m[2] != "" {
		d.Params = []string{}
		if strings.TrimSpace(m[3]) != "" {
			for _, p := range strings.Split(m[3], ",") {
				p = strings.TrimSpace(p)
				switch {
				case p == "...":
					d.Variadic = true
					p = "__VA_ARGS__"
				case strings.HasSuffix(p, "..."):
					d.Variadic = true
					p = strings.TrimSpace(strings.TrimSuffix(p, "..."))
				}
				if !identPattern.MatchString(p) {
					s.report(uri, line, diag.SeverityError, CodeDirective, fmt.Sprintf("bad macro parameter %q", p))
					return
				}
				d.Params = append(d.Params, p)
			}
		}
	}
	s.res.Defines[d.Name] = d
}

func (s *state) condition(uri string, line int, kind, arg string) bool {
	switch kind {
	case "ifdef", "ifndef":
		_, ok := s.res.Defines[strings.TrimSpace(arg)]
		return ok == (kind == "ifdef")
	}
	arg = definedPattern.ReplaceAllStringFunc(arg, func(m string) string {
		sub := definedPattern.FindStringSubmatch(m)
		name := sub[1] + sub[2]
		if _, ok := s.res.Defines[name]; ok {
			return "1"
		}
		return "0"
	})
	v, err := EvalInt(s.x.expand(arg, 0, nil, nil))
	s.flush(uri, line)
	if err != nil {
		s.report(uri, line, diag.SeverityError, CodeDirective, err.Error())
		return false
	}
	return v != 0
}

func (s *state) include(uri string, line int, arg string, chain []string) error {
	name, ok := includeName(arg)
	if !ok {
		name, ok = includeName(s.x.expand(arg, 0, nil, nil))
		s.flush(uri, line)
	}
	if !ok {
		s.report(uri, line, diag.SeverityError, CodeDirective, "malformed #include")
		return nil
	}
	target, text, found := s.resolve(uri, name)
	if !found {
		ctxlog.FromContext(s.ctx).Debug("preproc: include not found", "uri", uri, "include", name)
		return nil
	}
	if s.once[target] {
		return nil
	}
	if slices.Contains(chain, target) {
		s.report(uri, line, diag.SeverityError, CodeIncludeCycle, fmt.Sprintf("%s includes itself", name))
		return nil
	}
	if len(chain) > s.opts.MaxIncludeDepth {
		s.report(uri, line, diag.SeverityError, CodeIncludeDepth, fmt.Sprintf("includes nested deeper than %d levels", s.opts.MaxIncludeDepth))
		return nil
	}
	if !s.seen[target] {
		s.seen[target] = true
		s.res.Includes = append(s.res.Includes, target)
	}
	return s.file(target, text, append(slices.Clip(chain), target))
}

// resolve looks for name next to the including file, then on the include
// path.
func (s *state) resolve(uri, name string) (string, string, bool) {
	candidates := []string{vfs.Join(vfs.Dir(uri), name)}
	for _, dir := range s.opts.IncludePaths {
		candidates = append(candidates, vfs.Join(dir, name))
	}
	for _, c := range candidates {
		c = vfs.Canonical(c)
		if text, err := s.opts.Reader.ReadFile(c); err == nil {
			return c, text, true
		}
	}
	return "", "", false
}

func includeName(arg string) (string, bool) {
	arg = strings.TrimSpace(arg)
	if len(arg) < 2 {
		return "", false
	}
	switch {
	case arg[0] == '"':
		if end := strings.IndexByte(arg[1:], '"'); end >= 0 {
			return arg[1 : end+1], true
		}
	case arg[0] == '<':
		if end := strings.IndexByte(arg, '>'); end > 0 {
			return arg[1:end], true
		}
	}
	return "", false
}

func continued(raw string) bool {
	return strings.HasSuffix(strings.TrimRight(raw, " \t"), `\`)
}

// stripComments blanks out comments on one line. in reports whether the
// line starts inside a block comment; the second result whether it ends
// inside one. Blanking keeps offsets aligned with the source.
func stripComments(line string, in bool) (string, bool) {
	if !in && !strings.Contains(line, "/") {
		return line, false
	}
	b := []byte(line)
	for i := 0; i < len(b); i++ {
		if in {
			if b[i] == '*' && i+1 < len(b) && b[i+1] == '/' {
				b[i], b[i+1] = ' ', ' '
				i++
				in = false
				continue
			}
			b[i] = ' '
			continue
		}
		switch b[i] {
		case '"':
			i = skipQuoted(line, i) - 1
		case '/':
			if i+1 >= len(b) {
				continue
			}
			switch b[i+1] {
			case '/':
				return strings.TrimRight(string(b[:i]), " \t"), false
			case '*':
				b[i], b[i+1] = ' ', ' '
				i++
				in = true
			}
		}
	}
	return string(b), in
}
