package kconfig

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/robert-at-pretension-io/kconfig-dts/internal/ctxlog"
	"github.com/robert-at-pretension-io/kconfig-dts/internal/diag"
	"github.com/robert-at-pretension-io/kconfig-dts/internal/vfs"
)

// Diagnostic codes produced by the file parser.
const (
	CodeSyntax       = "kconfig.syntax"
	CodeUnterminated = "kconfig.unterminated"
	CodeInclude      = "kconfig.include"
	CodeExpression   = "kconfig.expression"
)

var (
	assignPattern = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)\s*(:=|\+=|=)\s*(.*)$`)
	symbolPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)
	varPattern    = regexp.MustCompile(`\$\(([A-Za-z_][A-Za-z0-9_]*)\)|\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)
)

// logicalLine is one statement after continuation joining and comment
// stripping.
type logicalLine struct {
	text   string
	indent int
	start  int
	end    int
}

type blockKind int

const (
	blockNone blockKind = iota
	blockEntry
	blockChoice
	blockMenu
	blockComment
	blockIf
)

// fileParser parses one ParsedFile into the repository.
type fileParser struct {
	ctx   context.Context
	repo  *Repository
	file  *ParsedFile
	lines []string
	env   map[string]string

	stack []*Scope
	seen  map[string]int
	block blockKind
	entry *ConfigEntry
	cmnt  *Comment
	scope *Scope

	// reuse state for incremental reparse
	old   []*Inclusion
	used  map[*Inclusion]bool
	edit  Edit
	dirty string
}

func (p *fileParser) top() *Scope { return p.stack[len(p.stack)-1] }

func (p *fileParser) errorf(start, end int, code, format string, args ...any) {
	p.file.Diags.Error(diag.LineRange(start, end), code, fmt.Sprintf(format, args...))
}

func (p *fileParser) warnf(start, end int, code, format string, args ...any) {
	p.file.Diags.Warning(diag.LineRange(start, end), code, fmt.Sprintf(format, args...))
}

// parse runs over all lines. The stack starts at the including scope.
func (p *fileParser) parse() {
	base := len(p.stack)
	logical := joinLines(p.lines)
	for i := 0; i < len(logical); i++ {
		ll := logical[i]
		if ll.text == "" {
			continue
		}
		kw, rest := splitKeyword(ll.text)
		switch kw {
		case "help", "---help---":
			i = p.parseHelp(logical, i)
			continue
		}
		p.statement(ll, kw, rest, base)
	}
	p.closeBlock()
	for len(p.stack) > base {
		s := p.top()
		p.errorf(s.Lines.Start, s.Lines.Start, CodeUnterminated, "unterminated %s", s.Kind)
		s.Lines.End = len(p.lines) - 1
		p.stack = p.stack[:len(p.stack)-1]
	}
}

func (p *fileParser) statement(ll logicalLine, kw, rest string, base int) {
	switch kw {
	case "config", "menuconfig":
		p.closeBlock()
		name := strings.TrimSpace(rest)
		if !symbolPattern.MatchString(name) {
			p.errorf(ll.start, ll.end, CodeSyntax, "invalid symbol name %q", name)
			p.block = blockNone
			return
		}
		p.openEntry(name, kw == "menuconfig", ll)
	case "choice":
		p.closeBlock()
		name := strings.TrimSpace(rest)
		s := p.openScope(ScopeChoice, name, ll)
		p.block, p.scope = blockChoice, s
	case "endchoice":
		p.closeBlock()
		p.closeScope(ScopeChoice, ll, base)
	case "menu":
		p.closeBlock()
		prompt, _, ok := parseQuoted(rest)
		if !ok {
			p.errorf(ll.start, ll.end, CodeSyntax, "menu needs a quoted prompt")
			prompt = strings.TrimSpace(rest)
		}
		s := p.openScope(ScopeMenu, prompt, ll)
		s.Prompt = prompt
		p.block, p.scope = blockMenu, s
	case "endmenu":
		p.closeBlock()
		p.closeScope(ScopeMenu, ll, base)
	case "if":
		p.closeBlock()
		cond := strings.TrimSpace(rest)
		if cond == "" {
			p.errorf(ll.start, ll.end, CodeSyntax, "if needs a condition")
		}
		p.checkExpr(cond, ll)
		s := p.openScope(ScopeIf, cond, ll)
		s.Cond = cond
		p.block, p.scope = blockIf, s
	case "endif":
		p.closeBlock()
		p.closeScope(ScopeIf, ll, base)
	case "comment":
		p.closeBlock()
		text, _, ok := parseQuoted(rest)
		if !ok {
			p.errorf(ll.start, ll.end, CodeSyntax, "comment needs a quoted text")
		}
		c := &Comment{Text: text, File: p.file, Lines: Lines{ll.start, ll.end}}
		p.file.Comments = append(p.file.Comments, c)
		p.top().Children = append(p.top().Children, Item{Kind: ItemComment, Comment: c, File: p.file})
		p.block, p.cmnt = blockComment, c
	case "mainmenu":
		p.closeBlock()
		text, _, _ := parseQuoted(rest)
		p.repo.MainMenu = text
	case "source", "rsource", "osource", "orsource":
		p.closeBlock()
		p.source(kw, rest, ll)
	default:
		if m := assignPattern.FindStringSubmatch(ll.text); m != nil && !isAttribute(kw) {
			p.assign(m[1], m[2], m[3])
			return
		}
		p.attribute(ll, kw, rest)
	}
}

func isAttribute(kw string) bool {
	switch kw {
	case "bool", "boolean", "tristate", "int", "hex", "string", "def_bool", "def_tristate",
		"prompt", "default", "depends", "select", "imply", "range", "visible", "option",
		"modules", "transitional", "optional", "allnoconfig_y", "defconfig_list":
		return true
	}
	return false
}

func (p *fileParser) attribute(ll logicalLine, kw, rest string) {
	switch p.block {
	case blockEntry:
		p.entryAttribute(ll, kw, rest)
	case blockChoice:
		p.choiceAttribute(ll, kw, rest)
	case blockMenu:
		switch kw {
		case "depends":
			if dep, ok := dependsOn(rest); ok {
				p.checkExpr(dep, ll)
				p.scope.DependsOn = append(p.scope.DependsOn, dep)
				return
			}
		case "visible":
			if cond, ok := visibleIf(rest); ok {
				p.checkExpr(cond, ll)
				p.scope.VisibleIf = append(p.scope.VisibleIf, cond)
				return
			}
		}
		p.unexpected(ll, kw, "menu")
	case blockComment:
		if dep, ok := dependsOn(rest); kw == "depends" && ok {
			p.checkExpr(dep, ll)
			p.cmnt.DependsOn = append(p.cmnt.DependsOn, dep)
			p.cmnt.Lines.End = ll.end
			return
		}
		p.unexpected(ll, kw, "comment")
	default:
		p.errorf(ll.start, ll.end, CodeSyntax, "unexpected %q", ll.text)
	}
}

func (p *fileParser) unexpected(ll logicalLine, kw, where string) {
	p.errorf(ll.start, ll.end, CodeSyntax, "unexpected %q in %s", kw, where)
}

func (p *fileParser) entryAttribute(ll logicalLine, kw, rest string) {
	e := p.entry
	e.Lines.End = ll.end
	if t, ok := typeNames[kw]; ok {
		e.Type = t
		if strings.TrimSpace(rest) != "" {
			p.setPrompt(e, rest, ll)
		}
		return
	}
	switch kw {
	case "def_bool", "def_tristate":
		if kw == "def_bool" {
			e.Type = TypeBool
		} else {
			e.Type = TypeTristate
		}
		value, cond := splitIf(rest)
		p.checkExpr(value, ll)
		p.checkExpr(cond, ll)
		e.Defaults = append(e.Defaults, Cond{Value: value, If: cond, Line: ll.start})
	case "prompt":
		p.setPrompt(e, rest, ll)
	case "default":
		value, cond := splitIf(rest)
		if value == "" {
			p.errorf(ll.start, ll.end, CodeSyntax, "default needs a value")
			return
		}
		p.checkExpr(value, ll)
		p.checkExpr(cond, ll)
		e.Defaults = append(e.Defaults, Cond{Value: value, If: cond, Line: ll.start})
	case "depends":
		dep, ok := dependsOn(rest)
		if !ok {
			p.errorf(ll.start, ll.end, CodeSyntax, "expected \"depends on <expr>\"")
			return
		}
		p.checkExpr(dep, ll)
		e.DependsOn = append(e.DependsOn, dep)
		e.depsCached = false
	case "select", "imply":
		target, cond := splitIf(rest)
		if !symbolPattern.MatchString(target) {
			p.errorf(ll.start, ll.end, CodeSyntax, "%s needs a symbol name", kw)
			return
		}
		p.checkExpr(cond, ll)
		c := Cond{Value: target, If: cond, Line: ll.start}
		if kw == "select" {
			e.Selects = append(e.Selects, c)
		} else {
			e.Implies = append(e.Implies, c)
		}
	case "range":
		bounds, cond := splitIf(rest)
		f := strings.Fields(bounds)
		if len(f) != 2 {
			p.errorf(ll.start, ll.end, CodeSyntax, "range needs two bounds")
			return
		}
		p.checkExpr(cond, ll)
		e.Ranges = append(e.Ranges, RangeSpec{Min: f[0], Max: f[1], If: cond, Line: ll.start})
	case "visible":
		if cond, ok := visibleIf(rest); ok {
			e.VisibleIf = append(e.VisibleIf, cond)
			return
		}
		p.unexpected(ll, kw, "config")
	case "option", "modules", "transitional", "allnoconfig_y", "defconfig_list":
	default:
		p.unexpected(ll, kw, "config")
	}
}

func (p *fileParser) choiceAttribute(ll logicalLine, kw, rest string) {
	s := p.scope
	s.Lines.End = ll.end
	if t, ok := typeNames[kw]; ok {
		s.Type = t
		if text, _, ok := parseQuoted(rest); ok {
			s.Prompt = text
		}
		return
	}
	switch kw {
	case "prompt":
		text, _, ok := parseQuoted(rest)
		if !ok {
			p.errorf(ll.start, ll.end, CodeSyntax, "prompt needs a quoted text")
		}
		s.Prompt = text
	case "default":
		value, cond := splitIf(rest)
		p.checkExpr(cond, ll)
		s.Defaults = append(s.Defaults, Cond{Value: value, If: cond, Line: ll.start})
	case "depends":
		dep, ok := dependsOn(rest)
		if !ok {
			p.errorf(ll.start, ll.end, CodeSyntax, "expected \"depends on <expr>\"")
			return
		}
		p.checkExpr(dep, ll)
		s.DependsOn = append(s.DependsOn, dep)
	case "visible":
		if cond, ok := visibleIf(rest); ok {
			s.VisibleIf = append(s.VisibleIf, cond)
			return
		}
		p.unexpected(ll, kw, "choice")
	case "optional":
		s.Optional = true
	case "option", "transitional":
	default:
		p.unexpected(ll, kw, "choice")
	}
}

func (p *fileParser) setPrompt(e *ConfigEntry, rest string, ll logicalLine) {
	text, after, ok := parseQuoted(rest)
	if !ok {
		p.errorf(ll.start, ll.end, CodeSyntax, "prompt needs a quoted text")
		return
	}
	e.Prompt = text
	after = strings.TrimSpace(after)
	if after == "" {
		return
	}
	if kw, cond := splitKeyword(after); kw == "if" {
		p.checkExpr(cond, ll)
		e.PromptIf = cond
		return
	}
	p.errorf(ll.start, ll.end, CodeSyntax, "unexpected %q after prompt", after)
}

// parseHelp consumes a help block starting at logical[i] and returns the
// index of its last line. The block ends at the first non-blank line
// indented less than the first text line.
func (p *fileParser) parseHelp(logical []logicalLine, i int) int {
	start := logical[i]
	first := -1
	var text []string
	last := i
	for j := start.end + 1; j < len(p.lines); j++ {
		raw := p.lines[j]
		if strings.TrimSpace(raw) == "" {
			text = append(text, "")
			continue
		}
		ind := indentOf(raw)
		if first < 0 {
			if ind <= start.indent {
				break
			}
			first = ind
		}
		if ind < first {
			break
		}
		text = append(text, strings.TrimSpace(raw))
		for last+1 < len(logical) && logical[last+1].start <= j {
			last++
		}
	}
	help := strings.TrimSpace(strings.Join(text, "\n"))
	switch p.block {
	case blockEntry:
		p.entry.Help = help
		if last > i {
			p.entry.Lines.End = logical[last].end
		}
	case blockChoice:
		p.scope.Help = help
	default:
		p.errorf(start.start, start.end, CodeSyntax, "help outside of a config or choice")
	}
	return last
}

func (p *fileParser) openEntry(name string, menu bool, ll logicalLine) {
	cfg := p.repo.configs[name]
	if cfg == nil {
		cfg = &Config{Name: name}
		p.repo.configs[name] = cfg
	}
	e := &ConfigEntry{
		Config: cfg,
		File:   p.file,
		Lines:  Lines{ll.start, ll.end},
		Scope:  p.top().ID,
		Menu:   menu,
	}
	cfg.Entries = append(cfg.Entries, e)
	p.file.Entries = append(p.file.Entries, e)
	p.top().Children = append(p.top().Children, Item{Kind: ItemEntry, Entry: e, File: p.file})
	p.block, p.entry = blockEntry, e
}

func (p *fileParser) closeBlock() {
	p.block, p.entry, p.cmnt, p.scope = blockNone, nil, nil, nil
}

// openScope claims the scope with the same structural key if this file
// declared one before, or creates it. Same-kind siblings with the same
// name are told apart by their ordinal in the file.
func (p *fileParser) openScope(kind ScopeKind, name string, ll logicalLine) *Scope {
	parent := p.top()
	key := scopeKey(parent.Key, kind, name)
	if p.seen == nil {
		p.seen = make(map[string]int)
	}
	n := p.seen[key]
	p.seen[key] = n + 1
	if n > 0 {
		key = fmt.Sprintf("%s#%d", key, n)
	}
	s, ok := p.repo.scopes.lookup(key, p.file)
	if !ok {
		s = p.repo.scopes.add(&Scope{
			Key:    key,
			Kind:   kind,
			Name:   name,
			Parent: parent.ID,
			File:   p.file,
		})
	}
	if !p.repo.claimed[s.ID] {
		p.repo.claimed[s.ID] = true
		s.DependsOn, s.VisibleIf, s.Defaults = nil, nil, nil
		s.Optional, s.Help, s.Type, s.Prompt = false, "", TypeUnknown, ""
		s.Lines = Lines{ll.start, ll.end}
		p.file.scopes = append(p.file.scopes, s.ID)
		parent.Children = append(parent.Children, Item{Kind: ItemScope, Scope: s.ID, File: p.file})
	}
	p.stack = append(p.stack, s)
	return s
}

func (p *fileParser) closeScope(kind ScopeKind, ll logicalLine, base int) {
	if len(p.stack) <= base {
		p.errorf(ll.start, ll.end, CodeSyntax, "end%s without %s", kind, kind)
		return
	}
	s := p.top()
	if s.Kind != kind {
		p.errorf(ll.start, ll.end, CodeSyntax, "end%s inside %s started at line %d", kind, s.Kind, s.Lines.Start+1)
		return
	}
	s.Lines.End = ll.end
	p.stack = p.stack[:len(p.stack)-1]
}

func (p *fileParser) assign(name, op, value string) {
	value = strings.TrimSpace(value)
	if op == "+=" && p.env[name] != "" {
		value = p.env[name] + " " + value
	}
	p.env[name] = p.substitute(value)
}

func (p *fileParser) substitute(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(m string) string {
		sub := varPattern.FindStringSubmatch(m)
		name := sub[1]
		if name == "" {
			name = sub[2]
		}
		if v, ok := p.env[name]; ok {
			return v
		}
		if v, ok := p.repo.opts.Env[name]; ok {
			return v
		}
		return os.Getenv(name)
	})
}

// source resolves a source statement, reusing a matching file from the
// previous parse where possible.
func (p *fileParser) source(kw, rest string, ll logicalLine) {
	optional := strings.HasPrefix(kw, "o")
	relative := strings.HasSuffix(kw, "rsource")
	raw, _, ok := parseQuoted(rest)
	if !ok {
		p.errorf(ll.start, ll.end, CodeSyntax, "%s needs a quoted path", kw)
		return
	}
	target := p.substitute(raw)
	scheme, _ := vfs.Split(p.file.URI)
	switch {
	case relative:
		target = path.Join(path.Dir(vfs.Path(p.file.URI)), target)
	case !filepath.IsAbs(target) && p.repo.opts.Root != "":
		target = filepath.Join(p.repo.opts.Root, target)
	}

	uris := []string{target}
	if strings.ContainsAny(target, "*?[") {
		matches, _ := filepath.Glob(target)
		sort.Strings(matches)
		uris = matches
	}
	if scheme != "file" {
		for i, u := range uris {
			uris[i] = scheme + "://" + u
		}
	}

	if len(uris) == 0 && !optional {
		p.errorf(ll.start, ll.end, CodeInclude, "no files match %q", raw)
	}
	for _, uri := range uris {
		uri = vfs.Canonical(uri)
		if p.file.includedFrom(uri) {
			p.errorf(ll.start, ll.end, CodeInclude, "recursive source of %s", uri)
			continue
		}
		if p.file.Depth+1 > p.repo.opts.MaxIncludeDepth {
			p.warnf(ll.start, ll.end, CodeInclude, "source nesting deeper than %d", p.repo.opts.MaxIncludeDepth)
			return
		}
		if !p.repo.exists(uri) {
			if !optional {
				p.errorf(ll.start, ll.end, CodeInclude, "file not found: %s", raw)
			}
			continue
		}
		p.include(uri, ll)
	}
}

func (p *fileParser) include(uri string, ll logicalLine) {
	candidate := &ParsedFile{
		URI:      uri,
		Env:      cloneEnv(p.env),
		ScopeKey: p.top().Key,
		Scope:    p.top().ID,
		Parent:   p.file,
		Line:     ll.start,
		Depth:    p.file.Depth + 1,
	}
	log := ctxlog.FromContext(p.ctx)
	if inc := p.reusable(candidate); inc != nil {
		p.used[inc] = true
		f := inc.File
		f.Line, f.Scope = ll.start, candidate.Scope
		p.file.Inclusions = append(p.file.Inclusions, &Inclusion{Line: ll.start, File: f})
		if f.URI == p.dirty {
			p.repo.reparse(p.ctx, f, p.edit)
			return
		}
		log.Debug("kconfig: reusing include", "uri", uri, "from", p.file.URI)
		reparseCounter.WithLabelValues("reuse").Inc()
		return
	}
	p.file.Inclusions = append(p.file.Inclusions, &Inclusion{Line: ll.start, File: candidate})
	p.repo.parseFile(p.ctx, candidate, p.top())
}

// reusable picks an old inclusion to keep. Includes above the edit are
// matched by line; the rest structurally.
func (p *fileParser) reusable(candidate *ParsedFile) *Inclusion {
	for _, inc := range p.old {
		if p.used[inc] {
			continue
		}
		if candidate.Line < p.edit.Line {
			if inc.Line == candidate.Line && inc.File.Match(candidate) {
				return inc
			}
			continue
		}
		if inc.File.Match(candidate) {
			return inc
		}
	}
	return nil
}

func (p *fileParser) checkExpr(text string, ll logicalLine) {
	if text == "" {
		return
	}
	if e := p.repo.compile(text); e.Err != nil {
		p.file.Diags.Warning(diag.LineRange(ll.start, ll.end), CodeExpression,
			fmt.Sprintf("invalid expression %q: %v", text, e.Err))
	}
}

func cloneEnv(env map[string]string) map[string]string {
	out := make(map[string]string, len(env))
	for k, v := range env {
		out[k] = v
	}
	return out
}

// joinLines strips comments, joins continuation lines and returns one
// logical line per source line that starts a statement.
func joinLines(lines []string) []logicalLine {
	var out []logicalLine
	for i := 0; i < len(lines); i++ {
		start := i
		text := stripComment(lines[i])
		for strings.HasSuffix(text, `\`) && i+1 < len(lines) {
			i++
			text = strings.TrimSuffix(text, `\`) + " " + stripComment(lines[i])
		}
		text = strings.TrimSuffix(text, `\`)
		out = append(out, logicalLine{
			text:   strings.TrimSpace(text),
			indent: indentOf(lines[start]),
			start:  start,
			end:    i,
		})
	}
	return out
}

// stripComment drops a trailing "#" comment outside quotes.
func stripComment(line string) string {
	var quote byte
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '#':
			return strings.TrimRight(line[:i], " \t")
		}
	}
	return strings.TrimRight(line, " \t")
}

func indentOf(line string) int {
	n := 0
	for _, c := range line {
		switch c {
		case ' ':
			n++
		case '\t':
			n += 8 - n%8
		default:
			return n
		}
	}
	return n
}

func splitKeyword(s string) (string, string) {
	s = strings.TrimSpace(s)
	i := strings.IndexAny(s, " \t")
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimSpace(s[i+1:])
}

// parseQuoted reads a leading quoted string and returns it with the
// remainder of s.
func parseQuoted(s string) (string, string, bool) {
	s = strings.TrimSpace(s)
	if s == "" || (s[0] != '"' && s[0] != '\'') {
		return "", s, false
	}
	quote := s[0]
	var b strings.Builder
	for i := 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			if i+1 < len(s) {
				i++
				b.WriteByte(s[i])
			}
		case quote:
			return b.String(), s[i+1:], true
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String(), "", false
}

// splitIf separates "value if cond" at the first "if" word outside quotes
// and parentheses.
func splitIf(s string) (string, string) {
	s = strings.TrimSpace(s)
	var quote byte
	depth := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '(':
			depth++
		case c == ')':
			depth--
		case depth == 0 && c == 'i' && strings.HasPrefix(s[i:], "if") &&
			(i == 0 || s[i-1] == ' ' || s[i-1] == '\t') &&
			(i+2 == len(s) || s[i+2] == ' ' || s[i+2] == '\t' || s[i+2] == '('):
			return strings.TrimSpace(s[:i]), strings.TrimSpace(s[i+2:])
		}
	}
	return s, ""
}

func dependsOn(rest string) (string, bool) {
	kw, dep := splitKeyword(rest)
	if kw != "on" || dep == "" {
		return "", false
	}
	return dep, true
}

func visibleIf(rest string) (string, bool) {
	kw, cond := splitKeyword(rest)
	if kw != "if" || cond == "" {
		return "", false
	}
	return cond, true
}
