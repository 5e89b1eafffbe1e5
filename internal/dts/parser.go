package dts

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/robert-at-pretension-io/kconfig-dts/internal/diag"
	"github.com/robert-at-pretension-io/kconfig-dts/internal/dts/preproc"
)

// Diagnostic codes.
const (
	CodeSyntax         = "dts.syntax"
	CodeUnknownLabel   = "dts.unknown-label"
	CodeDuplicateLabel = "dts.duplicate-label"
	CodeCells          = "dts.cells"
	CodeDeletedNode    = "dts.deleted-node"
	CodeRead           = "dts.read"
)

var (
	labelRe      = regexp.MustCompile(`^([A-Za-z_]\w*)\s*:`)
	nodeRe       = regexp.MustCompile(`^([\w,.+-]+(?:@[\w,.+-]*)?)\s*\{`)
	propRe       = regexp.MustCompile(`^([\w,.+?#-]+)\s*(=|;)`)
	refNodeRe    = regexp.MustCompile(`^&(?:\{(/[^}]*)\}|([A-Za-z_]\w*))\s*\{`)
	versionRe    = regexp.MustCompile(`^/dts-v1/\s*;`)
	pluginRe     = regexp.MustCompile(`^/plugin/\s*;`)
	memreserveRe = regexp.MustCompile(`^/memreserve/[^;]*;`)
	omitRe       = regexp.MustCompile(`^/omit-if-no-ref/`)
	deleteNodeRe = regexp.MustCompile(`^/delete-node/\s*(?:&\{(/[^}]*)\}|&([A-Za-z_]\w*)|([^;\s]+))\s*;`)
	deletePropRe = regexp.MustCompile(`^/delete-property/\s*([^;\s]+)\s*;`)
	rootRe       = regexp.MustCompile(`^/\s*\{`)
	closeRe      = regexp.MustCompile(`^\}`)
	semiRe       = regexp.MustCompile(`^;`)
	commaRe      = regexp.MustCompile(`^,`)

	bitsRe      = regexp.MustCompile(`^/bits/\s*(\d+)`)
	arrayOpenRe = regexp.MustCompile(`^<`)
	arrayEndRe  = regexp.MustCompile(`^>`)
	bytesOpenRe = regexp.MustCompile(`^\[`)
	bytesEndRe  = regexp.MustCompile(`^\]`)
	byteRe      = regexp.MustCompile(`^[0-9a-fA-F]{2}`)
	cellIntRe   = regexp.MustCompile(`^(0[xX][0-9a-fA-F]+|\d+)[uUlL]*`)
	charRe      = regexp.MustCompile(`^'(\\.|[^'\\])'`)
	refRe       = regexp.MustCompile(`^&(?:\{(/[^}]*)\}|([A-Za-z_]\w*))`)
	stringRe    = regexp.MustCompile(`^"((?:\\.|[^"\\])*)"`)
	cellLabelRe = regexp.MustCompile(`^[A-Za-z_]\w*:`)
	tokenRe     = regexp.MustCompile(`^\S+`)
)

// ParseFile preprocesses text and parses it into file-local entries.
// Entries are attached to nodes only when the file is registered in a
// context. The only error is ctx's.
func ParseFile(ctx context.Context, uri, text string, opts Options) (*DTSFile, error) {
	res, err := preproc.Preprocess(ctx, uri, text, preproc.Options{
		Reader:       opts.Reader,
		Defines:      opts.Defines,
		IncludePaths: opts.IncludePaths,
	})
	if err != nil {
		return nil, err
	}
	f := &DTSFile{
		URI:      uri,
		Lines:    res.Lines,
		Defines:  res.Defines,
		Includes: res.Includes,
		Diags:    res.Diags,
	}
	p := &parser{s: NewParserState(res.Lines), file: f}
	p.parse()
	f.parsed = true
	return f, nil
}

type parser struct {
	s      *ParserState
	file   *DTSFile
	stack  []*NodeEntry
	starts []Mark
	labels []string
	// labelStart is where the pending labels began.
	labelStart Mark
	number     int
}

func (p *parser) next() int {
	p.number++
	return p.number
}

func (p *parser) top() *NodeEntry {
	if len(p.stack) == 0 {
		return nil
	}
	return p.stack[len(p.stack)-1]
}

func (p *parser) report(loc diag.Location, sev diag.Severity, code, msg string) {
	p.file.Diags = append(p.file.Diags, diag.Diagnostic{
		URI:      loc.URI,
		Range:    loc.Range,
		Severity: sev,
		Code:     code,
		Message:  msg,
		Source:   "dts",
	})
}

func (p *parser) syntax(loc diag.Location, format string, args ...any) {
	p.report(loc, diag.SeverityError, CodeSyntax, fmt.Sprintf(format, args...))
}

func (p *parser) parse() {
	s := p.s
	for {
		s.Skip()
		if s.EOF() {
			break
		}
		p.statement()
	}
	for i := len(p.stack) - 1; i >= 0; i-- {
		e := p.stack[i]
		e.Loc = s.Since(p.starts[i])
		p.syntax(e.NameLoc, "unterminated node %s", e.displayName())
	}
	p.stack = nil
}

func (p *parser) takeLabels() []string {
	l := p.labels
	p.labels = nil
	return l
}

func (p *parser) statement() {
	s := p.s
	start := s.Freeze()
	if len(p.labels) > 0 {
		start = p.labelStart
	}

	if s.Match(semiRe) != nil {
		return
	}
	if m := s.Match(labelRe); m != nil {
		if len(p.labels) == 0 {
			p.labelStart = start
		}
		p.labels = append(p.labels, m[1])
		return
	}
	if m := s.Match(nodeRe); m != nil {
		p.open(m[1], nil, s.token(len(m[1])), start)
		return
	}
	if m := s.Match(propRe); m != nil {
		p.property(m[1], m[2] == "=", s.token(len(m[1])), start)
		return
	}
	if m := s.Match(refNodeRe); m != nil {
		ref := &PHandle{Path: m[1], Label: m[2]}
		ref.Loc = s.token(len(ref.String()))
		p.open("", ref, ref.Loc, start)
		return
	}
	if s.Match(rootRe) != nil {
		p.open("/", nil, s.token(1), start)
		return
	}

	if len(p.labels) > 0 {
		p.report(s.Location(), diag.SeverityWarning, CodeSyntax, "labels must precede a node or property")
		p.labels = nil
	}
	switch {
	case s.Match(closeRe) != nil:
		p.close()
	case s.Match(versionRe) != nil:
		p.file.Version = 1
	case s.Match(pluginRe) != nil:
		p.file.Plugin = true
	case s.Match(memreserveRe) != nil, s.Match(omitRe) != nil:
	default:
		if m := s.Match(deleteNodeRe); m != nil {
			p.deleteNode(m)
			return
		}
		if m := s.Match(deletePropRe); m != nil {
			p.deleteProperty(m[1])
			return
		}
		loc := s.Location()
		tok := s.Match(tokenRe)
		p.syntax(loc, "unexpected %q", tok[0])
		if !strings.Contains(tok[0], ";") {
			s.SkipPast(';')
		}
	}
}

func (p *parser) open(name string, ref *PHandle, nameLoc diag.Location, start Mark) {
	parent := p.top()
	switch {
	case ref != nil && parent != nil:
		p.syntax(nameLoc, "%s can only be reopened at the top level", ref)
		parent = nil
	case name == "/" && parent != nil:
		p.syntax(nameLoc, "root node opened inside %s", parent.displayName())
		parent = nil
	case name != "/" && ref == nil && parent == nil:
		p.syntax(nameLoc, "node %s must be inside the root node", name)
	}
	e := &NodeEntry{
		File:    p.file,
		Parent:  parent,
		Name:    name,
		Ref:     ref,
		Labels:  p.takeLabels(),
		Loc:     nameLoc,
		NameLoc: nameLoc,
		Number:  p.next(),
	}
	if parent != nil {
		parent.Children = append(parent.Children, e)
	} else {
		p.file.Roots = append(p.file.Roots, e)
	}
	p.stack = append(p.stack, e)
	p.starts = append(p.starts, start)
}

func (p *parser) close() {
	s := p.s
	if len(p.stack) == 0 {
		p.syntax(s.LastMatch(), "unexpected '}'")
		return
	}
	last := len(p.stack) - 1
	e, start := p.stack[last], p.starts[last]
	p.stack, p.starts = p.stack[:last], p.starts[:last]
	if s.Match(semiRe) == nil {
		s.Skip()
		if s.Match(semiRe) == nil {
			p.report(s.Location(), diag.SeverityWarning, CodeSyntax, "expected ';' after '}'")
		}
	}
	e.Loc = s.Since(start)
}

func (p *parser) deleteNode(m []string) {
	loc := p.s.LastMatch()
	d := &Deletion{Name: m[3], Loc: loc, Number: p.next()}
	if m[1] != "" || m[2] != "" {
		d.Ref = &PHandle{Path: m[1], Label: m[2], Loc: loc}
		d.Name = ""
	}
	top := p.top()
	switch {
	case top == nil && d.Ref == nil:
		p.syntax(loc, "/delete-node/ outside a node needs a reference")
	case top == nil:
		p.file.Deletions = append(p.file.Deletions, d)
	case d.Ref != nil:
		p.syntax(loc, "/delete-node/ with a reference must be at the top level")
	default:
		top.Deletions = append(top.Deletions, d)
	}
}

func (p *parser) deleteProperty(name string) {
	loc := p.s.LastMatch()
	top := p.top()
	if top == nil {
		p.syntax(loc, "/delete-property/ outside a node")
		return
	}
	top.Properties = append(top.Properties, &Property{Name: name, Deleted: true, Entry: top, Loc: loc, NameLoc: loc})
}

func (p *parser) property(name string, hasValue bool, nameLoc diag.Location, start Mark) {
	s := p.s
	top := p.top()
	prop := &Property{Name: name, Labels: p.takeLabels(), Entry: top, NameLoc: nameLoc}
	if top == nil {
		p.syntax(nameLoc, "property %s outside a node", name)
	}
	if !hasValue {
		prop.Value = []PropertyValue{{Kind: KindBool, Loc: nameLoc}}
	} else {
		p.values(prop)
	}
	prop.Loc = s.Since(start)
	if top != nil {
		top.Properties = append(top.Properties, prop)
	}
}

// values parses a comma-separated value list up to the closing ';'. On a
// malformed value the values parsed so far are kept.
func (p *parser) values(prop *Property) {
	s := p.s
	bits := 0
	for {
		s.Skip()
		if s.EOF() {
			p.syntax(prop.NameLoc, "unterminated value of %s", prop.Name)
			return
		}
		if m := s.Match(bitsRe); m != nil {
			bits, _ = strconv.Atoi(m[1])
			continue
		}

		ok := true
		var v PropertyValue
		start := s.Freeze()
		switch {
		case s.Match(arrayOpenRe) != nil:
			v, ok = p.cells(start, bits)
			bits = 0
		case s.Match(bytesOpenRe) != nil:
			v, ok = p.bytes(start)
		default:
			if m := s.Match(stringRe); m != nil {
				v = PropertyValue{Kind: KindString, Str: unquote(m[1]), Loc: s.LastMatch()}
			} else if m := s.Match(refRe); m != nil {
				loc := s.LastMatch()
				v = PropertyValue{Kind: KindPHandle, Ref: &PHandle{Path: m[1], Label: m[2], Loc: loc}, Loc: loc}
			} else {
				p.syntax(s.Location(), "unexpected %q in value of %s", firstToken(s), prop.Name)
				s.SkipPast(';')
				return
			}
		}
		if v.Kind != 0 {
			prop.Value = append(prop.Value, v)
		}
		if !ok {
			s.SkipPast(';')
			return
		}

		s.Skip()
		if s.Match(commaRe) != nil {
			continue
		}
		if s.Match(semiRe) != nil {
			return
		}
		p.syntax(s.Location(), "expected ',' or ';' after value of %s", prop.Name)
		return
	}
}

func (p *parser) cells(start Mark, bits int) (PropertyValue, bool) {
	s := p.s
	if bits == 0 {
		bits = 32
	}
	v := PropertyValue{Kind: KindArray, Bits: bits}
	for {
		s.Skip()
		if s.EOF() {
			v.Loc = s.Since(start)
			p.syntax(v.Loc, "unterminated cell array")
			return v, false
		}
		if s.Match(arrayEndRe) != nil {
			v.Loc = s.Since(start)
			return v, true
		}
		if s.Match(cellLabelRe) != nil {
			continue
		}
		if m := s.Match(cellIntRe); m != nil {
			n, err := strconv.ParseUint(m[1], 0, 64)
			if err != nil {
				p.syntax(s.LastMatch(), "bad number %s", m[1])
			}
			v.Cells = append(v.Cells, PropertyValue{Kind: KindInt, Int: int64(n), Loc: s.LastMatch()})
			continue
		}
		if m := s.Match(charRe); m != nil {
			c := unquote(m[1])
			var n int64
			if len(c) > 0 {
				n = int64(c[0])
			}
			v.Cells = append(v.Cells, PropertyValue{Kind: KindInt, Int: n, Loc: s.LastMatch()})
			continue
		}
		if m := s.Match(refRe); m != nil {
			loc := s.LastMatch()
			v.Cells = append(v.Cells, PropertyValue{Kind: KindPHandle, Ref: &PHandle{Path: m[1], Label: m[2], Loc: loc}, Loc: loc})
			continue
		}
		if strings.HasPrefix(s.rest(), "(") {
			end := matchParen(s.rest())
			if end < 0 {
				p.syntax(s.Location(), "unbalanced parenthesis in cell expression")
				v.Loc = s.Since(start)
				return v, false
			}
			text := s.rest()[:end]
			s.Advance(end)
			n, err := preproc.EvalInt(text)
			if err != nil {
				p.syntax(s.LastMatch(), "%v", err)
			}
			v.Cells = append(v.Cells, PropertyValue{Kind: KindExpression, Expr: text, Int: n, Loc: s.LastMatch()})
			continue
		}
		p.syntax(s.Location(), "unexpected %q in cell array", firstToken(s))
		v.Loc = s.Since(start)
		return v, false
	}
}

func (p *parser) bytes(start Mark) (PropertyValue, bool) {
	s := p.s
	v := PropertyValue{Kind: KindBytestring}
	for {
		s.Skip()
		if s.EOF() {
			v.Loc = s.Since(start)
			p.syntax(v.Loc, "unterminated byte string")
			return v, false
		}
		if s.Match(bytesEndRe) != nil {
			v.Loc = s.Since(start)
			return v, true
		}
		m := s.Match(byteRe)
		if m == nil {
			p.syntax(s.Location(), "unexpected %q in byte string", firstToken(s))
			v.Loc = s.Since(start)
			return v, false
		}
		b, _ := strconv.ParseUint(m[0], 16, 8)
		v.Bytes = append(v.Bytes, byte(b))
	}
}

// matchParen returns the length of the balanced parenthesised prefix of s,
// or -1.
func matchParen(s string) int {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return -1
}

func firstToken(s *ParserState) string {
	t := s.rest()
	if i := strings.IndexAny(t, " \t;,"); i > 0 {
		return t[:i]
	}
	return t
}

func unquote(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	if u, err := strconv.Unquote(`"` + s + `"`); err == nil {
		return u
	}
	return s
}
