package dts

import (
	"regexp"
	"strings"

	"github.com/robert-at-pretension-io/kconfig-dts/internal/diag"
	"github.com/robert-at-pretension-io/kconfig-dts/internal/dts/preproc"
)

// Mark is a saved cursor position.
type Mark struct {
	line, off int
}

// ParserState is a cursor over preprocessed lines. Matching happens on the
// expanded text; locations are mapped back to source positions.
type ParserState struct {
	Lines []preproc.Line
	line  int
	off   int
	last  Mark
}

// NewParserState starts a cursor at the first line.
func NewParserState(lines []preproc.Line) *ParserState {
	return &ParserState{Lines: lines}
}

// EOF reports whether the cursor is past the last line.
func (s *ParserState) EOF() bool { return s.line >= len(s.Lines) }

func (s *ParserState) rest() string {
	if s.EOF() {
		return ""
	}
	return s.Lines[s.line].Text[s.off:]
}

// Skip moves past blanks, across lines.
func (s *ParserState) Skip() {
	for !s.EOF() {
		t := s.rest()
		trimmed := strings.TrimLeft(t, " \t\r\f\v")
		s.off += len(t) - len(trimmed)
		if trimmed != "" {
			return
		}
		s.line++
		s.off = 0
	}
}

// Match consumes re at the cursor and returns its submatches. re must be
// anchored with ^. It never matches across lines.
func (s *ParserState) Match(re *regexp.Regexp) []string {
	if s.EOF() {
		return nil
	}
	t := s.rest()
	loc := re.FindStringSubmatchIndex(t)
	if loc == nil || loc[0] != 0 {
		return nil
	}
	m := make([]string, len(loc)/2)
	for i := range m {
		if loc[2*i] >= 0 {
			m[i] = t[loc[2*i]:loc[2*i+1]]
		}
	}
	s.last = Mark{s.line, s.off}
	s.off += loc[1]
	return m
}

// Peek reports whether re matches at the cursor without consuming.
func (s *ParserState) Peek(re *regexp.Regexp) bool {
	if s.EOF() {
		return false
	}
	loc := re.FindStringIndex(s.rest())
	return loc != nil && loc[0] == 0
}

// Advance consumes n bytes of the current line.
func (s *ParserState) Advance(n int) {
	s.last = Mark{s.line, s.off}
	s.off = min(s.off+n, len(s.Lines[s.line].Text))
}

// SkipLine consumes the rest of the current line.
func (s *ParserState) SkipLine() {
	if !s.EOF() {
		s.line++
		s.off = 0
	}
}

// SkipPast consumes up to and including the next c on the current line,
// or the rest of the line if there is none.
func (s *ParserState) SkipPast(c byte) {
	if s.EOF() {
		return
	}
	if i := strings.IndexByte(s.rest(), c); i >= 0 {
		s.off += i + 1
		return
	}
	s.SkipLine()
}

// Freeze returns the cursor position for a later Since.
func (s *ParserState) Freeze() Mark { return Mark{s.line, s.off} }

// Location is the empty range at the cursor.
func (s *ParserState) Location() diag.Location {
	m := s.Freeze()
	return s.span(m, m)
}

// LastMatch is the range of the last Match or Advance.
func (s *ParserState) LastMatch() diag.Location {
	return s.span(s.last, Mark{s.line, s.off})
}

// Since is the range from m to the cursor.
func (s *ParserState) Since(m Mark) diag.Location {
	return s.span(m, Mark{s.line, s.off})
}

func (s *ParserState) span(from, to Mark) diag.Location {
	if len(s.Lines) == 0 {
		return diag.Location{}
	}
	if from.line >= len(s.Lines) {
		last := len(s.Lines) - 1
		from = Mark{last, len(s.Lines[last].Text)}
	}
	a := &s.Lines[from.line]
	start := diag.Position{Line: a.Number, Character: a.RawPos(from.off, true)}
	end := diag.Position{Line: a.Number, Character: a.RawEnd(len(a.Text))}
	if to.line < len(s.Lines) && s.Lines[to.line].URI == a.URI && to.line >= from.line {
		b := &s.Lines[to.line]
		end = diag.Position{Line: b.Number, Character: b.RawEnd(to.off)}
	}
	return diag.Location{URI: a.URI, Range: diag.Range{Start: start, End: end}}
}

// token is the range of the first n bytes of the last match.
func (s *ParserState) token(n int) diag.Location {
	return s.span(s.last, Mark{s.last.line, s.last.off + n})
}
