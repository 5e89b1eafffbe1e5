package preproc

import (
	"fmt"
	"strconv"
	"strings"
)

var binaryPrec = map[string]int{
	"||": 1,
	"&&": 2,
	"|":  3,
	"^":  4,
	"&":  5,
	"==": 6, "!=": 6,
	"<": 7, "<=": 7, ">": 7, ">=": 7,
	"<<": 8, ">>": 8,
	"+": 9, "-": 9,
	"*": 10, "/": 10, "%": 10,
}

var operators = []string{
	"<<", ">>", "<=", ">=", "==", "!=", "&&", "||",
	"+", "-", "*", "/", "%", "<", ">", "&", "|", "^", "!", "~", "?", ":", "(", ")",
}

type intToken struct {
	op  string
	num int64
	// ident is set for identifiers, which evaluate to 0.
	ident bool
	eof   bool
}

type intParser struct {
	src string
	pos int
	tok intToken
	err error
}

// EvalInt evaluates a C integer constant expression as used by #if and by
// parenthesised devicetree cells. Identifiers left after macro expansion
// evaluate to 0.
func EvalInt(s string) (int64, error) {
	p := &intParser{src: s}
	p.next()
	v := p.ternary()
	if p.err == nil && !p.tok.eof {
		p.fail("unexpected %q", p.tok.op)
	}
	if p.err != nil {
		return 0, fmt.Errorf("evaluate %q: %w", strings.TrimSpace(s), p.err)
	}
	return v, nil
}

func (p *intParser) fail(format string, args ...any) {
	if p.err == nil {
		p.err = fmt.Errorf(format, args...)
	}
}

func (p *intParser) next() {
	for p.pos < len(p.src) && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t') {
		p.pos++
	}
	if p.pos >= len(p.src) {
		p.tok = intToken{eof: true}
		return
	}
	c := p.src[p.pos]
	switch {
	case c >= '0' && c <= '9':
		end := p.pos
		for end < len(p.src) && isIdentChar(p.src[end]) {
			end++
		}
		lit := strings.TrimRight(strings.ToLower(p.src[p.pos:end]), "ul")
		p.pos = end
		n, err := parseCInt(lit)
		if err != nil {
			p.fail("bad number %q", lit)
		}
		p.tok = intToken{num: n}
		return
	case c == '\'':
		end := skipQuoted(p.src, p.pos)
		body := p.src[p.pos:end]
		p.pos = end
		r, err := strconv.Unquote(body)
		if err != nil || len(r) == 0 {
			p.fail("bad character literal %s", body)
			r = "\x00"
		}
		p.tok = intToken{num: int64(r[0])}
		return
	case isIdentStart(c):
		end := p.pos
		for end < len(p.src) && isIdentChar(p.src[end]) {
			end++
		}
		p.tok = intToken{op: p.src[p.pos:end], ident: true}
		p.pos = end
		return
	}
	for _, op := range operators {
		if strings.HasPrefix(p.src[p.pos:], op) {
			p.pos += len(op)
			p.tok = intToken{op: op}
			return
		}
	}
	p.fail("unexpected character %q", c)
	p.tok = intToken{eof: true}
}

func parseCInt(lit string) (int64, error) {
	var (
		u   uint64
		err error
	)
	switch {
	case strings.HasPrefix(lit, "0x"):
		u, err = strconv.ParseUint(lit[2:], 16, 64)
	case strings.HasPrefix(lit, "0b"):
		u, err = strconv.ParseUint(lit[2:], 2, 64)
	case len(lit) > 1 && lit[0] == '0':
		u, err = strconv.ParseUint(lit[1:], 8, 64)
	default:
		u, err = strconv.ParseUint(lit, 10, 64)
	}
	return int64(u), err
}

func (p *intParser) ternary() int64 {
	cond := p.binary(1)
	if p.tok.op != "?" || p.tok.ident {
		return cond
	}
	p.next()
	a := p.ternary()
	if p.tok.op != ":" {
		p.fail("expected ':'")
		return 0
	}
	p.next()
	b := p.ternary()
	if cond != 0 {
		return a
	}
	return b
}

func (p *intParser) binary(minPrec int) int64 {
	lhs := p.unary()
	for p.err == nil && !p.tok.ident {
		op := p.tok.op
		prec, ok := binaryPrec[op]
		if !ok || prec < minPrec {
			return lhs
		}
		p.next()
		rhs := p.binary(prec + 1)
		lhs = p.apply(op, lhs, rhs)
	}
	return lhs
}

func (p *intParser) apply(op string, a, b int64) int64 {
	switch op {
	case "||":
		return boolInt(a != 0 || b != 0)
	case "&&":
		return boolInt(a != 0 && b != 0)
	case "|":
		return a | b
	case "^":
		return a ^ b
	case "&":
		return a & b
	case "==":
		return boolInt(a == b)
	case "!=":
		return boolInt(a != b)
	case "<":
		return boolInt(a < b)
	case "<=":
		return boolInt(a <= b)
	case ">":
		return boolInt(a > b)
	case ">=":
		return boolInt(a >= b)
	case "<<":
		return a << uint64(b&63)
	case ">>":
		return a >> uint64(b&63)
	case "+":
		return a + b
	case "-":
		return a - b
	case "*":
		return a * b
	case "/", "%":
		if b == 0 {
			p.fail("division by zero")
			return 0
		}
		if op == "/" {
			return a / b
		}
		return a % b
	}
	return 0
}

func (p *intParser) unary() int64 {
	if p.err != nil {
		return 0
	}
	t := p.tok
	switch {
	case t.eof:
		p.fail("unexpected end of expression")
		return 0
	case t.ident:
		p.next()
		return 0
	case t.op == "":
		p.next()
		return t.num
	case t.op == "(":
		p.next()
		v := p.ternary()
		if p.tok.op != ")" || p.tok.ident {
			p.fail("expected ')'")
			return 0
		}
		p.next()
		return v
	}
	p.next()
	v := p.unary()
	switch t.op {
	case "!":
		return boolInt(v == 0)
	case "~":
		return ^v
	case "-":
		return -v
	case "+":
		return v
	}
	p.fail("unexpected %q", t.op)
	return 0
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
