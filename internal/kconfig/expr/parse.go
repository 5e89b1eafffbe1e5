package expr

import (
	"fmt"
	"sort"
	"strings"
)

// Resolver supplies symbol values during evaluation.
type Resolver interface {
	// Resolve returns the value of the named symbol. Unknown symbols
	// resolve to False.
	Resolve(name string) Value
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(name string) Value

// Resolve calls f(name).
func (f ResolverFunc) Resolve(name string) Value { return f(name) }

// Node is a node of a parsed expression tree.
type Node interface {
	Eval(r Resolver) Value
	String() string
}

// Binary is an infix operation.
type Binary struct {
	Op          TokenKind
	Left, Right Node
}

// Not is logical negation.
type Not struct {
	X Node
}

// Var is a symbol reference.
type Var struct {
	Name string
}

// Literal is a constant string, number or tristate.
type Literal struct {
	Text  string
	Value Value
}

// Macro is an unexpanded $(...) reference.
type Macro struct {
	Text string
}

func (b *Binary) Eval(r Resolver) Value {
	switch b.Op {
	case TokenOr:
		return Bool(b.Left.Eval(r).Truth() || b.Right.Eval(r).Truth())
	case TokenAnd:
		return Bool(b.Left.Eval(r).Truth() && b.Right.Eval(r).Truth())
	}
	l, rv := b.Left.Eval(r), b.Right.Eval(r)
	switch b.Op {
	case TokenEqual:
		return Bool(l.Equal(rv))
	case TokenNEqual:
		return Bool(!l.Equal(rv))
	case TokenLess:
		return Bool(l.Compare(rv) < 0)
	case TokenLEqual:
		return Bool(l.Compare(rv) <= 0)
	case TokenGreater:
		return Bool(l.Compare(rv) > 0)
	case TokenGEqual:
		return Bool(l.Compare(rv) >= 0)
	}
	return False
}

func (b *Binary) String() string {
	return fmt.Sprintf("(%s %s %s)", b.Left, b.Op, b.Right)
}

func (n *Not) Eval(r Resolver) Value { return Bool(!n.X.Eval(r).Truth()) }
func (n *Not) String() string        { return "!" + n.X.String() }

func (v *Var) Eval(r Resolver) Value {
	if r == nil {
		return False
	}
	return r.Resolve(v.Name)
}
func (v *Var) String() string { return v.Name }

func (l *Literal) Eval(Resolver) Value { return l.Value }
func (l *Literal) String() string {
	if l.Value.Kind == KindString {
		return fmt.Sprintf("%q", l.Value.S)
	}
	return l.Text
}

func (m *Macro) Eval(Resolver) Value { return False }
func (m *Macro) String() string      { return m.Text }

// precedence levels, lowest first. Operators on the same level associate
// to the left.
var levels = [][]TokenKind{
	{TokenOr},
	{TokenAnd},
	{TokenLess, TokenLEqual, TokenGreater, TokenGEqual},
	{TokenEqual, TokenNEqual},
}

// Parse builds an expression tree by splitting the token list around the
// lowest-precedence operator found outside parentheses.
func Parse(tokens []Token) (Node, error) {
	if len(tokens) == 0 {
		return nil, &SyntaxError{0, "missing operand"}
	}

	depths := make([]int, len(tokens))
	depth := 0
	for i, t := range tokens {
		switch t.Kind {
		case TokenLParen:
			depth++
		case TokenRParen:
			depth--
			if depth < 0 {
				return nil, &SyntaxError{t.Offset, "unbalanced ')'"}
			}
		}
		depths[i] = depth
	}
	if depth != 0 {
		return nil, &SyntaxError{tokens[0].Offset, "unbalanced '('"}
	}

	for _, level := range levels {
		for i := len(tokens) - 1; i >= 0; i-- {
			if depths[i] != 0 || !hasKind(level, tokens[i].Kind) {
				continue
			}
			if i == 0 || i == len(tokens)-1 {
				return nil, &SyntaxError{tokens[i].Offset, fmt.Sprintf("operator %s needs two operands", tokens[i].Kind)}
			}
			left, err := Parse(tokens[:i])
			if err != nil {
				return nil, err
			}
			right, err := Parse(tokens[i+1:])
			if err != nil {
				return nil, err
			}
			return &Binary{Op: tokens[i].Kind, Left: left, Right: right}, nil
		}
	}

	first := tokens[0]
	if first.Kind == TokenNot {
		x, err := Parse(tokens[1:])
		if err != nil {
			return nil, err
		}
		return &Not{X: x}, nil
	}

	if first.Kind == TokenLParen && tokens[len(tokens)-1].Kind == TokenRParen && enclosed(tokens) {
		return Parse(tokens[1 : len(tokens)-1])
	}

	if len(tokens) != 1 {
		return nil, &SyntaxError{tokens[1].Offset, fmt.Sprintf("unexpected %s", tokens[1].Kind)}
	}

	switch first.Kind {
	case TokenVar:
		return &Var{Name: first.Text}, nil
	case TokenTristate:
		return &Literal{Text: first.Text, Value: Bool(first.Text != "n")}, nil
	case TokenNumber:
		n, ok := ParseNumber(first.Text)
		if !ok {
			return nil, &SyntaxError{first.Offset, fmt.Sprintf("invalid number %q", first.Text)}
		}
		return &Literal{Text: first.Text, Value: Number(n)}, nil
	case TokenString:
		return &Literal{Text: first.Text, Value: String(first.Text)}, nil
	case TokenInvalid:
		return &Macro{Text: first.Text}, nil
	}
	return nil, &SyntaxError{first.Offset, fmt.Sprintf("unexpected %s", first.Kind)}
}

// enclosed reports whether the opening parenthesis at tokens[0] closes at
// the very last token.
func enclosed(tokens []Token) bool {
	depth := 0
	for i, t := range tokens {
		switch t.Kind {
		case TokenLParen:
			depth++
		case TokenRParen:
			depth--
			if depth == 0 && i != len(tokens)-1 {
				return false
			}
		}
	}
	return true
}

func hasKind(kinds []TokenKind, k TokenKind) bool {
	for _, c := range kinds {
		if c == k {
			return true
		}
	}
	return false
}

// Expression is a compiled expression. A zero or failed Expression
// evaluates to false.
type Expression struct {
	Text string
	Root Node
	// Err holds the tokenize/parse failure, if any.
	Err error
}

// Compile tokenizes and parses text. It never fails: a malformed
// expression degrades to constant false with Err set.
func Compile(text string) *Expression {
	e := &Expression{Text: strings.TrimSpace(text)}
	tokens, err := Tokenize(e.Text)
	if err != nil {
		e.Err = err
		return e
	}
	root, err := Parse(tokens)
	if err != nil {
		e.Err = err
		return e
	}
	e.Root = root
	return e
}

// Evaluate solves the expression against r.
func (e *Expression) Evaluate(r Resolver) Value {
	if e == nil || e.Root == nil {
		return False
	}
	return e.Root.Eval(r)
}

// True is shorthand for Evaluate(r).Truth().
func (e *Expression) True(r Resolver) bool {
	return e.Evaluate(r).Truth()
}

// Valid reports whether the expression parsed.
func (e *Expression) Valid() bool {
	return e != nil && e.Root != nil
}

// Variables returns the distinct symbol names referenced, sorted.
func (e *Expression) Variables() []string {
	if e == nil || e.Root == nil {
		return nil
	}
	seen := make(map[string]bool)
	Walk(e.Root, func(n Node) {
		if v, ok := n.(*Var); ok {
			seen[v.Name] = true
		}
	})
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Walk calls fn for n and every node below it, depth first.
func Walk(n Node, fn func(Node)) {
	if n == nil {
		return
	}
	fn(n)
	switch x := n.(type) {
	case *Binary:
		Walk(x.Left, fn)
		Walk(x.Right, fn)
	case *Not:
		Walk(x.X, fn)
	}
}

func (e *Expression) String() string {
	if e == nil {
		return ""
	}
	return e.Text
}
