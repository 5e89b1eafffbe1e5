package expr

import (
	"fmt"
	"regexp"
	"strings"
)

// TokenKind classifies a lexical token of a Kconfig expression.
type TokenKind int

const (
	TokenInvalid TokenKind = iota
	TokenNEqual
	TokenNot
	TokenAnd
	TokenOr
	TokenLParen
	TokenRParen
	TokenGEqual
	TokenLEqual
	TokenEqual
	TokenGreater
	TokenLess
	TokenTristate
	TokenString
	TokenNumber
	TokenVar
)

var tokenNames = map[TokenKind]string{
	TokenInvalid:  "macro",
	TokenNEqual:   "!=",
	TokenNot:      "!",
	TokenAnd:      "&&",
	TokenOr:       "||",
	TokenLParen:   "(",
	TokenRParen:   ")",
	TokenGEqual:   ">=",
	TokenLEqual:   "<=",
	TokenEqual:    "=",
	TokenGreater:  ">",
	TokenLess:     "<",
	TokenTristate: "tristate",
	TokenString:   "string",
	TokenNumber:   "number",
	TokenVar:      "symbol",
}

func (k TokenKind) String() string {
	if s, ok := tokenNames[k]; ok {
		return s
	}
	return fmt.Sprintf("token(%d)", int(k))
}

// Token is one lexical element with its byte offset in the source text.
type Token struct {
	Kind   TokenKind
	Text   string
	Offset int
}

// operators is matched in order, so two-character operators come before
// their one-character prefixes.
var operators = []struct {
	text string
	kind TokenKind
}{
	{"!=", TokenNEqual},
	{"!", TokenNot},
	{"&&", TokenAnd},
	{"||", TokenOr},
	{"(", TokenLParen},
	{")", TokenRParen},
	{">=", TokenGEqual},
	{"<=", TokenLEqual},
	{"=", TokenEqual},
	{">", TokenGreater},
	{"<", TokenLess},
}

var (
	wordPattern   = regexp.MustCompile(`^-?[A-Za-z0-9_]+`)
	numberPattern = regexp.MustCompile(`^(?:0[xX][0-9a-fA-F]+|-?[0-9]+)$`)
)

// SyntaxError is a tokenizer or parser failure at a byte offset.
type SyntaxError struct {
	Offset int
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("offset %d: %s", e.Offset, e.Msg)
}

// Tokenize splits a Kconfig expression into tokens.
func Tokenize(text string) ([]Token, error) {
	var tokens []Token
	i := 0
outer:
	for i < len(text) {
		c := text[i]
		if c == ' ' || c == '\t' || c == '\r' || c == '\n' {
			i++
			continue
		}

		if strings.HasPrefix(text[i:], "$(") {
			end, ok := matchParen(text, i+1)
			if !ok {
				return tokens, &SyntaxError{i, "unterminated macro reference"}
			}
			tokens = append(tokens, Token{TokenInvalid, text[i : end+1], i})
			i = end + 1
			continue
		}

		for _, op := range operators {
			if strings.HasPrefix(text[i:], op.text) {
				tokens = append(tokens, Token{op.kind, op.text, i})
				i += len(op.text)
				continue outer
			}
		}

		if c == '"' || c == '\'' {
			end, ok := scanString(text, i)
			if !ok {
				return tokens, &SyntaxError{i, "unterminated string"}
			}
			tokens = append(tokens, Token{TokenString, unquote(text[i : end+1]), i})
			i = end + 1
			continue
		}

		if word := wordPattern.FindString(text[i:]); word != "" {
			kind := TokenVar
			switch {
			case word == "y" || word == "n" || word == "m":
				kind = TokenTristate
			case numberPattern.MatchString(word):
				kind = TokenNumber
			case strings.HasPrefix(word, "-"):
				return tokens, &SyntaxError{i, fmt.Sprintf("invalid token %q", word)}
			}
			tokens = append(tokens, Token{kind, word, i})
			i += len(word)
			continue
		}

		return tokens, &SyntaxError{i, fmt.Sprintf("unexpected character %q", c)}
	}
	return tokens, nil
}

// matchParen returns the index of the parenthesis closing the one at open.
func matchParen(text string, open int) (int, bool) {
	depth := 0
	for i := open; i < len(text); i++ {
		switch text[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

func scanString(text string, start int) (int, bool) {
	quote := text[start]
	for i := start + 1; i < len(text); i++ {
		switch text[i] {
		case '\\':
			i++
		case quote:
			return i, true
		}
	}
	return 0, false
}

func unquote(s string) string {
	s = s[1 : len(s)-1]
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
