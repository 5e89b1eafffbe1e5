package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func values(m map[string]Value) Resolver {
	return ResolverFunc(func(name string) Value {
		if v, ok := m[name]; ok {
			return v
		}
		return False
	})
}

func TestTokenize(t *testing.T) {
	tokens, err := Tokenize(`FOO != "bar" && !(BAZ >= 0x10) || m $(shell,echo (x))`)
	require.NoError(t, err)

	kinds := make([]TokenKind, len(tokens))
	for i, tok := range tokens {
		kinds[i] = tok.Kind
	}
	assert.Equal(t, []TokenKind{
		TokenVar, TokenNEqual, TokenString, TokenAnd, TokenNot, TokenLParen,
		TokenVar, TokenGEqual, TokenNumber, TokenRParen, TokenOr, TokenTristate,
		TokenInvalid,
	}, kinds)
	assert.Equal(t, "bar", tokens[2].Text)
	assert.Equal(t, "$(shell,echo (x))", tokens[12].Text)
}

func TestTokenizeErrors(t *testing.T) {
	for _, text := range []string{`"open`, `A # B`, `$(unterminated`} {
		_, err := Tokenize(text)
		assert.Error(t, err, text)
	}
}

func TestParsePrecedence(t *testing.T) {
	tokens, err := Tokenize("A && B || C")
	require.NoError(t, err)
	root, err := Parse(tokens)
	require.NoError(t, err)

	or, ok := root.(*Binary)
	require.True(t, ok)
	assert.Equal(t, TokenOr, or.Op)
	and, ok := or.Left.(*Binary)
	require.True(t, ok, "left operand of || should be the && expression")
	assert.Equal(t, TokenAnd, and.Op)
	assert.Equal(t, "C", or.Right.String())
}

func TestParseNotBindsOperandOnly(t *testing.T) {
	tokens, err := Tokenize("!A && B")
	require.NoError(t, err)
	root, err := Parse(tokens)
	require.NoError(t, err)

	and, ok := root.(*Binary)
	require.True(t, ok)
	assert.Equal(t, TokenAnd, and.Op)
	not, ok := and.Left.(*Not)
	require.True(t, ok)
	assert.Equal(t, "A", not.X.String())
}

func TestParseErrors(t *testing.T) {
	for _, text := range []string{"A &&", "(A || B", "A || B)", "A B", "&& A", "!", "()"} {
		tokens, err := Tokenize(text)
		require.NoError(t, err, text)
		_, err = Parse(tokens)
		assert.Error(t, err, text)
	}
}

func TestEvaluate(t *testing.T) {
	r := values(map[string]Value{
		"A":    Bool(true),
		"B":    Bool(false),
		"NUM":  Number(16),
		"NAME": String("board"),
	})

	tests := []struct {
		text string
		want bool
	}{
		{"A && !B", true},
		{"A && B", false},
		{"!A || B", false},
		{"A = y", true},
		{"B = n", true},
		{"B != y", true},
		{"NUM = 0x10", true},
		{"NUM > 15 && NUM <= 16", true},
		{`NAME = "board"`, true},
		{`NAME != "other"`, true},
		{"UNKNOWN", false},
		{"!UNKNOWN", true},
		{"m", true},
		{"(A || B) && (NUM >= 20 || A)", true},
		{"$(VAR)", false},
	}
	for _, tt := range tests {
		got := Compile(tt.text).True(r)
		assert.Equal(t, tt.want, got, tt.text)
	}
}

func TestCompileDegradesToFalse(t *testing.T) {
	e := Compile("A && (B ||")
	assert.False(t, e.Valid())
	assert.Error(t, e.Err)
	assert.False(t, e.True(values(map[string]Value{"A": Bool(true), "B": Bool(true)})))
}

func TestVariables(t *testing.T) {
	e := Compile("B && (A || !C) && B = y && 3 > 2")
	assert.Equal(t, []string{"A", "B", "C"}, e.Variables())
}

func TestMixedComparisonUsesStringForm(t *testing.T) {
	r := values(map[string]Value{"S": String("10")})
	assert.True(t, Compile("S = 10").True(r))
	assert.True(t, Compile(`S < "9"`).True(r))
}
