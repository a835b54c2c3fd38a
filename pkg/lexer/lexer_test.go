package lexer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextTokenPunctuatorsAndOperators(t *testing.T) {
	input := `let x = 1 + 2 * 3; x === 3 ? x : -x;`
	l := New(input)

	want := []TokenType{
		LET, IDENT, ASSIGN, NUMBER, PLUS, NUMBER, STAR, NUMBER, SEMI,
		IDENT, SEQ, NUMBER, QUESTION, IDENT, COLON, MINUS, IDENT, SEMI, EOF,
	}
	for i, wt := range want {
		tok := l.NextToken()
		assert.Equalf(t, wt, tok.Type, "token %d: literal=%q", i, tok.Literal)
	}
}

func TestNumberLiterals(t *testing.T) {
	cases := []struct {
		src  string
		typ  TokenType
		text string
	}{
		{"42", NUMBER, "42"},
		{"3.14", NUMBER, "3.14"},
		{"0x1F", NUMBER, "0x1F"},
		{"0o17", NUMBER, "0o17"},
		{"0b101", NUMBER, "0b101"},
		{"10n", BIGINT, "10n"},
		{"1e10", NUMBER, "1e10"},
	}
	for _, c := range cases {
		tok := New(c.src).NextToken()
		assert.Equal(t, c.typ, tok.Type, c.src)
		assert.Equal(t, c.text, tok.Literal, c.src)
	}
}

func TestStringLiteralEscapes(t *testing.T) {
	tok := New(`"a\nb\tc"`).NextToken()
	require.Equal(t, STRING, tok.Type)
	assert.Equal(t, "a\nb\tc", tok.Literal)
}

func TestRegexVsDivisionDisambiguation(t *testing.T) {
	// After an identifier, '/' is division.
	l := New(`x / y`)
	assert.Equal(t, IDENT, l.NextToken().Type)
	assert.Equal(t, SLASH, l.NextToken().Type)

	// At the start of an expression, '/' begins a regex literal.
	l2 := New(`/ab+c/g`)
	tok := l2.NextToken()
	require.Equal(t, REGEX, tok.Type)
	assert.Equal(t, "/ab+c/g", tok.Literal)
}

func TestKeywords(t *testing.T) {
	l := New("function return if else while for let const")
	want := []TokenType{FUNCTION, RETURN, IF, ELSE, WHILE, FOR, LET, CONST, EOF}
	for _, wt := range want {
		assert.Equal(t, wt, l.NextToken().Type)
	}
}

func TestTokenizeReportsIllegalToken(t *testing.T) {
	_, err := New("let x = @;").Tokenize()
	require.Error(t, err)
	var illegal *IllegalTokenError
	require.ErrorAs(t, err, &illegal)
	assert.Equal(t, "@", illegal.Literal)
}

func TestCommentsAreSkipped(t *testing.T) {
	l := New("// a line comment\nlet /* inline */ x = 1;")
	want := []TokenType{LET, IDENT, ASSIGN, NUMBER, SEMI, EOF}
	for _, wt := range want {
		assert.Equal(t, wt, l.NextToken().Type)
	}
}
