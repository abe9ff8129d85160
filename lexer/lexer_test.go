package lexer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/minic/cc7/token"
)

func kinds(t *testing.T, source string) []token.Kind {
	t.Helper()
	toks, err := New(source).Tokenize()
	require.NoError(t, err)
	var got []token.Kind
	for _, tok := range toks {
		got = append(got, tok.Kind)
	}
	return got
}

func TestTokenizeNumbers(t *testing.T) {
	require.Equal(t, []token.Kind{token.NUMBER, token.NUMBER, token.EOF}, kinds(t, "3 43"))
}

func TestTokenizeOperatorsLongestMatchFirst(t *testing.T) {
	source := "== != <= >= < > + - * / ; = , & ( ) { } [ ]"
	want := []token.Kind{
		token.EQ, token.NE, token.LE, token.GE, token.LT, token.GT,
		token.PLUS, token.MINUS, token.ASTERISK, token.SLASH, token.SEMICOLON,
		token.ASSIGN, token.COMMA, token.AMPERSAND, token.LPAREN, token.RPAREN,
		token.LBRACE, token.RBRACE, token.LBRACKET, token.RBRACKET, token.EOF,
	}
	require.Equal(t, want, kinds(t, source))
}

func TestTokenizeKeywordsRequireWordBoundary(t *testing.T) {
	toks, err := New("if ifoo for forward").Tokenize()
	require.NoError(t, err)
	require.Equal(t, token.IF, toks[0].Kind)
	require.Equal(t, token.IDENT, toks[1].Kind)
	require.Equal(t, token.FOR, toks[2].Kind)
	require.Equal(t, token.IDENT, toks[3].Kind)
}

func TestTokenizeNumberValue(t *testing.T) {
	toks, err := New("123").Tokenize()
	require.NoError(t, err)
	require.Equal(t, 123, toks[0].Value)
	require.Equal(t, 3, toks[0].Length)
}

func TestTokenizeStringLiteral(t *testing.T) {
	toks, err := New(`"hello"`).Tokenize()
	require.NoError(t, err)
	require.Equal(t, token.STRING, toks[0].Kind)
	require.Equal(t, 7, toks[0].Length)
}

func TestTokenizeUnexpectedCharacter(t *testing.T) {
	_, err := New("1 $ 2").Tokenize()
	require.Error(t, err)
	require.Contains(t, err.Error(), "Unexpected character.")
}

func TestTokenLocality(t *testing.T) {
	source := "foo bar123 return 42"
	toks, err := New(source).Tokenize()
	require.NoError(t, err)

	want := []string{"foo", "bar123", "return", "42"}
	require.Len(t, toks, len(want)+1) // +1 for the trailing EOF
	for i, expected := range want {
		tok := toks[i]
		require.Equal(t, expected, source[tok.String:tok.String+tok.Length])
	}
}
