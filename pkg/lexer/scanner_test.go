package lexer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScanner_BasicTokens(t *testing.T) {
	input := `( ) { } [ ] , . ; ~ ^ & |`

	tests := []struct {
		expectedType   TokenType
		expectedLexeme string
	}{
		{TokenLeftParen, "("},
		{TokenRightParen, ")"},
		{TokenLeftBrace, "{"},
		{TokenRightBrace, "}"},
		{TokenLeftBracket, "["},
		{TokenRightBracket, "]"},
		{TokenComma, ","},
		{TokenDot, "."},
		{TokenSemicolon, ";"},
		{TokenTilde, "~"},
		{TokenCaret, "^"},
		{TokenAmp, "&"},
		{TokenPipe, "|"},
		{TokenEOF, ""},
	}

	s := New(input)
	for i, tt := range tests {
		tok := s.Next()
		require.Equalf(t, tt.expectedType, tok.Type, "token %d", i)
		require.Equalf(t, tt.expectedLexeme, tok.Lexeme, "token %d", i)
	}
}

func TestScanner_Operators(t *testing.T) {
	input := `+ - * / % == != < <= > >= = += -= *= /= %= ++ -- << >>`
	expected := []TokenType{
		TokenPlus, TokenMinus, TokenStar, TokenSlash, TokenPercent,
		TokenEqualEqual, TokenBangEqual, TokenLess, TokenLessEqual,
		TokenGreater, TokenGreaterEqual, TokenEqual, TokenPlusEqual,
		TokenMinusEqual, TokenStarEqual, TokenSlashEqual, TokenPercentEqual,
		TokenPlusPlus, TokenMinusMinus, TokenLessLess, TokenGreaterGreater,
		TokenEOF,
	}
	s := New(input)
	for i, want := range expected {
		require.Equalf(t, want, s.Next().Type, "token %d", i)
	}
}

func TestScanner_Keywords(t *testing.T) {
	input := "类 父类 这 如果 否则 当 循环 返回 变量 函数 且 或 打印 真 假 空"
	expected := []TokenType{
		TokenClass, TokenSuper, TokenThis, TokenIf, TokenElse, TokenWhile,
		TokenFor, TokenReturn, TokenVar, TokenFun, TokenAnd, TokenOr,
		TokenPrint, TokenTrue, TokenFalse, TokenNil, TokenEOF,
	}
	s := New(input)
	for i, want := range expected {
		require.Equalf(t, want, s.Next().Type, "token %d", i)
	}
}

func TestScanner_IdentifiersAndNumbers(t *testing.T) {
	s := New(`变量 计数 = 3.14; foo_2 = 10;`)

	tok := s.Next()
	require.Equal(t, TokenVar, tok.Type)

	tok = s.Next()
	require.Equal(t, TokenIdentifier, tok.Type)
	require.Equal(t, "计数", tok.Lexeme)

	tok = s.Next()
	require.Equal(t, TokenEqual, tok.Type)

	tok = s.Next()
	require.Equal(t, TokenNumber, tok.Type)
	require.Equal(t, "3.14", tok.Lexeme)

	tok = s.Next()
	require.Equal(t, TokenSemicolon, tok.Type)

	tok = s.Next()
	require.Equal(t, TokenIdentifier, tok.Type)
	require.Equal(t, "foo_2", tok.Lexeme)
}

func TestScanner_StringLiteral(t *testing.T) {
	s := New(`"你好, world"`)
	tok := s.Next()
	require.Equal(t, TokenString, tok.Type)
	require.Equal(t, `"你好, world"`, tok.Lexeme)
}

func TestScanner_StringLiteralEscapedQuote(t *testing.T) {
	s := New(`"a\"b" x`)
	tok := s.Next()
	require.Equal(t, TokenString, tok.Type)
	require.Equal(t, `"a\"b"`, tok.Lexeme)

	tok = s.Next()
	require.Equal(t, TokenIdentifier, tok.Type)
	require.Equal(t, "x", tok.Lexeme)
}

func TestScanner_UnterminatedString(t *testing.T) {
	s := New(`"never closed`)
	tok := s.Next()
	require.Equal(t, TokenError, tok.Type)
}

func TestScanner_CommentsAndWhitespace(t *testing.T) {
	s := New("// a line comment\n变量 /* block\ncomment */ x;")
	tok := s.Next()
	require.Equal(t, TokenVar, tok.Type)
	require.Equal(t, 2, tok.Line)

	tok = s.Next()
	require.Equal(t, TokenIdentifier, tok.Type)
	require.Equal(t, "x", tok.Lexeme)
	require.Equal(t, 3, tok.Line)
}

func TestScanner_LineTracking(t *testing.T) {
	s := New("变量 a = 1;\n变量 b = 2;\n")
	var lastLine int
	for {
		tok := s.Next()
		if tok.Type == TokenEOF {
			break
		}
		lastLine = tok.Line
	}
	require.Equal(t, 2, lastLine)
}
