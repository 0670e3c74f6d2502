package compiler

import (
	"fmt"

	"github.com/anonymousaardvark/qi/pkg/lexer"
)

// CompileError is one reported diagnostic: a line number, the
// offending lexeme, and a Chinese message. The
// compiler keeps going after one — panic-mode synchronization skips to
// the next statement boundary — so a single run can report several.
type CompileError struct {
	Line    int
	Lexeme  string
	Message string
}

func (e CompileError) Error() string {
	if e.Lexeme != "" {
		return fmt.Sprintf("[第 %d 行] 错误 位于 '%s': %s", e.Line, e.Lexeme, e.Message)
	}
	return fmt.Sprintf("[第 %d 行] 错误: %s", e.Line, e.Message)
}

// errorAt records a diagnostic at tok, entering panic mode so that
// cascading errors on the same broken construct are suppressed until
// the parser resynchronizes at the next statement boundary.
func (c *Compiler) errorAt(tok token, message string) {
	if c.panicMode {
		return
	}
	c.panicMode = true
	c.hadError = true
	lexeme := tok.Lexeme
	if tok.Type == lexer.TokenError {
		lexeme = ""
	}
	c.errors = append(c.errors, CompileError{Line: tok.Line, Lexeme: lexeme, Message: message})
}

func (c *Compiler) errorAtCurrent(message string) { c.errorAt(c.current, message) }
func (c *Compiler) error(message string)          { c.errorAt(c.previous, message) }
