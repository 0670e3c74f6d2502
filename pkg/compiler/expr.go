package compiler

import (
	"strconv"
	"strings"

	"github.com/anonymousaardvark/qi/pkg/bytecode"
	"github.com/anonymousaardvark/qi/pkg/lexer"
	"github.com/anonymousaardvark/qi/pkg/value"
)

// precedence orders Qi's operators from loosest to tightest binding,
// with a bitwise tier slotted in between comparison and the arithmetic
// operators.
type precedence int

const (
	precNone precedence = iota
	precAssignment
	precOr
	precAnd
	precEquality
	precComparison
	precBitOr
	precBitXor
	precBitAnd
	precShift
	precTerm
	precFactor
	precUnary
	precCall
	precPrimary
)

type parseFn func(c *Compiler, canAssign bool)

type parseRule struct {
	prefix     parseFn
	infix      parseFn
	precedence precedence
}

var rules map[lexer.TokenType]parseRule

func init() {
	rules = map[lexer.TokenType]parseRule{
		lexer.TokenLeftParen:    {prefix: (*Compiler).grouping, infix: (*Compiler).call, precedence: precCall},
		lexer.TokenLeftBracket:  {prefix: (*Compiler).list, infix: (*Compiler).subscript, precedence: precCall},
		lexer.TokenDot:          {infix: (*Compiler).dot, precedence: precCall},
		lexer.TokenMinus:        {prefix: (*Compiler).unary, infix: (*Compiler).binary, precedence: precTerm},
		lexer.TokenPlus:         {infix: (*Compiler).binary, precedence: precTerm},
		lexer.TokenSlash:        {infix: (*Compiler).binary, precedence: precFactor},
		lexer.TokenStar:         {infix: (*Compiler).binary, precedence: precFactor},
		lexer.TokenPercent:      {infix: (*Compiler).binary, precedence: precFactor},
		lexer.TokenBang:         {prefix: (*Compiler).unary},
		lexer.TokenBangEqual:    {infix: (*Compiler).binary, precedence: precEquality},
		lexer.TokenEqualEqual:   {infix: (*Compiler).binary, precedence: precEquality},
		lexer.TokenGreater:      {infix: (*Compiler).binary, precedence: precComparison},
		lexer.TokenGreaterEqual: {infix: (*Compiler).binary, precedence: precComparison},
		lexer.TokenLess:         {infix: (*Compiler).binary, precedence: precComparison},
		lexer.TokenLessEqual:    {infix: (*Compiler).binary, precedence: precComparison},
		lexer.TokenAmp:          {infix: (*Compiler).binary, precedence: precBitAnd},
		lexer.TokenPipe:         {infix: (*Compiler).binary, precedence: precBitOr},
		lexer.TokenCaret:        {infix: (*Compiler).binary, precedence: precBitXor},
		lexer.TokenLessLess:     {infix: (*Compiler).binary, precedence: precShift},
		lexer.TokenGreaterGreater: {infix: (*Compiler).binary, precedence: precShift},
		lexer.TokenTilde:        {prefix: (*Compiler).unary},
		lexer.TokenIdentifier:   {prefix: (*Compiler).variable},
		lexer.TokenString:       {prefix: (*Compiler).stringLiteral},
		lexer.TokenNumber:       {prefix: (*Compiler).number},
		lexer.TokenAnd:          {infix: (*Compiler).and, precedence: precAnd},
		lexer.TokenOr:           {infix: (*Compiler).or, precedence: precOr},
		lexer.TokenFalse:        {prefix: (*Compiler).literal},
		lexer.TokenTrue:         {prefix: (*Compiler).literal},
		lexer.TokenNil:          {prefix: (*Compiler).literal},
		lexer.TokenThis:         {prefix: (*Compiler).this},
		lexer.TokenSuper:        {prefix: (*Compiler).super},
		lexer.TokenPlusPlus:     {prefix: (*Compiler).prefixIncDec},
		lexer.TokenMinusMinus:   {prefix: (*Compiler).prefixIncDec},
	}
}

func (c *Compiler) getRule(t lexer.TokenType) parseRule { return rules[t] }

func (c *Compiler) expression() { c.parsePrecedence(precAssignment) }

func (c *Compiler) parsePrecedence(prec precedence) {
	c.advance()
	rule := c.getRule(c.previous.Type)
	if rule.prefix == nil {
		c.error("期望表达式")
		return
	}
	canAssign := prec <= precAssignment
	rule.prefix(c, canAssign)

	for prec <= c.getRule(c.current.Type).precedence {
		c.advance()
		infix := c.getRule(c.previous.Type).infix
		infix(c, canAssign)
	}

	if canAssign && (c.match(lexer.TokenEqual) || c.checkCompoundAssign()) {
		c.error("无效的赋值目标")
	}
}

func (c *Compiler) checkCompoundAssign() bool {
	switch c.current.Type {
	case lexer.TokenPlusEqual, lexer.TokenMinusEqual, lexer.TokenStarEqual,
		lexer.TokenSlashEqual, lexer.TokenPercentEqual:
		return true
	}
	return false
}

// compoundOp consumes a compound-assignment token and reports the
// arithmetic opcode it desugars to: `x += y` compiles as if written
// `x = x + y`.
func (c *Compiler) compoundOp() bytecode.Opcode {
	switch {
	case c.match(lexer.TokenPlusEqual):
		return bytecode.OpAdd
	case c.match(lexer.TokenMinusEqual):
		return bytecode.OpSubtract
	case c.match(lexer.TokenStarEqual):
		return bytecode.OpMultiply
	case c.match(lexer.TokenSlashEqual):
		return bytecode.OpDivide
	case c.match(lexer.TokenPercentEqual):
		return bytecode.OpModulo
	}
	return 0
}

func (c *Compiler) number(canAssign bool) {
	n, _ := strconv.ParseFloat(c.previous.Lexeme, 64)
	c.emitConstant(value.Num(n))
}

func (c *Compiler) stringLiteral(canAssign bool) {
	raw := c.previous.Lexeme
	raw = raw[1 : len(raw)-1] // strip surrounding quotes
	raw = unescape(raw)
	c.emitConstant(value.ObjVal(c.heap.InternString(raw)))
}

func unescape(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var b strings.Builder
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		if runes[i] == '\\' && i+1 < len(runes) {
			i++
			switch runes[i] {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			case '"':
				b.WriteByte('"')
			case '\\':
				b.WriteByte('\\')
			default:
				b.WriteRune(runes[i])
			}
			continue
		}
		b.WriteRune(runes[i])
	}
	return b.String()
}

func (c *Compiler) literal(canAssign bool) {
	switch c.previous.Type {
	case lexer.TokenFalse:
		c.emitOp(bytecode.OpFalse)
	case lexer.TokenTrue:
		c.emitOp(bytecode.OpTrue)
	case lexer.TokenNil:
		c.emitOp(bytecode.OpNil)
	}
}

func (c *Compiler) grouping(canAssign bool) {
	c.expression()
	c.consume(lexer.TokenRightParen, "期望 ')' 来结束表达式")
}

func (c *Compiler) unary(canAssign bool) {
	opType := c.previous.Type
	c.parsePrecedence(precUnary)
	switch opType {
	case lexer.TokenMinus:
		c.emitOp(bytecode.OpNegate)
	case lexer.TokenBang:
		c.emitOp(bytecode.OpNot)
	case lexer.TokenTilde:
		c.emitOp(bytecode.OpBitwiseNot)
	}
}

func (c *Compiler) binary(canAssign bool) {
	opType := c.previous.Type
	rule := c.getRule(opType)
	c.parsePrecedence(rule.precedence + 1)

	switch opType {
	case lexer.TokenBangEqual:
		c.emitOp(bytecode.OpEqual)
		c.emitOp(bytecode.OpNot)
	case lexer.TokenEqualEqual:
		c.emitOp(bytecode.OpEqual)
	case lexer.TokenGreater:
		c.emitOp(bytecode.OpGreater)
	case lexer.TokenGreaterEqual:
		c.emitOp(bytecode.OpLess)
		c.emitOp(bytecode.OpNot)
	case lexer.TokenLess:
		c.emitOp(bytecode.OpLess)
	case lexer.TokenLessEqual:
		c.emitOp(bytecode.OpGreater)
		c.emitOp(bytecode.OpNot)
	case lexer.TokenPlus:
		c.emitOp(bytecode.OpAdd)
	case lexer.TokenMinus:
		c.emitOp(bytecode.OpSubtract)
	case lexer.TokenStar:
		c.emitOp(bytecode.OpMultiply)
	case lexer.TokenSlash:
		c.emitOp(bytecode.OpDivide)
	case lexer.TokenPercent:
		c.emitOp(bytecode.OpModulo)
	case lexer.TokenAmp:
		c.emitOp(bytecode.OpBitwiseAnd)
	case lexer.TokenPipe:
		c.emitOp(bytecode.OpBitwiseOr)
	case lexer.TokenCaret:
		c.emitOp(bytecode.OpBitwiseXor)
	case lexer.TokenLessLess:
		c.emitOp(bytecode.OpBitwiseLeftShift)
	case lexer.TokenGreaterGreater:
		c.emitOp(bytecode.OpBitwiseRightShift)
	}
}

// and/or short-circuit: the left operand's truth value is left on the
// stack if it already decides the result, otherwise the right operand
// is evaluated and becomes the result.
func (c *Compiler) and(canAssign bool) {
	endJump := c.emitJump(bytecode.OpJumpIfFalse)
	c.emitOp(bytecode.OpPop)
	c.parsePrecedence(precAnd)
	c.patchJump(endJump)
}

func (c *Compiler) or(canAssign bool) {
	elseJump := c.emitJump(bytecode.OpJumpIfFalse)
	endJump := c.emitJump(bytecode.OpJump)
	c.patchJump(elseJump)
	c.emitOp(bytecode.OpPop)
	c.parsePrecedence(precOr)
	c.patchJump(endJump)
}

func (c *Compiler) call(canAssign bool) {
	argCount := c.argumentList()
	c.emitBytes(byte(bytecode.OpCall), argCount)
}

func (c *Compiler) argumentList() byte {
	var count int
	if !c.check(lexer.TokenRightParen) {
		for {
			c.expression()
			if count == 255 {
				c.error("参数过多")
			}
			count++
			if !c.match(lexer.TokenComma) {
				break
			}
		}
	}
	c.consume(lexer.TokenRightParen, "期望 ')' 来结束参数列表")
	return byte(count)
}

func (c *Compiler) list(canAssign bool) {
	var count int
	if !c.check(lexer.TokenRightBracket) {
		for {
			c.expression()
			count++
			if !c.match(lexer.TokenComma) {
				break
			}
		}
	}
	c.consume(lexer.TokenRightBracket, "期望 ']' 来结束列表")
	c.emitBytes(byte(bytecode.OpBuildList), byte(count))
}

// subscript compiles `expr[index]`, and if followed by an assignment
// operator, its store form. Postfix/prefix ++/-- are not supported on
// subscript targets: the instruction set's Dup/DoubleDup only reach
// the top one or two stack slots, which is enough to re-fetch a
// receiver for a compound store but not enough to also preserve a
// pre-increment snapshot underneath it.
func (c *Compiler) subscript(canAssign bool) {
	c.expression()
	c.consume(lexer.TokenRightBracket, "期望 ']' 来结束下标")

	if canAssign && c.match(lexer.TokenEqual) {
		c.expression()
		c.emitOp(bytecode.OpStoreSubscr)
		return
	}
	if canAssign && c.checkCompoundAssign() {
		c.emitOp(bytecode.OpDoubleDup)
		c.emitOp(bytecode.OpIndexSubscr)
		op := c.compoundOp()
		c.expression()
		c.emitOp(op)
		c.emitOp(bytecode.OpStoreSubscr)
		return
	}
	c.emitOp(bytecode.OpIndexSubscr)
}

// dot compiles `expr.name`, its assignment/compound-assignment forms,
// prefix `++`/`--` (via prefixIncDec, called before dot ever sees the
// token — see below), and the OP_INVOKE call-fusion case. Postfix
// `obj.f++` is deliberately NOT supported: unlike a plain variable,
// returning the pre-increment value needs the receiver duplicated
// twice (once to fetch the old value, once to store the new one)
// while that old value stays reachable on top — three live copies at
// once, one more than OP_DUP/OP_DOUBLE_DUP can reach.
func (c *Compiler) dot(canAssign bool) {
	c.consume(lexer.TokenIdentifier, "期望属性名")
	name := c.identifierConstant(c.previous.Lexeme)

	switch {
	case canAssign && c.match(lexer.TokenEqual):
		c.expression()
		c.emitBytes(byte(bytecode.OpSetProperty), name)
	case canAssign && c.checkCompoundAssign():
		c.emitOp(bytecode.OpDup)
		c.emitBytes(byte(bytecode.OpGetProperty), name)
		op := c.compoundOp()
		c.expression()
		c.emitOp(op)
		c.emitBytes(byte(bytecode.OpSetProperty), name)
	case canAssign && (c.check(lexer.TokenPlusPlus) || c.check(lexer.TokenMinusMinus)):
		c.error("++/-- 在属性上只能用于前缀形式 (++obj.属性)")
	case c.match(lexer.TokenLeftParen):
		argCount := c.argumentList()
		c.emitBytes(byte(bytecode.OpInvoke), name)
		c.emitByte(argCount)
	default:
		c.emitBytes(byte(bytecode.OpGetProperty), name)
	}
}

// prefixIncDec handles `++x`/`--x` and the single-property form
// `++obj.f`/`--obj.f`.
func (c *Compiler) prefixIncDec(canAssign bool) {
	op := bytecode.OpIncrement
	if c.previous.Type == lexer.TokenMinusMinus {
		op = bytecode.OpDecrement
	}
	if !c.check(lexer.TokenIdentifier) {
		c.error("++/-- 只能用于变量或属性")
		return
	}
	c.advance()
	name := c.previous.Lexeme
	if c.match(lexer.TokenDot) {
		c.consume(lexer.TokenIdentifier, "期望属性名")
		propName := c.identifierConstant(c.previous.Lexeme)
		c.namedVariableGet(name)
		c.emitOp(bytecode.OpDup)
		c.emitBytes(byte(bytecode.OpGetProperty), propName)
		c.emitOp(op)
		c.emitBytes(byte(bytecode.OpSetProperty), propName)
		return
	}
	c.namedVariableIncDec(name, op)
}

func (c *Compiler) variable(canAssign bool) { c.namedVariable(c.previous.Lexeme, canAssign) }

func (c *Compiler) this(canAssign bool) {
	if c.class == nil {
		c.error("不能在类之外使用 '这'")
		return
	}
	c.variable(false)
}

func (c *Compiler) super(canAssign bool) {
	if c.class == nil {
		c.error("不能在类之外使用 '父类'")
	} else if !c.class.hasSuperclass {
		c.error("此类没有父类")
	}
	c.consume(lexer.TokenDot, "期望 '.' 在 '父类' 之后")
	c.consume(lexer.TokenIdentifier, "期望父类方法名")
	name := c.identifierConstant(c.previous.Lexeme)

	c.namedVariableGet("这")
	if c.match(lexer.TokenLeftParen) {
		argCount := c.argumentList()
		c.namedVariableGet("父类")
		c.emitBytes(byte(bytecode.OpSuperInvoke), name)
		c.emitByte(argCount)
	} else {
		c.namedVariableGet("父类")
		c.emitBytes(byte(bytecode.OpGetSuper), name)
	}
}
