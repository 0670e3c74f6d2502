package compiler

import "github.com/anonymousaardvark/qi/pkg/bytecode"

const maxLocals = 256 // slot index must fit the 1-byte OP_GET_LOCAL/OP_SET_LOCAL operand

func (c *Compiler) beginScope() { c.cur.scopeDepth++ }

// endScope pops every local declared in the scope just closed,
// emitting OP_CLOSE_UPVALUE for any that a nested closure captured (so
// its storage survives the pop) and a plain OP_POP otherwise.
func (c *Compiler) endScope() {
	c.cur.scopeDepth--
	locals := c.cur.locals
	for len(locals) > 0 && locals[len(locals)-1].depth > c.cur.scopeDepth {
		if locals[len(locals)-1].isCaptured {
			c.emitByte(byte(bytecode.OpCloseUpvalue))
		} else {
			c.emitByte(byte(bytecode.OpPop))
		}
		locals = locals[:len(locals)-1]
	}
	c.cur.locals = locals
}

// declareLocal registers name as a new local in the current scope. Top
// level (scopeDepth 0) declarations are globals and never reach here.
func (c *Compiler) declareLocal(name string) {
	if c.cur.scopeDepth == 0 {
		return
	}
	for i := len(c.cur.locals) - 1; i >= 0; i-- {
		l := &c.cur.locals[i]
		if l.depth != -1 && l.depth < c.cur.scopeDepth {
			break
		}
		if l.name == name {
			c.error("此作用域中已存在同名变量")
			return
		}
	}
	c.addLocal(name)
}

func (c *Compiler) addLocal(name string) {
	if len(c.cur.locals) >= maxLocals {
		c.error("函数中局部变量过多")
		return
	}
	c.cur.locals = append(c.cur.locals, local{name: name, depth: -1})
}

// markInitialized finishes initializing the most recently declared
// local, making it visible to its own initializer's later subclauses
// and to sibling expressions: a local isn't resolvable until its
// initializer has fully evaluated.
func (c *Compiler) markInitialized() {
	if c.cur.scopeDepth == 0 {
		return
	}
	c.cur.locals[len(c.cur.locals)-1].depth = c.cur.scopeDepth
}

// resolveLocal finds name in ctx's own locals, innermost scope first.
// Returns -1 if not found.
func resolveLocal(ctx *context, name string) int {
	for i := len(ctx.locals) - 1; i >= 0; i-- {
		if ctx.locals[i].name == name {
			if ctx.locals[i].depth == -1 {
				return -2 // sentinel: "declared but not yet initialized"
			}
			return i
		}
	}
	return -1
}

// resolveUpvalue finds name in an enclosing context, capturing it as a
// chain of upvalue entries through every intervening context: each
// context only ever references its immediately enclosing context's
// locals or upvalues, never reaching further up directly.
func resolveUpvalue(ctx *context, name string) int {
	if ctx.enclosing == nil {
		return -1
	}
	if local := resolveLocal(ctx.enclosing, name); local >= 0 {
		ctx.enclosing.locals[local].isCaptured = true
		return addUpvalue(ctx, local, true)
	} else if local == -2 {
		return -2
	}
	if up := resolveUpvalue(ctx.enclosing, name); up >= 0 {
		return addUpvalue(ctx, up, false)
	} else if up == -2 {
		return -2
	}
	return -1
}

func addUpvalue(ctx *context, index int, isLocal bool) int {
	for i, u := range ctx.upvalues {
		if u.index == index && u.isLocal == isLocal {
			return i
		}
	}
	ctx.upvalues = append(ctx.upvalues, upvalueEntry{index: index, isLocal: isLocal})
	ctx.function.UpvalueCount = len(ctx.upvalues)
	return len(ctx.upvalues) - 1
}
