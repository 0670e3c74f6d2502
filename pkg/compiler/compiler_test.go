package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anonymousaardvark/qi/pkg/bytecode"
	"github.com/anonymousaardvark/qi/pkg/gc"
	"github.com/anonymousaardvark/qi/pkg/value"
)

func compile(t *testing.T, source string) *value.ObjFunction {
	t.Helper()
	fn, errs := New(gc.New()).Compile(source)
	require.Nil(t, errs, "unexpected compile errors: %v", errs)
	return fn
}

func compileErrors(t *testing.T, source string) []CompileError {
	t.Helper()
	fn, errs := New(gc.New()).Compile(source)
	require.Nil(t, fn)
	require.NotEmpty(t, errs)
	return errs
}

func TestCompileNumberLiteralEndsInEnd(t *testing.T) {
	fn := compile(t, "42;")
	code := fn.Chunk.Code
	assert.Equal(t, bytecode.OpConstant, bytecode.Opcode(code[0]))
	// The tail of every chunk: implicit-return sequence then OP_END.
	assert.Equal(t, bytecode.OpEnd, bytecode.Opcode(code[len(code)-1]))
}

func TestCompilePrintStatement(t *testing.T) {
	fn := compile(t, `打印 "你好";`)
	code := fn.Chunk.Code
	assert.Equal(t, bytecode.OpConstant, bytecode.Opcode(code[0]))
	assert.Equal(t, bytecode.OpPrint, bytecode.Opcode(code[2]))
}

func TestCompileExpressionStatementPops(t *testing.T) {
	fn := compile(t, "1 + 2;")
	code := fn.Chunk.Code
	assert.Equal(t, bytecode.OpAdd, bytecode.Opcode(code[4]))
	assert.Equal(t, bytecode.OpPop, bytecode.Opcode(code[5]))
}

func TestCompileLocalVariableGetSet(t *testing.T) {
	fn := compile(t, `
{
    变量 x = 1;
    x = 2;
}
`)
	var gotSetLocal bool
	for _, b := range fn.Chunk.Code {
		if bytecode.Opcode(b) == bytecode.OpSetLocal {
			gotSetLocal = true
		}
	}
	assert.True(t, gotSetLocal, "expected a SET_LOCAL instruction for the block-scoped assignment")
}

func TestCompileGlobalVariableUsesGlobalOps(t *testing.T) {
	fn := compile(t, `
变量 x = 1;
打印 x;
`)
	var sawDefineGlobal, sawGetGlobal bool
	for _, b := range fn.Chunk.Code {
		switch bytecode.Opcode(b) {
		case bytecode.OpDefineGlobal:
			sawDefineGlobal = true
		case bytecode.OpGetGlobal:
			sawGetGlobal = true
		}
	}
	assert.True(t, sawDefineGlobal)
	assert.True(t, sawGetGlobal)
}

func TestCompilePostfixIncrementOnVariable(t *testing.T) {
	fn := compile(t, `
变量 x = 1;
x++;
`)
	var ops []bytecode.Opcode
	// Walk just enough to find the get/dup/increment/set/pop shape; the
	// exact slot byte doesn't matter here, only the opcode sequence.
	for i := 0; i < len(fn.Chunk.Code); i++ {
		ops = append(ops, bytecode.Opcode(fn.Chunk.Code[i]))
	}
	found := false
	for i := 0; i+4 < len(ops); i++ {
		if ops[i] == bytecode.OpGetGlobal && ops[i+2] == bytecode.OpDup &&
			ops[i+3] == bytecode.OpIncrement && ops[i+4] == bytecode.OpSetGlobal {
			found = true
			break
		}
	}
	assert.True(t, found, "expected GET_GLOBAL, DUP, INCREMENT, SET_GLOBAL sequence")
}

func TestCompileFunctionDeclarationEmitsClosure(t *testing.T) {
	fn := compile(t, `
函数 加一(x) {
    返回 x + 1;
}
`)
	var sawClosure bool
	for _, b := range fn.Chunk.Code {
		if bytecode.Opcode(b) == bytecode.OpClosure {
			sawClosure = true
		}
	}
	assert.True(t, sawClosure)
	// Constant 0 is the global name "加一"; constant 1 is the function.
	require.Len(t, fn.Chunk.Constants, 2)
	nested, ok := fn.Chunk.Constants[1].Obj.(*value.ObjFunction)
	require.True(t, ok, "expected the function constant to be an ObjFunction")
	assert.Equal(t, 1, nested.Arity)
	assert.Equal(t, "加一", nested.Name.Chars)
}

func TestCompileClassDeclarationEmitsClassAndMethod(t *testing.T) {
	fn := compile(t, `
类 点 {
    初始化(x) {
        这.x = x;
    }
}
`)
	var sawClass, sawMethod bool
	for _, b := range fn.Chunk.Code {
		switch bytecode.Opcode(b) {
		case bytecode.OpClass:
			sawClass = true
		case bytecode.OpMethod:
			sawMethod = true
		}
	}
	assert.True(t, sawClass)
	assert.True(t, sawMethod)
}

func TestCompileClassWithSuperclassEmitsInherit(t *testing.T) {
	fn := compile(t, `
类 动物 {}
类 猫 < 动物 {}
`)
	var sawInherit bool
	for _, b := range fn.Chunk.Code {
		if bytecode.Opcode(b) == bytecode.OpInherit {
			sawInherit = true
		}
	}
	assert.True(t, sawInherit)
}

func TestCompileListLiteralEmitsBuildList(t *testing.T) {
	fn := compile(t, "[1, 2, 3];")
	code := fn.Chunk.Code
	found := false
	for i, b := range code {
		if bytecode.Opcode(b) == bytecode.OpBuildList {
			assert.Equal(t, byte(3), code[i+1], "expected BUILD_LIST operand to be the element count")
			found = true
		}
	}
	assert.True(t, found)
}

func TestCompileForLoopDesugarsToWhileShape(t *testing.T) {
	fn := compile(t, `
循环 (变量 i = 0; i < 3; i++) {
    打印 i;
}
`)
	var sawLoop, sawJumpIfFalse bool
	for _, b := range fn.Chunk.Code {
		switch bytecode.Opcode(b) {
		case bytecode.OpLoop:
			sawLoop = true
		case bytecode.OpJumpIfFalse:
			sawJumpIfFalse = true
		}
	}
	assert.True(t, sawLoop, "expected a backward OP_LOOP jump")
	assert.True(t, sawJumpIfFalse, "expected the condition check to jump out of the loop")
}

func TestReturnAtTopLevelIsCompileError(t *testing.T) {
	errs := compileErrors(t, `返回 1;`)
	assert.Contains(t, errs[0].Error(), "返回")
}

func TestInitializerReturningValueIsCompileError(t *testing.T) {
	errs := compileErrors(t, `
类 点 {
    初始化(x) {
        返回 x;
    }
}
`)
	require.NotEmpty(t, errs)
}

func TestPostfixIncDecOnPropertyIsRejected(t *testing.T) {
	errs := compileErrors(t, `
类 点 {
    初始化() {
        这.x = 1;
    }
}
变量 p = 点();
p.x++;
`)
	require.NotEmpty(t, errs)
	assert.Contains(t, errs[0].Message, "前缀")
}

func TestReadingVariableInItsOwnInitializerIsCompileError(t *testing.T) {
	errs := compileErrors(t, `
{
    变量 x = x;
}
`)
	require.NotEmpty(t, errs)
}

func TestSynchronizeRecoversAfterError(t *testing.T) {
	// Two independent errors in one source: the parser should recover at
	// the next statement boundary and report both, not cascade.
	errs := compileErrors(t, `
变量 = 1;
变量 = 2;
`)
	assert.GreaterOrEqual(t, len(errs), 2)
}
