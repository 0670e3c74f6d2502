package vm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anonymousaardvark/qi/pkg/gc"
)

// run compiles and interprets source against a fresh VM, returning
// whatever it printed and any error Interpret reported.
func run(t *testing.T, source string) (string, error) {
	t.Helper()
	machine := New(gc.New())
	var out strings.Builder
	machine.SetOutput(&out)
	err := machine.Interpret(source)
	return out.String(), err
}

func TestArithmeticAndPrint(t *testing.T) {
	out, err := run(t, `打印 1 + 2 * 3;`)
	require.NoError(t, err)
	assert.Equal(t, "7\n", out)
}

func TestStringConcatenation(t *testing.T) {
	out, err := run(t, `打印 "你好, " + "世界";`)
	require.NoError(t, err)
	assert.Equal(t, "你好, 世界\n", out)
}

func TestVariablesAndCompoundAssign(t *testing.T) {
	out, err := run(t, `
变量 x = 10;
x += 5;
x *= 2;
打印 x;
`)
	require.NoError(t, err)
	assert.Equal(t, "30\n", out)
}

func TestPostfixAndPrefixIncDecOnVariable(t *testing.T) {
	out, err := run(t, `
变量 x = 5;
打印 x++;
打印 x;
打印 ++x;
打印 x;
`)
	require.NoError(t, err)
	assert.Equal(t, "5\n6\n7\n7\n", out)
}

func TestIfElseBranches(t *testing.T) {
	out, err := run(t, `
变量 x = 3;
如果 (x > 5) {
    打印 "大";
} 否则 {
    打印 "小";
}
`)
	require.NoError(t, err)
	assert.Equal(t, "小\n", out)
}

func TestWhileLoop(t *testing.T) {
	out, err := run(t, `
变量 i = 0;
变量 sum = 0;
当 (i < 5) {
    sum += i;
    i++;
}
打印 sum;
`)
	require.NoError(t, err)
	assert.Equal(t, "10\n", out)
}

func TestForLoop(t *testing.T) {
	out, err := run(t, `
变量 sum = 0;
循环 (变量 i = 0; i < 5; i++) {
    sum += i;
}
打印 sum;
`)
	require.NoError(t, err)
	assert.Equal(t, "10\n", out)
}

func TestFunctionsAndRecursion(t *testing.T) {
	out, err := run(t, `
函数 阶乘(n) {
    如果 (n <= 1) {
        返回 1;
    }
    返回 n * 阶乘(n - 1);
}
打印 阶乘(5);
`)
	require.NoError(t, err)
	assert.Equal(t, "120\n", out)
}

func TestClosuresCaptureIndependentState(t *testing.T) {
	out, err := run(t, `
函数 计数器() {
    变量 count = 0;
    函数 增加() {
        count++;
        返回 count;
    }
    返回 增加;
}

变量 a = 计数器();
变量 b = 计数器();
打印 a();
打印 a();
打印 b();
`)
	require.NoError(t, err)
	assert.Equal(t, "1\n2\n1\n", out)
}

func TestClassesFieldsAndMethods(t *testing.T) {
	out, err := run(t, `
类 矩形 {
    初始化(宽, 高) {
        这.宽 = 宽;
        这.高 = 高;
    }

    面积() {
        返回 这.宽 * 这.高;
    }
}

变量 r = 矩形(3, 4);
打印 r.面积();
`)
	require.NoError(t, err)
	assert.Equal(t, "12\n", out)
}

func TestInheritanceAndSuperDispatch(t *testing.T) {
	out, err := run(t, `
类 动物 {
    初始化(名字) {
        这.名字 = 名字;
    }

    介绍() {
        打印 "我是 " + 这.名字;
    }
}

类 狗 < 动物 {
    介绍() {
        父类.介绍();
        打印 "汪汪";
    }
}

变量 d = 狗("旺财");
d.介绍();
`)
	require.NoError(t, err)
	assert.Equal(t, "我是 旺财\n汪汪\n", out)
}

func TestListLiteralAndSubscript(t *testing.T) {
	out, err := run(t, `
变量 列表 = [1, 2, 3];
打印 列表[0];
打印 列表[-1];
列表[1] = 20;
打印 列表[1];
`)
	require.NoError(t, err)
	assert.Equal(t, "1\n3\n20\n", out)
}

func TestListSortAndFilter(t *testing.T) {
	out, err := run(t, `
变量 列表 = [3, 1, 4, 1, 5];
列表.排序();
打印 列表[0];
打印 列表[4];

函数 是偶数(x) { 返回 x % 2 == 0; }
变量 偶数 = 列表.过滤(是偶数);
打印 偶数.长度();
`)
	require.NoError(t, err)
	assert.Equal(t, "1\n5\n1\n", out)
}

func TestStringMethodsWithNegativeIndices(t *testing.T) {
	out, err := run(t, `
变量 s = "你好世界";
打印 s.长度();
打印 s.子串(1, 3);
打印 s.子串(0, -1);
`)
	require.NoError(t, err)
	assert.Equal(t, "4\n好世\n你好世\n", out)
}

func TestMathCoreModule(t *testing.T) {
	out, err := run(t, `
打印 数学.绝对值(-5);
打印 数学.最大值(3, 7);
打印 数学.向下取整(3.7);
`)
	require.NoError(t, err)
	assert.Equal(t, "5\n7\n3\n", out)
}

func TestRuntimeErrorBacktrace(t *testing.T) {
	_, err := run(t, `
函数 内部() {
    返回 1 + "字符串";
}
函数 外部() {
    返回 内部();
}
外部();
`)
	require.Error(t, err)
	rtErr, ok := err.(*RuntimeError)
	require.True(t, ok, "expected a *RuntimeError, got %T", err)
	msg := rtErr.Error()
	assert.Contains(t, msg, "内部")
	assert.Contains(t, msg, "外部")
	assert.Contains(t, msg, "脚本")

	// Backtrace reads innermost frame outward: 内部 before 外部 before 脚本.
	innerIdx := strings.Index(msg, "内部")
	outerIdx := strings.Index(msg, "外部")
	scriptIdx := strings.Index(msg, "脚本")
	require.True(t, innerIdx < outerIdx, "expected 内部 before 外部 in backtrace: %q", msg)
	require.True(t, outerIdx < scriptIdx, "expected 外部 before 脚本 in backtrace: %q", msg)
}

func TestArityMismatchReportsCompileOrRuntimeError(t *testing.T) {
	_, err := run(t, `
函数 两个参数(a, b) {
    返回 a + b;
}
两个参数(1);
`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "参数")
}

func TestCompileErrorsReported(t *testing.T) {
	_, err := run(t, `变量 = 1;`)
	require.Error(t, err)
	_, ok := err.(CompileErrors)
	require.True(t, ok, "expected CompileErrors, got %T", err)
}
