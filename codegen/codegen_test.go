package codegen

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/minic/cc7/parser"
)

func compile(t *testing.T, source string) string {
	t.Helper()
	program, err := parser.Parse(source)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, Generate(&buf, program))
	return buf.String()
}

func TestGenerateProgramHeaderAndSections(t *testing.T) {
	out := compile(t, "int main() { return 0; }")
	require.Contains(t, out, ".intel_syntax noprefix\n")
	require.Contains(t, out, ".data\n")
	require.Contains(t, out, ".text\n")
	require.True(t, strictlyBefore(out, ".data\n", ".text\n"))
}

func TestGenerateReturnConstant(t *testing.T) {
	out := compile(t, "int main() { return 42; }")
	require.Contains(t, out, "  push 42\n")
	require.Contains(t, out, "  pop rax\n  mov rsp, rbp\n  pop rbp\n  ret\n")
}

func TestGenerateFunctionPrologue(t *testing.T) {
	out := compile(t, "int main() { int a; return a; }")
	require.Contains(t, out, ".global main\n")
	require.Contains(t, out, "main:\n")
	require.Contains(t, out, "  push rbp\n")
	require.Contains(t, out, "  mov rbp, rsp\n")
	require.Contains(t, out, "  sub rsp, 16\n")
}

func TestGenerateFrameSizeIsRoundedToEight(t *testing.T) {
	out := compile(t, "int main() { char a; return 0; }")
	require.Contains(t, out, "  sub rsp, 8\n")
}

func TestGenerateParameterSpillUsesNarrowRegisterForChar(t *testing.T) {
	out := compile(t, "int f(char c) { return c; }")
	require.Contains(t, out, "  mov [rbp-1], dil\n")
}

func TestGenerateParameterSpillUsesWideRegisterForInt(t *testing.T) {
	out := compile(t, "int f(int a, int b) { return a + b; }")
	require.Contains(t, out, "  mov [rbp-8], rdi\n")
	require.Contains(t, out, "  mov [rbp-16], rsi\n")
}

func TestGenerateGlobalVariableEmitsZeroFill(t *testing.T) {
	out := compile(t, "int counter; int main() { return counter; }")
	require.Contains(t, out, "counter:\n  .zero 8\n")
	require.Contains(t, out, "lea rax, counter[rip]\n")
}

func TestGenerateAddPointerScalesByPointeeSize(t *testing.T) {
	out := compile(t, "int main() { int *p; return *(p + 1); }")
	require.Contains(t, out, "  imul rdi, 8\n")
}

func TestGenerateDiffPointerDividesByPointeeSize(t *testing.T) {
	out := compile(t, "int main() { int *p; int *q; return p - q; }")
	require.Contains(t, out, "  sub rax, rdi\n  mov rdi, 8\n  cqo\n  idiv rdi\n")
}

func TestGenerateIfWithoutElseUsesSingleEndLabel(t *testing.T) {
	out := compile(t, "int main() { if (1) return 1; return 0; }")
	require.Contains(t, out, ".Lend0:\n")
	require.NotContains(t, out, ".Lelse0:\n")
}

func TestGenerateIfWithElseUsesElseLabel(t *testing.T) {
	out := compile(t, "int main() { if (1) return 1; else return 0; }")
	require.Contains(t, out, ".Lelse0:\n")
	require.Contains(t, out, ".Lend0:\n")
}

func TestGenerateWhileLoopStructure(t *testing.T) {
	out := compile(t, "int main() { while (1) return 0; return 1; }")
	require.Contains(t, out, ".Lbegin0:\n")
	require.Contains(t, out, "  je .Lend0\n")
	require.Contains(t, out, "  jmp .Lbegin0\n")
}

func TestGenerateFunctionCallAlignmentBranches(t *testing.T) {
	out := compile(t, `
		int add(int a, int b) { return a + b; }
		int main() { return add(1, 2); }
	`)
	require.Contains(t, out, "  and rax, 15\n")
	require.Contains(t, out, "  call add\n")
	require.Contains(t, out, "  sub rsp, 8\n")
	require.Contains(t, out, "  add rsp, 8\n")
}

func TestGenerateFunctionCallPopsArgumentsInReverse(t *testing.T) {
	out := compile(t, `
		int f(int a, int b) { return a; }
		int main() { return f(1, 2); }
	`)
	popRsi := indexOf(out, "  pop rsi\n")
	popRdi := indexOf(out, "  pop rdi\n")
	require.True(t, popRsi >= 0 && popRdi >= 0)
	require.Less(t, popRsi, popRdi, "second argument register must be popped before the first")
}

func TestGenerateBlockDiscardsExpressionStatementValue(t *testing.T) {
	out := compile(t, "int main() { 1 + 1; return 0; }")
	require.Contains(t, out, "  add rax, rdi\n  push rax\n  pop rax\n")
}

func TestGenerateForLoopDiscardsInitAndStepValues(t *testing.T) {
	out := compile(t, "int main() { int i; for (i = 0; i < 3; i = i + 1) { } return 0; }")
	require.Equal(t, 2, strings.Count(out, "  push rdi\n  pop rax\n"),
		"both the init and the step assignment must discard their pushed value")
}

func TestGenerateIfBodyWithoutBracesDiscardsExpressionValue(t *testing.T) {
	out := compile(t, "int main() { int a; if (1) a = 1; return a; }")
	require.Contains(t, out, "  push rdi\n  pop rax\n")
}

func strictlyBefore(haystack, first, second string) bool {
	return indexOf(haystack, first) >= 0 && indexOf(haystack, second) >= 0 && indexOf(haystack, first) < indexOf(haystack, second)
}

func indexOf(haystack, needle string) int {
	return bytes.Index([]byte(haystack), []byte(needle))
}
