// Package codegen walks a typed AST and emits x86-64 assembly in Intel
// syntax, targeting the System V AMD64 calling convention. Every node
// kind has exactly one generating method; each leaves precisely one
// eight-byte value on the runtime stack when it represents an
// expression.
package codegen

import (
	"fmt"
	"io"

	"github.com/samber/lo"

	"github.com/minic/cc7/ast"
	"github.com/minic/cc7/types"
)

var registers8Byte = []string{"rdi", "rsi", "rdx", "rcx", "r8", "r9"}
var registers1Byte = []string{"dil", "sil", "dl", "cl", "r8b", "r9b"}

// Generator holds the emitter's mutable state: the output stream and
// the monotonic counter used to make jump-target labels unique across
// the whole program.
type Generator struct {
	out          io.Writer
	labelCounter int
}

// Generate writes the full assembly listing for program to w.
func Generate(w io.Writer, program *ast.Node) error {
	g := &Generator{out: w}
	return g.generate(program)
}

func (g *Generator) emit(format string, args ...interface{}) error {
	_, err := fmt.Fprintf(g.out, format, args...)
	return err
}

func (g *Generator) nextLabel() int {
	id := g.labelCounter
	g.labelCounter++
	return id
}

// load pops an address off the stack, dereferences it, and pushes the
// value - narrowing to a single sign-extended byte for char.
func (g *Generator) load(t *types.Type) error {
	if err := g.emit("  pop rax\n"); err != nil {
		return err
	}
	if types.SizeOf(t) == 1 {
		if err := g.emit("  movsx rax, BYTE PTR [rax]\n"); err != nil {
			return err
		}
	} else {
		if err := g.emit("  mov rax, [rax]\n"); err != nil {
			return err
		}
	}
	return g.emit("  push rax\n")
}

// store pops a value then an address, writes the value to the address,
// and pushes it back - so an assignment still leaves its result value
// on the stack for the enclosing expression.
func (g *Generator) store(t *types.Type) error {
	if err := g.emit("  pop rdi\n"); err != nil {
		return err
	}
	if err := g.emit("  pop rax\n"); err != nil {
		return err
	}
	if types.SizeOf(t) == 1 {
		if err := g.emit("  mov [rax], dil\n"); err != nil {
			return err
		}
	} else {
		if err := g.emit("  mov [rax], rdi\n"); err != nil {
			return err
		}
	}
	return g.emit("  push rdi\n")
}

func (g *Generator) generate(node *ast.Node) error {
	if node == nil {
		return nil
	}
	switch node.Kind {
	case ast.Number:
		return g.genNumber(node)
	case ast.LocalVariableRef:
		return g.genLocalVariableRef(node)
	case ast.Address:
		return g.genAddress(node)
	case ast.Dereference:
		return g.genDereference(node)
	case ast.Assign:
		return g.genAssign(node)
	case ast.Add:
		return g.genAdd(node)
	case ast.Sub:
		return g.genSub(node)
	case ast.Mul:
		return g.genMultiply(node)
	case ast.Div:
		return g.genDivide(node)
	case ast.AddPointer:
		return g.genAddPointer(node)
	case ast.SubPointer:
		return g.genSubPointer(node)
	case ast.DiffPointer:
		return g.genDiffPointer(node)
	case ast.Eq:
		return g.genCompare(node, "sete")
	case ast.Ne:
		return g.genCompare(node, "setne")
	case ast.Lt:
		return g.genCompare(node, "setl")
	case ast.Le:
		return g.genCompare(node, "setle")
	case ast.Block:
		return g.genBlock(node)
	case ast.If:
		return g.genIf(node)
	case ast.While:
		return g.genWhile(node)
	case ast.For:
		return g.genFor(node)
	case ast.Return:
		return g.genReturn(node)
	case ast.FunctionCall:
		return g.genFunctionCall(node)
	case ast.FunctionDefinition:
		return g.genFunctionDefinition(node)
	case ast.GlobalVariableDefinition:
		return g.genGlobalVariableDefinition(node)
	case ast.Program:
		return g.genProgram(node)
	default:
		return fmt.Errorf("codegen: unexpected node kind %v", node.Kind)
	}
}

func (g *Generator) genNumber(node *ast.Node) error {
	return g.emit("  push %d\n", node.Value)
}

// genAddress computes an lvalue's address and pushes it, without
// loading the value it holds.
func (g *Generator) genAddress(node *ast.Node) error {
	switch node.Kind {
	case ast.Address:
		return g.genAddress(node.Child)
	case ast.Dereference:
		return g.generate(node.Child)
	case ast.LocalVariableRef:
		lv := node.LocalVariable
		if lv.IsGlobal {
			if err := g.emit("  lea rax, %s[rip]\n", lv.Name); err != nil {
				return err
			}
		} else {
			if err := g.emit("  mov rax, rbp\n"); err != nil {
				return err
			}
			if err := g.emit("  sub rax, %d\n", lv.Offset); err != nil {
				return err
			}
		}
		return g.emit("  push rax\n")
	default:
		return fmt.Errorf("codegen: node kind %v is not addressable", node.Kind)
	}
}

func (g *Generator) genLocalVariableRef(node *ast.Node) error {
	if err := g.genAddress(node); err != nil {
		return err
	}
	if node.Type.Kind != types.Array {
		return g.load(node.Type)
	}
	return nil
}

// genDereference suppresses the final load when the pointee is itself
// an array: indexing into a multi-dimensional array must keep
// producing an address, not a loaded scalar, until the innermost
// dimension decays.
func (g *Generator) genDereference(node *ast.Node) error {
	if err := g.generate(node.Child); err != nil {
		return err
	}
	if node.Type.Kind != types.Array {
		return g.load(node.Type)
	}
	return nil
}

func (g *Generator) genAssign(node *ast.Node) error {
	if err := g.genAddress(node.LHS); err != nil {
		return err
	}
	if err := g.generate(node.RHS); err != nil {
		return err
	}
	return g.store(node.Type)
}

func (g *Generator) genBlock(node *ast.Node) error {
	for _, stmt := range node.Statements {
		if err := g.genStatement(stmt); err != nil {
			return err
		}
	}
	return nil
}

// isExpressionStatement reports whether a node used in statement position
// leaves a value on the stack that genStatement must discard. Block, If,
// While, For and Return are the only kinds that balance their own stack
// effect; every other kind is an expression and leaves one pushed value
// behind when used as a statement.
func isExpressionStatement(kind ast.Kind) bool {
	switch kind {
	case ast.Block, ast.If, ast.While, ast.For, ast.Return:
		return false
	default:
		return true
	}
}

// genStatement generates node in statement position - a Block entry, or
// the Then/Else/Body/Init/Step of If/While/For - and pops the value an
// expression-statement leaves behind. Bare expression-statements and
// initialized local declarations otherwise leak one stack slot per
// occurrence, unbalancing the stack across sibling statements and, in a
// loop's Step clause, across every iteration.
func (g *Generator) genStatement(node *ast.Node) error {
	if err := g.generate(node); err != nil {
		return err
	}
	if node != nil && isExpressionStatement(node.Kind) {
		return g.emit("  pop rax\n")
	}
	return nil
}

// genBinaryALU evaluates both operands, left to right, then applies a
// two-operand instruction to the popped values.
func (g *Generator) genBinaryALU(node *ast.Node, instruction string) error {
	if err := g.generate(node.LHS); err != nil {
		return err
	}
	if err := g.generate(node.RHS); err != nil {
		return err
	}
	if err := g.emit("  pop rdi\n"); err != nil {
		return err
	}
	if err := g.emit("  pop rax\n"); err != nil {
		return err
	}
	if err := g.emit("  %s rax, rdi\n", instruction); err != nil {
		return err
	}
	return g.emit("  push rax\n")
}

func (g *Generator) genAdd(node *ast.Node) error { return g.genBinaryALU(node, "add") }
func (g *Generator) genSub(node *ast.Node) error { return g.genBinaryALU(node, "sub") }

func (g *Generator) genMultiply(node *ast.Node) error {
	if err := g.generate(node.LHS); err != nil {
		return err
	}
	if err := g.generate(node.RHS); err != nil {
		return err
	}
	if err := g.emit("  pop rdi\n"); err != nil {
		return err
	}
	if err := g.emit("  pop rax\n"); err != nil {
		return err
	}
	if err := g.emit("  imul rax, rdi\n"); err != nil {
		return err
	}
	return g.emit("  push rax\n")
}

func (g *Generator) genDivide(node *ast.Node) error {
	if err := g.generate(node.LHS); err != nil {
		return err
	}
	if err := g.generate(node.RHS); err != nil {
		return err
	}
	if err := g.emit("  pop rdi\n"); err != nil {
		return err
	}
	if err := g.emit("  pop rax\n"); err != nil {
		return err
	}
	if err := g.emit("  cqo\n"); err != nil {
		return err
	}
	if err := g.emit("  idiv rdi\n"); err != nil {
		return err
	}
	return g.emit("  push rax\n")
}

// genAddPointer scales the integer operand by the pointee's size
// before adding - pointer arithmetic moves in units of the pointed-to
// type, not in bytes.
func (g *Generator) genAddPointer(node *ast.Node) error {
	if err := g.generate(node.LHS); err != nil {
		return err
	}
	if err := g.generate(node.RHS); err != nil {
		return err
	}
	pointeeSize := types.SizeOf(node.LHS.Type.Pointee)
	if err := g.emit("  pop rdi\n"); err != nil {
		return err
	}
	if err := g.emit("  pop rax\n"); err != nil {
		return err
	}
	if err := g.emit("  imul rdi, %d\n", pointeeSize); err != nil {
		return err
	}
	if err := g.emit("  add rax, rdi\n"); err != nil {
		return err
	}
	return g.emit("  push rax\n")
}

func (g *Generator) genSubPointer(node *ast.Node) error {
	if err := g.generate(node.LHS); err != nil {
		return err
	}
	if err := g.generate(node.RHS); err != nil {
		return err
	}
	pointeeSize := types.SizeOf(node.LHS.Type.Pointee)
	if err := g.emit("  pop rdi\n"); err != nil {
		return err
	}
	if err := g.emit("  pop rax\n"); err != nil {
		return err
	}
	if err := g.emit("  imul rdi, %d\n", pointeeSize); err != nil {
		return err
	}
	if err := g.emit("  sub rax, rdi\n"); err != nil {
		return err
	}
	return g.emit("  push rax\n")
}

// genDiffPointer subtracts two same-sized pointers and divides by the
// shared pointee size, yielding the element distance between them.
func (g *Generator) genDiffPointer(node *ast.Node) error {
	if err := g.generate(node.LHS); err != nil {
		return err
	}
	if err := g.generate(node.RHS); err != nil {
		return err
	}
	pointeeSize := types.SizeOf(node.LHS.Type.Pointee)
	if err := g.emit("  pop rdi\n"); err != nil {
		return err
	}
	if err := g.emit("  pop rax\n"); err != nil {
		return err
	}
	if err := g.emit("  sub rax, rdi\n"); err != nil {
		return err
	}
	if err := g.emit("  mov rdi, %d\n", pointeeSize); err != nil {
		return err
	}
	if err := g.emit("  cqo\n"); err != nil {
		return err
	}
	if err := g.emit("  idiv rdi\n"); err != nil {
		return err
	}
	return g.emit("  push rax\n")
}

// genCompare implements ==, !=, < and <= with a cmp plus the matching
// set<cc> byte-setting instruction, zero-extended back to a full word.
func (g *Generator) genCompare(node *ast.Node, setInstruction string) error {
	if err := g.generate(node.LHS); err != nil {
		return err
	}
	if err := g.generate(node.RHS); err != nil {
		return err
	}
	if err := g.emit("  pop rdi\n"); err != nil {
		return err
	}
	if err := g.emit("  pop rax\n"); err != nil {
		return err
	}
	if err := g.emit("  cmp rax, rdi\n"); err != nil {
		return err
	}
	if err := g.emit("  %s al\n", setInstruction); err != nil {
		return err
	}
	if err := g.emit("  movzb rax, al\n"); err != nil {
		return err
	}
	return g.emit("  push rax\n")
}

func (g *Generator) genIf(node *ast.Node) error {
	label := g.nextLabel()
	if err := g.generate(node.Cond); err != nil {
		return err
	}
	if err := g.emit("  pop rax\n"); err != nil {
		return err
	}
	if err := g.emit("  cmp rax, 0\n"); err != nil {
		return err
	}

	if node.Else == nil {
		if err := g.emit("  je .Lend%d\n", label); err != nil {
			return err
		}
		if err := g.genStatement(node.Then); err != nil {
			return err
		}
		return g.emit(".Lend%d:\n", label)
	}

	if err := g.emit("  je .Lelse%d\n", label); err != nil {
		return err
	}
	if err := g.genStatement(node.Then); err != nil {
		return err
	}
	if err := g.emit("  jmp .Lend%d\n", label); err != nil {
		return err
	}
	if err := g.emit(".Lelse%d:\n", label); err != nil {
		return err
	}
	if err := g.genStatement(node.Else); err != nil {
		return err
	}
	return g.emit(".Lend%d:\n", label)
}

func (g *Generator) genWhile(node *ast.Node) error {
	label := g.nextLabel()
	if err := g.emit(".Lbegin%d:\n", label); err != nil {
		return err
	}
	if err := g.generate(node.Cond); err != nil {
		return err
	}
	if err := g.emit("  pop rax\n"); err != nil {
		return err
	}
	if err := g.emit("  cmp rax, 0\n"); err != nil {
		return err
	}
	if err := g.emit("  je .Lend%d\n", label); err != nil {
		return err
	}
	if err := g.genStatement(node.Body); err != nil {
		return err
	}
	if err := g.emit("  jmp .Lbegin%d\n", label); err != nil {
		return err
	}
	return g.emit(".Lend%d:\n", label)
}

func (g *Generator) genFor(node *ast.Node) error {
	label := g.nextLabel()
	if err := g.genStatement(node.Init); err != nil {
		return err
	}
	if err := g.emit(".Lbegin%d:\n", label); err != nil {
		return err
	}
	if node.Cond != nil {
		if err := g.generate(node.Cond); err != nil {
			return err
		}
		if err := g.emit("  pop rax\n"); err != nil {
			return err
		}
		if err := g.emit("  cmp rax, 0\n"); err != nil {
			return err
		}
		if err := g.emit("  je .Lend%d\n", label); err != nil {
			return err
		}
	}
	if err := g.genStatement(node.Body); err != nil {
		return err
	}
	if err := g.genStatement(node.Step); err != nil {
		return err
	}
	if err := g.emit("  jmp .Lbegin%d\n", label); err != nil {
		return err
	}
	return g.emit(".Lend%d:\n", label)
}

func (g *Generator) genReturn(node *ast.Node) error {
	if err := g.generate(node.Expr); err != nil {
		return err
	}
	if err := g.emit("  pop rax\n"); err != nil {
		return err
	}
	if err := g.emit("  mov rsp, rbp\n"); err != nil {
		return err
	}
	if err := g.emit("  pop rbp\n"); err != nil {
		return err
	}
	return g.emit("  ret\n")
}

// genFunctionCall evaluates arguments left to right, then pops them
// into the ABI's argument registers in reverse order (the last value
// pushed is the first one off the stack). The alignment check keeps
// rsp a multiple of 16 at the `call` instruction, as the ABI requires,
// regardless of how the caller's own frame lines up.
func (g *Generator) genFunctionCall(node *ast.Node) error {
	for _, arg := range node.Args {
		if err := g.generate(arg); err != nil {
			return err
		}
	}

	indices := lo.Reverse(lo.Range(len(node.Args)))
	for _, i := range indices {
		if err := g.emit("  pop %s\n", registers8Byte[i]); err != nil {
			return err
		}
	}

	label := g.nextLabel()
	if err := g.emit("  mov rax, rsp\n"); err != nil {
		return err
	}
	if err := g.emit("  and rax, 15\n"); err != nil {
		return err
	}
	if err := g.emit("  jnz .Lcall%d\n", label); err != nil {
		return err
	}
	if err := g.emit("  mov rax, 0\n"); err != nil {
		return err
	}
	if err := g.emit("  call %s\n", node.Name); err != nil {
		return err
	}
	if err := g.emit("  jmp .Lend%d\n", label); err != nil {
		return err
	}
	if err := g.emit(".Lcall%d:\n", label); err != nil {
		return err
	}
	if err := g.emit("  sub rsp, 8\n"); err != nil {
		return err
	}
	if err := g.emit("  mov rax, 0\n"); err != nil {
		return err
	}
	if err := g.emit("  call %s\n", node.Name); err != nil {
		return err
	}
	if err := g.emit("  add rsp, 8\n"); err != nil {
		return err
	}
	if err := g.emit(".Lend%d:\n", label); err != nil {
		return err
	}
	return g.emit("  push rax\n")
}

// align returns the smallest multiple of 8 strictly greater than n (an
// exact multiple of 8 still gains another 8 bytes), mirroring the
// function's frame-size rounding: (n + 8) &^ 7.
func align(n int) int {
	return (n + 8) &^ 7
}

func (g *Generator) genFunctionDefinition(node *ast.Node) error {
	if err := g.emit(".global %s\n", node.Name); err != nil {
		return err
	}
	if err := g.emit("%s:\n", node.Name); err != nil {
		return err
	}

	frameSize := align(node.Scope.LocalsSize())
	if err := g.emit("  push rbp\n"); err != nil {
		return err
	}
	if err := g.emit("  mov rbp, rsp\n"); err != nil {
		return err
	}
	if err := g.emit("  sub rsp, %d\n", frameSize); err != nil {
		return err
	}

	for i, param := range node.Params {
		regName := registers8Byte[i]
		if types.SizeOf(param.Type) == 1 {
			regName = registers1Byte[i]
		}
		if err := g.emit("  mov [rbp-%d], %s\n", param.Offset, regName); err != nil {
			return err
		}
	}

	return g.generate(node.Body)
}

func (g *Generator) genGlobalVariableDefinition(node *ast.Node) error {
	lv := node.LocalVariable
	if err := g.emit("%s:\n", lv.Name); err != nil {
		return err
	}
	return g.emit("  .zero %d\n", types.SizeOf(lv.Type))
}

func (g *Generator) genProgram(node *ast.Node) error {
	if err := g.emit(".intel_syntax noprefix\n"); err != nil {
		return err
	}

	if err := g.emit(".data\n"); err != nil {
		return err
	}
	for _, stmt := range node.Statements {
		if stmt.Kind == ast.GlobalVariableDefinition {
			if err := g.generate(stmt); err != nil {
				return err
			}
		}
	}

	if err := g.emit(".text\n"); err != nil {
		return err
	}
	for _, stmt := range node.Statements {
		if stmt.Kind == ast.FunctionDefinition {
			if err := g.generate(stmt); err != nil {
				return err
			}
		}
	}
	return nil
}
