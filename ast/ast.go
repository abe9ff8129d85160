// Package ast defines miniC's typed abstract syntax tree, the
// lexical-scope chain used to resolve identifiers during parsing, and
// the LocalVariable records a scope threads through a function's
// stack frame.
package ast

import "github.com/minic/cc7/types"

// Kind tags the shape of a Node.
type Kind int

// Node kinds, one per AST shape described in spec.md §3.
const (
	Number Kind = iota
	LocalVariableRef
	Address
	Dereference
	Assign
	Add
	Sub
	Mul
	Div
	AddPointer
	SubPointer
	DiffPointer
	Eq
	Ne
	Lt
	Le
	Block
	If
	While
	For
	Return
	FunctionCall
	FunctionDefinition
	GlobalVariableDefinition
	Program
)

// Node is the typed AST. Not every field is meaningful for every Kind;
// see the comment beside each field for which Kind(s) populate it.
type Node struct {
	Kind Kind
	Type *types.Type

	// Number.
	Value int

	// LocalVariableRef, GlobalVariableDefinition.
	LocalVariable *LocalVariable

	// Address, Dereference (the operand).
	Child *Node

	// Assign, Add, Sub, Mul, Div, AddPointer, SubPointer, DiffPointer,
	// Eq, Ne, Lt, Le.
	LHS *Node
	RHS *Node

	// Block, Program.
	Statements []*Node

	// If: Cond/Then/Else. While: Cond/Body. For: Init/Cond/Step/Body.
	Cond *Node
	Then *Node
	Else *Node
	Body *Node
	Init *Node
	Step *Node

	// Return.
	Expr *Node

	// FunctionCall, FunctionDefinition: the callee/declared name.
	Name string

	// FunctionCall.
	Args []*Node

	// FunctionDefinition.
	ReturnType *types.Type
	Params     []*LocalVariable
	Scope      *Scope
}

// LocalVariable is a named storage slot: a parameter or a local
// declared inside a function body, or - when IsGlobal is set - a
// top-level global. Offset is the positive rbp-relative displacement
// for locals; it is meaningless for globals.
type LocalVariable struct {
	Next     *LocalVariable
	Name     string
	Type     *types.Type
	Offset   int
	IsGlobal bool
}

// Scope is one link in the lexical scope chain: a function body (or
// the outermost file scope) plus a pointer to its enclosing scope.
// Nested blocks do not introduce new scopes in this dialect - all of a
// function's locals share one Scope and thereby one stack frame.
type Scope struct {
	Parent *Scope
	Locals *LocalVariable
}

// NewScope creates a scope nested inside parent. parent is nil only
// for the outermost, file-level scope.
func NewScope(parent *Scope) *Scope {
	return &Scope{Parent: parent}
}

// Declare adds a new LocalVariable named name to s, computing its
// offset from the scope's current head (most-recently-declared
// variable). It reports ok=false without modifying s if name is
// already declared in this scope (not an enclosing one) - redeclaring
// a name in the same scope is a fatal parse error the caller must
// raise a diagnostic for.
func (s *Scope) Declare(name string, t *types.Type) (lv *LocalVariable, ok bool) {
	if s.declaredHere(name) != nil {
		return nil, false
	}
	offset := types.SizeOf(t)
	if s.Locals != nil {
		offset = s.Locals.Offset + types.SizeOf(t)
	}
	lv = &LocalVariable{Name: name, Type: t, Offset: offset, Next: s.Locals}
	s.Locals = lv
	return lv, true
}

// DeclareGlobal adds a global variable to s (normally the outermost
// scope). Globals carry no rbp offset.
func (s *Scope) DeclareGlobal(name string, t *types.Type) (lv *LocalVariable, ok bool) {
	if s.declaredHere(name) != nil {
		return nil, false
	}
	lv = &LocalVariable{Name: name, Type: t, IsGlobal: true, Next: s.Locals}
	s.Locals = lv
	return lv, true
}

func (s *Scope) declaredHere(name string) *LocalVariable {
	for v := s.Locals; v != nil; v = v.Next {
		if v.Name == name {
			return v
		}
	}
	return nil
}

// Lookup walks the scope chain from s outward (parent-ward) looking
// for name, returning nil if no enclosing scope declares it.
func (s *Scope) Lookup(name string) *LocalVariable {
	for scope := s; scope != nil; scope = scope.Parent {
		if lv := scope.declaredHere(name); lv != nil {
			return lv
		}
	}
	return nil
}

// LocalsSize sums the storage size of every non-global LocalVariable
// declared directly in s (parameters and locals alike - both live in
// the same list for a function's scope). Globals occupy no stack slot
// and are not counted. Used by codegen to compute a function's
// stack-frame size.
func (s *Scope) LocalsSize() int {
	total := 0
	for v := s.Locals; v != nil; v = v.Next {
		if v.IsGlobal {
			continue
		}
		total += types.SizeOf(v.Type)
	}
	return total
}
