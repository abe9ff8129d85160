package ast

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/minic/cc7/types"
)

func TestDeclareComputesOffsetFromPriorLocal(t *testing.T) {
	scope := NewScope(nil)

	a, ok := scope.Declare("a", types.IntType)
	require.True(t, ok)
	require.Equal(t, 8, a.Offset)

	b, ok := scope.Declare("b", types.CharType)
	require.True(t, ok)
	require.Equal(t, 9, b.Offset)

	c, ok := scope.Declare("c", types.NewPointer(types.IntType))
	require.True(t, ok)
	require.Equal(t, 25, c.Offset)
}

func TestDeclareRejectsRedeclarationInSameScope(t *testing.T) {
	scope := NewScope(nil)
	_, ok := scope.Declare("x", types.IntType)
	require.True(t, ok)

	before := scope.Locals

	_, ok = scope.Declare("x", types.CharType)
	require.False(t, ok)
	require.Same(t, before, scope.Locals, "a rejected declaration must not mutate the scope")
}

func TestDeclareGlobalCarriesNoOffset(t *testing.T) {
	scope := NewScope(nil)
	lv, ok := scope.DeclareGlobal("counter", types.IntType)
	require.True(t, ok)
	require.True(t, lv.IsGlobal)
	require.Equal(t, 0, lv.Offset)
}

func TestLookupWalksParentChain(t *testing.T) {
	file := NewScope(nil)
	file.DeclareGlobal("g", types.IntType)

	fn := NewScope(file)
	fn.Declare("x", types.IntType)

	require.NotNil(t, fn.Lookup("x"))
	require.NotNil(t, fn.Lookup("g"))
	require.Nil(t, fn.Lookup("nope"))

	// A name declared only in the child must not be visible from the parent.
	require.Nil(t, file.Lookup("x"))
}

func TestLookupPrefersInnermostDeclaration(t *testing.T) {
	file := NewScope(nil)
	file.DeclareGlobal("x", types.IntType)

	fn := NewScope(file)
	fn.Declare("x", types.CharType)

	lv := fn.Lookup("x")
	require.NotNil(t, lv)
	require.Equal(t, types.CharType, lv.Type)
}

func TestLocalsSizeSumsWholeList(t *testing.T) {
	scope := NewScope(nil)
	scope.Declare("a", types.IntType)       // 8
	scope.Declare("b", types.CharType)      // 1
	scope.Declare("c", types.NewPointer(types.IntType)) // 16

	require.Equal(t, 25, scope.LocalsSize())
}

func TestLocalsSizeIgnoresGlobals(t *testing.T) {
	scope := NewScope(nil)
	scope.DeclareGlobal("g", types.NewArray(types.IntType, 10))
	require.Equal(t, 0, scope.LocalsSize())
}
