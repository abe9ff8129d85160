// Package parser turns a miniC token stream into a typed,
// scope-resolved abstract syntax tree via recursive descent, running
// semantic analysis (scope resolution, type computation, operator
// dispatch) inline as it parses.
package parser

import (
	"github.com/minic/cc7/ast"
	"github.com/minic/cc7/diag"
	"github.com/minic/cc7/lexer"
	"github.com/minic/cc7/token"
	"github.com/minic/cc7/types"
)

// FunctionSignature records a function's return type and parameter
// types, as declared by its one and only definition - miniC has no
// forward declarations, so a call is only resolvable once its callee's
// definition has already been parsed.
type FunctionSignature struct {
	ReturnType *types.Type
	ParamTypes []*types.Type
}

// Parser holds the parser's mutable state: the token cursor and the
// current scope. Both are explicit fields rather than package globals,
// so a Parser is safe to construct more than once in a process (e.g.
// from tests run in parallel).
type Parser struct {
	source string
	tokens []token.Token
	pos    int

	fileScope *ast.Scope
	scope     *ast.Scope

	functions map[string]*FunctionSignature
}

// Parse tokenizes and parses source, returning the program's root
// Program node. It stops at the first lexical, syntactic, scope or
// type error.
func Parse(source string) (*ast.Node, error) {
	tokens, err := lexer.New(source).Tokenize()
	if err != nil {
		return nil, err
	}
	fileScope := ast.NewScope(nil)
	p := &Parser{
		source:    source,
		tokens:    tokens,
		fileScope: fileScope,
		scope:     fileScope,
		functions: map[string]*FunctionSignature{},
	}
	return p.program()
}

// --- token cursor helpers ---

func (p *Parser) cur() token.Token {
	return p.tokens[p.pos]
}

func (p *Parser) advance() token.Token {
	t := p.tokens[p.pos]
	if p.pos < len(p.tokens)-1 {
		p.pos++
	}
	return t
}

func (p *Parser) at(kind token.Kind) bool {
	return p.cur().Kind == kind
}

func (p *Parser) consume(kind token.Kind) (token.Token, bool) {
	if p.at(kind) {
		return p.advance(), true
	}
	return token.Token{}, false
}

func (p *Parser) expect(kind token.Kind) (token.Token, error) {
	if !p.at(kind) {
		return token.Token{}, p.errorAt(p.cur(), "Unexpected token type.")
	}
	return p.advance(), nil
}

func (p *Parser) expectNumber() (int, error) {
	if !p.at(token.NUMBER) {
		return 0, p.errorAt(p.cur(), "Expected number token.")
	}
	value := p.cur().Value
	p.advance()
	return value, nil
}

func (p *Parser) identText(tok token.Token) string {
	return p.source[tok.String : tok.String+tok.Length]
}

func (p *Parser) errorAt(tok token.Token, format string, args ...interface{}) error {
	return diag.New(p.source, tok.String, format, args...)
}

// --- types ---

// parseType implements `type = ("int" | "char") "*"*`.
func (p *Parser) parseType() (*types.Type, error) {
	var base *types.Type
	switch p.cur().Kind {
	case token.INT:
		base = types.IntType
	case token.CHAR:
		base = types.CharType
	default:
		return nil, p.errorAt(p.cur(), "Expected a type.")
	}
	p.advance()
	for {
		if _, ok := p.consume(token.ASTERISK); ok {
			base = types.NewPointer(base)
			continue
		}
		return base, nil
	}
}

// parseArraySuffix reads a ("[" number "]")* suffix and wraps base in
// nested Array types, outermost dimension first (so `int a[3][4]` is
// an array of 3 arrays of 4 ints).
func (p *Parser) parseArraySuffix(base *types.Type) (*types.Type, error) {
	var lengths []int
	for p.at(token.LBRACKET) {
		p.advance()
		n, err := p.expectNumber()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(token.RBRACKET); err != nil {
			return nil, err
		}
		lengths = append(lengths, n)
	}
	t := base
	for i := len(lengths) - 1; i >= 0; i-- {
		t = types.NewArray(t, lengths[i])
	}
	return t, nil
}

// --- program / top-level ---

// program = (function_definition | global_variable_definition)*
func (p *Parser) program() (*ast.Node, error) {
	node := &ast.Node{Kind: ast.Program}
	for !p.at(token.EOF) {
		def, err := p.topLevelDefinition()
		if err != nil {
			return nil, err
		}
		node.Statements = append(node.Statements, def)
	}
	return node, nil
}

func (p *Parser) topLevelDefinition() (*ast.Node, error) {
	baseType, err := p.parseType()
	if err != nil {
		return nil, err
	}
	identTok, err := p.expect(token.IDENT)
	if err != nil {
		return nil, err
	}
	name := p.identText(identTok)

	if p.at(token.LPAREN) {
		return p.functionDefinition(baseType, name)
	}

	t, err := p.parseArraySuffix(baseType)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.SEMICOLON); err != nil {
		return nil, err
	}
	lv, ok := p.fileScope.DeclareGlobal(name, t)
	if !ok {
		return nil, p.errorAt(identTok, "Redeclaration of global variable.")
	}
	return &ast.Node{Kind: ast.GlobalVariableDefinition, LocalVariable: lv, Type: t}, nil
}

// function_definition = type identifier "(" params? ")" block
func (p *Parser) functionDefinition(returnType *types.Type, name string) (*ast.Node, error) {
	if _, err := p.expect(token.LPAREN); err != nil {
		return nil, err
	}

	funcScope := ast.NewScope(p.fileScope)
	var params []*ast.LocalVariable
	var paramTypes []*types.Type

	if !p.at(token.RPAREN) {
		for {
			paramType, err := p.parseType()
			if err != nil {
				return nil, err
			}
			paramIdent, err := p.expect(token.IDENT)
			if err != nil {
				return nil, err
			}
			lv, ok := funcScope.Declare(p.identText(paramIdent), paramType)
			if !ok {
				return nil, p.errorAt(paramIdent, "Redeclaration of parameter.")
			}
			params = append(params, lv)
			paramTypes = append(paramTypes, paramType)
			if _, ok := p.consume(token.COMMA); !ok {
				break
			}
		}
	}
	if _, err := p.expect(token.RPAREN); err != nil {
		return nil, err
	}

	// Register the signature before parsing the body so a function
	// may call itself.
	p.functions[name] = &FunctionSignature{ReturnType: returnType, ParamTypes: paramTypes}

	savedScope := p.scope
	p.scope = funcScope
	body, err := p.statementBlock()
	p.scope = savedScope
	if err != nil {
		return nil, err
	}

	return &ast.Node{
		Kind:       ast.FunctionDefinition,
		Name:       name,
		ReturnType: returnType,
		Params:     params,
		Body:       body,
		Scope:      funcScope,
	}, nil
}

// --- statements ---

// statement = return_stmt | for_stmt | if_stmt | while_stmt
//           | block | local_decl | expression ";"
func (p *Parser) statement() (*ast.Node, error) {
	switch p.cur().Kind {
	case token.RETURN:
		return p.statementReturn()
	case token.FOR:
		return p.statementFor()
	case token.IF:
		return p.statementIf()
	case token.WHILE:
		return p.statementWhile()
	case token.LBRACE:
		return p.statementBlock()
	case token.INT, token.CHAR:
		return p.localDecl()
	default:
		return p.statementExpression()
	}
}

// block = "{" statement* "}"
func (p *Parser) statementBlock() (*ast.Node, error) {
	if _, err := p.expect(token.LBRACE); err != nil {
		return nil, err
	}
	node := &ast.Node{Kind: ast.Block}
	for {
		if _, ok := p.consume(token.RBRACE); ok {
			return node, nil
		}
		stmt, err := p.statement()
		if err != nil {
			return nil, err
		}
		node.Statements = append(node.Statements, stmt)
	}
}

func (p *Parser) statementExpression() (*ast.Node, error) {
	node, err := p.expression()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.SEMICOLON); err != nil {
		return nil, err
	}
	return node, nil
}

// return_stmt = "return" expression ";"
func (p *Parser) statementReturn() (*ast.Node, error) {
	if _, err := p.expect(token.RETURN); err != nil {
		return nil, err
	}
	expr, err := p.expression()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.SEMICOLON); err != nil {
		return nil, err
	}
	return &ast.Node{Kind: ast.Return, Expr: expr}, nil
}

// for_stmt = "for" "(" expression? ";" expression? ";" expression? ")" statement
func (p *Parser) statementFor() (*ast.Node, error) {
	if _, err := p.expect(token.FOR); err != nil {
		return nil, err
	}
	if _, err := p.expect(token.LPAREN); err != nil {
		return nil, err
	}

	node := &ast.Node{Kind: ast.For}

	if _, ok := p.consume(token.SEMICOLON); !ok {
		init, err := p.expression()
		if err != nil {
			return nil, err
		}
		node.Init = init
		if _, err := p.expect(token.SEMICOLON); err != nil {
			return nil, err
		}
	}

	if _, ok := p.consume(token.SEMICOLON); !ok {
		cond, err := p.expression()
		if err != nil {
			return nil, err
		}
		node.Cond = cond
		if _, err := p.expect(token.SEMICOLON); err != nil {
			return nil, err
		}
	}

	if _, ok := p.consume(token.RPAREN); !ok {
		step, err := p.expression()
		if err != nil {
			return nil, err
		}
		node.Step = step
		if _, err := p.expect(token.RPAREN); err != nil {
			return nil, err
		}
	}

	body, err := p.statement()
	if err != nil {
		return nil, err
	}
	node.Body = body
	return node, nil
}

// if_stmt = "if" "(" expression ")" statement ("else" statement)?
func (p *Parser) statementIf() (*ast.Node, error) {
	if _, err := p.expect(token.IF); err != nil {
		return nil, err
	}
	if _, err := p.expect(token.LPAREN); err != nil {
		return nil, err
	}
	cond, err := p.expression()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.RPAREN); err != nil {
		return nil, err
	}
	then, err := p.statement()
	if err != nil {
		return nil, err
	}
	node := &ast.Node{Kind: ast.If, Cond: cond, Then: then}
	if _, ok := p.consume(token.ELSE); ok {
		els, err := p.statement()
		if err != nil {
			return nil, err
		}
		node.Else = els
	}
	return node, nil
}

// while_stmt = "while" "(" expression ")" statement
func (p *Parser) statementWhile() (*ast.Node, error) {
	if _, err := p.expect(token.WHILE); err != nil {
		return nil, err
	}
	if _, err := p.expect(token.LPAREN); err != nil {
		return nil, err
	}
	cond, err := p.expression()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.RPAREN); err != nil {
		return nil, err
	}
	body, err := p.statement()
	if err != nil {
		return nil, err
	}
	return &ast.Node{Kind: ast.While, Cond: cond, Body: body}, nil
}

// local_decl = type identifier ("[" number "]")* ("=" expression)? ";"
//
// A bare declaration (no initializer) reserves a scope slot but has no
// runtime effect - frame space is reserved once, up front, from the
// scope's accumulated LocalsSize. It is represented as an empty Block
// so it slots into a statement list without emitting any code.
func (p *Parser) localDecl() (*ast.Node, error) {
	baseType, err := p.parseType()
	if err != nil {
		return nil, err
	}
	identTok, err := p.expect(token.IDENT)
	if err != nil {
		return nil, err
	}
	t, err := p.parseArraySuffix(baseType)
	if err != nil {
		return nil, err
	}

	lv, ok := p.scope.Declare(p.identText(identTok), t)
	if !ok {
		return nil, p.errorAt(identTok, "Redeclaration of local variable.")
	}

	var initializer *ast.Node
	if _, ok := p.consume(token.ASSIGN); ok {
		initializer, err = p.expression()
		if err != nil {
			return nil, err
		}
	}
	if _, err := p.expect(token.SEMICOLON); err != nil {
		return nil, err
	}

	if initializer == nil {
		return &ast.Node{Kind: ast.Block}, nil
	}
	ref := &ast.Node{Kind: ast.LocalVariableRef, LocalVariable: lv, Type: t}
	return &ast.Node{Kind: ast.Assign, Type: t, LHS: ref, RHS: initializer}, nil
}

// --- expressions ---

func (p *Parser) expression() (*ast.Node, error) {
	return p.assign()
}

// assign = equality ("=" assign)?
func (p *Parser) assign() (*ast.Node, error) {
	node, err := p.equality()
	if err != nil {
		return nil, err
	}
	if eq, ok := p.consume(token.ASSIGN); ok {
		if !isLvalue(node) {
			return nil, p.errorAt(eq, "Left-hand side of assignment must be an lvalue.")
		}
		rhs, err := p.assign()
		if err != nil {
			return nil, err
		}
		return &ast.Node{Kind: ast.Assign, Type: node.Type, LHS: node, RHS: rhs}, nil
	}
	return node, nil
}

func isLvalue(node *ast.Node) bool {
	return node.Kind == ast.LocalVariableRef || node.Kind == ast.Dereference
}

// equality = relational (("==" | "!=") relational)*
func (p *Parser) equality() (*ast.Node, error) {
	node, err := p.relational()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.at(token.EQ):
			p.advance()
			rhs, err := p.relational()
			if err != nil {
				return nil, err
			}
			node = &ast.Node{Kind: ast.Eq, LHS: node, RHS: rhs, Type: types.IntType}
		case p.at(token.NE):
			p.advance()
			rhs, err := p.relational()
			if err != nil {
				return nil, err
			}
			node = &ast.Node{Kind: ast.Ne, LHS: node, RHS: rhs, Type: types.IntType}
		default:
			return node, nil
		}
	}
}

// relational = additive (("<" | "<=" | ">" | ">=") additive)*
//
// ">" and ">=" are rewritten as "<" and "<=" with swapped operands, so
// codegen never has to know about them.
func (p *Parser) relational() (*ast.Node, error) {
	node, err := p.additive()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.at(token.LT):
			p.advance()
			rhs, err := p.additive()
			if err != nil {
				return nil, err
			}
			node = &ast.Node{Kind: ast.Lt, LHS: node, RHS: rhs, Type: types.IntType}
		case p.at(token.LE):
			p.advance()
			rhs, err := p.additive()
			if err != nil {
				return nil, err
			}
			node = &ast.Node{Kind: ast.Le, LHS: node, RHS: rhs, Type: types.IntType}
		case p.at(token.GT):
			p.advance()
			rhs, err := p.additive()
			if err != nil {
				return nil, err
			}
			node = &ast.Node{Kind: ast.Lt, LHS: rhs, RHS: node, Type: types.IntType}
		case p.at(token.GE):
			p.advance()
			rhs, err := p.additive()
			if err != nil {
				return nil, err
			}
			node = &ast.Node{Kind: ast.Le, LHS: rhs, RHS: node, Type: types.IntType}
		default:
			return node, nil
		}
	}
}

// additive = multiplicative (("+" | "-") multiplicative)*
func (p *Parser) additive() (*ast.Node, error) {
	node, err := p.multiplicative()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.at(token.PLUS):
			opTok := p.advance()
			rhs, err := p.multiplicative()
			if err != nil {
				return nil, err
			}
			node, err = p.combineAdd(opTok, node, rhs)
			if err != nil {
				return nil, err
			}
		case p.at(token.MINUS):
			opTok := p.advance()
			rhs, err := p.multiplicative()
			if err != nil {
				return nil, err
			}
			node, err = p.combineSub(opTok, node, rhs)
			if err != nil {
				return nil, err
			}
		default:
			return node, nil
		}
	}
}

// combineAdd dispatches "+" by operand type: int+int is an ordinary
// Add; ptr+int or int+ptr becomes AddPointer with the pointer operand
// normalized into lhs.
func (p *Parser) combineAdd(opTok token.Token, lhs, rhs *ast.Node) (*ast.Node, error) {
	lInt := lhs.Type.Kind == types.Int
	rInt := rhs.Type.Kind == types.Int
	lPtr := types.IsPointerLike(lhs.Type)
	rPtr := types.IsPointerLike(rhs.Type)

	switch {
	case lInt && rInt:
		return &ast.Node{Kind: ast.Add, LHS: lhs, RHS: rhs, Type: types.IntType}, nil
	case lPtr && rInt:
		return &ast.Node{Kind: ast.AddPointer, LHS: lhs, RHS: rhs, Type: decay(lhs.Type)}, nil
	case lInt && rPtr:
		return &ast.Node{Kind: ast.AddPointer, LHS: rhs, RHS: lhs, Type: decay(rhs.Type)}, nil
	default:
		return nil, p.errorAt(opTok, "Invalid operands to '+'.")
	}
}

// combineSub dispatches "-": int-int is Sub; ptr-int is SubPointer;
// ptr-ptr (same pointee size) is DiffPointer, yielding an int.
func (p *Parser) combineSub(opTok token.Token, lhs, rhs *ast.Node) (*ast.Node, error) {
	lInt := lhs.Type.Kind == types.Int
	rInt := rhs.Type.Kind == types.Int
	lPtr := types.IsPointerLike(lhs.Type)
	rPtr := types.IsPointerLike(rhs.Type)

	switch {
	case lInt && rInt:
		return &ast.Node{Kind: ast.Sub, LHS: lhs, RHS: rhs, Type: types.IntType}, nil
	case lPtr && rInt:
		return &ast.Node{Kind: ast.SubPointer, LHS: lhs, RHS: rhs, Type: decay(lhs.Type)}, nil
	case lPtr && rPtr && types.SamePointeeSize(lhs.Type, rhs.Type):
		return &ast.Node{Kind: ast.DiffPointer, LHS: lhs, RHS: rhs, Type: types.IntType}, nil
	default:
		return nil, p.errorAt(opTok, "Invalid operands to '-'.")
	}
}

// decay turns an Array type into a Pointer to its element, and leaves
// any other type (notably an already-Pointer type) unchanged - the
// result of pointer arithmetic is always a pointer, never an array.
func decay(t *types.Type) *types.Type {
	if t.Kind == types.Array {
		return types.NewPointer(t.Pointee)
	}
	return t
}

// multiplicative = unary (("*" | "/") unary)*
func (p *Parser) multiplicative() (*ast.Node, error) {
	node, err := p.unary()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.at(token.ASTERISK):
			p.advance()
			rhs, err := p.unary()
			if err != nil {
				return nil, err
			}
			node = &ast.Node{Kind: ast.Mul, LHS: node, RHS: rhs, Type: types.IntType}
		case p.at(token.SLASH):
			p.advance()
			rhs, err := p.unary()
			if err != nil {
				return nil, err
			}
			node = &ast.Node{Kind: ast.Div, LHS: node, RHS: rhs, Type: types.IntType}
		default:
			return node, nil
		}
	}
}

// unary = "+"? postfix | "-" postfix | "sizeof" unary
//       | "*" unary | "&" unary
func (p *Parser) unary() (*ast.Node, error) {
	switch {
	case p.at(token.PLUS):
		p.advance()
		return p.postfix()

	case p.at(token.MINUS):
		opTok := p.advance()
		operand, err := p.postfix()
		if err != nil {
			return nil, err
		}
		zero := &ast.Node{Kind: ast.Number, Value: 0, Type: types.IntType}
		return p.combineSub(opTok, zero, operand)

	case p.at(token.SIZEOF):
		p.advance()
		operand, err := p.unary()
		if err != nil {
			return nil, err
		}
		return &ast.Node{Kind: ast.Number, Value: types.SizeOf(operand.Type), Type: types.IntType}, nil

	case p.at(token.ASTERISK):
		opTok := p.advance()
		operand, err := p.unary()
		if err != nil {
			return nil, err
		}
		if !types.IsPointerLike(operand.Type) {
			return nil, p.errorAt(opTok, "Cannot dereference a non-pointer type.")
		}
		return &ast.Node{Kind: ast.Dereference, Child: operand, Type: operand.Type.Pointee}, nil

	case p.at(token.AMPERSAND):
		opTok := p.advance()
		operand, err := p.unary()
		if err != nil {
			return nil, err
		}
		if !isLvalue(operand) {
			return nil, p.errorAt(opTok, "Cannot take the address of a non-lvalue.")
		}
		return &ast.Node{Kind: ast.Address, Child: operand, Type: types.NewPointer(operand.Type)}, nil

	default:
		return p.postfix()
	}
}

// postfix = primary ("[" expression "]")*
//
// e[i] desugars to *(e + i), reusing the additive-operator dispatch so
// pointer arithmetic (scaling by pointee size) applies uniformly.
func (p *Parser) postfix() (*ast.Node, error) {
	node, err := p.primary()
	if err != nil {
		return nil, err
	}
	for p.at(token.LBRACKET) {
		opTok := p.advance()
		index, err := p.expression()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(token.RBRACKET); err != nil {
			return nil, err
		}
		sum, err := p.combineAdd(opTok, node, index)
		if err != nil {
			return nil, err
		}
		node = &ast.Node{Kind: ast.Dereference, Child: sum, Type: sum.Type.Pointee}
	}
	return node, nil
}

// primary = "(" expression ")" | identifier call_tail? | number
func (p *Parser) primary() (*ast.Node, error) {
	switch {
	case p.at(token.LPAREN):
		p.advance()
		node, err := p.expression()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(token.RPAREN); err != nil {
			return nil, err
		}
		return node, nil

	case p.at(token.IDENT):
		return p.identifierOrCall()

	case p.at(token.NUMBER):
		value, err := p.expectNumber()
		if err != nil {
			return nil, err
		}
		return &ast.Node{Kind: ast.Number, Value: value, Type: types.IntType}, nil

	default:
		return nil, p.errorAt(p.cur(), "Expected an expression.")
	}
}

// identifierOrCall resolves an identifier reference, or - when
// followed by "(" - parses a call_tail and resolves the callee.
func (p *Parser) identifierOrCall() (*ast.Node, error) {
	identTok, err := p.expect(token.IDENT)
	if err != nil {
		return nil, err
	}
	name := p.identText(identTok)

	if _, ok := p.consume(token.LPAREN); ok {
		var args []*ast.Node
		if !p.at(token.RPAREN) {
			for {
				arg, err := p.expression()
				if err != nil {
					return nil, err
				}
				args = append(args, arg)
				if _, ok := p.consume(token.COMMA); !ok {
					break
				}
			}
		}
		if _, err := p.expect(token.RPAREN); err != nil {
			return nil, err
		}
		sig, ok := p.functions[name]
		if !ok {
			return nil, p.errorAt(identTok, "Undefined function.")
		}
		return &ast.Node{Kind: ast.FunctionCall, Name: name, Args: args, Type: sig.ReturnType}, nil
	}

	lv := p.scope.Lookup(name)
	if lv == nil {
		return nil, p.errorAt(identTok, "Undefined local variable.")
	}
	return &ast.Node{Kind: ast.LocalVariableRef, LocalVariable: lv, Type: lv.Type}, nil
}
