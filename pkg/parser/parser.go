// Package parser implements nyx's parser (C2): recursive-descent over
// statements, Pratt precedence climbing over expressions, producing the
// ast package's ESTree-shaped tree.
//
// Token Management:
//
// Like the teacher's parser, curTok/peekTok give a two-token lookahead
// window so the parser can distinguish, say, an identifier starting an
// expression statement from one starting a labeled statement (IDENT
// followed by COLON).
//
// Operator Precedence:
//
// Lowest to highest, per spec.md §4.2:
//
//	comma, assignment (right-assoc), conditional ?:, logical-or,
//	logical-and, bitwise-or, bitwise-xor, bitwise-and, equality,
//	relational (in, instanceof), shift, additive, multiplicative,
//	exponent (right-assoc), unary, postfix-update, call/member, primary.
//
// Error Policy:
//
// The parser aborts at the first unrecoverable mismatch with a
// *SyntaxError carrying a span, per spec.md §4.2 — no partial AST, no
// panic recovery. This mirrors the teacher's "accumulate simple errors,
// but a structural mismatch stops everything" posture, simplified to
// "stop on first error" since the core does not need multi-error
// reporting.
package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kristofer/nyx/pkg/ast"
	"github.com/kristofer/nyx/pkg/lexer"
)

// SyntaxError reports a parse failure with its source span, per the
// §6.2 error taxonomy.
type SyntaxError struct {
	Message string
	Line    int
	Column  int
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("SyntaxError: %s (line %d, column %d)", e.Message, e.Line, e.Column)
}

// precedence levels, lowest to highest.
const (
	_ int = iota
	precComma
	precAssign
	precConditional
	precLogicalOr
	precLogicalAnd
	precBitOr
	precBitXor
	precBitAnd
	precEquality
	precRelational
	precShift
	precAdditive
	precMultiplicative
	precExponent
	precUnary
	precPostfix
	precCall
)

var precedences = map[lexer.TokenType]int{
	lexer.ASSIGN: precAssign, lexer.PLUS_ASSIGN: precAssign,
	lexer.MINUS_ASSIGN: precAssign, lexer.STAR_ASSIGN: precAssign, lexer.SLASH_ASSIGN: precAssign,
	lexer.QUESTION: precConditional,
	lexer.OR_OR:    precLogicalOr,
	lexer.AND_AND:  precLogicalAnd,
	lexer.PIPE:     precBitOr,
	lexer.CARET:    precBitXor,
	lexer.AMP:      precBitAnd,
	lexer.EQ:       precEquality, lexer.NEQ: precEquality, lexer.SEQ: precEquality, lexer.SNEQ: precEquality,
	lexer.LT: precRelational, lexer.GT: precRelational, lexer.LE: precRelational, lexer.GE: precRelational,
	lexer.IN: precRelational, lexer.INSTANCEOF: precRelational,
	lexer.SHL: precShift, lexer.SHR: precShift, lexer.USHR: precShift,
	lexer.PLUS: precAdditive, lexer.MINUS: precAdditive,
	lexer.STAR: precMultiplicative, lexer.SLASH: precMultiplicative, lexer.PERCENT: precMultiplicative,
	lexer.STAR_STAR: precExponent,
	lexer.LPAREN:    precCall, lexer.DOT: precCall, lexer.LBRACKET: precCall, lexer.QUESTION_DOT: precCall,
}

// Parser turns a token stream into an *ast.Program.
type Parser struct {
	l       *lexer.Lexer
	curTok  lexer.Token
	peekTok lexer.Token
}

// New creates a Parser over source.
func New(source string) *Parser {
	p := &Parser{l: lexer.New(source)}
	p.next()
	p.next()
	return p
}

func (p *Parser) next() {
	p.curTok = p.peekTok
	p.peekTok = p.l.NextToken()
}

func (p *Parser) curIs(t lexer.TokenType) bool  { return p.curTok.Type == t }
func (p *Parser) peekIs(t lexer.TokenType) bool { return p.peekTok.Type == t }

func (p *Parser) expect(t lexer.TokenType) (lexer.Token, error) {
	if !p.curIs(t) {
		return p.curTok, &SyntaxError{
			Message: fmt.Sprintf("expected %s, got %s (%q)", t, p.curTok.Type, p.curTok.Literal),
			Line:    p.curTok.Line, Column: p.curTok.Column,
		}
	}
	tok := p.curTok
	p.next()
	return tok, nil
}

func (p *Parser) skipSemi() {
	for p.curIs(lexer.SEMI) {
		p.next()
	}
}

// Parse parses a complete program, returning *SyntaxError on the first
// unrecoverable mismatch.
func (p *Parser) Parse() (*ast.Program, error) {
	prog := &ast.Program{}
	for !p.curIs(lexer.EOF) {
		stmt, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		if stmt != nil {
			prog.Statements = append(prog.Statements, stmt)
		}
		p.skipSemi()
	}
	return prog, nil
}

func (p *Parser) parseStatement() (ast.Statement, error) {
	switch p.curTok.Type {
	case lexer.VAR, lexer.LET, lexer.CONST:
		return p.parseVariableDeclaration()
	case lexer.FUNCTION:
		return p.parseFunctionDeclaration()
	case lexer.LBRACE:
		return p.parseBlockStatement()
	case lexer.IF:
		return p.parseIfStatement()
	case lexer.WHILE:
		return p.parseWhileStatement("")
	case lexer.DO:
		return p.parseDoWhileStatement("")
	case lexer.FOR:
		return p.parseForStatement("")
	case lexer.SWITCH:
		return p.parseSwitchStatement("")
	case lexer.TRY:
		return p.parseTryStatement()
	case lexer.THROW:
		return p.parseThrowStatement()
	case lexer.RETURN:
		return p.parseReturnStatement()
	case lexer.BREAK:
		return p.parseBreakStatement()
	case lexer.CONTINUE:
		return p.parseContinueStatement()
	case lexer.WITH:
		return p.parseWithStatement()
	case lexer.DEBUGGER:
		p.next()
		return &ast.DebuggerStatement{}, nil
	case lexer.SEMI:
		p.next()
		return &ast.EmptyStatement{}, nil
	case lexer.IDENT:
		if p.peekIs(lexer.COLON) {
			return p.parseLabeledStatement()
		}
		return p.parseExpressionStatement()
	default:
		return p.parseExpressionStatement()
	}
}

func (p *Parser) parseVariableDeclaration() (*ast.VariableDeclaration, error) {
	kind := ast.VarVar
	switch p.curTok.Type {
	case lexer.LET:
		kind = ast.VarLet
	case lexer.CONST:
		kind = ast.VarConst
	}
	p.next()

	decl := &ast.VariableDeclaration{Kind: kind}
	for {
		name, err := p.expect(lexer.IDENT)
		if err != nil {
			return nil, err
		}
		d := ast.Declarator{Name: name.Literal}
		if p.curIs(lexer.ASSIGN) {
			p.next()
			init, err := p.parseExpression(precAssign)
			if err != nil {
				return nil, err
			}
			d.Init = init
		}
		decl.Declarators = append(decl.Declarators, d)
		if p.curIs(lexer.COMMA) {
			p.next()
			continue
		}
		break
	}
	return decl, nil
}

func (p *Parser) parseFunctionDeclaration() (*ast.FunctionDeclaration, error) {
	p.next() // consume 'function'
	name, err := p.expect(lexer.IDENT)
	if err != nil {
		return nil, err
	}
	params, err := p.parseParams()
	if err != nil {
		return nil, err
	}
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	return &ast.FunctionDeclaration{Name: name.Literal, Params: params, Body: body}, nil
}

func (p *Parser) parseParams() ([]string, error) {
	if _, err := p.expect(lexer.LPAREN); err != nil {
		return nil, err
	}
	var params []string
	for !p.curIs(lexer.RPAREN) {
		id, err := p.expect(lexer.IDENT)
		if err != nil {
			return nil, err
		}
		params = append(params, id.Literal)
		if p.curIs(lexer.COMMA) {
			p.next()
		}
	}
	if _, err := p.expect(lexer.RPAREN); err != nil {
		return nil, err
	}
	return params, nil
}

func (p *Parser) parseBlock() ([]ast.Statement, error) {
	if _, err := p.expect(lexer.LBRACE); err != nil {
		return nil, err
	}
	var stmts []ast.Statement
	for !p.curIs(lexer.RBRACE) && !p.curIs(lexer.EOF) {
		stmt, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, stmt)
		p.skipSemi()
	}
	if _, err := p.expect(lexer.RBRACE); err != nil {
		return nil, err
	}
	return stmts, nil
}

func (p *Parser) parseBlockStatement() (*ast.BlockStatement, error) {
	stmts, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	return &ast.BlockStatement{Statements: stmts}, nil
}

func (p *Parser) parseIfStatement() (*ast.IfStatement, error) {
	p.next()
	if _, err := p.expect(lexer.LPAREN); err != nil {
		return nil, err
	}
	test, err := p.parseExpression(precComma)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.RPAREN); err != nil {
		return nil, err
	}
	cons, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	stmt := &ast.IfStatement{Test: test, Consequent: cons}
	if p.curIs(lexer.ELSE) {
		p.next()
		alt, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		stmt.Alternate = alt
	}
	return stmt, nil
}

func (p *Parser) parseWhileStatement(label string) (*ast.WhileStatement, error) {
	p.next()
	if _, err := p.expect(lexer.LPAREN); err != nil {
		return nil, err
	}
	test, err := p.parseExpression(precComma)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.RPAREN); err != nil {
		return nil, err
	}
	body, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	return &ast.WhileStatement{Test: test, Body: body, Label: label}, nil
}

func (p *Parser) parseDoWhileStatement(label string) (*ast.DoWhileStatement, error) {
	p.next()
	body, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.WHILE); err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.LPAREN); err != nil {
		return nil, err
	}
	test, err := p.parseExpression(precComma)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.RPAREN); err != nil {
		return nil, err
	}
	return &ast.DoWhileStatement{Body: body, Test: test, Label: label}, nil
}

// parseForStatement handles both the C-style for(;;) loop and for-in/
// for-of, disambiguated by lookahead after the initializer clause, per
// spec.md §4.3 step 6.
func (p *Parser) parseForStatement(label string) (ast.Statement, error) {
	p.next()
	if _, err := p.expect(lexer.LPAREN); err != nil {
		return nil, err
	}

	// for (let x in/of expr) ...
	if p.curIs(lexer.VAR) || p.curIs(lexer.LET) || p.curIs(lexer.CONST) {
		kind := ast.VarVar
		switch p.curTok.Type {
		case lexer.LET:
			kind = ast.VarLet
		case lexer.CONST:
			kind = ast.VarConst
		}
		p.next()
		name, err := p.expect(lexer.IDENT)
		if err != nil {
			return nil, err
		}
		if p.curIs(lexer.IN) || p.curIs(lexer.OF) {
			of := p.curIs(lexer.OF)
			p.next()
			right, err := p.parseExpression(precComma)
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(lexer.RPAREN); err != nil {
				return nil, err
			}
			body, err := p.parseStatement()
			if err != nil {
				return nil, err
			}
			return &ast.ForInStatement{Of: of, Kind: kind, Decl: true, Name: name.Literal, Right: right, Body: body, Label: label}, nil
		}
		// Regular for(;;) with a declaration initializer.
		decl := &ast.VariableDeclaration{Kind: kind}
		d := ast.Declarator{Name: name.Literal}
		if p.curIs(lexer.ASSIGN) {
			p.next()
			init, err := p.parseExpression(precAssign)
			if err != nil {
				return nil, err
			}
			d.Init = init
		}
		decl.Declarators = append(decl.Declarators, d)
		for p.curIs(lexer.COMMA) {
			p.next()
			name, err := p.expect(lexer.IDENT)
			if err != nil {
				return nil, err
			}
			d := ast.Declarator{Name: name.Literal}
			if p.curIs(lexer.ASSIGN) {
				p.next()
				init, err := p.parseExpression(precAssign)
				if err != nil {
					return nil, err
				}
				d.Init = init
			}
			decl.Declarators = append(decl.Declarators, d)
		}
		return p.finishCStyleFor(label, decl)
	}

	if p.curIs(lexer.SEMI) {
		return p.finishCStyleFor(label, nil)
	}

	// Either `for (expr in/of expr)` or a plain expression initializer.
	first, err := p.parseExpression(precComma)
	if err != nil {
		return nil, err
	}
	if p.curIs(lexer.IN) || p.curIs(lexer.OF) {
		of := p.curIs(lexer.OF)
		p.next()
		ident, ok := first.(*ast.Identifier)
		if !ok {
			return nil, &SyntaxError{Message: "invalid left-hand side in for-in/for-of", Line: p.curTok.Line, Column: p.curTok.Column}
		}
		right, err := p.parseExpression(precComma)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(lexer.RPAREN); err != nil {
			return nil, err
		}
		body, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		return &ast.ForInStatement{Of: of, Decl: false, Name: ident.Name, Right: right, Body: body, Label: label}, nil
	}
	return p.finishCStyleFor(label, &ast.ExpressionStatement{Expression: first})
}

func (p *Parser) finishCStyleFor(label string, init ast.Node) (*ast.ForStatement, error) {
	if _, err := p.expect(lexer.SEMI); err != nil {
		return nil, err
	}
	var test ast.Expression
	if !p.curIs(lexer.SEMI) {
		t, err := p.parseExpression(precComma)
		if err != nil {
			return nil, err
		}
		test = t
	}
	if _, err := p.expect(lexer.SEMI); err != nil {
		return nil, err
	}
	var update ast.Expression
	if !p.curIs(lexer.RPAREN) {
		u, err := p.parseExpression(precComma)
		if err != nil {
			return nil, err
		}
		update = u
	}
	if _, err := p.expect(lexer.RPAREN); err != nil {
		return nil, err
	}
	body, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	var initNode ast.Node = init
	if es, ok := init.(*ast.ExpressionStatement); ok {
		initNode = es
	}
	return &ast.ForStatement{Init: initNode, Test: test, Update: update, Body: body, Label: label}, nil
}

func (p *Parser) parseSwitchStatement(label string) (*ast.SwitchStatement, error) {
	p.next()
	if _, err := p.expect(lexer.LPAREN); err != nil {
		return nil, err
	}
	disc, err := p.parseExpression(precComma)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.RPAREN); err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.LBRACE); err != nil {
		return nil, err
	}
	stmt := &ast.SwitchStatement{Discriminant: disc, Label: label}
	for !p.curIs(lexer.RBRACE) && !p.curIs(lexer.EOF) {
		var c ast.SwitchCase
		if p.curIs(lexer.CASE) {
			p.next()
			test, err := p.parseExpression(precComma)
			if err != nil {
				return nil, err
			}
			c.Test = test
		} else if p.curIs(lexer.DEFAULT) {
			p.next()
		} else {
			return nil, &SyntaxError{Message: "expected case or default", Line: p.curTok.Line, Column: p.curTok.Column}
		}
		if _, err := p.expect(lexer.COLON); err != nil {
			return nil, err
		}
		for !p.curIs(lexer.CASE) && !p.curIs(lexer.DEFAULT) && !p.curIs(lexer.RBRACE) {
			s, err := p.parseStatement()
			if err != nil {
				return nil, err
			}
			c.Body = append(c.Body, s)
			p.skipSemi()
		}
		stmt.Cases = append(stmt.Cases, c)
	}
	if _, err := p.expect(lexer.RBRACE); err != nil {
		return nil, err
	}
	return stmt, nil
}

func (p *Parser) parseTryStatement() (*ast.TryStatement, error) {
	p.next()
	block, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	stmt := &ast.TryStatement{Block: block}
	if p.curIs(lexer.CATCH) {
		stmt.HasCatch = true
		p.next()
		if p.curIs(lexer.LPAREN) {
			p.next()
			name, err := p.expect(lexer.IDENT)
			if err != nil {
				return nil, err
			}
			stmt.CatchParam = name.Literal
			if _, err := p.expect(lexer.RPAREN); err != nil {
				return nil, err
			}
		}
		body, err := p.parseBlock()
		if err != nil {
			return nil, err
		}
		stmt.CatchBody = body
	}
	if p.curIs(lexer.FINALLY) {
		stmt.HasFinally = true
		p.next()
		body, err := p.parseBlock()
		if err != nil {
			return nil, err
		}
		stmt.FinallyBody = body
	}
	if !stmt.HasCatch && !stmt.HasFinally {
		return nil, &SyntaxError{Message: "missing catch or finally after try", Line: p.curTok.Line, Column: p.curTok.Column}
	}
	return stmt, nil
}

func (p *Parser) parseThrowStatement() (*ast.ThrowStatement, error) {
	p.next()
	arg, err := p.parseExpression(precComma)
	if err != nil {
		return nil, err
	}
	return &ast.ThrowStatement{Argument: arg}, nil
}

func (p *Parser) parseReturnStatement() (*ast.ReturnStatement, error) {
	p.next()
	if p.curIs(lexer.SEMI) || p.curIs(lexer.RBRACE) || p.curIs(lexer.EOF) {
		return &ast.ReturnStatement{}, nil
	}
	arg, err := p.parseExpression(precComma)
	if err != nil {
		return nil, err
	}
	return &ast.ReturnStatement{Argument: arg}, nil
}

func (p *Parser) parseBreakStatement() (*ast.BreakStatement, error) {
	p.next()
	label := ""
	if p.curIs(lexer.IDENT) {
		label = p.curTok.Literal
		p.next()
	}
	return &ast.BreakStatement{Label: label}, nil
}

func (p *Parser) parseContinueStatement() (*ast.ContinueStatement, error) {
	p.next()
	label := ""
	if p.curIs(lexer.IDENT) {
		label = p.curTok.Literal
		p.next()
	}
	return &ast.ContinueStatement{Label: label}, nil
}

func (p *Parser) parseWithStatement() (*ast.WithStatement, error) {
	p.next()
	if _, err := p.expect(lexer.LPAREN); err != nil {
		return nil, err
	}
	obj, err := p.parseExpression(precComma)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.RPAREN); err != nil {
		return nil, err
	}
	body, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	return &ast.WithStatement{Object: obj, Body: body}, nil
}

func (p *Parser) parseLabeledStatement() (ast.Statement, error) {
	label := p.curTok.Literal
	p.next() // ident
	p.next() // colon
	switch p.curTok.Type {
	case lexer.FOR:
		return p.parseForStatement(label)
	case lexer.WHILE:
		return p.parseWhileStatement(label)
	case lexer.DO:
		return p.parseDoWhileStatement(label)
	case lexer.SWITCH:
		return p.parseSwitchStatement(label)
	default:
		body, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		return &ast.LabeledStatement{Label: label, Body: body}, nil
	}
}

func (p *Parser) parseExpressionStatement() (*ast.ExpressionStatement, error) {
	expr, err := p.parseExpression(precComma)
	if err != nil {
		return nil, err
	}
	return &ast.ExpressionStatement{Expression: expr}, nil
}

// ---- Expressions (Pratt parsing) ----

func (p *Parser) peekPrecedence() int {
	if pr, ok := precedences[p.peekTok.Type]; ok {
		return pr
	}
	return 0
}

func (p *Parser) parseExpression(minPrec int) (ast.Expression, error) {
	left, err := p.parsePrefix()
	if err != nil {
		return nil, err
	}

	for {
		switch p.curTok.Type {
		case lexer.COMMA:
			if minPrec > precComma {
				return left, nil
			}
			p.next()
			right, err := p.parseExpression(precAssign)
			if err != nil {
				return nil, err
			}
			if seq, ok := left.(*ast.SequenceExpression); ok {
				seq.Expressions = append(seq.Expressions, right)
			} else {
				left = &ast.SequenceExpression{Expressions: []ast.Expression{left, right}}
			}
			continue
		case lexer.ASSIGN, lexer.PLUS_ASSIGN, lexer.MINUS_ASSIGN, lexer.STAR_ASSIGN, lexer.SLASH_ASSIGN:
			if minPrec > precAssign {
				return left, nil
			}
			op := p.curTok.Literal
			p.next()
			right, err := p.parseExpression(precAssign)
			if err != nil {
				return nil, err
			}
			left = &ast.AssignmentExpression{Operator: op, Target: left, Value: right}
			continue
		case lexer.QUESTION:
			if minPrec > precConditional {
				return left, nil
			}
			p.next()
			cons, err := p.parseExpression(precAssign)
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(lexer.COLON); err != nil {
				return nil, err
			}
			alt, err := p.parseExpression(precAssign)
			if err != nil {
				return nil, err
			}
			left = &ast.ConditionalExpression{Test: left, Consequent: cons, Alternate: alt}
			continue
		}

		prec := p.currentInfixPrecedence()
		if prec == 0 || prec < minPrec {
			return left, nil
		}

		switch p.curTok.Type {
		case lexer.OR_OR, lexer.AND_AND:
			op := p.curTok.Literal
			p.next()
			right, err := p.parseExpression(prec + 1)
			if err != nil {
				return nil, err
			}
			left = &ast.LogicalExpression{Operator: op, Left: left, Right: right}
		case lexer.DOT:
			p.next()
			name, err := p.expect(lexer.IDENT)
			if err != nil {
				return nil, err
			}
			left = &ast.MemberExpression{Object: left, Property: &ast.Identifier{Name: name.Literal}}
		case lexer.QUESTION_DOT:
			p.next()
			name, err := p.expect(lexer.IDENT)
			if err != nil {
				return nil, err
			}
			left = &ast.MemberExpression{Object: left, Property: &ast.Identifier{Name: name.Literal}, Optional: true}
		case lexer.LBRACKET:
			p.next()
			idx, err := p.parseExpression(precComma)
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(lexer.RBRACKET); err != nil {
				return nil, err
			}
			left = &ast.MemberExpression{Object: left, Property: idx, Computed: true}
		case lexer.LPAREN:
			args, err := p.parseArgs()
			if err != nil {
				return nil, err
			}
			left = &ast.CallExpression{Callee: left, Args: args}
		case lexer.STAR_STAR:
			p.next()
			right, err := p.parseExpression(prec) // right-assoc
			if err != nil {
				return nil, err
			}
			left = &ast.BinaryExpression{Operator: "**", Left: left, Right: right}
		default:
			op := p.curTok.Literal
			p.next()
			right, err := p.parseExpression(prec + 1)
			if err != nil {
				return nil, err
			}
			left = &ast.BinaryExpression{Operator: op, Left: left, Right: right}
		}
	}
}

func (p *Parser) currentInfixPrecedence() int {
	if pr, ok := precedences[p.curTok.Type]; ok {
		return pr
	}
	return 0
}

func (p *Parser) parseArgs() ([]ast.Expression, error) {
	if _, err := p.expect(lexer.LPAREN); err != nil {
		return nil, err
	}
	var args []ast.Expression
	for !p.curIs(lexer.RPAREN) {
		arg, err := p.parseExpression(precAssign)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		if p.curIs(lexer.COMMA) {
			p.next()
		}
	}
	if _, err := p.expect(lexer.RPAREN); err != nil {
		return nil, err
	}
	return args, nil
}

// parsePrefix parses unary operators, primary expressions, and
// postfix-update expressions (spec.md §4.2's unary/postfix-update rungs).
func (p *Parser) parsePrefix() (ast.Expression, error) {
	switch p.curTok.Type {
	case lexer.BANG, lexer.MINUS, lexer.PLUS, lexer.TYPEOF, lexer.VOID, lexer.DELETE, lexer.TILDE:
		op := p.curTok.Literal
		if p.curTok.Type == lexer.TYPEOF {
			op = "typeof"
		} else if p.curTok.Type == lexer.VOID {
			op = "void"
		} else if p.curTok.Type == lexer.DELETE {
			op = "delete"
		}
		p.next()
		arg, err := p.parseExpression(precUnary)
		if err != nil {
			return nil, err
		}
		return &ast.UnaryExpression{Operator: op, Argument: arg}, nil
	case lexer.INC, lexer.DEC:
		op := p.curTok.Literal
		p.next()
		arg, err := p.parseExpression(precUnary)
		if err != nil {
			return nil, err
		}
		return &ast.UpdateExpression{Operator: op, Argument: arg, Prefix: true}, nil
	case lexer.NEW:
		p.next()
		callee, err := p.parseExpression(precCall)
		if err != nil {
			return nil, err
		}
		if call, ok := callee.(*ast.CallExpression); ok {
			return &ast.NewExpression{Callee: call.Callee, Args: call.Args}, nil
		}
		return &ast.NewExpression{Callee: callee}, nil
	default:
		expr, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		return p.parsePostfix(expr)
	}
}

func (p *Parser) parsePostfix(expr ast.Expression) (ast.Expression, error) {
	for p.curIs(lexer.INC) || p.curIs(lexer.DEC) {
		op := p.curTok.Literal
		p.next()
		expr = &ast.UpdateExpression{Operator: op, Argument: expr, Prefix: false}
	}
	return expr, nil
}

func (p *Parser) parsePrimary() (ast.Expression, error) {
	switch p.curTok.Type {
	case lexer.NUMBER:
		v, err := strconv.ParseFloat(p.curTok.Literal, 64)
		if err != nil {
			// ParseFloat has no 0x/0o/0b forms; ParseInt with base 0 does.
			n, ierr := strconv.ParseInt(p.curTok.Literal, 0, 64)
			if ierr != nil {
				return nil, &SyntaxError{Message: "invalid number literal " + p.curTok.Literal, Line: p.curTok.Line, Column: p.curTok.Column}
			}
			v = float64(n)
		}
		p.next()
		return &ast.NumberLiteral{Value: v}, nil
	case lexer.BIGINT:
		text := strings.TrimSuffix(p.curTok.Literal, "n")
		p.next()
		return &ast.BigIntLiteral{Text: text}, nil
	case lexer.STRING, lexer.TEMPLATE:
		v := p.curTok.Literal
		p.next()
		return &ast.StringLiteral{Value: v}, nil
	case lexer.REGEX:
		lit := p.curTok.Literal
		p.next()
		last := strings.LastIndex(lit, "/")
		return &ast.RegexLiteral{Pattern: lit[1:last], Flags: lit[last+1:]}, nil
	case lexer.TRUE:
		p.next()
		return &ast.BooleanLiteral{Value: true}, nil
	case lexer.FALSE:
		p.next()
		return &ast.BooleanLiteral{Value: false}, nil
	case lexer.NULL:
		p.next()
		return &ast.NullLiteral{}, nil
	case lexer.UNDEFINED:
		p.next()
		return &ast.UndefinedLiteral{}, nil
	case lexer.THIS:
		p.next()
		return &ast.ThisExpression{}, nil
	case lexer.IDENT:
		name := p.curTok.Literal
		if p.peekIs(lexer.ARROW) {
			p.next() // ident
			p.next() // =>
			return p.parseArrowBody([]string{name})
		}
		p.next()
		return &ast.Identifier{Name: name}, nil
	case lexer.FUNCTION:
		return p.parseFunctionExpression()
	case lexer.LPAREN:
		return p.parseParenOrArrow()
	case lexer.LBRACKET:
		return p.parseArrayLiteral()
	case lexer.LBRACE:
		return p.parseObjectLiteral()
	default:
		return nil, &SyntaxError{
			Message: fmt.Sprintf("unexpected token %s (%q)", p.curTok.Type, p.curTok.Literal),
			Line:    p.curTok.Line, Column: p.curTok.Column,
		}
	}
}

func (p *Parser) parseFunctionExpression() (ast.Expression, error) {
	p.next() // 'function'
	name := ""
	if p.curIs(lexer.IDENT) {
		name = p.curTok.Literal
		p.next()
	}
	params, err := p.parseParams()
	if err != nil {
		return nil, err
	}
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	return &ast.FunctionLiteral{Name: name, Params: params, Body: body}, nil
}

// parseParenOrArrow disambiguates a parenthesized expression from an
// arrow function's parameter list by trying the arrow shape first and
// falling back to a plain grouped expression.
func (p *Parser) parseParenOrArrow() (ast.Expression, error) {
	save := *p // shallow copy: lexer is a pointer, so this only checkpoints token state
	lexSave := *p.l

	if params, ok := p.tryParseArrowParams(); ok && p.curIs(lexer.ARROW) {
		p.next()
		return p.parseArrowBody(params)
	}

	// Roll back and parse as a grouped expression.
	*p = save
	*p.l = lexSave

	p.next() // consume '('
	expr, err := p.parseExpression(precComma)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.RPAREN); err != nil {
		return nil, err
	}
	return expr, nil
}

func (p *Parser) tryParseArrowParams() (params []string, ok bool) {
	p.next() // consume '('
	for !p.curIs(lexer.RPAREN) {
		if !p.curIs(lexer.IDENT) {
			return nil, false
		}
		params = append(params, p.curTok.Literal)
		p.next()
		if p.curIs(lexer.COMMA) {
			p.next()
			continue
		}
		if !p.curIs(lexer.RPAREN) {
			return nil, false
		}
	}
	p.next() // consume ')'
	return params, true
}

func (p *Parser) parseArrowBody(params []string) (ast.Expression, error) {
	if p.curIs(lexer.LBRACE) {
		body, err := p.parseBlock()
		if err != nil {
			return nil, err
		}
		return &ast.FunctionLiteral{Params: params, Body: body, Arrow: true}, nil
	}
	expr, err := p.parseExpression(precAssign)
	if err != nil {
		return nil, err
	}
	return &ast.FunctionLiteral{Params: params, Body: []ast.Statement{&ast.ReturnStatement{Argument: expr}}, Arrow: true}, nil
}

func (p *Parser) parseArrayLiteral() (ast.Expression, error) {
	p.next() // '['
	arr := &ast.ArrayLiteral{}
	for !p.curIs(lexer.RBRACKET) {
		el, err := p.parseExpression(precAssign)
		if err != nil {
			return nil, err
		}
		arr.Elements = append(arr.Elements, el)
		if p.curIs(lexer.COMMA) {
			p.next()
		}
	}
	if _, err := p.expect(lexer.RBRACKET); err != nil {
		return nil, err
	}
	return arr, nil
}

func (p *Parser) parseObjectLiteral() (ast.Expression, error) {
	p.next() // '{'
	obj := &ast.ObjectLiteral{}
	for !p.curIs(lexer.RBRACE) {
		var key string
		switch p.curTok.Type {
		case lexer.IDENT:
			key = p.curTok.Literal
			p.next()
		case lexer.STRING:
			key = p.curTok.Literal
			p.next()
		case lexer.NUMBER:
			key = p.curTok.Literal
			p.next()
		default:
			return nil, &SyntaxError{Message: "expected property key", Line: p.curTok.Line, Column: p.curTok.Column}
		}
		if _, err := p.expect(lexer.COLON); err != nil {
			return nil, err
		}
		val, err := p.parseExpression(precAssign)
		if err != nil {
			return nil, err
		}
		obj.Properties = append(obj.Properties, ast.ObjectProperty{Key: key, Value: val})
		if p.curIs(lexer.COMMA) {
			p.next()
		}
	}
	if _, err := p.expect(lexer.RBRACE); err != nil {
		return nil, err
	}
	return obj, nil
}
