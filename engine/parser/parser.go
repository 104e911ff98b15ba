// Package parser turns a pipeline query string into an ast.Query.
//
// The grammar is a small PEG:
//
//	Query      := Process ( '|' Process )*
//	Process    := Ident ( '(' ArgList? ')' )? | '.' | Expression
//	Expression := Or with the usual precedence ladder down to Postfix
//
// A stage that parses to a bare identifier or a call names an operator;
// any other expression desugars to select(expr), and a lone '.' is the
// identity operator.
package parser

import (
	"strings"

	"recq/engine/ast"
	"recq/lib/errs"
)

type Parser struct {
	lex lexer
	tok token // current token
	err error
}

// Parse parses a complete query.
func Parse(input string) (ast.Query, error) {
	p := &Parser{lex: lexer{input: input}}
	p.advance()
	q, err := p.query()
	if err != nil {
		return ast.Query{}, err
	}
	if p.err != nil {
		return ast.Query{}, p.err
	}
	if p.tok.typ != tokEOF {
		return ast.Query{}, p.unexpected("'|'", "end of query")
	}
	return q, nil
}

// ParseExpression parses a standalone expression; the tests use it to
// parse expressions outside a pipeline.
func ParseExpression(input string) (ast.Ast, error) {
	p := &Parser{lex: lexer{input: input}}
	p.advance()
	e, err := p.expression()
	if err != nil {
		return nil, err
	}
	if p.err != nil {
		return nil, p.err
	}
	if p.tok.typ != tokEOF {
		return nil, p.unexpected("end of expression")
	}
	return e, nil
}

func (p *Parser) advance() {
	if p.err != nil {
		return
	}
	tok, err := p.lex.next()
	if err != nil {
		p.err = err
		p.tok = token{typ: tokEOF, offset: p.lex.pos}
		return
	}
	p.tok = tok
}

func (p *Parser) unexpected(expected ...string) error {
	if p.err != nil {
		return p.err
	}
	return &errs.SyntaxError{
		Offset:   p.tok.offset,
		Expected: expected,
		Got:      p.tok.describe(),
	}
}

func (p *Parser) query() (ast.Query, error) {
	var q ast.Query
	proc, err := p.process()
	if err != nil {
		return q, err
	}
	q.Processes = append(q.Processes, proc)
	for p.tok.typ == tokPipe {
		p.advance()
		proc, err := p.process()
		if err != nil {
			return q, err
		}
		q.Processes = append(q.Processes, proc)
	}
	return q, nil
}

func (p *Parser) process() (ast.Process, error) {
	offset := p.tok.offset
	expr, err := p.expression()
	if err != nil {
		return ast.Process{}, err
	}
	switch t := expr.(type) {
	case ast.At:
		// a lone '.' is pass-through
		return ast.Process{Name: "id", Offset: offset}, nil
	case ast.Var:
		return ast.Process{Name: t.Name, Offset: offset}, nil
	case ast.Call:
		return ast.Process{Name: t.Name, Args: t.Args, Offset: offset}, nil
	}
	return ast.Process{Name: "select", Args: []ast.Ast{expr}, Offset: offset}, nil
}

func (p *Parser) expression() (ast.Ast, error) {
	return p.or()
}

func (p *Parser) or() (ast.Ast, error) {
	left, err := p.and()
	if err != nil {
		return nil, err
	}
	for p.tok.typ == tokOp && p.tok.lexeme == "||" {
		p.advance()
		right, err := p.and()
		if err != nil {
			return nil, err
		}
		left = ast.Binary{Left: left, Op: "||", Right: right}
	}
	return left, nil
}

func (p *Parser) and() (ast.Ast, error) {
	left, err := p.comparison()
	if err != nil {
		return nil, err
	}
	for p.tok.typ == tokOp && p.tok.lexeme == "&&" {
		p.advance()
		right, err := p.comparison()
		if err != nil {
			return nil, err
		}
		left = ast.Binary{Left: left, Op: "&&", Right: right}
	}
	return left, nil
}

var cmpOps = map[string]bool{"==": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true}

// comparison is non-associative: at most one comparator per level.
func (p *Parser) comparison() (ast.Ast, error) {
	left, err := p.sum()
	if err != nil {
		return nil, err
	}
	if p.tok.typ == tokOp && cmpOps[p.tok.lexeme] {
		op := p.tok.lexeme
		p.advance()
		right, err := p.sum()
		if err != nil {
			return nil, err
		}
		return ast.Binary{Left: left, Op: op, Right: right}, nil
	}
	return left, nil
}

func (p *Parser) sum() (ast.Ast, error) {
	left, err := p.product()
	if err != nil {
		return nil, err
	}
	for p.tok.typ == tokOp && (p.tok.lexeme == "+" || p.tok.lexeme == "-") {
		op := p.tok.lexeme
		p.advance()
		right, err := p.product()
		if err != nil {
			return nil, err
		}
		left = ast.Binary{Left: left, Op: op, Right: right}
	}
	return left, nil
}

func (p *Parser) product() (ast.Ast, error) {
	left, err := p.unary()
	if err != nil {
		return nil, err
	}
	for p.tok.typ == tokOp && (p.tok.lexeme == "*" || p.tok.lexeme == "/" || p.tok.lexeme == "%") {
		op := p.tok.lexeme
		p.advance()
		right, err := p.unary()
		if err != nil {
			return nil, err
		}
		left = ast.Binary{Left: left, Op: op, Right: right}
	}
	return left, nil
}

func (p *Parser) unary() (ast.Ast, error) {
	if p.tok.typ == tokOp && (p.tok.lexeme == "!" || p.tok.lexeme == "-") {
		op := p.tok.lexeme
		p.advance()
		operand, err := p.unary()
		if err != nil {
			return nil, err
		}
		return ast.Unary{Op: op, Operand: operand}, nil
	}
	return p.postfix()
}

func (p *Parser) postfix() (ast.Ast, error) {
	prim, err := p.primary()
	if err != nil {
		return nil, err
	}
	return p.postfixChain(prim)
}

// postfixChain parses a trailing sequence of .name, [expr] and (args)
// onto an already-parsed head.
func (p *Parser) postfixChain(head ast.Ast) (ast.Ast, error) {
	for {
		switch {
		case p.tok.typ == tokDot:
			p.advance()
			if p.tok.typ != tokIdent {
				return nil, p.unexpected("identifier")
			}
			head = ast.Member{On: head, Property: p.tok.lexeme}
			p.advance()
		case p.tok.typ == tokLBracket:
			p.advance()
			idx, err := p.expression()
			if err != nil {
				return nil, err
			}
			if p.tok.typ != tokRBracket {
				return nil, p.unexpected("']'")
			}
			p.advance()
			head = ast.Index{On: head, Idx: idx}
		case p.tok.typ == tokLParen:
			v, ok := head.(ast.Var)
			if !ok {
				return nil, p.unexpected("member access or index")
			}
			p.advance()
			args, err := p.argList()
			if err != nil {
				return nil, err
			}
			head = ast.Call{Name: v.Name, Args: args}
		default:
			return head, nil
		}
	}
}

func (p *Parser) argList() ([]ast.Ast, error) {
	var args []ast.Ast
	if p.tok.typ == tokRParen {
		p.advance()
		return args, nil
	}
	for {
		arg, err := p.expression()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		switch p.tok.typ {
		case tokComma:
			p.advance()
		case tokRParen:
			p.advance()
			return args, nil
		default:
			return nil, p.unexpected("','", "')'")
		}
	}
}

func (p *Parser) primary() (ast.Ast, error) {
	switch p.tok.typ {
	case tokNumber:
		lexeme := p.tok.lexeme
		p.advance()
		at := ast.AtomInt
		if strings.ContainsAny(lexeme, ".eE") {
			at = ast.AtomDouble
		}
		return ast.Atom{AtomType: at, Lexeme: lexeme}, nil
	case tokString:
		lexeme := p.tok.lexeme
		p.advance()
		return ast.Atom{AtomType: ast.AtomString, Lexeme: lexeme}, nil
	case tokIdent:
		name := p.tok.lexeme
		p.advance()
		switch name {
		case "true", "false":
			return ast.Atom{AtomType: ast.AtomBool, Lexeme: name}, nil
		case "null":
			return ast.Atom{AtomType: ast.AtomNull, Lexeme: name}, nil
		}
		return ast.Var{Name: name}, nil
	case tokDot:
		// '.' alone is the current record; '.name' is sugar for member
		// access on it
		p.advance()
		if p.tok.typ == tokIdent {
			m := ast.Member{On: ast.At{}, Property: p.tok.lexeme}
			p.advance()
			return m, nil
		}
		return ast.At{}, nil
	case tokLParen:
		p.advance()
		e, err := p.expression()
		if err != nil {
			return nil, err
		}
		if p.tok.typ != tokRParen {
			return nil, p.unexpected("')'")
		}
		p.advance()
		return e, nil
	}
	return nil, p.unexpected("literal", "identifier", "'('", "'.'")
}
