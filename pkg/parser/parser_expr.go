package parser

import (
	"fmt"

	"github.com/leapstack-labs/metalineage/pkg/token"
)

// Expression precedence parsing using a Pratt parser.
//
// Precedence levels:
//
//	precedenceNone       = 0
//	precedenceOr         = 1
//	precedenceAnd        = 2
//	precedenceNot        = 3
//	precedenceComparison = 4  (=, !=, <, >, <=, >=, IS, IN, BETWEEN, LIKE, ILIKE)
//	precedenceAddition   = 5  (+, -, ||)
//	precedenceMultiply   = 6  (*, /, %, ->, ->>)
//	precedenceUnary      = 7  (-, +)
//	precedencePostfix    = 8  (::, [], :path)
//
// Dialect switches decide whether :: and the Snowflake/Databricks :path accessor
// are infix operators.

const (
	precedenceNone = iota
	precedenceOr
	precedenceAnd
	precedenceNot
	precedenceComparison
	precedenceAddition
	precedenceMultiply
	precedenceUnary
	precedencePostfix
)

// parseExpr parses an expression using precedence climbing.
func (p *Parser) parseExpr() Expr {
	return p.parseExprPrec(precedenceNone + 1)
}

// parseExprPrec implements Pratt parsing.
func (p *Parser) parseExprPrec(minPrecedence int) Expr {
	left := p.parsePrefixExpr()
	if left == nil {
		return nil
	}

	for !p.failed() {
		prec := p.infixPrecedence()
		if prec < minPrecedence {
			break
		}
		left = p.parseInfixExpr(left, prec)
		if left == nil {
			break
		}
	}
	return left
}

// parsePrefixExpr parses prefix expressions (unary operators and primary expressions).
func (p *Parser) parsePrefixExpr() Expr {
	switch p.token.Type {
	case token.NOT:
		if p.checkPeek(token.EXISTS) {
			p.nextToken()
			return p.parseExistsExpr(true)
		}
		p.nextToken()
		return &UnaryExpr{Op: token.NOT, Expr: p.parseExprPrec(precedenceNot)}

	case token.MINUS, token.PLUS:
		op := p.token.Type
		p.nextToken()
		return &UnaryExpr{Op: op, Expr: p.parseExprPrec(precedenceUnary)}

	default:
		return p.parsePrimary()
	}
}

// infixPrecedence returns the precedence of the current token as an infix operator.
// Returns 0 if the token is not an infix operator here.
func (p *Parser) infixPrecedence() int {
	switch p.token.Type {
	case token.OR:
		return precedenceOr
	case token.AND:
		return precedenceAnd
	case token.EQ, token.NE, token.LT, token.GT, token.LE, token.GE,
		token.IS, token.IN, token.BETWEEN, token.LIKE, token.ILIKE:
		return precedenceComparison
	case token.NOT:
		// NOT IN, NOT BETWEEN, NOT LIKE, NOT ILIKE
		switch p.peek.Type {
		case token.IN, token.BETWEEN, token.LIKE, token.ILIKE:
			return precedenceComparison
		}
		return precedenceNone
	case token.PLUS, token.MINUS, token.DPIPE:
		return precedenceAddition
	case token.STAR, token.SLASH, token.PERCENT, token.ARROW, token.DARROW:
		return precedenceMultiply
	case token.DCOLON:
		if p.dialect.DoubleColonCast {
			return precedencePostfix
		}
	case token.LBRACKET:
		return precedencePostfix
	case token.COLON:
		if p.dialect.VariantPath {
			return precedencePostfix
		}
	}
	return precedenceNone
}

// parseInfixExpr parses an infix expression given the left operand and current precedence.
func (p *Parser) parseInfixExpr(left Expr, prec int) Expr {
	switch p.token.Type {
	case token.NOT:
		p.nextToken()
		return p.parseNegatableInfix(left, true)

	case token.IN, token.BETWEEN, token.LIKE, token.ILIKE:
		return p.parseNegatableInfix(left, false)

	case token.IS:
		return p.parseIsExpr(left)

	case token.DCOLON:
		p.nextToken()
		return &CastExpr{Expr: left, TypeName: p.parseTypeName()}

	case token.LBRACKET:
		p.nextToken()
		idx := &IndexExpr{Expr: left}
		if !p.check(token.RBRACKET) {
			idx.Index = p.parseExpr()
			// slices: a[1:2]
			if p.match(token.COLON) && !p.check(token.RBRACKET) {
				p.parseExpr()
			}
		}
		p.expect(token.RBRACKET)
		return idx

	case token.COLON:
		return p.parseVariantPath(left)
	}

	// Standard binary operators
	op := p.token
	p.nextToken()

	// Parse right operand with higher precedence (left-associative)
	right := p.parseExprPrec(prec + 1)
	return &BinaryExpr{Left: left, Op: op.Type, Right: right}
}

// parseNegatableInfix parses [NOT] IN / BETWEEN / LIKE / ILIKE with the NOT
// already consumed.
func (p *Parser) parseNegatableInfix(left Expr, not bool) Expr {
	switch p.token.Type {
	case token.IN:
		p.nextToken()
		return p.parseInExpr(left, not)

	case token.BETWEEN:
		p.nextToken()
		between := &BetweenExpr{Expr: left, Not: not}
		between.Low = p.parseExprPrec(precedenceAddition)
		p.expect(token.AND)
		between.High = p.parseExprPrec(precedenceAddition)
		return between

	case token.LIKE, token.ILIKE:
		like := &LikeExpr{Expr: left, Not: not, ILike: p.check(token.ILIKE)}
		p.nextToken()
		// LIKE ANY (...) / LIKE ALL (...)
		if p.check(token.ANY) || p.check(token.ALL) {
			p.nextToken()
		}
		like.Pattern = p.parseExprPrec(precedenceAddition)
		if p.match(token.ESCAPE) {
			like.Escape = p.parseExprPrec(precedenceAddition)
		}
		return like
	}

	p.addError(fmt.Sprintf(ErrUnexpectedToken, describe(p.token), "IN, BETWEEN, LIKE or ILIKE"))
	return nil
}

// parseInExpr parses IN (values) or IN (subquery).
func (p *Parser) parseInExpr(left Expr, not bool) Expr {
	in := &InExpr{Expr: left, Not: not}
	if !p.check(token.LPAREN) {
		// DuckDB: x IN list_column
		in.Values = []Expr{p.parseExprPrec(precedenceAddition)}
		return in
	}
	p.nextToken()

	if p.check(token.SELECT) || p.check(token.WITH) {
		in.Query = p.parseQuery()
	} else if !p.check(token.RPAREN) {
		in.Values = p.parseExprList()
	}
	p.expect(token.RPAREN)
	return in
}

// parseIsExpr parses IS [NOT] NULL, IS [NOT] TRUE/FALSE and IS [NOT] DISTINCT FROM.
func (p *Parser) parseIsExpr(left Expr) Expr {
	p.expect(token.IS)
	not := p.match(token.NOT)

	switch {
	case p.match(token.NULL):
		return &IsNullExpr{Expr: left, Not: not}
	case p.match(token.TRUE):
		return &IsBoolExpr{Expr: left, Not: not, Value: true}
	case p.match(token.FALSE):
		return &IsBoolExpr{Expr: left, Not: not, Value: false}
	case p.match(token.DISTINCT):
		p.expect(token.FROM)
		op := token.NE
		if not {
			op = token.EQ
		}
		return &BinaryExpr{Left: left, Op: op, Right: p.parseExprPrec(precedenceAddition)}
	}

	p.addError(fmt.Sprintf(ErrUnexpectedToken, describe(p.token), "NULL, TRUE, FALSE or DISTINCT FROM"))
	return nil
}

// parseVariantPath parses the semi-structured accessor v:a.b[0].c. The path is kept
// as a string index so the base column is the only column reference.
func (p *Parser) parseVariantPath(left Expr) Expr {
	p.expect(token.COLON)
	path := ""
	for !p.failed() {
		switch {
		case p.check(token.STRING):
			path += p.token.Literal
			p.nextToken()
		case p.isIdentToken(p.token) || p.check(token.NUMBER):
			path += p.token.Literal
			p.nextToken()
		default:
			p.addError(fmt.Sprintf(ErrUnexpectedToken, describe(p.token), "path element"))
			return nil
		}
		if !p.check(token.DOT) {
			break
		}
		path += "."
		p.nextToken()
	}
	return &IndexExpr{Expr: left, Index: &Literal{Type: LiteralString, Value: path}}
}
