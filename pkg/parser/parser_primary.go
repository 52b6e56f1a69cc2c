package parser

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/metalineage/pkg/token"
)

// Primary expression parsing: literals, column refs, function calls.
//
// Grammar:
//
//	primary    → literal | PARAM | column_ref | func_call | paren_expr
//	           | case_expr | cast_expr | exists_expr | interval_expr | array_expr
//	literal    → NUMBER | STRING | TRUE | FALSE | NULL
//	column_ref → identifier ("." identifier)* ["." "*"]
//	func_call  → name "(" [DISTINCT] [arg_list | "*"] [ORDER BY order_list] ")"
//	             [WITHIN GROUP "(" ORDER BY order_list ")"]
//	             [FILTER "(" WHERE expr ")"] [OVER window_spec]
//	arg_list   → arg ("," arg)*
//	arg        → [identifier "=>"] expr

// keywordFunctions are keywords that also name functions: LEFT(s, n), REPLACE(s, a, b).
var keywordFunctions = map[token.TokenType]bool{
	token.LEFT:    true,
	token.RIGHT:   true,
	token.REPLACE: true,
	token.ANY:     true,
	token.FIRST:   true,
	token.LAST:    true,
	token.ROW:     true,
	token.FILTER:  true,
}

// parsePrimary parses primary expressions.
func (p *Parser) parsePrimary() Expr {
	switch p.token.Type {
	case token.NUMBER:
		lit := &Literal{Type: LiteralNumber, Value: p.token.Literal}
		p.nextToken()
		return lit

	case token.STRING:
		lit := &Literal{Type: LiteralString, Value: p.token.Literal}
		p.nextToken()
		return lit

	case token.PARAM:
		lit := &Literal{Type: LiteralParam, Value: p.token.Literal}
		p.nextToken()
		return lit

	case token.TRUE:
		p.nextToken()
		return &Literal{Type: LiteralBool, Value: "true"}

	case token.FALSE:
		p.nextToken()
		return &Literal{Type: LiteralBool, Value: "false"}

	case token.NULL:
		p.nextToken()
		return &Literal{Type: LiteralNull, Value: "null"}

	case token.CASE:
		return p.parseCaseExpr()

	case token.CAST:
		p.nextToken()
		return p.parseCastExpr(false)

	case token.EXISTS:
		return p.parseExistsExpr(false)

	case token.INTERVAL:
		return p.parseIntervalExpr()

	case token.LPAREN:
		return p.parseParenExpr()

	case token.LBRACKET:
		return p.parseArrayLiteral("array")

	case token.STAR:
		// bare * only appears as a function argument; COUNT(*) is handled there
		p.addError(fmt.Sprintf(ErrUnexpectedToken, describe(p.token), "expression"))
		return nil
	}

	if keywordFunctions[p.token.Type] && p.checkPeek(token.LPAREN) {
		name := dialectWord(p.token)
		p.nextToken()
		return p.parseFuncCall(name)
	}

	if p.isIdentToken(p.token) {
		return p.parseIdentifierExpr()
	}

	if p.check(token.EOF) {
		p.addError(fmt.Sprintf(ErrUnexpectedToken, describe(p.token), "expression"))
	} else {
		p.addError(fmt.Sprintf(ErrUnexpectedInput, p.token.Type, p.token.Literal))
	}
	return nil
}

// parseIdentifierExpr parses a column reference, a qualified star, a function call
// or one of the keyword-like special forms.
func (p *Parser) parseIdentifierExpr() Expr {
	if !p.token.Quoted && p.checkPeek(token.LPAREN) {
		switch dialectWord(p.token) {
		case "try_cast", "safe_cast":
			p.nextToken()
			return p.parseCastExpr(true)
		case "extract":
			return p.parseExtractExpr()
		case "position":
			return p.parsePositionExpr()
		case "substring", "substr":
			return p.parseSubstringExpr()
		case "trim":
			return p.parseTrimExpr()
		}
	}
	if !p.token.Quoted && p.checkPeek(token.LBRACKET) && dialectWord(p.token) == "array" {
		p.nextToken()
		return p.parseArrayLiteral("array")
	}
	// typed literals: DATE '2024-01-01', TIMESTAMP '...'
	if !p.token.Quoted && p.peek.Type == token.STRING {
		switch dialectWord(p.token) {
		case "date", "time", "timestamp", "timestamptz", "datetime", "json":
			typ := dialectWord(p.token)
			p.nextToken()
			lit := &Literal{Type: LiteralString, Value: p.token.Literal}
			p.nextToken()
			return &CastExpr{Expr: lit, TypeName: typ}
		}
	}

	parts := []string{}
	for !p.failed() {
		name, ok := p.parseIdent()
		if !ok {
			return nil
		}
		parts = append(parts, name)

		if !p.check(token.DOT) {
			break
		}
		p.nextToken()
		if p.match(token.STAR) {
			return &ColumnRef{Table: strings.Join(parts, "."), Column: "*"}
		}
	}
	if p.failed() {
		return nil
	}

	if p.check(token.LPAREN) {
		return p.parseFuncCall(strings.Join(parts, "."))
	}

	last := len(parts) - 1
	return &ColumnRef{Table: strings.Join(parts[:last], "."), Column: parts[last]}
}

// parseFuncCall parses a function call after its name. The current token is "(".
func (p *Parser) parseFuncCall(name string) *FuncCall {
	fn := &FuncCall{Name: strings.ToLower(name)}
	p.expect(token.LPAREN)

	if p.match(token.DISTINCT) {
		fn.Distinct = true
	} else {
		p.match(token.ALL)
	}

	switch {
	case p.check(token.RPAREN):
	case p.check(token.STAR):
		p.nextToken()
		fn.Star = true
	default:
		fn.Args = p.parseFuncArgs()
	}

	// Aggregate modifiers inside the call: ORDER BY, IGNORE/RESPECT NULLS, LIMIT
	if p.check(token.ORDER) {
		p.nextToken()
		p.expect(token.BY)
		fn.WithinGroup = append(fn.WithinGroup, p.parseOrderByList()...)
	}
	p.parseNullsTreatment()
	if p.match(token.LIMIT) {
		p.parseExpr()
	}
	p.expect(token.RPAREN)
	if p.failed() {
		return fn
	}

	p.parseNullsTreatment()

	// WITHIN GROUP (ORDER BY ...)
	if p.check(token.WITHIN) && p.checkPeek(token.GROUP) {
		p.nextToken()
		p.nextToken()
		p.expect(token.LPAREN)
		p.expect(token.ORDER)
		p.expect(token.BY)
		fn.WithinGroup = append(fn.WithinGroup, p.parseOrderByList()...)
		p.expect(token.RPAREN)
	}

	// FILTER (WHERE ...)
	if p.check(token.FILTER) && p.checkPeek(token.LPAREN) {
		p.nextToken()
		p.nextToken()
		p.expect(token.WHERE)
		fn.Filter = p.parseExpr()
		p.expect(token.RPAREN)
	}

	if p.match(token.OVER) {
		fn.Window = p.parseOverClause()
	}
	return fn
}

// parseFuncArgs parses the argument list of a function call.
func (p *Parser) parseFuncArgs() []Expr {
	var args []Expr
	for !p.failed() {
		switch {
		case p.check(token.SELECT) || p.check(token.WITH):
			args = append(args, &SubqueryExpr{Select: p.parseQuery()})
		case p.isIdentToken(p.token) && (p.checkPeek(token.FATARROW) ||
			(p.checkPeek(token.COLON) && p.peek2.Type == token.EQ)):
			// named argument: name => expr (or name := expr)
			p.nextToken()
			if !p.match(token.FATARROW) {
				p.expect(token.COLON)
				p.expect(token.EQ)
			}
			args = append(args, p.parseExpr())
		default:
			args = append(args, p.parseExpr())
		}
		if !p.match(token.COMMA) {
			break
		}
	}
	return args
}

// parseNullsTreatment consumes IGNORE NULLS / RESPECT NULLS.
func (p *Parser) parseNullsTreatment() {
	if (p.checkWord("ignore") || p.checkWord("respect")) && p.checkPeek(token.NULLS) {
		p.nextToken()
		p.nextToken()
	}
}

// parseArrayLiteral parses [a, b, c]. The name becomes the function name.
func (p *Parser) parseArrayLiteral(name string) Expr {
	p.expect(token.LBRACKET)
	fn := &FuncCall{Name: name}
	if !p.check(token.RBRACKET) {
		fn.Args = p.parseExprList()
	}
	p.expect(token.RBRACKET)
	return fn
}
