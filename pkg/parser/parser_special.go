package parser

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/metalineage/pkg/token"
)

// Special expression parsing: CASE, CAST, parenthesized expressions, EXISTS,
// INTERVAL and the functions with keyword-separated arguments.
//
// Grammar:
//
//	case_expr     → CASE [expr] (WHEN expr THEN expr)+ [ELSE expr] END
//	cast_expr     → (CAST | TRY_CAST | SAFE_CAST) "(" expr AS type_name ")"
//	paren_expr    → "(" query ")" | "(" [expr ("," expr)*] ")"
//	exists_expr   → [NOT] EXISTS "(" query ")"
//	interval_expr → INTERVAL expr [unit]
//	extract_expr  → EXTRACT "(" field (FROM | ",") expr ")"
//	position_expr → POSITION "(" expr (IN | ",") expr ")"
//	substring     → SUBSTRING "(" expr ((FROM expr [FOR expr]) | ("," expr)*) ")"
//	trim_expr     → TRIM "(" [BOTH|LEADING|TRAILING] [expr] [FROM expr] ")"

// parseCaseExpr parses a CASE expression.
func (p *Parser) parseCaseExpr() Expr {
	p.expect(token.CASE)
	expr := &CaseExpr{}

	// Simple CASE: CASE expr WHEN ...
	if !p.check(token.WHEN) {
		expr.Operand = p.parseExpr()
	}

	for !p.failed() && p.match(token.WHEN) {
		when := WhenClause{Condition: p.parseExpr()}
		p.expect(token.THEN)
		when.Result = p.parseExpr()
		expr.Whens = append(expr.Whens, when)
	}
	if len(expr.Whens) == 0 && !p.failed() {
		p.addError(fmt.Sprintf(ErrUnexpectedToken, describe(p.token), "WHEN"))
	}

	if p.match(token.ELSE) {
		expr.Else = p.parseExpr()
	}

	p.expect(token.END)
	return expr
}

// parseCastExpr parses ( expr AS type ) after CAST, TRY_CAST or SAFE_CAST.
func (p *Parser) parseCastExpr(try bool) Expr {
	p.expect(token.LPAREN)
	cast := &CastExpr{Try: try, Expr: p.parseExpr()}
	p.expect(token.AS)
	cast.TypeName = p.parseTypeName()
	// FORMAT '...'
	if p.matchWord("format") {
		p.parseExpr()
	}
	p.expect(token.RPAREN)
	return cast
}

// typeContinuations are the words that may follow a type name in multi-word types.
var typeContinuations = map[string]bool{
	"precision": true,
	"varying":   true,
	"with":      true,
	"without":   true,
	"time":      true,
	"zone":      true,
	"local":     true,
	"unsigned":  true,
}

// parseTypeName parses a data type name: varchar(10), double precision,
// timestamp with time zone, array<struct<a int>>, int[].
func (p *Parser) parseTypeName() string {
	var sb strings.Builder

	if !p.isIdentToken(p.token) && !token.IsKeyword(p.token.Type) {
		p.addError(fmt.Sprintf(ErrUnexpectedToken, describe(p.token), "type name"))
		return ""
	}
	sb.WriteString(strings.ToLower(p.token.Literal))
	p.nextToken()

	for !p.failed() && (p.token.Type == token.IDENT && !p.token.Quoted || token.IsKeyword(p.token.Type)) &&
		typeContinuations[dialectWord(p.token)] {
		sb.WriteByte(' ')
		sb.WriteString(dialectWord(p.token))
		p.nextToken()
	}

	// Dotted type names: pg_catalog.int4
	for !p.failed() && p.check(token.DOT) && p.isIdentToken(p.peek) {
		p.nextToken()
		sb.WriteByte('.')
		sb.WriteString(strings.ToLower(p.token.Literal))
		p.nextToken()
	}

	// Type arguments: varchar(10), decimal(10, 2)
	if p.check(token.LPAREN) {
		sb.WriteString(p.captureBalanced(token.LPAREN, token.RPAREN))
	}

	// Generic types: array<int>, struct<a int, b string>
	if p.check(token.LT) {
		sb.WriteString(p.captureBalanced(token.LT, token.GT))
	}

	// Array suffix: int[]
	for p.check(token.LBRACKET) && p.checkPeek(token.RBRACKET) {
		p.nextToken()
		p.nextToken()
		sb.WriteString("[]")
	}

	return sb.String()
}

// captureBalanced consumes a balanced open ... close group and returns its literal
// text with single spaces between tokens.
func (p *Parser) captureBalanced(open, closing token.TokenType) string {
	var parts []string
	depth := 0
	for !p.failed() && !p.check(token.EOF) {
		switch p.token.Type {
		case open:
			depth++
		case closing:
			depth--
		}
		lit := p.token.Literal
		if lit == "" {
			lit = p.token.Type.String()
		}
		parts = append(parts, strings.ToLower(lit))
		p.nextToken()
		if depth == 0 {
			break
		}
	}
	if depth != 0 && !p.failed() {
		p.addError(fmt.Sprintf(ErrUnexpectedToken, describe(p.token), closing))
	}
	return strings.Join(parts, "")
}

// parseParenExpr parses a parenthesized expression, tuple or scalar subquery.
func (p *Parser) parseParenExpr() Expr {
	p.expect(token.LPAREN)

	if p.check(token.SELECT) || p.check(token.WITH) {
		sub := &SubqueryExpr{Select: p.parseQuery()}
		p.expect(token.RPAREN)
		return sub
	}

	if p.match(token.RPAREN) {
		return &TupleExpr{}
	}

	exprs := p.parseExprList()
	p.expect(token.RPAREN)
	if len(exprs) == 1 {
		return &ParenExpr{Expr: exprs[0]}
	}
	return &TupleExpr{Items: exprs}
}

// parseExistsExpr parses EXISTS (subquery) with a preceding NOT already consumed.
func (p *Parser) parseExistsExpr(not bool) Expr {
	p.expect(token.EXISTS)
	p.expect(token.LPAREN)
	exists := &ExistsExpr{Not: not, Select: p.parseQuery()}
	p.expect(token.RPAREN)
	return exists
}

var intervalUnits = map[string]bool{
	"year": true, "quarter": true, "month": true, "week": true, "day": true,
	"hour": true, "minute": true, "second": true, "millisecond": true, "microsecond": true,
}

// parseIntervalExpr parses INTERVAL '1 day', INTERVAL 1 DAY and INTERVAL '1' DAY.
func (p *Parser) parseIntervalExpr() Expr {
	p.expect(token.INTERVAL)
	interval := &IntervalExpr{Value: p.parsePrefixExpr()}

	if word := dialectWord(p.token); p.token.Type == token.IDENT && intervalUnits[strings.TrimSuffix(word, "s")] {
		interval.Unit = word
		p.nextToken()
	}
	return interval
}

// parseExtractExpr parses EXTRACT(field FROM expr).
func (p *Parser) parseExtractExpr() Expr {
	p.nextToken()
	p.expect(token.LPAREN)

	var field string
	switch {
	case p.check(token.STRING):
		field = strings.ToLower(p.token.Literal)
		p.nextToken()
	case p.isIdentToken(p.token) || token.IsKeyword(p.token.Type):
		field = strings.ToLower(p.token.Literal)
		p.nextToken()
	default:
		p.addError(fmt.Sprintf(ErrUnexpectedToken, describe(p.token), "date part"))
		return nil
	}

	if !p.match(token.FROM) {
		p.expect(token.COMMA)
	}
	fn := &FuncCall{Name: "extract", Args: []Expr{
		&Literal{Type: LiteralString, Value: field},
		p.parseExpr(),
	}}
	p.expect(token.RPAREN)
	return fn
}

// parsePositionExpr parses POSITION(needle IN haystack).
func (p *Parser) parsePositionExpr() Expr {
	p.nextToken()
	p.expect(token.LPAREN)

	needle := p.parseExprPrec(precedenceAddition)
	if !p.match(token.IN) {
		p.expect(token.COMMA)
	}
	fn := &FuncCall{Name: "position", Args: []Expr{needle}}
	fn.Args = append(fn.Args, p.parseExprList()...)
	p.expect(token.RPAREN)
	return fn
}

// parseSubstringExpr parses SUBSTRING(s FROM a FOR b) and SUBSTRING(s, a, b).
func (p *Parser) parseSubstringExpr() Expr {
	name := dialectWord(p.token)
	p.nextToken()
	p.expect(token.LPAREN)

	fn := &FuncCall{Name: name, Args: []Expr{p.parseExpr()}}
	for !p.failed() && (p.match(token.COMMA) || p.match(token.FROM) || p.matchWord("for")) {
		fn.Args = append(fn.Args, p.parseExpr())
	}
	p.expect(token.RPAREN)
	return fn
}

// parseTrimExpr parses TRIM([BOTH|LEADING|TRAILING] [chars] FROM s) and TRIM(s [, chars]).
func (p *Parser) parseTrimExpr() Expr {
	p.nextToken()
	p.expect(token.LPAREN)

	if p.checkWord("both") || p.checkWord("leading") || p.checkWord("trailing") {
		p.nextToken()
	}

	fn := &FuncCall{Name: "trim"}
	if p.match(token.FROM) {
		fn.Args = []Expr{p.parseExpr()}
		p.expect(token.RPAREN)
		return fn
	}

	first := p.parseExpr()
	switch {
	case p.match(token.FROM):
		fn.Args = []Expr{p.parseExpr(), first}
	case p.match(token.COMMA):
		fn.Args = append([]Expr{first}, p.parseExprList()...)
	default:
		fn.Args = []Expr{first}
	}
	p.expect(token.RPAREN)
	return fn
}
