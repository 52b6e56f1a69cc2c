package parser

import (
	"fmt"

	"github.com/leapstack-labs/metalineage/pkg/token"
)

// Statement parsing: CREATE prefix, WITH clause, CTEs, SELECT body, SELECT list, ORDER BY.
//
// Grammar:
//
//	statement     → [create_prefix] query [";"] EOF
//	create_prefix → CREATE [OR REPLACE] [TEMP|TEMPORARY] [MATERIALIZED] (VIEW|TABLE)
//	                [IF NOT EXISTS] table_name ... AS
//	query         → [WITH [RECURSIVE] cte ("," cte)*] select_body
//	cte           → identifier ["(" ident_list ")"] AS [[NOT] MATERIALIZED] "(" query ")"
//	select_body   → select_term [(UNION|INTERSECT|EXCEPT|MINUS) [ALL|DISTINCT] select_body]
//	select_term   → select_core | "(" query ")"
//	select_core   → SELECT [DISTINCT [ON "(" expr_list ")"] | ALL] select_list
//	                [FROM from_clause] [WHERE expr]
//	                [GROUP BY (ALL | group_list)] [HAVING expr]
//	                [WINDOW window_list] [QUALIFY expr]
//	                [ORDER BY order_list] [LIMIT expr] [OFFSET expr]
//	select_item   → "*" [star_modifiers] | qualifier "." "*" [star_modifiers] | expr [[AS] alias]
//	order_item    → expr [ASC|DESC] [NULLS (FIRST|LAST)]

// parseStatement parses a complete SQL statement.
func (p *Parser) parseStatement() *SelectStmt {
	if p.check(token.EOF) || p.check(token.SEMICOLON) {
		p.addError(ErrEmptyStatement)
		return nil
	}

	var target *TableName
	if p.check(token.CREATE) {
		target = p.parseCreatePrefix()
	}

	stmt := p.parseQuery()
	if stmt != nil {
		stmt.Target = target
	}

	for p.check(token.SEMICOLON) {
		p.nextToken()
	}
	if !p.failed() && !p.check(token.EOF) {
		p.addError(fmt.Sprintf(ErrUnexpectedInput, "input", p.token.Literal))
	}
	return stmt
}

// parseCreatePrefix consumes CREATE ... AS and returns the created object's name.
func (p *Parser) parseCreatePrefix() *TableName {
	p.expect(token.CREATE)
	if p.match(token.OR) {
		p.expect(token.REPLACE)
	}
	for p.check(token.TEMP) || p.check(token.TEMPORARY) || p.check(token.MATERIALIZED) ||
		p.checkWord("secure") || p.checkWord("transient") || p.check(token.RECURSIVE) {
		p.nextToken()
	}
	if !p.match(token.VIEW) && !p.match(token.TABLE) {
		p.addError(fmt.Sprintf(ErrUnexpectedToken, describe(p.token), "VIEW or TABLE"))
		return nil
	}
	if p.checkWord("if") {
		p.nextToken()
		p.expect(token.NOT)
		p.expect(token.EXISTS)
	}

	target := p.parseTableName()

	// Column lists, COMMENT, WITH (...) options and similar are skipped up to the AS
	// that introduces the query.
	depth := 0
	for !p.failed() && !p.check(token.EOF) {
		switch {
		case p.check(token.LPAREN):
			depth++
		case p.check(token.RPAREN):
			depth--
		case depth == 0 && p.check(token.AS):
			p.nextToken()
			return target
		}
		p.nextToken()
	}
	if !p.failed() {
		p.addError(fmt.Sprintf(ErrUnexpectedToken, describe(p.token), "AS"))
	}
	return target
}

// parseQuery parses [WITH ...] select_body.
func (p *Parser) parseQuery() *SelectStmt {
	stmt := &SelectStmt{}

	// Optional WITH clause
	if p.check(token.WITH) {
		stmt.With = p.parseWithClause()
	}
	if p.failed() {
		return stmt
	}

	// Required SELECT body
	stmt.Body = p.parseSelectBody()
	return stmt
}

// parseWithClause parses a WITH clause with CTEs.
func (p *Parser) parseWithClause() *WithClause {
	p.expect(token.WITH)
	with := &WithClause{}

	if p.match(token.RECURSIVE) {
		with.Recursive = true
	}

	for !p.failed() {
		with.CTEs = append(with.CTEs, p.parseCTE())
		if !p.match(token.COMMA) {
			break
		}
	}
	return with
}

// parseCTE parses a single CTE.
func (p *Parser) parseCTE() *CTE {
	cte := &CTE{}

	name, ok := p.parseIdent()
	if !ok {
		return cte
	}
	cte.Name = name

	if p.check(token.LPAREN) {
		cte.Columns = p.parseParenIdentList()
	}

	p.expect(token.AS)

	// Postgres: AS [NOT] MATERIALIZED
	if p.check(token.NOT) && p.checkPeek(token.MATERIALIZED) {
		p.nextToken()
	}
	p.match(token.MATERIALIZED)

	p.expect(token.LPAREN)
	cte.Select = p.parseQuery()
	p.expect(token.RPAREN)
	return cte
}

// parseSelectBody parses a SELECT body with possible set operations.
func (p *Parser) parseSelectBody() *SelectBody {
	body := &SelectBody{}
	body.Left = p.parseSelectTerm()
	if p.failed() {
		return body
	}

	var op SetOpType
	switch {
	case p.check(token.UNION):
		op = SetOpUnion
	case p.check(token.INTERSECT):
		op = SetOpIntersect
	case p.check(token.EXCEPT):
		op = SetOpExcept
	case p.check(token.MINUS_KW) && p.dialect.MinusSetOp:
		op = SetOpExcept
	default:
		return body
	}
	p.nextToken()

	body.Op = op
	if p.match(token.ALL) {
		body.All = true
	} else {
		p.match(token.DISTINCT)
	}
	// DuckDB: UNION [ALL] BY NAME
	if p.check(token.BY) && p.peek.Type == token.IDENT && dialectWord(p.peek) == "name" {
		p.nextToken()
		p.nextToken()
	}

	body.Right = p.parseSelectBody()
	return body
}

// parseSelectTerm parses a select_core or a parenthesized query. A parenthesized
// query that is more than a single SELECT is wrapped as SELECT * FROM (query).
func (p *Parser) parseSelectTerm() *SelectCore {
	if !p.check(token.LPAREN) {
		return p.parseSelectCore()
	}

	p.nextToken()
	inner := p.parseQuery()
	p.expect(token.RPAREN)
	if p.failed() {
		return &SelectCore{}
	}

	if inner.With == nil && inner.Body != nil && inner.Body.Right == nil {
		core := inner.Body.Left
		p.parseTrailingClauses(core)
		return core
	}

	p.derivedSeq++
	core := &SelectCore{
		Columns: []SelectItem{{Star: true}},
		From: &FromClause{Source: &DerivedTable{
			Select: inner,
			Alias:  fmt.Sprintf("_q_%d", p.derivedSeq),
		}},
	}
	p.parseTrailingClauses(core)
	return core
}

// parseSelectCore parses a single SELECT clause.
func (p *Parser) parseSelectCore() *SelectCore {
	core := &SelectCore{}
	if !p.expect(token.SELECT) {
		return core
	}

	// DISTINCT / ALL
	if p.match(token.DISTINCT) {
		core.Distinct = true
		if p.match(token.ON) {
			p.expect(token.LPAREN)
			core.DistinctOn = p.parseExprList()
			p.expect(token.RPAREN)
		}
	} else {
		p.match(token.ALL)
	}

	// TOP n (MSSQL style, accepted for robustness)
	if p.checkWord("top") && p.peek.Type == token.NUMBER {
		p.nextToken()
		p.nextToken()
	}

	core.Columns = p.parseSelectList()
	if p.failed() {
		return core
	}

	if p.match(token.FROM) {
		core.From = p.parseFromClause()
	}

	if p.match(token.WHERE) {
		core.Where = p.parseExpr()
	}

	if p.check(token.GROUP) {
		p.nextToken()
		p.expect(token.BY)
		p.parseGroupBy(core)
	}

	if p.match(token.HAVING) {
		core.Having = p.parseExpr()
	}

	// WINDOW and QUALIFY appear in either order across dialects.
	for i := 0; i < 2 && !p.failed(); i++ {
		switch {
		case p.check(token.WINDOW):
			p.nextToken()
			core.Windows = append(core.Windows, p.parseWindowDefs()...)
		case p.check(token.QUALIFY) && p.dialect.Qualify:
			p.nextToken()
			core.Qualify = p.parseExpr()
		}
	}

	p.parseTrailingClauses(core)
	return core
}

// parseTrailingClauses parses ORDER BY, LIMIT and OFFSET, which may also follow a
// parenthesized term.
func (p *Parser) parseTrailingClauses(core *SelectCore) {
	if p.failed() {
		return
	}
	if p.check(token.ORDER) {
		p.nextToken()
		p.expect(token.BY)
		core.OrderBy = p.parseOrderByList()
	}

	for i := 0; i < 2 && !p.failed(); i++ {
		switch {
		case p.match(token.LIMIT):
			if p.match(token.ALL) {
				continue
			}
			core.Limit = p.parseExpr()
			// MySQL: LIMIT offset, count
			if p.match(token.COMMA) {
				core.Offset = core.Limit
				core.Limit = p.parseExpr()
			}
		case p.match(token.OFFSET):
			core.Offset = p.parseExpr()
			if !p.match(token.ROWS) {
				p.match(token.ROW)
			}
		}
	}

	// FETCH FIRST n ROWS ONLY
	if p.checkWord("fetch") {
		p.nextToken()
		if !p.match(token.FIRST) {
			p.matchWord("next")
		}
		if !p.check(token.ROW) && !p.check(token.ROWS) {
			core.Limit = p.parseExpr()
		}
		if !p.match(token.ROWS) {
			p.match(token.ROW)
		}
		p.matchWord("only")
	}
}

// parseGroupBy parses the items after GROUP BY.
func (p *Parser) parseGroupBy(core *SelectCore) {
	if p.match(token.ALL) {
		core.GroupByAll = true
		return
	}
	for !p.failed() {
		if p.checkWord("grouping") && p.peek.Type == token.IDENT && dialectWord(p.peek) == "sets" {
			p.nextToken()
			p.nextToken()
			p.expect(token.LPAREN)
			sets := &FuncCall{Name: "grouping_sets", Args: p.parseExprList()}
			p.expect(token.RPAREN)
			core.GroupBy = append(core.GroupBy, sets)
		} else {
			core.GroupBy = append(core.GroupBy, p.parseExpr())
		}
		if !p.match(token.COMMA) {
			break
		}
	}
}

// parseSelectList parses the SELECT list.
func (p *Parser) parseSelectList() []SelectItem {
	var items []SelectItem
	for !p.failed() {
		items = append(items, p.parseSelectItem())
		if !p.match(token.COMMA) {
			break
		}
		// trailing comma before FROM (DuckDB, BigQuery)
		if p.check(token.FROM) {
			break
		}
	}
	return items
}

// parseSelectItem parses a single item in the SELECT list.
func (p *Parser) parseSelectItem() SelectItem {
	if p.match(token.STAR) {
		item := SelectItem{Star: true}
		p.parseStarModifiers(&item)
		return item
	}

	expr := p.parseExpr()
	if ref, ok := expr.(*ColumnRef); ok && ref.Column == "*" && ref.Table != "" {
		item := SelectItem{TableStar: ref.Table}
		p.parseStarModifiers(&item)
		return item
	}

	item := SelectItem{Expr: expr}
	item.Alias = p.parseOptionalAlias()
	return item
}

// parseStarModifiers parses EXCEPT/EXCLUDE (...) and REPLACE (...) after a star.
func (p *Parser) parseStarModifiers(item *SelectItem) {
	if (p.check(token.EXCEPT) && p.checkPeek(token.LPAREN) && p.peek2.Type != token.SELECT) ||
		(p.checkWord("exclude") && (p.checkPeek(token.LPAREN) || p.isIdentToken(p.peek))) {
		p.nextToken()
		if p.check(token.LPAREN) {
			item.Except = p.parseParenIdentList()
		} else {
			name, _ := p.parseIdent()
			item.Except = []string{name}
		}
	}
	if p.check(token.REPLACE) && p.checkPeek(token.LPAREN) {
		p.nextToken()
		p.nextToken()
		for !p.failed() {
			repl := SelectItem{Expr: p.parseExpr()}
			p.expect(token.AS)
			repl.Alias, _ = p.parseIdent()
			item.Replace = append(item.Replace, repl)
			if !p.match(token.COMMA) {
				break
			}
		}
		p.expect(token.RPAREN)
	}
}

// parseOrderByList parses order_item {, order_item}.
func (p *Parser) parseOrderByList() []OrderByItem {
	var items []OrderByItem
	for !p.failed() {
		item := OrderByItem{Expr: p.parseExpr()}

		if p.match(token.DESC) {
			item.Desc = true
		} else {
			p.match(token.ASC)
		}

		if p.match(token.NULLS) {
			first := p.check(token.FIRST)
			if !p.match(token.FIRST) && !p.match(token.LAST) {
				p.addError(fmt.Sprintf(ErrUnexpectedToken, describe(p.token), "FIRST or LAST"))
			}
			item.NullsFirst = &first
		}

		items = append(items, item)
		if !p.match(token.COMMA) {
			break
		}
	}
	return items
}

// parseExprList parses expr {, expr}.
func (p *Parser) parseExprList() []Expr {
	var exprs []Expr
	for !p.failed() {
		exprs = append(exprs, p.parseExpr())
		if !p.match(token.COMMA) {
			break
		}
	}
	return exprs
}
