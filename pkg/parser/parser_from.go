package parser

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/metalineage/pkg/token"
)

// FROM clause parsing: table references, joins, derived tables, table functions.
//
// Grammar:
//
//	from_clause  → table_ref (join_clause | "," table_ref)*
//	table_ref    → table_name [alias]
//	             | [LATERAL] "(" query ")" [alias ["(" ident_list ")"]]
//	             | "(" from_clause ")"
//	             | [LATERAL] [TABLE "("] func_call [")"] [alias ["(" ident_list ")"]]
//	             | VALUES tuple ("," tuple)* [alias ["(" ident_list ")"]]
//	table_name   → identifier ["." identifier ["." identifier]]
//	join_clause  → [NATURAL] [join_type] JOIN table_ref [ON expr | USING "(" ident_list ")"]
//	join_type    → INNER | CROSS | (LEFT|RIGHT|FULL) [OUTER] | LEFT (SEMI|ANTI)

// parseFromClause parses the FROM clause.
func (p *Parser) parseFromClause() *FromClause {
	from := &FromClause{}
	var joins []*Join
	from.Source, joins = p.parseTableRef()
	from.Joins = append(from.Joins, joins...)

	for !p.failed() {
		join, nested := p.parseJoin()
		if join == nil {
			break
		}
		from.Joins = append(from.Joins, join)
		from.Joins = append(from.Joins, nested...)
	}
	return from
}

// parseJoin parses one join step. It returns nil when no join follows. Joins
// nested in a parenthesized right side are returned separately, flattened.
func (p *Parser) parseJoin() (*Join, []*Join) {
	if p.match(token.COMMA) {
		right, nested := p.parseTableRef()
		return &Join{Type: JoinComma, Right: right}, nested
	}

	join := &Join{}
	if p.match(token.NATURAL) {
		join.Natural = true
	}

	switch {
	case p.match(token.JOIN):
		join.Type = JoinInner
	case p.match(token.INNER):
		join.Type = JoinInner
		p.expect(token.JOIN)
	case p.match(token.CROSS):
		join.Type = JoinCross
		p.expect(token.JOIN)
	case p.check(token.LEFT) || p.check(token.RIGHT) || p.check(token.FULL):
		join.Type = outerJoinTypes[p.token.Type]
		p.nextToken()
		switch {
		case p.match(token.OUTER):
		case join.Type == JoinLeft && p.matchWord("semi"):
			join.Type = JoinSemi
		case join.Type == JoinLeft && p.matchWord("anti"):
			join.Type = JoinAnti
		}
		p.expect(token.JOIN)
	case p.checkWord("semi") || p.checkWord("anti"):
		join.Type = JoinSemi
		if p.checkWord("anti") {
			join.Type = JoinAnti
		}
		p.nextToken()
		p.expect(token.JOIN)
	default:
		if join.Natural {
			p.addError(fmt.Sprintf(ErrUnexpectedToken, describe(p.token), "JOIN"))
		}
		return nil, nil
	}
	if p.failed() {
		return nil, nil
	}

	var nested []*Join
	join.Right, nested = p.parseTableRef()

	switch {
	case p.match(token.ON):
		join.Condition = p.parseExpr()
	case p.match(token.USING):
		join.Using = p.parseParenIdentList()
	}
	return join, nested
}

var outerJoinTypes = map[token.TokenType]JoinType{
	token.LEFT:  JoinLeft,
	token.RIGHT: JoinRight,
	token.FULL:  JoinFull,
}

// parseTableRef parses a single table reference. A parenthesized join returns its
// first source and the flattened joins.
func (p *Parser) parseTableRef() (TableRef, []*Join) {
	lateral := p.match(token.LATERAL)

	switch {
	case p.check(token.LPAREN) && p.isQueryStart(p.peek, p.peek2):
		p.nextToken()
		derived := &DerivedTable{Select: p.parseQuery(), Lateral: lateral}
		p.expect(token.RPAREN)
		derived.Alias, derived.ColumnAliases = p.parseTableAlias()
		return derived, nil

	case p.check(token.LPAREN):
		p.nextToken()
		inner := p.parseFromClause()
		p.expect(token.RPAREN)
		// An alias on a parenthesized join is dropped.
		p.parseTableAlias()
		return inner.Source, inner.Joins

	case p.check(token.TABLE) && p.checkPeek(token.LPAREN):
		p.nextToken()
		p.nextToken()
		fn := &TableFunction{Lateral: lateral}
		if call, ok := p.parseExpr().(*FuncCall); ok {
			fn.Func = call
		} else if !p.failed() {
			p.addError(fmt.Sprintf(ErrUnexpectedToken, describe(p.token), "table function"))
		}
		p.expect(token.RPAREN)
		fn.Alias, fn.ColumnAliases = p.parseTableAlias()
		return fn, nil

	case p.checkWord("values") && p.checkPeek(token.LPAREN):
		p.nextToken()
		fn := &TableFunction{Func: &FuncCall{Name: "values", Args: p.parseExprList()}}
		fn.Alias, fn.ColumnAliases = p.parseTableAlias()
		return fn, nil
	}

	parts := p.parseNameParts()
	if p.failed() {
		return &TableName{}, nil
	}

	if p.check(token.LPAREN) {
		call := p.parseFuncCall(strings.Join(parts, "."))
		fn := &TableFunction{Func: call, Lateral: lateral}
		fn.Alias, fn.ColumnAliases = p.parseTableAlias()
		return fn, nil
	}

	table := p.tableNameFromParts(parts)
	p.skipTableModifiers()
	table.Alias, _ = p.parseTableAlias()
	p.skipTableModifiers()
	return table, nil
}

// parseTableName parses a table name without alias (used by CREATE ... AS).
func (p *Parser) parseTableName() *TableName {
	parts := p.parseNameParts()
	if p.failed() {
		return nil
	}
	return p.tableNameFromParts(parts)
}

func (p *Parser) tableNameFromParts(parts []string) *TableName {
	table := &TableName{}
	switch len(parts) {
	case 1:
		table.Name = parts[0]
	case 2:
		table.Schema, table.Name = parts[0], parts[1]
	case 3:
		table.Catalog, table.Schema, table.Name = parts[0], parts[1], parts[2]
	default:
		p.addError(fmt.Sprintf(ErrTooManyNameParts, strings.Join(parts, ".")))
	}
	return table
}

// parseNameParts parses identifier {"." identifier}. A backtick-quoted name
// containing dots (`project.dataset.table`) is split into its parts.
func (p *Parser) parseNameParts() []string {
	var parts []string
	for !p.failed() {
		if p.token.Quoted && p.token.Type == token.IDENT && p.dialect.IdentQuote == '`' &&
			strings.Contains(p.token.Literal, ".") {
			for _, part := range strings.Split(p.token.Literal, ".") {
				parts = append(parts, p.dialect.NormalizeIdent(part, true))
			}
			p.nextToken()
		} else {
			name, ok := p.parseIdent()
			if !ok {
				return parts
			}
			parts = append(parts, name)
		}
		if !p.check(token.DOT) {
			break
		}
		p.nextToken()
	}
	return parts
}

// parseTableAlias parses [AS] alias ["(" ident_list ")"].
func (p *Parser) parseTableAlias() (string, []string) {
	alias := p.parseOptionalAlias()
	if alias == "" {
		return "", nil
	}
	var cols []string
	if p.check(token.LPAREN) {
		cols = p.parseParenIdentList()
	}
	return alias, cols
}

// skipTableModifiers skips sampling and time-travel clauses, which do not change
// the columns a table exposes.
func (p *Parser) skipTableModifiers() {
	for !p.failed() {
		switch {
		case (p.checkWord("tablesample") || p.checkWord("sample")) &&
			(p.checkPeek(token.LPAREN) || p.peek.Type == token.IDENT && p.peek2.Type == token.LPAREN):
			p.nextToken()
			if !p.check(token.LPAREN) {
				p.nextToken()
			}
		case (p.checkWord("at") || p.checkWord("before") || p.checkWord("changes")) && p.checkPeek(token.LPAREN):
			p.nextToken()
		default:
			return
		}
		p.skipParenGroup()
	}
}

// skipParenGroup skips a balanced ( ... ) group if one starts at the current token.
func (p *Parser) skipParenGroup() {
	if !p.check(token.LPAREN) {
		return
	}
	depth := 0
	for !p.failed() && !p.check(token.EOF) {
		switch {
		case p.check(token.LPAREN):
			depth++
		case p.check(token.RPAREN):
			depth--
		}
		p.nextToken()
		if depth == 0 {
			return
		}
	}
}

// isQueryStart reports whether the tokens after "(" begin a query.
func (p *Parser) isQueryStart(first, second token.Token) bool {
	switch first.Type {
	case token.SELECT, token.WITH:
		return true
	case token.LPAREN:
		return second.Type == token.SELECT || second.Type == token.WITH || second.Type == token.LPAREN
	}
	return false
}
