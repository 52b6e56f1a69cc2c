// Package parser provides dialect-aware SQL parsing of view and model definitions.
//
// # Usage
//
//	stmt, err := parser.Parse("SELECT a, b FROM t", dialect.GetOrDefault("postgres"))
//	if err != nil {
//	    // handle error
//	}
//
// # Grammar Overview
//
// The parser implements a recursive descent parser for the query subset of SQL:
//
//	statement     → [CREATE ... AS] query [;]
//	query         → [WITH [RECURSIVE] cte_list] select_body
//	select_body   → select_term [(UNION|INTERSECT|EXCEPT|MINUS) [ALL|DISTINCT] select_body]
//	select_term   → select_core | "(" query ")"
//	select_core   → SELECT [DISTINCT [ON (...)]] select_list [FROM from_clause]
//	                [WHERE expr] [GROUP BY expr_list] [HAVING expr]
//	                [WINDOW window_list] [QUALIFY expr] [ORDER BY order_list]
//	                [LIMIT expr] [OFFSET expr]
//
// See each file for detailed grammar rules for that section.
package parser

import (
	"fmt"

	"github.com/leapstack-labs/metalineage/pkg/dialect"
	"github.com/leapstack-labs/metalineage/pkg/token"
)

// Parser parses SQL into an AST.
type Parser struct {
	lexer   *Lexer
	token   token.Token // current token
	peek    token.Token // lookahead token
	peek2   token.Token // second lookahead token
	errors  []error
	dialect *dialect.Dialect

	// derivedSeq numbers synthetic aliases for parenthesized set-operation terms.
	derivedSeq int
}

// NewParser creates a new parser for the given SQL input. A nil dialect behaves like ANSI.
func NewParser(sql string, d *dialect.Dialect) *Parser {
	if d == nil {
		d = dialect.ANSI
	}
	p := &Parser{
		lexer:   NewLexer(sql, d),
		dialect: d,
	}
	// Read three tokens to initialize current, peek, and peek2
	p.nextToken()
	p.nextToken()
	p.nextToken()
	return p
}

// Parse parses a single query statement and returns the AST.
func Parse(sql string, d *dialect.Dialect) (*SelectStmt, error) {
	p := NewParser(sql, d)
	stmt := p.parseStatement()
	if len(p.errors) > 0 {
		return nil, p.errors[0]
	}
	return stmt, nil
}

// Dialect returns the parser's dialect.
func (p *Parser) Dialect() *dialect.Dialect {
	return p.dialect
}

// ---------- Token Helpers ----------

// nextToken advances to the next token.
func (p *Parser) nextToken() {
	p.token = p.peek
	p.peek = p.peek2
	p.peek2 = p.lexer.NextToken()
	if p.token.Type == token.ILLEGAL {
		p.errors = append(p.errors, &ParseError{Pos: p.token.Pos, Message: p.token.Literal})
	}
}

// check returns true if the current token is of the given type.
func (p *Parser) check(t token.TokenType) bool {
	return p.token.Type == t
}

// checkPeek returns true if the peek token is of the given type.
func (p *Parser) checkPeek(t token.TokenType) bool {
	return p.peek.Type == t
}

// checkWord returns true if the current token is an unquoted word with the given
// lowercase spelling. Used for contextual keywords that are not reserved.
func (p *Parser) checkWord(word string) bool {
	return (p.token.Type == token.IDENT && !p.token.Quoted || token.IsKeyword(p.token.Type)) &&
		dialect.Fold(p.token.Literal) == word
}

// dialectWord returns the folded spelling of an unquoted word token.
func dialectWord(tok token.Token) string {
	if tok.Quoted {
		return ""
	}
	return dialect.Fold(tok.Literal)
}

// match consumes the current token if it matches and returns true.
func (p *Parser) match(t token.TokenType) bool {
	if p.check(t) {
		p.nextToken()
		return true
	}
	return false
}

// matchWord consumes the current token if checkWord matches.
func (p *Parser) matchWord(word string) bool {
	if p.checkWord(word) {
		p.nextToken()
		return true
	}
	return false
}

// expect consumes the current token if it matches, otherwise adds an error.
func (p *Parser) expect(t token.TokenType) bool {
	if p.check(t) {
		p.nextToken()
		return true
	}
	p.addError(fmt.Sprintf(ErrUnexpectedToken, describe(p.token), t))
	return false
}

// addError adds a parse error at the current token.
func (p *Parser) addError(msg string) {
	p.errors = append(p.errors, &ParseError{
		Pos:     p.token.Pos,
		Message: msg,
	})
}

// failed reports whether any error was recorded. Loops bail out on failure so a
// bad token never stalls the parser.
func (p *Parser) failed() bool {
	return len(p.errors) > 0
}

func describe(tok token.Token) string {
	switch tok.Type {
	case token.EOF:
		return "end of input"
	case token.IDENT, token.NUMBER, token.STRING:
		return fmt.Sprintf("%s %q", tok.Type, tok.Literal)
	}
	return tok.Type.String()
}

// ---------- Keyword Helpers ----------

// reserved keywords can never be used as bare identifiers or implicit aliases.
var reserved = map[token.TokenType]bool{
	token.ALL: true, token.AND: true, token.AS: true, token.BETWEEN: true, token.BY: true,
	token.CASE: true, token.CAST: true, token.CREATE: true, token.CROSS: true,
	token.DISTINCT: true, token.ELSE: true, token.END: true, token.EXCEPT: true,
	token.EXISTS: true, token.FALSE: true, token.FROM: true, token.FULL: true,
	token.GROUP: true, token.HAVING: true, token.ILIKE: true, token.IN: true,
	token.INNER: true, token.INTERSECT: true, token.INTERVAL: true, token.IS: true,
	token.JOIN: true, token.LATERAL: true, token.LEFT: true, token.LIKE: true,
	token.LIMIT: true, token.NATURAL: true, token.NOT: true, token.NULL: true,
	token.OFFSET: true, token.ON: true, token.OR: true, token.ORDER: true,
	token.OUTER: true, token.OVER: true, token.RIGHT: true, token.SELECT: true,
	token.THEN: true, token.TRUE: true, token.UNION: true, token.USING: true,
	token.WHEN: true, token.WHERE: true, token.WINDOW: true, token.WITH: true,
}

// isReserved returns true if the token can't be used as an identifier in this dialect.
func (p *Parser) isReserved(tok token.Token) bool {
	if tok.Type == token.IDENT {
		return false
	}
	switch tok.Type {
	case token.QUALIFY:
		return p.dialect.Qualify
	case token.MINUS_KW:
		return p.dialect.MinusSetOp
	}
	return reserved[tok.Type]
}

// isIdentToken returns true if tok can be read as an identifier.
func (p *Parser) isIdentToken(tok token.Token) bool {
	return tok.Type == token.IDENT || (token.IsKeyword(tok.Type) && !p.isReserved(tok))
}

// parseIdent consumes an identifier and returns its normalized form.
func (p *Parser) parseIdent() (string, bool) {
	if !p.isIdentToken(p.token) {
		p.addError(fmt.Sprintf(ErrUnexpectedToken, describe(p.token), "identifier"))
		return "", false
	}
	name := p.dialect.NormalizeIdent(p.token.Literal, p.token.Quoted)
	p.nextToken()
	return name, true
}

// parseIdentList parses ident {, ident}.
func (p *Parser) parseIdentList() []string {
	var names []string
	for !p.failed() {
		name, ok := p.parseIdent()
		if !ok {
			break
		}
		names = append(names, name)
		if !p.match(token.COMMA) {
			break
		}
	}
	return names
}

// parseParenIdentList parses ( ident {, ident} ).
func (p *Parser) parseParenIdentList() []string {
	if !p.expect(token.LPAREN) {
		return nil
	}
	names := p.parseIdentList()
	p.expect(token.RPAREN)
	return names
}

// parseOptionalAlias parses [AS] alias. Implicit aliases must not be reserved words.
func (p *Parser) parseOptionalAlias() string {
	if p.match(token.AS) {
		if p.check(token.STRING) {
			alias := p.dialect.NormalizeIdent(p.token.Literal, true)
			p.nextToken()
			return alias
		}
		alias, _ := p.parseIdent()
		return alias
	}
	if p.isIdentToken(p.token) && !p.isClauseStart(p.token) {
		alias, _ := p.parseIdent()
		return alias
	}
	return ""
}

// isClauseStart reports non-reserved words that still begin a clause in alias position.
func (p *Parser) isClauseStart(tok token.Token) bool {
	switch tok.Type {
	case token.QUALIFY:
		return p.dialect.Qualify
	case token.MINUS_KW:
		return p.dialect.MinusSetOp
	case token.IDENT:
		if tok.Quoted {
			return false
		}
		switch dialect.Fold(tok.Literal) {
		case "semi", "anti", "fetch", "tablesample":
			return true
		}
	}
	return false
}
