// Package token defines the token types for SQL parsing.
package token

import (
	"fmt"
	"strings"
)

// TokenType represents the type of a lexical token.
//
//nolint:revive // token.TokenType reads clearly at call sites
type TokenType int32

const (
	// Special tokens
	EOF TokenType = iota
	ILLEGAL

	// Literals
	IDENT  // identifier, quoted or bare
	NUMBER // 123, 45.67, 1e10
	STRING // 'hello'
	PARAM  // ?, $1, :name, @name

	// Operators
	PLUS      // +
	MINUS     // -
	STAR      // *
	SLASH     // /
	PERCENT   // %
	DPIPE     // ||
	EQ        // =
	NE        // != or <>
	LT        // <
	GT        // >
	LE        // <=
	GE        // >=
	DOT       // .
	COMMA     // ,
	SEMICOLON // ;
	COLON     // :
	DCOLON    // ::
	ARROW     // ->
	DARROW    // ->>
	FATARROW  // =>
	LPAREN    // (
	RPAREN    // )
	LBRACKET  // [
	RBRACKET  // ]

	keywordStart

	// Keywords (alphabetical)
	ALL
	AND
	ANY
	AS
	ASC
	BETWEEN
	BY
	CASE
	CAST
	CREATE
	CROSS
	CURRENT
	DESC
	DISTINCT
	ELSE
	END
	ESCAPE
	EXCEPT
	EXISTS
	FALSE
	FILTER
	FIRST
	FOLLOWING
	FROM
	FULL
	GROUP
	GROUPS
	HAVING
	ILIKE
	IN
	INNER
	INTERSECT
	INTERVAL
	IS
	JOIN
	LAST
	LATERAL
	LEFT
	LIKE
	LIMIT
	MATERIALIZED
	MINUS_KW
	NATURAL
	NOT
	NULL
	NULLS
	OFFSET
	ON
	OR
	ORDER
	OUTER
	OVER
	PARTITION
	PRECEDING
	QUALIFY
	RANGE
	RECURSIVE
	REPLACE
	RIGHT
	ROW
	ROWS
	SELECT
	TABLE
	TEMP
	TEMPORARY
	THEN
	TRUE
	UNBOUNDED
	UNION
	USING
	VIEW
	WHEN
	WHERE
	WINDOW
	WITH
	WITHIN

	keywordEnd
)

// String returns a human-readable representation of the token type.
func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	for word, kw := range keywords {
		if kw == t {
			return strings.ToUpper(word)
		}
	}
	return fmt.Sprintf("TOKEN(%d)", t)
}

var tokenNames = map[TokenType]string{
	EOF:     "EOF",
	ILLEGAL: "ILLEGAL",

	IDENT:  "IDENT",
	NUMBER: "NUMBER",
	STRING: "STRING",
	PARAM:  "PARAM",

	PLUS:      "+",
	MINUS:     "-",
	STAR:      "*",
	SLASH:     "/",
	PERCENT:   "%",
	DPIPE:     "||",
	EQ:        "=",
	NE:        "!=",
	LT:        "<",
	GT:        ">",
	LE:        "<=",
	GE:        ">=",
	DOT:       ".",
	COMMA:     ",",
	SEMICOLON: ";",
	COLON:     ":",
	DCOLON:    "::",
	ARROW:     "->",
	DARROW:    "->>",
	FATARROW:  "=>",
	LPAREN:    "(",
	RPAREN:    ")",
	LBRACKET:  "[",
	RBRACKET:  "]",
}

// keywords maps lowercase keyword strings to their token types.
var keywords = map[string]TokenType{
	"all":          ALL,
	"and":          AND,
	"any":          ANY,
	"as":           AS,
	"asc":          ASC,
	"between":      BETWEEN,
	"by":           BY,
	"case":         CASE,
	"cast":         CAST,
	"create":       CREATE,
	"cross":        CROSS,
	"current":      CURRENT,
	"desc":         DESC,
	"distinct":     DISTINCT,
	"else":         ELSE,
	"end":          END,
	"escape":       ESCAPE,
	"except":       EXCEPT,
	"exists":       EXISTS,
	"false":        FALSE,
	"filter":       FILTER,
	"first":        FIRST,
	"following":    FOLLOWING,
	"from":         FROM,
	"full":         FULL,
	"group":        GROUP,
	"groups":       GROUPS,
	"having":       HAVING,
	"ilike":        ILIKE,
	"in":           IN,
	"inner":        INNER,
	"intersect":    INTERSECT,
	"interval":     INTERVAL,
	"is":           IS,
	"join":         JOIN,
	"last":         LAST,
	"lateral":      LATERAL,
	"left":         LEFT,
	"like":         LIKE,
	"limit":        LIMIT,
	"materialized": MATERIALIZED,
	"minus":        MINUS_KW,
	"natural":      NATURAL,
	"not":          NOT,
	"null":         NULL,
	"nulls":        NULLS,
	"offset":       OFFSET,
	"on":           ON,
	"or":           OR,
	"order":        ORDER,
	"outer":        OUTER,
	"over":         OVER,
	"partition":    PARTITION,
	"preceding":    PRECEDING,
	"qualify":      QUALIFY,
	"range":        RANGE,
	"recursive":    RECURSIVE,
	"replace":      REPLACE,
	"right":        RIGHT,
	"row":          ROW,
	"rows":         ROWS,
	"select":       SELECT,
	"table":        TABLE,
	"temp":         TEMP,
	"temporary":    TEMPORARY,
	"then":         THEN,
	"true":         TRUE,
	"unbounded":    UNBOUNDED,
	"union":        UNION,
	"using":        USING,
	"view":         VIEW,
	"when":         WHEN,
	"where":        WHERE,
	"window":       WINDOW,
	"with":         WITH,
	"within":       WITHIN,
}

// LookupIdent returns the keyword token type for ident, or IDENT.
// Matching is case-insensitive.
func LookupIdent(ident string) TokenType {
	if tok, ok := keywords[strings.ToLower(ident)]; ok {
		return tok
	}
	return IDENT
}

// IsKeyword returns true if the token type is a keyword.
func IsKeyword(t TokenType) bool {
	return t > keywordStart && t < keywordEnd
}

// IsOperator returns true if the token type is an operator.
func IsOperator(t TokenType) bool {
	return t >= PLUS && t <= RBRACKET
}

// Token represents a lexical token with position information.
type Token struct {
	Type    TokenType
	Literal string
	// Quoted is set for identifiers written with quote characters.
	Quoted bool
	Pos    Position
}
