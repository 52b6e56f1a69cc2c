package parser

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/metalineage/pkg/dialect"
	"github.com/leapstack-labs/metalineage/pkg/token"
)

// Lexer tokenizes SQL input.
type Lexer struct {
	input   string
	pos     int  // current position in input
	readPos int  // reading position (after current char)
	ch      byte // current char under examination
	line    int  // current line number (1-based)
	col     int  // current column number (1-based)

	dialect *dialect.Dialect
}

// NewLexer creates a Lexer for the given input. A nil dialect behaves like ANSI.
func NewLexer(input string, d *dialect.Dialect) *Lexer {
	if d == nil {
		d = dialect.ANSI
	}
	l := &Lexer{
		input:   input,
		line:    1,
		dialect: d,
	}
	l.readChar()
	return l
}

// readChar advances to the next character.
func (l *Lexer) readChar() {
	if l.readPos >= len(l.input) {
		l.ch = 0 // ASCII NUL = EOF
	} else {
		l.ch = l.input[l.readPos]
	}
	l.pos = l.readPos
	l.readPos++

	if l.ch == '\n' {
		l.line++
		l.col = 0
	} else {
		l.col++
	}
}

// peekChar returns the next character without advancing.
func (l *Lexer) peekChar() byte {
	if l.readPos >= len(l.input) {
		return 0
	}
	return l.input[l.readPos]
}

func (l *Lexer) currentPos() token.Position {
	return token.Position{Line: l.line, Column: l.col, Offset: l.pos}
}

func (l *Lexer) atEOF() bool {
	return l.pos >= len(l.input)
}

// NextToken returns the next token.
func (l *Lexer) NextToken() token.Token {
	if msg, ok := l.skipWhitespaceAndComments(); !ok {
		return token.Token{Type: token.ILLEGAL, Literal: msg, Pos: l.currentPos()}
	}

	pos := l.currentPos()
	if l.atEOF() {
		return token.Token{Type: token.EOF, Pos: pos}
	}

	single := func(t token.TokenType) token.Token {
		lit := string(l.ch)
		l.readChar()
		return token.Token{Type: t, Literal: lit, Pos: pos}
	}
	double := func(t token.TokenType, lit string) token.Token {
		l.readChar()
		l.readChar()
		return token.Token{Type: t, Literal: lit, Pos: pos}
	}

	switch ch := l.ch; {
	case ch == '\'':
		return l.readString(pos)
	case l.dialect.IsIdentQuote(ch):
		return l.readQuotedIdent(pos, ch)
	case isDigit(ch) || (ch == '.' && isDigit(l.peekChar())):
		return l.readNumber(pos)
	case isIdentStart(ch):
		return l.readIdent(pos)
	}

	switch l.ch {
	case '+':
		return single(token.PLUS)
	case '-':
		if l.peekChar() == '>' {
			l.readChar()
			if l.peekChar() == '>' {
				return double(token.DARROW, "->>")
			}
			l.readChar()
			return token.Token{Type: token.ARROW, Literal: "->", Pos: pos}
		}
		return single(token.MINUS)
	case '*':
		return single(token.STAR)
	case '/':
		return single(token.SLASH)
	case '%':
		return single(token.PERCENT)
	case '|':
		if l.peekChar() == '|' {
			return double(token.DPIPE, "||")
		}
	case '=':
		switch l.peekChar() {
		case '=':
			return double(token.EQ, "==")
		case '>':
			return double(token.FATARROW, "=>")
		}
		return single(token.EQ)
	case '!':
		if l.peekChar() == '=' {
			return double(token.NE, "!=")
		}
	case '<':
		switch l.peekChar() {
		case '=':
			return double(token.LE, "<=")
		case '>':
			return double(token.NE, "<>")
		}
		return single(token.LT)
	case '>':
		if l.peekChar() == '=' {
			return double(token.GE, ">=")
		}
		return single(token.GT)
	case '.':
		return single(token.DOT)
	case ',':
		return single(token.COMMA)
	case ';':
		return single(token.SEMICOLON)
	case ':':
		if l.peekChar() == ':' {
			return double(token.DCOLON, "::")
		}
		if isIdentStart(l.peekChar()) && !l.dialect.VariantPath {
			return l.readParam(pos)
		}
		return single(token.COLON)
	case '(':
		return single(token.LPAREN)
	case ')':
		return single(token.RPAREN)
	case '[':
		return single(token.LBRACKET)
	case ']':
		return single(token.RBRACKET)
	case '?':
		return single(token.PARAM)
	case '@':
		return l.readParam(pos)
	case '$':
		if l.peekChar() == '$' {
			return l.readDollarString(pos)
		}
		if isDigit(l.peekChar()) {
			return l.readParam(pos)
		}
	}

	illegal := token.Token{Type: token.ILLEGAL, Literal: fmt.Sprintf(ErrIllegalCharacter, string(l.ch)), Pos: pos}
	l.readChar()
	return illegal
}

// skipWhitespaceAndComments skips blanks, -- line comments and /* block */ comments.
// Returns false with a message when a block comment is not terminated.
func (l *Lexer) skipWhitespaceAndComments() (string, bool) {
	for {
		switch {
		case l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r' || l.ch == '\f':
			l.readChar()
		case l.ch == '-' && l.peekChar() == '-':
			for l.ch != '\n' && !l.atEOF() {
				l.readChar()
			}
		case l.ch == '/' && l.peekChar() == '*':
			l.readChar()
			l.readChar()
			for !(l.ch == '*' && l.peekChar() == '/') {
				if l.atEOF() {
					return ErrUnterminatedBlock, false
				}
				l.readChar()
			}
			l.readChar()
			l.readChar()
		default:
			return "", true
		}
	}
}

func (l *Lexer) readIdent(pos token.Position) token.Token {
	start := l.pos
	for isIdentPart(l.ch) {
		l.readChar()
	}
	lit := l.input[start:l.pos]
	return token.Token{Type: token.LookupIdent(lit), Literal: lit, Pos: pos}
}

// readQuotedIdent reads "ident" or `ident`; a doubled quote is an escaped quote.
func (l *Lexer) readQuotedIdent(pos token.Position, quote byte) token.Token {
	var sb strings.Builder
	l.readChar()
	for {
		if l.atEOF() {
			return token.Token{Type: token.ILLEGAL, Literal: ErrUnterminatedIdent, Pos: pos}
		}
		if l.ch == quote {
			if l.peekChar() == quote {
				sb.WriteByte(quote)
				l.readChar()
				l.readChar()
				continue
			}
			l.readChar()
			break
		}
		sb.WriteByte(l.ch)
		l.readChar()
	}
	return token.Token{Type: token.IDENT, Literal: sb.String(), Quoted: true, Pos: pos}
}

// readString reads a single-quoted string. Dialects quoting identifiers with
// backticks also accept backslash escapes.
func (l *Lexer) readString(pos token.Position) token.Token {
	backslash := l.dialect.IdentQuote == '`'
	var sb strings.Builder
	l.readChar()
	for {
		if l.atEOF() {
			return token.Token{Type: token.ILLEGAL, Literal: ErrUnterminatedString, Pos: pos}
		}
		if backslash && l.ch == '\\' {
			l.readChar()
			if l.atEOF() {
				return token.Token{Type: token.ILLEGAL, Literal: ErrUnterminatedString, Pos: pos}
			}
			sb.WriteByte(l.ch)
			l.readChar()
			continue
		}
		if l.ch == '\'' {
			if l.peekChar() == '\'' {
				sb.WriteByte('\'')
				l.readChar()
				l.readChar()
				continue
			}
			l.readChar()
			break
		}
		sb.WriteByte(l.ch)
		l.readChar()
	}
	return token.Token{Type: token.STRING, Literal: sb.String(), Pos: pos}
}

// readDollarString reads a $$...$$ string.
func (l *Lexer) readDollarString(pos token.Position) token.Token {
	l.readChar()
	l.readChar()
	start := l.pos
	for !(l.ch == '$' && l.peekChar() == '$') {
		if l.atEOF() {
			return token.Token{Type: token.ILLEGAL, Literal: ErrUnterminatedString, Pos: pos}
		}
		l.readChar()
	}
	lit := l.input[start:l.pos]
	l.readChar()
	l.readChar()
	return token.Token{Type: token.STRING, Literal: lit, Pos: pos}
}

func (l *Lexer) readNumber(pos token.Position) token.Token {
	start := l.pos
	for isDigit(l.ch) {
		l.readChar()
	}
	if l.ch == '.' && isDigit(l.peekChar()) || l.ch == '.' && l.pos == start {
		l.readChar()
		for isDigit(l.ch) {
			l.readChar()
		}
	} else if l.ch == '.' && !isIdentStart(l.peekChar()) {
		// trailing dot: 1.
		l.readChar()
	}
	if l.ch == 'e' || l.ch == 'E' {
		next := l.peekChar()
		if isDigit(next) || next == '+' || next == '-' {
			l.readChar()
			if l.ch == '+' || l.ch == '-' {
				l.readChar()
			}
			for isDigit(l.ch) {
				l.readChar()
			}
		}
	}
	return token.Token{Type: token.NUMBER, Literal: l.input[start:l.pos], Pos: pos}
}

// readParam reads $1, :name, @name and @@name placeholders.
func (l *Lexer) readParam(pos token.Position) token.Token {
	start := l.pos
	l.readChar()
	if l.ch == '@' {
		l.readChar()
	}
	for isIdentPart(l.ch) {
		l.readChar()
	}
	return token.Token{Type: token.PARAM, Literal: l.input[start:l.pos], Pos: pos}
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func isIdentStart(ch byte) bool {
	return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || ch >= 0x80
}

func isIdentPart(ch byte) bool {
	return isIdentStart(ch) || isDigit(ch) || ch == '$'
}
