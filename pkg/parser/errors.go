package parser

import (
	"fmt"

	"github.com/leapstack-labs/metalineage/pkg/token"
)

// ParseError represents a parsing error with position information.
type ParseError struct {
	Pos     token.Position
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at line %d, column %d: %s", e.Pos.Line, e.Pos.Column, e.Message)
}

// Common error messages
const (
	ErrUnexpectedToken    = "unexpected token %s, expected %s"
	ErrUnexpectedInput    = "unexpected %s %q"
	ErrUnterminatedString = "unterminated string literal"
	ErrUnterminatedIdent  = "unterminated quoted identifier"
	ErrUnterminatedBlock  = "unterminated block comment"
	ErrIllegalCharacter   = "illegal character %q"
	ErrTooManyNameParts   = "table name %q has more than three parts"
	ErrEmptyStatement     = "empty statement"
)
