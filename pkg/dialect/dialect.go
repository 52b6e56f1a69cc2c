// Package dialect describes the lexical and syntactic differences between SQL dialects
// that matter for parsing view definitions and resolving column references.
package dialect

import (
	"golang.org/x/text/cases"
)

// Dialect holds the per-dialect switches consulted by the lexer, parser and resolver.
type Dialect struct {
	// Name is the canonical dialect name (lowercase).
	Name string
	// Aliases are alternative names resolving to this dialect.
	Aliases []string
	// IdentQuote opens and closes quoted identifiers ('"' or '`').
	IdentQuote byte
	// AltIdentQuote is a second accepted identifier quote, 0 when unused.
	AltIdentQuote byte
	// QuotedCaseSensitive keeps quoted identifiers verbatim when building lookup keys.
	QuotedCaseSensitive bool
	// Qualify enables the QUALIFY clause.
	Qualify bool
	// DoubleColonCast enables expr::type casts.
	DoubleColonCast bool
	// MinusSetOp accepts MINUS as a synonym for EXCEPT.
	MinusSetOp bool
	// VariantPath enables col:field.path access into semi-structured columns.
	VariantPath bool
}

// NormalizeIdent returns the lookup key of an identifier. Unquoted identifiers are
// always case-folded; quoted ones only when the dialect treats them case-insensitively.
func (d *Dialect) NormalizeIdent(name string, quoted bool) string {
	if quoted && d != nil && d.QuotedCaseSensitive {
		return name
	}
	return cases.Fold().String(name)
}

// IsIdentQuote reports whether ch opens a quoted identifier.
func (d *Dialect) IsIdentQuote(ch byte) bool {
	if d == nil {
		return ch == '"'
	}
	return ch == d.IdentQuote || (d.AltIdentQuote != 0 && ch == d.AltIdentQuote)
}

// Fold case-folds s for case-insensitive comparison. A Caser is stateful, so one
// is built per call.
func Fold(s string) string {
	return cases.Fold().String(s)
}
