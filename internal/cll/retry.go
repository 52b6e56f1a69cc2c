package cll

import (
	"errors"
	"fmt"
	"strings"

	"github.com/leapstack-labs/metalineage/pkg/core"
	"github.com/leapstack-labs/metalineage/pkg/dialect"
	"github.com/leapstack-labs/metalineage/pkg/parser"
)

// DefaultMaxAttempts bounds how many times a statement is re-parsed while
// recovering from qualification failures.
const DefaultMaxAttempts = 5

// State is a step of the preparation state machine.
//
//	Parsing -> Qualifying -> Success
//	Qualifying -> RetryWithSynthesizedTable -> Parsing   (unknown table qualifier)
//	Qualifying -> RetryWithCTEOnly -> Parsing            (anything else, once)
//	any -> Failed
type State int

// Preparation states.
const (
	StateParsing State = iota
	StateQualifying
	StateRetryWithSynthesizedTable
	StateRetryWithCTEOnly
	StateSuccess
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateParsing:
		return "parsing"
	case StateQualifying:
		return "qualifying"
	case StateRetryWithSynthesizedTable:
		return "retry_with_synthesized_table"
	case StateRetryWithCTEOnly:
		return "retry_with_cte_only"
	case StateSuccess:
		return "success"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Outcome is the result of preparing one statement.
type Outcome struct {
	State     State
	Qualified *Qualified
	Attempts  int
	// Degraded is set when the final select was replaced by SELECT 1.
	// Cause then holds the qualification failure that forced it.
	Degraded bool
	Cause    *core.ErrorDetail
	// Error is set when State is StateFailed.
	Error *core.ErrorDetail
}

// Prepare parses and qualifies sql for the table key, recovering from
// qualification failures. The first recovery for an unknown qualifier adds that
// table to the FROM clause; any other failure keeps only the CTEs. Every
// recovery re-parses the original text, and maxAttempts bounds the parses.
func Prepare(sql string, d *dialect.Dialect, catalog *Catalog, key string, maxAttempts int) Outcome {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if d == nil {
		d = dialect.ANSI
	}

	var (
		state   = StateParsing
		out     Outcome
		stmt    *parser.SelectStmt
		fixes   []synthTable
		cteOnly bool
		lastErr error
	)

	for {
		switch state {
		case StateParsing:
			if out.Attempts >= maxAttempts {
				return out.fail(core.ErrorKindOptimize,
					fmt.Sprintf("qualification did not converge after %d attempts: %v", out.Attempts, lastErr), d)
			}
			out.Attempts++

			var err error
			stmt, err = parser.Parse(sql, d)
			if err != nil {
				out = out.fail(core.ErrorKindParse, err.Error(), d)
				out.Error.Traceback = parseTraceback(sql, err)
				return out
			}
			NormalizeTables(stmt, catalog)
			if cteOnly {
				keepCTEsOnly(stmt)
			}
			state = StateQualifying

		case StateQualifying:
			qualified, err := qualify(stmt, catalog, key, fixes)
			if err == nil {
				out.Qualified = qualified
				state = StateSuccess
				break
			}
			lastErr = err

			var unknown *UnknownTableError
			switch {
			case errors.As(err, &unknown) && !cteOnly && !hasFix(fixes, unknown):
				fixes = append(fixes, synthTable{core: unknown.core, name: unknown.Table})
				state = StateRetryWithSynthesizedTable
			case !cteOnly:
				state = StateRetryWithCTEOnly
			default:
				return out.fail(core.ErrorKindOptimize, err.Error(), d)
			}

		case StateRetryWithSynthesizedTable:
			state = StateParsing

		case StateRetryWithCTEOnly:
			cteOnly = true
			out.Degraded = true
			out.Cause = &core.ErrorDetail{Kind: core.ErrorKindOptimize, Message: lastErr.Error()}
			state = StateParsing

		case StateSuccess:
			out.State = StateSuccess
			return out

		default:
			return out.fail(core.ErrorKindMiscellaneous, fmt.Sprintf("unexpected state %s", state), d)
		}
	}
}

func (o Outcome) fail(kind core.ErrorKind, msg string, d *dialect.Dialect) Outcome {
	o.State = StateFailed
	o.Qualified = nil
	o.Error = &core.ErrorDetail{Kind: kind, Message: msg}
	if kind == core.ErrorKindParse {
		o.Error.Dialect = d.Name
	}
	return o
}

// parseTraceback points at the offending token in the statement text.
func parseTraceback(sql string, err error) string {
	var perr *parser.ParseError
	if !errors.As(err, &perr) || !perr.Pos.IsValid() {
		return err.Error()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", perr.Error())
	lines := strings.Split(sql, "\n")
	if perr.Pos.Line <= len(lines) {
		line := strings.TrimRight(lines[perr.Pos.Line-1], "\r")
		fmt.Fprintf(&b, "%4d | %s\n", perr.Pos.Line, line)
		fmt.Fprintf(&b, "     | %s^", strings.Repeat(" ", max(perr.Pos.Column-1, 0)))
	}
	return b.String()
}

func hasFix(fixes []synthTable, err *UnknownTableError) bool {
	for _, f := range fixes {
		if f.core == err.core && f.name == err.Table {
			return true
		}
	}
	return false
}

// keepCTEsOnly replaces the final select with SELECT 1 and keeps the WITH clause.
func keepCTEsOnly(stmt *parser.SelectStmt) {
	stmt.Body = &parser.SelectBody{
		Left: &parser.SelectCore{
			Columns: []parser.SelectItem{{Expr: &parser.Literal{Type: parser.LiteralNumber, Value: "1"}}},
		},
	}
}
