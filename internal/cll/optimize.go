package cll

import (
	"fmt"
	"runtime/debug"

	"github.com/leapstack-labs/metalineage/pkg/parser"
)

// PanicError is a failure recovered while rewriting or walking a statement.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("internal error: %v", e.Value)
}

// Optimize simplifies a qualified statement before lineage extraction. Derived
// tables become CTEs named by their keys, query blocks the output cannot reach
// are dropped, and redundant parentheses around select items are removed.
func Optimize(q *Qualified) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()

	hoistDerivedTables(q)
	dropUnreachable(q)
	for _, query := range q.Queries {
		for _, c := range query.Cores {
			for i := range c.Node.Columns {
				c.Node.Columns[i].Expr = stripParens(c.Node.Columns[i].Expr)
			}
		}
	}
	return nil
}

func hoistDerivedTables(q *Qualified) {
	if len(q.derived) == 0 {
		return
	}
	var hoisted []*parser.CTE
	replace := func(ref parser.TableRef) parser.TableRef {
		d, ok := ref.(*parser.DerivedTable)
		if !ok {
			return ref
		}
		key, ok := q.derived[d]
		if !ok {
			return ref
		}
		hoisted = append(hoisted, &parser.CTE{Name: key, Columns: d.ColumnAliases, Select: d.Select})
		alias := d.Alias
		if alias == key {
			alias = ""
		}
		return &parser.TableName{Name: key, Alias: alias}
	}

	for _, query := range q.Queries {
		for _, c := range query.Cores {
			from := c.Node.From
			if from == nil {
				continue
			}
			from.Source = replace(from.Source)
			for _, j := range from.Joins {
				j.Right = replace(j.Right)
			}
		}
	}

	if len(hoisted) == 0 {
		return
	}
	if q.Stmt.With == nil {
		q.Stmt.With = &parser.WithClause{}
	}
	q.Stmt.With.CTEs = append(hoisted, q.Stmt.With.CTEs...)
}

// dropUnreachable removes query blocks none of whose columns feed the output.
func dropUnreachable(q *Qualified) {
	byKey := make(map[string]*Query, len(q.Queries))
	for _, query := range q.Queries {
		byKey[query.Key] = query
	}

	reached := map[string]bool{q.Root.Key: true}
	pending := []*Query{q.Root}
	visit := func(key string) {
		if next, ok := byKey[key]; ok && !reached[key] {
			reached[key] = true
			pending = append(pending, next)
		}
	}

	for len(pending) > 0 {
		query := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		for _, c := range query.Cores {
			for _, e := range coreExprs(c) {
				for _, ref := range parser.ColumnRefs(e) {
					visit(ref.Table)
				}
				for _, sub := range parser.Subqueries(e) {
					if key, ok := q.subqueries[sub]; ok {
						visit(key)
					}
				}
			}
			for _, ref := range c.Using {
				visit(ref.Table)
			}
			for _, fn := range c.Functions {
				for _, arg := range fn.Args {
					visit(arg.Table)
				}
			}
		}
	}

	kept := q.Queries[:0]
	for _, query := range q.Queries {
		if reached[query.Key] {
			kept = append(kept, query)
		}
	}
	q.Queries = kept
}

// coreExprs returns the expressions of a core that can carry lineage.
func coreExprs(c *Core) []parser.Expr {
	n := c.Node
	var exprs []parser.Expr
	for _, item := range n.Columns {
		exprs = append(exprs, item.Expr)
	}
	if n.From != nil {
		for _, j := range n.From.Joins {
			if j.Condition != nil {
				exprs = append(exprs, j.Condition)
			}
		}
	}
	for _, e := range []parser.Expr{n.Where, n.Having, n.Qualify} {
		if e != nil {
			exprs = append(exprs, e)
		}
	}
	return append(exprs, n.GroupBy...)
}

func stripParens(e parser.Expr) parser.Expr {
	for {
		p, ok := e.(*parser.ParenExpr)
		if !ok {
			return e
		}
		e = p.Expr
	}
}
