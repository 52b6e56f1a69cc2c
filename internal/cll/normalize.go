package cll

import (
	"strings"

	"github.com/leapstack-labs/metalineage/pkg/dialect"
	"github.com/leapstack-labs/metalineage/pkg/parser"
)

// NormalizeTables rewrites every physical table reference in stmt to its
// canonical name. Names known to the catalog take the catalog's spelling;
// unknown names are completed with the catalog's default database and schema.
// References to visible CTEs are left alone.
func NormalizeTables(stmt *parser.SelectStmt, catalog *Catalog) {
	n := &normalizer{catalog: catalog}
	n.query(stmt, nil)
}

type normalizer struct {
	catalog *Catalog
}

// ctes is a linked set of CTE names visible at a point in the query.
type ctes struct {
	names map[string]bool
	outer *ctes
}

func (c *ctes) has(name string) bool {
	for s := c; s != nil; s = s.outer {
		if s.names[name] {
			return true
		}
	}
	return false
}

func (n *normalizer) query(stmt *parser.SelectStmt, visible *ctes) {
	if stmt == nil {
		return
	}
	if stmt.With != nil {
		scope := &ctes{names: make(map[string]bool), outer: visible}
		for _, cte := range stmt.With.CTEs {
			if stmt.With.Recursive {
				scope.names[cte.Name] = true
			}
			n.query(cte.Select, scope)
			scope.names[cte.Name] = true
		}
		visible = scope
	}
	if stmt.Body == nil {
		return
	}
	for _, core := range stmt.Body.Cores() {
		n.core(core, visible)
	}
}

func (n *normalizer) core(core *parser.SelectCore, visible *ctes) {
	if core.From != nil {
		n.tableRef(core.From.Source, visible)
		for _, j := range core.From.Joins {
			n.tableRef(j.Right, visible)
			n.expr(j.Condition, visible)
		}
	}
	for _, item := range core.Columns {
		n.expr(item.Expr, visible)
		for _, r := range item.Replace {
			n.expr(r.Expr, visible)
		}
	}
	for _, e := range core.DistinctOn {
		n.expr(e, visible)
	}
	n.expr(core.Where, visible)
	for _, e := range core.GroupBy {
		n.expr(e, visible)
	}
	n.expr(core.Having, visible)
	n.expr(core.Qualify, visible)
	for _, o := range core.OrderBy {
		n.expr(o.Expr, visible)
	}
}

func (n *normalizer) tableRef(ref parser.TableRef, visible *ctes) {
	switch t := ref.(type) {
	case *parser.TableName:
		if t.Catalog == "" && t.Schema == "" && visible.has(t.Name) {
			return
		}
		n.table(t)
	case *parser.DerivedTable:
		n.query(t.Select, visible)
	case *parser.TableFunction:
		n.expr(t.Func, visible)
	}
}

// table resolves one physical name: the written name, then the name completed
// with defaults, then a unique suffix match on the written name.
func (n *normalizer) table(t *parser.TableName) {
	written := t.QualifiedName()
	db, schema := n.catalog.Defaults()
	completed := completeName(t, db, schema)

	for _, candidate := range []string{written, completed} {
		if found, ok := n.catalog.tables[dialect.Fold(candidate)]; ok {
			setName(t, found.key)
			return
		}
	}
	if found, ok := n.catalog.lookup(written); ok {
		setName(t, found.key)
		return
	}
	setName(t, completed)
}

func (n *normalizer) expr(e parser.Expr, visible *ctes) {
	for _, sub := range parser.Subqueries(e) {
		n.query(sub, visible)
	}
}

func completeName(t *parser.TableName, db, schema string) string {
	switch {
	case t.Catalog != "":
		return TableKey(t.Catalog, t.Schema, t.Name)
	case t.Schema != "":
		return TableKey(db, t.Schema, t.Name)
	default:
		return TableKey(db, schema, t.Name)
	}
}

// setName splits a dotted key back into catalog, schema and name.
func setName(t *parser.TableName, key string) {
	parts := strings.Split(key, ".")
	t.Catalog, t.Schema = "", ""
	switch len(parts) {
	case 1:
		t.Name = parts[0]
	case 2:
		t.Schema, t.Name = parts[0], parts[1]
	default:
		t.Catalog = strings.Join(parts[:len(parts)-2], ".")
		t.Schema, t.Name = parts[len(parts)-2], parts[len(parts)-1]
	}
}
