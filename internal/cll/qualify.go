package cll

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/metalineage/pkg/dialect"
	"github.com/leapstack-labs/metalineage/pkg/parser"
)

// UnknownTableError reports a column qualifier that names no table in scope.
type UnknownTableError struct {
	Table string
	core  int
}

func (e *UnknownTableError) Error() string {
	return fmt.Sprintf("unknown table: %s", e.Table)
}

// UnknownColumnError reports an unqualified column no source can provide.
type UnknownColumnError struct {
	Column string
}

func (e *UnknownColumnError) Error() string {
	return fmt.Sprintf("column %q could not be resolved", e.Column)
}

// AmbiguousColumnError reports an unqualified column declared by several sources.
type AmbiguousColumnError struct {
	Column string
	Tables []string
}

func (e *AmbiguousColumnError) Error() string {
	return fmt.Sprintf("column %q is ambiguous between %s", e.Column, strings.Join(e.Tables, ", "))
}

// Query is one qualified query block: the statement itself, a CTE, a derived
// table or a subquery. Its output columns live under Key.
type Query struct {
	Key     string
	Columns []string
	Stmt    *parser.SelectStmt
	Cores   []*Core
}

// Core is one qualified SELECT of a query (one per set-operation branch).
type Core struct {
	Node *parser.SelectCore
	// Outputs names each select item after star expansion.
	Outputs []string
	// Using holds the column pairs equated by USING and NATURAL joins.
	Using     []*parser.ColumnRef
	Functions []*Function
}

// Function is a table function source. Its columns derive from its arguments.
type Function struct {
	Key  string
	Args []*parser.ColumnRef
}

// Qualified is a statement whose column references all name their source.
// After qualification every resolved ColumnRef.Table holds a node key: a
// physical table key or the key of an inner query.
type Qualified struct {
	Stmt *parser.SelectStmt
	Root *Query
	// Queries lists every query block, inner blocks before the blocks using them.
	Queries []*Query
	// Tables lists the physical tables read by the statement.
	Tables []string

	aliases    map[*parser.ColumnRef]parser.Expr
	subqueries map[*parser.SelectStmt]string
	derived    map[*parser.DerivedTable]string
}

// AliasTarget returns the select expression a reference to an output alias
// stands for.
func (q *Qualified) AliasTarget(ref *parser.ColumnRef) (parser.Expr, bool) {
	e, ok := q.aliases[ref]
	return e, ok
}

// SubqueryKey returns the node key assigned to a nested query.
func (q *Qualified) SubqueryKey(stmt *parser.SelectStmt) (string, bool) {
	key, ok := q.subqueries[stmt]
	return key, ok
}

// synthTable adds a FROM entry for an unknown qualifier to one core.
type synthTable struct {
	core int
	name string
}

// Qualify resolves every table and column reference of stmt. key names the
// statement's own output. Stars are expanded in place when the source columns
// are known.
func Qualify(stmt *parser.SelectStmt, catalog *Catalog, key string) (*Qualified, error) {
	return qualify(stmt, catalog, key, nil)
}

func qualify(stmt *parser.SelectStmt, catalog *Catalog, key string, fixes []synthTable) (*Qualified, error) {
	q := &qualifier{
		catalog:  catalog,
		fixes:    fixes,
		used:     map[string]bool{key: true},
		resolved: make(map[*parser.ColumnRef]bool),
		result: &Qualified{
			Stmt:       stmt,
			aliases:    make(map[*parser.ColumnRef]parser.Expr),
			subqueries: make(map[*parser.SelectStmt]string),
			derived:    make(map[*parser.DerivedTable]string),
		},
	}
	root, err := q.query(stmt, nil, nil, key)
	if err != nil {
		return nil, err
	}
	q.result.Root = root
	return q.result, nil
}

type qualifier struct {
	catalog  *Catalog
	fixes    []synthTable
	used     map[string]bool
	resolved map[*parser.ColumnRef]bool
	seq      int
	result   *Qualified
}

type sourceKind int

const (
	sourceTable sourceKind = iota
	sourceCTE
	sourceDerived
	sourceFunction
)

type source struct {
	alias   string
	aliased bool
	key     string
	kind    sourceKind
	columns []string // nil when unknown
	index   map[string]string
}

func newSource(alias string, aliased bool, key string, kind sourceKind, columns []string) *source {
	s := &source{alias: alias, aliased: aliased, key: key, kind: kind}
	if len(columns) > 0 {
		s.columns = columns
		s.index = make(map[string]string, len(columns))
		for _, c := range columns {
			if _, dup := s.index[dialect.Fold(c)]; !dup {
				s.index[dialect.Fold(c)] = c
			}
		}
	}
	return s
}

func (s *source) open() bool { return s.columns == nil }

func (s *source) column(name string) (string, bool) {
	c, ok := s.index[dialect.Fold(name)]
	return c, ok
}

// matches reports whether a column qualifier names this source. An unaliased
// physical table also answers to any dotted suffix of its key.
func (s *source) matches(qualifier string) bool {
	q := dialect.Fold(qualifier)
	if q == dialect.Fold(s.alias) {
		return true
	}
	if s.aliased || s.kind != sourceTable {
		return false
	}
	key := dialect.Fold(s.key)
	return q == key || strings.HasSuffix(key, "."+q)
}

// env is the chain of CTEs visible to a query.
type env struct {
	ctes  map[string]*Query
	outer *env
}

func (e *env) lookup(name string) *Query {
	for v := e; v != nil; v = v.outer {
		if cte, ok := v.ctes[name]; ok {
			return cte
		}
	}
	return nil
}

// scope is the name resolution context of one core.
type scope struct {
	seq     int
	env     *env
	sources []*source
	using   map[string]bool
	items   []parser.SelectItem
	limit   int
	outer   *scope
}

func (s *scope) find(qualifier string) *source {
	for _, src := range s.sources {
		if src.matches(qualifier) {
			return src
		}
	}
	return nil
}

// owner returns the single source declaring name, or nil when none does.
func (s *scope) owner(name string) (*source, string, error) {
	var (
		found    []*source
		declared string
	)
	for _, src := range s.sources {
		if c, ok := src.column(name); ok {
			if len(found) == 0 {
				declared = c
			}
			found = append(found, src)
		}
	}
	switch {
	case len(found) == 0:
		return nil, "", nil
	case len(found) == 1 || s.using[dialect.Fold(name)]:
		return found[0], declared, nil
	}
	tables := make([]string, len(found))
	for i, src := range found {
		tables[i] = src.key
	}
	return nil, "", &AmbiguousColumnError{Column: name, Tables: tables}
}

// alias returns the expression of an earlier select item aliased as name.
func (s *scope) alias(name string) parser.Expr {
	folded := dialect.Fold(name)
	for i := 0; i < s.limit && i < len(s.items); i++ {
		if s.items[i].Alias != "" && dialect.Fold(s.items[i].Alias) == folded {
			return s.items[i].Expr
		}
	}
	return nil
}

// fallback picks the source an unknown unqualified column must come from: the
// only source, or the only source with unknown columns.
func (s *scope) fallback() *source {
	if len(s.sources) == 1 {
		return s.sources[0]
	}
	var open *source
	for _, src := range s.sources {
		if src.open() {
			if open != nil {
				return nil
			}
			open = src
		}
	}
	return open
}

// niladic names parse as columns but are functions without parentheses.
var niladic = map[string]bool{
	"current_date":      true,
	"current_time":      true,
	"current_timestamp": true,
	"current_user":      true,
	"current_role":      true,
	"current_schema":    true,
	"current_database":  true,
	"session_user":      true,
	"localtime":         true,
	"localtimestamp":    true,
	"sysdate":           true,
	"systimestamp":      true,
	"user":              true,
}

// allocate reserves a unique key for an inner query.
func (q *qualifier) allocate(base string) string {
	if base == "" {
		base = "_q"
	}
	key := base
	for i := 2; q.used[key]; i++ {
		key = fmt.Sprintf("%s_%d", base, i)
	}
	q.used[key] = true
	return key
}

func (q *qualifier) addTable(key string) {
	for _, t := range q.result.Tables {
		if t == key {
			return
		}
	}
	q.result.Tables = append(q.result.Tables, key)
}

func (q *qualifier) query(stmt *parser.SelectStmt, visible *env, outer *scope, key string) (*Query, error) {
	if stmt.With != nil {
		inner := &env{ctes: make(map[string]*Query), outer: visible}
		for _, cte := range stmt.With.CTEs {
			cteKey := q.allocate(cte.Name)
			if stmt.With.Recursive {
				inner.ctes[cte.Name] = &Query{Key: cteKey, Columns: cte.Columns}
			}
			body, err := q.query(cte.Select, inner, outer, cteKey)
			if err != nil {
				return nil, err
			}
			if len(cte.Columns) > 0 {
				body.Columns = rename(body.Columns, cte.Columns)
			}
			inner.ctes[cte.Name] = body
		}
		visible = inner
	}

	query := &Query{Key: key, Stmt: stmt}
	if stmt.Body != nil {
		for i, node := range stmt.Body.Cores() {
			c, err := q.core(node, visible, outer)
			if err != nil {
				return nil, err
			}
			query.Cores = append(query.Cores, c)
			if i == 0 {
				query.Columns = append([]string(nil), c.Outputs...)
			}
		}
	}
	q.result.Queries = append(q.result.Queries, query)
	return query, nil
}

func (q *qualifier) core(node *parser.SelectCore, visible *env, outer *scope) (*Core, error) {
	q.seq++
	s := &scope{seq: q.seq, env: visible, using: make(map[string]bool), outer: outer}
	c := &Core{Node: node}

	for _, fix := range q.fixes {
		if fix.core == s.seq {
			q.synthesize(node, fix.name)
		}
	}

	if node.From != nil {
		if err := q.addSource(s, c, node.From.Source); err != nil {
			return nil, err
		}
		for _, j := range node.From.Joins {
			before := len(s.sources)
			if err := q.addSource(s, c, j.Right); err != nil {
				return nil, err
			}
			q.using(s, c, j, before)
		}
		for _, j := range node.From.Joins {
			if err := q.resolveExpr(s, j.Condition, false); err != nil {
				return nil, err
			}
		}
	}

	items, err := q.expandStars(s, node.Columns)
	if err != nil {
		return nil, err
	}
	node.Columns = items
	s.items = items

	for i, item := range items {
		s.limit = i
		if err := q.resolveExpr(s, item.Expr, false); err != nil {
			return nil, err
		}
	}
	s.limit = len(items)

	strict := []parser.Expr{node.Where, node.Having, node.Qualify}
	strict = append(strict, node.GroupBy...)
	for _, e := range strict {
		if err := q.resolveExpr(s, e, false); err != nil {
			return nil, err
		}
	}
	for _, w := range node.Windows {
		if err := q.resolveWindow(s, w.Spec); err != nil {
			return nil, err
		}
	}

	// Ordering clauses never carry lineage, so unresolved names there are ignored.
	for _, e := range node.DistinctOn {
		_ = q.resolveExpr(s, e, true)
	}
	for _, o := range node.OrderBy {
		_ = q.resolveExpr(s, o.Expr, true)
	}

	c.Outputs = make([]string, len(items))
	for i, item := range items {
		c.Outputs[i] = outputName(item, i)
	}
	return c, nil
}

// synthesize cross-joins a table named by an unknown qualifier into the core.
func (q *qualifier) synthesize(node *parser.SelectCore, name string) {
	t := &parser.TableName{}
	setName(t, name)
	(&normalizer{catalog: q.catalog}).table(t)
	if node.From == nil {
		node.From = &parser.FromClause{Source: t}
		return
	}
	node.From.Joins = append(node.From.Joins, &parser.Join{Type: parser.JoinComma, Right: t})
}

func (q *qualifier) addSource(s *scope, c *Core, ref parser.TableRef) error {
	switch t := ref.(type) {
	case *parser.TableName:
		if t.Catalog == "" && t.Schema == "" {
			if cte := s.env.lookup(t.Name); cte != nil {
				s.sources = append(s.sources, newSource(t.EffectiveName(), t.Alias != "", cte.Key, sourceCTE, cte.Columns))
				return nil
			}
		}
		key := t.QualifiedName()
		var columns []string
		if tbl, ok := q.catalog.tables[dialect.Fold(key)]; ok {
			key, columns = tbl.key, tbl.columns
		}
		q.addTable(key)
		s.sources = append(s.sources, newSource(t.EffectiveName(), t.Alias != "", key, sourceTable, columns))

	case *parser.DerivedTable:
		key := q.allocate(t.Alias)
		outer := s.outer
		if t.Lateral {
			outer = s
		}
		sub, err := q.query(t.Select, s.env, outer, key)
		if err != nil {
			return err
		}
		if len(t.ColumnAliases) > 0 {
			sub.Columns = rename(sub.Columns, t.ColumnAliases)
		}
		q.result.derived[t] = key
		alias := t.Alias
		if alias == "" {
			alias = key
		}
		s.sources = append(s.sources, newSource(alias, true, key, sourceDerived, sub.Columns))

	case *parser.TableFunction:
		base := t.Alias
		if base == "" && t.Func != nil {
			base = t.Func.Name
		}
		key := q.allocate(base)
		fn := &Function{Key: key}
		if t.Func != nil {
			_ = q.resolveExpr(s, t.Func, true)
			for _, arg := range parser.ColumnRefs(t.Func) {
				if arg.Table != "" {
					fn.Args = append(fn.Args, arg)
				}
			}
		}
		c.Functions = append(c.Functions, fn)
		s.sources = append(s.sources, newSource(base, true, key, sourceFunction, t.ColumnAliases))
	}
	return nil
}

// using records the columns a USING or NATURAL join equates.
func (q *qualifier) using(s *scope, c *Core, j *parser.Join, before int) {
	right := s.sources[before]
	names := j.Using
	if j.Natural && right.columns != nil {
		for _, col := range right.columns {
			for _, left := range s.sources[:before] {
				if _, ok := left.column(col); ok {
					names = append(names, col)
					break
				}
			}
		}
	}

	for _, name := range names {
		s.using[dialect.Fold(name)] = true
		for _, src := range append([]*source{right}, s.sources[:before]...) {
			col, ok := src.column(name)
			if !ok {
				if !src.open() {
					continue
				}
				col = name
			}
			ref := &parser.ColumnRef{Table: src.key, Column: col}
			q.resolved[ref] = true
			c.Using = append(c.Using, ref)
			if src != right {
				break
			}
		}
	}
}

// expandStars replaces * and t.* with one item per known source column.
func (q *qualifier) expandStars(s *scope, items []parser.SelectItem) ([]parser.SelectItem, error) {
	var out []parser.SelectItem
	for _, item := range items {
		switch {
		case item.Star:
			seen := make(map[string]bool)
			for _, src := range s.sources {
				out = q.expandSource(out, src, item, s.using, seen)
			}
		case item.TableStar != "":
			src := s.find(item.TableStar)
			if src == nil {
				return nil, &UnknownTableError{Table: item.TableStar, core: s.seq}
			}
			out = q.expandSource(out, src, item, nil, nil)
		default:
			out = append(out, item)
		}
	}
	return out, nil
}

func (q *qualifier) expandSource(out []parser.SelectItem, src *source, star parser.SelectItem, using, seen map[string]bool) []parser.SelectItem {
	if src.open() {
		ref := &parser.ColumnRef{Table: src.key, Column: "*"}
		q.resolved[ref] = true
		return append(out, parser.SelectItem{Expr: ref})
	}

	except := make(map[string]bool, len(star.Except))
	for _, name := range star.Except {
		except[dialect.Fold(name)] = true
	}
	for _, col := range src.columns {
		folded := dialect.Fold(col)
		if except[folded] {
			continue
		}
		if using[folded] && seen[folded] {
			continue
		}
		if seen != nil {
			seen[folded] = true
		}

		item := parser.SelectItem{}
		for _, r := range star.Replace {
			if dialect.Fold(r.Alias) == folded {
				item = parser.SelectItem{Expr: r.Expr, Alias: col}
			}
		}
		if item.Expr == nil {
			ref := &parser.ColumnRef{Table: src.key, Column: col}
			q.resolved[ref] = true
			item.Expr = ref
		}
		out = append(out, item)
	}
	return out
}

func (q *qualifier) resolveWindow(s *scope, w *parser.WindowSpec) error {
	var err error
	parser.InspectWindow(w, func(e parser.Expr) bool {
		if err != nil {
			return false
		}
		if ref, ok := e.(*parser.ColumnRef); ok {
			err = q.resolveRef(s, ref)
		}
		return true
	})
	return err
}

// resolveExpr qualifies every column of e and the queries nested in it. When
// lenient is set, unresolvable names are left as they are.
func (q *qualifier) resolveExpr(s *scope, e parser.Expr, lenient bool) error {
	if e == nil {
		return nil
	}
	for _, sub := range parser.Subqueries(e) {
		key := q.allocate("_subquery")
		if _, err := q.query(sub, s.env, s, key); err != nil {
			if lenient {
				continue
			}
			return err
		}
		q.result.subqueries[sub] = key
	}
	for _, ref := range parser.ColumnRefs(e) {
		if q.resolved[ref] {
			continue
		}
		if err := q.resolveRef(s, ref); err != nil && !lenient {
			return err
		}
	}
	return nil
}

func (q *qualifier) resolveRef(s *scope, ref *parser.ColumnRef) error {
	if q.resolved[ref] {
		return nil
	}

	if ref.Table != "" {
		for sc := s; sc != nil; sc = sc.outer {
			if src := sc.find(ref.Table); src != nil {
				ref.Table = src.key
				if col, ok := src.column(ref.Column); ok {
					ref.Column = col
				}
				q.resolved[ref] = true
				return nil
			}
		}
		return &UnknownTableError{Table: ref.Table, core: s.seq}
	}

	for sc := s; sc != nil; sc = sc.outer {
		src, col, err := sc.owner(ref.Column)
		if err != nil {
			return err
		}
		if src != nil {
			ref.Table, ref.Column = src.key, col
			q.resolved[ref] = true
			return nil
		}
		if sc == s {
			if target := sc.alias(ref.Column); target != nil {
				q.result.aliases[ref] = target
				q.resolved[ref] = true
				return nil
			}
		}
	}

	if niladic[dialect.Fold(ref.Column)] {
		q.resolved[ref] = true
		return nil
	}
	if src := s.fallback(); src != nil {
		ref.Table = src.key
		q.resolved[ref] = true
		return nil
	}
	return &UnknownColumnError{Column: ref.Column}
}

// outputName is the column name a select item produces.
func outputName(item parser.SelectItem, i int) string {
	if item.Alias != "" {
		return item.Alias
	}
	e := item.Expr
	for {
		switch x := e.(type) {
		case *parser.ParenExpr:
			e = x.Expr
			continue
		case *parser.CastExpr:
			e = x.Expr
			continue
		case *parser.ColumnRef:
			return x.Column
		}
		return fmt.Sprintf("_col_%d", i)
	}
}

func rename(columns, aliases []string) []string {
	out := append([]string(nil), columns...)
	for i, a := range aliases {
		if i < len(out) {
			out[i] = a
		} else {
			out = append(out, a)
		}
	}
	return out
}
