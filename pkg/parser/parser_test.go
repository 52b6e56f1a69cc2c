package parser_test

import (
	"testing"

	"github.com/leapstack-labs/metalineage/pkg/dialect"
	"github.com/leapstack-labs/metalineage/pkg/parser"
	"github.com/leapstack-labs/metalineage/pkg/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, sql string, d *dialect.Dialect) *parser.SelectStmt {
	t.Helper()
	stmt, err := parser.Parse(sql, d)
	require.NoError(t, err)
	require.NotNil(t, stmt)
	return stmt
}

// ---------- SELECT Tests ----------

func TestParseSimpleSelect(t *testing.T) {
	stmt := mustParse(t, "SELECT a, b AS c FROM s.t x WHERE a > 1", dialect.ANSI)

	core := stmt.Body.Left
	require.Len(t, core.Columns, 2)
	assert.Equal(t, &parser.ColumnRef{Column: "a"}, core.Columns[0].Expr)
	assert.Equal(t, "c", core.Columns[1].Alias)

	table, ok := core.From.Source.(*parser.TableName)
	require.True(t, ok)
	assert.Equal(t, "s", table.Schema)
	assert.Equal(t, "t", table.Name)
	assert.Equal(t, "x", table.Alias)
	assert.Equal(t, "s.t", table.QualifiedName())

	where, ok := core.Where.(*parser.BinaryExpr)
	require.True(t, ok)
	assert.Equal(t, token.GT, where.Op)
}

func TestParseCTEAndSetOperations(t *testing.T) {
	stmt := mustParse(t, `
		WITH c (x) AS (SELECT a FROM t)
		SELECT x FROM c
		UNION ALL
		SELECT a FROM d`, dialect.ANSI)

	require.NotNil(t, stmt.With)
	require.Len(t, stmt.With.CTEs, 1)
	assert.Equal(t, "c", stmt.With.CTEs[0].Name)
	assert.Equal(t, []string{"x"}, stmt.With.CTEs[0].Columns)

	assert.Equal(t, parser.SetOpUnion, stmt.Body.Op)
	assert.True(t, stmt.Body.All)
	assert.Len(t, stmt.Body.Cores(), 2)
}

func TestParseParenthesizedSetTerms(t *testing.T) {
	stmt := mustParse(t, "(SELECT a FROM t) UNION (SELECT a FROM u) ORDER BY a", dialect.ANSI)
	assert.Len(t, stmt.Body.Cores(), 2)

	// a parenthesized compound term is wrapped in a derived table
	stmt = mustParse(t, "SELECT a FROM t EXCEPT (SELECT a FROM u UNION SELECT a FROM v)", dialect.ANSI)
	cores := stmt.Body.Cores()
	require.Len(t, cores, 2)
	derived, ok := cores[1].From.Source.(*parser.DerivedTable)
	require.True(t, ok)
	assert.Len(t, derived.Select.Body.Cores(), 2)
	assert.True(t, cores[1].Columns[0].Star)
}

func TestParseMinusSetOperation(t *testing.T) {
	stmt := mustParse(t, "SELECT a FROM t MINUS SELECT a FROM u", dialect.Snowflake)
	assert.Equal(t, parser.SetOpExcept, stmt.Body.Op)

	// outside dialects with MINUS it is an ordinary alias
	stmt = mustParse(t, "SELECT a FROM t minus", dialect.Postgres)
	assert.Equal(t, "minus", stmt.Body.Left.From.Source.(*parser.TableName).Alias)
}

func TestParseCreatePrefix(t *testing.T) {
	stmt := mustParse(t, "CREATE OR REPLACE VIEW db.s.v (x) COMMENT = 'c' AS SELECT 1 AS x;", dialect.Snowflake)
	require.NotNil(t, stmt.Target)
	assert.Equal(t, "db", stmt.Target.Catalog)
	assert.Equal(t, "s", stmt.Target.Schema)
	assert.Equal(t, "v", stmt.Target.Name)

	stmt = mustParse(t, "create table if not exists t as select a from u", dialect.DuckDB)
	assert.Equal(t, "t", stmt.Target.Name)
}

// ---------- FROM Tests ----------

func TestParseJoins(t *testing.T) {
	tests := []struct {
		name  string
		sql   string
		types []parser.JoinType
	}{
		{"inner", "SELECT * FROM a JOIN b ON a.id = b.id", []parser.JoinType{parser.JoinInner}},
		{"left outer", "SELECT * FROM a LEFT OUTER JOIN b USING (id)", []parser.JoinType{parser.JoinLeft}},
		{"cross and comma", "SELECT * FROM a CROSS JOIN b, c", []parser.JoinType{parser.JoinCross, parser.JoinComma}},
		{"full", "SELECT * FROM a FULL JOIN b ON true", []parser.JoinType{parser.JoinFull}},
		{"semi", "SELECT * FROM a LEFT SEMI JOIN b ON a.x = b.x", []parser.JoinType{parser.JoinSemi}},
		{"parenthesized", "SELECT * FROM (a JOIN b ON a.x = b.x) JOIN c ON c.y = a.y", []parser.JoinType{parser.JoinInner, parser.JoinInner}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stmt := mustParse(t, tt.sql, dialect.DuckDB)
			from := stmt.Body.Left.From
			require.Len(t, from.Joins, len(tt.types))
			for i, join := range from.Joins {
				assert.Equal(t, tt.types[i], join.Type)
			}
		})
	}
}

func TestParseNaturalJoin(t *testing.T) {
	stmt := mustParse(t, "SELECT * FROM t1 NATURAL LEFT JOIN t2", dialect.DuckDB)
	join := stmt.Body.Left.From.Joins[0]
	assert.True(t, join.Natural)
	assert.Equal(t, parser.JoinLeft, join.Type)

	_, err := parser.Parse("SELECT * FROM t1 NATURAL t2", dialect.DuckDB)
	require.Error(t, err)
}

func TestParseDerivedAndTableFunctions(t *testing.T) {
	stmt := mustParse(t, `
		SELECT f.value
		FROM (SELECT id, v FROM raw) AS r (id, v),
		     LATERAL FLATTEN(input => r.v) f`, dialect.Snowflake)

	from := stmt.Body.Left.From
	derived, ok := from.Source.(*parser.DerivedTable)
	require.True(t, ok)
	assert.Equal(t, "r", derived.Alias)
	assert.Equal(t, []string{"id", "v"}, derived.ColumnAliases)

	fn, ok := from.Joins[0].Right.(*parser.TableFunction)
	require.True(t, ok)
	assert.True(t, fn.Lateral)
	assert.Equal(t, "flatten", fn.Func.Name)
	assert.Equal(t, "f", fn.Alias)

	stmt = mustParse(t, "SELECT value FROM TABLE(FLATTEN(input => parse_json('[1]')))", dialect.Snowflake)
	_, ok = stmt.Body.Left.From.Source.(*parser.TableFunction)
	assert.True(t, ok)
}

func TestParseBacktickQualifiedName(t *testing.T) {
	stmt := mustParse(t, "SELECT a FROM `my-project.sales.orders`", dialect.BigQuery)
	table := stmt.Body.Left.From.Source.(*parser.TableName)
	assert.Equal(t, "my-project", table.Catalog)
	assert.Equal(t, "sales", table.Schema)
	assert.Equal(t, "orders", table.Name)
}

func TestParseTooManyNameParts(t *testing.T) {
	_, err := parser.Parse("SELECT a FROM a.b.c.d", dialect.ANSI)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "more than three parts")
}

// ---------- Identifier Tests ----------

func TestIdentifierNormalization(t *testing.T) {
	stmt := mustParse(t, `SELECT "MixedCase", Other FROM "Schema".T`, dialect.Postgres)
	core := stmt.Body.Left
	assert.Equal(t, "MixedCase", core.Columns[0].Expr.(*parser.ColumnRef).Column)
	assert.Equal(t, "other", core.Columns[1].Expr.(*parser.ColumnRef).Column)

	table := core.From.Source.(*parser.TableName)
	assert.Equal(t, "Schema", table.Schema)
	assert.Equal(t, "t", table.Name)

	// Snowflake compares quoted identifiers case-insensitively as well
	stmt = mustParse(t, `SELECT "MixedCase" FROM t`, dialect.Snowflake)
	assert.Equal(t, "mixedcase", stmt.Body.Left.Columns[0].Expr.(*parser.ColumnRef).Column)
}

func TestNonReservedKeywordsAsIdentifiers(t *testing.T) {
	stmt := mustParse(t, "SELECT first, last, rows, range FROM t", dialect.ANSI)
	cols := stmt.Body.Left.Columns
	require.Len(t, cols, 4)
	assert.Equal(t, "range", cols[3].Expr.(*parser.ColumnRef).Column)
}

// ---------- Expression Tests ----------

func TestParseStarItems(t *testing.T) {
	stmt := mustParse(t, "SELECT t.*, * EXCLUDE (b) REPLACE (a + 1 AS a) FROM t", dialect.DuckDB)
	cols := stmt.Body.Left.Columns
	require.Len(t, cols, 2)
	assert.Equal(t, "t", cols[0].TableStar)
	assert.True(t, cols[0].IsStar())
	assert.True(t, cols[1].Star)
	assert.Equal(t, []string{"b"}, cols[1].Except)
	require.Len(t, cols[1].Replace, 1)
	assert.Equal(t, "a", cols[1].Replace[0].Alias)
}

func TestParseCasts(t *testing.T) {
	stmt := mustParse(t,
		"SELECT a::varchar(10), CAST(b AS double precision), TRY_CAST(c AS int) FROM t",
		dialect.DuckDB)
	cols := stmt.Body.Left.Columns

	cast := cols[0].Expr.(*parser.CastExpr)
	assert.Equal(t, "varchar(10)", cast.TypeName)
	assert.Equal(t, "double precision", cols[1].Expr.(*parser.CastExpr).TypeName)
	assert.True(t, cols[2].Expr.(*parser.CastExpr).Try)

	_, err := parser.Parse("SELECT a::int FROM t", dialect.BigQuery)
	assert.Error(t, err)
}

func TestParseVariantPath(t *testing.T) {
	stmt := mustParse(t, "SELECT v:customer.name::string AS n FROM t", dialect.Snowflake)
	item := stmt.Body.Left.Columns[0]
	assert.Equal(t, "n", item.Alias)

	cast := item.Expr.(*parser.CastExpr)
	idx := cast.Expr.(*parser.IndexExpr)
	assert.Equal(t, &parser.ColumnRef{Column: "v"}, idx.Expr)
	assert.Equal(t, "customer.name", idx.Index.(*parser.Literal).Value)
}

func TestParsePredicates(t *testing.T) {
	stmt := mustParse(t, `
		SELECT a FROM t
		WHERE a NOT IN (1, 2)
		  AND b BETWEEN 1 AND 10
		  AND c ILIKE 'x%'
		  AND d IS NOT NULL
		  AND e IN (SELECT e FROM u)
		  AND NOT EXISTS (SELECT 1 FROM v WHERE v.a = t.a)`, dialect.DuckDB)

	var kinds []string
	parser.Inspect(stmt.Body.Left.Where, func(e parser.Expr) bool {
		switch n := e.(type) {
		case *parser.InExpr:
			if n.Not {
				kinds = append(kinds, "not in")
			} else {
				kinds = append(kinds, "in")
			}
		case *parser.BetweenExpr:
			kinds = append(kinds, "between")
		case *parser.LikeExpr:
			kinds = append(kinds, "like")
		case *parser.IsNullExpr:
			kinds = append(kinds, "is null")
		case *parser.ExistsExpr:
			kinds = append(kinds, "exists")
		}
		return true
	})
	assert.ElementsMatch(t, []string{"not in", "between", "like", "is null", "in", "exists"}, kinds)
	assert.Len(t, parser.Subqueries(stmt.Body.Left.Where), 2)
}

func TestParseCaseAndFunctions(t *testing.T) {
	stmt := mustParse(t, `
		SELECT
		  CASE WHEN a > 0 THEN 'pos' ELSE 'neg' END AS sign,
		  count(DISTINCT b) FILTER (WHERE c) AS n,
		  count(*) AS total,
		  extract(year FROM d) AS y,
		  substring(e FROM 1 FOR 3) AS s,
		  listagg(f, ',') WITHIN GROUP (ORDER BY f) AS l
		FROM t`, dialect.Snowflake)
	cols := stmt.Body.Left.Columns
	require.Len(t, cols, 6)

	_, ok := cols[0].Expr.(*parser.CaseExpr)
	assert.True(t, ok)

	count := cols[1].Expr.(*parser.FuncCall)
	assert.True(t, count.Distinct)
	assert.NotNil(t, count.Filter)
	assert.True(t, cols[2].Expr.(*parser.FuncCall).Star)
	assert.Equal(t, "extract", cols[3].Expr.(*parser.FuncCall).Name)
	assert.Len(t, cols[4].Expr.(*parser.FuncCall).Args, 3)
	assert.Len(t, cols[5].Expr.(*parser.FuncCall).WithinGroup, 1)
}

func TestParseWindows(t *testing.T) {
	stmt := mustParse(t, `
		SELECT
		  sum(a) OVER w AS s,
		  row_number() OVER (PARTITION BY b ORDER BY c DESC NULLS LAST
		                     ROWS BETWEEN UNBOUNDED PRECEDING AND CURRENT ROW) AS rn
		FROM t
		WINDOW w AS (PARTITION BY d)
		QUALIFY rn = 1`, dialect.DuckDB)

	core := stmt.Body.Left
	require.NotNil(t, core.Window("w"))
	assert.NotNil(t, core.Qualify)
	assert.Equal(t, []string{"w"}, parser.NamedWindows(core.Columns[0].Expr))

	rn := core.Columns[1].Expr.(*parser.FuncCall)
	require.NotNil(t, rn.Window.Frame)
	assert.Equal(t, "UNBOUNDED PRECEDING", rn.Window.Frame.Start.Kind)
	assert.Equal(t, "CURRENT ROW", rn.Window.Frame.End.Kind)
	require.NotNil(t, rn.Window.OrderBy[0].NullsFirst)
	assert.False(t, *rn.Window.OrderBy[0].NullsFirst)
}

func TestQualifyIsAnAliasWithoutDialectSupport(t *testing.T) {
	stmt := mustParse(t, "SELECT a FROM t qualify", dialect.Postgres)
	assert.Equal(t, "qualify", stmt.Body.Left.From.Source.(*parser.TableName).Alias)
}

func TestColumnRefs(t *testing.T) {
	stmt := mustParse(t, "SELECT a + f(b, s.t.c) AS x FROM t", dialect.ANSI)
	refs := parser.ColumnRefs(stmt.Body.Left.Columns[0].Expr)
	require.Len(t, refs, 3)
	assert.Equal(t, "a", refs[0].Column)
	assert.Equal(t, "s.t", refs[2].Table)
	assert.Equal(t, "c", refs[2].Column)
}

// ---------- Error Tests ----------

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		sql     string
		message string
	}{
		{"empty", "  ;", "empty statement"},
		{"missing table", "SELECT a FROM", "expected identifier"},
		{"unterminated string", "SELECT 'abc", "unterminated string literal"},
		{"trailing input", "SELECT a FROM t)", "unexpected input"},
		{"illegal character", "SELECT a # b FROM t", "illegal character"},
		{"case without when", "SELECT CASE a END FROM t", "expected WHEN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parser.Parse(tt.sql, dialect.ANSI)
			require.Error(t, err)

			var perr *parser.ParseError
			require.ErrorAs(t, err, &perr)
			assert.Contains(t, perr.Message, tt.message)
			assert.True(t, perr.Pos.IsValid())
		})
	}
}
