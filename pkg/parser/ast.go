package parser

import "github.com/leapstack-labs/metalineage/pkg/token"

// Identifiers stored in the AST are already normalized by the dialect
// (see dialect.NormalizeIdent), so they can be compared directly.

// Expr represents an expression in SQL.
type Expr interface {
	exprNode()
}

// TableRef represents a table reference in a FROM clause.
type TableRef interface {
	tableRefNode()
}

// ---------- Statement Types ----------

// SelectStmt represents a complete query with an optional WITH clause.
type SelectStmt struct {
	// Target is set when the query was wrapped in CREATE VIEW/TABLE ... AS.
	Target *TableName
	With   *WithClause
	Body   *SelectBody
}

// WithClause represents a WITH clause with CTEs.
type WithClause struct {
	Recursive bool
	CTEs      []*CTE
}

// CTE represents a Common Table Expression.
type CTE struct {
	Name    string
	Columns []string // optional column list: name(a, b) AS (...)
	Select  *SelectStmt
}

// SelectBody represents the body of a query with possible set operations.
type SelectBody struct {
	Left  *SelectCore
	Op    SetOpType   // UNION, INTERSECT, EXCEPT, or empty
	All   bool        // UNION ALL
	Right *SelectBody // chained set operations
}

// SetOpType represents the type of set operation.
type SetOpType string

// SetOpType constants.
const (
	SetOpNone      SetOpType = ""
	SetOpUnion     SetOpType = "UNION"
	SetOpIntersect SetOpType = "INTERSECT"
	SetOpExcept    SetOpType = "EXCEPT"
)

// Cores returns every SelectCore of the body in order (one per set-operation branch).
func (b *SelectBody) Cores() []*SelectCore {
	var cores []*SelectCore
	for body := b; body != nil; body = body.Right {
		if body.Left != nil {
			cores = append(cores, body.Left)
		}
	}
	return cores
}

// SelectCore represents one SELECT ... FROM ... block.
type SelectCore struct {
	Distinct   bool
	DistinctOn []Expr
	Columns    []SelectItem
	From       *FromClause
	Where      Expr
	GroupBy    []Expr
	GroupByAll bool
	Having     Expr
	Windows    []*WindowDef // named windows (WINDOW clause)
	Qualify    Expr
	OrderBy    []OrderByItem
	Limit      Expr
	Offset     Expr
}

// Window returns the named window definition, or nil.
func (c *SelectCore) Window(name string) *WindowDef {
	for _, w := range c.Windows {
		if w.Name == name {
			return w
		}
	}
	return nil
}

// WindowDef represents a named window definition in the WINDOW clause.
// Example: WINDOW w AS (PARTITION BY x ORDER BY y)
type WindowDef struct {
	Name string
	Spec *WindowSpec
}

// SelectItem represents an item in the SELECT list.
type SelectItem struct {
	Star      bool         // SELECT *
	TableStar string       // SELECT t.* (qualifier, dot-joined)
	Except    []string     // * EXCEPT (...) / * EXCLUDE (...)
	Replace   []SelectItem // * REPLACE (expr AS col, ...)
	Expr      Expr
	Alias     string
}

// IsStar reports whether the item is * or t.*.
func (s SelectItem) IsStar() bool {
	return s.Star || s.TableStar != ""
}

// OrderByItem represents an item in ORDER BY.
type OrderByItem struct {
	Expr       Expr
	Desc       bool
	NullsFirst *bool
}

// ---------- FROM ----------

// FromClause represents the FROM clause.
type FromClause struct {
	Source TableRef
	Joins  []*Join
}

// JoinType represents the type of join.
type JoinType string

// JoinType constants.
const (
	JoinInner JoinType = "INNER"
	JoinLeft  JoinType = "LEFT"
	JoinRight JoinType = "RIGHT"
	JoinFull  JoinType = "FULL"
	JoinCross JoinType = "CROSS"
	JoinComma JoinType = ","
	JoinSemi  JoinType = "SEMI"
	JoinAnti  JoinType = "ANTI"
)

// Join represents a JOIN clause.
type Join struct {
	Type      JoinType
	Natural   bool
	Right     TableRef
	Condition Expr     // ON
	Using     []string // USING (...)
}

// TableName represents a physical table reference.
type TableName struct {
	Catalog string
	Schema  string
	Name    string
	Alias   string
}

func (*TableName) tableRefNode() {}

// QualifiedName returns catalog.schema.name with empty parts omitted.
func (t *TableName) QualifiedName() string {
	name := t.Name
	if t.Schema != "" {
		name = t.Schema + "." + name
	}
	if t.Catalog != "" {
		name = t.Catalog + "." + name
	}
	return name
}

// EffectiveName returns the alias if present, otherwise the table name.
func (t *TableName) EffectiveName() string {
	if t.Alias != "" {
		return t.Alias
	}
	return t.Name
}

// DerivedTable represents a subquery in FROM.
type DerivedTable struct {
	Select        *SelectStmt
	Alias         string
	ColumnAliases []string
	Lateral       bool
}

func (*DerivedTable) tableRefNode() {}

// TableFunction represents a function used as a row source (UNNEST, FLATTEN, generate_series).
type TableFunction struct {
	Func          *FuncCall
	Alias         string
	ColumnAliases []string
	Lateral       bool
}

func (*TableFunction) tableRefNode() {}

// ---------- Expressions ----------

// ColumnRef represents a column reference.
type ColumnRef struct {
	Table  string // qualifier, dot-joined; empty when unqualified
	Column string
}

func (*ColumnRef) exprNode() {}

// LiteralType represents the type of a literal.
type LiteralType int

// LiteralType constants.
const (
	LiteralNull LiteralType = iota
	LiteralNumber
	LiteralString
	LiteralBool
	LiteralParam
)

// Literal represents a literal value.
type Literal struct {
	Type  LiteralType
	Value string
}

func (*Literal) exprNode() {}

// BinaryExpr represents a binary operation.
type BinaryExpr struct {
	Left  Expr
	Op    token.TokenType
	Right Expr
}

func (*BinaryExpr) exprNode() {}

// UnaryExpr represents a unary operation.
type UnaryExpr struct {
	Op   token.TokenType
	Expr Expr
}

func (*UnaryExpr) exprNode() {}

// FuncCall represents a function call.
type FuncCall struct {
	Name        string
	Distinct    bool
	Args        []Expr
	Star        bool // COUNT(*)
	Filter      Expr // FILTER (WHERE ...)
	WithinGroup []OrderByItem
	Window      *WindowSpec // OVER (...)
}

func (*FuncCall) exprNode() {}

// WindowSpec represents a window specification. Name refers to a named window,
// either alone (OVER w) or as the base of an inline spec (OVER (w ORDER BY x)).
type WindowSpec struct {
	Name        string
	PartitionBy []Expr
	OrderBy     []OrderByItem
	Frame       *FrameSpec
}

// FrameSpec represents a window frame.
type FrameSpec struct {
	Unit  string // ROWS, RANGE, GROUPS
	Start *FrameBound
	End   *FrameBound
}

// FrameBound represents a frame boundary.
type FrameBound struct {
	Kind   string // UNBOUNDED PRECEDING, CURRENT ROW, PRECEDING, FOLLOWING, UNBOUNDED FOLLOWING
	Offset Expr
}

// CaseExpr represents a CASE expression.
type CaseExpr struct {
	Operand Expr
	Whens   []WhenClause
	Else    Expr
}

func (*CaseExpr) exprNode() {}

// WhenClause represents a WHEN clause in CASE.
type WhenClause struct {
	Condition Expr
	Result    Expr
}

// CastExpr represents CAST(x AS type), TRY_CAST and x::type.
type CastExpr struct {
	Expr     Expr
	TypeName string
	Try      bool
}

func (*CastExpr) exprNode() {}

// InExpr represents IN expression.
type InExpr struct {
	Expr   Expr
	Not    bool
	Values []Expr
	Query  *SelectStmt
}

func (*InExpr) exprNode() {}

// BetweenExpr represents BETWEEN expression.
type BetweenExpr struct {
	Expr Expr
	Not  bool
	Low  Expr
	High Expr
}

func (*BetweenExpr) exprNode() {}

// IsNullExpr represents IS [NOT] NULL.
type IsNullExpr struct {
	Expr Expr
	Not  bool
}

func (*IsNullExpr) exprNode() {}

// IsBoolExpr represents IS [NOT] TRUE/FALSE.
type IsBoolExpr struct {
	Expr  Expr
	Not   bool
	Value bool
}

func (*IsBoolExpr) exprNode() {}

// LikeExpr represents [NOT] LIKE / ILIKE.
type LikeExpr struct {
	Expr    Expr
	Not     bool
	ILike   bool
	Pattern Expr
	Escape  Expr
}

func (*LikeExpr) exprNode() {}

// ParenExpr represents a parenthesized expression.
type ParenExpr struct {
	Expr Expr
}

func (*ParenExpr) exprNode() {}

// TupleExpr represents (a, b, ...).
type TupleExpr struct {
	Items []Expr
}

func (*TupleExpr) exprNode() {}

// SubqueryExpr represents a scalar subquery.
type SubqueryExpr struct {
	Select *SelectStmt
}

func (*SubqueryExpr) exprNode() {}

// ExistsExpr represents [NOT] EXISTS (subquery).
type ExistsExpr struct {
	Not    bool
	Select *SelectStmt
}

func (*ExistsExpr) exprNode() {}

// IntervalExpr represents INTERVAL 'n' unit.
type IntervalExpr struct {
	Value Expr
	Unit  string
}

func (*IntervalExpr) exprNode() {}

// IndexExpr represents subscript and semi-structured access: a[0], v:field.path.
type IndexExpr struct {
	Expr  Expr
	Index Expr
}

func (*IndexExpr) exprNode() {}
