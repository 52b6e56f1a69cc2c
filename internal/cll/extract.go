package cll

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/leapstack-labs/metalineage/internal/dag"
	"github.com/leapstack-labs/metalineage/pkg/core"
	"github.com/leapstack-labs/metalineage/pkg/parser"
)

// ErrLineageCycle is returned when a column feeds itself.
var ErrLineageCycle = errors.New("lineage cycle")

// ColumnNode is a column of a physical table or of an inner query block.
type ColumnNode struct {
	Table  string
	Column string
}

// ID returns the node id used in lineage graphs.
func (n ColumnNode) ID() string {
	return n.Table + "." + n.Column
}

// Lineage is a column graph whose edges carry the union of connection kinds
// observed between two columns.
type Lineage struct {
	Graph *dag.Graph[core.Connections]
	Nodes map[string]ColumnNode
}

// NewLineage creates an empty lineage graph.
func NewLineage() *Lineage {
	return &Lineage{
		Graph: dag.NewGraph[core.Connections](),
		Nodes: make(map[string]ColumnNode),
	}
}

// AddNode adds a column without edges.
func (l *Lineage) AddNode(n ColumnNode) string {
	id := n.ID()
	l.Nodes[id] = n
	l.Graph.AddNode(id)
	return id
}

// Link records that from flows into to with the given connections.
func (l *Lineage) Link(from, to ColumnNode, conns core.Connections) error {
	if conns.Empty() {
		return nil
	}
	src, dst := l.AddNode(from), l.AddNode(to)
	if src == dst {
		return fmt.Errorf("%w: %s feeds itself", ErrLineageCycle, src)
	}
	return l.Graph.MergeEdge(src, dst, conns, sameConnections, core.Connections.Union)
}

// Edge returns the connections from one node to another.
func (l *Lineage) Edge(from, to string) core.Connections {
	var conns core.Connections
	for _, c := range l.Graph.EdgesBetween(from, to) {
		conns = conns.Union(c)
	}
	return conns
}

func (l *Lineage) remove(id string) {
	l.Graph.RemoveNode(id)
	delete(l.Nodes, id)
}

func sameConnections(_, _ core.Connections) bool { return true }

// Extract builds the column lineage of a qualified statement. Every query block
// is walked on its own; edges between blocks meet at the block's output nodes.
// Connection kinds the lineage type does not allow are never emitted.
func Extract(q *Qualified, lineageType core.LineageType) (*Lineage, error) {
	x := &extractor{
		q:       q,
		lineage: NewLineage(),
		allowed: lineageType,
		queries: make(map[string]*Query, len(q.Queries)),
	}
	for _, query := range q.Queries {
		x.queries[query.Key] = query
	}
	for _, query := range q.Queries {
		for _, c := range query.Cores {
			if err := x.core(query, c); err != nil {
				return nil, err
			}
		}
	}
	return x.lineage, nil
}

type extractor struct {
	q       *Qualified
	lineage *Lineage
	allowed core.LineageType
	queries map[string]*Query
}

// influence is a clause whose columns affect every output of a core.
type influence struct {
	expr parser.Expr
	kind core.ConnectionType
}

// maxWindowDepth bounds chains of named windows built on other named windows.
const maxWindowDepth = 8

func (x *extractor) core(query *Query, c *Core) error {
	n := c.Node
	targets := make([]ColumnNode, len(n.Columns))
	for i := range n.Columns {
		name := c.Outputs[i]
		if i < len(query.Columns) {
			name = query.Columns[i]
		}
		targets[i] = ColumnNode{Table: query.Key, Column: name}
		x.lineage.AddNode(targets[i])
	}

	for i, item := range n.Columns {
		kind := core.ConnectionTransform
		if _, ok := item.Expr.(*parser.ColumnRef); ok {
			kind = core.ConnectionAsIs
		}
		if err := x.flow(item.Expr, kind, targets[i:i+1]); err != nil {
			return err
		}
		for _, name := range parser.NamedWindows(item.Expr) {
			if err := x.window(n, name, targets[i:i+1], 0); err != nil {
				return err
			}
		}
	}

	influences := []influence{
		{n.Where, core.ConnectionFilter},
		{n.Having, core.ConnectionHaving},
		{n.Qualify, core.ConnectionQualify},
	}
	for _, e := range n.GroupBy {
		influences = append(influences, influence{groupTarget(n, e), core.ConnectionGroupBy})
	}
	if n.From != nil {
		for _, j := range n.From.Joins {
			influences = append(influences, influence{j.Condition, core.ConnectionJoinKey})
		}
	}

	for _, inf := range influences {
		if err := x.flow(inf.expr, inf.kind, targets); err != nil {
			return err
		}
	}
	for _, ref := range c.Using {
		if err := x.link(ColumnNode{Table: ref.Table, Column: ref.Column}, core.ConnectionJoinKey, targets); err != nil {
			return err
		}
	}
	return x.functions(c)
}

// groupTarget resolves GROUP BY ordinals to the select expression they name.
func groupTarget(n *parser.SelectCore, e parser.Expr) parser.Expr {
	lit, ok := e.(*parser.Literal)
	if !ok || lit.Type != parser.LiteralNumber {
		return e
	}
	pos, err := strconv.Atoi(lit.Value)
	if err != nil || pos < 1 || pos > len(n.Columns) {
		return e
	}
	return n.Columns[pos-1].Expr
}

// flow links every column read by expr into the targets.
func (x *extractor) flow(expr parser.Expr, kind core.ConnectionType, targets []ColumnNode) error {
	if expr == nil || !x.allowed.Allows(kind) {
		return nil
	}

	for _, ref := range parser.ColumnRefs(expr) {
		if target, ok := x.q.AliasTarget(ref); ok {
			next := kind
			if _, bare := target.(*parser.ColumnRef); !bare && kind == core.ConnectionAsIs {
				next = core.ConnectionTransform
			}
			if err := x.flow(target, next, targets); err != nil {
				return err
			}
			continue
		}
		if ref.Table == "" {
			continue
		}
		if err := x.link(ColumnNode{Table: ref.Table, Column: ref.Column}, kind, targets); err != nil {
			return err
		}
	}

	// A nested query's outputs feed the expression; they are never copied as is.
	subKind := kind
	if subKind == core.ConnectionAsIs {
		subKind = core.ConnectionTransform
	}
	for _, sub := range parser.Subqueries(expr) {
		key, ok := x.q.SubqueryKey(sub)
		if !ok {
			continue
		}
		query, ok := x.queries[key]
		if !ok {
			continue
		}
		for _, col := range query.Columns {
			if err := x.link(ColumnNode{Table: key, Column: col}, subKind, targets); err != nil {
				return err
			}
		}
	}
	return nil
}

func (x *extractor) link(from ColumnNode, kind core.ConnectionType, targets []ColumnNode) error {
	if !x.allowed.Allows(kind) {
		return nil
	}
	conns := core.NewConnections(kind)
	for _, to := range targets {
		if err := x.lineage.Link(from, to, conns); err != nil {
			return err
		}
	}
	return nil
}

// window links the columns of a named window definition, following the
// definitions it is based on.
func (x *extractor) window(n *parser.SelectCore, name string, targets []ColumnNode, depth int) error {
	def := n.Window(name)
	if def == nil || def.Spec == nil || depth > maxWindowDepth {
		return nil
	}
	var err error
	parser.InspectWindow(def.Spec, func(e parser.Expr) bool {
		if ref, ok := e.(*parser.ColumnRef); ok && err == nil && ref.Table != "" {
			err = x.link(ColumnNode{Table: ref.Table, Column: ref.Column}, core.ConnectionTransform, targets)
		}
		return err == nil
	})
	if err != nil {
		return err
	}
	if def.Spec.Name != "" && def.Spec.Name != name {
		return x.window(n, def.Spec.Name, targets, depth+1)
	}
	return nil
}

// functions links the arguments of table functions to the function columns the
// query reads.
func (x *extractor) functions(c *Core) error {
	for _, fn := range c.Functions {
		var outputs []ColumnNode
		for _, node := range x.lineage.Nodes {
			if node.Table == fn.Key {
				outputs = append(outputs, node)
			}
		}
		for _, arg := range fn.Args {
			if err := x.link(ColumnNode{Table: arg.Table, Column: arg.Column}, core.ConnectionTransform, outputs); err != nil {
				return err
			}
		}
	}
	return nil
}
