// Package cll derives column-level lineage from the SQL of warehouse assets.
//
// Each statement is parsed with the resource's dialect, its table references
// are normalized against a catalog of the asset and its direct dependencies,
// and its columns are qualified. Lineage is then extracted per query block,
// inner blocks are stitched away, and the graph is pruned to real columns.
package cll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/metalineage/internal/dag"
	"github.com/leapstack-labs/metalineage/pkg/core"
	"github.com/leapstack-labs/metalineage/pkg/dialect"
	"github.com/leapstack-labs/metalineage/pkg/urn"
)

// DefaultWorkers is the number of assets analysed concurrently.
const DefaultWorkers = 4

// Options configures an Engine.
type Options struct {
	Workers      int
	MaxAttempts  int
	LineageTypes []core.LineageType
}

// Input is the resolved state of one warehouse resource.
type Input struct {
	Resource   core.Resource
	Assets     map[string]*core.Asset
	Columns    map[string]*core.Column
	AssetGraph *dag.Graph[struct{}]
}

// Result is the column lineage of a resource.
type Result struct {
	// Graph holds one edge per column pair and lineage type. Node ids are column ids.
	Graph  *dag.Graph[core.ColumnEdge]
	Errors []core.AssetError
}

// Engine computes column lineage for every asset of a resource that has SQL.
type Engine struct {
	opts   Options
	logger *slog.Logger
}

// NewEngine creates an engine. A nil logger discards output.
func NewEngine(opts Options, logger *slog.Logger) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if len(opts.LineageTypes) == 0 {
		opts.LineageTypes = core.LineageTypes
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{opts: opts, logger: logger}
}

// Run analyses every asset with SQL. A failure on one asset becomes an
// AssetError and never stops the others; only cancellation fails the run.
func (e *Engine) Run(ctx context.Context, in Input) (*Result, error) {
	idx := newResourceIndex(in)
	d := dialect.GetOrDefault(in.Resource.Dialect())

	var ids []string
	for id, asset := range in.Assets {
		if asset.SQL != "" && !asset.Placeholder {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	res := &Result{Graph: dag.NewGraph[core.ColumnEdge]()}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)
	for _, id := range ids {
		asset := in.Assets[id]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			graphs, errs := e.analyseAsset(asset, d, idx)

			mu.Lock()
			defer mu.Unlock()
			for lt, lin := range graphs {
				idx.merge(res.Graph, lin, lt)
			}
			res.Errors = append(res.Errors, errs...)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("column lineage for resource %s: %w", in.Resource.ID, err)
	}

	sort.SliceStable(res.Errors, func(i, j int) bool {
		if res.Errors[i].AssetID != res.Errors[j].AssetID {
			return res.Errors[i].AssetID < res.Errors[j].AssetID
		}
		return res.Errors[i].LineageType < res.Errors[j].LineageType
	})
	e.logger.Debug("column lineage computed",
		"resource", in.Resource.ID,
		"assets", len(ids),
		"edges", res.Graph.EdgeCount(),
		"errors", len(res.Errors))
	return res, nil
}

// analyseAsset returns one pruned lineage graph per lineage type that succeeded.
func (e *Engine) analyseAsset(asset *core.Asset, d *dialect.Dialect, idx *resourceIndex) (graphs map[core.LineageType]*Lineage, errs []core.AssetError) {
	fail := func(detail core.ErrorDetail, types ...core.LineageType) {
		for _, lt := range types {
			errs = append(errs, core.AssetError{AssetID: asset.ID, Error: detail, LineageType: lt})
		}
	}
	defer func() {
		if r := recover(); r != nil {
			graphs = nil
			errs = nil
			fail(core.ErrorDetail{
				Kind:      core.ErrorKindMiscellaneous,
				Message:   fmt.Sprint(r),
				Traceback: string(debug.Stack()),
			}, e.opts.LineageTypes...)
		}
	}()

	self := idx.key(asset)
	deps := idx.dependencies(asset)
	catalog := idx.catalog(asset, deps)

	outcome := Prepare(asset.SQL, d, catalog, self, e.opts.MaxAttempts)
	if outcome.State != StateSuccess {
		e.logger.Warn("sql analysis failed",
			"asset", asset.ID,
			"kind", outcome.Error.Kind,
			"attempts", outcome.Attempts,
			"error", outcome.Error.Message)
		fail(*outcome.Error, e.opts.LineageTypes...)
		return nil, errs
	}
	if outcome.Degraded {
		e.logger.Warn("sql analysis degraded to CTEs only",
			"asset", asset.ID,
			"error", outcome.Cause.Message)
		fail(*outcome.Cause, e.opts.LineageTypes...)
		return nil, errs
	}

	if err := Optimize(outcome.Qualified); err != nil {
		fail(optimizeError(err), e.opts.LineageTypes...)
		return nil, errs
	}

	depKeys := make([]string, len(deps))
	for i, dep := range deps {
		depKeys[i] = idx.key(dep)
	}

	graphs, failed := buildTypes(outcome.Qualified, catalog, self, depKeys, e.opts.LineageTypes)
	for _, lt := range e.opts.LineageTypes {
		if err, ok := failed[lt]; ok {
			e.logger.Warn("column lineage discarded", "asset", asset.ID, "lineage_type", lt, "error", err)
			fail(buildError(err), lt)
		}
	}
	return graphs, errs
}

// buildTypes builds the lineage of every type. A cycle found by any type
// discards the asset's lineage for all of them, so that a narrower type never
// keeps edges the wider one lost.
func buildTypes(q *Qualified, catalog *Catalog, self string, deps []string, types []core.LineageType) (map[core.LineageType]*Lineage, map[core.LineageType]error) {
	graphs := make(map[core.LineageType]*Lineage, len(types))
	failed := make(map[core.LineageType]error)
	var cycle error
	for _, lt := range types {
		lin, err := Build(q, catalog, self, deps, lt)
		if err != nil {
			if cycle == nil && errors.Is(err, ErrLineageCycle) {
				cycle = err
			}
			failed[lt] = err
			continue
		}
		graphs[lt] = lin
	}
	if cycle != nil {
		for lt := range graphs {
			failed[lt] = cycle
		}
		clear(graphs)
	}
	return graphs, failed
}

// Build extracts, stitches and prunes the lineage of a prepared statement.
func Build(q *Qualified, catalog *Catalog, self string, deps []string, lt core.LineageType) (*Lineage, error) {
	lin, err := Extract(q, lt)
	if err != nil {
		return nil, err
	}
	if err := Stitch(lin, q.intermediates()); err != nil {
		return nil, err
	}
	Prune(lin, catalog, self, deps)
	return lin, nil
}

// Analyse runs the whole pipeline on one statement. It is the entry point for
// ad-hoc analysis outside a resource.
func Analyse(sql string, d *dialect.Dialect, catalog *Catalog, self string, deps []string, lt core.LineageType) (*Lineage, *core.ErrorDetail) {
	outcome := Prepare(sql, d, catalog, self, DefaultMaxAttempts)
	if outcome.State != StateSuccess {
		return nil, outcome.Error
	}
	if outcome.Degraded {
		return nil, outcome.Cause
	}
	if err := Optimize(outcome.Qualified); err != nil {
		detail := optimizeError(err)
		return nil, &detail
	}
	types := []core.LineageType{lt}
	if lt != core.LineageAll {
		types = append(types, core.LineageAll)
	}
	graphs, failed := buildTypes(outcome.Qualified, catalog, self, deps, types)
	if err, ok := failed[lt]; ok {
		detail := buildError(err)
		return nil, &detail
	}
	return graphs[lt], nil
}

func optimizeError(err error) core.ErrorDetail {
	var panicErr *PanicError
	if errors.As(err, &panicErr) {
		return core.ErrorDetail{
			Kind:      core.ErrorKindMiscellaneous,
			Message:   panicErr.Error(),
			Traceback: string(panicErr.Stack),
		}
	}
	return core.ErrorDetail{Kind: core.ErrorKindOptimize, Message: err.Error()}
}

func buildError(err error) core.ErrorDetail {
	if errors.Is(err, ErrLineageCycle) {
		return core.ErrorDetail{Kind: core.ErrorKindCycle, Message: err.Error()}
	}
	return core.ErrorDetail{Kind: core.ErrorKindMiscellaneous, Message: err.Error()}
}

// intermediates returns the node keys of inner query blocks and table functions.
func (q *Qualified) intermediates() map[string]bool {
	keys := make(map[string]bool)
	for _, query := range q.Queries {
		if query != q.Root {
			keys[query.Key] = true
		}
		for _, c := range query.Cores {
			for _, fn := range c.Functions {
				keys[fn.Key] = true
			}
		}
	}
	return keys
}

// resourceIndex holds the lookups shared by every asset of one run. It is
// read-only once built.
type resourceIndex struct {
	assets  map[string]*core.Asset
	graph   *dag.Graph[struct{}]
	columns map[string][]*core.Column          // asset id -> ordered columns
	byName  map[string]map[string]*core.Column // asset id -> folded name -> column
	owners  map[string]*core.Asset             // folded table key -> asset
}

func newResourceIndex(in Input) *resourceIndex {
	idx := &resourceIndex{
		assets:  in.Assets,
		graph:   in.AssetGraph,
		columns: make(map[string][]*core.Column),
		byName:  make(map[string]map[string]*core.Column),
		owners:  make(map[string]*core.Asset),
	}
	for _, col := range in.Columns {
		idx.columns[col.AssetID] = append(idx.columns[col.AssetID], col)
		if idx.byName[col.AssetID] == nil {
			idx.byName[col.AssetID] = make(map[string]*core.Column)
		}
		idx.byName[col.AssetID][dialect.Fold(col.Name)] = col
	}
	for _, cols := range idx.columns {
		sort.Slice(cols, func(i, j int) bool {
			if cols[i].Position != cols[j].Position {
				return cols[i].Position < cols[j].Position
			}
			return cols[i].Name < cols[j].Name
		})
	}

	ids := make([]string, 0, len(in.Assets))
	for id := range in.Assets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		asset := in.Assets[id]
		key := dialect.Fold(idx.key(asset))
		if _, taken := idx.owners[key]; !taken {
			idx.owners[key] = asset
		}
	}
	return idx
}

// key is the table key an asset is referenced by in SQL.
func (idx *resourceIndex) key(asset *core.Asset) string {
	if len(asset.DBLocation) > 0 {
		return TableKey(asset.DBLocation...)
	}
	if u, err := urn.Parse(asset.ID); err == nil && u.IsDataset() {
		return u.Name()
	}
	return asset.Name
}

// dependencies returns the direct upstream assets that were resolved.
func (idx *resourceIndex) dependencies(asset *core.Asset) []*core.Asset {
	if idx.graph == nil || !idx.graph.HasNode(asset.ID) {
		return nil
	}
	var deps []*core.Asset
	for _, parent := range idx.graph.GetParents(asset.ID) {
		if dep, ok := idx.assets[parent]; ok && !dep.Placeholder {
			deps = append(deps, dep)
		}
	}
	return deps
}

func (idx *resourceIndex) catalog(asset *core.Asset, deps []*core.Asset) *Catalog {
	var db, schema string
	switch loc := asset.DBLocation; len(loc) {
	case 0, 1:
	case 2:
		schema = loc[0]
	default:
		db, schema = loc[len(loc)-3], loc[len(loc)-2]
	}

	catalog := NewCatalog(db, schema)
	for _, a := range append(deps, asset) {
		names := make([]string, 0, len(idx.columns[a.ID]))
		for _, col := range idx.columns[a.ID] {
			names = append(names, col.Name)
		}
		catalog.Add(idx.key(a), names)
	}
	return catalog
}

// columnID maps a lineage node to the id of the column it denotes.
func (idx *resourceIndex) columnID(node ColumnNode) (string, bool) {
	asset, ok := idx.owners[dialect.Fold(node.Table)]
	if !ok {
		return "", false
	}
	if col, ok := idx.byName[asset.ID][dialect.Fold(node.Column)]; ok {
		return col.ID, true
	}
	u, err := urn.Parse(asset.ID)
	if err != nil {
		return "", false
	}
	return urn.SchemaField(u, node.Column).String(), true
}

// merge adds one asset's lineage to the resource graph.
func (idx *resourceIndex) merge(g *dag.Graph[core.ColumnEdge], lin *Lineage, lt core.LineageType) {
	ids := make(map[string]string, len(lin.Nodes))
	for id, node := range lin.Nodes {
		if colID, ok := idx.columnID(node); ok {
			ids[id] = colID
			g.AddNode(colID)
		}
	}
	for _, edge := range lin.Graph.Edges() {
		src, okSrc := ids[edge.From]
		dst, okDst := ids[edge.To]
		if !okSrc || !okDst || src == dst {
			continue
		}
		payload := core.ColumnEdge{LineageType: lt, Connections: edge.Data}
		_ = g.MergeEdge(src, dst, payload, core.ColumnEdge.SameKey, core.ColumnEdge.Merge)
	}
}
