// Package pipeline runs the per-resource parser and combines resource results
// into an upsert plan.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/leapstack-labs/metalineage/internal/aspect"
	"github.com/leapstack-labs/metalineage/internal/cll"
	"github.com/leapstack-labs/metalineage/internal/dag"
	"github.com/leapstack-labs/metalineage/internal/dedup"
	"github.com/leapstack-labs/metalineage/internal/metadata"
	"github.com/leapstack-labs/metalineage/pkg/core"
	"github.com/leapstack-labs/metalineage/pkg/urn"
)

// Options configures the pipeline.
type Options struct {
	// TransformationPlatform is the platform preferred when deduplicating. Defaults to dbt.
	TransformationPlatform string
	// Workers bounds how many resources are parsed at once.
	Workers int
	// AssetWorkers bounds how many assets of one resource are analysed at once.
	AssetWorkers       int
	LineageTypes       []core.LineageType
	MaxQualifyAttempts int
	// ContractColumns also deduplicates the column graph.
	ContractColumns bool
	// Reconcile deduplicates assets across resources when building the plan.
	Reconcile bool
	// Stages overrides aspect.DefaultStages.
	Stages []aspect.Stage
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.TransformationPlatform == "" {
		o.TransformationPlatform = aspect.DefaultTransformationPlatform
	}
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if len(o.LineageTypes) == 0 {
		o.LineageTypes = core.LineageTypes
	}
	if o.Stages == nil {
		o.Stages = aspect.DefaultStages()
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	return o
}

// Result is everything one resource contributes to the plan.
type Result struct {
	Resource    core.Resource
	Assets      map[string]*core.Asset
	Columns     map[string]*core.Column
	AssetGraph  *dag.Graph[struct{}]
	ColumnGraph *dag.Graph[core.ColumnEdge]
	Errors      []core.AssetError
}

// ResourceParser turns the metadata of one resource into a Result.
// It owns its state; a parser must not be shared between goroutines.
type ResourceParser struct {
	resource core.Resource
	reader   metadata.Reader
	opts     Options
	logger   *slog.Logger
}

// NewResourceParser creates a parser for resource reading rows from reader.
func NewResourceParser(resource core.Resource, reader metadata.Reader, opts Options) *ResourceParser {
	opts = opts.withDefaults()
	return &ResourceParser{
		resource: resource,
		reader:   reader,
		opts:     opts,
		logger:   opts.Logger.With("resource", resource.ID),
	}
}

// Parse reads, groups and resolves the resource. Snapshot read failures, assertion
// lookup failures and contraction failures are returned; per-asset SQL failures
// end up in Result.Errors.
func (p *ResourceParser) Parse(ctx context.Context) (*Result, error) {
	rows, err := p.reader.ReadRows(ctx)
	if err != nil {
		return nil, fmt.Errorf("read resource %s: %w", p.resource.ID, err)
	}
	dict := metadata.Group(rows, p.logger)

	var stubs []string
	for _, id := range dict.IDs() {
		if metadata.Stubbable(id) {
			stubs = append(stubs, id)
		}
	}
	if p.resource.IsDB() {
		stubs = dedup.KeepFirst(stubs, dedup.BasePriority(p.opts.TransformationPlatform))
	}

	st := aspect.NewState(p.resource, dict, aspect.Options{
		TransformationPlatform: p.opts.TransformationPlatform,
		Logger:                 p.logger,
	})
	st.AddStubs(stubs)
	if err := aspect.Run(st, p.opts.Stages); err != nil {
		return nil, fmt.Errorf("resource %s: %w", p.resource.ID, err)
	}

	if err := contractAssets(st.AssetGraph, st.Assets, st.Columns, p.opts.TransformationPlatform); err != nil {
		return nil, fmt.Errorf("resource %s: %w", p.resource.ID, err)
	}
	if p.opts.ContractColumns {
		ids := append(st.ColumnGraph.Nodes(), sortedKeys(st.Columns)...)
		groups := dedup.Groups(ids, dedup.PresencePriority(st.Columns))
		if _, err := dedup.ContractGraph(st.ColumnGraph, groups); err != nil {
			return nil, fmt.Errorf("resource %s: column graph: %w", p.resource.ID, err)
		}
	}

	res := &Result{
		Resource:    p.resource,
		Assets:      st.Assets,
		Columns:     st.Columns,
		AssetGraph:  st.AssetGraph,
		ColumnGraph: st.ColumnGraph,
	}

	if p.resource.IsDB() {
		engine := cll.NewEngine(cll.Options{
			Workers:      p.opts.AssetWorkers,
			MaxAttempts:  p.opts.MaxQualifyAttempts,
			LineageTypes: p.opts.LineageTypes,
		}, p.logger)
		lineage, err := engine.Run(ctx, cll.Input{
			Resource:   p.resource,
			Assets:     st.Assets,
			Columns:    st.Columns,
			AssetGraph: st.AssetGraph,
		})
		if err != nil {
			return nil, err
		}
		res.ColumnGraph.Union(lineage.Graph)
		res.Errors = lineage.Errors
	}

	p.logger.Info("parsed resource",
		"assets", len(res.Assets),
		"columns", len(res.Columns),
		"asset_edges", res.AssetGraph.EdgeCount(),
		"column_edges", res.ColumnGraph.EdgeCount(),
		"errors", len(res.Errors))
	return res, nil
}

// contractAssets merges duplicate dataset nodes of the asset graph into the
// variant that is a materialized asset, falling back to the transformation
// platform's variant. Contracted assets are removed and their columns moved.
func contractAssets(g *dag.Graph[struct{}], assets map[string]*core.Asset, columns map[string]*core.Column, platform string) error {
	groups := dedup.Groups(g.Nodes(), dedup.PresencePriority(assets), dedup.BasePriority(platform))
	done, err := dedup.ContractGraph(g, groups)
	if err != nil {
		return err
	}
	for _, c := range done {
		absorb(assets, columns, c.Keep, c.Drop)
	}
	return nil
}

// absorb removes asset drop in favour of keep. Columns of drop move to keep
// unless keep already has a column with the same name.
func absorb(assets map[string]*core.Asset, columns map[string]*core.Column, keep, drop string) {
	if _, ok := assets[drop]; !ok {
		return
	}
	delete(assets, drop)
	if _, ok := assets[keep]; !ok {
		return
	}
	keepUrn, err := urn.Parse(keep)
	if err != nil || !keepUrn.IsDataset() {
		return
	}

	for id, col := range columns {
		if col.AssetID != drop {
			continue
		}
		delete(columns, id)
		moved := urn.SchemaField(keepUrn, col.Name).String()
		if _, exists := columns[moved]; exists {
			continue
		}
		col.ID = moved
		col.AssetID = keep
		columns[moved] = col
	}
}
