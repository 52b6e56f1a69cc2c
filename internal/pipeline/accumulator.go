package pipeline

import (
	"fmt"
	"sort"

	"github.com/leapstack-labs/metalineage/internal/dag"
	"github.com/leapstack-labs/metalineage/pkg/core"
	"github.com/leapstack-labs/metalineage/pkg/urn"
)

// Accumulator combines resource results. Links are only flattened in Plan, once
// every resource has been added, so edges spanning two resources are kept.
type Accumulator struct {
	transformationPlatform string
	reconcile              bool

	resources   []string
	workspaceID string
	assets      map[string]*core.Asset
	columns     map[string]*core.Column
	assetGraph  *dag.Graph[struct{}]
	columnGraph *dag.Graph[core.ColumnEdge]
	errors      []core.AssetError
}

// NewAccumulator creates an empty accumulator.
func NewAccumulator(opts Options) *Accumulator {
	opts = opts.withDefaults()
	return &Accumulator{
		transformationPlatform: opts.TransformationPlatform,
		reconcile:              opts.Reconcile,
		assets:                 make(map[string]*core.Asset),
		columns:                make(map[string]*core.Column),
		assetGraph:             dag.NewGraph[struct{}](),
		columnGraph:            dag.NewGraph[core.ColumnEdge](),
	}
}

// Add merges one resource result. On id collisions the later result wins.
func (a *Accumulator) Add(r *Result) {
	a.resources = append(a.resources, r.Resource.ID)
	if a.workspaceID == "" {
		a.workspaceID = r.Resource.WorkspaceID
	}
	for id, asset := range r.Assets {
		a.assets[id] = asset
	}
	for id, col := range r.Columns {
		a.columns[id] = col
	}
	a.assetGraph.Union(r.AssetGraph)
	for _, e := range r.ColumnGraph.Edges() {
		_ = a.columnGraph.MergeEdge(e.From, e.To, e.Data, core.ColumnEdge.SameKey, core.ColumnEdge.Merge)
	}
	for _, id := range r.ColumnGraph.Nodes() {
		a.columnGraph.AddNode(id)
	}
	a.errors = append(a.errors, r.Errors...)
}

// Plan flattens the combined graphs into link records.
func (a *Accumulator) Plan() (*Plan, error) {
	if a.reconcile {
		if err := contractAssets(a.assetGraph, a.assets, a.columns, a.transformationPlatform); err != nil {
			return nil, fmt.Errorf("reconcile resources: %w", err)
		}
	}

	p := &Plan{
		ResourceIDs: append([]string(nil), a.resources...),
		WorkspaceID: a.workspaceID,
		Errors:      append([]core.AssetError(nil), a.errors...),
	}
	for _, id := range sortedKeys(a.assets) {
		p.Assets = append(p.Assets, *a.assets[id])
	}
	for _, id := range sortedKeys(a.columns) {
		p.Columns = append(p.Columns, *a.columns[id])
	}
	p.index()

	for _, e := range a.assetGraph.Edges() {
		p.AssetLinks = append(p.AssetLinks, core.AssetLink{
			ID:          AssetLinkID(e.From, e.To),
			SourceID:    e.From,
			TargetID:    e.To,
			WorkspaceID: p.workspaceOf(e.To, e.From),
		})
	}
	for _, e := range a.columnGraph.Edges() {
		link := core.ColumnLink{
			ID:              ColumnLinkID(e.From, e.To, e.Data.LineageType),
			SourceID:        e.From,
			TargetID:        e.To,
			LineageType:     e.Data.LineageType,
			ConnectionTypes: sortedConnections(e.Data.Connections),
			WorkspaceID:     p.workspaceOf(e.To, e.From),
		}
		if e.Data.HasConfidence {
			c := e.Data.Confidence
			link.Confidence = &c
		}
		p.ColumnLinks = append(p.ColumnLinks, link)
	}
	return p, nil
}

// AssetLinkID is the deterministic id of an asset link.
func AssetLinkID(source, target string) string {
	return source + "_" + target
}

// ColumnLinkID is the deterministic id of a column link.
func ColumnLinkID(source, target string, lt core.LineageType) string {
	return source + "_" + target + "_" + string(lt)
}

func sortedConnections(c core.Connections) []core.ConnectionType {
	types := c.Types()
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Plan is the full output of a combined run, ready to be written.
type Plan struct {
	ResourceIDs []string          `json:"resource_ids" yaml:"resource_ids"`
	WorkspaceID string            `json:"workspace_id" yaml:"workspace_id"`
	Assets      []core.Asset      `json:"assets" yaml:"assets"`
	Columns     []core.Column     `json:"columns" yaml:"columns"`
	AssetLinks  []core.AssetLink  `json:"asset_links" yaml:"asset_links"`
	ColumnLinks []core.ColumnLink `json:"column_links" yaml:"column_links"`
	Errors      []core.AssetError `json:"asset_errors" yaml:"asset_errors"`

	assetIndex  map[string]core.Asset
	columnIndex map[string]core.Column
}

func (p *Plan) index() {
	p.assetIndex = make(map[string]core.Asset, len(p.Assets))
	for _, a := range p.Assets {
		p.assetIndex[a.ID] = a
	}
	p.columnIndex = make(map[string]core.Column, len(p.Columns))
	for _, c := range p.Columns {
		p.columnIndex[c.ID] = c
	}
}

func (p *Plan) ensureIndex() {
	if p.assetIndex == nil || p.columnIndex == nil {
		p.index()
	}
}

// ResourceOf returns the resource owning an asset or column id, or "" if the
// id is not part of the plan.
func (p *Plan) ResourceOf(id string) string {
	p.ensureIndex()
	if a, ok := p.assetIndex[id]; ok {
		return a.ResourceID
	}
	if c, ok := p.columnIndex[id]; ok {
		return p.assetIndex[c.AssetID].ResourceID
	}
	return ""
}

// LinkResource returns the resource a link is scoped to: its target's resource,
// or its source's when the target is not in the plan.
func (p *Plan) LinkResource(source, target string) string {
	if r := p.ResourceOf(target); r != "" {
		return r
	}
	if r := p.ResourceOf(source); r != "" {
		return r
	}
	if len(p.ResourceIDs) > 0 {
		return p.ResourceIDs[0]
	}
	return ""
}

func (p *Plan) workspaceOf(ids ...string) string {
	p.ensureIndex()
	for _, id := range ids {
		if a, ok := p.assetIndex[id]; ok && a.WorkspaceID != "" {
			return a.WorkspaceID
		}
		if c, ok := p.columnIndex[id]; ok && c.WorkspaceID != "" {
			return c.WorkspaceID
		}
	}
	return p.WorkspaceID
}

// Placeholders returns bare assets and columns for every link endpoint missing
// from the plan, plus the assets owning those columns. They are owned by the
// resource of the link that needs them.
func (p *Plan) Placeholders() ([]core.Asset, []core.Column) {
	p.ensureIndex()
	assets := make(map[string]core.Asset)
	columns := make(map[string]core.Column)

	addAsset := func(id, resource, workspace string) {
		if _, ok := p.assetIndex[id]; ok {
			return
		}
		if _, ok := assets[id]; ok {
			return
		}
		assets[id] = placeholderAsset(id, resource, workspace)
	}

	for _, l := range p.AssetLinks {
		resource := p.LinkResource(l.SourceID, l.TargetID)
		addAsset(l.SourceID, resource, l.WorkspaceID)
		addAsset(l.TargetID, resource, l.WorkspaceID)
	}
	for _, l := range p.ColumnLinks {
		resource := p.LinkResource(l.SourceID, l.TargetID)
		for _, id := range []string{l.SourceID, l.TargetID} {
			if _, ok := p.columnIndex[id]; ok {
				continue
			}
			if _, ok := columns[id]; ok {
				continue
			}
			col := placeholderColumn(id, l.WorkspaceID)
			columns[id] = col
			addAsset(col.AssetID, resource, l.WorkspaceID)
		}
	}
	for _, c := range p.Columns {
		addAsset(c.AssetID, p.LinkResource("", c.AssetID), c.WorkspaceID)
	}

	outAssets := make([]core.Asset, 0, len(assets))
	for _, id := range sortedKeys(assets) {
		outAssets = append(outAssets, assets[id])
	}
	outColumns := make([]core.Column, 0, len(columns))
	for _, id := range sortedKeys(columns) {
		outColumns = append(outColumns, columns[id])
	}
	return outAssets, outColumns
}

func placeholderAsset(id, resource, workspace string) core.Asset {
	a := core.Asset{
		ID:          id,
		Type:        core.AssetTypeDataset,
		ResourceID:  resource,
		WorkspaceID: workspace,
		Placeholder: true,
	}
	if u, err := urn.Parse(id); err == nil {
		a.Name = u.Name()
		switch u.Kind() {
		case urn.KindChart:
			a.Type = core.AssetTypeChart
		case urn.KindDashboard:
			a.Type = core.AssetTypeDashboard
		}
	}
	if a.Name == "" {
		a.Name = id
	}
	return a
}

func placeholderColumn(id, workspace string) core.Column {
	col := core.Column{ID: id, Name: id, WorkspaceID: workspace, Nullable: true, Placeholder: true}
	if u, err := urn.Parse(id); err == nil && u.Kind() == urn.KindSchemaField {
		parent, _ := u.Parent()
		col.AssetID = parent.String()
		col.Name = u.FieldPath()
		return col
	}
	// Not a schema field: hang the column off a synthetic asset named after it.
	col.AssetID = id
	return col
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
