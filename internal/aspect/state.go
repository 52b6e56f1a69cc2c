// Package aspect turns grouped metadata rows into typed assets, columns and graphs.
//
// Stages run in a fixed order over a shared State. Later stages rely on fields set
// by earlier ones, e.g. schema parsing expects dataset-info to have set DBLocation.
package aspect

import (
	"fmt"
	"log/slog"

	"github.com/leapstack-labs/metalineage/internal/dag"
	"github.com/leapstack-labs/metalineage/internal/metadata"
	"github.com/leapstack-labs/metalineage/pkg/core"
	"github.com/leapstack-labs/metalineage/pkg/urn"
)

// DefaultTransformationPlatform is the platform of the transformation tool (dbt).
const DefaultTransformationPlatform = "dbt"

// Aspect names read by the stages.
const (
	AspectOwnership            = "ownership"
	AspectChartUsage           = "chartUsageStatistics"
	AspectDashboardUsage       = "dashboardUsageStatistics"
	AspectChartInfo            = "chartInfo"
	AspectDashboardInfo        = "dashboardInfo"
	AspectDatasetProperties    = "datasetProperties"
	AspectEditableDatasetProps = "editableDatasetProperties"
	AspectViewProperties       = "viewProperties"
	AspectGlobalTags           = "globalTags"
	AspectSchemaMetadata       = "schemaMetadata"
	AspectUpstreamLineage      = "upstreamLineage"
	AspectAssertionInfo        = "assertionInfo"
)

// Options configures a State.
type Options struct {
	// TransformationPlatform names the transformation tool's platform. Defaults to dbt.
	TransformationPlatform string
	Logger                 *slog.Logger
}

// State is the shared working set threaded through the stages of one resource.
type State struct {
	Rows        metadata.RowDict
	Assets      map[string]*core.Asset
	Columns     map[string]*core.Column
	AssetGraph  *dag.Graph[struct{}]
	ColumnGraph *dag.Graph[core.ColumnEdge]
	Resource    core.Resource

	TransformationPlatform string
	Logger                 *slog.Logger

	byKey map[string][]urn.Urn
}

// NewState creates an empty state for resource over rows.
func NewState(resource core.Resource, rows metadata.RowDict, opts Options) *State {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.TransformationPlatform == "" {
		opts.TransformationPlatform = DefaultTransformationPlatform
	}
	if rows == nil {
		rows = make(metadata.RowDict)
	}
	return &State{
		Rows:                   rows,
		Assets:                 make(map[string]*core.Asset),
		Columns:                make(map[string]*core.Column),
		AssetGraph:             dag.NewGraph[struct{}](),
		ColumnGraph:            dag.NewGraph[core.ColumnEdge](),
		Resource:               resource,
		TransformationPlatform: opts.TransformationPlatform,
		Logger:                 opts.Logger.With("resource", resource.ID),
	}
}

// AddStubs creates a bare asset per id. Ids already present are left alone.
func (st *State) AddStubs(ids []string) {
	st.byKey = nil
	for _, id := range ids {
		if _, ok := st.Assets[id]; ok {
			continue
		}
		u, err := urn.Parse(id)
		if err != nil {
			continue
		}
		st.Assets[id] = &core.Asset{
			ID:          id,
			Type:        stubType(u),
			ResourceID:  st.Resource.ID,
			WorkspaceID: st.Resource.WorkspaceID,
		}
		st.AssetGraph.AddNode(id)
	}
}

func stubType(u urn.Urn) core.AssetType {
	switch u.Kind() {
	case urn.KindChart:
		return core.AssetTypeChart
	case urn.KindDashboard:
		return core.AssetTypeDashboard
	}
	return core.AssetTypeDataset
}

// link adds an asset graph edge from upstream to downstream, ignoring excluded
// namespaces and self references.
func (st *State) link(upstream, downstream string) {
	if upstream == "" || downstream == "" || upstream == downstream {
		return
	}
	for _, id := range []string{upstream, downstream} {
		u, err := urn.Parse(id)
		if err != nil || u.Excluded() {
			st.Logger.Debug("skipping edge endpoint", "urn", id)
			return
		}
	}
	_ = st.AssetGraph.Link(upstream, downstream, struct{}{})
}

// assetsOfKind returns the ids of assets whose urn has the given kind.
func (st *State) assetsOfKind(kind urn.Kind) []urn.Urn {
	var out []urn.Urn
	for _, id := range sortedIDs(st.Assets) {
		u, err := urn.Parse(id)
		if err != nil || u.Kind() != kind {
			continue
		}
		out = append(out, u)
	}
	return out
}

// Stage is one aspect transformer.
type Stage interface {
	Name() string
	Apply(st *State) error
}

// DefaultStages returns the stages in the order they must run.
func DefaultStages() []Stage {
	return []Stage{
		OwnershipStage{},
		UsageStage{},
		ChartInfoStage{},
		DashboardInfoStage{},
		DatasetInfoStage{},
		SchemaStage{},
		LineageStage{},
		AssertionStage{},
	}
}

// Run applies stages in order and stops at the first error.
func Run(st *State, stages []Stage) error {
	for _, stage := range stages {
		st.Logger.Debug("applying aspect stage", "stage", stage.Name())
		if err := stage.Apply(st); err != nil {
			return fmt.Errorf("aspect stage %s: %w", stage.Name(), err)
		}
	}
	return nil
}

// LookupError reports an assertion whose dataset has no matching asset.
type LookupError struct {
	Assertion string
	Dataset   string
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("assertion %s: no asset matches dataset %s", e.Assertion, e.Dataset)
}
