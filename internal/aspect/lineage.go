package aspect

import (
	"github.com/leapstack-labs/metalineage/pkg/core"
)

type upstreamLineageAspect struct {
	Upstreams           any `mapstructure:"upstreams"`
	FineGrainedLineages any `mapstructure:"fineGrainedLineages"`
}

type fineGrainedLineage struct {
	Upstreams       any      `mapstructure:"upstreams"`
	Downstreams     any      `mapstructure:"downstreams"`
	ConfidenceScore *float64 `mapstructure:"confidenceScore"`
}

// LineageStage adds table-level upstream edges. Reported column-level lineage is
// only used for non-warehouse resources; warehouses derive theirs from SQL.
type LineageStage struct{}

// Name implements Stage.
func (LineageStage) Name() string { return "lineage" }

// Apply implements Stage.
func (LineageStage) Apply(st *State) error {
	for _, id := range st.Rows.WithAspect(AspectUpstreamLineage) {
		for _, l := range decodeAll[upstreamLineageAspect](st, id, AspectUpstreamLineage) {
			for _, up := range urnsOf(l.Upstreams) {
				st.link(up, id)
			}
			if st.Resource.IsDB() {
				continue
			}
			for _, raw := range asList(l.FineGrainedLineages) {
				m, ok := raw.(map[string]any)
				if !ok {
					continue
				}
				var fg fineGrainedLineage
				if err := decode(m, &fg); err != nil {
					st.Logger.Warn("skipping fine grained lineage", "urn", id, "error", err)
					continue
				}
				st.linkColumns(fg)
			}
		}
	}
	return nil
}

func (st *State) linkColumns(fg fineGrainedLineage) {
	edge := core.ColumnEdge{Connections: core.NewConnections(core.ConnectionTransform)}
	if fg.ConfidenceScore != nil {
		edge.Confidence = *fg.ConfidenceScore
		edge.HasConfidence = true
	}
	for _, up := range urnsOf(fg.Upstreams) {
		for _, down := range urnsOf(fg.Downstreams) {
			if up == down {
				continue
			}
			for _, lt := range core.LineageTypes {
				e := edge
				e.LineageType = lt
				_ = st.ColumnGraph.MergeEdge(up, down, e, core.ColumnEdge.SameKey, core.ColumnEdge.Merge)
			}
		}
	}
}
