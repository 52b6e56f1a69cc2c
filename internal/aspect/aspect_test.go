package aspect_test

import (
	"errors"
	"testing"

	"github.com/leapstack-labs/metalineage/internal/aspect"
	"github.com/leapstack-labs/metalineage/internal/metadata"
	"github.com/leapstack-labs/metalineage/internal/testutil"
	"github.com/leapstack-labs/metalineage/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	dbtOrders = "urn:li:dataset:(urn:li:dataPlatform:dbt,analytics.public.orders,PROD)"
	pgOrders  = "urn:li:dataset:(urn:li:dataPlatform:postgres,analytics.public.orders,PROD)"
	pgUsers   = "urn:li:dataset:(urn:li:dataPlatform:postgres,analytics.public.users,PROD)"
	chart     = "urn:li:chart:(looker,dashboard_elements.1)"
	dashboard = "urn:li:dashboard:(looker,dashboards.7)"
)

var (
	warehouse = core.Resource{ID: "pg", WorkspaceID: "ws", Type: core.ResourceTypeDB, Subtype: "postgres"}
	bi        = core.Resource{ID: "looker", WorkspaceID: "ws", Type: core.ResourceTypeBI, Subtype: "looker"}
)

// newState groups rows given as urn, aspect, json triples and stubs the listed assets.
func newState(t *testing.T, res core.Resource, stubs []string, triples ...string) *aspect.State {
	t.Helper()
	require.Zero(t, len(triples)%3)
	var rows []metadata.Row
	for i := 0; i < len(triples); i += 3 {
		rows = append(rows, metadata.Row{URN: triples[i], Aspect: triples[i+1], Version: 1, Metadata: triples[i+2]})
	}
	st := aspect.NewState(res, metadata.Group(rows, nil), aspect.Options{Logger: testutil.NewTestLogger(t)})
	st.AddStubs(stubs)
	return st
}

func apply(t *testing.T, st *aspect.State, stages ...aspect.Stage) {
	t.Helper()
	require.NoError(t, aspect.Run(st, stages))
}

func TestDefaultStagesOrder(t *testing.T) {
	var names []string
	for _, s := range aspect.DefaultStages() {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{
		"ownership", "usage", "chart-info", "dashboard-info",
		"dataset-info", "schema", "lineage", "assertion",
	}, names)
}

type failingStage struct{ called *bool }

func (failingStage) Name() string { return "failing" }

func (s failingStage) Apply(*aspect.State) error {
	*s.called = true
	return errors.New("boom")
}

func TestRunStopsAtFirstError(t *testing.T) {
	first, second := false, false
	st := newState(t, warehouse, nil)
	err := aspect.Run(st, []aspect.Stage{failingStage{&first}, failingStage{&second}})
	require.ErrorContains(t, err, "aspect stage failing: boom")
	assert.True(t, first)
	assert.False(t, second)
}

func TestOwnershipStage(t *testing.T) {
	st := newState(t, warehouse, []string{dbtOrders},
		dbtOrders, "ownership", `{"owners":[{"owner":"urn:li:corpuser:ann"},{"owner":"urn:li:corpuser:bob"}]}`,
		dbtOrders, "ownership", `{"owners":[{"owner":"urn:li:corpuser:ann"},{"owner":"urn:li:corpGroup:data"}]}`,
		pgUsers, "ownership", `{"owners":[{"owner":"urn:li:corpuser:zed"}]}`,
	)
	apply(t, st, aspect.OwnershipStage{})

	assert.Equal(t, []string{"urn:li:corpuser:ann", "urn:li:corpuser:bob", "urn:li:corpGroup:data"},
		st.Assets[dbtOrders].Config.Owners)
	assert.NotContains(t, st.Assets, pgUsers)
}

func TestUsageStage(t *testing.T) {
	st := newState(t, bi, []string{chart, dashboard},
		chart, "chartUsageStatistics", `{"timestampMillis":200,"viewsCount":7}`,
		chart, "chartUsageStatistics", `{"timestampMillis":100,"viewsCount":3}`,
		chart, "chartUsageStatistics", `{"timestampMillis":300}`,
		dashboard, "dashboardUsageStatistics", `{"timestampMillis":"5","viewsCount":"12"}`,
	)
	apply(t, st, aspect.UsageStage{})

	require.NotNil(t, st.Assets[chart].Config.Views)
	assert.Equal(t, int64(7), *st.Assets[chart].Config.Views)
	require.NotNil(t, st.Assets[dashboard].Config.Views)
	assert.Equal(t, int64(12), *st.Assets[dashboard].Config.Views)
}

func TestChartAndDashboardInfo(t *testing.T) {
	untitled := "urn:li:chart:(looker,dashboard_elements.2)"
	st := newState(t, bi, []string{chart, untitled, dashboard},
		chart, "chartInfo", `{"title":"Revenue","description":"by day","externalUrl":"https://bi/1","inputs":[{"string":"`+pgOrders+`"}]}`,
		untitled, "chartInfo", `{"inputEdges":[{"destinationUrn":"`+pgUsers+`"}]}`,
		dashboard, "dashboardInfo", `{"title":"Sales","dashboardUrl":"https://bi/d/7","charts":["`+chart+`","`+untitled+`"]}`,
	)
	apply(t, st, aspect.ChartInfoStage{}, aspect.DashboardInfoStage{})

	c := st.Assets[chart]
	assert.Equal(t, core.AssetTypeChart, c.Type)
	assert.Equal(t, "Revenue", c.Name)
	assert.Equal(t, "by day", c.Description)
	assert.Equal(t, "https://bi/1", c.Config.URL)
	assert.Equal(t, "dashboard_elements.2", st.Assets[untitled].Name)

	d := st.Assets[dashboard]
	assert.Equal(t, core.AssetTypeDashboard, d.Type)
	assert.Equal(t, "https://bi/d/7", d.Config.URL)

	assert.True(t, st.AssetGraph.HasEdge(pgOrders, chart))
	assert.True(t, st.AssetGraph.HasEdge(pgUsers, untitled))
	assert.Equal(t, []string{chart, untitled}, st.AssetGraph.GetParents(dashboard))
}

func TestGetMaterialization(t *testing.T) {
	tests := []struct {
		declared     string
		isView       bool
		materialized bool
		want         core.Materialization
		incremental  bool
	}{
		{"view", false, false, core.MaterializationView, false},
		{"table", true, false, core.MaterializationTable, false},
		{"seed", false, false, core.MaterializationTable, false},
		{"incremental", false, false, core.MaterializationTable, true},
		{"materialized_view", false, false, core.MaterializationMaterializedView, false},
		{"ephemeral", false, false, core.MaterializationEphemeral, false},
		{"", true, false, core.MaterializationView, false},
		{"", true, true, core.MaterializationMaterializedView, false},
		{"", false, false, core.MaterializationTable, false},
		{"snapshot", false, true, core.MaterializationMaterializedView, false},
	}
	for _, tt := range tests {
		t.Run(tt.declared, func(t *testing.T) {
			m, incremental := aspect.GetMaterialization(tt.declared, tt.isView, tt.materialized)
			assert.Equal(t, tt.want, m)
			assert.Equal(t, tt.incremental, incremental)
		})
	}
}

func TestDatasetInfoPrefersTransformationTool(t *testing.T) {
	st := newState(t, warehouse, []string{dbtOrders},
		dbtOrders, "datasetProperties", `{"name":"orders","customProperties":{"materialization":"table","node_type":"model","dbt_unique_id":"model.shop.orders"}}`,
		pgOrders, "datasetProperties", `{"name":"orders_pg","description":"raw orders","qualifiedName":"analytics.public.orders","customProperties":{"is_view":"False"}}`,
		pgOrders, "globalTags", `{"tags":[{"tag":"urn:li:tag:pii"}]}`,
	)
	apply(t, st, aspect.DatasetInfoStage{})

	a := st.Assets[dbtOrders]
	assert.Equal(t, "orders", a.Name)
	assert.Equal(t, "raw orders", a.Description)
	assert.Equal(t, core.AssetTypeModel, a.Type)
	assert.Equal(t, "model.shop.orders", a.UniqueName)
	assert.Equal(t, core.MaterializationTable, a.Materialization)
	require.NotNil(t, a.Config.Incremental)
	assert.False(t, *a.Config.Incremental)
	assert.Equal(t, []string{"analytics", "public", "orders"}, a.DBLocation)
	assert.Equal(t, []string{"pii"}, a.Tags)
}

func TestDatasetInfoWarehouseOnly(t *testing.T) {
	st := newState(t, warehouse, []string{pgOrders},
		pgOrders, "datasetProperties", `{"qualifiedName":"analytics.public.orders"}`,
		pgOrders, "viewProperties", `{"materialized":false,"viewLogic":"select 1 as a"}`,
		pgOrders, "editableDatasetProperties", `{"description":"curated"}`,
	)
	apply(t, st, aspect.DatasetInfoStage{})

	a := st.Assets[pgOrders]
	assert.Equal(t, "orders", a.Name)
	assert.Equal(t, "curated", a.Description)
	assert.Equal(t, core.AssetTypeDataset, a.Type)
	assert.Equal(t, "analytics.public.orders", a.UniqueName)
	assert.Equal(t, core.MaterializationView, a.Materialization)
	assert.Nil(t, a.Config.Incremental)
	assert.Equal(t, "select 1 as a", a.SQL)
}

func TestDatasetInfoSQLPrecedence(t *testing.T) {
	tests := []struct {
		name            string
		materialization string
		want            string
	}{
		{"incremental uses warehouse sql", "incremental", "select * from warehouse"},
		{"table uses compiled sql", "table", "select * from compiled"},
		{"ephemeral uses compiled sql", "ephemeral", "select * from compiled"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newState(t, warehouse, []string{dbtOrders},
				dbtOrders, "datasetProperties", `{"customProperties":{"materialization":"`+tt.materialization+`"}}`,
				dbtOrders, "viewProperties", `{"viewLogic":"select * from compiled"}`,
				pgOrders, "viewProperties", `{"viewLogic":"select * from warehouse"}`,
			)
			apply(t, st, aspect.DatasetInfoStage{})
			assert.Equal(t, tt.want, st.Assets[dbtOrders].SQL)
		})
	}
}

func TestSchemaStageTypePrecedence(t *testing.T) {
	st := newState(t, warehouse, []string{dbtOrders},
		dbtOrders, "schemaMetadata", `{"fields":[
			{"fieldPath":"id","nativeDataType":"integer","nullable":false,"description":"pk"},
			{"fieldPath":"[version=2.0].[type=struct].payload.kind","nativeDataType":"text"}]}`,
		pgOrders, "schemaMetadata", `{"fields":[
			{"fieldPath":"id","nativeDataType":"BIGINT","nullable":true,"description":"warehouse"},
			{"fieldPath":"created_at","nativeDataType":"TIMESTAMP"}]}`,
	)
	apply(t, st, aspect.DatasetInfoStage{}, aspect.SchemaStage{})

	require.Len(t, st.Columns, 3)
	id := st.Columns["urn:li:schemaField:("+dbtOrders+",id)"]
	require.NotNil(t, id)
	assert.Equal(t, "BIGINT", id.Type)
	assert.False(t, id.Nullable)
	assert.Equal(t, "pk", id.Description)
	assert.Equal(t, dbtOrders, id.AssetID)
	assert.Equal(t, "ws", id.WorkspaceID)

	nested := st.Columns["urn:li:schemaField:("+dbtOrders+",payload.kind)"]
	require.NotNil(t, nested)
	assert.Equal(t, "payload.kind", nested.Name)
	assert.Equal(t, 1, nested.Position)

	assert.Contains(t, st.Columns, "urn:li:schemaField:("+dbtOrders+",created_at)")
}

func TestLineageStage(t *testing.T) {
	fine := `{"upstreams":{"dataset":"` + pgUsers + `"},"fineGrainedLineages":[{
		"upstreams":["urn:li:schemaField:(` + pgUsers + `,id)"],
		"downstreams":["urn:li:schemaField:(` + pgOrders + `,user_id)"],
		"confidenceScore":0.9}]}`

	t.Run("warehouse ignores fine grained lineage", func(t *testing.T) {
		st := newState(t, warehouse, []string{pgOrders}, pgOrders, "upstreamLineage", fine)
		apply(t, st, aspect.LineageStage{})
		assert.True(t, st.AssetGraph.HasEdge(pgUsers, pgOrders))
		assert.Zero(t, st.ColumnGraph.EdgeCount())
	})

	t.Run("bi keeps fine grained lineage", func(t *testing.T) {
		st := newState(t, bi, []string{pgOrders}, pgOrders, "upstreamLineage", fine)
		apply(t, st, aspect.LineageStage{})
		edges := st.ColumnGraph.EdgesBetween(
			"urn:li:schemaField:("+pgUsers+",id)",
			"urn:li:schemaField:("+pgOrders+",user_id)")
		require.Len(t, edges, len(core.LineageTypes))
		for _, e := range edges {
			assert.True(t, e.HasConfidence)
			assert.InDelta(t, 0.9, e.Confidence, 1e-9)
		}
	})

	t.Run("list shape and excluded upstreams", func(t *testing.T) {
		st := newState(t, warehouse, []string{pgOrders}, pgOrders, "upstreamLineage",
			`{"upstreams":[{"dataset":"`+pgUsers+`"},{"dataset":"urn:li:container:abc"}]}`)
		apply(t, st, aspect.LineageStage{})
		assert.Equal(t, []string{pgUsers}, st.AssetGraph.GetParents(pgOrders))
	})
}

func TestAssertionStage(t *testing.T) {
	column := func(dataset, field string) string { return "urn:li:schemaField:(" + dataset + "," + field + ")" }
	schema := `{"fields":[{"fieldPath":"id","nativeDataType":"int"}]}`

	t.Run("column and asset scoped", func(t *testing.T) {
		st := newState(t, warehouse, []string{dbtOrders},
			dbtOrders, "schemaMetadata", schema,
			"urn:li:assertion:a1", "assertionInfo", `{"type":"DATASET","datasetAssertion":{"dataset":"`+dbtOrders+`","scope":"DATASET_COLUMN","fields":["`+column(dbtOrders, "id")+`"],"nativeType":"not_null"}}`,
			"urn:li:assertion:a2", "assertionInfo", `{"type":"DATASET","datasetAssertion":{"dataset":"`+dbtOrders+`","scope":"DATASET_ROWS","nativeType":"row_count"}}`,
		)
		apply(t, st, aspect.SchemaStage{}, aspect.AssertionStage{})
		assert.Equal(t, []string{"not_null"}, st.Columns[column(dbtOrders, "id")].Tests)
		assert.Equal(t, []string{"row_count"}, st.Assets[dbtOrders].Tests)
	})

	t.Run("resolves sibling platform", func(t *testing.T) {
		st := newState(t, warehouse, []string{dbtOrders},
			dbtOrders, "schemaMetadata", schema,
			"urn:li:assertion:a1", "assertionInfo", `{"datasetAssertion":{"dataset":"`+pgOrders+`","scope":"DATASET_COLUMN","fields":["`+column(pgOrders, "id")+`"],"nativeType":"unique"}}`,
		)
		apply(t, st, aspect.SchemaStage{}, aspect.AssertionStage{})
		assert.Equal(t, []string{"unique"}, st.Columns[column(dbtOrders, "id")].Tests)
	})

	t.Run("unknown dataset is fatal", func(t *testing.T) {
		st := newState(t, warehouse, []string{dbtOrders},
			"urn:li:assertion:a1", "assertionInfo", `{"datasetAssertion":{"dataset":"`+pgUsers+`","nativeType":"unique"}}`,
		)
		err := aspect.Run(st, []aspect.Stage{aspect.AssertionStage{}})
		var lookup *aspect.LookupError
		require.ErrorAs(t, err, &lookup)
		assert.Equal(t, pgUsers, lookup.Dataset)
		assert.Equal(t, "urn:li:assertion:a1", lookup.Assertion)
	})
}

func TestSiblingsMatchAcrossNameCase(t *testing.T) {
	const upperOrders = "urn:li:dataset:(urn:li:dataPlatform:postgres,ANALYTICS.PUBLIC.ORDERS,PROD)"
	column := func(dataset, field string) string { return "urn:li:schemaField:(" + dataset + "," + field + ")" }

	st := newState(t, warehouse, []string{dbtOrders},
		dbtOrders, "schemaMetadata", `{"fields":[{"fieldPath":"id","nativeDataType":"integer"}]}`,
		dbtOrders, "datasetProperties", `{"name":"orders","customProperties":{"materialization":"view"}}`,
		upperOrders, "schemaMetadata", `{"fields":[{"fieldPath":"id","nativeDataType":"INT4"}]}`,
		upperOrders, "viewProperties", `{"materialized":false,"viewLogic":"select id from raw_orders"}`,
		"urn:li:assertion:a1", "assertionInfo", `{"datasetAssertion":{"dataset":"`+upperOrders+`","scope":"DATASET_COLUMN","fields":["`+column(upperOrders, "id")+`"],"nativeType":"unique"}}`,
	)
	apply(t, st, aspect.DatasetInfoStage{}, aspect.SchemaStage{}, aspect.AssertionStage{})

	asset := st.Assets[dbtOrders]
	assert.Equal(t, "select id from raw_orders", asset.SQL)
	col := st.Columns[column(dbtOrders, "id")]
	require.NotNil(t, col)
	assert.Equal(t, "INT4", col.Type)
	assert.Equal(t, []string{"unique"}, col.Tests)
	assert.NotContains(t, st.Assets, upperOrders)
}
