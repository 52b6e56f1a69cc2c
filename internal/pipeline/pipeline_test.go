package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/leapstack-labs/metalineage/internal/aspect"
	"github.com/leapstack-labs/metalineage/internal/metadata"
	"github.com/leapstack-labs/metalineage/internal/pipeline"
	"github.com/leapstack-labs/metalineage/internal/testutil"
	"github.com/leapstack-labs/metalineage/pkg/core"
	"github.com/leapstack-labs/metalineage/pkg/urn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	warehouse = core.Resource{ID: "pg", WorkspaceID: "ws", Type: core.ResourceTypeDB, Subtype: "postgres"}
	looker    = core.Resource{ID: "looker", WorkspaceID: "ws", Type: core.ResourceTypeBI, Subtype: "looker"}
)

func dataset(platform, table string) string {
	return urn.Dataset(platform, "analytics.public."+table, "PROD").String()
}

func field(dataset, path string) string {
	return urn.SchemaField(urn.MustParse(dataset), path).String()
}

// rows builds raw rows; payloads are marshalled to JSON.
type rows []metadata.Row

func (r *rows) add(id, aspect string, payload any) *rows {
	b, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	*r = append(*r, metadata.Row{URN: id, Aspect: aspect, Version: 1, Metadata: string(b)})
	return r
}

func schema(columns ...string) map[string]any {
	var fields []any
	for _, c := range columns {
		fields = append(fields, map[string]any{"fieldPath": c, "nativeDataType": "int"})
	}
	return map[string]any{"fields": fields}
}

func parse(t *testing.T, res core.Resource, r rows, opts pipeline.Options) *pipeline.Result {
	t.Helper()
	opts.Logger = testutil.NewTestLogger(t)
	out, err := pipeline.NewResourceParser(res, &metadata.MemoryReader{Rows: r}, opts).Parse(context.Background())
	require.NoError(t, err)
	return out
}

func TestParsePrefersTransformationVariant(t *testing.T) {
	var r rows
	r.add(dataset("dbt", "orders"), "datasetProperties", map[string]any{
		"name": "orders", "customProperties": map[string]any{"materialization": "table"},
	})
	r.add(dataset("postgres", "orders"), "datasetProperties", map[string]any{
		"name": "orders", "customProperties": map[string]any{"is_view": false},
	})

	res := parse(t, warehouse, r, pipeline.Options{})
	require.Len(t, res.Assets, 1)
	a := res.Assets[dataset("dbt", "orders")]
	require.NotNil(t, a)
	assert.Equal(t, core.MaterializationTable, a.Materialization)
	assert.Equal(t, "orders", a.Name)
	assert.Equal(t, "pg", a.ResourceID)
	assert.Equal(t, "ws", a.WorkspaceID)
}

// warehouseRows describes a model built from an upstream table plus a model
// whose SQL does not parse.
func warehouseRows() rows {
	upstream, model, broken := dataset("postgres", "upstream_tbl"), dataset("dbt", "model"), dataset("dbt", "broken")
	var r rows
	r.add(upstream, "schemaMetadata", schema("a"))
	r.add(model, "schemaMetadata", schema("a", "b"))
	r.add(model, "datasetProperties", map[string]any{"customProperties": map[string]any{"materialization": "view"}})
	r.add(model, "viewProperties", map[string]any{"viewLogic": "select a, a+1 as b from upstream_tbl"})
	r.add(dataset("postgres", "model"), "upstreamLineage", map[string]any{
		"upstreams": []any{map[string]any{"dataset": upstream}},
	})
	r.add(broken, "schemaMetadata", schema("a"))
	r.add(broken, "viewProperties", map[string]any{"viewLogic": "select a from upstream_tbl where ("})
	r.add(broken, "upstreamLineage", map[string]any{"upstreams": map[string]any{"dataset": upstream}})
	return r
}

func TestParseWarehouseColumnLineage(t *testing.T) {
	res := parse(t, warehouse, warehouseRows(), pipeline.Options{LineageTypes: []core.LineageType{core.LineageAll}})

	upstream, model, broken := dataset("postgres", "upstream_tbl"), dataset("dbt", "model"), dataset("dbt", "broken")
	assert.True(t, res.AssetGraph.HasEdge(upstream, model), "lineage on the warehouse variant moves to the model")
	assert.False(t, res.AssetGraph.HasNode(dataset("postgres", "model")))

	assert.Equal(t,
		[]core.ColumnEdge{{LineageType: core.LineageAll, Connections: core.NewConnections(core.ConnectionAsIs)}},
		res.ColumnGraph.EdgesBetween(field(upstream, "a"), field(model, "a")))
	assert.Equal(t,
		[]core.ColumnEdge{{LineageType: core.LineageAll, Connections: core.NewConnections(core.ConnectionTransform)}},
		res.ColumnGraph.EdgesBetween(field(upstream, "a"), field(model, "b")))

	require.Len(t, res.Errors, 1)
	assert.Equal(t, broken, res.Errors[0].AssetID)
	assert.Equal(t, core.ErrorKindParse, res.Errors[0].Error.Kind)
	assert.Equal(t, "postgres", res.Errors[0].Error.Dialect)
}

func TestParseFatalErrors(t *testing.T) {
	t.Run("database error", func(t *testing.T) {
		reader := &metadata.MemoryReader{Err: &metadata.DatabaseError{Path: "x.duckdb", Err: errors.New("no such file")}}
		_, err := pipeline.NewResourceParser(warehouse, reader, pipeline.Options{}).Parse(context.Background())
		var dbErr *metadata.DatabaseError
		require.ErrorAs(t, err, &dbErr)
	})

	t.Run("assertion lookup", func(t *testing.T) {
		var r rows
		r.add(dataset("dbt", "orders"), "schemaMetadata", schema("id"))
		r.add("urn:li:assertion:a1", "assertionInfo", map[string]any{
			"datasetAssertion": map[string]any{"dataset": dataset("postgres", "missing")},
		})
		_, err := pipeline.NewResourceParser(warehouse, &metadata.MemoryReader{Rows: r}, pipeline.Options{}).Parse(context.Background())
		var lookup *aspect.LookupError
		require.ErrorAs(t, err, &lookup)
	})
}

func TestParseContractsColumns(t *testing.T) {
	orders, pgOrders, pgUsers := dataset("dbt", "orders"), dataset("postgres", "orders"), dataset("postgres", "users")
	var r rows
	r.add(orders, "schemaMetadata", schema("user_id"))
	r.add(pgOrders, "upstreamLineage", map[string]any{
		"upstreams": []any{map[string]any{"dataset": pgUsers}},
		"fineGrainedLineages": []any{map[string]any{
			"upstreams":   []any{field(pgUsers, "id")},
			"downstreams": []any{field(pgOrders, "user_id")},
		}},
	})

	plain := parse(t, looker, r, pipeline.Options{})
	assert.True(t, plain.ColumnGraph.HasEdge(field(pgUsers, "id"), field(pgOrders, "user_id")))

	contracted := parse(t, looker, r, pipeline.Options{ContractColumns: true})
	assert.True(t, contracted.ColumnGraph.HasEdge(field(pgUsers, "id"), field(orders, "user_id")))
	assert.False(t, contracted.ColumnGraph.HasNode(field(pgOrders, "user_id")))
	assert.True(t, contracted.AssetGraph.HasEdge(pgUsers, orders))
	assert.NotContains(t, contracted.Assets, pgOrders)
}

func TestAccumulatorPlan(t *testing.T) {
	orders := dataset("postgres", "orders")
	chart := "urn:li:chart:(looker,dashboard_elements.1)"

	var wr rows
	wr.add(orders, "schemaMetadata", schema("id"))
	var br rows
	br.add(chart, "chartInfo", map[string]any{"title": "Orders", "inputs": []any{orders}})

	acc := pipeline.NewAccumulator(pipeline.Options{})
	acc.Add(parse(t, warehouse, wr, pipeline.Options{}))
	acc.Add(parse(t, looker, br, pipeline.Options{}))
	plan, err := acc.Plan()
	require.NoError(t, err)

	assert.Equal(t, []string{"pg", "looker"}, plan.ResourceIDs)
	require.Len(t, plan.AssetLinks, 1)
	assert.Equal(t, core.AssetLink{
		ID:          orders + "_" + chart,
		SourceID:    orders,
		TargetID:    chart,
		WorkspaceID: "ws",
	}, plan.AssetLinks[0])
	assert.Equal(t, "looker", plan.LinkResource(orders, chart))

	assets, columns := plan.Placeholders()
	assert.Empty(t, assets, "cross resource endpoints are already planned")
	assert.Empty(t, columns)
}

func TestPlanPlaceholders(t *testing.T) {
	upstream := dataset("postgres", "upstream_tbl")
	plan, err := pipeline.RunAll(context.Background(), []core.Resource{warehouse},
		func(core.Resource) (metadata.Reader, error) {
			r := warehouseRows()
			r.add(dataset("dbt", "model"), "upstreamLineage", map[string]any{
				"upstreams": []any{map[string]any{"dataset": dataset("snowflake", "elsewhere")}},
			})
			return &metadata.MemoryReader{Rows: r}, nil
		}, pipeline.Options{Logger: testutil.NewTestLogger(t)})
	require.NoError(t, err)

	assets, columns := plan.Placeholders()
	require.Len(t, assets, 1)
	assert.Equal(t, dataset("snowflake", "elsewhere"), assets[0].ID)
	assert.True(t, assets[0].Placeholder)
	assert.Equal(t, "pg", assets[0].ResourceID)
	assert.Empty(t, columns)

	assetIDs := map[string]bool{}
	for _, a := range append(plan.Assets, assets...) {
		assetIDs[a.ID] = true
	}
	columnIDs := map[string]bool{}
	for _, c := range append(plan.Columns, columns...) {
		columnIDs[c.ID] = true
		assert.True(t, assetIDs[c.AssetID], "column %s has no asset", c.ID)
	}
	for _, l := range plan.AssetLinks {
		assert.True(t, assetIDs[l.SourceID] && assetIDs[l.TargetID], l.ID)
	}
	require.NotEmpty(t, plan.ColumnLinks)
	for _, l := range plan.ColumnLinks {
		assert.True(t, columnIDs[l.SourceID] && columnIDs[l.TargetID], l.ID)
		assert.Equal(t, l.SourceID+"_"+l.TargetID+"_"+string(l.LineageType), l.ID)
	}

	direct := map[string]bool{}
	all := map[string]bool{}
	for _, l := range plan.ColumnLinks {
		key := l.SourceID + "->" + l.TargetID
		switch l.LineageType {
		case core.LineageAll:
			all[key] = true
		case core.LineageDirectOnly:
			direct[key] = true
		}
	}
	for key := range direct {
		assert.True(t, all[key], "direct_only link %s missing from all", key)
	}
	assert.True(t, all[field(upstream, "a")+"->"+field(dataset("dbt", "model"), "b")])
}

func TestPlanPlaceholderColumns(t *testing.T) {
	pgUsers, pgOrders := dataset("postgres", "users"), dataset("postgres", "orders")
	var r rows
	r.add(pgOrders, "upstreamLineage", map[string]any{
		"upstreams": []any{map[string]any{"dataset": pgUsers}},
		"fineGrainedLineages": []any{map[string]any{
			"upstreams":       []any{field(pgUsers, "id")},
			"downstreams":     []any{field(pgOrders, "user_id")},
			"confidenceScore": 0.5,
		}},
	})

	acc := pipeline.NewAccumulator(pipeline.Options{})
	acc.Add(parse(t, looker, r, pipeline.Options{}))
	plan, err := acc.Plan()
	require.NoError(t, err)

	require.Len(t, plan.ColumnLinks, len(core.LineageTypes))
	for _, l := range plan.ColumnLinks {
		require.NotNil(t, l.Confidence)
		assert.InDelta(t, 0.5, *l.Confidence, 1e-9)
		assert.Equal(t, []core.ConnectionType{core.ConnectionTransform}, l.ConnectionTypes)
	}

	assets, columns := plan.Placeholders()
	var ids []string
	for _, c := range columns {
		ids = append(ids, c.ID)
		assert.True(t, c.Placeholder)
	}
	assert.Equal(t, []string{field(pgOrders, "user_id"), field(pgUsers, "id")}, ids)
	require.Len(t, assets, 1)
	assert.Equal(t, pgUsers, assets[0].ID)
	assert.Equal(t, "looker", assets[0].ResourceID)
}

func TestReconcileAcrossResources(t *testing.T) {
	dbtOrders, pgOrders := dataset("dbt", "orders"), dataset("postgres", "orders")
	var wr rows
	wr.add(pgOrders, "schemaMetadata", schema("id", "amount"))
	var tr rows
	tr.add(dbtOrders, "schemaMetadata", schema("id"))

	dbtResource := core.Resource{ID: "dbt", WorkspaceID: "ws", Type: core.ResourceTypeBI, Subtype: "dbt"}
	for _, reconcile := range []bool{false, true} {
		acc := pipeline.NewAccumulator(pipeline.Options{Reconcile: reconcile})
		acc.Add(parse(t, warehouse, wr, pipeline.Options{}))
		acc.Add(parse(t, dbtResource, tr, pipeline.Options{}))
		plan, err := acc.Plan()
		require.NoError(t, err)

		var assetIDs, columnIDs []string
		for _, a := range plan.Assets {
			assetIDs = append(assetIDs, a.ID)
		}
		for _, c := range plan.Columns {
			columnIDs = append(columnIDs, c.ID)
		}
		if !reconcile {
			assert.Len(t, assetIDs, 2)
			continue
		}
		assert.Equal(t, []string{dbtOrders}, assetIDs)
		assert.ElementsMatch(t, []string{field(dbtOrders, "id"), field(dbtOrders, "amount")}, columnIDs)
	}
}

func TestRunAllReturnsFirstFatalError(t *testing.T) {
	boom := &metadata.DatabaseError{Path: "broken.duckdb", Err: errors.New("corrupt")}
	_, err := pipeline.RunAll(context.Background(), []core.Resource{warehouse, looker},
		func(res core.Resource) (metadata.Reader, error) {
			if res.ID == "looker" {
				return &metadata.MemoryReader{Err: boom}, nil
			}
			return &metadata.MemoryReader{Rows: warehouseRows()}, nil
		}, pipeline.Options{Workers: 2})
	require.ErrorIs(t, err, boom)
}
