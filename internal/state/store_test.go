package state

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/metalineage/internal/pipeline"
	"github.com/leapstack-labs/metalineage/internal/testutil"
	"github.com/leapstack-labs/metalineage/pkg/core"
)

const (
	rawOrders  = "urn:li:dataset:(urn:li:dataPlatform:postgres,analytics.public.raw_orders,PROD)"
	orders     = "urn:li:dataset:(urn:li:dataPlatform:postgres,analytics.public.orders,PROD)"
	external   = "urn:li:dataset:(urn:li:dataPlatform:snowflake,lake.public.events,PROD)"
	chart      = "urn:li:chart:(looker,dashboard_elements.7)"
	rawOrderID = "urn:li:schemaField:(" + rawOrders + ",id)"
	orderID    = "urn:li:schemaField:(" + orders + ",id)"
	eventID    = "urn:li:schemaField:(" + external + ",order_id)"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), DriverSQLite, ":memory:", testutil.NewTestLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func ptr[T any](v T) *T { return &v }

func warehousePlan() *pipeline.Plan {
	return &pipeline.Plan{
		ResourceIDs: []string{"pg"},
		WorkspaceID: "ws",
		Assets: []core.Asset{
			{
				ID:              orders,
				Type:            core.AssetTypeModel,
				Name:            "orders",
				Description:     "all orders",
				SQL:             "select id from raw_orders",
				UniqueName:      "model.shop.orders",
				Config:          core.AssetConfig{Owners: []string{"urn:li:corpuser:ana"}, Views: ptr(int64(12)), Incremental: ptr(false)},
				Tags:            []string{"pii"},
				Tests:           []string{"not_null_orders_id"},
				Materialization: core.MaterializationTable,
				DBLocation:      []string{"analytics", "public", "orders"},
				ResourceID:      "pg",
				WorkspaceID:     "ws",
			},
			{ID: rawOrders, Type: core.AssetTypeDataset, Name: "raw_orders", ResourceID: "pg", WorkspaceID: "ws"},
		},
		Columns: []core.Column{
			{ID: orderID, AssetID: orders, Name: "id", Type: "integer", Position: 0, WorkspaceID: "ws"},
			{ID: rawOrderID, AssetID: rawOrders, Name: "id", Type: "integer", Nullable: true, WorkspaceID: "ws"},
		},
		AssetLinks: []core.AssetLink{
			{ID: pipeline.AssetLinkID(rawOrders, orders), SourceID: rawOrders, TargetID: orders, WorkspaceID: "ws"},
			{ID: pipeline.AssetLinkID(external, orders), SourceID: external, TargetID: orders, WorkspaceID: "ws"},
		},
		ColumnLinks: []core.ColumnLink{
			{
				ID:              pipeline.ColumnLinkID(rawOrderID, orderID, core.LineageAll),
				SourceID:        rawOrderID,
				TargetID:        orderID,
				LineageType:     core.LineageAll,
				ConnectionTypes: []core.ConnectionType{core.ConnectionAsIs, core.ConnectionFilter},
				WorkspaceID:     "ws",
			},
			{
				ID:              pipeline.ColumnLinkID(eventID, orderID, core.LineageDirectOnly),
				SourceID:        eventID,
				TargetID:        orderID,
				LineageType:     core.LineageDirectOnly,
				ConnectionTypes: []core.ConnectionType{core.ConnectionTransform},
				Confidence:      ptr(0.5),
				WorkspaceID:     "ws",
			},
		},
		Errors: []core.AssetError{{
			AssetID:     orders,
			LineageType: core.LineageAll,
			Error:       core.ErrorDetail{Kind: core.ErrorKindParse, Message: "unexpected token", Dialect: "postgres"},
		}},
	}
}

func TestOpenAppliesMigrations(t *testing.T) {
	s := newTestStore(t)
	version, err := s.MigrationVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)
	assert.Equal(t, DriverSQLite, s.Driver())
}

func TestParseDriver(t *testing.T) {
	tests := []struct {
		in      string
		want    Driver
		wantErr bool
	}{
		{"sqlite", DriverSQLite, false},
		{"", DriverSQLite, false},
		{"PostgreSQL", DriverPostgres, false},
		{"pgx", DriverPostgres, false},
		{"mysql", "", true},
	}
	for _, tt := range tests {
		got, err := ParseDriver(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestReplaceResources(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	plan := warehousePlan()
	require.NoError(t, s.ReplaceResources(ctx, nil, plan))

	t.Run("assets", func(t *testing.T) {
		assets, err := s.ListAssets(ctx, AssetFilter{})
		require.NoError(t, err)
		require.Len(t, assets, 2)
		assert.Equal(t, plan.Assets[0], assets[0])
		assert.Equal(t, plan.Assets[1], assets[1])

		got, err := s.GetAsset(ctx, orders)
		require.NoError(t, err)
		assert.Equal(t, plan.Assets[0], *got)
		require.NotNil(t, got.Config.Views)
		assert.Equal(t, int64(12), *got.Config.Views)
	})

	t.Run("placeholders", func(t *testing.T) {
		all, err := s.ListAssets(ctx, AssetFilter{Placeholders: true})
		require.NoError(t, err)
		require.Len(t, all, 3)

		ph, err := s.GetAsset(ctx, external)
		require.NoError(t, err)
		assert.True(t, ph.Placeholder)
		assert.Equal(t, "pg", ph.ResourceID)
		assert.Equal(t, "lake.public.events", ph.Name)

		cols, err := s.ListColumns(ctx, ColumnFilter{AssetID: external, Placeholders: true})
		require.NoError(t, err)
		require.Len(t, cols, 1)
		assert.Equal(t, "order_id", cols[0].Name)
		assert.True(t, cols[0].Placeholder)
	})

	t.Run("columns", func(t *testing.T) {
		cols, err := s.ListColumns(ctx, ColumnFilter{ResourceID: "pg"})
		require.NoError(t, err)
		assert.ElementsMatch(t, plan.Columns, cols)
	})

	t.Run("links", func(t *testing.T) {
		links, err := s.ListAssetLinks(ctx, LinkFilter{TargetID: orders})
		require.NoError(t, err)
		assert.ElementsMatch(t, plan.AssetLinks, links)

		direct, err := s.ListColumnLinks(ctx, LinkFilter{AssetID: orders, LineageType: core.LineageDirectOnly})
		require.NoError(t, err)
		require.Len(t, direct, 1)
		assert.Equal(t, plan.ColumnLinks[1], direct[0])

		all, err := s.ListColumnLinks(ctx, LinkFilter{AssetID: rawOrders})
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Nil(t, all[0].Confidence)
		assert.Equal(t, []core.ConnectionType{core.ConnectionAsIs, core.ConnectionFilter}, all[0].ConnectionTypes)
	})

	t.Run("errors", func(t *testing.T) {
		errs, err := s.ListAssetErrors(ctx, ErrorFilter{ResourceID: "pg"})
		require.NoError(t, err)
		require.Len(t, errs, 1)
		assert.Equal(t, "pg", errs[0].ResourceID)
		assert.Equal(t, plan.Errors[0], errs[0].AssetError)

		none, err := s.ListAssetErrors(ctx, ErrorFilter{Kind: core.ErrorKindCycle})
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

func TestReplaceResourcesIsScoped(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.ReplaceResources(ctx, nil, warehousePlan()))

	bi := &pipeline.Plan{
		ResourceIDs: []string{"looker"},
		Assets:      []core.Asset{{ID: chart, Type: core.AssetTypeChart, Name: "Revenue", ResourceID: "looker"}},
		AssetLinks:  []core.AssetLink{{ID: pipeline.AssetLinkID(orders, chart), SourceID: orders, TargetID: chart}},
	}
	require.NoError(t, s.ReplaceResources(ctx, nil, bi))

	// Refreshing the warehouse with a smaller plan keeps the BI resource intact.
	smaller := &pipeline.Plan{
		ResourceIDs: []string{"pg"},
		Assets:      []core.Asset{{ID: orders, Type: core.AssetTypeDataset, Name: "orders", ResourceID: "pg"}},
	}
	require.NoError(t, s.ReplaceResources(ctx, nil, smaller))

	assets, err := s.ListAssets(ctx, AssetFilter{Placeholders: true})
	require.NoError(t, err)
	ids := make([]string, 0, len(assets))
	for _, a := range assets {
		ids = append(ids, a.ID)
	}
	assert.Equal(t, []string{chart, orders}, ids)

	links, err := s.ListAssetLinks(ctx, LinkFilter{})
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, chart, links[0].TargetID)

	errs, err := s.ListAssetErrors(ctx, ErrorFilter{})
	require.NoError(t, err)
	assert.Empty(t, errs)
}

func TestPlaceholdersNeverOverwrite(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	// The BI resource only references the warehouse asset, so it writes a placeholder.
	bi := &pipeline.Plan{
		ResourceIDs: []string{"looker"},
		Assets:      []core.Asset{{ID: chart, Type: core.AssetTypeChart, Name: "Revenue", ResourceID: "looker"}},
		AssetLinks:  []core.AssetLink{{ID: pipeline.AssetLinkID(orders, chart), SourceID: orders, TargetID: chart}},
	}
	require.NoError(t, s.ReplaceResources(ctx, nil, bi))
	ph, err := s.GetAsset(ctx, orders)
	require.NoError(t, err)
	assert.True(t, ph.Placeholder)
	assert.Equal(t, "looker", ph.ResourceID)

	// The warehouse refresh takes the row over.
	require.NoError(t, s.ReplaceResources(ctx, nil, warehousePlan()))
	owned, err := s.GetAsset(ctx, orders)
	require.NoError(t, err)
	assert.False(t, owned.Placeholder)
	assert.Equal(t, "pg", owned.ResourceID)

	// Refreshing BI again leaves the real row alone.
	require.NoError(t, s.ReplaceResources(ctx, nil, bi))
	again, err := s.GetAsset(ctx, orders)
	require.NoError(t, err)
	assert.False(t, again.Placeholder)
	assert.Equal(t, "model.shop.orders", again.UniqueName)
}

func TestReplaceResourcesBatches(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	s.batchSize = 1

	require.NoError(t, s.ReplaceResources(ctx, nil, warehousePlan()))
	links, err := s.ListColumnLinks(ctx, LinkFilter{})
	require.NoError(t, err)
	assert.Len(t, links, 2)
}

func TestReplaceResourcesValidation(t *testing.T) {
	s := newTestStore(t)
	assert.Error(t, s.ReplaceResources(context.Background(), nil, nil))
	assert.Error(t, s.ReplaceResources(context.Background(), nil, &pipeline.Plan{}))
}

func TestGetAssetNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetAsset(context.Background(), "urn:li:dataset:(urn:li:dataPlatform:dbt,missing,PROD)")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRuns(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }

	first, err := s.StartRun(ctx, "ws", []string{"pg"})
	require.NoError(t, err)
	assert.Equal(t, RunStatusRunning, first.Status)
	assert.Zero(t, first.Duration())

	clock = clock.Add(90 * time.Second)
	require.NoError(t, s.FinishRun(ctx, first.ID, StatsOf(warehousePlan()), nil))

	second, err := s.StartRun(ctx, "ws", []string{"pg", "looker"})
	require.NoError(t, err)
	clock = clock.Add(time.Second)
	require.NoError(t, s.FinishRun(ctx, second.ID, RunStats{}, errors.New("read resource looker: boom")))

	runs, err := s.LatestRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second.ID, runs[0].ID)
	assert.Equal(t, RunStatusFailed, runs[0].Status)
	assert.Equal(t, "read resource looker: boom", runs[0].Error)
	assert.Equal(t, []string{"pg", "looker"}, runs[0].Resources)

	done := runs[1]
	assert.Equal(t, RunStatusSuccess, done.Status)
	assert.Equal(t, RunStats{Assets: 2, Columns: 2, AssetLinks: 2, ColumnLinks: 2, Errors: 1}, done.Stats)
	assert.Equal(t, 90*time.Second, done.Duration())
	assert.True(t, first.StartedAt.Equal(done.StartedAt))

	limited, err := s.LatestRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	got, err := s.GetRun(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, done, *got)

	_, err = s.GetRun(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.FinishRun(ctx, "nope", RunStats{}, nil), ErrNotFound)
}

func TestPostgresPlaceholders(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	s := New(db, DriverPostgres, nil)

	mock.ExpectQuery(regexp.QuoteMeta("FROM assets WHERE resource_id = $1 AND placeholder = $2 ORDER BY id")).
		WithArgs("pg", false).
		WillReturnRows(sqlmock.NewRows(assetColumns))

	assets, err := s.ListAssets(context.Background(), AssetFilter{ResourceID: "pg"})
	require.NoError(t, err)
	assert.Empty(t, assets)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceResourcesRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	s := New(db, DriverPostgres, nil)

	mock.ExpectBegin()
	for _, table := range scopedTables {
		mock.ExpectExec("DELETE FROM " + table + " WHERE resource_id IN").
			WithArgs("pg").
			WillReturnResult(sqlmock.NewResult(0, 0))
	}
	mock.ExpectExec("INSERT INTO assets").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err = s.ReplaceResources(context.Background(), []string{"pg"}, warehousePlan())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to insert into assets")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFinishRunQueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	s := New(db, DriverSQLite, nil)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE runs SET status = ?")).WillReturnError(errors.New("locked"))
	err = s.FinishRun(context.Background(), "run-1", RunStats{}, nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceResourcesLogsCounts(t *testing.T) {
	logger, records := testutil.NewRecordingLogger(t)
	s, err := Open(context.Background(), DriverSQLite, ":memory:", logger)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	require.NoError(t, s.ReplaceResources(context.Background(), nil, warehousePlan()))

	assert.Contains(t, records.Messages(slog.LevelInfo), "replaced resources")
	v, ok := records.Attr("replaced resources", "assets")
	require.True(t, ok)
	assert.Equal(t, int64(2), v.Int64())
}
