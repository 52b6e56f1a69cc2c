package urn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDataset(t *testing.T) {
	u, err := Parse("urn:li:dataset:(urn:li:dataPlatform:dbt,analytics.public.orders,PROD)")
	require.NoError(t, err)

	assert.Equal(t, KindDataset, u.Kind())
	assert.Equal(t, "dbt", u.Platform())
	assert.Equal(t, "analytics.public.orders", u.Name())
	assert.Equal(t, "PROD", u.Env())
	assert.Equal(t, []string{"analytics", "public", "orders"}, u.NameParts())
	assert.True(t, u.IsDataset())
	assert.False(t, u.Excluded())
}

func TestParseRoundTripsConstructors(t *testing.T) {
	ds := Dataset("postgres", "analytics.public.orders", "")
	parsed, err := Parse(ds.String())
	require.NoError(t, err)
	assert.Equal(t, ds, parsed)

	field := SchemaField(ds, "customer_id")
	parsedField, err := Parse(field.String())
	require.NoError(t, err)
	assert.Equal(t, field, parsedField)

	chart := Chart("looker", "dashboard_elements.12")
	parsedChart, err := Parse(chart.String())
	require.NoError(t, err)
	assert.Equal(t, chart, parsedChart)
}

func TestParseSchemaField(t *testing.T) {
	u, err := Parse("urn:li:schemaField:(urn:li:dataset:(urn:li:dataPlatform:snowflake,db.sch.tbl,PROD),[version=2.0].[type=struct].address.zip)")
	require.NoError(t, err)

	assert.Equal(t, KindSchemaField, u.Kind())
	assert.Equal(t, "snowflake", u.Platform())
	assert.Equal(t, "db.sch.tbl", u.Name())
	assert.Equal(t, "address.zip", u.FieldPath())

	parent, ok := u.Parent()
	require.True(t, ok)
	assert.Equal(t, "urn:li:dataset:(urn:li:dataPlatform:snowflake,db.sch.tbl,PROD)", parent.String())
}

func TestParseChartAndDashboard(t *testing.T) {
	chart, err := Parse("urn:li:chart:(looker,dashboard_elements.12)")
	require.NoError(t, err)
	assert.Equal(t, KindChart, chart.Kind())
	assert.Equal(t, "looker", chart.Platform())
	assert.Equal(t, "dashboard_elements.12", chart.Name())

	dash, err := Parse("urn:li:dashboard:(metabase,7)")
	require.NoError(t, err)
	assert.Equal(t, KindDashboard, dash.Kind())
	assert.Equal(t, "7", dash.Name())
}

func TestExcludedNamespaces(t *testing.T) {
	for _, s := range []string{
		"urn:li:container:0b9f1d3c",
		"urn:li:tag:pii",
		"urn:li:assertion:8d1f",
	} {
		u, err := Parse(s)
		require.NoError(t, err, s)
		assert.True(t, u.Excluded(), s)
	}
}

func TestParseInvalid(t *testing.T) {
	tests := []string{
		"",
		"dataset:(x,y,z)",
		"urn:li:dataset",
		"urn:li:dataset:(urn:li:dataPlatform:dbt,orders)",
		"urn:li:dataset:(urn:li:dataPlatform:dbt,orders,PROD",
		"urn:li:schemaField:(urn:li:chart:(looker,1),a)",
	}
	for _, s := range tests {
		_, err := Parse(s)
		assert.ErrorIs(t, err, ErrInvalid, s)
	}
}

func TestWithPlatform(t *testing.T) {
	dbt := MustParse("urn:li:dataset:(urn:li:dataPlatform:dbt,analytics.public.orders,PROD)")
	pg := dbt.WithPlatform("postgres")
	assert.Equal(t, "urn:li:dataset:(urn:li:dataPlatform:postgres,analytics.public.orders,PROD)", pg.String())

	field := SchemaField(dbt, "id").WithPlatform("postgres")
	assert.Equal(t, "urn:li:schemaField:(urn:li:dataset:(urn:li:dataPlatform:postgres,analytics.public.orders,PROD),id)", field.String())

	chart := Chart("looker", "1")
	assert.Equal(t, chart, chart.WithPlatform("postgres"))
}

func TestSimplifyFieldPath(t *testing.T) {
	assert.Equal(t, "a.b", SimplifyFieldPath("a.b"))
	assert.Equal(t, "a", SimplifyFieldPath("[version=2.0].[type=string].a"))
	assert.Equal(t, "addr.zip", SimplifyFieldPath("[version=2.0].[type=struct].[type=record].addr.[type=string].zip"))
}
