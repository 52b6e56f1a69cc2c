package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/leapstack-labs/metalineage/internal/config"
	"github.com/leapstack-labs/metalineage/internal/testutil"
	"github.com/leapstack-labs/metalineage/pkg/core"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestCommandMetadata(t *testing.T) {
	tests := []struct {
		cmd   *cobra.Command
		use   string
		flags []string
	}{
		{NewRefreshCommand(), "refresh [resource-id...]", []string{"dry-run", "plan-out"}},
		{NewLineageCommand(), "lineage <asset-id>", []string{"lineage-type", "format", "transitive"}},
		{NewErrorsCommand(), "errors", []string{"resource", "kind", "asset", "format"}},
		{NewRunsCommand(), "runs", []string{"limit", "format"}},
		{NewCLLCommand(), "cll", []string{"sql", "schema", "dialect", "table", "lineage-type", "format"}},
		{NewVersionCommand("1.2.3"), "version", nil},
	}
	for _, tt := range tests {
		t.Run(tt.use, func(t *testing.T) {
			assert.Equal(t, tt.use, tt.cmd.Use)
			assert.NotEmpty(t, tt.cmd.Short)
			for _, name := range tt.flags {
				assert.NotNil(t, tt.cmd.Flags().Lookup(name), "missing flag %s", name)
			}
		})
	}
}

func TestVersionCommand(t *testing.T) {
	cmd := NewVersionCommand("1.2.3")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs(nil)
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "metalineage v1.2.3\n", out.String())
}

const cllSchema = `
database: db
schema: sch
tables:
  db.sch.upstream_tbl: [a]
  db.sch.model: [a, b]
`

func runCLLCommand(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	dir := t.TempDir()
	schema := filepath.Join(dir, "schema.yaml")
	require.NoError(t, os.WriteFile(schema, []byte(cllSchema), 0o600))

	cmd := NewCLLCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--schema", schema, "--table", "db.sch.model"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestCLLCommand(t *testing.T) {
	out, err := runCLLCommand(t, "select a, a+1 as b from upstream_tbl", "--dialect", "snowflake", "--format", "json")
	require.NoError(t, err)

	var res CLLResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "snowflake", res.Dialect)
	assert.Nil(t, res.Error)
	assert.ElementsMatch(t, []ColumnEdge{
		{Source: "db.sch.upstream_tbl.a", Target: "db.sch.model.a", Connections: []string{string(core.ConnectionAsIs)}},
		{Source: "db.sch.upstream_tbl.a", Target: "db.sch.model.b", Connections: []string{string(core.ConnectionTransform)}},
	}, res.Edges)
}

func TestCLLCommandTable(t *testing.T) {
	out, err := runCLLCommand(t, "select a from upstream_tbl")
	require.NoError(t, err)
	assert.Contains(t, out, "db.sch.upstream_tbl.a")
	assert.Contains(t, out, string(core.ConnectionAsIs))
}

func TestCLLCommandErrors(t *testing.T) {
	tests := []struct {
		name    string
		stdin   string
		args    []string
		wantErr string
	}{
		{"parse error", "select a from upstream_tbl where (", nil, string(core.ErrorKindParse)},
		{"empty statement", "  ", nil, "no SQL statement"},
		{"unknown dialect", "select a from upstream_tbl", []string{"--dialect", "cobol"}, "unknown dialect"},
		{"bad lineage type", "select a from upstream_tbl", []string{"--lineage-type", "some"}, "some"},
		{"bad format", "select a from upstream_tbl", []string{"--format", "xml"}, "unknown format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runCLLCommand(t, tt.stdin, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCLLCommandReportsErrorDetail(t *testing.T) {
	out, err := runCLLCommand(t, "select a from upstream_tbl where (", "--format", "yaml")
	require.Error(t, err)

	var res CLLResult
	require.NoError(t, yaml.Unmarshal([]byte(out), &res))
	require.NotNil(t, res.Error)
	assert.Equal(t, core.ErrorKindParse, res.Error.Kind)
	assert.Empty(t, res.Edges)
}

func testContext(t *testing.T, cfg *config.Config) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{}
	ctx := config.WithConfig(context.Background(), cfg)
	cmd.SetContext(config.WithLogger(ctx, testutil.NewTestLogger(t)))
	return cmd
}

func TestSelectResources(t *testing.T) {
	cfg := &config.Config{
		Workspace: "ws",
		Resources: []config.ResourceConfig{
			{ID: "pg", Workspace: "ws", Type: "DB", Subtype: "postgres", Snapshot: "/tmp/pg.duckdb"},
			{ID: "looker", Workspace: "ws", Type: "BI", Subtype: "looker", Snapshot: "/tmp/looker.duckdb"},
		},
	}
	cc, err := NewCommandContext(testContext(t, cfg))
	require.NoError(t, err)

	all, err := cc.SelectResources(nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"pg", "looker"}, resourceIDs(all))

	some, err := cc.SelectResources([]string{"looker"})
	require.NoError(t, err)
	require.Len(t, some, 1)
	assert.Equal(t, core.ResourceTypeBI, some[0].Type)

	_, err = cc.SelectResources([]string{"looker", "crm", "erp"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "crm, erp")

	cc.Cfg = &config.Config{}
	_, err = cc.SelectResources(nil)
	assert.Error(t, err)
}

func TestNewCommandContextWithoutConfig(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	_, err := NewCommandContext(cmd)
	assert.Error(t, err)
}

func TestPipelineOptions(t *testing.T) {
	cfg := &config.Config{Pipeline: config.PipelineConfig{
		Workers:            3,
		AssetWorkers:       5,
		LineageTypes:       []string{"direct_only"},
		MaxQualifyAttempts: 2,
		Reconcile:          true,
	}}
	cc, err := NewCommandContext(testContext(t, cfg))
	require.NoError(t, err)

	opts, err := cc.PipelineOptions()
	require.NoError(t, err)
	assert.Equal(t, 3, opts.Workers)
	assert.Equal(t, 5, opts.AssetWorkers)
	assert.Equal(t, []core.LineageType{core.LineageDirectOnly}, opts.LineageTypes)
	assert.True(t, opts.Reconcile)
	assert.NotNil(t, opts.Logger)
}

func TestOpenStoreCreatesDirectory(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "nested", "state.db")
	cfg := &config.Config{State: config.StateConfig{Driver: "sqlite", DSN: dsn}}
	cc, err := NewCommandContext(testContext(t, cfg))
	require.NoError(t, err)

	store, err := cc.OpenStore(context.Background())
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	assert.FileExists(t, dsn)
}

func TestRenderData(t *testing.T) {
	v := map[string]int{"assets": 2}

	var js bytes.Buffer
	require.NoError(t, renderData(&js, FormatJSON, v))
	assert.JSONEq(t, `{"assets":2}`, js.String())

	var ym bytes.Buffer
	require.NoError(t, renderData(&ym, FormatYAML, v))
	assert.Equal(t, "assets: 2\n", ym.String())

	assert.Error(t, renderData(&bytes.Buffer{}, "csv", v))
}

func TestRenderTable(t *testing.T) {
	var buf bytes.Buffer
	renderTable(&buf, "Runs", table.Row{"Run", "Status"}, []table.Row{{"r1", "success"}})
	out := buf.String()
	assert.Contains(t, out, "RUN")
	assert.Contains(t, out, "success")
	assert.NotContains(t, out, "┌", "plain style when not a terminal")
}

func TestColumnLabel(t *testing.T) {
	id := "urn:li:schemaField:(urn:li:dataset:(urn:li:dataPlatform:dbt,analytics.public.orders,PROD),amount)"
	assert.Equal(t, "analytics.public.orders.amount", columnLabel(id))
	assert.Equal(t, "not-an-urn", columnLabel("not-an-urn"))
}

func TestFirstLine(t *testing.T) {
	assert.Equal(t, "boom", firstLine("boom\nstack"))
	assert.Equal(t, "boom", firstLine("boom"))
}

func TestClosure(t *testing.T) {
	link := func(src, dst string) core.AssetLink {
		return core.AssetLink{ID: src + "_" + dst, SourceID: src, TargetID: dst, WorkspaceID: "ws"}
	}
	links := []core.AssetLink{link("a", "b"), link("b", "c"), link("x", "b"), link("c", "d"), link("y", "z")}

	out := AssetLineage{Asset: core.Asset{ID: "b"}}
	closure(&out, links)
	assert.Equal(t, []core.AssetLink{link("a", "b"), link("x", "b")}, out.Upstream)
	assert.Equal(t, []core.AssetLink{link("b", "c"), link("c", "d")}, out.Downstream)
	assert.Equal(t, []string{"a", "x"}, out.Sources)
	assert.Equal(t, []string{"d"}, out.Sinks)
	assert.Equal(t, "c -> d", linkLabel(link("c", "d"), "b", "d"))
	assert.Equal(t, "c", linkLabel(link("b", "c"), "b", "c"))

	isolated := AssetLineage{Asset: core.Asset{ID: "q"}}
	closure(&isolated, links)
	assert.Empty(t, isolated.Upstream)
	assert.Empty(t, isolated.Sinks)
}
