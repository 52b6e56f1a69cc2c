package commands

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/leapstack-labs/metalineage/internal/cll"
	"github.com/leapstack-labs/metalineage/pkg/core"
	"github.com/leapstack-labs/metalineage/pkg/dialect"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// CLLOptions holds options for the cll command.
type CLLOptions struct {
	SQLFile     string
	SchemaFile  string
	Dialect     string
	Table       string
	LineageType string
	Format      string
}

// SchemaFile describes the tables visible to an ad-hoc statement.
type SchemaFile struct {
	Database string              `yaml:"database"`
	Schema   string              `yaml:"schema"`
	Tables   map[string][]string `yaml:"tables"`
}

// ColumnEdge is one edge of an ad-hoc column lineage graph.
type ColumnEdge struct {
	Source      string   `json:"source" yaml:"source"`
	Target      string   `json:"target" yaml:"target"`
	Connections []string `json:"connections" yaml:"connections"`
}

// CLLResult is the output of the cll command.
type CLLResult struct {
	Table   string            `json:"table" yaml:"table"`
	Dialect string            `json:"dialect" yaml:"dialect"`
	Edges   []ColumnEdge      `json:"edges" yaml:"edges"`
	Error   *core.ErrorDetail `json:"error,omitempty" yaml:"error,omitempty"`
}

// NewCLLCommand creates the cll command.
func NewCLLCommand() *cobra.Command {
	opts := &CLLOptions{}

	cmd := &cobra.Command{
		Use:   "cll",
		Short: "Compute column lineage of a single statement",
		Long: `Analyse one SELECT statement against a schema file and print the column
lineage edges that a refresh would record for it. Nothing is read from or
written to the state database.

The schema file lists the tables the statement may reference:

  database: analytics
  schema: public
  tables:
    analytics.public.orders: [id, amount, customer_id]
    analytics.public.order_totals: [customer_id, total]`,
		Example: `  metalineage cll --sql model.sql --schema schema.yaml --table analytics.public.order_totals
  cat model.sql | metalineage cll --sql - --schema schema.yaml --table analytics.public.order_totals --dialect snowflake`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCLL(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.SQLFile, "sql", "-", "File holding the statement, - for stdin")
	cmd.Flags().StringVar(&opts.SchemaFile, "schema", "", "YAML file describing the visible tables")
	cmd.Flags().StringVar(&opts.Dialect, "dialect", "ansi", "SQL dialect")
	cmd.Flags().StringVar(&opts.Table, "table", "", "Key of the table the statement defines")
	cmd.Flags().StringVar(&opts.LineageType, "lineage-type", string(core.LineageAll), "Lineage type (all|direct_only)")
	cmd.Flags().StringVarP(&opts.Format, "format", "f", FormatTable, "Output format (table|json|yaml)")
	_ = cmd.MarkFlagRequired("table")

	_ = cmd.RegisterFlagCompletionFunc("dialect", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return dialect.List(), cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

func runCLL(cmd *cobra.Command, opts *CLLOptions) error {
	if err := checkFormat(opts.Format); err != nil {
		return err
	}
	lt, err := core.ParseLineageType(opts.LineageType)
	if err != nil {
		return err
	}
	d, ok := dialect.Get(opts.Dialect)
	if !ok {
		return fmt.Errorf("unknown dialect %q (known: %s)", opts.Dialect, strings.Join(dialect.List(), ", "))
	}

	sqlText, err := readSQL(cmd.InOrStdin(), opts.SQLFile)
	if err != nil {
		return err
	}
	schema, err := readSchema(opts.SchemaFile)
	if err != nil {
		return err
	}

	catalog := cll.NewCatalog(schema.Database, schema.Schema)
	keys := make([]string, 0, len(schema.Tables))
	for key := range schema.Tables {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var deps []string
	for _, key := range keys {
		catalog.Add(key, schema.Tables[key])
		if !strings.EqualFold(key, opts.Table) {
			deps = append(deps, key)
		}
	}

	res := CLLResult{Table: opts.Table, Dialect: d.Name, Edges: []ColumnEdge{}}
	lin, detail := cll.Analyse(sqlText, d, catalog, opts.Table, deps, lt)
	if detail != nil {
		res.Error = detail
	} else {
		for _, e := range lin.Graph.Edges() {
			types := e.Data.Types()
			conns := make([]string, len(types))
			for i, t := range types {
				conns[i] = string(t)
			}
			res.Edges = append(res.Edges, ColumnEdge{Source: e.From, Target: e.To, Connections: conns})
		}
	}

	if opts.Format != FormatTable {
		if err := renderData(cmd.OutOrStdout(), opts.Format, res); err != nil {
			return err
		}
	} else {
		rows := make([]table.Row, 0, len(res.Edges))
		for _, e := range res.Edges {
			rows = append(rows, table.Row{e.Source, e.Target, strings.Join(e.Connections, ",")})
		}
		if res.Error == nil {
			renderTable(cmd.OutOrStdout(), fmt.Sprintf("%s (%s)", opts.Table, lt), table.Row{"Source", "Target", "Connections"}, rows)
		}
	}
	if res.Error != nil {
		return fmt.Errorf("%s: %s", res.Error.Kind, res.Error.Message)
	}
	return nil
}

func readSQL(stdin io.Reader, path string) (string, error) {
	var (
		b   []byte
		err error
	)
	if path == "-" || path == "" {
		b, err = io.ReadAll(stdin)
	} else {
		b, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read SQL: %w", err)
	}
	if strings.TrimSpace(string(b)) == "" {
		return "", fmt.Errorf("no SQL statement given")
	}
	return string(b), nil
}

func readSchema(path string) (*SchemaFile, error) {
	if path == "" {
		return &SchemaFile{}, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file: %w", err)
	}
	var s SchemaFile
	if err := yaml.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("failed to parse schema file %s: %w", path, err)
	}
	return &s, nil
}
