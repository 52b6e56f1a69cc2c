package commands

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/leapstack-labs/metalineage/internal/state"
	"github.com/leapstack-labs/metalineage/pkg/core"
	"github.com/spf13/cobra"
)

// ErrorsOptions holds options for the errors command.
type ErrorsOptions struct {
	Resource string
	Kind     string
	Asset    string
	Format   string
}

// NewErrorsCommand creates the errors command.
func NewErrorsCommand() *cobra.Command {
	opts := &ErrorsOptions{}

	cmd := &cobra.Command{
		Use:   "errors",
		Short: "List asset errors recorded by the last refresh",
		Long: `List the per-asset failures recorded while computing column lineage:
SQL that did not parse, references that could not be resolved, cycles and
unexpected failures. A failing asset never stops the refresh of its resource.`,
		Example: `  # All errors
  metalineage errors

  # Parse errors of one resource
  metalineage errors --resource warehouse --kind PARSE_ERROR`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runErrors(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Resource, "resource", "", "Only errors of this resource")
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "Only errors of this kind (e.g. PARSE_ERROR)")
	cmd.Flags().StringVar(&opts.Asset, "asset", "", "Only errors of this asset")
	cmd.Flags().StringVarP(&opts.Format, "format", "f", FormatTable, "Output format (table|json|yaml)")

	return cmd
}

func runErrors(cmd *cobra.Command, opts *ErrorsOptions) error {
	if err := checkFormat(opts.Format); err != nil {
		return err
	}
	cc, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	store, err := cc.OpenStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	records, err := store.ListAssetErrors(ctx, state.ErrorFilter{
		ResourceID: opts.Resource,
		AssetID:    opts.Asset,
		Kind:       core.ErrorKind(strings.ToUpper(opts.Kind)),
	})
	if err != nil {
		return err
	}

	if opts.Format != FormatTable {
		if records == nil {
			records = []state.ErrorRecord{}
		}
		return renderData(cmd.OutOrStdout(), opts.Format, records)
	}

	w := cmd.OutOrStdout()
	if len(records) == 0 {
		fmt.Fprintln(w, "No asset errors recorded.")
		return nil
	}
	rows := make([]table.Row, 0, len(records))
	for _, r := range records {
		rows = append(rows, table.Row{
			r.ResourceID,
			r.AssetID,
			r.LineageType,
			r.Error.Kind,
			orDash(r.Error.Dialect),
			text.Trim(firstLine(r.Error.Message), 80),
		})
	}
	renderTable(w, "", table.Row{"Resource", "Asset", "Lineage", "Kind", "Dialect", "Message"}, rows)
	fmt.Fprintf(w, "%d error(s)\n", len(records))
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
