package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/leapstack-labs/metalineage/internal/state"
	"github.com/spf13/cobra"
)

// RunsOptions holds options for the runs command.
type RunsOptions struct {
	Limit  int
	Format string
}

// NewRunsCommand creates the runs command.
func NewRunsCommand() *cobra.Command {
	opts := &RunsOptions{}

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show recent refresh runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRuns(cmd, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 20, "Number of runs to show")
	cmd.Flags().StringVarP(&opts.Format, "format", "f", FormatTable, "Output format (table|json|yaml)")

	return cmd
}

func runRuns(cmd *cobra.Command, opts *RunsOptions) error {
	if err := checkFormat(opts.Format); err != nil {
		return err
	}
	if opts.Limit < 1 {
		return fmt.Errorf("--limit must be at least 1, got %d", opts.Limit)
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

	runs, err := store.LatestRuns(ctx, opts.Limit)
	if err != nil {
		return err
	}

	if opts.Format != FormatTable {
		if runs == nil {
			runs = []state.Run{}
		}
		return renderData(cmd.OutOrStdout(), opts.Format, runs)
	}

	w := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return nil
	}
	rows := make([]table.Row, 0, len(runs))
	for _, r := range runs {
		duration := "-"
		if r.FinishedAt != nil {
			duration = r.Duration().Round(time.Millisecond).String()
		}
		rows = append(rows, table.Row{
			r.ID,
			r.StartedAt.Local().Format(time.DateTime),
			r.Status,
			strings.Join(r.Resources, ","),
			r.Stats.Assets,
			r.Stats.ColumnLinks,
			r.Stats.Errors,
			duration,
		})
	}
	renderTable(w, "", table.Row{"Run", "Started", "Status", "Resources", "Assets", "Column Links", "Errors", "Duration"}, rows)
	return nil
}
