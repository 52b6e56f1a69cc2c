package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/leapstack-labs/metalineage/internal/pipeline"
	"github.com/leapstack-labs/metalineage/internal/state"
	"github.com/leapstack-labs/metalineage/pkg/core"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// RefreshOptions holds options for the refresh command.
type RefreshOptions struct {
	DryRun  bool
	PlanOut string
}

// NewRefreshCommand creates the refresh command.
func NewRefreshCommand() *cobra.Command {
	opts := &RefreshOptions{}

	cmd := &cobra.Command{
		Use:   "refresh [resource-id...]",
		Short: "Parse snapshots and replace the stored lineage of resources",
		Long: `Read the metadata snapshot of each selected resource, build assets, columns
and lineage for all of them together, then replace everything previously
stored for those resources in one transaction.

Without arguments every configured resource is refreshed.`,
		Example: `  # Refresh every configured resource
  metalineage refresh

  # Refresh the warehouse and the BI tool together
  metalineage refresh warehouse looker

  # Build the plan without writing it
  metalineage refresh --dry-run --plan-out plan.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRefresh(cmd, args, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "Build the plan but do not write it")
	cmd.Flags().StringVar(&opts.PlanOut, "plan-out", "", "Write the plan as YAML to this file")

	return cmd
}

func runRefresh(cmd *cobra.Command, args []string, opts *RefreshOptions) error {
	cc, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	resources, err := cc.SelectResources(args)
	if err != nil {
		return err
	}
	popts, err := cc.PipelineOptions()
	if err != nil {
		return err
	}
	ids := resourceIDs(resources)

	if opts.DryRun {
		plan, err := pipeline.RunAll(ctx, resources, cc.OpenReader, popts)
		if err != nil {
			return err
		}
		if err := writePlan(opts.PlanOut, plan); err != nil {
			return err
		}
		printSummary(cmd, ids, state.StatsOf(plan), 0, true)
		return nil
	}

	store, err := cc.OpenStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	run, err := store.StartRun(ctx, cc.Cfg.Workspace, ids)
	if err != nil {
		return err
	}
	cc.Logger.Info("refresh started", "run", run.ID, "resources", ids)

	plan, err := refresh(ctx, store, resources, cc, popts, opts)
	stats := state.StatsOf(plan)
	// The run record is closed even when the command is cancelled.
	if ferr := store.FinishRun(context.WithoutCancel(ctx), run.ID, stats, err); ferr != nil {
		cc.Logger.Error("failed to record run result", "run", run.ID, "error", ferr)
	}
	if err != nil {
		return fmt.Errorf("refresh %s failed: %w", run.ID, err)
	}

	printSummary(cmd, ids, stats, time.Since(run.StartedAt), false)
	return nil
}

func refresh(ctx context.Context, store *state.Store, resources []core.Resource, cc *CommandContext, popts pipeline.Options, opts *RefreshOptions) (*pipeline.Plan, error) {
	plan, err := pipeline.RunAll(ctx, resources, cc.OpenReader, popts)
	if err != nil {
		return nil, err
	}
	if err := writePlan(opts.PlanOut, plan); err != nil {
		return plan, err
	}
	if err := store.ReplaceResources(ctx, resourceIDs(resources), plan); err != nil {
		return plan, err
	}
	return plan, nil
}

func writePlan(path string, plan *pipeline.Plan) error {
	if path == "" {
		return nil
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create plan file: %w", err)
	}
	defer func() { _ = f.Close() }()

	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	if err := enc.Encode(plan); err != nil {
		return fmt.Errorf("failed to write plan: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to write plan: %w", err)
	}
	return f.Close()
}

func printSummary(cmd *cobra.Command, ids []string, stats state.RunStats, elapsed time.Duration, dryRun bool) {
	title := "Refreshed"
	if dryRun {
		title = "Planned (dry run)"
	}
	rows := []table.Row{
		{"resources", fmt.Sprint(ids)},
		{"assets", stats.Assets},
		{"columns", stats.Columns},
		{"asset links", stats.AssetLinks},
		{"column links", stats.ColumnLinks},
		{"errors", stats.Errors},
	}
	if !dryRun {
		rows = append(rows, table.Row{"duration", elapsed.Round(time.Millisecond).String()})
	}
	renderTable(cmd.OutOrStdout(), title, table.Row{"", "count"}, rows)
}

func resourceIDs(resources []core.Resource) []string {
	ids := make([]string, len(resources))
	for i, r := range resources {
		ids[i] = r.ID
	}
	return ids
}
