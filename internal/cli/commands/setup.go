// Package commands implements the metalineage subcommands.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/leapstack-labs/metalineage/internal/config"
	"github.com/leapstack-labs/metalineage/internal/metadata"
	"github.com/leapstack-labs/metalineage/internal/pipeline"
	"github.com/leapstack-labs/metalineage/internal/state"
	"github.com/leapstack-labs/metalineage/pkg/core"
	"github.com/spf13/cobra"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg    *config.Config
	Logger *slog.Logger
}

// NewCommandContext reads the config and logger stored by the root command.
func NewCommandContext(cmd *cobra.Command) (*CommandContext, error) {
	cfg := config.GetConfig(cmd.Context())
	if cfg == nil {
		return nil, errors.New("configuration not loaded")
	}
	return &CommandContext{
		Cfg:    cfg,
		Logger: config.GetLogger(cmd.Context()),
	}, nil
}

// OpenStore opens the state database, creating the SQLite directory when needed.
func (c *CommandContext) OpenStore(ctx context.Context) (*state.Store, error) {
	driver, err := state.ParseDriver(c.Cfg.State.Driver)
	if err != nil {
		return nil, err
	}
	if driver == state.DriverSQLite && c.Cfg.State.DSN != ":memory:" && !strings.Contains(c.Cfg.State.DSN, "?") {
		if dir := filepath.Dir(c.Cfg.State.DSN); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create state directory: %w", err)
			}
		}
	}
	return state.Open(ctx, driver, c.Cfg.State.DSN, c.Logger)
}

// PipelineOptions converts the pipeline section of the config.
func (c *CommandContext) PipelineOptions() (pipeline.Options, error) {
	lts, err := c.Cfg.LineageTypes()
	if err != nil {
		return pipeline.Options{}, err
	}
	p := c.Cfg.Pipeline
	return pipeline.Options{
		TransformationPlatform: p.TransformationPlatform,
		Workers:                p.Workers,
		AssetWorkers:           p.AssetWorkers,
		LineageTypes:           lts,
		MaxQualifyAttempts:     p.MaxQualifyAttempts,
		ContractColumns:        p.ContractColumns,
		Reconcile:              p.Reconcile,
		Logger:                 c.Logger,
	}, nil
}

// OpenReader opens the snapshot reader of a resource.
func (c *CommandContext) OpenReader(r core.Resource) (metadata.Reader, error) {
	params := metadata.SnapshotParams{Settings: c.Cfg.Snapshot.Settings}
	return metadata.NewDuckDBReader(r.SnapshotPath, params, c.Logger.With("resource", r.ID)), nil
}

// SelectResources returns the configured resources named by ids, or all of
// them when ids is empty.
func (c *CommandContext) SelectResources(ids []string) ([]core.Resource, error) {
	if len(ids) == 0 {
		all := c.Cfg.CoreResources()
		if len(all) == 0 {
			return nil, errors.New("no resources configured")
		}
		return all, nil
	}
	out := make([]core.Resource, 0, len(ids))
	var unknown []string
	for _, id := range ids {
		r, ok := c.Cfg.Resource(id)
		if !ok {
			unknown = append(unknown, id)
			continue
		}
		out = append(out, r)
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("unknown resource(s): %s", strings.Join(unknown, ", "))
	}
	return out, nil
}
