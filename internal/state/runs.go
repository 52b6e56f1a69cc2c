package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/leapstack-labs/metalineage/internal/pipeline"
)

// RunStatus is the state of a refresh run.
type RunStatus string

// Run statuses.
const (
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusFailed  RunStatus = "failed"
)

// Fixed width so that stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// RunStats counts what a run wrote.
type RunStats struct {
	Assets      int `json:"assets" yaml:"assets"`
	Columns     int `json:"columns" yaml:"columns"`
	AssetLinks  int `json:"asset_links" yaml:"asset_links"`
	ColumnLinks int `json:"column_links" yaml:"column_links"`
	Errors      int `json:"errors" yaml:"errors"`
}

// StatsOf summarizes a plan.
func StatsOf(p *pipeline.Plan) RunStats {
	if p == nil {
		return RunStats{}
	}
	return RunStats{
		Assets:      len(p.Assets),
		Columns:     len(p.Columns),
		AssetLinks:  len(p.AssetLinks),
		ColumnLinks: len(p.ColumnLinks),
		Errors:      len(p.Errors),
	}
}

// Run is one recorded refresh.
type Run struct {
	ID          string     `json:"id" yaml:"id"`
	WorkspaceID string     `json:"workspace_id" yaml:"workspace_id"`
	Resources   []string   `json:"resources" yaml:"resources"`
	Status      RunStatus  `json:"status" yaml:"status"`
	StartedAt   time.Time  `json:"started_at" yaml:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
	Stats       RunStats   `json:"stats" yaml:"stats"`
	Error       string     `json:"error,omitempty" yaml:"error,omitempty"`
}

// Duration returns how long a finished run took, or zero while it is running.
func (r Run) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

var runColumns = []string{
	"id", "workspace_id", "resources", "status", "started_at", "finished_at",
	"assets", "columns", "asset_links", "column_links", "errors", "error",
}

// StartRun records a new running refresh for resources.
func (s *Store) StartRun(ctx context.Context, workspaceID string, resources []string) (*Run, error) {
	run := &Run{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		Resources:   append([]string(nil), resources...),
		Status:      RunStatusRunning,
		StartedAt:   s.now().UTC().Truncate(time.Microsecond),
	}
	encoded, err := encodeList(run.Resources)
	if err != nil {
		return nil, fmt.Errorf("encoding run resources: %w", err)
	}

	s.logger.Debug("creating run", "id", run.ID, "resources", resources)

	query, args, err := s.sb.Insert("runs").
		Columns("id", "workspace_id", "resources", "status", "started_at").
		Values(run.ID, run.WorkspaceID, encoded, string(run.Status), run.StartedAt.Format(timeLayout)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building run insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return run, nil
}

// FinishRun completes a run. A nil runErr marks it successful.
func (s *Store) FinishRun(ctx context.Context, id string, stats RunStats, runErr error) error {
	status, msg := RunStatusSuccess, ""
	if runErr != nil {
		status, msg = RunStatusFailed, runErr.Error()
	}

	query, args, err := s.sb.Update("runs").
		Set("status", string(status)).
		Set("finished_at", s.now().UTC().Format(timeLayout)).
		Set("assets", stats.Assets).
		Set("columns", stats.Columns).
		Set("asset_links", stats.AssetLinks).
		Set("column_links", stats.ColumnLinks).
		Set("errors", stats.Errors).
		Set("error", msg).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building run update: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return nil
}

// GetRun retrieves a run by id.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	query, args, err := s.sb.Select(runColumns...).From("runs").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building run query: %w", err)
	}
	run, err := scanRun(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// LatestRuns returns up to limit runs, newest first. A limit below 1 returns all runs.
func (s *Store) LatestRuns(ctx context.Context, limit int) ([]Run, error) {
	qb := s.sb.Select(runColumns...).From("runs").OrderBy("started_at DESC", "id DESC")
	if limit > 0 {
		qb = qb.Limit(uint64(limit))
	}
	rows, err := s.query(ctx, qb)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating runs: %w", err)
	}
	return out, nil
}

func scanRun(row scanner) (*Run, error) {
	var (
		run               Run
		resources, status string
		started           string
		finished          sql.NullString
	)
	err := row.Scan(&run.ID, &run.WorkspaceID, &resources, &status, &started, &finished,
		&run.Stats.Assets, &run.Stats.Columns, &run.Stats.AssetLinks, &run.Stats.ColumnLinks,
		&run.Stats.Errors, &run.Error)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scanning run: %w", err)
	}
	run.Status = RunStatus(status)
	if run.Resources, err = decodeList[string](resources); err != nil {
		return nil, fmt.Errorf("run %s resources: %w", run.ID, err)
	}
	if run.StartedAt, err = time.Parse(timeLayout, started); err != nil {
		return nil, fmt.Errorf("run %s started_at: %w", run.ID, err)
	}
	if finished.Valid && finished.String != "" {
		t, err := time.Parse(timeLayout, finished.String)
		if err != nil {
			return nil, fmt.Errorf("run %s finished_at: %w", run.ID, err)
		}
		run.FinishedAt = &t
	}
	return &run, nil
}
