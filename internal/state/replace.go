package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/leapstack-labs/metalineage/internal/pipeline"
	"github.com/leapstack-labs/metalineage/pkg/core"
)

var (
	assetColumns = []string{
		"id", "type", "name", "description", "ai_description", "sql", "config",
		"unique_name", "tags", "tests", "materialization", "db_location",
		"resource_id", "workspace_id", "placeholder",
	}
	columnColumns = []string{
		"id", "asset_id", "name", "type", "nullable", "position", "description",
		"tests", "resource_id", "workspace_id", "placeholder",
	}
	errorColumns = []string{
		"asset_id", "resource_id", "lineage_type", "kind", "message", "traceback", "dialect",
	}
	assetLinkColumns = []string{
		"id", "source_id", "target_id", "resource_id", "workspace_id",
	}
	columnLinkColumns = []string{
		"id", "source_id", "target_id", "lineage_type", "connection_types",
		"confidence", "resource_id", "workspace_id",
	}
)

// Tables cleared for the replaced resources, links first.
var scopedTables = []string{"column_links", "asset_links", "asset_errors", "columns", "assets"}

// ReplaceResources swaps everything owned by resourceIDs for the content of plan
// in a single transaction. Placeholders never overwrite existing rows, while plan
// rows take over rows of the same id left behind by other resources. An empty
// resourceIDs scopes the replacement to plan.ResourceIDs.
func (s *Store) ReplaceResources(ctx context.Context, resourceIDs []string, plan *pipeline.Plan) error {
	if plan == nil {
		return fmt.Errorf("replace resources: nil plan")
	}
	if len(resourceIDs) == 0 {
		resourceIDs = plan.ResourceIDs
	}
	if len(resourceIDs) == 0 {
		return fmt.Errorf("replace resources: no resource ids")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range scopedTables {
		query, args, err := s.sb.Delete(table).Where(sq.Eq{"resource_id": resourceIDs}).ToSql()
		if err != nil {
			return fmt.Errorf("building delete from %s: %w", table, err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	assets, err := assetRows(plan.Assets, func(a core.Asset) string {
		if a.ResourceID != "" {
			return a.ResourceID
		}
		return plan.LinkResource("", a.ID)
	})
	if err != nil {
		return err
	}
	if err := s.insert(ctx, tx, "assets", assetColumns, upsert(assetColumns), assets); err != nil {
		return err
	}

	columns, err := columnRows(plan.Columns, func(c core.Column) string {
		return plan.LinkResource(c.AssetID, c.ID)
	})
	if err != nil {
		return err
	}
	if err := s.insert(ctx, tx, "columns", columnColumns, upsert(columnColumns), columns); err != nil {
		return err
	}

	phAssets, phColumns := plan.Placeholders()
	owner := make(map[string]string, len(phAssets))
	for _, a := range phAssets {
		owner[a.ID] = a.ResourceID
	}
	rows, err := assetRows(phAssets, func(a core.Asset) string { return a.ResourceID })
	if err != nil {
		return err
	}
	if err := s.insert(ctx, tx, "assets", assetColumns, doNothing, rows); err != nil {
		return err
	}
	rows, err = columnRows(phColumns, func(c core.Column) string {
		if r, ok := owner[c.AssetID]; ok {
			return r
		}
		return plan.LinkResource(c.AssetID, c.ID)
	})
	if err != nil {
		return err
	}
	if err := s.insert(ctx, tx, "columns", columnColumns, doNothing, rows); err != nil {
		return err
	}

	errRows := make([][]any, 0, len(plan.Errors))
	for _, e := range plan.Errors {
		errRows = append(errRows, []any{
			e.AssetID, plan.LinkResource("", e.AssetID), string(e.LineageType),
			string(e.Error.Kind), e.Error.Message, e.Error.Traceback, e.Error.Dialect,
		})
	}
	if err := s.insert(ctx, tx, "asset_errors", errorColumns, "", errRows); err != nil {
		return err
	}

	linkRows := make([][]any, 0, len(plan.AssetLinks))
	for _, l := range plan.AssetLinks {
		linkRows = append(linkRows, []any{
			l.ID, l.SourceID, l.TargetID, plan.LinkResource(l.SourceID, l.TargetID), l.WorkspaceID,
		})
	}
	if err := s.insert(ctx, tx, "asset_links", assetLinkColumns, upsert(assetLinkColumns), linkRows); err != nil {
		return err
	}

	linkRows = make([][]any, 0, len(plan.ColumnLinks))
	for _, l := range plan.ColumnLinks {
		conns, err := encodeList(l.ConnectionTypes)
		if err != nil {
			return fmt.Errorf("column link %s: %w", l.ID, err)
		}
		var confidence sql.NullFloat64
		if l.Confidence != nil {
			confidence = sql.NullFloat64{Float64: *l.Confidence, Valid: true}
		}
		linkRows = append(linkRows, []any{
			l.ID, l.SourceID, l.TargetID, string(l.LineageType), conns, confidence,
			plan.LinkResource(l.SourceID, l.TargetID), l.WorkspaceID,
		})
	}
	if err := s.insert(ctx, tx, "column_links", columnLinkColumns, upsert(columnLinkColumns), linkRows); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Info("replaced resources",
		"resources", resourceIDs,
		"assets", len(plan.Assets),
		"columns", len(plan.Columns),
		"placeholder_assets", len(phAssets),
		"placeholder_columns", len(phColumns),
		"asset_links", len(plan.AssetLinks),
		"column_links", len(plan.ColumnLinks),
		"errors", len(plan.Errors))
	return nil
}

const doNothing = "ON CONFLICT (id) DO NOTHING"

// upsert builds the conflict clause that overwrites every non-key column.
func upsert(cols []string) string {
	set := make([]string, 0, len(cols)-1)
	for _, c := range cols {
		if c == "id" {
			continue
		}
		set = append(set, c+" = excluded."+c)
	}
	return "ON CONFLICT (id) DO UPDATE SET " + strings.Join(set, ", ")
}

// insert writes rows in batches of s.batchSize.
func (s *Store) insert(ctx context.Context, tx *sql.Tx, table string, cols []string, suffix string, rows [][]any) error {
	for start := 0; start < len(rows); start += s.batchSize {
		end := min(start+s.batchSize, len(rows))
		qb := s.sb.Insert(table).Columns(cols...)
		for _, r := range rows[start:end] {
			qb = qb.Values(r...)
		}
		if suffix != "" {
			qb = qb.Suffix(suffix)
		}
		query, args, err := qb.ToSql()
		if err != nil {
			return fmt.Errorf("building insert into %s: %w", table, err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to insert into %s: %w", table, err)
		}
	}
	return nil
}

func assetRows(assets []core.Asset, resourceOf func(core.Asset) string) ([][]any, error) {
	rows := make([][]any, 0, len(assets))
	for _, a := range assets {
		config, err := json.Marshal(a.Config)
		if err != nil {
			return nil, fmt.Errorf("asset %s config: %w", a.ID, err)
		}
		tags, err := encodeList(a.Tags)
		if err != nil {
			return nil, fmt.Errorf("asset %s tags: %w", a.ID, err)
		}
		tests, err := encodeList(a.Tests)
		if err != nil {
			return nil, fmt.Errorf("asset %s tests: %w", a.ID, err)
		}
		location, err := encodeList(a.DBLocation)
		if err != nil {
			return nil, fmt.Errorf("asset %s db location: %w", a.ID, err)
		}
		rows = append(rows, []any{
			a.ID, string(a.Type), a.Name, a.Description, a.AIDescription, a.SQL, string(config),
			a.UniqueName, tags, tests, string(a.Materialization), location,
			resourceOf(a), a.WorkspaceID, a.Placeholder,
		})
	}
	return rows, nil
}

func columnRows(columns []core.Column, resourceOf func(core.Column) string) ([][]any, error) {
	rows := make([][]any, 0, len(columns))
	for _, c := range columns {
		tests, err := encodeList(c.Tests)
		if err != nil {
			return nil, fmt.Errorf("column %s tests: %w", c.ID, err)
		}
		rows = append(rows, []any{
			c.ID, c.AssetID, c.Name, c.Type, c.Nullable, c.Position, c.Description,
			tests, resourceOf(c), c.WorkspaceID, c.Placeholder,
		})
	}
	return rows, nil
}

// encodeList stores a slice as a JSON array; nil becomes [].
func encodeList[T any](xs []T) (string, error) {
	if len(xs) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(xs)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeList[T any](s string) ([]T, error) {
	if s == "" || s == "[]" || s == "null" {
		return nil, nil
	}
	var out []T
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, err
	}
	return out, nil
}
