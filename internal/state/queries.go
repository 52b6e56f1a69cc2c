package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/leapstack-labs/metalineage/pkg/core"
)

// AssetFilter narrows ListAssets. Zero fields match everything.
type AssetFilter struct {
	ResourceID  string
	WorkspaceID string
	Type        core.AssetType
	// Placeholders includes placeholder assets.
	Placeholders bool
}

// ColumnFilter narrows ListColumns.
type ColumnFilter struct {
	AssetID      string
	ResourceID   string
	Placeholders bool
}

// LinkFilter narrows ListAssetLinks and ListColumnLinks.
type LinkFilter struct {
	// SourceID and TargetID match one endpoint exactly.
	SourceID string
	TargetID string
	// AssetID matches links touching the asset: either endpoint for asset links,
	// either endpoint's owning asset for column links.
	AssetID     string
	ResourceID  string
	LineageType core.LineageType
}

// ErrorFilter narrows ListAssetErrors.
type ErrorFilter struct {
	ResourceID string
	AssetID    string
	Kind       core.ErrorKind
}

// ErrorRecord is a stored asset error with the resource it was recorded for.
type ErrorRecord struct {
	core.AssetError `yaml:",inline"`

	ResourceID string `json:"resource_id" yaml:"resource_id"`
}

// ListAssets returns assets ordered by id.
func (s *Store) ListAssets(ctx context.Context, f AssetFilter) ([]core.Asset, error) {
	qb := s.sb.Select(assetColumns...).From("assets").OrderBy("id")
	if f.ResourceID != "" {
		qb = qb.Where(sq.Eq{"resource_id": f.ResourceID})
	}
	if f.WorkspaceID != "" {
		qb = qb.Where(sq.Eq{"workspace_id": f.WorkspaceID})
	}
	if f.Type != "" {
		qb = qb.Where(sq.Eq{"type": string(f.Type)})
	}
	if !f.Placeholders {
		qb = qb.Where(sq.Eq{"placeholder": false})
	}

	rows, err := s.query(ctx, qb)
	if err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []core.Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating assets: %w", err)
	}
	return out, nil
}

// GetAsset returns one asset, placeholders included. A missing id wraps ErrNotFound.
func (s *Store) GetAsset(ctx context.Context, id string) (*core.Asset, error) {
	qb := s.sb.Select(assetColumns...).From("assets").Where(sq.Eq{"id": id})
	rows, err := s.query(ctx, qb)
	if err != nil {
		return nil, fmt.Errorf("failed to get asset: %w", err)
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to get asset: %w", err)
		}
		return nil, fmt.Errorf("asset %s: %w", id, ErrNotFound)
	}
	a, err := scanAsset(rows)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ListColumns returns columns ordered by asset and position.
func (s *Store) ListColumns(ctx context.Context, f ColumnFilter) ([]core.Column, error) {
	qb := s.sb.Select(columnColumns...).From("columns").OrderBy("asset_id", "position", "id")
	if f.AssetID != "" {
		qb = qb.Where(sq.Eq{"asset_id": f.AssetID})
	}
	if f.ResourceID != "" {
		qb = qb.Where(sq.Eq{"resource_id": f.ResourceID})
	}
	if !f.Placeholders {
		qb = qb.Where(sq.Eq{"placeholder": false})
	}

	rows, err := s.query(ctx, qb)
	if err != nil {
		return nil, fmt.Errorf("failed to list columns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []core.Column
	for rows.Next() {
		var (
			c     core.Column
			tests string
			res   string
		)
		if err := rows.Scan(&c.ID, &c.AssetID, &c.Name, &c.Type, &c.Nullable, &c.Position,
			&c.Description, &tests, &res, &c.WorkspaceID, &c.Placeholder); err != nil {
			return nil, fmt.Errorf("scanning column: %w", err)
		}
		if c.Tests, err = decodeList[string](tests); err != nil {
			return nil, fmt.Errorf("column %s tests: %w", c.ID, err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating columns: %w", err)
	}
	return out, nil
}

// ListAssetLinks returns asset links ordered by id.
func (s *Store) ListAssetLinks(ctx context.Context, f LinkFilter) ([]core.AssetLink, error) {
	qb := s.sb.Select("id", "source_id", "target_id", "workspace_id").From("asset_links").OrderBy("id")
	qb = applyLinkFilter(qb, f)
	if f.AssetID != "" {
		qb = qb.Where(sq.Or{sq.Eq{"source_id": f.AssetID}, sq.Eq{"target_id": f.AssetID}})
	}

	rows, err := s.query(ctx, qb)
	if err != nil {
		return nil, fmt.Errorf("failed to list asset links: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []core.AssetLink
	for rows.Next() {
		var l core.AssetLink
		if err := rows.Scan(&l.ID, &l.SourceID, &l.TargetID, &l.WorkspaceID); err != nil {
			return nil, fmt.Errorf("scanning asset link: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating asset links: %w", err)
	}
	return out, nil
}

// ListColumnLinks returns column links ordered by id.
func (s *Store) ListColumnLinks(ctx context.Context, f LinkFilter) ([]core.ColumnLink, error) {
	qb := s.sb.Select("id", "source_id", "target_id", "lineage_type", "connection_types",
		"confidence", "workspace_id").From("column_links").OrderBy("id")
	qb = applyLinkFilter(qb, f)
	if f.LineageType != "" {
		qb = qb.Where(sq.Eq{"lineage_type": string(f.LineageType)})
	}
	if f.AssetID != "" {
		qb = qb.Where(sq.Or{
			sq.Expr("source_id IN (SELECT id FROM columns WHERE asset_id = ?)", f.AssetID),
			sq.Expr("target_id IN (SELECT id FROM columns WHERE asset_id = ?)", f.AssetID),
		})
	}

	rows, err := s.query(ctx, qb)
	if err != nil {
		return nil, fmt.Errorf("failed to list column links: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []core.ColumnLink
	for rows.Next() {
		var (
			l          core.ColumnLink
			lt, conns  string
			confidence sql.NullFloat64
		)
		if err := rows.Scan(&l.ID, &l.SourceID, &l.TargetID, &lt, &conns, &confidence, &l.WorkspaceID); err != nil {
			return nil, fmt.Errorf("scanning column link: %w", err)
		}
		l.LineageType = core.LineageType(lt)
		if l.ConnectionTypes, err = decodeList[core.ConnectionType](conns); err != nil {
			return nil, fmt.Errorf("column link %s connection types: %w", l.ID, err)
		}
		if confidence.Valid {
			v := confidence.Float64
			l.Confidence = &v
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating column links: %w", err)
	}
	return out, nil
}

func applyLinkFilter(qb sq.SelectBuilder, f LinkFilter) sq.SelectBuilder {
	if f.SourceID != "" {
		qb = qb.Where(sq.Eq{"source_id": f.SourceID})
	}
	if f.TargetID != "" {
		qb = qb.Where(sq.Eq{"target_id": f.TargetID})
	}
	if f.ResourceID != "" {
		qb = qb.Where(sq.Eq{"resource_id": f.ResourceID})
	}
	return qb
}

// ListAssetErrors returns stored errors ordered by resource, asset and lineage type.
func (s *Store) ListAssetErrors(ctx context.Context, f ErrorFilter) ([]ErrorRecord, error) {
	qb := s.sb.Select(errorColumns...).From("asset_errors").
		OrderBy("resource_id", "asset_id", "lineage_type")
	if f.ResourceID != "" {
		qb = qb.Where(sq.Eq{"resource_id": f.ResourceID})
	}
	if f.AssetID != "" {
		qb = qb.Where(sq.Eq{"asset_id": f.AssetID})
	}
	if f.Kind != "" {
		qb = qb.Where(sq.Eq{"kind": string(f.Kind)})
	}

	rows, err := s.query(ctx, qb)
	if err != nil {
		return nil, fmt.Errorf("failed to list asset errors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []ErrorRecord
	for rows.Next() {
		var (
			r        ErrorRecord
			lt, kind string
		)
		if err := rows.Scan(&r.AssetID, &r.ResourceID, &lt, &kind,
			&r.Error.Message, &r.Error.Traceback, &r.Error.Dialect); err != nil {
			return nil, fmt.Errorf("scanning asset error: %w", err)
		}
		r.LineageType = core.LineageType(lt)
		r.Error.Kind = core.ErrorKind(kind)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating asset errors: %w", err)
	}
	return out, nil
}

func (s *Store) query(ctx context.Context, qb sq.SelectBuilder) (*sql.Rows, error) {
	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	return s.db.QueryContext(ctx, query, args...)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAsset(row scanner) (core.Asset, error) {
	var (
		a                     core.Asset
		typ, config, mat, res string
		tags, tests, location string
	)
	err := row.Scan(&a.ID, &typ, &a.Name, &a.Description, &a.AIDescription, &a.SQL, &config,
		&a.UniqueName, &tags, &tests, &mat, &location, &res, &a.WorkspaceID, &a.Placeholder)
	if err != nil {
		return a, fmt.Errorf("scanning asset: %w", err)
	}
	a.Type = core.AssetType(typ)
	a.Materialization = core.Materialization(mat)
	a.ResourceID = res
	if config != "" {
		if err := json.Unmarshal([]byte(config), &a.Config); err != nil {
			return a, fmt.Errorf("asset %s config: %w", a.ID, err)
		}
	}
	if a.Tags, err = decodeList[string](tags); err != nil {
		return a, fmt.Errorf("asset %s tags: %w", a.ID, err)
	}
	if a.Tests, err = decodeList[string](tests); err != nil {
		return a, fmt.Errorf("asset %s tests: %w", a.ID, err)
	}
	if a.DBLocation, err = decodeList[string](location); err != nil {
		return a, fmt.Errorf("asset %s db location: %w", a.ID, err)
	}
	return a, nil
}
