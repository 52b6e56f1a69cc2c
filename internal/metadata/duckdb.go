package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"sort"
	"strings"

	_ "github.com/marcboeker/go-duckdb" // duckdb driver
)

// AspectQuery selects the current version of every aspect.
const AspectQuery = "select * from metadata_aspect_v2 where version = 1"

var settingName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SnapshotParams tunes the DuckDB session used to read a snapshot.
type SnapshotParams struct {
	// Settings are applied with SET before querying (e.g. memory_limit, threads).
	Settings map[string]string `mapstructure:"settings"`
}

// DuckDBReader reads rows from a DuckDB metadata snapshot file.
type DuckDBReader struct {
	Path   string
	Params SnapshotParams
	Logger *slog.Logger
}

// NewDuckDBReader creates a reader for the snapshot at path.
func NewDuckDBReader(path string, params SnapshotParams, logger *slog.Logger) *DuckDBReader {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &DuckDBReader{Path: path, Params: params, Logger: logger}
}

// ReadRows opens the snapshot read-only and returns every version 1 aspect row.
// Failures are reported as *DatabaseError.
func (r *DuckDBReader) ReadRows(ctx context.Context) ([]Row, error) {
	rows, err := r.read(ctx)
	if err != nil {
		var dbErr *DatabaseError
		if errors.As(err, &dbErr) {
			return nil, err
		}
		return nil, &DatabaseError{Path: r.Path, Err: err}
	}
	return rows, nil
}

func (r *DuckDBReader) read(ctx context.Context) ([]Row, error) {
	if r.Path == "" {
		return nil, errors.New("snapshot path is empty")
	}
	if _, err := os.Stat(r.Path); err != nil {
		return nil, err
	}

	db, err := sql.Open("duckdb", r.Path+"?access_mode=READ_ONLY")
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb connection: %w", err)
	}
	defer func() { _ = db.Close() }()

	// SET is session scoped, so keep everything on one connection.
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to duckdb: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping duckdb: %w", err)
	}
	if err := applySettings(ctx, conn, r.Params.Settings); err != nil {
		return nil, err
	}

	rows, err := conn.QueryContext(ctx, AspectQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query aspects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out, err := scanRows(rows)
	if err != nil {
		return nil, err
	}
	r.Logger.Debug("read metadata snapshot", "path", r.Path, "rows", len(out))
	return out, nil
}

func applySettings(ctx context.Context, conn *sql.Conn, settings map[string]string) error {
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if !settingName.MatchString(k) {
			return fmt.Errorf("invalid duckdb setting name %q", k)
		}
		value := strings.ReplaceAll(settings[k], "'", "''")
		stmt := fmt.Sprintf("SET %s = '%s'", k, value)
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply setting %s: %w", k, err)
		}
	}
	return nil
}

// scanRows picks the urn, aspect, version and metadata columns by name, ignoring the rest.
func scanRows(rows *sql.Rows) ([]Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}
	index := map[string]int{"urn": -1, "aspect": -1, "version": -1, "metadata": -1}
	for i, c := range cols {
		if _, ok := index[strings.ToLower(c)]; ok {
			index[strings.ToLower(c)] = i
		}
	}
	for _, name := range []string{"urn", "aspect", "metadata"} {
		if index[name] < 0 {
			return nil, fmt.Errorf("metadata_aspect_v2 has no %q column", name)
		}
	}

	var out []Row
	for rows.Next() {
		values := make([]any, len(cols))
		targets := make([]any, len(cols))
		for i := range values {
			targets[i] = &values[i]
		}
		if err := rows.Scan(targets...); err != nil {
			return nil, fmt.Errorf("failed to scan aspect row: %w", err)
		}
		row := Row{
			URN:      asString(values[index["urn"]]),
			Aspect:   asString(values[index["aspect"]]),
			Metadata: asString(values[index["metadata"]]),
		}
		if i := index["version"]; i >= 0 {
			row.Version = asInt(values[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating aspect rows: %w", err)
	}
	return out, nil
}

func asString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	default:
		return fmt.Sprint(x)
	}
}

func asInt(v any) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case int32:
		return int64(x)
	case int:
		return int64(x)
	case float64:
		return int64(x)
	}
	return 0
}
