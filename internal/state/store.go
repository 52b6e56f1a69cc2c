// Package state persists lineage plans. It keeps assets, columns, links and
// per-asset errors in SQLite or PostgreSQL, replacing everything owned by a set
// of resources in one transaction, and records the history of refresh runs.
package state

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

//go:embed migrations/*.sql
var migrations embed.FS

// goose keeps its base FS and dialect in package globals.
var gooseMu sync.Mutex

// ErrNotFound is returned when a single record lookup matches nothing.
var ErrNotFound = errors.New("not found")

// Driver names a supported database backend.
type Driver string

// Supported drivers.
const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// ParseDriver validates a driver name. "postgresql" and "pgx" are accepted as aliases.
func ParseDriver(s string) (Driver, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sqlite", "sqlite3", "":
		return DriverSQLite, nil
	case "postgres", "postgresql", "pgx":
		return DriverPostgres, nil
	}
	return "", fmt.Errorf("unknown state driver %q (expected sqlite or postgres)", s)
}

func (d Driver) sqlDriver() string {
	if d == DriverPostgres {
		return "pgx"
	}
	return "sqlite"
}

func (d Driver) gooseDialect() string {
	if d == DriverPostgres {
		return "postgres"
	}
	return "sqlite"
}

func (d Driver) placeholder() sq.PlaceholderFormat {
	if d == DriverPostgres {
		return sq.Dollar
	}
	return sq.Question
}

const defaultBatchSize = 200

// Store is the persisted lineage store.
type Store struct {
	db        *sql.DB
	driver    Driver
	sb        sq.StatementBuilderType
	logger    *slog.Logger
	batchSize int
	now       func() time.Time
}

// Open connects to dsn with the given driver and applies pending migrations.
// For SQLite, ":memory:" opens a private in-memory database.
func Open(ctx context.Context, driver Driver, dsn string, logger *slog.Logger) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("state dsn is empty")
	}
	if driver == DriverSQLite && dsn != ":memory:" && !strings.Contains(dsn, "?") {
		dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open(driver.sqlDriver(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s state store: %w", driver, err)
	}
	if driver == DriverSQLite && strings.HasPrefix(dsn, ":memory:") {
		// Every pooled connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s state store: %w", driver, err)
	}

	s := New(db, driver, logger)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an already opened database. Migrations are not applied.
func New(db *sql.DB, driver Driver, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{
		db:        db,
		driver:    driver,
		sb:        sq.StatementBuilder.PlaceholderFormat(driver.placeholder()),
		logger:    logger,
		batchSize: defaultBatchSize,
		now:       time.Now,
	}
}

// Driver returns the backend the store talks to.
func (s *Store) Driver() Driver {
	return s.driver
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Migrate runs all pending migrations.
func (s *Store) Migrate(ctx context.Context) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	if err := s.configureGoose(); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, s.db, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// MigrationVersion returns the current migration version.
func (s *Store) MigrationVersion(ctx context.Context) (int64, error) {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	if err := s.configureGoose(); err != nil {
		return 0, err
	}
	return goose.GetDBVersionContext(ctx, s.db)
}

func (s *Store) configureGoose() error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(gooseLogger{s.logger})
	if err := goose.SetDialect(s.driver.gooseDialect()); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}
	return nil
}

// gooseLogger routes migration output to the store logger at debug level.
type gooseLogger struct {
	logger *slog.Logger
}

func (l gooseLogger) Printf(format string, v ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)), "component", "migrate")
}

func (l gooseLogger) Fatalf(format string, v ...any) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, v...)), "component", "migrate")
}
