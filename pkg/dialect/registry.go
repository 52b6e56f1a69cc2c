package dialect

import (
	"sort"
	"strings"
	"sync"
)

var (
	dialectsMu sync.RWMutex
	dialects   = make(map[string]*Dialect)
)

// Built-in dialects.
var (
	ANSI = &Dialect{Name: "ansi", IdentQuote: '"', DoubleColonCast: true}

	Postgres = &Dialect{
		Name:                "postgres",
		Aliases:             []string{"postgresql", "redshift"},
		IdentQuote:          '"',
		QuotedCaseSensitive: true,
		DoubleColonCast:     true,
	}

	Snowflake = &Dialect{
		Name:            "snowflake",
		IdentQuote:      '"',
		Qualify:         true,
		DoubleColonCast: true,
		MinusSetOp:      true,
		VariantPath:     true,
	}

	BigQuery = &Dialect{
		Name:       "bigquery",
		IdentQuote: '`',
		Qualify:    true,
	}

	DuckDB = &Dialect{
		Name:            "duckdb",
		IdentQuote:      '"',
		Qualify:         true,
		DoubleColonCast: true,
	}

	Databricks = &Dialect{
		Name:            "databricks",
		Aliases:         []string{"spark", "hive"},
		IdentQuote:      '`',
		Qualify:         true,
		DoubleColonCast: true,
		MinusSetOp:      true,
		VariantPath:     true,
	}

	MySQL = &Dialect{
		Name:          "mysql",
		Aliases:       []string{"mariadb"},
		IdentQuote:    '`',
		AltIdentQuote: '"',
	}
)

func init() {
	for _, d := range []*Dialect{ANSI, Postgres, Snowflake, BigQuery, DuckDB, Databricks, MySQL} {
		Register(d)
	}
}

// Register adds a dialect and its aliases to the registry.
func Register(d *Dialect) {
	dialectsMu.Lock()
	defer dialectsMu.Unlock()
	dialects[strings.ToLower(d.Name)] = d
	for _, alias := range d.Aliases {
		dialects[strings.ToLower(alias)] = d
	}
}

// Get returns a dialect by name or alias.
func Get(name string) (*Dialect, bool) {
	dialectsMu.RLock()
	defer dialectsMu.RUnlock()
	d, ok := dialects[strings.ToLower(strings.TrimSpace(name))]
	return d, ok
}

// GetOrDefault returns the named dialect, falling back to ANSI for unknown names.
func GetOrDefault(name string) *Dialect {
	if d, ok := Get(name); ok {
		return d
	}
	return ANSI
}

// List returns all registered names, aliases included, sorted.
func List() []string {
	dialectsMu.RLock()
	defer dialectsMu.RUnlock()
	names := make([]string, 0, len(dialects))
	for name := range dialects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
