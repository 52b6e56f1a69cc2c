package cll

import (
	"strings"

	"github.com/leapstack-labs/metalineage/pkg/dialect"
)

// TableKey joins the non-empty parts of a table location with dots.
func TableKey(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, ".")
}

// catalogTable is one table known to the catalog.
type catalogTable struct {
	key     string
	columns []string
	index   map[string]string // folded column name -> declared name
}

// column returns the declared spelling of name.
func (t *catalogTable) column(name string) (string, bool) {
	declared, ok := t.index[dialect.Fold(name)]
	return declared, ok
}

// Catalog is the schema visible to one statement: the asset being analysed and
// its direct dependencies. Lookups are case-insensitive.
type Catalog struct {
	db     string
	schema string
	tables map[string]*catalogTable // folded key -> table
	order  []string
}

// NewCatalog creates a catalog whose unqualified names resolve against db and schema.
func NewCatalog(db, schema string) *Catalog {
	return &Catalog{
		db:     db,
		schema: schema,
		tables: make(map[string]*catalogTable),
	}
}

// Add registers a table under its dotted key. Columns keep their declared order;
// a table without columns is open and cannot be star-expanded.
func (c *Catalog) Add(key string, columns []string) {
	t := &catalogTable{
		key:     key,
		columns: append([]string(nil), columns...),
		index:   make(map[string]string, len(columns)),
	}
	for _, col := range columns {
		t.index[dialect.Fold(col)] = col
	}
	folded := dialect.Fold(key)
	if _, exists := c.tables[folded]; !exists {
		c.order = append(c.order, folded)
	}
	c.tables[folded] = t
}

// Defaults returns the database and schema used to complete partial names.
func (c *Catalog) Defaults() (db, schema string) {
	return c.db, c.schema
}

// Tables returns the registered keys in insertion order.
func (c *Catalog) Tables() []string {
	keys := make([]string, len(c.order))
	for i, folded := range c.order {
		keys[i] = c.tables[folded].key
	}
	return keys
}

// Columns returns the declared columns of key.
func (c *Catalog) Columns(key string) []string {
	if t, ok := c.tables[dialect.Fold(key)]; ok {
		return t.columns
	}
	return nil
}

// HasColumn reports whether key declares column name.
func (c *Catalog) HasColumn(key, name string) bool {
	t, ok := c.tables[dialect.Fold(key)]
	if !ok {
		return false
	}
	_, ok = t.column(name)
	return ok
}

// lookup resolves a dotted table name. An exact match wins; otherwise a unique
// table whose key ends with the given name is used.
func (c *Catalog) lookup(name string) (*catalogTable, bool) {
	folded := dialect.Fold(name)
	if t, ok := c.tables[folded]; ok {
		return t, true
	}

	var found *catalogTable
	for _, key := range c.order {
		if key == folded || strings.HasSuffix(key, "."+folded) {
			if found != nil {
				return nil, false
			}
			found = c.tables[key]
		}
	}
	return found, found != nil
}
