package cll

import (
	"github.com/leapstack-labs/metalineage/pkg/dialect"
)

// Prune keeps only columns of self and its dependencies. Wildcards are dropped,
// and so are dependency columns the catalog does not declare. Every declared
// column of those tables is then added, with or without edges.
func Prune(l *Lineage, catalog *Catalog, self string, deps []string) {
	tables := make(map[string]string, len(deps)+1)
	for _, key := range append([]string{self}, deps...) {
		tables[dialect.Fold(key)] = key
	}
	selfKey := dialect.Fold(self)

	for id, node := range l.Nodes {
		folded := dialect.Fold(node.Table)
		key, known := tables[folded]
		switch {
		case !known, node.Column == "", node.Column == "*":
			l.remove(id)
		case folded != selfKey && len(catalog.Columns(key)) > 0 && !catalog.HasColumn(key, node.Column):
			l.remove(id)
		}
	}

	for _, key := range append([]string{self}, deps...) {
		for _, col := range catalog.Columns(key) {
			l.AddNode(ColumnNode{Table: key, Column: col})
		}
	}
}
