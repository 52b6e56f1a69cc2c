// Package metadata reads raw aspect rows from a metadata snapshot and groups them by entity.
package metadata

import (
	"context"
	"fmt"
	"sort"

	"github.com/leapstack-labs/metalineage/pkg/core"
)

// Row is one raw (urn, aspect, version, payload) tuple.
type Row struct {
	URN      string
	Aspect   string
	Version  int64
	Metadata string
}

// Payload is a decoded aspect body.
type Payload map[string]any

// Reader produces the raw rows of one resource.
type Reader interface {
	ReadRows(ctx context.Context) ([]Row, error)
}

// DatabaseError reports a snapshot that could not be opened or queried.
// It is fatal for the resource being read.
type DatabaseError struct {
	Path string
	Err  error
}

func (e *DatabaseError) Error() string {
	return fmt.Sprintf("metadata snapshot %s: %v", e.Path, e.Err)
}

func (e *DatabaseError) Unwrap() error { return e.Err }

// Kind returns the error kind recorded for database failures.
func (e *DatabaseError) Kind() core.ErrorKind { return core.ErrorKindDatabase }

// MemoryReader serves a fixed set of rows.
type MemoryReader struct {
	Rows []Row
	Err  error
}

// ReadRows returns a copy of the configured rows, or the configured error.
func (m *MemoryReader) ReadRows(ctx context.Context) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return append([]Row(nil), m.Rows...), nil
}

// RowDict maps entity id -> aspect name -> payloads in arrival order.
type RowDict map[string]map[string][]Payload

// Get returns every payload of an aspect for id.
func (d RowDict) Get(id, aspect string) []Payload {
	return d[id][aspect]
}

// Latest returns the last payload of an aspect for id.
func (d RowDict) Latest(id, aspect string) (Payload, bool) {
	list := d[id][aspect]
	if len(list) == 0 {
		return nil, false
	}
	return list[len(list)-1], true
}

// Has reports whether id carries the aspect.
func (d RowDict) Has(id, aspect string) bool {
	return len(d[id][aspect]) > 0
}

// IDs returns the entity ids in sorted order.
func (d RowDict) IDs() []string {
	ids := make([]string, 0, len(d))
	for id := range d {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// WithAspect returns the sorted ids that carry the aspect.
func (d RowDict) WithAspect(aspect string) []string {
	var ids []string
	for id, aspects := range d {
		if len(aspects[aspect]) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (d RowDict) add(id, aspect string, p Payload) {
	aspects, ok := d[id]
	if !ok {
		aspects = make(map[string][]Payload)
		d[id] = aspects
	}
	aspects[aspect] = append(aspects[aspect], p)
}
