package core

import (
	"fmt"
	"strings"
)

// LineageType selects which connection kinds count as lineage.
type LineageType string

// Lineage type constants.
const (
	// LineageAll keeps value edges and influence edges.
	LineageAll LineageType = "all"
	// LineageDirectOnly keeps only as_is and transform edges.
	LineageDirectOnly LineageType = "direct_only"
)

// LineageTypes lists every lineage type in processing order.
var LineageTypes = []LineageType{LineageAll, LineageDirectOnly}

// ParseLineageType validates s as a lineage type.
func ParseLineageType(s string) (LineageType, error) {
	switch LineageType(s) {
	case LineageAll, LineageDirectOnly:
		return LineageType(s), nil
	}
	return "", fmt.Errorf("unknown lineage type %q", s)
}

// Allows reports whether connections of kind c are kept by this lineage type.
func (l LineageType) Allows(c ConnectionType) bool {
	if l == LineageDirectOnly {
		return c == ConnectionAsIs || c == ConnectionTransform
	}
	return true
}

// ConnectionType is a fine-grained reason two columns are connected.
type ConnectionType string

// Connection type constants.
const (
	ConnectionAsIs      ConnectionType = "as_is"
	ConnectionTransform ConnectionType = "transform"
	ConnectionFilter    ConnectionType = "filter"
	ConnectionJoinKey   ConnectionType = "join_key"
	ConnectionGroupBy   ConnectionType = "group_by"
	ConnectionHaving    ConnectionType = "having"
	ConnectionQualify   ConnectionType = "qualify"
)

// connectionOrder fixes the bit position of every connection type.
var connectionOrder = []ConnectionType{
	ConnectionAsIs,
	ConnectionTransform,
	ConnectionFilter,
	ConnectionJoinKey,
	ConnectionGroupBy,
	ConnectionHaving,
	ConnectionQualify,
}

// IsInfluence reports whether c marks a column that shapes rows rather than values.
func (c ConnectionType) IsInfluence() bool {
	return c != ConnectionAsIs && c != ConnectionTransform
}

// Connections is a set of connection types. It is comparable so it can be used
// as part of a graph edge payload.
type Connections uint8

// NewConnections builds a set from the given types.
func NewConnections(types ...ConnectionType) Connections {
	var c Connections
	for _, t := range types {
		c = c.With(t)
	}
	return c
}

func connectionBit(t ConnectionType) Connections {
	for i, known := range connectionOrder {
		if known == t {
			return 1 << uint(i)
		}
	}
	return 0
}

// With returns the set with t added.
func (c Connections) With(t ConnectionType) Connections {
	return c | connectionBit(t)
}

// Has reports whether t is in the set.
func (c Connections) Has(t ConnectionType) bool {
	bit := connectionBit(t)
	return bit != 0 && c&bit != 0
}

// Union returns the union of both sets.
func (c Connections) Union(o Connections) Connections {
	return c | o
}

// Empty reports whether the set has no members.
func (c Connections) Empty() bool {
	return c == 0
}

// Filter keeps only the members allowed by the lineage type.
func (c Connections) Filter(l LineageType) Connections {
	var out Connections
	for _, t := range c.Types() {
		if l.Allows(t) {
			out = out.With(t)
		}
	}
	return out
}

// Types returns the members in canonical order.
func (c Connections) Types() []ConnectionType {
	var out []ConnectionType
	for i, t := range connectionOrder {
		if c&(1<<uint(i)) != 0 {
			out = append(out, t)
		}
	}
	return out
}

func (c Connections) String() string {
	types := c.Types()
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = string(t)
	}
	return strings.Join(parts, ",")
}

// ColumnEdge is the payload of a column graph edge. Two columns may be joined by
// several edges, one per lineage type.
type ColumnEdge struct {
	LineageType LineageType
	Connections Connections
	// Confidence is zero when unknown; HasConfidence distinguishes a reported zero.
	Confidence    float64
	HasConfidence bool
}

// SameKey reports whether two payloads describe the same lineage type and can be merged.
func (e ColumnEdge) SameKey(o ColumnEdge) bool {
	return e.LineageType == o.LineageType
}

// Merge unions connection kinds and keeps the highest reported confidence.
func (e ColumnEdge) Merge(o ColumnEdge) ColumnEdge {
	out := e
	out.Connections = e.Connections.Union(o.Connections)
	if o.HasConfidence && (!e.HasConfidence || o.Confidence > e.Confidence) {
		out.Confidence = o.Confidence
		out.HasConfidence = true
	}
	return out
}
