package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineageTypeAllows(t *testing.T) {
	for _, c := range connectionOrder {
		assert.True(t, LineageAll.Allows(c), c)
		assert.Equal(t, !c.IsInfluence(), LineageDirectOnly.Allows(c), c)
	}
}

func TestParseLineageType(t *testing.T) {
	lt, err := ParseLineageType("direct_only")
	require.NoError(t, err)
	assert.Equal(t, LineageDirectOnly, lt)

	_, err = ParseLineageType("indirect")
	assert.Error(t, err)
}

func TestConnectionsSet(t *testing.T) {
	c := NewConnections(ConnectionFilter, ConnectionAsIs)
	assert.True(t, c.Has(ConnectionAsIs))
	assert.True(t, c.Has(ConnectionFilter))
	assert.False(t, c.Has(ConnectionTransform))
	assert.Equal(t, []ConnectionType{ConnectionAsIs, ConnectionFilter}, c.Types())
	assert.Equal(t, "as_is,filter", c.String())

	direct := c.Filter(LineageDirectOnly)
	assert.Equal(t, NewConnections(ConnectionAsIs), direct)
	assert.True(t, Connections(0).Filter(LineageAll).Empty())
}

func TestColumnEdgeMerge(t *testing.T) {
	a := ColumnEdge{LineageType: LineageAll, Connections: NewConnections(ConnectionAsIs)}
	b := ColumnEdge{LineageType: LineageAll, Connections: NewConnections(ConnectionJoinKey), Confidence: 0.4, HasConfidence: true}

	require.True(t, a.SameKey(b))
	merged := a.Merge(b)
	assert.Equal(t, NewConnections(ConnectionAsIs, ConnectionJoinKey), merged.Connections)
	assert.True(t, merged.HasConfidence)
	assert.InDelta(t, 0.4, merged.Confidence, 1e-9)

	assert.False(t, a.SameKey(ColumnEdge{LineageType: LineageDirectOnly}))
}
