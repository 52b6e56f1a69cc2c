package cll

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/metalineage/pkg/core"
)

// Stitch removes the nodes of inner query blocks so that edges connect
// physical columns directly. Each path through a removed node becomes one edge
// whose kinds are composed with Compose.
func Stitch(l *Lineage, intermediate map[string]bool) error {
	if cyclic, path := l.Graph.HasCycle(); cyclic {
		return fmt.Errorf("%w: %s", ErrLineageCycle, strings.Join(path, " -> "))
	}
	order, err := l.Graph.TopologicalSort()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLineageCycle, err)
	}

	for _, id := range order {
		node, ok := l.Nodes[id]
		if !ok || !intermediate[node.Table] {
			continue
		}
		for _, parent := range l.Graph.GetParents(id) {
			in := l.Edge(parent, id)
			for _, child := range l.Graph.GetChildren(id) {
				composed := Compose(in, l.Edge(id, child))
				if composed.Empty() {
					continue
				}
				if err := l.Graph.MergeEdge(parent, child, composed, sameConnections, core.Connections.Union); err != nil {
					return fmt.Errorf("%w: %v", ErrLineageCycle, err)
				}
			}
		}
		l.remove(id)
	}
	return nil
}

// Compose returns the kinds of a path made of an upstream and a downstream
// edge. An influence kind dominates, the downstream one first; two as_is hops
// stay as_is; anything else is a transform.
func Compose(upstream, downstream core.Connections) core.Connections {
	var out core.Connections
	for _, up := range upstream.Types() {
		for _, down := range downstream.Types() {
			out = out.With(composeKind(up, down))
		}
	}
	return out
}

func composeKind(up, down core.ConnectionType) core.ConnectionType {
	switch {
	case down.IsInfluence():
		return down
	case up.IsInfluence():
		return up
	case up == core.ConnectionAsIs && down == core.ConnectionAsIs:
		return core.ConnectionAsIs
	}
	return core.ConnectionTransform
}
