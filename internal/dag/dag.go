// Package dag provides a directed multigraph keyed by entity id.
// It supports typed edge payloads, cycle detection, topological sorting and node contraction.
package dag

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrNodeNotFound is returned when an operation names a node that is not in the graph.
	ErrNodeNotFound = errors.New("node not found")
	// ErrSelfLoop is returned when an edge would connect a node to itself.
	ErrSelfLoop = errors.New("self-loop")
	// ErrCycle is returned by operations that require an acyclic graph.
	ErrCycle = errors.New("cycle detected")
)

// Edge is a directed edge with its payload.
type Edge[E comparable] struct {
	From string
	To   string
	Data E
}

// Graph is a directed graph whose nodes are string ids. Two nodes may be joined by
// several edges as long as their payloads differ; identical payloads are stored once.
type Graph[E comparable] struct {
	nodes   map[string]struct{}
	edges   map[string]map[string][]E      // parent -> child -> payloads
	parents map[string]map[string]struct{} // child -> parents
}

// NewGraph creates a new empty graph.
func NewGraph[E comparable]() *Graph[E] {
	return &Graph[E]{
		nodes:   make(map[string]struct{}),
		edges:   make(map[string]map[string][]E),
		parents: make(map[string]map[string]struct{}),
	}
}

// AddNode adds a node. Adding an existing node is a no-op.
func (g *Graph[E]) AddNode(id string) {
	if _, exists := g.nodes[id]; exists {
		return
	}
	g.nodes[id] = struct{}{}
	g.edges[id] = make(map[string][]E)
	g.parents[id] = make(map[string]struct{})
}

// HasNode reports whether id is in the graph.
func (g *Graph[E]) HasNode(id string) bool {
	_, ok := g.nodes[id]
	return ok
}

// RemoveNode removes a node and every edge touching it.
func (g *Graph[E]) RemoveNode(id string) {
	if !g.HasNode(id) {
		return
	}
	for child := range g.edges[id] {
		delete(g.parents[child], id)
	}
	for parent := range g.parents[id] {
		delete(g.edges[parent], id)
	}
	delete(g.edges, id)
	delete(g.parents, id)
	delete(g.nodes, id)
}

// AddEdge adds a directed edge from parent to child (child depends on parent).
// Both nodes must already exist.
func (g *Graph[E]) AddEdge(parentID, childID string, data E) error {
	if !g.HasNode(parentID) {
		return fmt.Errorf("parent node %q: %w", parentID, ErrNodeNotFound)
	}
	if !g.HasNode(childID) {
		return fmt.Errorf("child node %q: %w", childID, ErrNodeNotFound)
	}
	if parentID == childID {
		return fmt.Errorf("%w: %s", ErrSelfLoop, parentID)
	}

	for _, existing := range g.edges[parentID][childID] {
		if existing == data {
			return nil
		}
	}
	g.edges[parentID][childID] = append(g.edges[parentID][childID], data)
	g.parents[childID][parentID] = struct{}{}
	return nil
}

// Link adds both nodes if they are missing, then adds the edge.
func (g *Graph[E]) Link(parentID, childID string, data E) error {
	if parentID == childID {
		return fmt.Errorf("%w: %s", ErrSelfLoop, parentID)
	}
	g.AddNode(parentID)
	g.AddNode(childID)
	return g.AddEdge(parentID, childID, data)
}

// MergeEdge adds an edge, combining it with an existing payload on the same node pair
// when same reports a match. Missing nodes are added.
func (g *Graph[E]) MergeEdge(parentID, childID string, data E, same func(a, b E) bool, merge func(a, b E) E) error {
	if parentID == childID {
		return fmt.Errorf("%w: %s", ErrSelfLoop, parentID)
	}
	g.AddNode(parentID)
	g.AddNode(childID)

	payloads := g.edges[parentID][childID]
	for i, existing := range payloads {
		if same(existing, data) {
			payloads[i] = merge(existing, data)
			g.dedupe(parentID, childID)
			return nil
		}
	}
	return g.AddEdge(parentID, childID, data)
}

// dedupe drops repeated payloads on one node pair after an in-place merge.
func (g *Graph[E]) dedupe(parentID, childID string) {
	payloads := g.edges[parentID][childID]
	out := payloads[:0]
	for _, p := range payloads {
		if !containsPayload(out, p) {
			out = append(out, p)
		}
	}
	g.edges[parentID][childID] = out
}

// HasEdge reports whether at least one edge goes from parent to child.
func (g *Graph[E]) HasEdge(parentID, childID string) bool {
	if !g.HasNode(parentID) {
		return false
	}
	return len(g.edges[parentID][childID]) > 0
}

// EdgesBetween returns the payloads of every edge from parent to child.
func (g *Graph[E]) EdgesBetween(parentID, childID string) []E {
	if !g.HasNode(parentID) {
		return nil
	}
	payloads := g.edges[parentID][childID]
	if len(payloads) == 0 {
		return nil
	}
	out := make([]E, len(payloads))
	copy(out, payloads)
	return out
}

// GetParents returns the sorted ids of direct dependencies.
func (g *Graph[E]) GetParents(id string) []string {
	return sortedKeys(g.parents[id])
}

// GetChildren returns the sorted ids of direct dependents.
func (g *Graph[E]) GetChildren(id string) []string {
	children := make([]string, 0, len(g.edges[id]))
	for child := range g.edges[id] {
		children = append(children, child)
	}
	sort.Strings(children)
	return children
}

// Nodes returns all node ids in sorted order.
func (g *Graph[E]) Nodes() []string {
	return sortedKeys(g.nodes)
}

// NodeCount returns the number of nodes.
func (g *Graph[E]) NodeCount() int {
	return len(g.nodes)
}

// EdgeCount returns the number of edges, counting each payload separately.
func (g *Graph[E]) EdgeCount() int {
	count := 0
	for _, children := range g.edges {
		for _, payloads := range children {
			count += len(payloads)
		}
	}
	return count
}

// Edges returns every edge ordered by parent then child id.
func (g *Graph[E]) Edges() []Edge[E] {
	var out []Edge[E]
	for _, parent := range g.Nodes() {
		for _, child := range g.GetChildren(parent) {
			for _, data := range g.edges[parent][child] {
				out = append(out, Edge[E]{From: parent, To: child, Data: data})
			}
		}
	}
	return out
}

// HasCycle checks if the graph contains a cycle.
// Returns true and the cycle path if a cycle is found.
func (g *Graph[E]) HasCycle() (bool, []string) {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)
	var cyclePath []string

	var dfs func(id string, path []string) bool
	dfs = func(id string, path []string) bool {
		visited[id] = true
		recStack[id] = true
		path = append(path, id)

		for _, child := range g.GetChildren(id) {
			if !visited[child] {
				if dfs(child, path) {
					return true
				}
			} else if recStack[child] {
				// Found cycle - extract the cycle path
				for i, n := range path {
					if n == child {
						cyclePath = append(append([]string{}, path[i:]...), child)
						break
					}
				}
				return true
			}
		}

		recStack[id] = false
		return false
	}

	for _, id := range g.Nodes() {
		if !visited[id] {
			if dfs(id, nil) {
				return true, cyclePath
			}
		}
	}

	return false, nil
}

// TopologicalSort returns node ids in topological order (dependencies before dependents).
// Returns an error wrapping ErrCycle if the graph contains a cycle.
func (g *Graph[E]) TopologicalSort() ([]string, error) {
	if hasCycle, cyclePath := g.HasCycle(); hasCycle {
		return nil, fmt.Errorf("%w: %v", ErrCycle, cyclePath)
	}

	visited := make(map[string]bool)
	var result []string

	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		for _, parent := range g.GetParents(id) {
			visit(parent)
		}
		result = append(result, id)
	}

	for _, id := range g.Nodes() {
		visit(id)
	}
	return result, nil
}

// GetUpstreamNodes returns every node the given node transitively depends on.
func (g *Graph[E]) GetUpstreamNodes(id string) []string {
	return g.walk(id, g.GetParents)
}

// GetDownstreamNodes returns every node that transitively depends on the given node.
func (g *Graph[E]) GetDownstreamNodes(id string) []string {
	return g.walk(id, g.GetChildren)
}

func (g *Graph[E]) walk(start string, next func(string) []string) []string {
	seen := make(map[string]struct{})
	queue := next(start)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if _, ok := seen[id]; ok || id == start {
			continue
		}
		seen[id] = struct{}{}
		queue = append(queue, next(id)...)
	}
	return sortedKeys(seen)
}

// GetRoots returns nodes with no parents.
func (g *Graph[E]) GetRoots() []string {
	var roots []string
	for _, id := range g.Nodes() {
		if len(g.parents[id]) == 0 {
			roots = append(roots, id)
		}
	}
	return roots
}

// GetLeaves returns nodes with no children.
func (g *Graph[E]) GetLeaves() []string {
	var leaves []string
	for _, id := range g.Nodes() {
		if len(g.edges[id]) == 0 {
			leaves = append(leaves, id)
		}
	}
	return leaves
}

// Subgraph returns a new graph containing only the given nodes and the edges between them.
func (g *Graph[E]) Subgraph(ids []string) *Graph[E] {
	sub := NewGraph[E]()
	keep := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if g.HasNode(id) {
			keep[id] = struct{}{}
			sub.AddNode(id)
		}
	}
	for id := range keep {
		for child, payloads := range g.edges[id] {
			if _, ok := keep[child]; !ok {
				continue
			}
			for _, data := range payloads {
				_ = sub.AddEdge(id, child, data)
			}
		}
	}
	return sub
}

// Union adds every node and edge of other into g.
func (g *Graph[E]) Union(other *Graph[E]) {
	if other == nil {
		return
	}
	for id := range other.nodes {
		g.AddNode(id)
	}
	for parent, children := range other.edges {
		for child, payloads := range children {
			for _, data := range payloads {
				_ = g.AddEdge(parent, child, data)
			}
		}
	}
}

// Clone returns a deep copy of the graph.
func (g *Graph[E]) Clone() *Graph[E] {
	out := NewGraph[E]()
	out.Union(g)
	return out
}

// Contract merges drop into keep. Every edge touching drop is re-pointed at keep,
// edges that would become self loops are discarded, and drop is removed.
// Contracting a node into itself is a no-op.
func (g *Graph[E]) Contract(keep, drop string) error {
	if !g.HasNode(keep) {
		return fmt.Errorf("contract into %q: %w", keep, ErrNodeNotFound)
	}
	if !g.HasNode(drop) {
		return fmt.Errorf("contract %q: %w", drop, ErrNodeNotFound)
	}
	if keep == drop {
		return nil
	}

	for parent := range g.parents[drop] {
		if parent == keep {
			continue
		}
		for _, data := range g.edges[parent][drop] {
			if err := g.AddEdge(parent, keep, data); err != nil {
				return err
			}
		}
	}
	for child, payloads := range g.edges[drop] {
		if child == keep {
			continue
		}
		for _, data := range payloads {
			if err := g.AddEdge(keep, child, data); err != nil {
				return err
			}
		}
	}

	g.RemoveNode(drop)
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func containsPayload[E comparable](list []E, v E) bool {
	for _, existing := range list {
		if existing == v {
			return true
		}
	}
	return false
}
