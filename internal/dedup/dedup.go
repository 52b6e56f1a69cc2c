// Package dedup recognizes ids that denote the same physical entity under different
// platforms and contracts graphs onto one canonical id per entity.
package dedup

import (
	"fmt"
	"sort"
	"strings"

	"github.com/leapstack-labs/metalineage/internal/dag"
	"github.com/leapstack-labs/metalineage/pkg/urn"
)

// Key returns the dedup key of id. Datasets key on their lower-cased qualified
// name, schema fields on "<table>.<field>", everything else on the id itself.
func Key(id string) string {
	u, err := urn.Parse(id)
	if err != nil {
		return id
	}
	switch u.Kind() {
	case urn.KindDataset:
		return strings.ToLower(u.Name())
	case urn.KindSchemaField:
		return strings.ToLower(u.Name()) + "." + u.FieldPath()
	}
	return id
}

// Priority ranks an id within its dedup group.
type Priority int

// Priorities. Exclude keeps an id out of every group.
const (
	Exclude Priority = iota
	Low
	High
)

func (p Priority) String() string {
	switch p {
	case Exclude:
		return "exclude"
	case Low:
		return "low"
	case High:
		return "high"
	}
	return fmt.Sprintf("Priority(%d)", int(p))
}

// PriorityFunc decides the priority of one id.
type PriorityFunc func(id string) Priority

// BasePriority prefers the transformation platform's variant of a dataset.
// Ids that are not datasets are excluded.
func BasePriority(transformationPlatform string) PriorityFunc {
	return func(id string) Priority {
		u, err := urn.Parse(id)
		if err != nil || !u.IsDataset() {
			return Exclude
		}
		if u.Platform() == transformationPlatform {
			return High
		}
		return Low
	}
}

// PresencePriority prefers ids present in the given dict. Passing the column
// dict makes it usable for schema fields too.
func PresencePriority[V any](assets map[string]V) PriorityFunc {
	return func(id string) Priority {
		u, err := urn.Parse(id)
		if err != nil {
			return Exclude
		}
		switch u.Kind() {
		case urn.KindDataset, urn.KindSchemaField:
			if _, ok := assets[id]; ok {
				return High
			}
			return Low
		}
		return Exclude
	}
}

// Groups groups ids by Key. Members are ordered by the first priority function,
// ties broken by the following ones and then by id. Ids the first function
// excludes are left out.
func Groups(ids []string, prio PriorityFunc, tiebreak ...PriorityFunc) map[string][]string {
	ranks := make(map[string][]Priority, len(ids))
	groups := make(map[string][]string)
	for _, id := range ids {
		p := prio(id)
		if p == Exclude {
			continue
		}
		if _, seen := ranks[id]; seen {
			continue
		}
		rank := []Priority{p}
		for _, f := range tiebreak {
			rank = append(rank, f(id))
		}
		ranks[id] = rank
		k := Key(id)
		groups[k] = append(groups[k], id)
	}

	for _, members := range groups {
		sort.SliceStable(members, func(i, j int) bool {
			ri, rj := ranks[members[i]], ranks[members[j]]
			for n := range ri {
				if ri[n] != rj[n] {
					return ri[n] > rj[n]
				}
			}
			return members[i] < members[j]
		})
	}
	return groups
}

// KeepFirst keeps the highest priority id per dedup key, preserving the input
// order. Ids excluded by f are kept unchanged.
func KeepFirst(ids []string, f PriorityFunc) []string {
	groups := Groups(ids, f)
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if f(id) == Exclude {
			out = append(out, id)
			continue
		}
		if members := groups[Key(id)]; len(members) > 0 && members[0] == id {
			out = append(out, id)
		}
	}
	return out
}

// Contraction records one node merged into another.
type Contraction struct {
	Keep string
	Drop string
}

// ContractGraph contracts every other member of a group that is present in g into
// the group's first member, adding that node if needed. Groups are processed in
// key order so the result is deterministic. Running it again on its own output
// changes nothing.
func ContractGraph[E comparable](g *dag.Graph[E], groups map[string][]string) ([]Contraction, error) {
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var done []Contraction
	for _, k := range keys {
		members := groups[k]
		if len(members) < 2 {
			continue
		}
		keep := members[0]
		for _, id := range members[1:] {
			if !g.HasNode(id) {
				continue
			}
			g.AddNode(keep)
			if err := g.Contract(keep, id); err != nil {
				return done, fmt.Errorf("contract %s into %s: %w", id, keep, err)
			}
			done = append(done, Contraction{Keep: keep, Drop: id})
		}
	}
	return done, nil
}
