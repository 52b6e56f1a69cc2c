package aspect

import "github.com/leapstack-labs/metalineage/pkg/core"

type ownershipAspect struct {
	Owners []struct {
		Owner string `mapstructure:"owner"`
		Type  string `mapstructure:"type"`
	} `mapstructure:"owners"`
}

// OwnershipStage merges owner ids into Config.Owners without duplicates.
type OwnershipStage struct{}

// Name implements Stage.
func (OwnershipStage) Name() string { return "ownership" }

// Apply implements Stage.
func (OwnershipStage) Apply(st *State) error {
	for _, id := range st.Rows.WithAspect(AspectOwnership) {
		asset, ok := st.Assets[id]
		if !ok {
			continue
		}
		for _, o := range decodeAll[ownershipAspect](st, id, AspectOwnership) {
			for _, owner := range o.Owners {
				if owner.Owner != "" {
					addOwner(asset, owner.Owner)
				}
			}
		}
	}
	return nil
}

func addOwner(a *core.Asset, owner string) {
	for _, existing := range a.Config.Owners {
		if existing == owner {
			return
		}
	}
	a.Config.Owners = append(a.Config.Owners, owner)
}
