package aspect

import (
	"strings"

	"github.com/leapstack-labs/metalineage/internal/dedup"
	"github.com/leapstack-labs/metalineage/pkg/core"
	"github.com/leapstack-labs/metalineage/pkg/urn"
)

type customProperties struct {
	Materialization string `mapstructure:"materialization"`
	NodeType        string `mapstructure:"node_type"`
	UniqueID        string `mapstructure:"dbt_unique_id"`
	CompiledCode    string `mapstructure:"compiled_code"`
	IsView          *bool  `mapstructure:"is_view"`
	Materialized    *bool  `mapstructure:"materialized"`
}

type datasetPropertiesAspect struct {
	Name             string           `mapstructure:"name"`
	Description      string           `mapstructure:"description"`
	QualifiedName    string           `mapstructure:"qualifiedName"`
	CustomProperties customProperties `mapstructure:"customProperties"`
}

type viewPropertiesAspect struct {
	Materialized bool   `mapstructure:"materialized"`
	ViewLogic    string `mapstructure:"viewLogic"`
	ViewLanguage string `mapstructure:"viewLanguage"`
}

type editablePropertiesAspect struct {
	Description string `mapstructure:"description"`
}

type globalTagsAspect struct {
	Tags []struct {
		Tag string `mapstructure:"tag"`
	} `mapstructure:"tags"`
}

// datasetInfo is what one platform variant reports about a dataset.
type datasetInfo struct {
	present  bool
	props    datasetPropertiesAspect
	view     *viewPropertiesAspect
	editable string
	tags     []string
}

func (st *State) datasetInfo(id string) datasetInfo {
	var info datasetInfo
	if p, ok := st.Rows.Latest(id, AspectDatasetProperties); ok {
		if err := decode(p, &info.props); err != nil {
			st.Logger.Warn("skipping undecodable aspect", "urn", id, "aspect", AspectDatasetProperties, "error", err)
		} else {
			info.present = true
		}
	}
	if p, ok := st.Rows.Latest(id, AspectViewProperties); ok {
		var v viewPropertiesAspect
		if err := decode(p, &v); err == nil {
			info.view = &v
			info.present = true
		}
	}
	if p, ok := st.Rows.Latest(id, AspectEditableDatasetProps); ok {
		var e editablePropertiesAspect
		if err := decode(p, &e); err == nil {
			info.editable = e.Description
		}
	}
	if p, ok := st.Rows.Latest(id, AspectGlobalTags); ok {
		var g globalTagsAspect
		if err := decode(p, &g); err == nil {
			for _, t := range g.Tags {
				info.tags = append(info.tags, tagName(t.Tag))
			}
		}
	}
	return info
}

// flags returns the warehouse view flags of a variant.
func (i datasetInfo) flags() (isView, materialized bool) {
	c := i.props.CustomProperties
	if c.IsView != nil {
		isView = *c.IsView
	}
	if c.Materialized != nil {
		materialized = *c.Materialized
	}
	if i.view != nil {
		materialized = materialized || i.view.Materialized
		isView = isView || !i.view.Materialized
	}
	return isView, materialized
}

func (i datasetInfo) sql() string {
	if i.view != nil && i.view.ViewLogic != "" {
		return i.view.ViewLogic
	}
	return i.props.CustomProperties.CompiledCode
}

var declaredMaterializations = map[string]struct {
	m           core.Materialization
	incremental bool
}{
	"view":              {core.MaterializationView, false},
	"table":             {core.MaterializationTable, false},
	"seed":              {core.MaterializationTable, false},
	"incremental":       {core.MaterializationTable, true},
	"materialized_view": {core.MaterializationMaterializedView, false},
	"ephemeral":         {core.MaterializationEphemeral, false},
}

// GetMaterialization maps a transformation tool materialization to the enum and
// incremental flag. Unknown or empty values are inferred from warehouse flags.
func GetMaterialization(declared string, isView, materialized bool) (core.Materialization, bool) {
	if d, ok := declaredMaterializations[strings.ToLower(declared)]; ok {
		return d.m, d.incremental
	}
	switch {
	case materialized:
		return core.MaterializationMaterializedView, false
	case isView:
		return core.MaterializationView, false
	}
	return core.MaterializationTable, false
}

// DatasetInfoStage resolves dataset fields from the transformation tool's and the
// warehouse's view of each dataset, preferring the transformation tool.
type DatasetInfoStage struct{}

// Name implements Stage.
func (DatasetInfoStage) Name() string { return "dataset-info" }

// Apply implements Stage.
func (DatasetInfoStage) Apply(st *State) error {
	for _, u := range st.assetsOfKind(urn.KindDataset) {
		asset := st.Assets[u.String()]
		tID, wID := st.variants(u)
		t := st.datasetInfo(tID)
		var w datasetInfo
		if wID != tID {
			w = st.datasetInfo(wID)
		}

		parts := u.NameParts()
		asset.Name = firstNonEmpty(t.props.Name, w.props.Name, asset.Name, parts[len(parts)-1])
		asset.Description = firstNonEmpty(t.props.Description, w.props.Description, t.editable, w.editable, asset.Description)
		if nodeType := firstNonEmpty(t.props.CustomProperties.NodeType, w.props.CustomProperties.NodeType); nodeType != "" {
			asset.Type = core.AssetType(strings.ToLower(nodeType))
		} else {
			asset.Type = core.AssetTypeDataset
		}
		asset.UniqueName = firstNonEmpty(t.props.CustomProperties.UniqueID, w.props.QualifiedName, u.Name())

		if t.present || w.present {
			declared := t.props.CustomProperties.Materialization
			flagSource := w
			if !w.present {
				flagSource = t
			}
			isView, materialized := flagSource.flags()
			m, incremental := GetMaterialization(declared, isView, materialized)
			asset.Materialization = m
			if _, ok := declaredMaterializations[strings.ToLower(declared)]; ok {
				asset.Config.Incremental = &incremental
			}
		}

		asset.SQL = selectSQL(t.props.CustomProperties.Materialization, t.sql(), w.sql(), asset.SQL)

		if len(parts) > 3 {
			parts = parts[len(parts)-3:]
		}
		asset.DBLocation = parts

		for _, tag := range append(t.tags, w.tags...) {
			asset.AddTag(tag)
		}
	}
	return nil
}

// selectSQL picks the SQL used for lineage. Incremental models compile to
// self-referential SQL, so the warehouse definition wins for them.
func selectSQL(materialization, transformSQL, warehouseSQL, current string) string {
	if strings.EqualFold(materialization, "incremental") && warehouseSQL != "" {
		return warehouseSQL
	}
	return firstNonEmpty(transformSQL, warehouseSQL, current)
}

// variants returns the transformation tool and warehouse ids of a dataset.
// Both are equal when the warehouse platform cannot be told apart.
func (st *State) variants(u urn.Urn) (transform, warehouse string) {
	transform = st.sibling(u, st.TransformationPlatform)
	platform := u.Platform()
	if platform == st.TransformationPlatform {
		platform = st.Resource.Subtype
	}
	if platform == "" || platform == st.TransformationPlatform {
		return transform, transform
	}
	return transform, st.sibling(u, platform)
}

// sibling returns the id under which platform reports u's dataset. Ids seen in
// the rows are matched by dedup key, so their name case may differ from u's.
func (st *State) sibling(u urn.Urn, platform string) string {
	if u.Platform() == platform {
		return u.String()
	}
	for _, candidate := range st.datasetIndex()[dedup.Key(u.String())] {
		if candidate.Platform() == platform && candidate.Env() == u.Env() {
			return candidate.String()
		}
	}
	return u.WithPlatform(platform).String()
}

// datasetIndex maps dedup keys to every dataset id in the rows or the asset dict.
func (st *State) datasetIndex() map[string][]urn.Urn {
	if st.byKey != nil {
		return st.byKey
	}
	st.byKey = make(map[string][]urn.Urn)
	seen := make(map[string]struct{})
	for _, id := range append(st.Rows.IDs(), sortedIDs(st.Assets)...) {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		u, err := urn.Parse(id)
		if err != nil || !u.IsDataset() {
			continue
		}
		key := dedup.Key(id)
		st.byKey[key] = append(st.byKey[key], u)
	}
	return st.byKey
}

func tagName(tag string) string {
	if u, err := urn.Parse(tag); err == nil && u.Kind() == urn.KindTag {
		return u.Name()
	}
	return tag
}
