package aspect

import (
	"github.com/leapstack-labs/metalineage/pkg/core"
	"github.com/leapstack-labs/metalineage/pkg/urn"
)

type schemaMetadataAspect struct {
	Fields []schemaField `mapstructure:"fields"`
}

type schemaField struct {
	FieldPath      string `mapstructure:"fieldPath"`
	NativeDataType string `mapstructure:"nativeDataType"`
	Nullable       bool   `mapstructure:"nullable"`
	Description    string `mapstructure:"description"`
}

// SchemaStage creates a column per schema field. The transformation tool's fields
// are read first; the warehouse's fields then only overwrite the column type.
type SchemaStage struct{}

// Name implements Stage.
func (SchemaStage) Name() string { return "schema" }

// Apply implements Stage.
func (SchemaStage) Apply(st *State) error {
	for _, u := range st.assetsOfKind(urn.KindDataset) {
		tID, wID := st.variants(u)
		variants := []string{tID}
		if wID != tID {
			variants = append(variants, wID)
		}

		for i, variant := range variants {
			authoritative := i > 0
			p, ok := st.Rows.Latest(variant, AspectSchemaMetadata)
			if !ok {
				continue
			}
			var schema schemaMetadataAspect
			if err := decode(p, &schema); err != nil {
				st.Logger.Warn("skipping undecodable aspect", "urn", variant, "aspect", AspectSchemaMetadata, "error", err)
				continue
			}
			for pos, f := range schema.Fields {
				st.addField(u, f, pos, authoritative)
			}
		}
	}
	return nil
}

func (st *State) addField(dataset urn.Urn, f schemaField, pos int, authoritative bool) {
	path := urn.SimplifyFieldPath(f.FieldPath)
	if path == "" {
		return
	}
	id := urn.SchemaField(dataset, path).String()
	if col, ok := st.Columns[id]; ok {
		if authoritative && f.NativeDataType != "" {
			col.Type = f.NativeDataType
		}
		return
	}
	st.Columns[id] = &core.Column{
		ID:          id,
		AssetID:     dataset.String(),
		Name:        path,
		Type:        f.NativeDataType,
		Nullable:    f.Nullable,
		Position:    pos,
		Description: f.Description,
		WorkspaceID: st.Resource.WorkspaceID,
	}
}
