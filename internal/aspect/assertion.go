package aspect

import (
	"github.com/leapstack-labs/metalineage/internal/dedup"
	"github.com/leapstack-labs/metalineage/pkg/urn"
)

const scopeColumn = "DATASET_COLUMN"

type assertionInfoAspect struct {
	Type             string `mapstructure:"type"`
	Description      string `mapstructure:"description"`
	DatasetAssertion struct {
		Dataset    string   `mapstructure:"dataset"`
		Scope      string   `mapstructure:"scope"`
		Fields     []string `mapstructure:"fields"`
		NativeType string   `mapstructure:"nativeType"`
	} `mapstructure:"datasetAssertion"`
}

// AssertionStage attaches test names to the column or asset an assertion checks.
// An assertion whose dataset matches no asset aborts the resource with *LookupError.
type AssertionStage struct{}

// Name implements Stage.
func (AssertionStage) Name() string { return "assertion" }

// Apply implements Stage.
func (AssertionStage) Apply(st *State) error {
	for _, id := range st.Rows.WithAspect(AspectAssertionInfo) {
		assertion, err := urn.Parse(id)
		if err != nil {
			continue
		}
		for _, info := range decodeAll[assertionInfoAspect](st, id, AspectAssertionInfo) {
			declared := info.DatasetAssertion.Dataset
			if declared == "" {
				st.Logger.Debug("assertion without dataset", "urn", id)
				continue
			}
			dataset, ok := st.resolveDataset(declared)
			if !ok {
				return &LookupError{Assertion: id, Dataset: declared}
			}
			name := firstNonEmpty(info.DatasetAssertion.NativeType, info.Description, assertion.Name())
			st.attachTest(dataset, info, name)
		}
	}
	return nil
}

func (st *State) attachTest(dataset urn.Urn, info assertionInfoAspect, name string) {
	asset := st.Assets[dataset.String()]
	if info.DatasetAssertion.Scope != scopeColumn || len(info.DatasetAssertion.Fields) == 0 {
		asset.AddTest(name)
		return
	}
	for _, field := range info.DatasetAssertion.Fields {
		f, err := urn.Parse(field)
		if err != nil || f.Kind() != urn.KindSchemaField {
			continue
		}
		colID := urn.SchemaField(dataset, f.FieldPath()).String()
		if col, ok := st.Columns[colID]; ok {
			col.AddTest(name)
			continue
		}
		st.Logger.Debug("assertion field has no column, attaching to asset", "column", colID)
		asset.AddTest(name)
	}
}

// resolveDataset finds the asset an assertion's declared dataset refers to. The
// declared id is checked first; otherwise an asset with the same dedup key, in
// any platform or name case, is used.
func (st *State) resolveDataset(declared string) (urn.Urn, bool) {
	u, err := urn.Parse(declared)
	if err != nil || !u.IsDataset() {
		return urn.Urn{}, false
	}
	if _, ok := st.Assets[declared]; ok {
		return u, true
	}
	for _, candidate := range st.datasetIndex()[dedup.Key(declared)] {
		if _, ok := st.Assets[candidate.String()]; ok && candidate.Env() == u.Env() {
			return candidate, true
		}
	}
	return urn.Urn{}, false
}
