package core

// AssetType is the semantic kind of an asset.
type AssetType string

// Asset type constants.
const (
	AssetTypeDataset   AssetType = "dataset"
	AssetTypeTable     AssetType = "table"
	AssetTypeView      AssetType = "view"
	AssetTypeModel     AssetType = "model"
	AssetTypeSeed      AssetType = "seed"
	AssetTypeSnapshot  AssetType = "snapshot"
	AssetTypeSource    AssetType = "source"
	AssetTypeMetric    AssetType = "metric"
	AssetTypeAnalysis  AssetType = "analysis"
	AssetTypeChart     AssetType = "chart"
	AssetTypeDashboard AssetType = "dashboard"
)

// AssetConfig holds the enrichment fields set by aspect stages.
// Unset fields stay nil or empty and are omitted on serialization.
type AssetConfig struct {
	Owners      []string       `json:"owners,omitempty" yaml:"owners,omitempty"`
	Views       *int64         `json:"views,omitempty" yaml:"views,omitempty"`
	URL         string         `json:"url,omitempty" yaml:"url,omitempty"`
	Incremental *bool          `json:"incremental,omitempty" yaml:"incremental,omitempty"`
	Extra       map[string]any `json:"extra,omitempty" yaml:"extra,omitempty"`
}

// Asset is a queryable or visual data entity.
type Asset struct {
	ID              string          `json:"id" yaml:"id"`
	Type            AssetType       `json:"type" yaml:"type"`
	Name            string          `json:"name" yaml:"name"`
	Description     string          `json:"description,omitempty" yaml:"description,omitempty"`
	AIDescription   string          `json:"ai_description,omitempty" yaml:"ai_description,omitempty"`
	SQL             string          `json:"sql,omitempty" yaml:"sql,omitempty"`
	Config          AssetConfig     `json:"config" yaml:"config"`
	UniqueName      string          `json:"unique_name,omitempty" yaml:"unique_name,omitempty"`
	Tags            []string        `json:"tags,omitempty" yaml:"tags,omitempty"`
	Tests           []string        `json:"tests,omitempty" yaml:"tests,omitempty"`
	Materialization Materialization `json:"materialization,omitempty" yaml:"materialization,omitempty"`
	DBLocation      []string        `json:"db_location,omitempty" yaml:"db_location,omitempty"`
	ResourceID      string          `json:"resource_id" yaml:"resource_id"`
	WorkspaceID     string          `json:"workspace_id" yaml:"workspace_id"`
	// Placeholder marks a bare asset synthesized only to satisfy a link endpoint.
	Placeholder bool `json:"placeholder,omitempty" yaml:"placeholder,omitempty"`
}

// AddTest appends a test name unless it is already present.
func (a *Asset) AddTest(name string) {
	a.Tests = appendUnique(a.Tests, name)
}

// AddTag appends a tag unless it is already present.
func (a *Asset) AddTag(tag string) {
	a.Tags = appendUnique(a.Tags, tag)
}

// Column is a field belonging to exactly one asset.
type Column struct {
	ID          string   `json:"id" yaml:"id"`
	AssetID     string   `json:"asset_id" yaml:"asset_id"`
	Name        string   `json:"name" yaml:"name"`
	Type        string   `json:"type,omitempty" yaml:"type,omitempty"`
	Nullable    bool     `json:"nullable" yaml:"nullable"`
	Position    int      `json:"position" yaml:"position"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Tests       []string `json:"tests,omitempty" yaml:"tests,omitempty"`
	WorkspaceID string   `json:"workspace_id" yaml:"workspace_id"`
	Placeholder bool     `json:"placeholder,omitempty" yaml:"placeholder,omitempty"`
}

// AddTest appends a test name unless it is already present.
func (c *Column) AddTest(name string) {
	c.Tests = appendUnique(c.Tests, name)
}

// AssetLink is a directed dependency: Target depends on Source.
type AssetLink struct {
	ID          string `json:"id" yaml:"id"`
	SourceID    string `json:"source_id" yaml:"source_id"`
	TargetID    string `json:"target_id" yaml:"target_id"`
	WorkspaceID string `json:"workspace_id" yaml:"workspace_id"`
}

// ColumnLink is a directed column-to-column lineage edge.
type ColumnLink struct {
	ID              string           `json:"id" yaml:"id"`
	SourceID        string           `json:"source_id" yaml:"source_id"`
	TargetID        string           `json:"target_id" yaml:"target_id"`
	LineageType     LineageType      `json:"lineage_type" yaml:"lineage_type"`
	ConnectionTypes []ConnectionType `json:"connection_types" yaml:"connection_types"`
	Confidence      *float64         `json:"confidence,omitempty" yaml:"confidence,omitempty"`
	WorkspaceID     string           `json:"workspace_id" yaml:"workspace_id"`
}

// AssetError is a non-fatal failure tied to one asset.
type AssetError struct {
	AssetID     string      `json:"asset_id" yaml:"asset_id"`
	Error       ErrorDetail `json:"error" yaml:"error"`
	LineageType LineageType `json:"lineage_type" yaml:"lineage_type"`
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
