package core

import "fmt"

// ResourceType distinguishes warehouse resources from BI and other tools.
type ResourceType string

// Resource type constants.
const (
	ResourceTypeDB ResourceType = "DB"
	ResourceTypeBI ResourceType = "BI"
)

// ParseResourceType validates s as a resource type.
func ParseResourceType(s string) (ResourceType, error) {
	switch ResourceType(s) {
	case ResourceTypeDB, ResourceTypeBI:
		return ResourceType(s), nil
	}
	return "", fmt.Errorf("unknown resource type %q (expected DB or BI)", s)
}

// Resource describes one metadata source being refreshed.
type Resource struct {
	ID          string
	WorkspaceID string
	Type        ResourceType
	// Subtype is the connector subtype, which doubles as the SQL dialect for DB resources.
	Subtype string
	// SnapshotPath points at the metadata snapshot database.
	SnapshotPath string
}

// IsDB reports whether the resource is a warehouse.
func (r Resource) IsDB() bool {
	return r.Type == ResourceTypeDB
}

// Dialect returns the SQL dialect name of the resource.
func (r Resource) Dialect() string {
	return r.Subtype
}
