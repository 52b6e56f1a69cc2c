package core

// Materialization describes how an asset is stored in the warehouse.
type Materialization string

// Materialization constants.
const (
	MaterializationNone             Materialization = ""
	MaterializationView             Materialization = "view"
	MaterializationTable            Materialization = "table"
	MaterializationMaterializedView Materialization = "materialized_view"
	MaterializationEphemeral        Materialization = "ephemeral"
)

// Valid reports whether m is one of the known materializations.
func (m Materialization) Valid() bool {
	switch m {
	case MaterializationView, MaterializationTable, MaterializationMaterializedView, MaterializationEphemeral:
		return true
	}
	return false
}
