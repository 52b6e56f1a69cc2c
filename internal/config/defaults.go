package config

// Default configuration values.
const (
	DefaultWorkspace              = "default"
	DefaultLogLevel               = "info"
	DefaultLogFormat              = "text"
	DefaultStateDriver            = "sqlite"
	DefaultStateDSN               = ".metalineage/state.db"
	DefaultWorkers                = 4
	DefaultAssetWorkers           = 4
	DefaultMaxQualifyAttempts     = 5
	DefaultTransformationPlatform = "dbt"
)

// DefaultLineageTypes are computed when pipeline.lineage_types is unset.
var DefaultLineageTypes = []string{"all", "direct_only"}

func defaults() map[string]any {
	return map[string]any{
		"workspace":                        DefaultWorkspace,
		"log.level":                        DefaultLogLevel,
		"log.format":                       DefaultLogFormat,
		"state.driver":                     DefaultStateDriver,
		"state.dsn":                        DefaultStateDSN,
		"pipeline.workers":                 DefaultWorkers,
		"pipeline.asset_workers":           DefaultAssetWorkers,
		"pipeline.lineage_types":           append([]string(nil), DefaultLineageTypes...),
		"pipeline.max_qualify_attempts":    DefaultMaxQualifyAttempts,
		"pipeline.transformation_platform": DefaultTransformationPlatform,
		"pipeline.contract_columns":        false,
		"pipeline.reconcile":               false,
	}
}
