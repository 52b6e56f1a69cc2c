// Package config loads metalineage configuration from defaults, a YAML file,
// METALINEAGE_ environment variables and command line flags, in that order.
package config

// Config is the full metalineage configuration.
type Config struct {
	Workspace string           `koanf:"workspace" yaml:"workspace"`
	Log       LogConfig        `koanf:"log" yaml:"log"`
	State     StateConfig      `koanf:"state" yaml:"state"`
	Pipeline  PipelineConfig   `koanf:"pipeline" yaml:"pipeline"`
	Snapshot  SnapshotConfig   `koanf:"snapshot" yaml:"snapshot"`
	Resources []ResourceConfig `koanf:"resources" yaml:"resources"`

	// ConfigFile is the file the configuration was read from, if any.
	ConfigFile string `koanf:"-" yaml:"-"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `koanf:"level" yaml:"level"`
	Format string `koanf:"format" yaml:"format"`
}

// StateConfig selects the persisted lineage store.
type StateConfig struct {
	Driver string `koanf:"driver" yaml:"driver"`
	DSN    string `koanf:"dsn" yaml:"dsn"`
}

// PipelineConfig tunes the refresh pipeline.
type PipelineConfig struct {
	Workers                int      `koanf:"workers" yaml:"workers"`
	AssetWorkers           int      `koanf:"asset_workers" yaml:"asset_workers"`
	LineageTypes           []string `koanf:"lineage_types" yaml:"lineage_types"`
	MaxQualifyAttempts     int      `koanf:"max_qualify_attempts" yaml:"max_qualify_attempts"`
	TransformationPlatform string   `koanf:"transformation_platform" yaml:"transformation_platform"`
	ContractColumns        bool     `koanf:"contract_columns" yaml:"contract_columns"`
	Reconcile              bool     `koanf:"reconcile" yaml:"reconcile"`
}

// SnapshotConfig holds settings applied to every metadata snapshot connection.
type SnapshotConfig struct {
	Settings map[string]string `koanf:"settings" yaml:"settings"`
}

// ResourceConfig declares one metadata source.
type ResourceConfig struct {
	ID        string `koanf:"id" yaml:"id"`
	Workspace string `koanf:"workspace" yaml:"workspace,omitempty"`
	Type      string `koanf:"type" yaml:"type"`
	Subtype   string `koanf:"subtype" yaml:"subtype"`
	Snapshot  string `koanf:"snapshot" yaml:"snapshot"`
}
