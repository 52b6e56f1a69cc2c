package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "METALINEAGE_"

// Config file names looked up in the working directory.
var configFileNames = []string{"metalineage.yaml", "metalineage.yml"}

// sections are the nested config groups. METALINEAGE_PIPELINE_ASSET_WORKERS
// maps to pipeline.asset_workers: only the section separator becomes a dot.
var sections = []string{"log", "state", "pipeline", "snapshot"}

// flagKeys maps global flag names to config keys. Other flags are ignored.
var flagKeys = map[string]string{
	"workspace":     "workspace",
	"log-level":     "log.level",
	"log-format":    "log.format",
	"state-driver":  "state.driver",
	"state-dsn":     "state.dsn",
	"workers":       "pipeline.workers",
	"asset-workers": "pipeline.asset_workers",
	"lineage-types": "pipeline.lineage_types",
}

// findConfigFile returns explicit, or the first default config file present in dir.
func findConfigFile(explicit, dir string) string {
	if explicit != "" {
		return explicit
	}
	for _, name := range configFileNames {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// envKey turns METALINEAGE_STATE_DSN into state.dsn.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	for _, section := range sections {
		if strings.HasPrefix(key, section+"_") {
			return section + "." + strings.TrimPrefix(key, section+"_")
		}
	}
	return key
}

// Load reads the configuration. Precedence (highest to lowest): flags > env vars >
// config file > defaults. An explicit cfgFile must exist; otherwise
// ./metalineage.yaml or ./metalineage.yml is used when present. flags may be nil.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	// 1. Defaults
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config file
	cwd, _ := os.Getwd()
	used := findConfigFile(cfgFile, cwd)
	if used != "" {
		if err := k.Load(file.Provider(used), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", used, err)
		}
	}

	// 3. Environment
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Flags that were explicitly set
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.ConfigFile = used

	baseDir := cwd
	if used != "" {
		if abs, err := filepath.Abs(used); err == nil {
			baseDir = filepath.Dir(abs)
		}
	}
	cfg.expand(baseDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// expand substitutes ${VAR} references and anchors relative paths at baseDir.
func (c *Config) expand(baseDir string) {
	c.State.DSN = expandEnvVars(c.State.DSN)
	if isSQLite(c.State.Driver) && c.State.DSN != ":memory:" && !strings.Contains(c.State.DSN, "?") {
		c.State.DSN = resolvePathRelativeTo(c.State.DSN, baseDir)
	}
	for i := range c.Resources {
		r := &c.Resources[i]
		r.Snapshot = resolvePathRelativeTo(expandEnvVars(r.Snapshot), baseDir)
		if r.Workspace == "" {
			r.Workspace = c.Workspace
		}
	}
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars expands ${VAR} patterns. Unset variables are left as written.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if val := os.Getenv(match[2 : len(match)-1]); val != "" {
			return val
		}
		return match
	})
}

// resolvePathRelativeTo resolves a path relative to baseDir if it's not absolute.
// Returns the path unchanged if it's empty or already absolute.
func resolvePathRelativeTo(path, baseDir string) string {
	if path == "" || filepath.IsAbs(path) || baseDir == "" {
		return path
	}
	return filepath.Join(baseDir, path)
}
