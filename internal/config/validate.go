package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/leapstack-labs/metalineage/pkg/core"
)

func isSQLite(driver string) bool {
	return driver == "" || strings.EqualFold(driver, "sqlite")
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []error

	switch strings.ToLower(c.State.Driver) {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("state.driver: unknown driver %q (expected sqlite or postgres)", c.State.Driver))
	}
	if c.State.DSN == "" {
		errs = append(errs, errors.New("state.dsn is required"))
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format: unknown format %q (expected text or json)", c.Log.Format))
	}

	if c.Pipeline.Workers < 1 {
		errs = append(errs, fmt.Errorf("pipeline.workers must be at least 1, got %d", c.Pipeline.Workers))
	}
	if c.Pipeline.AssetWorkers < 1 {
		errs = append(errs, fmt.Errorf("pipeline.asset_workers must be at least 1, got %d", c.Pipeline.AssetWorkers))
	}
	if c.Pipeline.MaxQualifyAttempts < 1 {
		errs = append(errs, fmt.Errorf("pipeline.max_qualify_attempts must be at least 1, got %d", c.Pipeline.MaxQualifyAttempts))
	}
	if _, err := c.LineageTypes(); err != nil {
		errs = append(errs, fmt.Errorf("pipeline.lineage_types: %w", err))
	}

	seen := make(map[string]bool, len(c.Resources))
	for i, r := range c.Resources {
		if r.ID == "" {
			errs = append(errs, fmt.Errorf("resources[%d]: id is required", i))
			continue
		}
		if seen[r.ID] {
			errs = append(errs, fmt.Errorf("resources[%d]: duplicate id %q", i, r.ID))
		}
		seen[r.ID] = true
		if _, err := core.ParseResourceType(strings.ToUpper(r.Type)); err != nil {
			errs = append(errs, fmt.Errorf("resource %s: %w", r.ID, err))
		}
		if r.Snapshot == "" {
			errs = append(errs, fmt.Errorf("resource %s: snapshot is required", r.ID))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// LineageTypes parses pipeline.lineage_types, dropping duplicates. Entries may
// hold comma separated lists, as they do when set from the environment.
func (c *Config) LineageTypes() ([]core.LineageType, error) {
	var out []core.LineageType
	seen := make(map[core.LineageType]bool)
	for _, entry := range c.Pipeline.LineageTypes {
		for _, s := range strings.Split(entry, ",") {
			lt, err := core.ParseLineageType(strings.TrimSpace(s))
			if err != nil {
				return nil, err
			}
			if !seen[lt] {
				seen[lt] = true
				out = append(out, lt)
			}
		}
	}
	return out, nil
}

// CoreResources converts the declared resources, keeping their order.
func (c *Config) CoreResources() []core.Resource {
	out := make([]core.Resource, 0, len(c.Resources))
	for _, r := range c.Resources {
		out = append(out, core.Resource{
			ID:           r.ID,
			WorkspaceID:  r.Workspace,
			Type:         core.ResourceType(strings.ToUpper(r.Type)),
			Subtype:      strings.ToLower(r.Subtype),
			SnapshotPath: r.Snapshot,
		})
	}
	return out
}

// Resource returns the declared resource with the given id.
func (c *Config) Resource(id string) (core.Resource, bool) {
	for _, r := range c.CoreResources() {
		if r.ID == id {
			return r, true
		}
	}
	return core.Resource{}, false
}
