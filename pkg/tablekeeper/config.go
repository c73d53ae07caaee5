package tablekeeper

import (
	"github.com/rzpsarthak13/tablekeeper/internal/registry"
)

// Config is the root configuration of a Client. It is loaded from YAML or
// JSON and can be overridden by TABLEKEEPER_* environment variables.
type Config = registry.InternalConfig

// TableConfig holds the per-table overrides, keyed by short name in
// Config.Tables.
type TableConfig = registry.InternalTableConfig

// DefaultConfig returns a configuration for a local SQLite database with
// versions kept in the same database.
func DefaultConfig() *Config {
	return registry.DefaultInternalConfig()
}

// LoadConfig reads path (YAML or JSON) on top of the defaults, applies the
// environment overrides and validates the result. An empty path only
// applies the environment.
func LoadConfig(path string) (*Config, error) {
	cm := registry.NewConfigManager()
	if path != "" {
		if err := cm.LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := cm.LoadFromEnv(); err != nil {
		return nil, err
	}
	return cm.GetConfig(), nil
}
