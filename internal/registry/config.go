package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g.
// TABLEKEEPER_DATABASE_TYPE or TABLEKEEPER_OPTIONS_REDIS_ENDPOINTS.
const EnvPrefix = "TABLEKEEPER_"

// ConfigValidator validates the part of the configuration owned by one
// backend type. Option store and lock backends register one from init.
type ConfigValidator interface {
	// Validate validates config for this backend type.
	Validate(config *InternalConfig) error

	// Type returns the type identifier for this validator (e.g., "redis").
	Type() string
}

var (
	validatorRegistry      = make(map[string]ConfigValidator)
	validatorRegistryMutex sync.RWMutex
)

// ValidationStrategyRegistry registers and looks up config validators.
type ValidationStrategyRegistry struct{}

// Register registers a config validator. It panics if validator is nil, its
// type is empty or already registered.
func (r *ValidationStrategyRegistry) Register(validator ConfigValidator) {
	if validator == nil {
		panic("validator cannot be nil")
	}
	if validator.Type() == "" {
		panic("validator type cannot be empty")
	}

	validatorRegistryMutex.Lock()
	defer validatorRegistryMutex.Unlock()

	if _, exists := validatorRegistry[validator.Type()]; exists {
		panic(fmt.Sprintf("validator for type %q is already registered", validator.Type()))
	}
	validatorRegistry[validator.Type()] = validator
}

// Get retrieves a validator by type.
func (r *ValidationStrategyRegistry) Get(validatorType string) (ConfigValidator, bool) {
	validatorRegistryMutex.RLock()
	defer validatorRegistryMutex.RUnlock()

	validator, exists := validatorRegistry[validatorType]
	return validator, exists
}

// RegisterValidator registers a validator on the default registry. This is
// the preferred way to register validators from init functions.
func RegisterValidator(validator ConfigValidator) {
	defaultValidationRegistry.Register(validator)
}

// GetValidator retrieves a validator by type from the default registry.
func GetValidator(validatorType string) (ConfigValidator, bool) {
	return defaultValidationRegistry.Get(validatorType)
}

var defaultValidationRegistry = &ValidationStrategyRegistry{}

// ConfigManager handles loading and managing configuration from various sources.
type ConfigManager struct {
	config *InternalConfig
}

// NewConfigManager creates a new configuration manager with default configuration.
func NewConfigManager() *ConfigManager {
	return &ConfigManager{
		config: DefaultInternalConfig(),
	}
}

// NewConfigManagerFrom wraps an existing configuration after validating it.
func NewConfigManagerFrom(config *InternalConfig) (*ConfigManager, error) {
	if config == nil {
		config = DefaultInternalConfig()
	}
	cm := &ConfigManager{}
	if err := cm.validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	cm.config = config
	return cm, nil
}

// DefaultInternalConfig returns a configuration with sensible defaults: a
// local SQLite database holding both tables and options.
func DefaultInternalConfig() *InternalConfig {
	return &InternalConfig{
		Namespace: InternalNamespaceConfig{
			Prefix: "tk_",
		},
		Database: InternalDatabaseConfig{
			Type:              "sqlite",
			Database:          "tablekeeper.db",
			MaxOpenConns:      25,
			MaxIdleConns:      5,
			ConnMaxLifetime:   5 * time.Minute,
			ConnMaxIdleTime:   10 * time.Minute,
			ConnectionTimeout: 10 * time.Second,
		},
		OptionStore: InternalOptionStoreConfig{
			Type:      "sql",
			Namespace: "tablekeeper",
			Redis:     defaultRedisConfig(),
		},
		Lock: InternalLockConfig{
			Type:       "auto",
			Timeout:    30 * time.Second,
			Expiry:     2 * time.Minute,
			Tries:      64,
			RetryDelay: 500 * time.Millisecond,
			Redis:      defaultRedisConfig(),
		},
		Events: InternalEventsConfig{
			Type:       "none",
			BufferSize: 1000,
			Kafka: InternalKafkaConfig{
				Brokers:         []string{"localhost:9092"},
				Topic:           "tablekeeper-upgrades",
				BatchSize:       100,
				BatchTimeout:    10 * time.Millisecond,
				WriteTimeout:    10 * time.Second,
				RequiredAcks:    -1, // all replicas
				MaxMessageBytes: 1000000,
			},
		},
		Retention: InternalRetentionConfig{
			Enabled:  false,
			Interval: time.Minute,
			Rate:     50,
			Burst:    10,
		},
		Logging: InternalLoggingConfig{
			Level:  "info",
			Format: "text",
		},
		HTTP: InternalHTTPConfig{
			Addr: ":8080",
		},
		Tables: make(map[string]InternalTableConfig),
	}
}

func defaultRedisConfig() InternalRedisConfig {
	return InternalRedisConfig{
		Endpoints:    []string{"localhost:6379"},
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// LoadFromFile loads configuration from a YAML or JSON file.
// The file format is determined by the file extension (.yaml, .yml, or .json).
func (cm *ConfigManager) LoadFromFile(filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".yaml", ".yml":
		return cm.LoadFromYAML(data)
	case ".json":
		return cm.LoadFromJSON(data)
	default:
		return fmt.Errorf("unsupported config file format: %s (supported: .yaml, .yml, .json)", ext)
	}
}

// LoadFromYAML loads configuration from YAML data on top of the defaults.
func (cm *ConfigManager) LoadFromYAML(data []byte) error {
	config := DefaultInternalConfig()
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}
	return cm.apply(config)
}

// LoadFromJSON loads configuration from JSON data on top of the defaults.
func (cm *ConfigManager) LoadFromJSON(data []byte) error {
	config := DefaultInternalConfig()
	if len(data) > 0 {
		if err := json.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse JSON config: %w", err)
		}
	}
	return cm.apply(config)
}

// LoadFromEnv applies TABLEKEEPER_* environment variables on top of the
// current configuration. Only variables that are set override a value.
func (cm *ConfigManager) LoadFromEnv() error {
	config := cm.clone()
	if err := env.ParseWithOptions(config, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}
	return cm.apply(config)
}

func (cm *ConfigManager) apply(config *InternalConfig) error {
	if config.Tables == nil {
		config.Tables = make(map[string]InternalTableConfig)
	}
	if err := cm.validateConfig(config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	cm.config = config
	return nil
}

func (cm *ConfigManager) clone() *InternalConfig {
	c := *cm.config
	c.Tables = make(map[string]InternalTableConfig, len(cm.config.Tables))
	for k, v := range cm.config.Tables {
		c.Tables[k] = v
	}
	return &c
}

// GetConfig returns the current configuration.
func (cm *ConfigManager) GetConfig() *InternalConfig {
	return cm.config
}

// GetTableConfig returns the configuration for a table short name merged
// with the retention defaults.
func (cm *ConfigManager) GetTableConfig(shortName string) InternalTableConfig {
	tableConfig, exists := cm.config.Tables[shortName]
	if !exists || tableConfig.MaxRows == 0 {
		tableConfig.MaxRows = cm.config.Retention.MaxRows
	}
	return tableConfig
}

// validateConfig validates the configuration. Backend-specific sections are
// checked by the validator registered for the selected type.
func (cm *ConfigManager) validateConfig(config *InternalConfig) error {
	if err := validateDatabase(config.Database); err != nil {
		return err
	}

	if config.OptionStore.Type == "" {
		return fmt.Errorf("option_store.type is required")
	}
	validator, exists := GetValidator(config.OptionStore.Type)
	if !exists {
		return fmt.Errorf("unsupported option store type: %s", config.OptionStore.Type)
	}
	if err := validator.Validate(config); err != nil {
		return fmt.Errorf("option_store validation failed: %w", err)
	}

	switch config.Lock.Type {
	case "", "auto", "database", "memory":
	case "redis":
		validator, exists := GetValidator("redis_lock")
		if !exists {
			return fmt.Errorf("redis lock support is not linked in")
		}
		if err := validator.Validate(config); err != nil {
			return fmt.Errorf("lock validation failed: %w", err)
		}
	default:
		return fmt.Errorf("lock.type must be 'auto', 'database', 'redis' or 'memory'")
	}
	if config.Lock.Timeout <= 0 {
		return fmt.Errorf("lock.timeout must be greater than 0")
	}

	switch config.Events.Type {
	case "", "none", "memory":
	case "kafka":
		if len(config.Events.Kafka.Brokers) == 0 {
			return fmt.Errorf("events.kafka.brokers is required when events.type is 'kafka'")
		}
		if config.Events.Kafka.Topic == "" {
			return fmt.Errorf("events.kafka.topic is required when events.type is 'kafka'")
		}
	default:
		return fmt.Errorf("events.type must be 'none', 'memory' or 'kafka'")
	}

	if config.Retention.Enabled {
		if config.Retention.Interval <= 0 {
			return fmt.Errorf("retention.interval must be greater than 0")
		}
		if config.Retention.Rate <= 0 {
			return fmt.Errorf("retention.rate must be greater than 0")
		}
		if config.Retention.Burst <= 0 {
			return fmt.Errorf("retention.burst must be greater than 0")
		}
	}

	return nil
}

func validateDatabase(db InternalDatabaseConfig) error {
	switch db.Type {
	case "":
		return fmt.Errorf("database.type is required")
	case "sqlite":
		if db.Database == "" && db.DSN == "" {
			return fmt.Errorf("database.database (file path) is required for sqlite")
		}
	case "mysql", "postgres":
		if db.DSN != "" {
			break
		}
		if db.Host == "" {
			return fmt.Errorf("database.host is required")
		}
		if db.Port < 0 || db.Port > 65535 {
			return fmt.Errorf("database.port must be between 1 and 65535")
		}
		if db.Database == "" {
			return fmt.Errorf("database.database is required")
		}
	default:
		return fmt.Errorf("database.type must be 'mysql', 'postgres' or 'sqlite'")
	}
	if db.MaxOpenConns < 0 {
		return fmt.Errorf("database.max_open_conns must be non-negative")
	}
	return nil
}
