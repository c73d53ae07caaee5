// Package optionstore provides the key-value stores schema versions are
// recorded in.
package optionstore

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/rzpsarthak13/tablekeeper/internal/core"
)

// Factory creates option stores of one type.
type Factory interface {
	// Create creates a new option store based on the provided configuration.
	Create(config Config) (core.OptionStore, error)

	// Type returns the type identifier for this factory (e.g., "redis").
	Type() string

	// Validate validates the configuration specific to this store type.
	Validate(config Config) error
}

// Config represents the configuration needed to create an option store.
type Config struct {
	Type string

	// Namespace prefixes every key in shared stores (redis, dynamodb).
	Namespace string

	// Redis
	Endpoints    []string
	Password     string
	DB           int
	MaxRetries   int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// DynamoDB
	Region          string
	TableName       string
	Endpoint        string // optional, for LocalStack
	AccessKeyID     string // optional, the default chain is used otherwise
	SecretAccessKey string

	// SQL
	Database     core.Database
	OptionsTable string

	Logger *slog.Logger
}

var (
	factoryRegistry = make(map[string]Factory)
	registryMutex   sync.RWMutex
)

// RegisterFactory registers an option store factory. It is called from the
// init function of each implementation and panics on duplicates.
func RegisterFactory(factory Factory) {
	if factory == nil {
		panic("factory cannot be nil")
	}
	if factory.Type() == "" {
		panic("factory type cannot be empty")
	}

	registryMutex.Lock()
	defer registryMutex.Unlock()

	if _, exists := factoryRegistry[factory.Type()]; exists {
		panic(fmt.Sprintf("factory for type %q is already registered", factory.Type()))
	}
	factoryRegistry[factory.Type()] = factory
}

// Create creates an option store using the factory registered for
// config.Type.
func Create(config Config) (core.OptionStore, error) {
	if config.Type == "" {
		return nil, fmt.Errorf("%w: option store type is required", core.ErrConfiguration)
	}

	registryMutex.RLock()
	factory, exists := factoryRegistry[config.Type]
	registryMutex.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: unsupported option store type: %s", core.ErrConfiguration, config.Type)
	}
	if err := factory.Validate(config); err != nil {
		return nil, fmt.Errorf("%w: invalid configuration for %s: %v", core.ErrConfiguration, config.Type, err)
	}
	return factory.Create(config)
}

// GetRegisteredTypes returns the registered option store types, sorted.
func GetRegisteredTypes() []string {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	types := make([]string, 0, len(factoryRegistry))
	for t := range factoryRegistry {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// IsTypeRegistered checks if an option store type is registered.
func IsTypeRegistered(storeType string) bool {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	_, exists := factoryRegistry[storeType]
	return exists
}

// scopedKey renders the flat key used by stores without a scope column.
func scopedKey(namespace string, scope core.Scope, key string) string {
	if namespace == "" {
		namespace = "tablekeeper"
	}
	return namespace + ":" + scope.String() + ":" + key
}

func loggerOrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
