package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/rzpsarthak13/tablekeeper/internal/core"
)

// Config describes a relational database connection.
type Config struct {
	Type              string
	Host              string
	Port              int
	Database          string
	Username          string
	Password          string
	DSN               string // overrides the fields above when set; a file path for sqlite
	MaxOpenConns      int
	MaxIdleConns      int
	ConnMaxLifetime   time.Duration
	ConnMaxIdleTime   time.Duration
	ConnectionTimeout time.Duration
	Logger            *slog.Logger
}

// Factory opens databases of one type.
type Factory interface {
	// Create opens and pings a database for config.
	Create(config Config) (core.Database, error)

	// Type returns the type identifier for this factory (e.g., "mysql").
	Type() string

	// Validate validates the configuration specific to this database type.
	Validate(config Config) error
}

var (
	factoryRegistry = make(map[string]Factory)
	registryMutex   sync.RWMutex
)

// RegisterFactory registers a database factory. It is called from the
// init function of each driver file and panics on duplicates.
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

// Create opens a database using the factory registered for config.Type.
func Create(config Config) (core.Database, error) {
	if config.Type == "" {
		return nil, fmt.Errorf("%w: database type is required", core.ErrConfiguration)
	}

	registryMutex.RLock()
	factory, exists := factoryRegistry[config.Type]
	registryMutex.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: unsupported database type: %s", core.ErrConfiguration, config.Type)
	}
	if err := factory.Validate(config); err != nil {
		return nil, fmt.Errorf("%w: invalid configuration for %s: %v", core.ErrConfiguration, config.Type, err)
	}
	return factory.Create(config)
}

// GetRegisteredTypes returns the registered database types, sorted.
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

// IsTypeRegistered checks if a database type is registered.
func IsTypeRegistered(dbType string) bool {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	_, exists := factoryRegistry[dbType]
	return exists
}

// openPool opens a pool, applies the pool settings of config and pings it.
func openPool(driver, dsn string, config Config) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	}
	if config.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(config.ConnMaxIdleTime)
	}

	timeout := config.ConnectionTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}
