package registry

import (
	"time"
)

// InternalConfig is the configuration every component is built from. The
// public package aliases it to keep a single definition.
type InternalConfig struct {
	Namespace   InternalNamespaceConfig        `yaml:"namespace" json:"namespace" envPrefix:"NAMESPACE_"`
	Database    InternalDatabaseConfig         `yaml:"database" json:"database" envPrefix:"DATABASE_"`
	OptionStore InternalOptionStoreConfig      `yaml:"option_store" json:"option_store" envPrefix:"OPTIONS_"`
	Lock        InternalLockConfig             `yaml:"lock" json:"lock" envPrefix:"LOCK_"`
	Events      InternalEventsConfig           `yaml:"events" json:"events" envPrefix:"EVENTS_"`
	Retention   InternalRetentionConfig        `yaml:"retention" json:"retention" envPrefix:"RETENTION_"`
	Logging     InternalLoggingConfig          `yaml:"logging" json:"logging" envPrefix:"LOG_"`
	HTTP        InternalHTTPConfig             `yaml:"http" json:"http" envPrefix:"HTTP_"`
	Tables      map[string]InternalTableConfig `yaml:"tables,omitempty" json:"tables,omitempty"`
}

// InternalNamespaceConfig selects the physical table namespace.
type InternalNamespaceConfig struct {
	Prefix string `yaml:"prefix" json:"prefix" env:"PREFIX"`
	Tenant string `yaml:"tenant,omitempty" json:"tenant,omitempty" env:"TENANT"`
}

// InternalDatabaseConfig contains configuration for the relational database.
type InternalDatabaseConfig struct {
	Type              string        `yaml:"type" json:"type" env:"TYPE"`
	Host              string        `yaml:"host,omitempty" json:"host,omitempty" env:"HOST"`
	Port              int           `yaml:"port,omitempty" json:"port,omitempty" env:"PORT"`
	Database          string        `yaml:"database" json:"database" env:"NAME"`
	Username          string        `yaml:"username,omitempty" json:"username,omitempty" env:"USERNAME"`
	Password          string        `yaml:"password,omitempty" json:"password,omitempty" env:"PASSWORD"`
	DSN               string        `yaml:"dsn,omitempty" json:"dsn,omitempty" env:"DSN"`
	MaxOpenConns      int           `yaml:"max_open_conns" json:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns      int           `yaml:"max_idle_conns" json:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime   time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	ConnMaxIdleTime   time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time" env:"CONN_MAX_IDLE_TIME"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout" json:"connection_timeout" env:"CONNECTION_TIMEOUT"`
}

// InternalOptionStoreConfig contains configuration for the option store the
// schema versions are kept in.
type InternalOptionStoreConfig struct {
	Type      string                 `yaml:"type" json:"type" env:"TYPE"`
	Namespace string                 `yaml:"namespace,omitempty" json:"namespace,omitempty" env:"NAMESPACE"`
	Table     string                 `yaml:"table,omitempty" json:"table,omitempty" env:"TABLE"`
	Redis     InternalRedisConfig    `yaml:"redis,omitempty" json:"redis,omitempty" envPrefix:"REDIS_"`
	DynamoDB  InternalDynamoDBConfig `yaml:"dynamodb,omitempty" json:"dynamodb,omitempty" envPrefix:"DYNAMODB_"`
}

// InternalRedisConfig contains Redis connection settings.
type InternalRedisConfig struct {
	Endpoints    []string      `yaml:"endpoints" json:"endpoints" env:"ENDPOINTS" envSeparator:","`
	Password     string        `yaml:"password,omitempty" json:"password,omitempty" env:"PASSWORD"`
	DB           int           `yaml:"db" json:"db" env:"DB"`
	PoolSize     int           `yaml:"pool_size" json:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int           `yaml:"min_idle_conns" json:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	MaxRetries   int           `yaml:"max_retries" json:"max_retries" env:"MAX_RETRIES"`
	DialTimeout  time.Duration `yaml:"dial_timeout" json:"dial_timeout" env:"DIAL_TIMEOUT"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout" env:"WRITE_TIMEOUT"`
}

// InternalDynamoDBConfig contains DynamoDB-specific configuration.
type InternalDynamoDBConfig struct {
	Region          string `yaml:"region" json:"region" env:"REGION"`
	TableName       string `yaml:"table_name" json:"table_name" env:"TABLE_NAME"`
	Endpoint        string `yaml:"endpoint,omitempty" json:"endpoint,omitempty" env:"ENDPOINT"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" json:"access_key_id,omitempty" env:"ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" json:"secret_access_key,omitempty" env:"SECRET_ACCESS_KEY"`
}

// InternalLockConfig selects how concurrent upgraders are serialized.
// Type is one of "auto", "database", "redis" or "memory"; auto uses the
// database's advisory locks when it has them and an in-process lock
// otherwise.
type InternalLockConfig struct {
	Type       string              `yaml:"type" json:"type" env:"TYPE"`
	Timeout    time.Duration       `yaml:"timeout" json:"timeout" env:"TIMEOUT"`
	Expiry     time.Duration       `yaml:"expiry" json:"expiry" env:"EXPIRY"`
	Tries      int                 `yaml:"tries" json:"tries" env:"TRIES"`
	RetryDelay time.Duration       `yaml:"retry_delay" json:"retry_delay" env:"RETRY_DELAY"`
	Redis      InternalRedisConfig `yaml:"redis,omitempty" json:"redis,omitempty" envPrefix:"REDIS_"`
}

// InternalEventsConfig selects where upgrade outcomes are published. Type is
// one of "none", "memory" or "kafka".
type InternalEventsConfig struct {
	Type       string              `yaml:"type" json:"type" env:"TYPE"`
	BufferSize int                 `yaml:"buffer_size" json:"buffer_size" env:"BUFFER_SIZE"`
	Kafka      InternalKafkaConfig `yaml:"kafka,omitempty" json:"kafka,omitempty" envPrefix:"KAFKA_"`
}

// InternalKafkaConfig contains Kafka producer settings.
type InternalKafkaConfig struct {
	Brokers         []string      `yaml:"brokers" json:"brokers" env:"BROKERS" envSeparator:","`
	Topic           string        `yaml:"topic" json:"topic" env:"TOPIC"`
	BatchSize       int           `yaml:"batch_size" json:"batch_size" env:"BATCH_SIZE"`
	BatchTimeout    time.Duration `yaml:"batch_timeout" json:"batch_timeout" env:"BATCH_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout" env:"WRITE_TIMEOUT"`
	RequiredAcks    int           `yaml:"required_acks" json:"required_acks" env:"REQUIRED_ACKS"`
	MaxMessageBytes int           `yaml:"max_message_bytes" json:"max_message_bytes" env:"MAX_MESSAGE_BYTES"`
}

// InternalRetentionConfig configures the background trimmer.
type InternalRetentionConfig struct {
	Enabled  bool          `yaml:"enabled" json:"enabled" env:"ENABLED"`
	Interval time.Duration `yaml:"interval" json:"interval" env:"INTERVAL"`
	Rate     int           `yaml:"rate" json:"rate" env:"RATE"` // deletions per second
	Burst    int           `yaml:"burst" json:"burst" env:"BURST"`
	MaxRows  int64         `yaml:"max_rows" json:"max_rows" env:"MAX_ROWS"`
}

// InternalLoggingConfig configures the process logger.
type InternalLoggingConfig struct {
	Level  string `yaml:"level" json:"level" env:"LEVEL"`
	Format string `yaml:"format" json:"format" env:"FORMAT"` // text or json
	SeqURL string `yaml:"seq_url,omitempty" json:"seq_url,omitempty" env:"SEQ_URL"`
}

// InternalHTTPConfig configures the demo host.
type InternalHTTPConfig struct {
	Addr string `yaml:"addr" json:"addr" env:"ADDR"`
}

// InternalTableConfig contains per-table overrides keyed by short name.
type InternalTableConfig struct {
	// MaxRows caps the table size through the retention trimmer; 0 falls
	// back to the retention default, negative disables trimming.
	MaxRows int64 `yaml:"max_rows" json:"max_rows"`
}
