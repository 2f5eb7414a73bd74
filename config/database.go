package config

import "time"

// DBConfig contains PostgreSQL database configuration.
type DBConfig struct {
	Host     string `env:"HOST"     envDefault:"localhost"`
	Port     int    `env:"PORT"     envDefault:"5432"`
	User     string `env:"USER"     envDefault:"enhancer"`
	Password string `env:"PASSWORD" envDefault:"enhancer"`
	Name     string `env:"NAME"     envDefault:"enhancer"`
	SSLMode  string `env:"SSL_MODE" envDefault:"disable"` // Use 'disable' for local dev, 'require' for production
	// MaxOpenConns bounds the shared pool used by every worker in the process.
	MaxOpenConns int `env:"MAX_OPEN_CONNS" envDefault:"25"`
	// RunMigrationsOnStart controls whether the application automatically applies migrations during startup.
	RunMigrationsOnStart bool `env:"RUN_MIGRATIONS_ON_START" envDefault:"true"`
}

// RedisConfig contains Redis configuration.
// Redis is optional; when URI is empty, webhook dedup relies on the database alone.
type RedisConfig struct {
	URI                string   `env:"URI"                  envDefault:""`
	Password           string   `env:"PASSWORD"             envDefault:""`
	SentinelNodes      []string `env:"SENTINEL_NODES"       envDefault:""`
	SentinelMasterName string   `env:"SENTINEL_MASTER_NAME" envDefault:"mymaster"`
	SentinelPassword   string   `env:"SENTINEL_PASSWORD"    envDefault:""`
	UseSentinel        bool     `env:"USE_SENTINEL"         envDefault:"false"`
	ClusterNodes       []string `env:"CLUSTER_NODES"        envDefault:""`
	UseCluster         bool     `env:"USE_CLUSTER"          envDefault:"false"`
	// KeyPrefix namespaces every key this service writes.
	KeyPrefix string `env:"KEY_PREFIX" envDefault:"enhancer"`
	// OpTimeout bounds individual Redis calls so a slow cache never stalls ingestion.
	OpTimeout time.Duration `env:"OP_TIMEOUT" envDefault:"500ms"`
}

// Configured reports whether enough settings are present to connect.
func (c *RedisConfig) Configured() bool {
	switch {
	case c.UseCluster:
		return len(c.ClusterNodes) > 0 || c.URI != ""
	case c.UseSentinel:
		return len(c.SentinelNodes) > 0
	default:
		return c.URI != ""
	}
}
