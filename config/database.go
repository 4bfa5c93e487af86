package config

import (
	"strings"
	"time"
)

// DBConfig contains PostgreSQL database configuration.
type DBConfig struct {
	Host     string `env:"HOST"     envDefault:"localhost"`
	Port     int    `env:"PORT"     envDefault:"5432"`
	User     string `env:"USER"     envDefault:"clipscore"`
	Password string `env:"PASSWORD" envDefault:"clipscore"`
	Name     string `env:"NAME"     envDefault:"clipscore"`
	SSLMode  string `env:"SSL_MODE" envDefault:"disable"` // Use 'disable' for local dev, 'require' for production
	// RunMigrationsOnStart controls whether the application automatically applies migrations during startup.
	RunMigrationsOnStart bool `env:"RUN_MIGRATIONS_ON_START" envDefault:"true"`
	MaxOpenConns         int  `env:"MAX_OPEN_CONNS"          envDefault:"20"`
}

// RedisConfig contains Redis configuration.
type RedisConfig struct {
	URI                string   `env:"URI"                  envDefault:"localhost:6379"`
	Password           string   `env:"PASSWORD"             envDefault:""`
	DB                 int      `env:"DB"                   envDefault:"0"`
	SentinelNodes      []string `env:"SENTINEL_NODES"       envDefault:""`
	SentinelMasterName string   `env:"SENTINEL_MASTER_NAME" envDefault:"mymaster"`
	SentinelPassword   string   `env:"SENTINEL_PASSWORD"    envDefault:""`
	UseSentinel        bool     `env:"USE_SENTINEL"         envDefault:"false"`
	ClusterNodes       []string `env:"CLUSTER_NODES"        envDefault:""`
	UseCluster         bool     `env:"USE_CLUSTER"          envDefault:"false"`

	// EventsEnabled relays job_update events between instances over Redis pub/sub.
	EventsEnabled bool `env:"EVENTS_ENABLED" envDefault:"false"`
}

// CacheConfig controls the Redis read-through cache for terminal jobs.
type CacheConfig struct {
	Enabled bool          `env:"CACHE_ENABLED" envDefault:"false"`
	JobTTL  time.Duration `env:"CACHE_JOB_TTL" envDefault:"10m"`
}

// Sanitize applies guardrails to cache configuration values.
func (c *CacheConfig) Sanitize() {
	if c.JobTTL < time.Second {
		c.JobTTL = 10 * time.Minute
	}
}

// Addresses returns the configured Redis node addresses for the selected topology.
func (r *RedisConfig) Addresses() []string {
	switch {
	case r.UseCluster:
		return trimAll(r.ClusterNodes)
	case r.UseSentinel:
		return trimAll(r.SentinelNodes)
	default:
		return trimAll([]string{r.URI})
	}
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
