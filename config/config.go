package config

import (
	"os"
	"strings"
)

// AppConfig is the main application configuration struct that composes
// domain-specific configuration from separate files.
//
// Configuration is loaded from environment variables using the
// github.com/caarlos0/env library. See individual domain config
// files for details on available environment variables:
//   - database.go: Postgres and Redis configuration
//   - http.go: HTTP server and upload configuration
//   - processor.go: External processor client configuration
//   - services.go: Service mode, worker, queue and reaper configuration
//   - observability.go: Logging and metrics configuration
type AppConfig struct {
	// IsDev enables text logs and debug level. Set DEV=true or APP_ENV=development.
	IsDev bool `env:"DEV" envDefault:"false"`

	Postgres DBConfig    `envPrefix:"DB_"`
	Redis    RedisConfig `envPrefix:"REDIS_"`
	Cache    CacheConfig

	HTTP      HTTPConfig
	Processor ProcessorConfig `envPrefix:"PROCESSOR_"`

	// Services is a comma-delimited list of enabled service modes.
	Services string `env:"SERVICES" envDefault:"http,worker,reaper"`

	Worker WorkerConfig
	Queue  QueueConfig
	Reaper ReaperConfig

	Observability ObservabilityConfig
}

// Sanitize applies guardrails to configuration values loaded from env.
func (c *AppConfig) Sanitize() {
	c.HTTP.Sanitize()
	c.Processor.Sanitize()
	c.Cache.Sanitize()
	c.Worker.Sanitize()
	c.Queue.Sanitize()
	c.Reaper.Sanitize()
	c.Observability.Sanitize()

	c.detectDevMode()
}

// detectDevMode falls back to APP_ENV when DEV is unset.
func (c *AppConfig) detectDevMode() {
	if !c.IsDev {
		appEnv := strings.ToLower(os.Getenv("APP_ENV"))
		c.IsDev = appEnv == "development" || appEnv == "dev"
	}
}

// GetEnabledServices returns the enabled services based on the Services field.
func (c *AppConfig) GetEnabledServices() (map[ServiceMode]bool, error) {
	return ParseServices(c.Services)
}

func (c *AppConfig) serviceEnabled(mode ServiceMode) bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[mode]
}

// IsHTTPServerEnabled returns true if the HTTP server service is enabled.
func (c *AppConfig) IsHTTPServerEnabled() bool { return c.serviceEnabled(ServiceModeHTTP) }

// IsWorkerEnabled returns true if the job worker pool is enabled.
func (c *AppConfig) IsWorkerEnabled() bool { return c.serviceEnabled(ServiceModeWorker) }

// IsReaperEnabled returns true if the recovery sweep is enabled.
func (c *AppConfig) IsReaperEnabled() bool { return c.serviceEnabled(ServiceModeReaper) }

// NeedsRedis reports whether any enabled component requires a Redis connection.
func (c *AppConfig) NeedsRedis() bool {
	return c.Queue.Backend == QueueBackendRedis || c.Cache.Enabled || c.Redis.EventsEnabled
}
