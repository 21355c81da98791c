// Package config defines the environment-driven application configuration.
//
// Configuration is loaded from environment variables using the
// github.com/caarlos0/env library. See the per-domain files for the
// available variables:
//   - database.go: Postgres and Redis connection settings
//   - queue.go: durable queue tuning
//   - services.go: service modes and per-service tuning
//   - oracle.go: field-mapping oracle and browser worker settings
//   - http.go: HTTP server settings
//   - observability.go: logging and metrics settings
package config

import (
	"os"
	"strings"
)

// AppConfig composes the full application configuration.
type AppConfig struct {
	// IsDev controls development mode behavior. Set DEV=true or
	// NODE_ENV=development.
	IsDev bool `env:"DEV" envDefault:"false"`

	Postgres DBConfig    `envPrefix:"DB_"`
	Redis    RedisConfig `envPrefix:"REDIS_"`

	// Services is the comma-delimited list of service modes this process
	// runs. See ParseServices for the valid names.
	Services string `env:"SERVICES" envDefault:"subscriber,worker,monitor,http"`

	Queue        QueueConfig
	Subscriber   SubscriberConfig
	Orchestrator OrchestratorConfig
	Worker       WorkerConfig
	Monitor      MonitorConfig
	Oracle       OracleConfig
	Browser      BrowserConfig

	HTTP          HTTPConfig
	Observability ObservabilityConfig
}

// Sanitize applies guardrails to values loaded from env. Call it after
// env.Parse.
func (c *AppConfig) Sanitize() {
	c.Queue.Sanitize()
	c.Subscriber.Sanitize()
	c.Orchestrator.Sanitize()
	c.Worker.Sanitize()
	c.Monitor.Sanitize()
	c.Oracle.Sanitize()
	c.Browser.Sanitize()
	c.HTTP.Sanitize()
	c.Observability.Sanitize()
	c.detectDevMode()
}

// detectDevMode falls back to NODE_ENV when DEV is unset, matching the
// frontend tooling this service is deployed next to.
func (c *AppConfig) detectDevMode() {
	if !c.IsDev {
		nodeEnv := strings.ToLower(os.Getenv("NODE_ENV"))
		c.IsDev = nodeEnv == "development" || nodeEnv == "dev"
	}
}

// GetEnabledServices returns the service modes enabled for this process.
func (c *AppConfig) GetEnabledServices() (map[ServiceMode]bool, error) {
	return ParseServices(c.Services)
}

// IsSubscriberEnabled returns true when the queue subscriber runs here.
func (c *AppConfig) IsSubscriberEnabled() bool { return c.serviceEnabled(ServiceModeSubscriber) }

// IsWorkerEnabled returns true when the submission worker runs here.
func (c *AppConfig) IsWorkerEnabled() bool { return c.serviceEnabled(ServiceModeWorker) }

// IsMonitorEnabled returns true when the background monitor runs here.
func (c *AppConfig) IsMonitorEnabled() bool { return c.serviceEnabled(ServiceModeMonitor) }

// IsHTTPServerEnabled returns true when the HTTP surface runs here.
func (c *AppConfig) IsHTTPServerEnabled() bool { return c.serviceEnabled(ServiceModeHTTP) }

func (c *AppConfig) serviceEnabled(mode ServiceMode) bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[mode]
}
