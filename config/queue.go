package config

import "time"

// QueueConfig contains durable queue tuning.
type QueueConfig struct {
	// KeyPrefix namespaces every queue key in Redis.
	KeyPrefix string `env:"QUEUE_KEY_PREFIX" envDefault:"listpilot:submit"`

	// VisibilityTimeout is how long a claimed message stays invisible before
	// it redelivers.
	VisibilityTimeout time.Duration `env:"QUEUE_VISIBILITY_TIMEOUT" envDefault:"5m"`

	// MaxReceiveCount bounds redelivery: a message claimed more times than
	// this routes to the dead-letter queue instead.
	MaxReceiveCount int `env:"QUEUE_MAX_RECEIVE_COUNT" envDefault:"5"`

	// PollInterval is how often an empty long-poll re-checks for messages.
	PollInterval time.Duration `env:"QUEUE_POLL_INTERVAL" envDefault:"500ms"`
}

// Sanitize applies guardrails to queue configuration.
func (c *QueueConfig) Sanitize() {
	if c.KeyPrefix == "" {
		c.KeyPrefix = "listpilot:submit"
	}
	if c.VisibilityTimeout < 30*time.Second {
		c.VisibilityTimeout = 30 * time.Second
	}
	if c.MaxReceiveCount <= 0 {
		c.MaxReceiveCount = 5
	}
	if c.PollInterval < 100*time.Millisecond {
		c.PollInterval = 100 * time.Millisecond
	}
}
