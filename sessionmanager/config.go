package sessionmanager

import (
	"errors"
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"
)

// DefaultPartition is the storage partition sessions live in unless
// configured otherwise.
const DefaultPartition = "session"

// Config configures a Manager. Zero values are replaced by defaults; the
// struct can also be loaded from the environment with ConfigFromEnv.
type Config struct {
	// Partition scopes every storage operation. ENV: IDP_SESSION_PARTITION
	Partition string `env:"IDP_SESSION_PARTITION,default=session"`
	// InactivityTimeout is fixed on each session at creation.
	// ENV: IDP_SESSION_TIMEOUT
	InactivityTimeout time.Duration `env:"IDP_SESSION_TIMEOUT,default=30m"`
	// SecretBytes is the length of the random secret bound to each session.
	// ENV: IDP_SESSION_SECRET_BYTES
	SecretBytes int `env:"IDP_SESSION_SECRET_BYTES,default=16"`
	// EvictionQueueSize buffers expiry notices from the storage backend.
	// ENV: IDP_SESSION_EVICTION_QUEUE
	EvictionQueueSize int `env:"IDP_SESSION_EVICTION_QUEUE,default=1024"`
}

// applyDefaults populates zero values with conservative defaults.
func (c *Config) applyDefaults() {
	if c.Partition == "" {
		c.Partition = DefaultPartition
	}
	if c.InactivityTimeout == 0 {
		c.InactivityTimeout = 30 * time.Minute
	}
	if c.SecretBytes == 0 {
		c.SecretBytes = 16
	}
	if c.EvictionQueueSize == 0 {
		c.EvictionQueueSize = 1024
	}
}

func (c Config) validate() error {
	if c.InactivityTimeout < 0 {
		return fmt.Errorf("sessionmanager: negative inactivity timeout %s", c.InactivityTimeout)
	}
	if c.SecretBytes < 0 || c.EvictionQueueSize < 0 {
		return errors.New("sessionmanager: secret length and eviction queue size must not be negative")
	}
	return nil
}

// ConfigFromEnv decodes a Config from the environment.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("decode session config: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}
