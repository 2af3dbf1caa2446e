package postgres

import (
	"errors"
	"time"
)

// JobStoreConfig configures the job queue. The pool is configured separately via PoolConfig.
type JobStoreConfig struct {
	// TokenSigningSecret keys the HMAC on task tokens. Every server sharing the database
	// must use the same secret.
	TokenSigningSecret []byte

	// QueryTimeout bounds each queue query.
	QueryTimeout time.Duration
}

// Validate checks the configuration is usable.
func (c *JobStoreConfig) Validate() error {
	if len(c.TokenSigningSecret) < 32 {
		return errors.New("token signing secret must be at least 32 bytes")
	}
	if c.QueryTimeout < 0 {
		return errors.New("query timeout must not be negative")
	}
	return nil
}

// ApplyDefaults fills unset fields.
func (c *JobStoreConfig) ApplyDefaults() {
	if c.QueryTimeout == 0 {
		c.QueryTimeout = 10 * time.Second
	}
}
