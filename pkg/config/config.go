// Package config loads the runtime tunables of the execution engine from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Runtime holds the tunables shared by the orchestrator and its services.
type Runtime struct {
	Circuit   CircuitConfig
	Cache     CacheConfig
	Execution ExecutionConfig
	RateLimit RateLimitConfig
	Blob      BlobConfig
	Debug     DebugConfig
}

type CircuitConfig struct {
	FailureThreshold int           `env:"CIRCUIT_FAILURE_THRESHOLD" envDefault:"5"`
	Cooldown         time.Duration `env:"CIRCUIT_COOLDOWN"          envDefault:"300s"`
	MaxCooldown      time.Duration `env:"CIRCUIT_MAX_COOLDOWN"      envDefault:"3600s"`
}

type CacheConfig struct {
	Enabled    bool          `env:"CACHE_ENABLED"     envDefault:"true"`
	DefaultTTL time.Duration `env:"CACHE_DEFAULT_TTL" envDefault:"3600s"`
}

type ExecutionConfig struct {
	DefaultNodeTimeout time.Duration `env:"NODE_DEFAULT_TIMEOUT"   envDefault:"30s"`
	BackoffUnit        time.Duration `env:"RETRY_BACKOFF_UNIT"     envDefault:"1s"`
	MaxHops            int           `env:"WORKFLOW_MAX_HOPS"      envDefault:"50"`
	PreviewLength      int           `env:"BROADCAST_PREVIEW_LEN"  envDefault:"200"`
	DLQValueLength     int           `env:"DLQ_MAX_VALUE_LEN"      envDefault:"262144"`
}

type RateLimitConfig struct {
	LeaseTTL time.Duration `env:"RATE_LIMIT_LEASE_TTL" envDefault:"3600s"`
}

type BlobConfig struct {
	ThresholdBytes int    `env:"BLOB_THRESHOLD_BYTES" envDefault:"262144"`
	KeyPrefix      string `env:"BLOB_KEY_PREFIX"      envDefault:"executions"`
}

type DebugConfig struct {
	MaxWait time.Duration `env:"DEBUG_MAX_WAIT" envDefault:"300s"`
}

// Load reads the runtime configuration from environment variables.
func Load() (*Runtime, error) {
	cfg := &Runtime{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Default returns the configuration with every default applied.
func Default() *Runtime {
	cfg := &Runtime{}
	_ = env.ParseWithOptions(cfg, env.Options{Environment: map[string]string{}})

	return cfg
}

// Validate checks if the configuration is valid
func (c *Runtime) Validate() error {
	var errs []error

	if c.Circuit.FailureThreshold < 1 {
		errs = append(errs, fmt.Errorf("circuit failure threshold must be at least 1, got %d", c.Circuit.FailureThreshold))
	}

	if c.Circuit.MaxCooldown < c.Circuit.Cooldown {
		errs = append(errs, errors.New("circuit max cooldown must not be lower than cooldown"))
	}

	if c.Execution.MaxHops < 1 {
		errs = append(errs, fmt.Errorf("max hops must be at least 1, got %d", c.Execution.MaxHops))
	}

	if c.Execution.DefaultNodeTimeout <= 0 {
		errs = append(errs, errors.New("default node timeout must be positive"))
	}

	if c.RateLimit.LeaseTTL <= 0 {
		errs = append(errs, errors.New("rate limit lease ttl must be positive"))
	}

	if c.Blob.ThresholdBytes < 0 {
		errs = append(errs, errors.New("blob threshold must not be negative"))
	}

	// Values under the blob threshold stay inline, so the DLQ must hold them whole.
	if c.Execution.DLQValueLength < c.Blob.ThresholdBytes {
		errs = append(errs, fmt.Errorf("dlq max value length %d is below blob threshold %d", c.Execution.DLQValueLength, c.Blob.ThresholdBytes))
	}

	return errors.Join(errs...)
}
