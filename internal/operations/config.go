package operations

import (
	"time"

	"bfintake/internal/config"
)

const (
	DefaultWorkers     = 4
	DefaultFileTimeout = 5 * time.Minute
)

// Config represents the pipeline execution configuration
type Config struct {
	// Files processed in parallel within one batch
	Workers int `json:"workers"`

	// Upper bound on one file's parse or export
	FileTimeout time.Duration `json:"file_timeout"`

	// Zip members are buffered up to this size
	MaxMemberBytes int64 `json:"max_member_bytes"`
}

// NewConfig returns the default pipeline configuration
func NewConfig() Config {
	return Config{
		Workers:     DefaultWorkers,
		FileTimeout: DefaultFileTimeout,
	}
}

// ConfigFrom maps the application's pipeline section.
func ConfigFrom(c config.PipelineConfig) Config {
	cfg := Config{
		Workers:        c.Workers,
		FileTimeout:    c.FileTimeout,
		MaxMemberBytes: c.MaxMemberBytes,
	}
	return cfg.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.FileTimeout <= 0 {
		c.FileTimeout = DefaultFileTimeout
	}
	return c
}
