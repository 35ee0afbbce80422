package cmdlogbuf

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/tailscale/hujson"
)

// Config holds the configuration for the command log buffer
type Config struct {
	// BufferSize is the in-memory log buffer size in bytes (default: 100MB)
	BufferSize int `json:"buffer_size"`

	// FlushIdleTimeout is how long the flusher sleeps when the queue is
	// empty before polling again (default: 10ms)
	FlushIdleTimeout time.Duration `json:"-"`

	// FlushIdleTimeoutMS carries FlushIdleTimeout in config files
	FlushIdleTimeoutMS int `json:"flush_idle_timeout_ms,omitempty"`

	// RetiredFiles, when non-nil, receives the path of every log file whose
	// descriptor is closed for good after a rotation. Delivery is
	// non-blocking; a full channel drops the notification.
	RetiredFiles chan<- string `json:"-"`
}

// DefaultConfig returns a configuration with baseline defaults
func DefaultConfig() Config {
	return Config{
		BufferSize:       DefaultBufferSize,
		FlushIdleTimeout: 10 * time.Millisecond,
	}
}

// Validate checks if the configuration is valid and applies defaults where needed
func (c *Config) Validate() error {
	if c.BufferSize == 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.BufferSize < 2*flushAutoSize {
		return fmt.Errorf("buffer size too small (%d bytes), need at least %d", c.BufferSize, 2*flushAutoSize)
	}
	if c.FlushIdleTimeoutMS > 0 {
		c.FlushIdleTimeout = time.Duration(c.FlushIdleTimeoutMS) * time.Millisecond
	}
	if c.FlushIdleTimeout <= 0 {
		c.FlushIdleTimeout = 10 * time.Millisecond
	}
	return nil
}

// LoadConfig reads a config file in HuJSON form (JSON with comments and
// trailing commas) and validates it.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}
