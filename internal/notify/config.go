package notify

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds ntfy alert configuration for reader link changes.
type Config struct {
	Enabled  bool          // Whether alerts are sent at all
	Server   string        // ntfy server URL (default: https://ntfy.sh)
	Topic    string        // Topic name (required if enabled)
	Priority string        // Priority for recovery alerts: min, low, default, high, urgent
	Tags     string        // Comma-separated emoji tags
	Token    string        // Optional access token for private topics
	Timeout  time.Duration // Per-request timeout
}

// LoadConfig loads alert config from environment variables.
func LoadConfig() *Config {
	return &Config{
		Enabled:  getEnvBoolOrDefault("NTFY_ENABLED", false),
		Server:   getEnvOrDefault("NTFY_SERVER", "https://ntfy.sh"),
		Topic:    os.Getenv("NTFY_TOPIC"),
		Priority: getEnvOrDefault("NTFY_PRIORITY", "default"),
		Tags:     getEnvOrDefault("NTFY_TAGS", "credit_card"),
		Token:    os.Getenv("NTFY_TOKEN"),
		Timeout:  getEnvDurationOrDefault("NTFY_TIMEOUT", 10*time.Second),
	}
}

// Validate checks configuration is valid when enabled.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Topic == "" {
		return errors.New("NTFY_TOPIC is required when NTFY_ENABLED=true")
	}

	validPriorities := map[string]bool{
		"min": true, "low": true, "default": true, "high": true, "urgent": true,
	}
	if !validPriorities[c.Priority] {
		return fmt.Errorf("invalid NTFY_PRIORITY: %s (valid: min, low, default, high, urgent)", c.Priority)
	}

	if c.Timeout <= 0 {
		return fmt.Errorf("invalid NTFY_TIMEOUT: %s (must be positive)", c.Timeout)
	}

	return nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
