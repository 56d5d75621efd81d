package session

import (
	"fmt"
	"net/url"
	"time"
)

// Config contains session manager configuration
type Config struct {
	// BaseURL of the backend, e.g. https://api.example.com
	BaseURL string

	// Auth endpoints, relative to BaseURL
	LoginPath   string
	RefreshPath string
	LogoutPath  string

	// Bounded timeouts for auth calls. A timeout counts as a network failure.
	LoginTimeout   time.Duration
	RefreshTimeout time.Duration
	LogoutTimeout  time.Duration

	// ExpirySkew refreshes proactively when the access token expires within
	// this window. Zero still refreshes tokens that are already expired.
	ExpirySkew time.Duration

	// LoginRatePerMinute limits local login attempts (0 disables the limit)
	LoginRatePerMinute int
	LoginBurst         int
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() Config {
	return Config{
		LoginPath:      "/auth/login",
		RefreshPath:    "/auth/refresh-token",
		LogoutPath:     "/auth/logout",
		LoginTimeout:   10 * time.Second,
		RefreshTimeout: 10 * time.Second,
		LogoutTimeout:  5 * time.Second,
		ExpirySkew:     10 * time.Second,
		LoginBurst:     5,
	}
}

// Validate checks the configuration and fills unset values with defaults
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL is required")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid base URL scheme %q (must be http or https)", u.Scheme)
	}

	def := DefaultConfig()
	if c.LoginPath == "" {
		c.LoginPath = def.LoginPath
	}
	if c.RefreshPath == "" {
		c.RefreshPath = def.RefreshPath
	}
	if c.LogoutPath == "" {
		c.LogoutPath = def.LogoutPath
	}
	if c.LoginTimeout <= 0 {
		c.LoginTimeout = def.LoginTimeout
	}
	if c.RefreshTimeout <= 0 {
		c.RefreshTimeout = def.RefreshTimeout
	}
	if c.LogoutTimeout <= 0 {
		c.LogoutTimeout = def.LogoutTimeout
	}
	if c.ExpirySkew < 0 {
		return fmt.Errorf("expiry skew must not be negative")
	}
	if c.LoginRatePerMinute < 0 {
		return fmt.Errorf("login rate must not be negative")
	}
	if c.LoginRatePerMinute > 0 && c.LoginBurst <= 0 {
		c.LoginBurst = def.LoginBurst
	}

	return nil
}

// endpoint joins a path onto BaseURL
func (c *Config) endpoint(path string) (string, error) {
	return url.JoinPath(c.BaseURL, path)
}
