package github

import (
	"fmt"
	"net/url"
	"time"
)

// Config holds GitHub App connection configuration.
type Config struct {
	// AppID is the numeric GitHub App id used as JWT issuer.
	AppID int64

	// PrivateKey is the App's PEM encoded RSA private key.
	PrivateKey []byte

	// BaseURL is the REST API root, e.g. "https://ghe.example.com/api/v3/".
	// Empty means https://api.github.com/.
	BaseURL string

	// Timeout bounds every HTTP request to the API.
	Timeout time.Duration

	// TokenRefreshMargin renews a cached installation token this long
	// before it expires.
	TokenRefreshMargin time.Duration

	// JWTLifetime is the validity of App JWTs. GitHub rejects anything over 10 minutes.
	JWTLifetime time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig(appID int64, privateKey []byte) *Config {
	return &Config{
		AppID:              appID,
		PrivateKey:         privateKey,
		Timeout:            30 * time.Second,
		TokenRefreshMargin: 5 * time.Minute,
		JWTLifetime:        9 * time.Minute,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.AppID <= 0 {
		return fmt.Errorf("app id must be positive")
	}
	if len(c.PrivateKey) == 0 {
		return fmt.Errorf("private key is required")
	}
	if c.BaseURL != "" {
		if _, err := url.Parse(c.BaseURL); err != nil {
			return fmt.Errorf("invalid base URL: %w", err)
		}
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	if c.JWTLifetime <= 0 || c.JWTLifetime > 10*time.Minute {
		return fmt.Errorf("jwt lifetime must be between 0 and 10m, got %s", c.JWTLifetime)
	}
	return nil
}
