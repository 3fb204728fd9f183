package client

// Functional options applied during construction in New. Options must be
// deterministic and side-effect free.

import (
	"fmt"
	"time"
)

// Option configures a Client during construction in New.
type Option func(*Client) error

// WithHTTPTimeout sets the total per-request timeout used by the SDK.
//
// Prefer per-request context deadlines where possible; this is a coarse
// safety net bounding connection, redirects, and reading the response.
func WithHTTPTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("http timeout must be > 0")
		}
		c.http.SetTimeout(d)
		return nil
	}
}

// WithToken seeds the client with an already-minted token, skipping SignIn.
func WithToken(token string) Option {
	return func(c *Client) error {
		c.setToken(token)
		return nil
	}
}

// WithDebugLogging dumps each request and response when enabled. Not for
// production use.
func WithDebugLogging(enabled bool) Option {
	return func(c *Client) error {
		c.http.SetDebug(enabled)
		return nil
	}
}

// WithReconnectMaxInterval caps the delay between stream reconnect attempts.
func WithReconnectMaxInterval(d time.Duration) Option {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("reconnect interval must be > 0")
		}
		c.reconnectMax = d
		return nil
	}
}
