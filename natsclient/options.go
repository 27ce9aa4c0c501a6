package natsclient

import (
	"fmt"
	"log/slog"
	"time"
)

// ClientOption configures a Client
type ClientOption func(*Client) error

// WithLogger sets the logger used for connection events
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		c.logger = logger
		return nil
	}
}

// WithClientName sets the connection name reported to the server
func WithClientName(name string) ClientOption {
	return func(c *Client) error {
		c.clientName = name
		return nil
	}
}

// WithMaxReconnects sets the reconnect attempt limit (-1 for unlimited)
func WithMaxReconnects(n int) ClientOption {
	return func(c *Client) error {
		if n < -1 {
			return fmt.Errorf("max reconnects must be >= -1, got %d", n)
		}
		c.maxReconnects = n
		return nil
	}
}

// WithReconnectWait sets the delay between reconnect attempts
func WithReconnectWait(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("reconnect wait must be positive, got %v", d)
		}
		c.reconnectWait = d
		return nil
	}
}

// WithConnectTimeout sets the dial timeout
func WithConnectTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("connect timeout must be positive, got %v", d)
		}
		c.timeout = d
		return nil
	}
}

// WithDrainTimeout sets how long Close waits for in-flight messages
func WithDrainTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("drain timeout must be positive, got %v", d)
		}
		c.drainTimeout = d
		return nil
	}
}

// WithCircuitThreshold sets consecutive failures before the breaker opens
func WithCircuitThreshold(n int32) ClientOption {
	return func(c *Client) error {
		if n < 1 {
			return fmt.Errorf("circuit threshold must be >= 1, got %d", n)
		}
		c.circuitThreshold = n
		return nil
	}
}

// WithMaxCircuitBackoff caps the breaker's backoff
func WithMaxCircuitBackoff(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("max backoff must be positive, got %v", d)
		}
		c.maxBackoff = d
		return nil
	}
}
