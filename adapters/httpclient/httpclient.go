// Package httpclient builds the pooled HTTP client shared by every HTTP
// collaborator in the process.
package httpclient

import (
	"fmt"
	"net"
	"net/http"
	"time"
)

// Config tunes the shared connection pool
type Config struct {
	// Timeout bounds a whole request. Per-call deadlines come from the
	// caller's context and are usually shorter.
	Timeout             time.Duration `yaml:"timeout"`
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// DefaultConfig returns pool settings sized for a few hosts with many
// concurrent sessions each
func DefaultConfig() Config {
	return Config{
		Timeout:             60 * time.Second,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 32,
		IdleConnTimeout:     90 * time.Second,
	}
}

// Validate checks the pool settings
func (c Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	if c.MaxIdleConnsPerHost < 1 {
		return fmt.Errorf("max_idle_conns_per_host must be at least 1, got %d", c.MaxIdleConnsPerHost)
	}
	return nil
}

// New creates a client with its own keep-alive pool
func New(config Config) *http.Client {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          config.MaxIdleConns,
		MaxIdleConnsPerHost:   config.MaxIdleConnsPerHost,
		IdleConnTimeout:       config.IdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	return &http.Client{
		Timeout:   config.Timeout,
		Transport: transport,
	}
}
