package postgres

import (
	"fmt"
)

// Config holds the connection settings for the runtime config database
type Config struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
	// ConnectTimeoutSec is passed to lib/pq as connect_timeout; 0 waits indefinitely.
	ConnectTimeoutSec int `yaml:"connect_timeout_sec"`
}

var sslModes = map[string]bool{
	"disable":     true,
	"require":     true,
	"verify-ca":   true,
	"verify-full": true,
}

// DefaultConfig returns settings for a local development database
func DefaultConfig() *Config {
	return &Config{
		Host:              "localhost",
		Port:              5432,
		User:              "hubgate",
		Password:          "hubgate",
		Database:          "hubgate",
		SSLMode:           "disable",
		ConnectTimeoutSec: 5,
	}
}

// ConnectionString returns a lib/pq key=value connection string
func (c *Config) ConnectionString() string {
	s := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
	if c.ConnectTimeoutSec > 0 {
		s += fmt.Sprintf(" connect_timeout=%d", c.ConnectTimeoutSec)
	}
	return s
}

// Validate checks required fields. An empty SSLMode becomes "disable".
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port <= 0 {
		return fmt.Errorf("port must be positive")
	}
	if c.User == "" {
		return fmt.Errorf("user is required")
	}
	if c.Database == "" {
		return fmt.Errorf("database is required")
	}
	if c.SSLMode == "" {
		c.SSLMode = "disable"
	}
	if !sslModes[c.SSLMode] {
		return fmt.Errorf("unsupported sslmode %q", c.SSLMode)
	}
	if c.ConnectTimeoutSec < 0 {
		return fmt.Errorf("connect_timeout_sec must not be negative")
	}
	return nil
}
