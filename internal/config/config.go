// Package config loads the process-level YAML configuration: addressing
// range, bind timeout, activity-logging default, metrics and log-level
// settings.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level document shape.
type Config struct {
	Bind struct {
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"bind"`

	Addressing struct {
		CIDR         string `yaml:"cidr"`
		BasePort     int    `yaml:"base_port"`
		PortsPerHost int    `yaml:"ports_per_host"`
	} `yaml:"addressing"`

	ActivityLogging bool `yaml:"activity_logging"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`

	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Address string `yaml:"address"`
	} `yaml:"metrics"`
}

func setDefaults(c *Config) {
	if c.Bind.Timeout == 0 {
		c.Bind.Timeout = 10 * time.Second
	}
	if c.Addressing.CIDR == "" {
		c.Addressing.CIDR = "127.0.0.1/8"
	}
	if c.Addressing.BasePort == 0 {
		c.Addressing.BasePort = 9042
	}
	if c.Addressing.PortsPerHost == 0 {
		c.Addressing.PortsPerHost = 1000
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Metrics.Address == "" {
		c.Metrics.Address = ":8187"
	}
}

// Validate reports the first structurally invalid field.
func (c *Config) Validate() error {
	if c.Bind.Timeout <= 0 {
		return fmt.Errorf("config: bind.timeout must be positive")
	}
	if c.Addressing.PortsPerHost <= 0 {
		return fmt.Errorf("config: addressing.ports_per_host must be positive")
	}
	if c.Addressing.BasePort <= 0 || c.Addressing.BasePort > 65535 {
		return fmt.Errorf("config: addressing.base_port out of range")
	}
	return nil
}

// LoadConfig reads path, applies defaults to unset fields, and validates
// the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	setDefaults(&c)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}
