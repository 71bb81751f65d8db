// Package config provides configuration management for Fleetscan.
//
// Config file locations (priority order):
//  1. $FLEETSCAN_CONFIG
//  2. ./fleetscan.yaml
//  3. $XDG_CONFIG_HOME/fleetscan/config.yaml
//  4. ~/.config/fleetscan/config.yaml
//  5. /etc/fleetscan/config.yaml
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration
type Config struct {
	Version  int            `yaml:"version"`
	Log      LogConfig      `yaml:"log"`
	Database DatabaseConfig `yaml:"database"`
	Probe    ProbeConfig    `yaml:"probe"`
	Probers  ProbersConfig  `yaml:"probers"`
}

// LogConfig controls logger construction
type LogConfig struct {
	Level string `yaml:"level"`
}

// DatabaseConfig locates the result store
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ProbeConfig holds settings shared by all probers
type ProbeConfig struct {
	// TimeoutMs bounds each prober's whole exchange
	TimeoutMs int `yaml:"timeout_ms"`
}

// ProbersConfig holds per-prober settings
type ProbersConfig struct {
	S7       S7Config       `yaml:"s7"`
	DNS      DNSConfig      `yaml:"dns"`
	ONVIF    ONVIFConfig    `yaml:"onvif"`
	PortScan PortScanConfig `yaml:"portscan"`
	SSH      SSHConfig      `yaml:"ssh"`
}

// S7Config addresses the controller's CPU. Slot is a pointer so an
// explicit `slot: 0` survives defaulting.
type S7Config struct {
	Rack              int  `yaml:"rack"`
	Slot              *int `yaml:"slot,omitempty"`
	ResponseTimeoutMs int  `yaml:"response_timeout_ms"`
}

// DNSConfig shapes the resolver queries
type DNSConfig struct {
	// Domains to query; empty means the target's reverse-lookup name
	Domains    []string `yaml:"domains,omitempty"`
	RecordType string   `yaml:"record_type"`
	Transport  string   `yaml:"transport"`
	// QueryTimeoutMs bounds each individual query
	QueryTimeoutMs int `yaml:"query_timeout_ms"`
}

// ONVIFConfig shapes phase-2 introspection
type ONVIFConfig struct {
	SubTimeoutMs int `yaml:"sub_timeout_ms"`
}

// PortScanConfig selects the ports nmap scans
type PortScanConfig struct {
	Ports string `yaml:"ports"`
}

// SSHConfig names the user presented during the handshake
type SSHConfig struct {
	User string `yaml:"user"`
}

// Load finds and loads the config file, or returns defaults if none found
func Load() (*Config, string, error) {
	path := FindConfigPath()
	if path == "" {
		return DefaultConfig(), "", nil
	}
	return LoadFromPath(path)
}

// LoadFromPath loads config from a specific path
func LoadFromPath(path string) (*Config, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, path, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, path, nil
}

// Save writes config to the specified path
func (c *Config) Save(path string) error {
	if err := EnsureConfigDir(path); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// DefaultConfig returns sensible defaults for a new installation
func DefaultConfig() *Config {
	cfg := &Config{Version: 1}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills in missing values with defaults
func (c *Config) applyDefaults() {
	if c.Version == 0 {
		c.Version = 1
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Probe.TimeoutMs == 0 {
		c.Probe.TimeoutMs = 5000
	}
	if c.Probers.S7.Slot == nil {
		slot := 2
		c.Probers.S7.Slot = &slot
	}
	if c.Probers.S7.ResponseTimeoutMs == 0 {
		c.Probers.S7.ResponseTimeoutMs = 2000
	}
	if c.Probers.DNS.RecordType == "" {
		c.Probers.DNS.RecordType = "PTR"
	}
	if c.Probers.DNS.Transport == "" {
		c.Probers.DNS.Transport = "udp"
	}
	if c.Probers.DNS.QueryTimeoutMs == 0 {
		c.Probers.DNS.QueryTimeoutMs = 2000
	}
	if c.Probers.ONVIF.SubTimeoutMs == 0 {
		c.Probers.ONVIF.SubTimeoutMs = 3000
	}
	if c.Probers.SSH.User == "" {
		c.Probers.SSH.User = "fleetscan"
	}
}
