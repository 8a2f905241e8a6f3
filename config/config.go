// Package config loads and validates the static YAML configuration: the
// monitored interface list with capacity thresholds, sampler supervision
// limits, the WebSocket server settings, and ambient logging/stats options.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the complete monitor configuration
type Config struct {
	Server     ServerConfig      `yaml:"server"`
	Interfaces []InterfaceConfig `yaml:"interfaces"`
	Sampler    SamplerConfig     `yaml:"sampler"`
	Hosts      HostsConfig       `yaml:"hosts"`
	Logging    LoggingConfig     `yaml:"logging"`
	Stats      StatsConfig       `yaml:"stats"`
}

// ServerConfig contains WebSocket/HTTP server settings
type ServerConfig struct {
	Name            string `yaml:"name"`
	BindAddress     string `yaml:"bind_address"`
	Port            int    `yaml:"port"`
	MaxConnections  int    `yaml:"max_connections"`
	ClientQueueSize int    `yaml:"client_queue_size"`
}

// InterfaceConfig describes one monitored network interface. Capacity is a
// display threshold for the browser gauge; it never clamps measured data.
type InterfaceConfig struct {
	Name        string  `yaml:"name"`
	CapacityBps float64 `yaml:"capacity_bps"`
}

// SamplerConfig contains iftop subprocess supervision settings
type SamplerConfig struct {
	Command            string `yaml:"command"`
	BackoffBaseSeconds int    `yaml:"backoff_base_seconds"`
	BackoffMaxSeconds  int    `yaml:"backoff_max_seconds"`
	MaxFailures        int    `yaml:"max_failures"`
	TopConnections     int    `yaml:"top_connections"`
}

// HostsConfig contains host-name enrichment settings
type HostsConfig struct {
	Enabled      bool   `yaml:"enabled"`
	EthersPath   string `yaml:"ethers_path"`
	LeaseCommand string `yaml:"lease_command"`
	RefreshCron  string `yaml:"refresh_cron"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Dir           string `yaml:"dir"`
	RetentionDays int    `yaml:"retention_days"`
}

// StatsConfig contains periodic stats display settings
type StatsConfig struct {
	DisplayIntervalSeconds int `yaml:"display_interval_seconds"`
}

// Defaults applied by Load for fields left unset in the YAML file.
const (
	DefaultPort            = 8766
	DefaultMaxConnections  = 100
	DefaultClientQueueSize = 16
	DefaultBackoffBase     = 1
	DefaultBackoffMax      = 30
	DefaultMaxFailures     = 10
	DefaultTopConnections  = 20
	DefaultSamplerCommand  = "iftop"
	DefaultEthersPath      = "/usr/local/etc/ethers"
	DefaultLeaseCommand    = "dhcp-lease-list"
	DefaultRefreshCron     = "@every 5m"
	DefaultStatsInterval   = 60
)

// Load loads configuration from a YAML file and applies defaults.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port <= 0 {
		c.Server.Port = DefaultPort
	}
	if c.Server.MaxConnections <= 0 {
		c.Server.MaxConnections = DefaultMaxConnections
	}
	if c.Server.ClientQueueSize <= 0 {
		c.Server.ClientQueueSize = DefaultClientQueueSize
	}
	if strings.TrimSpace(c.Sampler.Command) == "" {
		c.Sampler.Command = DefaultSamplerCommand
	}
	if c.Sampler.BackoffBaseSeconds <= 0 {
		c.Sampler.BackoffBaseSeconds = DefaultBackoffBase
	}
	if c.Sampler.BackoffMaxSeconds <= 0 {
		c.Sampler.BackoffMaxSeconds = DefaultBackoffMax
	}
	if c.Sampler.MaxFailures <= 0 {
		c.Sampler.MaxFailures = DefaultMaxFailures
	}
	if c.Sampler.TopConnections <= 0 {
		c.Sampler.TopConnections = DefaultTopConnections
	}
	if strings.TrimSpace(c.Hosts.EthersPath) == "" {
		c.Hosts.EthersPath = DefaultEthersPath
	}
	if strings.TrimSpace(c.Hosts.LeaseCommand) == "" {
		c.Hosts.LeaseCommand = DefaultLeaseCommand
	}
	if strings.TrimSpace(c.Hosts.RefreshCron) == "" {
		c.Hosts.RefreshCron = DefaultRefreshCron
	}
	if c.Stats.DisplayIntervalSeconds <= 0 {
		c.Stats.DisplayIntervalSeconds = DefaultStatsInterval
	}
}

// Validate rejects configurations that cannot run: an empty interface list,
// duplicate interface names, or non-positive capacities.
func (c *Config) Validate() error {
	if len(c.Interfaces) == 0 {
		return fmt.Errorf("no interfaces configured")
	}
	seen := make(map[string]bool, len(c.Interfaces))
	for _, iface := range c.Interfaces {
		name := strings.TrimSpace(iface.Name)
		if name == "" {
			return fmt.Errorf("interface with empty name")
		}
		if seen[name] {
			return fmt.Errorf("duplicate interface %q", name)
		}
		seen[name] = true
		if iface.CapacityBps <= 0 {
			return fmt.Errorf("interface %q: capacity_bps must be positive (got %v)",
				name, iface.CapacityBps)
		}
	}
	if c.Sampler.BackoffMaxSeconds < c.Sampler.BackoffBaseSeconds {
		return fmt.Errorf("sampler: backoff_max_seconds (%d) below backoff_base_seconds (%d)",
			c.Sampler.BackoffMaxSeconds, c.Sampler.BackoffBaseSeconds)
	}
	return nil
}

// InterfaceNames returns the configured interface names in file order.
func (c *Config) InterfaceNames() []string {
	names := make([]string, 0, len(c.Interfaces))
	for _, iface := range c.Interfaces {
		names = append(names, iface.Name)
	}
	return names
}

// Capacity returns the configured capacity for an interface, or zero when the
// interface is not configured.
func (c *Config) Capacity(name string) float64 {
	for _, iface := range c.Interfaces {
		if iface.Name == name {
			return iface.CapacityBps
		}
	}
	return 0
}

// Print displays the configuration
func (c *Config) Print() {
	fmt.Printf("Server: %s (port %d, max %d clients)\n",
		c.Server.Name, c.Server.Port, c.Server.MaxConnections)
	for _, iface := range c.Interfaces {
		fmt.Printf("Interface: %s (capacity %.0f bps)\n", iface.Name, iface.CapacityBps)
	}
	fmt.Printf("Sampler: %s (backoff %ds..%ds, max failures %d, top %d)\n",
		c.Sampler.Command, c.Sampler.BackoffBaseSeconds, c.Sampler.BackoffMaxSeconds,
		c.Sampler.MaxFailures, c.Sampler.TopConnections)
	if c.Hosts.Enabled {
		fmt.Printf("Hosts: ethers=%s lease=%s refresh=%s\n",
			c.Hosts.EthersPath, c.Hosts.LeaseCommand, c.Hosts.RefreshCron)
	}
}
