// Package config loads dnscat2 client settings from an optional YAML file,
// layered underneath whatever the command line overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config mirrors the client's command-line surface so a deployment can be
// driven entirely from a checked-in file instead of a long flag list.
type Config struct {
	Domain           string        `yaml:"domain"`
	DNSServer        string        `yaml:"dns_server"`
	DNSPort          uint16        `yaml:"dns_port"`
	DNSTypes         string        `yaml:"dns_types"`
	Secret           string        `yaml:"secret"`
	NoEncryption     bool          `yaml:"no_encryption"`
	Delay            time.Duration `yaml:"delay"`
	MaxRetransmits   int           `yaml:"max_retransmits"`
	PacketTrace      bool          `yaml:"packet_trace"`
	MetricsAddr      string        `yaml:"metrics_addr"`
	LogLevel         string        `yaml:"log_level"`
}

// Default returns the built-in defaults. Command-line flags replace them
// only when the user sets a flag explicitly.
func Default() *Config {
	return &Config{
		DNSPort:        53,
		DNSTypes:       "TXT,CNAME,MX",
		Delay:          1000 * time.Millisecond,
		MaxRetransmits: 20,
		LogLevel:       "info",
	}
}

// Load reads a YAML config file and merges it onto the defaults. An empty
// path returns the defaults; a file that does not exist, cannot be read or
// is malformed is an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}
