// Package config loads and validates the daemon's YAML configuration.
package config

import (
	"fmt"
	"os"
	"strings"

	"go.yaml.in/yaml/v3"
)

const (
	// EnvConfigPath names the environment variable that overrides the
	// default configuration file path.
	EnvConfigPath = "MULTI_WAN_CONFIG"

	defaultConfigPath = "configs/multi-wan.yaml"

	defaultRouterTimeout = 5  // seconds
	defaultTickInterval  = 10 // seconds
)

// Interface describes one WAN uplink as configured on the router. The list
// of interfaces is loaded once at startup and never changes afterwards.
type Interface struct {
	// Name is the interface name on the router, e.g. "wan1".
	Name string `yaml:"name"`
	// ID is the router-assigned identifier of the interface.
	ID string `yaml:"id"`
	// Priority ranks the uplink among the configured ones; lower values
	// are preferred.
	Priority int `yaml:"priority"`
}

// OPNsense holds the connection settings for the router's management API.
type OPNsense struct {
	Host          string `yaml:"host"`
	Key           string `yaml:"key"`
	Secret        string `yaml:"secret"`
	UseHTTPS      *bool  `yaml:"use_https"`       // default true
	Timeout       int    `yaml:"timeout"`         // request timeout in seconds, default 5
	SkipTLSVerify bool   `yaml:"skip_tls_verify"` // default false
}

// Scheme returns the URL scheme for router API requests.
func (o OPNsense) Scheme() string {
	if o.UseHTTPS == nil || *o.UseHTTPS {
		return "https"
	}
	return "http"
}

// DNS selects the DNS provider and carries its connection settings.
type DNS struct {
	Provider string            `yaml:"provider"`
	Settings map[string]string `yaml:"settings"`
}

// Health configures the optional liveness pings to a healthchecks.io style
// endpoint.
type Health struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

// Config is the root of the daemon configuration.
type Config struct {
	OPNsense   OPNsense    `yaml:"opnsense"`
	Interfaces []Interface `yaml:"interfaces"`
	DNS        DNS         `yaml:"dns"`
	Health     Health      `yaml:"health"`
	// Interval is the reconciliation period in seconds, default 10.
	Interval int `yaml:"interval"`
}

// Load reads the configuration from the path in the MULTI_WAN_CONFIG
// environment variable, defaulting to "configs/multi-wan.yaml".
func Load() (*Config, error) {
	path := os.Getenv(EnvConfigPath)
	if path == "" {
		path = defaultConfigPath
	}
	return LoadFromPath(path)
}

// LoadFromPath reads the configuration from the given file path, expands
// ${ENV_VAR} references in credential fields, applies defaults and
// validates the result.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Expand ${ENV_VAR} references in values that commonly carry secrets.
	cfg.OPNsense.Host = os.ExpandEnv(cfg.OPNsense.Host)
	cfg.OPNsense.Key = os.ExpandEnv(cfg.OPNsense.Key)
	cfg.OPNsense.Secret = os.ExpandEnv(cfg.OPNsense.Secret)
	cfg.Health.URL = os.ExpandEnv(cfg.Health.URL)
	for k, v := range cfg.DNS.Settings {
		cfg.DNS.Settings[k] = os.ExpandEnv(v)
	}

	if cfg.OPNsense.Timeout == 0 {
		cfg.OPNsense.Timeout = defaultRouterTimeout
	}
	if cfg.Interval == 0 {
		cfg.Interval = defaultTickInterval
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	if c.OPNsense.Host == "" {
		missing = append(missing, "opnsense.host")
	}
	if c.OPNsense.Key == "" {
		missing = append(missing, "opnsense.key")
	}
	if c.OPNsense.Secret == "" {
		missing = append(missing, "opnsense.secret")
	}
	if len(c.Interfaces) == 0 {
		missing = append(missing, "interfaces")
	}
	if c.DNS.Provider == "" {
		missing = append(missing, "dns.provider")
	}
	if c.Health.Enabled && c.Health.URL == "" {
		missing = append(missing, "health.url")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config is incomplete, fields missing: %s", strings.Join(missing, ", "))
	}

	seen := make(map[string]bool, len(c.Interfaces))
	for i, ifc := range c.Interfaces {
		if ifc.Name == "" {
			return fmt.Errorf("config: interfaces[%d] is missing a name", i)
		}
		if ifc.ID == "" {
			return fmt.Errorf("config: interface %q is missing an id", ifc.Name)
		}
		if seen[ifc.Name] {
			return fmt.Errorf("config: interface %q is listed twice", ifc.Name)
		}
		seen[ifc.Name] = true
	}

	if c.OPNsense.Timeout < 0 {
		return fmt.Errorf("config: opnsense.timeout must not be negative")
	}
	if c.Interval < 0 {
		return fmt.Errorf("config: interval must not be negative")
	}
	return nil
}
