// Package config loads and validates the gateway's startup configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/newtron-network/nsi-gateway/pkg/util"
)

// ConfigurationError wraps a validation failure discovered while loading
// configuration. This kind is fatal at startup — callers are expected to
// log it and exit, not retry.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "config: " + e.Reason
}

func (e *ConfigurationError) Unwrap() error {
	return util.ErrInvalidConfig
}

// PeerEntry names one configured peer NSA this gateway's fetcher polls.
type PeerEntry struct {
	URN string `yaml:"urn"`
	URL string `yaml:"url"`
}

// RESTConfig toggles and secures the optional client REST surface.
// BasicAuthHash is a bcrypt hash, never a plaintext password.
type RESTConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddr    string `yaml:"listen-addr"`
	BasicAuthUser string `yaml:"basic-auth-user"`
	BasicAuthHash string `yaml:"basic-auth-hash"`
}

// DatabaseConfig points at the Redis instance backing the connection
// store's persisted state.
type DatabaseConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Config is the complete set of startup options: `{ host, port, tls,
// key, certificate, certificate-dir, verify-cert, network-name,
// nrm-map-file, peers, policy, rest, plugin, database,
// service-id-start }`.
type Config struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	TLS            bool   `yaml:"tls"`
	Key            string `yaml:"key"`
	Certificate    string `yaml:"certificate"`
	CertificateDir string `yaml:"certificate-dir"`
	VerifyCert     bool   `yaml:"verify-cert"`

	NetworkName string `yaml:"network-name"`
	NRMMapFile  string `yaml:"nrm-map-file"`

	Peers  []PeerEntry `yaml:"peers"`
	Policy string      `yaml:"policy"`

	REST   RESTConfig     `yaml:"rest"`
	Plugin string         `yaml:"plugin"`

	Database DatabaseConfig `yaml:"database"`

	ServiceIDStart int64 `yaml:"service-id-start"`

	// FetchInterval overrides the fetcher's default 60s poll period;
	// zero means use the default.
	FetchInterval string `yaml:"fetch-interval"`

	// HoldTimeout overrides the RESERVE_HELD hold timer's default 120s;
	// zero means use the default.
	HoldTimeout string `yaml:"hold-timeout"`
}

// Default returns a Config with its documented defaults filled in:
// host "0.0.0.0", port 9080, no TLS, service ids starting at 1.
func Default() *Config {
	return &Config{
		Host:           "0.0.0.0",
		Port:           9080,
		ServiceIDStart: 1,
		Policy:         "allow-all",
	}
}

// Load reads and validates a YAML configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("parsing %s: %v", path, err)}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces the load-time rule that tls=true requires all
// three of key, certificate, certificate-dir.
func (c *Config) Validate() error {
	v := &util.ValidationBuilder{}
	v.Add(c.NetworkName != "", "network-name is required")
	v.Add(c.Port > 0 && c.Port < 65536, "port must be between 1 and 65535")
	if c.TLS {
		v.Add(c.Key != "", "tls=true requires key")
		v.Add(c.Certificate != "", "tls=true requires certificate")
		v.Add(c.CertificateDir != "", "tls=true requires certificate-dir")
	}
	if err := v.Build(); err != nil {
		return &ConfigurationError{Reason: err.Error()}
	}
	return nil
}

// Addr returns the host:port this gateway's SOAP/REST listeners bind to.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
