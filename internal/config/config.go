// Package config provides configuration loading and validation for the dnsq
// command. It handles reading configuration from a yaml file, providing
// defaults, and ensuring all required settings are properly set.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lc/adns/internal/filesys"
)

var (
	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrNoConfig is returned when the configuration file is not found.
	ErrNoConfig = errors.New("configuration file not found")
)

const (
	// DefaultConfigPath is the default path for the configuration file,
	// relative to the user's home directory.
	DefaultConfigPath = ".dnsq/config.yaml"
	// DefaultTimeout is the default per-query resolution timeout.
	DefaultTimeout = 5 * time.Second
)

// Config holds the dnsq configuration.
type Config struct {
	// Nameserver is the DNS server to query, as "ip" or "ip:port". Empty
	// means use the system resolver from /etc/resolv.conf.
	Nameserver string        `yaml:"nameserver"`
	Timeout    time.Duration `yaml:"timeout"`
	IPv4Only   bool          `yaml:"ipv4_only"`
}

// UnmarshalYAML decodes the config, accepting Go duration syntax ("5s",
// "1m30s") for the timeout, which yaml does not handle natively.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	type raw struct {
		Nameserver string `yaml:"nameserver"`
		Timeout    string `yaml:"timeout"`
		IPv4Only   bool   `yaml:"ipv4_only"`
	}
	var r raw
	if err := value.Decode(&r); err != nil {
		return err
	}
	c.Nameserver = r.Nameserver
	c.IPv4Only = r.IPv4Only
	if r.Timeout != "" {
		d, err := time.ParseDuration(r.Timeout)
		if err != nil {
			return fmt.Errorf("timeout: %v", err)
		}
		c.Timeout = d
	}
	return nil
}

// Provider defines the interface for loading configuration.
type Provider interface {
	Load() (*Config, error)
}

// FSProvider implements Provider using the local filesystem.
type FSProvider struct {
	fs   filesys.FS
	path string
}

var _ Provider = (*FSProvider)(nil)

// New creates a configuration provider using the default configuration path
// under the user's home directory. If the home directory cannot be
// determined, the path resolves relative to the current directory.
func New() Provider {
	home, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not determine home directory: %v\n", err)
		home = ""
	}
	return NewWithPath(filesys.OS(), filepath.Join(home, DefaultConfigPath))
}

// NewWithPath creates a provider reading a specific config path through the
// given filesystem implementation.
func NewWithPath(fs filesys.FS, path string) Provider {
	return &FSProvider{
		fs:   fs,
		path: path,
	}
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	return &Config{
		Timeout: DefaultTimeout,
	}
}

// Load loads the configuration, falling back to Default when the file is
// absent.
func (p *FSProvider) Load() (*Config, error) {
	cfg, err := p.loadAndParse()
	if err != nil {
		if errors.Is(err, ErrNoConfig) {
			return Default(), nil
		}
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	return cfg, nil
}

// Validate checks that all set fields make sense.
func (c *Config) Validate() error {
	if c.Timeout < 10*time.Millisecond {
		return errors.New("timeout must be at least 10ms")
	}
	if s := strings.TrimSpace(c.Nameserver); s != "" {
		if _, err := ParseServer(s); err != nil {
			return fmt.Errorf("nameserver: %v", err)
		}
	}
	return nil
}

// Server returns the configured nameserver address, or ok=false when the
// system resolver should be used.
func (c *Config) Server() (netip.AddrPort, bool) {
	s := strings.TrimSpace(c.Nameserver)
	if s == "" {
		return netip.AddrPort{}, false
	}
	addr, err := ParseServer(s)
	if err != nil {
		// Validate already rejected this; treat as unset.
		return netip.AddrPort{}, false
	}
	return addr, true
}

// ParseServer parses "ip" or "ip:port" into an address, defaulting the port
// to 53.
func ParseServer(s string) (netip.AddrPort, error) {
	if ap, err := netip.ParseAddrPort(s); err == nil {
		return ap, nil
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("not an ip or ip:port: %q", s)
	}
	return netip.AddrPortFrom(addr, 53), nil
}

func (p *FSProvider) loadAndParse() (*Config, error) {
	f, err := p.fs.Open(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoConfig
		}
		return nil, fmt.Errorf("opening config file: %w", err)
	}
	defer f.Close()

	cfg := Default()
	if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
		return nil, fmt.Errorf("decoding config file: %w", err)
	}

	return cfg, nil
}
