package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

// Config is the host configuration loaded from a TOML file
type Config struct {
	// LogLevel is the zerolog level name: trace, debug, info, warn, error
	LogLevel string `toml:"log_level" validate:"omitempty,oneof=trace debug info warn error"`

	// DataDir holds the transcript database; defaults to the user config dir
	DataDir string `toml:"data_dir"`

	Metrics  Metrics   `toml:"metrics"`
	Networks []Network `toml:"networks" validate:"required,min=1,dive"`
}

// Metrics configures the optional Prometheus listener
type Metrics struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen" validate:"omitempty,hostname_port"`
}

// Network is one IRC network definition
type Network struct {
	Name     string `toml:"name" validate:"required"`
	Nick     string `toml:"nick" validate:"required,max=30"`
	Username string `toml:"username"`
	Realname string `toml:"realname"`

	// ServerPassword is the PASS password; usually blank, with the keyring
	// consulted under the network name when it is
	ServerPassword string `toml:"server_password"`

	AutoConnect bool     `toml:"auto_connect"`
	Channels    []string `toml:"channels"`

	// RequestCaps adds capability names to the engine's built-in request set
	RequestCaps []string `toml:"request_caps"`

	Servers []Server `toml:"servers" validate:"required,min=1,dive"`
	SASL    SASL     `toml:"sasl"`

	AutoModes []AutoMode       `toml:"automodes" validate:"omitempty,dive"`
	Blacklist []BlacklistEntry `toml:"blacklist" validate:"omitempty,dive"`
}

// AutoMode grants a channel mode to a known nick when they join a channel
// where we hold ops
type AutoMode struct {
	Channel string `toml:"channel" validate:"required"`
	Nick    string `toml:"nick" validate:"required"`
	Mode    string `toml:"mode" validate:"required,oneof=o h v"`
}

// BlacklistEntry kicks joining users whose hostmask matches the mask.
// Masks use the usual IRC wildcards (* and ?).
type BlacklistEntry struct {
	Channel string `toml:"channel" validate:"required"`
	Mask    string `toml:"mask" validate:"required"`
	Reason  string `toml:"reason"`
}

// Server is one server address within a network, tried in listed order
type Server struct {
	Address string `toml:"address" validate:"required,hostname|ip"`
	Port    int    `toml:"port" validate:"required,min=1,max=65535"`
	TLS     bool   `toml:"tls"`
}

// SASL configures authentication for a network. An empty mechanism selects
// automatically from the configured credentials. The password may be left
// blank to be looked up in the OS keyring or prompted for at startup.
type SASL struct {
	Enabled   bool   `toml:"enabled"`
	Mechanism string `toml:"mechanism" validate:"omitempty,oneof=PLAIN EXTERNAL SCRAM-SHA-256 SCRAM-SHA-512"`
	Account   string `toml:"account"`
	Password  string `toml:"password"`

	// CertFile and KeyFile name a TLS client certificate pair for EXTERNAL
	CertFile string `toml:"cert_file" validate:"omitempty,file"`
	KeyFile  string `toml:"key_file" validate:"omitempty,file"`

	// Force attempts SASL even when the server does not advertise it
	Force bool `toml:"force"`
}

// Default returns the built-in configuration baseline
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Metrics: Metrics{
			Enabled: false,
			Listen:  "127.0.0.1:9590",
		},
	}
}

// Load reads, decodes and validates a TOML configuration file. Defaults are
// applied before decoding so the file only needs to state what differs.
func Load(path string) (*Config, error) {
	cfg := Default()

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.applyDefaults()

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

// applyDefaults fills per-network blanks: username and realname fall back
// to the nick, the SASL account to the username, and the data directory to
// the OS-conventional location.
func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		if dir, err := os.UserConfigDir(); err == nil {
			c.DataDir = filepath.Join(dir, "cascade")
		} else {
			c.DataDir = "."
		}
	}

	for i := range c.Networks {
		n := &c.Networks[i]
		if n.Username == "" {
			n.Username = n.Nick
		}
		if n.Realname == "" {
			n.Realname = n.Nick
		}
		if n.SASL.Enabled && n.SASL.Account == "" {
			n.SASL.Account = n.Username
		}
	}
}

// Network returns the named network definition, if configured
func (c *Config) Network(name string) (*Network, bool) {
	for i := range c.Networks {
		if c.Networks[i].Name == name {
			return &c.Networks[i], true
		}
	}
	return nil, false
}

// HasClientCertificate reports whether a full certificate pair is configured
func (s SASL) HasClientCertificate() bool {
	return s.CertFile != "" && s.KeyFile != ""
}

// DatabasePath returns the transcript database location under DataDir
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "cascade.db")
}
