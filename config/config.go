// Package config loads the per-appliance connection settings a session
// needs to dial and authenticate: host, key material, transport mode, and
// keepalive tuning.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Mode selects the transport the session dials.
type Mode string

const (
	ModeAES    Mode = "AES"
	ModeTLSPSK Mode = "TLS_PSK"
)

// Config is one appliance's connection profile.
type Config struct {
	Host string `yaml:"host"`

	// PSKBase64 and IVBase64 are url-safe base64 without padding, as they
	// arrive from pairing. IV is unused (and may be empty) in TLS_PSK mode.
	PSKBase64 string `yaml:"psk_b64u"`
	IVBase64  string `yaml:"iv_b64u"`

	Mode         Mode   `yaml:"mode"`
	PSKIdentity  string `yaml:"psk_identity"`
	TLSCipher    string `yaml:"tls_cipher"`

	AppName string `yaml:"app_name"`
	AppID   string `yaml:"app_id"`

	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	KeepaliveEnabled       bool          `yaml:"keepalive_enabled"`
	KeepaliveIdleTimeout   time.Duration `yaml:"keepalive_idle_timeout"`
	KeepaliveProbeInterval time.Duration `yaml:"keepalive_probe_interval"`
	KeepaliveUID           *uint32       `yaml:"keepalive_uid"`
}

// LoadConfig reads and validates an appliance configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	c.setDefaults()
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &c, nil
}

func (c *Config) setDefaults() {
	if c.Mode == "" {
		c.Mode = ModeAES
	}
	if c.AppName == "" {
		c.AppName = "hcgo"
	}
	if c.AppID == "" {
		c.AppID = "hcgo-client"
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 60 * time.Second
	}
	if c.KeepaliveIdleTimeout == 0 {
		c.KeepaliveIdleTimeout = 60 * time.Second
	}
	if c.KeepaliveProbeInterval == 0 {
		c.KeepaliveProbeInterval = 10 * time.Second
	}
}

func (c *Config) validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.PSKBase64 == "" {
		return fmt.Errorf("psk_b64u is required")
	}
	if c.Mode != ModeAES && c.Mode != ModeTLSPSK {
		return fmt.Errorf("invalid mode: %s", c.Mode)
	}
	if c.Mode == ModeAES && c.IVBase64 == "" {
		return fmt.Errorf("iv_b64u is required in AES mode")
	}
	return nil
}

// WriteConfigFile writes a Config struct to a YAML file, primarily for
// tooling that generates a starting profile after pairing.
func WriteConfigFile(c *Config, path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}
