package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/Masterminds/semver/v3"
)

// DefaultProfile is used when neither a flag nor the config names a profile.
const DefaultProfile = "main"

// Config represents the global ~/.wbridge/config.toml.
type Config struct {
	DefaultProfile          string   `toml:"default_profile"`
	ListenAddr              string   `toml:"listen_addr"`
	MetricsAddr             string   `toml:"metrics_addr"`
	LogLevel                string   `toml:"log_level"`
	PageSize                int      `toml:"page_size"`
	CursorCacheSize         int      `toml:"cursor_cache_size"`
	ReplayFrames            int      `toml:"replay_frames"`
	MaxFileSize             int64    `toml:"max_file_size"`
	ClientVersionConstraint string   `toml:"client_version_constraint"`
	AllowedHosts            []string `toml:"allowed_hosts"`
	ConnectionAckInterval   Duration `toml:"connection_ack_interval"`
	Policy                  Policy   `toml:"policy"`
	Identity                Identity `toml:"identity"`
}

// Policy holds the administrator switches mirrored to clients.
type Policy struct {
	DisableCreateContact bool `toml:"disable_create_contact"`
	DisableCreateGroup   bool `toml:"disable_create_group"`
	DisableSendMessage   bool `toml:"disable_send_message"`
	DisableExport        bool `toml:"disable_export"`
}

// Identity is the local account the bridge speaks for.
type Identity struct {
	Identity       string `toml:"identity"`
	PublicNickname string `toml:"public_nickname"`
}

// Duration is a time.Duration written as a string such as "20s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the configuration used for keys missing from the file.
func Default() *Config {
	return &Config{
		DefaultProfile:        DefaultProfile,
		ListenAddr:            "127.0.0.1:8765",
		MetricsAddr:           "127.0.0.1:9465",
		LogLevel:              "info",
		PageSize:              50,
		CursorCacheSize:       512,
		ReplayFrames:          1024,
		MaxFileSize:           50 << 20,
		AllowedHosts:          []string{"localhost"},
		ConnectionAckInterval: Duration{20 * time.Second},
	}
}

// Load reads config from the given path on top of Default. Returns an error
// if the file is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load, falling back to Default when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	return cfg, err
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// ResolveProfile picks the profile: flag, then config, then DefaultProfile.
func ResolveProfile(flag string, cfg *Config) string {
	if flag != "" {
		return flag
	}
	if cfg != nil && cfg.DefaultProfile != "" {
		return cfg.DefaultProfile
	}
	return DefaultProfile
}

// ClientConstraint parses the protocol version constraint clients must meet.
// It returns nil when none is configured.
func (c *Config) ClientConstraint() (*semver.Constraints, error) {
	if c.ClientVersionConstraint == "" {
		return nil, nil
	}
	cs, err := semver.NewConstraint(c.ClientVersionConstraint)
	if err != nil {
		return nil, fmt.Errorf("client_version_constraint: %w", err)
	}
	return cs, nil
}
