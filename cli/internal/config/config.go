// Package config holds lwctl's connection profiles.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	DefaultIngestURL   = "http://localhost:3001"
	DefaultRealtimeURL = "ws://localhost:3002"
)

type Config struct {
	CurrentProfile string              `mapstructure:"current_profile" yaml:"current_profile"`
	Profiles       map[string]*Profile `mapstructure:"profiles" yaml:"profiles"`
	Defaults       Defaults            `mapstructure:"defaults" yaml:"defaults"`
	path           string
}

// Profile is one named set of endpoints and credential. Empty fields fall
// back to Defaults.
type Profile struct {
	IngestURL   string `mapstructure:"ingest_url" yaml:"ingest_url,omitempty"`
	RealtimeURL string `mapstructure:"realtime_url" yaml:"realtime_url,omitempty"`
	Token       string `mapstructure:"token" yaml:"token,omitempty"`
}

type Defaults struct {
	IngestURL   string `mapstructure:"ingest_url" yaml:"ingest_url"`
	RealtimeURL string `mapstructure:"realtime_url" yaml:"realtime_url"`
}

func Default() *Config {
	return &Config{
		CurrentProfile: "default",
		Profiles:       make(map[string]*Profile),
		Defaults: Defaults{
			IngestURL:   DefaultIngestURL,
			RealtimeURL: DefaultRealtimeURL,
		},
	}
}

// DefaultPath is $LWCTL_CONFIG_DIR/config.yaml, or ~/.lwctl/config.yaml.
func DefaultPath() (string, error) {
	dir := os.Getenv("LWCTL_CONFIG_DIR")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to determine home directory: %w", err)
		}
		dir = filepath.Join(home, ".lwctl")
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Load reads cfgFile (or DefaultPath when empty). A missing file yields the
// defaults. LWCTL_INGEST_URL and LWCTL_REALTIME_URL override the defaults.
func Load(cfgFile string) (*Config, error) {
	if cfgFile == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		cfgFile = p
	}

	v := viper.New()
	v.SetDefault("current_profile", "default")
	v.SetDefault("defaults.ingest_url", DefaultIngestURL)
	v.SetDefault("defaults.realtime_url", DefaultRealtimeURL)

	v.SetEnvPrefix("LWCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("defaults.ingest_url", "LWCTL_INGEST_URL")
	_ = v.BindEnv("defaults.realtime_url", "LWCTL_REALTIME_URL")

	v.SetConfigFile(cfgFile)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := Default()
	cfg.path = cfgFile
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.Profiles == nil {
		cfg.Profiles = make(map[string]*Profile)
	}
	return cfg, nil
}

func (c *Config) Path() string { return c.path }

func (c *Config) Save() error {
	if c.path == "" {
		p, err := DefaultPath()
		if err != nil {
			return err
		}
		c.path = p
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0700); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0600)
}

// SaveProfile stores p under name, makes it current and writes the file.
func (c *Config) SaveProfile(name string, p Profile) error {
	if c.Profiles == nil {
		c.Profiles = make(map[string]*Profile)
	}
	c.Profiles[name] = &p
	c.CurrentProfile = name
	return c.Save()
}

func (c *Config) GetProfile(name string) (*Profile, error) {
	if name == "" {
		name = c.CurrentProfile
	}
	profile, ok := c.Profiles[name]
	if !ok {
		return nil, fmt.Errorf("profile '%s' not found", name)
	}
	return profile, nil
}

func (c *Config) RemoveProfile(name string) error {
	if _, ok := c.Profiles[name]; !ok {
		return fmt.Errorf("profile '%s' not found", name)
	}
	delete(c.Profiles, name)
	if c.CurrentProfile == name {
		c.CurrentProfile = ""
	}
	return c.Save()
}

// Resolve returns the named profile (or the current one) with empty fields
// filled from Defaults. A missing profile resolves to the defaults alone.
func (c *Config) Resolve(name string) Profile {
	out := Profile{IngestURL: c.Defaults.IngestURL, RealtimeURL: c.Defaults.RealtimeURL}
	p, err := c.GetProfile(name)
	if err != nil {
		return out
	}
	if p.IngestURL != "" {
		out.IngestURL = p.IngestURL
	}
	if p.RealtimeURL != "" {
		out.RealtimeURL = p.RealtimeURL
	}
	out.Token = p.Token
	return out
}
