// Package seeder generates fake telemetry and posts it to the ingest service.
package seeder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/viper"
)

// Config is the seeder file: ./seeder.yaml, then ~/.lwctl/seeder.yaml.
type Config struct {
	Defaults DefaultsConfig          `mapstructure:"defaults" yaml:"defaults"`
	Attacks  map[string]AttackConfig `mapstructure:"attacks" yaml:"attacks"`
}

type DefaultsConfig struct {
	Count int `mapstructure:"count" yaml:"count"`
	// Rate is events per second. Zero sends as fast as responses arrive.
	Rate       float64  `mapstructure:"rate" yaml:"rate"`
	Categories []string `mapstructure:"categories" yaml:"categories"`
	Services   []string `mapstructure:"services" yaml:"services"`
	// Seed makes runs reproducible. Zero picks a random seed.
	Seed int64 `mapstructure:"seed" yaml:"seed"`
}

// AttackConfig names a correlated burst injected before the baseline.
type AttackConfig struct {
	Pattern string `mapstructure:"pattern" yaml:"pattern"`
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Count   int    `mapstructure:"count" yaml:"count"`
	Service string `mapstructure:"service" yaml:"service"`
}

// LoadConfig loads configuration with cascade: explicit path, ./seeder.yaml,
// ~/.lwctl/seeder.yaml, then built-in defaults. SEEDER_* variables override.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("seeder")
	v.SetConfigType("yaml")
	v.SetEnvPrefix("SEEDER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".lwctl"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("defaults.count", 100)
	v.SetDefault("defaults.rate", 10)
	v.SetDefault("defaults.categories", Categories)
	v.SetDefault("defaults.services", DefaultServices)
	v.SetDefault("defaults.seed", 0)
}

func (c *Config) Validate() error {
	var errs []error
	if c.Defaults.Count < 0 {
		errs = append(errs, errors.New("defaults.count must not be negative"))
	}
	if c.Defaults.Rate < 0 {
		errs = append(errs, errors.New("defaults.rate must not be negative"))
	}
	if len(c.Defaults.Categories) == 0 {
		errs = append(errs, errors.New("defaults.categories must not be empty"))
	}
	for _, cat := range c.Defaults.Categories {
		if !slices.Contains(Categories, cat) {
			errs = append(errs, fmt.Errorf("unknown category %q", cat))
		}
	}
	for name, a := range c.Attacks {
		if _, ok := patterns[a.Pattern]; !ok {
			errs = append(errs, fmt.Errorf("attack %s: unknown pattern %q", name, a.Pattern))
		}
		if a.Count < 1 {
			errs = append(errs, fmt.Errorf("attack %s: count must be at least 1", name))
		}
	}
	return errors.Join(errs...)
}

// GetAttack returns a specific attack configuration by name.
func (c *Config) GetAttack(name string) (AttackConfig, bool) {
	attack, ok := c.Attacks[name]
	return attack, ok
}

// EnabledAttacks returns the names of enabled attacks, sorted.
func (c *Config) EnabledAttacks() []string {
	var names []string
	for name, a := range c.Attacks {
		if a.Enabled {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}
