// Package config holds the runtime settings of the fieldresearch binary.
// Values come from .fieldresearch.yaml, FR_* env vars and CLI flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Addr      string `mapstructure:"addr"`
	ConfigDir string `mapstructure:"configs"`
	DataDir   string `mapstructure:"data"`
	ColonyID  string `mapstructure:"colony"`
	Seed      int64  `mapstructure:"seed"`

	// TuningPath defaults to <configs>/tuning.yaml.
	TuningPath string `mapstructure:"tuning"`
	// LayoutPath is optional; empty uses the built-in colony.
	LayoutPath string `mapstructure:"layout"`
	// TickRateHz overrides tuning when positive.
	TickRateHz int `mapstructure:"tick_rate_hz"`

	DisableDB  bool   `mapstructure:"disable_db"`
	Snapshot   string `mapstructure:"snapshot"`
	LoadLatest bool   `mapstructure:"load_latest_snapshot"`
	Watch      bool   `mapstructure:"watch"`
	Admin      bool   `mapstructure:"admin_http"`
}

// SetDefaults registers the built-in defaults on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("addr", ":8080")
	v.SetDefault("configs", "./configs")
	v.SetDefault("data", "./data")
	v.SetDefault("colony", "colony_1")
	v.SetDefault("seed", 1337)
	v.SetDefault("tuning", "")
	v.SetDefault("layout", "")
	v.SetDefault("tick_rate_hz", 0)
	v.SetDefault("disable_db", false)
	v.SetDefault("snapshot", "")
	v.SetDefault("load_latest_snapshot", true)
	v.SetDefault("watch", true)
	v.SetDefault("admin_http", true)
}

// Init points v at the config file and the FR_ environment. A missing config
// file is not an error.
func Init(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(".fieldresearch")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("FR")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", v.ConfigFileUsed(), err)
	}
	return nil
}

// Load decodes v into a Config and validates it.
func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("config: decode: %w", err)
	}
	cfg.ColonyID = strings.TrimSpace(cfg.ColonyID)
	cfg.TuningPath = strings.TrimSpace(cfg.TuningPath)
	if cfg.TuningPath == "" {
		cfg.TuningPath = filepath.Join(cfg.ConfigDir, "tuning.yaml")
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.ColonyID == "" {
		return fmt.Errorf("config: colony id is empty")
	}
	if strings.ContainsAny(c.ColonyID, `/\`) {
		return fmt.Errorf("config: colony id %q must not contain path separators", c.ColonyID)
	}
	if c.ConfigDir == "" {
		return fmt.Errorf("config: configs dir is empty")
	}
	if c.DataDir == "" {
		return fmt.Errorf("config: data dir is empty")
	}
	if c.TickRateHz < 0 {
		return fmt.Errorf("config: tick_rate_hz must be >= 0, got %d", c.TickRateHz)
	}
	return nil
}

// ColonyDir is where snapshots, logs and the index of the colony live.
func (c Config) ColonyDir() string { return filepath.Join(c.DataDir, "colonies", c.ColonyID) }

func (c Config) SnapshotDir() string { return filepath.Join(c.ColonyDir(), "snapshots") }

func (c Config) IndexPath() string { return filepath.Join(c.ColonyDir(), "index", "colony.sqlite") }
