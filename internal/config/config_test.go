package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
)

func newViper(t *testing.T, cfgFile string) *viper.Viper {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	if err := Init(v, cfgFile); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return v
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(newViper(t, ""))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"Addr", cfg.Addr, ":8080"},
		{"ConfigDir", cfg.ConfigDir, "./configs"},
		{"ColonyID", cfg.ColonyID, "colony_1"},
		{"Seed", cfg.Seed, int64(1337)},
		{"TuningPath", cfg.TuningPath, filepath.Join("./configs", "tuning.yaml")},
		{"LoadLatest", cfg.LoadLatest, true},
		{"TickRateHz", cfg.TickRateHz, 0},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Fatalf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("FR_COLONY", "north")
	t.Setenv("FR_SEED", "99")
	t.Setenv("FR_DISABLE_DB", "true")

	cfg, err := Load(newViper(t, ""))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ColonyID != "north" || cfg.Seed != 99 || !cfg.DisableDB {
		t.Fatalf("env not applied: %+v", cfg)
	}
	if cfg.ColonyDir() != filepath.Join("./data", "colonies", "north") {
		t.Fatalf("colony dir = %s", cfg.ColonyDir())
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	body := "colony: south\ntick_rate_hz: 5\nconfigs: /srv/content\n"
	path := filepath.Join(dir, ".fieldresearch.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(newViper(t, path))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ColonyID != "south" || cfg.TickRateHz != 5 || cfg.TuningPath != "/srv/content/tuning.yaml" {
		t.Fatalf("file not applied: %+v", cfg)
	}
}

func TestInit_ExplicitMissingFile(t *testing.T) {
	v := viper.New()
	if err := Init(v, filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing explicit config file")
	}
}

func TestValidate(t *testing.T) {
	base := Config{ColonyID: "c", ConfigDir: "configs", DataDir: "data"}
	cases := []struct {
		name string
		mut  func(*Config)
		ok   bool
	}{
		{"ok", func(*Config) {}, true},
		{"empty colony", func(c *Config) { c.ColonyID = "" }, false},
		{"separator", func(c *Config) { c.ColonyID = "a/b" }, false},
		{"negative rate", func(c *Config) { c.TickRateHz = -1 }, false},
		{"no data", func(c *Config) { c.DataDir = "" }, false},
	}
	for _, tc := range cases {
		c := base
		tc.mut(&c)
		if err := c.Validate(); (err == nil) != tc.ok {
			t.Fatalf("%s: err = %v", tc.name, err)
		}
	}
}
