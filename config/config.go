package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"pairlend/native/swap"
)

const (
	defaultChainID   = 1
	defaultLogEnv    = "local"
	defaultLogLevel  = "info"
	defaultAdmin     = "0x00000000000000000000000000000000000000a0"
	defaultReservesA = "0x00000000000000000000000000000000000000a9"
)

// Config is the root configuration of the lending simulator.
type Config struct {
	// DataDir selects the LevelDB directory; empty keeps state in memory.
	DataDir        string `toml:"DataDir"`
	ChainID        uint64 `toml:"ChainID"`
	LogEnv         string `toml:"LogEnv"`
	LogLevel       string `toml:"LogLevel"`
	LogFile        string `toml:"LogFile"`
	MetricsAddress string `toml:"MetricsAddress"`

	Roles  Roles  `toml:"roles"`
	Risk   Risk   `toml:"risk"`
	Oracle Oracle `toml:"oracle"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg := &Config{}
	cfg.normalize()
	return cfg
}

// Load loads the configuration from the given path. A missing file is
// created with the defaults.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return createDefault(path)
	} else if err != nil {
		return nil, err
	}

	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config: unknown key %q in %s", undecoded[0].String(), path)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() {
	if cfg == nil {
		return
	}
	cfg.DataDir = strings.TrimSpace(cfg.DataDir)
	cfg.LogFile = strings.TrimSpace(cfg.LogFile)
	cfg.MetricsAddress = strings.TrimSpace(cfg.MetricsAddress)
	if cfg.ChainID == 0 {
		cfg.ChainID = defaultChainID
	}
	if cfg.LogEnv = strings.TrimSpace(cfg.LogEnv); cfg.LogEnv == "" {
		cfg.LogEnv = defaultLogEnv
	}
	if cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel)); cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}
	if cfg.Roles.Admin = strings.TrimSpace(cfg.Roles.Admin); cfg.Roles.Admin == "" {
		cfg.Roles.Admin = defaultAdmin
	}
	if cfg.Roles.ReservesAdmin = strings.TrimSpace(cfg.Roles.ReservesAdmin); cfg.Roles.ReservesAdmin == "" {
		cfg.Roles.ReservesAdmin = defaultReservesA
	}
	if cfg.Oracle.TWAPWindowSeconds == 0 {
		cfg.Oracle.TWAPWindowSeconds = swap.DefaultTWAPWindow
	}
	if cfg.Oracle.SampleCap <= 0 {
		cfg.Oracle.SampleCap = swap.DefaultSampleCap
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
