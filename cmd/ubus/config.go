package main

import (
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/outofforest/ubus"
)

// Config is the config of the tool.
type Config struct {
	Socket     string        `toml:"socket"`
	Timeout    time.Duration `toml:"timeout"`
	Retries    int           `toml:"retries"`
	RetryDelay time.Duration `toml:"retry_delay"`
}

// DefaultConfig returns default config.
func DefaultConfig() Config {
	return Config{
		Socket:     ubus.DefaultSocket,
		Timeout:    30 * time.Second,
		RetryDelay: time.Second,
	}
}

// LoadConfig loads config from TOML file. Settings missing in the file keep default values.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, errors.Wrapf(err, "loading config %s", path)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, errors.Errorf("unknown setting %q in config %s", undecoded[0].String(), path)
	}
	if cfg.Retries < 0 {
		return Config{}, errors.Errorf("negative number of retries in config %s", path)
	}
	return cfg, nil
}
