package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// envPrefix is the environment variable prefix used by every setting.
const envPrefix = "POSERANK"

// Sentinel errors wrapped by Load and LoadFromEnv.
var (
	ErrConfigFileNotFound = errors.New("config: file not found")
	ErrConfigParseError   = errors.New("config: parse error")
	ErrConfigValidation   = errors.New("config: validation failed")
)

// newViper builds a pre-configured Viper instance: YAML file type, POSERANK_
// env prefix, automatic env binding and a "." → "_" key replacer so that
// nested keys like "engines.xtb.binary" resolve to POSERANK_ENGINES_XTB_BINARY.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	registerDefaults(v)
	return v
}

// Load reads the YAML file at configPath, merges POSERANK_* environment
// overrides, applies defaults for unset fields and validates the result.
// An empty configPath is the same as LoadFromEnv.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		return LoadFromEnv()
	}
	if _, err := os.Stat(configPath); err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrConfigFileNotFound, configPath, err)
	}

	v := newViper()
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrConfigParseError, configPath, err)
	}
	return unmarshalAndFinalize(v)
}

// LoadFromEnv builds a Config from POSERANK_* environment variables and
// defaults only.
//
// Environment variable naming convention:
//
//	POSERANK_<SECTION>_<FIELD>   e.g.  POSERANK_RANKING_DEVICE, POSERANK_CACHE_ADDR
func LoadFromEnv() (*Config, error) {
	return unmarshalAndFinalize(newViper())
}

func unmarshalAndFinalize(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigParseError, err)
	}

	ApplyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigValidation, err)
	}
	return cfg, nil
}
