package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	DefaultKeysDir        = "./proving-keys/"
	DefaultProverAddress  = "0.0.0.0:3001"
	DefaultMetricsAddress = "0.0.0.0:9998"
	DefaultNetworkTimeout = 600 * time.Second
)

type Config struct {
	KeysDir        string   `toml:"keys_dir"`
	// Base URL of published vote_<depth>.key files and their CHECKSUM.
	KeysURL        string   `toml:"keys_url"`
	Depths         []uint32 `toml:"depths"`
	ProverAddress  string   `toml:"prover_address"`
	MetricsAddress string   `toml:"metrics_address"`
	RedisURL       string   `toml:"redis_url"`
	APIKey         string   `toml:"api_key"`
	PublicPaths    []string `toml:"public_paths"`
	JSONLogging    bool     `toml:"json_logging"`
	LogLevel       string   `toml:"log_level"`

	Ballot  BallotConfig  `toml:"ballot"`
	Network NetworkConfig `toml:"network"`
}

type BallotConfig struct {
	// Path of the pebble database. Empty keeps ballots in memory.
	DBPath        string   `toml:"db_path"`
	UseRedis      bool     `toml:"use_redis"`
	EligibleRoots []string `toml:"eligible_roots"`
}

type NetworkConfig struct {
	URL     string `toml:"url"`
	Timeout string `toml:"timeout"`
}

func Default() Config {
	return Config{
		KeysDir:        DefaultKeysDir,
		ProverAddress:  DefaultProverAddress,
		MetricsAddress: DefaultMetricsAddress,
	}
}

func (cfg *Config) HasDepth(depth uint32) bool {
	for _, d := range cfg.Depths {
		if d == depth {
			return true
		}
	}
	return false
}

// NetworkTimeout falls back to DefaultNetworkTimeout when unset.
func (cfg *Config) NetworkTimeout() (time.Duration, error) {
	if cfg.Network.Timeout == "" {
		return DefaultNetworkTimeout, nil
	}
	d, err := time.ParseDuration(cfg.Network.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid network timeout %q: %w", cfg.Network.Timeout, err)
	}
	return d, nil
}

// ApplyEnv fills empty fields from the environment variables the prover
// service has always honoured.
func (cfg *Config) ApplyEnv() {
	if cfg.RedisURL == "" {
		cfg.RedisURL = os.Getenv("REDIS_URL")
	}
	if cfg.KeysURL == "" {
		cfg.KeysURL = os.Getenv("PROVING_KEYS_URL")
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("PROVER_API_KEY")
	}
	if cfg.Network.URL == "" {
		cfg.Network.URL = os.Getenv("NETWORK_PROVER_URL")
	}
	if cfg.Network.Timeout == "" {
		cfg.Network.Timeout = os.Getenv("NETWORK_PROVER_TIMEOUT")
	}
}

func ReadConfig(file string) (Config, error) {
	cfg := Default()
	configFileData, err := os.ReadFile(file)
	if err != nil {
		return cfg, err
	}
	err = toml.Unmarshal(configFileData, &cfg)
	if err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", file, err)
	}
	return cfg, nil
}
