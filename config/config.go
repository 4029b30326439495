package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config carries the daemon settings. Campaign parameters themselves are
// fixed per campaign at creation and never appear here.
type Config struct {
	RPCAddress   string `toml:"RPCAddress"`
	DataDir      string `toml:"DataDir"`
	ServiceEnv   string `toml:"ServiceEnv"`
	TokenSymbol  string `toml:"TokenSymbol"`
	AuthTokenEnv string `toml:"AuthTokenEnv"`
}

const (
	defaultRPCAddress   = "127.0.0.1:8645"
	defaultDataDir      = "./gobetme-data"
	defaultServiceEnv   = "local"
	defaultTokenSymbol  = "GBM"
	defaultAuthTokenEnv = "GOBETME_RPC_TOKEN"
)

// Load loads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s contains unknown keys: %v", path, undecoded)
	}

	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// AuthToken resolves the RPC bearer token from the configured environment
// variable. An empty value disables authentication for mutating methods.
func (c *Config) AuthToken() string {
	env := strings.TrimSpace(c.AuthTokenEnv)
	if env == "" {
		env = defaultAuthTokenEnv
	}
	return strings.TrimSpace(os.Getenv(env))
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = defaultRPCAddress
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = defaultDataDir
	}
	if strings.TrimSpace(cfg.ServiceEnv) == "" {
		cfg.ServiceEnv = defaultServiceEnv
	}
	if strings.TrimSpace(cfg.TokenSymbol) == "" {
		cfg.TokenSymbol = defaultTokenSymbol
	}
	if strings.TrimSpace(cfg.AuthTokenEnv) == "" {
		cfg.AuthTokenEnv = defaultAuthTokenEnv
	}
}

func validate(cfg *Config) error {
	symbol := strings.ToUpper(strings.TrimSpace(cfg.TokenSymbol))
	if symbol == "" || len(symbol) > 8 {
		return fmt.Errorf("config: TokenSymbol must be 1-8 characters")
	}
	cfg.TokenSymbol = symbol
	return nil
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg)

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
