// Package config handles loading and validating the chainaudit
// configuration from config.yaml.
//
// The config defines:
//   - Chain storage directory and hashing parameters
//   - Public façade server bind address (host:port)
//
// It is loaded once at startup and immutable afterward: every component
// reads it, none mutate it.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the top-level chainaudit configuration. Loaded from
// config.yaml with defaults for fields that are not explicitly set.
type Config struct {
	Chain  ChainConfig  `yaml:"chain"`
	Server ServerConfig `yaml:"server"`
}

// ChainConfig defines where the chain lives and how entries are hashed.
// HashAlgorithm and GenesisSentinel are fixed for the life of a chain;
// changing them against an existing store would invalidate every link.
type ChainConfig struct {
	Dir             string `yaml:"dir"`
	HashAlgorithm   string `yaml:"hash_algorithm"`
	GenesisSentinel string `yaml:"genesis_sentinel"`
}

// ServerConfig defines where the public façade server listens.
// Default: 127.0.0.1:3800 (loopback only).
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns the host:port bind address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Load reads and parses config.yaml from the given path. A missing file
// returns defaults, not an error. Invalid YAML or validation failures
// return an error.
func Load(path string) (*Config, error) {
	cfg := applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// WriteDefault writes a default config.yaml with all fields populated and
// a comment header. Used by `chainaudit config generate`.
func WriteDefault(path string) error {
	cfg := applyDefaults()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling default config: %w", err)
	}

	header := `# chainaudit configuration
#
# chain:
#   dir: Chain storage directory (JSONL entry files + SQLite index)
#   hash_algorithm: Entry digest algorithm (only SHA-256 is supported)
#   genesis_sentinel: prev_hash of the first entry (hex of a zero digest)
#
# server:
#   host: Public facade bind address (default: 127.0.0.1, loopback only)
#   port: Listen port (default: 3800)

`
	return os.WriteFile(path, []byte(header+string(data)), 0o644)
}

// defaultChainDir returns ~/.chainaudit/chain, falling back to a relative
// directory if the home directory cannot be determined.
func defaultChainDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".chainaudit", "chain")
	}
	return filepath.Join(home, ".chainaudit", "chain")
}

// zeroDigest is the hex encoding of an all-zero SHA-256 digest.
const zeroDigest = "0000000000000000000000000000000000000000000000000000000000000000"

// applyDefaults returns a Config with every field set to its default.
func applyDefaults() *Config {
	return &Config{
		Chain: ChainConfig{
			Dir:             defaultChainDir(),
			HashAlgorithm:   "SHA-256",
			GenesisSentinel: zeroDigest,
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 3800,
		},
	}
}

// validate checks the config for logical errors after parsing.
func validate(cfg *Config) error {
	if cfg.Chain.Dir == "" {
		return fmt.Errorf("chain.dir must not be empty")
	}
	if cfg.Chain.HashAlgorithm != "SHA-256" {
		return fmt.Errorf("chain.hash_algorithm %q is not supported (only SHA-256)", cfg.Chain.HashAlgorithm)
	}
	if len(cfg.Chain.GenesisSentinel) != 64 {
		return fmt.Errorf("chain.genesis_sentinel must be 64 hex characters, got %d", len(cfg.Chain.GenesisSentinel))
	}
	if _, err := hex.DecodeString(cfg.Chain.GenesisSentinel); err != nil {
		return fmt.Errorf("chain.genesis_sentinel is not valid hex: %w", err)
	}

	if cfg.Server.Host == "" {
		return fmt.Errorf("server.host must not be empty")
	}
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range (1-65535)", cfg.Server.Port)
	}

	return nil
}
