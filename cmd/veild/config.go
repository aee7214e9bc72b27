package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/veilchain/veil/app"
)

// Config is the node configuration, loaded once at startup and immutable for
// the process lifetime. The consensus-relevant fields (chain id, tree depth,
// anchor window) must match across all validators.
type Config struct {
	ChainID         string `json:"chain_id"`
	DBPath          string `json:"db_path"`
	GenesisPath     string `json:"genesis_path"`
	TreeDepth       int    `json:"tree_depth"`
	AnchorWindow    int    `json:"anchor_window"`
	CommitTimeoutMS int    `json:"commit_timeout_ms"`
	ListenAddr      string `json:"listen_addr"`
	LogLevel        string `json:"log_level"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		ChainID:         "veil-local",
		DBPath:          "veil-data",
		GenesisPath:     "genesis.json",
		TreeDepth:       16,
		AnchorWindow:    64,
		CommitTimeoutMS: 5000,
		ListenAddr:      "127.0.0.1:26651",
		LogLevel:        "info",
	}
}

// LoadConfig reads and validates a config file.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	var cfg Config
	if err := json.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SaveConfig writes cfg to path, creating parent directories.
func SaveConfig(cfg *Config, path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create config file: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(cfg)
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.ChainID == "" {
		return fmt.Errorf("chain_id must be set")
	}
	if c.TreeDepth < 1 || c.TreeDepth > 48 {
		return fmt.Errorf("tree_depth must be in [1,48], got %d", c.TreeDepth)
	}
	if c.AnchorWindow < 1 {
		return fmt.Errorf("anchor_window must be positive")
	}
	if c.CommitTimeoutMS <= 0 {
		return fmt.Errorf("commit_timeout_ms must be positive")
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr must be set")
	}
	return nil
}

// AppConfig converts to the core pipeline configuration.
func (c *Config) AppConfig() app.Config {
	return app.Config{
		ChainID:       c.ChainID,
		TreeDepth:     c.TreeDepth,
		AnchorWindow:  c.AnchorWindow,
		CommitTimeout: time.Duration(c.CommitTimeoutMS) * time.Millisecond,
	}
}

// LoadGenesis reads the genesis allocation file.
func LoadGenesis(path string) ([]app.Allocation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open genesis: %w", err)
	}
	defer f.Close()

	var doc struct {
		Allocations []app.Allocation `json:"allocations"`
	}
	if err := json.NewDecoder(f).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode genesis: %w", err)
	}
	return doc.Allocations, nil
}
