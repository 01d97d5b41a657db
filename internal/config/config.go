// Package config loads vecstash configuration from a YAML file, filling
// unset fields with defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full vecstash configuration.
type Config struct {
	// DataDir holds the store file and embedder models.
	DataDir string `yaml:"data_dir,omitempty"`

	Pool   PoolConfig   `yaml:"pool,omitempty"`
	Search SearchConfig `yaml:"search,omitempty"`
	Index  IndexConfig  `yaml:"index,omitempty"`
	Embed  EmbedConfig  `yaml:"embed,omitempty"`
}

// PoolConfig bounds concurrent store access.
type PoolConfig struct {
	MaxSlots              int `yaml:"max_slots,omitempty"`
	AcquireTimeoutSeconds int `yaml:"acquire_timeout_seconds,omitempty"`
}

// AcquireTimeout returns the configured slot acquisition timeout.
func (p PoolConfig) AcquireTimeout() time.Duration {
	return time.Duration(p.AcquireTimeoutSeconds) * time.Second
}

// SearchConfig tunes the search coordinator.
type SearchConfig struct {
	// ExactThreshold is the collection size below which searches scan
	// exactly instead of using the ANN index.
	ExactThreshold int `yaml:"exact_threshold,omitempty"`
}

// IndexConfig holds the ANN graph parameters.
type IndexConfig struct {
	M              int `yaml:"m,omitempty"`
	EfConstruction int `yaml:"ef_construction,omitempty"`
	EfSearch       int `yaml:"ef_search,omitempty"`
}

// EmbedConfig tunes the built-in text embedder and chunker.
type EmbedConfig struct {
	Dimensions int `yaml:"dimensions,omitempty"`
	ChunkWords int `yaml:"chunk_words,omitempty"`
	Overlap    int `yaml:"overlap,omitempty"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		DataDir: defaultDataDir(),
		Pool: PoolConfig{
			MaxSlots:              5,
			AcquireTimeoutSeconds: 5,
		},
		Search: SearchConfig{
			ExactThreshold: 100,
		},
		Index: IndexConfig{
			M:              16,
			EfConstruction: 200,
			EfSearch:       50,
		},
		Embed: EmbedConfig{
			Dimensions: 512,
			ChunkWords: 200,
			Overlap:    50,
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".vecstash"
	}
	return filepath.Join(home, ".vecstash")
}

// Load reads configuration from path. A missing file yields the
// defaults; a present file has unset fields filled in.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.expandTilde()
	cfg.applyDefaults()
	return &cfg, nil
}

// Save writes the configuration to path as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// StorePath returns the path of the store file inside DataDir.
func (c *Config) StorePath() string {
	return filepath.Join(c.DataDir, "vecstash.db")
}

// ModelPath returns the path of a collection's embedder model file.
func (c *Config) ModelPath(collection string) string {
	return filepath.Join(c.DataDir, collection+".tfidf.json")
}

func (c *Config) applyDefaults() {
	def := Default()
	if c.DataDir == "" {
		c.DataDir = def.DataDir
	}
	if c.Pool.MaxSlots <= 0 {
		c.Pool.MaxSlots = def.Pool.MaxSlots
	}
	if c.Pool.AcquireTimeoutSeconds <= 0 {
		c.Pool.AcquireTimeoutSeconds = def.Pool.AcquireTimeoutSeconds
	}
	if c.Search.ExactThreshold <= 0 {
		c.Search.ExactThreshold = def.Search.ExactThreshold
	}
	if c.Index.M <= 0 {
		c.Index.M = def.Index.M
	}
	if c.Index.EfConstruction <= 0 {
		c.Index.EfConstruction = def.Index.EfConstruction
	}
	if c.Index.EfSearch <= 0 {
		c.Index.EfSearch = def.Index.EfSearch
	}
	if c.Embed.Dimensions <= 0 {
		c.Embed.Dimensions = def.Embed.Dimensions
	}
	if c.Embed.ChunkWords <= 0 {
		c.Embed.ChunkWords = def.Embed.ChunkWords
	}
	if c.Embed.Overlap < 0 {
		c.Embed.Overlap = def.Embed.Overlap
	}
}

// expandTilde replaces a leading "~/" with the user's home directory in
// path-valued fields.
func (c *Config) expandTilde() {
	home, err := os.UserHomeDir()
	if err != nil {
		return
	}
	if c.DataDir == "~" {
		c.DataDir = home
	} else if strings.HasPrefix(c.DataDir, "~/") {
		c.DataDir = filepath.Join(home, c.DataDir[2:])
	}
}
