// Package config provides configuration loading and structs for the kbase server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Search    SearchConfig    `yaml:"search"`
	OEM       OEMConfig       `yaml:"oem"`
	Reset     ResetConfig     `yaml:"reset"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds paths for the database and indices.
type StorageConfig struct {
	DatabasePath    string `yaml:"database_path"`
	DescIndexPath   string `yaml:"desc_index_path"`
	VectorIndexPath string `yaml:"vector_index_path"`
}

// EmbeddingConfig identifies the embedding space chunks are indexed in.
// Embeddings are produced upstream; the server only needs to know which model
// and dimensionality to expect.
type EmbeddingConfig struct {
	ModelName  string `yaml:"model_name"`
	Dimensions int    `yaml:"dimensions"`
}

// SearchConfig holds similarity search settings.
type SearchConfig struct {
	DefaultLimit  int     `yaml:"default_limit"`
	MaxLimit      int     `yaml:"max_limit"`
	MinSimilarity float64 `yaml:"min_similarity"`
}

// OEMConfig holds curated OEM reference data settings.
type OEMConfig struct {
	ReferencePath string `yaml:"reference_path"`
	Watch         bool   `yaml:"watch"`
}

// ResetConfig holds embedding reset job settings.
type ResetConfig struct {
	BatchSize int `yaml:"batch_size"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.DescIndexPath = expandPath(cfg.Storage.DescIndexPath, configDir)
	cfg.Storage.VectorIndexPath = expandPath(cfg.Storage.VectorIndexPath, configDir)
	if cfg.OEM.ReferencePath != "" {
		cfg.OEM.ReferencePath = expandPath(cfg.OEM.ReferencePath, configDir)
	}

	return &cfg, nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
