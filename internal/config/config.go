// Package config loads retrochat's configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"dario.cat/mergo"

	"github.com/roelfdiedericks/goclaw/internal/logging"
)

// Config is the merged retrochat configuration.
type Config struct {
	Store      StoreConfig      `json:"store"`
	Import     ImportConfig     `json:"import"`
	VectorSearch VectorSearchConfig `json:"vectorSearch"`
	Embedding  EmbeddingConfig  `json:"embedding"`
	Summarizer SummarizerConfig `json:"summarizer"`
}

// StoreConfig configures the relational/FTS persistence layer.
type StoreConfig struct {
	Path        string `json:"path"`        // sqlite database path
	WALMode     bool   `json:"walMode"`     // default true
	BusyTimeout int    `json:"busyTimeout"` // ms, default 5000
}

// ImportConfig configures the batch import service.
type ImportConfig struct {
	Concurrency int  `json:"concurrency"` // 0 = auto: clamp(NumCPU, 4, 16)
	Overwrite   bool `json:"overwrite"`   // re-import sessions that already exist
	WatchPaths  []string `json:"watchPaths"` // directories to rescan on fsnotify events
}

// VectorSearchConfig configures the embedding-backed similarity search.
type VectorSearchConfig struct {
	Path          string  `json:"path"` // sqlite database path for embeddings (may equal Store.Path)
	MaxResults    int     `json:"maxResults"`
	MinScore      float64 `json:"minScore"`
	VectorWeight  float64 `json:"vectorWeight"`
	KeywordWeight float64 `json:"keywordWeight"`
}

// EmbeddingConfig configures the embedding backend used to vectorize turns/sessions.
type EmbeddingConfig struct {
	Provider   string `json:"provider"` // "openai", "none"
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions"`
	APIKey     string `json:"apiKey,omitempty"`
}

// SummarizerConfig configures the LLM-backed session summarizer.
type SummarizerConfig struct {
	Provider  string `json:"provider"` // "anthropic", "openai", "none"
	Model     string `json:"model"`
	APIKey    string `json:"apiKey,omitempty"`
	MaxTokens int    `json:"maxTokens"`
}

// Default returns the built-in defaults, mirroring a fresh install.
func Default() *Config {
	home, _ := os.UserHomeDir()
	dbPath := filepath.Join(home, ".retrochat", "retrochat.db")
	return &Config{
		Store: StoreConfig{
			Path:        dbPath,
			WALMode:     true,
			BusyTimeout: 5000,
		},
		Import: ImportConfig{
			Concurrency: 0,
			Overwrite:   false,
		},
		VectorSearch: VectorSearchConfig{
			Path:          dbPath,
			MaxResults:    10,
			MinScore:      0.3,
			VectorWeight:  0.7,
			KeywordWeight: 0.3,
		},
		Embedding: EmbeddingConfig{
			Provider:   "none",
			Model:      "text-embedding-3-small",
			Dimensions: 1536,
		},
		Summarizer: SummarizerConfig{
			Provider:  "none",
			Model:     "claude-3-haiku-20240307",
			MaxTokens: 1024,
		},
	}
}

// Load reads retrochat.json from path (if it exists) and merges it onto the
// defaults. A missing file is not an error: the defaults are returned as-is.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logging.L_debug("config: no config file found, using defaults", "path", path)
			applyEnvFallbacks(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	var override Config
	if err := json.Unmarshal(data, &override); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := mergo.Merge(cfg, override, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("merge config: %w", err)
	}

	applyEnvFallbacks(cfg)
	logging.L_debug("config: loaded", "path", path, "store", cfg.Store.Path)
	return cfg, nil
}

// applyEnvFallbacks fills API keys from the environment when not set in the file,
// the same pattern the teacher config used for secrets.
func applyEnvFallbacks(cfg *Config) {
	if cfg.Embedding.APIKey == "" {
		if cfg.Embedding.Provider == "anthropic" {
			cfg.Embedding.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		} else if cfg.Embedding.Provider == "openai" {
			cfg.Embedding.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}
	if cfg.Summarizer.APIKey == "" {
		if cfg.Summarizer.Provider == "anthropic" {
			cfg.Summarizer.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		} else if cfg.Summarizer.Provider == "openai" {
			cfg.Summarizer.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}
}

// Save writes the config to path, backing up any existing file first.
func Save(path string, cfg *Config) error {
	if err := BackupAndWriteJSON(path, cfg, DefaultBackupCount); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	logging.L_info("config: saved", "path", path)
	return nil
}
