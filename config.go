package texrag

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds all configuration for the texrag engine.
type Config struct {
	// DBPath is the full path to the SQLite database file.
	// If empty, defaults to ~/.texrag/<DBName>.db
	DBPath string `json:"db_path" yaml:"db_path"`

	// DBName is the name for the database (used when DBPath is empty).
	// Defaults to "texrag".
	DBName string `json:"db_name" yaml:"db_name"`

	// StorageDir controls where the database is created when DBPath
	// is not explicitly set. Options: "home" (default) uses ~/.texrag/,
	// "local" uses the current working directory.
	StorageDir string `json:"storage_dir" yaml:"storage_dir"`

	// WorkDir is the staging root for marker working copies and formula
	// crops. Defaults to <storage dir>/work.
	WorkDir string `json:"work_dir" yaml:"work_dir"`

	// LLM providers
	Chat      LLMConfig `json:"chat" yaml:"chat"`
	Embedding LLMConfig `json:"embedding" yaml:"embedding"`
	Vision    LLMConfig `json:"vision" yaml:"vision"`

	// Docling enables the structural parsing service. When unset, parsing
	// falls back to direct MuPDF HTML conversion.
	Docling *DoclingConfig `json:"docling,omitempty" yaml:"docling,omitempty"`

	// Retrieval weights for RRF
	WeightVector float64 `json:"weight_vector" yaml:"weight_vector"`
	WeightFTS    float64 `json:"weight_fts" yaml:"weight_fts"`
	// FormulaBoost is the score multiplier for formula-bearing chunks on
	// math-intent queries. 1.0 disables.
	FormulaBoost float64 `json:"formula_boost" yaml:"formula_boost"`

	// Chunking
	MaxChunkTokens int `json:"max_chunk_tokens" yaml:"max_chunk_tokens"`
	ChunkOverlap   int `json:"chunk_overlap" yaml:"chunk_overlap"`

	// Formula pipeline
	DetectConcurrency  int           `json:"detect_concurrency" yaml:"detect_concurrency"`   // parallel per-page geometry passes
	ResolveConcurrency int           `json:"resolve_concurrency" yaml:"resolve_concurrency"` // vision calls in flight
	ResolveTimeout     time.Duration `json:"resolve_timeout" yaml:"resolve_timeout"`         // per vision call
	// UnresolvedPolicy controls markers whose transcription failed:
	// "placeholder" (default), "keep", or "strip".
	UnresolvedPolicy string `json:"unresolved_policy" yaml:"unresolved_policy"`
	// SkipFormulas bypasses the marker pipeline entirely and ingests
	// documents through plain parsing.
	SkipFormulas bool `json:"skip_formulas" yaml:"skip_formulas"`

	// Embedding dimensions (must match model)
	EmbeddingDim int `json:"embedding_dim" yaml:"embedding_dim"`
}

// LLMConfig configures a single LLM provider endpoint.
type LLMConfig struct {
	Provider string `json:"provider" yaml:"provider"` // ollama, openai, openrouter, groq, custom
	Model    string `json:"model" yaml:"model"`
	BaseURL  string `json:"base_url" yaml:"base_url"`
	APIKey   string `json:"api_key" yaml:"api_key"`
}

// DoclingConfig configures the docling-serve structural parsing service.
type DoclingConfig struct {
	BaseURL string        `json:"base_url" yaml:"base_url"`
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
	MaxWait time.Duration `json:"max_wait" yaml:"max_wait"`
}

// DefaultConfig returns a Config with sensible defaults for local
// inference. Database and staging live under ~/.texrag/ by default.
func DefaultConfig() Config {
	return Config{
		DBName:     "texrag",
		StorageDir: "home",
		Chat: LLMConfig{
			Provider: "ollama",
			Model:    "llama3.1:8b",
			BaseURL:  "http://localhost:11434",
		},
		Embedding: LLMConfig{
			Provider: "ollama",
			Model:    "nomic-embed-text",
			BaseURL:  "http://localhost:11434",
		},
		Vision: LLMConfig{
			Provider: "ollama",
			Model:    "llama3.2-vision",
			BaseURL:  "http://localhost:11434",
		},
		WeightVector:       1.0,
		WeightFTS:          1.0,
		FormulaBoost:       1.15,
		MaxChunkTokens:     1024,
		ChunkOverlap:       128,
		DetectConcurrency:  4,
		ResolveConcurrency: 4,
		ResolveTimeout:     90 * time.Second,
		UnresolvedPolicy:   "placeholder",
		EmbeddingDim:       768,
	}
}

// validate rejects configuration values no component can act on.
func (c *Config) validate() error {
	switch c.UnresolvedPolicy {
	case "", "placeholder", "keep", "strip":
	default:
		return fmt.Errorf("%w: unresolved_policy %q", ErrInvalidConfig, c.UnresolvedPolicy)
	}
	if c.WeightVector < 0 || c.WeightFTS < 0 {
		return fmt.Errorf("%w: retrieval weights must be non-negative", ErrInvalidConfig)
	}
	if c.FormulaBoost < 0 {
		return fmt.Errorf("%w: formula_boost must be non-negative", ErrInvalidConfig)
	}
	if c.ChunkOverlap < 0 || c.MaxChunkTokens < 0 {
		return fmt.Errorf("%w: chunk sizes must be non-negative", ErrInvalidConfig)
	}
	return nil
}

// resolveDBPath computes the final database path from config fields.
func (c *Config) resolveDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}

	name := c.DBName
	if name == "" {
		name = "texrag"
	}

	switch c.StorageDir {
	case "local", "cwd":
		return name + ".db"
	default: // "home" or empty
		home, err := os.UserHomeDir()
		if err != nil {
			return name + ".db" // fallback to cwd
		}
		return filepath.Join(home, ".texrag", name+".db")
	}
}

// resolveWorkDir computes the staging root for marker working copies and
// formula crops.
func (c *Config) resolveWorkDir() string {
	if c.WorkDir != "" {
		return c.WorkDir
	}
	return filepath.Join(filepath.Dir(c.resolveDBPath()), "work")
}
