package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/brunobiangulo/texrag"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "texrag",
	Short: "Formula-aware RAG for vector-graphics PDFs",
	Long: `texrag ingests PDF documents whose formulas are drawn as vector
primitives, transcribes them to LaTeX through the marker pipeline, and
answers questions over the indexed content.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		})))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (JSON)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
}

// loadConfig builds the engine config from defaults, the optional config
// file, and environment overrides, in that order.
func loadConfig() (texrag.Config, error) {
	// .env is optional; ignore absence.
	_ = godotenv.Load()

	cfg := texrag.DefaultConfig()
	if cfgFile != "" {
		f, err := os.Open(cfgFile)
		if err != nil {
			return cfg, fmt.Errorf("opening config: %w", err)
		}
		defer f.Close()
		if err := json.NewDecoder(f).Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("parsing config: %w", err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *texrag.Config) {
	set := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	set(&cfg.DBPath, "TEXRAG_DB_PATH")
	set(&cfg.WorkDir, "TEXRAG_WORK_DIR")

	set(&cfg.Chat.Provider, "TEXRAG_CHAT_PROVIDER")
	set(&cfg.Chat.Model, "TEXRAG_CHAT_MODEL")
	set(&cfg.Chat.BaseURL, "TEXRAG_CHAT_BASE_URL")
	set(&cfg.Chat.APIKey, "TEXRAG_CHAT_API_KEY")

	set(&cfg.Embedding.Provider, "TEXRAG_EMBED_PROVIDER")
	set(&cfg.Embedding.Model, "TEXRAG_EMBED_MODEL")
	set(&cfg.Embedding.BaseURL, "TEXRAG_EMBED_BASE_URL")
	set(&cfg.Embedding.APIKey, "TEXRAG_EMBED_API_KEY")

	set(&cfg.Vision.Provider, "TEXRAG_VISION_PROVIDER")
	set(&cfg.Vision.Model, "TEXRAG_VISION_MODEL")
	set(&cfg.Vision.BaseURL, "TEXRAG_VISION_BASE_URL")
	set(&cfg.Vision.APIKey, "TEXRAG_VISION_API_KEY")

	if v := os.Getenv("TEXRAG_DOCLING_URL"); v != "" {
		if cfg.Docling == nil {
			cfg.Docling = &texrag.DoclingConfig{}
		}
		cfg.Docling.BaseURL = v
	}

	// Well-known provider env vars as a last fallback for API keys.
	fallbackKey := func(llmCfg *texrag.LLMConfig) {
		if llmCfg.APIKey != "" {
			return
		}
		switch llmCfg.Provider {
		case "openai":
			llmCfg.APIKey = os.Getenv("OPENAI_API_KEY")
		case "groq":
			llmCfg.APIKey = os.Getenv("GROQ_API_KEY")
		case "openrouter":
			llmCfg.APIKey = os.Getenv("OPENROUTER_API_KEY")
		}
	}
	fallbackKey(&cfg.Chat)
	fallbackKey(&cfg.Embedding)
	fallbackKey(&cfg.Vision)
}

// openEngine builds the engine from the resolved configuration.
func openEngine() (texrag.Engine, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return texrag.New(cfg)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
