package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// HuggingFaceConfig holds configuration for the hosted extractive QA model.
type HuggingFaceConfig struct {
	BaseURL      string `yaml:"base_url"`
	APIKeyEnv    string `yaml:"api_key_env"`
	Model        string `yaml:"model"`
	MaxAnswerLen int    `yaml:"max_answer_len"`
	MaxRetries   int    `yaml:"max_retries"`
	TimeoutSecs  int    `yaml:"timeout_secs"`
}

// LLMConfig holds configuration for an OpenAI-compatible chat model reader.
type LLMConfig struct {
	Host      string `yaml:"host"`
	Model     string `yaml:"model"`
	APIKeyEnv string `yaml:"api_key_env"`
}

// ModelConfig selects and configures the QA model.
type ModelConfig struct {
	Type        string             `yaml:"type"`
	HuggingFace *HuggingFaceConfig `yaml:"huggingface,omitempty"`
	LLM         *LLMConfig         `yaml:"llm,omitempty"`
}

// ChunkerConfig configures how documents are split into chunks.
// Size and Overlap apply to the window and recursive chunkers and are counted in runes.
type ChunkerConfig struct {
	Type              string `yaml:"type"`
	Size              int    `yaml:"size"`
	Overlap           int    `yaml:"overlap"`
	SentencesPerChunk int    `yaml:"sentences_per_chunk"`
	OverlapSentences  int    `yaml:"overlap_sentences"`
}

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// EmbedderConfig selects the embedder used to pre-select chunks.
type EmbedderConfig struct {
	Type   string                `yaml:"type"`
	OpenAI *OpenAIEmbedderConfig `yaml:"openai,omitempty"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	URL         string `yaml:"url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Collection  string `yaml:"collection"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// VectorStoreConfig selects the vector store used to pre-select chunks.
type VectorStoreConfig struct {
	Type   string        `yaml:"type"`
	Qdrant *QdrantConfig `yaml:"qdrant,omitempty"`
}

// RetrieverConfig limits how many chunks are sent to the model per question.
// Zero sends every chunk and the embedder and store are never used.
type RetrieverConfig struct {
	MaxChunks int               `yaml:"max_chunks"`
	Embedder  EmbedderConfig    `yaml:"embedder"`
	Store     VectorStoreConfig `yaml:"store"`
}

// AnswersConfig controls ranking of the final answers.
type AnswersConfig struct {
	TopK     int     `yaml:"top_k"`
	MinScore float64 `yaml:"min_score"`
}

// CacheConfig configures the on-disk answer cache. It is on unless a config
// sets enabled: false.
type CacheConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Path     string `yaml:"path"`
	TTLHours int    `yaml:"ttl_hours"`
}

// SummarizerConfig configures the document overview.
type SummarizerConfig struct {
	MaxSentences int `yaml:"max_sentences"`
	MaxRunes     int `yaml:"max_runes"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Model      ModelConfig      `yaml:"model"`
	Chunker    ChunkerConfig    `yaml:"chunker"`
	Retriever  RetrieverConfig  `yaml:"retriever"`
	Answers    AnswersConfig    `yaml:"answers"`
	Cache      CacheConfig      `yaml:"cache"`
	Summarizer SummarizerConfig `yaml:"summarizer"`
	Workers    int              `yaml:"workers"`
	Log        LogConfig        `yaml:"log"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}
	// fields absent from the file keep these values
	cfg := AppConfig{Cache: CacheConfig{Enabled: true}}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	applyConfigDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/curioqueries/config.yaml.
// If neither exists, it writes defaults to the user path and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := Default()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate rejects settings that cannot be wired into components.
func (c *AppConfig) Validate() error {
	switch c.Model.Type {
	case "huggingface", "llm", "lexical":
	default:
		return fmt.Errorf("unknown model type %q", c.Model.Type)
	}
	switch c.Chunker.Type {
	case "window", "sentence", "recursive":
	default:
		return fmt.Errorf("unknown chunker type %q", c.Chunker.Type)
	}
	if c.Chunker.Overlap < 0 || c.Chunker.Overlap >= c.Chunker.Size {
		return fmt.Errorf("chunker overlap %d must be in [0, size %d)", c.Chunker.Overlap, c.Chunker.Size)
	}
	switch c.Retriever.Embedder.Type {
	case "tfidf", "openai":
	default:
		return fmt.Errorf("unknown embedder type %q", c.Retriever.Embedder.Type)
	}
	switch c.Retriever.Store.Type {
	case "memory", "qdrant":
	default:
		return fmt.Errorf("unknown vector store type %q", c.Retriever.Store.Type)
	}
	if c.Answers.MinScore < 0 {
		return errors.New("answers.min_score must not be negative")
	}
	return nil
}

func defaultUserConfigPath() (string, error) {
	dir, err := userConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func userConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "curioqueries"), nil
}

// Default returns the built-in configuration: the hosted roberta-base-squad2
// model over 1000-rune windows, returning the five best answers.
func Default() *AppConfig {
	cfg := &AppConfig{
		Model:   ModelConfig{Type: "huggingface"},
		Chunker: ChunkerConfig{Type: "window"},
		Cache:   CacheConfig{Enabled: true},
	}
	applyConfigDefaults(cfg)
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Model.Type == "" {
		cfg.Model.Type = "huggingface"
	}
	if cfg.Model.Type == "huggingface" {
		if cfg.Model.HuggingFace == nil {
			cfg.Model.HuggingFace = &HuggingFaceConfig{}
		}
		hf := cfg.Model.HuggingFace
		if hf.BaseURL == "" {
			hf.BaseURL = "https://api-inference.huggingface.co/models"
		}
		if hf.APIKeyEnv == "" {
			hf.APIKeyEnv = "HF_API_TOKEN"
		}
		if hf.Model == "" {
			hf.Model = "deepset/roberta-base-squad2"
		}
		if hf.MaxAnswerLen == 0 {
			hf.MaxAnswerLen = 50
		}
		if hf.MaxRetries == 0 {
			hf.MaxRetries = 5
		}
		if hf.TimeoutSecs == 0 {
			hf.TimeoutSecs = 60
		}
	}
	if cfg.Model.Type == "llm" {
		if cfg.Model.LLM == nil {
			cfg.Model.LLM = &LLMConfig{}
		}
		if cfg.Model.LLM.Host == "" {
			cfg.Model.LLM.Host = "http://localhost:11434/v1"
		}
		if cfg.Model.LLM.Model == "" {
			cfg.Model.LLM.Model = "qwen2.5:3b"
		}
	}
	if cfg.Chunker.Type == "" {
		cfg.Chunker.Type = "window"
	}
	if cfg.Chunker.Size == 0 {
		cfg.Chunker.Size = 1000
		if cfg.Chunker.Overlap == 0 {
			cfg.Chunker.Overlap = 100
		}
	}
	if cfg.Chunker.SentencesPerChunk == 0 {
		cfg.Chunker.SentencesPerChunk = 8
	}
	if cfg.Chunker.OverlapSentences == 0 {
		cfg.Chunker.OverlapSentences = 1
	}
	if cfg.Retriever.Embedder.Type == "" {
		cfg.Retriever.Embedder.Type = "tfidf"
	}
	if cfg.Retriever.Embedder.Type == "openai" {
		if cfg.Retriever.Embedder.OpenAI == nil {
			cfg.Retriever.Embedder.OpenAI = &OpenAIEmbedderConfig{}
		}
		oc := cfg.Retriever.Embedder.OpenAI
		if oc.BaseURL == "" {
			oc.BaseURL = "https://api.openai.com/v1"
		}
		if oc.APIKeyEnv == "" {
			oc.APIKeyEnv = "OPENAI_API_KEY"
		}
		if oc.Model == "" {
			oc.Model = "text-embedding-3-small"
		}
		if oc.TimeoutSecs == 0 {
			oc.TimeoutSecs = 30
		}
	}
	if cfg.Retriever.Store.Type == "" {
		cfg.Retriever.Store.Type = "memory"
	}
	if cfg.Retriever.Store.Type == "qdrant" {
		if cfg.Retriever.Store.Qdrant == nil {
			cfg.Retriever.Store.Qdrant = &QdrantConfig{}
		}
		qc := cfg.Retriever.Store.Qdrant
		if qc.URL == "" {
			qc.URL = "http://localhost:6333"
		}
		if qc.Collection == "" {
			qc.Collection = "curioqueries"
		}
		if qc.TimeoutSecs == 0 {
			qc.TimeoutSecs = 15
		}
	}
	if cfg.Answers.TopK == 0 {
		cfg.Answers.TopK = 5
	}
	if cfg.Cache.Path == "" {
		if dir, err := userConfigDir(); err == nil {
			cfg.Cache.Path = filepath.Join(dir, "cache")
		}
	}
	if cfg.Cache.TTLHours == 0 {
		cfg.Cache.TTLHours = 24 * 7
	}
	if cfg.Summarizer.MaxSentences == 0 {
		cfg.Summarizer.MaxSentences = 3
	}
	if cfg.Summarizer.MaxRunes == 0 {
		cfg.Summarizer.MaxRunes = 160
	}
	if cfg.Workers == 0 {
		cfg.Workers = 4
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}
