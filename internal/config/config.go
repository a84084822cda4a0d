package config

import (
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"docqa/internal/models"
)

const (
	APIKeyEnv = "GOOGLE_API_KEY"
	envFile   = ".env"
)

const (
	ProviderGoogleAI = "googleai"
	ProviderOpenAI   = "openai"
	ProviderOllama   = "ollama"

	BackendChromem  = "chromem"
	BackendPGVector = "pgvector"

	StrategyWindow    = "window"
	StrategyRecursive = "recursive"
)

type Config struct {
	LLM        LLMConfig        `yaml:"llm"`
	Processing ProcessingConfig `yaml:"processing"`
	Index      IndexConfig      `yaml:"index"`
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
}

// LLMConfig selects the hosted models. APIKey is never read from the yaml file.
type LLMConfig struct {
	Provider           string `yaml:"provider"`
	BaseURL            string `yaml:"base_url"`
	ProviderKey        string `yaml:"provider_key"`
	Model              string `yaml:"model"`
	VisionModel        string `yaml:"vision_model"`
	EmbeddingModel     string `yaml:"embedding_model"`
	EmbeddingBatchSize int    `yaml:"embedding_batch_size"`
	RequestsPerMinute  int    `yaml:"requests_per_minute"`
	APIKey             string `yaml:"-"`
}

// ProcessingConfig holds the chunking, retrieval and image limits
type ProcessingConfig struct {
	ChunkSize          int      `yaml:"chunk_size"`
	ChunkOverlap       int      `yaml:"chunk_overlap"`
	ChunkStrategy      string   `yaml:"chunk_strategy"`
	RetrievalK         int      `yaml:"retrieval_k"`
	Temperature        float64  `yaml:"temperature"`
	MaxFileSize        int64    `yaml:"max_file_size"`
	MaxImages          int      `yaml:"max_images"`
	SupportedMIMETypes []string `yaml:"supported_mime_types"`
	MaxImageWidth      int      `yaml:"max_image_width"`
	MaxImageHeight     int      `yaml:"max_image_height"`
	JPEGQuality        int      `yaml:"jpeg_quality"`
	EnhanceImages      bool     `yaml:"enhance_images"`
	NearbyTextMargin   float64  `yaml:"nearby_text_margin"`
}

type IndexConfig struct {
	Backend       string `yaml:"backend"`
	Dir           string `yaml:"dir"`
	Collection    string `yaml:"collection"`
	Compress      bool   `yaml:"compress"`
	ExportFile    string `yaml:"export_file"`
	EncryptionKey string `yaml:"encryption_key"`
	DSN           string `yaml:"dsn"`
	Debug         bool   `yaml:"debug"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
	Mode string `yaml:"mode"`
}

type LogConfig struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
}

// Default returns the configuration used when no file overrides it
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:           ProviderGoogleAI,
			Model:              "gemini-1.5-pro",
			VisionModel:        "gemini-1.5-flash",
			EmbeddingModel:     "embedding-001",
			EmbeddingBatchSize: 100,
		},
		Processing: ProcessingConfig{
			ChunkSize:          1000,
			ChunkOverlap:       200,
			ChunkStrategy:      StrategyWindow,
			RetrievalK:         3,
			Temperature:        0.4,
			MaxFileSize:        50 * 1024 * 1024,
			MaxImages:          10,
			SupportedMIMETypes: []string{"image/jpeg", "image/png"},
			MaxImageWidth:      1920,
			MaxImageHeight:     1080,
			JPEGQuality:        85,
			NearbyTextMargin:   72,
		},
		Index: IndexConfig{
			Backend:    BackendChromem,
			Dir:        "chroma_db",
			Collection: "document_chunks",
		},
		Server: ServerConfig{
			Addr: ":7860",
			Mode: "release",
		},
		Log: LogConfig{
			Level:   "info",
			Console: true,
		},
	}
}

// LoadConfig builds the process configuration: defaults, then the yaml file at path
// (skipped when path is empty), then the API key from the environment or a local .env file.
func LoadConfig(path string) (*Config, error) {
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("error loading %s file: %w", envFile, err)
		}
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.LLM.APIKey = os.Getenv(APIKeyEnv)
	if cfg.LLM.APIKey == "" {
		return nil, fmt.Errorf("%w: %s not found in environment", models.ErrModelInitialization, APIKeyEnv)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	p := c.Processing
	if p.ChunkSize <= 0 {
		errs = append(errs, errors.New("processing.chunk_size must be > 0"))
	}
	if p.ChunkOverlap < 0 || p.ChunkOverlap >= p.ChunkSize {
		errs = append(errs, errors.New("processing.chunk_overlap must be >= 0 and < chunk_size"))
	}
	if p.ChunkStrategy != StrategyWindow && p.ChunkStrategy != StrategyRecursive {
		errs = append(errs, fmt.Errorf("unknown processing.chunk_strategy %q", p.ChunkStrategy))
	}
	if p.RetrievalK <= 0 {
		errs = append(errs, errors.New("processing.retrieval_k must be > 0"))
	}
	if p.MaxImages < 0 {
		errs = append(errs, errors.New("processing.max_images must be >= 0"))
	}
	if p.MaxImageWidth <= 0 || p.MaxImageHeight <= 0 {
		errs = append(errs, errors.New("processing.max_image_width and max_image_height must be > 0"))
	}
	if p.JPEGQuality < 1 || p.JPEGQuality > 100 {
		errs = append(errs, errors.New("processing.jpeg_quality must be within 1..100"))
	}
	if len(p.SupportedMIMETypes) == 0 {
		errs = append(errs, errors.New("processing.supported_mime_types must not be empty"))
	}

	if !slices.Contains([]string{ProviderGoogleAI, ProviderOpenAI, ProviderOllama}, c.LLM.Provider) {
		errs = append(errs, fmt.Errorf("unknown llm.provider %q", c.LLM.Provider))
	}

	switch c.Index.Backend {
	case BackendChromem:
		if c.Index.Dir == "" {
			errs = append(errs, errors.New("index.dir is required for the chromem backend"))
		}
	case BackendPGVector:
		if c.Index.DSN == "" {
			errs = append(errs, errors.New("index.dsn is required for the pgvector backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown index.backend %q", c.Index.Backend))
	}
	if c.Index.Collection == "" {
		errs = append(errs, errors.New("index.collection is required"))
	}

	return errors.Join(errs...)
}

// SupportsMIMEType reports whether images of the given type may be sent to the model
func (p ProcessingConfig) SupportsMIMEType(mimeType string) bool {
	return slices.Contains(p.SupportedMIMETypes, mimeType)
}
