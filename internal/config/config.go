package config

import (
	_ "embed"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

//go:embed prices.yaml
var pricesYAML []byte

type Config struct {
	FaceService FaceServiceConfig
	Match       MatchConfig
	OpenAI      OpenAIConfig
	Gemini      GeminiConfig
	Ollama      OllamaConfig
	LlamaCpp    LlamaCppConfig
	Database    DatabaseConfig
	Web         WebConfig
	Prices      PricesConfig
}

type FaceServiceConfig struct {
	URL     string // defaults to http://localhost:8000
	APIKey  string // optional, sent as X-API-Key
	Timeout int    // request timeout in seconds (default 60)
}

// MatchConfig holds the server-side defaults for model, detector and metric.
// CLI commands carry their own flag defaults; these apply to API requests
// that omit the fields.
type MatchConfig struct {
	Model    string
	Detector string
	Metric   string
}

type OpenAIConfig struct {
	Token string
}

type GeminiConfig struct {
	APIKey string
	Model  string // defaults to gemini-2.5-flash
}

type OllamaConfig struct {
	URL   string // defaults to http://localhost:11434
	Model string // defaults to llama3.2-vision:11b
}

type LlamaCppConfig struct {
	URL   string // defaults to http://localhost:8080
	Model string // defaults to llava
}

type DatabaseConfig struct {
	URL           string // PostgreSQL connection URL
	MaxOpenConns  int    // Maximum open connections (default 25)
	MaxIdleConns  int    // Maximum idle connections (default 5)
	HNSWIndexPath string // Path to persist the HNSW index (optional, if empty index is rebuilt on startup)
}

type WebConfig struct {
	Host   string // defaults to all interfaces
	Port   int    // defaults to 8080
	APIKey string // optional, when set every API request must carry it
}

type PricesConfig struct {
	Models map[string]RequestPricing `yaml:"models"`
}

type RequestPricing struct {
	Input  float64 `yaml:"input"`  // per 1M tokens, USD
	Output float64 `yaml:"output"` // per 1M tokens, USD
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envString reads an environment variable, falling back to a default when
// unset or empty.
func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

func Load() *Config {
	var prices PricesConfig
	if err := yaml.Unmarshal(pricesYAML, &prices); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded prices.yaml: " + err.Error())
	}

	return &Config{
		FaceService: FaceServiceConfig{
			URL:     os.Getenv("FACE_SERVICE_URL"),
			APIKey:  os.Getenv("FACE_SERVICE_API_KEY"),
			Timeout: envInt("FACE_SERVICE_TIMEOUT", 60),
		},
		Match: MatchConfig{
			Model:    envString("FACE_MODEL", "VGG-Face"),
			Detector: envString("FACE_DETECTOR", "opencv"),
			Metric:   envString("FACE_METRIC", "cosine"),
		},
		OpenAI: OpenAIConfig{
			Token: os.Getenv("OPENAI_TOKEN"),
		},
		Gemini: GeminiConfig{
			APIKey: os.Getenv("GEMINI_API_KEY"),
			Model:  os.Getenv("GEMINI_MODEL"),
		},
		Ollama: OllamaConfig{
			URL:   os.Getenv("OLLAMA_URL"),
			Model: os.Getenv("OLLAMA_MODEL"),
		},
		LlamaCpp: LlamaCppConfig{
			URL:   os.Getenv("LLAMACPP_URL"),
			Model: os.Getenv("LLAMACPP_MODEL"),
		},
		Database: DatabaseConfig{
			URL:           os.Getenv("DATABASE_URL"),
			MaxOpenConns:  envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:  envInt("DATABASE_MAX_IDLE_CONNS", 5),
			HNSWIndexPath: os.Getenv("HNSW_INDEX_PATH"),
		},
		Web: WebConfig{
			Host:   os.Getenv("WEB_HOST"),
			Port:   envInt("WEB_PORT", 8080),
			APIKey: os.Getenv("WEB_API_KEY"),
		},
		Prices: prices,
	}
}

// GetModelPricing returns pricing for a specific model, with fallback defaults
func (c *Config) GetModelPricing(modelName string) RequestPricing {
	if pricing, ok := c.Prices.Models[modelName]; ok {
		return pricing
	}
	// Return zero pricing if model not found
	return RequestPricing{}
}
