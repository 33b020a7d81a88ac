package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/studora/ragpipe/provider"
)

type Config struct {
	Environment  string
	HTTPPort     string
	HTTPSPort    string
	Domains      []string
	CertCacheDir string
	LogDir       string

	DatabaseURL string

	// Ordered provider lists: index 0 is tried first.
	EmbeddingProviders  []provider.Descriptor
	CompletionProviders []provider.Descriptor
	EmbeddingDimension  int
	ProviderTimeout     time.Duration

	ChunkSize          int
	ChunkOverlap       int
	TopK               int
	MinScore           float64
	ContextTokenBudget int
	IndexWorkers       int

	// UsageAPIEndpoint points at the external billing/limits module.
	// Empty means every operation is allowed (development).
	UsageAPIEndpoint string
}

var isTest bool

func init() {
	isTest = os.Getenv("GO_ENVIRONMENT") == "test"
	if !isTest {
		if err := godotenv.Load(); err != nil {
			log.Println("Warning: Error loading .env file:", err)
		}
	}
}

func Load() (Config, error) {
	cfg := Config{
		Environment:        getEnv("ENVIRONMENT", "development"),
		HTTPPort:           getEnv("HTTP_PORT", "8086"),
		HTTPSPort:          getEnv("HTTPS_PORT", "443"),
		Domains:            []string{getEnv("DOMAIN", "example.com")},
		CertCacheDir:       getEnv("CERT_CACHE_DIR", "/etc/letsencrypt/live/example.com"),
		LogDir:             getEnv("LOG_DIR", "logs"),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		EmbeddingDimension: getEnvAsInt("EMBEDDING_DIMENSION", 1536),
		ProviderTimeout:    time.Duration(getEnvAsInt("PROVIDER_TIMEOUT_SECONDS", 120)) * time.Second,
		ChunkSize:          getEnvAsInt("CHUNK_SIZE", 500),
		ChunkOverlap:       getEnvAsInt("CHUNK_OVERLAP", 50),
		TopK:               getEnvAsInt("RETRIEVAL_TOP_K", 5),
		MinScore:           getEnvAsFloat("RETRIEVAL_MIN_SCORE", 0.7),
		ContextTokenBudget: getEnvAsInt("CONTEXT_TOKEN_BUDGET", 3000),
		IndexWorkers:       getEnvAsInt("INDEX_WORKERS", 4),
		UsageAPIEndpoint:   getEnv("USAGE_API_ENDPOINT", ""),
	}

	var err error
	cfg.EmbeddingProviders, err = parseProviders(
		getEnv("EMBEDDING_PROVIDERS", "openai"), provider.CapabilityEmbedding, cfg.EmbeddingDimension)
	if err != nil {
		return Config{}, err
	}
	cfg.CompletionProviders, err = parseProviders(
		getEnv("COMPLETION_PROVIDERS", "openai,anthropic,gemini"), provider.CapabilityCompletion, 0)
	if err != nil {
		return Config{}, err
	}

	// The embedding dimension couples the provider to the vector index for
	// the index's lifetime; a provider producing a different dimension
	// requires full re-indexing, so mismatches must fail at startup.
	for _, desc := range cfg.EmbeddingProviders {
		if desc.Dimension != cfg.EmbeddingDimension {
			return Config{}, fmt.Errorf("embedding provider %s produces dimension %d but index is configured for %d",
				desc.Name, desc.Dimension, cfg.EmbeddingDimension)
		}
	}
	return cfg, nil
}

var defaultModels = map[string]string{
	"openai":    "gpt-4o-mini",
	"anthropic": "claude-3-5-haiku-latest",
	"gemini":    "gemini-1.5-flash",
}

// parseProviders reads an ordered comma-separated provider list plus the
// per-provider environment (OPENAI_API_KEY, OPENAI_API_URL, ...).
func parseProviders(list string, capability provider.Capability, dimension int) ([]provider.Descriptor, error) {
	var descriptors []provider.Descriptor
	for _, name := range strings.Split(list, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		prefix := strings.ToUpper(name)

		model := getEnv(prefix+"_MODEL", defaultModels[name])
		if capability == provider.CapabilityEmbedding {
			model = getEnv(prefix+"_EMBEDDING_MODEL", "text-embedding-3-small")
		}

		desc := provider.Descriptor{
			Name:       name,
			Capability: capability,
			APIKey:     getEnv(prefix+"_API_KEY", ""),
			APIURL:     getEnv(prefix+"_API_URL", ""),
			Model:      model,
			Dimension:  dimension,
			Limiter:    provider.NewRateLimiter(getEnvAsFloat(prefix+"_CALLS_PER_SECOND", 2), 1),
		}
		if desc.Dimension == 0 && capability == provider.CapabilityEmbedding {
			return nil, fmt.Errorf("embedding provider %s has no dimension configured", name)
		}
		descriptors = append(descriptors, desc)
	}
	if len(descriptors) == 0 {
		return nil, fmt.Errorf("no %s providers configured", capability)
	}
	return descriptors, nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	strValue := getEnv(key, "")
	if value, err := strconv.ParseFloat(strValue, 64); err == nil {
		return value
	}
	return fallback
}
