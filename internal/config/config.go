package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration loaded from environment
// variables. It is immutable after Load() returns.
type Config struct {
	Host     string
	Port     int
	GRPCHost string
	GRPCPort int

	Environment string
	LogLevel    string

	DatabaseURL      string
	DatabaseMaxConns int

	ModelEndpoint      string
	ModelName          string
	ModelContextWindow int

	EmbeddingEndpoint   string
	EmbeddingDimensions int

	MaxRetrievalResults int
	SimilarityThreshold float64
	MaxContextLength    int

	EnableCaching bool
	MaxCacheSize  int
	CacheTTL      time.Duration

	InternalAuthSecret string
	FrontendURL        string
}

// Load reads configuration from environment variables. DATABASE_URL (the
// vector store's backing Postgres instance) and MODEL_ENDPOINT (the local
// generative model server) are required; everything else has a default
// matching spec.md §6.
func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("config.Load: DATABASE_URL is required")
	}

	modelEndpoint := envStr("MODEL_ENDPOINT", "")
	if modelEndpoint == "" {
		return nil, fmt.Errorf("config.Load: MODEL_ENDPOINT is required")
	}

	cfg := &Config{
		Host:     envStr("HOST", "0.0.0.0"),
		Port:     envInt("PORT", 8001),
		GRPCHost: envStr("GRPC_HOST", "0.0.0.0"),
		GRPCPort: envInt("GRPC_PORT", 50051),

		Environment: envStr("ENVIRONMENT", "development"),
		LogLevel:    envStr("LOG_LEVEL", "info"),

		DatabaseURL:      dbURL,
		DatabaseMaxConns: envInt("DATABASE_MAX_CONNS", 25),

		ModelEndpoint:      modelEndpoint,
		ModelName:          envStr("MODEL_NAME", "sage-gguf"),
		ModelContextWindow: envInt("MODEL_CONTEXT_WINDOW", 4096),

		EmbeddingEndpoint:   envStr("EMBEDDING_ENDPOINT", modelEndpoint),
		EmbeddingDimensions: envInt("EMBEDDING_DIMENSIONS", 768),

		MaxRetrievalResults: envInt("MAX_RETRIEVAL_RESULTS", 5),
		SimilarityThreshold: envFloat("SIMILARITY_THRESHOLD", 0.7),
		MaxContextLength:    envInt("MAX_CONTEXT_LENGTH", 1500),

		EnableCaching: envBool("ENABLE_CACHING", true),
		MaxCacheSize:  envInt("MAX_CACHE_SIZE", 100),
		CacheTTL:      envDuration("CACHE_TTL", time.Hour),

		InternalAuthSecret: envStr("INTERNAL_AUTH_SECRET", ""),
		FrontendURL:        envStr("FRONTEND_URL", "http://localhost:3000"),
	}

	if cfg.Environment != "development" && cfg.InternalAuthSecret == "" {
		return nil, fmt.Errorf("config.Load: INTERNAL_AUTH_SECRET is required in %s environment", cfg.Environment)
	}

	return cfg, nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
