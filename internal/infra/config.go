package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv           string
	Port             string
	DatabaseURL      string
	RedisURL         string
	DBMaxConns       int
	AnalysisAPIKey   string
	AnalysisBaseURL  string
	AnalysisModel    string
	GenerationAPIKey string
	GenerationAPIURL string
	Workers          int
	CORSOrigins      []string
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		Port:             getEnv("PORT", "8080"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisURL:         os.Getenv("REDIS_URL"),
		DBMaxConns:       getEnvInt("DB_MAX_CONNS", 10),
		AnalysisAPIKey:   os.Getenv("ANALYSIS_API_KEY"),
		AnalysisBaseURL:  getEnv("ANALYSIS_BASE_URL", "https://yunwu.ai/v1"),
		AnalysisModel:    getEnv("ANALYSIS_MODEL", "gemini-2.5-pro-exp-03-25"),
		GenerationAPIKey: os.Getenv("GENERATION_API_KEY"),
		GenerationAPIURL: getEnv("GENERATION_API_URL", "https://yunwu.ai/fal-ai/nano-banana"),
		Workers:          getEnvInt("WORKER_COUNT", 4),
		CORSOrigins:      splitCSV(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000")),
		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.AnalysisAPIKey == "" {
		return nil, fmt.Errorf("ANALYSIS_API_KEY is required")
	}

	if cfg.GenerationAPIKey == "" {
		return nil, fmt.Errorf("GENERATION_API_KEY is required")
	}

	if cfg.Workers < 1 {
		cfg.Workers = 1
	}

	if cfg.DBMaxConns < 1 {
		cfg.DBMaxConns = 1
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func splitCSV(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
