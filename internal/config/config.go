package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every tunable the pipeline reads from the environment.
type Config struct {
	DataDir      string // per-source raw extracts and run outputs
	CacheDBPath  string // durable identity cache (sqlite)
	DatasetPath  string // merged complaint CSV
	RejectedPath string // rejected-records JSONL

	GeocoderKey     string
	GeocoderRPS     int
	GeocoderTimeout time.Duration
	GeocodeRetries  int

	Workers            int
	DedupToleranceDays int
	MatchMajorOnly     bool

	PostgresDSN string // warehouse export target, optional
	WebAddr     string

	Debug bool
}

// Load reads .env (when present) and the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	cwd, err := os.Getwd()
	if err != nil {
		return Config{}, err
	}

	dataDir := GetEnv("DATA_DIR", filepath.Join(cwd, "data"))
	cfg := Config{
		DataDir:      dataDir,
		CacheDBPath:  GetEnv("CACHE_DB_PATH", filepath.Join(dataDir, "identity.db")),
		DatasetPath:  GetEnv("DATASET_PATH", filepath.Join(dataDir, "brownsville.csv")),
		RejectedPath: GetEnv("REJECTED_PATH", filepath.Join(dataDir, "rejected.jsonl")),

		GeocoderKey:     GetEnv("GEOCODER_KEY", ""),
		GeocoderRPS:     GetEnvInt("GEOCODER_RPS", 10),
		GeocoderTimeout: time.Duration(GetEnvInt("GEOCODER_TIMEOUT_MS", 20000)) * time.Millisecond,
		GeocodeRetries:  GetEnvInt("GEOCODER_RETRIES", 4),

		Workers:            GetEnvInt("WORKERS", 8),
		DedupToleranceDays: GetEnvInt("DEDUP_TOLERANCE_DAYS", 3),
		MatchMajorOnly:     GetEnvBool("MATCH_MAJOR_ONLY", false),

		PostgresDSN: GetEnv("POSTGRES_DSN", ""),
		WebAddr:     GetEnv("WEB_ADDR", "127.0.0.1:8080"),

		Debug: GetEnvBool("DEBUG", false),
	}
	return cfg, nil
}

// GetEnv gets environment variable with default
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvInt gets integer environment variable with default
func GetEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// GetEnvBool gets boolean environment variable with default
func GetEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return defaultValue
}
