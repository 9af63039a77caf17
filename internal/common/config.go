package common

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Engine   EngineConfig
	Vision   VisionConfig
	Database DatabaseConfig
	Artifact ArtifactConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration
	MaxBodyBytes    int64
}

// EngineConfig holds validation engine configuration
type EngineConfig struct {
	RulesPath    string
	AssetsRoot   string
	DPI          int
	Pdftoppm     string
	RenderConc   int
	VisualConc   int
	BoldKeywords []string
}

// VisionConfig holds text-recognition service configuration
type VisionConfig struct {
	Endpoint     string
	Key          string
	PollInterval time.Duration
	ReadTimeout  time.Duration
}

// DatabaseConfig holds report-archive database configuration.
// An empty DSN disables the archive.
type DatabaseConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	DialTimeout     time.Duration
}

// ArtifactConfig holds filesystem artifact store configuration.
// An empty Root disables artifact archival.
type ArtifactConfig struct {
	Root       string
	SavePages  bool
	SaveReport bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            getEnv("HTTP_ADDR", ":8080"),
			ShutdownTimeout: getEnvAsDuration("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),
			RequestTimeout:  getEnvAsDuration("HTTP_REQUEST_TIMEOUT", 2*time.Minute),
			MaxBodyBytes:    int64(getEnvAsInt("HTTP_MAX_BODY_BYTES", 64<<20)),
		},
		Engine: EngineConfig{
			RulesPath:    getEnv("RULES_PATH", "assets/Reglas.json"),
			AssetsRoot:   getEnv("ASSETS_ROOT", "assets"),
			DPI:          getEnvAsInt("RENDER_DPI", 300),
			Pdftoppm:     getEnv("PDFTOPPM_BIN", "pdftoppm"),
			RenderConc:   getEnvAsInt("RENDER_CONCURRENCY", 4),
			VisualConc:   getEnvAsInt("VISUAL_CONCURRENCY", 2),
			BoldKeywords: nil, // nil -> pdfdoc.DefaultBoldKeywords
		},
		Vision: VisionConfig{
			Endpoint:     getEnv("VISION_ENDPOINT", ""),
			Key:          getEnv("VISION_KEY", ""),
			PollInterval: getEnvAsDuration("VISION_POLL_INTERVAL", 300*time.Millisecond),
			ReadTimeout:  getEnvAsDuration("VISION_READ_TIMEOUT", 60*time.Second),
		},
		Database: DatabaseConfig{
			DSN:             getEnv("DB_URL", ""),
			MaxConns:        getEnvAsInt32("DB_MAX_CONNS", 10),
			MinConns:        getEnvAsInt32("DB_MIN_CONNS", 1),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:     getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
		},
		Artifact: ArtifactConfig{
			Root:       getEnv("ARTIFACT_DIR", ""),
			SavePages:  getEnvAsBool("ARTIFACT_SAVE_PAGES", true),
			SaveReport: getEnvAsBool("ARTIFACT_SAVE_REPORT", true),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// ValidateConfig validates the loaded configuration
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return NewAppError("CONFIG_ERROR", "HTTP_ADDR is required", ErrInvalidInput)
	}
	if c.Engine.DPI <= 0 {
		return NewAppError("CONFIG_ERROR", "RENDER_DPI must be positive", ErrInvalidInput)
	}
	if c.Engine.AssetsRoot == "" {
		return NewAppError("CONFIG_ERROR", "ASSETS_ROOT is required", ErrInvalidInput)
	}
	return nil
}
