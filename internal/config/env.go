package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds process settings read from the environment. Connection
// strings are optional here; a job that needs one fails when it is missing.
type Config struct {
	OutputDir string

	LogLevel  string
	LogFormat string
	LogFile   string

	SQLDriver       string
	SQLConnString   string
	MongoConnString string

	MinIO MinIOConfig
}

// MinIOConfig configures artifact publishing.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

func LoadConfig() (*Config, error) {
	cfg := &Config{
		OutputDir:       getenv("REFPULL_OUTPUT_DIR", "data"),
		LogLevel:        getenv("LOG_LEVEL", "info"),
		LogFormat:       getenv("LOG_FORMAT", "text"),
		LogFile:         os.Getenv("LOG_FILE"),
		SQLDriver:       getenv("SQL_DRIVER", "sqlserver"),
		SQLConnString:   os.Getenv("SQL_CONNECTION_STRING"),
		MongoConnString: os.Getenv("MONGO_CONNECTION_STRING"),
		MinIO: MinIOConfig{
			Endpoint:  os.Getenv("MINIO_ENDPOINT"),
			AccessKey: os.Getenv("MINIO_ACCESS_KEY"),
			SecretKey: os.Getenv("MINIO_SECRET_KEY"),
		},
	}

	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		useSSL, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("MINIO_USE_SSL: %w", err)
		}
		cfg.MinIO.UseSSL = useSSL
	}

	switch cfg.LogFormat {
	case "text", "json":
	default:
		return nil, fmt.Errorf("LOG_FORMAT must be text or json, got %q", cfg.LogFormat)
	}
	return cfg, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
