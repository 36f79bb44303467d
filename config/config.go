package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

type Config struct {
	PortalUsername    string
	PortalPassword    string
	PortalProfilePath string

	OpenAIAPIKey string
	OpenAIModel  string

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioRegion    string
	MinioUseSSL    bool

	Headless    bool
	MaxLoans    int
	DownloadDir string
	JournalPath string
}

func Load() (*Config, error) {
	maxLoans, err := strconv.Atoi(getEnvDefault("MAX_LOANS", "0"))
	if err != nil {
		return nil, err
	}

	return &Config{
		PortalUsername:    getEnv("PORTAL_USERNAME"),
		PortalPassword:    getEnv("PORTAL_PASSWORD"),
		PortalProfilePath: getEnvDefault("PORTAL_PROFILE_PATH", "portal.yaml"),
		OpenAIAPIKey:      getEnv("OPENAI_API_KEY"),
		OpenAIModel:       getEnvDefault("OPENAI_MODEL", "gpt-4-1106-preview"),
		MinioEndpoint:     getEnv("MINIO_ENDPOINT"),
		MinioAccessKey:    getEnv("MINIO_ACCESS_KEY"),
		MinioSecretKey:    getEnv("MINIO_SECRET_KEY"),
		MinioBucket:       getEnvDefault("MINIO_BUCKET", "appraisals"),
		MinioRegion:       getEnvDefault("MINIO_REGION", ""),
		MinioUseSSL:       parseBool(getEnvDefault("MINIO_USE_SSL", "false")),
		Headless:          parseBool(getEnvDefault("HEADLESS_MODE", "false")),
		MaxLoans:          maxLoans,
		DownloadDir:       getEnvDefault("DOWNLOAD_DIR", filepath.Join(".", "downloads")),
		JournalPath:       getEnvDefault("JOURNAL_PATH", filepath.Join(".", "data", "journal.db")),
	}, nil
}

func getEnv(key string) string {
	value := os.Getenv(key)
	if value == "" {
		log.Fatalf("Environment variable %s is required but not set", key)
	}
	return value
}

func getEnvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func parseBool(value string) bool {
	return strings.EqualFold(value, "true") || value == "1"
}
