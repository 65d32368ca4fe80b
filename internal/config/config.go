package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

const (
	DefaultMaxUploadSize          = 10 * 1024 * 1024
	DefaultMaxInlineAttachmentLen = 4 * 1024 * 1024
)

type Config struct {
	HTTPPort                 string
	IdentityCredentialsPath  string
	IdentityProjectID        string
	IdentityWebAPIKey        string
	GenerationAPIKey         string
	GenerationModel          string
	DatabasePath             string
	UploadsDir               string
	MaxUploadSize            int64
	MaxInlineAttachmentBytes int64
	LogLevel                 string
}

// Load reads configuration from the environment, honoring a .env file when
// present. The generation API key and identity web API key may be empty; the
// affected endpoints answer with a not_configured error instead of failing
// startup.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file found, relying on environment variables")
	}

	cfg := Config{
		HTTPPort:                 getEnv("PORT", "8080"),
		IdentityCredentialsPath:  getEnv("IDENTITY_CREDENTIALS_PATH", ""),
		IdentityWebAPIKey:        getEnv("IDENTITY_WEB_API_KEY", ""),
		GenerationAPIKey:         getEnv("GENERATION_API_KEY", ""),
		GenerationModel:          getEnv("GENERATION_MODEL", "gemini-2.0-flash"),
		DatabasePath:             getEnv("DATABASE_PATH", "zen_backend.db"),
		UploadsDir:               getEnv("UPLOADS_DIR", "uploads"),
		MaxUploadSize:            getEnvAsInt64("MAX_UPLOAD_SIZE", DefaultMaxUploadSize),
		MaxInlineAttachmentBytes: getEnvAsInt64("MAX_INLINE_ATTACHMENT_BYTES", DefaultMaxInlineAttachmentLen),
		LogLevel:                 getEnv("LOG_LEVEL", "info"),
	}

	if cfg.MaxUploadSize <= 0 {
		return Config{}, fmt.Errorf("MAX_UPLOAD_SIZE must be positive")
	}

	if cfg.IdentityCredentialsPath != "" {
		projectID, err := readProjectID(cfg.IdentityCredentialsPath)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read identity credentials: %w", err)
		}
		cfg.IdentityProjectID = projectID
	}
	if env := getEnv("IDENTITY_PROJECT_ID", ""); env != "" {
		cfg.IdentityProjectID = env
	}

	return cfg, nil
}

// readProjectID extracts the project id from a service-account credentials
// file so operator-facing errors can name the project.
func readProjectID(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	var cred struct {
		ProjectID string `json:"project_id"`
	}
	if err := json.Unmarshal(raw, &cred); err != nil {
		return "", fmt.Errorf("credentials file %s is not valid JSON: %w", path, err)
	}
	return cred.ProjectID, nil
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseInt(valueStr, 10, 64); err == nil {
		return value
	}
	return defaultValue
}
