package services

import (
	"fmt"
	"time"

	"github.com/Lllllllleong/uploadsanitizer/internal/gcp"
)

// UploadSanitizerConfig holds configuration read from the environment.
type UploadSanitizerConfig struct {
	Port               string
	ServicesConfigPath string
	UploadDir          string
	SanitizedDir       string
	MaxUploadBytes     int64
	WorkingFileTTL     time.Duration
	JanitorInterval    time.Duration
	ProjectID          string
	CollectionName     string
}

// LoadConfig reads and validates the environment.
func LoadConfig() (UploadSanitizerConfig, error) {
	config := UploadSanitizerConfig{
		Port:               gcp.GetEnv("PORT", "8080"),
		ServicesConfigPath: gcp.GetEnv("SERVICES_CONFIG", "services.yaml"),
		UploadDir:          gcp.GetEnv("UPLOAD_DIR", "uploads"),
		SanitizedDir:       gcp.GetEnv("SANITIZED_DIR", "uploads/clean"),
		MaxUploadBytes:     gcp.GetEnvInt64("MAX_UPLOAD_BYTES", 32<<20),
		WorkingFileTTL:     gcp.GetEnvDuration("WORKING_FILE_TTL", DefaultWorkingFileTTL),
		JanitorInterval:    gcp.GetEnvDuration("JANITOR_INTERVAL", DefaultJanitorInterval),
		ProjectID:          gcp.GetEnv("PROJECT_ID", ""),
		CollectionName:     gcp.GetEnv("FIRESTORE_COLLECTION", ""),
	}
	if config.ServicesConfigPath == "" {
		return config, fmt.Errorf("SERVICES_CONFIG environment variable must be set")
	}
	if config.MaxUploadBytes <= 0 {
		return config, fmt.Errorf("MAX_UPLOAD_BYTES must be positive")
	}
	if config.CollectionName != "" && config.ProjectID == "" {
		return config, fmt.Errorf("PROJECT_ID environment variable must be set when FIRESTORE_COLLECTION is")
	}
	return config, nil
}

// AuditEnabled reports whether upload records should go to Firestore.
func (c UploadSanitizerConfig) AuditEnabled() bool {
	return c.ProjectID != "" && c.CollectionName != ""
}
