package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	EnginePDF  = "pdf"
	EngineHTML = "html"

	StoreNone       = "none"
	StoreCloudinary = "cloudinary"
	StoreS3         = "s3"
)

type Config struct {
	AppName     string
	Port        string
	DatabaseURL string
	JWTSecret   string
	LogLevel    string

	// Certificate layout and wording
	InstitutionName string
	SignatoryName   string
	SignatoryTitle  string
	DefaultLocale   string
	Engine          string
	PDFCompress     bool

	// Background recording of issued certificates
	PersistAttempts int
	PersistTimeout  time.Duration

	ArtifactStore   string
	CloudinaryURL   string
	S3Endpoint      string
	S3Region        string
	S3Bucket        string
	S3AccessKey     string
	S3SecretKey     string
	S3PublicBaseURL string

	BrevoAPIKey     string
	EmailSender     string
	EmailSenderName string

	// Cron spec for the completion sweep; empty disables it.
	CompletionSweepSchedule string
}

// Load reads .env (when present) and the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(".env"); err != nil {
		log.Warn().Msg(".env file not found, reading from system environment variables")
	}

	cfg := &Config{
		AppName:     getEnv("APP_NAME", "Academy"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		JWTSecret:   getEnv("JWT_SECRET", ""),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		InstitutionName: getEnv("INSTITUTION_NAME", "Academy"),
		SignatoryName:   getEnv("SIGNATORY_NAME", ""),
		SignatoryTitle:  getEnv("SIGNATORY_TITLE", ""),
		DefaultLocale:   getEnv("DEFAULT_LOCALE", "pt-BR"),
		Engine:          strings.ToLower(getEnv("CERTIFICATE_ENGINE", EnginePDF)),

		ArtifactStore:   strings.ToLower(getEnv("ARTIFACT_STORE", StoreNone)),
		CloudinaryURL:   getEnv("CLOUDINARY_URL", ""),
		S3Endpoint:      getEnv("S3_ENDPOINT", ""),
		S3Region:        getEnv("S3_REGION", "us-east-1"),
		S3Bucket:        getEnv("S3_BUCKET", ""),
		S3AccessKey:     getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:     getEnv("S3_SECRET_KEY", ""),
		S3PublicBaseURL: getEnv("S3_PUBLIC_BASE_URL", ""),

		BrevoAPIKey:     getEnv("BREVO_API_KEY", ""),
		EmailSender:     getEnv("EMAIL_SENDER", ""),
		EmailSenderName: getEnv("EMAIL_SENDER_NAME", ""),

		CompletionSweepSchedule: os.Getenv("COMPLETION_SWEEP_SCHEDULE"),
	}
	if _, ok := os.LookupEnv("COMPLETION_SWEEP_SCHEDULE"); !ok {
		cfg.CompletionSweepSchedule = "*/5 * * * *"
	}

	var err error
	if cfg.PDFCompress, err = strconv.ParseBool(getEnv("PDF_COMPRESS", "true")); err != nil {
		return nil, errors.Wrap(err, "invalid PDF_COMPRESS")
	}
	if cfg.PersistAttempts, err = strconv.Atoi(getEnv("PERSIST_ATTEMPTS", "1")); err != nil {
		return nil, errors.Wrap(err, "invalid PERSIST_ATTEMPTS")
	}
	if cfg.PersistAttempts < 1 {
		return nil, errors.Errorf("PERSIST_ATTEMPTS must be at least 1, got %d", cfg.PersistAttempts)
	}
	if cfg.PersistTimeout, err = time.ParseDuration(getEnv("PERSIST_TIMEOUT", "10s")); err != nil {
		return nil, errors.Wrap(err, "invalid PERSIST_TIMEOUT")
	}

	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET must be set")
	}

	switch cfg.Engine {
	case EnginePDF, EngineHTML:
	default:
		return nil, errors.Errorf("unknown CERTIFICATE_ENGINE %q", cfg.Engine)
	}

	switch cfg.ArtifactStore {
	case StoreNone:
	case StoreCloudinary:
		if cfg.CloudinaryURL == "" {
			return nil, errors.New("ARTIFACT_STORE=cloudinary requires CLOUDINARY_URL")
		}
	case StoreS3:
		if cfg.S3Bucket == "" {
			return nil, errors.New("ARTIFACT_STORE=s3 requires S3_BUCKET")
		}
	default:
		return nil, errors.Errorf("unknown ARTIFACT_STORE %q", cfg.ArtifactStore)
	}

	return cfg, nil
}

// EmailEnabled reports whether certificate emails can be sent.
func (c *Config) EmailEnabled() bool {
	return c.BrevoAPIKey != "" && c.EmailSender != "" && c.EmailSenderName != ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
