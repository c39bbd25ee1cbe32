// Package config loads service configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Backend names accepted in UPLOAD_BACKEND.
const (
	BackendCloudinary = "cloudinary"
	BackendS3         = "s3"
	BackendLocal      = "local"
)

// Config holds every runtime knob for the upload service.
type Config struct {
	ListenAddr string

	UploadBackend  string // cloudinary | s3 | local
	UploadFolder   string // default folder when the client sends none
	MaxUploadBytes int64

	CloudinaryCloudName    string
	CloudinaryAPIKey       string
	CloudinaryAPISecret    string
	CloudinaryUploadPreset string

	S3Bucket  string
	S3Region  string
	S3BaseURL string

	LocalDir     string
	LocalBaseURL string

	OneSignalAppID string

	SweepPeriod      time.Duration
	InactivityWindow time.Duration

	RedisAddr   string // empty disables rate limiting
	NATSURL     string // empty disables event publishing
	DatabaseURL string // empty disables the upload audit log
}

// Default returns the built-in defaults: a local backend on :8080 with the
// standard sweep timing.
func Default() Config {
	return Config{
		ListenAddr:     ":8080",
		UploadBackend:  BackendCloudinary,
		UploadFolder:   "mindful/profesionistas",
		MaxUploadBytes: 10 << 20, // 10 MiB
		LocalDir:       "./uploads",
		LocalBaseURL:   "http://localhost:8080/files",

		SweepPeriod:      60 * time.Second,
		InactivityWindow: 30 * time.Minute,
	}
}

// Load reads a .env file when present, then overlays environment variables
// on top of the defaults. Unparsable numeric or duration values are
// ignored and the default stays.
func Load() Config {
	if err := godotenv.Load(); err == nil {
		log.Println("[config] loaded .env")
	}

	cfg := Default()

	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("UPLOAD_BACKEND"); v != "" {
		cfg.UploadBackend = v
	}
	if v := os.Getenv("UPLOAD_FOLDER"); v != "" {
		cfg.UploadFolder = v
	}
	if v := os.Getenv("MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.MaxUploadBytes = n
		}
	}

	if v := os.Getenv("CLOUDINARY_CLOUD_NAME"); v != "" {
		cfg.CloudinaryCloudName = v
	}
	if v := os.Getenv("CLOUDINARY_API_KEY"); v != "" {
		cfg.CloudinaryAPIKey = v
	}
	if v := os.Getenv("CLOUDINARY_API_SECRET"); v != "" {
		cfg.CloudinaryAPISecret = v
	}
	if v := os.Getenv("CLOUDINARY_UPLOAD_PRESET"); v != "" {
		cfg.CloudinaryUploadPreset = v
	}

	if v := os.Getenv("S3_BUCKET"); v != "" {
		cfg.S3Bucket = v
	}
	if v := os.Getenv("S3_REGION"); v != "" {
		cfg.S3Region = v
	}
	if v := os.Getenv("S3_BASE_URL"); v != "" {
		cfg.S3BaseURL = v
	}

	if v := os.Getenv("LOCAL_DIR"); v != "" {
		cfg.LocalDir = v
	}
	if v := os.Getenv("LOCAL_BASE_URL"); v != "" {
		cfg.LocalBaseURL = v
	}

	if v := os.Getenv("ONESIGNAL_APP_ID"); v != "" {
		cfg.OneSignalAppID = v
	}

	if v := os.Getenv("SESSION_SWEEP_PERIOD"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.SweepPeriod = d
		}
	}
	if v := os.Getenv("SESSION_INACTIVITY_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.InactivityWindow = d
		}
	}

	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.NATSURL = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}

	return cfg
}

// Validate checks that the selected backend has what it needs.
func (c Config) Validate() error {
	switch c.UploadBackend {
	case BackendCloudinary:
		if c.CloudinaryCloudName == "" || c.CloudinaryAPIKey == "" || c.CloudinaryAPISecret == "" {
			return fmt.Errorf("config: cloudinary backend needs CLOUDINARY_CLOUD_NAME, CLOUDINARY_API_KEY and CLOUDINARY_API_SECRET")
		}
	case BackendS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("config: s3 backend needs S3_BUCKET")
		}
	case BackendLocal:
		if c.LocalDir == "" {
			return fmt.Errorf("config: local backend needs LOCAL_DIR")
		}
	default:
		return fmt.Errorf("config: unknown upload backend %q", c.UploadBackend)
	}
	return nil
}
