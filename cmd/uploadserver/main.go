package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/mindful/upload-service/internal/config"
	"github.com/mindful/upload-service/internal/events"
	"github.com/mindful/upload-service/internal/ratelimit"
	"github.com/mindful/upload-service/internal/session"
	"github.com/mindful/upload-service/internal/storage"
	"github.com/mindful/upload-service/internal/uploadlog"
	"github.com/mindful/upload-service/internal/web"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	uploader, err := newUploader(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to set up storage backend: %v", err)
	}

	store := session.NewStore()
	go session.StartReaper(ctx, store, session.ReaperConfig{
		SweepPeriod:      cfg.SweepPeriod,
		InactivityWindow: cfg.InactivityWindow,
	})

	// --- Redis ---
	var limiter *ratelimit.Limiter
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		err := client.Ping(pingCtx).Err()
		pingCancel()
		if err != nil {
			log.Fatalf("failed to connect to Redis: %v", err)
		}
		limiter = ratelimit.NewLimiter(client)
	}

	// --- NATS ---
	var ev *events.Client
	if cfg.NATSURL != "" {
		natsConfig := events.DefaultConfig()
		natsConfig.URL = cfg.NATSURL
		ev, err = events.Connect(natsConfig)
		if err != nil {
			log.Fatalf("failed to connect to NATS: %v", err)
		}
	}

	// --- Postgres audit log ---
	var audit *uploadlog.Store
	var db *sql.DB
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("failed to open Postgres: %v", err)
		}
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		err = db.PingContext(pingCtx)
		pingCancel()
		if err != nil {
			log.Fatalf("failed to connect to Postgres: %v", err)
		}
		if err := uploadlog.Migrate(db); err != nil {
			log.Fatalf("failed to migrate upload log schema: %v", err)
		}
		audit = uploadlog.NewStore(db)
	}

	server := web.NewServer(web.Config{
		ListenAddr:     cfg.ListenAddr,
		UploadFolder:   cfg.UploadFolder,
		MaxUploadBytes: cfg.MaxUploadBytes,
		OneSignalAppID: cfg.OneSignalAppID,
	}, store, uploader, limiter, ev, audit)

	auditState := "(disabled)"
	if audit != nil {
		auditState = "enabled"
	}

	log.Printf("Mindful upload service starting")
	log.Printf("  listen_addr:        %s", cfg.ListenAddr)
	log.Printf("  backend:            %s", uploader.Name())
	log.Printf("  upload_folder:      %s", cfg.UploadFolder)
	log.Printf("  max_upload_bytes:   %d", cfg.MaxUploadBytes)
	log.Printf("  sweep_period:       %s", cfg.SweepPeriod)
	log.Printf("  inactivity_window:  %s", cfg.InactivityWindow)
	log.Printf("  redis_addr:         %s", orDisabled(cfg.RedisAddr))
	log.Printf("  nats_url:           %s", orDisabled(cfg.NATSURL))
	log.Printf("  audit_log:          %s", auditState)

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown error: %v", err)
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}

	cancel() // stops the session reaper
	if ev != nil {
		ev.Close()
	}
	if db != nil {
		if err := db.Close(); err != nil {
			log.Printf("database close error: %v", err)
		}
	}
	log.Printf("server stopped")
}

// newUploader builds the storage backend selected in the configuration.
func newUploader(ctx context.Context, cfg config.Config) (storage.Uploader, error) {
	switch cfg.UploadBackend {
	case config.BackendCloudinary:
		return storage.NewCloudinaryUploader(storage.CloudinaryConfig{
			CloudName:    cfg.CloudinaryCloudName,
			APIKey:       cfg.CloudinaryAPIKey,
			APISecret:    cfg.CloudinaryAPISecret,
			UploadPreset: cfg.CloudinaryUploadPreset,
		})
	case config.BackendS3:
		return storage.NewS3Uploader(ctx, storage.S3Config{
			Bucket:  cfg.S3Bucket,
			Region:  cfg.S3Region,
			BaseURL: cfg.S3BaseURL,
		})
	case config.BackendLocal:
		return storage.NewLocalUploader(storage.LocalConfig{
			Dir:     cfg.LocalDir,
			BaseURL: cfg.LocalBaseURL,
		})
	}
	return nil, fmt.Errorf("unknown upload backend %q", cfg.UploadBackend)
}

func orDisabled(v string) string {
	if v == "" {
		return "(disabled)"
	}
	return v
}
