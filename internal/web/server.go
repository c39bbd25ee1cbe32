// Package web provides the HTTP surface of the upload service: the
// embeddable uploader and notification pages, the upload/poll JSON
// endpoints, and the operational endpoints (health, metrics).
package web

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/mindful/upload-service/internal/events"
	"github.com/mindful/upload-service/internal/metrics"
	"github.com/mindful/upload-service/internal/ratelimit"
	"github.com/mindful/upload-service/internal/session"
	"github.com/mindful/upload-service/internal/storage"
	"github.com/mindful/upload-service/internal/uploadlog"
)

// Config holds the web server's settings.
type Config struct {
	ListenAddr     string
	UploadFolder   string // default folder when the client sends none
	MaxUploadBytes int64
	OneSignalAppID string
}

// DefaultConfig returns settings for a local deployment.
func DefaultConfig() Config {
	return Config{
		ListenAddr:     ":8080",
		UploadFolder:   "mindful/profesionistas",
		MaxUploadBytes: 10 << 20,
	}
}

// rateAllower is the limiter surface the handlers check. A nil
// *ratelimit.Limiter satisfies it and allows everything.
type rateAllower interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error)
}

// Server owns the echo instance and the handler dependencies.
type Server struct {
	cfg      Config
	echo     *echo.Echo
	store    *session.Store
	uploader storage.Uploader
	limiter  rateAllower
	events   *events.Client
	audit    *uploadlog.Store
	started  time.Time
}

// NewServer wires middleware and routes. limiter, ev and audit may be
// nil; the corresponding features switch off.
func NewServer(cfg Config, store *session.Store, uploader storage.Uploader, limiter *ratelimit.Limiter, ev *events.Client, audit *uploadlog.Store) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.JSONSerializer = sonicSerializer{}
	e.Renderer = newRenderer()

	s := &Server{
		cfg:      cfg,
		echo:     e,
		store:    store,
		uploader: uploader,
		limiter:  limiter,
		events:   ev,
		audit:    audit,
		started:  time.Now(),
	}

	e.Use(middleware.Recover())
	// Pages are embedded in third-party sites; both the CORS policy and
	// the frame headers mirror that.
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"*"},
		AllowCredentials: false,
	}))
	e.Use(frameEmbeddingHeaders)

	e.GET("/health", s.handleHealth)
	e.GET("/uploader", s.handleUploaderPage)
	e.POST("/upload", s.handleUpload, middleware.BodyLimit(strconv.FormatInt(cfg.MaxUploadBytes, 10)))
	e.GET("/poll", s.handlePoll)
	e.GET("/notify", s.handleNotifyPage)
	e.POST("/notify/ready", s.handleNotifyReady)
	e.GET("/notify/poll", s.handleNotifyPoll)

	// OneSignal requires its service workers at the site root.
	e.GET("/OneSignalSDKWorker.js", s.handleWorkerScript("static/OneSignalSDKWorker.js"))
	e.GET("/OneSignalSDKUpdaterWorker.js", s.handleWorkerScript("static/OneSignalSDKUpdaterWorker.js"))

	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	return s
}

// frameEmbeddingHeaders lets third-party sites embed the uploader and
// notification pages in iframes.
func frameEmbeddingHeaders(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		h := c.Response().Header()
		h.Set("X-Frame-Options", "ALLOWALL")
		h.Set("Content-Security-Policy", "frame-ancestors *")
		return next(c)
	}
}

// Start runs the server until it fails or Shutdown is called.
func (s *Server) Start() error {
	return s.echo.Start(s.cfg.ListenAddr)
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// ServeHTTP dispatches a request through the full middleware chain. Tests
// use it to exercise routes without a listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
