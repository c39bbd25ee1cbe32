package web

import (
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mindful/upload-service/internal/events"
	"github.com/mindful/upload-service/internal/metrics"
	"github.com/mindful/upload-service/internal/ratelimit"
	"github.com/mindful/upload-service/internal/storage"
	"github.com/mindful/upload-service/internal/uploadlog"
)

type errorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

type uploadResponse struct {
	OK        bool   `json:"ok"`
	SecureURL string `json:"secure_url"`
	PublicID  string `json:"public_id"`
}

// pollResponse keeps url nullable: clients distinguish "not yet" (null)
// from an empty string.
type pollResponse struct {
	OK  bool    `json:"ok"`
	URL *string `json:"url"`
}

type notifyPollResponse struct {
	OK        bool `json:"ok"`
	PushReady bool `json:"push_ready"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

type healthResponse struct {
	OK            bool  `json:"ok"`
	Sessions      int   `json:"sessions"`
	UptimeSeconds int64 `json:"uptime_seconds"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{
		OK:            true,
		Sessions:      s.store.Len(),
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
	})
}

// handleUploaderPage serves the embeddable upload page and opens the
// session so the embedding client can start polling right away.
func (s *Server) handleUploaderPage(c echo.Context) error {
	sessionID := c.QueryParam("session")
	if sessionID == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{OK: false, Error: "session query parameter is required"})
	}

	if allowed, _ := s.limiter.Allow(c.Request().Context(), c.RealIP(), ratelimit.RulePage); !allowed {
		return c.JSON(http.StatusTooManyRequests, errorResponse{OK: false, Error: "rate limited"})
	}

	s.store.Touch(sessionID)
	metrics.ActiveSessions.Set(float64(s.store.Len()))

	folder := c.QueryParam("folder")
	if folder == "" {
		folder = s.cfg.UploadFolder
	}

	return c.Render(http.StatusOK, "upload.html", map[string]any{
		"Session":  sessionID,
		"Folder":   folder,
		"MaxBytes": s.cfg.MaxUploadBytes,
	})
}

// handleUpload receives the multipart upload, pushes it to the storage
// backend, and publishes the resulting URL into the session so pollers
// can pick it up. The session field is written only after the backend
// succeeded; a failed upload leaves the session untouched.
func (s *Server) handleUpload(c echo.Context) error {
	start := time.Now()
	ctx := c.Request().Context()
	sessionID := c.FormValue("session")

	identifier := sessionID
	if identifier == "" {
		identifier = c.RealIP()
	}
	if allowed, _ := s.limiter.Allow(ctx, identifier, ratelimit.RuleUpload); !allowed {
		return c.JSON(http.StatusTooManyRequests, errorResponse{OK: false, Error: "rate limited"})
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{OK: false, Error: "file field is required"})
	}
	src, err := fileHeader.Open()
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{OK: false, Error: err.Error()})
	}
	defer src.Close()
	data, err := io.ReadAll(src)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{OK: false, Error: err.Error()})
	}

	folder := c.FormValue("folder")
	if folder == "" {
		folder = s.cfg.UploadFolder
	}
	overwrite := true
	if v := c.FormValue("overwrite"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			overwrite = b
		}
	}

	res, err := s.uploader.Upload(ctx, storage.UploadParams{
		FileName:    fileHeader.Filename,
		ContentType: fileHeader.Header.Get("Content-Type"),
		Data:        data,
		Folder:      folder,
		PublicID:    c.FormValue("public_id"),
		Overwrite:   overwrite,
	})
	if err != nil {
		metrics.UploadsTotal.WithLabelValues(s.uploader.Name(), "error").Inc()
		log.Printf("[web] upload failed session=%s backend=%s: %v", sessionID, s.uploader.Name(), err)
		return c.JSON(http.StatusBadRequest, errorResponse{OK: false, Error: err.Error()})
	}

	metrics.UploadsTotal.WithLabelValues(s.uploader.Name(), "ok").Inc()
	metrics.UploadDuration.Observe(time.Since(start).Seconds())
	metrics.UploadBytes.Observe(float64(res.Bytes))

	if sessionID != "" && res.SecureURL != "" {
		s.store.SetField(sessionID, "url", res.SecureURL)
		metrics.FieldWritesTotal.WithLabelValues("url").Inc()
		metrics.ActiveSessions.Set(float64(s.store.Len()))
	}

	s.events.PublishUploadCompleted(events.UploadCompleted{
		SessionID: sessionID,
		PublicID:  res.PublicID,
		URL:       res.SecureURL,
		Bytes:     res.Bytes,
		Backend:   s.uploader.Name(),
		Folder:    folder,
		At:        time.Now().Unix(),
	})

	if err := s.audit.Record(ctx, &uploadlog.Entry{
		SessionID: sessionID,
		PublicID:  res.PublicID,
		URL:       res.SecureURL,
		Backend:   s.uploader.Name(),
		Folder:    folder,
		Bytes:     res.Bytes,
	}); err != nil {
		log.Printf("[web] upload audit failed session=%s: %v", sessionID, err)
	}

	return c.JSON(http.StatusOK, uploadResponse{
		OK:        true,
		SecureURL: res.SecureURL,
		PublicID:  res.PublicID,
	})
}

// handlePoll reports the uploaded URL for a session. Reads are pure: a
// client that only polls cannot keep its session alive.
func (s *Server) handlePoll(c echo.Context) error {
	sessionID := c.QueryParam("session")
	if sessionID == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{OK: false, Error: "session query parameter is required"})
	}

	if allowed, _ := s.limiter.Allow(c.Request().Context(), sessionID, ratelimit.RulePoll); !allowed {
		return c.JSON(http.StatusTooManyRequests, errorResponse{OK: false, Error: "rate limited"})
	}

	resp := pollResponse{OK: true}
	if url, ok := s.store.GetString(sessionID, "url"); ok {
		resp.URL = &url
		metrics.PollsTotal.WithLabelValues("hit").Inc()
	} else {
		metrics.PollsTotal.WithLabelValues("miss").Inc()
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleNotifyPage(c echo.Context) error {
	return c.Render(http.StatusOK, "notify.html", map[string]any{
		"AppID": s.cfg.OneSignalAppID,
	})
}

// handleNotifyReady records that the browser finished push registration
// for the session.
func (s *Server) handleNotifyReady(c echo.Context) error {
	sessionID := c.FormValue("session")
	if sessionID == "" {
		sessionID = c.QueryParam("session")
	}
	if sessionID == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{OK: false, Error: "session is required"})
	}

	if allowed, _ := s.limiter.Allow(c.Request().Context(), c.RealIP(), ratelimit.RuleNotify); !allowed {
		return c.JSON(http.StatusTooManyRequests, errorResponse{OK: false, Error: "rate limited"})
	}

	s.store.SetField(sessionID, "push_ready", true)
	metrics.FieldWritesTotal.WithLabelValues("push_ready").Inc()
	metrics.ActiveSessions.Set(float64(s.store.Len()))

	s.events.PublishPushReady(events.PushReady{
		SessionID: sessionID,
		At:        time.Now().Unix(),
	})

	return c.JSON(http.StatusOK, okResponse{OK: true})
}

func (s *Server) handleNotifyPoll(c echo.Context) error {
	sessionID := c.QueryParam("session")
	if sessionID == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{OK: false, Error: "session query parameter is required"})
	}

	if allowed, _ := s.limiter.Allow(c.Request().Context(), sessionID, ratelimit.RulePoll); !allowed {
		return c.JSON(http.StatusTooManyRequests, errorResponse{OK: false, Error: "rate limited"})
	}

	ready, _ := s.store.GetBool(sessionID, "push_ready")
	return c.JSON(http.StatusOK, notifyPollResponse{OK: true, PushReady: ready})
}

// handleWorkerScript serves an embedded OneSignal service worker.
func (s *Server) handleWorkerScript(path string) echo.HandlerFunc {
	return func(c echo.Context) error {
		data, err := staticFiles.ReadFile(path)
		if err != nil {
			return echo.NewHTTPError(http.StatusNotFound)
		}
		return c.Blob(http.StatusOK, "application/javascript", data)
	}
}
