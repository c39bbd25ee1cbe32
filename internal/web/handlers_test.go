package web

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bytedance/sonic"

	"github.com/mindful/upload-service/internal/ratelimit"
	"github.com/mindful/upload-service/internal/session"
	"github.com/mindful/upload-service/internal/storage"
)

func newTestServer(t *testing.T) (*Server, *session.Store) {
	t.Helper()

	uploader, err := storage.NewLocalUploader(storage.LocalConfig{
		Dir:     t.TempDir(),
		BaseURL: "http://files.test",
	})
	if err != nil {
		t.Fatalf("local uploader: %v", err)
	}

	store := session.NewStore()
	cfg := DefaultConfig()
	cfg.UploadFolder = "test/avatars"
	cfg.MaxUploadBytes = 1 << 20
	cfg.OneSignalAppID = "test-app-id"
	return NewServer(cfg, store, uploader, nil, nil, nil), store
}

func doRequest(t *testing.T, s *Server, method, target string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()

	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func multipartBody(t *testing.T, fields map[string]string, fileName string, fileContent []byte) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatalf("write field %s: %v", k, err)
		}
	}
	if fileName != "" {
		fw, err := w.CreateFormFile("file", fileName)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := fw.Write(fileContent); err != nil {
			t.Fatalf("write file content: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return &buf, w.FormDataContentType()
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := sonic.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/health", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp healthResponse
	decodeJSON(t, rec, &resp)
	if !resp.OK {
		t.Errorf("ok = false, want true")
	}
	if resp.Sessions != 0 {
		t.Errorf("sessions = %d, want 0", resp.Sessions)
	}
}

func TestUploaderPageRequiresSession(t *testing.T) {
	s, store := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/uploader", nil, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if store.Len() != 0 {
		t.Errorf("sessions = %d, want 0", store.Len())
	}
}

func TestUploaderPageOpensSession(t *testing.T) {
	s, store := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/uploader?session=sess_page", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("content type = %q, want text/html", ct)
	}
	if !strings.Contains(rec.Body.String(), "sess_page") {
		t.Errorf("page does not mention the session id")
	}
	if store.Len() != 1 {
		t.Errorf("sessions = %d, want 1", store.Len())
	}
}

func TestUploadStoresURLForSession(t *testing.T) {
	s, store := newTestServer(t)

	body, ct := multipartBody(t, map[string]string{"session": "sess_up"}, "avatar.jpg", []byte("fake image bytes"))
	rec := doRequest(t, s, http.MethodPost, "/upload", body, ct)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp uploadResponse
	decodeJSON(t, rec, &resp)
	if !resp.OK {
		t.Fatalf("ok = false: %s", rec.Body.String())
	}
	if !strings.HasPrefix(resp.SecureURL, "http://files.test/") {
		t.Errorf("secure_url = %q, want files.test prefix", resp.SecureURL)
	}
	if resp.PublicID == "" {
		t.Errorf("public_id is empty")
	}

	url, ok := store.GetString("sess_up", "url")
	if !ok {
		t.Fatalf("session url was not stored")
	}
	if url != resp.SecureURL {
		t.Errorf("stored url = %q, want %q", url, resp.SecureURL)
	}
}

func TestUploadWithoutSessionSkipsStore(t *testing.T) {
	s, store := newTestServer(t)

	body, ct := multipartBody(t, nil, "avatar.png", []byte("png bytes"))
	rec := doRequest(t, s, http.MethodPost, "/upload", body, ct)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if store.Len() != 0 {
		t.Errorf("sessions = %d, want 0", store.Len())
	}
}

func TestUploadMissingFile(t *testing.T) {
	s, _ := newTestServer(t)

	body, ct := multipartBody(t, map[string]string{"session": "sess_nofile"}, "", nil)
	rec := doRequest(t, s, http.MethodPost, "/upload", body, ct)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	var resp errorResponse
	decodeJSON(t, rec, &resp)
	if resp.OK {
		t.Errorf("ok = true, want false")
	}
	if resp.Error != "file field is required" {
		t.Errorf("error = %q", resp.Error)
	}
}

func TestUploadFailureLeavesSessionUntouched(t *testing.T) {
	s, store := newTestServer(t)

	fields := map[string]string{
		"session":   "sess_fail",
		"public_id": "fixed",
		"overwrite": "false",
	}
	body, ct := multipartBody(t, fields, "a.png", []byte("one"))
	rec := doRequest(t, s, http.MethodPost, "/upload", body, ct)
	if rec.Code != http.StatusOK {
		t.Fatalf("first upload status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var first uploadResponse
	decodeJSON(t, rec, &first)

	// Same public_id without overwrite: the backend refuses, and the
	// session must keep the first URL.
	body, ct = multipartBody(t, fields, "b.png", []byte("two"))
	rec = doRequest(t, s, http.MethodPost, "/upload", body, ct)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("second upload status = %d, want 400", rec.Code)
	}
	var resp errorResponse
	decodeJSON(t, rec, &resp)
	if resp.OK || resp.Error == "" {
		t.Errorf("expected an error payload, got %s", rec.Body.String())
	}

	url, ok := store.GetString("sess_fail", "url")
	if !ok || url != first.SecureURL {
		t.Errorf("stored url = (%q, %v), want first upload's %q", url, ok, first.SecureURL)
	}

	// A different session hitting the same collision gets no url at all.
	fields["session"] = "sess_other"
	body, ct = multipartBody(t, fields, "c.png", []byte("three"))
	rec = doRequest(t, s, http.MethodPost, "/upload", body, ct)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("colliding upload status = %d, want 400", rec.Code)
	}
	if _, ok := store.GetString("sess_other", "url"); ok {
		t.Error("failed upload must not write a url")
	}
}

func TestUploadOversizeRejected(t *testing.T) {
	s, _ := newTestServer(t)

	big := make([]byte, 2<<20)
	body, ct := multipartBody(t, map[string]string{"session": "sess_big"}, "huge.jpg", big)
	rec := doRequest(t, s, http.MethodPost, "/upload", body, ct)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
}

func TestPollRequiresSession(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/poll", nil, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestPollLifecycle(t *testing.T) {
	s, store := newTestServer(t)

	// Before any upload the url is null, and polling must not create
	// the session.
	rec := doRequest(t, s, http.MethodGet, "/poll?session=sess_poll", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var before pollResponse
	decodeJSON(t, rec, &before)
	if !before.OK {
		t.Fatalf("ok = false")
	}
	if before.URL != nil {
		t.Fatalf("url = %q, want null", *before.URL)
	}
	if store.Len() != 0 {
		t.Fatalf("poll created a session")
	}

	body, ct := multipartBody(t, map[string]string{"session": "sess_poll"}, "avatar.jpg", []byte("bytes"))
	rec = doRequest(t, s, http.MethodPost, "/upload", body, ct)
	if rec.Code != http.StatusOK {
		t.Fatalf("upload status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var up uploadResponse
	decodeJSON(t, rec, &up)

	rec = doRequest(t, s, http.MethodGet, "/poll?session=sess_poll", nil, "")
	var after pollResponse
	decodeJSON(t, rec, &after)
	if after.URL == nil {
		t.Fatalf("url still null after upload")
	}
	if *after.URL != up.SecureURL {
		t.Errorf("url = %q, want %q", *after.URL, up.SecureURL)
	}

	// Repeated polls keep returning the same value.
	rec = doRequest(t, s, http.MethodGet, "/poll?session=sess_poll", nil, "")
	var again pollResponse
	decodeJSON(t, rec, &again)
	if again.URL == nil || *again.URL != up.SecureURL {
		t.Errorf("second poll lost the url")
	}
}

func TestNotifyReadyThenPoll(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/notify/poll?session=sess_push", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var before notifyPollResponse
	decodeJSON(t, rec, &before)
	if before.PushReady {
		t.Fatalf("push_ready = true before registration")
	}

	rec = doRequest(t, s, http.MethodPost, "/notify/ready?session=sess_push", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("ready status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, s, http.MethodGet, "/notify/poll?session=sess_push", nil, "")
	var after notifyPollResponse
	decodeJSON(t, rec, &after)
	if !after.PushReady {
		t.Errorf("push_ready = false after registration")
	}
}

// denyLimiter refuses every request.
type denyLimiter struct{}

func (denyLimiter) Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error) {
	return false, nil
}

func TestRateLimitedRoutesReturn429(t *testing.T) {
	s, store := newTestServer(t)
	s.limiter = denyLimiter{}

	routes := []struct {
		method string
		target string
	}{
		{http.MethodGet, "/uploader?session=sess_rl"},
		{http.MethodPost, "/upload"},
		{http.MethodGet, "/poll?session=sess_rl"},
		{http.MethodPost, "/notify/ready?session=sess_rl"},
		{http.MethodGet, "/notify/poll?session=sess_rl"},
	}
	for _, rt := range routes {
		rec := doRequest(t, s, rt.method, rt.target, nil, "")
		if rec.Code != http.StatusTooManyRequests {
			t.Errorf("%s %s: status = %d, want 429", rt.method, rt.target, rec.Code)
		}
		var resp errorResponse
		decodeJSON(t, rec, &resp)
		if resp.OK || resp.Error == "" {
			t.Errorf("%s %s: unexpected body %s", rt.method, rt.target, rec.Body.String())
		}
	}

	// A limited notify/ready must not have written the session.
	if _, ok := store.GetBool("sess_rl", "push_ready"); ok {
		t.Error("rate limited request still wrote push_ready")
	}
}

func TestNotifyPageRenders(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/notify", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "OneSignal") {
		t.Errorf("page does not reference the push SDK")
	}
	if !strings.Contains(rec.Body.String(), "test-app-id") {
		t.Errorf("page does not carry the configured app id")
	}
}

func TestFrameEmbeddingHeaders(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/health", nil, "")
	if got := rec.Header().Get("X-Frame-Options"); got != "ALLOWALL" {
		t.Errorf("X-Frame-Options = %q, want ALLOWALL", got)
	}
	if got := rec.Header().Get("Content-Security-Policy"); got != "frame-ancestors *" {
		t.Errorf("Content-Security-Policy = %q", got)
	}
}

func TestWorkerScripts(t *testing.T) {
	s, _ := newTestServer(t)

	for _, route := range []string{"/OneSignalSDKWorker.js", "/OneSignalSDKUpdaterWorker.js"} {
		rec := doRequest(t, s, http.MethodGet, route, nil, "")
		if rec.Code != http.StatusOK {
			t.Errorf("%s status = %d, want 200", route, rec.Code)
			continue
		}
		if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/javascript") {
			t.Errorf("%s content type = %q", route, ct)
		}
		if !strings.Contains(rec.Body.String(), "importScripts") {
			t.Errorf("%s does not load the push SDK worker", route)
		}
	}
}

func TestMetricsRoute(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/metrics", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "uploader_active_sessions") {
		t.Errorf("metrics output is missing the session gauge")
	}
}
