// Package main implements a standalone end-to-end test for the upload
// service. It validates the full widget journey against a running
// deployment: health check, uploader page, upload, handoff polling, and
// the push registration flow.
//
// Usage:
//
//	go run ./cmd/e2etest/ [-api http://localhost:8080] [-timeout 60s]
//
// Exit code 0 if all required scenarios pass, 1 if any fail.
package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
)

// 1x1 transparent PNG, enough to drive a real multipart upload.
const tinyPNG = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNkYPhfDwAChwGA60e6kgAAAABJRU5ErkJggg=="

type resultKind int

const (
	resultPass resultKind = iota
	resultFail
	resultInfo // optional / non-fatal
)

// scenarioResult holds the outcome of a single test scenario.
type scenarioResult struct {
	name   string
	kind   resultKind
	detail string
}

func (r scenarioResult) tag() string {
	switch r.kind {
	case resultPass:
		return "PASS"
	case resultFail:
		return "FAIL"
	default:
		return "INFO"
	}
}

func main() {
	apiBase := flag.String("api", "http://localhost:8080", "HTTP API base URL")
	timeout := flag.Duration("timeout", 60*time.Second, "Global test timeout")
	flag.Parse()

	fmt.Println("=== Upload Service E2E Test ===")
	fmt.Printf("Server: %s\n\n", *apiBase)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	sessionID := uuid.NewString()
	var results []scenarioResult

	results = append(results, scenario1Health(ctx, *apiBase))
	results = append(results, scenario2UploaderPage(ctx, *apiBase, sessionID))

	// Scenarios 3-5 share the uploaded URL; run them as a group.
	s3, s4, s5 := scenario345UploadAndPoll(ctx, *apiBase, sessionID)
	results = append(results, s3, s4, s5)

	results = append(results, scenario6PushRegistration(ctx, *apiBase))

	// Optional scenario (depends on Redis being configured).
	results = append(results, scenario7RateLimiting(ctx, *apiBase))

	fmt.Println()
	passed, failed, info := 0, 0, 0
	for _, r := range results {
		fmt.Printf("[%s] %s", r.tag(), r.name)
		if r.detail != "" {
			fmt.Printf(" (%s)", r.detail)
		}
		fmt.Println()

		switch r.kind {
		case resultPass:
			passed++
		case resultFail:
			failed++
		case resultInfo:
			info++
		}
	}

	requiredTotal := passed + failed
	fmt.Printf("\n=== Results: %d/%d passed", passed, requiredTotal)
	if info > 0 {
		fmt.Printf(", %d info", info)
	}
	fmt.Println(" ===")

	if failed > 0 {
		os.Exit(1)
	}
}

func getJSON(ctx context.Context, url string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}
	if out != nil {
		if err := sonic.Unmarshal(body, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %q: %w", string(body), err)
		}
	}
	return resp.StatusCode, nil
}

func scenario1Health(ctx context.Context, base string) scenarioResult {
	name := "Health check"

	var resp struct {
		OK       bool `json:"ok"`
		Sessions int  `json:"sessions"`
	}
	code, err := getJSON(ctx, base+"/health", &resp)
	if err != nil {
		return scenarioResult{name, resultFail, err.Error()}
	}
	if code != http.StatusOK || !resp.OK {
		return scenarioResult{name, resultFail, fmt.Sprintf("status=%d ok=%v", code, resp.OK)}
	}
	return scenarioResult{name, resultPass, fmt.Sprintf("%d active sessions", resp.Sessions)}
}

func scenario2UploaderPage(ctx context.Context, base, sessionID string) scenarioResult {
	name := "Uploader page opens session"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/uploader?session="+sessionID, nil)
	if err != nil {
		return scenarioResult{name, resultFail, err.Error()}
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return scenarioResult{name, resultFail, err.Error()}
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return scenarioResult{name, resultFail, fmt.Sprintf("status=%d", resp.StatusCode)}
	}
	if !strings.Contains(string(body), sessionID) {
		return scenarioResult{name, resultFail, "page does not carry the session id"}
	}
	if got := resp.Header.Get("X-Frame-Options"); got != "ALLOWALL" {
		return scenarioResult{name, resultFail, fmt.Sprintf("X-Frame-Options=%q", got)}
	}
	return scenarioResult{name, resultPass, ""}
}

func scenario345UploadAndPoll(ctx context.Context, base, sessionID string) (scenarioResult, scenarioResult, scenarioResult) {
	uploadName := "Upload through the configured backend"
	pollName := "Poll hands off the uploaded URL"
	freshName := "Fresh session polls null"

	png, err := base64.StdEncoding.DecodeString(tinyPNG)
	if err != nil {
		r := scenarioResult{uploadName, resultFail, err.Error()}
		return r, scenarioResult{pollName, resultFail, "upload failed"}, scenarioResult{freshName, resultFail, "upload failed"}
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	_ = w.WriteField("session", sessionID)
	fw, _ := w.CreateFormFile("file", "probe.png")
	_, _ = fw.Write(png)
	_ = w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/upload", &buf)
	if err != nil {
		r := scenarioResult{uploadName, resultFail, err.Error()}
		return r, scenarioResult{pollName, resultFail, "upload failed"}, scenarioResult{freshName, resultFail, "upload failed"}
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		r := scenarioResult{uploadName, resultFail, err.Error()}
		return r, scenarioResult{pollName, resultFail, "upload failed"}, scenarioResult{freshName, resultFail, "upload failed"}
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	var upload struct {
		OK        bool   `json:"ok"`
		SecureURL string `json:"secure_url"`
		Error     string `json:"error"`
	}
	if err := sonic.Unmarshal(body, &upload); err != nil {
		r := scenarioResult{uploadName, resultFail, fmt.Sprintf("decode %q: %v", string(body), err)}
		return r, scenarioResult{pollName, resultFail, "upload failed"}, scenarioResult{freshName, resultFail, "upload failed"}
	}
	if resp.StatusCode != http.StatusOK || !upload.OK {
		r := scenarioResult{uploadName, resultFail, fmt.Sprintf("status=%d error=%s", resp.StatusCode, upload.Error)}
		return r, scenarioResult{pollName, resultFail, "upload failed"}, scenarioResult{freshName, resultFail, "upload failed"}
	}
	uploadResult := scenarioResult{uploadName, resultPass, upload.SecureURL}

	// Poll until the URL shows up. It is written before the upload
	// response is sent, so the first poll should already see it.
	pollResult := scenarioResult{pollName, resultFail, "url never appeared"}
	for deadline := time.Now().Add(10 * time.Second); time.Now().Before(deadline); {
		var poll struct {
			OK  bool    `json:"ok"`
			URL *string `json:"url"`
		}
		if _, err := getJSON(ctx, base+"/poll?session="+sessionID, &poll); err != nil {
			pollResult = scenarioResult{pollName, resultFail, err.Error()}
			break
		}
		if poll.URL != nil {
			if *poll.URL == upload.SecureURL {
				pollResult = scenarioResult{pollName, resultPass, ""}
			} else {
				pollResult = scenarioResult{pollName, resultFail, fmt.Sprintf("url=%q want %q", *poll.URL, upload.SecureURL)}
			}
			break
		}
		time.Sleep(250 * time.Millisecond)
	}

	var fresh struct {
		OK  bool    `json:"ok"`
		URL *string `json:"url"`
	}
	freshResult := scenarioResult{freshName, resultPass, ""}
	if _, err := getJSON(ctx, base+"/poll?session="+uuid.NewString(), &fresh); err != nil {
		freshResult = scenarioResult{freshName, resultFail, err.Error()}
	} else if fresh.URL != nil {
		freshResult = scenarioResult{freshName, resultFail, "fresh session already has a url"}
	}

	return uploadResult, pollResult, freshResult
}

func scenario6PushRegistration(ctx context.Context, base string) scenarioResult {
	name := "Push registration flow"
	sessionID := uuid.NewString()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/notify/ready?session="+sessionID, nil)
	if err != nil {
		return scenarioResult{name, resultFail, err.Error()}
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return scenarioResult{name, resultFail, err.Error()}
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return scenarioResult{name, resultFail, fmt.Sprintf("ready status=%d", resp.StatusCode)}
	}

	var poll struct {
		OK        bool `json:"ok"`
		PushReady bool `json:"push_ready"`
	}
	if _, err := getJSON(ctx, base+"/notify/poll?session="+sessionID, &poll); err != nil {
		return scenarioResult{name, resultFail, err.Error()}
	}
	if !poll.PushReady {
		return scenarioResult{name, resultFail, "push_ready stayed false"}
	}
	return scenarioResult{name, resultPass, ""}
}

func scenario7RateLimiting(ctx context.Context, base string) scenarioResult {
	name := "Rate limiting"
	sessionID := uuid.NewString()

	limited := 0
	for i := 0; i < 120; i++ {
		code, err := getJSON(ctx, base+"/poll?session="+sessionID, nil)
		if err != nil {
			return scenarioResult{name, resultInfo, err.Error()}
		}
		if code == http.StatusTooManyRequests {
			limited++
		}
	}
	if limited == 0 {
		return scenarioResult{name, resultInfo, "no 429 seen, Redis likely not configured"}
	}
	return scenarioResult{name, resultInfo, fmt.Sprintf("%d of 120 polls limited", limited)}
}
