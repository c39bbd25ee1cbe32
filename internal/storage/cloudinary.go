package storage

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
)

// DefaultCloudinaryBaseURL is the production Cloudinary API endpoint.
const DefaultCloudinaryBaseURL = "https://api.cloudinary.com"

// CloudinaryConfig configures the Cloudinary backend.
type CloudinaryConfig struct {
	CloudName    string
	APIKey       string
	APISecret    string
	UploadPreset string // optional preset forwarded with every upload
	BaseURL      string // API endpoint override, used in tests
}

// CloudinaryUploader uploads images through Cloudinary's signed upload
// API. Requests are authenticated with an SHA-1 signature over the sorted
// request parameters.
type CloudinaryUploader struct {
	cfg  CloudinaryConfig
	http *http.Client
	now  func() time.Time
}

// NewCloudinaryUploader validates the credentials and builds the backend.
func NewCloudinaryUploader(cfg CloudinaryConfig) (*CloudinaryUploader, error) {
	if cfg.CloudName == "" || cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, errors.New("storage: cloudinary requires CLOUDINARY_CLOUD_NAME, CLOUDINARY_API_KEY and CLOUDINARY_API_SECRET")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultCloudinaryBaseURL
	}
	return &CloudinaryUploader{
		cfg:  cfg,
		http: &http.Client{Timeout: 30 * time.Second},
		now:  time.Now,
	}, nil
}

// Name identifies the backend.
func (u *CloudinaryUploader) Name() string { return "cloudinary" }

// cloudinaryResponse is the subset of the upload API response we use.
type cloudinaryResponse struct {
	PublicID  string `json:"public_id"`
	SecureURL string `json:"secure_url"`
	Bytes     int64  `json:"bytes"`
	Error     struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Upload sends the file to Cloudinary's image upload endpoint as a signed
// multipart request.
func (u *CloudinaryUploader) Upload(ctx context.Context, p UploadParams) (*UploadResult, error) {
	fields := map[string]string{
		"timestamp": strconv.FormatInt(u.now().Unix(), 10),
	}
	if folder := cleanPath(p.Folder); folder != "" {
		fields["folder"] = folder
	}
	if id := cleanPath(p.PublicID); id != "" {
		fields["public_id"] = id
	}
	// Signed uploads default to overwriting, so false must be sent, not
	// omitted.
	fields["overwrite"] = strconv.FormatBool(p.Overwrite)
	if u.cfg.UploadPreset != "" {
		fields["upload_preset"] = u.cfg.UploadPreset
	}

	// The signature covers every parameter except api_key and the file
	// itself, so it must be computed before those are added.
	fields["signature"] = signParams(fields, u.cfg.APISecret)
	fields["api_key"] = u.cfg.APIKey

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("storage: cloudinary form field %s: %w", k, err)
		}
	}
	fw, err := mw.CreateFormFile("file", p.FileName)
	if err != nil {
		return nil, fmt.Errorf("storage: cloudinary form file: %w", err)
	}
	if _, err := fw.Write(p.Data); err != nil {
		return nil, fmt.Errorf("storage: cloudinary form file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("storage: cloudinary form: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1_1/%s/image/upload", strings.TrimRight(u.cfg.BaseURL, "/"), u.cfg.CloudName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("storage: cloudinary request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := u.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("storage: cloudinary upload: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("storage: cloudinary response: %w", err)
	}

	var out cloudinaryResponse
	if err := sonic.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("storage: cloudinary response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if out.Error.Message != "" {
			return nil, fmt.Errorf("storage: cloudinary upload failed: %s", out.Error.Message)
		}
		return nil, fmt.Errorf("storage: cloudinary upload failed: status %d", resp.StatusCode)
	}
	if out.SecureURL == "" {
		return nil, errors.New("storage: cloudinary response missing secure_url")
	}

	return &UploadResult{
		PublicID:  out.PublicID,
		SecureURL: out.SecureURL,
		Bytes:     out.Bytes,
	}, nil
}

// signParams computes the Cloudinary request signature: parameters sorted
// by key, joined as key=value with '&', the API secret appended, hashed
// with SHA-1, hex encoded.
func signParams(fields map[string]string, secret string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+fields[k])
	}

	sum := sha1.Sum([]byte(strings.Join(pairs, "&") + secret))
	return hex.EncodeToString(sum[:])
}
