package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LocalConfig configures the local-disk backend.
type LocalConfig struct {
	Dir     string // root directory for stored files
	BaseURL string // public URL prefix that maps to Dir
}

// LocalUploader writes files to local disk. It exists for development and
// for deployments that serve uploads from the same host.
type LocalUploader struct {
	cfg LocalConfig
}

// NewLocalUploader creates the root directory if needed.
func NewLocalUploader(cfg LocalConfig) (*LocalUploader, error) {
	if cfg.Dir == "" {
		return nil, errors.New("storage: local backend requires a directory")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create local dir: %w", err)
	}
	return &LocalUploader{cfg: cfg}, nil
}

// Name identifies the backend.
func (u *LocalUploader) Name() string { return "local" }

// Upload writes the file under the configured directory and returns a URL
// built from the configured base.
func (u *LocalUploader) Upload(ctx context.Context, p UploadParams) (*UploadResult, error) {
	id := publicID(p)
	key := objectKey(cleanPath(p.Folder), id, fileExt(p))

	dst := filepath.Join(u.cfg.Dir, filepath.FromSlash(key))
	if !p.Overwrite {
		if _, err := os.Stat(dst); err == nil {
			return nil, fmt.Errorf("storage: local object %s already exists", key)
		}
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return nil, fmt.Errorf("storage: local mkdir for %s: %w", key, err)
	}
	if err := os.WriteFile(dst, p.Data, 0o644); err != nil {
		return nil, fmt.Errorf("storage: local write %s: %w", key, err)
	}

	return &UploadResult{
		PublicID:  id,
		SecureURL: strings.TrimRight(u.cfg.BaseURL, "/") + "/" + key,
		Bytes:     int64(len(p.Data)),
	}, nil
}
