// Package storage provides the upload backends. Each backend persists a
// file somewhere durable (Cloudinary, S3, local disk) and reports back the
// public URL clients poll for.
package storage

import (
	"context"
	"path"
	"strings"

	"github.com/google/uuid"
)

// UploadParams describes a single file upload.
type UploadParams struct {
	FileName    string // original client file name, used for extension hints
	ContentType string
	Data        []byte
	Folder      string // logical folder or key prefix, may be empty
	PublicID    string // explicit object ID; generated when empty
	Overwrite   bool   // replace an existing object with the same ID
}

// UploadResult is what a backend reports after a successful upload.
type UploadResult struct {
	PublicID  string
	SecureURL string
	Bytes     int64
}

// Uploader stores a file and returns where it ended up.
type Uploader interface {
	// Upload persists the file. The returned URL is publicly reachable.
	Upload(ctx context.Context, p UploadParams) (*UploadResult, error)

	// Name identifies the backend in logs and metrics.
	Name() string
}

// publicID returns the caller's ID, normalized like a folder, or a fresh
// random one when the ID is empty or collapses to nothing.
func publicID(p UploadParams) string {
	if id := cleanPath(p.PublicID); id != "" {
		return id
	}
	return uuid.NewString()
}

// fileExt guesses an extension for the upload, preferring the original
// file name over the declared content type. Includes the leading dot;
// empty when nothing matches.
func fileExt(p UploadParams) string {
	if ext := path.Ext(p.FileName); ext != "" {
		return strings.ToLower(ext)
	}
	switch p.ContentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	}
	return ""
}

// cleanPath normalizes a client-supplied folder or object ID into a safe
// relative slash path. Traversal segments and absolute paths collapse to "".
func cleanPath(s string) string {
	s = strings.Trim(s, "/")
	if s == "" {
		return ""
	}
	cleaned := path.Clean(s)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return ""
	}
	return cleaned
}

// objectKey builds the storage key from folder, ID and extension.
func objectKey(folder, id, ext string) string {
	if folder == "" {
		return id + ext
	}
	return folder + "/" + id + ext
}
