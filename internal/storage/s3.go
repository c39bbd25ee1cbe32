package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config configures the S3 backend.
type S3Config struct {
	Bucket  string
	Region  string
	BaseURL string // public URL prefix (CDN); virtual-hosted S3 URL when empty
}

// S3Uploader stores files as S3 objects. Credentials come from the
// default AWS chain (environment, shared config, instance role).
type S3Uploader struct {
	client *s3.Client
	cfg    S3Config
}

// NewS3Uploader loads AWS configuration and builds the backend.
func NewS3Uploader(ctx context.Context, cfg S3Config) (*S3Uploader, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("storage: s3 backend requires a bucket")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage: load aws config: %w", err)
	}

	return &S3Uploader{client: s3.NewFromConfig(awsCfg), cfg: cfg}, nil
}

// Name identifies the backend.
func (u *S3Uploader) Name() string { return "s3" }

// Upload puts the file into the bucket. With Overwrite off the put is
// conditional on the key not existing.
func (u *S3Uploader) Upload(ctx context.Context, p UploadParams) (*UploadResult, error) {
	id := publicID(p)
	key := objectKey(cleanPath(p.Folder), id, fileExt(p))

	put := &s3.PutObjectInput{
		Bucket:        aws.String(u.cfg.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(p.Data),
		ContentLength: aws.Int64(int64(len(p.Data))),
	}
	if p.ContentType != "" {
		put.ContentType = aws.String(p.ContentType)
	}
	if !p.Overwrite {
		put.IfNoneMatch = aws.String("*")
	}

	if _, err := u.client.PutObject(ctx, put); err != nil {
		return nil, fmt.Errorf("storage: s3 put %s: %w", key, err)
	}

	return &UploadResult{
		PublicID:  id,
		SecureURL: u.publicURL(key),
		Bytes:     int64(len(p.Data)),
	}, nil
}

// publicURL returns where the object is reachable: the configured base
// when set, the bucket's virtual-hosted-style address otherwise.
func (u *S3Uploader) publicURL(key string) string {
	if u.cfg.BaseURL != "" {
		return strings.TrimRight(u.cfg.BaseURL, "/") + "/" + key
	}
	if u.cfg.Region != "" {
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", u.cfg.Bucket, u.cfg.Region, key)
	}
	return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", u.cfg.Bucket, key)
}
