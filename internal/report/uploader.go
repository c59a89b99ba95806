package report

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const defaultLinkTTL = 24 * time.Hour

// UploaderConfig carries the object storage connection details.
type UploaderConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool

	// LinkTTL bounds how long download links stay valid. Defaults to 24h.
	LinkTTL time.Duration
}

// Uploader publishes rendered PDFs to an S3-compatible bucket and hands
// out presigned download links.
type Uploader struct {
	client  *minio.Client
	bucket  string
	linkTTL time.Duration
}

// NewUploader connects to the object store and ensures the bucket exists.
func NewUploader(ctx context.Context, cfg UploaderConfig) (*Uploader, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("report bucket is required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object storage: %w", err)
	}
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %q: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %q: %w", bucket, err)
		}
	}
	ttl := cfg.LinkTTL
	if ttl <= 0 {
		ttl = defaultLinkTTL
	}
	return &Uploader{client: client, bucket: bucket, linkTTL: ttl}, nil
}

// LinkTTL reports how long the links returned by Upload stay valid.
func (u *Uploader) LinkTTL() time.Duration {
	return u.linkTTL
}

// Upload stores the file at path under a unique key and returns a
// presigned download link.
func (u *Uploader) Upload(ctx context.Context, path string) (string, error) {
	key := "reports/" + uuid.NewString() + "_" + filepath.Base(path)
	opts := minio.PutObjectOptions{ContentType: "application/pdf"}
	if _, err := u.client.FPutObject(ctx, u.bucket, key, path, opts); err != nil {
		return "", fmt.Errorf("upload report: %w", err)
	}
	link, err := u.client.PresignedGetObject(ctx, u.bucket, key, u.linkTTL, nil)
	if err != nil {
		return "", fmt.Errorf("presign report link: %w", err)
	}
	return link.String(), nil
}
