// Package artifacts resolves uploaded file references against object
// storage so submissions carry an authoritative file size.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var ErrObjectNotFound = errors.New("artifact not found")

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

func (c Config) IsConfigured() bool {
	return strings.TrimSpace(c.Endpoint) != "" && strings.TrimSpace(c.Bucket) != ""
}

type Object struct {
	Ref         string
	Size        int64
	ContentType string
	ETag        string
}

type MinioStore struct {
	client *minio.Client
	bucket string
}

func NewMinioStore(cfg Config) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &MinioStore{client: client, bucket: cfg.Bucket}, nil
}

// Stat looks up ref, a key inside the configured bucket.
func (s *MinioStore) Stat(ctx context.Context, ref string) (Object, error) {
	key := strings.TrimPrefix(strings.TrimSpace(ref), "/")
	if key == "" {
		return Object{}, ErrObjectNotFound
	}
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" || resp.StatusCode == 404 {
			return Object{}, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return Object{}, fmt.Errorf("stat artifact %s: %w", key, err)
	}
	return Object{
		Ref:         key,
		Size:        info.Size,
		ContentType: info.ContentType,
		ETag:        info.ETag,
	}, nil
}

func (s *MinioStore) Ping(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check artifact bucket: %w", err)
	}
	if !exists {
		return fmt.Errorf("artifact bucket %s does not exist", s.bucket)
	}
	return nil
}
