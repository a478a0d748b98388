package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	miniocreds "github.com/minio/minio-go/v7/pkg/credentials"

	apperrors "github.com/localclipper/clipper/internal/errors"
	"github.com/localclipper/clipper/internal/orchestrator"
)

// Config holds the connection settings for S3-compatible storage.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string
}

// ObjectStore reads source videos from S3-compatible storage (MinIO) so
// they can be submitted without a local copy.
type ObjectStore struct {
	client *minio.Client
}

// NewObjectStore creates a minio-backed object reader.
func NewObjectStore(cfg *Config) (*ObjectStore, error) {
	// minio-go expects host:port without a scheme
	endpoint := strings.TrimPrefix(cfg.Endpoint, "http://")
	endpoint = strings.TrimPrefix(endpoint, "https://")

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  miniocreds.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return &ObjectStore{client: client}, nil
}

// ObjectInfo contains metadata about a stored object.
type ObjectInfo struct {
	Bucket      string
	Key         string
	Size        int64
	ContentType string
	ETag        string
}

// IsObjectURL reports whether src names an object as s3://bucket/key
func IsObjectURL(src string) bool {
	return strings.HasPrefix(src, "s3://")
}

// ParseObjectURL splits s3://bucket/key into its parts
func ParseObjectURL(raw string) (bucket, key string, err error) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "s3" {
		return "", "", apperrors.ValidationError(fmt.Sprintf("not an object url: %s", raw))
	}
	key = strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return "", "", apperrors.ValidationError(fmt.Sprintf("object url needs bucket and key: %s", raw))
	}
	return u.Host, key, nil
}

// StatObject returns metadata about an object without downloading it.
func (s *ObjectStore) StatObject(ctx context.Context, bucket, key string) (*ObjectInfo, error) {
	info, err := s.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, apperrors.NotFound(fmt.Sprintf("object %s/%s", bucket, key))
		}
		return nil, apperrors.StorageError(fmt.Sprintf("failed to stat object %s/%s", bucket, key)).WithCause(err)
	}

	return &ObjectInfo{
		Bucket:      bucket,
		Key:         key,
		Size:        info.Size,
		ContentType: info.ContentType,
		ETag:        info.ETag,
	}, nil
}

// GetObject streams an entire object.
func (s *ObjectStore) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, apperrors.StorageError(fmt.Sprintf("failed to get object %s/%s", bucket, key)).WithCause(err)
	}
	return obj, nil
}

// FileSource resolves s3://bucket/key into an upload source. The object is
// checked up front so a missing key fails before a job is created.
func (s *ObjectStore) FileSource(ctx context.Context, rawURL string) (orchestrator.FileSource, error) {
	bucket, key, err := ParseObjectURL(rawURL)
	if err != nil {
		return orchestrator.FileSource{}, err
	}
	if _, err := s.StatObject(ctx, bucket, key); err != nil {
		return orchestrator.FileSource{}, err
	}

	return orchestrator.FileSource{
		Name: path.Base(key),
		Open: func() (io.ReadCloser, error) {
			return s.GetObject(ctx, bucket, key)
		},
	}, nil
}

// Ping checks that the storage endpoint answers.
func (s *ObjectStore) Ping(ctx context.Context, bucket string) error {
	_, err := s.client.BucketExists(ctx, bucket)
	return err
}
