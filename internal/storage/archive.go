package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/localclipper/clipper/internal/domain"
	apperrors "github.com/localclipper/clipper/internal/errors"
)

// ArchivedJob is the document stored for each terminal job
type ArchivedJob struct {
	Job        domain.Job `json:"job"`
	ArchivedAt time.Time  `json:"archived_at"`
}

// S3Archiver stores terminal job snapshots in an S3 bucket (AWS S3 or MinIO)
type S3Archiver struct {
	client *s3.Client
	bucket string
	retry  *apperrors.RetryConfig
	now    func() time.Time
}

// NewS3Archiver creates an archiver writing into bucket
func NewS3Archiver(cfg *Config, bucket string) *S3Archiver {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  awscreds.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true, // Required for MinIO
	}
	if cfg.Endpoint != "" {
		scheme := "http://"
		if cfg.UseSSL {
			scheme = "https://"
		}
		opts.BaseEndpoint = aws.String(withScheme(cfg.Endpoint, scheme))
	}

	return &S3Archiver{
		client: s3.New(opts),
		bucket: bucket,
		retry:  apperrors.StorageRetryConfig(),
		now:    time.Now,
	}
}

func withScheme(endpoint, scheme string) string {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	return scheme + endpoint
}

// archiveKey returns the S3 key for a job snapshot
func archiveKey(jobID string) string {
	return fmt.Sprintf("jobs/%s.json", jobID)
}

// Archive writes the job snapshot. Non-terminal jobs are refused.
func (a *S3Archiver) Archive(ctx context.Context, job domain.Job) error {
	if !job.IsTerminal() {
		return apperrors.ValidationError(fmt.Sprintf("job %s is not terminal", job.ID))
	}

	data, err := json.Marshal(ArchivedJob{Job: job, ArchivedAt: a.now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	return apperrors.Retry(ctx, a.retry, func(ctx context.Context) error {
		_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(a.bucket),
			Key:           aws.String(archiveKey(job.ID)),
			Body:          bytes.NewReader(data),
			ContentLength: aws.Int64(int64(len(data))),
			ContentType:   aws.String("application/json"),
		})
		if err != nil {
			return apperrors.StorageError("failed to archive job").WithCause(err)
		}
		return nil
	})
}

// Load reads a previously archived job
func (a *S3Archiver) Load(ctx context.Context, jobID string) (*ArchivedJob, error) {
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(archiveKey(jobID)),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, apperrors.JobNotFound(jobID)
		}
		return nil, apperrors.StorageError("failed to load archived job").WithCause(err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, apperrors.StorageError("failed to read archived job").WithCause(err)
	}
	var archived ArchivedJob
	if err := json.Unmarshal(data, &archived); err != nil {
		return nil, fmt.Errorf("failed to parse archived job: %w", err)
	}
	return &archived, nil
}

// Ping checks that the archive bucket is reachable
func (a *S3Archiver) Ping(ctx context.Context) error {
	_, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(a.bucket)})
	return err
}
