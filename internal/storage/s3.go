// Package storage publishes report artifacts to S3.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/aburke/highgarden/internal/tracing"
)

// ContentTypeCSV is the content type of uploaded reports.
const ContentTypeCSV = "text/csv"

// DefaultURLExpiry is how long presigned links to private objects stay valid.
const DefaultURLExpiry = 7 * 24 * time.Hour

// ErrMissingBucket is returned when no bucket is configured.
var ErrMissingBucket = errors.New("bucket name is required")

// Visibility controls who may read an uploaded object.
type Visibility int

const (
	VisibilityPrivate Visibility = iota
	VisibilityPublic
)

func (v Visibility) acl() types.ObjectCannedACL {
	if v == VisibilityPublic {
		return types.ObjectCannedACLPublicRead
	}
	return types.ObjectCannedACLPrivate
}

// Store uploads artifacts and returns links to them.
type Store interface {
	Upload(ctx context.Context, key string, payload []byte, vis Visibility) error
	ShareURL(ctx context.Context, key string, vis Visibility) (string, error)
}

// PutAPI is the subset of the S3 client used for uploads.
type PutAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// PresignAPI signs GET requests for private objects.
type PresignAPI interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Config configures an S3Store.
type S3Config struct {
	Bucket    string
	URLExpiry time.Duration
}

// S3Store is a Store backed by an S3 bucket.
type S3Store struct {
	client  PutAPI
	presign PresignAPI
	config  S3Config
	logger  *slog.Logger
}

// NewS3Store returns an S3Store using client for uploads and presigning.
func NewS3Store(client *s3.Client, cfg S3Config, logger *slog.Logger) (*S3Store, error) {
	return newS3Store(client, s3.NewPresignClient(client), cfg, logger)
}

func newS3Store(client PutAPI, presign PresignAPI, cfg S3Config, logger *slog.Logger) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, ErrMissingBucket
	}
	if cfg.URLExpiry <= 0 {
		cfg.URLExpiry = DefaultURLExpiry
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &S3Store{client: client, presign: presign, config: cfg, logger: logger}, nil
}

// Upload writes payload to key as CSV with the ACL matching vis.
func (s *S3Store) Upload(ctx context.Context, key string, payload []byte, vis Visibility) (err error) {
	ctx, endSpan := tracing.StartClientSpan(ctx, "s3", "PutObject")
	defer func() { endSpan(err) }()

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.config.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(payload),
		ContentLength: aws.Int64(int64(len(payload))),
		ContentType:   aws.String(ContentTypeCSV),
		ACL:           vis.acl(),
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", s.config.Bucket, key, err)
	}
	s.logger.Info("uploaded object",
		"bucket", s.config.Bucket,
		"key", key,
		"bytes", len(payload),
		"acl", string(vis.acl()),
	)
	return nil
}

// URL returns the virtual-hosted URL of key.
func (s *S3Store) URL(key string) string {
	return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", s.config.Bucket, key)
}

// ShareURL returns a link readers can open: the plain object URL for public
// objects and a presigned URL for private ones.
func (s *S3Store) ShareURL(ctx context.Context, key string, vis Visibility) (string, error) {
	if vis == VisibilityPublic {
		return s.URL(key), nil
	}
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.config.URLExpiry))
	if err != nil {
		return "", fmt.Errorf("presign s3://%s/%s: %w", s.config.Bucket, key, err)
	}
	return req.URL, nil
}
