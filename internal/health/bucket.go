package health

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// HeadBucketAPI is the subset of the S3 client used by BucketChecker.
type HeadBucketAPI interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// BucketChecker verifies the report bucket exists and is reachable.
type BucketChecker struct {
	client HeadBucketAPI
	bucket string
}

// NewBucketChecker creates a bucket health checker.
func NewBucketChecker(client HeadBucketAPI, bucket string) *BucketChecker {
	return &BucketChecker{client: client, bucket: bucket}
}

// HealthCheck implements Checker.
func (b *BucketChecker) HealthCheck(ctx context.Context) error {
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.bucket)})
	return err
}
