// Package awsclient builds the AWS SDK configuration shared by the
// CloudWatch Logs, S3 and Secrets Manager clients.
package awsclient

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// Config selects the region, credentials and endpoint for AWS clients.
// Empty credentials fall back to the default provider chain.
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	// Endpoint overrides every service endpoint, for example a local stack.
	Endpoint string
	// UsePathStyle forces path-style S3 addressing.
	UsePathStyle bool
}

// Clients holds the service clients used by a report run.
type Clients struct {
	Logs    *cloudwatchlogs.Client
	S3      *s3.Client
	Secrets *secretsmanager.Client
}

// Load resolves the AWS configuration for cfg.
func Load(ctx context.Context, cfg Config) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(aws.NewCredentialsCache(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		)))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	if cfg.Endpoint != "" {
		awsCfg.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return awsCfg, nil
}

// New returns the service clients for cfg.
func New(ctx context.Context, cfg Config) (*Clients, error) {
	awsCfg, err := Load(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Clients{
		Logs: cloudwatchlogs.NewFromConfig(awsCfg),
		S3: s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.UsePathStyle = cfg.UsePathStyle
		}),
		Secrets: secretsmanager.NewFromConfig(awsCfg),
	}, nil
}
