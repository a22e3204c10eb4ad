package tools

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

// BlobConfig configures the S3-compatible document store.
type BlobConfig struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	// PresignTTL bounds download links; zero means 15 minutes.
	PresignTTL time.Duration
}

// BlobClient uploads case documents and mints presigned download
// links. Works against AWS or any S3-compatible endpoint (path-style).
type BlobClient struct {
	s3      *s3.Client
	presign *s3.PresignClient
	bucket  string
	linkTTL time.Duration
	logger  *zap.Logger
}

// NewBlobClient builds a blob client from cfg. Static credentials are
// used when provided, otherwise the default chain.
func NewBlobClient(ctx context.Context, cfg BlobConfig, logger *zap.Logger) (*BlobClient, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load blob config: %w", err)
	}
	svc := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	ttl := cfg.PresignTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &BlobClient{
		s3:      svc,
		presign: s3.NewPresignClient(svc),
		bucket:  cfg.Bucket,
		linkTTL: ttl,
		logger:  logger,
	}, nil
}

// Upload stores data at key and returns the s3:// location.
func (b *BlobClient) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	_, err := b.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	b.logger.Debug("Uploaded case document", zap.String("key", key))
	return fmt.Sprintf("s3://%s/%s", b.bucket, key), nil
}

// PresignGet mints a time-bounded download URL for key.
func (b *BlobClient) PresignGet(ctx context.Context, key string) (string, error) {
	out, err := b.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(b.linkTTL))
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return out.URL, nil
}
