package storage

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/nimasrn/video-report/pkg/logger"
)

type S3Config struct {
	Region          string
	Endpoint        string // optional, for S3 compatible stores
	AccessKeyID     string
	SecretAccessKey string
	PresignExpire   time.Duration
}

// S3 signs rendered video locations so recipients can download them from a
// private bucket.
type S3 struct {
	client  *s3.Client
	presign *s3.PresignClient
	cfg     S3Config
}

// NewS3 creates a client from config, falling back to AWS_ACCESS_KEY_ID and
// AWS_SECRET_ACCESS_KEY and then to the default credential chain.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	accessKey, secretKey := cfg.AccessKeyID, cfg.SecretAccessKey
	if accessKey == "" || secretKey == "" {
		accessKey = os.Getenv("AWS_ACCESS_KEY_ID")
		secretKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		))
	} else {
		logger.Warn("s3 client using default credential chain")
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3{
		client:  client,
		presign: s3.NewPresignClient(client),
		cfg:     cfg,
	}, nil
}

func (s *S3) PresignExpire() time.Duration {
	if s.cfg.PresignExpire <= 0 {
		return 15 * time.Minute
	}
	return s.cfg.PresignExpire
}

// PresignedDownloadURL returns a pre-signed GET URL for an object.
func (s *S3) PresignedDownloadURL(ctx context.Context, bucket, key string, expires time.Duration) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = expires
	})
	if err != nil {
		return "", fmt.Errorf("presign get: %w", err)
	}
	return req.URL, nil
}

// Sign presigns s3://bucket/key locations. Any other URL is already public
// and returned unchanged.
func (s *S3) Sign(ctx context.Context, location string) (string, error) {
	bucket, key, ok := ParseObjectURL(location)
	if !ok {
		return location, nil
	}
	return s.PresignedDownloadURL(ctx, bucket, key, s.PresignExpire())
}

// ParseObjectURL splits an s3://bucket/key location.
func ParseObjectURL(location string) (bucket, key string, ok bool) {
	u, err := url.Parse(location)
	if err != nil || u.Scheme != "s3" || u.Host == "" {
		return "", "", false
	}
	key = strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", "", false
	}
	return u.Host, key, true
}
