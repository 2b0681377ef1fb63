package blob

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Seams for tests.
var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	newS3PresignClient = func(c *s3.Client) *s3.PresignClient {
		return s3.NewPresignClient(c)
	}

	putObject = func(c *s3.Client, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
		return c.PutObject(ctx, in, optFns...)
	}

	presignGetObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignGetObject(ctx, in, optFns...)
	}
)

// S3Options configures the S3-compatible backend (MinIO in development).
type S3Options struct {
	Region       string
	RootUser     string
	RootPassword string
	Bucket       string
	BaseEndpoint string
	// PresignTTL bounds the lifetime of download URLs.
	PresignTTL time.Duration
}

// S3Store implements Store over an S3-compatible backend.
type S3Store struct {
	opts S3Options
}

// NewS3Store constructs an S3Store. The SDK client is built lazily per call
// so credential or endpoint changes in tests take effect without rewiring.
func NewS3Store(opts S3Options) *S3Store {
	if opts.PresignTTL <= 0 {
		opts.PresignTTL = 15 * time.Minute
	}
	return &S3Store{opts: opts}
}

// ObjectKey returns the content-addressed key for a hash.
func ObjectKey(contentHash string) string {
	if len(contentHash) < 2 {
		return "blobs/" + contentHash
	}
	return fmt.Sprintf("blobs/%s/%s", contentHash[:2], contentHash)
}

func (s *S3Store) client(ctx context.Context) (*s3.Client, error) {
	cfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(s.opts.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			s.opts.RootUser,
			s.opts.RootPassword,
			"",
		)))
	if err != nil {
		return nil, err
	}

	return newS3ClientFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(s.opts.BaseEndpoint)
		o.UsePathStyle = true
	}), nil
}

// Put uploads data under the content-addressed key.
func (s *S3Store) Put(ctx context.Context, contentHash string, data []byte) error {
	client, err := s.client(ctx)
	if err != nil {
		return err
	}

	key := ObjectKey(contentHash)
	_, err = putObject(client, ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.opts.Bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

// PresignGet returns a temporary download URL for the blob.
func (s *S3Store) PresignGet(ctx context.Context, contentHash string) (string, error) {
	client, err := s.client(ctx)
	if err != nil {
		return "", err
	}

	key := ObjectKey(contentHash)
	req, err := presignGetObject(newS3PresignClient(client), ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.opts.Bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.opts.PresignTTL))
	if err != nil {
		return "", fmt.Errorf("presign get %s: %w", key, err)
	}
	return req.URL, nil
}
