// Package s3 implements the blob store port on AWS S3 compatible object
// storage. An endpoint override points it at LocalStack or MinIO in
// development.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/fairyhunter13/pixtools/internal/config"
	"github.com/fairyhunter13/pixtools/internal/domain"
)

// Store implements domain.BlobStore against one bucket.
type Store struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	expiry  time.Duration
}

// New builds the S3 client from application config and returns the store.
func New(ctx context.Context, cfg config.Config) (*Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.AWSRegion),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("op=s3.load_config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.AWSEndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWSEndpointURL)
			// Path-style addressing: LocalStack and MinIO do not resolve
			// virtual-host bucket names.
			o.UsePathStyle = true
		}
	})
	return &Store{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  cfg.S3Bucket,
		expiry:  cfg.PresignedURLExpiry(),
	}, nil
}

// EnsureBucket creates the bucket when absent and installs prefix-scoped
// expiry rules so raw, processed, and archive artifacts age out on their own.
func (s *Store) EnsureBucket(ctx context.Context, retentionDays int) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		if _, err := s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
			return fmt.Errorf("op=s3.create_bucket: %w", err)
		}
	}
	if retentionDays <= 0 {
		retentionDays = 1
	}
	rules := make([]types.LifecycleRule, 0, 3)
	for _, prefix := range []string{"raw/", "processed/", "archives/"} {
		rules = append(rules, types.LifecycleRule{
			ID:         aws.String("expire-" + prefix[:len(prefix)-1]),
			Status:     types.ExpirationStatusEnabled,
			Filter:     &types.LifecycleRuleFilter{Prefix: aws.String(prefix)},
			Expiration: &types.LifecycleExpiration{Days: aws.Int32(int32(retentionDays))},
		})
	}
	_, err = s.client.PutBucketLifecycleConfiguration(ctx, &s3.PutBucketLifecycleConfigurationInput{
		Bucket:                 aws.String(s.bucket),
		LifecycleConfiguration: &types.BucketLifecycleConfiguration{Rules: rules},
	})
	if err != nil {
		return fmt.Errorf("op=s3.put_lifecycle: %w", err)
	}
	return nil
}

// Ping verifies the bucket is reachable. Used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return fmt.Errorf("op=s3.ping bucket=%s: %w", s.bucket, err)
	}
	return nil
}

// Upload stores body under key.
func (s *Store) Upload(ctx domain.Context, key string, body []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("op=s3.upload key=%s: %w", key, err)
	}
	return nil
}

// Download reads the full object at key.
func (s *Store) Download(ctx domain.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("op=s3.download key=%s: %w", key, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("op=s3.download key=%s: %w", key, err)
	}
	defer func() { _ = out.Body.Close() }()
	b, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("op=s3.download_read key=%s: %w", key, err)
	}
	return b, nil
}

// Exists probes key with a HEAD request.
func (s *Store) Exists(ctx domain.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return false, nil
		}
		return false, fmt.Errorf("op=s3.exists key=%s: %w", key, err)
	}
	return true, nil
}

// PresignGet issues a time-limited GET URL. A non-empty downloadFilename sets
// the Content-Disposition so browsers save the artifact under a friendly name.
func (s *Store) PresignGet(ctx domain.Context, key, downloadFilename string) (string, error) {
	in := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}
	if downloadFilename != "" {
		in.ResponseContentDisposition = aws.String(fmt.Sprintf("attachment; filename=%q", downloadFilename))
	}
	req, err := s.presign.PresignGetObject(ctx, in, s3.WithPresignExpires(s.expiry))
	if err != nil {
		return "", fmt.Errorf("op=s3.presign key=%s: %w", key, err)
	}
	return req.URL, nil
}
