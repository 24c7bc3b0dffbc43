package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/kenneth/zerovault/internal/gate"
)

// S3Config holds the object storage backend configuration.
type S3Config struct {
	Endpoint     string `yaml:"endpoint" env:"STORE_S3_ENDPOINT"`
	Region       string `yaml:"region" env:"STORE_S3_REGION"`
	Bucket       string `yaml:"bucket" env:"STORE_S3_BUCKET"`
	AccessKey    string `yaml:"access_key" env:"STORE_S3_ACCESS_KEY"`
	SecretKey    string `yaml:"secret_key" env:"STORE_S3_SECRET_KEY"`
	UsePathStyle bool   `yaml:"use_path_style" env:"STORE_S3_USE_PATH_STYLE"`
}

// S3Store is a CiphertextStore backed by an S3-compatible bucket. Blobs and
// metadata records live under distinct key prefixes so either can be fetched
// or lost independently.
type S3Store struct {
	client   *s3.Client
	bucket   string
	verifier gate.Verifier
}

const (
	blobKeyPrefix = "blobs/"
	metaKeyPrefix = "meta/"
)

// NewS3Store creates an S3-backed store. The verifier gates every fetch.
func NewS3Store(ctx context.Context, cfg S3Config, verifier gate.Verifier) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket cannot be empty")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &S3Store{client: client, bucket: cfg.Bucket, verifier: verifier}, nil
}

func (s *S3Store) PutBlob(ctx context.Context, fileID string, blob []byte) error {
	return s.put(ctx, blobKeyPrefix+fileID, blob)
}

func (s *S3Store) PutMetadata(ctx context.Context, fileID string, record []byte) error {
	return s.put(ctx, metaKeyPrefix+fileID, record)
}

func (s *S3Store) put(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
		// Ciphertext only; the real content type is inside the encrypted
		// metadata record.
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return fmt.Errorf("failed to put object %s: %w", key, err)
	}
	return nil
}

func (s *S3Store) FetchBlob(ctx context.Context, fileID string, grant gate.Grant) ([]byte, error) {
	return s.fetch(ctx, fileID, blobKeyPrefix+fileID, grant)
}

func (s *S3Store) FetchMetadata(ctx context.Context, fileID string, grant gate.Grant) ([]byte, error) {
	return s.fetch(ctx, fileID, metaKeyPrefix+fileID, grant)
}

func (s *S3Store) fetch(ctx context.Context, fileID, key string, grant gate.Grant) ([]byte, error) {
	if err := s.verifier.Verify(grant, fileID); err != nil {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("file %s: %w", fileID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get object %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", key, err)
	}
	return data, nil
}

func (s *S3Store) Delete(ctx context.Context, fileID string) error {
	for _, key := range []string{blobKeyPrefix + fileID, metaKeyPrefix + fileID} {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return fmt.Errorf("failed to delete object %s: %w", key, err)
		}
	}
	return nil
}

// isNoSuchKey classifies missing-object errors across S3-compatible backends.
func isNoSuchKey(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NoSuchKey" || code == "NotFound"
	}
	return false
}
