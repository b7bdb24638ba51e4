package storage

import (
	"bytes"
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Config configures an S3-compatible endpoint.
type S3Config struct {
	Endpoint  string
	AccessKey string
	Secret    string
	UseSSL    bool
	Region    string
}

// S3 stores objects in an S3-compatible bucket, world-readable.
type S3 struct {
	client *minio.Client
}

func NewS3(cfg S3Config) (*S3, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.Secret, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("s3 client: %w", err)
	}
	return &S3{client: client}, nil
}

func putOptions(key string) minio.PutObjectOptions {
	return minio.PutObjectOptions{
		ContentType:  ContentType(key),
		UserMetadata: map[string]string{"x-amz-acl": "public-read"},
	}
}

func (s *S3) PutFile(ctx context.Context, bucket, key, filePath string) error {
	key = cleanKey(key)
	if _, err := s.client.FPutObject(ctx, bucket, key, filePath, putOptions(key)); err != nil {
		return fmt.Errorf("put %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (s *S3) PutBytes(ctx context.Context, bucket, key string, data []byte) error {
	key = cleanKey(key)
	r := bytes.NewReader(data)
	if _, err := s.client.PutObject(ctx, bucket, key, r, int64(len(data)), putOptions(key)); err != nil {
		return fmt.Errorf("put %s/%s: %w", bucket, key, err)
	}
	return nil
}
