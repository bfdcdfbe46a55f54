// Package objectstore provides blob storage gateways for audio samples and
// synthesized outputs.
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const blobContentType = "audio/mpeg"

// MinioStore implements the core.ObjectStore interface on a MinIO (or any
// S3-compatible) bucket.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinio connects to the object storage endpoint and ensures the bucket
// exists, creating it when missing.
func NewMinio(
	ctx context.Context,
	endpoint, accessKey, secretKey string,
	useSSL bool,
	bucket string,
) (*MinioStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object storage client for '%s': %w", endpoint, err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket '%s': %w", bucket, err)
	}

	if !exists {
		err = client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{})
		if err != nil {
			return nil, fmt.Errorf("failed to create bucket '%s': %w", bucket, err)
		}
	}

	return &MinioStore{client: client, bucket: bucket}, nil
}

// Upload saves a blob under key, overwriting any previous content.
func (s *MinioStore) Upload(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(
		ctx,
		s.bucket,
		key,
		bytes.NewReader(data),
		int64(len(data)),
		minio.PutObjectOptions{ContentType: blobContentType},
	)
	if err != nil {
		return fmt.Errorf("failed to put object '%s' to bucket '%s': %w", key, s.bucket, err)
	}

	return nil
}

// Download retrieves the blob stored under key.
func (s *MinioStore) Download(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object '%s' from bucket '%s': %w", key, s.bucket, err)
	}

	data, readErr := io.ReadAll(obj)
	closeErr := obj.Close()

	if readErr != nil {
		return nil, fmt.Errorf("failed to read object '%s': %w", key, readErr)
	}

	if closeErr != nil {
		return data, fmt.Errorf("failed to close object '%s': %w", key, closeErr)
	}

	return data, nil
}

// Delete removes the blob stored under key.
func (s *MinioStore) Delete(ctx context.Context, key string) error {
	err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("failed to remove object '%s' from bucket '%s': %w", key, s.bucket, err)
	}

	return nil
}

// SignedUploadURL mints a presigned PUT URL for key, valid for ttl.
func (s *MinioStore) SignedUploadURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	signed, err := s.client.PresignedPutObject(ctx, s.bucket, key, ttl)
	if err != nil {
		return "", fmt.Errorf("failed to presign upload of '%s': %w", key, err)
	}

	return signed.String(), nil
}

// SignedDownloadURL mints a presigned GET URL for key, valid for ttl.
func (s *MinioStore) SignedDownloadURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	signed, err := s.client.PresignedGetObject(ctx, s.bucket, key, ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("failed to presign download of '%s': %w", key, err)
	}

	return signed.String(), nil
}
