package spool

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"faceattend/internal/config"
)

// MinIO is an object store used both as a probe spool and as the enrollment
// archive.
type MinIO struct {
	client *minio.Client
	bucket string
}

// NewMinIO creates a client for cfg. It does not touch the network.
func NewMinIO(cfg config.MinIO) (*MinIO, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &MinIO{client: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket creates the bucket if it doesn't exist.
func (s *MinIO) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
	}
	return nil
}

// Put stores data under a fresh probe key.
func (s *MinIO) Put(ctx context.Context, data []byte) (string, error) {
	key := newKey()
	if err := s.PutObject(ctx, key, data, "application/octet-stream"); err != nil {
		return "", err
	}
	return key, nil
}

// Get returns the probe stored under key.
func (s *MinIO) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}
	return data, nil
}

// Delete removes an object.
func (s *MinIO) Delete(ctx context.Context, key string) error {
	return s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
}

// PutObject uploads data under key.
func (s *MinIO) PutObject(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

// Archive uploads an enrolled face image under faces/<ref> and returns its
// object URL.
func (s *MinIO) Archive(ctx context.Context, ref string, jpeg []byte) (string, error) {
	key := "faces/" + ref
	if err := s.PutObject(ctx, key, jpeg, "image/jpeg"); err != nil {
		return "", err
	}
	return s.client.EndpointURL().JoinPath(s.bucket, key).String(), nil
}

// Ping checks MinIO connectivity.
func (s *MinIO) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucket)
	return err
}
