// Package document renders signed contracts to PDF, stores them and retries
// renders that failed.
package document

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/pitabwire/onboard/model"
)

// ObjectStore holds rendered documents.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error

	// Get returns NOT_FOUND if key has never been stored.
	Get(ctx context.Context, key string) ([]byte, error)

	// URL returns a link to key that the signing page can expose.
	URL(ctx context.Context, key string) (string, error)

	// Ping checks the store is reachable.
	Ping(ctx context.Context) error
}

// --- MemoryObjectStore ---

// MemoryObjectStore keeps objects in memory. URLs point at baseURL/key.
type MemoryObjectStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
	baseURL string
}

// NewMemoryObjectStore creates an empty in-memory object store.
func NewMemoryObjectStore(baseURL string) *MemoryObjectStore {
	return &MemoryObjectStore{
		objects: make(map[string][]byte),
		baseURL: baseURL,
	}
}

// Put stores a copy of data under key.
func (s *MemoryObjectStore) Put(_ context.Context, key string, data []byte, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = append([]byte(nil), data...)
	return nil
}

// Get returns a copy of the object under key.
func (s *MemoryObjectStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.objects[key]
	if !ok {
		return nil, model.NewNotFoundError(fmt.Sprintf("document %q not found", key))
	}
	return append([]byte(nil), data...), nil
}

// URL returns baseURL/key.
func (s *MemoryObjectStore) URL(_ context.Context, key string) (string, error) {
	return s.baseURL + "/" + key, nil
}

// Ping always succeeds.
func (s *MemoryObjectStore) Ping(context.Context) error { return nil }

// --- MinioObjectStore ---

// MinioConfig configures a MinioObjectStore.
type MinioConfig struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Bucket        string
	UseSSL        bool
	PresignExpiry time.Duration
}

// MinioObjectStore stores objects in an S3-compatible bucket.
type MinioObjectStore struct {
	client *minio.Client
	bucket string
	cfg    MinioConfig
}

// NewMinioObjectStore creates a MinIO client for cfg.
func NewMinioObjectStore(cfg MinioConfig) (*MinioObjectStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &MinioObjectStore{client: client, bucket: cfg.Bucket, cfg: cfg}, nil
}

// EnsureBucket creates the bucket if it does not exist.
func (s *MinioObjectStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %q: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %q: %w", s.bucket, err)
	}
	return nil
}

// Put uploads data under key.
func (s *MinioObjectStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("upload %q: %w", key, err)
	}
	return nil
}

// Get downloads the object under key.
func (s *MinioObjectStore) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, model.NewNotFoundError(fmt.Sprintf("document %q not found", key))
		}
		return nil, fmt.Errorf("read %q: %w", key, err)
	}
	return data, nil
}

// URL returns a presigned GET URL for key, or the plain object URL when
// presigning is disabled.
func (s *MinioObjectStore) URL(ctx context.Context, key string) (string, error) {
	if s.cfg.PresignExpiry <= 0 {
		scheme := "http"
		if s.cfg.UseSSL {
			scheme = "https"
		}
		return fmt.Sprintf("%s://%s/%s/%s", scheme, s.cfg.Endpoint, s.bucket, key), nil
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, s.cfg.PresignExpiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign %q: %w", key, err)
	}
	return u.String(), nil
}

// Ping checks the bucket is reachable.
func (s *MinioObjectStore) Ping(ctx context.Context) error {
	if _, err := s.client.BucketExists(ctx, s.bucket); err != nil {
		return fmt.Errorf("minio: %w", err)
	}
	return nil
}
