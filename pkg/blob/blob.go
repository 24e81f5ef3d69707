// Package blob stores portfolio images in an S3-compatible bucket through
// minio-go. Calls go through a circuit breaker so an unreachable object
// store fails uploads fast instead of holding request goroutines.
package blob

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/Adithya-Monish-Kumar-K/ourportfolio/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/ourportfolio/pkg/resilience"
)

// objectAPI is the subset of *minio.Client used by Store.
type objectAPI interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
}

// Store uploads and removes image objects and maps them to public URLs.
type Store struct {
	client  objectAPI
	bucket  string
	baseURL string
	breaker *resilience.CircuitBreaker
	logger  *slog.Logger
}

// Option customises a Store.
type Option func(*Store)

// WithBreaker replaces the default circuit breaker.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(s *Store) { s.breaker = cb }
}

// New connects to the configured endpoint and makes sure the bucket exists.
func New(ctx context.Context, cfg config.StorageConfig, opts ...Option) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating minio client: %w", err)
	}
	s := newStore(client, cfg, opts...)
	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func newStore(client objectAPI, cfg config.StorageConfig, opts ...Option) *Store {
	base := strings.TrimRight(cfg.PublicBaseURL, "/")
	if base == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		base = fmt.Sprintf("%s://%s/%s", scheme, cfg.Endpoint, cfg.Bucket)
	}
	s := &Store{
		client:  client,
		bucket:  cfg.Bucket,
		baseURL: base,
		logger:  slog.Default().With("component", "blob-store", "bucket", cfg.Bucket),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.breaker == nil {
		s.breaker = resilience.NewCircuitBreaker("blob-store", resilience.CircuitBreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     30 * time.Second,
		})
	}
	return s
}

func (s *Store) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("checking bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("creating bucket %s: %w", s.bucket, err)
	}
	s.logger.Info("bucket created")
	return nil
}

// PutImage uploads r under a fresh object name that keeps the extension of
// filename, and returns the object's public URL.
func (s *Store) PutImage(ctx context.Context, r io.Reader, size int64, contentType, filename string) (string, error) {
	key := ObjectKey(filename)
	err := s.breaker.Execute(func() error {
		_, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
			ContentType: contentType,
			UserMetadata: map[string]string{
				"uploaded-at": time.Now().UTC().Format(time.RFC3339),
			},
		})
		return err
	})
	if err != nil {
		return "", fmt.Errorf("uploading image %s: %w", key, err)
	}
	s.logger.Debug("image uploaded", "key", key, "size", size)
	return s.URL(key), nil
}

// Remove deletes the object behind a URL previously returned by PutImage.
// URLs that do not point into this store are ignored.
func (s *Store) Remove(ctx context.Context, url string) error {
	key, ok := s.KeyFromURL(url)
	if !ok {
		return nil
	}
	err := s.breaker.Execute(func() error {
		return s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
	})
	if err != nil {
		return fmt.Errorf("removing image %s: %w", key, err)
	}
	return nil
}

// URL returns the public URL of key.
func (s *Store) URL(key string) string {
	return s.baseURL + "/" + key
}

// KeyFromURL is the inverse of URL.
func (s *Store) KeyFromURL(url string) (string, bool) {
	key, ok := strings.CutPrefix(url, s.baseURL+"/")
	if !ok || key == "" {
		return "", false
	}
	return key, true
}

// ObjectKey names an uploaded image. Keys are grouped by upload date.
func ObjectKey(filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	return fmt.Sprintf("portfolios/%s/%s%s", time.Now().UTC().Format("2006/01/02"), uuid.NewString(), ext)
}
