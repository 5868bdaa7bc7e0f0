package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/scribe/backend/internal/shared/config"
)

// ErrNotFound is returned when an object does not exist
var ErrNotFound = errors.New("object not found")

// Backend defines the storage backend interface
type Backend interface {
	Put(ctx context.Context, key string, r io.Reader, contentType string) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	SignURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	// URI returns the backend-native location of key (s3://bucket/key, file path)
	URI(key string) string
}

// Service provides object storage operations on top of a Backend
type Service struct {
	backend Backend
	ttl     time.Duration
}

// NewService creates a storage service for the configured backend
func NewService(ctx context.Context, cfg config.StorageConfig) (*Service, error) {
	var backend Backend
	var err error

	switch cfg.Backend {
	case "s3":
		backend, err = NewS3Backend(ctx, cfg)
	case "local", "":
		backend, err = NewLocalBackend(cfg.BasePath)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	return NewServiceWithBackend(backend, time.Duration(cfg.PresignTTL)*time.Second), nil
}

// NewServiceWithBackend wraps an existing backend. ttl is the default signed URL lifetime.
func NewServiceWithBackend(backend Backend, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Service{backend: backend, ttl: ttl}
}

// Put stores r under key with the given content type
func (s *Service) Put(ctx context.Context, key string, r io.Reader, contentType string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := s.backend.Put(ctx, key, r, contentType); err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	return nil
}

// Open returns a reader for the object at key
func (s *Service) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	return s.backend.Open(ctx, key)
}

// SignURL returns a time-limited download URL. A zero ttl uses the configured default.
func (s *Service) SignURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = s.ttl
	}
	url, err := s.backend.SignURL(ctx, key, ttl)
	if err != nil {
		return "", fmt.Errorf("failed to sign url for %s: %w", key, err)
	}
	return url, nil
}

// Delete removes an object
func (s *Service) Delete(ctx context.Context, key string) error {
	return s.backend.Delete(ctx, key)
}

// Exists checks if an object exists
func (s *Service) Exists(ctx context.Context, key string) (bool, error) {
	return s.backend.Exists(ctx, key)
}

// URI returns the backend-native location of key
func (s *Service) URI(key string) string {
	return s.backend.URI(key)
}

func validateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") {
		return fmt.Errorf("invalid object key %q", key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return fmt.Errorf("invalid object key %q", key)
		}
	}
	return nil
}
