package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// LocalBackend implements local filesystem storage for development
type LocalBackend struct {
	basePath string
}

// NewLocalBackend creates a new local storage backend
func NewLocalBackend(basePath string) (*LocalBackend, error) {
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", basePath, err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", abs, err)
	}
	return &LocalBackend{basePath: abs}, nil
}

func (b *LocalBackend) path(key string) string {
	return filepath.Join(b.basePath, filepath.FromSlash(key))
}

func (b *LocalBackend) Put(ctx context.Context, key string, r io.Reader, contentType string) error {
	path := b.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	if _, err := io.Copy(file, r); err != nil {
		os.Remove(path)
		return err
	}
	return nil
}

func (b *LocalBackend) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(b.path(key))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	return f, err
}

// SignURL returns a file:// URL; the expiry is carried for parity with S3 but not enforced
func (b *LocalBackend) SignURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if _, err := os.Stat(b.path(key)); err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", err
	}
	u := url.URL{
		Scheme:   "file",
		Path:     filepath.ToSlash(b.path(key)),
		RawQuery: "expires=" + strconv.FormatInt(time.Now().Add(ttl).Unix(), 10),
	}
	return u.String(), nil
}

func (b *LocalBackend) Delete(ctx context.Context, key string) error {
	err := os.Remove(b.path(key))
	if os.IsNotExist(err) {
		return ErrNotFound
	}
	return err
}

func (b *LocalBackend) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(b.path(key))
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

func (b *LocalBackend) URI(key string) string {
	return b.path(key)
}
