// Package docstore is a small hierarchical document store. Documents live at
// slash separated paths such as "uploads/{user}/video_files/{id}" and hold a
// JSON object. The parent of a document is its path without the last segment.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no document exists at a path
var ErrNotFound = errors.New("document not found")

// Document is a stored JSON object plus server-assigned timestamps
type Document struct {
	Path      string         `json:"path"`
	Data      map[string]any `json:"data"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// ID returns the last path segment
func (d *Document) ID() string {
	_, id := Split(d.Path)
	return id
}

// Decode unmarshals the document data into v
func (d *Document) Decode(v any) error {
	raw, err := json.Marshal(d.Data)
	if err != nil {
		return fmt.Errorf("encode document %s: %w", d.Path, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode document %s: %w", d.Path, err)
	}
	return nil
}

// Store is implemented by the Postgres-backed store and the in-memory store
type Store interface {
	// Get returns ErrNotFound when the document does not exist.
	Get(ctx context.Context, path string) (*Document, error)
	// Set replaces the document, creating it if needed.
	Set(ctx context.Context, path string, data any) error
	// Merge overwrites the given top-level fields, creating the document if needed.
	Merge(ctx context.Context, path string, fields map[string]any) error
	// Create inserts the document only if it is absent. The stored document is
	// returned either way; created reports whether this call inserted it.
	Create(ctx context.Context, path string, data any) (doc *Document, created bool, err error)
	// List returns the direct children of parent, oldest first.
	List(ctx context.Context, parent string) ([]*Document, error)
	// ListPrefix returns every document whose path starts with prefix.
	ListPrefix(ctx context.Context, prefix string) ([]*Document, error)
	Delete(ctx context.Context, path string) error
}

// Join builds a document path from segments
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

// Split returns the parent path and the last segment
func Split(path string) (parent, id string) {
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return "", path
	}
	return path[:i], path[i+1:]
}

// NewID returns a random document id
func NewID() string {
	return uuid.NewString()
}

func validatePath(path string) error {
	if path == "" || strings.HasPrefix(path, "/") || strings.HasSuffix(path, "/") || strings.Contains(path, "//") {
		return fmt.Errorf("invalid document path %q", path)
	}
	return nil
}

// toObject normalizes data to a JSON object so both stores see identical values
func toObject(data any) (map[string]any, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode document data: %w", err)
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("document data must be a JSON object: %w", err)
	}
	if obj == nil {
		obj = map[string]any{}
	}
	return obj, nil
}
